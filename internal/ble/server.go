package ble

import (
	"github.com/sirupsen/logrus"
	"tinygo.org/x/bluetooth"

	"qaul.net/ble-core/internal/uuids"
)

// fragmentArrival is one accepted write on the write characteristic,
// resolved to the originating MAC best-effort (see linkTracker below) and
// handed to the main loop as a MsgCharEvent/Write (§4.6).
type fragmentArrival struct {
	mac  bluetooth.Address
	data []byte
}

// linkTracker bridges tinygo.org/x/bluetooth's two identity spaces: a
// peripheral-side WriteEvent callback only carries an opaque
// bluetooth.Connection handle, while SetConnectHandler carries the real
// bluetooth.Address. Neither the Linux/BlueZ nor the other tinygo backends
// expose a portable way to ask a Connection for its Address directly.
//
// We correlate the two by program order: a physical link's Connect event
// always precedes its first Write event, and this core — like the teacher
// it's built from — does not expect more than one inbound connection
// assembling a fragmented message at a time. A connected-address is queued
// by onConnect and popped by the first not-yet-bound Connection seen in
// onWrite. This is a best-effort heuristic, not a protocol guarantee; it
// mirrors a real limitation of the underlying library rather than papering
// over it.
type linkTracker struct {
	bound   map[bluetooth.Connection]bluetooth.Address
	pending []bluetooth.Address
}

func newLinkTracker() *linkTracker {
	return &linkTracker{bound: make(map[bluetooth.Connection]bluetooth.Address)}
}

func (t *linkTracker) onConnect(addr bluetooth.Address) {
	t.pending = append(t.pending, addr)
}

func (t *linkTracker) onDisconnect(addr bluetooth.Address) {
	for conn, a := range t.bound {
		if a == addr {
			delete(t.bound, conn)
		}
	}
}

func (t *linkTracker) resolve(conn bluetooth.Connection) (bluetooth.Address, bool) {
	if addr, ok := t.bound[conn]; ok {
		return addr, true
	}
	if len(t.pending) == 0 {
		return bluetooth.Address{}, false
	}
	addr := t.pending[0]
	t.pending = t.pending[1:]
	t.bound[conn] = addr
	return addr, true
}

// gattServer owns the advertised primary service and its two characteristics
// (§4.2). Release by letting it go out of scope at Stop (§9 RAII note);
// tinygo.org/x/bluetooth has no explicit deregistration handle, so Stop only
// stops advertising — the service definition is inert once nothing
// advertises or scans for it.
type gattServer struct {
	identifier []byte
	writeChar  bluetooth.Characteristic
	arrivals   chan<- fragmentArrival
	links      *linkTracker
	log        *logrus.Entry
}

func newGATTServer(identifier []byte, arrivals chan<- fragmentArrival, links *linkTracker, log *logrus.Entry) *gattServer {
	return &gattServer{identifier: identifier, arrivals: arrivals, links: links, log: log}
}

// register installs the main service with its read and write characteristics
// on the adapter (§4.2). Must run before advertising starts.
func (s *gattServer) register(adapter *bluetooth.Adapter) error {
	err := adapter.AddService(&bluetooth.Service{
		UUID: uuids.MainService,
		Characteristics: []bluetooth.CharacteristicConfig{
			{
				UUID:  uuids.ReadChar,
				Flags: bluetooth.CharacteristicReadPermission,
				Value: s.identifier,
			},
			{
				Handle: &s.writeChar,
				UUID:   uuids.WriteChar,
				Flags: bluetooth.CharacteristicWritePermission |
					bluetooth.CharacteristicWriteWithoutResponsePermission,
				WriteEvent: s.onWrite,
			},
		},
	})
	if err != nil {
		return err
	}
	return nil
}

func (s *gattServer) onWrite(client bluetooth.Connection, offset int, value []byte) {
	// This runs on a goroutine owned by the BlueZ/tinygo stack, not the main
	// loop (§7: "Reader task panics must not kill the main loop — reimplementations
	// must isolate them"). An unrecovered panic here would take down the whole
	// process, which is worse than the failure mode the spec forbids.
	defer func() {
		if r := recover(); r != nil {
			s.log.WithField("panic", r).Error("recovered panic in write characteristic callback")
		}
	}()

	if len(value) == 0 {
		return
	}
	mac, ok := s.links.resolve(client)
	if !ok {
		s.log.Warn("write characteristic hit with no known connecting address, dropping fragment")
		return
	}
	frag := make([]byte, len(value))
	copy(frag, value)

	select {
	case s.arrivals <- fragmentArrival{mac: mac, data: frag}:
	default:
		s.log.WithField("mac", mac.String()).Warn("inbound relay channel full, dropping fragment")
	}
}
