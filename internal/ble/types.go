// Package ble implements the BLE mesh transport core: adapter/advertiser
// setup, the GATT server and client/discovery handler, fragmented message
// framing, the per-peer send queue, and the main event loop that ties them
// together. See SPEC_FULL.md for the component breakdown.
package ble

import (
	"sync"
	"time"

	"tinygo.org/x/bluetooth"
)

// Identifier is a node's opaque, stable public identity — distinct from its
// BLE MAC, which can and does change across sessions on some platforms.
type Identifier []byte

func (id Identifier) key() string { return string(id) }

// Clone returns an independent copy, since Identifier slices are frequently
// retained past the lifetime of the buffer they were read out of.
func (id Identifier) Clone() Identifier {
	out := make(Identifier, len(id))
	copy(out, id)
	return out
}

// DiscoveredPeer is the record created on first successful discovery of a
// remote's read characteristic (§4.3), refreshed on every subsequent
// DeviceAdded for the same MAC, and removed by the out-of-range sweeper.
type DiscoveredPeer struct {
	Identifier Identifier
	MAC        bluetooth.Address
	RSSI       int16
	LastSeen   time.Time
	Connected  bool
	Name       string

	// Device is the platform device handle from discovery. The send path does
	// not reuse it: it reconnects by MAC through connectWithRetry.
	Device bluetooth.Device
}

// rssiUnavailable is the sentinel substituted when the platform can't report
// a signal strength for a device (§4.3 edge cases).
const rssiUnavailable int16 = 999

// peerTable holds the DiscoveredPeer set plus its identifier↔MAC index.
// §3 requires the main loop to be the sole *mutator*. All of its callers in
// this package (including the reassembly path resolving from_identifier and
// the sweeper scanning LastSeen) run on the main loop goroutine; the RWMutex
// keeps the table safe should it be read from elsewhere.
type peerTable struct {
	mu       sync.RWMutex
	byID     map[string]*DiscoveredPeer
	byMAC    map[bluetooth.Address]*DiscoveredPeer
	blockSet map[bluetooth.Address]struct{}
}

func newPeerTable(blockList []bluetooth.Address) *peerTable {
	blocked := make(map[bluetooth.Address]struct{}, len(blockList))
	for _, m := range blockList {
		blocked[m] = struct{}{}
	}
	return &peerTable{
		byID:     make(map[string]*DiscoveredPeer),
		byMAC:    make(map[bluetooth.Address]*DiscoveredPeer),
		blockSet: blocked,
	}
}

func (t *peerTable) isBlocked(mac bluetooth.Address) bool {
	t.mu.RLock()
	defer t.mu.RUnlock()
	_, blocked := t.blockSet[mac]
	return blocked
}

// isKnown reports whether mac already has a DiscoveredPeer entry — a known
// peer only gets its LastSeen refreshed, it never re-runs discovery (§4.3).
func (t *peerTable) isKnown(mac bluetooth.Address) bool {
	t.mu.RLock()
	defer t.mu.RUnlock()
	_, ok := t.byMAC[mac]
	return ok
}

func (t *peerTable) touch(mac bluetooth.Address, when time.Time) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if p, ok := t.byMAC[mac]; ok {
		p.LastSeen = when
	}
}

// upsert registers or refreshes a peer, keeping IdentifierMap and the
// DiscoveredPeer table in lockstep (§3 invariant). Duplicate identifiers
// overwrite the previous MAC mapping — last write wins, a documented
// limitation (§4.3 edge cases).
func (t *peerTable) upsert(p *DiscoveredPeer) {
	t.mu.Lock()
	defer t.mu.Unlock()
	p.LastSeen = time.Now()
	t.byID[p.Identifier.key()] = p
	t.byMAC[p.MAC] = p
}

func (t *peerTable) byIdentifier(id Identifier) (*DiscoveredPeer, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	p, ok := t.byID[id.key()]
	return p, ok
}

func (t *peerTable) byAddress(mac bluetooth.Address) (*DiscoveredPeer, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	p, ok := t.byMAC[mac]
	return p, ok
}

// identifierFor resolves a MAC back to the identifier that owns it — the fix
// for the open question in §4.4/§9.1: DirectReceived.from must be the peer's
// qaul identifier, not its raw MAC octets.
func (t *peerTable) identifierFor(mac bluetooth.Address) (Identifier, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	p, ok := t.byMAC[mac]
	if !ok {
		return nil, false
	}
	return p.Identifier, true
}

func (t *peerTable) remove(mac bluetooth.Address) (Identifier, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	p, ok := t.byMAC[mac]
	if !ok {
		return nil, false
	}
	delete(t.byMAC, mac)
	delete(t.byID, p.Identifier.key())
	return p.Identifier, true
}

// snapshotStale returns the MACs of peers whose LastSeen predates cutoff,
// for the out-of-range sweeper (§4.6, §8 property 6).
func (t *peerTable) snapshotStale(cutoff time.Time) []bluetooth.Address {
	t.mu.RLock()
	defer t.mu.RUnlock()
	var stale []bluetooth.Address
	for mac, p := range t.byMAC {
		if p.LastSeen.Before(cutoff) {
			stale = append(stale, mac)
		}
	}
	return stale
}
