package ble

import (
	"context"
	"fmt"
	"time"

	"github.com/sirupsen/logrus"
	"tinygo.org/x/bluetooth"

	"qaul.net/ble-core/internal/uuids"
)

// scanHit is one advertisement observed during continuous discovery,
// forwarded to the main loop as a DeviceAdded event (§4.6).
type scanHit struct {
	addr bluetooth.Address
	rssi int16
	name string
}

// runScanLoop drives tinygo.org/x/bluetooth's blocking Scan call in its own
// goroutine for the lifetime of Started, restricted to devices advertising
// the discovery filter's UUID set (§4.6, §6). It returns when ctx is
// cancelled (Stop) or the adapter reports a scan error.
func runScanLoop(ctx context.Context, adapter *bluetooth.Adapter, out chan<- scanHit, log *logrus.Entry) {
	filter := uuids.Filter()
	done := make(chan struct{})
	go func() {
		defer close(done)
		err := adapter.Scan(func(a *bluetooth.Adapter, result bluetooth.ScanResult) {
			if !hasAnyServiceUUID(result, filter) {
				return
			}
			hit := scanHit{addr: result.Address, rssi: rssiOf(result), name: result.LocalName()}
			select {
			case out <- hit:
			case <-ctx.Done():
			default:
			}
		})
		if err != nil && ctx.Err() == nil {
			log.WithError(err).Error("scan loop ended unexpectedly")
		}
	}()

	select {
	case <-ctx.Done():
		_ = adapter.StopScan()
		<-done
	case <-done:
	}
}

func hasAnyServiceUUID(result bluetooth.ScanResult, filter []bluetooth.UUID) bool {
	for _, want := range filter {
		if result.HasServiceUUID(want) {
			return true
		}
	}
	return false
}

func rssiOf(result bluetooth.ScanResult) int16 {
	if result.RSSI == 0 {
		return rssiUnavailable
	}
	return int16(result.RSSI)
}

// discoveryResult is what handleDiscovery reports back to the main loop: the
// new peer record on success, or one of the §7 error kinds.
type discoveryResult struct {
	peer *DiscoveredPeer
	err  error
}

// handleDiscovery runs the §4.3 protocol for a newly seen MAC: connect (with
// retry), enumerate the main service's characteristics, subscribe to
// notify/indicate ones (wiring them into the inbound reassembly path rather
// than leaving them unread — see §9.5), read the remote identifier, and
// disconnect.
func (c *Core) handleDiscovery(hit scanHit) discoveryResult {
	log := c.log.WithField("mac", hit.addr.String())

	device, err := c.connectWithRetry(hit.addr)
	if err != nil {
		return discoveryResult{err: err}
	}

	services, err := device.DiscoverServices([]bluetooth.UUID{uuids.MainService})
	if err != nil {
		_ = device.Disconnect()
		return discoveryResult{err: fmt.Errorf("%w: discover services: %v", ErrIdentifierMissing, err)}
	}

	var (
		remoteIdentifier Identifier
		foundReadChar    bool
	)
	for _, svc := range services {
		if svc.UUID() != uuids.MainService {
			continue
		}
		chars, err := svc.DiscoverCharacteristics(nil)
		if err != nil {
			log.WithError(err).Warn("characteristic discovery failed")
			continue
		}
		for _, ch := range chars {
			c.subscribeIfNotifying(ch, hit.addr, log)

			if ch.UUID() == uuids.ReadChar {
				buf := make([]byte, 512)
				n, err := ch.Read(buf)
				if err != nil {
					log.WithError(err).Warn("read characteristic failed")
					continue
				}
				remoteIdentifier = Identifier(buf[:n]).Clone()
				foundReadChar = true
			}
		}
	}

	name := hit.name
	_ = device.Disconnect()

	if !foundReadChar {
		return discoveryResult{err: ErrIdentifierMissing}
	}

	peer := &DiscoveredPeer{
		Identifier: remoteIdentifier,
		MAC:        hit.addr,
		RSSI:       hit.rssi,
		Name:       name,
		Device:     device,
		LastSeen:   time.Now(),
	}
	return discoveryResult{peer: peer}
}

// subscribeIfNotifying enables notifications on characteristics that support
// notify/indicate and feeds their payloads through the same fragment
// reassembly path as the write characteristic, instead of discarding them
// (§9.5: these readers were dead code upstream).
func (c *Core) subscribeIfNotifying(ch bluetooth.DeviceCharacteristic, mac bluetooth.Address, log *logrus.Entry) {
	err := ch.EnableNotifications(func(value []byte) {
		// Runs on a goroutine owned by the BlueZ/tinygo stack, not the main
		// loop (§7: reader task panics must not kill the main loop). Recover
		// rather than let a bad notification payload take the process down.
		defer func() {
			if r := recover(); r != nil {
				log.WithField("panic", r).Error("recovered panic in notify callback")
			}
		}()

		if len(value) == 0 {
			return
		}
		frag := make([]byte, len(value))
		copy(frag, value)
		select {
		case c.arrivals <- fragmentArrival{mac: mac, data: frag}:
		default:
			log.Warn("inbound relay channel full, dropping notified fragment")
		}
	})
	if err != nil {
		// Not every characteristic supports notify/indicate; tinygo reports
		// that as an error from EnableNotifications rather than exposing
		// flags up front, so this is an expected negative path, not a fault.
		return
	}
}

// connectWithRetry implements the 2-retry connect-or-remove policy shared by
// discovery (§4.3 step 1) and the send path (§4.5 step 5).
func (c *Core) connectWithRetry(mac bluetooth.Address) (bluetooth.Device, error) {
	var lastErr error
	for attempt := 0; attempt <= c.cfg.ConnectRetries; attempt++ {
		device, err := c.adapter.Connect(mac, bluetooth.ConnectionParams{})
		if err == nil {
			return device, nil
		}
		lastErr = err
		c.log.WithField("mac", mac.String()).WithError(err).Warn("connect attempt failed")
	}
	c.removeDevice(mac)
	return bluetooth.Device{}, fmt.Errorf("%w: %v", ErrConnectFailed, lastErr)
}
