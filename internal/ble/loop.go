package ble

import (
	"context"
	"time"

	"tinygo.org/x/bluetooth"
)

// runLoop is the single-threaded cooperative event loop (§4.1, §5): one
// goroutine, one select, fanning in discovery hits, resolved discovery
// results, inbound fragments, commands, and the sweeper tick. Every call into
// peerTable, the reassembler, and sendQueues in this package is made from this
// goroutine (identifierFor and snapshotStale included); peerTable's RWMutex
// guards it anyway, the reassembler and sendQueues have no lock.
func (c *Core) runLoop(ctx context.Context, adv *bluetooth.Advertisement) {
	sweepTicker := time.NewTicker(c.cfg.SweepInterval)
	defer sweepTicker.Stop()
	defer func() { _ = adv.Stop() }()

	for {
		select {
		case <-ctx.Done():
			return

		case hit := <-c.scanHits:
			c.onScanHit(hit)

		case res := <-c.discoveryResults:
			c.onDiscoveryResult(res)

		case arrival := <-c.arrivals:
			c.onFragmentArrival(arrival)

		case cmd := <-c.commands:
			c.onCommand(cmd)

		case now := <-sweepTicker.C:
			c.sweep(now)
		}
	}
}

// onScanHit is the DeviceAdded branch of §4.6: known peers just get their
// LastSeen refreshed in place; unknown, unblocked ones kick off the §4.3
// discovery protocol asynchronously so a slow connect/enumerate doesn't stall
// the loop for every other stream.
func (c *Core) onScanHit(hit scanHit) {
	if c.peers.isBlocked(hit.addr) {
		return
	}
	if c.peers.isKnown(hit.addr) {
		c.peers.touch(hit.addr, time.Now())
		return
	}
	go func() {
		res := c.handleDiscovery(hit)
		select {
		case c.discoveryResults <- res:
		default:
		}
	}()
}

func (c *Core) onDiscoveryResult(res discoveryResult) {
	if res.err != nil {
		c.log.WithError(res.err).Debug("discovery did not complete")
		return
	}
	if c.peers.isKnown(res.peer.MAC) {
		// Several scan hits for one new MAC can each start a discovery;
		// only the first to finish registers the peer and emits the event.
		c.peers.touch(res.peer.MAC, time.Now())
		return
	}
	c.peers.upsert(res.peer)
	c.emit(EventDeviceDiscovered{
		Identifier: res.peer.Identifier,
		RSSI:       res.peer.RSSI,
		Name:       res.peer.Name,
	})
}

// onFragmentArrival feeds the reassembler and, once a message completes,
// resolves its sender back to an Identifier the §9.1 way — by MAC lookup in
// peerTable, falling back to the envelope's own qaulId if the MAC isn't
// (yet) a known peer (e.g. a write arriving before discovery finished).
func (c *Core) onFragmentArrival(arrival fragmentArrival) {
	msg, err := c.reassembler.Feed(arrival.mac, arrival.data)
	if err != nil {
		c.log.WithError(err).Debug("fragment reassembly rejected")
		return
	}
	if msg == nil {
		return
	}
	c.peers.touch(arrival.mac, time.Now())

	from, ok := c.peers.identifierFor(arrival.mac)
	if !ok {
		from = Identifier(msg.QaulID).Clone()
	}
	c.emit(EventDirectReceived{From: from, Message: msg.Message})
}

func (c *Core) onCommand(cmd command) {
	switch v := cmd.(type) {
	case sendCommand:
		result := c.sendMessage(v.req)
		v.result <- result
		c.emit(EventDirectSendResult{Result: result})
	case infoCommand:
		info, err := queryDeviceInfo(c.dbusConn, c.adapterPath)
		v.result <- infoResult{info: info, err: err}
	}
}

func (c *Core) emit(ev Event) {
	select {
	case c.events <- ev:
	default:
		c.log.Warn("event channel full, dropping event")
	}
}
