package ble

import "time"

// sweep implements the out-of-range sweeper (§4.6, §8 property 6): any peer
// not seen within SweepWindow is forgotten — removed from the peer table,
// its in-flight reassembly buffer dropped, and BlueZ asked to forget the
// device — and reported as DeviceUnavailable. It also evicts any reassembly
// buffer that has sat incomplete for longer than SweepWindow, so a peer that
// disconnects mid-send doesn't leak a partial buffer forever even if it
// never ages out of the peer table itself.
func (c *Core) sweep(now time.Time) {
	cutoff := now.Add(-c.cfg.SweepWindow)
	for _, mac := range c.peers.snapshotStale(cutoff) {
		id, ok := c.peers.remove(mac)
		if !ok {
			continue
		}
		c.reassembler.drop(mac)
		c.removeDevice(mac)
		c.emit(EventDeviceUnavailable{Identifier: id})
	}
	c.reassembler.evictStale(c.cfg.SweepWindow)
}
