package ble

import (
	"testing"
	"time"

	"tinygo.org/x/bluetooth"
)

func macOf(last byte) bluetooth.Address {
	var a bluetooth.Address
	a.MACAddress.MAC[5] = last
	return a
}

func TestPeerTableIdentifierForFixesFromIdentifierBug(t *testing.T) {
	pt := newPeerTable(nil)
	mac := macOf(1)
	peer := &DiscoveredPeer{Identifier: Identifier("node-a"), MAC: mac}
	pt.upsert(peer)

	got, ok := pt.identifierFor(mac)
	if !ok {
		t.Fatal("expected identifier to resolve")
	}
	if got.key() != "node-a" {
		t.Fatalf("got %q want %q", got, "node-a")
	}

	if _, ok := pt.identifierFor(macOf(2)); ok {
		t.Fatal("expected unknown MAC to not resolve")
	}
}

func TestPeerTableDuplicateIdentifierLastWriteWins(t *testing.T) {
	pt := newPeerTable(nil)
	macA := macOf(1)
	macB := macOf(2)

	pt.upsert(&DiscoveredPeer{Identifier: Identifier("dup"), MAC: macA})
	pt.upsert(&DiscoveredPeer{Identifier: Identifier("dup"), MAC: macB})

	peer, ok := pt.byIdentifier(Identifier("dup"))
	if !ok {
		t.Fatal("expected peer to be found")
	}
	if peer.MAC != macB {
		t.Fatalf("expected last-write-wins to map to macB, got %v", peer.MAC)
	}
}

func TestPeerTableBlockList(t *testing.T) {
	blocked := macOf(9)
	pt := newPeerTable([]bluetooth.Address{blocked})
	if !pt.isBlocked(blocked) {
		t.Fatal("expected configured MAC to be blocked")
	}
	if pt.isBlocked(macOf(1)) {
		t.Fatal("expected unrelated MAC to not be blocked")
	}
}

func TestPeerTableSnapshotStale(t *testing.T) {
	pt := newPeerTable(nil)
	fresh := macOf(1)
	stale := macOf(2)

	pt.upsert(&DiscoveredPeer{Identifier: Identifier("fresh"), MAC: fresh})
	pt.upsert(&DiscoveredPeer{Identifier: Identifier("stale"), MAC: stale})
	pt.touch(stale, time.Now().Add(-time.Hour))

	got := pt.snapshotStale(time.Now().Add(-time.Minute))
	if len(got) != 1 || got[0] != stale {
		t.Fatalf("expected only the stale MAC, got %v", got)
	}
}

func TestPeerTableRemove(t *testing.T) {
	pt := newPeerTable(nil)
	mac := macOf(3)
	pt.upsert(&DiscoveredPeer{Identifier: Identifier("gone"), MAC: mac})

	id, ok := pt.remove(mac)
	if !ok || id.key() != "gone" {
		t.Fatalf("unexpected remove result: %v %v", id, ok)
	}
	if pt.isKnown(mac) {
		t.Fatal("expected peer to be forgotten after remove")
	}
	if _, ok := pt.remove(mac); ok {
		t.Fatal("expected second remove to report not-found")
	}
}
