package ble

import (
	"testing"

	"tinygo.org/x/bluetooth"
)

func TestLinkTrackerResolvesInConnectOrder(t *testing.T) {
	lt := newLinkTracker()
	macA := macOf(1)
	macB := macOf(2)

	lt.onConnect(macA)
	lt.onConnect(macB)

	connA := bluetooth.Connection(1)
	connB := bluetooth.Connection(2)

	got, ok := lt.resolve(connA)
	if !ok || got != macA {
		t.Fatalf("expected first connection to resolve to macA, got %v ok=%v", got, ok)
	}

	// Re-resolving the same Connection handle must return the bound address,
	// not consume another pending entry.
	got, ok = lt.resolve(connA)
	if !ok || got != macA {
		t.Fatalf("expected bound connection to resolve again to macA, got %v ok=%v", got, ok)
	}

	got, ok = lt.resolve(connB)
	if !ok || got != macB {
		t.Fatalf("expected second distinct connection to resolve to macB, got %v ok=%v", got, ok)
	}
}

func TestLinkTrackerUnresolvedWithoutPendingConnect(t *testing.T) {
	lt := newLinkTracker()
	conn := bluetooth.Connection(1)
	if _, ok := lt.resolve(conn); ok {
		t.Fatal("expected resolve to fail with no pending connect")
	}
}

func TestLinkTrackerDisconnectClearsBinding(t *testing.T) {
	lt := newLinkTracker()
	mac := macOf(1)
	lt.onConnect(mac)
	conn := bluetooth.Connection(1)
	lt.resolve(conn)
	lt.onDisconnect(mac)
	if len(lt.bound) != 0 {
		t.Fatal("expected disconnect to clear the binding")
	}
}
