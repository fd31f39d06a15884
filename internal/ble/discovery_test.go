package ble

import (
	"testing"

	"tinygo.org/x/bluetooth"
)

func TestRSSIOfSubstitutesSentinelForZero(t *testing.T) {
	result := bluetooth.ScanResult{RSSI: 0}
	if got := rssiOf(result); got != rssiUnavailable {
		t.Fatalf("expected sentinel %d for zero RSSI, got %d", rssiUnavailable, got)
	}
}

func TestRSSIOfPassesThroughRealReading(t *testing.T) {
	result := bluetooth.ScanResult{RSSI: -55}
	if got := rssiOf(result); got != -55 {
		t.Fatalf("expected -55, got %d", got)
	}
}
