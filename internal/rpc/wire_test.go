package rpc

import (
	"bytes"
	"testing"
)

func TestCommandRoundTrip(t *testing.T) {
	cases := []Command{
		NewStartCommand([]byte{0x01, 0x02, 0x03}),
		NewStopCommand(),
		NewInfoCommand(),
		NewSendCommand("msg-1", []byte("receiver"), []byte("sender"), []byte("payload")),
	}
	for _, c := range cases {
		encoded := EncodeCommand(c)
		got, err := DecodeCommand(encoded)
		if err != nil {
			t.Fatalf("DecodeCommand: %v", err)
		}
		if got.Kind != c.Kind {
			t.Fatalf("kind mismatch: got %d want %d", got.Kind, c.Kind)
		}
		switch {
		case c.IsStart():
			if !bytes.Equal(got.Start.Identifier, c.Start.Identifier) {
				t.Fatalf("start identifier mismatch: got %v want %v", got.Start.Identifier, c.Start.Identifier)
			}
		case c.IsSend():
			if got.Send.MessageID != c.Send.MessageID ||
				!bytes.Equal(got.Send.Receiver, c.Send.Receiver) ||
				!bytes.Equal(got.Send.Sender, c.Send.Sender) ||
				!bytes.Equal(got.Send.Data, c.Send.Data) {
				t.Fatalf("send command mismatch: got %+v want %+v", got.Send, c.Send)
			}
		}
	}
}

func TestEventRoundTrip(t *testing.T) {
	cases := []Event{
		NewStartedEvent(nil),
		NewStoppedEvent(nil),
		NewDeviceDiscoveredEvent(DeviceDiscoveredEv{Identifier: []byte("peer-1"), RSSI: -42, Name: "qaul-node"}),
		NewDeviceUnavailableEvent([]byte("peer-1")),
		NewDirectReceivedEvent(DirectReceivedEv{From: []byte("peer-1"), Message: []byte("hi")}),
		NewDirectSendResultEvent(DirectSendResultEv{MessageID: "msg-1", Success: true}),
		NewInfoResponseEvent(InfoResponseEv{ID: "AA:BB", Name: "node", BluetoothOn: true, AdvExtendedBytes: 31}),
	}
	for _, e := range cases {
		encoded := EncodeEvent(e)
		got, err := DecodeEvent(encoded)
		if err != nil {
			t.Fatalf("DecodeEvent: %v", err)
		}
		if got.Kind != e.Kind {
			t.Fatalf("kind mismatch: got %d want %d", got.Kind, e.Kind)
		}
	}
}

func TestEventRoundTripDeviceDiscoveredFields(t *testing.T) {
	ev := NewDeviceDiscoveredEvent(DeviceDiscoveredEv{Identifier: []byte("peer-2"), RSSI: -70, Name: "other"})
	got, err := DecodeEvent(EncodeEvent(ev))
	if err != nil {
		t.Fatalf("DecodeEvent: %v", err)
	}
	if !bytes.Equal(got.DeviceDiscovered.Identifier, ev.DeviceDiscovered.Identifier) {
		t.Fatalf("identifier mismatch: got %v want %v", got.DeviceDiscovered.Identifier, ev.DeviceDiscovered.Identifier)
	}
	if got.DeviceDiscovered.RSSI != ev.DeviceDiscovered.RSSI {
		t.Fatalf("rssi mismatch: got %d want %d", got.DeviceDiscovered.RSSI, ev.DeviceDiscovered.RSSI)
	}
	if got.DeviceDiscovered.Name != ev.DeviceDiscovered.Name {
		t.Fatalf("name mismatch: got %q want %q", got.DeviceDiscovered.Name, ev.DeviceDiscovered.Name)
	}
}

func TestChannelWriteReadRoundTrip(t *testing.T) {
	var buf bytes.Buffer
	w := NewWriter(&buf)
	r := NewReader(&buf)

	cmd := NewSendCommand("id", []byte("r"), []byte("s"), []byte("d"))
	if err := w.WriteCommand(cmd); err != nil {
		t.Fatalf("WriteCommand: %v", err)
	}
	got, err := r.ReadCommand()
	if err != nil {
		t.Fatalf("ReadCommand: %v", err)
	}
	if got.Send.MessageID != "id" {
		t.Fatalf("got %q want %q", got.Send.MessageID, "id")
	}
}
