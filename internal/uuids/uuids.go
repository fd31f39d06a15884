// Package uuids holds the bit-exact BLE service and characteristic UUIDs the
// mesh transport core advertises, serves, and filters discovery on.
package uuids

import "tinygo.org/x/bluetooth"

// MainService is the one primary GATT service every peer hosts.
var MainService = bluetooth.NewUUID([16]byte{
	0x99, 0xe9, 0x13, 0x99, 0x80, 0xed, 0x49, 0x43,
	0x9b, 0xcb, 0x39, 0xc5, 0x32, 0xa7, 0x60, 0x23,
})

// MsgService is legacy-reserved: it appears in the discovery filter (see
// Filter, below) but no server in this codebase registers it. Carried
// forward from the original implementation rather than silently dropped —
// see DESIGN.md open question on filter/topology mismatch.
var MsgService = bluetooth.NewUUID([16]byte{
	0x99, 0xe9, 0x14, 0x00, 0x80, 0xed, 0x49, 0x43,
	0x9b, 0xcb, 0x39, 0xc5, 0x32, 0xa7, 0x60, 0x23,
})

// ReadChar returns this node's stable identifier on every read, verbatim.
var ReadChar = bluetooth.NewUUID([16]byte{
	0x99, 0xe9, 0x14, 0x01, 0x80, 0xed, 0x49, 0x43,
	0x9b, 0xcb, 0x39, 0xc5, 0x32, 0xa7, 0x60, 0x23,
})

// WriteChar accepts inbound fragmented payloads (write-with and
// write-without-response).
var WriteChar = bluetooth.NewUUID([16]byte{
	0x99, 0xe9, 0x14, 0x02, 0x80, 0xed, 0x49, 0x43,
	0x9b, 0xcb, 0x39, 0xc5, 0x32, 0xa7, 0x60, 0x23,
})

// LocalName is the fixed advertised peripheral name.
const LocalName = "qaul.net"

// Filter returns the discovery filter's UUID set: the main service plus the
// legacy message service, matching the upstream bit-exact behavior.
func Filter() []bluetooth.UUID {
	return []bluetooth.UUID{MainService, MsgService}
}
