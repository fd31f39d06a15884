package ble

import (
	"bytes"
	"encoding/hex"
	"fmt"
	"strings"
	"time"

	jsoniter "github.com/json-iterator/go"
	"tinygo.org/x/bluetooth"
)

// delimiterHex is the hex encoding of the two-byte start/end marker 0x24 0x24
// ("$$"). Every framed payload is bracketed by it on both ends (§4.4, §6).
const delimiterHex = "2424"

// fragmentHexLen is the maximum hex-character length of one over-the-air
// fragment (40 hex chars = 20 decoded bytes, §6).
const fragmentHexLen = 40

var jsonAPI = jsoniter.ConfigCompatibleWithStandardLibrary

// wireMessage is the JSON object carried inside the delimiters: both fields
// are optional, matching §6's `{"qaulId": <bytes>, "message": <bytes>}`.
type wireMessage struct {
	QaulID  []byte `json:"qaulId,omitempty"`
	Message []byte `json:"message,omitempty"`
}

// EncodeFragments builds the hex/delimiter-framed wire payload for
// (senderID, data) and chops it into ≤40-hex-char chunks, each hex-decoded
// back to raw bytes ready for a single characteristic write (§4.5 step 4).
func EncodeFragments(senderID Identifier, data []byte) ([][]byte, error) {
	payload, err := jsonAPI.Marshal(wireMessage{QaulID: senderID, Message: data})
	if err != nil {
		return nil, fmt.Errorf("ble: encode message: %w", err)
	}

	framed := make([]byte, 0, 2+len(payload)+2)
	framed = append(framed, 0x24, 0x24)
	framed = append(framed, payload...)
	framed = append(framed, 0x24, 0x24)

	hexStr := hex.EncodeToString(framed)

	var fragments [][]byte
	for len(hexStr) > 0 {
		n := fragmentHexLen
		if n > len(hexStr) {
			n = len(hexStr)
		}
		chunk := hexStr[:n]
		hexStr = hexStr[n:]

		raw, err := hex.DecodeString(chunk)
		if err != nil {
			return nil, fmt.Errorf("ble: internal hex chunk corrupt: %w", err)
		}
		fragments = append(fragments, raw)
	}
	return fragments, nil
}

// reassemblyBuffer accumulates the hex representation of fragments for one
// MAC between the start and end delimiter (§3 ReassemblyMap, §4.4).
type reassemblyBuffer struct {
	hexAccum  string
	startedAt time.Time
}

// reassembler is the ReassemblyMap: MAC → partial hex-encoded buffer. Owned
// by the main loop (§3 invariant); the per-connection write path only ever
// calls into it from the single goroutine driving the main loop's dispatch
// (see loop.go), so no locking is needed here.
type reassembler struct {
	buffers map[bluetooth.Address]*reassemblyBuffer
}

func newReassembler() *reassembler {
	return &reassembler{buffers: make(map[bluetooth.Address]*reassemblyBuffer)}
}

// Feed applies one incoming fragment's state transition for mac (§4.4) and
// returns the decoded wireMessage once a complete, unambiguous payload has
// been assembled.
func (r *reassembler) Feed(mac bluetooth.Address, fragment []byte) (*wireMessage, error) {
	hexFrag := hex.EncodeToString(fragment)
	buf, hasBuffer := r.buffers[mac]

	switch {
	case !hasBuffer && strings.HasPrefix(hexFrag, delimiterHex) && strings.HasSuffix(hexFrag, delimiterHex) && len(hexFrag) >= 2*len(delimiterHex):
		// Single-fragment message: strip both delimiters and deliver.
		return r.deliver(mac, hexFrag)

	case !hasBuffer && strings.HasPrefix(hexFrag, delimiterHex):
		// First fragment of a multi-fragment message.
		r.buffers[mac] = &reassemblyBuffer{hexAccum: hexFrag, startedAt: time.Now()}
		return nil, nil

	case !hasBuffer:
		// Fragment without a recognized start; nothing to do with it.
		return nil, nil

	case strings.HasSuffix(hexFrag, delimiterHex) || (strings.HasSuffix(buf.hexAccum, "24") && hexFrag == "24"):
		combined := buf.hexAccum + hexFrag
		delete(r.buffers, mac)
		return r.deliver(mac, combined)

	default:
		// Intermediate fragment: append and keep waiting.
		buf.hexAccum += hexFrag
		return nil, nil
	}
}

// deliver strips the outer delimiters from a complete hex buffer, rejects it
// if a residual delimiter remains in the middle (split-payload confusion),
// and decodes the JSON envelope.
func (r *reassembler) deliver(mac bluetooth.Address, combined string) (*wireMessage, error) {
	if len(combined) < 2*len(delimiterHex) {
		return nil, fmt.Errorf("ble: framed payload too short from %s", mac.String())
	}
	trimmed := combined[len(delimiterHex) : len(combined)-len(delimiterHex)]

	raw, err := hex.DecodeString(trimmed)
	if err != nil {
		return nil, fmt.Errorf("ble: malformed hex payload from %s: %w", mac.String(), err)
	}
	if bytes.Contains(raw, []byte{0x24, 0x24}) {
		return nil, fmt.Errorf("ble: split-payload confusion from %s, dropping", mac.String())
	}

	var msg wireMessage
	if err := jsonAPI.Unmarshal(raw, &msg); err != nil {
		return nil, fmt.Errorf("ble: malformed message JSON from %s: %w", mac.String(), err)
	}
	return &msg, nil
}

// evictStale drops reassembly buffers that have been incomplete for longer
// than ttl — a partial message from a peer that disconnected mid-send must
// not hold memory forever.
func (r *reassembler) evictStale(ttl time.Duration) {
	cutoff := time.Now().Add(-ttl)
	for mac, buf := range r.buffers {
		if buf.startedAt.Before(cutoff) {
			delete(r.buffers, mac)
		}
	}
}

func (r *reassembler) drop(mac bluetooth.Address) {
	delete(r.buffers, mac)
}
