package rpc

import (
	"bufio"
	"encoding/binary"
	"fmt"
	"io"
	"sync"
)

// maxFrameLen bounds a single frame to something far larger than any
// realistic message while still catching a desynced stream early.
const maxFrameLen = 16 << 20

// Writer sends length-prefixed frames (4-byte big-endian length + body),
// the same shape as the teacher's bluez/dbus length-prefixed socket
// reads, just applied to the host-facing RPC channel instead of D-Bus.
type Writer struct {
	mu sync.Mutex
	w  io.Writer
}

func NewWriter(w io.Writer) *Writer { return &Writer{w: w} }

func (w *Writer) writeFrame(body []byte) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	var header [4]byte
	binary.BigEndian.PutUint32(header[:], uint32(len(body)))
	if _, err := w.w.Write(header[:]); err != nil {
		return fmt.Errorf("rpc: write frame header: %w", err)
	}
	if _, err := w.w.Write(body); err != nil {
		return fmt.Errorf("rpc: write frame body: %w", err)
	}
	return nil
}

func (w *Writer) WriteEvent(e Event) error { return w.writeFrame(EncodeEvent(e)) }
func (w *Writer) WriteCommand(c Command) error { return w.writeFrame(EncodeCommand(c)) }

// Reader reads back length-prefixed frames written by Writer.
type Reader struct {
	r *bufio.Reader
}

func NewReader(r io.Reader) *Reader { return &Reader{r: bufio.NewReader(r)} }

func (r *Reader) readFrame() ([]byte, error) {
	var header [4]byte
	if _, err := io.ReadFull(r.r, header[:]); err != nil {
		return nil, err
	}
	n := binary.BigEndian.Uint32(header[:])
	if n > maxFrameLen {
		return nil, fmt.Errorf("rpc: frame too large: %d bytes", n)
	}
	body := make([]byte, n)
	if _, err := io.ReadFull(r.r, body); err != nil {
		return nil, fmt.Errorf("rpc: read frame body: %w", err)
	}
	return body, nil
}

func (r *Reader) ReadCommand() (Command, error) {
	body, err := r.readFrame()
	if err != nil {
		return Command{}, err
	}
	return DecodeCommand(body)
}

func (r *Reader) ReadEvent() (Event, error) {
	body, err := r.readFrame()
	if err != nil {
		return Event{}, err
	}
	return DecodeEvent(body)
}
