package ble

import (
	"fmt"

	"tinygo.org/x/bluetooth"

	"qaul.net/ble-core/internal/uuids"
)

// sendItem is one queued outbound message (§3 SendQueue).
type sendItem struct {
	messageID string
	senderID  Identifier
	data      []byte
}

// boundedQueue is the per-MAC SendQueue. §9.2 calls the upstream
// clear-on-full policy "almost certainly a bug"; this reimplementation picks
// the spec's recommended fix — bounded drop-oldest with a counter — instead
// of silently keeping the original clear-everything behavior.
type boundedQueue struct {
	items    []sendItem
	capacity int
	dropped  uint64
}

func newBoundedQueue(capacity int) *boundedQueue {
	return &boundedQueue{capacity: capacity}
}

func (q *boundedQueue) push(item sendItem) {
	if len(q.items) >= q.capacity {
		q.items = q.items[1:]
		q.dropped++
	}
	q.items = append(q.items, item)
}

func (q *boundedQueue) popFront() (sendItem, bool) {
	if len(q.items) == 0 {
		return sendItem{}, false
	}
	item := q.items[0]
	q.items = q.items[1:]
	return item, true
}

// sendQueues is the SendQueue table. Owned exclusively by the main loop
// goroutine (see loop.go) — every SendMessage command, whether it originated
// on the command channel or was translated from an RPC DirectSend, is
// dispatched from that one goroutine, so §5's recommendation to "route all
// mutation through the main loop and eliminate the lock" is realized by
// construction rather than by adding a mutex.
type sendQueues struct {
	capacity int
	byMAC    map[bluetooth.Address]*boundedQueue
}

func newSendQueues(capacity int) *sendQueues {
	return &sendQueues{capacity: capacity, byMAC: make(map[bluetooth.Address]*boundedQueue)}
}

func (s *sendQueues) queueFor(mac bluetooth.Address) *boundedQueue {
	q, ok := s.byMAC[mac]
	if !ok {
		q = newBoundedQueue(s.capacity)
		s.byMAC[mac] = q
	}
	return q
}

// SendMessageRequest is the §4.5 input.
type SendMessageRequest struct {
	MessageID          string
	ReceiverIdentifier Identifier
	SenderIdentifier   Identifier
	Data               []byte
}

// SendResult is what gets turned into a DirectSendResult event.
type SendResult struct {
	MessageID string
	Success   bool
	ErrorMsg  string
}

// sendMessage implements §4.5 steps 1-8 end to end, called only from the
// main loop's dispatch of a SendMessage command (loop.go).
func (c *Core) sendMessage(req SendMessageRequest) SendResult {
	peer, ok := c.peers.byIdentifier(req.ReceiverIdentifier)
	if !ok {
		return SendResult{MessageID: req.MessageID, Success: false, ErrorMsg: ErrUnknownReceiver.Error()}
	}
	mac := peer.MAC

	if _, ok := c.peers.byAddress(mac); !ok {
		return SendResult{MessageID: req.MessageID, Success: false, ErrorMsg: ErrDeviceNotFound.Error()}
	}

	queue := c.sendQueues.queueFor(mac)
	queue.push(sendItem{messageID: req.MessageID, senderID: req.SenderIdentifier, data: req.Data})

	item, ok := queue.popFront()
	if !ok {
		// Nothing to send (shouldn't happen right after a push, but keep the
		// invariant explicit rather than assume).
		return SendResult{MessageID: req.MessageID, Success: false, ErrorMsg: "send queue empty"}
	}

	fragments, err := EncodeFragments(item.senderID, item.data)
	if err != nil {
		return SendResult{MessageID: item.messageID, Success: false, ErrorMsg: err.Error()}
	}

	device, err := c.connectWithRetry(mac)
	if err != nil {
		return SendResult{MessageID: item.messageID, Success: false, ErrorMsg: err.Error()}
	}
	defer device.Disconnect() //nolint:errcheck

	writeChar, err := c.findWriteCharacteristic(device)
	if err != nil {
		return SendResult{MessageID: item.messageID, Success: false, ErrorMsg: err.Error()}
	}

	for i, frag := range fragments {
		if _, err := writeChar.WriteWithoutResponse(frag); err != nil {
			// §9.3: unlike the upstream log-and-continue, abort on the first
			// fragment failure and surface it — a partially delivered
			// message is worse than a visibly failed one.
			return SendResult{
				MessageID: item.messageID,
				Success:   false,
				ErrorMsg:  fmt.Sprintf("fragment %d/%d write failed: %v", i+1, len(fragments), err),
			}
		}
	}

	return SendResult{MessageID: item.messageID, Success: true}
}

func (c *Core) findWriteCharacteristic(device bluetooth.Device) (bluetooth.DeviceCharacteristic, error) {
	services, err := device.DiscoverServices([]bluetooth.UUID{uuids.MainService})
	if err != nil {
		return bluetooth.DeviceCharacteristic{}, fmt.Errorf("discover services: %w", err)
	}
	for _, svc := range services {
		if svc.UUID() != uuids.MainService {
			continue
		}
		chars, err := svc.DiscoverCharacteristics([]bluetooth.UUID{uuids.WriteChar})
		if err != nil {
			continue
		}
		for _, ch := range chars {
			if ch.UUID() == uuids.WriteChar {
				return ch, nil
			}
		}
	}
	return bluetooth.DeviceCharacteristic{}, fmt.Errorf("write characteristic not found")
}
