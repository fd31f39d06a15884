package ble

import "testing"

func TestBoundedQueueDropOldestOnFull(t *testing.T) {
	q := newBoundedQueue(2)
	q.push(sendItem{messageID: "1"})
	q.push(sendItem{messageID: "2"})
	q.push(sendItem{messageID: "3"})

	if q.dropped != 1 {
		t.Fatalf("expected 1 dropped item, got %d", q.dropped)
	}
	if len(q.items) != 2 {
		t.Fatalf("expected queue capped at 2, got %d", len(q.items))
	}

	first, ok := q.popFront()
	if !ok || first.messageID != "2" {
		t.Fatalf("expected oldest surviving item to be \"2\", got %+v ok=%v", first, ok)
	}
	second, ok := q.popFront()
	if !ok || second.messageID != "3" {
		t.Fatalf("expected next item to be \"3\", got %+v ok=%v", second, ok)
	}
	if _, ok := q.popFront(); ok {
		t.Fatal("expected queue to be empty")
	}
}

func TestBoundedQueueFIFOOrderWithinCapacity(t *testing.T) {
	q := newBoundedQueue(4)
	q.push(sendItem{messageID: "a"})
	q.push(sendItem{messageID: "b"})

	got, _ := q.popFront()
	if got.messageID != "a" {
		t.Fatalf("expected FIFO order, got %q first", got.messageID)
	}
}

func TestSendQueuesPerMACIsolation(t *testing.T) {
	sq := newSendQueues(2)
	qa := sq.queueFor(macOf(1))
	qb := sq.queueFor(macOf(2))
	if qa == qb {
		t.Fatal("expected distinct queues per MAC")
	}
	if sq.queueFor(macOf(1)) != qa {
		t.Fatal("expected repeated lookup to return the same queue")
	}
}
