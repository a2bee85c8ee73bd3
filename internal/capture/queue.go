package capture

import (
	"errors"
	"sync/atomic"

	"github.com/chandeldivyam/samwise/pkg/audio"
)

// DefaultQueueCapacity comfortably exceeds the flush threshold plus one
// poll interval of packets at any common buffer size.
const DefaultQueueCapacity = 16384

// ErrPacketDropped classifies packets rejected by a full [Queue]. Drops are
// counted and logged by the health monitor, never returned to the device
// callback.
var ErrPacketDropped = errors.New("capture: packet dropped, queue full")

// Queue is a bounded packet buffer between a device callback (the single
// producer) and the health monitor or Stop (the consumer).
//
// Push never blocks: when the buffer is full the packet is dropped and
// counted. The consumer drains everything buffered in one call. Only one
// goroutine may consume at a time.
type Queue struct {
	ch      chan audio.Packet
	pushed  atomic.Uint64
	dropped atomic.Uint64
}

// NewQueue returns a Queue holding at most capacity packets.
func NewQueue(capacity int) *Queue {
	if capacity <= 0 {
		capacity = DefaultQueueCapacity
	}
	return &Queue{ch: make(chan audio.Packet, capacity)}
}

// Push enqueues p without blocking and reports whether it was accepted.
func (q *Queue) Push(p audio.Packet) bool {
	select {
	case q.ch <- p:
		q.pushed.Add(1)
		return true
	default:
		q.dropped.Add(1)
		return false
	}
}

// Len returns the number of buffered packets.
func (q *Queue) Len() int { return len(q.ch) }

// Cap returns the queue capacity.
func (q *Queue) Cap() int { return cap(q.ch) }

// Drain removes and returns every buffered packet in arrival order.
func (q *Queue) Drain() []audio.Packet {
	n := len(q.ch)
	if n == 0 {
		return nil
	}
	out := make([]audio.Packet, 0, n)
	for {
		select {
		case p := <-q.ch:
			out = append(out, p)
		default:
			return out
		}
	}
}

// Reset discards every buffered packet.
func (q *Queue) Reset() {
	q.Drain()
}

// Pushed returns the number of packets accepted since creation.
func (q *Queue) Pushed() uint64 { return q.pushed.Load() }

// Dropped returns the number of packets rejected because the queue was full.
func (q *Queue) Dropped() uint64 { return q.dropped.Load() }
