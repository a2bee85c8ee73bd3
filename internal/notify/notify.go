// Package notify delivers recording lifecycle events to interested parties:
// the log, the recording service and websocket clients.
package notify

import (
	"context"
	"log/slog"
	"sync"
	"time"
)

// Kind identifies a lifecycle event.
type Kind string

const (
	RecordingStarted       Kind = "recording_started"
	RecordingStopped       Kind = "recording_stopped"
	RecordingProcessed     Kind = "recording_processed"
	TranscriptionCompleted Kind = "transcription_completed"
	ProcessingFailed       Kind = "processing_failed"
)

// Event is a lifecycle notification. It carries only the recording
// identifier; receivers look up anything else they need.
type Event struct {
	Kind        Kind      `json:"kind"`
	RecordingID string    `json:"recording_id"`
	At          time.Time `json:"at"`
}

// NewEvent returns an Event of kind for id stamped with the current time.
func NewEvent(kind Kind, id string) Event {
	return Event{Kind: kind, RecordingID: id, At: time.Now().UTC()}
}

// Notifier receives lifecycle events. Notify must not block for long;
// implementations that do I/O buffer internally.
type Notifier interface {
	Notify(ctx context.Context, ev Event)
}

// Func adapts a plain function to [Notifier].
type Func func(ctx context.Context, ev Event)

// Notify calls f.
func (f Func) Notify(ctx context.Context, ev Event) { f(ctx, ev) }

// Nop discards every event.
var Nop Notifier = Func(func(context.Context, Event) {})

// Log writes every event to the default slog logger at info level.
var Log Notifier = Func(func(ctx context.Context, ev Event) {
	slog.InfoContext(ctx, "recording event", "kind", string(ev.Kind), "recording_id", ev.RecordingID)
})

// Multi fans each event out to a dynamic set of notifiers in registration
// order. It is safe for concurrent use.
type Multi struct {
	mu        sync.RWMutex
	notifiers []Notifier
}

var _ Notifier = (*Multi)(nil)

// NewMulti returns a Multi delivering to ns.
func NewMulti(ns ...Notifier) *Multi {
	return &Multi{notifiers: ns}
}

// Add registers n.
func (m *Multi) Add(n Notifier) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.notifiers = append(m.notifiers, n)
}

// Notify implements [Notifier].
func (m *Multi) Notify(ctx context.Context, ev Event) {
	m.mu.RLock()
	ns := m.notifiers
	m.mu.RUnlock()
	for _, n := range ns {
		n.Notify(ctx, ev)
	}
}

// Collector keeps every event it receives. It is intended for tests.
type Collector struct {
	mu     sync.Mutex
	events []Event
	ch     chan Event
}

var _ Notifier = (*Collector)(nil)

// NewCollector returns a Collector whose [Collector.C] channel buffers up
// to n events for tests that wait on delivery.
func NewCollector(n int) *Collector {
	return &Collector{ch: make(chan Event, n)}
}

// Notify implements [Notifier].
func (c *Collector) Notify(_ context.Context, ev Event) {
	c.mu.Lock()
	c.events = append(c.events, ev)
	c.mu.Unlock()
	select {
	case c.ch <- ev:
	default:
	}
}

// C returns a channel receiving each event as it arrives.
func (c *Collector) C() <-chan Event { return c.ch }

// Events returns a copy of all events received so far.
func (c *Collector) Events() []Event {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]Event, len(c.events))
	copy(out, c.events)
	return out
}

// Kinds returns the kinds of all events received so far, in order.
func (c *Collector) Kinds() []Kind {
	evs := c.Events()
	out := make([]Kind, len(evs))
	for i, ev := range evs {
		out[i] = ev.Kind
	}
	return out
}
