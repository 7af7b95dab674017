// Package events carries lifecycle and message events from the debate
// manager to observers. Delivery is best effort: publishing never blocks
// the lifecycle transition that caused the event, and slow subscribers
// lose events rather than backpressure the manager.
package events

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
)

// Type identifies the kind of event.
type Type string

const (
	TypeDebateStarted   Type = "debate.started"
	TypeDebateStopped   Type = "debate.stopped"
	TypeDebateMessage   Type = "debate.message"
	TypeDebateFactCheck Type = "debate.fact_check"
	TypeDebateError     Type = "debate.error"
)

// Event is one broadcastable occurrence inside a debate.
type Event struct {
	ID        string    `json:"id"`
	Type      Type      `json:"type"`
	DebateID  string    `json:"debateId"`
	AgentID   string    `json:"agentId,omitempty"`
	Payload   any       `json:"payload,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

// New creates an event for the given debate.
func New(t Type, debateID string, payload any) *Event {
	return &Event{
		ID:        uuid.NewString(),
		Type:      t,
		DebateID:  debateID,
		Payload:   payload,
		Timestamp: time.Now(),
	}
}

// WithAgent tags the event with the acting agent and returns it.
func (e *Event) WithAgent(agentID string) *Event {
	e.AgentID = agentID
	return e
}

// Sink is the one-way boundary the lifecycle manager publishes through.
// Implementations must not block.
type Sink interface {
	Emit(*Event)
}

// Metrics tracks delivery accounting for the bus.
type Metrics struct {
	Published int64 `json:"published"`
	Delivered int64 `json:"delivered"`
	Dropped   int64 `json:"dropped"`
}

// Bus is a bounded, non-blocking pub/sub hub. Subscribers receive events on
// buffered channels; a full channel drops the event and bumps the dropped
// counter.
type Bus struct {
	mu      sync.RWMutex
	subs    map[int]chan *Event
	nextID  int
	bufSize int
	closed  bool

	published atomic.Int64
	delivered atomic.Int64
	dropped   atomic.Int64
}

// NewBus creates a bus whose subscriber channels hold bufSize events.
func NewBus(bufSize int) *Bus {
	if bufSize <= 0 {
		bufSize = 64
	}
	return &Bus{
		subs:    make(map[int]chan *Event),
		bufSize: bufSize,
	}
}

// Emit publishes an event to all subscribers without blocking.
func (b *Bus) Emit(event *Event) {
	if event == nil {
		return
	}
	b.mu.RLock()
	defer b.mu.RUnlock()
	if b.closed {
		return
	}
	b.published.Add(1)
	for _, ch := range b.subs {
		select {
		case ch <- event:
			b.delivered.Add(1)
		default:
			b.dropped.Add(1)
		}
	}
}

// Subscribe registers a new subscriber. The returned cancel function
// removes the subscription and closes the channel.
func (b *Bus) Subscribe() (<-chan *Event, func()) {
	b.mu.Lock()
	defer b.mu.Unlock()

	ch := make(chan *Event, b.bufSize)
	if b.closed {
		close(ch)
		return ch, func() {}
	}

	id := b.nextID
	b.nextID++
	b.subs[id] = ch

	var once sync.Once
	cancel := func() {
		once.Do(func() {
			b.mu.Lock()
			defer b.mu.Unlock()
			if _, ok := b.subs[id]; ok {
				delete(b.subs, id)
				close(ch)
			}
		})
	}
	return ch, cancel
}

// Metrics returns a snapshot of delivery accounting.
func (b *Bus) Metrics() Metrics {
	return Metrics{
		Published: b.published.Load(),
		Delivered: b.delivered.Load(),
		Dropped:   b.dropped.Load(),
	}
}

// Close shuts the bus down and closes all subscriber channels.
func (b *Bus) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return
	}
	b.closed = true
	for id, ch := range b.subs {
		delete(b.subs, id)
		close(ch)
	}
}

var _ Sink = (*Bus)(nil)

// Discard is a Sink that drops every event, for tests and for running
// without observers.
var Discard Sink = discardSink{}

type discardSink struct{}

func (discardSink) Emit(*Event) {}
