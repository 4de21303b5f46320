// Package event carries status and log notifications from the core to
// whatever presentation layer is attached. A Bus is created once and passed
// to every component that publishes or subscribes.
package event

import (
	"sync"
	"time"
)

// Type names an event kind
type Type string

const (
	ServiceStarted   Type = "service:started"
	ServiceStopped   Type = "service:stopped"
	StatusChanged    Type = "service:status"
	LogLine          Type = "service:log"
	PortConflict     Type = "service:conflict"
	RestartScheduled Type = "service:restart-scheduled"
	RestartDisabled  Type = "service:restart-disabled"
	RegistryChanged  Type = "registry:changed"
)

// Event is a single notification
type Event struct {
	Type      Type      `json:"type"`
	ServiceID string    `json:"serviceId,omitempty"`
	Status    string    `json:"status,omitempty"`
	Line      string    `json:"line,omitempty"`
	Message   string    `json:"message,omitempty"`
	ExitCode  *int      `json:"exitCode,omitempty"`
	Time      time.Time `json:"time"`
}

const defaultBuffer = 256

// Bus fans events out to subscribers without ever blocking the publisher
type Bus struct {
	mu     sync.RWMutex
	subs   map[chan Event]struct{}
	buffer int
	closed bool
}

// NewBus creates a bus whose subscriber channels hold buffer events.
func NewBus(buffer int) *Bus {
	if buffer <= 0 {
		buffer = defaultBuffer
	}
	return &Bus{
		subs:   make(map[chan Event]struct{}),
		buffer: buffer,
	}
}

// Subscribe returns a channel of events and a function that releases it.
func (b *Bus) Subscribe() (<-chan Event, func()) {
	ch := make(chan Event, b.buffer)

	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		close(ch)
		return ch, func() {}
	}
	b.subs[ch] = struct{}{}
	b.mu.Unlock()

	var once sync.Once
	unsubscribe := func() {
		once.Do(func() {
			b.mu.Lock()
			if _, ok := b.subs[ch]; ok {
				delete(b.subs, ch)
				close(ch)
			}
			b.mu.Unlock()
		})
	}
	return ch, unsubscribe
}

// Publish delivers e to every subscriber. Slow subscribers miss events.
// Publishing on a nil bus is a no-op.
func (b *Bus) Publish(e Event) {
	if b == nil {
		return
	}
	if e.Time.IsZero() {
		e.Time = time.Now()
	}

	b.mu.RLock()
	defer b.mu.RUnlock()

	for ch := range b.subs {
		select {
		case ch <- e:
		default:
			// Channel full, skip
		}
	}
}

// Close releases every subscriber. Publishing after Close is a no-op.
func (b *Bus) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return
	}
	b.closed = true
	for ch := range b.subs {
		delete(b.subs, ch)
		close(ch)
	}
}
