package service

import "sync"

const subscriberBuffer = 100

// logBuffer keeps the most recent lines of a process's output and fans new
// lines out to live subscribers.
type logBuffer struct {
	mu          sync.RWMutex
	lines       []string
	head        int // index of the oldest line
	size        int
	subscribers map[chan string]struct{}
	closed      bool
}

func newLogBuffer(limit int) *logBuffer {
	if limit <= 0 {
		limit = 1
	}
	return &logBuffer{
		lines:       make([]string, limit),
		subscribers: make(map[chan string]struct{}),
	}
}

// append stores line, evicting the oldest one when full, and broadcasts it.
func (b *logBuffer) append(line string) {
	b.mu.Lock()
	defer b.mu.Unlock()

	limit := len(b.lines)
	if b.size < limit {
		b.lines[(b.head+b.size)%limit] = line
		b.size++
	} else {
		b.lines[b.head] = line
		b.head = (b.head + 1) % limit
	}

	for ch := range b.subscribers {
		select {
		case ch <- line:
		default:
			// Channel full, skip
		}
	}
}

// snapshot returns the buffered lines, oldest first.
func (b *logBuffer) snapshot() []string {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.copyLines()
}

func (b *logBuffer) copyLines() []string {
	out := make([]string, b.size)
	for i := 0; i < b.size; i++ {
		out[i] = b.lines[(b.head+i)%len(b.lines)]
	}
	return out
}

// subscribe returns a channel of new lines. The channel is closed by the
// returned func or when the buffer is closed.
func (b *logBuffer) subscribe() (<-chan string, func()) {
	_, ch, unsubscribe := b.follow()
	return ch, unsubscribe
}

// follow returns the buffered lines together with a subscription that
// starts right after the last of them. Every line appears exactly once
// across the two.
func (b *logBuffer) follow() ([]string, <-chan string, func()) {
	ch := make(chan string, subscriberBuffer)

	b.mu.Lock()
	backlog := b.copyLines()
	if b.closed {
		b.mu.Unlock()
		close(ch)
		return backlog, ch, func() {}
	}
	b.subscribers[ch] = struct{}{}
	b.mu.Unlock()

	unsubscribe := func() {
		b.mu.Lock()
		defer b.mu.Unlock()
		if _, ok := b.subscribers[ch]; ok {
			delete(b.subscribers, ch)
			close(ch)
		}
	}
	return backlog, ch, unsubscribe
}

// close ends every subscription. Lines appended later are still buffered.
func (b *logBuffer) close() {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return
	}
	b.closed = true
	for ch := range b.subscribers {
		delete(b.subscribers, ch)
		close(ch)
	}
}
