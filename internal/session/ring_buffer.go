package session

import "sync"

// lineRingBuffer is a memory-bounded FIFO of the most recent OutputEvents
// for one session. A line-bounded analogue of a byte-bounded
// ringBuffer (agentctl/server/process/runner.go) to a line-count bound,
// since this spec's granularity is OutputEvent, not raw output chunks.
type lineRingBuffer struct {
	mu      sync.Mutex
	maxSize int
	events  []OutputEvent
}

func newLineRingBuffer(maxSize int) *lineRingBuffer {
	if maxSize <= 0 {
		maxSize = 1000
	}
	return &lineRingBuffer{maxSize: maxSize}
}

// append adds an event, evicting the oldest entry once over the size limit.
func (b *lineRingBuffer) append(event OutputEvent) {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.events = append(b.events, event)
	if len(b.events) > b.maxSize {
		b.events = b.events[len(b.events)-b.maxSize:]
	}
}

// snapshot returns a copy of all buffered events, oldest first.
func (b *lineRingBuffer) snapshot() []OutputEvent {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := make([]OutputEvent, len(b.events))
	copy(out, b.events)
	return out
}

func (b *lineRingBuffer) len() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.events)
}
