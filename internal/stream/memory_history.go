package stream

import (
	"context"
	"sync"
)

// MemoryHistory is an in-process History used by unit tests in place of
// Redis, a hand-rolled fake rather than
// a mocking framework (mirrors session.MemoryStore).
type MemoryHistory struct {
	mu       sync.Mutex
	maxLines int
	byID     map[string][]StreamEvent // stored newest-first, like the Redis list
}

func NewMemoryHistory(maxLines int) *MemoryHistory {
	if maxLines <= 0 {
		maxLines = defaultHistoryMaxLines
	}
	return &MemoryHistory{maxLines: maxLines, byID: make(map[string][]StreamEvent)}
}

func (m *MemoryHistory) Append(_ context.Context, sessionID string, e StreamEvent) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	list := append([]StreamEvent{e}, m.byID[sessionID]...)
	if len(list) > m.maxLines {
		list = list[:m.maxLines]
	}
	m.byID[sessionID] = list
	return nil
}

func (m *MemoryHistory) Read(_ context.Context, sessionID string, count int) ([]StreamEvent, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if count <= 0 {
		count = m.maxLines
	}
	stored := m.byID[sessionID]
	if count > len(stored) {
		count = len(stored)
	}
	out := make([]StreamEvent, count)
	for i := 0; i < count; i++ {
		out[i] = stored[count-1-i]
	}
	return out, nil
}

func (m *MemoryHistory) ReadSafe(ctx context.Context, sessionID string, count int) []StreamEvent {
	events, _ := m.Read(ctx, sessionID, count)
	return events
}

func (m *MemoryHistory) Clear(_ context.Context, sessionID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.byID, sessionID)
	return nil
}

func (m *MemoryHistory) Len(_ context.Context, sessionID string) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.byID[sessionID]), nil
}
