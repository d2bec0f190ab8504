package session

import (
	"context"
	"fmt"
	"sync"
	"time"
)

// MemoryStore is an in-process Store used by unit tests in place of Redis,
// a hand-rolled fake rather than a mocking framework.
type MemoryStore struct {
	mu       sync.Mutex
	sessions map[string]*Session
	byAgent  map[string]string
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		sessions: make(map[string]*Session),
		byAgent:  make(map[string]string),
	}
}

func cloneSession(s *Session) *Session {
	c := *s
	if s.TerminatedAt != nil {
		t := *s.TerminatedAt
		c.TerminatedAt = &t
	}
	return &c
}

func (m *MemoryStore) StoreSession(_ context.Context, s *Session) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.sessions[s.SessionID] = cloneSession(s)
	if s.AgentID != "" {
		m.byAgent[s.AgentID] = s.SessionID
	}
	return nil
}

func (m *MemoryStore) GetSession(_ context.Context, sessionID string) (*Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.sessions[sessionID]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, sessionID)
	}
	return cloneSession(s), nil
}

func (m *MemoryStore) DeleteSession(_ context.Context, sessionID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.sessions[sessionID]
	if !ok {
		return fmt.Errorf("%w: %s", ErrNotFound, sessionID)
	}
	delete(m.sessions, sessionID)
	if s.AgentID != "" {
		delete(m.byAgent, s.AgentID)
	}
	return nil
}

func (m *MemoryStore) UpdateHeartbeat(_ context.Context, sessionID string, at time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.sessions[sessionID]
	if !ok {
		return fmt.Errorf("%w: %s", ErrNotFound, sessionID)
	}
	s.LastHeartbeat = at
	return nil
}

func (m *MemoryStore) UpdateStatus(_ context.Context, sessionID string, status Status, terminatedAt *time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.sessions[sessionID]
	if !ok {
		return fmt.Errorf("%w: %s", ErrNotFound, sessionID)
	}
	s.Status = status
	if terminatedAt != nil {
		s.TerminatedAt = terminatedAt
	}
	return nil
}

func (m *MemoryStore) GetWorkspaceSessions(_ context.Context, workspaceID string) ([]*Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*Session
	for _, s := range m.sessions {
		if s.WorkspaceID == workspaceID {
			out = append(out, cloneSession(s))
		}
	}
	return out, nil
}

func (m *MemoryStore) GetWorkspaceSessionCount(ctx context.Context, workspaceID string) (int, error) {
	sessions, err := m.GetWorkspaceSessions(ctx, workspaceID)
	if err != nil {
		return 0, err
	}
	return len(sessions), nil
}

func (m *MemoryStore) GetSessionByAgent(_ context.Context, agentID string) (*Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	sessionID, ok := m.byAgent[agentID]
	if !ok {
		return nil, fmt.Errorf("%w: no session for agent %s", ErrNotFound, agentID)
	}
	s, ok := m.sessions[sessionID]
	if !ok {
		return nil, fmt.Errorf("%w: no session for agent %s", ErrNotFound, agentID)
	}
	return cloneSession(s), nil
}

func (m *MemoryStore) SessionExists(_ context.Context, sessionID string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.sessions[sessionID]
	return ok, nil
}

func (m *MemoryStore) GetAllSessionIDs(_ context.Context) ([]string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	ids := make([]string, 0, len(m.sessions))
	for id := range m.sessions {
		ids = append(ids, id)
	}
	return ids, nil
}

var _ Store = (*RedisStore)(nil)
var _ Store = (*MemoryStore)(nil)
