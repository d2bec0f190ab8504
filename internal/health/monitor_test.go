package health

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/specifiedcodes/devos-orchestrator/internal/common/logger"
	"github.com/specifiedcodes/devos-orchestrator/internal/session"
)

type fakeStore struct {
	mu       sync.Mutex
	sessions map[string]*session.Session
}

func newFakeStore() *fakeStore { return &fakeStore{sessions: map[string]*session.Session{}} }

func (f *fakeStore) GetAllSessionIDs(context.Context) ([]string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	ids := make([]string, 0, len(f.sessions))
	for id := range f.sessions {
		ids = append(ids, id)
	}
	return ids, nil
}

func (f *fakeStore) GetSession(_ context.Context, id string) (*session.Session, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	s := f.sessions[id]
	cp := *s
	return &cp, nil
}

func (f *fakeStore) UpdateStatus(_ context.Context, id string, status session.Status, at *time.Time) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sessions[id].Status = status
	if at != nil {
		f.sessions[id].TerminatedAt = at
	}
	return nil
}

type fakeTerminator struct {
	mu        sync.Mutex
	called    []string
	failNext  bool
}

func (t *fakeTerminator) TerminateSession(_ context.Context, id string) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.called = append(t.called, id)
	if t.failNext {
		t.failNext = false
		return context.DeadlineExceeded
	}
	return nil
}

func TestMonitor_ReclaimsStaleSession(t *testing.T) {
	store := newFakeStore()
	store.sessions["s1"] = &session.Session{
		SessionID: "s1", AgentID: "a1", Status: session.StatusRunning,
		LastHeartbeat: time.Now().Add(-6 * time.Minute),
	}
	term := &fakeTerminator{}
	m := NewMonitor(store, term, Config{StaleThreshold: 300 * time.Second}, logger.Default())

	staleCh := m.SubscribeStale(1)
	snapCh := m.SubscribeSnapshot(1)

	m.sweep(context.Background())

	select {
	case n := <-staleCh:
		if n.SessionID != "s1" {
			t.Fatalf("got %+v", n)
		}
	default:
		t.Fatal("expected a stale notification")
	}

	snap := <-snapCh
	if snap.Stale != 1 || snap.Total != 1 {
		t.Fatalf("got %+v", snap)
	}

	term.mu.Lock()
	defer term.mu.Unlock()
	if len(term.called) != 1 || term.called[0] != "s1" {
		t.Fatalf("expected TerminateSession called once for s1, got %v", term.called)
	}
}

func TestMonitor_FallsBackToDirectStatusUpdateOnReclaimFailure(t *testing.T) {
	store := newFakeStore()
	store.sessions["s1"] = &session.Session{
		SessionID: "s1", AgentID: "a1", Status: session.StatusRunning,
		LastHeartbeat: time.Now().Add(-10 * time.Minute),
	}
	term := &fakeTerminator{failNext: true}
	m := NewMonitor(store, term, Config{StaleThreshold: 300 * time.Second}, logger.Default())

	m.sweep(context.Background())

	store.mu.Lock()
	defer store.mu.Unlock()
	if store.sessions["s1"].Status != session.StatusTerminated {
		t.Fatalf("expected defensive terminal status write, got %v", store.sessions["s1"].Status)
	}
}

func TestMonitor_SecondPassReportsZeroStale(t *testing.T) {
	store := newFakeStore()
	store.sessions["s1"] = &session.Session{
		SessionID: "s1", AgentID: "a1", Status: session.StatusTerminated,
		LastHeartbeat: time.Now().Add(-10 * time.Minute),
	}
	term := &fakeTerminator{}
	m := NewMonitor(store, term, Config{StaleThreshold: 300 * time.Second}, logger.Default())
	snapCh := m.SubscribeSnapshot(1)

	m.sweep(context.Background())

	snap := <-snapCh
	if snap.Stale != 0 || snap.Terminated != 1 {
		t.Fatalf("got %+v", snap)
	}
}

func TestMonitor_ActiveSessionIsNotReclaimed(t *testing.T) {
	store := newFakeStore()
	store.sessions["s1"] = &session.Session{
		SessionID: "s1", AgentID: "a1", Status: session.StatusRunning,
		LastHeartbeat: time.Now(),
	}
	term := &fakeTerminator{}
	m := NewMonitor(store, term, Config{StaleThreshold: 300 * time.Second}, logger.Default())

	m.sweep(context.Background())

	term.mu.Lock()
	defer term.mu.Unlock()
	if len(term.called) != 0 {
		t.Fatalf("expected no termination for an active session, got %v", term.called)
	}
}
