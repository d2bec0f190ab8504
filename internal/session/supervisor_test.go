package session

import (
	"context"
	"os/exec"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/specifiedcodes/devos-orchestrator/internal/common/logger"
)

func newTestSupervisor(t *testing.T, cfg Config) (*Supervisor, *MemoryStore) {
	t.Helper()
	store := NewMemoryStore()
	sup := NewSupervisor(cfg, store, logger.Default())
	return sup, store
}

// TestSupervisor_SpawnToTerminate covers the common spawn-to-exit path:
// two stdout lines then a clean exit should yield a monotonic lineNumber
// sequence ending in a synthetic exit event, a terminated notification,
// the store record marked terminated, and removal of the in-memory handle.
func TestSupervisor_SpawnToTerminate(t *testing.T) {
	sup, store := newTestSupervisor(t, Config{MaxConcurrentPerWorkspace: 10, TerminateGraceWindow: 200 * time.Millisecond})

	outCh := sup.SubscribeOutput(16)
	termCh := sup.SubscribeTerminated(4)

	sup.cmdFactory = func(ctx context.Context, task, workingDir string) *exec.Cmd {
		return exec.CommandContext(ctx, "sh", "-c", "echo alpha; echo beta")
	}

	sess, err := sup.CreateSession(context.Background(), CreateSessionRequest{
		AgentID: "agent-1", Task: "do x", WorkspaceID: "ws-1", ProjectID: "prj-1",
	})
	require.NoError(t, err)
	assert.Equal(t, StatusRunning, sess.Status)

	var events []OutputEvent
	for len(events) < 3 {
		select {
		case e := <-outCh:
			events = append(events, e)
		case <-time.After(5 * time.Second):
			t.Fatalf("timed out collecting output events, got %d", len(events))
		}
	}

	assert.Equal(t, "alpha", events[0].Content)
	assert.Equal(t, 1, events[0].LineNumber)
	assert.Equal(t, "beta", events[1].Content)
	assert.Equal(t, 2, events[1].LineNumber)
	assert.Equal(t, EventExit, events[2].Type)
	assert.Equal(t, 3, events[2].LineNumber)

	select {
	case n := <-termCh:
		assert.True(t, n.Terminated)
		require.NotNil(t, n.Code)
		assert.Equal(t, 0, *n.Code)
		assert.Nil(t, n.Signal)
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for terminated notification")
	}

	require.Eventually(t, func() bool {
		s, err := store.GetSession(context.Background(), sess.SessionID)
		return err == nil && s.Status == StatusTerminated
	}, 2*time.Second, 10*time.Millisecond)

	require.Eventually(t, func() bool {
		sup.mu.Lock()
		_, ok := sup.running[sess.SessionID]
		sup.mu.Unlock()
		return !ok
	}, 2*time.Second, 10*time.Millisecond)
}

func TestSupervisor_ConcurrencyCapRejectsAdmission(t *testing.T) {
	sup, _ := newTestSupervisor(t, Config{MaxConcurrentPerWorkspace: 1})
	sup.cmdFactory = func(ctx context.Context, task, workingDir string) *exec.Cmd {
		return exec.CommandContext(ctx, "sh", "-c", "sleep 5")
	}

	_, err := sup.CreateSession(context.Background(), CreateSessionRequest{
		AgentID: "agent-1", Task: "t1", WorkspaceID: "ws-cap", ProjectID: "p",
	})
	require.NoError(t, err)

	_, err = sup.CreateSession(context.Background(), CreateSessionRequest{
		AgentID: "agent-2", Task: "t2", WorkspaceID: "ws-cap", ProjectID: "p",
	})
	assert.ErrorIs(t, err, ErrConcurrencyExceeded)

	_ = sup.TerminateAllSessions(context.Background())
}

func TestSupervisor_TerminateUnknownSessionIsNoop(t *testing.T) {
	sup, _ := newTestSupervisor(t, Config{MaxConcurrentPerWorkspace: 10})
	err := sup.TerminateSession(context.Background(), "does-not-exist")
	assert.NoError(t, err)
}

// TestSupervisor_SendCommandAppendsNewlineAndEmitsCommandEvent exercises
// the sendCommand contract: the write carries a trailing newline and is
// independently observable as a "command" OutputEvent.
func TestSupervisor_SendCommandAppendsNewlineAndEmitsCommandEvent(t *testing.T) {
	sup, _ := newTestSupervisor(t, Config{MaxConcurrentPerWorkspace: 10, TerminateGraceWindow: 200 * time.Millisecond})
	outCh := sup.SubscribeOutput(16)

	sup.cmdFactory = func(ctx context.Context, task, workingDir string) *exec.Cmd {
		return exec.CommandContext(ctx, "sh", "-c", "cat")
	}

	sess, err := sup.CreateSession(context.Background(), CreateSessionRequest{
		AgentID: "agent-cmd", Task: "t", WorkspaceID: "ws-cmd", ProjectID: "p",
	})
	require.NoError(t, err)

	require.NoError(t, sup.SendCommand(context.Background(), sess.SessionID, "echo hi"))

	var sawCommand, sawEcho bool
	deadline := time.After(3 * time.Second)
	for !sawCommand || !sawEcho {
		select {
		case e := <-outCh:
			if e.Type == EventCommand && e.Content == "echo hi" {
				sawCommand = true
			}
			if e.Type == EventStdout && e.Content == "echo hi" {
				sawEcho = true
			}
		case <-deadline:
			t.Fatalf("timed out: sawCommand=%v sawEcho=%v", sawCommand, sawEcho)
		}
	}

	require.NoError(t, sup.TerminateSession(context.Background(), sess.SessionID))
}

func TestSupervisor_SendCommandToUnknownSessionIsNotRunning(t *testing.T) {
	sup, _ := newTestSupervisor(t, Config{MaxConcurrentPerWorkspace: 10})
	err := sup.SendCommand(context.Background(), "missing", "line")
	assert.ErrorIs(t, err, ErrNotRunning)
}
