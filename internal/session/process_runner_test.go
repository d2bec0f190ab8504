package session

import (
	"context"
	"os/exec"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/specifiedcodes/devos-orchestrator/internal/common/logger"
)

func shCmdFactory(script string) func(context.Context, string, string) *exec.Cmd {
	return func(ctx context.Context, task, workingDir string) *exec.Cmd {
		cmd := exec.CommandContext(ctx, "sh", "-c", script)
		if workingDir != "" {
			cmd.Dir = workingDir
		}
		return cmd
	}
}

func TestProcessRunner_StreamsStdoutLinesInOrder(t *testing.T) {
	var mu = &sync.Mutex{}
	var events []OutputEvent
	done := make(chan TerminatedNotification, 1)

	r := newProcessRunner("sess-1", "agent-1", 10, 200*time.Millisecond, logger.Default(),
		func(e OutputEvent) {
			mu.Lock()
			events = append(events, e)
			mu.Unlock()
		},
		func(n TerminatedNotification) { done <- n },
	)
	r.cmdFactory = shCmdFactory("echo one; echo two; echo three")

	_, err := r.start(context.Background(), "ignored", "")
	require.NoError(t, err)

	select {
	case n := <-done:
		assert.True(t, n.Terminated)
		require.NotNil(t, n.Code)
		assert.Equal(t, 0, *n.Code)
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for process exit")
	}

	mu.Lock()
	defer mu.Unlock()
	require.GreaterOrEqual(t, len(events), 4) // 3 stdout lines + synthetic exit
	assert.Equal(t, "one", events[0].Content)
	assert.Equal(t, "two", events[1].Content)
	assert.Equal(t, "three", events[2].Content)
	assert.Equal(t, EventExit, events[len(events)-1].Type)
	assert.Equal(t, "Process exited with code 0, signal null", events[len(events)-1].Content)
}

func TestProcessRunner_StopIsIdempotent(t *testing.T) {
	done := make(chan TerminatedNotification, 1)
	r := newProcessRunner("sess-2", "agent-2", 10, 100*time.Millisecond, logger.Default(),
		func(OutputEvent) {},
		func(n TerminatedNotification) { done <- n },
	)
	r.cmdFactory = shCmdFactory("sleep 30")

	_, err := r.start(context.Background(), "ignored", "")
	require.NoError(t, err)

	require.NoError(t, r.stop())
	require.NoError(t, r.stop())

	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for forced termination")
	}
}

func TestProcessRunner_SendAfterExitReturnsStdinClosed(t *testing.T) {
	done := make(chan TerminatedNotification, 1)
	r := newProcessRunner("sess-3", "agent-3", 10, 100*time.Millisecond, logger.Default(),
		func(OutputEvent) {},
		func(n TerminatedNotification) { done <- n },
	)
	r.cmdFactory = shCmdFactory("true")

	_, err := r.start(context.Background(), "ignored", "")
	require.NoError(t, err)

	<-done
	err = r.send("hello")
	assert.ErrorIs(t, err, ErrStdinClosed)
}
