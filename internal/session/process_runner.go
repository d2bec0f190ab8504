package session

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"os"
	"os/exec"
	"sync"
	"syscall"
	"time"

	"github.com/specifiedcodes/devos-orchestrator/internal/common/logger"
	"go.uber.org/zap"
)

// spawnName and spawnArgs implement the child-process invocation: the
// orchestrator always shells out to the `claude` CLI in print mode.
const spawnName = "claude"

func spawnArgs(task string) []string {
	return []string{"--print", task}
}

// defaultTerminateGraceWindow is the default delay between SIGTERM and SIGKILL
// when no caller-supplied window is configured.
const defaultTerminateGraceWindow = 5 * time.Second

// outputHandler receives every line-granularity event a running process
// produces, including the synthetic terminal "exit" event.
type outputHandler func(OutputEvent)

// exitHandler is invoked exactly once when the underlying process has been
// fully reaped, carrying its final disposition.
type exitHandler func(TerminatedNotification)

// processRunner owns one child process end to end: spawn, line-oriented
// stdout/stderr streaming into a ring buffer, and graceful-then-forced
// termination, narrowed to a single `claude --print <task>` invocation
// per session rather than an arbitrary command table, emitting
// OutputEvents instead of raw chunked process output.
type processRunner struct {
	sessionID  string
	agentID    string
	log        *logger.Logger

	graceWindow time.Duration

	mu          sync.Mutex
	cmd         *exec.Cmd
	stdin       io.WriteCloser
	ring        *lineRingBuffer
	lineNumber  int
	started     bool
	terminating bool
	done        chan struct{}

	onOutput outputHandler
	onExit   exitHandler

	// cmdFactory builds the *exec.Cmd to run. Defaults to spawning the
	// real `claude` CLI; tests substitute a short-lived stand-in command
	// (e.g. `sh -c`).
	cmdFactory func(ctx context.Context, task, workingDir string) *exec.Cmd
}

func newProcessRunner(sessionID, agentID string, ringSize int, graceWindow time.Duration, log *logger.Logger, onOutput outputHandler, onExit exitHandler) *processRunner {
	if graceWindow <= 0 {
		graceWindow = defaultTerminateGraceWindow
	}
	return &processRunner{
		sessionID:   sessionID,
		agentID:     agentID,
		log:         log,
		graceWindow: graceWindow,
		ring:        newLineRingBuffer(ringSize),
		done:        make(chan struct{}),
		onOutput:    onOutput,
		onExit:      onExit,
		cmdFactory:  defaultCmdFactory,
	}
}

func defaultCmdFactory(ctx context.Context, task, workingDir string) *exec.Cmd {
	cmd := exec.CommandContext(ctx, spawnName, spawnArgs(task)...)
	if workingDir != "" {
		cmd.Dir = workingDir
	}
	return cmd
}

// start spawns the `claude` process for the given task and working
// directory, and begins streaming its output in background goroutines.
// It returns once the process has been successfully started (not once it
// has exited).
func (r *processRunner) start(ctx context.Context, task, workingDir string) (pid int, err error) {
	r.mu.Lock()
	if r.started {
		r.mu.Unlock()
		return 0, fmt.Errorf("%w: process already started for session %s", ErrSpawnFailed, r.sessionID)
	}

	cmd := r.cmdFactory(ctx, task, workingDir)
	cmd.Env = mergeEnv(os.Environ(), map[string]string{"TERM": "xterm-256color"})
	// Isolate the child in its own process group so a grace-window SIGTERM
	// (and a subsequent SIGKILL) reaches any of its own subprocesses too,
	// without touching the orchestrator's own process group.
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}

	stdinPipe, err := cmd.StdinPipe()
	if err != nil {
		r.mu.Unlock()
		return 0, fmt.Errorf("%w: stdin pipe: %v", ErrSpawnFailed, err)
	}
	stdoutPipe, err := cmd.StdoutPipe()
	if err != nil {
		r.mu.Unlock()
		return 0, fmt.Errorf("%w: stdout pipe: %v", ErrSpawnFailed, err)
	}
	stderrPipe, err := cmd.StderrPipe()
	if err != nil {
		r.mu.Unlock()
		return 0, fmt.Errorf("%w: stderr pipe: %v", ErrSpawnFailed, err)
	}

	if err := cmd.Start(); err != nil {
		r.mu.Unlock()
		return 0, fmt.Errorf("%w: %v", ErrSpawnFailed, err)
	}

	r.cmd = cmd
	r.stdin = stdinPipe
	r.started = true
	pid = cmd.Process.Pid
	r.mu.Unlock()

	go r.readStream(stdoutPipe, EventStdout)
	go r.readStream(stderrPipe, EventStderr)
	go r.wait()

	r.log.Debug("process started",
		zap.String("session_id", r.sessionID), zap.String("agent_id", r.agentID), zap.Int("pid", pid))

	return pid, nil
}

// readStream scans one pipe line-by-line (treating bare "\n" and "\r\n"
// uniformly via bufio.Scanner's default split func), appending each line
// to the ring buffer and notifying the output handler with a monotonically
// increasing line number shared across stdout and stderr.
func (r *processRunner) readStream(pipe io.Reader, kind OutputEventType) {
	scanner := bufio.NewScanner(pipe)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for scanner.Scan() {
		r.emit(kind, scanner.Text())
	}
	if err := scanner.Err(); err != nil {
		r.log.Debug("stream scan ended with error",
			zap.String("session_id", r.sessionID), zap.String("stream", string(kind)), zap.Error(err))
	}
}

func (r *processRunner) emit(kind OutputEventType, content string) {
	r.mu.Lock()
	r.lineNumber++
	n := r.lineNumber
	r.mu.Unlock()

	event := OutputEvent{
		SessionID:  r.sessionID,
		AgentID:    r.agentID,
		Type:       kind,
		Content:    content,
		Timestamp:  time.Now().UTC(),
		LineNumber: n,
	}
	r.ring.append(event)
	if r.onOutput != nil {
		r.onOutput(event)
	}
}

// wait blocks on cmd.Wait and is the sole authority for the process's
// final disposition: it emits a synthetic "exit" OutputEvent, then a
// single TerminatedNotification, never racing two goroutines over exit
// reporting.
func (r *processRunner) wait() {
	err := r.cmd.Wait()
	close(r.done)

	var code *int
	var sig *string
	terminated := true

	if err != nil {
		if exitErr, ok := err.(*exec.ExitError); ok {
			c := exitErr.ExitCode()
			code = &c
			if status, ok := exitErr.Sys().(syscall.WaitStatus); ok && status.Signaled() {
				s := status.Signal().String()
				sig = &s
			}
		} else {
			terminated = false
		}
	} else {
		c := 0
		code = &c
	}

	// A non-zero exit or a signal that stop did not send is a crash.
	r.mu.Lock()
	requested := r.terminating
	r.mu.Unlock()
	if !requested && (sig != nil || (code != nil && *code != 0)) {
		terminated = false
	}

	r.emit(EventExit, exitSummary(code, sig))

	if r.onExit != nil {
		r.onExit(TerminatedNotification{
			SessionID:  r.sessionID,
			Code:       code,
			Signal:     sig,
			Terminated: terminated,
		})
	}
}

func exitSummary(code *int, sig *string) string {
	switch {
	case code != nil && sig != nil:
		return fmt.Sprintf("Process exited with code %d, signal %s", *code, *sig)
	case code != nil:
		return fmt.Sprintf("Process exited with code %d, signal null", *code)
	case sig != nil:
		return fmt.Sprintf("Process exited with code null, signal %s", *sig)
	default:
		return "Process exited with code null, signal null"
	}
}

// stop requests graceful termination: SIGTERM to the whole process group,
// then SIGKILL after the grace window if the process has not yet exited.
// Idempotent — calling stop on an already-terminating or already-exited
// runner is a no-op.
func (r *processRunner) stop() error {
	r.mu.Lock()
	if !r.started {
		r.mu.Unlock()
		return fmt.Errorf("%w: session %s", ErrNotRunning, r.sessionID)
	}
	if r.terminating {
		r.mu.Unlock()
		return nil
	}
	r.terminating = true
	pid := r.cmd.Process.Pid
	r.mu.Unlock()

	r.signalGroup(pid, syscall.SIGTERM)

	select {
	case <-r.done:
		return nil
	case <-time.After(r.graceWindow):
	}

	r.signalGroup(pid, syscall.SIGKILL)
	<-r.done
	return nil
}

func (r *processRunner) signalGroup(pid int, sig syscall.Signal) {
	// Negative pid targets the whole process group created by Setpgid.
	if err := syscall.Kill(-pid, sig); err != nil {
		r.log.Debug("signal delivery failed",
			zap.String("session_id", r.sessionID), zap.Int("pid", pid), zap.String("signal", sig.String()), zap.Error(err))
	}
}

// send writes line to the process's stdin followed by a single newline,
// returning ErrStdinClosed once the process has exited or stop has been
// called. The write is also emitted as a "command" OutputEvent with a
// fresh line number, per its sendCommand contract.
func (r *processRunner) send(line string) error {
	r.mu.Lock()
	if !r.started || r.terminating {
		r.mu.Unlock()
		return fmt.Errorf("%w: session %s", ErrStdinClosed, r.sessionID)
	}
	select {
	case <-r.done:
		r.mu.Unlock()
		return fmt.Errorf("%w: session %s", ErrStdinClosed, r.sessionID)
	default:
	}
	_, err := io.WriteString(r.stdin, line+"\n")
	r.mu.Unlock()
	if err != nil {
		return fmt.Errorf("%w: %v", ErrStdinClosed, err)
	}
	r.emit(EventCommand, line)
	return nil
}

func (r *processRunner) snapshot() []OutputEvent {
	return r.ring.snapshot()
}

// mergeEnv overlays extra onto base, last-write-wins, in "KEY=VALUE" form.
// Last-write-wins so TERM can be forced without dropping anything else
// already present in the child's inherited environment.
func mergeEnv(base []string, extra map[string]string) []string {
	merged := make([]string, 0, len(base)+len(extra))
	seen := make(map[string]bool, len(extra))
	for _, kv := range base {
		key := kv
		for i, c := range kv {
			if c == '=' {
				key = kv[:i]
				break
			}
		}
		if v, ok := extra[key]; ok {
			merged = append(merged, key+"="+v)
			seen[key] = true
			continue
		}
		merged = append(merged, kv)
	}
	for k, v := range extra {
		if !seen[k] {
			merged = append(merged, k+"="+v)
		}
	}
	return merged
}
