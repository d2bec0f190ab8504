package session

import (
	"context"
	"fmt"
	"os/exec"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/specifiedcodes/devos-orchestrator/internal/common/logger"
)

// Config bundles the Supervisor's tunables, all sourced from
// internal/common/config.SessionConfig.
type Config struct {
	MaxConcurrentPerWorkspace int
	HeartbeatInterval         time.Duration
	TerminateGraceWindow      time.Duration
	RingBufferSize            int
	StoreTTL                  time.Duration
}

// runningSession is the Supervisor's in-memory bookkeeping for one live
// process: the Store record is the durable, shareable copy; this is the
// local handle needed to actually control the child.
type runningSession struct {
	runner *processRunner
	stop   chan struct{}
	once   sync.Once
}

// Supervisor is the Session Supervisor: it owns session
// creation, process lifecycle, heartbeats, and the fan-out of output,
// termination, and crash notifications to interested subscribers (the
// Stream Publisher and Health Monitor).
type Supervisor struct {
	cfg   Config
	store Store
	log   *logger.Logger

	mu      sync.Mutex
	running map[string]*runningSession

	outputSubs     []chan OutputEvent
	terminatedSubs []chan TerminatedNotification
	crashedSubs    []chan CrashedNotification

	// cmdFactory, when set, overrides the child command each session's
	// processRunner spawns. Nil in production (the real `claude` CLI is
	// spawned); tests substitute a short-lived stand-in.
	cmdFactory func(ctx context.Context, task, workingDir string) *exec.Cmd
}

func NewSupervisor(cfg Config, store Store, log *logger.Logger) *Supervisor {
	if cfg.MaxConcurrentPerWorkspace <= 0 {
		cfg.MaxConcurrentPerWorkspace = 10
	}
	return &Supervisor{
		cfg:     cfg,
		store:   store,
		log:     log,
		running: make(map[string]*runningSession),
	}
}

// SubscribeOutput registers a fan-out channel for every OutputEvent the
// Supervisor's sessions produce. The output, terminated, and crashed
// notification paths are modeled as typed channels rather than a
// generic event-bus subject, since these are entirely in-process
// concerns of this one binary.
func (s *Supervisor) SubscribeOutput(buffer int) <-chan OutputEvent {
	ch := make(chan OutputEvent, buffer)
	s.mu.Lock()
	s.outputSubs = append(s.outputSubs, ch)
	s.mu.Unlock()
	return ch
}

func (s *Supervisor) SubscribeTerminated(buffer int) <-chan TerminatedNotification {
	ch := make(chan TerminatedNotification, buffer)
	s.mu.Lock()
	s.terminatedSubs = append(s.terminatedSubs, ch)
	s.mu.Unlock()
	return ch
}

func (s *Supervisor) SubscribeCrashed(buffer int) <-chan CrashedNotification {
	ch := make(chan CrashedNotification, buffer)
	s.mu.Lock()
	s.crashedSubs = append(s.crashedSubs, ch)
	s.mu.Unlock()
	return ch
}

func (s *Supervisor) broadcastOutput(e OutputEvent) {
	s.mu.Lock()
	subs := s.outputSubs
	s.mu.Unlock()
	for _, ch := range subs {
		select {
		case ch <- e:
		default:
			s.log.Debug("output subscriber channel full, dropping event", zap.String("session_id", e.SessionID))
		}
	}
}

func (s *Supervisor) broadcastTerminated(n TerminatedNotification) {
	s.mu.Lock()
	subs := s.terminatedSubs
	s.mu.Unlock()
	for _, ch := range subs {
		select {
		case ch <- n:
		default:
		}
	}
}

func (s *Supervisor) broadcastCrashed(n CrashedNotification) {
	s.mu.Lock()
	subs := s.crashedSubs
	s.mu.Unlock()
	for _, ch := range subs {
		select {
		case ch <- n:
		default:
		}
	}
}

// CreateSession validates the request, enforces the per-workspace
// concurrency cap, spawns the child process, and begins the heartbeat
// loop. The returned Session reflects status "running" once the process
// has actually started.
func (s *Supervisor) CreateSession(ctx context.Context, req CreateSessionRequest) (*Session, error) {
	if err := validateNonEmpty("workspaceId", req.WorkspaceID); err != nil {
		return nil, err
	}
	if err := validateID("agentId", req.AgentID); err != nil {
		return nil, err
	}
	if err := validateNonEmpty("task", req.Task); err != nil {
		return nil, err
	}

	count, err := s.store.GetWorkspaceSessionCount(ctx, req.WorkspaceID)
	if err != nil {
		return nil, fmt.Errorf("check workspace concurrency: %w", err)
	}
	if count >= s.cfg.MaxConcurrentPerWorkspace {
		return nil, fmt.Errorf("%w: workspace %s already has %d sessions (limit %d)",
			ErrConcurrencyExceeded, req.WorkspaceID, count, s.cfg.MaxConcurrentPerWorkspace)
	}

	sessionID := uuid.NewString()
	now := time.Now().UTC()

	rs := &runningSession{stop: make(chan struct{})}
	rs.runner = newProcessRunner(sessionID, req.AgentID, s.cfg.RingBufferSize, s.cfg.TerminateGraceWindow, s.log,
		s.broadcastOutput,
		func(n TerminatedNotification) { s.handleExit(sessionID, n) },
	)
	if s.cmdFactory != nil {
		rs.runner.cmdFactory = s.cmdFactory
	}

	pid, err := rs.runner.start(ctx, req.Task, req.WorkingDir)
	if err != nil {
		return nil, err
	}

	sess := &Session{
		SessionID:     sessionID,
		WorkspaceID:   req.WorkspaceID,
		ProjectID:     req.ProjectID,
		AgentID:       req.AgentID,
		PID:           pid,
		Status:        StatusRunning,
		Task:          req.Task,
		WorkingDir:    req.WorkingDir,
		StartedAt:     now,
		LastHeartbeat: now,
	}

	if err := s.store.StoreSession(ctx, sess); err != nil {
		_ = rs.runner.stop()
		return nil, fmt.Errorf("store session: %w", err)
	}

	s.mu.Lock()
	s.running[sessionID] = rs
	s.mu.Unlock()

	go heartbeatLoop(ctx, rs.stop, s.cfg.HeartbeatInterval, s.store, sessionID, s.log)

	s.log.Info("session created",
		zap.String("session_id", sessionID), zap.String("agent_id", req.AgentID),
		zap.String("workspace_id", req.WorkspaceID), zap.Int("pid", pid))

	return sess, nil
}

// handleExit is the processRunner's exit callback: it updates the Store's
// terminal status, stops the heartbeat loop, retires the local handle,
// and fans the notification out. An unexpected (non-terminated) exit is
// additionally reported as a crash.
func (s *Supervisor) handleExit(sessionID string, n TerminatedNotification) {
	now := time.Now().UTC()
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := s.store.UpdateStatus(ctx, sessionID, StatusTerminated, &now); err != nil {
		s.log.Error("failed to record terminal status", zap.String("session_id", sessionID), zap.Error(err))
	}

	s.mu.Lock()
	rs, ok := s.running[sessionID]
	if ok {
		delete(s.running, sessionID)
	}
	s.mu.Unlock()

	if ok {
		rs.once.Do(func() { close(rs.stop) })
	}

	s.broadcastTerminated(n)

	if !n.Terminated {
		s.broadcastCrashed(CrashedNotification{SessionID: sessionID, Err: fmt.Errorf("process exited unexpectedly")})
	}
}

func (s *Supervisor) GetSession(ctx context.Context, sessionID string) (*Session, error) {
	if err := validateNonEmpty("sessionId", sessionID); err != nil {
		return nil, err
	}
	return s.store.GetSession(ctx, sessionID)
}

func (s *Supervisor) GetSessionByAgent(ctx context.Context, agentID string) (*Session, error) {
	if err := validateID("agentId", agentID); err != nil {
		return nil, err
	}
	return s.store.GetSessionByAgent(ctx, agentID)
}

func (s *Supervisor) GetAllSessions(ctx context.Context) ([]*Session, error) {
	ids, err := s.store.GetAllSessionIDs(ctx)
	if err != nil {
		return nil, err
	}
	sessions := make([]*Session, 0, len(ids))
	for _, id := range ids {
		sess, err := s.store.GetSession(ctx, id)
		if err != nil {
			continue
		}
		sessions = append(sessions, sess)
	}
	return sessions, nil
}

// TerminateSession stops the session's process gracefully (SIGTERM, then
// SIGKILL after the configured grace window). Terminating an id with no
// running process is idempotent: it succeeds as a no-op if the Store
// record is already terminal or absent, matching its
// "terminate is idempotent" edge case.
func (s *Supervisor) TerminateSession(ctx context.Context, sessionID string) error {
	s.mu.Lock()
	rs, ok := s.running[sessionID]
	s.mu.Unlock()

	if !ok {
		exists, err := s.store.SessionExists(ctx, sessionID)
		if err != nil {
			return err
		}
		if !exists {
			return nil
		}
		return nil
	}

	return rs.runner.stop()
}

func (s *Supervisor) TerminateAllSessions(ctx context.Context) error {
	s.mu.Lock()
	ids := make([]string, 0, len(s.running))
	for id := range s.running {
		ids = append(ids, id)
	}
	s.mu.Unlock()

	var firstErr error
	for _, id := range ids {
		if err := s.TerminateSession(ctx, id); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

// SendCommand writes a line to the session's stdin. Returns ErrNotRunning
// if the session has no locally-running process (e.g. it already exited
// or belongs to another orchestrator instance), or ErrStdinClosed if the
// process is mid-termination.
func (s *Supervisor) SendCommand(_ context.Context, sessionID, line string) error {
	s.mu.Lock()
	rs, ok := s.running[sessionID]
	s.mu.Unlock()
	if !ok {
		return fmt.Errorf("%w: %s", ErrNotRunning, sessionID)
	}
	return rs.runner.send(line)
}

// RecentOutput returns the session's buffered ring of recent OutputEvents,
// oldest first. Empty if the session is not locally running (e.g. after a
// restart) — durable history lives in the History Buffer instead.
func (s *Supervisor) RecentOutput(sessionID string) []OutputEvent {
	s.mu.Lock()
	rs, ok := s.running[sessionID]
	s.mu.Unlock()
	if !ok {
		return nil
	}
	return rs.runner.snapshot()
}
