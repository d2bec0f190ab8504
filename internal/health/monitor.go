// Package health implements the Health Monitor: a periodic
// sweep over the Session Store that reclaims sessions whose heartbeat has
// gone stale, and publishes a running snapshot of session counts and
// process memory usage.
package health

import (
	"context"
	"os"
	"sync"
	"time"

	"github.com/shirou/gopsutil/v3/process"
	"go.uber.org/zap"

	"github.com/specifiedcodes/devos-orchestrator/internal/common/logger"
	"github.com/specifiedcodes/devos-orchestrator/internal/session"
)

const (
	defaultCheckInterval  = 60 * time.Second
	defaultStaleThreshold = 300 * time.Second
)

// Store is the subset of session.Store the Monitor needs to sweep and
// reconcile terminal status on a failed reclamation.
type Store interface {
	GetAllSessionIDs(ctx context.Context) ([]string, error)
	GetSession(ctx context.Context, sessionID string) (*session.Session, error)
	UpdateStatus(ctx context.Context, sessionID string, status session.Status, terminatedAt *time.Time) error
}

// Terminator is the subset of session.Supervisor the Monitor drives to
// reclaim a stale session.
type Terminator interface {
	TerminateSession(ctx context.Context, sessionID string) error
}

// Config bundles the Monitor's tunables, per its defaults.
type Config struct {
	CheckInterval  time.Duration
	StaleThreshold time.Duration
}

func (c Config) withDefaults() Config {
	if c.CheckInterval <= 0 {
		c.CheckInterval = defaultCheckInterval
	}
	if c.StaleThreshold <= 0 {
		c.StaleThreshold = defaultStaleThreshold
	}
	return c
}

// Snapshot is the HealthCheckComplete record published at the end of
// every sweep pass
type Snapshot struct {
	Total            int    `json:"total"`
	Active           int    `json:"active"`
	Stale            int    `json:"stale"`
	Terminated       int    `json:"terminated"`
	MemoryUsageBytes uint64 `json:"memoryUsageBytes"`
	Timestamp        string `json:"timestamp"`
}

// Monitor runs the periodic stale-session sweep.
type Monitor struct {
	store      Store
	terminator Terminator
	cfg        Config
	log        *logger.Logger

	mu           sync.Mutex
	staleSubs    []chan session.StaleNotification
	snapshotSubs []chan Snapshot
}

func NewMonitor(store Store, terminator Terminator, cfg Config, log *logger.Logger) *Monitor {
	return &Monitor{store: store, terminator: terminator, cfg: cfg.withDefaults(), log: log}
}

// SubscribeStale registers a fan-out channel for every SessionStale
// notification the Monitor emits.
func (m *Monitor) SubscribeStale(buffer int) <-chan session.StaleNotification {
	ch := make(chan session.StaleNotification, buffer)
	m.mu.Lock()
	m.staleSubs = append(m.staleSubs, ch)
	m.mu.Unlock()
	return ch
}

// SubscribeSnapshot registers a fan-out channel for every HealthCheckComplete
// snapshot published at the end of a sweep pass.
func (m *Monitor) SubscribeSnapshot(buffer int) <-chan Snapshot {
	ch := make(chan Snapshot, buffer)
	m.mu.Lock()
	m.snapshotSubs = append(m.snapshotSubs, ch)
	m.mu.Unlock()
	return ch
}

func (m *Monitor) broadcastStale(n session.StaleNotification) {
	m.mu.Lock()
	subs := m.staleSubs
	m.mu.Unlock()
	for _, ch := range subs {
		select {
		case ch <- n:
		default:
		}
	}
}

func (m *Monitor) broadcastSnapshot(s Snapshot) {
	m.mu.Lock()
	subs := m.snapshotSubs
	m.mu.Unlock()
	for _, ch := range subs {
		select {
		case ch <- s:
		default:
		}
	}
}

// Run blocks, performing an immediate first sweep and then one sweep per
// CheckInterval, until ctx is cancelled. All per-sweep errors are
// swallowed into logs —, the monitor must remain
// running regardless of Store or Supervisor failures.
func (m *Monitor) Run(ctx context.Context) {
	m.sweep(ctx)

	ticker := time.NewTicker(m.cfg.CheckInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			m.sweep(ctx)
		}
	}
}

// sweep performs one pass: every known session id is classified as
// terminated, stale, or active. Stale sessions are reclaimed via the
// Terminator; if reclamation fails, the Monitor defensively writes
// status=terminated directly so the record isn't reprocessed next pass.
func (m *Monitor) sweep(ctx context.Context) {
	ids, err := m.store.GetAllSessionIDs(ctx)
	if err != nil {
		m.log.Error("health sweep: failed to list sessions", zap.Error(err))
		return
	}

	snap := Snapshot{Total: len(ids), Timestamp: time.Now().UTC().Format(time.RFC3339)}
	now := time.Now().UTC()

	for _, id := range ids {
		sess, err := m.store.GetSession(ctx, id)
		if err != nil {
			m.log.Debug("health sweep: session vanished mid-scan", zap.String("session_id", id), zap.Error(err))
			continue
		}

		if sess.Status == session.StatusTerminated {
			snap.Terminated++
			continue
		}

		if now.Sub(sess.LastHeartbeat) <= m.cfg.StaleThreshold {
			snap.Active++
			continue
		}

		snap.Stale++
		m.broadcastStale(session.StaleNotification{
			SessionID: sess.SessionID, AgentID: sess.AgentID, LastHeartbeat: sess.LastHeartbeat,
		})

		if err := m.terminator.TerminateSession(ctx, sess.SessionID); err != nil {
			m.log.Warn("health sweep: reclamation failed, marking terminated directly",
				zap.String("session_id", sess.SessionID), zap.Error(err))
			if err := m.store.UpdateStatus(ctx, sess.SessionID, session.StatusTerminated, &now); err != nil {
				m.log.Error("health sweep: defensive status update failed",
					zap.String("session_id", sess.SessionID), zap.Error(err))
			}
		}
	}

	snap.MemoryUsageBytes = processMemoryUsage(m.log)
	m.broadcastSnapshot(snap)
}

// processMemoryUsage reads this process's RSS via gopsutil. Failures are
// logged and treated as zero rather than aborting the sweep.
func processMemoryUsage(log *logger.Logger) uint64 {
	proc, err := process.NewProcess(int32(os.Getpid()))
	if err != nil {
		log.Debug("health sweep: could not open self process handle", zap.Error(err))
		return 0
	}
	info, err := proc.MemoryInfo()
	if err != nil || info == nil {
		log.Debug("health sweep: memory info unavailable", zap.Error(err))
		return 0
	}
	return info.RSS
}
