package session

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// Key family prefixes
const (
	keySessionPrefix        = "cli:session:"
	keyWorkspaceSessionsFmt = "cli:workspace:%s:sessions"
	keyAgentPrefix          = "cli:agent:"
)

func sessionKey(sessionID string) string {
	return keySessionPrefix + sessionID
}

func workspaceSessionsKey(workspaceID string) string {
	return fmt.Sprintf(keyWorkspaceSessionsFmt, workspaceID)
}

func agentKey(agentID string) string {
	return keyAgentPrefix + agentID
}

// Store is the Session Store contract: a shared, TTL-backed key-value
// record of every live session, addressable by id, workspace, or agent.
type Store interface {
	StoreSession(ctx context.Context, s *Session) error
	GetSession(ctx context.Context, sessionID string) (*Session, error)
	DeleteSession(ctx context.Context, sessionID string) error
	UpdateHeartbeat(ctx context.Context, sessionID string, at time.Time) error
	UpdateStatus(ctx context.Context, sessionID string, status Status, terminatedAt *time.Time) error
	GetWorkspaceSessions(ctx context.Context, workspaceID string) ([]*Session, error)
	GetWorkspaceSessionCount(ctx context.Context, workspaceID string) (int, error)
	GetSessionByAgent(ctx context.Context, agentID string) (*Session, error)
	SessionExists(ctx context.Context, sessionID string) (bool, error)
	GetAllSessionIDs(ctx context.Context) ([]string, error)
}

// RedisStore implements Store against github.com/redis/go-redis/v9, the
// shared key-value infrastructure every session-bearing component reads
// and writes through.
type RedisStore struct {
	client *redis.Client
	ttl    time.Duration

	// scanPageSize and scanMaxResults bound GetAllSessionIDs's SCAN loop,
	// per its pagination and hard-cap requirements.
	scanPageSize   int64
	scanMaxResults int
}

// NewRedisStore wires a RedisStore against an already-configured client.
// ttl is the per-key expiry refreshed on every heartbeat/status write
// (default 86400s).
func NewRedisStore(client *redis.Client, ttl time.Duration, scanPageSize int64, scanMaxResults int) *RedisStore {
	if ttl <= 0 {
		ttl = 24 * time.Hour
	}
	if scanPageSize <= 0 {
		scanPageSize = 100
	}
	if scanMaxResults <= 0 {
		scanMaxResults = 10000
	}
	return &RedisStore{client: client, ttl: ttl, scanPageSize: scanPageSize, scanMaxResults: scanMaxResults}
}

func (s *RedisStore) StoreSession(ctx context.Context, sess *Session) error {
	payload, err := json.Marshal(sess)
	if err != nil {
		return fmt.Errorf("marshal session: %w", err)
	}

	pipe := s.client.TxPipeline()
	pipe.Set(ctx, sessionKey(sess.SessionID), payload, s.ttl)
	pipe.SAdd(ctx, workspaceSessionsKey(sess.WorkspaceID), sess.SessionID)
	pipe.Expire(ctx, workspaceSessionsKey(sess.WorkspaceID), s.ttl)
	if sess.AgentID != "" {
		pipe.Set(ctx, agentKey(sess.AgentID), sess.SessionID, s.ttl)
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("store session %s: %w", sess.SessionID, err)
	}
	return nil
}

func (s *RedisStore) GetSession(ctx context.Context, sessionID string) (*Session, error) {
	raw, err := s.client.Get(ctx, sessionKey(sessionID)).Bytes()
	if err == redis.Nil {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, sessionID)
	}
	if err != nil {
		return nil, fmt.Errorf("get session %s: %w", sessionID, err)
	}
	var sess Session
	if err := json.Unmarshal(raw, &sess); err != nil {
		return nil, fmt.Errorf("unmarshal session %s: %w", sessionID, err)
	}
	return &sess, nil
}

func (s *RedisStore) DeleteSession(ctx context.Context, sessionID string) error {
	sess, err := s.GetSession(ctx, sessionID)
	if err != nil {
		return err
	}
	pipe := s.client.TxPipeline()
	pipe.Del(ctx, sessionKey(sessionID))
	pipe.SRem(ctx, workspaceSessionsKey(sess.WorkspaceID), sessionID)
	if sess.AgentID != "" {
		pipe.Del(ctx, agentKey(sess.AgentID))
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("delete session %s: %w", sessionID, err)
	}
	return nil
}

func (s *RedisStore) UpdateHeartbeat(ctx context.Context, sessionID string, at time.Time) error {
	sess, err := s.GetSession(ctx, sessionID)
	if err != nil {
		return err
	}
	sess.LastHeartbeat = at
	return s.StoreSession(ctx, sess)
}

func (s *RedisStore) UpdateStatus(ctx context.Context, sessionID string, status Status, terminatedAt *time.Time) error {
	sess, err := s.GetSession(ctx, sessionID)
	if err != nil {
		return err
	}
	sess.Status = status
	if terminatedAt != nil {
		sess.TerminatedAt = terminatedAt
	}
	return s.StoreSession(ctx, sess)
}

func (s *RedisStore) GetWorkspaceSessions(ctx context.Context, workspaceID string) ([]*Session, error) {
	ids, err := s.client.SMembers(ctx, workspaceSessionsKey(workspaceID)).Result()
	if err != nil {
		return nil, fmt.Errorf("list workspace %s sessions: %w", workspaceID, err)
	}
	sessions := make([]*Session, 0, len(ids))
	for _, id := range ids {
		sess, err := s.GetSession(ctx, id)
		if err != nil {
			// The set member can outlive the hash key's TTL; drop stale
			// references instead of failing the whole listing.
			s.client.SRem(ctx, workspaceSessionsKey(workspaceID), id)
			continue
		}
		sessions = append(sessions, sess)
	}
	return sessions, nil
}

func (s *RedisStore) GetWorkspaceSessionCount(ctx context.Context, workspaceID string) (int, error) {
	n, err := s.client.SCard(ctx, workspaceSessionsKey(workspaceID)).Result()
	if err != nil {
		return 0, fmt.Errorf("count workspace %s sessions: %w", workspaceID, err)
	}
	return int(n), nil
}

func (s *RedisStore) GetSessionByAgent(ctx context.Context, agentID string) (*Session, error) {
	sessionID, err := s.client.Get(ctx, agentKey(agentID)).Result()
	if err == redis.Nil {
		return nil, fmt.Errorf("%w: no session for agent %s", ErrNotFound, agentID)
	}
	if err != nil {
		return nil, fmt.Errorf("get session for agent %s: %w", agentID, err)
	}
	return s.GetSession(ctx, sessionID)
}

func (s *RedisStore) SessionExists(ctx context.Context, sessionID string) (bool, error) {
	n, err := s.client.Exists(ctx, sessionKey(sessionID)).Result()
	if err != nil {
		return false, fmt.Errorf("exists session %s: %w", sessionID, err)
	}
	return n > 0, nil
}

// GetAllSessionIDs walks the keyspace with SCAN (never KEYS) in pages of
// scanPageSize, stopping once scanMaxResults ids have been collected, to
// keep listing bounded and incremental rather than a single blocking
// full-keyspace scan.
func (s *RedisStore) GetAllSessionIDs(ctx context.Context) ([]string, error) {
	var ids []string
	var cursor uint64
	for {
		keys, next, err := s.client.Scan(ctx, cursor, keySessionPrefix+"*", s.scanPageSize).Result()
		if err != nil {
			return nil, fmt.Errorf("scan sessions: %w", err)
		}
		for _, k := range keys {
			ids = append(ids, k[len(keySessionPrefix):])
			if len(ids) >= s.scanMaxResults {
				return ids, nil
			}
		}
		cursor = next
		if cursor == 0 {
			break
		}
	}
	return ids, nil
}
