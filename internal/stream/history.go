package stream

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/redis/go-redis/v9"
	"github.com/specifiedcodes/devos-orchestrator/internal/common/logger"
)

// keyHistoryPrefix is the History Buffer's key family:
// "cli:history:{sessionId}" — an ordered list, newest-first.
const keyHistoryPrefix = "cli:history:"

func historyKey(sessionID string) string {
	return keyHistoryPrefix + sessionID
}

const defaultHistoryMaxLines = 1000

// History is the per-session bounded replay buffer contract: append
// pushes newest-first and trims to maxLines; reads always return
// chronological (oldest-first) order regardless of storage order.
type History interface {
	Append(ctx context.Context, sessionID string, e StreamEvent) error
	Read(ctx context.Context, sessionID string, count int) ([]StreamEvent, error)
	ReadSafe(ctx context.Context, sessionID string, count int) []StreamEvent
	Clear(ctx context.Context, sessionID string) error
	Len(ctx context.Context, sessionID string) (int, error)
}

// RedisHistory implements History against the same Redis client used by
// the Session Store, per its key family.
type RedisHistory struct {
	client   *redis.Client
	log      *logger.Logger
	maxLines int
	ttl      time.Duration
}

// NewRedisHistory wires a RedisHistory. maxLines defaults to 1000, ttl to
// 86400s, matching its defaults.
func NewRedisHistory(client *redis.Client, log *logger.Logger, maxLines int, ttl time.Duration) *RedisHistory {
	if maxLines <= 0 {
		maxLines = defaultHistoryMaxLines
	}
	if ttl <= 0 {
		ttl = 24 * time.Hour
	}
	return &RedisHistory{client: client, log: log, maxLines: maxLines, ttl: ttl}
}

// Append pushes e to the front of the list (newest-first storage order),
// trims to maxLines, and refreshes the key's TTL.
func (h *RedisHistory) Append(ctx context.Context, sessionID string, e StreamEvent) error {
	payload, err := json.Marshal(e)
	if err != nil {
		return fmt.Errorf("marshal history event: %w", err)
	}

	key := historyKey(sessionID)
	pipe := h.client.TxPipeline()
	pipe.LPush(ctx, key, payload)
	pipe.LTrim(ctx, key, 0, int64(h.maxLines)-1)
	pipe.Expire(ctx, key, h.ttl)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("append history for session %s: %w", sessionID, err)
	}
	return nil
}

// Read returns up to count StreamEvents (defaulting to maxLines) in
// chronological (oldest-first) order. Entries that fail to unmarshal are
// skipped with a log, not treated as fatal; a storage-level read error is
// surfaced to the caller.
func (h *RedisHistory) Read(ctx context.Context, sessionID string, count int) ([]StreamEvent, error) {
	if count <= 0 {
		count = h.maxLines
	}
	raw, err := h.client.LRange(ctx, historyKey(sessionID), 0, int64(count)-1).Result()
	if err != nil {
		return nil, fmt.Errorf("read history for session %s: %w", sessionID, err)
	}

	events := make([]StreamEvent, 0, len(raw))
	for _, item := range raw {
		var e StreamEvent
		if err := json.Unmarshal([]byte(item), &e); err != nil {
			h.log.Warn("skipping unreadable history entry", zap.String("session_id", sessionID), zap.Error(err))
			continue
		}
		events = append(events, e)
	}

	// Storage order is newest-first; reverse in place to chronological.
	for i, j := 0, len(events)-1; i < j; i, j = i+1, j-1 {
		events[i], events[j] = events[j], events[i]
	}
	return events, nil
}

// ReadSafe is Read with all errors swallowed, returning an empty list
// instead — the "safe" replay path for late-joiner reads that must never
// fail the caller
func (h *RedisHistory) ReadSafe(ctx context.Context, sessionID string, count int) []StreamEvent {
	events, err := h.Read(ctx, sessionID, count)
	if err != nil {
		h.log.Debug("history read failed, returning empty", zap.String("session_id", sessionID), zap.Error(err))
		return nil
	}
	return events
}

func (h *RedisHistory) Clear(ctx context.Context, sessionID string) error {
	if err := h.client.Del(ctx, historyKey(sessionID)).Err(); err != nil {
		return fmt.Errorf("clear history for session %s: %w", sessionID, err)
	}
	return nil
}

func (h *RedisHistory) Len(ctx context.Context, sessionID string) (int, error) {
	n, err := h.client.LLen(ctx, historyKey(sessionID)).Result()
	if err != nil {
		return 0, fmt.Errorf("history length for session %s: %w", sessionID, err)
	}
	return int(n), nil
}

var _ History = (*RedisHistory)(nil)
var _ History = (*MemoryHistory)(nil)
