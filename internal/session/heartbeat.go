package session

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/specifiedcodes/devos-orchestrator/internal/common/appctx"
	"github.com/specifiedcodes/devos-orchestrator/internal/common/logger"
)

const defaultHeartbeatInterval = 30 * time.Second

// heartbeatLoop refreshes a session's lastHeartbeat (and the store's TTL,
// transitively, via Store.UpdateHeartbeat) on a fixed interval until
// stopCh closes. Failures are logged at debug — a missed heartbeat write
// does not tear down the session; the Health Monitor's stale sweep is the
// backstop.
func heartbeatLoop(ctx context.Context, stopCh <-chan struct{}, interval time.Duration, store Store, sessionID string, log *logger.Logger) {
	if interval <= 0 {
		interval = defaultHeartbeatInterval
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-stopCh:
			return
		case <-ctx.Done():
			return
		case <-ticker.C:
			tickCtx, cancel := appctx.Detached(ctx, stopCh, interval)
			err := store.UpdateHeartbeat(tickCtx, sessionID, time.Now().UTC())
			cancel()
			if err != nil {
				log.Debug("heartbeat update failed",
					zap.String("session_id", sessionID), zap.Error(err))
			}
		}
	}
}
