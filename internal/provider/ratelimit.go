package provider

import (
	"net/http"
	"strconv"
	"sync"
	"time"
)

// rateLimitTracker passively records the most recent rate-limit headers a
// vendor response carried: "passively tracked from
// response headers... no active throttling is mandated."
type rateLimitTracker struct {
	mu     sync.Mutex
	status RateLimitStatus
}

func (t *rateLimitTracker) snapshot() RateLimitStatus {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.status
}

// updateFromHeaders reads a requests-remaining, tokens-remaining, and
// reset-epoch-seconds header triple, tolerating missing/unparsable values.
func (t *rateLimitTracker) updateFromHeaders(h http.Header, requestsHeader, tokensHeader, resetHeader string) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if v := h.Get(requestsHeader); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			t.status.RequestsRemaining = &n
		}
	}
	if v := h.Get(tokensHeader); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			t.status.TokensRemaining = &n
		}
	}
	if v := h.Get(resetHeader); v != "" {
		if secs, err := strconv.ParseInt(v, 10, 64); err == nil {
			resetAt := time.Unix(secs, 0).UTC()
			t.status.ResetAt = &resetAt
		}
	}
}
