package provider

import (
	"context"
	"fmt"
	"time"
)

const (
	defaultTimeout        = 120 * time.Second
	defaultMaxRetries     = 3
	defaultRetryDelayBase = 1 * time.Second
)

// Provider is the unified façade every BYOK vendor adapter implements.
type Provider interface {
	ID() string
	Complete(ctx context.Context, req CompletionRequest, apiKey string) (*CompletionResponse, error)
	Stream(ctx context.Context, req CompletionRequest, apiKey string) (<-chan StreamChunk, error)
	Embed(ctx context.Context, text, model, apiKey string) ([]float64, error)
	HealthCheck(ctx context.Context, apiKey string) (*HealthStatus, error)
	SupportsModel(modelID string) bool
	CalculateCost(modelID string, usage TokenUsage) (float64, error)
	GetModelPricing(modelID string) (ModelPricing, bool)
	GetRateLimitStatus() RateLimitStatus
}

// Policy bundles the cross-cutting behavior shared by every concrete
// provider: validation, timeout, retry, and cost. Concrete providers
// embed a Policy and call its helpers around their vendor-specific wire
// calls.
type Policy struct {
	Timeout        time.Duration
	MaxRetries     int
	RetryDelayBase time.Duration
}

// NewPolicy returns a Policy with sane defaults substituted for any zero
// field.
func NewPolicy(timeout time.Duration, maxRetries int, retryDelayBase time.Duration) Policy {
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	if maxRetries <= 0 {
		maxRetries = defaultMaxRetries
	}
	if retryDelayBase <= 0 {
		retryDelayBase = defaultRetryDelayBase
	}
	return Policy{Timeout: timeout, MaxRetries: maxRetries, RetryDelayBase: retryDelayBase}
}

// ValidateRequest enforces the baseline request shape: non-empty
// messages, non-empty model, positive maxTokens.
func ValidateRequest(req CompletionRequest) error {
	if req.Model == "" {
		return NewError(ErrInvalidRequest, "model must not be empty", nil)
	}
	if len(req.Messages) == 0 {
		return NewError(ErrInvalidRequest, "messages must not be empty", nil)
	}
	if req.MaxTokens <= 0 {
		return NewError(ErrInvalidRequest, "maxTokens must be positive", nil)
	}
	return nil
}

// WithTimeout races fn against p.Timeout, surfacing a retryable TimeoutError
// if fn does not complete in time. The timer is implicitly cleared on
// success since the derived context is cancelled when this function returns.
func (p Policy) WithTimeout(ctx context.Context, fn func(ctx context.Context) error) error {
	ctx, cancel := context.WithTimeout(ctx, p.Timeout)
	defer cancel()

	done := make(chan error, 1)
	go func() { done <- fn(ctx) }()

	select {
	case err := <-done:
		return err
	case <-ctx.Done():
		return NewError(ErrTimeout, fmt.Sprintf("operation exceeded %s", p.Timeout), ctx.Err())
	}
}

// WithRetry retries fn (a non-streaming operation) up to p.MaxRetries
// times on a retryable *Error. The inter-attempt delay is the error's
// RetryAfterMs when present, else an exponential backoff of
// RetryDelayBase*2^attempt. Non-retryable errors and exhausted attempts
// propagate immediately. Each attempt is itself timeout-guarded via
// WithTimeout.
func (p Policy) WithRetry(ctx context.Context, fn func(ctx context.Context) error) error {
	var lastErr error
	for attempt := 0; attempt < p.MaxRetries; attempt++ {
		err := p.WithTimeout(ctx, fn)
		if err == nil {
			return nil
		}
		lastErr = err

		pe, ok := AsProviderError(err)
		if !ok || !pe.Retryable() {
			return err
		}
		if attempt == p.MaxRetries-1 {
			break
		}

		delay := p.RetryDelayBase * time.Duration(1<<uint(attempt))
		if pe.RetryAfterMs != nil {
			delay = time.Duration(*pe.RetryAfterMs) * time.Millisecond
		}

		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return lastErr
}

// CalculateCost applies the standard cost formula: inputCost =
// inputTokens * pricing.InputPer1M / 1e6, outputCost analogous; a
// cachedInputTokens count is priced separately (added, not substituted
// for InputTokens) when the pricing table carries a cached rate.
func CalculateCost(pricing ModelPricing, usage TokenUsage) float64 {
	cost := float64(usage.InputTokens)*pricing.InputPer1M/1e6 + float64(usage.OutputTokens)*pricing.OutputPer1M/1e6
	if usage.CachedInputTokens > 0 && pricing.CachedInputPer1M != nil {
		cost += float64(usage.CachedInputTokens) * (*pricing.CachedInputPer1M) / 1e6
	}
	return cost
}

// Measure runs fn and returns both its result error and the elapsed
// wall-clock duration, so callers can report completion latency
// alongside the response.
func Measure(fn func() error) (time.Duration, error) {
	start := time.Now()
	err := fn()
	return time.Since(start), err
}
