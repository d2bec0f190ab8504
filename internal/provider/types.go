// Package provider implements the unified Provider abstraction: a thin,
// vendor-neutral façade over completion/streaming/embedding calls, with
// cross-cutting validation, timeout, retry, cost, and error
// normalization shared across four concrete BYOK vendor adapters.
package provider

import "time"

// Message is the unified {role, content} wire form every vendor adapter
// translates to and from.
type Message struct {
	Role    string
	Content string
}

// ToolCall is a tool invocation extracted from a vendor completion
// response, normalized regardless of whether the vendor expressed it as
// a content block (Anthropic) or a structured field (OpenAI).
type ToolCall struct {
	ID        string
	Name      string
	Arguments string // raw JSON; vendors that encode arguments as a JSON string are parsed into this
}

// FinishReason is the unified completion-stop taxonomy every vendor's
// finish-reason mapping table normalizes into.
type FinishReason string

const (
	FinishEndTurn      FinishReason = "end_turn"
	FinishMaxTokens    FinishReason = "max_tokens"
	FinishStopSequence FinishReason = "stop_sequence"
	FinishToolUse      FinishReason = "tool_use"
)

// TokenUsage is the input/output/cached token accounting for one completion.
type TokenUsage struct {
	InputTokens       int
	OutputTokens      int
	CachedInputTokens int
}

// CompletionRequest is the unified request shape passed to Provider.Complete
// and Provider.Stream.
type CompletionRequest struct {
	Model       string
	System      string
	Messages    []Message
	MaxTokens   int
	Temperature float64
}

// CompletionResponse is the unified result of a non-streaming completion.
type CompletionResponse struct {
	Content      string
	ToolCalls    []ToolCall
	FinishReason FinishReason
	Usage        TokenUsage
	Cost         float64
	LatencyMs    int64
	Model        string
	Provider     string
}

// StreamChunk is one increment of a streaming completion. Err is set
// (with Done implicitly true) when the stream terminates abnormally.
type StreamChunk struct {
	Delta        string
	FinishReason *FinishReason
	Done         bool
	Err          error
}

// ModelPricing is the per-1M-token cost table entry for one model,
// mirroring the Model catalog row's pricing fields.
type ModelPricing struct {
	InputPer1M       float64
	OutputPer1M      float64
	CachedInputPer1M *float64
}

// HealthStatus is the result of a provider health check.
type HealthStatus struct {
	Healthy   bool
	Message   string
	CheckedAt time.Time
}

// RateLimitStatus holds what a provider's rateLimitTracker has recorded
// from vendor response headers. No provider passes response
// headers to its tracker, so every field stays nil. No active throttling
// is performed.
type RateLimitStatus struct {
	RequestsRemaining *int
	TokensRemaining   *int
	ResetAt           *time.Time
}
