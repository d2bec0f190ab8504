package provider

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
)

// anthropicPricing is the static model→pricing table the router's
// default rules reference directly (claude-sonnet-4-20250514,
// claude-opus-4-20250514), plus the cheap model HealthCheck probes.
var anthropicPricing = map[string]ModelPricing{
	"claude-opus-4-20250514":    {InputPer1M: 15.00, OutputPer1M: 75.00},
	"claude-sonnet-4-20250514":  {InputPer1M: 3.00, OutputPer1M: 15.00},
	"claude-3-5-haiku-20241022": {InputPer1M: 0.80, OutputPer1M: 4.00},
}

// healthCheckModel is the known cheap model used for AnthropicProvider's
// HealthCheck trivial generation
const anthropicHealthCheckModel = "claude-3-5-haiku-20241022"

// AnthropicProvider adapts the unified Provider façade to
// github.com/anthropics/anthropic-sdk-go, grounded on
// joestump-claude-ops/internal/session/summarize.go's
// anthropic.NewClient/client.Messages.New call shape.
type AnthropicProvider struct {
	Policy
	baseURL   string
	rateLimit rateLimitTracker
}

func NewAnthropicProvider(baseURL string, policy Policy) *AnthropicProvider {
	return &AnthropicProvider{Policy: policy, baseURL: baseURL}
}

func (p *AnthropicProvider) ID() string { return "anthropic" }

func (p *AnthropicProvider) client(apiKey string) anthropic.Client {
	opts := []option.RequestOption{option.WithAPIKey(apiKey)}
	if p.baseURL != "" {
		opts = append(opts, option.WithBaseURL(p.baseURL))
	}
	return anthropic.NewClient(opts...)
}

func (p *AnthropicProvider) Complete(ctx context.Context, req CompletionRequest, apiKey string) (*CompletionResponse, error) {
	if err := ValidateRequest(req); err != nil {
		return nil, err
	}

	var out *CompletionResponse
	err := p.WithRetry(ctx, func(ctx context.Context) error {
		client := p.client(apiKey)

		elapsed, callErr := measureErr(func() error {
			msg, err := client.Messages.New(ctx, anthropic.MessageNewParams{
				Model:     anthropic.Model(req.Model),
				MaxTokens: int64(req.MaxTokens),
				System:    systemBlocks(req.System),
				Messages:  toAnthropicMessages(req.Messages),
			})
			if err != nil {
				return mapAnthropicError(err)
			}
			out = fromAnthropicMessage(msg, req.Model)
			return nil
		})
		if out != nil {
			out.LatencyMs = elapsed.Milliseconds()
		}
		return callErr
	})
	if err != nil {
		return nil, err
	}
	if pricing, ok := anthropicPricing[req.Model]; ok {
		out.Cost = CalculateCost(pricing, out.Usage)
	}
	out.Provider = p.ID()
	return out, nil
}

func (p *AnthropicProvider) Stream(ctx context.Context, req CompletionRequest, apiKey string) (<-chan StreamChunk, error) {
	if err := ValidateRequest(req); err != nil {
		return nil, err
	}

	ch := make(chan StreamChunk, 16)
	go func() {
		defer close(ch)
		client := p.client(apiKey)
		stream := client.Messages.NewStreaming(ctx, anthropic.MessageNewParams{
			Model:     anthropic.Model(req.Model),
			MaxTokens: int64(req.MaxTokens),
			System:    systemBlocks(req.System),
			Messages:  toAnthropicMessages(req.Messages),
		})
		for stream.Next() {
			event := stream.Current()
			if delta, ok := event.AsAny().(anthropic.ContentBlockDeltaEvent); ok {
				ch <- StreamChunk{Delta: delta.Delta.Text}
			}
		}
		if err := stream.Err(); err != nil {
			ch <- StreamChunk{Err: mapAnthropicError(err), Done: true}
			return
		}
		ch <- StreamChunk{Done: true}
	}()
	return ch, nil
}

// Embed always fails: Anthropic does not offer an embeddings endpoint,
//
func (p *AnthropicProvider) Embed(ctx context.Context, text, model, apiKey string) ([]float64, error) {
	return nil, NewError(ErrInvalidRequest, "anthropic does not support embeddings", nil)
}

// HealthCheck sends a trivial 1-token generation against a known cheap
// model. A 529 (overloaded) or 429 (rate-limited) response still proves
// the key is valid, so both are treated as healthy
func (p *AnthropicProvider) HealthCheck(ctx context.Context, apiKey string) (*HealthStatus, error) {
	client := p.client(apiKey)
	now := time.Now().UTC()

	_, err := client.Messages.New(ctx, anthropic.MessageNewParams{
		Model:     anthropic.Model(anthropicHealthCheckModel),
		MaxTokens: 1,
		Messages:  []anthropic.MessageParam{anthropic.NewUserMessage(anthropic.NewTextBlock("hi"))},
	})
	if err == nil {
		return &HealthStatus{Healthy: true, CheckedAt: now}, nil
	}

	mapped := mapAnthropicError(err)
	if pe, ok := AsProviderError(mapped); ok && (pe.Kind == ErrRateLimit || pe.Kind == ErrServer) {
		return &HealthStatus{Healthy: true, Message: "key valid; provider busy: " + pe.Message, CheckedAt: now}, nil
	}
	return &HealthStatus{Healthy: false, Message: mapped.Error(), CheckedAt: now}, nil
}

func (p *AnthropicProvider) SupportsModel(modelID string) bool {
	_, ok := anthropicPricing[modelID]
	return ok
}

func (p *AnthropicProvider) CalculateCost(modelID string, usage TokenUsage) (float64, error) {
	pricing, ok := anthropicPricing[modelID]
	if !ok {
		return 0, NewError(ErrModelNotFound, fmt.Sprintf("no pricing for model %s", modelID), nil)
	}
	return CalculateCost(pricing, usage), nil
}

func (p *AnthropicProvider) GetModelPricing(modelID string) (ModelPricing, bool) {
	pricing, ok := anthropicPricing[modelID]
	return pricing, ok
}

func (p *AnthropicProvider) GetRateLimitStatus() RateLimitStatus {
	return p.rateLimit.snapshot()
}

func systemBlocks(system string) []anthropic.TextBlockParam {
	if system == "" {
		return nil
	}
	return []anthropic.TextBlockParam{{Text: system}}
}

func toAnthropicMessages(messages []Message) []anthropic.MessageParam {
	out := make([]anthropic.MessageParam, 0, len(messages))
	for _, m := range messages {
		block := anthropic.NewTextBlock(m.Content)
		if strings.EqualFold(m.Role, "assistant") {
			out = append(out, anthropic.NewAssistantMessage(block))
		} else {
			out = append(out, anthropic.NewUserMessage(block))
		}
	}
	return out
}

// fromAnthropicMessage extracts text and tool_use blocks, and maps
// Anthropic's stop_reason into the unified FinishReason: end_turn,
// max_tokens, stop_sequence, tool_use.
func fromAnthropicMessage(msg *anthropic.Message, model string) *CompletionResponse {
	resp := &CompletionResponse{Model: model}

	for _, block := range msg.Content {
		switch block.Type {
		case "text":
			resp.Content += block.Text
		case "tool_use":
			resp.ToolCalls = append(resp.ToolCalls, ToolCall{
				ID:        block.ID,
				Name:      block.Name,
				Arguments: string(block.Input),
			})
		}
	}

	switch msg.StopReason {
	case "max_tokens":
		resp.FinishReason = FinishMaxTokens
	case "stop_sequence":
		resp.FinishReason = FinishStopSequence
	case "tool_use":
		resp.FinishReason = FinishToolUse
	default:
		resp.FinishReason = FinishEndTurn
	}

	resp.Usage = TokenUsage{
		InputTokens:  int(msg.Usage.InputTokens),
		OutputTokens: int(msg.Usage.OutputTokens),
	}
	if msg.Usage.CacheReadInputTokens > 0 {
		resp.Usage.CachedInputTokens = int(msg.Usage.CacheReadInputTokens)
	}
	return resp
}

func mapAnthropicError(err error) error {
	var apiErr *anthropic.Error
	if errors.As(err, &apiErr) {
		switch apiErr.StatusCode {
		case 401, 403:
			return NewError(ErrAuthentication, apiErr.Message, err)
		case 404:
			return NewError(ErrModelNotFound, apiErr.Message, err)
		case 429:
			return NewError(ErrRateLimit, apiErr.Message, err)
		case 400:
			if strings.Contains(strings.ToLower(apiErr.Message), "context") {
				return NewError(ErrContextLength, apiErr.Message, err)
			}
			return NewError(ErrInvalidRequest, apiErr.Message, err)
		case 500, 502, 503, 529:
			return NewError(ErrServer, apiErr.Message, err)
		}
	}
	return NewError(ErrUnknown, err.Error(), err)
}

func measureErr(fn func() error) (time.Duration, error) {
	start := time.Now()
	err := fn()
	return time.Since(start), err
}
