package provider

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	openai "github.com/meguminnnnnnnnn/go-openai"
)

// openaiPricing is the static model→pricing table for the OpenAI models
// the router's default rules table references.
var openaiPricing = map[string]ModelPricing{
	"gpt-4o":      {InputPer1M: 2.50, OutputPer1M: 10.00},
	"gpt-4o-mini": {InputPer1M: 0.15, OutputPer1M: 0.60},
	"o1":          {InputPer1M: 15.00, OutputPer1M: 60.00},
}

const openaiEmbeddingModel = "text-embedding-3-small"

// OpenAIProvider adapts the unified Provider façade to
// github.com/meguminnnnnnnnn/go-openai.
type OpenAIProvider struct {
	Policy
	baseURL   string
	rateLimit rateLimitTracker
}

func NewOpenAIProvider(baseURL string, policy Policy) *OpenAIProvider {
	return &OpenAIProvider{Policy: policy, baseURL: baseURL}
}

func (p *OpenAIProvider) ID() string { return "openai" }

func (p *OpenAIProvider) client(apiKey string) *openai.Client {
	cfg := openai.DefaultConfig(apiKey)
	if p.baseURL != "" {
		cfg.BaseURL = p.baseURL
	}
	return openai.NewClientWithConfig(cfg)
}

func (p *OpenAIProvider) Complete(ctx context.Context, req CompletionRequest, apiKey string) (*CompletionResponse, error) {
	if err := ValidateRequest(req); err != nil {
		return nil, err
	}

	var out *CompletionResponse
	err := p.WithRetry(ctx, func(ctx context.Context) error {
		client := p.client(apiKey)

		elapsed, callErr := measureErr(func() error {
			resp, err := client.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
				Model:       req.Model,
				MaxTokens:   req.MaxTokens,
				Temperature: float32(req.Temperature),
				Messages:    toOpenAIMessages(req),
			})
			if err != nil {
				return mapOpenAIError(err)
			}
			if len(resp.Choices) > 0 && resp.Choices[0].FinishReason == "content_filter" {
				return NewError(ErrContentFilter, "completion stopped by content filter", nil)
			}
			out = fromOpenAIResponse(&resp, req.Model)
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
	if pricing, ok := openaiPricing[req.Model]; ok {
		out.Cost = CalculateCost(pricing, out.Usage)
	}
	out.Provider = p.ID()
	return out, nil
}

func (p *OpenAIProvider) Stream(ctx context.Context, req CompletionRequest, apiKey string) (<-chan StreamChunk, error) {
	if err := ValidateRequest(req); err != nil {
		return nil, err
	}

	ch := make(chan StreamChunk, 16)
	go func() {
		defer close(ch)
		client := p.client(apiKey)
		stream, err := client.CreateChatCompletionStream(ctx, openai.ChatCompletionRequest{
			Model:       req.Model,
			MaxTokens:   req.MaxTokens,
			Temperature: float32(req.Temperature),
			Messages:    toOpenAIMessages(req),
			Stream:      true,
		})
		if err != nil {
			ch <- StreamChunk{Err: mapOpenAIError(err), Done: true}
			return
		}
		defer stream.Close()

		for {
			resp, err := stream.Recv()
			if errors.Is(err, io.EOF) {
				ch <- StreamChunk{Done: true}
				return
			}
			if err != nil {
				ch <- StreamChunk{Err: mapOpenAIError(err), Done: true}
				return
			}
			if len(resp.Choices) == 0 {
				continue
			}
			choice := resp.Choices[0]
			if choice.FinishReason == "content_filter" {
				ch <- StreamChunk{Err: NewError(ErrContentFilter, "completion stopped by content filter", nil), Done: true}
				return
			}
			chunk := StreamChunk{Delta: choice.Delta.Content}
			if choice.FinishReason != "" {
				fr := mapOpenAIFinishReason(string(choice.FinishReason))
				chunk.FinishReason = &fr
				chunk.Done = true
			}
			ch <- chunk
		}
	}()
	return ch, nil
}

func (p *OpenAIProvider) Embed(ctx context.Context, text, model, apiKey string) ([]float64, error) {
	if model == "" {
		model = openaiEmbeddingModel
	}
	client := p.client(apiKey)

	var out []float64
	err := p.WithRetry(ctx, func(ctx context.Context) error {
		resp, err := client.CreateEmbeddings(ctx, openai.EmbeddingRequest{
			Input: []string{text},
			Model: openai.EmbeddingModel(model),
		})
		if err != nil {
			return mapOpenAIError(err)
		}
		if len(resp.Data) == 0 {
			return NewError(ErrServer, "embeddings response carried no data", nil)
		}
		embedding := resp.Data[0].Embedding
		out = make([]float64, len(embedding))
		for i, v := range embedding {
			out[i] = float64(v)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

func (p *OpenAIProvider) HealthCheck(ctx context.Context, apiKey string) (*HealthStatus, error) {
	client := p.client(apiKey)
	now := time.Now().UTC()

	_, err := client.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model:     "gpt-4o-mini",
		MaxTokens: 1,
		Messages:  []openai.ChatCompletionMessage{{Role: openai.ChatMessageRoleUser, Content: "hi"}},
	})
	if err == nil {
		return &HealthStatus{Healthy: true, CheckedAt: now}, nil
	}

	mapped := mapOpenAIError(err)
	if pe, ok := AsProviderError(mapped); ok && (pe.Kind == ErrRateLimit || pe.Kind == ErrServer) {
		return &HealthStatus{Healthy: true, Message: "key valid; provider busy: " + pe.Message, CheckedAt: now}, nil
	}
	return &HealthStatus{Healthy: false, Message: mapped.Error(), CheckedAt: now}, nil
}

func (p *OpenAIProvider) SupportsModel(modelID string) bool {
	_, ok := openaiPricing[modelID]
	return ok
}

func (p *OpenAIProvider) CalculateCost(modelID string, usage TokenUsage) (float64, error) {
	pricing, ok := openaiPricing[modelID]
	if !ok {
		return 0, NewError(ErrModelNotFound, fmt.Sprintf("no pricing for model %s", modelID), nil)
	}
	return CalculateCost(pricing, usage), nil
}

func (p *OpenAIProvider) GetModelPricing(modelID string) (ModelPricing, bool) {
	pricing, ok := openaiPricing[modelID]
	return pricing, ok
}

func (p *OpenAIProvider) GetRateLimitStatus() RateLimitStatus {
	return p.rateLimit.snapshot()
}

func toOpenAIMessages(req CompletionRequest) []openai.ChatCompletionMessage {
	out := make([]openai.ChatCompletionMessage, 0, len(req.Messages)+1)
	if req.System != "" {
		out = append(out, openai.ChatCompletionMessage{Role: openai.ChatMessageRoleSystem, Content: req.System})
	}
	for _, m := range req.Messages {
		role := openai.ChatMessageRoleUser
		if strings.EqualFold(m.Role, "assistant") {
			role = openai.ChatMessageRoleAssistant
		}
		out = append(out, openai.ChatCompletionMessage{Role: role, Content: m.Content})
	}
	return out
}

func fromOpenAIResponse(resp *openai.ChatCompletionResponse, model string) *CompletionResponse {
	out := &CompletionResponse{Model: model}
	if len(resp.Choices) > 0 {
		choice := resp.Choices[0]
		out.Content = choice.Message.Content
		out.FinishReason = mapOpenAIFinishReason(string(choice.FinishReason))
		for _, tc := range choice.Message.ToolCalls {
			out.ToolCalls = append(out.ToolCalls, ToolCall{
				ID:        tc.ID,
				Name:      tc.Function.Name,
				Arguments: tc.Function.Arguments,
			})
		}
	}
	out.Usage = TokenUsage{
		InputTokens:  resp.Usage.PromptTokens,
		OutputTokens: resp.Usage.CompletionTokens,
	}
	return out
}

// mapOpenAIFinishReason maps OpenAI's finish_reason into the unified
// taxonomy: stop→end_turn, length→max_tokens,
// tool_calls→tool_use, content_filter→error. FinishReason has no filtered
// slot, so the Complete and Stream callers check for content_filter
// themselves and return ErrContentFilter; any value not listed here
// maps to end_turn.
func mapOpenAIFinishReason(reason string) FinishReason {
	switch reason {
	case "length":
		return FinishMaxTokens
	case "tool_calls", "function_call":
		return FinishToolUse
	case "stop":
		return FinishEndTurn
	default:
		return FinishEndTurn
	}
}

func mapOpenAIError(err error) error {
	var apiErr *openai.APIError
	if errors.As(err, &apiErr) {
		switch apiErr.HTTPStatusCode {
		case 401, 403:
			return NewError(ErrAuthentication, apiErr.Message, err)
		case 404:
			return NewError(ErrModelNotFound, apiErr.Message, err)
		case 429:
			return NewError(ErrRateLimit, apiErr.Message, err)
		case 400:
			msg := strings.ToLower(apiErr.Message)
			if strings.Contains(msg, "context length") || strings.Contains(msg, "maximum context") {
				return NewError(ErrContextLength, apiErr.Message, err)
			}
			if apiErr.Code == "content_filter" {
				return NewError(ErrContentFilter, apiErr.Message, err)
			}
			return NewError(ErrInvalidRequest, apiErr.Message, err)
		case 500, 502, 503:
			return NewError(ErrServer, apiErr.Message, err)
		}
	}
	return NewError(ErrUnknown, err.Error(), err)
}
