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

const deepseekBaseURL = "https://api.deepseek.com/v1"

// deepseekPricing is the static model→pricing table for the DeepSeek
// models the router's default rules table references.
var deepseekPricing = map[string]ModelPricing{
	"deepseek-chat":     {InputPer1M: 0.27, OutputPer1M: 1.10},
	"deepseek-reasoner": {InputPer1M: 0.55, OutputPer1M: 2.19},
}

// DeepSeekProvider reuses github.com/meguminnnnnnnnn/go-openai's client
// against DeepSeek's OpenAI-compatible endpoint:
// "DeepSeek is wire-compatible with the OpenAI chat format; the adapter
// is the OpenAI client with its base URL overridden." It does not embed
// OpenAIProvider directly because its pricing table, embeddings support,
// and health-check model differ.
type DeepSeekProvider struct {
	Policy
	baseURL   string
	rateLimit rateLimitTracker
}

func NewDeepSeekProvider(policy Policy) *DeepSeekProvider {
	return &DeepSeekProvider{Policy: policy, baseURL: deepseekBaseURL}
}

func (p *DeepSeekProvider) ID() string { return "deepseek" }

func (p *DeepSeekProvider) client(apiKey string) *openai.Client {
	cfg := openai.DefaultConfig(apiKey)
	cfg.BaseURL = p.baseURL
	return openai.NewClientWithConfig(cfg)
}

func (p *DeepSeekProvider) Complete(ctx context.Context, req CompletionRequest, apiKey string) (*CompletionResponse, error) {
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
				return mapDeepSeekError(err)
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
	if pricing, ok := deepseekPricing[req.Model]; ok {
		out.Cost = CalculateCost(pricing, out.Usage)
	}
	out.Provider = p.ID()
	return out, nil
}

func (p *DeepSeekProvider) Stream(ctx context.Context, req CompletionRequest, apiKey string) (<-chan StreamChunk, error) {
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
			ch <- StreamChunk{Err: mapDeepSeekError(err), Done: true}
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
				ch <- StreamChunk{Err: mapDeepSeekError(err), Done: true}
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

// Embed always fails: DeepSeek's API surface does not include an
// embeddings endpoint
func (p *DeepSeekProvider) Embed(ctx context.Context, text, model, apiKey string) ([]float64, error) {
	return nil, NewError(ErrInvalidRequest, "deepseek does not support embeddings", nil)
}

func (p *DeepSeekProvider) HealthCheck(ctx context.Context, apiKey string) (*HealthStatus, error) {
	client := p.client(apiKey)
	now := time.Now().UTC()

	_, err := client.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model:     "deepseek-chat",
		MaxTokens: 1,
		Messages:  []openai.ChatCompletionMessage{{Role: openai.ChatMessageRoleUser, Content: "hi"}},
	})
	if err == nil {
		return &HealthStatus{Healthy: true, CheckedAt: now}, nil
	}

	mapped := mapDeepSeekError(err)
	if pe, ok := AsProviderError(mapped); ok && (pe.Kind == ErrRateLimit || pe.Kind == ErrServer) {
		return &HealthStatus{Healthy: true, Message: "key valid; provider busy: " + pe.Message, CheckedAt: now}, nil
	}
	return &HealthStatus{Healthy: false, Message: mapped.Error(), CheckedAt: now}, nil
}

func (p *DeepSeekProvider) SupportsModel(modelID string) bool {
	_, ok := deepseekPricing[modelID]
	return ok
}

func (p *DeepSeekProvider) CalculateCost(modelID string, usage TokenUsage) (float64, error) {
	pricing, ok := deepseekPricing[modelID]
	if !ok {
		return 0, NewError(ErrModelNotFound, fmt.Sprintf("no pricing for model %s", modelID), nil)
	}
	return CalculateCost(pricing, usage), nil
}

func (p *DeepSeekProvider) GetModelPricing(modelID string) (ModelPricing, bool) {
	pricing, ok := deepseekPricing[modelID]
	return pricing, ok
}

func (p *DeepSeekProvider) GetRateLimitStatus() RateLimitStatus {
	return p.rateLimit.snapshot()
}

func mapDeepSeekError(err error) error {
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
			if strings.Contains(strings.ToLower(apiErr.Message), "context") {
				return NewError(ErrContextLength, apiErr.Message, err)
			}
			return NewError(ErrInvalidRequest, apiErr.Message, err)
		case 500, 502, 503:
			return NewError(ErrServer, apiErr.Message, err)
		}
	}
	return NewError(ErrUnknown, err.Error(), err)
}
