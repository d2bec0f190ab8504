package provider

import (
	"context"
	"fmt"
	"strings"
	"time"

	"google.golang.org/genai"
)

// googlePricing is the static model→pricing table for the Gemini models
// this provider reports as supported. Of the Gemini ids in the router's
// default rules table, only gemini-2.0-flash has an entry.
var googlePricing = map[string]ModelPricing{
	"gemini-2.0-flash": {InputPer1M: 0.10, OutputPer1M: 0.40},
	"gemini-1.5-pro":   {InputPer1M: 1.25, OutputPer1M: 5.00},
}

const googleEmbeddingModel = "text-embedding-004"

// GoogleProvider adapts the unified Provider façade to
// google.golang.org/genai, grounded on the NewContentFromText/RoleUser
// call shape surfaced in the retrieved pack.
type GoogleProvider struct {
	Policy
	rateLimit rateLimitTracker
}

func NewGoogleProvider(policy Policy) *GoogleProvider {
	return &GoogleProvider{Policy: policy}
}

func (p *GoogleProvider) ID() string { return "google" }

func (p *GoogleProvider) client(ctx context.Context, apiKey string) (*genai.Client, error) {
	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:  apiKey,
		Backend: genai.BackendGeminiAPI,
	})
	if err != nil {
		return nil, mapGoogleError(err)
	}
	return client, nil
}

func (p *GoogleProvider) Complete(ctx context.Context, req CompletionRequest, apiKey string) (*CompletionResponse, error) {
	if err := ValidateRequest(req); err != nil {
		return nil, err
	}

	var out *CompletionResponse
	err := p.WithRetry(ctx, func(ctx context.Context) error {
		client, err := p.client(ctx, apiKey)
		if err != nil {
			return err
		}

		cfg := &genai.GenerateContentConfig{
			MaxOutputTokens: int32(req.MaxTokens),
			Temperature:     genai.Ptr(float32(req.Temperature)),
		}
		if req.System != "" {
			cfg.SystemInstruction = genai.NewContentFromText(req.System, genai.RoleUser)
		}

		elapsed, callErr := measureErr(func() error {
			resp, err := client.Models.GenerateContent(ctx, req.Model, toGoogleContents(req.Messages), cfg)
			if err != nil {
				return mapGoogleError(err)
			}
			if len(resp.Candidates) > 0 && resp.Candidates[0].FinishReason == genai.FinishReasonSafety {
				return NewError(ErrContentFilter, "response blocked by safety filters", nil)
			}
			out = fromGoogleResponse(resp, req.Model)
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
	if pricing, ok := googlePricing[req.Model]; ok {
		out.Cost = CalculateCost(pricing, out.Usage)
	}
	out.Provider = p.ID()
	return out, nil
}

func (p *GoogleProvider) Stream(ctx context.Context, req CompletionRequest, apiKey string) (<-chan StreamChunk, error) {
	if err := ValidateRequest(req); err != nil {
		return nil, err
	}

	ch := make(chan StreamChunk, 16)
	go func() {
		defer close(ch)
		client, err := p.client(ctx, apiKey)
		if err != nil {
			ch <- StreamChunk{Err: err, Done: true}
			return
		}

		cfg := &genai.GenerateContentConfig{MaxOutputTokens: int32(req.MaxTokens)}
		if req.System != "" {
			cfg.SystemInstruction = genai.NewContentFromText(req.System, genai.RoleUser)
		}

		for resp, err := range client.Models.GenerateContentStream(ctx, req.Model, toGoogleContents(req.Messages), cfg) {
			if err != nil {
				ch <- StreamChunk{Err: mapGoogleError(err), Done: true}
				return
			}
			ch <- StreamChunk{Delta: resp.Text()}
		}
		ch <- StreamChunk{Done: true}
	}()
	return ch, nil
}

func (p *GoogleProvider) Embed(ctx context.Context, text, model, apiKey string) ([]float64, error) {
	if model == "" {
		model = googleEmbeddingModel
	}

	var out []float64
	err := p.WithRetry(ctx, func(ctx context.Context) error {
		client, err := p.client(ctx, apiKey)
		if err != nil {
			return err
		}
		resp, err := client.Models.EmbedContent(ctx, model, []*genai.Content{genai.NewContentFromText(text, genai.RoleUser)}, nil)
		if err != nil {
			return mapGoogleError(err)
		}
		if len(resp.Embeddings) == 0 {
			return NewError(ErrServer, "embeddings response carried no data", nil)
		}
		values := resp.Embeddings[0].Values
		out = make([]float64, len(values))
		for i, v := range values {
			out[i] = float64(v)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

func (p *GoogleProvider) HealthCheck(ctx context.Context, apiKey string) (*HealthStatus, error) {
	now := time.Now().UTC()
	client, err := p.client(ctx, apiKey)
	if err != nil {
		return &HealthStatus{Healthy: false, Message: err.Error(), CheckedAt: now}, nil
	}

	_, err = client.Models.GenerateContent(ctx, "gemini-2.0-flash",
		[]*genai.Content{genai.NewContentFromText("hi", genai.RoleUser)},
		&genai.GenerateContentConfig{MaxOutputTokens: 1})
	if err == nil {
		return &HealthStatus{Healthy: true, CheckedAt: now}, nil
	}

	mapped := mapGoogleError(err)
	if pe, ok := AsProviderError(mapped); ok && (pe.Kind == ErrRateLimit || pe.Kind == ErrServer) {
		return &HealthStatus{Healthy: true, Message: "key valid; provider busy: " + pe.Message, CheckedAt: now}, nil
	}
	return &HealthStatus{Healthy: false, Message: mapped.Error(), CheckedAt: now}, nil
}

func (p *GoogleProvider) SupportsModel(modelID string) bool {
	_, ok := googlePricing[modelID]
	return ok
}

func (p *GoogleProvider) CalculateCost(modelID string, usage TokenUsage) (float64, error) {
	pricing, ok := googlePricing[modelID]
	if !ok {
		return 0, NewError(ErrModelNotFound, fmt.Sprintf("no pricing for model %s", modelID), nil)
	}
	return CalculateCost(pricing, usage), nil
}

func (p *GoogleProvider) GetModelPricing(modelID string) (ModelPricing, bool) {
	pricing, ok := googlePricing[modelID]
	return pricing, ok
}

func (p *GoogleProvider) GetRateLimitStatus() RateLimitStatus {
	return p.rateLimit.snapshot()
}

// toGoogleContents remaps the unified message role set onto genai's
// {user, model} roles: "assistant maps to model; system
// is carried as a distinct SystemInstruction, not as a content turn."
func toGoogleContents(messages []Message) []*genai.Content {
	out := make([]*genai.Content, 0, len(messages))
	for _, m := range messages {
		role := genai.RoleUser
		if strings.EqualFold(m.Role, "assistant") {
			role = genai.RoleModel
		}
		out = append(out, genai.NewContentFromText(m.Content, role))
	}
	return out
}

func fromGoogleResponse(resp *genai.GenerateContentResponse, model string) *CompletionResponse {
	out := &CompletionResponse{Model: model, Content: resp.Text()}

	if len(resp.Candidates) > 0 {
		candidate := resp.Candidates[0]
		switch candidate.FinishReason {
		case genai.FinishReasonMaxTokens:
			out.FinishReason = FinishMaxTokens
		case genai.FinishReasonSafety:
			out.FinishReason = FinishEndTurn // Complete returns ErrContentFilter before building a response for this case
		default:
			out.FinishReason = FinishEndTurn
		}
	}

	if resp.UsageMetadata != nil {
		out.Usage = TokenUsage{
			InputTokens:  int(resp.UsageMetadata.PromptTokenCount),
			OutputTokens: int(resp.UsageMetadata.CandidatesTokenCount),
		}
	}
	return out
}

func mapGoogleError(err error) error {
	var apiErr genai.APIError
	msg := err.Error()
	lower := strings.ToLower(msg)

	if ok := extractGenaiAPIError(err, &apiErr); ok {
		switch apiErr.Code {
		case 401, 403:
			return NewError(ErrAuthentication, apiErr.Message, err)
		case 404:
			return NewError(ErrModelNotFound, apiErr.Message, err)
		case 429:
			return NewError(ErrRateLimit, apiErr.Message, err)
		case 400:
			if strings.Contains(lower, "safety") {
				return NewError(ErrContentFilter, apiErr.Message, err)
			}
			if strings.Contains(lower, "token") && strings.Contains(lower, "exceed") {
				return NewError(ErrContextLength, apiErr.Message, err)
			}
			return NewError(ErrInvalidRequest, apiErr.Message, err)
		case 500, 502, 503:
			return NewError(ErrServer, apiErr.Message, err)
		}
	}
	return NewError(ErrUnknown, msg, err)
}

// extractGenaiAPIError mirrors errors.As for genai's error type, which
// some SDK versions return by value rather than by pointer.
func extractGenaiAPIError(err error, target *genai.APIError) bool {
	if apiErr, ok := err.(genai.APIError); ok {
		*target = apiErr
		return true
	}
	if apiErr, ok := err.(*genai.APIError); ok {
		*target = *apiErr
		return true
	}
	return false
}
