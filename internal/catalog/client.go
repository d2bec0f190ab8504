package catalog

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/specifiedcodes/devos-orchestrator/internal/common/logger"
	"go.uber.org/zap"
)

const defaultTimeout = 30 * time.Second

// Client is a read-only HTTP client for the external model-registry
// service, built directly on net/http rather than a third-party REST
// client library, with an in-process TTL cache in front of it.
type Client struct {
	baseURL    string
	token      string
	httpClient *http.Client
	cache      *cache
	logger     *logger.Logger
}

// Option configures a Client at construction time.
type Option func(*Client)

func WithToken(token string) Option {
	return func(c *Client) { c.token = token }
}

func WithHTTPClient(h *http.Client) Option {
	return func(c *Client) { c.httpClient = h }
}

func WithCacheTTL(ttl time.Duration) Option {
	return func(c *Client) { c.cache.ttl = ttl }
}

func WithCacheCapacity(n int) Option {
	return func(c *Client) { c.cache.capacity = n }
}

func NewClient(baseURL string, log *logger.Logger, opts ...Option) *Client {
	c := &Client{
		baseURL:    baseURL,
		httpClient: &http.Client{Timeout: defaultTimeout},
		cache:      newCache(defaultCacheTTL, defaultCacheCapacity),
		logger:     log.WithFields(zap.String("component", "catalog-client")),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// ListModels returns every catalog row matching filter, via
// `GET /api/model-registry/models[?provider=…]`.
func (c *Client) ListModels(ctx context.Context, filter ListFilter) ([]Model, error) {
	u := c.baseURL + "/api/model-registry/models"
	if q := encodeFilter(filter); q != "" {
		u += "?" + q
	}

	var models []Model
	if err := c.getJSON(ctx, u, &models); err != nil {
		return nil, err
	}
	return models, nil
}

// GetModel looks up a single modelId. A 404 is a legitimate absence,
// reported as (nil, nil) rather than an error.
func (c *Client) GetModel(ctx context.Context, modelID string) (*Model, error) {
	u := c.baseURL + "/api/model-registry/models/" + url.PathEscape(modelID)

	var model Model
	found, err := c.getJSONAllowMissing(ctx, u, &model)
	if err != nil {
		return nil, err
	}
	if !found {
		return nil, nil
	}
	return &model, nil
}

// ListByProvider returns the catalog's per-provider listing.
func (c *Client) ListByProvider(ctx context.Context, provider string) ([]Model, error) {
	u := c.baseURL + "/api/model-registry/models/provider/" + url.PathEscape(provider)
	var models []Model
	if err := c.getJSON(ctx, u, &models); err != nil {
		return nil, err
	}
	return models, nil
}

// ListByTaskType returns the catalog's per-taskType listing.
func (c *Client) ListByTaskType(ctx context.Context, taskType string) ([]Model, error) {
	u := c.baseURL + "/api/model-registry/models/task/" + url.PathEscape(taskType)
	var models []Model
	if err := c.getJSON(ctx, u, &models); err != nil {
		return nil, err
	}
	return models, nil
}

func (c *Client) getJSON(ctx context.Context, fullURL string, out interface{}) error {
	found, err := c.getJSONAllowMissing(ctx, fullURL, out)
	if err != nil {
		return err
	}
	if !found {
		return fmt.Errorf("model-registry request failed with status %d: %s", http.StatusNotFound, fullURL)
	}
	return nil
}

// getJSONAllowMissing fetches fullURL, consulting and populating the
// cache keyed by the URL itself. It returns (false, nil) on a 404 and an
// error on any other non-2xx response.
func (c *Client) getJSONAllowMissing(ctx context.Context, fullURL string, out interface{}) (bool, error) {
	if cached, ok := c.cache.get(fullURL); ok {
		if cached == nil {
			return false, nil
		}
		return true, json.Unmarshal(cached, out)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, fullURL, nil)
	if err != nil {
		return false, err
	}
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return false, fmt.Errorf("model-registry request to %s failed: %w", fullURL, err)
	}
	defer func() { _ = resp.Body.Close() }()

	var buf bytes.Buffer
	if _, err := buf.ReadFrom(resp.Body); err != nil {
		return false, fmt.Errorf("failed to read model-registry response body: %w", err)
	}
	body := buf.Bytes()

	if resp.StatusCode == http.StatusNotFound {
		c.cache.set(fullURL, nil)
		return false, nil
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return false, fmt.Errorf("model-registry request failed with status %d: %s", resp.StatusCode, truncateBody(body))
	}

	if err := json.Unmarshal(body, out); err != nil {
		return false, fmt.Errorf("failed to parse model-registry response (status %d): %w", resp.StatusCode, err)
	}
	c.cache.set(fullURL, body)
	return true, nil
}

func encodeFilter(f ListFilter) string {
	q := url.Values{}
	if f.Provider != "" {
		q.Set("provider", f.Provider)
	}
	if f.QualityTier != "" {
		q.Set("qualityTier", string(f.QualityTier))
	}
	if f.TaskType != "" {
		q.Set("taskType", f.TaskType)
	}
	if f.Available != nil {
		q.Set("available", strconv.FormatBool(*f.Available))
	}
	if f.SupportsTools != nil {
		q.Set("supportsTools", strconv.FormatBool(*f.SupportsTools))
	}
	if f.SupportsVision != nil {
		q.Set("supportsVision", strconv.FormatBool(*f.SupportsVision))
	}
	if f.SupportsEmbedding != nil {
		q.Set("supportsEmbedding", strconv.FormatBool(*f.SupportsEmbedding))
	}
	return q.Encode()
}

func truncateBody(body []byte) string {
	const maxLen = 200
	if len(body) > maxLen {
		return string(body[:maxLen]) + "..."
	}
	return string(body)
}
