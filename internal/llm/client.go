// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

// Package llm talks to an OpenAI-compatible chat completion server such as
// LM Studio. Failures are classified into the shared error kinds so callers
// never inspect HTTP details.
package llm

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	gocache "github.com/patrickmn/go-cache"
	"github.com/sashabaranov/go-openai"
	"golang.org/x/time/rate"

	"github.com/pdiddy/claim-engine/pkg/types"
)

// Prompt is one system + user message pair.
type Prompt struct {
	System string
	User   string
}

// Client is the model collaborator used by the extraction orchestrator.
// Tests substitute a fake.
type Client interface {
	// Complete sends prompt and returns the raw assistant text.
	Complete(ctx context.Context, prompt Prompt) (string, error)

	// Ping checks that the server answers its model listing endpoint.
	Ping(ctx context.Context) error
}

// Observer receives the outcome ("ok", "unavailable", "malformed",
// "canceled") and duration of every completion request.
type Observer func(outcome string, d time.Duration)

// Option configures an OpenAIClient.
type Option func(*OpenAIClient)

// WithHTTPClient replaces the HTTP client used for requests.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *OpenAIClient) { c.httpClient = hc }
}

// WithObserver registers a completion observer.
func WithObserver(o Observer) Option {
	return func(c *OpenAIClient) { c.observe = o }
}

const healthKey = "ping"

// OpenAIClient implements Client with go-openai.
type OpenAIClient struct {
	client     *openai.Client
	cfg        types.ModelConfig
	httpClient *http.Client
	limiter    *rate.Limiter
	health     *gocache.Cache
	observe    Observer
}

// NewClient builds a client for cfg. BaseURL and Model are required.
func NewClient(cfg types.ModelConfig, opts ...Option) (*OpenAIClient, error) {
	if strings.TrimSpace(cfg.BaseURL) == "" {
		return nil, fmt.Errorf("model base_url is required")
	}
	if strings.TrimSpace(cfg.Model) == "" {
		return nil, fmt.Errorf("model name is required")
	}

	c := &OpenAIClient{cfg: cfg}
	for _, opt := range opts {
		opt(c)
	}

	// Local servers ignore the key but go-openai always sends the header.
	key := cfg.APIKey
	if key == "" {
		key = "lm-studio"
	}
	clientConfig := openai.DefaultConfig(key)
	clientConfig.BaseURL = strings.TrimRight(cfg.BaseURL, "/")
	if c.httpClient != nil {
		clientConfig.HTTPClient = c.httpClient
	}
	c.client = openai.NewClientWithConfig(clientConfig)

	if cfg.RequestsPerSecond > 0 {
		c.limiter = rate.NewLimiter(rate.Limit(cfg.RequestsPerSecond), 1)
	}
	if cfg.HealthCacheTTL > 0 {
		c.health = gocache.New(cfg.HealthCacheTTL, 2*cfg.HealthCacheTTL)
	}
	return c, nil
}

// Complete sends one chat completion request. It never retries.
func (c *OpenAIClient) Complete(ctx context.Context, prompt Prompt) (string, error) {
	start := time.Now()
	text, err := c.complete(ctx, prompt)
	if c.observe != nil {
		c.observe(outcome(err), time.Since(start))
	}
	return text, err
}

func (c *OpenAIClient) complete(ctx context.Context, prompt Prompt) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", classify(err)
	}
	if c.limiter != nil {
		if err := c.limiter.Wait(ctx); err != nil {
			return "", classify(fmt.Errorf("waiting for rate limiter: %w", err))
		}
	}

	if c.cfg.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.cfg.Timeout)
		defer cancel()
	}

	req := openai.ChatCompletionRequest{
		Model: c.cfg.Model,
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleSystem, Content: prompt.System},
			{Role: openai.ChatMessageRoleUser, Content: prompt.User},
		},
		Temperature: float32(c.cfg.Temperature),
		MaxTokens:   c.cfg.MaxTokens,
	}
	if c.cfg.JSONMode {
		req.ResponseFormat = &openai.ChatCompletionResponseFormat{
			Type: openai.ChatCompletionResponseFormatTypeJSONObject,
		}
	}

	resp, err := c.client.CreateChatCompletion(ctx, req)
	if err != nil {
		return "", classify(err)
	}
	if len(resp.Choices) == 0 {
		return "", fmt.Errorf("%w: model returned no choices", types.ErrMalformedExtraction)
	}
	content := resp.Choices[0].Message.Content
	if strings.TrimSpace(content) == "" {
		return "", fmt.Errorf("%w: model returned empty content", types.ErrMalformedExtraction)
	}
	return content, nil
}

// Ping lists models on the server.
func (c *OpenAIClient) Ping(ctx context.Context) error {
	if _, err := c.client.ListModels(ctx); err != nil {
		return classify(err)
	}
	return nil
}

// Available reports whether Ping succeeds, reusing a recent result for up
// to the configured health cache TTL.
func (c *OpenAIClient) Available(ctx context.Context) bool {
	if c.health != nil {
		if v, ok := c.health.Get(healthKey); ok {
			return v.(bool)
		}
	}
	ok := c.Ping(ctx) == nil
	if c.health != nil && ctx.Err() == nil {
		c.health.SetDefault(healthKey, ok)
	}
	return ok
}

// classify maps a transport or API error onto the shared kinds. Caller
// cancellation passes through untouched; every other failure, including
// timeouts and non-2xx statuses, means the model is unavailable.
func classify(err error) error {
	if errors.Is(err, context.Canceled) {
		return fmt.Errorf("model request: %w", err)
	}

	var apiErr *openai.APIError
	if errors.As(err, &apiErr) {
		return fmt.Errorf("%w: status %d: %w", types.ErrModelUnavailable, apiErr.HTTPStatusCode, err)
	}
	var reqErr *openai.RequestError
	if errors.As(err, &reqErr) {
		return fmt.Errorf("%w: status %d: %w", types.ErrModelUnavailable, reqErr.HTTPStatusCode, err)
	}
	return fmt.Errorf("%w: %w", types.ErrModelUnavailable, err)
}

func outcome(err error) string {
	switch {
	case err == nil:
		return "ok"
	case errors.Is(err, context.Canceled):
		return "canceled"
	case errors.Is(err, types.ErrMalformedExtraction):
		return "malformed"
	default:
		return "unavailable"
	}
}
