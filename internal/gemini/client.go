// Package gemini provides the vision and embedding adapters backed by the
// Gemini API.
package gemini

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"golang.org/x/time/rate"
	"google.golang.org/genai"

	"thirdeye-service/internal/config"
)

const (
	DefaultBaseURL        = "https://generativelanguage.googleapis.com"
	DefaultAPIVersion     = "v1beta"
	DefaultVisionModel    = "gemini-2.5-flash"
	DefaultEmbeddingModel = "text-embedding-004"
	DefaultTimeout        = 60 * time.Second
)

// Client wraps the SDK client. Every request waits on the same limiter so
// vision and embedding calls share one quota.
type Client struct {
	genai   *genai.Client
	limiter *rate.Limiter
}

func NewClient(ctx context.Context, cfg config.GeminiConfig) (*Client, error) {
	if cfg.BaseURL == "" {
		cfg.BaseURL = DefaultBaseURL
	}
	if cfg.Timeout == 0 {
		cfg.Timeout = DefaultTimeout
	}

	gc, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:     cfg.APIKey,
		Backend:    genai.BackendGeminiAPI,
		HTTPClient: &http.Client{Timeout: cfg.Timeout},
		HTTPOptions: genai.HTTPOptions{
			BaseURL:    strings.TrimRight(cfg.BaseURL, "/") + "/",
			APIVersion: DefaultAPIVersion,
		},
	})
	if err != nil {
		return nil, fmt.Errorf("create gemini client: %w", err)
	}

	limit := rate.Inf
	if cfg.RequestsPerSecond > 0 {
		limit = rate.Limit(cfg.RequestsPerSecond)
	}
	burst := cfg.Burst
	if burst <= 0 {
		burst = 1
	}
	return &Client{genai: gc, limiter: rate.NewLimiter(limit, burst)}, nil
}

type APIError struct {
	StatusCode int
	Body       string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("gemini error (status %d): %s", e.StatusCode, e.Body)
}

func (c *Client) wait(ctx context.Context) error {
	if err := c.limiter.Wait(ctx); err != nil {
		return fmt.Errorf("rate limit: %w", err)
	}
	return nil
}

// apiError maps SDK errors carrying an HTTP status onto APIError.
func apiError(err error) error {
	var sdkErr genai.APIError
	if errors.As(err, &sdkErr) {
		return &APIError{StatusCode: sdkErr.Code, Body: sdkErr.Message}
	}
	return err
}
