package ratelimit

import (
	"context"
	"io"

	"golang.org/x/time/rate"

	"github.com/omnimart/marketplace-indexer/internal/adapter"
)

// DefaultBurst is the burst capacity used when none is configured
const DefaultBurst = 5

// Config bounds the outbound request rate against one RPC provider
type Config struct {
	RequestsPerSecond float64
	Burst             int
}

// Limiter paces calls against a single RPC provider. Waiting respects the
// caller's context, so a cancelled fetch never blocks on a token.
type Limiter struct {
	limiter *rate.Limiter
}

// NewLimiter creates a provider rate limiter
func NewLimiter(cfg Config) *Limiter {
	if cfg.Burst <= 0 {
		cfg.Burst = DefaultBurst
	}
	return &Limiter{
		limiter: rate.NewLimiter(rate.Limit(cfg.RequestsPerSecond), cfg.Burst),
	}
}

// Wait blocks until a request token is available or the context ends
func (l *Limiter) Wait(ctx context.Context) error {
	return l.limiter.Wait(ctx)
}

// httpClient decorates an HTTP client with request pacing
type httpClient struct {
	inner   adapter.HTTPClient
	limiter *Limiter
}

// NewHTTPClient wraps an HTTP client so every request first acquires a
// token from the limiter
func NewHTTPClient(inner adapter.HTTPClient, limiter *Limiter) adapter.HTTPClient {
	return &httpClient{inner: inner, limiter: limiter}
}

// Post performs a rate-limited POST request
func (c *httpClient) Post(ctx context.Context, url string, contentType string, body io.Reader) ([]byte, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return nil, err
	}
	return c.inner.Post(ctx, url, contentType, body)
}
