package ratelimit

import (
	"net/http"
)

// Transport wraps an HTTP transport with rate limiting and bearer token
// authentication. The export path uses two of these over one shared limiter:
// a user-context transport (three-legged token) and an app-context transport
// (two-legged token).
type Transport struct {
	// Token is the bearer token added to every request. Empty means the
	// caller sets its own Authorization header.
	Token string

	// RateLimiter paces requests; shared between transports to respect the
	// per-app quota.
	RateLimiter RateLimiter

	// Base transport for actual HTTP operations
	Base http.RoundTripper
}

// NewTransport creates a rate-limited transport with bearer token auth
func NewTransport(token string, rateLimiter RateLimiter) *Transport {
	return &Transport{
		Token:       token,
		RateLimiter: rateLimiter,
		Base:        http.DefaultTransport,
	}
}

// RoundTrip implements http.RoundTripper with auth and rate limiting
func (t *Transport) RoundTrip(req *http.Request) (*http.Response, error) {
	ctx := req.Context()

	if err := t.RateLimiter.AcquireSlot(ctx); err != nil {
		return nil, err
	}
	defer t.RateLimiter.ReleaseSlot()

	if err := t.RateLimiter.Wait(ctx); err != nil {
		return nil, err
	}

	if t.Token != "" {
		req.Header.Set("Authorization", "Bearer "+t.Token)
	}

	base := t.Base
	if base == nil {
		base = http.DefaultTransport
	}
	response, err := base.RoundTrip(req)

	// Feed the response back so a 429 Retry-After pauses subsequent requests.
	// The response itself is still returned; the caller decides whether to
	// retry.
	if response != nil {
		_ = t.RateLimiter.HandleResponse(response)
	}

	return response, err
}
