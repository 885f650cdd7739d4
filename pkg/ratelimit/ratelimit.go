package ratelimit

import (
	"context"
	"fmt"
	"net/http"
	"strconv"
	"sync"
	"time"
)

// RateLimiter defines the interface for rate limiting operations
// This enables dependency injection and testing with mock implementations
type RateLimiter interface {
	// Wait blocks until it's safe to make a request based on rate limiting rules
	Wait(ctx context.Context) error

	// HandleResponse processes response headers to adjust rate limiting behavior
	HandleResponse(response *http.Response) error

	// AcquireSlot attempts to acquire a concurrency slot for parallel requests
	AcquireSlot(ctx context.Context) error

	// ReleaseSlot releases a concurrency slot
	ReleaseSlot()
}

// Options configures an APIRateLimiter.
type Options struct {
	// Delay is the minimum spacing between consecutive requests.
	Delay time.Duration

	// MaxConcurrent bounds the number of in-flight requests.
	MaxConcurrent int
}

// APIRateLimiter implements the RateLimiter interface for the Forge services.
// The services answer HTTP 429 with a Retry-After header; the limiter holds
// all requests back until that moment has passed.
type APIRateLimiter struct {
	opts Options

	lastRequest time.Time
	backoffOver time.Time
	mutex       sync.Mutex

	semaphore chan struct{}
}

// NewRateLimiter creates a new rate limiter with the provided options
func NewRateLimiter(opts Options) RateLimiter {
	if opts.MaxConcurrent < 1 {
		opts.MaxConcurrent = 1
	}

	return &APIRateLimiter{
		opts:      opts,
		semaphore: make(chan struct{}, opts.MaxConcurrent),
	}
}

// Wait blocks until it's safe to make a request
func (r *APIRateLimiter) Wait(ctx context.Context) error {
	r.mutex.Lock()
	defer r.mutex.Unlock()

	// Helper function to wait while releasing the mutex
	waitWithUnlock := func(waitTime time.Duration) error {
		r.mutex.Unlock()
		defer r.mutex.Lock()

		select {
		case <-time.After(waitTime):
			return nil
		case <-ctx.Done():
			return ctx.Err()
		}
	}

	// Honor a pending Retry-After period
	if time.Now().Before(r.backoffOver) {
		if err := waitWithUnlock(time.Until(r.backoffOver)); err != nil {
			return err
		}
	}

	// Apply basic request spacing
	sinceLast := time.Since(r.lastRequest)
	if sinceLast < r.opts.Delay {
		if err := waitWithUnlock(r.opts.Delay - sinceLast); err != nil {
			return err
		}
	}

	r.lastRequest = time.Now()
	return nil
}

// HandleResponse processes response headers to adjust rate limiting behavior
func (r *APIRateLimiter) HandleResponse(response *http.Response) error {
	if response == nil {
		return nil
	}

	if response.StatusCode != http.StatusTooManyRequests {
		return nil
	}

	r.mutex.Lock()
	defer r.mutex.Unlock()

	retryAfter := ParseRetryAfter(response)
	r.backoffOver = time.Now().Add(retryAfter)

	return &RateLimitError{
		StatusCode: response.StatusCode,
		RetryAfter: retryAfter,
		Message:    "rate limit exceeded, backing off",
	}
}

// AcquireSlot attempts to acquire a concurrency slot
func (r *APIRateLimiter) AcquireSlot(ctx context.Context) error {
	select {
	case r.semaphore <- struct{}{}:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// ReleaseSlot releases a concurrency slot
func (r *APIRateLimiter) ReleaseSlot() {
	select {
	case <-r.semaphore:
	default:
		// No slot to release (shouldn't happen in normal operation)
	}
}

// ParseRetryAfter reads the server-specified retry delay from a 429 response.
// A missing or malformed header falls back to one second.
func ParseRetryAfter(response *http.Response) time.Duration {
	if retryAfterStr := response.Header.Get("Retry-After"); retryAfterStr != "" {
		if seconds, err := strconv.Atoi(retryAfterStr); err == nil && seconds >= 0 {
			return time.Duration(seconds) * time.Second
		}
	}
	return time.Second
}

// RateLimitError represents a rate limiting error
type RateLimitError struct {
	StatusCode int
	RetryAfter time.Duration
	Message    string
}

func (e *RateLimitError) Error() string {
	return fmt.Sprintf("rate limit error (HTTP %d): %s (retry after %v)",
		e.StatusCode, e.Message, e.RetryAfter)
}

// IsRateLimitError checks if an error is a rate limit error
func IsRateLimitError(err error) bool {
	_, ok := err.(*RateLimitError)
	return ok
}
