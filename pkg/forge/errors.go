package forge

import (
	"errors"
	"fmt"
	"time"
)

// ClientError represents errors that occur during BIM360 client operations
type ClientError struct {
	Type    string // Type of error (authentication_error, api_error, etc.)
	Message string // Human-readable error message
	Err     error  // Underlying error
	Context string // Additional context (container id, issue id, operation)
}

func (e *ClientError) Error() string {
	if e.Context != "" {
		return fmt.Sprintf("BIM360 client error (%s) for %s: %s", e.Type, e.Context, e.Message)
	}
	return fmt.Sprintf("BIM360 client error (%s): %s", e.Type, e.Message)
}

func (e *ClientError) Unwrap() error {
	return e.Err
}

// RateLimitError is returned when the service responds with HTTP 429. It
// carries the server-specified Retry-After duration so callers can sleep
// exactly as long as the service asks for.
type RateLimitError struct {
	RetryAfter time.Duration
	Context    string
}

func (e *RateLimitError) Error() string {
	return fmt.Sprintf("BIM360 rate limit exceeded for %s (retry after %v)", e.Context, e.RetryAfter)
}

// IsAuthenticationError checks if the error is related to authentication
func IsAuthenticationError(err error) bool {
	var clientErr *ClientError
	if errors.As(err, &clientErr) {
		return clientErr.Type == "authentication_error"
	}
	return false
}

// IsNotFoundError checks if the error is related to a resource not being found
func IsNotFoundError(err error) bool {
	var clientErr *ClientError
	if errors.As(err, &clientErr) {
		return clientErr.Type == "not_found"
	}
	return false
}

// IsRateLimitError checks if the error is a 429 response, and if so returns
// the server-specified retry delay.
func IsRateLimitError(err error) (time.Duration, bool) {
	var rateErr *RateLimitError
	if errors.As(err, &rateErr) {
		return rateErr.RetryAfter, true
	}
	return 0, false
}
