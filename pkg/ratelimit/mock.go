package ratelimit

import (
	"context"
	"net/http"
)

// MockRateLimiter provides a mock implementation for testing
type MockRateLimiter struct {
	// Function stubs for customizing behavior in tests
	WaitFunc           func(ctx context.Context) error
	HandleResponseFunc func(response *http.Response) error

	// Call tracking for verification in tests
	WaitCalls           int
	HandleResponseCalls []*http.Response
	SlotsAcquired       int
	SlotsReleased       int
}

// NewMockRateLimiter creates a new mock rate limiter that never blocks
func NewMockRateLimiter() *MockRateLimiter {
	return &MockRateLimiter{}
}

func (m *MockRateLimiter) Wait(ctx context.Context) error {
	m.WaitCalls++
	if m.WaitFunc != nil {
		return m.WaitFunc(ctx)
	}
	return nil
}

func (m *MockRateLimiter) HandleResponse(response *http.Response) error {
	m.HandleResponseCalls = append(m.HandleResponseCalls, response)
	if m.HandleResponseFunc != nil {
		return m.HandleResponseFunc(response)
	}
	return nil
}

func (m *MockRateLimiter) AcquireSlot(ctx context.Context) error {
	m.SlotsAcquired++
	return nil
}

func (m *MockRateLimiter) ReleaseSlot() {
	m.SlotsReleased++
}
