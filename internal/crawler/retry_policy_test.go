package crawler

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestExponentialRetryPolicyShouldRetry(t *testing.T) {
	t.Parallel()

	p := NewExponentialRetryPolicy(RetryConfig{MaxRetries: 2})

	assert.True(t, p.ShouldRetry(503, nil, 0))
	assert.True(t, p.ShouldRetry(429, nil, 1))
	assert.False(t, p.ShouldRetry(503, nil, 2), "attempt budget exhausted")
	assert.False(t, p.ShouldRetry(404, nil, 0), "404 is not retryable")
	assert.False(t, p.ShouldRetry(200, nil, 0))
	assert.True(t, p.ShouldRetry(0, errors.New("connection reset"), 0))
	assert.False(t, p.ShouldRetry(0, fmt.Errorf("get: %w", context.Canceled), 0))
}

func TestExponentialRetryPolicyCustomStatuses(t *testing.T) {
	t.Parallel()

	p := NewExponentialRetryPolicy(RetryConfig{MaxRetries: 3, Statuses: []int{502}})
	assert.True(t, p.RetriesStatus(502))
	assert.False(t, p.RetriesStatus(429))
	assert.False(t, p.ShouldRetry(429, nil, 0))
}

func TestExponentialRetryPolicyBackoff(t *testing.T) {
	t.Parallel()

	p := NewExponentialRetryPolicy(RetryConfig{
		MaxRetries:    5,
		BackoffFactor: time.Second,
		MaxBackoff:    5 * time.Second,
	}).WithRand(func() float64 { return 1 })

	require.Equal(t, time.Second, p.Backoff(0))
	require.Equal(t, 2*time.Second, p.Backoff(1))
	require.Equal(t, 4*time.Second, p.Backoff(2))
	require.Equal(t, 5*time.Second, p.Backoff(3), "capped at max backoff")

	p.WithRand(func() float64 { return 0 })
	require.Equal(t, 500*time.Millisecond, p.Backoff(0), "equal jitter keeps half the delay")
}
