package crawler

import (
	"context"
	"errors"
	"math"
	"math/rand/v2"
	"time"
)

// DefaultRetryStatuses are the HTTP statuses retried by default.
var DefaultRetryStatuses = []int{500, 502, 503, 504, 429}

// RetryConfig tunes ExponentialRetryPolicy.
type RetryConfig struct {
	MaxRetries    int
	BackoffFactor time.Duration
	MaxBackoff    time.Duration
	Statuses      []int
}

// ExponentialRetryPolicy implements RetryPolicy with jittered backoff.
type ExponentialRetryPolicy struct {
	maxRetries int
	factor     time.Duration
	maxDelay   time.Duration
	statuses   map[int]struct{}
	rand       func() float64
}

// NewExponentialRetryPolicy builds a policy; zero fields fall back to the defaults
// (5 retries, 1.5s factor, 2m cap, DefaultRetryStatuses).
func NewExponentialRetryPolicy(cfg RetryConfig) *ExponentialRetryPolicy {
	if cfg.MaxRetries < 0 {
		cfg.MaxRetries = 0
	}
	if cfg.BackoffFactor <= 0 {
		cfg.BackoffFactor = 1500 * time.Millisecond
	}
	if cfg.MaxBackoff <= 0 {
		cfg.MaxBackoff = 2 * time.Minute
	}
	if cfg.Statuses == nil {
		cfg.Statuses = DefaultRetryStatuses
	}
	statuses := make(map[int]struct{}, len(cfg.Statuses))
	for _, s := range cfg.Statuses {
		statuses[s] = struct{}{}
	}
	return &ExponentialRetryPolicy{
		maxRetries: cfg.MaxRetries,
		factor:     cfg.BackoffFactor,
		maxDelay:   cfg.MaxBackoff,
		statuses:   statuses,
		rand:       rand.Float64,
	}
}

// WithRand swaps the jitter source; used by tests for determinism.
func (p *ExponentialRetryPolicy) WithRand(fn func() float64) *ExponentialRetryPolicy {
	if fn != nil {
		p.rand = fn
	}
	return p
}

// RetriesStatus reports whether status is in the retryable set.
func (p *ExponentialRetryPolicy) RetriesStatus(status int) bool {
	_, ok := p.statuses[status]
	return ok
}

// ShouldRetry decides whether the attempt is retried.
func (p *ExponentialRetryPolicy) ShouldRetry(status int, err error, attempt int) bool {
	if attempt >= p.maxRetries {
		return false
	}
	if err != nil {
		return !errors.Is(err, context.Canceled) && !errors.Is(err, context.DeadlineExceeded)
	}
	return p.RetriesStatus(status)
}

// Backoff returns factor*2^attempt capped at the max, with equal jitter:
// half of the delay is fixed and the other half is random.
func (p *ExponentialRetryPolicy) Backoff(attempt int) time.Duration {
	delay := float64(p.factor) * math.Pow(2, float64(attempt))
	if delay > float64(p.maxDelay) {
		delay = float64(p.maxDelay)
	}
	half := delay / 2
	return time.Duration(half + half*p.rand())
}
