// Package retry wraps a crawler.Transport with an injectable retry policy.
package retry

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/JakeFAU/tt2-roster/internal/crawler"
	"github.com/JakeFAU/tt2-roster/internal/metrics"
)

// Transport retries the wrapped transport according to a RetryPolicy.
// The last response is returned once the policy gives up, whatever its
// status; only network failures surface as errors.
type Transport struct {
	next   crawler.Transport
	policy crawler.RetryPolicy
	pauser crawler.Pauser
	logger *zap.Logger
}

// Option customizes a Transport.
type Option func(*Transport)

// WithPauser replaces the backoff sleeper.
func WithPauser(p crawler.Pauser) Option {
	return func(t *Transport) {
		if p != nil {
			t.pauser = p
		}
	}
}

// WithLogger sets the logger used for retry events.
func WithLogger(l *zap.Logger) Option {
	return func(t *Transport) {
		if l != nil {
			t.logger = l
		}
	}
}

// New wraps next. A nil policy falls back to the default exponential policy.
func New(next crawler.Transport, policy crawler.RetryPolicy, opts ...Option) *Transport {
	if policy == nil {
		policy = crawler.NewExponentialRetryPolicy(crawler.RetryConfig{MaxRetries: 5})
	}
	t := &Transport{
		next:   next,
		policy: policy,
		pauser: crawler.TimerPauser{},
		logger: zap.NewNop(),
	}
	for _, opt := range opts {
		opt(t)
	}
	return t
}

// Policy exposes the retry policy in use.
func (t *Transport) Policy() crawler.RetryPolicy {
	return t.policy
}

// Get performs the request, retrying while the policy allows it.
func (t *Transport) Get(ctx context.Context, url string) (crawler.Response, error) {
	for attempt := 0; ; attempt++ {
		resp, err := t.next.Get(ctx, url)
		if !t.policy.ShouldRetry(resp.StatusCode, err, attempt) {
			if err != nil {
				return crawler.Response{URL: url, Attempts: attempt + 1}, &crawler.TransientError{
					Attempts: attempt + 1,
					Err:      err,
				}
			}
			resp.Attempts = attempt + 1
			return resp, nil
		}

		delay := t.policy.Backoff(attempt)
		metrics.ObserveRetry(resp.StatusCode)
		t.logger.Debug("retrying lookup",
			zap.String("url", url),
			zap.Int("attempt", attempt+1),
			zap.Int("status", resp.StatusCode),
			zap.Duration("backoff", delay),
			zap.Error(err),
		)
		if perr := t.pauser.Pause(ctx, delay); perr != nil {
			return crawler.Response{URL: url, Attempts: attempt + 1}, &crawler.TransientError{
				StatusCode: resp.StatusCode,
				Attempts:   attempt + 1,
				Err:        fmt.Errorf("retry backoff: %w", perr),
			}
		}
	}
}
