// Package ratelimit spaces out dispatches with a randomized stagger and an
// optional token bucket.
package ratelimit

import (
	"context"
	"fmt"
	"time"

	"golang.org/x/time/rate"

	"github.com/JakeFAU/tt2-roster/internal/crawler"
	"github.com/JakeFAU/tt2-roster/internal/metrics"
)

// Config holds rate limiter configuration.
type Config struct {
	// StaggerMin and StaggerMax bound the uniform pause before each dispatch.
	StaggerMin time.Duration
	StaggerMax time.Duration
	// RPS caps dispatches per second; zero disables the bucket.
	RPS   float64
	Burst int
}

// Limiter gates dispatches.
type Limiter struct {
	jitter crawler.Jitter
	bucket *rate.Limiter
	pauser crawler.Pauser
}

// New creates a Limiter.
func New(cfg Config) *Limiter {
	r := rate.Limit(cfg.RPS)
	if cfg.RPS <= 0 {
		r = rate.Inf
	}
	burst := cfg.Burst
	if burst <= 0 {
		burst = 1
	}
	return &Limiter{
		jitter: crawler.Jitter{Min: cfg.StaggerMin, Max: cfg.StaggerMax},
		bucket: rate.NewLimiter(r, burst),
		pauser: crawler.TimerPauser{},
	}
}

// WithRand fixes the stagger source; used by tests.
func (l *Limiter) WithRand(fn func() float64) *Limiter {
	l.jitter.Rand = fn
	return l
}

// WithPauser replaces the stagger sleeper; used by tests.
func (l *Limiter) WithPauser(p crawler.Pauser) *Limiter {
	if p != nil {
		l.pauser = p
	}
	return l
}

// Wait blocks until the next dispatch may proceed and reports how long it waited.
func (l *Limiter) Wait(ctx context.Context) (time.Duration, error) {
	start := time.Now()
	if err := l.bucket.Wait(ctx); err != nil {
		return time.Since(start), fmt.Errorf("rate limit wait: %w", err)
	}
	if err := l.pauser.Pause(ctx, l.jitter.Next()); err != nil {
		return time.Since(start), fmt.Errorf("stagger wait: %w", err)
	}
	waited := time.Since(start)
	metrics.ObserveDispatchDelay(waited)
	return waited, nil
}
