package crawler

import (
	"context"
	"fmt"
	"math/rand/v2"
	"time"
)

// TimerPauser implements Pauser with a timer that yields to context cancellation.
type TimerPauser struct{}

// Pause blocks for delay or until ctx ends, returning the context error in the latter case.
func (TimerPauser) Pause(ctx context.Context, delay time.Duration) error {
	if delay <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(delay)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return fmt.Errorf("pause interrupted: %w", ctx.Err())
	case <-timer.C:
		return nil
	}
}

// Jitter draws delays uniformly from [Min, Max].
type Jitter struct {
	Min  time.Duration
	Max  time.Duration
	Rand func() float64
}

// Next returns the next delay. Max below Min collapses to Min.
func (j Jitter) Next() time.Duration {
	if j.Max <= j.Min {
		return j.Min
	}
	r := j.Rand
	if r == nil {
		r = rand.Float64
	}
	return j.Min + time.Duration(r()*float64(j.Max-j.Min))
}
