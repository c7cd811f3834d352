// Package worker drains IDs from the queue and runs the fetch handler on each,
// turning handler errors and panics into per-item results.
package worker

import (
	"context"
	"errors"
	"fmt"
	"runtime/debug"
	"time"

	"go.uber.org/zap"

	"github.com/JakeFAU/tt2-roster/internal/crawler"
	"github.com/JakeFAU/tt2-roster/internal/metrics"
)

// Handler processes one ID.
type Handler interface {
	Handle(ctx context.Context, id uint64) (crawler.Outcome, error)
}

// HandlerFunc adapts a function to Handler.
type HandlerFunc func(ctx context.Context, id uint64) (crawler.Outcome, error)

// Handle calls f.
func (f HandlerFunc) Handle(ctx context.Context, id uint64) (crawler.Outcome, error) {
	return f(ctx, id)
}

// FetchHandler runs a crawler.Fetcher as a Handler.
func FetchHandler(f crawler.Fetcher) Handler {
	return HandlerFunc(func(ctx context.Context, id uint64) (crawler.Outcome, error) {
		return f.Fetch(ctx, id), nil
	})
}

// ItemResult is the result of handling one ID. Err is set when the handler
// failed or panicked; Outcome is then meaningless.
type ItemResult struct {
	ID       uint64
	Outcome  crawler.Outcome
	Err      error
	Duration time.Duration
}

// Worker consumes queue items and executes the handler.
type Worker struct {
	index   int
	queue   crawler.Queue
	handler Handler
	results chan<- ItemResult
	logger  *zap.Logger
}

// New constructs a Worker that sends every result on results.
func New(index int, queue crawler.Queue, handler Handler, results chan<- ItemResult, logger *zap.Logger) *Worker {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Worker{
		index:   index,
		queue:   queue,
		handler: handler,
		results: results,
		logger:  logger.With(zap.Int("worker", index)),
	}
}

// Run blocks, consuming IDs until the queue is closed and drained or the
// context finishes. Every dequeued ID yields exactly one result.
func (w *Worker) Run(ctx context.Context) {
	for {
		id, err := w.queue.Dequeue(ctx)
		if err != nil {
			if errors.Is(err, crawler.ErrQueueClosed) || ctx.Err() != nil {
				return
			}
			w.logger.Error("queue dequeue failed", zap.Error(err))
			return
		}
		w.logger.Debug("dequeued id", zap.Uint64("id", id))
		w.results <- w.process(ctx, id)
	}
}

func (w *Worker) process(ctx context.Context, id uint64) (res ItemResult) {
	metrics.IncActiveWorkers()
	start := time.Now()
	res.ID = id
	defer func() {
		metrics.DecActiveWorkers()
		res.Duration = time.Since(start)
		if r := recover(); r != nil {
			res.Err = fmt.Errorf("handler panic for id %d: %v", id, r)
			w.logger.Error("handler panicked",
				zap.Uint64("id", id),
				zap.Any("panic", r),
				zap.ByteString("stack", debug.Stack()),
			)
		}
	}()

	if w.handler == nil {
		res.Err = errors.New("no handler configured")
		return res
	}
	out, err := w.handler.Handle(ctx, id)
	if err != nil {
		res.Err = fmt.Errorf("handle id %d: %w", id, err)
		w.logger.Warn("handler failed", zap.Uint64("id", id), zap.Error(err))
		return res
	}
	res.Outcome = out
	return res
}
