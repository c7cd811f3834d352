// Package dispatcher fans IDs out to a fixed worker pool and funnels the
// results through a single collector.
package dispatcher

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/JakeFAU/tt2-roster/internal/crawler"
	"github.com/JakeFAU/tt2-roster/internal/queue/memory"
	"github.com/JakeFAU/tt2-roster/internal/worker"
)

// Defaults for Config.
const (
	DefaultWorkers    = 6
	DefaultQueueDepth = 64
)

// Config sizes the pool.
type Config struct {
	Workers    int
	QueueDepth int
}

// Limiter gates each dispatch.
type Limiter interface {
	Wait(ctx context.Context) (time.Duration, error)
}

// ResultSink receives every item result on the collector goroutine. It is
// never called concurrently. A returned error cancels the run.
type ResultSink func(worker.ItemResult) error

// Summary counts what a run did.
type Summary struct {
	Requested  int
	Dispatched int
	Completed  int
	Failed     int
	Canceled   bool
	Elapsed    time.Duration
}

// Coordinator runs bounded-concurrency work over a set of IDs.
type Coordinator struct {
	cfg      Config
	limiter  Limiter
	logger   *zap.Logger
	newQueue func(depth int) crawler.Queue
}

// New creates a Coordinator. A nil limiter dispatches without pauses.
func New(cfg Config, limiter Limiter, logger *zap.Logger) *Coordinator {
	if cfg.Workers <= 0 {
		cfg.Workers = DefaultWorkers
	}
	if cfg.QueueDepth <= 0 {
		cfg.QueueDepth = DefaultQueueDepth
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Coordinator{
		cfg:     cfg,
		limiter: limiter,
		logger:  logger,
		newQueue: func(depth int) crawler.Queue {
			return memory.NewQueue(depth)
		},
	}
}

// Run dispatches every ID exactly once and blocks until all dispatched
// items have produced a result. Handler failures are reported to sink as
// results and never stop the run. If sink fails, dispatch stops and the sink
// error is returned. If ctx ends, dispatch stops, in-flight items finish and
// are still passed to sink, and the context error is returned.
func (c *Coordinator) Run(ctx context.Context, ids []uint64, handler worker.Handler, sink ResultSink) (Summary, error) {
	start := time.Now()
	summary := Summary{Requested: len(ids)}
	if len(ids) == 0 {
		return summary, nil
	}

	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	queue := c.newQueue(c.cfg.QueueDepth)
	results := make(chan worker.ItemResult, c.cfg.Workers)
	g, gctx := errgroup.WithContext(runCtx)

	var dispatched int
	g.Go(func() error {
		defer queue.Close()
		for _, id := range ids {
			if c.limiter != nil {
				if _, err := c.limiter.Wait(gctx); err != nil {
					return nil
				}
			}
			if err := queue.Enqueue(gctx, id); err != nil {
				return nil
			}
			dispatched++
		}
		return nil
	})

	var pool errgroup.Group
	for i := 0; i < c.cfg.Workers; i++ {
		w := worker.New(i, queue, handler, results, c.logger.Named("worker"))
		pool.Go(func() error {
			w.Run(gctx)
			return nil
		})
	}
	go func() {
		_ = pool.Wait()
		close(results)
	}()

	var completed, failed int
	g.Go(func() error {
		var sinkErr error
		for res := range results {
			completed++
			if res.Err != nil {
				failed++
			}
			if sinkErr != nil {
				continue
			}
			if err := sink(res); err != nil {
				sinkErr = fmt.Errorf("result sink: %w", err)
				c.logger.Error("result sink failed; stopping dispatch", zap.Uint64("id", res.ID), zap.Error(err))
				cancel()
			}
		}
		return sinkErr
	})

	err := g.Wait()
	summary.Dispatched = dispatched
	summary.Completed = completed
	summary.Failed = failed
	summary.Elapsed = time.Since(start)
	if err != nil {
		return summary, err
	}
	if ctxErr := ctx.Err(); ctxErr != nil {
		summary.Canceled = true
		return summary, fmt.Errorf("dispatch canceled: %w", ctxErr)
	}
	if summary.Completed != summary.Requested {
		return summary, errors.New("dispatch ended before every id completed")
	}
	c.logger.Debug("dispatch finished",
		zap.Int("ids", summary.Requested),
		zap.Int("failed", summary.Failed),
		zap.Duration("elapsed", summary.Elapsed),
	)
	return summary, nil
}
