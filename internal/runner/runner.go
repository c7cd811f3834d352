// Package runner orchestrates roster runs: compaction, gap filling and
// re-checking of placeholder names, each ending in an atomic rewrite of the
// store followed by best-effort mirror, snapshot and report side effects.
package runner

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/JakeFAU/tt2-roster/internal/clock/system"
	"github.com/JakeFAU/tt2-roster/internal/crawler"
	"github.com/JakeFAU/tt2-roster/internal/dispatcher"
	"github.com/JakeFAU/tt2-roster/internal/hash/sha256"
	"github.com/JakeFAU/tt2-roster/internal/id/uuid"
	"github.com/JakeFAU/tt2-roster/internal/metrics"
	"github.com/JakeFAU/tt2-roster/internal/table"
	"github.com/JakeFAU/tt2-roster/internal/worker"
)

// RecordStore is the persistent roster.
type RecordStore interface {
	Load(ctx context.Context) (table.Table, error)
	Rewrite(ctx context.Context, t table.Table) error
	Append(ctx context.Context, records []crawler.Record) error
}

// Locker is implemented by stores that guard against concurrent runs.
type Locker interface {
	Lock() error
	Unlock() error
}

// Coordinator drives the fetch handler over a work set.
type Coordinator interface {
	Run(ctx context.Context, ids []uint64, handler worker.Handler, sink dispatcher.ResultSink) (dispatcher.Summary, error)
}

// Defaults for Config.
const (
	DefaultCheckpointEvery  = 50
	DefaultFillPasses       = 1
	DefaultRecheckMaxPasses = 5
	DefaultRecheckInterval  = 10 * time.Second
)

// Config tunes runs.
type Config struct {
	PlaceholderPrefix string
	CheckpointEvery   int
	FillPasses        int
	RecheckMaxPasses  int
	RecheckInterval   time.Duration
	SnapshotPrefix    string
	PublishTopic      string
}

// Runner executes runs against one store.
type Runner struct {
	cfg       Config
	store     RecordStore
	fetcher   crawler.Fetcher
	coord     Coordinator
	mirror    crawler.Mirror
	blobs     crawler.BlobStore
	publisher crawler.Publisher
	pauser    crawler.Pauser
	logger    *zap.Logger
	hasher    *sha256.Hasher
	newID     func() string
	now       func() time.Time
}

// Option customizes a Runner.
type Option func(*Runner)

// WithMirror replicates changed records after each successful write.
func WithMirror(m crawler.Mirror) Option {
	return func(r *Runner) { r.mirror = m }
}

// WithSnapshots uploads the compacted file after each successful write.
func WithSnapshots(b crawler.BlobStore) Option {
	return func(r *Runner) { r.blobs = b }
}

// WithPublisher publishes the run report when a run ends.
func WithPublisher(p crawler.Publisher) Option {
	return func(r *Runner) { r.publisher = p }
}

// WithPauser replaces the sleeper used between recheck passes.
func WithPauser(p crawler.Pauser) Option {
	return func(r *Runner) {
		if p != nil {
			r.pauser = p
		}
	}
}

// WithClock replaces the time source used in reports.
func WithClock(now func() time.Time) Option {
	return func(r *Runner) {
		if now != nil {
			r.now = now
		}
	}
}

// New builds a Runner. fetcher and coord may be nil for compaction-only use.
func New(cfg Config, store RecordStore, fetcher crawler.Fetcher, coord Coordinator, logger *zap.Logger, opts ...Option) (*Runner, error) {
	if store == nil {
		return nil, errors.New("runner store is required")
	}
	if cfg.PlaceholderPrefix == "" {
		cfg.PlaceholderPrefix = crawler.DefaultPlaceholderPrefix
	}
	if cfg.CheckpointEvery <= 0 {
		cfg.CheckpointEvery = DefaultCheckpointEvery
	}
	if cfg.FillPasses <= 0 {
		cfg.FillPasses = DefaultFillPasses
	}
	if cfg.RecheckMaxPasses <= 0 {
		cfg.RecheckMaxPasses = DefaultRecheckMaxPasses
	}
	if cfg.RecheckInterval < 0 {
		cfg.RecheckInterval = 0
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	r := &Runner{
		cfg:     cfg,
		store:   store,
		fetcher: fetcher,
		coord:   coord,
		pauser:  crawler.TimerPauser{},
		logger:  logger,
		hasher:  sha256.New(),
		newID:   uuid.New().MustID,
		now:     system.New().Now,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r, nil
}

// lock takes the store lock when the store supports one.
func (r *Runner) lock() (func(), error) {
	l, ok := r.store.(Locker)
	if !ok {
		return func() {}, nil
	}
	if err := l.Lock(); err != nil {
		return nil, fmt.Errorf("lock store: %w", err)
	}
	return func() {
		if err := l.Unlock(); err != nil {
			r.logger.Warn("unlock store failed", zap.Error(err))
		}
	}, nil
}

// loadCompacted loads the store, compacts it and writes the canonical form back.
func (r *Runner) loadCompacted(ctx context.Context, report *Report) (table.Table, error) {
	t, err := r.store.Load(ctx)
	if err != nil {
		return table.Table{}, fmt.Errorf("load store: %w", err)
	}
	res := table.Compact(t)
	report.Invalid = res.Invalid
	report.DuplicatesRemoved += res.DuplicatesRemoved
	report.BlankDropped += res.BlankDropped
	if err := r.store.Rewrite(ctx, res.Table); err != nil {
		return table.Table{}, fmt.Errorf("rewrite compacted store: %w", err)
	}
	metrics.ObserveRecordsWritten("rewrite", len(res.Table.Rows))
	return res.Table, nil
}

// persist merges fetched records into t, compacts and rewrites the store.
// It ignores cancellation of ctx so collected work is never dropped.
func (r *Runner) persist(ctx context.Context, t table.Table, discovered, confirmed []crawler.Record, report *Report) (table.Table, error) {
	merged, stats := table.Merge(t, discovered, confirmed)
	res := table.Compact(merged)
	if err := r.store.Rewrite(context.WithoutCancel(ctx), res.Table); err != nil {
		return t, fmt.Errorf("rewrite store: %w", err)
	}
	metrics.ObserveRecordsWritten("rewrite", len(res.Table.Rows))
	report.Invalid = res.Invalid
	report.DuplicatesRemoved += res.DuplicatesRemoved + stats.DuplicatesPruned
	report.BlankDropped += res.BlankDropped
	r.logger.Info("store rewritten",
		zap.Int("rows", len(res.Table.Rows)),
		zap.Int("appended", stats.Appended),
		zap.Int("replaced", stats.Replaced),
	)
	return res.Table, nil
}

func (r *Runner) requireFetch() error {
	if r.fetcher == nil || r.coord == nil {
		return errors.New("runner has no fetcher or coordinator configured")
	}
	return nil
}

// finish stamps the report, records metrics and runs the side effects. The
// mirror and snapshot only run when wrote reports a successful final write.
func (r *Runner) finish(
	ctx context.Context,
	report *Report,
	final table.Table,
	changed []crawler.Record,
	wrote bool,
	runErr error,
) {
	report.FinishedAt = r.now().UTC()
	report.TotalRecords = len(final.Rows) - report.Invalid
	result := "ok"
	switch {
	case report.Canceled:
		result = "canceled"
	case runErr != nil:
		result = "error"
	}
	metrics.ObserveRun(string(report.Mode), result)

	fields := append(report.fields(), zap.String("result", result))
	if runErr != nil {
		r.logger.Error("run finished", append(fields, zap.Error(runErr))...)
	} else {
		r.logger.Info("run finished", fields...)
	}
	r.sideEffects(context.WithoutCancel(ctx), report, final, changed, wrote)
}
