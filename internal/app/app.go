// Package app initializes and holds long-lived services, acting as the
// dependency injection container for the CLI commands.
package app

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"cloud.google.com/go/pubsub"
	"cloud.google.com/go/storage"
	"go.uber.org/zap"

	"github.com/JakeFAU/tt2-roster/internal/api"
	"github.com/JakeFAU/tt2-roster/internal/config"
	"github.com/JakeFAU/tt2-roster/internal/crawler"
	"github.com/JakeFAU/tt2-roster/internal/dispatcher"
	collyfetcher "github.com/JakeFAU/tt2-roster/internal/fetcher/colly"
	"github.com/JakeFAU/tt2-roster/internal/fetcher/retry"
	"github.com/JakeFAU/tt2-roster/internal/lookup"
	"github.com/JakeFAU/tt2-roster/internal/metrics"
	"github.com/JakeFAU/tt2-roster/internal/parser"
	"github.com/JakeFAU/tt2-roster/internal/policy/ratelimit"
	pubsubpublisher "github.com/JakeFAU/tt2-roster/internal/publisher/pubsub"
	"github.com/JakeFAU/tt2-roster/internal/runner"
	"github.com/JakeFAU/tt2-roster/internal/storage/csvfile"
	"github.com/JakeFAU/tt2-roster/internal/storage/gcs"
	"github.com/JakeFAU/tt2-roster/internal/storage/local"
	"github.com/JakeFAU/tt2-roster/internal/storage/postgres"
)

// App holds the shared services for one command invocation.
type App struct {
	cfg     config.Config
	logger  *zap.Logger
	store   *csvfile.Store
	client  *lookup.Client
	runner  *runner.Runner
	closers []func()
}

// Option customizes New.
type Option func(*options)

type options struct {
	transport crawler.Transport
}

// WithTransport replaces the colly transport, e.g. with a test double.
func WithTransport(t crawler.Transport) Option {
	return func(o *options) { o.transport = t }
}

// New builds every service cfg asks for. Optional services that fail to
// initialize are fatal here so misconfiguration surfaces before any run.
func New(ctx context.Context, cfg config.Config, logger *zap.Logger, opts ...Option) (_ *App, err error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	var o options
	for _, opt := range opts {
		opt(&o)
	}
	a := &App{cfg: cfg, logger: logger}
	defer func() {
		if err != nil {
			a.Close()
		}
	}()

	metrics.Init()
	a.store, err = csvfile.New(csvfile.Config{Path: cfg.Store.Path, LockTTL: cfg.Store.LockTTL}, logger.Named("store"))
	if err != nil {
		return nil, fmt.Errorf("init store: %w", err)
	}

	transport := o.transport
	if transport == nil {
		transport = collyfetcher.New(collyfetcher.Config{UserAgent: cfg.Remote.UserAgent, Timeout: cfg.Remote.Timeout})
	}
	policy := crawler.NewExponentialRetryPolicy(crawler.RetryConfig{
		MaxRetries:    cfg.Retry.MaxRetries,
		BackoffFactor: cfg.Retry.BackoffFactor,
		MaxBackoff:    cfg.Retry.MaxBackoff,
		Statuses:      cfg.Retry.Statuses,
	})
	retrying := retry.New(transport, policy, retry.WithLogger(logger.Named("retry")))
	a.client, err = lookup.New(lookup.Config{
		URLTemplate: cfg.Remote.URLTemplate,
		MinDelay:    cfg.Politeness.MinDelay,
		MaxDelay:    cfg.Politeness.MaxDelay,
	}, retrying, parser.New(cfg.Remote.Rich), policy, logger.Named("lookup"))
	if err != nil {
		return nil, fmt.Errorf("init lookup client: %w", err)
	}

	limiter := ratelimit.New(ratelimit.Config{
		StaggerMin: cfg.Politeness.StaggerMin,
		StaggerMax: cfg.Politeness.StaggerMax,
		RPS:        cfg.Dispatch.RPS,
		Burst:      cfg.Dispatch.Burst,
	})
	coord := dispatcher.New(dispatcher.Config{
		Workers:    cfg.Dispatch.Workers,
		QueueDepth: cfg.Dispatch.QueueDepth,
	}, limiter, logger.Named("dispatcher"))

	runOpts, err := a.sideEffects(ctx)
	if err != nil {
		return nil, err
	}
	a.runner, err = runner.New(runner.Config{
		PlaceholderPrefix: cfg.Store.PlaceholderPrefix,
		CheckpointEvery:   cfg.Store.CheckpointEvery,
		FillPasses:        cfg.Fill.Passes,
		RecheckMaxPasses:  cfg.Recheck.MaxPasses,
		RecheckInterval:   cfg.Recheck.PassInterval,
		SnapshotPrefix:    cfg.Snapshot.Prefix,
		PublishTopic:      cfg.Publish.Topic,
	}, a.store, a.client, coord, logger.Named("runner"), runOpts...)
	if err != nil {
		return nil, fmt.Errorf("init runner: %w", err)
	}
	return a, nil
}

// sideEffects connects the optional mirror, snapshot store and publisher.
func (a *App) sideEffects(ctx context.Context) ([]runner.Option, error) {
	var opts []runner.Option
	cfg := a.cfg

	if cfg.Mirror.Enabled {
		a.logger.Info("connecting postgres mirror", zap.String("table", cfg.Mirror.Postgres.Table))
		mirror, err := postgres.New(ctx, cfg.Mirror.Postgres)
		if err != nil {
			return nil, fmt.Errorf("init mirror: %w", err)
		}
		a.closers = append(a.closers, mirror.Close)
		if err := mirror.EnsureSchema(ctx); err != nil {
			return nil, err
		}
		opts = append(opts, runner.WithMirror(mirror))
	}

	switch cfg.Snapshot.Backend {
	case config.SnapshotLocal:
		blobs, err := local.New(local.Config{BaseDir: cfg.Snapshot.LocalDir})
		if err != nil {
			return nil, fmt.Errorf("init local snapshots: %w", err)
		}
		opts = append(opts, runner.WithSnapshots(blobs))
	case config.SnapshotGCS:
		client, err := storage.NewClient(ctx)
		if err != nil {
			return nil, fmt.Errorf("create GCS client: %w", err)
		}
		a.closers = append(a.closers, func() { _ = client.Close() })
		blobs, err := gcs.New(client, gcs.Config{Bucket: cfg.Snapshot.Bucket})
		if err != nil {
			return nil, fmt.Errorf("init gcs snapshots: %w", err)
		}
		opts = append(opts, runner.WithSnapshots(blobs))
	}

	if cfg.Publish.Enabled {
		client, err := pubsub.NewClient(ctx, cfg.Publish.ProjectID)
		if err != nil {
			return nil, fmt.Errorf("create pubsub client: %w", err)
		}
		pub := pubsubpublisher.New(client, map[string]string{"service": "tt2-roster"})
		a.closers = append(a.closers, func() {
			pub.Stop()
			_ = client.Close()
		})
		opts = append(opts, runner.WithPublisher(pub))
	}

	if cfg.Metrics.Listen != "" {
		a.startMetrics(cfg.Metrics.Listen)
	}
	return opts, nil
}

func (a *App) startMetrics(addr string) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", metrics.Handler())
	srv := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}
	go func() {
		a.logger.Info("metrics listener started", zap.String("addr", addr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			a.logger.Error("metrics listener failed", zap.Error(err))
		}
	}()
	a.closers = append(a.closers, func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(ctx)
	})
}

// Config returns the loaded configuration.
func (a *App) Config() config.Config { return a.cfg }

// Logger returns the shared logger.
func (a *App) Logger() *zap.Logger { return a.logger }

// Store returns the CSV store.
func (a *App) Store() *csvfile.Store { return a.store }

// Runner returns the run orchestrator.
func (a *App) Runner() *runner.Runner { return a.runner }

// ProfileURL renders the profile URL for id.
func (a *App) ProfileURL(id uint64) string { return a.client.URL(id) }

// APIServer builds the lookup API over the store.
func (a *App) APIServer() (*api.Server, error) {
	return api.NewServer(api.Config{
		URLTemplate:       a.cfg.Remote.URLTemplate,
		PlaceholderPrefix: a.cfg.Store.PlaceholderPrefix,
		CacheTTL:          a.cfg.Server.CacheTTL,
		RequestTimeout:    a.cfg.Server.RequestTimeout,
		APIKey:            a.cfg.Server.APIKey,
	}, a.store, a.logger.Named("api"))
}

// Close shuts services down in reverse order of creation.
func (a *App) Close() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		a.closers[i]()
	}
	a.closers = nil
}
