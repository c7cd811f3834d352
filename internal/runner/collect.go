package runner

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/JakeFAU/tt2-roster/internal/crawler"
	"github.com/JakeFAU/tt2-roster/internal/dispatcher"
	"github.com/JakeFAU/tt2-roster/internal/metrics"
	"github.com/JakeFAU/tt2-roster/internal/worker"
)

// collector folds item results into a pass. It runs on the dispatcher's
// collector goroutine only, so it needs no locking.
type collector struct {
	ctx        context.Context
	r          *Runner
	report     *Report
	recheck    bool
	discovered []crawler.Record
	confirmed  []crawler.Record
	pending    []crawler.Record
}

func (c *collector) sink() dispatcher.ResultSink {
	return func(res worker.ItemResult) error {
		if res.Err != nil {
			c.report.Failed++
			c.r.logger.Warn("item failed", zap.Uint64("id", res.ID), zap.Error(res.Err))
			return nil
		}
		out := res.Outcome
		switch out.Kind {
		case crawler.OutcomeFound:
			return c.found(out.Record)
		case crawler.OutcomeNotFound:
			c.report.NotFound++
		case crawler.OutcomeRateLimited:
			c.report.RateLimited++
		default:
			c.report.Failed++
			c.r.logger.Debug("item skipped this pass", zap.Uint64("id", res.ID), zap.Error(out.Cause))
		}
		return nil
	}
}

func (c *collector) found(rec crawler.Record) error {
	provisional := crawler.IsProvisional(rec.DisplayName, c.r.cfg.PlaceholderPrefix)
	if c.recheck {
		if provisional {
			return nil
		}
		c.confirmed = append(c.confirmed, rec)
		c.report.Confirmed++
		c.r.logger.Info("placeholder confirmed", zap.Uint64("id", rec.ID), zap.String("name", rec.DisplayName))
		return nil
	}

	c.discovered = append(c.discovered, rec)
	c.pending = append(c.pending, rec)
	c.report.Discovered++
	c.r.logger.Debug("profile discovered", zap.Uint64("id", rec.ID), zap.Bool("provisional", provisional))
	if len(c.pending) >= c.r.cfg.CheckpointEvery {
		return c.checkpoint()
	}
	return nil
}

// checkpoint appends discovered records not yet on disk.
func (c *collector) checkpoint() error {
	if len(c.pending) == 0 {
		return nil
	}
	if err := c.r.store.Append(context.WithoutCancel(c.ctx), c.pending); err != nil {
		return fmt.Errorf("checkpoint append: %w", err)
	}
	metrics.ObserveRecordsWritten("append", len(c.pending))
	c.pending = nil
	return nil
}
