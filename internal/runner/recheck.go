package runner

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/JakeFAU/tt2-roster/internal/crawler"
	"github.com/JakeFAU/tt2-roster/internal/scheduler"
	"github.com/JakeFAU/tt2-roster/internal/table"
	"github.com/JakeFAU/tt2-roster/internal/worker"
)

// RecheckProvisional re-fetches every record whose display name is still a
// placeholder and replaces it in place once a real name comes back.
//
// Passes repeat, RecheckInterval apart, until no placeholders remain or
// RecheckMaxPasses passes have run. Confirmations are persisted at the end
// of every pass.
func (r *Runner) RecheckProvisional(ctx context.Context) (Report, error) {
	report := r.newReport(ModeRecheck)
	if err := r.requireFetch(); err != nil {
		return report, err
	}
	unlock, err := r.lock()
	if err != nil {
		return report, err
	}
	defer unlock()

	t, err := r.loadCompacted(ctx, &report)
	if err != nil {
		r.finish(ctx, &report, table.Table{}, nil, false, err)
		return report, err
	}

	var (
		changed []crawler.Record
		runErr  error
		wrote   = true
		handler = worker.FetchHandler(r.fetcher)
	)
	for pass := 1; pass <= r.cfg.RecheckMaxPasses; pass++ {
		pending := scheduler.ComputePendingRechecks(t, r.cfg.PlaceholderPrefix)
		if len(pending) == 0 {
			r.logger.Info("no placeholder names left")
			break
		}
		if pass > 1 {
			if err := r.pauser.Pause(ctx, r.cfg.RecheckInterval); err != nil {
				runErr = fmt.Errorf("wait between recheck passes: %w", err)
				break
			}
		}
		report.Passes++
		report.Requested += len(pending)
		r.logger.Info("recheck pass starting", zap.Int("pass", pass), zap.Int("pending", len(pending)))

		col := &collector{ctx: ctx, r: r, report: &report, recheck: true}
		_, dispatchErr := r.coord.Run(ctx, scheduler.PendingIDs(pending), handler, col.sink())
		if len(col.confirmed) > 0 {
			next, perr := r.persist(ctx, t, nil, col.confirmed, &report)
			if perr != nil {
				wrote = false
				runErr = errors.Join(dispatchErr, perr)
				break
			}
			t = next
			changed = append(changed, col.confirmed...)
		}
		if dispatchErr != nil {
			runErr = dispatchErr
			break
		}
	}

	report.Canceled = ctx.Err() != nil
	report.StillProvisional = len(scheduler.ComputePendingRechecks(t, r.cfg.PlaceholderPrefix))
	r.finish(ctx, &report, t, changed, wrote, runErr)
	return report, runErr
}
