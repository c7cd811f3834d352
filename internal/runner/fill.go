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

// FillGaps fetches every ID in [start, end] missing from the store.
//
// Discovered records are appended to the store every CheckpointEvery
// records and merged into a compacted rewrite at the end of each pass. Up to
// FillPasses passes run; a pass that discovers nothing ends the run early.
// On cancellation the records collected so far are still written.
func (r *Runner) FillGaps(ctx context.Context, start, end uint64) (Report, error) {
	report := r.newReport(ModeFillGaps)
	report.RangeStart, report.RangeEnd = start, end
	if err := r.requireFetch(); err != nil {
		return report, err
	}
	if start > end {
		return report, fmt.Errorf("invalid range: start %d is greater than end %d", start, end)
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
	for pass := 1; pass <= r.cfg.FillPasses; pass++ {
		gaps, err := scheduler.ComputeGaps(start, end, t)
		if err != nil {
			runErr = err
			break
		}
		if len(gaps) == 0 {
			r.logger.Info("no gaps left in range", zap.Uint64("start", start), zap.Uint64("end", end))
			break
		}
		report.Passes++
		report.Requested += len(gaps)
		r.logger.Info("fill pass starting",
			zap.Int("pass", pass),
			zap.Int("gaps", len(gaps)),
			zap.Uint64("first", gaps[0]),
			zap.Uint64("last", gaps[len(gaps)-1]),
		)

		col := &collector{ctx: ctx, r: r, report: &report}
		_, dispatchErr := r.coord.Run(ctx, gaps, handler, col.sink())
		next, perr := r.persist(ctx, t, col.discovered, nil, &report)
		if perr != nil {
			wrote = false
			if cerr := col.checkpoint(); cerr != nil {
				r.logger.Error("salvage append failed", zap.Error(cerr))
			}
			runErr = errors.Join(dispatchErr, perr)
			break
		}
		t = next
		changed = append(changed, col.discovered...)
		if dispatchErr != nil {
			runErr = dispatchErr
			break
		}
		if len(col.discovered) == 0 {
			break
		}
	}

	report.Canceled = ctx.Err() != nil
	report.StillProvisional = len(scheduler.ComputePendingRechecks(t, r.cfg.PlaceholderPrefix))
	r.finish(ctx, &report, t, changed, wrote, runErr)
	return report, runErr
}
