package runner

import (
	"context"

	"github.com/JakeFAU/tt2-roster/internal/scheduler"
	"github.com/JakeFAU/tt2-roster/internal/table"
)

// Compact normalizes the store without touching the network: IDs become
// canonical, duplicates collapse to their first row, rows are sorted and
// malformed rows move to the tail.
func (r *Runner) Compact(ctx context.Context) (Report, error) {
	report := r.newReport(ModeCompact)
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
	report.StillProvisional = len(scheduler.ComputePendingRechecks(t, r.cfg.PlaceholderPrefix))
	r.finish(ctx, &report, t, nil, true, nil)
	return report, nil
}
