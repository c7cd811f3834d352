package runner

import (
	"time"

	"go.uber.org/zap"
)

// Mode names a kind of run.
type Mode string

// Run modes.
const (
	ModeFillGaps Mode = "fill-gaps"
	ModeRecheck  Mode = "recheck"
	ModeCompact  Mode = "compact"
)

// Report summarizes a run. It is returned to the caller and published as
// the run's completion event.
type Report struct {
	RunID             string    `json:"run_id"`
	Mode              Mode      `json:"mode"`
	RangeStart        uint64    `json:"range_start,omitempty"`
	RangeEnd          uint64    `json:"range_end,omitempty"`
	Passes            int       `json:"passes"`
	Requested         int       `json:"requested"`
	Discovered        int       `json:"discovered"`
	Confirmed         int       `json:"confirmed"`
	StillProvisional  int       `json:"still_provisional"`
	NotFound          int       `json:"not_found"`
	RateLimited       int       `json:"rate_limited"`
	Failed            int       `json:"failed"`
	Invalid           int       `json:"invalid"`
	DuplicatesRemoved int       `json:"duplicates_removed"`
	BlankDropped      int       `json:"blank_dropped"`
	TotalRecords      int       `json:"total_records"`
	Canceled          bool      `json:"canceled"`
	SnapshotURI       string    `json:"snapshot_uri,omitempty"`
	SnapshotSHA256    string    `json:"snapshot_sha256,omitempty"`
	StartedAt         time.Time `json:"started_at"`
	FinishedAt        time.Time `json:"finished_at"`
}

func (r *Runner) newReport(mode Mode) Report {
	return Report{RunID: r.newID(), Mode: mode, StartedAt: r.now().UTC()}
}

func (rep Report) fields() []zap.Field {
	return []zap.Field{
		zap.String("run_id", rep.RunID),
		zap.String("mode", string(rep.Mode)),
		zap.Int("passes", rep.Passes),
		zap.Int("requested", rep.Requested),
		zap.Int("discovered", rep.Discovered),
		zap.Int("confirmed", rep.Confirmed),
		zap.Int("still_provisional", rep.StillProvisional),
		zap.Int("not_found", rep.NotFound),
		zap.Int("rate_limited", rep.RateLimited),
		zap.Int("failed", rep.Failed),
		zap.Int("invalid", rep.Invalid),
		zap.Int("duplicates_removed", rep.DuplicatesRemoved),
		zap.Int("total_records", rep.TotalRecords),
		zap.Bool("canceled", rep.Canceled),
		zap.Duration("elapsed", rep.FinishedAt.Sub(rep.StartedAt)),
	}
}
