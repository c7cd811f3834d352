package runner

import (
	"bytes"
	"context"
	"path"

	"go.uber.org/zap"

	"github.com/JakeFAU/tt2-roster/internal/crawler"
	"github.com/JakeFAU/tt2-roster/internal/storage/csvfile"
	"github.com/JakeFAU/tt2-roster/internal/table"
)

// DefaultSnapshotPrefix is where snapshots land in the blob store.
const DefaultSnapshotPrefix = "snapshots"

// sideEffects mirrors, snapshots and publishes. Failures are logged only.
func (r *Runner) sideEffects(ctx context.Context, report *Report, final table.Table, changed []crawler.Record, wrote bool) {
	if wrote && r.mirror != nil && len(changed) > 0 {
		records := latestByID(changed)
		if err := r.mirror.UpsertRecords(ctx, records); err != nil {
			r.logger.Warn("mirror upsert failed", zap.Int("records", len(records)), zap.Error(err))
		} else {
			r.logger.Info("mirror updated", zap.Int("records", len(records)))
		}
	}

	if wrote && r.blobs != nil {
		data, err := csvfile.Encode(final)
		if err != nil {
			r.logger.Warn("encode snapshot failed", zap.Error(err))
		} else {
			uri, err := r.blobs.PutObject(ctx, r.snapshotPath(report), "text/csv; charset=utf-8", bytes.NewReader(data))
			if err != nil {
				r.logger.Warn("snapshot upload failed", zap.Error(err))
			} else {
				report.SnapshotURI = uri
				report.SnapshotSHA256 = r.hasher.Hash(data)
				r.logger.Info("snapshot uploaded", zap.String("uri", uri), zap.String("sha256", report.SnapshotSHA256))
			}
		}
	}

	if r.publisher != nil && r.cfg.PublishTopic != "" {
		msgID, err := r.publisher.Publish(ctx, r.cfg.PublishTopic, *report)
		if err != nil {
			r.logger.Warn("publish run report failed", zap.String("topic", r.cfg.PublishTopic), zap.Error(err))
			return
		}
		r.logger.Debug("run report published", zap.String("topic", r.cfg.PublishTopic), zap.String("message_id", msgID))
	}
}

func (r *Runner) snapshotPath(report *Report) string {
	prefix := r.cfg.SnapshotPrefix
	if prefix == "" {
		prefix = DefaultSnapshotPrefix
	}
	return path.Join(prefix, report.StartedAt.Format("2006/01/02"), report.RunID+".csv")
}

// latestByID keeps the last record per ID, in first-seen order.
func latestByID(records []crawler.Record) []crawler.Record {
	idx := make(map[uint64]int, len(records))
	out := make([]crawler.Record, 0, len(records))
	for _, rec := range records {
		if i, ok := idx[rec.ID]; ok {
			out[i] = rec
			continue
		}
		idx[rec.ID] = len(out)
		out = append(out, rec)
	}
	return out
}
