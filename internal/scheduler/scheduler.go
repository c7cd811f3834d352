// Package scheduler computes the work sets of a run: IDs missing from the
// roster and rows whose display name is still a placeholder.
package scheduler

import (
	"fmt"
	"strconv"

	"github.com/JakeFAU/tt2-roster/internal/crawler"
	"github.com/JakeFAU/tt2-roster/internal/table"
)

// Pending is a stored record awaiting confirmation.
type Pending struct {
	ID      uint64
	Current crawler.Record
}

// ComputeGaps returns every ID in [start, end] that has no valid row in t,
// in ascending order. Rows with malformed IDs do not count as known.
func ComputeGaps(start, end uint64, t table.Table) ([]uint64, error) {
	if start > end {
		return nil, fmt.Errorf("invalid range: start %d is greater than end %d", start, end)
	}
	known := table.IDs(t)
	capHint := uint64(1 << 16)
	if span := end - start; span < capHint {
		capHint = span + 1
	}
	gaps := make([]uint64, 0, int(capHint))
	for id := start; ; id++ {
		if _, ok := known[id]; !ok {
			gaps = append(gaps, id)
		}
		if id == end {
			break
		}
	}
	return gaps, nil
}

// ComputePendingRechecks selects rows whose display name carries prefix, in
// table order. Only the first row for an ID is returned.
func ComputePendingRechecks(t table.Table, prefix string) []Pending {
	seen := make(map[uint64]struct{})
	var pending []Pending
	for _, row := range t.Rows {
		id, ok := row.ID()
		if !ok {
			continue
		}
		if _, dup := seen[id]; dup {
			continue
		}
		seen[id] = struct{}{}
		if !crawler.IsProvisional(row.Cell(1), prefix) {
			continue
		}
		rec, err := crawler.RecordFromRow(append([]string{strconv.FormatUint(id, 10)}, row[1:]...))
		if err != nil {
			continue
		}
		pending = append(pending, Pending{ID: id, Current: rec})
	}
	return pending
}

// PendingIDs extracts the IDs of pending rechecks.
func PendingIDs(pending []Pending) []uint64 {
	ids := make([]uint64, len(pending))
	for i, p := range pending {
		ids[i] = p.ID
	}
	return ids
}
