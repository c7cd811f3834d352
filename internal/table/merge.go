package table

import (
	"github.com/JakeFAU/tt2-roster/internal/crawler"
)

// MergeStats counts what Merge changed.
type MergeStats struct {
	Appended         int
	Replaced         int
	DuplicatesPruned int
	SkippedExisting  int
}

// Merge folds fetched records into t and returns a new table.
//
// Confirmed records replace the row for their ID: the first row with that ID
// is rewritten in place and any later rows with the same ID are removed. When
// several confirmations exist for one ID the last one wins. Discovered
// records are appended only when their ID is not already present.
func Merge(t Table, discovered, confirmed []crawler.Record) (Table, MergeStats) {
	stats := MergeStats{}
	out := Table{Header: append([]string(nil), t.Header...)}
	if len(out.Header) == 0 {
		out.Header = crawler.DefaultHeader()
	}

	replacements := make(map[uint64]crawler.Record, len(confirmed))
	for _, rec := range confirmed {
		replacements[rec.ID] = rec
	}

	present := make(map[uint64]struct{}, len(t.Rows))
	replaced := make(map[uint64]bool, len(replacements))
	out.Rows = make([]Row, 0, len(t.Rows)+len(discovered))

	for _, row := range t.Rows {
		id, ok := row.ID()
		if !ok {
			out.Rows = append(out.Rows, append(Row(nil), row...))
			continue
		}
		rec, confirm := replacements[id]
		if !confirm {
			present[id] = struct{}{}
			out.Rows = append(out.Rows, append(Row(nil), row...))
			continue
		}
		if replaced[id] {
			stats.DuplicatesPruned++
			continue
		}
		replaced[id] = true
		present[id] = struct{}{}
		out.Rows = append(out.Rows, replaceRow(row, rec))
		stats.Replaced++
	}

	// A confirmation for an ID that vanished from the table is kept as a new row.
	for _, rec := range confirmed {
		if _, ok := present[rec.ID]; ok {
			continue
		}
		present[rec.ID] = struct{}{}
		out.Rows = append(out.Rows, Row(replacements[rec.ID].Row()))
		stats.Appended++
	}

	for _, rec := range discovered {
		if _, ok := present[rec.ID]; ok {
			stats.SkippedExisting++
			continue
		}
		present[rec.ID] = struct{}{}
		out.Rows = append(out.Rows, Row(rec.Row()))
		stats.Appended++
	}
	return out, stats
}

// replaceRow builds the confirmed row. Cells beyond the ones a record
// renders are carried over from the old row unless the record supplies
// games of its own.
func replaceRow(old Row, rec crawler.Record) Row {
	fresh := Row(rec.Row())
	if len(rec.Games) == 0 && len(old) > 3 {
		fresh = append(fresh, old[3:]...)
	} else if len(old) > len(fresh) {
		fresh = append(fresh, old[len(fresh):]...)
	}
	return fresh
}
