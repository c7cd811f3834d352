package table

import (
	"slices"
	"strconv"
)

// Result is the outcome of Compact.
type Result struct {
	Table             Table
	Valid             int
	Invalid           int
	DuplicatesRemoved int
	BlankDropped      int
}

// Compact canonicalizes a table: blank rows are dropped, ID cells are
// rewritten in canonical decimal, the first row seen for an ID wins, valid
// rows are ordered by ID and rows without a usable ID follow in their
// original order. Compacting the output again is a no-op.
func Compact(t Table) Result {
	type keyed struct {
		id  uint64
		row Row
	}
	res := Result{}
	seen := make(map[uint64]struct{}, len(t.Rows))
	valid := make([]keyed, 0, len(t.Rows))
	var invalid []Row

	for _, row := range t.Rows {
		if row.Blank() {
			res.BlankDropped++
			continue
		}
		id, ok := row.ID()
		if !ok {
			invalid = append(invalid, append(Row(nil), row...))
			continue
		}
		if _, dup := seen[id]; dup {
			res.DuplicatesRemoved++
			continue
		}
		seen[id] = struct{}{}
		out := append(Row(nil), row...)
		out[0] = strconv.FormatUint(id, 10)
		valid = append(valid, keyed{id: id, row: out})
	}

	slices.SortStableFunc(valid, func(a, b keyed) int {
		switch {
		case a.id < b.id:
			return -1
		case a.id > b.id:
			return 1
		default:
			return 0
		}
	})

	header := t.Header
	if len(header) == 0 {
		header = New().Header
	}
	rows := make([]Row, 0, len(valid)+len(invalid))
	for _, k := range valid {
		rows = append(rows, k.row)
	}
	rows = append(rows, invalid...)

	res.Table = Table{Header: append([]string(nil), header...), Rows: rows}
	res.Valid = len(valid)
	res.Invalid = len(invalid)
	return res
}

// IDs returns the set of valid IDs present in t.
func IDs(t Table) map[uint64]struct{} {
	ids := make(map[uint64]struct{}, len(t.Rows))
	for _, row := range t.Rows {
		if id, ok := row.ID(); ok {
			ids[id] = struct{}{}
		}
	}
	return ids
}
