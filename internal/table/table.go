// Package table holds the raw row model of the roster file and the pure
// transformations applied to it: sanitizing, ID normalization, compaction,
// and merging of fetched records.
package table

import (
	"regexp"
	"strconv"
	"strings"
	"unicode"
	"unicode/utf8"

	"github.com/JakeFAU/tt2-roster/internal/crawler"
)

// Row is one CSV row as stored on disk.
type Row []string

// Table is the full content of the roster file.
type Table struct {
	Header []string
	Rows   []Row
}

// New returns an empty table carrying the default header.
func New() Table {
	return Table{Header: crawler.DefaultHeader()}
}

// Clone returns a deep copy so callers can mutate rows freely.
func (t Table) Clone() Table {
	out := Table{Header: append([]string(nil), t.Header...), Rows: make([]Row, len(t.Rows))}
	for i, r := range t.Rows {
		out.Rows[i] = append(Row(nil), r...)
	}
	return out
}

// ID returns the normalized ID of the row, or false when the ID cell is not usable.
func (r Row) ID() (uint64, bool) {
	if len(r) == 0 {
		return 0, false
	}
	return NormalizeID(r[0])
}

// Cell returns the i-th cell or "" when the row is short.
func (r Row) Cell(i int) string {
	if i < 0 || i >= len(r) {
		return ""
	}
	return r[i]
}

// Blank reports whether every cell is empty after trimming.
func (r Row) Blank() bool {
	for _, c := range r {
		if strings.TrimSpace(c) != "" {
			return false
		}
	}
	return true
}

var idPattern = regexp.MustCompile(`^\D*(\d+)`)

// NormalizeID extracts the first run of digits that follows any leading
// non-digit characters. "#0042" yields 42. Text without digits, or a digit
// run that does not fit in a uint64, is not an ID.
func NormalizeID(s string) (uint64, bool) {
	m := idPattern.FindStringSubmatch(s)
	if m == nil {
		return 0, false
	}
	id, err := strconv.ParseUint(m[1], 10, 64)
	if err != nil {
		return 0, false
	}
	return id, true
}

// Sanitize drops NUL and other control bytes that break CSV parsing, keeping
// tab, newline and carriage return. Invalid UTF-8 sequences become U+FFFD.
func Sanitize(raw []byte) []byte {
	out := make([]byte, 0, len(raw))
	for len(raw) > 0 {
		r, size := utf8.DecodeRune(raw)
		raw = raw[size:]
		switch {
		case r == utf8.RuneError && size <= 1:
			out = utf8.AppendRune(out, utf8.RuneError)
		case r == '\t' || r == '\n' || r == '\r':
			out = append(out, byte(r))
		case unicode.IsControl(r):
		default:
			out = utf8.AppendRune(out, r)
		}
	}
	return out
}
