package memory

import (
	"context"
	"fmt"
	"sync"

	"github.com/JakeFAU/tt2-roster/internal/crawler"
	"github.com/JakeFAU/tt2-roster/internal/table"
)

// RecordStore keeps the roster table in memory for tests and dry runs.
type RecordStore struct {
	mu       sync.Mutex
	table    table.Table
	appends  int
	rewrites int

	// AppendErr and RewriteErr, when set, are returned by the matching call.
	AppendErr  error
	RewriteErr error
}

// NewRecordStore creates a store seeded with t. A zero table gets the default header.
func NewRecordStore(t table.Table) *RecordStore {
	if len(t.Header) == 0 {
		t.Header = crawler.DefaultHeader()
	}
	return &RecordStore{table: t.Clone()}
}

// Load returns a copy of the current table.
func (s *RecordStore) Load(ctx context.Context) (table.Table, error) {
	if err := ctx.Err(); err != nil {
		return table.Table{}, fmt.Errorf("load canceled: %w", err)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.table.Clone(), nil
}

// Rewrite replaces the table.
func (s *RecordStore) Rewrite(ctx context.Context, t table.Table) error {
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("rewrite canceled: %w", err)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.RewriteErr != nil {
		return &crawler.StoreIOError{Op: "rewrite", Path: "memory", Err: s.RewriteErr}
	}
	s.table = t.Clone()
	s.rewrites++
	return nil
}

// Append adds rows for records.
func (s *RecordStore) Append(ctx context.Context, records []crawler.Record) error {
	if len(records) == 0 {
		return nil
	}
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("append canceled: %w", err)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.AppendErr != nil {
		return &crawler.StoreIOError{Op: "append", Path: "memory", Err: s.AppendErr}
	}
	for _, rec := range records {
		s.table.Rows = append(s.table.Rows, table.Row(rec.Row()))
	}
	s.appends++
	return nil
}

// Snapshot returns a copy of the table without a context.
func (s *RecordStore) Snapshot() table.Table {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.table.Clone()
}

// Calls reports how many appends and rewrites succeeded.
func (s *RecordStore) Calls() (appends, rewrites int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.appends, s.rewrites
}
