// Package csvfile persists the roster as a header-first CSV file with
// sanitizing reads, atomic rewrites, fsync'd appends and a lock file.
package csvfile

import (
	"bufio"
	"bytes"
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/JakeFAU/tt2-roster/internal/crawler"
	"github.com/JakeFAU/tt2-roster/internal/table"
)

// DefaultLockTTL is how old a lock file must be before another run may steal it.
const DefaultLockTTL = 30 * time.Minute

// Config captures the parameters for the CSV store.
type Config struct {
	Path    string        `mapstructure:"path" yaml:"path"`
	LockTTL time.Duration `mapstructure:"lock_ttl" yaml:"lock_ttl"`
}

// Store reads and writes the roster file.
type Store struct {
	path    string
	lockTTL time.Duration
	logger  *zap.Logger

	mu       sync.Mutex
	stopBeat chan struct{}
	token    []byte
}

// New creates a Store for cfg.Path.
func New(cfg Config, logger *zap.Logger) (*Store, error) {
	if strings.TrimSpace(cfg.Path) == "" {
		return nil, errors.New("store path is required")
	}
	if cfg.LockTTL <= 0 {
		cfg.LockTTL = DefaultLockTTL
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Store{path: cfg.Path, lockTTL: cfg.LockTTL, logger: logger}, nil
}

// Path returns the file the store manages.
func (s *Store) Path() string {
	return s.path
}

// Load reads the whole file. A missing or empty file yields an empty table
// with the default header.
func (s *Store) Load(ctx context.Context) (table.Table, error) {
	if err := ctx.Err(); err != nil {
		return table.Table{}, fmt.Errorf("load canceled: %w", err)
	}
	raw, err := os.ReadFile(s.path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return table.New(), nil
		}
		return table.Table{}, &crawler.StoreIOError{Op: "read", Path: s.path, Err: err}
	}
	t := Decode(raw)
	s.logger.Debug("store loaded", zap.String("path", s.path), zap.Int("rows", len(t.Rows)))
	return t, nil
}

// Rewrite replaces the file with t. The content is encoded in full, written
// to a temporary file next to the destination, synced and renamed over it.
// The destination is never left truncated; the temporary file is removed on
// every failure.
func (s *Store) Rewrite(ctx context.Context, t table.Table) error {
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("rewrite canceled: %w", err)
	}
	data, err := Encode(t)
	if err != nil {
		return &crawler.StoreIOError{Op: "encode", Path: s.path, Err: err}
	}
	if err := writeAtomic(s.path, data); err != nil {
		return &crawler.StoreIOError{Op: "rewrite", Path: s.path, Err: err}
	}
	s.logger.Debug("store rewritten", zap.String("path", s.path), zap.Int("rows", len(t.Rows)))
	return nil
}

// Append adds records to the end of the file and syncs it. The default
// header is written first when the file is absent or empty.
func (s *Store) Append(ctx context.Context, records []crawler.Record) error {
	if len(records) == 0 {
		return nil
	}
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("append canceled: %w", err)
	}
	if err := appendRecords(s.path, records); err != nil {
		return &crawler.StoreIOError{Op: "append", Path: s.path, Err: err}
	}
	s.logger.Debug("store appended", zap.String("path", s.path), zap.Int("records", len(records)))
	return nil
}

// Encode renders t as CSV.
func Encode(t table.Table) ([]byte, error) {
	header := t.Header
	if len(header) == 0 {
		header = crawler.DefaultHeader()
	}
	var buf bytes.Buffer
	w := csv.NewWriter(&buf)
	if err := w.Write(header); err != nil {
		return nil, fmt.Errorf("write header: %w", err)
	}
	for _, row := range t.Rows {
		if err := w.Write(row); err != nil {
			return nil, fmt.Errorf("write row: %w", err)
		}
	}
	w.Flush()
	if err := w.Error(); err != nil {
		return nil, fmt.Errorf("flush csv: %w", err)
	}
	return buf.Bytes(), nil
}

// Decode parses sanitized CSV. The document is first parsed strictly so that
// quoted multi-line cells survive. When that fails, each line is parsed on
// its own with lenient quoting, so one broken quote cannot swallow the rest
// of the file; a line that still fails is kept as a single-cell row, which
// lands in the invalid tail on compaction.
func Decode(raw []byte) table.Table {
	clean := table.Sanitize(raw)
	records, err := newReader(bytes.NewReader(clean), false).ReadAll()
	if err != nil {
		records = decodeLines(clean)
	}
	if len(records) == 0 {
		return table.New()
	}
	t := table.Table{}
	first := records[0]
	if _, ok := table.Row(first).ID(); ok {
		// Headerless file: every line is data.
		t.Header = crawler.DefaultHeader()
	} else {
		t.Header = first
		records = records[1:]
	}
	t.Rows = make([]table.Row, 0, len(records))
	for _, rec := range records {
		t.Rows = append(t.Rows, table.Row(rec))
	}
	return t
}

func newReader(r io.Reader, lazy bool) *csv.Reader {
	cr := csv.NewReader(r)
	cr.LazyQuotes = lazy
	cr.FieldsPerRecord = -1
	return cr
}

func decodeLines(clean []byte) [][]string {
	var out [][]string
	sc := bufio.NewScanner(bytes.NewReader(clean))
	sc.Buffer(make([]byte, 0, 64*1024), 16*1024*1024)
	for sc.Scan() {
		line := strings.TrimRight(sc.Text(), "\r")
		if strings.TrimSpace(line) == "" {
			continue
		}
		rec, err := newReader(strings.NewReader(line), true).Read()
		if err != nil {
			out = append(out, []string{line})
			continue
		}
		out = append(out, rec)
	}
	return out
}

func writeAtomic(path string, data []byte) (err error) {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o750); err != nil {
		return fmt.Errorf("create store directory: %w", err)
	}
	tmp, err := os.CreateTemp(dir, filepath.Base(path)+".tmp-*")
	if err != nil {
		return fmt.Errorf("create temp file: %w", err)
	}
	tmpName := tmp.Name()
	defer func() {
		if err != nil {
			_ = tmp.Close()
			_ = os.Remove(tmpName)
		}
	}()
	if _, err = tmp.Write(data); err != nil {
		return fmt.Errorf("write temp file: %w", err)
	}
	if err = tmp.Sync(); err != nil {
		return fmt.Errorf("sync temp file: %w", err)
	}
	if err = tmp.Close(); err != nil {
		return fmt.Errorf("close temp file: %w", err)
	}
	// #nosec G302 -- the roster is a shared dataset file.
	if err = os.Chmod(tmpName, 0o644); err != nil {
		return fmt.Errorf("chmod temp file: %w", err)
	}
	if err = os.Rename(tmpName, path); err != nil {
		return fmt.Errorf("rename temp file: %w", err)
	}
	syncDir(dir)
	return nil
}

func syncDir(dir string) {
	d, err := os.Open(dir) // #nosec G304 -- directory of the configured store path.
	if err != nil {
		return
	}
	_ = d.Sync()
	_ = d.Close()
}

func appendRecords(path string, records []crawler.Record) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o750); err != nil {
		return fmt.Errorf("create store directory: %w", err)
	}
	// #nosec G302 G304 -- configured dataset path.
	f, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_RDWR, 0o644)
	if err != nil {
		return fmt.Errorf("open for append: %w", err)
	}
	defer func() { _ = f.Close() }()

	info, err := f.Stat()
	if err != nil {
		return fmt.Errorf("stat: %w", err)
	}
	bufw := bufio.NewWriterSize(f, 1<<16)
	if info.Size() > 0 {
		last := make([]byte, 1)
		if _, err := f.ReadAt(last, info.Size()-1); err != nil {
			return fmt.Errorf("read tail: %w", err)
		}
		if last[0] != '\n' {
			if err := bufw.WriteByte('\n'); err != nil {
				return fmt.Errorf("terminate last line: %w", err)
			}
		}
	}
	w := csv.NewWriter(bufw)
	if info.Size() == 0 {
		if err := w.Write(crawler.DefaultHeader()); err != nil {
			return fmt.Errorf("write header: %w", err)
		}
	}
	for _, rec := range records {
		if err := w.Write(rec.Row()); err != nil {
			return fmt.Errorf("write row: %w", err)
		}
	}
	w.Flush()
	if err := w.Error(); err != nil {
		return fmt.Errorf("flush csv: %w", err)
	}
	if err := bufw.Flush(); err != nil {
		return fmt.Errorf("flush buffer: %w", err)
	}
	if err := f.Sync(); err != nil {
		return fmt.Errorf("sync: %w", err)
	}
	return nil
}
