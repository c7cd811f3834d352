package runner

import (
	"context"
	"errors"
	"path/filepath"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/JakeFAU/tt2-roster/internal/crawler"
	"github.com/JakeFAU/tt2-roster/internal/dispatcher"
	"github.com/JakeFAU/tt2-roster/internal/hash/sha256"
	pubmemory "github.com/JakeFAU/tt2-roster/internal/publisher/memory"
	"github.com/JakeFAU/tt2-roster/internal/storage/csvfile"
	"github.com/JakeFAU/tt2-roster/internal/storage/memory"
	"github.com/JakeFAU/tt2-roster/internal/table"
)

type stubFetcher struct {
	mu    sync.Mutex
	calls map[uint64]int
	fn    func(ctx context.Context, id uint64) crawler.Outcome
}

func newStubFetcher(fn func(ctx context.Context, id uint64) crawler.Outcome) *stubFetcher {
	return &stubFetcher{calls: map[uint64]int{}, fn: fn}
}

func (f *stubFetcher) Fetch(ctx context.Context, id uint64) crawler.Outcome {
	f.mu.Lock()
	f.calls[id]++
	f.mu.Unlock()
	return f.fn(ctx, id)
}

func (f *stubFetcher) called() []uint64 {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]uint64, 0, len(f.calls))
	for id := range f.calls {
		out = append(out, id)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

func named(name string) func(context.Context, uint64) crawler.Outcome {
	return func(_ context.Context, id uint64) crawler.Outcome {
		return crawler.Found(crawler.Record{ID: id, DisplayName: name}, 200)
	}
}

type recordingMirror struct {
	mu      sync.Mutex
	records []crawler.Record
	err     error
}

func (m *recordingMirror) UpsertRecords(_ context.Context, records []crawler.Record) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return m.err
	}
	m.records = append(m.records, records...)
	return nil
}

type recordingPauser struct {
	mu     sync.Mutex
	delays []time.Duration
}

func (p *recordingPauser) Pause(ctx context.Context, d time.Duration) error {
	p.mu.Lock()
	p.delays = append(p.delays, d)
	p.mu.Unlock()
	return ctx.Err()
}

// failingStore fails every rewrite after the first failAfter succeeded.
type failingStore struct {
	*memory.RecordStore
	mu        sync.Mutex
	rewrites  int
	failAfter int
}

func (s *failingStore) Rewrite(ctx context.Context, t table.Table) error {
	s.mu.Lock()
	s.rewrites++
	n := s.rewrites
	s.mu.Unlock()
	if n > s.failAfter {
		return &crawler.StoreIOError{Op: "rewrite", Path: "memory", Err: errors.New("disk full")}
	}
	return s.RecordStore.Rewrite(ctx, t)
}

func seeded(rows ...[]string) table.Table {
	t := table.New()
	for _, r := range rows {
		t.Rows = append(t.Rows, table.Row(r))
	}
	return t
}

func rowIDs(t table.Table) []uint64 {
	out := make([]uint64, 0, len(t.Rows))
	for _, row := range t.Rows {
		id, ok := row.ID()
		if ok {
			out = append(out, id)
		}
	}
	return out
}

func newRunner(t *testing.T, cfg Config, store RecordStore, f crawler.Fetcher, workers int, opts ...Option) *Runner {
	t.Helper()
	coord := dispatcher.New(dispatcher.Config{Workers: workers, QueueDepth: 8}, nil, zap.NewNop())
	r, err := New(cfg, store, f, coord, zap.NewNop(), opts...)
	require.NoError(t, err)
	return r
}

func TestNewRequiresStore(t *testing.T) {
	t.Parallel()

	_, err := New(Config{}, nil, nil, nil, nil)
	require.Error(t, err)
}

func TestFillGapsIsolatesFailures(t *testing.T) {
	t.Parallel()

	store := memory.NewRecordStore(seeded(
		[]string{"1", "a"}, []string{"2", "b"}, []string{"3", "c"},
		[]string{"4", "d"}, []string{"5", "e"}, []string{"6", "f"},
	))
	fetcher := newStubFetcher(func(_ context.Context, id uint64) crawler.Outcome {
		if id == 7 {
			return crawler.TransientFailure(id, &crawler.TransientError{StatusCode: 503, Attempts: 6, Err: errors.New("unavailable")})
		}
		return crawler.Found(crawler.Record{ID: id, DisplayName: "player"}, 200)
	})
	r := newRunner(t, Config{}, store, fetcher, 3)

	report, err := r.FillGaps(context.Background(), 1, 9)
	require.NoError(t, err)
	assert.Equal(t, []uint64{7, 8, 9}, fetcher.called())
	assert.Equal(t, 3, report.Requested)
	assert.Equal(t, 2, report.Discovered)
	assert.Equal(t, 1, report.Failed)
	assert.Equal(t, 8, report.TotalRecords)
	assert.Equal(t, []uint64{1, 2, 3, 4, 5, 6, 8, 9}, rowIDs(store.Snapshot()))

	retry := newRunner(t, Config{}, store, newStubFetcher(named("late")), 2)
	report, err = retry.FillGaps(context.Background(), 1, 9)
	require.NoError(t, err)
	assert.Equal(t, 1, report.Requested)
	assert.Equal(t, []uint64{1, 2, 3, 4, 5, 6, 7, 8, 9}, rowIDs(store.Snapshot()))
}

func TestFillGapsSkipsKnownIDs(t *testing.T) {
	t.Parallel()

	store := memory.NewRecordStore(seeded([]string{"1", "a"}, []string{"3", "c"}, []string{"5", "e"}))
	fetcher := newStubFetcher(named("new"))
	r := newRunner(t, Config{}, store, fetcher, 2)

	_, err := r.FillGaps(context.Background(), 1, 5)
	require.NoError(t, err)
	assert.Equal(t, []uint64{2, 4}, fetcher.called())
	assert.Equal(t, []uint64{1, 2, 3, 4, 5}, rowIDs(store.Snapshot()))
}

func TestFillGapsConcurrentWritesStayConsistent(t *testing.T) {
	t.Parallel()

	store := memory.NewRecordStore(table.Table{})
	r := newRunner(t, Config{CheckpointEvery: 7}, store, newStubFetcher(named("player")), 8)

	report, err := r.FillGaps(context.Background(), 1, 200)
	require.NoError(t, err)
	assert.Equal(t, 200, report.Discovered)

	ids := rowIDs(store.Snapshot())
	require.Len(t, ids, 200)
	for i, id := range ids {
		require.Equal(t, uint64(i+1), id)
	}

	appends, rewrites := store.Calls()
	assert.Equal(t, 200/7, appends)
	assert.Equal(t, 2, rewrites)
}

func TestFillGapsRunsExtraPassesUntilNothingNew(t *testing.T) {
	t.Parallel()

	var mu sync.Mutex
	seen := map[uint64]int{}
	fetcher := newStubFetcher(func(_ context.Context, id uint64) crawler.Outcome {
		mu.Lock()
		defer mu.Unlock()
		seen[id]++
		if id == 2 && seen[id] == 1 {
			return crawler.RateLimited(id, 429)
		}
		return crawler.Found(crawler.Record{ID: id, DisplayName: "p"}, 200)
	})
	store := memory.NewRecordStore(table.Table{})
	r := newRunner(t, Config{FillPasses: 3}, store, fetcher, 1)

	report, err := r.FillGaps(context.Background(), 1, 3)
	require.NoError(t, err)
	assert.Equal(t, 2, report.Passes)
	assert.Equal(t, 1, report.RateLimited)
	assert.Equal(t, 3, report.Discovered)
	assert.Equal(t, []uint64{1, 2, 3}, rowIDs(store.Snapshot()))
}

func TestFillGapsValidatesInput(t *testing.T) {
	t.Parallel()

	store := memory.NewRecordStore(table.Table{})
	r := newRunner(t, Config{}, store, newStubFetcher(named("p")), 1)
	_, err := r.FillGaps(context.Background(), 10, 1)
	require.Error(t, err)

	bare, err := New(Config{}, store, nil, nil, nil)
	require.NoError(t, err)
	_, err = bare.FillGaps(context.Background(), 1, 2)
	require.Error(t, err)
	_, err = bare.RecheckProvisional(context.Background())
	require.Error(t, err)
}

func TestFillGapsStoreFailureIsFatal(t *testing.T) {
	t.Parallel()

	store := &failingStore{RecordStore: memory.NewRecordStore(table.Table{}), failAfter: 1}
	mirror := &recordingMirror{}
	r := newRunner(t, Config{}, store, newStubFetcher(named("p")), 2, WithMirror(mirror))

	_, err := r.FillGaps(context.Background(), 1, 4)
	require.Error(t, err)
	assert.True(t, crawler.IsStoreIO(err))
	assert.Empty(t, mirror.records)

	// Collected records are salvaged by an append.
	assert.ElementsMatch(t, []uint64{1, 2, 3, 4}, rowIDs(store.Snapshot()))
}

func TestFillGapsCancellationKeepsCollectedWork(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	fetcher := newStubFetcher(func(_ context.Context, id uint64) crawler.Outcome {
		if id == 3 {
			cancel()
		}
		return crawler.Found(crawler.Record{ID: id, DisplayName: "p"}, 200)
	})
	store := memory.NewRecordStore(table.Table{})
	r := newRunner(t, Config{}, store, fetcher, 1)

	report, err := r.FillGaps(ctx, 1, 50)
	require.Error(t, err)
	assert.ErrorIs(t, err, context.Canceled)
	assert.True(t, report.Canceled)

	ids := rowIDs(store.Snapshot())
	assert.Subset(t, ids, []uint64{1, 2, 3})
	assert.Len(t, ids, report.Discovered)
	assert.Less(t, len(ids), 50)
}

func TestRecheckReplacesPlaceholderInPlace(t *testing.T) {
	t.Parallel()

	store := memory.NewRecordStore(seeded(
		[]string{"41", "Someone", "2019-01-01"},
		[]string{"42", "anonymous#7", ""},
		[]string{"43", "Other"},
	))
	fetcher := newStubFetcher(func(_ context.Context, id uint64) crawler.Outcome {
		return crawler.Found(crawler.Record{ID: id, DisplayName: "RealName", Registered: "2020-05-05"}, 200)
	})
	pauser := &recordingPauser{}
	r := newRunner(t, Config{}, store, fetcher, 2, WithPauser(pauser))

	report, err := r.RecheckProvisional(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []uint64{42}, fetcher.called())
	assert.Equal(t, 1, report.Confirmed)
	assert.Equal(t, 0, report.StillProvisional)
	assert.Equal(t, 1, report.Passes)
	assert.Empty(t, pauser.delays)

	snap := store.Snapshot()
	require.Len(t, snap.Rows, 3)
	assert.Equal(t, "42", snap.Rows[1].Cell(0))
	assert.Equal(t, "RealName", snap.Rows[1].Cell(1))
	assert.Equal(t, "2020-05-05", snap.Rows[1].Cell(2))
}

func TestRecheckStillProvisionalLeavesStoreUntouched(t *testing.T) {
	t.Parallel()

	store := memory.NewRecordStore(seeded([]string{"42", "anonymous#7"}))
	fetcher := newStubFetcher(named("anonymous#7"))
	pauser := &recordingPauser{}
	cfg := Config{RecheckMaxPasses: 3, RecheckInterval: 2 * time.Second}
	r := newRunner(t, cfg, store, fetcher, 1, WithPauser(pauser))

	report, err := r.RecheckProvisional(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 3, report.Passes)
	assert.Equal(t, 0, report.Confirmed)
	assert.Equal(t, 1, report.StillProvisional)
	assert.Equal(t, []time.Duration{2 * time.Second, 2 * time.Second}, pauser.delays)

	_, rewrites := store.Calls()
	assert.Equal(t, 1, rewrites)
	assert.Equal(t, "anonymous#7", store.Snapshot().Rows[0].Cell(1))
}

func TestRecheckNotFoundIsNoop(t *testing.T) {
	t.Parallel()

	store := memory.NewRecordStore(seeded([]string{"9", "Anonymous#1"}))
	fetcher := newStubFetcher(func(_ context.Context, id uint64) crawler.Outcome {
		return crawler.NotFound(id, 404)
	})
	r := newRunner(t, Config{RecheckMaxPasses: 1}, store, fetcher, 1)

	report, err := r.RecheckProvisional(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, report.NotFound)
	assert.Equal(t, "Anonymous#1", store.Snapshot().Rows[0].Cell(1))
}

func TestSideEffectsRunAfterWrite(t *testing.T) {
	t.Parallel()

	fixed := time.Date(2026, 10, 15, 12, 0, 0, 0, time.UTC)
	store := memory.NewRecordStore(table.Table{})
	mirror := &recordingMirror{}
	blobs := memory.NewBlobStore()
	pub := pubmemory.New()
	r := newRunner(t, Config{PublishTopic: "roster-runs"}, store, newStubFetcher(named("p")), 2,
		WithMirror(mirror), WithSnapshots(blobs), WithPublisher(pub),
		WithClock(func() time.Time { return fixed }),
	)

	report, err := r.FillGaps(context.Background(), 1, 3)
	require.NoError(t, err)

	assert.Len(t, mirror.records, 3)

	wantPath := "snapshots/2026/10/15/" + report.RunID + ".csv"
	data, ok := blobs.Object(wantPath)
	require.True(t, ok, "snapshot missing at %s; have %v", wantPath, blobs.Paths())
	assert.Equal(t, "memory://"+wantPath, report.SnapshotURI)
	encoded, err := csvfile.Encode(store.Snapshot())
	require.NoError(t, err)
	assert.Equal(t, encoded, data)
	assert.Equal(t, sha256.New().Hash(data), report.SnapshotSHA256)

	msgs := pub.Messages()
	require.Len(t, msgs, 1)
	assert.Equal(t, "roster-runs", msgs[0].Topic)
	published, ok := msgs[0].Payload.(Report)
	require.True(t, ok)
	assert.Equal(t, report.RunID, published.RunID)
	assert.Equal(t, 3, published.Discovered)
	assert.Equal(t, report.SnapshotSHA256, published.SnapshotSHA256)
}

func TestSideEffectFailuresAreNotFatal(t *testing.T) {
	t.Parallel()

	store := memory.NewRecordStore(table.Table{})
	mirror := &recordingMirror{err: errors.New("db down")}
	pub := pubmemory.New()
	pub.FailWith(errors.New("topic gone"))
	r := newRunner(t, Config{PublishTopic: "roster-runs"}, store, newStubFetcher(named("p")), 1,
		WithMirror(mirror), WithPublisher(pub),
	)

	report, err := r.FillGaps(context.Background(), 1, 2)
	require.NoError(t, err)
	assert.Equal(t, 2, report.Discovered)
	assert.Len(t, store.Snapshot().Rows, 2)
}

func TestCompactNormalizesStore(t *testing.T) {
	t.Parallel()

	store := memory.NewRecordStore(seeded(
		[]string{"10", "ten"},
		[]string{"", ""},
		[]string{"id-3", "three"},
		[]string{"oops", "bad"},
		[]string{"10", "ten again"},
		[]string{"2", "anonymous#2"},
	))
	r, err := New(Config{}, store, nil, nil, zap.NewNop())
	require.NoError(t, err)

	report, err := r.Compact(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, report.Invalid)
	assert.Equal(t, 1, report.DuplicatesRemoved)
	assert.Equal(t, 1, report.BlankDropped)
	assert.Equal(t, 3, report.TotalRecords)
	assert.Equal(t, 1, report.StillProvisional)

	snap := store.Snapshot()
	require.Len(t, snap.Rows, 4)
	assert.Equal(t, []uint64{2, 3, 10}, rowIDs(snap)[:3])
	assert.Equal(t, "ten", snap.Rows[2].Cell(1))
	assert.Equal(t, "oops", snap.Rows[3].Cell(0))
}

func TestRunRefusesLockedStore(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "roster.csv")
	holder, err := csvfile.New(csvfile.Config{Path: path}, zap.NewNop())
	require.NoError(t, err)
	require.NoError(t, holder.Lock())
	t.Cleanup(func() { _ = holder.Unlock() })

	other, err := csvfile.New(csvfile.Config{Path: path}, zap.NewNop())
	require.NoError(t, err)
	r, err := New(Config{}, other, nil, nil, zap.NewNop())
	require.NoError(t, err)

	_, err = r.Compact(context.Background())
	require.Error(t, err)
	assert.ErrorIs(t, err, csvfile.ErrLocked)

	require.NoError(t, holder.Unlock())
	_, err = r.Compact(context.Background())
	require.NoError(t, err)
	assert.NoFileExists(t, other.LockPath())
}
