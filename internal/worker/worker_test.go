package worker

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/JakeFAU/tt2-roster/internal/crawler"
	"github.com/JakeFAU/tt2-roster/internal/queue/memory"
)

type fakeFetcher struct {
	mu    sync.Mutex
	calls []uint64
}

func (f *fakeFetcher) Fetch(_ context.Context, id uint64) crawler.Outcome {
	f.mu.Lock()
	f.calls = append(f.calls, id)
	f.mu.Unlock()
	return crawler.Found(crawler.Record{ID: id, DisplayName: "n"}, 200)
}

func fill(t *testing.T, ids ...uint64) *memory.Queue {
	t.Helper()
	q := memory.NewQueue(len(ids))
	for _, id := range ids {
		require.NoError(t, q.Enqueue(context.Background(), id))
	}
	q.Close()
	return q
}

func TestWorkerDrainsQueueThenStops(t *testing.T) {
	t.Parallel()

	q := fill(t, 1, 2, 3)
	results := make(chan ItemResult, 3)
	f := &fakeFetcher{}
	w := New(0, q, FetchHandler(f), results, zap.NewNop())

	done := make(chan struct{})
	go func() {
		w.Run(context.Background())
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("worker did not stop after queue closed")
	}
	close(results)

	var got []uint64
	for r := range results {
		require.NoError(t, r.Err)
		assert.Equal(t, crawler.OutcomeFound, r.Outcome.Kind)
		got = append(got, r.ID)
	}
	assert.Equal(t, []uint64{1, 2, 3}, got)
}

func TestWorkerIsolatesErrorsAndPanics(t *testing.T) {
	t.Parallel()

	q := fill(t, 7, 8, 9)
	results := make(chan ItemResult, 3)
	handler := HandlerFunc(func(_ context.Context, id uint64) (crawler.Outcome, error) {
		switch id {
		case 7:
			return crawler.Outcome{}, errors.New("boom")
		case 8:
			panic("unexpected page")
		default:
			return crawler.Found(crawler.Record{ID: id, DisplayName: "ok"}, 200), nil
		}
	})
	New(1, q, handler, results, nil).Run(context.Background())
	close(results)

	byID := map[uint64]ItemResult{}
	for r := range results {
		byID[r.ID] = r
	}
	require.Len(t, byID, 3)
	assert.ErrorContains(t, byID[7].Err, "boom")
	assert.ErrorContains(t, byID[8].Err, "panic")
	assert.NoError(t, byID[9].Err)
}

func TestWorkerStopsOnCancel(t *testing.T) {
	t.Parallel()

	q := memory.NewQueue(1)
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		New(0, q, FetchHandler(&fakeFetcher{}), make(chan ItemResult), nil).Run(ctx)
		close(done)
	}()
	cancel()
	require.Eventually(t, func() bool {
		select {
		case <-done:
			return true
		default:
			return false
		}
	}, time.Second, 10*time.Millisecond)
}

func TestWorkerWithoutHandlerReportsError(t *testing.T) {
	t.Parallel()

	results := make(chan ItemResult, 1)
	New(0, fill(t, 5), nil, results, nil).Run(context.Background())
	r := <-results
	assert.Equal(t, uint64(5), r.ID)
	assert.Error(t, r.Err)
}
