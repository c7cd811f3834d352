package crawler

import (
	"context"
	"io"
	"time"
)

// Transport performs one GET. HTTP error statuses are returned in the
// Response; only network-level failures are errors.
type Transport interface {
	Get(ctx context.Context, url string) (Response, error)
}

// Parser extracts a record from a profile page. It returns false when the
// expected page markers are absent.
type Parser interface {
	Parse(body []byte, id uint64) (Record, bool)
}

// Fetcher performs one remote lookup for an ID.
type Fetcher interface {
	Fetch(ctx context.Context, id uint64) Outcome
}

// RetryPolicy decides whether and when a lookup is retried.
type RetryPolicy interface {
	// ShouldRetry is consulted after attempt (0-based) returned status/err.
	ShouldRetry(status int, err error, attempt int) bool
	// Backoff returns the wait before the attempt following attempt.
	Backoff(attempt int) time.Duration
	// RetriesStatus reports whether status is in the retryable set.
	RetriesStatus(status int) bool
}

// Queue is the bounded hand-off between the dispatcher's feeder and its workers.
type Queue interface {
	Enqueue(ctx context.Context, id uint64) error
	// Dequeue returns ErrQueueClosed once the queue is closed and drained.
	Dequeue(ctx context.Context) (uint64, error)
	Close()
}

// Pauser sleeps for a duration or until the context ends.
type Pauser interface {
	Pause(ctx context.Context, delay time.Duration) error
}

// Mirror replicates persisted records into a secondary store.
type Mirror interface {
	UpsertRecords(ctx context.Context, records []Record) error
}

// BlobStore writes raw artifacts and returns a URI.
type BlobStore interface {
	PutObject(ctx context.Context, path string, contentType string, data io.Reader) (string, error)
}

// Publisher pushes completion events to Pub/Sub (or similar).
type Publisher interface {
	Publish(ctx context.Context, topic string, payload any) (string, error)
}
