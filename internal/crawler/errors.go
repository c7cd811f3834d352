package crawler

import (
	"errors"
	"fmt"
)

var (
	// ErrNotFound means the remote service has no profile for the ID.
	ErrNotFound = errors.New("profile not found")
	// ErrRateLimited means the remote service asked the caller to back off.
	ErrRateLimited = errors.New("rate limited by remote service")
	// ErrQueueClosed is returned by Queue.Dequeue after Close once drained.
	ErrQueueClosed = errors.New("queue closed")
)

// TransientError is a network or server failure that survived the retry policy.
type TransientError struct {
	StatusCode int
	Attempts   int
	Err        error
}

func (e *TransientError) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("transient failure after %d attempt(s): status %d: %v", e.Attempts, e.StatusCode, e.Err)
	}
	return fmt.Sprintf("transient failure after %d attempt(s): %v", e.Attempts, e.Err)
}

func (e *TransientError) Unwrap() error {
	return e.Err
}

// AsTransient extracts a TransientError from err's chain.
func AsTransient(err error) (*TransientError, bool) {
	var te *TransientError
	if errors.As(err, &te) {
		return te, true
	}
	return nil, false
}

// MalformedRecordError marks a stored row whose ID cannot be parsed.
// Such rows are preserved in the invalid tail, never dropped.
type MalformedRecordError struct {
	Index int
	Raw   string
}

func (e *MalformedRecordError) Error() string {
	return fmt.Sprintf("malformed record at row %d: id %q is not a non-negative integer", e.Index, e.Raw)
}

// StoreIOError is a failure to read or write the persistent store. It is fatal to a run.
type StoreIOError struct {
	Op   string
	Path string
	Err  error
}

func (e *StoreIOError) Error() string {
	return fmt.Sprintf("store %s %s: %v", e.Op, e.Path, e.Err)
}

func (e *StoreIOError) Unwrap() error {
	return e.Err
}

// IsStoreIO reports whether err is a StoreIOError.
func IsStoreIO(err error) bool {
	var se *StoreIOError
	return errors.As(err, &se)
}
