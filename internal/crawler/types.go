package crawler

import (
	"encoding/json"
	"strconv"
	"strings"
	"time"
)

// Column names of the persisted roster file.
const (
	ColumnID         = "User ID"
	ColumnName       = "Enkord account full name"
	ColumnRegistered = "Registered"
	ColumnGames      = "Accounts in games"
)

// DefaultPlaceholderPrefix marks a display name the remote service has not confirmed yet.
const DefaultPlaceholderPrefix = "anonymous#"

// DefaultHeader is written when the store file is absent or empty.
func DefaultHeader() []string {
	return []string{ColumnID, ColumnName, ColumnRegistered, ColumnGames}
}

// GameAccounts lists the in-game accounts shown for one game on a profile page.
type GameAccounts struct {
	Game     string   `json:"game"`
	Accounts []string `json:"accounts"`
}

// Record is one discovered profile.
type Record struct {
	ID          uint64         `json:"id"`
	DisplayName string         `json:"display_name"`
	Registered  string         `json:"registered,omitempty"`
	Games       []GameAccounts `json:"games,omitempty"`
}

// IsProvisional reports whether name still carries the placeholder prefix.
// Comparison ignores case and surrounding whitespace.
func IsProvisional(name, prefix string) bool {
	if prefix == "" {
		prefix = DefaultPlaceholderPrefix
	}
	return strings.HasPrefix(
		strings.ToLower(strings.TrimSpace(name)),
		strings.ToLower(strings.TrimSpace(prefix)),
	)
}

// Row renders the record as a CSV row. The games column is emitted only when
// the record carries game listings.
func (r Record) Row() []string {
	row := []string{strconv.FormatUint(r.ID, 10), r.DisplayName, r.Registered}
	if len(r.Games) == 0 {
		return row
	}
	encoded, err := json.Marshal(r.Games)
	if err != nil {
		return row
	}
	return append(row, string(encoded))
}

// RecordFromRow decodes a row whose first cell already holds a canonical ID.
// Missing trailing cells degrade to empty values; an undecodable games cell is ignored.
func RecordFromRow(row []string) (Record, error) {
	if len(row) == 0 {
		return Record{}, &MalformedRecordError{Raw: ""}
	}
	id, err := strconv.ParseUint(strings.TrimSpace(row[0]), 10, 64)
	if err != nil {
		return Record{}, &MalformedRecordError{Raw: row[0]}
	}
	rec := Record{ID: id}
	if len(row) > 1 {
		rec.DisplayName = row[1]
	}
	if len(row) > 2 {
		rec.Registered = row[2]
	}
	if len(row) > 3 && strings.HasPrefix(strings.TrimSpace(row[3]), "[") {
		var games []GameAccounts
		if json.Unmarshal([]byte(row[3]), &games) == nil {
			rec.Games = games
		}
	}
	return rec, nil
}

// Response is the raw result of one remote lookup.
type Response struct {
	URL        string
	StatusCode int
	Body       []byte
	Duration   time.Duration
	Attempts   int
}

// OutcomeKind classifies a fetch.
type OutcomeKind int

// Fetch outcome kinds.
const (
	OutcomeFound OutcomeKind = iota + 1
	OutcomeNotFound
	OutcomeRateLimited
	OutcomeTransientFailure
)

func (k OutcomeKind) String() string {
	switch k {
	case OutcomeFound:
		return "found"
	case OutcomeNotFound:
		return "not_found"
	case OutcomeRateLimited:
		return "rate_limited"
	case OutcomeTransientFailure:
		return "transient_failure"
	default:
		return "unknown"
	}
}

// Outcome is the value returned by a fetch. NotFound and TransientFailure are
// values here, never errors raised to the caller.
type Outcome struct {
	Kind       OutcomeKind
	ID         uint64
	Record     Record
	StatusCode int
	Attempts   int
	Cause      error
}

// Found builds a successful outcome.
func Found(rec Record, status int) Outcome {
	return Outcome{Kind: OutcomeFound, ID: rec.ID, Record: rec, StatusCode: status}
}

// NotFound builds a not-found outcome.
func NotFound(id uint64, status int) Outcome {
	return Outcome{Kind: OutcomeNotFound, ID: id, StatusCode: status, Cause: ErrNotFound}
}

// RateLimited builds a rate-limited outcome.
func RateLimited(id uint64, status int) Outcome {
	return Outcome{Kind: OutcomeRateLimited, ID: id, StatusCode: status, Cause: ErrRateLimited}
}

// TransientFailure builds a failure outcome that is eligible for a later run.
func TransientFailure(id uint64, cause error) Outcome {
	out := Outcome{Kind: OutcomeTransientFailure, ID: id, Cause: cause}
	if te, ok := AsTransient(cause); ok {
		out.StatusCode = te.StatusCode
		out.Attempts = te.Attempts
	}
	return out
}
