package query

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/isometry/dirsearch/internal/table"
)

// Searcher runs one search against every configured directory and returns the
// raw records per directory.
type Searcher interface {
	Search(ctx context.Context, filter string) (map[table.DirectoryID][]table.Record, error)
}

// SearcherFunc adapts a function to the Searcher interface.
type SearcherFunc func(ctx context.Context, filter string) (map[table.DirectoryID][]table.Record, error)

func (f SearcherFunc) Search(ctx context.Context, filter string) (map[table.DirectoryID][]table.Record, error) {
	return f(ctx, filter)
}

// Status is the state of the most recent filter submission.
type Status int

const (
	StatusIdle    Status = iota // Nothing submitted, or filter too short to search
	StatusPending               // Search in progress
	StatusReady                 // Search completed, Aggregate is set
	StatusFailed                // Search failed, Err is set
)

// String returns string representation of the status.
func (s Status) String() string {
	switch s {
	case StatusIdle:
		return "idle"
	case StatusPending:
		return "pending"
	case StatusReady:
		return "ready"
	case StatusFailed:
		return "failed"
	default:
		return "unknown"
	}
}

// Terminal reports whether no further update is expected for the submission.
func (s Status) Terminal() bool {
	return s != StatusPending
}

// Snapshot is the published state of the orchestrator. Snapshots are values:
// the aggregate they carry is never modified after publication.
type Snapshot struct {
	Status    Status
	Filter    string
	Seq       uint64
	Aggregate *table.Aggregate // Set only when Status is StatusReady
	Err       error            // Set only when Status is StatusFailed
	Started   time.Time
	Elapsed   time.Duration
}

// Stats counts orchestrator activity since creation.
type Stats struct {
	Submitted int64 // Filters submitted
	Searches  int64 // Searches started
	Completed int64 // Results published as ready
	Failed    int64 // Failures published
	Stale     int64 // Results dropped because a newer filter was submitted
}

var (
	// ErrSuperseded is returned by Await when a newer filter replaced the awaited one.
	ErrSuperseded = errors.New("query superseded by a newer filter")

	// ErrClosed is returned by Await once the orchestrator is closed.
	ErrClosed = errors.New("query orchestrator closed")
)

// QueryError reports a failed directory search for one filter submission.
type QueryError struct {
	Filter string
	Seq    uint64
	Err    error
}

func (e *QueryError) Error() string {
	if e.Timeout() {
		return fmt.Sprintf("search for %q timed out", e.Filter)
	}
	return fmt.Sprintf("search for %q failed: %v", e.Filter, e.Err)
}

func (e *QueryError) Unwrap() error {
	return e.Err
}

// Timeout reports whether the search hit its deadline.
func (e *QueryError) Timeout() bool {
	return errors.Is(e.Err, context.DeadlineExceeded)
}
