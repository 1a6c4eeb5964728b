// Package query ties a changing search filter to a single in-flight directory
// search and publishes normalized results.
//
// Every call to Submit gets a sequence number. Submitting cancels the search
// started for the previous filter, and a search result is only published if
// its sequence number is still the latest one. Results for stale filters are
// dropped even when the underlying search ignores cancellation.
package query

import (
	"context"
	"strings"
	"sync"
	"time"
	"unicode/utf8"

	"github.com/hashicorp/terraform-plugin-log/tflog"

	"github.com/isometry/dirsearch/internal/table"
)

// Subsystem is the logging subsystem of the orchestrator.
const Subsystem = "query"

// Config controls how results are searched and shaped.
type Config struct {
	Directories     []table.Directory // Directories and their column lists, in display order
	WidthPolicy     table.WidthPolicy
	Placeholder     string
	MinFilterLength int           // Filters with fewer runes are not searched
	Timeout         time.Duration // Per-search deadline, 0 for none
}

// Orchestrator owns the current filter and its search.
type Orchestrator struct {
	searcher Searcher
	config   Config
	ctx      context.Context // Parent of every search, carries logging subsystems

	mu      sync.Mutex
	seq     uint64
	cancel  context.CancelFunc
	current Snapshot
	changed chan struct{}
	updates chan Snapshot
	stats   Stats
	closed  bool

	wg sync.WaitGroup
}

// New creates an orchestrator. ctx is the parent context for all searches.
func New(ctx context.Context, searcher Searcher, config Config) *Orchestrator {
	return &Orchestrator{
		searcher: searcher,
		config:   config,
		ctx:      ctx,
		changed:  make(chan struct{}),
		updates:  make(chan Snapshot, 1),
	}
}

// Updates returns a channel carrying the latest snapshot after every state
// change. Only the most recent undelivered snapshot is kept. The channel is
// closed by Close.
func (o *Orchestrator) Updates() <-chan Snapshot {
	return o.updates
}

// Snapshot returns the current state.
func (o *Orchestrator) Snapshot() Snapshot {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.current
}

// Stats returns activity counters.
func (o *Orchestrator) Stats() Stats {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.stats
}

// Submit replaces the current filter and starts a search for it, cancelling
// any search still running for an earlier filter. It returns the sequence
// number of the submission. Identical consecutive filters are searched again.
func (o *Orchestrator) Submit(filter string) uint64 {
	o.mu.Lock()
	defer o.mu.Unlock()

	if o.closed {
		return o.seq
	}

	o.seq++
	seq := o.seq
	o.stats.Submitted++

	if o.cancel != nil {
		o.cancel()
		o.cancel = nil
	}

	if utf8.RuneCountInString(strings.TrimSpace(filter)) < o.config.MinFilterLength {
		tflog.SubsystemTrace(o.ctx, Subsystem, "Filter below minimum length, not searching", map[string]any{
			"seq":        seq,
			"min_length": o.config.MinFilterLength,
		})
		o.publishLocked(Snapshot{Status: StatusIdle, Filter: filter, Seq: seq})
		return seq
	}

	var ctx context.Context
	var cancel context.CancelFunc
	if o.config.Timeout > 0 {
		ctx, cancel = context.WithTimeout(o.ctx, o.config.Timeout)
	} else {
		ctx, cancel = context.WithCancel(o.ctx)
	}
	o.cancel = cancel
	o.stats.Searches++

	started := time.Now()
	o.publishLocked(Snapshot{Status: StatusPending, Filter: filter, Seq: seq, Started: started})

	tflog.SubsystemDebug(o.ctx, Subsystem, "Search submitted", map[string]any{
		"seq":    seq,
		"filter": filter,
	})

	o.wg.Add(1)
	go o.run(ctx, cancel, seq, filter, started)

	return seq
}

// run performs the search for one submission. Normalization happens here, off
// the caller's goroutine, so a published snapshot is complete.
func (o *Orchestrator) run(ctx context.Context, cancel context.CancelFunc, seq uint64, filter string, started time.Time) {
	defer o.wg.Done()
	defer cancel()

	raw, err := o.searcher.Search(ctx, filter)

	var agg *table.Aggregate
	if err == nil {
		agg, err = table.Build(ctx, o.config.Directories, raw, o.config.WidthPolicy,
			table.WithPlaceholder(o.config.Placeholder))
	}

	o.complete(seq, filter, started, agg, err)
}

func (o *Orchestrator) complete(seq uint64, filter string, started time.Time, agg *table.Aggregate, err error) {
	o.mu.Lock()
	defer o.mu.Unlock()

	elapsed := time.Since(started)
	fields := map[string]any{
		"seq":         seq,
		"filter":      filter,
		"duration_ms": elapsed.Milliseconds(),
	}

	if o.closed {
		return
	}

	if seq != o.seq {
		o.stats.Stale++
		fields["latest_seq"] = o.seq
		tflog.SubsystemDebug(o.ctx, Subsystem, "Dropping result for superseded filter", fields)
		return
	}

	o.cancel = nil

	if err != nil {
		o.stats.Failed++
		fields["error"] = err.Error()
		tflog.SubsystemWarn(o.ctx, Subsystem, "Search failed", fields)
		o.publishLocked(Snapshot{
			Status:  StatusFailed,
			Filter:  filter,
			Seq:     seq,
			Err:     &QueryError{Filter: filter, Seq: seq, Err: err},
			Started: started,
			Elapsed: elapsed,
		})
		return
	}

	o.stats.Completed++
	fields["matches"] = agg.Matches()
	tflog.SubsystemDebug(o.ctx, Subsystem, "Search completed", fields)
	o.publishLocked(Snapshot{
		Status:    StatusReady,
		Filter:    filter,
		Seq:       seq,
		Aggregate: agg,
		Started:   started,
		Elapsed:   elapsed,
	})
}

// publishLocked swaps the current snapshot, wakes Await callers and offers the
// snapshot on the updates channel, replacing any undelivered one.
func (o *Orchestrator) publishLocked(snap Snapshot) {
	o.current = snap
	close(o.changed)
	o.changed = make(chan struct{})

	select {
	case o.updates <- snap:
	default:
		select {
		case <-o.updates:
		default:
		}
		o.updates <- snap
	}
}

// Await blocks until the submission identified by seq reaches a terminal
// state and returns that snapshot. If a newer filter is submitted first it
// returns the newer snapshot and ErrSuperseded.
func (o *Orchestrator) Await(ctx context.Context, seq uint64) (Snapshot, error) {
	for {
		o.mu.Lock()
		snap, changed, closed := o.current, o.changed, o.closed
		o.mu.Unlock()

		switch {
		case snap.Seq > seq:
			return snap, ErrSuperseded
		case snap.Seq == seq && snap.Status.Terminal():
			return snap, nil
		case closed:
			return snap, ErrClosed
		}

		select {
		case <-changed:
		case <-ctx.Done():
			return snap, ctx.Err()
		}
	}
}

// Close cancels the running search, waits for it to return and closes the
// updates channel. Submit is a no-op afterwards.
func (o *Orchestrator) Close() {
	o.mu.Lock()
	if o.closed {
		o.mu.Unlock()
		return
	}
	o.closed = true
	if o.cancel != nil {
		o.cancel()
		o.cancel = nil
	}
	close(o.changed)
	o.mu.Unlock()

	o.wg.Wait()
	close(o.updates)
}
