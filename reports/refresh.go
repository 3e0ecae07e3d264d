package reports

import (
	"context"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/robfig/cron/v3"

	"github.com/mesadb/mesa"
)

// ==================== Catalog Refresher ====================
// Re-evaluates the whole catalog on a CRON schedule against whatever
// snapshot the source currently serves.

// SnapshotSource supplies the snapshot a refresh run should read. Sources
// swap in new snapshots between runs; a single run always sees one
// consistent snapshot.
type SnapshotSource interface {
	Snapshot() *mesa.Snapshot
}

// SnapshotFunc adapts a function to the SnapshotSource interface.
type SnapshotFunc func() *mesa.Snapshot

// Snapshot returns fn().
func (fn SnapshotFunc) Snapshot() *mesa.Snapshot { return fn() }

// Refresh is the outcome of one refresh run over the whole catalog.
type Refresh struct {
	RunID      uuid.UUID
	SnapshotID uuid.UUID
	StartedAt  time.Time
	Duration   time.Duration
	Results    []*RunResult
}

// Failed counts the reports that errored during the run.
func (rf *Refresh) Failed() int {
	n := 0
	for _, rr := range rf.Results {
		if rr != nil && rr.Err != nil {
			n++
		}
	}
	return n
}

// Refresher re-evaluates a catalog on a schedule and keeps the latest
// outcome for readers.
type Refresher struct {
	catalog *Catalog
	source  SnapshotSource
	params  Params
	cron    *cron.Cron
	mu      sync.RWMutex
	last    *Refresh
	entry   cron.EntryID
	onRun   func(*Refresh)
	started bool
}

// NewRefresher creates a refresher over the catalog and snapshot source.
// The params apply to every scheduled run.
func NewRefresher(catalog *Catalog, source SnapshotSource, params Params) *Refresher {
	return &Refresher{
		catalog: catalog,
		source:  source,
		params:  params,
		cron:    cron.New(cron.WithLocation(time.UTC), cron.WithSeconds()),
	}
}

// OnRun installs a callback invoked after every refresh run with its
// outcome. Install before Start.
func (r *Refresher) OnRun(fn func(*Refresh)) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.onRun = fn
}

// Start schedules refresh runs under the CRON expression (six fields, with
// seconds) and begins the loop.
func (r *Refresher) Start(cronExpr string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.started {
		return fmt.Errorf("refresher already started")
	}

	id, err := r.cron.AddFunc(cronExpr, func() {
		r.RunOnce(context.Background())
	})
	if err != nil {
		return fmt.Errorf("invalid CRON expression %q: %w", cronExpr, err)
	}
	r.entry = id
	r.cron.Start()
	r.started = true

	log.Printf("[refresh] scheduler started, %d reports on %q", len(r.catalog.Names()), cronExpr)
	return nil
}

// Stop halts the schedule and waits for an in-flight run to finish.
func (r *Refresher) Stop() {
	r.mu.Lock()
	if !r.started {
		r.mu.Unlock()
		return
	}
	r.started = false
	r.mu.Unlock()

	ctx := r.cron.Stop()
	<-ctx.Done()
	log.Println("[refresh] scheduler stopped")
}

// RunOnce refreshes the catalog immediately, outside the schedule, and
// records the outcome as the latest run. A source that currently has no
// snapshot skips the run and leaves the previous outcome in place.
func (r *Refresher) RunOnce(ctx context.Context) *Refresh {
	snap := r.source.Snapshot()
	if snap == nil {
		log.Printf("[refresh] run skipped: source has no snapshot")
		return nil
	}
	rf := &Refresh{
		RunID:      uuid.New(),
		SnapshotID: snap.ID(),
		StartedAt:  time.Now(),
	}
	rf.Results = r.catalog.RunAll(ctx, snap, r.params)
	rf.Duration = time.Since(rf.StartedAt)

	r.mu.Lock()
	r.last = rf
	cb := r.onRun
	r.mu.Unlock()

	if failed := rf.Failed(); failed > 0 {
		log.Printf("[refresh] run %s: %d reports, %d failed, snapshot %s, %s",
			rf.RunID, len(rf.Results), failed, rf.SnapshotID, rf.Duration)
	} else {
		log.Printf("[refresh] run %s: %d reports, snapshot %s, %s",
			rf.RunID, len(rf.Results), rf.SnapshotID, rf.Duration)
	}

	if cb != nil {
		cb(rf)
	}
	return rf
}

// Last returns the most recent refresh outcome, or nil before the first
// run.
func (r *Refresher) Last() *Refresh {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.last
}
