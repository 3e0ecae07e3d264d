package reports

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/mesadb/mesa"
)

// RunResult is the outcome of one report evaluation, stamped with a fresh
// run ID and the identity of the snapshot it read.
type RunResult struct {
	Report     string
	RunID      uuid.UUID
	SnapshotID uuid.UUID
	StartedAt  time.Time
	Duration   time.Duration
	Result     *mesa.ResultSet
	Err        error
}

// Rows returns the number of result rows, zero when the run failed.
func (rr *RunResult) Rows() int {
	if rr.Result == nil {
		return 0
	}
	return len(rr.Result.Rows)
}

// Catalog is a named collection of reports with a shared plan cache.
// Registration order is remembered and drives listing and RunAll order.
type Catalog struct {
	mu     sync.RWMutex
	byName map[string]*Report
	order  []string
	plans  *PlanCache
}

// NewCatalog creates an empty catalog.
func NewCatalog() *Catalog {
	return &Catalog{
		byName: make(map[string]*Report),
		plans:  NewPlanCache(0),
	}
}

// DefaultCatalog creates a catalog holding the canonical delivery reports.
func DefaultCatalog() *Catalog {
	c := NewCatalog()
	for _, r := range All() {
		c.MustRegister(r)
	}
	return c
}

// Register adds a report to the catalog. Names are unique; registering a
// name twice is an error.
func (c *Catalog) Register(r *Report) error {
	if r == nil || r.Name == "" {
		return fmt.Errorf("report needs a name")
	}
	if r.Build == nil {
		return fmt.Errorf("report %q has no plan constructor", r.Name)
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, exists := c.byName[r.Name]; exists {
		return fmt.Errorf("report %q already registered", r.Name)
	}
	c.byName[r.Name] = r
	c.order = append(c.order, r.Name)
	return nil
}

// MustRegister is like Register but panics on error. Useful for static
// catalog setup.
func (c *Catalog) MustRegister(r *Report) {
	if err := c.Register(r); err != nil {
		panic(err)
	}
}

// Get returns the named report.
func (c *Catalog) Get(name string) (*Report, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	r, ok := c.byName[name]
	return r, ok
}

// Names returns the report names in registration order.
func (c *Catalog) Names() []string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make([]string, len(c.order))
	copy(out, c.order)
	return out
}

// SortedNames returns the report names alphabetically, for display.
func (c *Catalog) SortedNames() []string {
	names := c.Names()
	sort.Strings(names)
	return names
}

// Run evaluates one report against the snapshot. The returned RunResult
// carries the evaluation error if any; the error return is reserved for an
// unknown report name.
func (c *Catalog) Run(ctx context.Context, snap *mesa.Snapshot, name string, p Params) (*RunResult, error) {
	r, ok := c.Get(name)
	if !ok {
		return nil, fmt.Errorf("unknown report %q", name)
	}
	return c.run(ctx, snap, r, p), nil
}

func (c *Catalog) run(ctx context.Context, snap *mesa.Snapshot, r *Report, p Params) *RunResult {
	rr := &RunResult{
		Report:     r.Name,
		RunID:      uuid.New(),
		SnapshotID: snap.ID(),
		StartedAt:  time.Now(),
	}
	prepared, err := c.plans.Prepare(snap, r, p)
	if err != nil {
		rr.Err = err
		rr.Duration = time.Since(rr.StartedAt)
		return rr
	}
	rs, err := mesa.EvaluatePlan(ctx, snap, &prepared.Query)
	rr.Result = rs
	rr.Err = err
	rr.Duration = time.Since(rr.StartedAt)
	return rr
}

// RunAll evaluates every report in parallel and returns the results in
// registration order. Reports are independent and evaluation is read-only,
// so they share the snapshot without coordination.
func (c *Catalog) RunAll(ctx context.Context, snap *mesa.Snapshot, p Params) []*RunResult {
	names := c.Names()
	results := make([]*RunResult, len(names))

	var wg sync.WaitGroup
	for i, name := range names {
		r, ok := c.Get(name)
		if !ok {
			continue
		}
		wg.Add(1)
		go func(i int, r *Report) {
			defer wg.Done()
			results[i] = c.run(ctx, snap, r, p)
		}(i, r)
	}
	wg.Wait()
	return results
}
