package reports

import (
	"fmt"
	"sync"
	"time"

	"github.com/mesadb/mesa"
)

// PreparedPlan is a built and validated plan ready for evaluation. Plans
// can bind data collected from a snapshot (key sets), so a prepared plan
// belongs to the snapshot it was prepared against and its cache key says
// which one.
type PreparedPlan struct {
	Key        string
	Report     string
	Query      mesa.Query
	PreparedAt time.Time
}

// PlanCache stores prepared plans keyed by snapshot, report and params.
// Preparation builds and validates the plan once; repeat runs of a catalog
// against the same snapshot skip both steps. A simple FIFO eviction based
// on oldest PreparedAt keeps the cache within a fixed size.
type PlanCache struct {
	mu      sync.RWMutex
	plans   map[string]*PreparedPlan
	maxSize int
}

// NewPlanCache creates a new plan cache with the specified maximum size.
func NewPlanCache(maxSize int) *PlanCache {
	if maxSize <= 0 {
		maxSize = 256 // default cache size
	}
	return &PlanCache{
		plans:   make(map[string]*PreparedPlan),
		maxSize: maxSize,
	}
}

// Prepare builds, validates and caches a report's plan for the snapshot.
func (pc *PlanCache) Prepare(snap *mesa.Snapshot, r *Report, p Params) (*PreparedPlan, error) {
	key := snap.ID().String() + "\x1f" + r.Name + "\x1f" + p.fingerprint()

	pc.mu.RLock()
	if cached, exists := pc.plans[key]; exists {
		pc.mu.RUnlock()
		return cached, nil
	}
	pc.mu.RUnlock()

	qb, err := r.Build(snap, p)
	if err != nil {
		return nil, fmt.Errorf("prepare %s: %w", r.Name, err)
	}
	q := qb.Build()
	if err := q.Validate(); err != nil {
		return nil, fmt.Errorf("prepare %s: %w", r.Name, err)
	}

	prepared := &PreparedPlan{
		Key:        key,
		Report:     r.Name,
		Query:      q,
		PreparedAt: time.Now(),
	}

	pc.mu.Lock()
	defer pc.mu.Unlock()

	// If the cache is full, remove the oldest entry (simple FIFO).
	if len(pc.plans) >= pc.maxSize {
		var oldestKey string
		var oldestTime time.Time
		first := true
		for k, pp := range pc.plans {
			if first || pp.PreparedAt.Before(oldestTime) {
				oldestKey = k
				oldestTime = pp.PreparedAt
				first = false
			}
		}
		delete(pc.plans, oldestKey)
	}

	pc.plans[key] = prepared
	return prepared, nil
}

// Clear removes all cached plans.
func (pc *PlanCache) Clear() {
	pc.mu.Lock()
	defer pc.mu.Unlock()
	pc.plans = make(map[string]*PreparedPlan)
}

// Size returns the number of cached plans.
func (pc *PlanCache) Size() int {
	pc.mu.RLock()
	defer pc.mu.RUnlock()
	return len(pc.plans)
}
