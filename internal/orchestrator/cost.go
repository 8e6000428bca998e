package orchestrator

import (
	"errors"
	"sync"
)

// ErrBudgetExceeded aborts a work once its running cost passes the cap.
var ErrBudgetExceeded = errors.New("work budget exceeded")

// CostTracker accumulates provider spend for one work. Safe for concurrent
// use; units within a work run sequentially but works may run in parallel
// against per-work trackers, and emitters read totals from other goroutines.
type CostTracker struct {
	mu     sync.Mutex
	total  float64
	budget float64 // zero or negative means unlimited
}

func NewCostTracker(budget float64) *CostTracker {
	return &CostTracker{budget: budget}
}

// Add records cost and returns the new running total.
func (c *CostTracker) Add(cost float64) float64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.total += cost
	return c.total
}

func (c *CostTracker) Total() float64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.total
}

// OverBudget reports whether the cap is set and crossed.
func (c *CostTracker) OverBudget() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.budget > 0 && c.total > c.budget
}
