// Package equity resolves the capital allocated to a strategy from either an
// explicit override or a target-weight share of total account equity.
package equity

import (
	"fmt"
	"sync"
)

// MissingAllocationError means a strategy has neither an explicit equity
// override nor a target weight. Order sizing must fail loudly rather than
// default to zero or to total equity.
type MissingAllocationError struct {
	Strategy string
}

func (e *MissingAllocationError) Error() string {
	return fmt.Sprintf("no equity allocation configured for strategy %q", e.Strategy)
}

// Allocation is the per-strategy sizing configuration. Override wins over
// TargetWeight when both are set.
type Allocation struct {
	Override     *float64
	TargetWeight *float64
}

// Resolver maps strategies to usable capital.
type Resolver struct {
	mu     sync.RWMutex
	allocs map[string]Allocation
}

func NewResolver() *Resolver {
	return &Resolver{allocs: make(map[string]Allocation)}
}

// SetOverride pins a strategy to a fixed equity amount.
func (r *Resolver) SetOverride(strategy string, amount float64) {
	r.mu.Lock()
	defer r.mu.Unlock()
	a := r.allocs[strategy]
	a.Override = &amount
	r.allocs[strategy] = a
}

// SetTargetWeight sets the fractional share of total equity for a strategy.
func (r *Resolver) SetTargetWeight(strategy string, weight float64) {
	r.mu.Lock()
	defer r.mu.Unlock()
	a := r.allocs[strategy]
	a.TargetWeight = &weight
	r.allocs[strategy] = a
}

// Resolve returns the capital allocated to a strategy: the explicit override
// if present, otherwise target weight times total account equity. With
// neither configured it returns a MissingAllocationError.
func (r *Resolver) Resolve(strategy string, totalEquity float64) (float64, error) {
	r.mu.RLock()
	a, ok := r.allocs[strategy]
	r.mu.RUnlock()

	if ok && a.Override != nil {
		return *a.Override, nil
	}
	if ok && a.TargetWeight != nil {
		return *a.TargetWeight * totalEquity, nil
	}
	return 0, &MissingAllocationError{Strategy: strategy}
}
