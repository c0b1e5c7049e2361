// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package budget bounds the cost of a graph traversal.
//
// A Budget counts work units (one per edge candidate considered) and wall
// clock time. It is advisory: callers check the returned State between
// candidates and stop on their own.
package budget

import (
	"sync"
	"time"
)

// Stop reasons. They double as truncation cap names.
const (
	ReasonMaxWorkUnits   = "maxWorkUnits"
	ReasonMaxWallClockMs = "maxWallClockMs"
)

// State is the outcome of a Consume call.
type State struct {
	// Stop is true once a limit has been reached.
	Stop bool

	// Reason names the limit that stopped the budget. Empty while running.
	Reason string

	// Limit is the value of the limit named by Reason.
	Limit int

	// Used is the number of units consumed so far.
	Used int

	// ElapsedMs is the wall clock time since the budget was created.
	ElapsedMs int64
}

// Observed returns the measurement that breached the limit: elapsed
// milliseconds for a wall clock stop, otherwise units used.
func (s State) Observed() int {
	if s.Reason == ReasonMaxWallClockMs {
		return int(s.ElapsedMs)
	}
	return s.Used
}

// WorkBudget is the contract the traversal engine consumes.
//
// Thread Safety: Implementations must be safe for concurrent use so one
// budget can govern several traversals.
type WorkBudget interface {
	// Consume adds n units and reports whether traversal must stop.
	Consume(n int) State

	// Used returns the units consumed so far. Monotonic.
	Used() int
}

// Clock returns the current time. Tests inject a fake.
type Clock func() time.Time

// Option configures a Budget.
type Option func(*Budget)

// WithClock overrides the time source.
func WithClock(clock Clock) Option {
	return func(b *Budget) {
		if clock != nil {
			b.clock = clock
		}
	}
}

// Budget is the default WorkBudget.
//
// Description:
//
//	Counts units and checks elapsed time on every Consume. The unit
//	limit is checked first. Once a stop has been reported, every later
//	Consume reports the same stop so callers that share the budget
//	observe a consistent state.
//
// Thread Safety: Safe for concurrent use.
type Budget struct {
	mu             sync.Mutex
	maxWorkUnits   *int
	maxWallClockMs *int
	clock          Clock
	start          time.Time
	used           int
	stopped        *State
}

// New creates a budget. A nil limit is unbounded; negative limits clamp to 0.
//
// Inputs:
//   - maxWorkUnits: Maximum units, nil for unbounded.
//   - maxWallClockMs: Maximum elapsed milliseconds, nil for unbounded.
//   - opts: Optional configuration.
//
// Outputs:
//   - *Budget: The budget, started now.
func New(maxWorkUnits, maxWallClockMs *int, opts ...Option) *Budget {
	b := &Budget{
		maxWorkUnits:   clamp(maxWorkUnits),
		maxWallClockMs: clamp(maxWallClockMs),
		clock:          time.Now,
	}
	for _, opt := range opts {
		opt(b)
	}
	b.start = b.clock()
	return b
}

// Unbounded returns a budget with no limits. It still counts units.
func Unbounded() *Budget {
	return New(nil, nil)
}

func clamp(v *int) *int {
	if v == nil {
		return nil
	}
	n := *v
	if n < 0 {
		n = 0
	}
	return &n
}

// Consume implements WorkBudget.
//
// Description:
//
//	Adds n units (n <= 0 adds nothing), then checks the unit limit and the
//	wall clock limit. A unit limit L allows exactly L units; the call that
//	pushes usage past L reports Stop.
func (b *Budget) Consume(n int) State {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.stopped != nil {
		return *b.stopped
	}
	if n > 0 {
		b.used += n
	}
	elapsed := b.clock().Sub(b.start).Milliseconds()
	st := State{Used: b.used, ElapsedMs: elapsed}

	switch {
	case b.maxWorkUnits != nil && b.used > *b.maxWorkUnits:
		st.Stop, st.Reason, st.Limit = true, ReasonMaxWorkUnits, *b.maxWorkUnits
	case b.maxWallClockMs != nil && elapsed > int64(*b.maxWallClockMs):
		st.Stop, st.Reason, st.Limit = true, ReasonMaxWallClockMs, *b.maxWallClockMs
	}
	if st.Stop {
		b.stopped = &st
	}
	return st
}

// Used implements WorkBudget.
func (b *Budget) Used() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.used
}
