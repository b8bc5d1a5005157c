package strategy

import (
	"sync"

	"github.com/hiroaki404/trip-ai/internal/budget"
	"github.com/hiroaki404/trip-ai/internal/plan"
)

// Committed is a plan that passed extraction and was saved to session
// memory. Only Memory.Commit creates one, so the evaluate and finish stages
// always have a saved plan to work with.
type Committed struct {
	plan    plan.TripPlan
	version int
}

// Plan returns a copy of the saved plan.
func (c Committed) Plan() plan.TripPlan {
	return c.plan.Clone()
}

// Version counts commits within the session, starting at 1.
func (c Committed) Version() int {
	return c.version
}

// Memory is the state of one planning session: the last committed plan and
// the tool call counters. The strategy is its only writer.
type Memory struct {
	mu    sync.Mutex
	last  Committed
	guard *budget.Guard
}

func newMemory(limits budget.Limits) *Memory {
	return &Memory{guard: budget.NewGuard(limits)}
}

// Commit saves p as the last committed plan.
func (m *Memory) Commit(p plan.TripPlan) Committed {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.last = Committed{plan: p.Clone(), version: m.last.version + 1}
	return m.last
}

// Last returns the last committed plan, if any.
func (m *Memory) Last() (Committed, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.last, m.last.version > 0
}

// Guard is the session's tool budget.
func (m *Memory) Guard() *budget.Guard {
	return m.guard
}

// Counters returns the tool calls charged so far per category.
func (m *Memory) Counters() map[budget.Category]int {
	return m.guard.Counters()
}
