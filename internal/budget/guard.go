// Package budget enforces per-session ceilings on external tool calls.
package budget

import (
	"fmt"
	"sort"
	"sync"
)

// Category groups tools that share one call ceiling.
type Category string

const (
	CategorySearch     Category = "search"
	CategoryScrape     Category = "scrape"
	CategoryDirections Category = "directions"
	CategoryCalendar   Category = "calendar"
)

// Limits maps a category to its ceiling for one planning session.
// Categories without an entry are unlimited.
type Limits map[Category]int

// DefaultLimits returns the ceilings used when nothing is configured.
func DefaultLimits() Limits {
	return Limits{
		CategorySearch:     2,
		CategoryScrape:     2,
		CategoryDirections: 10,
		CategoryCalendar:   1,
	}
}

// Guard counts tool calls for a single session. It is safe for concurrent use.
type Guard struct {
	mu     sync.Mutex
	limits Limits
	used   map[Category]int
	denied map[Category]int
}

// NewGuard returns a guard with fresh counters. The limits map is copied.
func NewGuard(limits Limits) *Guard {
	g := &Guard{
		limits: make(Limits, len(limits)),
		used:   make(map[Category]int),
		denied: make(map[Category]int),
	}
	for c, n := range limits {
		g.limits[c] = n
	}
	return g
}

// TryConsume charges one call to c and reports whether it was allowed.
// A denied call does not change the used count.
func (g *Guard) TryConsume(c Category) bool {
	g.mu.Lock()
	defer g.mu.Unlock()

	limit, limited := g.limits[c]
	if limited && g.used[c] >= limit {
		g.denied[c]++
		return false
	}
	g.used[c]++
	return true
}

// Remaining returns the calls left for c, or -1 when c is unlimited.
func (g *Guard) Remaining(c Category) int {
	g.mu.Lock()
	defer g.mu.Unlock()

	limit, limited := g.limits[c]
	if !limited {
		return -1
	}
	if left := limit - g.used[c]; left > 0 {
		return left
	}
	return 0
}

// Used returns the allowed calls charged to c so far.
func (g *Guard) Used(c Category) int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.used[c]
}

// Denied returns how many calls to c were refused.
func (g *Guard) Denied(c Category) int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.denied[c]
}

// Counters returns a snapshot of the used counts.
func (g *Guard) Counters() map[Category]int {
	g.mu.Lock()
	defer g.mu.Unlock()

	out := make(map[Category]int, len(g.used))
	for c, n := range g.used {
		out[c] = n
	}
	return out
}

// Describe renders the remaining budget for inclusion in a prompt.
func (g *Guard) Describe() string {
	g.mu.Lock()
	defer g.mu.Unlock()

	cats := make([]string, 0, len(g.limits))
	for c := range g.limits {
		cats = append(cats, string(c))
	}
	sort.Strings(cats)

	out := ""
	for i, c := range cats {
		if i > 0 {
			out += ", "
		}
		left := g.limits[Category(c)] - g.used[Category(c)]
		if left < 0 {
			left = 0
		}
		out += fmt.Sprintf("%s %d of %d left", c, left, g.limits[Category(c)])
	}
	return out
}

// ExceededMessage is the in-band text returned to the model instead of a
// tool result when the ceiling for c is reached.
func ExceededMessage(c Category, limit int) string {
	return fmt.Sprintf("Budget exceeded: the %s tool may be called at most %d time(s) in this session. "+
		"Do not call it again; continue with the information you already have.", c, limit)
}

// Limit returns the ceiling for c and whether one is set.
func (g *Guard) Limit(c Category) (int, bool) {
	g.mu.Lock()
	defer g.mu.Unlock()
	n, ok := g.limits[c]
	return n, ok
}
