// Package metrics turns planning events into Prometheus metrics and a
// console summary.
package metrics

import (
	"net/http"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/hiroaki404/trip-ai/internal/bus"
)

// Collector subscribes to the event bus and aggregates metrics.
type Collector struct {
	bus      *bus.Bus
	registry *prometheus.Registry

	runs           *prometheus.CounterVec
	toolCalls      *prometheus.CounterVec
	budgetDenials  *prometheus.CounterVec
	stageDuration  *prometheus.HistogramVec
	repairAttempts prometheus.Counter
	revisions      prometheus.Counter
	bookings       prometheus.Counter
	humanRequests  *prometheus.CounterVec

	mu           sync.RWMutex
	session      *SessionStats
	recentEvents []bus.Event
	maxEvents    int
	subID        bus.SubscriptionID
	stopped      bool
}

// SessionStats holds process-lifetime totals for the console summary.
type SessionStats struct {
	StartTime      time.Time
	Runs           int
	Completed      int
	Failed         int
	ToolCalls      int
	ToolFailures   int
	BudgetDenials  int
	Repairs        int
	Revisions      int
	Bookings       int
	HumanRequests  int
	TotalLatencyMs int64
	LastEvent      string
	LastEventTime  time.Time
}

// NewCollector creates a collector with its own registry.
func NewCollector(eventBus *bus.Bus) *Collector {
	reg := prometheus.NewRegistry()
	factory := promauto.With(reg)

	return &Collector{
		bus:      eventBus,
		registry: reg,
		runs: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "tripai_runs_total",
				Help: "Planning runs by outcome",
			},
			[]string{"outcome"},
		),
		toolCalls: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "tripai_tool_calls_total",
				Help: "Tool calls by tool and result",
			},
			[]string{"tool", "success"},
		),
		budgetDenials: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "tripai_budget_denials_total",
				Help: "Tool calls refused by the session budget",
			},
			[]string{"category"},
		),
		stageDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "tripai_stage_duration_seconds",
				Help:    "Stage duration in seconds, including time spent waiting for the user",
				Buckets: []float64{1, 5, 15, 30, 60, 120, 300, 900},
			},
			[]string{"stage"},
		),
		repairAttempts: factory.NewCounter(prometheus.CounterOpts{
			Name: "tripai_repair_attempts_total",
			Help: "Fixing-model calls made by structured extraction",
		}),
		revisions: factory.NewCounter(prometheus.CounterOpts{
			Name: "tripai_revisions_total",
			Help: "Revision cycles requested by users",
		}),
		bookings: factory.NewCounter(prometheus.CounterOpts{
			Name: "tripai_bookings_total",
			Help: "Calendar bookings attempted after approval",
		}),
		humanRequests: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "tripai_human_requests_total",
				Help: "Questions and plan presentations shown to users",
			},
			[]string{"kind"},
		),
		session:   &SessionStats{StartTime: time.Now()},
		maxEvents: 50,
	}
}

// Start begins listening to the event bus.
func (c *Collector) Start() {
	if c.bus == nil {
		return
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if c.stopped || c.subID != "" {
		return
	}
	c.subID = c.bus.Subscribe(bus.EventType(""), c.handleEvent)
}

// Stop stops listening.
func (c *Collector) Stop() {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.stopped {
		return
	}
	c.stopped = true
	if c.subID != "" {
		_ = c.bus.Unsubscribe(c.subID)
		c.subID = ""
	}
}

// Registry exposes the collector's metrics, e.g. for tests.
func (c *Collector) Registry() *prometheus.Registry {
	return c.registry
}

// Handler serves the metrics in the Prometheus text format.
func (c *Collector) Handler() http.Handler {
	return promhttp.HandlerFor(c.registry, promhttp.HandlerOpts{})
}

// GetSessionStats returns current session stats (thread-safe).
func (c *Collector) GetSessionStats() *SessionStats {
	c.mu.RLock()
	defer c.mu.RUnlock()

	stats := *c.session
	return &stats
}

// GetRecentEvents returns the last n events seen.
func (c *Collector) GetRecentEvents(n int) []bus.Event {
	c.mu.RLock()
	defer c.mu.RUnlock()

	if n > len(c.recentEvents) {
		n = len(c.recentEvents)
	}
	events := make([]bus.Event, n)
	copy(events, c.recentEvents[len(c.recentEvents)-n:])
	return events
}

// handleEvent updates the counters for one event.
func (c *Collector) handleEvent(event bus.Event) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.recentEvents = append(c.recentEvents, event)
	if len(c.recentEvents) > c.maxEvents {
		c.recentEvents = c.recentEvents[1:]
	}

	s := c.session
	s.LastEventTime = event.Timestamp

	switch event.Type {
	case bus.EventStageStarted:
		if event.Stage == "clarify" {
			s.Runs++
		}
		s.LastEvent = "stage: " + event.Stage

	case bus.EventStageCompleted:
		c.stageDuration.WithLabelValues(event.Stage).Observe(float64(event.DurationMs) / 1000)
		s.TotalLatencyMs += event.DurationMs
		s.LastEvent = "done: " + event.Stage

	case bus.EventToolCalled:
		c.toolCalls.WithLabelValues(event.Tool, boolLabel(event.Success)).Inc()
		s.ToolCalls++
		if !event.Success {
			s.ToolFailures++
		}
		s.LastEvent = "tool: " + event.Tool

	case bus.EventBudgetExceeded:
		c.budgetDenials.WithLabelValues(event.Category).Inc()
		s.BudgetDenials++
		s.LastEvent = "budget: " + event.Category

	case bus.EventAskUser, bus.EventPresentPlan:
		c.humanRequests.WithLabelValues(string(event.Type)).Inc()
		s.HumanRequests++
		s.LastEvent = string(event.Type)

	case bus.EventRepairAttempt:
		c.repairAttempts.Inc()
		s.Repairs++
		s.LastEvent = "repair"

	case bus.EventRevisionRequested:
		c.revisions.Inc()
		s.Revisions++
		s.LastEvent = "revision"

	case bus.EventBookingRecorded:
		c.bookings.Inc()
		s.Bookings++
		s.LastEvent = "booking"

	case bus.EventRunCompleted:
		c.runs.WithLabelValues("completed").Inc()
		s.Completed++
		s.LastEvent = "run completed"

	case bus.EventRunFailed:
		c.runs.WithLabelValues("failed").Inc()
		s.Failed++
		s.LastEvent = "run failed"
	}
}

func boolLabel(b bool) string {
	if b {
		return "true"
	}
	return "false"
}
