// Package bus distributes planning events to the UIs and the metrics
// collector.
//
// The strategy publishes one event per user-visible step of a run (a
// question, a presented plan, a tool call, a stage boundary). Subscribers
// receive events of one type, or every event with a wildcard subscription,
// in publish order.
package bus

import (
	"fmt"
	"sync/atomic"
	"time"
)

// EventType names a kind of planning event.
type EventType string

const (
	// Human-in-the-loop
	EventAskUser     EventType = "ask_user"
	EventPresentPlan EventType = "present_plan"

	// Conversation output
	EventAssistantMessage EventType = "assistant_message"

	// Tools
	EventToolCalled     EventType = "tool_called"
	EventBudgetExceeded EventType = "budget_exceeded"

	// Stage lifecycle
	EventStageStarted   EventType = "stage_started"
	EventStageCompleted EventType = "stage_completed"

	// Extraction and revision
	EventRepairAttempt     EventType = "repair_attempt"
	EventRevisionRequested EventType = "revision_requested"
	EventBookingRecorded   EventType = "booking_recorded"

	// Run lifecycle
	EventRunCompleted EventType = "run_completed"
	EventRunFailed    EventType = "run_failed"
)

// EventTypes lists every type the strategy publishes.
var EventTypes = []EventType{
	EventAskUser,
	EventPresentPlan,
	EventAssistantMessage,
	EventToolCalled,
	EventBudgetExceeded,
	EventStageStarted,
	EventStageCompleted,
	EventRepairAttempt,
	EventRevisionRequested,
	EventBookingRecorded,
	EventRunCompleted,
	EventRunFailed,
}

// Event is one planning event.
type Event struct {
	// Core identification
	ID        string    `json:"id"`
	Timestamp time.Time `json:"timestamp"`
	Type      EventType `json:"type"`

	// RequestID is the planning session the event belongs to.
	RequestID string `json:"request_id,omitempty"`

	// Stage context
	Stage      string `json:"stage,omitempty"`
	DurationMs int64  `json:"duration_ms,omitempty"`

	// Tool context
	Tool     string `json:"tool,omitempty"`
	Category string `json:"category,omitempty"`
	Success  bool   `json:"success,omitempty"`

	// Attempt numbers repairs and revisions.
	Attempt int `json:"attempt,omitempty"`

	// Content is the text shown to the user.
	Content string `json:"content,omitempty"`
	Details string `json:"details,omitempty"`

	// Data carries a structured payload, e.g. the presented plan.
	Data any `json:"data,omitempty"`

	Error string `json:"error,omitempty"`
}

var eventIDCounter atomic.Uint64

// generateEventID creates a unique event identifier.
func generateEventID() string {
	return fmt.Sprintf("evt_%d_%d", time.Now().UnixNano(), eventIDCounter.Add(1))
}

// NewEvent creates a new event with the current timestamp and generated ID.
func NewEvent(eventType EventType) Event {
	return Event{
		ID:        generateEventID(),
		Timestamp: time.Now().UTC(),
		Type:      eventType,
	}
}
