package bus

import "time"

// NewAskUserEvent creates the event shown when the clarify stage asks a question.
func NewAskUserEvent(requestID, question string) Event {
	e := NewEvent(EventAskUser)
	e.RequestID = requestID
	e.Content = question
	return e
}

// NewPresentPlanEvent creates the event that shows a plan for approval.
func NewPresentPlanEvent(requestID, message string, plan any) Event {
	e := NewEvent(EventPresentPlan)
	e.RequestID = requestID
	e.Content = message
	e.Data = plan
	return e
}

// NewAssistantMessageEvent creates a transcript message.
func NewAssistantMessageEvent(requestID, content string) Event {
	e := NewEvent(EventAssistantMessage)
	e.RequestID = requestID
	e.Content = content
	return e
}

// NewStageEvent creates a stage_started or stage_completed event. d is
// ignored for stage_started.
func NewStageEvent(t EventType, requestID, stage string, d time.Duration) Event {
	e := NewEvent(t)
	e.RequestID = requestID
	e.Stage = stage
	if t == EventStageCompleted {
		e.DurationMs = d.Milliseconds()
	}
	return e
}

// NewRunFailedEvent creates the terminal event of a failed run.
func NewRunFailedEvent(requestID, stage string, err error) Event {
	e := NewEvent(EventRunFailed)
	e.RequestID = requestID
	e.Stage = stage
	if err != nil {
		e.Error = err.Error()
	}
	return e
}
