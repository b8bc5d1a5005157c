package tools

import (
	"context"
	"encoding/json"
	"strings"

	"github.com/hiroaki404/trip-ai/internal/gate"
	"github.com/hiroaki404/trip-ai/internal/plan"
)

// ===========================================================================
// ASK USER
// ===========================================================================

// AskUserTool parks the conversation on the ask gate until the user answers.
type AskUserTool struct {
	gate *gate.Gate
}

// NewAskUserTool binds the tool to g.
func NewAskUserTool(g *gate.Gate) *AskUserTool {
	return &AskUserTool{gate: g}
}

func (a *AskUserTool) Name() ToolType { return ToolAskUser }

func (a *AskUserTool) Description() string {
	return "Ask the user a question and wait for the answer. Group related questions into one call."
}

func (a *AskUserTool) Parameters() []Parameter {
	return []Parameter{
		{Name: "question", Type: "string", Description: "The question to show the user", Required: true},
	}
}

type askArgs struct {
	Question string `json:"question"`
}

func (a *AskUserTool) Execute(ctx context.Context, args json.RawMessage) (string, error) {
	var in askArgs
	if err := decodeArgs(ToolAskUser, args, &in); err != nil {
		return "", err
	}
	question := strings.TrimSpace(in.Question)
	if question == "" {
		return "", invalidArgs(ToolAskUser, "question cannot be empty")
	}
	return a.gate.Request(ctx, gate.Payload{Gate: a.gate.Name(), Message: question})
}

// ===========================================================================
// FEEDBACK
// ===========================================================================

// FeedbackTool presents a plan on the feedback gate and returns the user's
// response.
type FeedbackTool struct {
	gate *gate.Gate
}

// NewFeedbackTool binds the tool to g.
func NewFeedbackTool(g *gate.Gate) *FeedbackTool {
	return &FeedbackTool{gate: g}
}

func (f *FeedbackTool) Name() ToolType { return ToolFeedback }

func (f *FeedbackTool) Description() string {
	return "Show the trip plan to the user and wait for approval or change requests."
}

func (f *FeedbackTool) Parameters() []Parameter {
	return []Parameter{
		{Name: "message", Type: "string", Description: "Message shown with the plan", Required: true},
		{Name: "plan", Type: "object", Description: "The trip plan JSON"},
	}
}

type feedbackArgs struct {
	Message string          `json:"message"`
	Plan    json.RawMessage `json:"plan,omitempty"`
}

func (f *FeedbackTool) Execute(ctx context.Context, args json.RawMessage) (string, error) {
	var in feedbackArgs
	if err := decodeArgs(ToolFeedback, args, &in); err != nil {
		return "", err
	}
	p := gate.Payload{Gate: f.gate.Name(), Message: strings.TrimSpace(in.Message)}
	if len(in.Plan) > 0 {
		if tp, err := plan.Parse(in.Plan); err == nil {
			p.Data = tp
		}
	}
	if p.Message == "" && p.Data == nil {
		return "", invalidArgs(ToolFeedback, "message or plan is required")
	}
	return f.gate.Request(ctx, p)
}

// Present shows tp with message and waits for the response.
func (f *FeedbackTool) Present(ctx context.Context, message string, tp plan.TripPlan) (string, error) {
	return f.gate.Request(ctx, gate.Payload{Gate: f.gate.Name(), Message: message, Data: tp})
}
