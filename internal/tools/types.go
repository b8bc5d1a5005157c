// Package tools provides the tool execution layer for the planner.
// Tools are invoked by the model through the agent's text protocol; every
// failure a tool can report is turned into a result the model reads, so a
// bad HTTP response or an exhausted budget never ends a planning run.
package tools

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/hiroaki404/trip-ai/internal/budget"
)

// ToolType identifies a tool by the name the model uses to call it.
type ToolType string

const (
	ToolAskUser    ToolType = "ask_user"
	ToolFeedback   ToolType = "feedback_user"
	ToolWebSearch  ToolType = "web_search"
	ToolScrape     ToolType = "scrape"
	ToolDirections ToolType = "directions"
	ToolCalendar   ToolType = "calendar"
)

// Parameter describes one argument of a tool.
type Parameter struct {
	Name        string `json:"name"`
	Type        string `json:"type"`
	Description string `json:"description"`
	Required    bool   `json:"required"`
}

// Tool defines the interface for all executable tools.
type Tool interface {
	// Name returns the tool identifier.
	Name() ToolType

	// Description tells the model when to use the tool.
	Description() string

	// Parameters lists the JSON arguments the tool accepts.
	Parameters() []Parameter

	// Execute runs the tool. A returned error is reported to the model as a
	// failed result unless it is an abort (see IsAbort).
	Execute(ctx context.Context, args json.RawMessage) (string, error)
}

// ToolResult represents the outcome of a tool execution.
type ToolResult struct {
	// Tool that was executed.
	Tool ToolType `json:"tool"`

	// Success indicates if the tool completed successfully.
	Success bool `json:"success"`

	// Output contains the tool's output.
	Output string `json:"output,omitempty"`

	// Error contains error details if Success is false.
	Error string `json:"error,omitempty"`

	// Duration of the execution.
	Duration time.Duration `json:"duration"`

	// BudgetExceeded is set when the call was refused by the budget guard.
	BudgetExceeded bool `json:"budget_exceeded,omitempty"`
}

// Text returns what the caller should record for the result: the output on
// success, the error message otherwise.
func (r *ToolResult) Text() string {
	if r.Success {
		return r.Output
	}
	return r.Error
}

// BudgetExceededError is returned by a guarded tool whose category ceiling has
// been reached. The underlying tool was not invoked.
type BudgetExceededError struct {
	Category budget.Category
	Limit    int
}

func (e *BudgetExceededError) Error() string {
	return budget.ExceededMessage(e.Category, e.Limit)
}

// InvalidArgsError reports arguments the tool could not accept.
type InvalidArgsError struct {
	Tool   ToolType
	Reason string
}

func (e *InvalidArgsError) Error() string {
	return fmt.Sprintf("invalid arguments for %s: %s", e.Tool, e.Reason)
}

func invalidArgs(tool ToolType, format string, a ...any) error {
	return &InvalidArgsError{Tool: tool, Reason: fmt.Sprintf(format, a...)}
}

// decodeArgs unmarshals args into v. Empty args decode as an empty object.
func decodeArgs(tool ToolType, args json.RawMessage, v any) error {
	if len(strings.TrimSpace(string(args))) == 0 {
		args = json.RawMessage("{}")
	}
	if err := json.Unmarshal(args, v); err != nil {
		return invalidArgs(tool, "%v", err)
	}
	return nil
}

// Describe formats tools for a system prompt.
func Describe(ts []Tool) string {
	if len(ts) == 0 {
		return ""
	}

	var sb strings.Builder
	sb.WriteString("## Available Tools\n\n")
	sb.WriteString("You can use these tools by including a tool call in your response.\n")
	sb.WriteString("Format: <tool>tool_name</tool><params>{\"param\": \"value\"}</params>\n\n")

	for _, tool := range ts {
		sb.WriteString(fmt.Sprintf("### %s\n", tool.Name()))
		sb.WriteString(fmt.Sprintf("%s\n", tool.Description()))
		sb.WriteString("Parameters:\n")
		for _, p := range tool.Parameters() {
			req := ""
			if p.Required {
				req = " (required)"
			}
			sb.WriteString(fmt.Sprintf("  - %s (%s)%s: %s\n", p.Name, p.Type, req, p.Description))
		}
		sb.WriteString("\n")
	}

	return sb.String()
}
