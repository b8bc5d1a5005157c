// Package agent runs bounded tool-using sub-conversations with a chat model.
// The model calls tools in its reply text; the runner executes them, feeds
// the results back and stops when a reply contains no tool call.
package agent

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"unicode/utf8"

	"github.com/rs/zerolog/log"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/hiroaki404/trip-ai/internal/llm"
	"github.com/hiroaki404/trip-ai/internal/tools"
)

// ErrStepLimit is returned when the model keeps calling tools after the step
// ceiling and the final tool-less turn.
var ErrStepLimit = errors.New("agent step limit reached")

var tracer = otel.Tracer("github.com/hiroaki404/trip-ai/internal/agent")

// ToolExecutor runs tools by name. A non-nil error aborts the run.
type ToolExecutor interface {
	Execute(ctx context.Context, name string, args json.RawMessage) (*tools.ToolResult, error)
}

// StepCallback is called for each step the agent takes.
type StepCallback func(event *StepEvent)

// StepEvent represents an event during agent execution.
type StepEvent struct {
	Type     StepEventType `json:"type"`
	Agent    string        `json:"agent"`
	Step     int           `json:"step"`
	Message  string        `json:"message"`
	ToolName string        `json:"tool_name,omitempty"`
	ToolArgs string        `json:"tool_args,omitempty"`
	Output   string        `json:"output,omitempty"`
	Success  bool          `json:"success,omitempty"`
}

// StepEventType identifies the type of step event.
type StepEventType string

const (
	EventThinking   StepEventType = "thinking"    // Model replied with tool calls
	EventToolCall   StepEventType = "tool_call"   // A tool is about to run
	EventToolResult StepEventType = "tool_result" // Tool returned a result
	EventComplete   StepEventType = "complete"    // Model replied without tools
	EventLoopExit   StepEventType = "loop_exit"   // Repeated call answered in-band
	EventFinalTurn  StepEventType = "final_turn"  // Step ceiling reached
)

// maxRepeats is how many identical consecutive calls are allowed before the
// runner answers in-band instead of executing.
const maxRepeats = 3

// loopDetector tracks consecutive identical tool calls.
type loopDetector struct {
	last  string
	count int
}

// record notes a call and returns how many times in a row it has been made.
func (d *loopDetector) record(signature string) int {
	if signature == d.last {
		d.count++
	} else {
		d.last = signature
		d.count = 1
	}
	return d.count
}

// Config configures one sub-conversation.
type Config struct {
	// Name labels logs, spans and events (e.g. "clarify").
	Name string

	// SystemPrompt, including any tool descriptions.
	SystemPrompt string

	// MaxSteps bounds the model turns that may call tools.
	MaxSteps int

	// FinalTurnPrompt is sent when MaxSteps is exhausted.
	FinalTurnPrompt string

	// Model overrides the provider's default model.
	Model string

	OnStep StepCallback
}

// Agent orchestrates multi-step tool execution.
type Agent struct {
	llm   llm.Provider
	tools ToolExecutor
	cfg   Config
}

// Response is the outcome of Run.
type Response struct {
	Message    string   `json:"message"`
	Steps      []Step   `json:"steps"`
	ToolsUsed  []string `json:"tools_used"`
	StepsCount int      `json:"steps_count"`

	// HitStepLimit is set when the answer came from the final tool-less turn.
	HitStepLimit bool `json:"hit_step_limit"`
}

// Step is one model turn.
type Step struct {
	Thought   string              `json:"thought,omitempty"`
	ToolCalls []*ToolCall         `json:"tool_calls,omitempty"`
	Results   []*tools.ToolResult `json:"results,omitempty"`
}

// New creates an agent. executor may be nil for conversations without tools.
func New(provider llm.Provider, executor ToolExecutor, cfg Config) *Agent {
	if cfg.MaxSteps <= 0 {
		cfg.MaxSteps = 10
	}
	if cfg.FinalTurnPrompt == "" {
		cfg.FinalTurnPrompt = "You have used all available steps. Do not call any more tools. Reply now with your final answer."
	}
	if cfg.Name == "" {
		cfg.Name = "agent"
	}
	return &Agent{llm: provider, tools: executor, cfg: cfg}
}

func (a *Agent) emit(event *StepEvent) {
	if a.cfg.OnStep != nil {
		event.Agent = a.cfg.Name
		a.cfg.OnStep(event)
	}
}

// Run converses until the model answers without calling a tool.
func (a *Agent) Run(ctx context.Context, userMessage string) (resp *Response, err error) {
	ctx, span := tracer.Start(ctx, "agent."+a.cfg.Name, trace.WithAttributes(
		attribute.Int("agent.max_steps", a.cfg.MaxSteps),
	))
	defer func() {
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		} else {
			span.SetAttributes(attribute.Int("agent.steps", resp.StepsCount))
		}
		span.End()
	}()

	logger := log.With().Str("agent", a.cfg.Name).Logger()
	logger.Debug().Int("max_steps", a.cfg.MaxSteps).Msg("sub-conversation started")

	response := &Response{}
	messages := []llm.Message{llm.UserMessage(userMessage)}
	detector := &loopDetector{}

	for step := 0; step < a.cfg.MaxSteps; step++ {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		reply, err := a.chat(ctx, messages)
		if err != nil {
			return nil, err
		}

		toolCalls, cleaned := ParseToolCalls(reply)
		if len(toolCalls) == 0 {
			logger.Debug().Int("steps", step+1).Msg("sub-conversation complete")
			a.emit(&StepEvent{Type: EventComplete, Step: step + 1, Message: cleaned})
			response.Message = cleaned
			response.StepsCount = step + 1
			response.Steps = append(response.Steps, Step{Thought: cleaned})
			return response, nil
		}

		names := make([]string, 0, len(toolCalls))
		for _, tc := range toolCalls {
			names = append(names, tc.Name)
		}
		a.emit(&StepEvent{Type: EventThinking, Step: step + 1, Message: fmt.Sprintf("Planning to use: %s", strings.Join(names, ", "))})

		current := Step{Thought: cleaned, ToolCalls: toolCalls}
		var results strings.Builder
		for _, call := range toolCalls {
			result, err := a.execute(ctx, step+1, call, detector)
			if err != nil {
				return nil, err
			}
			current.Results = append(current.Results, result)
			response.ToolsUsed = append(response.ToolsUsed, call.Name)
			results.WriteString(FormatToolResult(result))
		}

		response.Steps = append(response.Steps, current)
		messages = append(messages, llm.AssistantMessage(reply), llm.UserMessage(results.String()))
	}

	// Step ceiling reached: one last turn without tools.
	logger.Warn().Int("max_steps", a.cfg.MaxSteps).Msg("step limit reached, requesting final answer")
	a.emit(&StepEvent{Type: EventFinalTurn, Step: a.cfg.MaxSteps + 1, Message: "Step limit reached"})
	messages = append(messages, llm.UserMessage(a.cfg.FinalTurnPrompt))

	reply, err := a.chat(ctx, messages)
	if err != nil {
		return nil, err
	}
	toolCalls, cleaned := ParseToolCalls(reply)
	if len(toolCalls) > 0 {
		return nil, fmt.Errorf("%s: %w after %d steps", a.cfg.Name, ErrStepLimit, a.cfg.MaxSteps)
	}

	a.emit(&StepEvent{Type: EventComplete, Step: a.cfg.MaxSteps + 1, Message: cleaned})
	response.Message = cleaned
	response.StepsCount = a.cfg.MaxSteps + 1
	response.HitStepLimit = true
	response.Steps = append(response.Steps, Step{Thought: cleaned})
	return response, nil
}

func (a *Agent) chat(ctx context.Context, messages []llm.Message) (string, error) {
	resp, err := a.llm.Chat(ctx, &llm.ChatRequest{
		Model:        a.cfg.Model,
		SystemPrompt: a.cfg.SystemPrompt,
		Messages:     messages,
	})
	if err != nil {
		return "", fmt.Errorf("LLM error: %w", err)
	}
	return resp.Content, nil
}

func (a *Agent) execute(ctx context.Context, step int, call *ToolCall, detector *loopDetector) (*tools.ToolResult, error) {
	a.emit(&StepEvent{
		Type:     EventToolCall,
		Step:     step,
		Message:  fmt.Sprintf("Calling tool: %s", call.Name),
		ToolName: call.Name,
		ToolArgs: string(call.Args),
	})

	if n := detector.record(call.signature()); n >= maxRepeats {
		log.Warn().Str("agent", a.cfg.Name).Str("tool", call.Name).Int("count", n).Msg("repeated identical tool call")
		a.emit(&StepEvent{Type: EventLoopExit, Step: step, ToolName: call.Name, Message: "Repeated identical tool call"})
		return &tools.ToolResult{
			Tool:    tools.ToolType(call.Name),
			Success: false,
			Error: fmt.Sprintf("Repeated identical tool call (%s) detected %d times. "+
				"The result will not change; use the earlier result or try something different.", call.Name, n),
		}, nil
	}

	var result *tools.ToolResult
	if a.tools == nil {
		result = &tools.ToolResult{
			Tool:    tools.ToolType(call.Name),
			Success: false,
			Error:   fmt.Sprintf("unknown tool: %s", call.Name),
		}
	} else {
		var err error
		result, err = a.tools.Execute(ctx, call.Name, call.Args)
		if err != nil {
			return nil, err
		}
	}

	a.emit(&StepEvent{
		Type:     EventToolResult,
		Step:     step,
		ToolName: call.Name,
		Output:   truncate(result.Text(), 200),
		Success:  result.Success,
	})
	return result, nil
}

// truncate keeps the first maxLen runes of s.
func truncate(s string, maxLen int) string {
	if utf8.RuneCountInString(s) <= maxLen {
		return s
	}
	return string([]rune(s)[:maxLen]) + "..."
}
