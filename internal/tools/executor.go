package tools

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/hiroaki404/trip-ai/internal/budget"
	"github.com/hiroaki404/trip-ai/internal/gate"
)

var tracer = otel.Tracer("github.com/hiroaki404/trip-ai/internal/tools")

// Observer is called after every execution, including refused ones.
type Observer func(*ToolResult)

// Executor runs registered tools and converts their failures into results.
type Executor struct {
	mu       sync.RWMutex
	tools    map[ToolType]Tool
	order    []ToolType
	observer Observer

	// Statistics
	stats ExecutorStats
}

// ExecutorStats tracks tool execution metrics.
type ExecutorStats struct {
	TotalExecutions int64
	SuccessCount    int64
	FailureCount    int64
	BlockedCount    int64
	TotalDuration   time.Duration

	mu sync.Mutex
}

// ExecutorOption configures the Executor.
type ExecutorOption func(*Executor)

// WithObserver sets a callback that sees every result.
func WithObserver(fn Observer) ExecutorOption {
	return func(e *Executor) {
		e.observer = fn
	}
}

// NewExecutor creates a new tool executor.
func NewExecutor(opts ...ExecutorOption) *Executor {
	e := &Executor{
		tools: make(map[ToolType]Tool),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Register adds a tool to the executor.
func (e *Executor) Register(tool Tool) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	name := tool.Name()
	if _, exists := e.tools[name]; exists {
		return fmt.Errorf("tool %s already registered", name)
	}

	e.tools[name] = tool
	e.order = append(e.order, name)
	return nil
}

// GetTool returns a registered tool by name.
func (e *Executor) GetTool(name ToolType) (Tool, bool) {
	e.mu.RLock()
	defer e.mu.RUnlock()

	tool, ok := e.tools[name]
	return tool, ok
}

// Tools returns the registered tools in registration order.
func (e *Executor) Tools() []Tool {
	e.mu.RLock()
	defer e.mu.RUnlock()

	out := make([]Tool, 0, len(e.order))
	for _, name := range e.order {
		out = append(out, e.tools[name])
	}
	return out
}

// Describe formats the registered tools for a system prompt.
func (e *Executor) Describe() string {
	return Describe(e.Tools())
}

// Execute runs the named tool. The returned error is non-nil only when the
// run must stop: the context is done or a gate was closed. Every other
// failure is reported in the result.
func (e *Executor) Execute(ctx context.Context, name string, args json.RawMessage) (*ToolResult, error) {
	start := time.Now()
	toolName := ToolType(name)

	ctx, span := tracer.Start(ctx, "tool."+name, trace.WithAttributes(
		attribute.String("tool.name", name),
	))
	defer span.End()

	tool, ok := e.GetTool(toolName)
	if !ok {
		result := &ToolResult{
			Tool:     toolName,
			Success:  false,
			Error:    fmt.Sprintf("unknown tool: %s", name),
			Duration: time.Since(start),
		}
		e.record(result)
		return result, nil
	}

	e.stats.mu.Lock()
	e.stats.TotalExecutions++
	e.stats.mu.Unlock()

	output, err := tool.Execute(ctx, args)
	result := &ToolResult{
		Tool:     toolName,
		Success:  err == nil,
		Output:   output,
		Duration: time.Since(start),
	}

	if err != nil {
		if IsAbort(ctx, err) {
			span.RecordError(err)
			span.SetStatus(codes.Error, "aborted")
			return nil, err
		}

		result.Error = err.Error()
		var be *BudgetExceededError
		if errors.As(err, &be) {
			result.BudgetExceeded = true
			log.Warn().Str("tool", name).Str("category", string(be.Category)).Int("limit", be.Limit).Msg("tool call refused by budget")
		} else {
			log.Warn().Err(err).Str("tool", name).Msg("tool call failed")
		}
		span.SetStatus(codes.Error, result.Error)
	} else {
		log.Debug().Str("tool", name).Dur("duration", result.Duration).Msg("tool call succeeded")
	}
	span.SetAttributes(attribute.Bool("tool.success", result.Success))

	e.record(result)
	return result, nil
}

func (e *Executor) record(result *ToolResult) {
	e.stats.mu.Lock()
	e.stats.TotalDuration += result.Duration
	switch {
	case result.Success:
		e.stats.SuccessCount++
	case result.BudgetExceeded:
		e.stats.BlockedCount++
	default:
		e.stats.FailureCount++
	}
	e.stats.mu.Unlock()

	if e.observer != nil {
		e.observer(result)
	}
}

// IsAbort reports whether err from a tool should end the run rather than be
// shown to the model.
func IsAbort(ctx context.Context, err error) bool {
	if err == nil {
		return false
	}
	if ctx.Err() != nil {
		return true
	}
	return errors.Is(err, gate.ErrClosed) || errors.Is(err, context.Canceled)
}

// Stats returns execution statistics.
func (e *Executor) Stats() ExecutorStats {
	e.stats.mu.Lock()
	defer e.stats.mu.Unlock()

	return ExecutorStats{
		TotalExecutions: e.stats.TotalExecutions,
		SuccessCount:    e.stats.SuccessCount,
		FailureCount:    e.stats.FailureCount,
		BlockedCount:    e.stats.BlockedCount,
		TotalDuration:   e.stats.TotalDuration,
	}
}

// SuccessRate returns the success rate as a percentage.
func (s *ExecutorStats) SuccessRate() float64 {
	if s.TotalExecutions == 0 {
		return 0
	}
	return float64(s.SuccessCount) / float64(s.TotalExecutions) * 100
}

// ===========================================================================
// BUDGET GUARD
// ===========================================================================

// CategoryFor maps a tool to the budget category it is charged against.
func CategoryFor(name ToolType) (budget.Category, bool) {
	switch name {
	case ToolWebSearch:
		return budget.CategorySearch, true
	case ToolScrape:
		return budget.CategoryScrape, true
	case ToolDirections:
		return budget.CategoryDirections, true
	case ToolCalendar:
		return budget.CategoryCalendar, true
	default:
		return "", false
	}
}

type guardedTool struct {
	Tool
	guard    *budget.Guard
	category budget.Category
}

// Guarded wraps t so each call is charged to its category on g. Tools
// without a category are returned unchanged.
func Guarded(t Tool, g *budget.Guard) Tool {
	c, ok := CategoryFor(t.Name())
	if !ok || g == nil {
		return t
	}
	return &guardedTool{Tool: t, guard: g, category: c}
}

func (t *guardedTool) Execute(ctx context.Context, args json.RawMessage) (string, error) {
	if !t.guard.TryConsume(t.category) {
		limit, _ := t.guard.Limit(t.category)
		return "", &BudgetExceededError{Category: t.category, Limit: limit}
	}
	return t.Tool.Execute(ctx, args)
}
