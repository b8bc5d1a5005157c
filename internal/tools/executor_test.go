package tools

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hiroaki404/trip-ai/internal/budget"
	"github.com/hiroaki404/trip-ai/internal/gate"
)

// stubTool is a configurable tool for executor tests.
type stubTool struct {
	name  ToolType
	out   string
	err   error
	calls int
}

func (s *stubTool) Name() ToolType          { return s.name }
func (s *stubTool) Description() string     { return "stub " + string(s.name) }
func (s *stubTool) Parameters() []Parameter { return []Parameter{{Name: "q", Type: "string", Required: true}} }
func (s *stubTool) Execute(ctx context.Context, args json.RawMessage) (string, error) {
	s.calls++
	return s.out, s.err
}

func TestExecutor_Register(t *testing.T) {
	e := NewExecutor()
	require.NoError(t, e.Register(&stubTool{name: ToolWebSearch}))
	require.NoError(t, e.Register(&stubTool{name: ToolScrape}))
	assert.Error(t, e.Register(&stubTool{name: ToolWebSearch}))

	names := []ToolType{}
	for _, tool := range e.Tools() {
		names = append(names, tool.Name())
	}
	assert.Equal(t, []ToolType{ToolWebSearch, ToolScrape}, names)

	desc := e.Describe()
	assert.Contains(t, desc, "### web_search")
	assert.Contains(t, desc, "- q (string) (required)")
	assert.Contains(t, desc, "<tool>tool_name</tool>")
}

func TestExecutor_Execute(t *testing.T) {
	var seen []*ToolResult
	e := NewExecutor(WithObserver(func(r *ToolResult) { seen = append(seen, r) }))
	ok := &stubTool{name: ToolWebSearch, out: "found"}
	bad := &stubTool{name: ToolScrape, err: errors.New("status 500")}
	require.NoError(t, e.Register(ok))
	require.NoError(t, e.Register(bad))

	res, err := e.Execute(context.Background(), "web_search", nil)
	require.NoError(t, err)
	assert.True(t, res.Success)
	assert.Equal(t, "found", res.Text())

	res, err = e.Execute(context.Background(), "scrape", nil)
	require.NoError(t, err, "tool failures stay in-band")
	assert.False(t, res.Success)
	assert.Equal(t, "status 500", res.Text())

	res, err = e.Execute(context.Background(), "teleport", nil)
	require.NoError(t, err)
	assert.False(t, res.Success)
	assert.Contains(t, res.Error, "unknown tool")

	assert.Len(t, seen, 3)
	stats := e.Stats()
	assert.Equal(t, int64(2), stats.TotalExecutions)
	assert.Equal(t, int64(1), stats.SuccessCount)
	assert.Equal(t, int64(2), stats.FailureCount)
}

func TestExecutor_Abort(t *testing.T) {
	e := NewExecutor()
	require.NoError(t, e.Register(&stubTool{name: ToolAskUser, err: gate.ErrClosed}))

	res, err := e.Execute(context.Background(), "ask_user", nil)
	assert.Nil(t, res)
	assert.ErrorIs(t, err, gate.ErrClosed)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	require.NoError(t, e.Register(&stubTool{name: ToolScrape, err: errors.New("request canceled")}))
	_, err = e.Execute(ctx, "scrape", nil)
	assert.Error(t, err)
}

func TestGuarded_EnforcesBudget(t *testing.T) {
	guard := budget.NewGuard(budget.Limits{budget.CategorySearch: 2})
	search := &stubTool{name: ToolWebSearch, out: "ok"}
	scrape := &stubTool{name: ToolScrape, out: "page"}

	e := NewExecutor()
	require.NoError(t, e.Register(Guarded(search, guard)))
	require.NoError(t, e.Register(Guarded(scrape, guard)))

	for i := 0; i < 2; i++ {
		res, err := e.Execute(context.Background(), "web_search", nil)
		require.NoError(t, err)
		assert.True(t, res.Success)
	}

	res, err := e.Execute(context.Background(), "web_search", nil)
	require.NoError(t, err)
	assert.False(t, res.Success)
	assert.True(t, res.BudgetExceeded)
	assert.Contains(t, res.Error, "Budget exceeded")
	assert.Equal(t, 2, search.calls, "the tool must not run once the budget is spent")

	res, err = e.Execute(context.Background(), "scrape", nil)
	require.NoError(t, err)
	assert.True(t, res.Success, "other categories are unaffected")

	assert.Equal(t, int64(1), e.Stats().BlockedCount)
}

func TestGuarded_Uncategorised(t *testing.T) {
	ask := &stubTool{name: ToolAskUser}
	assert.Same(t, Tool(ask), Guarded(ask, budget.NewGuard(nil)))
}

func TestCategoryFor(t *testing.T) {
	c, ok := CategoryFor(ToolDirections)
	assert.True(t, ok)
	assert.Equal(t, budget.CategoryDirections, c)

	_, ok = CategoryFor(ToolFeedback)
	assert.False(t, ok)
}
