package agent

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"testing"
	"unicode/utf8"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hiroaki404/trip-ai/internal/llm/llmtest"
	"github.com/hiroaki404/trip-ai/internal/tools"
)

// fakeExecutor answers every tool with a canned output.
type fakeExecutor struct {
	calls []string
	err   error
}

func (f *fakeExecutor) Execute(ctx context.Context, name string, args json.RawMessage) (*tools.ToolResult, error) {
	f.calls = append(f.calls, name+" "+string(args))
	if f.err != nil {
		return nil, f.err
	}
	return &tools.ToolResult{Tool: tools.ToolType(name), Success: true, Output: "result of " + name}, nil
}

func TestAgent_RunsToolsUntilPlainReply(t *testing.T) {
	provider := llmtest.New(
		`<tool>web_search</tool><params>{"query":"kamakura"}</params>`,
		`<tool>scrape</tool><params>{"url":"https://a"}</params><tool>directions</tool><params>{"coordinates":[[1,1],[2,2]]}</params>`,
		"Here is the plan.",
	)
	exec := &fakeExecutor{}
	var events []StepEventType

	a := New(provider, exec, Config{
		Name:         "plan",
		SystemPrompt: "system",
		MaxSteps:     5,
		OnStep:       func(e *StepEvent) { events = append(events, e.Type) },
	})

	resp, err := a.Run(context.Background(), "Plan a day in Kamakura")
	require.NoError(t, err)

	assert.Equal(t, "Here is the plan.", resp.Message)
	assert.Equal(t, 3, resp.StepsCount)
	assert.False(t, resp.HitStepLimit)
	assert.Equal(t, []string{"web_search", "scrape", "directions"}, resp.ToolsUsed)
	assert.Len(t, exec.calls, 3)

	reqs := provider.Requests()
	require.Len(t, reqs, 3)
	assert.Equal(t, "system", reqs[0].SystemPrompt)
	require.Len(t, reqs[2].Messages, 5)
	last := reqs[2].Messages[4].Content
	assert.Contains(t, last, "[Tool Result: scrape]")
	assert.Contains(t, last, "[Tool Result: directions]")
	assert.Less(t, strings.Index(last, "scrape"), strings.Index(last, "directions"), "results keep request order")

	assert.Contains(t, events, EventToolCall)
	assert.Equal(t, EventComplete, events[len(events)-1])
}

// pageExecutor answers every tool with the same text.
type pageExecutor string

func (p pageExecutor) Execute(ctx context.Context, name string, args json.RawMessage) (*tools.ToolResult, error) {
	return &tools.ToolResult{Tool: tools.ToolType(name), Success: true, Output: string(p)}, nil
}

func TestAgent_ToolResultEventKeepsRunesWhole(t *testing.T) {
	provider := llmtest.New(
		`<tool>scrape</tool><params>{"url":"https://a"}</params>`,
		"done",
	)
	var outputs []string
	a := New(provider, pageExecutor(strings.Repeat("鎌倉", 150)), Config{
		Name:   "plan",
		OnStep: func(e *StepEvent) {
			if e.Type == EventToolResult {
				outputs = append(outputs, e.Output)
			}
		},
	})

	_, err := a.Run(context.Background(), "Read the page")
	require.NoError(t, err)

	require.Len(t, outputs, 1)
	assert.True(t, utf8.ValidString(outputs[0]))
	assert.Equal(t, strings.Repeat("鎌倉", 100)+"...", outputs[0])
}

func TestAgent_StepLimitFinalTurn(t *testing.T) {
	provider := llmtest.New(
		`<tool>web_search</tool><params>{"query":"a"}</params>`,
		`<tool>web_search</tool><params>{"query":"b"}</params>`,
		"Final answer.",
	)
	a := New(provider, &fakeExecutor{}, Config{MaxSteps: 2, FinalTurnPrompt: "stop now"})

	resp, err := a.Run(context.Background(), "go")
	require.NoError(t, err)
	assert.True(t, resp.HitStepLimit)
	assert.Equal(t, "Final answer.", resp.Message)

	reqs := provider.Requests()
	require.Len(t, reqs, 3)
	msgs := reqs[2].Messages
	assert.Equal(t, "stop now", msgs[len(msgs)-1].Content)
}

func TestAgent_StepLimitExceeded(t *testing.T) {
	call := `<tool>web_search</tool><params>{"query":"again"}</params>`
	provider := llmtest.New(call, call)
	a := New(provider, &fakeExecutor{}, Config{Name: "clarify", MaxSteps: 1})

	_, err := a.Run(context.Background(), "go")
	assert.ErrorIs(t, err, ErrStepLimit)
}

func TestAgent_RepeatedCallAnsweredInBand(t *testing.T) {
	call := `<tool>web_search</tool><params>{"query":"same"}</params>`
	provider := llmtest.New(call, call, call, "done")
	exec := &fakeExecutor{}
	a := New(provider, exec, Config{MaxSteps: 10})

	resp, err := a.Run(context.Background(), "go")
	require.NoError(t, err)
	assert.Equal(t, "done", resp.Message)
	assert.Len(t, exec.calls, 2, "the third identical call must not execute")

	reqs := provider.Requests()
	msgs := reqs[3].Messages
	assert.Contains(t, msgs[len(msgs)-1].Content, "Repeated identical tool call")
}

func TestAgent_AbortFromExecutor(t *testing.T) {
	provider := llmtest.New(`<tool>ask_user</tool><params>{"question":"?"}</params>`)
	abort := errors.New("gate closed")
	a := New(provider, &fakeExecutor{err: abort}, Config{})

	_, err := a.Run(context.Background(), "go")
	assert.ErrorIs(t, err, abort)
}

func TestAgent_LLMError(t *testing.T) {
	provider := &llmtest.Provider{}
	provider.Push(llmtest.Reply{Err: errors.New("rate limited")})
	a := New(provider, nil, Config{})

	_, err := a.Run(context.Background(), "go")
	assert.ErrorContains(t, err, "rate limited")
}

func TestAgent_NoExecutor(t *testing.T) {
	provider := llmtest.New(`<tool>web_search</tool><params>{}</params>`, "ok")
	a := New(provider, nil, Config{})

	resp, err := a.Run(context.Background(), "go")
	require.NoError(t, err)
	assert.Equal(t, "ok", resp.Message)
	assert.Contains(t, provider.Requests()[1].Messages[2].Content, "unknown tool: web_search")
}

func TestAgent_Cancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	a := New(llmtest.New("never"), nil, Config{})

	_, err := a.Run(ctx, "go")
	assert.ErrorIs(t, err, context.Canceled)
}

func TestFormatToolResult(t *testing.T) {
	ok := FormatToolResult(&tools.ToolResult{Tool: "scrape", Success: true, Output: "body"})
	assert.Equal(t, "\n[Tool Result: scrape]\nStatus: Success\nOutput:\nbody\n[End Tool Result]\n", ok)

	bad := FormatToolResult(&tools.ToolResult{Tool: "web_search", Error: "Budget exceeded"})
	assert.Contains(t, bad, "Status: Failed\nError: Budget exceeded\n")
}

func TestFormatToolResult_Truncates(t *testing.T) {
	long := strings.Repeat("あ", MaxResultRunes+5)
	out := FormatToolResult(&tools.ToolResult{Tool: "scrape", Success: true, Output: long})
	assert.Contains(t, out, "[output truncated]")
	assert.NotContains(t, out, strings.Repeat("あ", MaxResultRunes+1))
}
