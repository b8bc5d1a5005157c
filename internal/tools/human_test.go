package tools

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hiroaki404/trip-ai/internal/gate"
	"github.com/hiroaki404/trip-ai/internal/plan"
)

func TestAskUserTool(t *testing.T) {
	asked := make(chan gate.Payload, 1)
	g := gate.New("ask", func(p gate.Payload) { asked <- p })
	tool := NewAskUserTool(g)

	done := make(chan string, 1)
	go func() {
		out, err := tool.Execute(context.Background(), json.RawMessage(`{"question":"When do you travel?"}`))
		assert.NoError(t, err)
		done <- out
	}()

	select {
	case p := <-asked:
		assert.Equal(t, "When do you travel?", p.Message)
		assert.Equal(t, "ask", p.Gate)
	case <-time.After(time.Second):
		t.Fatal("question was not published")
	}

	require.NoError(t, g.Supply("mid-October"))
	assert.Equal(t, "mid-October", <-done)

	_, err := tool.Execute(context.Background(), json.RawMessage(`{"question":" "}`))
	var invalid *InvalidArgsError
	assert.ErrorAs(t, err, &invalid)
}

func TestFeedbackTool_Present(t *testing.T) {
	shown := make(chan gate.Payload, 1)
	g := gate.New("feedback", func(p gate.Payload) { shown <- p })
	tool := NewFeedbackTool(g)

	tp := plan.Example()
	done := make(chan string, 1)
	go func() {
		out, err := tool.Present(context.Background(), "Here is your plan", tp)
		assert.NoError(t, err)
		done <- out
	}()

	p := <-shown
	assert.Equal(t, "Here is your plan", p.Message)
	got, ok := p.Data.(plan.TripPlan)
	require.True(t, ok)
	assert.Equal(t, tp.Summary, got.Summary)

	require.NoError(t, g.Supply("looks good"))
	assert.Equal(t, "looks good", <-done)
}

func TestFeedbackTool_Execute(t *testing.T) {
	g := gate.New("feedback", nil)
	require.NoError(t, g.Supply("change day 2"))

	out, err := NewFeedbackTool(g).Execute(context.Background(),
		json.RawMessage(`{"message":"ok?","plan":`+plan.ExampleJSON()+`}`))
	require.NoError(t, err)
	assert.Equal(t, "change day 2", out, "a buffered value is delivered to the next request")

	_, err = NewFeedbackTool(g).Execute(context.Background(), json.RawMessage(`{}`))
	assert.Error(t, err)
}
