package main

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hiroaki404/trip-ai/internal/config"
	"github.com/hiroaki404/trip-ai/internal/history"
	"github.com/hiroaki404/trip-ai/internal/llm/llmtest"
	"github.com/hiroaki404/trip-ai/internal/prompts"
	"github.com/hiroaki404/trip-ai/internal/strategy"
)

type fakeTarget struct {
	awaiting string
	answers  []string
	feedback []string
}

func (f *fakeTarget) Awaiting() string { return f.awaiting }

func (f *fakeTarget) SubmitAnswer(text string) error {
	f.answers = append(f.answers, text)
	return nil
}

func (f *fakeTarget) SubmitFeedback(text string) error {
	f.feedback = append(f.feedback, text)
	return nil
}

func TestRouteLine(t *testing.T) {
	target := &fakeTarget{awaiting: "ask"}
	require.NoError(t, routeLine(target, "October 18"))

	target.awaiting = "feedback"
	require.NoError(t, routeLine(target, "looks good"))

	target.awaiting = ""
	require.NoError(t, routeLine(target, "early answer"))

	assert.Equal(t, []string{"October 18", "early answer"}, target.answers)
	assert.Equal(t, []string{"looks good"}, target.feedback)
}

func TestHistoryRun_Failed(t *testing.T) {
	started := time.Now().Add(-time.Second)
	run := historyRun("s1", "Kamakura", nil, errors.New("plan stage failed: boom"), started)

	assert.Equal(t, history.StatusFailed, run.Status)
	assert.Equal(t, "plan stage failed: boom", run.Error)
	assert.Equal(t, "Kamakura", run.Input)
	assert.Empty(t, run.PlanJSON)
	assert.GreaterOrEqual(t, run.Duration, time.Second)
}

func TestConversation_ArchivesRun(t *testing.T) {
	provider := llmtest.New("Requirements:\n- Kamakura")
	provider.Push(llmtest.Reply{Err: errors.New("model offline")})

	st, err := strategy.New(strategy.Deps{Provider: provider, Prompts: prompts.MustLoad()}, strategy.DefaultOptions())
	require.NoError(t, err)

	hist, err := history.Open(":memory:")
	require.NoError(t, err)
	defer hist.Close()

	a := &app{strategy: st, history: hist}
	conv := newConversation(a, st.NewSession())
	conv.Start(context.Background(), "day trip to Kamakura")
	assert.True(t, conv.Busy())

	require.Eventually(t, func() bool { return !conv.Busy() }, 2*time.Second, 10*time.Millisecond)

	run, err := hist.Get(context.Background(), conv.ID())
	require.NoError(t, err)
	assert.Equal(t, history.StatusFailed, run.Status)
	assert.Contains(t, run.Error, "model offline")
	assert.Equal(t, "day trip to Kamakura", run.Input)
}

func TestMasked(t *testing.T) {
	cfg := config.Default()
	cfg.Tools.Directions.AccessToken = "pk.abcdefghijkl"
	p := cfg.LLM.Providers["openai"]
	p.APIKey = "sk-123"
	cfg.LLM.Providers["openai"] = p

	out := masked(cfg)
	assert.Equal(t, "pk.a****", out.Tools.Directions.AccessToken)
	assert.Equal(t, "****", out.LLM.Providers["openai"].APIKey)
	assert.Equal(t, "sk-123", cfg.LLM.Providers["openai"].APIKey, "original is untouched")
}
