package strategy

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hiroaki404/trip-ai/internal/llm/llmtest"
	"github.com/hiroaki404/trip-ai/internal/prompts"
)

func TestClassifyMarkers(t *testing.T) {
	tests := []struct {
		response string
		want     Decision
	}{
		{"looks good", Approve},
		{"Looks good!", Approve},
		{"LGTM", Approve},
		{"ok", Approve},
		{"ＯＫ", Approve},
		{"yes, go ahead", Approve},
		{"null", Approve},
		{"None.", Approve},
		{"-", Approve},
		{"no changes", Approve},
		{"いいね", Approve},
		{"はい、大丈夫です", Approve},
		{"change day 2 to include a beach", Revise},
		{"looks good but add a museum", Revise},
		{"ok, however skip the tower", Revise},
		{"great, more food please", Revise},
		{"2日目を変更して", Revise},
		{"book it", Revise},
		{"token", Revise}, // "ok" only matches as a word
		{"finest sushi instead", Revise},
		{"no changes, thanks", Approve},
		{"Yes please", Approve},
		{"That's perfect, thank you!", Approve},
		{"I'm fine with this", Approve},
		{"問題ないです", Approve},
		{"not okay", Revise},
		{"this is not great", Revise},
		{"I'm not fine with this", Revise},
		{"I’m not fine with this", Revise},
		{"no, that's not ok", Revise},
		{"don't book it yet", Revise},
		{"yes please make day 2 shorter", Revise},
		{"ok, and a later start on day 1", Revise},
		{"大丈夫じゃない", Revise},
		{"いいえ", Revise},
	}

	for _, tt := range tests {
		t.Run(tt.response, func(t *testing.T) {
			assert.Equal(t, tt.want, ClassifyMarkers(tt.response))
		})
	}
}

func TestClassifier_MarkersMode(t *testing.T) {
	fixer := llmtest.New()
	c := NewClassifier(ApprovalMarkers, fixer, "", prompts.MustLoad())

	d, err := c.Classify(context.Background(), "sounds good")
	require.NoError(t, err)
	assert.Equal(t, Approve, d)
	assert.Zero(t, fixer.Calls())
}

func TestClassifier_ModelMode(t *testing.T) {
	fixer := llmtest.New("APPROVE", "revise.", "maybe?")
	fixer.Push(llmtest.Reply{Err: errors.New("rate limited")})
	c := NewClassifier(ApprovalModel, fixer, "small-model", prompts.MustLoad())
	ctx := context.Background()

	d, err := c.Classify(ctx, "ship it")
	require.NoError(t, err)
	assert.Equal(t, Approve, d)

	d, err = c.Classify(ctx, "looks good")
	require.NoError(t, err)
	assert.Equal(t, Revise, d, "the model verdict wins over markers")

	// Unrecognized verdict and provider errors fall back to markers.
	d, err = c.Classify(ctx, "looks good")
	require.NoError(t, err)
	assert.Equal(t, Approve, d)

	d, err = c.Classify(ctx, "add a beach")
	require.NoError(t, err)
	assert.Equal(t, Revise, d)

	reqs := fixer.Requests()
	require.Len(t, reqs, 4)
	assert.Equal(t, "small-model", reqs[0].Model)
	assert.Contains(t, reqs[0].SystemPrompt, "APPROVE or REVISE")
	assert.Contains(t, reqs[0].Messages[0].Content, "ship it")
}

func TestClassifier_ModelModeCancelled(t *testing.T) {
	c := NewClassifier(ApprovalModel, llmtest.New("APPROVE"), "", prompts.MustLoad())
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := c.Classify(ctx, "looks good")
	assert.ErrorIs(t, err, context.Canceled)
}
