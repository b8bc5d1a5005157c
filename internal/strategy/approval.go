package strategy

import (
	"context"
	"slices"
	"strings"
	"unicode"

	"github.com/rs/zerolog/log"
	"github.com/samber/lo"

	"github.com/hiroaki404/trip-ai/internal/llm"
	"github.com/hiroaki404/trip-ai/internal/plan"
	"github.com/hiroaki404/trip-ai/internal/prompts"
)

// ApprovalMode selects how plan feedback is classified.
type ApprovalMode string

const (
	// ApprovalMarkers matches affirmative and revision phrases.
	ApprovalMarkers ApprovalMode = "markers"
	// ApprovalModel asks the fixing model, falling back to markers.
	ApprovalModel ApprovalMode = "model"
)

// Decision is the outcome of classifying feedback.
type Decision int

const (
	Revise Decision = iota
	Approve
)

func (d Decision) String() string {
	if d == Approve {
		return "approve"
	}
	return "revise"
}

var (
	// Replies that mean "nothing to change".
	approvalSentinels = []string{"null", "none", "-", "no changes", "nothing"}

	affirmativeMarkers = []string{
		"looks good", "lgtm", "ok", "okay", "yes", "yep", "yeah", "sure",
		"approve", "approved", "go ahead", "sounds good", "good", "all good",
		"perfect", "great", "fine", "no problem", "no changes", "no change",
		"nothing to change",
		"いいね", "はい", "大丈夫", "問題ない", "問題なし", "完璧",
	}

	// Words that may surround an affirmative without changing its meaning.
	fillerWords = []string{
		"it", "it's", "its", "that", "that's", "thats", "this", "is", "all",
		"thanks", "thank", "you", "please", "very", "really", "so", "me",
		"to", "i", "i'm", "im", "with", "the", "plan", "seems", "and", "just",
	}
	fillerJapanese = []string{
		"ありがとうございます", "ありがとう", "お願いします", "これで", "です", "ます", "ね", "よ",
	}

	affirmativeTokens = tokenizeMarkers(affirmativeMarkers)
	fillers           = lo.SliceToMap(fillerWords, func(w string) (string, struct{}) { return w, struct{}{} })
)

// tokenizeMarkers splits the word-separated markers into token sequences,
// longest first.
func tokenizeMarkers(phrases []string) [][]string {
	out := lo.FilterMap(phrases, func(p string, _ int) ([]string, bool) {
		return tokens(p), isASCII(p)
	})
	slices.SortStableFunc(out, func(a, b []string) int { return len(b) - len(a) })
	return out
}

func tokens(s string) []string {
	return strings.FieldsFunc(s, func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsNumber(r) && r != '\''
	})
}

func isASCII(s string) bool {
	for _, r := range s {
		if r > unicode.MaxASCII {
			return false
		}
	}
	return true
}

func normalizeFeedback(s string) string {
	s = strings.ReplaceAll(plan.Fold(s), "’", "'")
	return strings.ToLower(strings.TrimSpace(s))
}

// ClassifyMarkers decides from phrases alone. A reply approves when it is
// empty-equivalent, or when it is made only of affirmative markers and
// filler. Anything else, such as a negation or a requested edit, revises.
func ClassifyMarkers(response string) Decision {
	s := normalizeFeedback(response)
	bare := strings.TrimRight(s, ".!。！ ")
	if bare == "" || slices.Contains(approvalSentinels, bare) {
		return Approve
	}

	affirmed := false
	for _, m := range affirmativeMarkers {
		if !isASCII(m) && strings.Contains(s, m) {
			s = strings.ReplaceAll(s, m, " ")
			affirmed = true
		}
	}
	for _, f := range fillerJapanese {
		s = strings.ReplaceAll(s, f, " ")
	}

	words := tokens(s)
	for i := 0; i < len(words); {
		if n := matchMarker(words[i:]); n > 0 {
			affirmed = true
			i += n
			continue
		}
		if _, ok := fillers[words[i]]; ok {
			i++
			continue
		}
		return Revise
	}
	if affirmed {
		return Approve
	}
	return Revise
}

// matchMarker returns the token length of the affirmative marker at the
// start of words, or 0.
func matchMarker(words []string) int {
	for _, m := range affirmativeTokens {
		if len(m) <= len(words) && slices.Equal(m, words[:len(m)]) {
			return len(m)
		}
	}
	return 0
}

// Classifier turns a feedback reply into a Decision.
type Classifier struct {
	mode     ApprovalMode
	provider llm.Provider
	model    string
	prompts  *prompts.Store
}

// NewClassifier returns a classifier. provider and model are only used in
// ApprovalModel mode.
func NewClassifier(mode ApprovalMode, provider llm.Provider, model string, store *prompts.Store) *Classifier {
	if mode == "" {
		mode = ApprovalMarkers
	}
	return &Classifier{mode: mode, provider: provider, model: model, prompts: store}
}

// Classify decides whether response approves the plan. An error is returned
// only when ctx is done.
func (c *Classifier) Classify(ctx context.Context, response string) (Decision, error) {
	if c.mode != ApprovalModel || c.provider == nil || c.prompts == nil {
		return ClassifyMarkers(response), nil
	}

	system, err := c.prompts.Render(prompts.ApprovalSystem, nil)
	if err != nil {
		return ClassifyMarkers(response), nil
	}
	user, err := c.prompts.Render(prompts.ApprovalUser, map[string]any{"Response": response})
	if err != nil {
		return ClassifyMarkers(response), nil
	}

	resp, err := c.provider.Chat(ctx, &llm.ChatRequest{
		Model:        c.model,
		SystemPrompt: system,
		Messages:     []llm.Message{llm.UserMessage(user)},
		MaxTokens:    8,
	})
	if err != nil {
		if ctx.Err() != nil {
			return Revise, ctx.Err()
		}
		log.Warn().Err(err).Msg("approval model failed, using markers")
		return ClassifyMarkers(response), nil
	}

	verdict := strings.ToUpper(strings.TrimSpace(resp.Content))
	switch {
	case strings.HasPrefix(verdict, "APPROVE"):
		return Approve, nil
	case strings.HasPrefix(verdict, "REVISE"):
		return Revise, nil
	default:
		log.Debug().Str("verdict", verdict).Msg("unrecognized approval verdict, using markers")
		return ClassifyMarkers(response), nil
	}
}
