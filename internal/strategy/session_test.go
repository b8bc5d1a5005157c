package strategy

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/paulmach/orb"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/hiroaki404/trip-ai/internal/budget"
	"github.com/hiroaki404/trip-ai/internal/bus"
	"github.com/hiroaki404/trip-ai/internal/calendar"
	"github.com/hiroaki404/trip-ai/internal/calendar/calendartest"
	"github.com/hiroaki404/trip-ai/internal/extract"
	"github.com/hiroaki404/trip-ai/internal/llm"
	"github.com/hiroaki404/trip-ai/internal/llm/llmtest"
	"github.com/hiroaki404/trip-ai/internal/plan"
	"github.com/hiroaki404/trip-ai/internal/prompts"
	"github.com/hiroaki404/trip-ai/internal/routes"
	"github.com/hiroaki404/trip-ai/internal/tools"
)

const kamakura = "day trip to Kamakura from Tokyo, two adults, mid-October, no strong preferences"

// scriptedUI answers the gates as their events are published.
type scriptedUI struct {
	mu       sync.Mutex
	sess     *Session
	answers  []string
	feedback []string
	events   []bus.Event

	presented chan struct{}
}

func (u *scriptedUI) Publish(e bus.Event) error {
	u.mu.Lock()
	u.events = append(u.events, e)
	var reply func(string) error
	var text string
	switch e.Type {
	case bus.EventAskUser:
		if len(u.answers) > 0 {
			text, u.answers = u.answers[0], u.answers[1:]
			reply = u.sess.SubmitAnswer
		}
	case bus.EventPresentPlan:
		if u.presented != nil {
			select {
			case u.presented <- struct{}{}:
			default:
			}
		}
		if len(u.feedback) > 0 {
			text, u.feedback = u.feedback[0], u.feedback[1:]
			reply = u.sess.SubmitFeedback
		}
	}
	u.mu.Unlock()

	if reply != nil {
		return reply(text)
	}
	return nil
}

func (u *scriptedUI) ofType(t bus.EventType) []bus.Event {
	u.mu.Lock()
	defer u.mu.Unlock()
	var out []bus.Event
	for _, e := range u.events {
		if e.Type == t {
			out = append(out, e)
		}
	}
	return out
}

type tokyoFinder struct{}

func (tokyoFinder) GetTimezoneName(float64, float64) string { return "Asia/Tokyo" }

func revisedPlan() plan.TripPlan {
	p := plan.Example()
	p.Summary = "Revised trip with a beach afternoon on day two."
	return p
}

// planner answers the clarify conversation with one question, then writes
// the example plan, and the revised plan once feedback was given.
func planner() *llmtest.Provider {
	p := llmtest.New()
	p.Respond = func(req *llm.ChatRequest) (string, bool) {
		switch {
		case strings.Contains(req.SystemPrompt, "travel concierge"):
			if len(req.Messages) == 1 {
				return `<tool>ask_user</tool><params>{"question": "Which date in mid-October?"}</params>`, true
			}
			return "Requirements:\n- Kamakura day trip from Tokyo\n- two adults", true
		case strings.Contains(req.SystemPrompt, "expert travel planner"):
			if strings.Contains(req.Messages[0].Content, "The user asked for these changes") {
				return revisedPlan().JSON(), true
			}
			return plan.ExampleJSON(), true
		}
		return "", false
	}
	return p
}

func exampleRoutes(t *testing.T) *routes.Store {
	t.Helper()
	store := routes.NewMemory()
	for i := 1; i <= 5; i++ {
		_, err := store.Put(routes.Geometry{
			ID:     fmt.Sprintf("example-route-%d", i),
			Points: []orb.Point{{139.7, 35.6}, {139.7 + float64(i)/100, 35.6}},
		})
		require.NoError(t, err)
	}
	return store
}

type fixture struct {
	provider *llmtest.Provider
	calendar *calendartest.Service
	ui       *scriptedUI
	session  *Session
	routes   *routes.Store
}

func newFixture(t *testing.T, provider *llmtest.Provider, mutate func(*Options)) *fixture {
	t.Helper()
	return newFixtureWithSearch(t, provider, mutate, nil)
}

func newFixtureWithSearch(t *testing.T, provider *llmtest.Provider, mutate func(*Options), search tools.Tool) *fixture {
	t.Helper()

	cal := &calendartest.Service{}
	ui := &scriptedUI{}
	store := exampleRoutes(t)

	opts := DefaultOptions()
	opts.MinDate = time.Date(2025, 10, 1, 0, 0, 0, 0, time.UTC)
	opts.RepairRetries = 1
	if mutate != nil {
		mutate(&opts)
	}

	zones := calendar.NewZoneResolverWith(tokyoFinder{}, time.UTC)
	st, err := New(Deps{
		Provider: provider,
		Prompts:  prompts.MustLoad(),
		Routes:   store,
		Search:   search,
		Calendar: tools.NewCalendarTool(cal, zones.Fallback()),
		Zones:    zones,
		Events:   ui,
	}, opts)
	require.NoError(t, err)

	ui.sess = st.NewSession()
	return &fixture{provider: provider, calendar: cal, ui: ui, session: ui.sess, routes: store}
}

func TestSession_KamakuraApproved(t *testing.T) {
	f := newFixture(t, planner(), nil)
	f.ui.answers = []string{"October 18"}
	f.ui.feedback = []string{"looks good"}

	tokyo, err := time.LoadLocation("Asia/Tokyo")
	require.NoError(t, err)
	f.calendar.On("CreateEvent", mock.Anything, mock.MatchedBy(func(ev calendar.Event) bool {
		return ev.Start.Equal(time.Date(2025, 11, 1, 9, 0, 0, 0, tokyo)) &&
			ev.End.Equal(time.Date(2025, 11, 3, 15, 0, 0, 0, tokyo))
	})).Return("file:///tmp/trips.ics#1", nil).Once()

	res, err := f.session.Run(context.Background(), kamakura)
	require.NoError(t, err)

	assert.Len(t, f.ui.ofType(bus.EventAskUser), 1)
	assert.True(t, res.Approved)
	assert.True(t, res.Booked)
	assert.Equal(t, tools.CalendarSuccessPrefix+"file:///tmp/trips.ics#1", res.Booking)
	assert.Contains(t, res.Requirements, "Kamakura")
	assert.Equal(t, kamakura, res.Input)

	p := res.Plan()
	require.NotEmpty(t, p.Steps)
	assert.NotEmpty(t, p.Activities())
	require.NotEmpty(t, p.Transportations())
	for _, id := range p.RouteIDs() {
		assert.True(t, f.routes.Has(id), id)
	}

	f.calendar.AssertNumberOfCalls(t, "CreateEvent", 1)
	assert.Len(t, f.ui.ofType(bus.EventBookingRecorded), 1)
	assert.Equal(t, 1, res.ToolCalls[budget.CategoryCalendar])
	assert.Len(t, f.ui.ofType(bus.EventRunCompleted), 1)
	assert.False(t, f.session.Busy())
}

func TestSession_RevisionRoundTrip(t *testing.T) {
	f := newFixture(t, planner(), nil)
	f.ui.answers = []string{"October 18"}
	f.ui.feedback = []string{"change day 2 to include a beach", "looks good"}
	f.calendar.On("CreateEvent", mock.Anything, mock.Anything).Return("file:///tmp/trips.ics#2", nil).Once()

	res, err := f.session.Run(context.Background(), kamakura)
	require.NoError(t, err)

	assert.Equal(t, revisedPlan().Summary, res.Plan().Summary)
	assert.Equal(t, 1, res.Revisions)
	assert.Equal(t, 2, res.Committed.Version())

	last, ok := f.session.Memory().Last()
	require.True(t, ok)
	assert.Equal(t, revisedPlan().Summary, last.Plan().Summary)

	revisions := f.ui.ofType(bus.EventRevisionRequested)
	require.Len(t, revisions, 1)
	assert.Equal(t, "change day 2 to include a beach", revisions[0].Content)

	var revisionPrompt string
	for _, req := range f.provider.Requests() {
		if strings.Contains(req.Messages[0].Content, "The user asked for these changes") {
			revisionPrompt = req.Messages[0].Content
		}
	}
	assert.Contains(t, revisionPrompt, "change day 2 to include a beach")
	assert.Contains(t, revisionPrompt, plan.Example().Summary)

	assert.Len(t, f.ui.ofType(bus.EventPresentPlan), 2)
	f.calendar.AssertNumberOfCalls(t, "CreateEvent", 1)
}

// countingSearch answers every query with one result and counts executions.
type countingSearch struct {
	mu    sync.Mutex
	calls int
}

func (s *countingSearch) Name() tools.ToolType          { return tools.ToolWebSearch }
func (s *countingSearch) Description() string           { return "Search the web." }
func (s *countingSearch) Parameters() []tools.Parameter { return nil }

func (s *countingSearch) Execute(ctx context.Context, args json.RawMessage) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls++
	return `{"items":[{"link":"https://example.com","title":"Kamakura"}]}`, nil
}

func (s *countingSearch) count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.calls
}

func TestSession_SearchBudgetSpansRevisions(t *testing.T) {
	provider := planner()
	base := provider.Respond
	provider.Respond = func(req *llm.ChatRequest) (string, bool) {
		if strings.Contains(req.SystemPrompt, "expert travel planner") && len(req.Messages) == 1 {
			if strings.Contains(req.Messages[0].Content, "The user asked for these changes") {
				return `<tool>web_search</tool><params>{"query": "Kamakura beaches"}</params>`, true
			}
			return `<tool>web_search</tool><params>{"query": "Kamakura temples"}</params>` +
				`<tool>web_search</tool><params>{"query": "Kamakura lunch"}</params>`, true
		}
		return base(req)
	}

	search := &countingSearch{}
	f := newFixtureWithSearch(t, provider, nil, search)
	f.ui.answers = []string{"October 18"}
	f.ui.feedback = []string{"change day 2 to include a beach", "looks good"}
	f.calendar.On("CreateEvent", mock.Anything, mock.Anything).Return("file:///tmp/trips.ics#3", nil).Once()

	res, err := f.session.Run(context.Background(), kamakura)
	require.NoError(t, err)

	assert.Equal(t, 1, res.Revisions)
	assert.Equal(t, 2, search.count())
	assert.Equal(t, 2, res.ToolCalls[budget.CategorySearch])

	denied := f.ui.ofType(bus.EventBudgetExceeded)
	require.Len(t, denied, 1)
	assert.Equal(t, string(budget.CategorySearch), denied[0].Category)

	var refused bool
	for _, req := range f.provider.Requests() {
		for _, m := range req.Messages {
			if strings.Contains(m.Content, "[Tool Result: web_search]") && strings.Contains(m.Content, "Status: Failed") {
				refused = true
			}
		}
	}
	assert.True(t, refused, "the refused search is reported to the model")
}

func TestSession_RevisionLimit(t *testing.T) {
	f := newFixture(t, planner(), func(o *Options) { o.MaxRevisions = 1 })
	f.ui.answers = []string{"October 18"}
	f.ui.feedback = []string{"add a beach", "add a museum"}

	res, err := f.session.Run(context.Background(), kamakura)
	require.NoError(t, err)

	assert.True(t, res.RevisionLimitReached)
	assert.False(t, res.Approved)
	assert.Empty(t, res.Booking)
	assert.Equal(t, 1, res.Revisions)
	assert.Equal(t, revisedPlan().Summary, res.Plan().Summary)
	f.calendar.AssertNotCalled(t, "CreateEvent", mock.Anything, mock.Anything)

	var told bool
	for _, e := range f.ui.ofType(bus.EventAssistantMessage) {
		told = told || strings.Contains(e.Content, "revision limit")
	}
	assert.True(t, told)
}

func TestSession_BookingFailureKeepsPlan(t *testing.T) {
	f := newFixture(t, planner(), nil)
	f.ui.answers = []string{"October 18"}
	f.ui.feedback = []string{"ok"}
	f.calendar.On("CreateEvent", mock.Anything, mock.Anything).Return("", errors.New("disk full")).Once()

	res, err := f.session.Run(context.Background(), kamakura)
	require.NoError(t, err)

	assert.True(t, res.Approved)
	assert.False(t, res.Booked)
	assert.Equal(t, "Failed to create calendar event: disk full", res.Booking)
	assert.Equal(t, plan.Example().Summary, res.Plan().Summary)

	booked := f.ui.ofType(bus.EventBookingRecorded)
	require.Len(t, booked, 1)
	assert.False(t, booked[0].Success)
}

func TestSession_ExtractFailureIsTerminal(t *testing.T) {
	provider := llmtest.New()
	provider.Respond = func(req *llm.ChatRequest) (string, bool) {
		switch {
		case strings.Contains(req.SystemPrompt, "travel concierge"):
			return "Requirements:\n- Kamakura", true
		case strings.Contains(req.SystemPrompt, "expert travel planner"):
			return "Day 1: walk around Kamakura.", true
		}
		return `{"summary": "", "steps": []}`, true
	}
	f := newFixture(t, provider, nil)

	res, err := f.session.Run(context.Background(), kamakura)
	require.Error(t, err)
	assert.Nil(t, res)

	var se *StageError
	require.ErrorAs(t, err, &se)
	assert.Equal(t, StageExtract, se.Stage)
	assert.Equal(t, kamakura, se.Input)

	var schemaErr *extract.SchemaError
	require.ErrorAs(t, err, &schemaErr)
	assert.Equal(t, 1, schemaErr.Attempts)

	_, committed := f.session.Memory().Last()
	assert.False(t, committed)
	assert.Len(t, f.ui.ofType(bus.EventRepairAttempt), 1)
	assert.Empty(t, f.ui.ofType(bus.EventPresentPlan))

	failed := f.ui.ofType(bus.EventRunFailed)
	require.Len(t, failed, 1)
	assert.Equal(t, string(StageExtract), failed[0].Stage)

	msgs := f.ui.ofType(bus.EventAssistantMessage)
	require.NotEmpty(t, msgs)
	assert.True(t, strings.HasPrefix(msgs[len(msgs)-1].Content, "An error occurred: "))
}

func TestSession_ClarifyRoundLimit(t *testing.T) {
	provider := planner()
	next := provider.Respond
	provider.Respond = func(req *llm.ChatRequest) (string, bool) {
		if strings.Contains(req.SystemPrompt, "travel concierge") {
			round := len(req.Messages) / 2
			if round < 3 {
				return fmt.Sprintf(`<tool>ask_user</tool><params>{"question": "Question %d?"}</params>`, round+1), true
			}
			return "Requirements:\n- Kamakura", true
		}
		return next(req)
	}
	f := newFixture(t, provider, nil)
	f.ui.answers = []string{"first", "second", "third"}
	f.ui.feedback = []string{"lgtm"}
	f.calendar.On("CreateEvent", mock.Anything, mock.Anything).Return("file:///tmp/trips.ics#3", nil)

	_, err := f.session.Run(context.Background(), kamakura)
	require.NoError(t, err)

	assert.Len(t, f.ui.ofType(bus.EventAskUser), 2)

	var limited bool
	for _, e := range f.ui.ofType(bus.EventToolCalled) {
		limited = limited || (e.Tool == string(tools.ToolAskUser) && strings.Contains(e.Error, "question limit"))
	}
	assert.True(t, limited)
}

func TestSession_CancelReleasesGate(t *testing.T) {
	f := newFixture(t, planner(), nil)
	f.ui.answers = []string{"October 18"}
	f.ui.presented = make(chan struct{}, 1)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	errc := make(chan error, 1)
	go func() {
		_, err := f.session.Run(ctx, kamakura)
		errc <- err
	}()

	select {
	case <-f.ui.presented:
	case <-time.After(2 * time.Second):
		t.Fatal("plan was never presented")
	}
	assert.True(t, f.session.Busy())
	cancel()

	select {
	case err := <-errc:
		assert.ErrorIs(t, err, context.Canceled)
	case <-time.After(2 * time.Second):
		t.Fatal("run did not stop after cancel")
	}
	assert.False(t, f.session.Busy())
	assert.Equal(t, "", f.session.Awaiting())
	assert.Error(t, f.session.SubmitFeedback("looks good"))
}

func TestSession_CloseAbortsParkedRun(t *testing.T) {
	f := newFixture(t, planner(), nil)

	errc := make(chan error, 1)
	go func() {
		_, err := f.session.Run(context.Background(), kamakura)
		errc <- err
	}()

	require.Eventually(t, func() bool {
		return f.session.Awaiting() == "ask"
	}, 2*time.Second, 5*time.Millisecond)
	f.session.Close()

	select {
	case err := <-errc:
		var se *StageError
		require.ErrorAs(t, err, &se)
		assert.Equal(t, StageClarify, se.Stage)
	case <-time.After(2 * time.Second):
		t.Fatal("run did not stop after close")
	}
}

func TestSession_RunValidation(t *testing.T) {
	f := newFixture(t, llmtest.New(), nil)

	_, err := f.session.Run(context.Background(), "   ")
	assert.ErrorIs(t, err, ErrEmptyInput)

	provider := llmtest.New("Requirements: none")
	provider.Push(llmtest.Reply{Err: errors.New("boom")})
	f = newFixture(t, provider, nil)
	_, err = f.session.Run(context.Background(), kamakura)
	var se *StageError
	require.ErrorAs(t, err, &se)
	assert.Equal(t, StagePlan, se.Stage)

	_, err = f.session.Run(context.Background(), kamakura)
	assert.ErrorIs(t, err, ErrSessionUsed)
}

func TestNew_Validation(t *testing.T) {
	_, err := New(Deps{Prompts: prompts.MustLoad()}, DefaultOptions())
	assert.Error(t, err)

	_, err = New(Deps{Provider: llmtest.New()}, DefaultOptions())
	assert.Error(t, err)

	opts := DefaultOptions()
	opts.Approval = "vibes"
	_, err = New(Deps{Provider: llmtest.New(), Prompts: prompts.MustLoad()}, opts)
	assert.Error(t, err)

	opts = DefaultOptions()
	opts.Variant = plan.VariantInline
	_, err = New(Deps{Provider: llmtest.New(), Prompts: prompts.MustLoad()}, opts)
	assert.Error(t, err, "inline plans need a route store")

	st, err := New(Deps{Provider: llmtest.New(), Prompts: prompts.MustLoad()}, Options{})
	require.NoError(t, err)
	assert.Equal(t, 8, st.Options().ClarifyMaxSteps)
	assert.Equal(t, ApprovalMarkers, st.Options().Approval)
}

func TestMemory_Commit(t *testing.T) {
	m := newMemory(budget.DefaultLimits())
	_, ok := m.Last()
	assert.False(t, ok)

	first := m.Commit(plan.Example())
	second := m.Commit(revisedPlan())
	assert.Equal(t, 1, first.Version())
	assert.Equal(t, 2, second.Version())

	last, ok := m.Last()
	require.True(t, ok)
	assert.Equal(t, revisedPlan().Summary, last.Plan().Summary)

	// Callers get copies.
	p := last.Plan()
	p.Summary = "mutated"
	assert.NotEqual(t, "mutated", last.Plan().Summary)
}
