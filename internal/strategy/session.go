package strategy

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/hiroaki404/trip-ai/internal/agent"
	"github.com/hiroaki404/trip-ai/internal/budget"
	"github.com/hiroaki404/trip-ai/internal/bus"
	"github.com/hiroaki404/trip-ai/internal/extract"
	"github.com/hiroaki404/trip-ai/internal/gate"
	"github.com/hiroaki404/trip-ai/internal/plan"
	"github.com/hiroaki404/trip-ai/internal/prompts"
	"github.com/hiroaki404/trip-ai/internal/tools"
)

const (
	presentMessage   = "Here is the proposed plan. Reply with the changes you want, or say it looks good to book it."
	revisionLimitMsg = "The revision limit was reached, so this plan is final and was not added to your calendar."
)

var errEmptyDraft = errors.New("planner returned an empty itinerary")

// Result is the outcome of a finished run.
type Result struct {
	SessionID    string
	Input        string
	Requirements string

	// Committed is the last plan that passed extraction.
	Committed Committed

	Approved bool
	// Booking is the calendar tool's output, empty when nothing was booked.
	Booking string
	Booked  bool

	Revisions            int
	RevisionLimitReached bool

	// ToolCalls counts the budgeted calls charged during the run.
	ToolCalls map[budget.Category]int
	Duration  time.Duration
}

// Plan returns the final plan.
func (r *Result) Plan() plan.TripPlan {
	return r.Committed.Plan()
}

// Session is one planning run with its own memory and gates.
type Session struct {
	id        string
	st        *Strategy
	memory    *Memory
	ask       *gate.Gate
	feedback  *gate.Gate
	extractor *extract.Extractor
	logger    zerolog.Logger

	input   string
	started atomic.Bool
	running atomic.Bool
}

// NewSession returns an idle session.
func (s *Strategy) NewSession() *Session {
	sess := &Session{
		id:     uuid.NewString(),
		st:     s,
		memory: newMemory(s.opts.Budget),
	}
	sess.logger = log.With().Str("session", sess.id).Logger()

	sess.ask = gate.New("ask", func(p gate.Payload) {
		sess.publish(bus.NewAskUserEvent(sess.id, p.Message))
	})
	sess.feedback = gate.New("feedback", func(p gate.Payload) {
		sess.publish(bus.NewPresentPlanEvent(sess.id, p.Message, p.Data))
	})

	sess.extractor = s.extractor.WithRepairHook(func(ev extract.RepairEvent) {
		e := bus.NewEvent(bus.EventRepairAttempt)
		e.RequestID = sess.id
		e.Stage = string(StageExtract)
		e.Attempt = ev.Attempt
		if ev.Err != nil {
			e.Error = ev.Err.Error()
		}
		sess.publish(e)
	})
	return sess
}

// ID identifies the session on the bus.
func (s *Session) ID() string { return s.id }

// Busy reports whether Run is in progress.
func (s *Session) Busy() bool { return s.running.Load() }

// Memory is the session's state.
func (s *Session) Memory() *Memory { return s.memory }

// Awaiting names the gate the run is parked on: "ask", "feedback" or "".
func (s *Session) Awaiting() string {
	switch {
	case s.feedback.State() == gate.StateAwaiting:
		return s.feedback.Name()
	case s.ask.State() == gate.StateAwaiting:
		return s.ask.Name()
	}
	return ""
}

// SubmitAnswer answers the clarify stage's question.
func (s *Session) SubmitAnswer(text string) error {
	return s.ask.Supply(text)
}

// SubmitFeedback answers a presented plan.
func (s *Session) SubmitFeedback(text string) error {
	return s.feedback.Supply(text)
}

// Close aborts a parked run and rejects further input.
func (s *Session) Close() {
	s.ask.Close()
	s.feedback.Close()
}

func (s *Session) publish(e bus.Event) {
	if err := s.st.deps.Events.Publish(e); err != nil {
		s.logger.Debug().Err(err).Str("type", string(e.Type)).Msg("event not published")
	}
}

func (s *Session) say(content string) {
	s.publish(bus.NewAssistantMessageEvent(s.id, content))
}

// observe reports every tool result on the bus.
func (s *Session) observe(r *tools.ToolResult) {
	e := bus.NewEvent(bus.EventToolCalled)
	e.RequestID = s.id
	e.Tool = string(r.Tool)
	e.Success = r.Success
	e.DurationMs = r.Duration.Milliseconds()
	if c, ok := tools.CategoryFor(r.Tool); ok {
		e.Category = string(c)
	}
	if !r.Success {
		e.Error = r.Error
	}
	s.publish(e)

	if r.BudgetExceeded {
		denied := bus.NewEvent(bus.EventBudgetExceeded)
		denied.RequestID = s.id
		denied.Tool = e.Tool
		denied.Category = e.Category
		denied.Content = r.Error
		s.publish(denied)
	}
}

func (s *Session) onStep(ev *agent.StepEvent) {
	s.logger.Debug().
		Str("agent", ev.Agent).
		Str("step_type", string(ev.Type)).
		Int("step", ev.Step).
		Str("tool", ev.ToolName).
		Msg(ev.Message)
}

// Run plans the trip described by input. It returns when the plan is
// approved, the revision limit is reached, or the run fails. A failure is a
// *StageError carrying input.
func (s *Session) Run(ctx context.Context, input string) (result *Result, err error) {
	input = strings.TrimSpace(input)
	if input == "" {
		return nil, ErrEmptyInput
	}
	if !s.started.CompareAndSwap(false, true) {
		return nil, ErrSessionUsed
	}
	s.input = input
	s.running.Store(true)
	defer s.running.Store(false)
	defer s.Close()

	ctx, span := tracer.Start(ctx, "strategy.run", trace.WithAttributes(
		attribute.String("session.id", s.id),
	))
	start := time.Now()
	defer func() {
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())

			var se *StageError
			stage := ""
			if errors.As(err, &se) {
				stage = string(se.Stage)
			}
			s.say("An error occurred: " + err.Error())
			s.publish(bus.NewRunFailedEvent(s.id, stage, err))
			s.logger.Error().Err(err).Str("stage", stage).Msg("planning run failed")
		} else {
			done := bus.NewEvent(bus.EventRunCompleted)
			done.RequestID = s.id
			done.DurationMs = result.Duration.Milliseconds()
			done.Data = result.Committed.Plan()
			done.Content = result.Booking
			s.publish(done)
			s.logger.Info().
				Bool("approved", result.Approved).
				Int("revisions", result.Revisions).
				Dur("duration", result.Duration).
				Msg("planning run completed")
		}
		span.End()
	}()

	s.logger.Info().Msg("planning run started")

	requirements, err := runStage(ctx, s, StageClarify, s.clarify)
	if err != nil {
		return nil, err
	}

	result = &Result{
		SessionID:    s.id,
		Input:        input,
		Requirements: requirements,
	}

	committed, err := s.draft(ctx, s.planPrompt(requirements, nil, ""))
	if err != nil {
		return nil, err
	}

	for {
		type verdict struct {
			decision Decision
			feedback string
		}
		v, err := runStage(ctx, s, StageEvaluate, func(ctx context.Context) (verdict, error) {
			response, err := tools.NewFeedbackTool(s.feedback).Present(ctx, presentMessage, committed.Plan())
			if err != nil {
				return verdict{}, err
			}
			d, err := s.st.classifier.Classify(ctx, response)
			if err != nil {
				return verdict{}, err
			}
			s.logger.Debug().Str("decision", d.String()).Msg("feedback classified")
			return verdict{decision: d, feedback: response}, nil
		})
		if err != nil {
			return nil, err
		}

		if v.decision == Approve {
			result.Approved = true
			booking, err := s.book(ctx, committed)
			if err != nil {
				return nil, &StageError{Stage: StageEvaluate, Input: input, Err: err}
			}
			result.Booking = booking
			result.Booked = strings.HasPrefix(booking, tools.CalendarSuccessPrefix)
			break
		}

		if result.Revisions >= s.st.opts.MaxRevisions {
			result.RevisionLimitReached = true
			s.say(revisionLimitMsg)
			s.logger.Warn().Int("max_revisions", s.st.opts.MaxRevisions).Msg("revision limit reached")
			break
		}

		result.Revisions++
		rev := bus.NewEvent(bus.EventRevisionRequested)
		rev.RequestID = s.id
		rev.Attempt = result.Revisions
		rev.Content = v.feedback
		s.publish(rev)

		prompt := s.planPrompt(requirements, &committed, v.feedback)
		if committed, err = s.draft(ctx, prompt); err != nil {
			return nil, err
		}
	}

	result.Committed, err = runStage(ctx, s, StageFinish, func(context.Context) (Committed, error) {
		return committed, nil
	})
	if err != nil {
		return nil, err
	}
	result.ToolCalls = s.memory.Counters()
	result.Duration = time.Since(start)
	return result, nil
}

// runStage wraps one stage in a span and its bus events.
func runStage[T any](ctx context.Context, s *Session, stage Stage, fn func(context.Context) (T, error)) (T, error) {
	ctx, span := tracer.Start(ctx, "stage."+string(stage))
	defer span.End()

	s.publish(bus.NewStageEvent(bus.EventStageStarted, s.id, string(stage), 0))
	start := time.Now()

	out, err := fn(ctx)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		var zero T
		return zero, &StageError{Stage: stage, Input: s.input, Err: err}
	}

	s.publish(bus.NewStageEvent(bus.EventStageCompleted, s.id, string(stage), time.Since(start)))
	return out, nil
}

// clarify gathers the trip requirements from the user.
func (s *Session) clarify(ctx context.Context) (string, error) {
	exec := tools.NewExecutor(tools.WithObserver(s.observe))
	ask := &roundLimited{Tool: tools.NewAskUserTool(s.ask), max: s.st.opts.ClarifyMaxRounds}
	if err := exec.Register(ask); err != nil {
		return "", err
	}

	system, err := s.st.deps.Prompts.Render(prompts.ClarifySystem, map[string]any{
		"MaxRounds": s.st.opts.ClarifyMaxRounds,
		"MinDate":   s.st.minDate().Format("2006-01-02"),
		"Tools":     exec.Describe(),
	})
	if err != nil {
		return "", err
	}
	user, err := s.st.deps.Prompts.Render(prompts.ClarifyUser, map[string]any{"Input": s.input})
	if err != nil {
		return "", err
	}

	resp, err := s.newAgent("clarify", system, exec, s.st.opts.ClarifyMaxSteps).Run(ctx, user)
	if err != nil {
		return "", err
	}

	requirements := strings.TrimSpace(resp.Message)
	if requirements == "" {
		requirements = s.input
	}
	s.say(requirements)
	return requirements, nil
}

func (s *Session) newAgent(name, system string, exec *tools.Executor, maxSteps int) *agent.Agent {
	finalTurn, err := s.st.deps.Prompts.Render(prompts.FinalTurn, nil)
	if err != nil {
		finalTurn = ""
	}
	return agent.New(s.st.deps.Provider, exec, agent.Config{
		Name:            name,
		SystemPrompt:    system,
		MaxSteps:        maxSteps,
		FinalTurnPrompt: finalTurn,
		OnStep:          s.onStep,
	})
}

// planPrompt builds the plan stage's user message. previous is nil on the
// first draft.
func (s *Session) planPrompt(requirements string, previous *Committed, feedback string) func() (string, error) {
	return func() (string, error) {
		if previous == nil {
			return s.st.deps.Prompts.Render(prompts.PlanUser, map[string]any{
				"Requirements": requirements,
			})
		}
		return s.st.deps.Prompts.Render(prompts.RevisionUser, map[string]any{
			"Requirements": requirements,
			"Previous":     previous.Plan().JSON(),
			"Feedback":     feedback,
		})
	}
}

// draft runs plan → extract → save and returns the committed plan.
func (s *Session) draft(ctx context.Context, userPrompt func() (string, error)) (Committed, error) {
	document, err := runStage(ctx, s, StagePlan, func(ctx context.Context) (string, error) {
		user, err := userPrompt()
		if err != nil {
			return "", err
		}
		return s.plan(ctx, user)
	})
	if err != nil {
		return Committed{}, err
	}

	tp, err := runStage(ctx, s, StageExtract, func(ctx context.Context) (plan.TripPlan, error) {
		return s.extractor.Extract(ctx, document)
	})
	if err != nil {
		return Committed{}, err
	}

	return runStage(ctx, s, StageSave, func(context.Context) (Committed, error) {
		c := s.memory.Commit(tp)
		s.logger.Debug().Int("version", c.Version()).Int("steps", len(tp.Steps)).Msg("plan committed")
		return c, nil
	})
}

// plan runs the planning conversation with the budgeted research tools.
func (s *Session) plan(ctx context.Context, user string) (string, error) {
	guard := s.memory.Guard()
	exec := tools.NewExecutor(tools.WithObserver(s.observe))
	for _, t := range []tools.Tool{s.st.deps.Search, s.st.deps.Scrape, s.st.deps.Directions} {
		if t == nil {
			continue
		}
		if err := exec.Register(tools.Guarded(t, guard)); err != nil {
			return "", err
		}
	}

	maxPerDay := s.st.opts.MaxActivitiesPerDay
	if maxPerDay <= 0 {
		maxPerDay = DefaultOptions().MaxActivitiesPerDay
	}
	system, err := s.st.deps.Prompts.Render(prompts.PlanSystem, map[string]any{
		"MinDate":             s.st.minDate().Format("2006-01-02"),
		"MaxActivitiesPerDay": maxPerDay,
		"Budget":              guard.Describe(),
		"Tools":               exec.Describe(),
	})
	if err != nil {
		return "", err
	}

	resp, err := s.newAgent("plan", system, exec, s.st.opts.PlanMaxSteps).Run(ctx, user)
	if err != nil {
		return "", err
	}
	if strings.TrimSpace(resp.Message) == "" {
		return "", errEmptyDraft
	}
	return resp.Message, nil
}

// book registers the approved plan in the calendar once. The returned text
// is the calendar tool's in-band output; err is set only on abort.
func (s *Session) book(ctx context.Context, c Committed) (string, error) {
	p := c.Plan()

	loc := s.st.deps.Zones.Fallback()
	if first, ok := p.FirstActivity(); ok {
		loc = s.st.deps.Zones.Locate(first.Longitude, first.Latitude)
	}

	var booking string
	start, end, err := p.EventWindow(loc)
	if err != nil {
		booking = tools.CalendarFailure(err)
	} else {
		args := tools.CalendarArgs{
			EventName:   p.EventName(),
			StartDate:   tools.FormatLocalTime(start),
			EndDate:     tools.FormatLocalTime(end),
			Timezone:    loc.String(),
			Description: p.Summary,
		}
		if first, ok := p.FirstActivity(); ok {
			args.Location = first.Location
		}
		raw, err := json.Marshal(args)
		if err != nil {
			return "", err
		}

		exec := tools.NewExecutor(tools.WithObserver(s.observe))
		if err := exec.Register(tools.Guarded(s.st.deps.Calendar, s.memory.Guard())); err != nil {
			return "", err
		}
		res, err := exec.Execute(ctx, string(tools.ToolCalendar), raw)
		if err != nil {
			return "", err
		}
		booking = res.Text()
	}

	e := bus.NewEvent(bus.EventBookingRecorded)
	e.RequestID = s.id
	e.Tool = string(tools.ToolCalendar)
	e.Success = strings.HasPrefix(booking, tools.CalendarSuccessPrefix)
	e.Content = booking
	s.publish(e)
	s.say(booking)
	return booking, nil
}

// roundLimited stops the clarify conversation from asking more than max
// rounds of questions.
type roundLimited struct {
	tools.Tool
	max   int
	asked int
}

func (r *roundLimited) Execute(ctx context.Context, args json.RawMessage) (string, error) {
	if r.asked >= r.max {
		return "", fmt.Errorf("question limit reached (%d rounds); continue with sensible defaults and write the requirements summary", r.max)
	}
	out, err := r.Tool.Execute(ctx, args)
	if err == nil {
		r.asked++
	}
	return out, err
}
