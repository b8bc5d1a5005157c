// Package extract turns a free-form itinerary into a validated TripPlan.
//
// The document is parsed locally first. When that fails the primary model
// converts it with a worked example as a guide, and when its output does not
// validate a fixing model gets a bounded number of attempts to repair it.
package extract

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	jsonrepair "github.com/RealAlexandreAI/json-repair"
	"github.com/paulmach/orb"
	"github.com/rs/zerolog/log"
	"github.com/samber/lo"

	"github.com/hiroaki404/trip-ai/internal/llm"
	"github.com/hiroaki404/trip-ai/internal/plan"
	"github.com/hiroaki404/trip-ai/internal/prompts"
)

// SchemaError is returned when no valid plan could be produced within the
// repair budget.
type SchemaError struct {
	Attempts int
	Err      error
}

func (e *SchemaError) Error() string {
	return fmt.Sprintf("trip plan failed validation after %d repair attempt(s): %v", e.Attempts, e.Err)
}

func (e *SchemaError) Unwrap() error {
	return e.Err
}

// ErrNoJSON is returned when a model reply contains no JSON object.
var ErrNoJSON = errors.New("no JSON object found")

// RouteIndex is the read side of the route store.
type RouteIndex interface {
	Has(id string) bool
	IDs() []string
	Points(id string) ([]orb.Point, error)
}

// RepairEvent describes one call to the fixing model.
type RepairEvent struct {
	Attempt int
	Max     int
	Err     error
}

// Config configures an Extractor.
type Config struct {
	// Primary converts the document on the first pass.
	Primary llm.Provider

	// Fixer repairs invalid output. Nil uses Primary.
	Fixer llm.Provider

	// FixerModel overrides the fixer's default model.
	FixerModel string

	Prompts *prompts.Store

	// RepairRetries bounds the fixing-model calls.
	RepairRetries int

	Variant             plan.Variant
	MinDate             time.Time
	MaxActivitiesPerDay int

	// Routes, when set, must contain every routeId. Required for the inline variant.
	Routes RouteIndex

	OnRepair func(RepairEvent)
}

// Extractor converts itineraries into plans.
type Extractor struct {
	cfg   Config
	rules plan.Rules
}

// New returns an extractor. It fails when the configuration cannot work.
func New(cfg Config) (*Extractor, error) {
	if cfg.Primary == nil {
		return nil, errors.New("extract: primary provider is required")
	}
	if cfg.Prompts == nil {
		return nil, errors.New("extract: prompts are required")
	}
	if cfg.Fixer == nil {
		cfg.Fixer = cfg.Primary
	}
	if cfg.RepairRetries < 0 {
		cfg.RepairRetries = 0
	}
	if cfg.Variant == "" {
		cfg.Variant = plan.VariantRouteRef
	}
	if !cfg.Variant.Valid() {
		return nil, fmt.Errorf("extract: unknown schema variant %q", cfg.Variant)
	}
	if cfg.Variant == plan.VariantInline && cfg.Routes == nil {
		return nil, errors.New("extract: the inline variant needs a route index")
	}

	rules := plan.Rules{
		Variant:             cfg.Variant,
		MinDate:             cfg.MinDate,
		MaxActivitiesPerDay: cfg.MaxActivitiesPerDay,
	}
	if cfg.Routes != nil {
		rules.Routes = cfg.Routes
	}
	return &Extractor{cfg: cfg, rules: rules}, nil
}

// WithRepairHook returns a copy of e that reports repair attempts to fn.
func (e *Extractor) WithRepairHook(fn func(RepairEvent)) *Extractor {
	c := *e
	c.cfg.OnRepair = fn
	return &c
}

// Extract returns the plan described by document.
func (e *Extractor) Extract(ctx context.Context, document string) (plan.TripPlan, error) {
	if tp, err := e.decode(document); err == nil {
		log.Debug().Msg("document is already a valid plan")
		return tp, nil
	}

	system, err := e.cfg.Prompts.Render(prompts.ExtractSystem, map[string]any{"Example": plan.ExampleJSON()})
	if err != nil {
		return plan.TripPlan{}, err
	}
	user, err := e.cfg.Prompts.Render(prompts.ExtractUser, map[string]any{"Document": document})
	if err != nil {
		return plan.TripPlan{}, err
	}

	output, err := llm.Complete(ctx, e.cfg.Primary, system, user)
	if err != nil {
		return plan.TripPlan{}, fmt.Errorf("extract plan: %w", err)
	}

	tp, verr := e.decode(output)
	if verr == nil {
		return tp, nil
	}

	for attempt := 1; attempt <= e.cfg.RepairRetries; attempt++ {
		log.Warn().Err(verr).Int("attempt", attempt).Int("max", e.cfg.RepairRetries).Msg("plan failed validation, repairing")
		if e.cfg.OnRepair != nil {
			e.cfg.OnRepair(RepairEvent{Attempt: attempt, Max: e.cfg.RepairRetries, Err: verr})
		}

		output, err = e.repair(ctx, document, output, verr)
		if err != nil {
			return plan.TripPlan{}, fmt.Errorf("repair plan: %w", err)
		}

		if tp, verr = e.decode(output); verr == nil {
			log.Info().Int("attempt", attempt).Msg("plan repaired")
			return tp, nil
		}
	}

	return plan.TripPlan{}, &SchemaError{Attempts: e.cfg.RepairRetries, Err: verr}
}

func (e *Extractor) repair(ctx context.Context, document, output string, verr error) (string, error) {
	system, err := e.cfg.Prompts.Render(prompts.RepairSystem, map[string]any{
		"KnownRoutes": strings.Join(e.knownRoutes(document+"\n"+output), ", "),
	})
	if err != nil {
		return "", err
	}
	user, err := e.cfg.Prompts.Render(prompts.RepairUser, map[string]any{
		"Output":   output,
		"Error":    verr.Error(),
		"Document": document,
	})
	if err != nil {
		return "", err
	}

	resp, err := e.cfg.Fixer.Chat(ctx, &llm.ChatRequest{
		Model:        e.cfg.FixerModel,
		SystemPrompt: system,
		Messages:     []llm.Message{llm.UserMessage(user)},
	})
	if err != nil {
		return "", err
	}
	return resp.Content, nil
}

// knownRoutes lists stored route ids mentioned in text.
func (e *Extractor) knownRoutes(text string) []string {
	if e.cfg.Routes == nil {
		return nil
	}
	return lo.Filter(e.cfg.Routes.IDs(), func(id string, _ int) bool {
		return strings.Contains(text, id)
	})
}

// decode parses and validates text, converting to the inline variant when
// configured.
func (e *Extractor) decode(text string) (plan.TripPlan, error) {
	tp, err := Parse(text)
	if err != nil {
		return plan.TripPlan{}, err
	}
	if e.cfg.Variant == plan.VariantInline {
		if tp, err = tp.Inline(e.cfg.Routes); err != nil {
			return plan.TripPlan{}, &plan.ValidationError{Problems: []string{err.Error()}}
		}
	}
	if err := tp.Validate(e.rules); err != nil {
		return plan.TripPlan{}, err
	}
	return tp, nil
}

// Parse extracts the JSON object from a model reply and decodes it. Code
// fences and surrounding prose are ignored; syntax errors are repaired
// locally when possible.
func Parse(text string) (plan.TripPlan, error) {
	obj, err := jsonObject(text)
	if err != nil {
		return plan.TripPlan{}, err
	}

	tp, err := plan.Parse([]byte(obj))
	if err == nil {
		return tp, nil
	}

	repaired, rerr := jsonrepair.RepairJSON(obj)
	if rerr != nil {
		return plan.TripPlan{}, fmt.Errorf("decode plan: %w", err)
	}
	tp, rerr = plan.Parse([]byte(repaired))
	if rerr != nil {
		return plan.TripPlan{}, fmt.Errorf("decode plan: %w", err)
	}
	return tp, nil
}

func jsonObject(text string) (string, error) {
	s := strings.TrimSpace(text)
	if strings.HasPrefix(s, "```") {
		s = strings.TrimPrefix(s, "```json")
		s = strings.TrimPrefix(s, "```")
		s = strings.TrimSuffix(strings.TrimSpace(s), "```")
	}
	start := strings.Index(s, "{")
	end := strings.LastIndex(s, "}")
	if start < 0 || end <= start {
		return "", ErrNoJSON
	}
	return s[start : end+1], nil
}
