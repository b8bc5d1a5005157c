// Package strategy runs the planning graph: clarify, plan, extract, save,
// evaluate and finish, with one loop back from evaluate to plan.
package strategy

import (
	"errors"
	"fmt"
	"time"

	"go.opentelemetry.io/otel"

	"github.com/hiroaki404/trip-ai/internal/budget"
	"github.com/hiroaki404/trip-ai/internal/bus"
	"github.com/hiroaki404/trip-ai/internal/calendar"
	"github.com/hiroaki404/trip-ai/internal/config"
	"github.com/hiroaki404/trip-ai/internal/extract"
	"github.com/hiroaki404/trip-ai/internal/llm"
	"github.com/hiroaki404/trip-ai/internal/plan"
	"github.com/hiroaki404/trip-ai/internal/prompts"
	"github.com/hiroaki404/trip-ai/internal/routes"
	"github.com/hiroaki404/trip-ai/internal/tools"
)

var tracer = otel.Tracer("github.com/hiroaki404/trip-ai/internal/strategy")

// Options tune one planning run.
type Options struct {
	// MinDate is the earliest trip date. Zero means today.
	MinDate time.Time

	// MaxRevisions bounds the evaluate → plan loop.
	MaxRevisions int

	// RepairRetries bounds fixing-model calls per extraction.
	RepairRetries int

	ClarifyMaxSteps  int
	ClarifyMaxRounds int
	PlanMaxSteps     int

	// MaxActivitiesPerDay is enforced on extracted plans. 0 disables.
	MaxActivitiesPerDay int

	Approval     ApprovalMode
	VerifyRoutes bool
	Variant      plan.Variant
	FixerModel   string

	// Budget holds the per-session tool ceilings.
	Budget budget.Limits
}

// DefaultOptions returns the options used when nothing is configured.
func DefaultOptions() Options {
	return Options{
		MaxRevisions:        3,
		RepairRetries:       2,
		ClarifyMaxSteps:     8,
		ClarifyMaxRounds:    2,
		PlanMaxSteps:        24,
		MaxActivitiesPerDay: 5,
		Approval:            ApprovalMarkers,
		VerifyRoutes:        true,
		Variant:             plan.VariantRouteRef,
		Budget:              budget.DefaultLimits(),
	}
}

// OptionsFromConfig maps the planning and budget sections of cfg.
func OptionsFromConfig(cfg *config.Config) (Options, error) {
	opts := DefaultOptions()
	minDate, err := cfg.MinDate()
	if err != nil {
		return opts, err
	}

	p := cfg.Planning
	opts.MinDate = minDate
	opts.MaxRevisions = p.MaxRevisions
	opts.RepairRetries = p.RepairRetries
	opts.ClarifyMaxSteps = p.ClarifyMaxSteps
	opts.PlanMaxSteps = p.PlanMaxSteps
	opts.MaxActivitiesPerDay = p.MaxActivitiesPerDay
	opts.Approval = ApprovalMode(p.Approval)
	opts.VerifyRoutes = p.VerifyRoutes
	opts.Variant = plan.Variant(p.SchemaVariant)
	opts.FixerModel = cfg.LLM.FixingModel
	opts.Budget = budget.Limits{
		budget.CategorySearch:     cfg.Budget.Search,
		budget.CategoryScrape:     cfg.Budget.Scrape,
		budget.CategoryDirections: cfg.Budget.Directions,
		budget.CategoryCalendar:   cfg.Budget.Calendar,
	}
	return opts.normalize(), nil
}

func (o Options) normalize() Options {
	d := DefaultOptions()
	if o.MaxRevisions < 0 {
		o.MaxRevisions = 0
	}
	if o.RepairRetries < 0 {
		o.RepairRetries = 0
	}
	if o.ClarifyMaxSteps <= 0 {
		o.ClarifyMaxSteps = d.ClarifyMaxSteps
	}
	if o.ClarifyMaxRounds <= 0 {
		o.ClarifyMaxRounds = d.ClarifyMaxRounds
	}
	if o.PlanMaxSteps <= 0 {
		o.PlanMaxSteps = d.PlanMaxSteps
	}
	if o.Approval == "" {
		o.Approval = ApprovalMarkers
	}
	if o.Variant == "" {
		o.Variant = plan.VariantRouteRef
	}
	if o.Budget == nil {
		o.Budget = d.Budget
	}
	return o
}

// Deps are the collaborators shared by every session.
type Deps struct {
	// Provider drives the clarify and plan conversations and first-pass extraction.
	Provider llm.Provider

	// Fixer repairs structured output and classifies feedback. Nil uses Provider.
	Fixer llm.Provider

	Prompts *prompts.Store

	// Routes backs routeId verification and the inline schema variant.
	Routes *routes.Store

	// Plan-stage tools. Nil tools are left out of the conversation.
	Search     tools.Tool
	Scrape     tools.Tool
	Directions tools.Tool

	// Calendar books an approved plan. Nil books nowhere and reports the failure.
	Calendar tools.Tool

	// Zones finds the trip's timezone for booking.
	Zones *calendar.ZoneResolver

	// Events receives the session's bus events.
	Events bus.Publisher
}

// Strategy creates planning sessions over a fixed set of collaborators.
type Strategy struct {
	deps       Deps
	opts       Options
	classifier *Classifier
	extractor  *extract.Extractor
}

// New checks deps and opts and returns a strategy.
func New(deps Deps, opts Options) (*Strategy, error) {
	if deps.Provider == nil {
		return nil, errors.New("strategy: provider is required")
	}
	if deps.Prompts == nil {
		return nil, errors.New("strategy: prompts are required")
	}
	if deps.Fixer == nil {
		deps.Fixer = deps.Provider
	}
	if deps.Zones == nil {
		deps.Zones = calendar.NewZoneResolver(nil)
	}
	if deps.Events == nil {
		deps.Events = bus.Discard
	}
	if deps.Calendar == nil {
		deps.Calendar = tools.NewCalendarTool(calendar.Disabled{}, deps.Zones.Fallback())
	}
	opts = opts.normalize()
	if opts.Approval != ApprovalMarkers && opts.Approval != ApprovalModel {
		return nil, fmt.Errorf("strategy: unknown approval mode %q", opts.Approval)
	}

	s := &Strategy{
		deps:       deps,
		opts:       opts,
		classifier: NewClassifier(opts.Approval, deps.Fixer, opts.FixerModel, deps.Prompts),
	}
	ex, err := extract.New(s.extractConfig())
	if err != nil {
		return nil, fmt.Errorf("strategy: %w", err)
	}
	s.extractor = ex
	return s, nil
}

// Options returns the normalized options.
func (s *Strategy) Options() Options {
	return s.opts
}

func (s *Strategy) extractConfig() extract.Config {
	cfg := extract.Config{
		Primary:             s.deps.Provider,
		Fixer:               s.deps.Fixer,
		FixerModel:          s.opts.FixerModel,
		Prompts:             s.deps.Prompts,
		RepairRetries:       s.opts.RepairRetries,
		Variant:             s.opts.Variant,
		MinDate:             s.opts.MinDate,
		MaxActivitiesPerDay: s.opts.MaxActivitiesPerDay,
	}
	// Assigning a nil *routes.Store would leave a non-nil interface.
	if s.deps.Routes != nil && (s.opts.VerifyRoutes || s.opts.Variant == plan.VariantInline) {
		cfg.Routes = s.deps.Routes
	}
	return cfg
}

func (s *Strategy) minDate() time.Time {
	if s.opts.MinDate.IsZero() {
		now := time.Now()
		return time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, time.UTC)
	}
	return s.opts.MinDate
}
