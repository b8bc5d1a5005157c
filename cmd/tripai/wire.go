package main

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/hiroaki404/trip-ai/internal/bus"
	"github.com/hiroaki404/trip-ai/internal/calendar"
	"github.com/hiroaki404/trip-ai/internal/config"
	"github.com/hiroaki404/trip-ai/internal/history"
	"github.com/hiroaki404/trip-ai/internal/llm"
	"github.com/hiroaki404/trip-ai/internal/prompts"
	"github.com/hiroaki404/trip-ai/internal/routes"
	"github.com/hiroaki404/trip-ai/internal/strategy"
	"github.com/hiroaki404/trip-ai/internal/tools"
)

// app holds what one tripai process shares across planning sessions.
type app struct {
	cfg      *config.Config
	strategy *strategy.Strategy
	routes   *routes.Store
	history  *history.Store
}

func seconds(n int) time.Duration {
	return time.Duration(n) * time.Second
}

// newApp wires providers, tools and stores from cfg. events receives every
// session's bus events.
func newApp(cfg *config.Config, events bus.Publisher) (*app, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	provider, err := llm.NewProvider(cfg)
	if err != nil {
		return nil, fmt.Errorf("llm provider: %w", err)
	}
	fixer, err := llm.NewFixingProvider(cfg)
	if err != nil {
		return nil, fmt.Errorf("fixing provider: %w", err)
	}
	if !provider.Available() {
		log.Warn().Str("provider", provider.Name()).Msg("LLM provider is not configured; set its API key")
	}

	store := routes.Open(cfg.Storage.RoutesPath)

	fallback, err := time.LoadLocation(cfg.Tools.Calendar.DefaultTimezone)
	if err != nil {
		return nil, fmt.Errorf("calendar timezone: %w", err)
	}
	zones := calendar.NewZoneResolver(fallback)

	service, err := calendar.New(cfg.Tools.Calendar.Backend, cfg.Tools.Calendar.ICSPath)
	if err != nil {
		return nil, err
	}

	sc := cfg.Tools.Search
	search := tools.NewWebSearchTool(
		tools.WithAPIKey(sc.APIKey),
		tools.WithEngineID(sc.EngineID),
		tools.WithEndpoint(sc.Endpoint),
		tools.WithCacheTTL(seconds(sc.CacheTTLSec)),
		tools.WithHTTPClient(&http.Client{Timeout: seconds(sc.TimeoutSec)}),
	)
	if sc.APIKey == "" || sc.EngineID == "" {
		log.Warn().Msg("web search is not configured; searches will fail")
	}

	scrape := tools.NewScrapeTool(tools.ScrapeConfig{
		UserAgent:     cfg.Tools.Scrape.UserAgent,
		MaxBodyChars:  cfg.Tools.Scrape.MaxBodyChars,
		MaxFetchBytes: cfg.Tools.Scrape.MaxFetchBytes,
		Timeout:       seconds(cfg.Tools.Scrape.TimeoutSec),
	})

	dc := cfg.Tools.Directions
	directions := tools.NewDirectionsTool(tools.DirectionsConfig{
		AccessToken:  dc.AccessToken,
		Endpoint:     dc.Endpoint,
		Profile:      dc.Profile,
		Geometries:   dc.Geometries,
		Language:     dc.Language,
		Overview:     dc.Overview,
		Alternatives: dc.Alternatives,
		Steps:        dc.Steps,
		Timeout:      seconds(dc.TimeoutSec),
	}, store)
	if dc.AccessToken == "" {
		log.Warn().Msg("directions are not configured; set MAPBOX_ACCESS_TOKEN")
	}

	opts, err := strategy.OptionsFromConfig(cfg)
	if err != nil {
		return nil, err
	}
	st, err := strategy.New(strategy.Deps{
		Provider:   provider,
		Fixer:      fixer,
		Prompts:    prompts.MustLoad(),
		Routes:     store,
		Search:     search,
		Scrape:     scrape,
		Directions: directions,
		Calendar:   tools.NewCalendarTool(service, fallback),
		Zones:      zones,
		Events:     events,
	}, opts)
	if err != nil {
		return nil, err
	}

	a := &app{cfg: cfg, strategy: st, routes: store}
	if hist, err := history.Open(cfg.Storage.HistoryPath); err != nil {
		log.Warn().Err(err).Msg("run history disabled")
	} else {
		a.history = hist
	}
	return a, nil
}

func (a *app) Close() {
	if a.history != nil {
		a.history.Close()
	}
}

// archive records a finished run. It never fails the caller.
func (a *app) archive(sessionID, input string, res *strategy.Result, runErr error, started time.Time) {
	if a.history == nil {
		return
	}
	if err := a.history.Save(context.Background(), historyRun(sessionID, input, res, runErr, started)); err != nil {
		log.Warn().Err(err).Str("session", sessionID).Msg("failed to archive run")
	}
}

func historyRun(sessionID, input string, res *strategy.Result, runErr error, started time.Time) history.Run {
	run := history.Run{
		ID:        sessionID,
		CreatedAt: started,
		Input:     input,
		Duration:  time.Since(started),
		Status:    history.StatusCompleted,
	}
	if runErr != nil {
		run.Status = history.StatusFailed
		run.Error = runErr.Error()
		return run
	}
	p := res.Plan()
	run.Requirements = res.Requirements
	run.Summary = p.Summary
	run.PlanJSON = p.JSON()
	run.Booking = res.Booking
	run.Revisions = res.Revisions
	run.RevisionLimitReached = res.RevisionLimitReached
	run.Duration = res.Duration
	return run
}
