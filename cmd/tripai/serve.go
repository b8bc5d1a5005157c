package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/hiroaki404/trip-ai/internal/bus"
	"github.com/hiroaki404/trip-ai/internal/metrics"
	"github.com/hiroaki404/trip-ai/internal/strategy"
)

func serveCmd() *cobra.Command {
	var addr string
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve the websocket planning UI",
		Long: `Serve planning sessions over a websocket at /ws, plus /health, /metrics and
/routes/{id}. Each connection runs its own session.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			if addr == "" {
				addr = cfg.Server.Addr
			}
			if addr == "" {
				addr = bus.DefaultAddr
			}

			eventBus := bus.NewBus()
			defer eventBus.Close()

			collector := metrics.NewCollector(eventBus)
			collector.Start()
			defer collector.Stop()

			a, err := newApp(cfg, eventBus)
			if err != nil {
				return err
			}
			defer a.Close()

			observer := bus.NewObserver(eventBus, bus.ObserverConfig{
				Addr: addr,
				NewConversation: func() bus.Conversation {
					return newConversation(a, a.strategy.NewSession())
				},
				Routes:  a.routes,
				Metrics: collector.Handler(),
			})
			if err := observer.Start(); err != nil {
				return err
			}
			fmt.Printf("tripai listening on http://%s\n", addr)

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			<-ctx.Done()

			log.Info().Msg("shutting down")
			return observer.Stop()
		},
	}
	cmd.Flags().StringVar(&addr, "addr", "", "listen address (default from config, "+bus.DefaultAddr+")")
	return cmd
}

// conversation runs a strategy session for one websocket client.
type conversation struct {
	app    *app
	sess   *strategy.Session
	active atomic.Bool
}

func newConversation(a *app, sess *strategy.Session) *conversation {
	return &conversation{app: a, sess: sess}
}

func (c *conversation) ID() string { return c.sess.ID() }

// Start runs the session in the background and archives the outcome.
func (c *conversation) Start(ctx context.Context, input string) {
	c.active.Store(true)
	go func() {
		defer c.active.Store(false)
		started := time.Now()
		res, err := c.sess.Run(ctx, input)
		c.app.archive(c.sess.ID(), input, res, err, started)
	}()
}

func (c *conversation) Busy() bool {
	return c.active.Load() || c.sess.Busy()
}

func (c *conversation) SubmitAnswer(text string) error   { return c.sess.SubmitAnswer(text) }
func (c *conversation) SubmitFeedback(text string) error { return c.sess.SubmitFeedback(text) }
func (c *conversation) Close()                           { c.sess.Close() }
