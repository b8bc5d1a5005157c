package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/charmbracelet/glamour"
	"github.com/charmbracelet/lipgloss"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/hiroaki404/trip-ai/internal/bus"
	"github.com/hiroaki404/trip-ai/internal/gate"
	"github.com/hiroaki404/trip-ai/internal/metrics"
	"github.com/hiroaki404/trip-ai/internal/plan"
	"github.com/hiroaki404/trip-ai/internal/strategy"
)

var (
	promptStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("12")).Bold(true)
	assistantStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("14"))
	warnStyle      = lipgloss.NewStyle().Foreground(lipgloss.Color("11"))
	errorStyle     = lipgloss.NewStyle().Foreground(lipgloss.Color("9")).Bold(true)
	dimStyle       = lipgloss.NewStyle().Foreground(lipgloss.Color("8"))
)

func planCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "plan [request]",
		Short: "Plan a trip in the terminal",
		Long: `Start an interactive planning conversation. Answer the questions, then reply to
the proposed plan with changes, or approve it (e.g. "looks good") to book it.
Type "exit" to quit.`,
		RunE: runPlan,
	}
}

func runPlan(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

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

	c := newConsole(a, os.Stdout, metrics.NewDashboard(collector))
	subID := eventBus.Subscribe(bus.EventType(""), c.render)
	defer eventBus.Unsubscribe(subID)

	fmt.Fprintln(c.out, promptStyle.Render("tripai")+dimStyle.Render(" - describe your trip. Type exit to quit."))

	if len(args) > 0 {
		c.handleLine(ctx, strings.Join(args, " "))
	}

	lines := make(chan string)
	go func() {
		defer close(lines)
		scanner := bufio.NewScanner(os.Stdin)
		for scanner.Scan() {
			lines <- scanner.Text()
		}
	}()

	for {
		select {
		case <-ctx.Done():
			c.shutdown()
			return nil
		case line, ok := <-lines:
			if !ok {
				c.shutdown()
				return nil
			}
			switch strings.TrimSpace(strings.ToLower(line)) {
			case "exit", "quit":
				c.shutdown()
				return nil
			case "stats":
				fmt.Fprintln(c.out, c.dashboard.Render())
				continue
			}
			c.handleLine(ctx, line)
		}
	}
}

// lineTarget is the part of a session a typed line can go to.
type lineTarget interface {
	Awaiting() string
	SubmitAnswer(text string) error
	SubmitFeedback(text string) error
}

// routeLine hands a line to the gate the run is waiting on. Lines typed
// while the model is working go to the ask gate and are delivered with the
// next question.
func routeLine(t lineTarget, line string) error {
	if t.Awaiting() == "feedback" {
		return t.SubmitFeedback(line)
	}
	return t.SubmitAnswer(line)
}

// console drives planning sessions from stdin and renders their events.
type console struct {
	app       *app
	out       io.Writer
	dashboard *metrics.Dashboard

	mu      sync.Mutex
	current *strategy.Session
	running bool
	wg      sync.WaitGroup

	renderer *glamour.TermRenderer
}

func newConsole(a *app, out io.Writer, dashboard *metrics.Dashboard) *console {
	return &console{app: a, out: out, dashboard: dashboard, renderer: newMarkdownRenderer()}
}

func newMarkdownRenderer() *glamour.TermRenderer {
	r, err := glamour.NewTermRenderer(glamour.WithAutoStyle(), glamour.WithWordWrap(100))
	if err != nil {
		log.Debug().Err(err).Msg("markdown renderer unavailable")
		return nil
	}
	return r
}

// renderMarkdown styles md for the terminal, or returns it unchanged.
func renderMarkdown(r *glamour.TermRenderer, md string) string {
	if r == nil {
		return md
	}
	out, err := r.Render(md)
	if err != nil {
		return md
	}
	return out
}

func (c *console) session() *strategy.Session {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.current
}

func (c *console) handleLine(ctx context.Context, line string) {
	if strings.TrimSpace(line) == "" {
		return
	}

	c.mu.Lock()
	sess, running := c.current, c.running
	if !running {
		sess = c.app.strategy.NewSession()
		c.current, c.running = sess, true
	}
	c.mu.Unlock()

	if running {
		if err := routeLine(sess, line); err != nil {
			switch {
			case errors.Is(err, gate.ErrSlotFull):
				fmt.Fprintln(c.out, warnStyle.Render("Still working on your last message..."))
			default:
				fmt.Fprintln(c.out, errorStyle.Render("Input not accepted: "+err.Error()))
			}
		}
		return
	}

	c.wg.Add(1)
	go func() {
		defer c.wg.Done()
		started := time.Now()
		res, err := sess.Run(ctx, line)
		c.mu.Lock()
		c.running = false
		c.mu.Unlock()
		c.app.archive(sess.ID(), line, res, err, started)
		c.finished(res, err)
	}()
}

func (c *console) finished(res *strategy.Result, err error) {
	if err != nil {
		var se *strategy.StageError
		if errors.As(err, &se) {
			fmt.Fprintln(c.out, dimStyle.Render("Your request was: "+se.Input+" - send it again to retry."))
		}
		return
	}

	switch {
	case res.RevisionLimitReached:
		fmt.Fprintln(c.out, warnStyle.Render(fmt.Sprintf("Finished after %d revisions without booking.", res.Revisions)))
	case res.Booked:
		fmt.Fprintln(c.out, promptStyle.Render("Trip booked."))
	}
	fmt.Fprintln(c.out, dimStyle.Render(c.dashboard.RenderCompact()))
}

func (c *console) shutdown() {
	if sess := c.session(); sess != nil {
		sess.Close()
	}
	c.wg.Wait()
}

// render prints the events of the current session.
func (c *console) render(e bus.Event) {
	sess := c.session()
	if sess == nil || e.RequestID != sess.ID() {
		return
	}

	switch e.Type {
	case bus.EventAskUser:
		fmt.Fprintln(c.out, promptStyle.Render("? ")+e.Content)

	case bus.EventPresentPlan:
		if p, ok := e.Data.(plan.TripPlan); ok {
			fmt.Fprint(c.out, renderMarkdown(c.renderer, p.Markdown()))
		}
		fmt.Fprintln(c.out, promptStyle.Render("? ")+e.Content)

	case bus.EventAssistantMessage:
		if strings.HasPrefix(e.Content, "An error occurred") {
			fmt.Fprintln(c.out, errorStyle.Render(e.Content))
			return
		}
		fmt.Fprintln(c.out, assistantStyle.Render(e.Content))

	case bus.EventStageStarted:
		fmt.Fprintln(c.out, dimStyle.Render("… "+e.Stage))

	case bus.EventToolCalled:
		status := "ok"
		if !e.Success {
			status = "failed"
		}
		fmt.Fprintln(c.out, dimStyle.Render(fmt.Sprintf("  %s: %s", e.Tool, status)))

	case bus.EventBudgetExceeded:
		fmt.Fprintln(c.out, warnStyle.Render("  "+e.Category+" budget used up"))

	case bus.EventRepairAttempt:
		fmt.Fprintln(c.out, warnStyle.Render(fmt.Sprintf("  repairing plan format (attempt %d)", e.Attempt)))
	}
}
