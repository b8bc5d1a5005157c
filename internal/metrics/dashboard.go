package metrics

import (
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/lipgloss"
)

var (
	boxStyle = lipgloss.NewStyle().
			Border(lipgloss.RoundedBorder()).
			BorderForeground(lipgloss.Color("240")).
			Padding(0, 1)
	headerStyle = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("86"))
	labelStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("245")).Width(12)
	valueStyle  = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("255")).Width(14)
	goodStyle   = valueStyle.Foreground(lipgloss.Color("82"))
	warnStyle   = valueStyle.Foreground(lipgloss.Color("214"))
	badStyle    = valueStyle.Foreground(lipgloss.Color("196"))
)

// Dashboard renders collector totals for the console.
type Dashboard struct {
	collector *Collector
	width     int
}

// NewDashboard creates a dashboard renderer.
func NewDashboard(collector *Collector) *Dashboard {
	return &Dashboard{collector: collector, width: 80}
}

// SetWidth sets the dashboard width.
func (d *Dashboard) SetWidth(w int) {
	d.width = w
}

type cell struct {
	label string
	value string
	style lipgloss.Style
}

// Render returns the boxed summary printed by the console "stats" command.
func (d *Dashboard) Render() string {
	s := d.collector.GetSessionStats()

	rows := [][]cell{
		{
			{"Runs:", fmt.Sprint(s.Runs), valueStyle},
			{"Completed:", fmt.Sprint(s.Completed), valueStyle},
			{"Failed:", fmt.Sprint(s.Failed), countStyle(s.Failed, badStyle)},
		},
		{
			{"Tools:", fmt.Sprintf("%d calls", s.ToolCalls), valueStyle},
			{"Failed:", fmt.Sprint(s.ToolFailures), countStyle(s.ToolFailures, warnStyle)},
			{"Over budget:", fmt.Sprint(s.BudgetDenials), countStyle(s.BudgetDenials, warnStyle)},
		},
		{
			{"Repairs:", fmt.Sprint(s.Repairs), countStyle(s.Repairs, warnStyle)},
			{"Revisions:", fmt.Sprint(s.Revisions), valueStyle},
			{"Bookings:", fmt.Sprint(s.Bookings), countStyle(s.Bookings, goodStyle)},
		},
		{
			{"Questions:", fmt.Sprint(s.HumanRequests), valueStyle},
			{"Stage time:", formatDuration(time.Duration(s.TotalLatencyMs) * time.Millisecond), valueStyle},
			{"Last:", lastEvent(s), valueStyle},
		},
	}

	lines := []string{headerStyle.Render("SESSION") + "  " + d.activity()}
	for _, row := range rows {
		parts := make([]string, 0, len(row)*2)
		for _, c := range row {
			parts = append(parts, labelStyle.Render(c.label), c.style.Render(c.value))
		}
		lines = append(lines, lipgloss.JoinHorizontal(lipgloss.Top, parts...))
	}
	return boxStyle.Width(d.width - 4).Render(lipgloss.JoinVertical(lipgloss.Left, lines...))
}

// RenderCompact returns a single-line summary.
func (d *Dashboard) RenderCompact() string {
	s := d.collector.GetSessionStats()
	return fmt.Sprintf("[tripai] %d runs · %d tools (%d over budget) · %d repairs · %d revisions · %s",
		s.Runs, s.ToolCalls, s.BudgetDenials, s.Repairs, s.Revisions,
		formatDuration(time.Duration(s.TotalLatencyMs)*time.Millisecond))
}

func countStyle(n int, nonZero lipgloss.Style) lipgloss.Style {
	if n == 0 {
		return valueStyle
	}
	return nonZero
}

func lastEvent(s *SessionStats) string {
	if s.LastEvent == "" {
		return "none"
	}
	name := s.LastEvent
	if len(name) > 16 {
		name = name[:13] + "..."
	}
	if s.LastEventTime.IsZero() {
		return name
	}
	elapsed := time.Since(s.LastEventTime)
	if elapsed < time.Second {
		return name + " (now)"
	}
	return fmt.Sprintf("%s (%s ago)", name, elapsed.Round(time.Second))
}

// activity marks the five most recent events.
func (d *Dashboard) activity() string {
	n := len(d.collector.GetRecentEvents(5))
	return strings.Repeat("●", n) + strings.Repeat("○", 5-n)
}

func formatDuration(d time.Duration) string {
	if d < time.Minute {
		return fmt.Sprintf("%.1fs", d.Seconds())
	}
	return fmt.Sprintf("%.1fm", d.Minutes())
}
