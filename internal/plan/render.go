package plan

import (
	"fmt"
	"strings"
)

// Markdown renders p as a readable itinerary.
func (p TripPlan) Markdown() string {
	var b strings.Builder

	b.WriteString("# Trip plan\n\n")
	if p.Summary != "" {
		b.WriteString(p.Summary)
		b.WriteString("\n")
	}

	for i, s := range p.Steps {
		fmt.Fprintf(&b, "\n## Day %d: %s\n\n", i+1, s.Date)
		for _, e := range s.Entries {
			b.WriteString(Match(e, activityLine, transportLine))
			b.WriteString("\n")
		}
	}
	return b.String()
}

func activityLine(a Activity) string {
	line := fmt.Sprintf("- **%s** %s", a.Duration, a.Description)
	if a.Location != "" {
		line += fmt.Sprintf(" _(%s)_", a.Location)
	}
	return line
}

func transportLine(t Transportation) string {
	line := fmt.Sprintf("- **%s** %s: %s → %s", t.Duration, t.TransportType, t.From, t.To)
	if t.Description != "" {
		line += ". " + t.Description
	}
	if t.RouteID != "" {
		line += fmt.Sprintf(" `route %s`", t.RouteID)
	}
	return line
}
