package tools

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/hiroaki404/trip-ai/internal/calendar"
	"github.com/hiroaki404/trip-ai/internal/plan"
)

// calendarLayouts are the accepted start/end formats, seconds optional.
var calendarLayouts = []string{
	"2006-01-02T15:04:05",
	"2006-01-02T15:04",
	"2006-01-02 15:04:05",
	"2006-01-02 15:04",
}

// CalendarArgs are the arguments of the calendar tool.
type CalendarArgs struct {
	EventName string `json:"eventName"`
	StartDate string `json:"startDate"`
	EndDate   string `json:"endDate"`
	// Timezone is an IANA name; empty uses the tool's default zone.
	Timezone    string `json:"timezone,omitempty"`
	Location    string `json:"location,omitempty"`
	Description string `json:"description,omitempty"`
}

// CalendarTool books an event through a calendar.Service. It never returns
// an error for a failed booking; the failure is described in its output.
type CalendarTool struct {
	service  calendar.Service
	defaultZ *time.Location
}

// NewCalendarTool creates a calendar tool. A nil zone means UTC.
func NewCalendarTool(service calendar.Service, defaultZone *time.Location) *CalendarTool {
	if defaultZone == nil {
		defaultZone = time.UTC
	}
	return &CalendarTool{service: service, defaultZ: defaultZone}
}

func (c *CalendarTool) Name() ToolType { return ToolCalendar }

func (c *CalendarTool) Description() string {
	return "Register the trip in the user's calendar. Times are local to the trip, formatted 2006-01-02T15:04:05."
}

func (c *CalendarTool) Parameters() []Parameter {
	return []Parameter{
		{Name: "eventName", Type: "string", Description: "Event title", Required: true},
		{Name: "startDate", Type: "string", Description: "Start, e.g. 2025-11-01T09:00:00", Required: true},
		{Name: "endDate", Type: "string", Description: "End, e.g. 2025-11-03T15:00:00", Required: true},
		{Name: "timezone", Type: "string", Description: "IANA timezone of the times"},
	}
}

func (c *CalendarTool) Execute(ctx context.Context, args json.RawMessage) (string, error) {
	var in CalendarArgs
	if err := decodeArgs(ToolCalendar, args, &in); err != nil {
		return CalendarFailure(err), nil
	}

	ev, err := c.event(in)
	if err != nil {
		return CalendarFailure(err), nil
	}

	link, err := c.service.CreateEvent(ctx, ev)
	if err != nil {
		if ctx.Err() != nil {
			return "", ctx.Err()
		}
		log.Warn().Err(err).Str("event", ev.Name).Msg("calendar booking failed")
		return CalendarFailure(err), nil
	}
	return CalendarSuccessPrefix + link, nil
}

// CalendarSuccessPrefix starts the output of a booking that went through.
const CalendarSuccessPrefix = "Calendar event created successfully: "

// CalendarFailure is the in-band text for a booking that did not happen.
func CalendarFailure(err error) string {
	return "Failed to create calendar event: " + err.Error()
}

func (c *CalendarTool) event(in CalendarArgs) (calendar.Event, error) {
	name := strings.TrimSpace(in.EventName)
	if name == "" {
		return calendar.Event{}, fmt.Errorf("eventName is empty")
	}

	loc := c.defaultZ
	if tz := strings.TrimSpace(in.Timezone); tz != "" {
		l, err := time.LoadLocation(tz)
		if err != nil {
			return calendar.Event{}, fmt.Errorf("unknown timezone %q", tz)
		}
		loc = l
	}

	start, err := ParseLocalTime(in.StartDate, loc)
	if err != nil {
		return calendar.Event{}, fmt.Errorf("startDate: %w", err)
	}
	end, err := ParseLocalTime(in.EndDate, loc)
	if err != nil {
		return calendar.Event{}, fmt.Errorf("endDate: %w", err)
	}
	if !end.After(start) {
		return calendar.Event{}, fmt.Errorf("endDate %s is not after startDate %s", in.EndDate, in.StartDate)
	}

	return calendar.Event{
		Name:        name,
		Start:       start,
		End:         end,
		Location:    in.Location,
		Description: in.Description,
	}, nil
}

// ParseLocalTime parses a naive date-time in loc. Full-width digits and
// separators are folded first.
func ParseLocalTime(s string, loc *time.Location) (time.Time, error) {
	s = strings.TrimSpace(plan.Fold(s))
	for _, layout := range calendarLayouts {
		if t, err := time.ParseInLocation(layout, s, loc); err == nil {
			return t, nil
		}
	}
	return time.Time{}, fmt.Errorf("cannot parse %q; use 2006-01-02T15:04:05", s)
}

// FormatLocalTime is the inverse of ParseLocalTime.
func FormatLocalTime(t time.Time) string {
	return t.Format(calendarLayouts[0])
}
