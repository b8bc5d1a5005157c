// Package calendar books trip events. The planner only needs one operation,
// CreateEvent; backends decide where the event lands.
package calendar

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"
)

// ErrInvalidEvent is returned for events without a name or with an end that
// does not come after the start.
var ErrInvalidEvent = errors.New("invalid calendar event")

// ErrDisabled is returned by the disabled backend.
var ErrDisabled = errors.New("calendar backend disabled")

// Event is a single timed calendar entry.
type Event struct {
	UID         string
	Name        string
	Start       time.Time
	End         time.Time
	Location    string
	Description string
}

// Validate checks the fields every backend requires.
func (e Event) Validate() error {
	if strings.TrimSpace(e.Name) == "" {
		return fmt.Errorf("%w: name is empty", ErrInvalidEvent)
	}
	if e.Start.IsZero() || e.End.IsZero() {
		return fmt.Errorf("%w: start and end are required", ErrInvalidEvent)
	}
	if !e.End.After(e.Start) {
		return fmt.Errorf("%w: end %s is not after start %s", ErrInvalidEvent,
			e.End.Format(time.RFC3339), e.Start.Format(time.RFC3339))
	}
	return nil
}

// Service creates calendar events.
type Service interface {
	// CreateEvent stores ev and returns a link or locator for it.
	CreateEvent(ctx context.Context, ev Event) (string, error)
}

// Disabled rejects every event.
type Disabled struct{}

// CreateEvent always fails with ErrDisabled.
func (Disabled) CreateEvent(context.Context, Event) (string, error) {
	return "", ErrDisabled
}

// New returns the backend named by backend ("ics" or "none").
func New(backend, icsPath string) (Service, error) {
	switch backend {
	case "", "ics":
		if icsPath == "" {
			return nil, fmt.Errorf("ics backend needs a file path")
		}
		return NewICS(icsPath), nil
	case "none":
		return Disabled{}, nil
	default:
		return nil, fmt.Errorf("unknown calendar backend %q", backend)
	}
}
