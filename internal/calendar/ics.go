package calendar

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	ics "github.com/arran4/golang-ical"
	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
)

const productID = "-//trip-ai//planner//EN"

// ICSService appends events to an iCalendar file. The file is rewritten
// atomically on every change; a missing file starts an empty calendar and an
// unreadable one is replaced.
type ICSService struct {
	mu   sync.Mutex
	path string
	now  func() time.Time
}

// NewICS returns a service writing to path.
func NewICS(path string) *ICSService {
	return &ICSService{path: path, now: time.Now}
}

// Path returns the calendar file location.
func (s *ICSService) Path() string {
	return s.path
}

// CreateEvent adds ev to the calendar file and returns a file link to it.
func (s *ICSService) CreateEvent(ctx context.Context, ev Event) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	if err := ev.Validate(); err != nil {
		return "", err
	}
	if ev.UID == "" {
		ev.UID = uuid.NewString()
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	cal := s.load()
	now := s.now().UTC()

	vevent := cal.AddEvent(ev.UID)
	vevent.SetCreatedTime(now)
	vevent.SetDtStampTime(now)
	vevent.SetStartAt(ev.Start)
	vevent.SetEndAt(ev.End)
	vevent.SetSummary(ev.Name)
	if ev.Location != "" {
		vevent.SetLocation(ev.Location)
	}
	if ev.Description != "" {
		vevent.SetDescription(ev.Description)
	}

	if err := s.write(cal.Serialize()); err != nil {
		return "", err
	}

	log.Info().Str("uid", ev.UID).Str("path", s.path).Time("start", ev.Start).Msg("calendar event written")
	return "file://" + filepath.ToSlash(s.path) + "#" + ev.UID, nil
}

// Events reads back every event in the file.
func (s *ICSService) Events() ([]Event, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	f, err := os.Open(s.path)
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("open calendar: %w", err)
	}
	defer f.Close()

	cal, err := ics.ParseCalendar(f)
	if err != nil {
		return nil, fmt.Errorf("parse calendar: %w", err)
	}

	var out []Event
	for _, ve := range cal.Events() {
		ev := Event{UID: ve.Id()}
		if p := ve.GetProperty(ics.ComponentPropertySummary); p != nil {
			ev.Name = p.Value
		}
		if p := ve.GetProperty(ics.ComponentPropertyLocation); p != nil {
			ev.Location = p.Value
		}
		if p := ve.GetProperty(ics.ComponentPropertyDescription); p != nil {
			ev.Description = p.Value
		}
		if t, err := ve.GetStartAt(); err == nil {
			ev.Start = t
		}
		if t, err := ve.GetEndAt(); err == nil {
			ev.End = t
		}
		out = append(out, ev)
	}
	return out, nil
}

func (s *ICSService) load() *ics.Calendar {
	f, err := os.Open(s.path)
	if err != nil {
		if !os.IsNotExist(err) {
			log.Warn().Err(err).Str("path", s.path).Msg("calendar file unreadable, starting a new one")
		}
		return newCalendar()
	}
	cal, err := ics.ParseCalendar(f)
	f.Close()
	if err != nil {
		// Keep the unreadable file so its events can be recovered by hand.
		backup := s.path + ".corrupt"
		if rerr := os.Rename(s.path, backup); rerr != nil {
			log.Error().Err(rerr).Str("path", s.path).Msg("could not move corrupt calendar aside")
		}
		log.Warn().Err(err).Str("path", s.path).Str("backup", backup).Msg("calendar file corrupt, starting a new one")
		return newCalendar()
	}
	return cal
}

func newCalendar() *ics.Calendar {
	cal := ics.NewCalendar()
	cal.SetProductId(productID)
	cal.SetMethod(ics.MethodPublish)
	return cal
}

func (s *ICSService) write(data string) error {
	if err := os.MkdirAll(filepath.Dir(s.path), 0o755); err != nil {
		return fmt.Errorf("create calendar dir: %w", err)
	}
	tmp := s.path + ".tmp"
	if err := os.WriteFile(tmp, []byte(data), 0o644); err != nil {
		return fmt.Errorf("write calendar: %w", err)
	}
	if err := os.Rename(tmp, s.path); err != nil {
		_ = os.Remove(tmp)
		return fmt.Errorf("replace calendar: %w", err)
	}
	return nil
}
