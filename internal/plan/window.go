package plan

import (
	"errors"
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"
	"unicode/utf8"

	"golang.org/x/text/width"
)

var (
	dateRe  = regexp.MustCompile(`(\d{4})[-/.年](\d{1,2})[-/.月](\d{1,2})`)
	clockRe = regexp.MustCompile(`(\d{1,2}):(\d{2})`)
	rangeRe = regexp.MustCompile(`(\d{1,2}):(\d{2})\s*[-~〜–—to]+\s*(\d{1,2}):(\d{2})`)
)

// Fold normalizes full-width digits, colons and dashes to ASCII.
func Fold(s string) string {
	return strings.TrimSpace(width.Fold.String(s))
}

// ParseDate extracts a calendar date and optional clock time from a free-form
// label. hasClock reports whether a time of day was present. The result is
// in UTC; callers reinterpret the wall clock in the trip's location.
func ParseDate(label string) (t time.Time, hasClock bool, err error) {
	s := Fold(label)
	m := dateRe.FindStringSubmatchIndex(s)
	if m == nil {
		return time.Time{}, false, fmt.Errorf("no date in %q", label)
	}

	y, _ := strconv.Atoi(s[m[2]:m[3]])
	mo, _ := strconv.Atoi(s[m[4]:m[5]])
	d, _ := strconv.Atoi(s[m[6]:m[7]])
	if mo < 1 || mo > 12 || d < 1 || d > 31 {
		return time.Time{}, false, fmt.Errorf("invalid date in %q", label)
	}

	hour, minute := 0, 0
	if c := clockRe.FindStringSubmatch(s[m[1]:]); c != nil {
		hour, _ = strconv.Atoi(c[1])
		minute, _ = strconv.Atoi(c[2])
		if hour > 23 || minute > 59 {
			return time.Time{}, false, fmt.Errorf("invalid time in %q", label)
		}
		hasClock = true
	}

	return time.Date(y, time.Month(mo), d, hour, minute, 0, 0, time.UTC), hasClock, nil
}

// Clock is a time of day.
type Clock struct {
	Hour   int
	Minute int
}

func (c Clock) String() string {
	return fmt.Sprintf("%02d:%02d", c.Hour, c.Minute)
}

// On returns c on the calendar day of day, in loc.
func (c Clock) On(day time.Time, loc *time.Location) time.Time {
	y, m, d := day.Date()
	return time.Date(y, m, d, c.Hour, c.Minute, 0, 0, loc)
}

// ParseClockRange reads an "HH:MM-HH:MM" duration label.
func ParseClockRange(label string) (start, end Clock, ok bool) {
	m := rangeRe.FindStringSubmatch(Fold(label))
	if m == nil {
		return Clock{}, Clock{}, false
	}
	vals := make([]int, 4)
	for i := range vals {
		vals[i], _ = strconv.Atoi(m[i+1])
	}
	start, end = Clock{vals[0], vals[1]}, Clock{vals[2], vals[3]}
	if start.Hour > 23 || end.Hour > 24 || start.Minute > 59 || end.Minute > 59 {
		return Clock{}, Clock{}, false
	}
	return start, end, true
}

// ErrNoWindow is returned when the plan has no usable dates.
var ErrNoWindow = errors.New("cannot determine event window")

// EventWindow returns the calendar event span of the plan in loc: the first
// step's start time and the end of the last entry's duration on the last day.
func (p TripPlan) EventWindow(loc *time.Location) (start, end time.Time, err error) {
	if loc == nil {
		loc = time.UTC
	}
	if len(p.Steps) == 0 {
		return time.Time{}, time.Time{}, fmt.Errorf("%w: plan has no steps", ErrNoWindow)
	}

	first := p.Steps[0]
	day, hasClock, err := ParseDate(first.Date)
	if err != nil {
		return time.Time{}, time.Time{}, fmt.Errorf("%w: %v", ErrNoWindow, err)
	}
	startClock := Clock{Hour: 9}
	if hasClock {
		startClock = Clock{day.Hour(), day.Minute()}
	} else if len(first.Entries) > 0 {
		if s, _, ok := ParseClockRange(entryDuration(first.Entries[0])); ok {
			startClock = s
		}
	}
	start = startClock.On(day, loc)

	last := p.Steps[len(p.Steps)-1]
	lastDay, lastHasClock, err := ParseDate(last.Date)
	if err != nil {
		return time.Time{}, time.Time{}, fmt.Errorf("%w: %v", ErrNoWindow, err)
	}

	end = time.Time{}
	if n := len(last.Entries); n > 0 {
		if _, e, ok := ParseClockRange(entryDuration(last.Entries[n-1])); ok {
			end = e.On(lastDay, loc)
			if e.Hour == 24 {
				end = Clock{}.On(lastDay, loc).AddDate(0, 0, 1).Add(time.Duration(e.Minute) * time.Minute)
			}
		}
	}
	if end.IsZero() {
		base := Clock{Hour: 9}
		if lastHasClock {
			base = Clock{lastDay.Hour(), lastDay.Minute()}
		}
		end = base.On(lastDay, loc).Add(time.Hour)
	}

	if !end.After(start) {
		return time.Time{}, time.Time{}, fmt.Errorf("%w: end %s is not after start %s",
			ErrNoWindow, end.Format("2006-01-02T15:04"), start.Format("2006-01-02T15:04"))
	}
	return start, end, nil
}

func entryDuration(e Entry) string {
	return Match(e,
		func(a Activity) string { return a.Duration },
		func(t Transportation) string { return t.Duration },
	)
}

// EventName returns a calendar title derived from the summary.
func (p TripPlan) EventName() string {
	s := strings.TrimSpace(p.Summary)
	if i := strings.IndexAny(s, ".!?。！？\n"); i > 0 {
		s = s[:i]
	}
	s = strings.TrimSpace(s)
	if utf8.RuneCountInString(s) > 80 {
		s = string([]rune(s)[:80])
	}
	if s == "" {
		s = "Trip"
	}
	return "Trip: " + s
}
