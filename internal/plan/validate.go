package plan

import (
	"fmt"
	"strings"
	"time"

	"github.com/paulmach/orb"
)

// Variant selects how transportation geometry is represented.
type Variant string

const (
	// VariantRouteRef legs carry a routeId into the route store.
	VariantRouteRef Variant = "route_ref"
	// VariantInline legs carry their points directly.
	VariantInline Variant = "inline"
)

// Valid reports whether v is a known variant.
func (v Variant) Valid() bool {
	return v == VariantRouteRef || v == VariantInline
}

// RouteChecker reports whether a route id exists.
type RouteChecker interface {
	Has(id string) bool
}

// Rules parameterize Validate. The zero value checks structure only, using
// the route_ref variant.
type Rules struct {
	Variant             Variant
	MinDate             time.Time
	MaxActivitiesPerDay int
	Routes              RouteChecker
}

// ValidationError lists every problem found in a plan.
type ValidationError struct {
	Problems []string
}

func (e *ValidationError) Error() string {
	return "invalid trip plan: " + strings.Join(e.Problems, "; ")
}

// Validate checks p against r and returns a *ValidationError listing every
// problem, or nil.
func (p TripPlan) Validate(r Rules) error {
	variant := r.Variant
	if variant == "" {
		variant = VariantRouteRef
	}

	var problems []string
	add := func(format string, args ...any) {
		problems = append(problems, fmt.Sprintf(format, args...))
	}

	if strings.TrimSpace(p.Summary) == "" {
		add("summary is empty")
	}
	if len(p.Steps) == 0 {
		add("steps is empty")
	}

	for i, s := range p.Steps {
		day := fmt.Sprintf("steps[%d]", i)
		if strings.TrimSpace(s.Date) == "" {
			add("%s.date is empty", day)
		} else if !r.MinDate.IsZero() {
			if d, _, err := ParseDate(s.Date); err == nil && d.Before(truncateDay(r.MinDate)) {
				add("%s.date %q is before %s", day, s.Date, r.MinDate.Format("2006-01-02"))
			}
		}
		if len(s.Entries) == 0 {
			add("%s.entries is empty", day)
		}

		activities := 0
		for j, e := range s.Entries {
			where := fmt.Sprintf("%s.entries[%d]", day, j)
			switch v := e.(type) {
			case Activity:
				activities++
				problems = append(problems, v.problems(where)...)
			case Transportation:
				problems = append(problems, v.problems(where, variant, r.Routes)...)
			default:
				add("%s has unsupported type %T", where, e)
			}
		}
		if r.MaxActivitiesPerDay > 0 && activities > r.MaxActivitiesPerDay {
			add("%s has %d activities, at most %d allowed", day, activities, r.MaxActivitiesPerDay)
		}
	}

	if len(problems) > 0 {
		return &ValidationError{Problems: problems}
	}
	return nil
}

func (a Activity) problems(where string) []string {
	var out []string
	if strings.TrimSpace(a.Description) == "" {
		out = append(out, where+".description is empty")
	}
	if strings.TrimSpace(a.Duration) == "" {
		out = append(out, where+".duration is empty")
	}
	if a.Longitude < -180 || a.Longitude > 180 {
		out = append(out, fmt.Sprintf("%s.longitude %v out of range", where, a.Longitude))
	}
	if a.Latitude < -90 || a.Latitude > 90 {
		out = append(out, fmt.Sprintf("%s.latitude %v out of range", where, a.Latitude))
	}
	return out
}

func (t Transportation) problems(where string, variant Variant, routes RouteChecker) []string {
	var out []string
	if strings.TrimSpace(t.TransportType) == "" {
		out = append(out, where+".transportType is empty")
	}
	if strings.TrimSpace(t.From) == "" {
		out = append(out, where+".from is empty")
	}
	if strings.TrimSpace(t.To) == "" {
		out = append(out, where+".to is empty")
	}

	hasRef := strings.TrimSpace(t.RouteID) != ""
	hasPoints := len(t.Points) > 0
	if hasRef && hasPoints {
		out = append(out, where+" has both routeId and points")
		return out
	}

	switch variant {
	case VariantInline:
		if !hasPoints {
			out = append(out, where+".points is empty")
		} else if len(t.Points) < 2 {
			out = append(out, where+".points needs at least two coordinates")
		}
	default:
		if !hasRef {
			out = append(out, where+".routeId is empty; call the directions tool and use the id it returns")
		} else if routes != nil && !routes.Has(t.RouteID) {
			out = append(out, fmt.Sprintf("%s.routeId %q does not exist", where, t.RouteID))
		}
	}
	return out
}

// RouteResolver returns the points of a stored route.
type RouteResolver interface {
	Points(id string) ([]orb.Point, error)
}

// Inline returns a copy of p where every routeId is replaced by the route's
// points.
func (p TripPlan) Inline(r RouteResolver) (TripPlan, error) {
	out := p.Clone()
	for i := range out.Steps {
		for j, e := range out.Steps[i].Entries {
			t, ok := e.(Transportation)
			if !ok || t.RouteID == "" {
				continue
			}
			pts, err := r.Points(t.RouteID)
			if err != nil {
				return TripPlan{}, fmt.Errorf("inline route %s: %w", t.RouteID, err)
			}
			t.Points = pts
			t.RouteID = ""
			out.Steps[i].Entries[j] = t
		}
	}
	return out, nil
}

func truncateDay(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, t.Location())
}
