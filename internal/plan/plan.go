// Package plan defines the itinerary record produced by a planning run.
//
// A TripPlan is a summary plus ordered days (Steps). Each Step holds ordered
// entries, and every entry is exactly one of Activity or Transportation. The
// Entry interface is sealed by an unexported method, so no other package can
// add a variant; use Match to branch over both.
package plan

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/paulmach/orb"
	"github.com/samber/lo"
)

// TripPlan is the root itinerary document.
type TripPlan struct {
	Summary string `json:"summary"`
	Steps   []Step `json:"steps"`
}

// Step is one day of the trip. Date is a free-form label such as
// "2025-10-18 09:00".
type Step struct {
	Date    string  `json:"date"`
	Entries Entries `json:"entries"`
}

// EntryKind is the JSON discriminator for entries.
type EntryKind string

const (
	KindActivity       EntryKind = "activity"
	KindTransportation EntryKind = "transportation"
)

// Entry is a schedule entry: Activity or Transportation.
type Entry interface {
	Kind() EntryKind
	sealed()
}

// Activity is time spent at one place.
type Activity struct {
	Duration    string  `json:"duration"`
	Description string  `json:"description"`
	Location    string  `json:"location"`
	Longitude   float64 `json:"longitude"`
	Latitude    float64 `json:"latitude"`
}

// Transportation is a leg between two places. Depending on the schema
// variant it references a stored route by RouteID or carries Points inline.
type Transportation struct {
	TransportType string      `json:"transportType"`
	From          string      `json:"from"`
	To            string      `json:"to"`
	Duration      string      `json:"duration"`
	Description   string      `json:"description"`
	RouteID       string      `json:"routeId,omitempty"`
	Points        []orb.Point `json:"points,omitempty"`
}

func (Activity) Kind() EntryKind       { return KindActivity }
func (Transportation) Kind() EntryKind { return KindTransportation }
func (Activity) sealed()               {}
func (Transportation) sealed()         {}

// Point returns the activity's coordinates.
func (a Activity) Point() orb.Point {
	return orb.Point{a.Longitude, a.Latitude}
}

// Match calls the function for e's variant and returns its result.
func Match[T any](e Entry, activity func(Activity) T, transport func(Transportation) T) T {
	switch v := e.(type) {
	case Activity:
		return activity(v)
	case *Activity:
		return activity(*v)
	case Transportation:
		return transport(v)
	case *Transportation:
		return transport(*v)
	}
	panic(fmt.Sprintf("plan: unknown entry type %T", e))
}

func (a Activity) MarshalJSON() ([]byte, error) {
	type fields Activity
	return json.Marshal(struct {
		Type EntryKind `json:"type"`
		fields
	}{KindActivity, fields(a)})
}

func (t Transportation) MarshalJSON() ([]byte, error) {
	type fields Transportation
	return json.Marshal(struct {
		Type EntryKind `json:"type"`
		fields
	}{KindTransportation, fields(t)})
}

// Entries is an ordered list of entries with a "type" discriminator in JSON.
type Entries []Entry

// UnmarshalJSON decodes each element by its "type" field.
func (es *Entries) UnmarshalJSON(data []byte) error {
	var raws []json.RawMessage
	if err := json.Unmarshal(data, &raws); err != nil {
		return err
	}

	out := make(Entries, 0, len(raws))
	for i, raw := range raws {
		var head struct {
			Type string `json:"type"`
		}
		if err := json.Unmarshal(raw, &head); err != nil {
			return fmt.Errorf("entry %d: %w", i, err)
		}

		switch normalizeKind(head.Type) {
		case KindActivity:
			var a Activity
			if err := json.Unmarshal(raw, &a); err != nil {
				return fmt.Errorf("entry %d (activity): %w", i, err)
			}
			out = append(out, a)
		case KindTransportation:
			var t Transportation
			if err := json.Unmarshal(raw, &t); err != nil {
				return fmt.Errorf("entry %d (transportation): %w", i, err)
			}
			out = append(out, t)
		default:
			return fmt.Errorf("entry %d: unknown type %q (want %q or %q)", i, head.Type, KindActivity, KindTransportation)
		}
	}
	*es = out
	return nil
}

// normalizeKind accepts the spellings models tend to produce.
func normalizeKind(s string) EntryKind {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "activity":
		return KindActivity
	case "transportation", "transport":
		return KindTransportation
	}
	return ""
}

// Parse decodes a TripPlan from JSON.
func Parse(data []byte) (TripPlan, error) {
	var p TripPlan
	if err := json.Unmarshal(data, &p); err != nil {
		return TripPlan{}, err
	}
	return p, nil
}

// JSON returns the indented JSON encoding of p.
func (p TripPlan) JSON() string {
	data, err := json.MarshalIndent(p, "", "  ")
	if err != nil {
		// Only non-finite coordinates can fail here.
		return fmt.Sprintf(`{"error": %q}`, err.Error())
	}
	return string(data)
}

// Activities returns every activity in order.
func (p TripPlan) Activities() []Activity {
	var out []Activity
	for _, s := range p.Steps {
		for _, e := range s.Entries {
			if a, ok := e.(Activity); ok {
				out = append(out, a)
			}
		}
	}
	return out
}

// Transportations returns every transportation leg in order.
func (p TripPlan) Transportations() []Transportation {
	var out []Transportation
	for _, s := range p.Steps {
		for _, e := range s.Entries {
			if t, ok := e.(Transportation); ok {
				out = append(out, t)
			}
		}
	}
	return out
}

// RouteIDs returns the distinct route ids referenced by the plan.
func (p TripPlan) RouteIDs() []string {
	ids := lo.FilterMap(p.Transportations(), func(t Transportation, _ int) (string, bool) {
		return t.RouteID, t.RouteID != ""
	})
	return lo.Uniq(ids)
}

// FirstActivity returns the earliest activity, if any.
func (p TripPlan) FirstActivity() (Activity, bool) {
	acts := p.Activities()
	if len(acts) == 0 {
		return Activity{}, false
	}
	return acts[0], true
}

// Clone returns a deep copy of p.
func (p TripPlan) Clone() TripPlan {
	out := TripPlan{Summary: p.Summary, Steps: make([]Step, len(p.Steps))}
	for i, s := range p.Steps {
		entries := make(Entries, len(s.Entries))
		for j, e := range s.Entries {
			if t, ok := e.(Transportation); ok && t.Points != nil {
				t.Points = append([]orb.Point(nil), t.Points...)
				e = t
			}
			entries[j] = e
		}
		out.Steps[i] = Step{Date: s.Date, Entries: entries}
	}
	return out
}
