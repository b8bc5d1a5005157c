package calendar

import (
	"sync"
	"time"
	_ "time/tzdata"

	"github.com/ringsaturn/tzf"
	"github.com/rs/zerolog/log"
)

// Finder maps a coordinate to an IANA timezone name.
type Finder interface {
	GetTimezoneName(lng float64, lat float64) string
}

// ZoneResolver picks the timezone for a trip from its coordinates, falling
// back to a configured zone and then UTC.
type ZoneResolver struct {
	fallback *time.Location
	finder   func() Finder
}

// NewZoneResolver returns a resolver backed by tzf's default finder, which is
// loaded on first use. fallback may be nil.
func NewZoneResolver(fallback *time.Location) *ZoneResolver {
	load := sync.OnceValue(func() Finder {
		f, err := tzf.NewDefaultFinder()
		if err != nil {
			log.Warn().Err(err).Msg("timezone finder unavailable")
			return nil
		}
		return f
	})
	return &ZoneResolver{fallback: fallback, finder: load}
}

// NewZoneResolverWith uses f for lookups.
func NewZoneResolverWith(f Finder, fallback *time.Location) *ZoneResolver {
	return &ZoneResolver{fallback: fallback, finder: func() Finder { return f }}
}

// Fallback returns the zone used when a lookup fails.
func (z *ZoneResolver) Fallback() *time.Location {
	if z == nil || z.fallback == nil {
		return time.UTC
	}
	return z.fallback
}

// Locate returns the zone at lng/lat or the fallback.
func (z *ZoneResolver) Locate(lng, lat float64) *time.Location {
	if z == nil {
		return time.UTC
	}
	if f := z.finder(); f != nil {
		if name := f.GetTimezoneName(lng, lat); name != "" {
			if loc, err := time.LoadLocation(name); err == nil {
				return loc
			}
		}
	}
	return z.Fallback()
}
