// Package routes persists directions geometries keyed by route id.
//
// The store is shared by every planning session in the process. Writes go
// straight through to a single JSON document which is replaced atomically, so
// a crash mid-save leaves the previous file intact.
package routes

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"slices"
	"sort"
	"sync"

	"github.com/google/uuid"
	"github.com/paulmach/orb"
	"github.com/paulmach/orb/geo"
	"github.com/rs/zerolog/log"
)

// ErrNotFound is returned by Get when no geometry is stored under the id.
var ErrNotFound = errors.New("route not found")

// ConflictError reports a Put that reuses an id with different points.
type ConflictError struct {
	ID string
}

func (e *ConflictError) Error() string {
	return fmt.Sprintf("route %s already stored with different points", e.ID)
}

// Geometry is one route polyline. Points are (longitude, latitude) pairs and
// serialize as [lon,lat] arrays.
type Geometry struct {
	ID     string      `json:"id"`
	Points []orb.Point `json:"points"`
}

// Length returns the geodesic length of the polyline in meters.
func (g Geometry) Length() float64 {
	if len(g.Points) < 2 {
		return 0
	}
	return geo.Length(orb.LineString(g.Points))
}

// LineString returns the points as an orb line string.
func (g Geometry) LineString() orb.LineString {
	return orb.LineString(slices.Clone(g.Points))
}

// document is the on-disk layout.
type document struct {
	Lines map[string]Geometry `json:"lines"`
}

// Store is a write-through route cache backed by a JSON file.
type Store struct {
	path  string
	mu    sync.RWMutex
	lines map[string]Geometry
}

// Open loads the store at path. A missing or unreadable file is logged and
// the store starts empty; Open never fails on content.
func Open(path string) *Store {
	s := &Store{
		path:  path,
		lines: make(map[string]Geometry),
	}
	s.load()
	return s
}

// NewMemory returns a store that never touches disk.
func NewMemory() *Store {
	return &Store{lines: make(map[string]Geometry)}
}

// Path returns the backing file, or "" for an in-memory store.
func (s *Store) Path() string {
	return s.path
}

func (s *Store) load() {
	if s.path == "" {
		return
	}

	data, err := os.ReadFile(s.path)
	if err != nil {
		if !os.IsNotExist(err) {
			log.Warn().Err(err).Str("path", s.path).Msg("route store unreadable, starting empty")
		}
		return
	}

	var doc document
	if err := json.Unmarshal(data, &doc); err != nil {
		log.Warn().Err(err).Str("path", s.path).Msg("route store corrupt, starting empty")
		return
	}

	for id, g := range doc.Lines {
		// The map key is authoritative.
		g.ID = id
		s.lines[id] = g
	}
	log.Debug().Str("path", s.path).Int("routes", len(s.lines)).Msg("route store loaded")
}

// Put stores g and returns its id. An empty id is replaced by a fresh one.
// Storing identical points under an existing id is a no-op; different points
// under an existing id fail with *ConflictError.
func (s *Store) Put(g Geometry) (string, error) {
	if len(g.Points) == 0 {
		return "", errors.New("route has no points")
	}
	if g.ID == "" {
		g.ID = uuid.NewString()
	}
	g.Points = slices.Clone(g.Points)

	s.mu.Lock()
	defer s.mu.Unlock()

	if existing, ok := s.lines[g.ID]; ok {
		if slices.Equal(existing.Points, g.Points) {
			return g.ID, nil
		}
		return "", &ConflictError{ID: g.ID}
	}

	s.lines[g.ID] = g
	if err := s.save(); err != nil {
		delete(s.lines, g.ID)
		return "", err
	}

	log.Debug().Str("route_id", g.ID).Int("points", len(g.Points)).Msg("route stored")
	return g.ID, nil
}

// Get returns the geometry stored under id.
func (s *Store) Get(id string) (Geometry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	g, ok := s.lines[id]
	if !ok {
		return Geometry{}, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	g.Points = slices.Clone(g.Points)
	return g, nil
}

// Points returns the points stored under id.
func (s *Store) Points(id string) ([]orb.Point, error) {
	g, err := s.Get(id)
	if err != nil {
		return nil, err
	}
	return g.Points, nil
}

// Has reports whether id is stored.
func (s *Store) Has(id string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.lines[id]
	return ok
}

// IDs returns every stored id in sorted order.
func (s *Store) IDs() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()

	ids := make([]string, 0, len(s.lines))
	for id := range s.lines {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// Len returns the number of stored routes.
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.lines)
}

// save writes the whole document to a temp file and renames it over the
// original. Callers hold s.mu.
func (s *Store) save() error {
	if s.path == "" {
		return nil
	}

	data, err := json.Marshal(document{Lines: s.lines})
	if err != nil {
		return fmt.Errorf("marshal routes: %w", err)
	}

	if err := os.MkdirAll(filepath.Dir(s.path), 0755); err != nil {
		return fmt.Errorf("create route directory: %w", err)
	}

	tmpPath := s.path + ".tmp"
	if err := os.WriteFile(tmpPath, data, 0644); err != nil {
		return fmt.Errorf("write routes: %w", err)
	}
	if err := os.Rename(tmpPath, s.path); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("replace routes: %w", err)
	}
	return nil
}
