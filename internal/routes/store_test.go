package routes

import (
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"testing"

	"github.com/paulmach/orb"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func samplePoints() []orb.Point {
	return []orb.Point{
		{139.767125, 35.681236},
		{139.7005713, 35.6896067},
		{139.5505, 35.3192},
	}
}

func TestStore_PutGetRoundTrip(t *testing.T) {
	s := NewMemory()

	id, err := s.Put(Geometry{Points: samplePoints()})
	require.NoError(t, err)
	require.NotEmpty(t, id)

	got, err := s.Get(id)
	require.NoError(t, err)
	assert.Equal(t, id, got.ID)
	assert.Equal(t, samplePoints(), got.Points)
}

func TestStore_PutMintsFreshIDs(t *testing.T) {
	s := NewMemory()

	a, err := s.Put(Geometry{Points: samplePoints()})
	require.NoError(t, err)
	b, err := s.Put(Geometry{Points: samplePoints()})
	require.NoError(t, err)

	assert.NotEqual(t, a, b)
	assert.Equal(t, 2, s.Len())
}

func TestStore_PutIdempotentAndConflict(t *testing.T) {
	s := NewMemory()

	id, err := s.Put(Geometry{ID: "r1", Points: samplePoints()})
	require.NoError(t, err)
	assert.Equal(t, "r1", id)

	id, err = s.Put(Geometry{ID: "r1", Points: samplePoints()})
	require.NoError(t, err)
	assert.Equal(t, "r1", id)

	_, err = s.Put(Geometry{ID: "r1", Points: samplePoints()[:2]})
	var conflict *ConflictError
	require.ErrorAs(t, err, &conflict)
	assert.Equal(t, "r1", conflict.ID)

	got, err := s.Get("r1")
	require.NoError(t, err)
	assert.Len(t, got.Points, 3)
}

func TestStore_GetNotFound(t *testing.T) {
	s := NewMemory()
	_, err := s.Get("missing")
	assert.True(t, errors.Is(err, ErrNotFound))
	assert.False(t, s.Has("missing"))
}

func TestStore_RejectsEmptyGeometry(t *testing.T) {
	s := NewMemory()
	_, err := s.Put(Geometry{ID: "empty"})
	assert.Error(t, err)
	assert.Equal(t, 0, s.Len())
}

func TestStore_GetReturnsCopy(t *testing.T) {
	s := NewMemory()
	id, err := s.Put(Geometry{Points: samplePoints()})
	require.NoError(t, err)

	got, _ := s.Get(id)
	got.Points[0] = orb.Point{0, 0}

	again, _ := s.Get(id)
	assert.Equal(t, samplePoints()[0], again.Points[0])
}

func TestStore_PersistsAndReloads(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "lines.json")

	s := Open(path)
	id, err := s.Put(Geometry{Points: samplePoints()})
	require.NoError(t, err)

	_, err = os.Stat(path + ".tmp")
	assert.True(t, os.IsNotExist(err), "temp file should be renamed away")

	reloaded := Open(path)
	got, err := reloaded.Get(id)
	require.NoError(t, err)
	assert.Equal(t, samplePoints(), got.Points)
}

func TestStore_FileLayout(t *testing.T) {
	path := filepath.Join(t.TempDir(), "lines.json")

	s := Open(path)
	_, err := s.Put(Geometry{ID: "abc", Points: []orb.Point{{1.5, 2.5}, {3, 4}}})
	require.NoError(t, err)

	data, err := os.ReadFile(path)
	require.NoError(t, err)

	var raw map[string]map[string]struct {
		ID     string       `json:"id"`
		Points [][2]float64 `json:"points"`
	}
	require.NoError(t, json.Unmarshal(data, &raw))
	require.Contains(t, raw, "lines")
	line := raw["lines"]["abc"]
	assert.Equal(t, "abc", line.ID)
	assert.Equal(t, [][2]float64{{1.5, 2.5}, {3, 4}}, line.Points)
}

func TestStore_TolerantLoad(t *testing.T) {
	t.Run("missing file", func(t *testing.T) {
		s := Open(filepath.Join(t.TempDir(), "absent.json"))
		assert.Equal(t, 0, s.Len())
	})

	t.Run("corrupt file", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "lines.json")
		require.NoError(t, os.WriteFile(path, []byte("{not json"), 0644))

		s := Open(path)
		assert.Equal(t, 0, s.Len())

		// The store stays writable and replaces the corrupt file.
		id, err := s.Put(Geometry{Points: samplePoints()})
		require.NoError(t, err)
		assert.True(t, Open(path).Has(id))
	})
}

func TestStore_ConcurrentWriters(t *testing.T) {
	path := filepath.Join(t.TempDir(), "lines.json")
	s := Open(path)

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := s.Put(Geometry{Points: samplePoints()})
			assert.NoError(t, err)
		}()
	}
	wg.Wait()

	assert.Equal(t, 20, s.Len())
	assert.Equal(t, 20, Open(path).Len())
}

func TestGeometry_Length(t *testing.T) {
	g := Geometry{Points: []orb.Point{{0, 0}, {0, 1}}}
	// One degree of latitude is roughly 111 km.
	assert.InDelta(t, 111_000, g.Length(), 1_000)
	assert.Zero(t, Geometry{Points: []orb.Point{{0, 0}}}.Length())
}
