package tools

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/paulmach/orb"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/twpayne/go-polyline"

	"github.com/hiroaki404/trip-ai/internal/routes"
)

func mapboxServer(t *testing.T, body string, check func(r *http.Request)) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if check != nil {
			check(r)
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(body))
	}))
	t.Cleanup(srv.Close)
	return srv
}

func TestDirectionsTool_GeoJSON(t *testing.T) {
	srv := mapboxServer(t, `{"code":"Ok","routes":[
		{"distance":51000,"duration":3600,"geometry":{"type":"LineString","coordinates":[[139.767,35.681],[139.6,35.45],[139.55,35.319]]}},
		{"geometry":{"type":"LineString","coordinates":[[0,0],[1,1]]}}]}`,
		func(r *http.Request) {
			assert.Equal(t, "/directions/v5/mapbox/driving/139.767,35.681;139.55,35.319", r.URL.Path)
			q := r.URL.Query()
			assert.Equal(t, "tok", q.Get("access_token"))
			assert.Equal(t, "geojson", q.Get("geometries"))
			assert.Equal(t, "true", q.Get("alternatives"))
			assert.Equal(t, "simplified", q.Get("overview"))
		})

	store := routes.NewMemory()
	tool := NewDirectionsTool(DirectionsConfig{AccessToken: "tok", Endpoint: srv.URL, Alternatives: true, Steps: true}, store)

	id, err := tool.Execute(context.Background(), json.RawMessage(`{"coordinates":[[139.767,35.681],[139.55,35.319]]}`))
	require.NoError(t, err)
	require.NotEmpty(t, id)

	g, err := store.Get(id)
	require.NoError(t, err)
	assert.Equal(t, []orb.Point{{139.767, 35.681}, {139.6, 35.45}, {139.55, 35.319}}, g.Points)
}

func TestDirectionsTool_FreshIDPerCall(t *testing.T) {
	srv := mapboxServer(t, `{"code":"Ok","routes":[{"geometry":{"type":"LineString","coordinates":[[1,1],[2,2]]}}]}`, nil)
	store := routes.NewMemory()
	tool := NewDirectionsTool(DirectionsConfig{AccessToken: "tok", Endpoint: srv.URL}, store)

	args := json.RawMessage(`{"coordinates":[[1,1],[2,2]]}`)
	a, err := tool.Execute(context.Background(), args)
	require.NoError(t, err)
	b, err := tool.Execute(context.Background(), args)
	require.NoError(t, err)

	assert.NotEqual(t, a, b)
	assert.Equal(t, 2, store.Len())
}

func TestDirectionsTool_Polyline6(t *testing.T) {
	coords := [][]float64{{35.681, 139.767}, {35.319, 139.55}}
	encoded := polyline.Codec{Dim: 2, Scale: 1e6}.EncodeCoords(nil, coords)
	srv := mapboxServer(t, `{"code":"Ok","routes":[{"geometry":"`+strings.ReplaceAll(string(encoded), `\`, `\\`)+`"}]}`, nil)

	store := routes.NewMemory()
	tool := NewDirectionsTool(DirectionsConfig{AccessToken: "tok", Endpoint: srv.URL, Geometries: "polyline6"}, store)

	id, err := tool.Execute(context.Background(), json.RawMessage(`{"coordinates":[[139.767,35.681],[139.55,35.319]]}`))
	require.NoError(t, err)

	g, err := store.Get(id)
	require.NoError(t, err)
	require.Len(t, g.Points, 2)
	assert.InDelta(t, 139.767, g.Points[0].Lon(), 1e-6)
	assert.InDelta(t, 35.681, g.Points[0].Lat(), 1e-6)
	assert.InDelta(t, 139.55, g.Points[1].Lon(), 1e-6)
}

func TestDirectionsTool_Errors(t *testing.T) {
	noRoute := mapboxServer(t, `{"code":"NoRoute","message":"No route found","routes":[]}`, nil)
	empty := mapboxServer(t, `{"code":"Ok","routes":[]}`, nil)

	store := routes.NewMemory()
	tests := []struct {
		name string
		tool *DirectionsTool
		args string
		want string
	}{
		{"api code", NewDirectionsTool(DirectionsConfig{AccessToken: "t", Endpoint: noRoute.URL}, store), `{"coordinates":[[1,1],[2,2]]}`, "NoRoute"},
		{"no routes", NewDirectionsTool(DirectionsConfig{AccessToken: "t", Endpoint: empty.URL}, store), `{"coordinates":[[1,1],[2,2]]}`, "no routes"},
		{"one coordinate", NewDirectionsTool(DirectionsConfig{AccessToken: "t", Endpoint: empty.URL}, store), `{"coordinates":[[1,1]]}`, "2 to 25"},
		{"out of range", NewDirectionsTool(DirectionsConfig{AccessToken: "t", Endpoint: empty.URL}, store), `{"coordinates":[[1,1],[200,2]]}`, "out of range"},
		{"not a pair", NewDirectionsTool(DirectionsConfig{AccessToken: "t", Endpoint: empty.URL}, store), `{"coordinates":[[1,1],[2]]}`, "[longitude, latitude]"},
		{"no token", NewDirectionsTool(DirectionsConfig{Endpoint: empty.URL}, store), `{"coordinates":[[1,1],[2,2]]}`, "MAPBOX_ACCESS_TOKEN"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := tt.tool.Execute(context.Background(), json.RawMessage(tt.args))
			assert.ErrorContains(t, err, tt.want)
		})
	}
	assert.Equal(t, 0, store.Len())
}

func TestDirectionsTool_TooManyCoordinates(t *testing.T) {
	pairs := make([]string, 26)
	for i := range pairs {
		pairs[i] = "[1,1]"
	}
	tool := NewDirectionsTool(DirectionsConfig{AccessToken: "t"}, routes.NewMemory())
	_, err := tool.Execute(context.Background(), json.RawMessage(`{"coordinates":[`+strings.Join(pairs, ",")+`]}`))
	assert.ErrorContains(t, err, "got 26")
}

func TestDirectionsTool_URL(t *testing.T) {
	tool := NewDirectionsTool(DirectionsConfig{AccessToken: "tok", Profile: "walking", Language: "ja"}, routes.NewMemory())
	u := tool.URL([]orb.Point{{139.5, 35.25}, {139.125, 35}})
	assert.True(t, strings.HasPrefix(u, "https://api.mapbox.com/directions/v5/mapbox/walking/139.5,35.25;139.125,35?"), u)
	assert.Contains(t, u, "language=ja")
	assert.Contains(t, u, "steps=false")
}
