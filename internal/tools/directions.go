package tools

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/paulmach/orb"
	"github.com/rs/zerolog/log"
	"github.com/twpayne/go-polyline"

	"github.com/hiroaki404/trip-ai/internal/routes"
)

// DefaultDirectionsEndpoint is the Mapbox API host.
const DefaultDirectionsEndpoint = "https://api.mapbox.com"

// RouteStore persists route geometries.
type RouteStore interface {
	Put(g routes.Geometry) (string, error)
}

// DirectionsConfig configures the DirectionsTool.
type DirectionsConfig struct {
	AccessToken  string
	Endpoint     string
	Profile      string
	Geometries   string
	Language     string
	Overview     string
	Alternatives bool
	Steps        bool
	Timeout      time.Duration
	Client       *http.Client
}

// DirectionsTool asks Mapbox for a route, stores the first route's geometry
// and returns its fresh id.
type DirectionsTool struct {
	cfg        DirectionsConfig
	httpClient *http.Client
	store      RouteStore
	newID      func() string
}

// NewDirectionsTool creates a directions tool writing into store.
func NewDirectionsTool(cfg DirectionsConfig, store RouteStore) *DirectionsTool {
	if cfg.Endpoint == "" {
		cfg.Endpoint = DefaultDirectionsEndpoint
	}
	if cfg.Profile == "" {
		cfg.Profile = "driving"
	}
	if cfg.Geometries == "" {
		cfg.Geometries = "geojson"
	}
	if cfg.Language == "" {
		cfg.Language = "en"
	}
	if cfg.Overview == "" {
		cfg.Overview = "simplified"
	}
	client := cfg.Client
	if client == nil {
		timeout := cfg.Timeout
		if timeout <= 0 {
			timeout = 30 * time.Second
		}
		client = &http.Client{Timeout: timeout}
	}
	return &DirectionsTool{cfg: cfg, httpClient: client, store: store, newID: uuid.NewString}
}

func (d *DirectionsTool) Name() ToolType { return ToolDirections }

func (d *DirectionsTool) Description() string {
	return "Get a route between 2 to 25 coordinates. Returns a routeId to put on the transportation entry. " +
		"Call it once per transportation leg; never invent a routeId."
}

func (d *DirectionsTool) Parameters() []Parameter {
	return []Parameter{
		{Name: "coordinates", Type: "array", Description: "Ordered [longitude, latitude] pairs, 2 to 25 of them", Required: true},
	}
}

type directionsArgs struct {
	Coordinates [][]float64 `json:"coordinates"`
}

func (d *DirectionsTool) Execute(ctx context.Context, args json.RawMessage) (string, error) {
	var in directionsArgs
	if err := decodeArgs(ToolDirections, args, &in); err != nil {
		return "", err
	}

	coords, err := checkCoordinates(in.Coordinates)
	if err != nil {
		return "", err
	}

	points, err := d.Route(ctx, coords)
	if err != nil {
		return "", err
	}

	id, err := d.store.Put(routes.Geometry{ID: d.newID(), Points: points})
	if err != nil {
		return "", fmt.Errorf("store route: %w", err)
	}
	log.Info().Str("route_id", id).Int("points", len(points)).Msg("route stored")
	return id, nil
}

func checkCoordinates(raw [][]float64) ([]orb.Point, error) {
	if len(raw) < 2 || len(raw) > 25 {
		return nil, invalidArgs(ToolDirections, "need 2 to 25 coordinates, got %d", len(raw))
	}
	out := make([]orb.Point, 0, len(raw))
	for i, c := range raw {
		if len(c) != 2 {
			return nil, invalidArgs(ToolDirections, "coordinate %d must be [longitude, latitude]", i)
		}
		lon, lat := c[0], c[1]
		if lon < -180 || lon > 180 || lat < -90 || lat > 90 {
			return nil, invalidArgs(ToolDirections, "coordinate %d out of range: [%v, %v]", i, lon, lat)
		}
		out = append(out, orb.Point{lon, lat})
	}
	return out, nil
}

// ===========================================================================
// MAPBOX API CLIENT
// ===========================================================================

type directionsResponse struct {
	Code    string `json:"code"`
	Message string `json:"message"`
	Routes  []struct {
		Distance float64         `json:"distance"`
		Duration float64         `json:"duration"`
		Geometry json.RawMessage `json:"geometry"`
	} `json:"routes"`
}

type geoJSONLine struct {
	Type        string      `json:"type"`
	Coordinates [][]float64 `json:"coordinates"`
}

// URL builds the request URL for coords.
func (d *DirectionsTool) URL(coords []orb.Point) string {
	parts := make([]string, len(coords))
	for i, p := range coords {
		parts[i] = strconv.FormatFloat(p.Lon(), 'f', -1, 64) + "," + strconv.FormatFloat(p.Lat(), 'f', -1, 64)
	}

	q := url.Values{}
	q.Set("alternatives", strconv.FormatBool(d.cfg.Alternatives))
	q.Set("geometries", d.cfg.Geometries)
	q.Set("language", d.cfg.Language)
	q.Set("overview", d.cfg.Overview)
	q.Set("steps", strconv.FormatBool(d.cfg.Steps))
	q.Set("access_token", d.cfg.AccessToken)

	return fmt.Sprintf("%s/directions/v5/mapbox/%s/%s?%s",
		strings.TrimRight(d.cfg.Endpoint, "/"), d.cfg.Profile, strings.Join(parts, ";"), q.Encode())
}

// Route returns the geometry of the first route between coords.
func (d *DirectionsTool) Route(ctx context.Context, coords []orb.Point) ([]orb.Point, error) {
	if d.cfg.AccessToken == "" {
		return nil, fmt.Errorf("directions are not configured: set MAPBOX_ACCESS_TOKEN")
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, d.URL(coords), nil)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}

	resp, err := d.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("directions request failed: %w", err)
	}
	defer resp.Body.Close()

	var body directionsResponse
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		if resp.StatusCode < 200 || resp.StatusCode > 299 {
			return nil, fmt.Errorf("directions api returned status %d", resp.StatusCode)
		}
		return nil, fmt.Errorf("decode directions response: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 || (body.Code != "" && body.Code != "Ok") {
		return nil, fmt.Errorf("directions api error (status %d, code %q): %s", resp.StatusCode, body.Code, body.Message)
	}
	if len(body.Routes) == 0 {
		return nil, fmt.Errorf("directions api returned no routes")
	}

	return decodeGeometry(body.Routes[0].Geometry, d.polylineScale())
}

func (d *DirectionsTool) polylineScale() float64 {
	if d.cfg.Geometries == "polyline6" {
		return 1e6
	}
	return 1e5
}

// decodeGeometry accepts a GeoJSON LineString or an encoded polyline string
// at the given precision.
func decodeGeometry(raw json.RawMessage, scale float64) ([]orb.Point, error) {
	raw = json.RawMessage(strings.TrimSpace(string(raw)))
	if len(raw) == 0 || string(raw) == "null" {
		return nil, fmt.Errorf("route has no geometry")
	}

	if raw[0] == '"' {
		var encoded string
		if err := json.Unmarshal(raw, &encoded); err != nil {
			return nil, fmt.Errorf("decode polyline: %w", err)
		}
		return decodePolyline(encoded, scale)
	}

	var line geoJSONLine
	if err := json.Unmarshal(raw, &line); err != nil {
		return nil, fmt.Errorf("decode geojson geometry: %w", err)
	}
	if len(line.Coordinates) == 0 {
		return nil, fmt.Errorf("route geometry is empty")
	}
	points := make([]orb.Point, 0, len(line.Coordinates))
	for _, c := range line.Coordinates {
		if len(c) < 2 {
			return nil, fmt.Errorf("malformed geometry coordinate %v", c)
		}
		points = append(points, orb.Point{c[0], c[1]})
	}
	return points, nil
}

// decodePolyline decodes an encoded polyline at the given scale. Polylines
// store latitude first.
func decodePolyline(encoded string, scale float64) ([]orb.Point, error) {
	codec := polyline.Codec{Dim: 2, Scale: scale}
	coords, rest, err := codec.DecodeCoords([]byte(encoded))
	if err != nil {
		return nil, fmt.Errorf("decode polyline: %w", err)
	}
	if len(rest) != 0 {
		return nil, fmt.Errorf("decode polyline: %d trailing bytes", len(rest))
	}
	if len(coords) == 0 {
		return nil, fmt.Errorf("route geometry is empty")
	}
	points := make([]orb.Point, len(coords))
	for i, c := range coords {
		points[i] = orb.Point{c[1], c[0]}
	}
	return points, nil
}
