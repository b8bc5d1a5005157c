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

	"github.com/patrickmn/go-cache"
	"github.com/rs/zerolog/log"
)

// ===========================================================================
// WEB SEARCH TOOL
// ===========================================================================

// DefaultSearchEndpoint is the Google Custom Search JSON API.
const DefaultSearchEndpoint = "https://www.googleapis.com/customsearch/v1"

// WebSearchTool searches the web using the Google Custom Search API.
type WebSearchTool struct {
	apiKey     string
	engineID   string
	endpoint   string
	httpClient *http.Client
	cache      *cache.Cache
}

// SearchArgs are the arguments the model passes to web_search.
type SearchArgs struct {
	Query       string `json:"query"`
	ResultCount int    `json:"resultCount,omitempty"`
}

// SearchResponse is the tool output.
type SearchResponse struct {
	Items []SearchItem `json:"items"`
}

// SearchItem is a single search result.
type SearchItem struct {
	Link        string `json:"link"`
	Title       string `json:"title"`
	Snippet     string `json:"snippet,omitempty"`
	DisplayLink string `json:"displayLink,omitempty"`
}

// ===========================================================================
// CONSTRUCTOR AND OPTIONS
// ===========================================================================

// WebSearchOption configures the WebSearchTool.
type WebSearchOption func(*WebSearchTool)

// WithAPIKey sets the Custom Search API key.
func WithAPIKey(key string) WebSearchOption {
	return func(w *WebSearchTool) {
		w.apiKey = key
	}
}

// WithEngineID sets the programmable search engine id (cx).
func WithEngineID(id string) WebSearchOption {
	return func(w *WebSearchTool) {
		w.engineID = id
	}
}

// WithEndpoint overrides the API endpoint.
func WithEndpoint(endpoint string) WebSearchOption {
	return func(w *WebSearchTool) {
		if endpoint != "" {
			w.endpoint = endpoint
		}
	}
}

// WithHTTPClient sets a custom HTTP client.
func WithHTTPClient(client *http.Client) WebSearchOption {
	return func(w *WebSearchTool) {
		w.httpClient = client
	}
}

// WithCacheTTL sets how long responses are reused.
func WithCacheTTL(ttl time.Duration) WebSearchOption {
	return func(w *WebSearchTool) {
		if ttl > 0 {
			w.cache = cache.New(ttl, 2*ttl)
		}
	}
}

// NewWebSearchTool creates a new web search tool.
func NewWebSearchTool(opts ...WebSearchOption) *WebSearchTool {
	w := &WebSearchTool{
		endpoint:   DefaultSearchEndpoint,
		httpClient: &http.Client{Timeout: 30 * time.Second},
		cache:      cache.New(10*time.Minute, 20*time.Minute),
	}

	for _, opt := range opts {
		opt(w)
	}

	return w
}

// ===========================================================================
// TOOL INTERFACE IMPLEMENTATION
// ===========================================================================

func (w *WebSearchTool) Name() ToolType { return ToolWebSearch }

func (w *WebSearchTool) Description() string {
	return "Search the web for sightseeing spots, opening hours, events and transport information. Returns links with titles and snippets."
}

func (w *WebSearchTool) Parameters() []Parameter {
	return []Parameter{
		{Name: "query", Type: "string", Description: "Search query", Required: true},
		{Name: "resultCount", Type: "integer", Description: "Number of results, 1 to 10 (default 5)"},
	}
}

func (w *WebSearchTool) Execute(ctx context.Context, args json.RawMessage) (string, error) {
	var in SearchArgs
	if err := decodeArgs(ToolWebSearch, args, &in); err != nil {
		return "", err
	}

	query := strings.TrimSpace(in.Query)
	if query == "" {
		return "", invalidArgs(ToolWebSearch, "query cannot be empty")
	}
	if w.apiKey == "" || w.engineID == "" {
		return "", fmt.Errorf("web search is not configured: set CUSTOM_SEARCH_API_KEY and SEARCH_ENGINE_ID")
	}

	num := clampResultCount(in.ResultCount)
	resp, err := w.Search(ctx, query, num)
	if err != nil {
		return "", err
	}

	out, err := json.Marshal(resp)
	if err != nil {
		return "", fmt.Errorf("encode results: %w", err)
	}
	return string(out), nil
}

func clampResultCount(n int) int {
	switch {
	case n <= 0:
		return 5
	case n > 10:
		return 10
	default:
		return n
	}
}

// Search performs a query, consulting the response cache first.
func (w *WebSearchTool) Search(ctx context.Context, query string, num int) (*SearchResponse, error) {
	key := cacheKey(query, num)
	if cached, ok := w.cache.Get(key); ok {
		log.Debug().Str("query", query).Msg("search cache hit")
		return cached.(*SearchResponse), nil
	}

	start := time.Now()
	resp, err := w.callAPI(ctx, query, num)
	if err != nil {
		return nil, err
	}
	w.cache.Set(key, resp, cache.DefaultExpiration)

	log.Info().Str("query", query).Int("results", len(resp.Items)).Dur("took", time.Since(start)).Msg("web search")
	return resp, nil
}

func cacheKey(query string, num int) string {
	return strings.ToLower(strings.TrimSpace(query)) + "\x00" + strconv.Itoa(num)
}

// ===========================================================================
// CUSTOM SEARCH API CLIENT
// ===========================================================================

func (w *WebSearchTool) callAPI(ctx context.Context, query string, num int) (*SearchResponse, error) {
	u, err := url.Parse(w.endpoint)
	if err != nil {
		return nil, fmt.Errorf("parse endpoint: %w", err)
	}
	q := u.Query()
	q.Set("key", w.apiKey)
	q.Set("cx", w.engineID)
	q.Set("q", query)
	q.Set("num", strconv.Itoa(num))
	u.RawQuery = q.Encode()

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}

	httpResp, err := w.httpClient.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("search request failed: %w", err)
	}
	defer httpResp.Body.Close()

	if httpResp.StatusCode < 200 || httpResp.StatusCode > 299 {
		return nil, fmt.Errorf("search api returned status %d", httpResp.StatusCode)
	}

	var resp SearchResponse
	if err := json.NewDecoder(httpResp.Body).Decode(&resp); err != nil {
		return nil, fmt.Errorf("decode search response: %w", err)
	}
	if resp.Items == nil {
		resp.Items = []SearchItem{}
	}
	return &resp, nil
}
