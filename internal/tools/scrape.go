package tools

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"
	"github.com/rs/zerolog/log"
)

// DefaultUserAgent is sent with every scrape request.
const DefaultUserAgent = "Mozilla/5.0 (compatible; WebSearchBot/1.0)"

// DefaultMaxFetchBytes caps how much of a response body is read.
const DefaultMaxFetchBytes = 2 << 20

// ScrapeTool fetches a page and returns its visible text.
type ScrapeTool struct {
	httpClient    *http.Client
	userAgent     string
	maxBodyChars  int
	maxFetchBytes int64
}

// ScrapeConfig configures the ScrapeTool.
type ScrapeConfig struct {
	UserAgent     string
	MaxBodyChars  int
	MaxFetchBytes int64
	Timeout       time.Duration
	Client        *http.Client
}

// NewScrapeTool creates a scrape tool.
func NewScrapeTool(cfg ScrapeConfig) *ScrapeTool {
	s := &ScrapeTool{
		httpClient:    cfg.Client,
		userAgent:     cfg.UserAgent,
		maxBodyChars:  cfg.MaxBodyChars,
		maxFetchBytes: cfg.MaxFetchBytes,
	}
	if s.httpClient == nil {
		timeout := cfg.Timeout
		if timeout <= 0 {
			timeout = 30 * time.Second
		}
		s.httpClient = &http.Client{Timeout: timeout}
	}
	if s.userAgent == "" {
		s.userAgent = DefaultUserAgent
	}
	if s.maxBodyChars <= 0 {
		s.maxBodyChars = 20000
	}
	if s.maxFetchBytes <= 0 {
		s.maxFetchBytes = DefaultMaxFetchBytes
	}
	return s
}

func (s *ScrapeTool) Name() ToolType { return ToolScrape }

func (s *ScrapeTool) Description() string {
	return "Fetch a web page and return its text content. Use on a link returned by web_search to read details."
}

func (s *ScrapeTool) Parameters() []Parameter {
	return []Parameter{
		{Name: "url", Type: "string", Description: "http or https URL of the page", Required: true},
	}
}

type scrapeArgs struct {
	URL string `json:"url"`
}

// ScrapeResponse is the tool output.
type ScrapeResponse struct {
	Body string `json:"body"`
}

func (s *ScrapeTool) Execute(ctx context.Context, args json.RawMessage) (string, error) {
	var in scrapeArgs
	if err := decodeArgs(ToolScrape, args, &in); err != nil {
		return "", err
	}

	u, err := url.Parse(strings.TrimSpace(in.URL))
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return "", invalidArgs(ToolScrape, "url must be an absolute http or https URL, got %q", in.URL)
	}

	body, err := s.Fetch(ctx, u.String())
	if err != nil {
		return "", err
	}

	out, err := json.Marshal(ScrapeResponse{Body: body})
	if err != nil {
		return "", fmt.Errorf("encode body: %w", err)
	}
	return string(out), nil
}

// Fetch downloads rawURL and returns its collapsed, truncated text.
func (s *ScrapeTool) Fetch(ctx context.Context, rawURL string) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return "", fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("User-Agent", s.userAgent)

	resp, err := s.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("fetch %s: %w", rawURL, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return "", fmt.Errorf("fetch %s: status %d", rawURL, resp.StatusCode)
	}

	text, err := HTMLText(io.LimitReader(resp.Body, s.maxFetchBytes))
	if err != nil {
		return "", fmt.Errorf("parse %s: %w", rawURL, err)
	}

	if r := []rune(text); len(r) > s.maxBodyChars {
		text = string(r[:s.maxBodyChars])
	}
	log.Debug().Str("url", rawURL).Int("chars", len(text)).Msg("page scraped")
	return text, nil
}

// HTMLText returns the visible text of an HTML document with script, style
// and noscript removed and whitespace runs collapsed to one space.
func HTMLText(r io.Reader) (string, error) {
	doc, err := goquery.NewDocumentFromReader(r)
	if err != nil {
		return "", err
	}
	doc.Find("script, style, noscript").Remove()
	return strings.Join(strings.Fields(doc.Text()), " "), nil
}
