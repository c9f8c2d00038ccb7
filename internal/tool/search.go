package tool

import (
	"context"
	"fmt"
	"log/slog"
	"math/rand/v2"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"
)

const (
	defaultSearchURL     = "https://html.duckduckgo.com/html/"
	defaultSearchTimeout = 10 * time.Second
	defaultMaxResults    = 5
)

// Browser User-Agent strings rotated per request. The lite endpoint answers
// plain HTTP clients less reliably.
var userAgents = []string{
	"Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/126.0.0.0 Safari/537.36",
	"Mozilla/5.0 (Macintosh; Intel Mac OS X 10_15_7) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/126.0.0.0 Safari/537.36",
	"Mozilla/5.0 (X11; Linux x86_64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/125.0.0.0 Safari/537.36",
	"Mozilla/5.0 (Windows NT 10.0; Win64; x64; rv:127.0) Gecko/20100101 Firefox/127.0",
	"Mozilla/5.0 (Macintosh; Intel Mac OS X 10.15; rv:127.0) Gecko/20100101 Firefox/127.0",
}

// WebSearch scrapes the DuckDuckGo Lite HTML endpoint. The scrape is brittle
// by nature; any failure, including an empty result page, surfaces as an
// error and the caller degrades to answering without results.
type WebSearch struct {
	baseURL    string
	maxResults int
	client     *http.Client
}

type WebSearchConfig struct {
	// BaseURL is the search endpoint; the production default is DuckDuckGo
	// Lite. Tests point it at a fixture server.
	BaseURL    string
	Timeout    time.Duration
	MaxResults int
	// HTTPClient overrides Timeout when set.
	HTTPClient *http.Client
}

func NewWebSearch(cfg WebSearchConfig) *WebSearch {
	if cfg.BaseURL == "" {
		cfg.BaseURL = defaultSearchURL
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = defaultSearchTimeout
	}
	if cfg.MaxResults <= 0 {
		cfg.MaxResults = defaultMaxResults
	}
	client := cfg.HTTPClient
	if client == nil {
		client = &http.Client{Timeout: cfg.Timeout}
	}
	return &WebSearch{
		baseURL:    cfg.BaseURL,
		maxResults: cfg.MaxResults,
		client:     client,
	}
}

func (t *WebSearch) Name() string { return "web_search" }

func (t *WebSearch) Description() string {
	return "Search the internet for current events, news, or facts."
}

func (t *WebSearch) Parameters() map[string]any {
	return ToolParameters(
		map[string]Param{
			"query": {Type: "string"},
		},
		[]string{"query"},
	)
}

// Execute posts the query as form data and scrapes the result blocks. A
// block counts only when it carries both a title link and a snippet.
func (t *WebSearch) Execute(ctx context.Context, args map[string]any) (string, error) {
	query := ArgsString(args, "query")
	if query == "" {
		return "", fmt.Errorf("missing argument: query")
	}
	slog.Info("running web search", "query", query)

	form := url.Values{"q": {query}}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, t.baseURL, strings.NewReader(form.Encode()))
	if err != nil {
		return "", fmt.Errorf("new request: %w", err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.Header.Set("User-Agent", userAgents[rand.IntN(len(userAgents))])
	req.Header.Set("Accept", "text/html,application/xhtml+xml,application/xml;q=0.9,*/*;q=0.8")
	req.Header.Set("Referer", "https://html.duckduckgo.com/")

	resp, err := t.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("search request failed: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("search returned status %d", resp.StatusCode)
	}

	doc, err := goquery.NewDocumentFromReader(resp.Body)
	if err != nil {
		return "", fmt.Errorf("parse results page: %w", err)
	}

	var blocks []string
	doc.Find(".result").EachWithBreak(func(i int, sel *goquery.Selection) bool {
		if i >= t.maxResults {
			return false
		}
		link := sel.Find(".result__a").First()
		snippet := sel.Find(".result__snippet").First()
		if link.Length() == 0 || snippet.Length() == 0 {
			return true
		}
		href, _ := link.Attr("href")
		blocks = append(blocks, fmt.Sprintf("Title: %s\nURL: %s\nSummary: %s",
			strings.TrimSpace(link.Text()), href, strings.TrimSpace(snippet.Text())))
		return true
	})

	if len(blocks) == 0 {
		return "", fmt.Errorf("no results for %q", query)
	}
	return strings.Join(blocks, "\n\n"), nil
}
