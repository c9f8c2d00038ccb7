package tool

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"slices"
	"strings"
	"testing"
)

func resultBlock(title, href, snippet string) string {
	return fmt.Sprintf(`<div class="result">
  <h2 class="result__title"><a class="result__a" href="%s">%s</a></h2>
  <a class="result__snippet">%s</a>
</div>`, href, title, snippet)
}

func searchPage(blocks ...string) string {
	return `<!DOCTYPE html><html><body><div class="serp__results">` +
		strings.Join(blocks, "\n") + `</div></body></html>`
}

func newTestSearch(t *testing.T, handler http.Handler) *WebSearch {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	return NewWebSearch(WebSearchConfig{BaseURL: srv.URL, HTTPClient: srv.Client()})
}

func TestWebSearch_ParsesResultBlocks(t *testing.T) {
	ws := newTestSearch(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			t.Errorf("expected POST, got %s", r.Method)
		}
		if err := r.ParseForm(); err != nil {
			t.Errorf("parse form: %v", err)
		}
		if got := r.PostForm.Get("q"); got != "golang generics" {
			t.Errorf("expected query in form data, got %q", got)
		}
		if ua := r.Header.Get("User-Agent"); !slices.Contains(userAgents, ua) {
			t.Errorf("expected a rotated browser User-Agent, got %q", ua)
		}
		if got := r.Header.Get("Referer"); got != "https://html.duckduckgo.com/" {
			t.Errorf("unexpected Referer %q", got)
		}
		if got := r.Header.Get("Accept"); !strings.Contains(got, "text/html") {
			t.Errorf("unexpected Accept %q", got)
		}

		fmt.Fprint(w, searchPage(
			resultBlock("Go 1.25 Release Notes", "https://go.dev/doc/go1.25", "What's new in Go 1.25."),
			resultBlock("The Go Blog", "https://go.dev/blog", "Official Go project blog."),
		))
	}))

	got, err := ws.Execute(context.Background(), map[string]any{"query": "golang generics"})
	if err != nil {
		t.Fatalf("execute: %v", err)
	}

	want := "Title: Go 1.25 Release Notes\nURL: https://go.dev/doc/go1.25\nSummary: What's new in Go 1.25." +
		"\n\n" +
		"Title: The Go Blog\nURL: https://go.dev/blog\nSummary: Official Go project blog."
	if got != want {
		t.Fatalf("unexpected result:\n%s\nwant:\n%s", got, want)
	}
}

func TestWebSearch_CapsResultCount(t *testing.T) {
	ws := newTestSearch(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var blocks []string
		for i := 1; i <= 8; i++ {
			blocks = append(blocks, resultBlock(
				fmt.Sprintf("Result %d", i),
				fmt.Sprintf("https://example.com/%d", i),
				fmt.Sprintf("Snippet %d", i)))
		}
		fmt.Fprint(w, searchPage(blocks...))
	}))

	got, err := ws.Execute(context.Background(), map[string]any{"query": "anything"})
	if err != nil {
		t.Fatalf("execute: %v", err)
	}
	if n := strings.Count(got, "Title: "); n != defaultMaxResults {
		t.Fatalf("expected %d results, got %d", defaultMaxResults, n)
	}
	if strings.Contains(got, "Result 6") {
		t.Fatal("results past the cap should be dropped")
	}
}

func TestWebSearch_SkipsIncompleteBlocks(t *testing.T) {
	// Blocks 2 and 5 are incomplete. The cap applies to raw blocks, so the
	// window covers 1..5 and only 1, 3, 4 survive.
	ws := newTestSearch(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, searchPage(
			resultBlock("One", "https://example.com/1", "s1"),
			`<div class="result"><a class="result__a" href="https://example.com/2">Two, no snippet</a></div>`,
			resultBlock("Three", "https://example.com/3", "s3"),
			resultBlock("Four", "https://example.com/4", "s4"),
			`<div class="result"><a class="result__snippet">five, no link</a></div>`,
			resultBlock("Six", "https://example.com/6", "s6"),
		))
	}))

	got, err := ws.Execute(context.Background(), map[string]any{"query": "anything"})
	if err != nil {
		t.Fatalf("execute: %v", err)
	}
	if n := strings.Count(got, "Title: "); n != 3 {
		t.Fatalf("expected 3 complete results, got %d:\n%s", n, got)
	}
	for _, title := range []string{"One", "Three", "Four"} {
		if !strings.Contains(got, "Title: "+title) {
			t.Fatalf("missing %q in:\n%s", title, got)
		}
	}
	if strings.Contains(got, "Six") {
		t.Fatal("block past the cap window should not appear")
	}
}

func TestWebSearch_TrimsScrapedText(t *testing.T) {
	ws := newTestSearch(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, searchPage(resultBlock("\n  Padded Title\t", "https://example.com", "  padded snippet \n")))
	}))

	got, err := ws.Execute(context.Background(), map[string]any{"query": "anything"})
	if err != nil {
		t.Fatalf("execute: %v", err)
	}
	want := "Title: Padded Title\nURL: https://example.com\nSummary: padded snippet"
	if got != want {
		t.Fatalf("expected trimmed output %q, got %q", want, got)
	}
}

func TestWebSearch_EmptyPageIsError(t *testing.T) {
	ws := newTestSearch(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, searchPage())
	}))

	if _, err := ws.Execute(context.Background(), map[string]any{"query": "obscurity"}); err == nil {
		t.Fatal("expected an error when no results parse")
	}
}

func TestWebSearch_ServerErrorIsError(t *testing.T) {
	ws := newTestSearch(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "tea time", http.StatusTeapot)
	}))

	if _, err := ws.Execute(context.Background(), map[string]any{"query": "anything"}); err == nil {
		t.Fatal("expected an error on a non-200 response")
	}
}

func TestWebSearch_MissingQuery(t *testing.T) {
	ws := newTestSearch(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		t.Error("no request should be sent without a query")
	}))

	if _, err := ws.Execute(context.Background(), nil); err == nil {
		t.Fatal("expected an error for a missing query argument")
	}
}

func TestNewWebSearch_Defaults(t *testing.T) {
	ws := NewWebSearch(WebSearchConfig{})
	if ws.baseURL != defaultSearchURL {
		t.Fatalf("expected default endpoint, got %q", ws.baseURL)
	}
	if ws.maxResults != defaultMaxResults {
		t.Fatalf("expected default cap, got %d", ws.maxResults)
	}
	if ws.client.Timeout != defaultSearchTimeout {
		t.Fatalf("expected default timeout, got %v", ws.client.Timeout)
	}
}
