package server

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"openchat/internal/domain"
	"openchat/internal/storage"
)

// fakeRunner scripts the pipeline behind the chat endpoint.
type fakeRunner struct {
	script func(emit domain.EmitFunc) error
	called bool
	req    domain.ChatRequest
}

func (f *fakeRunner) Run(ctx context.Context, req domain.ChatRequest, emit domain.EmitFunc) error {
	f.called = true
	f.req = req
	if f.script != nil {
		return f.script(emit)
	}
	return nil
}

type fakeHistory struct {
	summaries []domain.ConversationSummary
	convs     map[string]domain.Conversation
}

func (f *fakeHistory) Load(id string) domain.Conversation {
	return domain.Conversation{ID: id}
}

func (f *fakeHistory) Get(id string) (domain.Conversation, error) {
	c, ok := f.convs[id]
	if !ok {
		return domain.Conversation{}, storage.ErrNotFound
	}
	return c, nil
}

func (f *fakeHistory) Save(conv *domain.Conversation) error { return nil }

func (f *fakeHistory) List() []domain.ConversationSummary { return f.summaries }

type fakeLister struct {
	models []domain.ModelInfo
	err    error
}

func (f *fakeLister) Models(ctx context.Context) ([]domain.ModelInfo, error) {
	return f.models, f.err
}

func newTestServer(t *testing.T, runner *fakeRunner, store domain.ConversationStore, lister ModelLister) *httptest.Server {
	t.Helper()
	if runner == nil {
		runner = &fakeRunner{}
	}
	if store == nil {
		store = &fakeHistory{}
	}
	if lister == nil {
		lister = &fakeLister{}
	}
	s := New(Config{Addr: "127.0.0.1:0", Chat: runner, Store: store, Models: lister})
	ts := httptest.NewServer(s.httpServer.Handler)
	t.Cleanup(ts.Close)
	return ts
}

func postChat(t *testing.T, ts *httptest.Server, body string) *http.Response {
	t.Helper()
	resp, err := ts.Client().Post(ts.URL+"/api/chat", "application/json", strings.NewReader(body))
	if err != nil {
		t.Fatalf("POST /api/chat: %v", err)
	}
	t.Cleanup(func() { resp.Body.Close() })
	return resp
}

func decodeLines(t *testing.T, resp *http.Response) []domain.Event {
	t.Helper()
	var events []domain.Event
	scanner := bufio.NewScanner(resp.Body)
	for scanner.Scan() {
		var e domain.Event
		if err := json.Unmarshal(scanner.Bytes(), &e); err != nil {
			t.Fatalf("line %q is not a JSON event: %v", scanner.Text(), err)
		}
		events = append(events, e)
	}
	if err := scanner.Err(); err != nil {
		t.Fatalf("reading response: %v", err)
	}
	return events
}

func decodeBody(t *testing.T, resp *http.Response, v any) {
	t.Helper()
	if err := json.NewDecoder(resp.Body).Decode(v); err != nil {
		t.Fatalf("decoding body: %v", err)
	}
}

// --- POST /api/chat ---

func TestChat_StreamsEventsAsNDJSON(t *testing.T) {
	runner := &fakeRunner{script: func(emit domain.EmitFunc) error {
		if err := emit(domain.StatusEvent("🔍 Searching: go...")); err != nil {
			return err
		}
		if err := emit(domain.ChunkEvent("Hel")); err != nil {
			return err
		}
		return emit(domain.ChunkEvent("lo"))
	}}
	ts := newTestServer(t, runner, nil, nil)

	resp := postChat(t, ts, `{"model":"llama3.1:8b","message":"hi","conversationId":"c1"}`)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.StatusCode)
	}
	if ct := resp.Header.Get("Content-Type"); ct != "application/x-ndjson" {
		t.Fatalf("unexpected content type %q", ct)
	}

	events := decodeLines(t, resp)
	if len(events) != 3 {
		t.Fatalf("expected 3 events, got %d", len(events))
	}
	if events[0].Type != domain.EventStatus || events[0].Content != "🔍 Searching: go..." {
		t.Fatalf("unexpected first event: %+v", events[0])
	}
	if events[1].Content != "Hel" || events[2].Content != "lo" {
		t.Fatalf("unexpected chunks: %+v", events[1:])
	}
}

func TestChat_BindsRequestFields(t *testing.T) {
	runner := &fakeRunner{}
	ts := newTestServer(t, runner, nil, nil)

	postChat(t, ts, `{"model":"m","message":"q","conversationId":"c9","webSearch":true,"memoryOn":false}`)

	if !runner.called {
		t.Fatal("runner was not invoked")
	}
	got := runner.req
	if got.Model != "m" || got.Message != "q" || got.ConversationID != "c9" {
		t.Fatalf("unexpected bound request: %+v", got)
	}
	if !got.WebSearch || got.MemoryOn {
		t.Fatalf("flags did not bind: %+v", got)
	}
}

func TestChat_MemoryDefaultsOn(t *testing.T) {
	runner := &fakeRunner{}
	ts := newTestServer(t, runner, nil, nil)

	postChat(t, ts, `{"model":"m","message":"q","conversationId":"c1"}`)

	if !runner.req.MemoryOn {
		t.Fatal("memoryOn must default to true when absent")
	}
}

func TestChat_InvalidJSONIs400(t *testing.T) {
	runner := &fakeRunner{}
	ts := newTestServer(t, runner, nil, nil)

	resp := postChat(t, ts, `{"model":`)
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", resp.StatusCode)
	}
	if runner.called {
		t.Fatal("runner must not run on a malformed body")
	}
	var body map[string]string
	decodeBody(t, resp, &body)
	if body["error"] == "" {
		t.Fatal("expected an error envelope")
	}
}

func TestChat_MissingFieldsAre400(t *testing.T) {
	scenarios := []struct {
		name string
		body string
	}{
		{"no model", `{"message":"q","conversationId":"c1"}`},
		{"no message", `{"model":"m","conversationId":"c1"}`},
		{"no conversation", `{"model":"m","message":"q"}`},
	}
	for _, sc := range scenarios {
		t.Run(sc.name, func(t *testing.T) {
			runner := &fakeRunner{}
			ts := newTestServer(t, runner, nil, nil)
			resp := postChat(t, ts, sc.body)
			if resp.StatusCode != http.StatusBadRequest {
				t.Fatalf("expected 400, got %d", resp.StatusCode)
			}
			if runner.called {
				t.Fatal("runner must not run on an invalid request")
			}
		})
	}
}

func TestChat_RunnerErrorAfterEventsKeepsBody(t *testing.T) {
	// By the time the pipeline fails it has already written its error event;
	// the handler must not append anything of its own.
	runner := &fakeRunner{script: func(emit domain.EmitFunc) error {
		if err := emit(domain.ChunkEvent("part")); err != nil {
			return err
		}
		if err := emit(domain.ErrorEvent("upstream gone")); err != nil {
			return err
		}
		return errors.New("stream: upstream gone")
	}}
	ts := newTestServer(t, runner, nil, nil)

	resp := postChat(t, ts, `{"model":"m","message":"q","conversationId":"c1"}`)
	events := decodeLines(t, resp)
	if len(events) != 2 {
		t.Fatalf("expected exactly the runner's events, got %d", len(events))
	}
	if events[1].Type != domain.EventError || events[1].Error != "upstream gone" {
		t.Fatalf("unexpected terminal event: %+v", events[1])
	}
}

// --- GET /api/history ---

func TestHistory_ReturnsEnvelope(t *testing.T) {
	store := &fakeHistory{summaries: []domain.ConversationSummary{
		{ID: "b", Title: "Later...", UpdatedAt: time.Now()},
		{ID: "a", Title: "Earlier...", UpdatedAt: time.Now().Add(-time.Hour)},
	}}
	ts := newTestServer(t, nil, store, nil)

	resp, err := ts.Client().Get(ts.URL + "/api/history")
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()

	var body struct {
		History []domain.ConversationSummary `json:"history"`
	}
	decodeBody(t, resp, &body)
	if len(body.History) != 2 || body.History[0].ID != "b" {
		t.Fatalf("unexpected history payload: %+v", body.History)
	}
}

func TestHistory_EmptyIsArrayNotNull(t *testing.T) {
	ts := newTestServer(t, nil, &fakeHistory{}, nil)

	resp, err := ts.Client().Get(ts.URL + "/api/history")
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()

	raw := new(strings.Builder)
	if _, err := bufio.NewReader(resp.Body).WriteTo(raw); err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(raw.String(), `"history":[]`) {
		t.Fatalf("expected an empty array, got %s", raw.String())
	}
}

// --- GET /api/history/{id} ---

func TestConversation_Found(t *testing.T) {
	store := &fakeHistory{convs: map[string]domain.Conversation{
		"c1": {ID: "c1", Messages: []domain.Message{{Role: domain.RoleUser, Content: "hi"}}},
	}}
	ts := newTestServer(t, nil, store, nil)

	resp, err := ts.Client().Get(ts.URL + "/api/history/c1")
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.StatusCode)
	}
	var body struct {
		Conversation domain.Conversation `json:"conversation"`
	}
	decodeBody(t, resp, &body)
	if body.Conversation.ID != "c1" || len(body.Conversation.Messages) != 1 {
		t.Fatalf("unexpected conversation payload: %+v", body.Conversation)
	}
}

func TestConversation_UnknownIs404(t *testing.T) {
	ts := newTestServer(t, nil, &fakeHistory{}, nil)

	resp, err := ts.Client().Get(ts.URL + "/api/history/ghost")
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", resp.StatusCode)
	}
	var body map[string]string
	decodeBody(t, resp, &body)
	if body["error"] != "chat not found" {
		t.Fatalf("unexpected error body: %+v", body)
	}
}

// --- GET /api/models ---

func TestModels_ListsProviderModels(t *testing.T) {
	lister := &fakeLister{models: []domain.ModelInfo{{Name: "llama3.1:8b"}, {Name: "qwen3:4b"}}}
	ts := newTestServer(t, nil, nil, lister)

	resp, err := ts.Client().Get(ts.URL + "/api/models")
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()

	var body struct {
		Models []domain.ModelInfo `json:"models"`
	}
	decodeBody(t, resp, &body)
	if len(body.Models) != 2 || body.Models[0].Name != "llama3.1:8b" {
		t.Fatalf("unexpected models payload: %+v", body.Models)
	}
}

func TestModels_UpstreamFailureDegradesToEmpty(t *testing.T) {
	lister := &fakeLister{err: errors.New("connection refused")}
	ts := newTestServer(t, nil, nil, lister)

	resp, err := ts.Client().Get(ts.URL + "/api/models")
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		t.Fatalf("degraded listing must still be 200, got %d", resp.StatusCode)
	}
	raw := new(strings.Builder)
	if _, err := bufio.NewReader(resp.Body).WriteTo(raw); err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(raw.String(), `"models":[]`) {
		t.Fatalf("expected an empty array, got %s", raw.String())
	}
}

// --- health, metrics, middleware ---

func TestHealth_OK(t *testing.T) {
	ts := newTestServer(t, nil, nil, nil)

	resp, err := ts.Client().Get(ts.URL + "/health")
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()

	var body map[string]string
	decodeBody(t, resp, &body)
	if body["status"] != "ok" {
		t.Fatalf("unexpected health body: %+v", body)
	}
}

func TestMetrics_Exposition(t *testing.T) {
	ts := newTestServer(t, nil, nil, nil)

	resp, err := ts.Client().Get(ts.URL + "/metrics")
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()

	raw := new(strings.Builder)
	if _, err := bufio.NewReader(resp.Body).WriteTo(raw); err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(raw.String(), "openchat_uptime_seconds") {
		t.Fatal("expected Prometheus exposition output")
	}
}

func TestCORS_PreflightShortCircuits(t *testing.T) {
	runner := &fakeRunner{}
	ts := newTestServer(t, runner, nil, nil)

	req, _ := http.NewRequest(http.MethodOptions, ts.URL+"/api/chat", nil)
	resp, err := ts.Client().Do(req)
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusNoContent {
		t.Fatalf("expected 204, got %d", resp.StatusCode)
	}
	if resp.Header.Get("Access-Control-Allow-Origin") != "*" {
		t.Fatal("expected open CORS headers on preflight")
	}
	if runner.called {
		t.Fatal("preflight must not reach the handler")
	}
}

func TestCORS_HeadersOnNormalRequests(t *testing.T) {
	ts := newTestServer(t, nil, nil, nil)

	resp, err := ts.Client().Get(ts.URL + "/health")
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()

	if resp.Header.Get("Access-Control-Allow-Origin") != "*" {
		t.Fatal("expected open CORS headers on plain requests")
	}
}

func TestRequestID_AssignedWhenMissing(t *testing.T) {
	ts := newTestServer(t, nil, nil, nil)

	resp, err := ts.Client().Get(ts.URL + "/health")
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()

	if resp.Header.Get("X-Request-ID") == "" {
		t.Fatal("expected a generated request id")
	}
}

func TestRequestID_EchoesClientValue(t *testing.T) {
	ts := newTestServer(t, nil, nil, nil)

	req, _ := http.NewRequest(http.MethodGet, ts.URL+"/health", nil)
	req.Header.Set("X-Request-ID", "given-by-client")
	resp, err := ts.Client().Do(req)
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()

	if got := resp.Header.Get("X-Request-ID"); got != "given-by-client" {
		t.Fatalf("expected the client id echoed, got %q", got)
	}
}

type panicStore struct {
	fakeHistory
}

func (p *panicStore) List() []domain.ConversationSummary { panic("boom") }

func TestRecovery_PanicIs500(t *testing.T) {
	ts := newTestServer(t, nil, &panicStore{}, nil)

	resp, err := ts.Client().Get(ts.URL + "/api/history")
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusInternalServerError {
		t.Fatalf("expected 500 after a panic, got %d", resp.StatusCode)
	}
}
