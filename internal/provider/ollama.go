package provider

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"sync/atomic"
	"time"

	"github.com/ollama/ollama/api"

	"openchat/internal/domain"
)

const (
	defaultBaseURL     = "http://127.0.0.1:11434"
	defaultIdleTimeout = 60 * time.Second
	pingTimeout        = 5 * time.Second
)

// Ollama implements domain.Provider on top of the official client. A single
// instance is shared by every request; the underlying client is safe for
// concurrent use.
type Ollama struct {
	client      *api.Client
	baseURL     string
	idleTimeout time.Duration
}

type OllamaConfig struct {
	// BaseURL is the server root, e.g. http://127.0.0.1:11434.
	BaseURL string
	// IdleTimeout aborts a stream when no record arrives for this long.
	IdleTimeout time.Duration
	// HTTPClient overrides the pooled default, mainly for tests.
	HTTPClient *http.Client
}

func NewOllama(cfg OllamaConfig) (*Ollama, error) {
	if cfg.BaseURL == "" {
		cfg.BaseURL = defaultBaseURL
	}
	if cfg.IdleTimeout <= 0 {
		cfg.IdleTimeout = defaultIdleTimeout
	}
	base, err := url.Parse(cfg.BaseURL)
	if err != nil {
		return nil, fmt.Errorf("invalid ollama base url %q: %w", cfg.BaseURL, err)
	}
	httpClient := cfg.HTTPClient
	if httpClient == nil {
		httpClient = SharedHTTPClient()
	}
	return &Ollama{
		client:      api.NewClient(base, httpClient),
		baseURL:     cfg.BaseURL,
		idleTimeout: cfg.IdleTimeout,
	}, nil
}

func (o *Ollama) BaseURL() string { return o.baseURL }

// Complete performs a non-streaming chat call. The pipeline uses it as the
// probe that reveals whether the model wants a tool before answering.
func (o *Ollama) Complete(ctx context.Context, model string, messages []domain.Message, tools []domain.ToolDefinition) (*domain.ChatResponse, error) {
	req := &api.ChatRequest{
		Model:    model,
		Messages: toAPIMessages(messages),
		Tools:    toAPITools(tools),
		Stream:   new(bool), // a single complete response
	}

	var out domain.ChatResponse
	err := withRetries(ctx, "chat probe", func() error {
		out = domain.ChatResponse{}
		return o.client.Chat(ctx, req, func(resp api.ChatResponse) error {
			out.Content += resp.Message.Content
			for _, tc := range resp.Message.ToolCalls {
				out.ToolCalls = append(out.ToolCalls, domain.ToolCall{
					Name:      tc.Function.Name,
					Arguments: tc.Function.Arguments,
				})
			}
			return nil
		})
	})
	if err != nil {
		return nil, err
	}
	return &out, nil
}

// Stream runs the final streaming call. fn sees every increment in arrival
// order, then a terminal done record. A watchdog abandons the exchange when
// the server goes quiet for longer than the idle timeout, so a wedged
// upstream cannot hold a client connection open forever.
func (o *Ollama) Stream(ctx context.Context, model string, messages []domain.Message, fn domain.StreamFunc) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	var stalled atomic.Bool
	watchdog := time.AfterFunc(o.idleTimeout, func() {
		stalled.Store(true)
		cancel()
	})
	defer watchdog.Stop()

	stream := true
	req := &api.ChatRequest{
		Model:    model,
		Messages: toAPIMessages(messages),
		Stream:   &stream,
	}

	err := o.client.Chat(ctx, req, func(resp api.ChatResponse) error {
		watchdog.Reset(o.idleTimeout)
		return fn(resp.Message.Content, resp.Done)
	})
	if err != nil {
		if stalled.Load() {
			return fmt.Errorf("stream stalled: no data for %s", o.idleTimeout)
		}
		return err
	}
	return nil
}

// Models lists the models the server has pulled.
func (o *Ollama) Models(ctx context.Context) ([]domain.ModelInfo, error) {
	var resp *api.ListResponse
	err := withRetries(ctx, "list models", func() error {
		var callErr error
		resp, callErr = o.client.List(ctx)
		return callErr
	})
	if err != nil {
		return nil, err
	}

	models := make([]domain.ModelInfo, len(resp.Models))
	for i, m := range resp.Models {
		models[i] = domain.ModelInfo{
			Name:       m.Name,
			Model:      m.Model,
			ModifiedAt: m.ModifiedAt,
			Size:       m.Size,
			Digest:     m.Digest,
		}
	}
	return models, nil
}

// Ping verifies the server answers at all.
func (o *Ollama) Ping(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, pingTimeout)
	defer cancel()
	if _, err := o.client.List(ctx); err != nil {
		return fmt.Errorf("ollama not reachable at %s: %w", o.baseURL, err)
	}
	return nil
}

func toAPIMessages(messages []domain.Message) []api.Message {
	out := make([]api.Message, len(messages))
	for i, m := range messages {
		am := api.Message{Role: m.Role, Content: m.Content}
		for _, tc := range m.ToolCalls {
			am.ToolCalls = append(am.ToolCalls, api.ToolCall{
				Function: api.ToolCallFunction{
					Name:      tc.Name,
					Arguments: tc.Arguments,
				},
			})
		}
		out[i] = am
	}
	return out
}

func toAPITools(tools []domain.ToolDefinition) []api.Tool {
	if len(tools) == 0 {
		return nil
	}
	out := make([]api.Tool, 0, len(tools))
	for _, t := range tools {
		out = append(out, api.Tool{
			Type: "function",
			Function: api.ToolFunction{
				Name:        t.Name,
				Description: t.Description,
				Parameters:  toAPIParameters(t.Parameters),
			},
		})
	}
	return out
}

// toAPIParameters rebuilds a JSON-schema style parameters map as the typed
// structure the client expects.
func toAPIParameters(schema map[string]any) api.ToolFunctionParameters {
	params := api.ToolFunctionParameters{
		Type:       "object",
		Properties: map[string]api.ToolProperty{},
	}
	if t, ok := schema["type"].(string); ok {
		params.Type = t
	}
	switch req := schema["required"].(type) {
	case []string:
		params.Required = req
	case []any:
		for _, v := range req {
			if s, ok := v.(string); ok {
				params.Required = append(params.Required, s)
			}
		}
	}
	if props, ok := schema["properties"].(map[string]any); ok {
		for name, raw := range props {
			params.Properties[name] = toAPIProperty(raw)
		}
	}
	return params
}

func toAPIProperty(raw any) api.ToolProperty {
	prop := api.ToolProperty{}
	m, ok := raw.(map[string]any)
	if !ok {
		return prop
	}
	switch t := m["type"].(type) {
	case string:
		prop.Type = api.PropertyType{t}
	case []string:
		prop.Type = api.PropertyType(t)
	case []any:
		for _, v := range t {
			if s, ok := v.(string); ok {
				prop.Type = append(prop.Type, s)
			}
		}
	}
	if desc, ok := m["description"].(string); ok {
		prop.Description = desc
	}
	if enum, ok := m["enum"].([]any); ok {
		prop.Enum = enum
	}
	return prop
}
