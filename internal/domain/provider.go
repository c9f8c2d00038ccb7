package domain

import (
	"context"
	"time"
)

// Provider is the inference-server boundary. Complete is the non-streaming
// probe used to detect tool-call intent; Stream delivers the final answer
// incrementally. Both must be abandonable through ctx without corrupting
// later calls.
type Provider interface {
	Complete(ctx context.Context, model string, messages []Message, tools []ToolDefinition) (*ChatResponse, error)
	Stream(ctx context.Context, model string, messages []Message, fn StreamFunc) error
	Models(ctx context.Context) ([]ModelInfo, error)
	Ping(ctx context.Context) error
}

// StreamFunc receives one increment per upstream record, including empty
// ones, and is called a final time with done=true at the terminal marker.
// Returning a non-nil error aborts the stream.
type StreamFunc func(delta string, done bool) error

// ChatResponse is the result of a non-streaming completion.
type ChatResponse struct {
	Content   string
	ToolCalls []ToolCall
}

func (r *ChatResponse) HasToolCalls() bool {
	return len(r.ToolCalls) > 0
}

// FirstToolCall returns the first requested tool call. Additional calls in
// the same response are not executed by the pipeline.
func (r *ChatResponse) FirstToolCall() (ToolCall, bool) {
	if len(r.ToolCalls) == 0 {
		return ToolCall{}, false
	}
	return r.ToolCalls[0], true
}

// ModelInfo mirrors one entry of the upstream models listing.
type ModelInfo struct {
	Name       string    `json:"name"`
	Model      string    `json:"model,omitempty"`
	ModifiedAt time.Time `json:"modified_at,omitempty"`
	Size       int64     `json:"size,omitempty"`
	Digest     string    `json:"digest,omitempty"`
}
