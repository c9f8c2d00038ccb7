package domain

import (
	"errors"
	"time"
)

const (
	RoleUser      = "user"
	RoleAssistant = "assistant"
	RoleTool      = "tool"
)

// Message is one turn in a conversation. Messages are append-only: once a
// turn is in a conversation it is never edited or reordered. ToolCalls is
// only ever set on transient working copies built during a single chat
// request; persisted messages carry role and content alone.
type Message struct {
	Role      string     `json:"role"` // user | assistant | tool
	Content   string     `json:"content"`
	ToolCalls []ToolCall `json:"tool_calls,omitempty"`
}

// Conversation is the persisted record for one chat. UpdatedAt is owned by
// the store: it is stamped on every successful save and reflects the last
// persisted mutation, not in-memory edits.
type Conversation struct {
	ID        string    `json:"id"`
	UpdatedAt time.Time `json:"updatedAt"`
	Messages  []Message `json:"messages"`
}

// ConversationSummary is the listing projection of a conversation.
type ConversationSummary struct {
	ID        string    `json:"id"`
	UpdatedAt time.Time `json:"updatedAt"`
	Title     string    `json:"title"`
}

// ChatRequest is the inbound body of a chat call. Field names match the
// client wire format. MemoryOn defaults to true when absent, so decode into
// a value pre-set accordingly.
type ChatRequest struct {
	Model          string `json:"model"`
	Message        string `json:"message"`
	ConversationID string `json:"conversationId"`
	WebSearch      bool   `json:"webSearch"`
	MemoryOn       bool   `json:"memoryOn"`
}

var (
	ErrMissingModel        = errors.New("model is required")
	ErrMissingMessage      = errors.New("message is required")
	ErrMissingConversation = errors.New("conversationId is required")
)

func (r ChatRequest) Validate() error {
	switch {
	case r.Model == "":
		return ErrMissingModel
	case r.Message == "":
		return ErrMissingMessage
	case r.ConversationID == "":
		return ErrMissingConversation
	}
	return nil
}
