package domain

import (
	"context"
	"time"
)

// ConversationStore persists conversations durably. Load never fails:
// missing or unreadable records recover to a fresh empty conversation, so
// the chat pipeline cannot be blocked by storage state. Get is the direct
// lookup used by the read API and does distinguish absence.
type ConversationStore interface {
	Load(id string) Conversation
	Get(id string) (Conversation, error)
	Save(conv *Conversation) error
	List() []ConversationSummary
}

// ChatAudit is the per-run operational record written after each chat
// request, successful or not.
type ChatAudit struct {
	RequestID      string
	ConversationID string
	Model          string
	WebSearch      bool
	MemoryOn       bool
	ToolUsed       bool
	Chunks         int
	Outcome        string // ok | error | aborted
	Detail         string
	Duration       time.Duration
}

// AuditRecorder accepts audit records best-effort; callers log and continue
// on error.
type AuditRecorder interface {
	Record(ctx context.Context, rec ChatAudit) error
}
