// Package chat drives the probe-then-stream pipeline behind every chat
// request: build context, probe for a tool call, optionally run the tool,
// stream the answer, persist the finished turn exactly once.
package chat

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"openchat/internal/domain"
	"openchat/internal/metrics"
	"openchat/internal/tool"
)

const defaultProbeTimeout = 60 * time.Second

// errEmit marks a failed write to the caller. The request is abandoned
// without an error event; there is nobody left to read it.
var errEmit = errors.New("client write failed")

// Orchestrator runs chat requests end to end. One instance serves all
// requests; per-request state lives on the stack of Run.
type Orchestrator struct {
	provider     domain.Provider
	store        domain.ConversationStore
	tools        *tool.Registry
	audit        domain.AuditRecorder
	probeTimeout time.Duration
}

type Config struct {
	Provider domain.Provider
	Store    domain.ConversationStore
	Tools    *tool.Registry
	// Audit is optional; nil disables request auditing.
	Audit        domain.AuditRecorder
	ProbeTimeout time.Duration
}

func New(cfg Config) *Orchestrator {
	if cfg.ProbeTimeout <= 0 {
		cfg.ProbeTimeout = defaultProbeTimeout
	}
	return &Orchestrator{
		provider:     cfg.Provider,
		store:        cfg.Store,
		tools:        cfg.Tools,
		audit:        cfg.Audit,
		probeTimeout: cfg.ProbeTimeout,
	}
}

// Run executes one chat request, emitting protocol events through emit as
// they become available. Failures that reach the caller are reported as a
// single error event and returned; a failed emit abandons the request
// silently. The conversation is persisted exactly once, at the stream's done
// marker, and never on any failure path.
func (o *Orchestrator) Run(ctx context.Context, req domain.ChatRequest, emit domain.EmitFunc) error {
	start := time.Now()
	log := slog.With("conversationId", req.ConversationID, "model", req.Model)

	metrics.ChatRequestsTotal.Inc()
	metrics.ActiveStreams.Inc()
	defer metrics.ActiveStreams.Dec()

	rec := domain.ChatAudit{
		RequestID:      uuid.NewString(),
		ConversationID: req.ConversationID,
		Model:          req.Model,
		WebSearch:      req.WebSearch,
		MemoryOn:       req.MemoryOn,
	}

	// Build context. The user turn joins the in-memory conversation now but
	// reaches disk only if the stream completes.
	conv := o.store.Load(req.ConversationID)
	conv.Messages = append(conv.Messages, domain.Message{Role: domain.RoleUser, Content: req.Message})

	var working []domain.Message
	if req.MemoryOn {
		working = append(working, conv.Messages...)
	} else {
		working = append(working, conv.Messages[len(conv.Messages)-1])
	}

	var toolDefs []domain.ToolDefinition
	if req.WebSearch && o.tools != nil {
		toolDefs = o.tools.Definitions()
	}

	// Probe: a single non-streaming call that reveals tool-call intent.
	probeStart := time.Now()
	probeCtx, cancelProbe := context.WithTimeout(ctx, o.probeTimeout)
	probe, err := o.provider.Complete(probeCtx, req.Model, working, toolDefs)
	cancelProbe()
	if err != nil {
		log.Error("probe call failed", "error", err)
		metrics.ChatErrorsTotal.Inc()
		rec.Outcome, rec.Detail, rec.Duration = "error", err.Error(), time.Since(start)
		o.record(ctx, rec)
		if emitErr := emit(domain.ErrorEvent(err.Error())); emitErr != nil {
			log.Debug("client gone before error event", "error", emitErr)
		}
		return fmt.Errorf("probe: %w", err)
	}
	metrics.ProbeLatency.Observe(time.Since(probeStart).Seconds())

	// Resolve at most one tool call. Extra calls in the same response ride
	// along in the spliced assistant turn but are never executed. Tool
	// failures downgrade to a fixed content string; the stream still runs.
	if call, ok := probe.FirstToolCall(); ok && len(toolDefs) > 0 {
		if t := o.tools.Get(call.Name); t == nil {
			log.Warn("model requested unknown tool", "tool", call.Name)
		} else {
			query := call.StringArg("query")
			if emitErr := emit(domain.StatusEvent(fmt.Sprintf("🔍 Searching: %s...", query))); emitErr != nil {
				rec.Outcome, rec.Detail, rec.Duration = "aborted", errEmit.Error(), time.Since(start)
				o.record(ctx, rec)
				return fmt.Errorf("%w: %v", errEmit, emitErr)
			}
			metrics.ToolInvocationsTotal.Inc()
			rec.ToolUsed = true

			working = append(working, domain.Message{
				Role:      domain.RoleAssistant,
				Content:   probe.Content,
				ToolCalls: probe.ToolCalls,
			})

			result, execErr := t.Execute(ctx, call.Arguments)
			content := "Results:\n" + result
			if execErr != nil || result == "" {
				if execErr != nil {
					log.Warn("tool execution failed", "tool", call.Name, "error", execErr)
				}
				metrics.SearchFailuresTotal.Inc()
				content = "Search failed."
			}
			working = append(working, domain.Message{Role: domain.RoleTool, Content: content})
		}
	}

	// Stream the final answer. Every upstream record becomes a chunk event,
	// the done record included; persistence happens at the done marker and
	// nowhere else.
	var fullText strings.Builder
	saved := false
	streamStart := time.Now()
	streamErr := o.provider.Stream(ctx, req.Model, working, func(delta string, done bool) error {
		if emitErr := emit(domain.ChunkEvent(delta)); emitErr != nil {
			return fmt.Errorf("%w: %v", errEmit, emitErr)
		}
		rec.Chunks++
		metrics.ChunksTotal.Inc()
		fullText.WriteString(delta)

		if done {
			conv.Messages = append(conv.Messages, domain.Message{Role: domain.RoleAssistant, Content: fullText.String()})
			if saveErr := o.store.Save(&conv); saveErr != nil {
				return fmt.Errorf("save conversation: %w", saveErr)
			}
			saved = true
			metrics.ConversationsSaved.Inc()
		}
		return nil
	})
	rec.Duration = time.Since(start)

	if streamErr != nil {
		if errors.Is(streamErr, errEmit) {
			log.Info("client disconnected mid-stream", "chunks", rec.Chunks)
			rec.Outcome, rec.Detail = "aborted", streamErr.Error()
			o.record(ctx, rec)
			return streamErr
		}
		log.Error("stream failed", "chunks", rec.Chunks, "error", streamErr)
		metrics.ChatErrorsTotal.Inc()
		rec.Outcome, rec.Detail = "error", streamErr.Error()
		o.record(ctx, rec)
		if emitErr := emit(domain.ErrorEvent(streamErr.Error())); emitErr != nil {
			log.Debug("client gone before error event", "error", emitErr)
		}
		return fmt.Errorf("stream: %w", streamErr)
	}

	if !saved {
		// Upstream closed the stream without a done marker. Nothing was
		// persisted and the caller saw only partial chunks.
		log.Warn("stream ended without done marker", "chunks", rec.Chunks)
		rec.Outcome, rec.Detail = "error", "stream ended without done marker"
		o.record(ctx, rec)
		return nil
	}

	metrics.StreamDuration.Observe(time.Since(streamStart).Seconds())
	rec.Outcome = "ok"
	o.record(ctx, rec)
	log.Info("chat completed", "chunks", rec.Chunks, "toolUsed", rec.ToolUsed, "duration", rec.Duration)
	return nil
}

// record writes the audit row when auditing is on. Best effort: the chat
// outcome never depends on the audit store.
func (o *Orchestrator) record(ctx context.Context, rec domain.ChatAudit) {
	if o.audit == nil {
		return
	}
	if err := o.audit.Record(context.WithoutCancel(ctx), rec); err != nil {
		slog.Warn("audit write failed", "error", err)
	}
}
