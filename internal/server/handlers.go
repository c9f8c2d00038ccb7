package server

import (
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"

	"openchat/internal/domain"
	"openchat/internal/storage"
)

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Debug("response write failed", "error", err)
	}
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

// handleChat binds the request, switches the connection to NDJSON, and runs
// the chat pipeline with each event flushed as it is produced.
func (s *Server) handleChat(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(io.LimitReader(r.Body, maxBodySize))
	if err != nil {
		writeError(w, http.StatusBadRequest, "cannot read request body")
		return
	}

	// memoryOn is on unless the client says otherwise.
	req := domain.ChatRequest{MemoryOn: true}
	if err := json.Unmarshal(body, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON")
		return
	}
	if err := req.Validate(); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	flusher, ok := w.(http.Flusher)
	if !ok {
		writeError(w, http.StatusInternalServerError, "streaming not supported")
		return
	}

	w.Header().Set("Content-Type", "application/x-ndjson")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("X-Accel-Buffering", "no")

	enc := json.NewEncoder(w)
	emit := func(e domain.Event) error {
		if err := enc.Encode(e); err != nil {
			return err
		}
		flusher.Flush()
		return nil
	}

	// Failures were already reported in-stream (or the client is gone);
	// nothing more can be written here.
	if err := s.chat.Run(r.Context(), req, emit); err != nil {
		slog.Debug("chat request ended early", "error", err, "requestId", RequestID(r.Context()))
	}
}

func (s *Server) handleHistory(w http.ResponseWriter, r *http.Request) {
	list := s.store.List()
	if list == nil {
		list = []domain.ConversationSummary{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"history": list})
}

func (s *Server) handleConversation(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	conv, err := s.store.Get(id)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			writeError(w, http.StatusNotFound, "chat not found")
			return
		}
		slog.Error("conversation read failed", "conversation", id, "error", err)
		writeError(w, http.StatusInternalServerError, "cannot read conversation")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"conversation": conv})
}

// handleModels proxies the upstream tags listing. An unreachable inference
// server degrades to an empty list so the UI can still render its picker.
func (s *Server) handleModels(w http.ResponseWriter, r *http.Request) {
	models, err := s.models.Models(r.Context())
	if err != nil {
		slog.Warn("model listing failed", "error", err)
		models = nil
	}
	if models == nil {
		models = []domain.ModelInfo{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"models": models})
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}
