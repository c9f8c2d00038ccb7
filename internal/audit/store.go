// Package audit keeps a best-effort SQLite trail of chat runs. One row per
// request, written after the outcome is known; the chat path never depends
// on a write succeeding.
package audit

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"openchat/internal/domain"

	_ "modernc.org/sqlite"
)

// Store implements domain.AuditRecorder on a single SQLite file.
type Store struct {
	db *sql.DB
}

// New opens (creating if needed) the audit database at path and migrates the
// schema.
func New(path string) (*Store, error) {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("cannot create audit directory %s: %w", dir, err)
	}

	db, err := sql.Open("sqlite", path+"?_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("cannot open audit database: %w", err)
	}

	// Single connection keeps SQLite's writer lock uncontended.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	s := &Store{db: db}
	if err := s.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("audit migration failed: %w", err)
	}
	return s, nil
}

func (s *Store) migrate() error {
	schema := `
	CREATE TABLE IF NOT EXISTS chat_events (
		id              TEXT PRIMARY KEY,
		created_at      DATETIME NOT NULL,
		conversation_id TEXT NOT NULL,
		model           TEXT NOT NULL,
		web_search      INTEGER NOT NULL DEFAULT 0,
		memory_on       INTEGER NOT NULL DEFAULT 0,
		tool_used       INTEGER NOT NULL DEFAULT 0,
		chunks          INTEGER NOT NULL DEFAULT 0,
		outcome         TEXT NOT NULL,
		detail          TEXT NOT NULL DEFAULT '',
		duration_ms     INTEGER NOT NULL DEFAULT 0
	);
	CREATE INDEX IF NOT EXISTS idx_chat_events_time ON chat_events(created_at);
	CREATE INDEX IF NOT EXISTS idx_chat_events_conv ON chat_events(conversation_id);
	`
	_, err := s.db.Exec(schema)
	return err
}

// Record inserts one chat run.
func (s *Store) Record(ctx context.Context, rec domain.ChatAudit) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO chat_events (id, created_at, conversation_id, model, web_search, memory_on, tool_used, chunks, outcome, detail, duration_ms)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		rec.RequestID, time.Now(), rec.ConversationID, rec.Model,
		rec.WebSearch, rec.MemoryOn, rec.ToolUsed, rec.Chunks,
		rec.Outcome, rec.Detail, rec.Duration.Milliseconds(),
	)
	return err
}

// Entry is one recorded chat run read back from the trail.
type Entry struct {
	ID             string
	CreatedAt      time.Time
	ConversationID string
	Model          string
	WebSearch      bool
	MemoryOn       bool
	ToolUsed       bool
	Chunks         int
	Outcome        string
	Detail         string
	Duration       time.Duration
}

// Recent returns the newest runs, most recent first.
func (s *Store) Recent(ctx context.Context, limit int) ([]Entry, error) {
	if limit <= 0 {
		limit = 20
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, created_at, conversation_id, model, web_search, memory_on, tool_used, chunks, outcome, detail, duration_ms
		 FROM chat_events ORDER BY created_at DESC LIMIT ?`, limit,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var entries []Entry
	for rows.Next() {
		var e Entry
		var ms int64
		if err := rows.Scan(&e.ID, &e.CreatedAt, &e.ConversationID, &e.Model,
			&e.WebSearch, &e.MemoryOn, &e.ToolUsed, &e.Chunks,
			&e.Outcome, &e.Detail, &ms); err != nil {
			return nil, err
		}
		e.Duration = time.Duration(ms) * time.Millisecond
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

func (s *Store) Close() error {
	return s.db.Close()
}
