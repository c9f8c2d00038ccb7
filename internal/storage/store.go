// Package storage persists conversations as one JSON file per id with
// atomic-replace write semantics.
package storage

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"openchat/internal/domain"
)

// ErrNotFound reports a direct lookup for an id with no stored record.
var ErrNotFound = errors.New("conversation not found")

// DefaultTitle is the listing title for a conversation that has no
// user-authored message yet.
const DefaultTitle = "New Conversation"

const titleRunes = 40

// Store keeps each conversation in <dir>/<id>.json. All methods are safe for
// concurrent use across processes as far as the atomic-rename write allows:
// readers observe either the previous or the new full content, never a
// partial file.
type Store struct {
	dir string
}

// New creates the chats directory if needed and returns a store rooted there.
func New(dir string) (*Store, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("cannot create chats directory %s: %w", dir, err)
	}
	return &Store{dir: dir}, nil
}

// Dir returns the storage root.
func (s *Store) Dir() string {
	return s.dir
}

func (s *Store) fileFor(id string) string {
	// ids arrive from the wire; Base keeps them inside the chats dir
	return filepath.Join(s.dir, filepath.Base(id)+".json")
}

// Load returns the stored conversation for id, or a fresh empty one when the
// record is missing or unreadable. It never fails: the chat pipeline treats
// corrupt state as absence.
func (s *Store) Load(id string) domain.Conversation {
	data, err := os.ReadFile(s.fileFor(id))
	if err != nil {
		return domain.Conversation{ID: id, UpdatedAt: time.Now()}
	}

	var conv domain.Conversation
	if err := json.Unmarshal(data, &conv); err != nil {
		slog.Warn("conversation file unreadable, starting fresh", "conversation", id, "err", err)
		return domain.Conversation{ID: id, UpdatedAt: time.Now()}
	}
	return conv
}

// Get is the direct-lookup read used by the history API. Unlike Load it
// distinguishes absence (ErrNotFound) from a present record.
func (s *Store) Get(id string) (domain.Conversation, error) {
	data, err := os.ReadFile(s.fileFor(id))
	if err != nil {
		if os.IsNotExist(err) {
			return domain.Conversation{}, ErrNotFound
		}
		return domain.Conversation{}, fmt.Errorf("cannot read conversation %s: %w", id, err)
	}

	var conv domain.Conversation
	if err := json.Unmarshal(data, &conv); err != nil {
		return domain.Conversation{}, fmt.Errorf("cannot parse conversation %s: %w", id, err)
	}
	return conv, nil
}

// Save stamps UpdatedAt and atomically replaces the conversation file: the
// serialized record goes to a temp file in the same directory, then a single
// rename moves it onto the target.
func (s *Store) Save(conv *domain.Conversation) error {
	conv.UpdatedAt = time.Now()

	data, err := json.MarshalIndent(conv, "", "  ")
	if err != nil {
		return fmt.Errorf("cannot marshal conversation %s: %w", conv.ID, err)
	}

	tmp, err := os.CreateTemp(s.dir, ".chat-*.tmp")
	if err != nil {
		return fmt.Errorf("cannot create temp file: %w", err)
	}
	tmpName := tmp.Name()

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return fmt.Errorf("cannot write conversation %s: %w", conv.ID, err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("cannot write conversation %s: %w", conv.ID, err)
	}

	if err := os.Rename(tmpName, s.fileFor(conv.ID)); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("cannot replace conversation %s: %w", conv.ID, err)
	}
	return nil
}

// List enumerates every stored conversation as a summary, newest first.
// Entries that fail to parse are skipped, not surfaced.
func (s *Store) List() []domain.ConversationSummary {
	entries, err := os.ReadDir(s.dir)
	if err != nil {
		slog.Warn("cannot read chats directory", "dir", s.dir, "err", err)
		return nil
	}

	var summaries []domain.ConversationSummary
	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".json") {
			continue
		}

		data, err := os.ReadFile(filepath.Join(s.dir, entry.Name()))
		if err != nil {
			continue
		}

		var conv domain.Conversation
		if err := json.Unmarshal(data, &conv); err != nil {
			slog.Debug("skipping unreadable conversation file", "file", entry.Name(), "err", err)
			continue
		}

		summaries = append(summaries, domain.ConversationSummary{
			ID:        conv.ID,
			UpdatedAt: conv.UpdatedAt,
			Title:     titleFor(conv.Messages),
		})
	}

	sort.Slice(summaries, func(i, j int) bool {
		return summaries[i].UpdatedAt.After(summaries[j].UpdatedAt)
	})

	return summaries
}

// titleFor derives the listing title: the first user message truncated to 40
// runes plus an ellipsis marker, or DefaultTitle when no user turn exists.
func titleFor(messages []domain.Message) string {
	for _, msg := range messages {
		if msg.Role != domain.RoleUser {
			continue
		}
		runes := []rune(msg.Content)
		if len(runes) > titleRunes {
			runes = runes[:titleRunes]
		}
		return string(runes) + "..."
	}
	return DefaultTitle
}
