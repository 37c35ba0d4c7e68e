// Package index maintains the summary projection used to answer listings
// without decoding every full record. The index is a cache, not a source of
// truth: it is fully derivable by scanning primary storage, and every consumer
// must keep working when the file is absent, empty, or stale.
package index

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"time"

	"boardcore/pkg/board"
)

// FileName is the single-file index name, stored next to the entities
// directory of each store instance.
const FileName = "_summary.json"

// Entry is the projection of one entity carried by the index.
type Entry struct {
	ID        string         `json:"id"`
	Title     string         `json:"title"`
	Status    board.Status   `json:"status"`
	Priority  board.Priority `json:"priority,omitempty"`
	Assignee  string         `json:"assignee,omitempty"`
	Tags      []string       `json:"tags,omitempty"`
	CreatedAt time.Time      `json:"created_at"`
	UpdatedAt time.Time      `json:"updated_at"`
}

// Project returns the index entry for one entity.
func Project(e board.Entity) Entry {
	return Entry{
		ID:        e.ID,
		Title:     e.Title,
		Status:    e.Status,
		Priority:  e.Priority,
		Assignee:  e.Assignee,
		Tags:      append([]string(nil), e.Tags...),
		CreatedAt: e.CreatedAt.UTC(),
		UpdatedAt: e.UpdatedAt.UTC(),
	}
}

// Manager reads and writes the index file of one store directory.
type Manager struct {
	dir string
}

// NewManager binds a manager to the store directory containing the index file.
func NewManager(dir string) *Manager {
	return &Manager{dir: dir}
}

// Path returns the absolute index file path.
func (m *Manager) Path() string {
	return filepath.Join(m.dir, FileName)
}

// Read returns the persisted entries. A missing file is not an error: it
// yields an empty slice, which callers treat as "rebuild by scan".
func (m *Manager) Read() ([]Entry, error) {
	data, err := os.ReadFile(m.Path())
	if errors.Is(err, fs.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read index: %w", err)
	}
	var entries []Entry
	if err := json.Unmarshal(data, &entries); err != nil {
		return nil, board.DecodeError{Path: m.Path(), Err: err}
	}
	return entries, nil
}

// Write atomically overwrites the index file with the given projection.
// Callers swallow and log failures: the index is disposable and a stale copy
// must never abort a primary write that already succeeded.
func (m *Manager) Write(entries []Entry) error {
	if entries == nil {
		entries = []Entry{}
	}
	data, err := json.MarshalIndent(entries, "", "  ")
	if err != nil {
		return fmt.Errorf("encode index: %w", err)
	}
	data = append(data, '\n')
	tmp, err := os.CreateTemp(m.dir, ".summary-*")
	if err != nil {
		return fmt.Errorf("write index: %w", err)
	}
	defer func() { _ = os.Remove(tmp.Name()) }()
	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		return fmt.Errorf("write index: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("write index: %w", err)
	}
	if err := os.Rename(tmp.Name(), m.Path()); err != nil {
		return fmt.Errorf("write index: %w", err)
	}
	return nil
}

// Rebuild derives the full projection from a scan of primary records. It is
// pure and idempotent: rebuilding twice from the same entities produces
// byte-identical index content.
func Rebuild(entities []board.Entity) []Entry {
	entries := make([]Entry, 0, len(entities))
	for _, e := range entities {
		entries = append(entries, Project(e))
	}
	sortEntries(entries)
	return entries
}

// Upsert replaces the entry matching the entity's id in place, appending when
// absent, and returns the re-sorted slice. Mutations use this instead of a
// full recompute so index maintenance stays O(log n) per write.
func Upsert(entries []Entry, e board.Entity) []Entry {
	entry := Project(e)
	for i := range entries {
		if entries[i].ID == entry.ID {
			entries[i] = entry
			sortEntries(entries)
			return entries
		}
	}
	entries = append(entries, entry)
	sortEntries(entries)
	return entries
}

// Remove drops the entry with the given id, if present.
func Remove(entries []Entry, id string) []Entry {
	for i := range entries {
		if entries[i].ID == id {
			return append(entries[:i], entries[i+1:]...)
		}
	}
	return entries
}

func sortEntries(entries []Entry) {
	sort.Slice(entries, func(i, j int) bool {
		if entries[i].CreatedAt.Equal(entries[j].CreatedAt) {
			return entries[i].ID < entries[j].ID
		}
		return entries[i].CreatedAt.Before(entries[j].CreatedAt)
	})
}
