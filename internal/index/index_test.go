package index

import (
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"reflect"
	"testing"
	"time"

	"boardcore/pkg/board"
)

func entityAt(id, title string, created time.Time) board.Entity {
	return board.Entity{
		ID:        id,
		Title:     title,
		Status:    board.StatusBacklog,
		CreatedAt: created,
		UpdatedAt: created,
	}
}

func TestReadMissingIndexIsEmptyNotError(t *testing.T) {
	m := NewManager(t.TempDir())
	entries, err := m.Read()
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	if len(entries) != 0 {
		t.Fatalf("expected empty index, got %d entries", len(entries))
	}
}

func TestWriteReadRoundTrip(t *testing.T) {
	dir := t.TempDir()
	m := NewManager(dir)
	base := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	entries := Rebuild([]board.Entity{
		entityAt("b", "second", base.Add(time.Minute)),
		entityAt("a", "first", base),
	})
	if err := m.Write(entries); err != nil {
		t.Fatalf("write: %v", err)
	}
	got, err := m.Read()
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	if !reflect.DeepEqual(got, entries) {
		t.Fatalf("round trip mismatch:\n got %#v\nwant %#v", got, entries)
	}
	// Write must not leave temp files behind.
	dirEntries, err := os.ReadDir(dir)
	if err != nil {
		t.Fatalf("read dir: %v", err)
	}
	if len(dirEntries) != 1 || dirEntries[0].Name() != FileName {
		t.Fatalf("unexpected directory contents: %v", dirEntries)
	}
}

func TestReadCorruptIndexReturnsDecodeError(t *testing.T) {
	dir := t.TempDir()
	if err := os.WriteFile(filepath.Join(dir, FileName), []byte("{chaos"), 0o644); err != nil {
		t.Fatalf("seed corrupt index: %v", err)
	}
	_, err := NewManager(dir).Read()
	var decodeErr board.DecodeError
	if !errors.As(err, &decodeErr) {
		t.Fatalf("expected board.DecodeError, got %v", err)
	}
}

func TestRebuildIsIdempotent(t *testing.T) {
	base := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	entities := []board.Entity{
		entityAt("c", "third", base.Add(2*time.Minute)),
		entityAt("a", "first", base),
		entityAt("b", "second", base.Add(time.Minute)),
	}
	first, err := json.Marshal(Rebuild(entities))
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	second, err := json.Marshal(Rebuild(entities))
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	if string(first) != string(second) {
		t.Fatalf("rebuild not deterministic:\n%s\n%s", first, second)
	}
	rebuilt := Rebuild(entities)
	if rebuilt[0].ID != "a" || rebuilt[1].ID != "b" || rebuilt[2].ID != "c" {
		t.Fatalf("rebuild order wrong: %#v", rebuilt)
	}
}

func TestRebuildBreaksCreatedAtTiesByID(t *testing.T) {
	base := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	rebuilt := Rebuild([]board.Entity{
		entityAt("z", "last", base),
		entityAt("a", "first", base),
	})
	if rebuilt[0].ID != "a" || rebuilt[1].ID != "z" {
		t.Fatalf("tie not broken by id: %#v", rebuilt)
	}
}

func TestUpsertMatchesRebuild(t *testing.T) {
	base := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	entities := []board.Entity{
		entityAt("a", "first", base),
		entityAt("b", "second", base.Add(time.Minute)),
	}
	entries := Rebuild(entities)

	// In-place replacement keeps position.
	updated := entities[1]
	updated.Title = "renamed"
	updated.UpdatedAt = base.Add(2 * time.Minute)
	entries = Upsert(entries, updated)

	// Appending a new entity re-sorts.
	extra := entityAt("0-early", "earliest", base.Add(-time.Minute))
	entries = Upsert(entries, extra)

	want := Rebuild([]board.Entity{entities[0], updated, extra})
	if !reflect.DeepEqual(entries, want) {
		t.Fatalf("incremental upsert diverged from rebuild:\n got %#v\nwant %#v", entries, want)
	}
}

func TestRemove(t *testing.T) {
	base := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	entries := Rebuild([]board.Entity{
		entityAt("a", "first", base),
		entityAt("b", "second", base.Add(time.Minute)),
	})
	entries = Remove(entries, "a")
	if len(entries) != 1 || entries[0].ID != "b" {
		t.Fatalf("remove failed: %#v", entries)
	}
	entries = Remove(entries, "missing")
	if len(entries) != 1 {
		t.Fatalf("removing an absent id must be a no-op: %#v", entries)
	}
}
