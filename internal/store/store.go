// Package store implements the durable per-entity store: one JSON file per
// record under entities/, an always-rebuildable summary index next to it, and
// an automatically derived audit trail embedded in each record. Writes are
// atomic (temp file plus a single rename) and corruption of one record never
// blocks access to any other.
package store

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"boardcore/internal/audit"
	"boardcore/internal/index"
	"boardcore/internal/record"
	"boardcore/pkg/board"

	"github.com/google/uuid"
)

const entitiesDir = "entities"

// Store persists entities of one kind under a single directory tree.
// Operations on different ids are fully independent; operations on the same
// id are serialized through an on-demand per-id lock.
type Store struct {
	kind   board.Kind
	dir    string
	entDir string
	idx    *index.Manager
	logger Logger
	nowFn  func() time.Time
	newID  func() string

	lockMu sync.Mutex
	locks  map[string]*sync.Mutex

	// idxMu serializes every read-modify-write of the index file so
	// concurrent incremental upserts cannot drop each other's entries.
	idxMu sync.Mutex
}

// Option configures a Store.
type Option func(*Store)

// WithLogger wires a logger; the default discards everything.
func WithLogger(l Logger) Option {
	return func(s *Store) {
		if l != nil {
			s.logger = l
		}
	}
}

// WithClock overrides the time source, mainly for tests.
func WithClock(now func() time.Time) Option {
	return func(s *Store) {
		if now != nil {
			s.nowFn = now
		}
	}
}

// WithIDFunc overrides the identifier generator, mainly for tests.
func WithIDFunc(fn func() string) Option {
	return func(s *Store) {
		if fn != nil {
			s.newID = fn
		}
	}
}

// Open binds a store of the given kind to dir, creating the directory tree if
// needed. The root directory is the only external configuration the store
// needs.
func Open(kind board.Kind, dir string, opts ...Option) (*Store, error) {
	if dir == "" {
		return nil, board.ValidationError{Field: "dir", Reason: "must not be empty"}
	}
	entDir := filepath.Join(dir, entitiesDir)
	if err := os.MkdirAll(entDir, 0o755); err != nil {
		return nil, fmt.Errorf("create store dir: %w", err)
	}
	s := &Store{
		kind:   kind,
		dir:    dir,
		entDir: entDir,
		idx:    index.NewManager(dir),
		logger: noopLogger{},
		nowFn:  func() time.Time { return time.Now().UTC() },
		newID:  uuid.NewString,
		locks:  make(map[string]*sync.Mutex),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

// Kind returns the entity kind this store holds.
func (s *Store) Kind() board.Kind { return s.kind }

// Dir returns the store's root directory.
func (s *Store) Dir() string { return s.dir }

func (s *Store) pathFor(id string) string {
	return filepath.Join(s.entDir, id+".json")
}

// lockFor returns the per-id mutex, creating it on demand. Locks are never
// reclaimed; the arena grows with the set of ids touched, which is bounded by
// the entity count.
func (s *Store) lockFor(id string) *sync.Mutex {
	s.lockMu.Lock()
	defer s.lockMu.Unlock()
	mu, ok := s.locks[id]
	if !ok {
		mu = &sync.Mutex{}
		s.locks[id] = mu
	}
	return mu
}

// Create validates the draft, assigns a fresh identifier, seeds the audit
// trail with one creation event recording the initial status, persists the
// record atomically, and refreshes the index.
func (s *Store) Create(ctx context.Context, draft board.Draft) (board.Entity, error) {
	if err := ctx.Err(); err != nil {
		return board.Entity{}, err
	}
	if err := validateDraft(draft); err != nil {
		return board.Entity{}, err
	}
	status := draft.Status
	if status == "" {
		status = board.StatusBacklog
	}
	now := s.nowFn().UTC()
	e := board.Entity{
		ID:          s.newID(),
		Title:       draft.Title,
		Description: draft.Description,
		Status:      status,
		Assignee:    draft.Assignee,
		Priority:    draft.Priority,
		Tags:        append([]string(nil), draft.Tags...),
		Fields:      cloneFields(draft.Fields),
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	audit.Append(&e, board.EventCreated, fmt.Sprintf("%s created", s.kind), draft.Actor,
		board.TransitionMeta{To: string(status)}, now)
	if err := s.writeRecord(e); err != nil {
		return board.Entity{}, err
	}
	s.refreshIndex(ctx, func(entries []index.Entry) []index.Entry {
		return index.Upsert(entries, e)
	})
	return e.Clone(), nil
}

// Get reads and decodes exactly one record. It never touches the index.
// A missing id yields (zero, false, nil).
func (s *Store) Get(ctx context.Context, id string) (board.Entity, bool, error) {
	if err := ctx.Err(); err != nil {
		return board.Entity{}, false, err
	}
	e, err := s.readRecord(id)
	if errors.Is(err, fs.ErrNotExist) {
		return board.Entity{}, false, nil
	}
	if err != nil {
		return board.Entity{}, false, err
	}
	return e, true, nil
}

// List returns all valid entities ordered by creation time. It prefers the
// index for the id set; an empty or missing index falls back to a full
// directory scan that rewrites the index as a side effect. The same fallback
// runs when a record exists on disk that the index is missing, so a stale
// index self-heals in either direction. Records that fail to decode are
// skipped with a warning, never fatal.
func (s *Store) List(ctx context.Context) ([]board.Entity, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	entries, err := s.idx.Read()
	if err != nil {
		s.logger.Warn("index unreadable, rebuilding by scan", "kind", s.kind, "error", err)
		entries = nil
	}
	if len(entries) == 0 {
		return s.listByScan(ctx)
	}
	onDisk, err := s.diskIDs()
	if err != nil {
		return nil, err
	}
	indexed := make(map[string]struct{}, len(entries))
	for _, entry := range entries {
		indexed[entry.ID] = struct{}{}
	}
	for id := range onDisk {
		if _, ok := indexed[id]; !ok {
			// A record exists that the index has forgotten (a swallowed
			// index write, or a lost race on the index file).
			return s.listByScan(ctx)
		}
	}

	out := make([]board.Entity, 0, len(entries))
	stale := false
	for _, entry := range entries {
		e, err := s.readRecord(entry.ID)
		if errors.Is(err, fs.ErrNotExist) {
			stale = true
			continue
		}
		if err != nil {
			var decodeErr board.DecodeError
			if errors.As(err, &decodeErr) {
				s.logger.Warn("skipping unreadable record", "kind", s.kind, "id", entry.ID, "error", err)
				stale = true
				continue
			}
			return nil, err
		}
		out = append(out, e)
	}
	if stale {
		// Self-heal: the index disagreed with primary storage.
		s.rewriteIndex(index.Rebuild(out))
	}
	return out, nil
}

func (s *Store) listByScan(ctx context.Context) ([]board.Entity, error) {
	entities, err := s.scan(ctx)
	if err != nil {
		return nil, err
	}
	if len(entities) > 0 {
		s.rewriteIndex(index.Rebuild(entities))
	}
	return entities, nil
}

// rewriteIndex overwrites the index file under idxMu. Failure is logged and
// swallowed: the index is a cache.
func (s *Store) rewriteIndex(entries []index.Entry) {
	s.idxMu.Lock()
	defer s.idxMu.Unlock()
	if err := s.idx.Write(entries); err != nil {
		s.logger.Warn("index rewrite failed", "kind", s.kind, "error", err)
	}
}

// scan decodes every record file under entities/, skipping (with one warning
// each) the ones that cannot be read or decoded.
func (s *Store) scan(ctx context.Context) ([]board.Entity, error) {
	dirEntries, err := os.ReadDir(s.entDir)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("scan %s: %w", s.entDir, err)
	}
	var out []board.Entity
	for _, de := range dirEntries {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		name := de.Name()
		if de.IsDir() || !strings.HasSuffix(name, ".json") || strings.HasPrefix(name, ".") {
			continue
		}
		id := strings.TrimSuffix(name, ".json")
		e, err := s.readRecord(id)
		if err != nil {
			s.logger.Warn("skipping unreadable record", "kind", s.kind, "id", id, "error", err)
			continue
		}
		out = append(out, e)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].ID < out[j].ID
		}
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	return out, nil
}

// diskIDs lists the ids with a record file on disk, without decoding any of
// them. It backs the cheap staleness cross-check in List.
func (s *Store) diskIDs() (map[string]struct{}, error) {
	dirEntries, err := os.ReadDir(s.entDir)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("scan %s: %w", s.entDir, err)
	}
	ids := make(map[string]struct{}, len(dirEntries))
	for _, de := range dirEntries {
		name := de.Name()
		if de.IsDir() || !strings.HasSuffix(name, ".json") || strings.HasPrefix(name, ".") {
			continue
		}
		ids[strings.TrimSuffix(name, ".json")] = struct{}{}
	}
	return ids, nil
}

// Update applies a partial mutation under the id's lock. Tracked transitions
// (status, assignee, priority) each append one audit event, synthesized
// before the change lands so the from/to metadata is accurate.
func (s *Store) Update(ctx context.Context, id string, patch board.Patch) (board.Entity, error) {
	if err := validatePatch(patch); err != nil {
		return board.Entity{}, err
	}
	return s.mutate(ctx, id, func(e *board.Entity, now time.Time) error {
		applyTracked(e, patch, now)
		if patch.Title != nil {
			e.Title = *patch.Title
		}
		if patch.Description != nil {
			e.Description = *patch.Description
		}
		if patch.Tags != nil {
			e.Tags = append([]string(nil), (*patch.Tags)...)
		}
		for k, v := range patch.Fields {
			if e.Fields == nil {
				e.Fields = make(map[string]any)
			}
			e.Fields[k] = v
		}
		return nil
	})
}

// AddLink appends the link to the entity and records a link_added audit
// event. It is a thin wrapper over the update path, not a separate one.
func (s *Store) AddLink(ctx context.Context, id string, link board.Link, actor string) (board.Entity, error) {
	if link.URL == "" {
		return board.Entity{}, board.ValidationError{Field: "link.url", Reason: "must not be empty"}
	}
	return s.mutate(ctx, id, func(e *board.Entity, now time.Time) error {
		e.Links = append(e.Links, link)
		audit.Append(e, board.EventLinkAdded, "link added", actor,
			board.LinkMeta{URL: link.URL, Title: link.Title}, now)
		return nil
	})
}

// AddComment records a comment_added audit event carrying the comment body.
func (s *Store) AddComment(ctx context.Context, id, body, actor string) (board.Entity, error) {
	if body == "" {
		return board.Entity{}, board.ValidationError{Field: "body", Reason: "must not be empty"}
	}
	return s.mutate(ctx, id, func(e *board.Entity, now time.Time) error {
		audit.Append(e, board.EventCommentAdded, "comment added", actor,
			board.CommentMeta{Body: body}, now)
		return nil
	})
}

// mutate is the single mutation path: lock the id, load, apply, bump
// UpdatedAt, persist atomically, refresh the index.
func (s *Store) mutate(ctx context.Context, id string, fn func(*board.Entity, time.Time) error) (board.Entity, error) {
	if err := ctx.Err(); err != nil {
		return board.Entity{}, err
	}
	mu := s.lockFor(id)
	mu.Lock()
	defer mu.Unlock()

	e, err := s.readRecord(id)
	if errors.Is(err, fs.ErrNotExist) {
		return board.Entity{}, board.NotFoundError{Kind: s.kind, ID: id}
	}
	if err != nil {
		return board.Entity{}, err
	}
	now := s.nowFn().UTC()
	if !now.After(e.UpdatedAt) {
		now = e.UpdatedAt.Add(time.Nanosecond)
	}
	if err := fn(&e, now); err != nil {
		return board.Entity{}, err
	}
	e.UpdatedAt = now
	if err := s.writeRecord(e); err != nil {
		return board.Entity{}, err
	}
	s.refreshIndex(ctx, func(entries []index.Entry) []index.Entry {
		return index.Upsert(entries, e)
	})
	return e.Clone(), nil
}

// Remove deletes the storage unit. It returns false, not an error, when the
// id never existed.
func (s *Store) Remove(ctx context.Context, id string) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}
	mu := s.lockFor(id)
	mu.Lock()
	defer mu.Unlock()

	path := s.pathFor(id)
	if _, err := os.Stat(path); errors.Is(err, fs.ErrNotExist) {
		return false, nil
	}
	if err := os.Remove(path); err != nil {
		return false, fmt.Errorf("remove record %s: %w", id, err)
	}
	s.refreshIndex(ctx, func(entries []index.Entry) []index.Entry {
		return index.Remove(entries, id)
	})
	return true, nil
}

// Import writes the given records as-is (identifiers and trails preserved)
// and rebuilds the index by scan. It backs the archive restore path.
func (s *Store) Import(ctx context.Context, entities []board.Entity) error {
	for _, e := range entities {
		if err := ctx.Err(); err != nil {
			return err
		}
		if e.ID == "" {
			return board.ValidationError{Field: "id", Reason: "must not be empty"}
		}
		if err := s.writeRecord(e); err != nil {
			return err
		}
	}
	scanned, err := s.scan(ctx)
	if err != nil {
		return err
	}
	s.rewriteIndex(index.Rebuild(scanned))
	return nil
}

// refreshIndex applies fn to the current index entries and rewrites the file,
// holding idxMu across the read-modify-write. An empty or unreadable index is
// rebuilt from a full scan first, so an incremental upsert can never mask
// records the index had forgotten. Failures are logged and swallowed: the
// index is a cache.
func (s *Store) refreshIndex(ctx context.Context, fn func([]index.Entry) []index.Entry) {
	s.idxMu.Lock()
	defer s.idxMu.Unlock()
	entries, err := s.idx.Read()
	if err != nil || len(entries) == 0 {
		scanned, scanErr := s.scan(ctx)
		if scanErr != nil {
			s.logger.Warn("index refresh scan failed", "kind", s.kind, "error", scanErr)
			return
		}
		if err := s.idx.Write(index.Rebuild(scanned)); err != nil {
			s.logger.Warn("index rewrite failed", "kind", s.kind, "error", err)
		}
		return
	}
	if err := s.idx.Write(fn(entries)); err != nil {
		s.logger.Warn("index rewrite failed", "kind", s.kind, "error", err)
	}
}

func (s *Store) readRecord(id string) (board.Entity, error) {
	path := s.pathFor(id)
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return board.Entity{}, err
		}
		return board.Entity{}, fmt.Errorf("read record %s: %w", id, err)
	}
	e, err := record.Decode(data)
	if err != nil {
		var decodeErr board.DecodeError
		if errors.As(err, &decodeErr) {
			decodeErr.Path = path
			return board.Entity{}, decodeErr
		}
		return board.Entity{}, err
	}
	return e, nil
}

// writeRecord persists the full record through the atomic write protocol:
// the content goes to a temp path unique to this attempt, then one rename
// makes it visible. A crash in between leaves the previously committed record
// untouched.
func (s *Store) writeRecord(e board.Entity) error {
	data, err := record.Encode(e)
	if err != nil {
		return err
	}
	tmp, err := os.CreateTemp(s.entDir, ".tmp-"+e.ID+"-*")
	if err != nil {
		return fmt.Errorf("write record %s: %w", e.ID, err)
	}
	defer func() { _ = os.Remove(tmp.Name()) }()
	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		return fmt.Errorf("write record %s: %w", e.ID, err)
	}
	if err := tmp.Sync(); err != nil {
		_ = tmp.Close()
		return fmt.Errorf("write record %s: %w", e.ID, err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("write record %s: %w", e.ID, err)
	}
	if err := os.Rename(tmp.Name(), s.pathFor(e.ID)); err != nil {
		return fmt.Errorf("write record %s: %w", e.ID, err)
	}
	return nil
}

// applyTracked synthesizes one audit event per tracked transition before the
// change is applied, so the from/to metadata reflects the prior state.
func applyTracked(e *board.Entity, patch board.Patch, now time.Time) {
	if patch.Status != nil && *patch.Status != e.Status {
		audit.Append(e, board.EventStatusChanged, "status changed", patch.Actor,
			board.TransitionMeta{From: string(e.Status), To: string(*patch.Status)}, now)
		e.Status = *patch.Status
	}
	if patch.Assignee != nil && *patch.Assignee != e.Assignee {
		audit.Append(e, board.EventReassigned, "assignee changed", patch.Actor,
			board.TransitionMeta{From: e.Assignee, To: *patch.Assignee}, now)
		e.Assignee = *patch.Assignee
	}
	if patch.Priority != nil && *patch.Priority != e.Priority {
		audit.Append(e, board.EventPriorityChanged, "priority changed", patch.Actor,
			board.TransitionMeta{From: string(e.Priority), To: string(*patch.Priority)}, now)
		e.Priority = *patch.Priority
	}
}

func validateDraft(draft board.Draft) error {
	if strings.TrimSpace(draft.Title) == "" {
		return board.ValidationError{Field: "title", Reason: "must not be empty"}
	}
	if draft.Status != "" && !board.KnownStatus(draft.Status) {
		return board.ValidationError{Field: "status", Reason: fmt.Sprintf("unknown status %q", draft.Status)}
	}
	if !board.KnownPriority(draft.Priority) {
		return board.ValidationError{Field: "priority", Reason: fmt.Sprintf("unknown priority %q", draft.Priority)}
	}
	return nil
}

func validatePatch(patch board.Patch) error {
	if patch.Title != nil && strings.TrimSpace(*patch.Title) == "" {
		return board.ValidationError{Field: "title", Reason: "must not be empty"}
	}
	if patch.Status != nil && !board.KnownStatus(*patch.Status) {
		return board.ValidationError{Field: "status", Reason: fmt.Sprintf("unknown status %q", *patch.Status)}
	}
	if patch.Priority != nil && !board.KnownPriority(*patch.Priority) {
		return board.ValidationError{Field: "priority", Reason: fmt.Sprintf("unknown priority %q", *patch.Priority)}
	}
	return nil
}

func cloneFields(in map[string]any) map[string]any {
	if in == nil {
		return nil
	}
	out := make(map[string]any, len(in))
	for k, v := range in {
		out[k] = v
	}
	return out
}
