// Package core wires the entity stores, audit trail, attachments, and
// archive backends behind one service facade.
package core

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"boardcore/internal/archive"
	postgresarchive "boardcore/internal/archive/postgres"
	sqlitearchive "boardcore/internal/archive/sqlite"
	"boardcore/internal/attach"
	"boardcore/internal/audit"
	"boardcore/internal/store"
	"boardcore/pkg/board"
)

// Logger is re-exported so callers configure the service without importing
// the store package.
type Logger = store.Logger

const defaultDataRoot = "./boarddata"

// Service exposes the task-board persistence operations: typed CRUD over
// tasks and workflows, audit queries, attachments, and snapshot archiving.
type Service struct {
	tasks     *store.Store
	workflows *store.Store
	attach    attach.Store
	archiver  archive.Archiver
	logger    Logger
	metrics   MetricsRecorder
	now       func() time.Time
}

// Option customizes service construction.
type Option func(*Service)

// WithLogger sets the logger used by the service and both stores.
func WithLogger(l Logger) Option {
	return func(s *Service) {
		if l != nil {
			s.logger = l
		}
	}
}

// WithClock overrides the time source, for tests.
func WithClock(now func() time.Time) Option {
	return func(s *Service) {
		if now != nil {
			s.now = now
		}
	}
}

// WithMetrics sets the metrics recorder observing every service operation.
func WithMetrics(m MetricsRecorder) Option {
	return func(s *Service) {
		if m != nil {
			s.metrics = m
		}
	}
}

// WithAttachments sets the attachment backend.
func WithAttachments(st attach.Store) Option {
	return func(s *Service) {
		if st != nil {
			s.attach = st
		}
	}
}

// WithArchiver sets the snapshot archive backend.
func WithArchiver(a archive.Archiver) Option {
	return func(s *Service) {
		if a != nil {
			s.archiver = a
		}
	}
}

// New opens a service rooted at dataRoot, with tasks and workflows stored in
// sibling directories underneath it.
func New(dataRoot string, opts ...Option) (*Service, error) {
	if dataRoot == "" {
		dataRoot = defaultDataRoot
	}
	svc := &Service{
		logger: store.NewNoopLogger(),
		now:    func() time.Time { return time.Now().UTC() },
	}
	for _, opt := range opts {
		opt(svc)
	}
	tasks, err := store.Open(board.KindTask, filepath.Join(dataRoot, "tasks"),
		store.WithLogger(svc.logger), store.WithClock(svc.now))
	if err != nil {
		return nil, fmt.Errorf("open task store: %w", err)
	}
	workflows, err := store.Open(board.KindWorkflow, filepath.Join(dataRoot, "workflows"),
		store.WithLogger(svc.logger), store.WithClock(svc.now))
	if err != nil {
		return nil, fmt.Errorf("open workflow store: %w", err)
	}
	svc.tasks = tasks
	svc.workflows = workflows
	return svc, nil
}

// OpenFromEnv builds a fully wired service from environment variables:
//
//	BOARDCORE_DATA_ROOT       entity data root (default ./boarddata)
//	BOARDCORE_ATTACH_DRIVER   fs|s3|memory (default fs)
//	BOARDCORE_ARCHIVE_DRIVER  none|sqlite|postgres (default none)
//	BOARDCORE_SQLITE_PATH     sqlite archive file when driver=sqlite
//	BOARDCORE_POSTGRES_DSN    postgres DSN when driver=postgres
func OpenFromEnv(ctx context.Context, opts ...Option) (*Service, error) {
	attachStore, err := attach.Open(ctx)
	if err != nil {
		return nil, fmt.Errorf("open attachments: %w", err)
	}
	var archiver archive.Archiver
	switch driver := os.Getenv("BOARDCORE_ARCHIVE_DRIVER"); driver {
	case "", "none":
	case "sqlite":
		archiver, err = sqlitearchive.New(os.Getenv("BOARDCORE_SQLITE_PATH"))
		if err != nil {
			return nil, fmt.Errorf("open sqlite archive: %w", err)
		}
	case "postgres":
		archiver, err = postgresarchive.New(ctx, os.Getenv("BOARDCORE_POSTGRES_DSN"))
		if err != nil {
			return nil, fmt.Errorf("open postgres archive: %w", err)
		}
	default:
		return nil, fmt.Errorf("unknown archive driver %s", driver)
	}
	opts = append([]Option{WithAttachments(attachStore), WithArchiver(archiver)}, opts...)
	return New(os.Getenv("BOARDCORE_DATA_ROOT"), opts...)
}

// Tasks returns the underlying task store.
func (s *Service) Tasks() *store.Store { return s.tasks }

// Workflows returns the underlying workflow store.
func (s *Service) Workflows() *store.Store { return s.workflows }

// Attachments returns the attachment backend, nil when none is configured.
func (s *Service) Attachments() attach.Store { return s.attach }

// Close releases the archive backend, if any.
func (s *Service) Close() error {
	if s.archiver != nil {
		return s.archiver.Close()
	}
	return nil
}

func (s *Service) observe(ctx context.Context, operation string, start time.Time, err error) {
	if s.metrics == nil {
		return
	}
	s.metrics.Observe(ctx, operation, err == nil, time.Since(start))
}

func (s *Service) kindStore(kind board.Kind) (*store.Store, error) {
	switch kind {
	case board.KindTask:
		return s.tasks, nil
	case board.KindWorkflow:
		return s.workflows, nil
	default:
		return nil, fmt.Errorf("unknown entity kind %q", kind)
	}
}

// CreateTask persists a new task from the draft.
func (s *Service) CreateTask(ctx context.Context, draft board.Draft) (board.Entity, error) {
	start := time.Now()
	e, err := s.tasks.Create(ctx, draft)
	s.observe(ctx, "create_task", start, err)
	return e, err
}

// GetTask loads one task by id.
func (s *Service) GetTask(ctx context.Context, id string) (board.Entity, bool, error) {
	start := time.Now()
	e, ok, err := s.tasks.Get(ctx, id)
	s.observe(ctx, "get_task", start, err)
	return e, ok, err
}

// ListTasks returns all tasks sorted by creation time.
func (s *Service) ListTasks(ctx context.Context) ([]board.Entity, error) {
	start := time.Now()
	out, err := s.tasks.List(ctx)
	s.observe(ctx, "list_tasks", start, err)
	return out, err
}

// UpdateTask applies a partial mutation to a task.
func (s *Service) UpdateTask(ctx context.Context, id string, patch board.Patch) (board.Entity, error) {
	start := time.Now()
	e, err := s.tasks.Update(ctx, id, patch)
	s.observe(ctx, "update_task", start, err)
	return e, err
}

// DeleteTask removes a task, reporting whether it existed.
func (s *Service) DeleteTask(ctx context.Context, id string) (bool, error) {
	start := time.Now()
	ok, err := s.tasks.Remove(ctx, id)
	s.observe(ctx, "delete_task", start, err)
	return ok, err
}

// MoveTask transitions a task to the given status.
func (s *Service) MoveTask(ctx context.Context, id string, status board.Status, actor string) (board.Entity, error) {
	start := time.Now()
	e, err := s.tasks.Update(ctx, id, board.Patch{Status: &status, Actor: actor})
	s.observe(ctx, "move_task", start, err)
	return e, err
}

// AssignTask reassigns a task. An empty assignee clears the assignment.
func (s *Service) AssignTask(ctx context.Context, id, assignee, actor string) (board.Entity, error) {
	start := time.Now()
	e, err := s.tasks.Update(ctx, id, board.Patch{Assignee: &assignee, Actor: actor})
	s.observe(ctx, "assign_task", start, err)
	return e, err
}

// SetTaskPriority changes a task's priority.
func (s *Service) SetTaskPriority(ctx context.Context, id string, priority board.Priority, actor string) (board.Entity, error) {
	start := time.Now()
	e, err := s.tasks.Update(ctx, id, board.Patch{Priority: &priority, Actor: actor})
	s.observe(ctx, "set_task_priority", start, err)
	return e, err
}

// AddTaskLink records an external link on a task.
func (s *Service) AddTaskLink(ctx context.Context, id string, link board.Link, actor string) (board.Entity, error) {
	start := time.Now()
	e, err := s.tasks.AddLink(ctx, id, link, actor)
	s.observe(ctx, "add_task_link", start, err)
	return e, err
}

// AddTaskComment appends a comment event to a task's trail.
func (s *Service) AddTaskComment(ctx context.Context, id, body, actor string) (board.Entity, error) {
	start := time.Now()
	e, err := s.tasks.AddComment(ctx, id, body, actor)
	s.observe(ctx, "add_task_comment", start, err)
	return e, err
}

// CreateWorkflow persists a new workflow definition.
func (s *Service) CreateWorkflow(ctx context.Context, draft board.Draft) (board.Entity, error) {
	start := time.Now()
	e, err := s.workflows.Create(ctx, draft)
	s.observe(ctx, "create_workflow", start, err)
	return e, err
}

// GetWorkflow loads one workflow by id.
func (s *Service) GetWorkflow(ctx context.Context, id string) (board.Entity, bool, error) {
	start := time.Now()
	e, ok, err := s.workflows.Get(ctx, id)
	s.observe(ctx, "get_workflow", start, err)
	return e, ok, err
}

// ListWorkflows returns all workflow definitions sorted by creation time.
func (s *Service) ListWorkflows(ctx context.Context) ([]board.Entity, error) {
	start := time.Now()
	out, err := s.workflows.List(ctx)
	s.observe(ctx, "list_workflows", start, err)
	return out, err
}

// UpdateWorkflow applies a partial mutation to a workflow.
func (s *Service) UpdateWorkflow(ctx context.Context, id string, patch board.Patch) (board.Entity, error) {
	start := time.Now()
	e, err := s.workflows.Update(ctx, id, patch)
	s.observe(ctx, "update_workflow", start, err)
	return e, err
}

// DeleteWorkflow removes a workflow, reporting whether it existed.
func (s *Service) DeleteWorkflow(ctx context.Context, id string) (bool, error) {
	start := time.Now()
	ok, err := s.workflows.Remove(ctx, id)
	s.observe(ctx, "delete_workflow", start, err)
	return ok, err
}

// History returns the append-ordered audit trail of one entity, empty when
// the entity does not exist.
func (s *Service) History(ctx context.Context, kind board.Kind, id string) ([]board.AuditEvent, error) {
	start := time.Now()
	st, err := s.kindStore(kind)
	if err != nil {
		s.observe(ctx, "history", start, err)
		return nil, err
	}
	events, err := audit.NewTrail(st).ForEntity(ctx, id)
	s.observe(ctx, "history", start, err)
	return events, err
}

// QueryAudit runs a filtered, newest-first audit query across every entity of
// the given kind.
func (s *Service) QueryAudit(ctx context.Context, kind board.Kind, filter audit.Filter) ([]board.AuditEvent, error) {
	start := time.Now()
	st, err := s.kindStore(kind)
	if err != nil {
		s.observe(ctx, "query_audit", start, err)
		return nil, err
	}
	events, err := audit.NewTrail(st).Query(ctx, filter)
	s.observe(ctx, "query_audit", start, err)
	return events, err
}

// AttachFile stores an attachment under the task's key space and records a
// link event pointing at it on the task's trail.
func (s *Service) AttachFile(ctx context.Context, taskID, name string, r io.Reader, opts attach.PutOptions, actor string) (attach.Info, error) {
	start := time.Now()
	info, err := s.attachFile(ctx, taskID, name, r, opts, actor)
	s.observe(ctx, "attach_file", start, err)
	return info, err
}

func (s *Service) attachFile(ctx context.Context, taskID, name string, r io.Reader, opts attach.PutOptions, actor string) (attach.Info, error) {
	if s.attach == nil {
		return attach.Info{}, fmt.Errorf("no attachment backend configured")
	}
	if _, ok, err := s.tasks.Get(ctx, taskID); err != nil {
		return attach.Info{}, err
	} else if !ok {
		return attach.Info{}, board.NotFoundError{Kind: board.KindTask, ID: taskID}
	}
	key := fmt.Sprintf("tasks/%s/%s", taskID, name)
	info, err := s.attach.Put(ctx, key, r, opts)
	if err != nil {
		return attach.Info{}, fmt.Errorf("store attachment: %w", err)
	}
	if _, err := s.tasks.AddLink(ctx, taskID, board.Link{URL: "attach://" + key, Title: name}, actor); err != nil {
		return attach.Info{}, err
	}
	return info, nil
}

// ListAttachments lists stored attachments of one task in key order.
func (s *Service) ListAttachments(ctx context.Context, taskID string) ([]attach.Info, error) {
	start := time.Now()
	if s.attach == nil {
		err := fmt.Errorf("no attachment backend configured")
		s.observe(ctx, "list_attachments", start, err)
		return nil, err
	}
	infos, err := s.attach.List(ctx, "tasks/"+taskID+"/")
	s.observe(ctx, "list_attachments", start, err)
	return infos, err
}

// SnapshotArchive captures all tasks and workflows into the archive backend.
func (s *Service) SnapshotArchive(ctx context.Context) (archive.Snapshot, error) {
	start := time.Now()
	snap, err := s.snapshotArchive(ctx)
	s.observe(ctx, "snapshot_archive", start, err)
	return snap, err
}

func (s *Service) snapshotArchive(ctx context.Context) (archive.Snapshot, error) {
	if s.archiver == nil {
		return archive.Snapshot{}, fmt.Errorf("no archive backend configured")
	}
	tasks, err := s.tasks.List(ctx)
	if err != nil {
		return archive.Snapshot{}, err
	}
	workflows, err := s.workflows.List(ctx)
	if err != nil {
		return archive.Snapshot{}, err
	}
	snap := archive.Snapshot{Tasks: tasks, Workflows: workflows, TakenAt: s.now()}
	if err := s.archiver.Save(ctx, snap); err != nil {
		return archive.Snapshot{}, err
	}
	return snap, nil
}

// RestoreArchive loads the last saved snapshot and imports its records into
// the entity stores, rebuilding both indexes. Existing records with matching
// ids are overwritten. Returns false when no snapshot was ever saved.
func (s *Service) RestoreArchive(ctx context.Context) (bool, error) {
	start := time.Now()
	ok, err := s.restoreArchive(ctx)
	s.observe(ctx, "restore_archive", start, err)
	return ok, err
}

func (s *Service) restoreArchive(ctx context.Context) (bool, error) {
	if s.archiver == nil {
		return false, fmt.Errorf("no archive backend configured")
	}
	snap, ok, err := s.archiver.Load(ctx)
	if err != nil || !ok {
		return false, err
	}
	if err := s.tasks.Import(ctx, snap.Tasks); err != nil {
		return false, fmt.Errorf("import tasks: %w", err)
	}
	if err := s.workflows.Import(ctx, snap.Workflows); err != nil {
		return false, fmt.Errorf("import workflows: %w", err)
	}
	return true, nil
}
