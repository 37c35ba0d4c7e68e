package core

import (
	"context"
	"errors"
	"path/filepath"
	"strings"
	"testing"
	"time"

	sqlitearchive "boardcore/internal/archive/sqlite"
	"boardcore/internal/attach"
	"boardcore/internal/audit"
	"boardcore/pkg/board"
)

func newService(t *testing.T, opts ...Option) *Service {
	t.Helper()
	opts = append([]Option{WithAttachments(attach.NewMemory())}, opts...)
	svc, err := New(t.TempDir(), opts...)
	if err != nil {
		t.Fatalf("new service: %v", err)
	}
	t.Cleanup(func() { _ = svc.Close() })
	return svc
}

func TestTaskLifecycle(t *testing.T) {
	svc := newService(t)
	ctx := context.Background()

	task, err := svc.CreateTask(ctx, board.Draft{Title: "fix the flaky test", Actor: "casey"})
	if err != nil {
		t.Fatalf("create: %v", err)
	}

	task, err = svc.MoveTask(ctx, task.ID, board.StatusInProgress, "casey")
	if err != nil {
		t.Fatalf("move: %v", err)
	}
	if task.Status != board.StatusInProgress {
		t.Fatalf("status = %q", task.Status)
	}

	task, err = svc.AssignTask(ctx, task.ID, "rowan", "casey")
	if err != nil {
		t.Fatalf("assign: %v", err)
	}
	if task.Assignee != "rowan" {
		t.Fatalf("assignee = %q", task.Assignee)
	}

	task, err = svc.SetTaskPriority(ctx, task.ID, board.PriorityUrgent, "rowan")
	if err != nil {
		t.Fatalf("priority: %v", err)
	}

	task, err = svc.AddTaskComment(ctx, task.ID, "root caused", "rowan")
	if err != nil {
		t.Fatalf("comment: %v", err)
	}

	history, err := svc.History(ctx, board.KindTask, task.ID)
	if err != nil {
		t.Fatalf("history: %v", err)
	}
	wantKinds := []board.EventKind{
		board.EventCreated, board.EventStatusChanged, board.EventReassigned,
		board.EventPriorityChanged, board.EventCommentAdded,
	}
	if len(history) != len(wantKinds) {
		t.Fatalf("history has %d events, want %d", len(history), len(wantKinds))
	}
	for i, kind := range wantKinds {
		if history[i].Kind != kind {
			t.Fatalf("history[%d].Kind = %q, want %q", i, history[i].Kind, kind)
		}
	}

	ok, err := svc.DeleteTask(ctx, task.ID)
	if err != nil || !ok {
		t.Fatalf("delete = (%v, %v)", ok, err)
	}
	if _, found, err := svc.GetTask(ctx, task.ID); err != nil || found {
		t.Fatalf("task visible after delete")
	}
}

func TestTasksAndWorkflowsAreIsolated(t *testing.T) {
	svc := newService(t)
	ctx := context.Background()

	if _, err := svc.CreateTask(ctx, board.Draft{Title: "a task"}); err != nil {
		t.Fatalf("create task: %v", err)
	}
	wf, err := svc.CreateWorkflow(ctx, board.Draft{Title: "release pipeline"})
	if err != nil {
		t.Fatalf("create workflow: %v", err)
	}

	tasks, err := svc.ListTasks(ctx)
	if err != nil {
		t.Fatalf("list tasks: %v", err)
	}
	workflows, err := svc.ListWorkflows(ctx)
	if err != nil {
		t.Fatalf("list workflows: %v", err)
	}
	if len(tasks) != 1 || len(workflows) != 1 {
		t.Fatalf("stores not isolated: %d tasks, %d workflows", len(tasks), len(workflows))
	}
	if _, found, err := svc.GetTask(ctx, wf.ID); err != nil || found {
		t.Fatalf("workflow id resolvable through task store")
	}
}

func TestQueryAuditAcrossTasks(t *testing.T) {
	base := time.Date(2026, 7, 1, 9, 0, 0, 0, time.UTC)
	current := base
	svc := newService(t, WithClock(func() time.Time {
		current = current.Add(time.Second)
		return current
	}))
	ctx := context.Background()

	first, err := svc.CreateTask(ctx, board.Draft{Title: "first"})
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	second, err := svc.CreateTask(ctx, board.Draft{Title: "second"})
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if _, err := svc.MoveTask(ctx, second.ID, board.StatusDone, "casey"); err != nil {
		t.Fatalf("move: %v", err)
	}

	events, err := svc.QueryAudit(ctx, board.KindTask, audit.Filter{})
	if err != nil {
		t.Fatalf("query: %v", err)
	}
	if len(events) != 3 {
		t.Fatalf("expected 3 events, got %d", len(events))
	}
	if events[0].Kind != board.EventStatusChanged {
		t.Fatalf("newest event should be the move, got %q", events[0].Kind)
	}

	scoped, err := svc.QueryAudit(ctx, board.KindTask, audit.Filter{EntityIDs: []string{first.ID}})
	if err != nil {
		t.Fatalf("scoped query: %v", err)
	}
	if len(scoped) != 1 || scoped[0].EntityID != first.ID {
		t.Fatalf("entity filter failed: %#v", scoped)
	}
}

func TestAttachFileRecordsLink(t *testing.T) {
	svc := newService(t)
	ctx := context.Background()

	task, err := svc.CreateTask(ctx, board.Draft{Title: "with attachment"})
	if err != nil {
		t.Fatalf("create: %v", err)
	}

	info, err := svc.AttachFile(ctx, task.ID, "crash.log", strings.NewReader("panic: boom"), attach.PutOptions{ContentType: "text/plain"}, "casey")
	if err != nil {
		t.Fatalf("attach: %v", err)
	}
	if info.Size == 0 {
		t.Fatalf("attachment size not recorded")
	}

	infos, err := svc.ListAttachments(ctx, task.ID)
	if err != nil {
		t.Fatalf("list attachments: %v", err)
	}
	if len(infos) != 1 || !strings.HasSuffix(infos[0].Key, "/crash.log") {
		t.Fatalf("unexpected attachments: %#v", infos)
	}

	got, found, err := svc.GetTask(ctx, task.ID)
	if err != nil || !found {
		t.Fatalf("get: %v", err)
	}
	if len(got.Links) != 1 || !strings.HasPrefix(got.Links[0].URL, "attach://") {
		t.Fatalf("link event not recorded: %#v", got.Links)
	}
	last := got.Events[len(got.Events)-1]
	if last.Kind != board.EventLinkAdded {
		t.Fatalf("last event = %q, want link_added", last.Kind)
	}
}

func TestAttachFileUnknownTask(t *testing.T) {
	svc := newService(t)
	_, err := svc.AttachFile(context.Background(), "ghost", "x.txt", strings.NewReader("x"), attach.PutOptions{}, "casey")
	var nf board.NotFoundError
	if !errors.As(err, &nf) {
		t.Fatalf("expected not-found error, got %v", err)
	}
}

func TestSnapshotAndRestoreArchive(t *testing.T) {
	ctx := context.Background()
	archiver, err := sqlitearchive.New(filepath.Join(t.TempDir(), "archive.db"))
	if err != nil {
		t.Fatalf("open archiver: %v", err)
	}

	src := newService(t, WithArchiver(archiver))
	task, err := src.CreateTask(ctx, board.Draft{Title: "survives the archive"})
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if _, err := src.CreateWorkflow(ctx, board.Draft{Title: "deploy"}); err != nil {
		t.Fatalf("create workflow: %v", err)
	}
	snap, err := src.SnapshotArchive(ctx)
	if err != nil {
		t.Fatalf("snapshot: %v", err)
	}
	if len(snap.Tasks) != 1 || len(snap.Workflows) != 1 {
		t.Fatalf("snapshot incomplete: %d tasks, %d workflows", len(snap.Tasks), len(snap.Workflows))
	}

	dst, err := New(t.TempDir(), WithArchiver(archiver))
	if err != nil {
		t.Fatalf("new destination service: %v", err)
	}
	restored, err := dst.RestoreArchive(ctx)
	if err != nil {
		t.Fatalf("restore: %v", err)
	}
	if !restored {
		t.Fatalf("expected restore to find a snapshot")
	}
	got, found, err := dst.GetTask(ctx, task.ID)
	if err != nil || !found {
		t.Fatalf("restored task missing: %v", err)
	}
	if got.Title != "survives the archive" || len(got.Events) != 1 {
		t.Fatalf("restored task mangled: %#v", got)
	}
}

func TestRestoreWithoutSnapshot(t *testing.T) {
	archiver, err := sqlitearchive.New(filepath.Join(t.TempDir(), "archive.db"))
	if err != nil {
		t.Fatalf("open archiver: %v", err)
	}
	svc := newService(t, WithArchiver(archiver))
	restored, err := svc.RestoreArchive(context.Background())
	if err != nil {
		t.Fatalf("restore: %v", err)
	}
	if restored {
		t.Fatalf("expected restored=false with no snapshot")
	}
}

func TestArchiveUnconfigured(t *testing.T) {
	svc := newService(t)
	if _, err := svc.SnapshotArchive(context.Background()); err == nil {
		t.Fatalf("expected error without archive backend")
	}
	if _, err := svc.RestoreArchive(context.Background()); err == nil {
		t.Fatalf("expected error without archive backend")
	}
}

func TestMetricsObserveServiceOperations(t *testing.T) {
	rec := NewExpvarMetricsRecorder("")
	svc := newService(t, WithMetrics(rec))
	ctx := context.Background()

	if _, err := svc.CreateTask(ctx, board.Draft{Title: "observed"}); err != nil {
		t.Fatalf("create: %v", err)
	}
	if _, err := svc.CreateTask(ctx, board.Draft{}); err == nil {
		t.Fatalf("expected validation failure")
	}

	snap := rec.Snapshot()
	if snap.Results["create_task"]["success"] != 1 {
		t.Fatalf("success not counted: %#v", snap.Results)
	}
	if snap.Results["create_task"]["error"] != 1 {
		t.Fatalf("error not counted: %#v", snap.Results)
	}
}
