package main

import (
	"bytes"
	"encoding/json"
	"strings"
	"testing"

	"boardcore/pkg/board"
)

func runCLI(t *testing.T, dataRoot string, args ...string) (string, string, int) {
	t.Helper()
	var stdout, stderr bytes.Buffer
	code := cli(append([]string{"-data", dataRoot, "-actor", "tester"}, args...), &stdout, &stderr)
	return stdout.String(), stderr.String(), code
}

func TestCreateShowMoveHistory(t *testing.T) {
	dir := t.TempDir()

	out, _, code := runCLI(t, dir, "create", "ship the release")
	if code != 0 {
		t.Fatalf("create exited %d", code)
	}
	var task board.Entity
	if err := json.Unmarshal([]byte(out), &task); err != nil {
		t.Fatalf("create output not json: %v\n%s", err, out)
	}
	if task.Title != "ship the release" || task.ID == "" {
		t.Fatalf("unexpected task %+v", task)
	}

	out, _, code = runCLI(t, dir, "show", task.ID)
	if code != 0 || !strings.Contains(out, task.ID) {
		t.Fatalf("show failed: code=%d out=%s", code, out)
	}

	if _, _, code = runCLI(t, dir, "move", task.ID, "in_progress"); code != 0 {
		t.Fatalf("move exited %d", code)
	}
	if _, _, code = runCLI(t, dir, "comment", task.ID, "on it"); code != 0 {
		t.Fatalf("comment exited %d", code)
	}

	out, _, code = runCLI(t, dir, "history", task.ID)
	if code != 0 {
		t.Fatalf("history exited %d", code)
	}
	var events []board.AuditEvent
	if err := json.Unmarshal([]byte(out), &events); err != nil {
		t.Fatalf("history output not json: %v", err)
	}
	if len(events) != 3 {
		t.Fatalf("expected created/status_changed/comment_added, got %d events", len(events))
	}

	out, _, code = runCLI(t, dir, "delete", task.ID)
	if code != 0 || !strings.Contains(out, "deleted") {
		t.Fatalf("delete failed: code=%d out=%s", code, out)
	}
}

func TestListEmptyBoard(t *testing.T) {
	out, _, code := runCLI(t, t.TempDir(), "list")
	if code != 0 {
		t.Fatalf("list exited %d", code)
	}
	var tasks []board.Entity
	if err := json.Unmarshal([]byte(out), &tasks); err != nil {
		t.Fatalf("list output not json: %v", err)
	}
	if len(tasks) != 0 {
		t.Fatalf("expected empty board, got %d tasks", len(tasks))
	}
}

func TestUsageAndErrors(t *testing.T) {
	var stdout, stderr bytes.Buffer
	if code := cli(nil, &stdout, &stderr); code != 2 {
		t.Fatalf("no-args exit = %d, want 2", code)
	}
	if !strings.Contains(stderr.String(), "usage: boardctl") {
		t.Fatalf("usage not printed: %s", stderr.String())
	}

	dir := t.TempDir()
	if _, errOut, code := runCLI(t, dir, "frobnicate"); code != 1 || !strings.Contains(errOut, "unknown command") {
		t.Fatalf("unknown command: code=%d err=%s", code, errOut)
	}
	if _, errOut, code := runCLI(t, dir, "show", "missing-id"); code != 1 || !strings.Contains(errOut, "not found") {
		t.Fatalf("show missing: code=%d err=%s", code, errOut)
	}
	if _, _, code := runCLI(t, dir, "create"); code != 1 {
		t.Fatalf("create without title should fail")
	}
	if _, _, code := runCLI(t, dir, "move", "x"); code != 1 {
		t.Fatalf("move without status should fail")
	}
}

func TestSnapshotWithoutArchiveFails(t *testing.T) {
	t.Setenv("BOARDCORE_DATA_ROOT", t.TempDir())
	t.Setenv("BOARDCORE_ATTACH_DRIVER", "memory")
	t.Setenv("BOARDCORE_ARCHIVE_DRIVER", "none")
	if _, errOut, code := runCLI(t, t.TempDir(), "snapshot"); code != 1 {
		t.Fatalf("snapshot without archive: code=%d err=%s", code, errOut)
	}
}
