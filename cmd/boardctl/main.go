// Command boardctl manages a task board from the command line. It operates
// directly on the on-disk store; point it at the data directory with -data.
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"os"

	"boardcore/internal/core"
	"boardcore/internal/store"
	"boardcore/pkg/board"
)

var exitFunc = os.Exit

func main() {
	code := cli(os.Args[1:], os.Stdout, os.Stderr)
	exitFunc(code)
}

const usage = `usage: boardctl [-data dir] <command> [args]

commands:
  create <title>              create a task
  list                        list all tasks
  show <id>                   print one task
  move <id> <status>          change a task's status
  assign <id> <assignee>      reassign a task
  comment <id> <body>         append a comment
  history <id>                print a task's audit trail
  delete <id>                 remove a task
  snapshot                    archive all records (archive driver required)
  restore                     import the latest archive snapshot
`

func cli(args []string, stdout, stderr io.Writer) int {
	fs := flag.NewFlagSet("boardctl", flag.ContinueOnError)
	fs.SetOutput(stderr)
	var dataRoot, actor string
	fs.StringVar(&dataRoot, "data", "./boarddata", "board data directory")
	fs.StringVar(&actor, "actor", "", "actor recorded on audit events")
	if err := fs.Parse(args); err != nil {
		return 2
	}
	rest := fs.Args()
	if len(rest) == 0 {
		fmt.Fprint(stderr, usage)
		return 2
	}
	if err := run(context.Background(), dataRoot, actor, rest, stdout, stderr); err != nil {
		fmt.Fprintf(stderr, "boardctl: %v\n", err)
		return 1
	}
	return 0
}

func run(ctx context.Context, dataRoot, actor string, args []string, stdout, stderr io.Writer) error {
	logger := store.NewSlogLogger(slog.New(slog.NewTextHandler(stderr, nil)))
	svc, err := core.New(dataRoot, core.WithLogger(logger))
	if err != nil {
		return err
	}
	defer func() { _ = svc.Close() }()

	command, rest := args[0], args[1:]
	switch command {
	case "create":
		if len(rest) < 1 {
			return fmt.Errorf("create requires a title")
		}
		task, err := svc.CreateTask(ctx, board.Draft{Title: rest[0], Actor: actor})
		if err != nil {
			return err
		}
		return printJSON(stdout, task)
	case "list":
		tasks, err := svc.ListTasks(ctx)
		if err != nil {
			return err
		}
		return printJSON(stdout, tasks)
	case "show":
		if len(rest) < 1 {
			return fmt.Errorf("show requires an id")
		}
		task, ok, err := svc.GetTask(ctx, rest[0])
		if err != nil {
			return err
		}
		if !ok {
			return fmt.Errorf("task %s not found", rest[0])
		}
		return printJSON(stdout, task)
	case "move":
		if len(rest) < 2 {
			return fmt.Errorf("move requires an id and a status")
		}
		task, err := svc.MoveTask(ctx, rest[0], board.Status(rest[1]), actor)
		if err != nil {
			return err
		}
		return printJSON(stdout, task)
	case "assign":
		if len(rest) < 2 {
			return fmt.Errorf("assign requires an id and an assignee")
		}
		task, err := svc.AssignTask(ctx, rest[0], rest[1], actor)
		if err != nil {
			return err
		}
		return printJSON(stdout, task)
	case "comment":
		if len(rest) < 2 {
			return fmt.Errorf("comment requires an id and a body")
		}
		task, err := svc.AddTaskComment(ctx, rest[0], rest[1], actor)
		if err != nil {
			return err
		}
		return printJSON(stdout, task)
	case "history":
		if len(rest) < 1 {
			return fmt.Errorf("history requires an id")
		}
		events, err := svc.History(ctx, board.KindTask, rest[0])
		if err != nil {
			return err
		}
		return printJSON(stdout, events)
	case "delete":
		if len(rest) < 1 {
			return fmt.Errorf("delete requires an id")
		}
		removed, err := svc.DeleteTask(ctx, rest[0])
		if err != nil {
			return err
		}
		if !removed {
			return fmt.Errorf("task %s not found", rest[0])
		}
		fmt.Fprintf(stdout, "deleted %s\n", rest[0])
		return nil
	case "snapshot", "restore":
		return runArchive(ctx, command, stdout)
	default:
		return fmt.Errorf("unknown command %s", command)
	}
}

// runArchive reopens the service from environment so the archive driver
// configured via BOARDCORE_ARCHIVE_DRIVER is wired in.
func runArchive(ctx context.Context, command string, stdout io.Writer) error {
	svc, err := core.OpenFromEnv(ctx)
	if err != nil {
		return err
	}
	defer func() { _ = svc.Close() }()
	switch command {
	case "snapshot":
		snap, err := svc.SnapshotArchive(ctx)
		if err != nil {
			return err
		}
		fmt.Fprintf(stdout, "archived %d tasks, %d workflows at %s\n", len(snap.Tasks), len(snap.Workflows), snap.TakenAt)
		return nil
	default:
		restored, err := svc.RestoreArchive(ctx)
		if err != nil {
			return err
		}
		if !restored {
			fmt.Fprintln(stdout, "no snapshot to restore")
			return nil
		}
		fmt.Fprintln(stdout, "restored latest snapshot")
		return nil
	}
}

func printJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
