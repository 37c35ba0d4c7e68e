// Package archive defines the snapshot archiver abstraction: a full copy of
// both entity sets persisted into a single relational table, bucket by
// bucket. Archives are a secondary safety net behind the primary per-file
// records, mirroring the index's cache discipline: always re-derivable.
package archive

import (
	"context"
	"time"

	"boardcore/pkg/board"
)

// Bucket names used by all archiver backends.
const (
	BucketTasks     = "tasks"
	BucketWorkflows = "workflows"
)

// Snapshot is a full point-in-time copy of both stores.
type Snapshot struct {
	Tasks     []board.Entity `json:"tasks"`
	Workflows []board.Entity `json:"workflows"`
	TakenAt   time.Time      `json:"taken_at"`
}

// Archiver persists and restores snapshots.
type Archiver interface {
	// Save overwrites the archived state with the snapshot, atomically per
	// backend transaction.
	Save(ctx context.Context, snap Snapshot) error
	// Load returns the archived snapshot; ok is false when none was saved.
	Load(ctx context.Context) (Snapshot, bool, error)
	// Close releases backend resources.
	Close() error
}
