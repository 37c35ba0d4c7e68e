// Package sqlite implements the snapshot archiver on an embedded SQLite
// file, storing each bucket as one JSON blob in a single state table.
package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"boardcore/internal/archive"
	"boardcore/pkg/board"

	_ "modernc.org/sqlite" // pure go sqlite driver
)

var _ archive.Archiver = (*Archiver)(nil)

// Archiver snapshots board state into a SQLite file.
type Archiver struct {
	db   *sql.DB
	mu   sync.Mutex
	path string
}

// New opens (and if needed creates) the archive database at path.
func New(path string) (*Archiver, error) {
	if path == "" {
		path = "boardcore.db"
	}
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o750); err != nil && !errors.Is(err, os.ErrExist) {
			return nil, fmt.Errorf("create dirs: %w", err)
		}
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	if _, err := db.Exec(`CREATE TABLE IF NOT EXISTS state (
		bucket TEXT PRIMARY KEY,
		payload BLOB NOT NULL,
		taken_at TEXT NOT NULL
	)`); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("create state table: %w", err)
	}
	return &Archiver{db: db, path: path}, nil
}

// Path returns the archive file path.
func (a *Archiver) Path() string { return a.path }

// Save writes both buckets inside one transaction.
func (a *Archiver) Save(ctx context.Context, snap Snapshot) (retErr error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if snap.TakenAt.IsZero() {
		snap.TakenAt = time.Now().UTC()
	}
	tx, err := a.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer func() {
		if retErr != nil {
			_ = tx.Rollback()
		}
	}()
	takenAt := snap.TakenAt.UTC().Format(time.RFC3339Nano)
	for bucket, entities := range map[string][]board.Entity{
		archive.BucketTasks:     snap.Tasks,
		archive.BucketWorkflows: snap.Workflows,
	} {
		data, err := json.Marshal(entities)
		if err != nil {
			retErr = fmt.Errorf("encode %s: %w", bucket, err)
			return retErr
		}
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO state(bucket,payload,taken_at) VALUES(?,?,?)
			 ON CONFLICT(bucket) DO UPDATE SET payload=excluded.payload, taken_at=excluded.taken_at`,
			bucket, data, takenAt); err != nil {
			retErr = fmt.Errorf("upsert %s: %w", bucket, err)
			return retErr
		}
	}
	if err := tx.Commit(); err != nil {
		retErr = fmt.Errorf("commit: %w", err)
		return retErr
	}
	return nil
}

// Load reads the archived snapshot, reporting ok=false when none was saved.
func (a *Archiver) Load(ctx context.Context) (Snapshot, bool, error) {
	rows, err := a.db.QueryContext(ctx, `SELECT bucket, payload, taken_at FROM state`)
	if err != nil {
		return Snapshot{}, false, fmt.Errorf("select state: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var snap Snapshot
	found := false
	for rows.Next() {
		var bucket, takenAt string
		var payload []byte
		if err := rows.Scan(&bucket, &payload, &takenAt); err != nil {
			return Snapshot{}, false, fmt.Errorf("scan state: %w", err)
		}
		found = true
		if ts, err := time.Parse(time.RFC3339Nano, takenAt); err == nil && ts.After(snap.TakenAt) {
			snap.TakenAt = ts
		}
		switch bucket {
		case archive.BucketTasks:
			if err := json.Unmarshal(payload, &snap.Tasks); err != nil {
				return Snapshot{}, false, fmt.Errorf("decode %s: %w", bucket, err)
			}
		case archive.BucketWorkflows:
			if err := json.Unmarshal(payload, &snap.Workflows); err != nil {
				return Snapshot{}, false, fmt.Errorf("decode %s: %w", bucket, err)
			}
		}
	}
	if err := rows.Err(); err != nil {
		return Snapshot{}, false, fmt.Errorf("iterate state: %w", err)
	}
	return snap, found, nil
}

// Close closes the underlying database handle.
func (a *Archiver) Close() error { return a.db.Close() }

// Snapshot aliases the archive snapshot type for call-site brevity.
type Snapshot = archive.Snapshot
