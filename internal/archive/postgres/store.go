// Package postgres implements the snapshot archiver on PostgreSQL, mirroring
// the sqlite backend with JSONB payloads.
package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"boardcore/internal/archive"
	"boardcore/pkg/board"

	_ "github.com/jackc/pgx/v5/stdlib" // register pgx as a database/sql driver
)

var _ archive.Archiver = (*Archiver)(nil)

const (
	defaultDriver = "pgx"
	defaultDSN    = "postgres://localhost/boardcore?sslmode=disable"
)

var (
	sqlOpen = sql.Open
	openMu  sync.Mutex
)

// Archiver snapshots board state into a PostgreSQL table.
type Archiver struct {
	db *sql.DB
	mu sync.Mutex
}

// New opens a Postgres-backed archiver using the provided DSN (falls back to
// defaultDSN), pings the server, and ensures the state table exists.
func New(ctx context.Context, dsn string) (*Archiver, error) {
	if dsn == "" {
		dsn = defaultDSN
	}
	openMu.Lock()
	db, err := sqlOpen(defaultDriver, dsn)
	openMu.Unlock()
	if err != nil {
		return nil, fmt.Errorf("open postgres: %w", err)
	}
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping postgres: %w", err)
	}
	if _, err := db.ExecContext(ctx, `CREATE TABLE IF NOT EXISTS state (
		bucket TEXT PRIMARY KEY,
		payload JSONB NOT NULL,
		taken_at TIMESTAMPTZ NOT NULL
	)`); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ensure state table: %w", err)
	}
	return &Archiver{db: db}, nil
}

// DB exposes the underlying sql.DB for integration testing hooks.
func (a *Archiver) DB() *sql.DB { return a.db }

// Save writes both buckets inside one transaction.
func (a *Archiver) Save(ctx context.Context, snap archive.Snapshot) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if snap.TakenAt.IsZero() {
		snap.TakenAt = time.Now().UTC()
	}
	tx, err := a.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	committed := false
	defer func() {
		if !committed {
			_ = tx.Rollback()
		}
	}()
	for bucket, entities := range map[string][]board.Entity{
		archive.BucketTasks:     snap.Tasks,
		archive.BucketWorkflows: snap.Workflows,
	} {
		data, err := json.Marshal(entities)
		if err != nil {
			return fmt.Errorf("encode %s: %w", bucket, err)
		}
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO state(bucket,payload,taken_at) VALUES($1,$2,$3)
			 ON CONFLICT(bucket) DO UPDATE SET payload=EXCLUDED.payload, taken_at=EXCLUDED.taken_at`,
			bucket, data, snap.TakenAt.UTC()); err != nil {
			return fmt.Errorf("upsert %s: %w", bucket, err)
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit: %w", err)
	}
	committed = true
	return nil
}

// Load reads the archived snapshot, reporting ok=false when none was saved.
func (a *Archiver) Load(ctx context.Context) (archive.Snapshot, bool, error) {
	rows, err := a.db.QueryContext(ctx, `SELECT bucket, payload, taken_at FROM state`)
	if err != nil {
		return archive.Snapshot{}, false, fmt.Errorf("select state: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var snap archive.Snapshot
	found := false
	for rows.Next() {
		var bucket string
		var payload []byte
		var takenAt time.Time
		if err := rows.Scan(&bucket, &payload, &takenAt); err != nil {
			return archive.Snapshot{}, false, fmt.Errorf("scan state: %w", err)
		}
		found = true
		if takenAt.After(snap.TakenAt) {
			snap.TakenAt = takenAt
		}
		switch bucket {
		case archive.BucketTasks:
			if err := json.Unmarshal(payload, &snap.Tasks); err != nil {
				return archive.Snapshot{}, false, fmt.Errorf("decode %s: %w", bucket, err)
			}
		case archive.BucketWorkflows:
			if err := json.Unmarshal(payload, &snap.Workflows); err != nil {
				return archive.Snapshot{}, false, fmt.Errorf("decode %s: %w", bucket, err)
			}
		}
	}
	if err := rows.Err(); err != nil {
		return archive.Snapshot{}, false, fmt.Errorf("iterate state: %w", err)
	}
	return snap, found, nil
}

// Close closes the underlying database handle.
func (a *Archiver) Close() error { return a.db.Close() }

// OverrideSQLOpen swaps the sqlOpen function for tests and returns a restore
// function.
func OverrideSQLOpen(fn func(driverName, dataSourceName string) (*sql.DB, error)) func() {
	openMu.Lock()
	defer openMu.Unlock()
	prev := sqlOpen
	sqlOpen = fn
	return func() {
		openMu.Lock()
		defer openMu.Unlock()
		sqlOpen = prev
	}
}
