// Package reports renders board reports asynchronously and stores the
// resulting artifacts in the attachment backend.
package reports

import (
	"bytes"
	"context"
	"encoding/csv"
	"encoding/json"
	"fmt"
	"sort"
	"sync"
	"time"

	"boardcore/internal/attach"
	"boardcore/pkg/board"

	"github.com/google/uuid"
)

// Kind selects which report is rendered.
type Kind string

const (
	// KindTaskList is a flat listing of every task.
	KindTaskList Kind = "task_list"
	// KindStatusSummary counts tasks per status.
	KindStatusSummary Kind = "status_summary"
)

// Format selects the artifact encoding.
type Format string

const (
	FormatJSON Format = "json"
	FormatCSV  Format = "csv"
)

// Status describes the lifecycle stage of a report job.
type Status string

const (
	StatusQueued    Status = "queued"
	StatusRunning   Status = "running"
	StatusSucceeded Status = "succeeded"
	StatusFailed    Status = "failed"
)

// Artifact captures one stored report artifact.
type Artifact struct {
	Key         string    `json:"key"`
	Format      Format    `json:"format"`
	ContentType string    `json:"content_type"`
	SizeBytes   int64     `json:"size_bytes"`
	URL         string    `json:"url,omitempty"`
	CreatedAt   time.Time `json:"created_at"`
}

// Job tracks a report request and its resulting artifacts.
type Job struct {
	ID          string     `json:"id"`
	Kind        Kind       `json:"kind"`
	Formats     []Format   `json:"formats"`
	Status      Status     `json:"status"`
	Error       string     `json:"error,omitempty"`
	Artifacts   []Artifact `json:"artifacts,omitempty"`
	RequestedBy string     `json:"requested_by"`
	CreatedAt   time.Time  `json:"created_at"`
	UpdatedAt   time.Time  `json:"updated_at"`
	CompletedAt *time.Time `json:"completed_at,omitempty"`
}

// Input represents an enqueue request for the worker.
type Input struct {
	Kind        Kind
	Formats     []Format
	RequestedBy string
}

// Source supplies the entities a report is rendered from.
type Source interface {
	ListTasks(ctx context.Context) ([]board.Entity, error)
}

// AuditSink records report job transitions.
type AuditSink interface {
	Record(ctx context.Context, entry AuditEntry)
}

// AuditEntry captures audit metadata for report jobs.
type AuditEntry struct {
	ID         string    `json:"id"`
	JobID      string    `json:"job_id"`
	Kind       Kind      `json:"kind"`
	Actor      string    `json:"actor"`
	Status     Status    `json:"status"`
	Note       string    `json:"note,omitempty"`
	OccurredAt time.Time `json:"occurred_at"`
}

// Worker renders report jobs asynchronously.
type Worker struct {
	source Source
	store  attach.Store
	audit  AuditSink

	queue chan task
	mu    sync.RWMutex
	jobs  map[string]*Job

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

type task struct {
	id string
}

// NewWorker constructs a report worker. The attach store may be nil, in which
// case artifacts are rendered but not persisted.
func NewWorker(source Source, store attach.Store, audit AuditSink) *Worker {
	ctx, cancel := context.WithCancel(context.Background())
	return &Worker{
		source: source,
		store:  store,
		audit:  audit,
		queue:  make(chan task, 32),
		jobs:   make(map[string]*Job),
		ctx:    ctx,
		cancel: cancel,
	}
}

// Start begins processing report requests.
func (w *Worker) Start() {
	w.wg.Add(1)
	go w.loop()
}

// Stop signals the worker to halt and waits for completion.
func (w *Worker) Stop(ctx context.Context) error {
	w.cancel()
	done := make(chan struct{})
	go func() {
		w.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (w *Worker) loop() {
	defer w.wg.Done()
	for {
		select {
		case <-w.ctx.Done():
			return
		case t := <-w.queue:
			w.process(t)
		}
	}
}

// Enqueue schedules a report job and returns the queued record.
func (w *Worker) Enqueue(ctx context.Context, input Input) (Job, error) {
	if w.source == nil {
		return Job{}, fmt.Errorf("report source not configured")
	}
	switch input.Kind {
	case KindTaskList, KindStatusSummary:
	default:
		return Job{}, fmt.Errorf("unknown report kind %s", input.Kind)
	}

	formats := input.Formats
	if len(formats) == 0 {
		formats = []Format{FormatJSON, FormatCSV}
	}
	uniq := make([]Format, 0, len(formats))
	seen := make(map[Format]struct{})
	for _, format := range formats {
		if _, dup := seen[format]; dup {
			continue
		}
		switch format {
		case FormatJSON, FormatCSV:
		default:
			return Job{}, fmt.Errorf("unsupported report format %s", format)
		}
		uniq = append(uniq, format)
		seen[format] = struct{}{}
	}

	id := uuid.NewString()
	now := time.Now().UTC()
	job := Job{
		ID:          id,
		Kind:        input.Kind,
		Formats:     uniq,
		Status:      StatusQueued,
		RequestedBy: input.RequestedBy,
		CreatedAt:   now,
		UpdatedAt:   now,
	}

	w.mu.Lock()
	w.jobs[id] = &job
	queued := job.copy()
	w.mu.Unlock()

	w.record(ctx, id, StatusQueued, "")

	select {
	case w.queue <- task{id: id}:
	default:
		// The job is already registered; mark it failed rather than
		// leaving a queued entry that will never run.
		w.fail(id, "report queue full")
		return Job{}, fmt.Errorf("report queue full")
	}

	return queued, nil
}

// Get returns a snapshot of the report job.
func (w *Worker) Get(id string) (Job, bool) {
	w.mu.RLock()
	job, ok := w.jobs[id]
	if !ok {
		w.mu.RUnlock()
		return Job{}, false
	}
	snapshot := job.copy()
	w.mu.RUnlock()
	return snapshot, true
}

func (w *Worker) process(t task) {
	job, ok := w.Get(t.id)
	if !ok {
		return
	}

	w.updateStatus(t.id, StatusRunning, "")

	tasks, err := w.source.ListTasks(w.ctx)
	if err != nil {
		w.fail(t.id, fmt.Sprintf("list tasks: %v", err))
		return
	}

	artifacts := make([]Artifact, 0, len(job.Formats))
	for _, format := range job.Formats {
		payload, contentType, err := render(job.Kind, format, tasks)
		if err != nil {
			w.fail(t.id, err.Error())
			return
		}
		artifact := Artifact{
			Key:         fmt.Sprintf("reports/%s/%s.%s", t.id, job.Kind, format),
			Format:      format,
			ContentType: contentType,
			SizeBytes:   int64(len(payload)),
			CreatedAt:   time.Now().UTC(),
		}
		if w.store != nil {
			info, err := w.store.Put(w.ctx, artifact.Key, bytes.NewReader(payload), attach.PutOptions{
				ContentType: contentType,
				Metadata:    map[string]string{"report_kind": string(job.Kind)},
			})
			if err != nil {
				w.fail(t.id, fmt.Sprintf("store artifact: %v", err))
				return
			}
			artifact.SizeBytes = info.Size
			artifact.URL = info.URL
		}
		artifacts = append(artifacts, artifact)
	}

	w.complete(t.id, artifacts)
}

func (w *Worker) updateStatus(id string, status Status, message string) {
	now := time.Now().UTC()
	w.mu.Lock()
	if job, ok := w.jobs[id]; ok {
		job.Status = status
		job.Error = message
		job.UpdatedAt = now
	}
	w.mu.Unlock()
	w.record(w.ctx, id, status, message)
}

func (w *Worker) complete(id string, artifacts []Artifact) {
	now := time.Now().UTC()
	w.mu.Lock()
	if job, ok := w.jobs[id]; ok {
		job.Status = StatusSucceeded
		job.Error = ""
		job.Artifacts = artifacts
		job.UpdatedAt = now
		job.CompletedAt = &now
	}
	w.mu.Unlock()
	w.record(w.ctx, id, StatusSucceeded, "")
}

func (w *Worker) fail(id, reason string) {
	now := time.Now().UTC()
	w.mu.Lock()
	if job, ok := w.jobs[id]; ok {
		job.Status = StatusFailed
		job.Error = reason
		job.UpdatedAt = now
		job.CompletedAt = &now
	}
	w.mu.Unlock()
	w.record(w.ctx, id, StatusFailed, reason)
}

func (w *Worker) record(ctx context.Context, id string, status Status, note string) {
	if w.audit == nil {
		return
	}
	w.mu.RLock()
	var kind Kind
	var actor string
	if job, ok := w.jobs[id]; ok {
		kind = job.Kind
		actor = job.RequestedBy
	}
	w.mu.RUnlock()
	w.audit.Record(ctx, AuditEntry{
		ID:         uuid.NewString(),
		JobID:      id,
		Kind:       kind,
		Actor:      actor,
		Status:     status,
		Note:       note,
		OccurredAt: time.Now().UTC(),
	})
}

type taskRow struct {
	ID        string    `json:"id"`
	Title     string    `json:"title"`
	Status    string    `json:"status"`
	Priority  string    `json:"priority,omitempty"`
	Assignee  string    `json:"assignee,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}

type statusRow struct {
	Status string `json:"status"`
	Count  int    `json:"count"`
}

func render(kind Kind, format Format, tasks []board.Entity) ([]byte, string, error) {
	switch kind {
	case KindTaskList:
		rows := make([]taskRow, 0, len(tasks))
		for _, t := range tasks {
			rows = append(rows, taskRow{
				ID:        t.ID,
				Title:     t.Title,
				Status:    string(t.Status),
				Priority:  string(t.Priority),
				Assignee:  t.Assignee,
				CreatedAt: t.CreatedAt,
			})
		}
		switch format {
		case FormatJSON:
			payload, err := json.Marshal(rows)
			if err != nil {
				return nil, "", fmt.Errorf("marshal task list: %w", err)
			}
			return payload, "application/json", nil
		case FormatCSV:
			buf := &bytes.Buffer{}
			writer := csv.NewWriter(buf)
			if err := writer.Write([]string{"id", "title", "status", "priority", "assignee", "created_at"}); err != nil {
				return nil, "", err
			}
			for _, row := range rows {
				record := []string{row.ID, row.Title, row.Status, row.Priority, row.Assignee, row.CreatedAt.Format(time.RFC3339Nano)}
				if err := writer.Write(record); err != nil {
					return nil, "", err
				}
			}
			writer.Flush()
			if err := writer.Error(); err != nil {
				return nil, "", err
			}
			return buf.Bytes(), "text/csv", nil
		}
	case KindStatusSummary:
		counts := make(map[string]int)
		for _, t := range tasks {
			counts[string(t.Status)]++
		}
		statuses := make([]string, 0, len(counts))
		for status := range counts {
			statuses = append(statuses, status)
		}
		sort.Strings(statuses)
		rows := make([]statusRow, 0, len(statuses))
		for _, status := range statuses {
			rows = append(rows, statusRow{Status: status, Count: counts[status]})
		}
		switch format {
		case FormatJSON:
			payload, err := json.Marshal(rows)
			if err != nil {
				return nil, "", fmt.Errorf("marshal status summary: %w", err)
			}
			return payload, "application/json", nil
		case FormatCSV:
			buf := &bytes.Buffer{}
			writer := csv.NewWriter(buf)
			if err := writer.Write([]string{"status", "count"}); err != nil {
				return nil, "", err
			}
			for _, row := range rows {
				if err := writer.Write([]string{row.Status, fmt.Sprintf("%d", row.Count)}); err != nil {
					return nil, "", err
				}
			}
			writer.Flush()
			if err := writer.Error(); err != nil {
				return nil, "", err
			}
			return buf.Bytes(), "text/csv", nil
		}
	}
	return nil, "", fmt.Errorf("unsupported report %s/%s", kind, format)
}

func (j Job) copy() Job {
	dup := j
	dup.Formats = append([]Format(nil), j.Formats...)
	if len(j.Artifacts) > 0 {
		dup.Artifacts = append([]Artifact(nil), j.Artifacts...)
	}
	return dup
}

// MemoryAuditLog captures audit entries in memory for assertions.
type MemoryAuditLog struct {
	mu      sync.Mutex
	entries []AuditEntry
}

// Record stores an audit entry.
func (l *MemoryAuditLog) Record(_ context.Context, entry AuditEntry) {
	l.mu.Lock()
	l.entries = append(l.entries, entry)
	l.mu.Unlock()
}

// Entries returns a defensive copy of recorded audit entries.
func (l *MemoryAuditLog) Entries() []AuditEntry {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make([]AuditEntry, len(l.entries))
	copy(out, l.entries)
	return out
}

var _ Source = sourceFunc(nil)

type sourceFunc func(ctx context.Context) ([]board.Entity, error)

// SourceFunc adapts a plain function to the Source interface.
func SourceFunc(fn func(ctx context.Context) ([]board.Entity, error)) Source {
	return sourceFunc(fn)
}

func (fn sourceFunc) ListTasks(ctx context.Context) ([]board.Entity, error) {
	return fn(ctx)
}
