// Package board defines the persistent entities, value types, and error
// taxonomy used by the boardcore persistence engine.
package board

import "time"

// Kind identifies which store an entity belongs to. It selects the storage
// subtree and the persistence bucket name.
type Kind string

// Supported entity kinds. Each kind maps to a disjoint directory tree.
const (
	// KindTask identifies a board task record.
	KindTask Kind = "task"
	// KindWorkflow identifies a workflow/pipeline definition record.
	KindWorkflow Kind = "workflow"
)

// Status represents the canonical board column of a task or the lifecycle
// state of a workflow definition.
type Status string

// Canonical statuses. MoveTask and the audit trail only recognise these.
const (
	StatusBacklog    Status = "backlog"
	StatusInProgress Status = "in_progress"
	StatusReview     Status = "review"
	StatusDone       Status = "done"
	StatusArchived   Status = "archived"
)

// KnownStatus reports whether s is one of the canonical statuses.
func KnownStatus(s Status) bool {
	switch s {
	case StatusBacklog, StatusInProgress, StatusReview, StatusDone, StatusArchived:
		return true
	}
	return false
}

// Priority captures the urgency bucket of an entity.
type Priority string

// Canonical priorities ordered from least to most urgent.
const (
	PriorityLow    Priority = "low"
	PriorityMedium Priority = "medium"
	PriorityHigh   Priority = "high"
	PriorityUrgent Priority = "urgent"
)

// KnownPriority reports whether p is one of the canonical priorities.
// The empty priority is valid and means "unset".
func KnownPriority(p Priority) bool {
	switch p {
	case "", PriorityLow, PriorityMedium, PriorityHigh, PriorityUrgent:
		return true
	}
	return false
}

// Link references an external resource attached to an entity (pull request,
// document, uploaded attachment).
type Link struct {
	URL   string `json:"url"`
	Title string `json:"title,omitempty"`
}

// Entity is one durable, independently stored record. Each entity lives in
// its own file, never spans files, and never shares a file with another
// entity. Events is append-only: entries are never reordered, edited, or
// truncated by normal operation.
type Entity struct {
	ID          string         `json:"id"`
	Title       string         `json:"title"`
	Description string         `json:"description,omitempty"`
	Status      Status         `json:"status"`
	Assignee    string         `json:"assignee,omitempty"`
	Priority    Priority       `json:"priority,omitempty"`
	Tags        []string       `json:"tags,omitempty"`
	Links       []Link         `json:"links,omitempty"`
	Fields      map[string]any `json:"fields,omitempty"`
	CreatedAt   time.Time      `json:"created_at"`
	UpdatedAt   time.Time      `json:"updated_at"`
	Events      []AuditEvent   `json:"events"`
}

// Clone returns a deep copy so callers can mutate the result freely.
func (e Entity) Clone() Entity {
	cp := e
	cp.Tags = append([]string(nil), e.Tags...)
	cp.Links = append([]Link(nil), e.Links...)
	if e.Fields != nil {
		cp.Fields = make(map[string]any, len(e.Fields))
		for k, v := range e.Fields {
			cp.Fields[k] = v
		}
	}
	cp.Events = append([]AuditEvent(nil), e.Events...)
	return cp
}

// Draft carries the caller-supplied payload for Create. The store assigns the
// identifier, timestamps, and the creation audit event.
type Draft struct {
	Title       string
	Description string
	Status      Status
	Assignee    string
	Priority    Priority
	Tags        []string
	Fields      map[string]any
	Actor       string
}

// Patch describes a partial mutation. Nil pointers leave the corresponding
// field untouched; Fields entries are merged key-by-key.
type Patch struct {
	Title       *string
	Description *string
	Status      *Status
	Assignee    *string
	Priority    *Priority
	Tags        *[]string
	Fields      map[string]any
	Actor       string
}
