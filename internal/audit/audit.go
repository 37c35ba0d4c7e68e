// Package audit derives and reads the per-entity audit trail. Appending is a
// pure in-memory operation; the entity store persists the entity afterward and
// owns the write-critical section.
package audit

import (
	"context"
	"sort"
	"time"

	"boardcore/pkg/board"

	"github.com/google/uuid"
)

// Append adds one immutable event to the entity's embedded trail and returns
// it. The trail is append-only: events are added in mutation order and never
// reordered, edited, or truncated.
func Append(e *board.Entity, kind board.EventKind, description, actor string, meta board.EventMeta, now time.Time) board.AuditEvent {
	event := board.AuditEvent{
		ID:          uuid.NewString(),
		EntityID:    e.ID,
		Kind:        kind,
		Description: description,
		Actor:       actor,
		OccurredAt:  now.UTC(),
		Meta:        meta,
	}
	e.Events = append(e.Events, event)
	return event
}

// Lister is the subset of the entity store used by cross-entity queries.
type Lister interface {
	Get(ctx context.Context, id string) (board.Entity, bool, error)
	List(ctx context.Context) ([]board.Entity, error)
}

// Filter restricts a cross-entity audit query. Zero times mean unbounded;
// an empty EntityIDs slice means all entities.
type Filter struct {
	Since     time.Time
	Until     time.Time
	EntityIDs []string
}

func (f Filter) matches(ev board.AuditEvent) bool {
	if !f.Since.IsZero() && ev.OccurredAt.Before(f.Since) {
		return false
	}
	if !f.Until.IsZero() && ev.OccurredAt.After(f.Until) {
		return false
	}
	return true
}

// Trail exposes read paths over the embedded audit events of one store.
type Trail struct {
	lister Lister
}

// NewTrail constructs a trail over the given store.
func NewTrail(lister Lister) *Trail {
	return &Trail{lister: lister}
}

// ForEntity returns the embedded event list of one entity in append order,
// empty (not an error) when the entity does not exist.
func (t *Trail) ForEntity(ctx context.Context, id string) ([]board.AuditEvent, error) {
	e, ok, err := t.lister.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, nil
	}
	return append([]board.AuditEvent(nil), e.Events...), nil
}

// Query scans all entities, flattens their trails, applies the filter, and
// returns events sorted by timestamp descending (ties broken by event id so
// the order is deterministic). This is a convenience read path, not part of
// the write-critical section.
func (t *Trail) Query(ctx context.Context, filter Filter) ([]board.AuditEvent, error) {
	var wanted map[string]struct{}
	if len(filter.EntityIDs) > 0 {
		wanted = make(map[string]struct{}, len(filter.EntityIDs))
		for _, id := range filter.EntityIDs {
			wanted[id] = struct{}{}
		}
	}
	entities, err := t.lister.List(ctx)
	if err != nil {
		return nil, err
	}
	var out []board.AuditEvent
	for _, e := range entities {
		if wanted != nil {
			if _, ok := wanted[e.ID]; !ok {
				continue
			}
		}
		for _, ev := range e.Events {
			if filter.matches(ev) {
				out = append(out, ev)
			}
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].OccurredAt.Equal(out[j].OccurredAt) {
			return out[i].ID < out[j].ID
		}
		return out[i].OccurredAt.After(out[j].OccurredAt)
	})
	return out, nil
}
