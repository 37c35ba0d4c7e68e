package board

import (
	"encoding/json"
	"fmt"
	"time"
)

// EventKind identifies the closed set of audit event kinds.
type EventKind string

// Audit event kinds. The set is closed: decoding rejects unknown kinds so a
// corrupted record cannot smuggle untyped metadata into the trail.
const (
	// EventCreated is synthesized once, when the entity is created.
	EventCreated EventKind = "created"
	// EventStatusChanged records a status transition.
	EventStatusChanged EventKind = "status_changed"
	// EventReassigned records an assignee transition.
	EventReassigned EventKind = "reassigned"
	// EventPriorityChanged records a priority transition.
	EventPriorityChanged EventKind = "priority_changed"
	// EventLinkAdded records an attachment or external link.
	EventLinkAdded EventKind = "link_added"
	// EventCommentAdded records a comment on the entity.
	EventCommentAdded EventKind = "comment_added"
)

// EventMeta is the kind-specific payload of an audit event. Exactly one
// concrete type is valid per kind.
type EventMeta interface {
	isEventMeta()
}

// TransitionMeta captures a field transition. From is empty for the creation
// event, which records only the initial value.
type TransitionMeta struct {
	From string `json:"from,omitempty"`
	To   string `json:"to"`
}

// LinkMeta captures the link recorded by a link_added event.
type LinkMeta struct {
	URL   string `json:"url"`
	Title string `json:"title,omitempty"`
}

// CommentMeta captures the body recorded by a comment_added event.
type CommentMeta struct {
	Body string `json:"body"`
}

func (TransitionMeta) isEventMeta() {}
func (LinkMeta) isEventMeta()       {}
func (CommentMeta) isEventMeta()    {}

// AuditEvent is one immutable entry in an entity's embedded audit trail.
type AuditEvent struct {
	ID          string    `json:"id"`
	EntityID    string    `json:"entity_id"`
	Kind        EventKind `json:"kind"`
	Description string    `json:"description,omitempty"`
	Actor       string    `json:"actor,omitempty"`
	OccurredAt  time.Time `json:"occurred_at"`
	Meta        EventMeta `json:"meta"`
}

type auditEventJSON struct {
	ID          string          `json:"id"`
	EntityID    string          `json:"entity_id"`
	Kind        EventKind       `json:"kind"`
	Description string          `json:"description,omitempty"`
	Actor       string          `json:"actor,omitempty"`
	OccurredAt  time.Time       `json:"occurred_at"`
	Meta        json.RawMessage `json:"meta"`
}

// MarshalJSON encodes the event with its kind-specific metadata inline.
func (e AuditEvent) MarshalJSON() ([]byte, error) {
	raw, err := json.Marshal(e.Meta)
	if err != nil {
		return nil, err
	}
	return json.Marshal(auditEventJSON{
		ID:          e.ID,
		EntityID:    e.EntityID,
		Kind:        e.Kind,
		Description: e.Description,
		Actor:       e.Actor,
		OccurredAt:  e.OccurredAt,
		Meta:        raw,
	})
}

// UnmarshalJSON decodes the event, selecting the metadata type from the kind.
func (e *AuditEvent) UnmarshalJSON(data []byte) error {
	var shadow auditEventJSON
	if err := json.Unmarshal(data, &shadow); err != nil {
		return err
	}
	meta, err := decodeEventMeta(shadow.Kind, shadow.Meta)
	if err != nil {
		return err
	}
	*e = AuditEvent{
		ID:          shadow.ID,
		EntityID:    shadow.EntityID,
		Kind:        shadow.Kind,
		Description: shadow.Description,
		Actor:       shadow.Actor,
		OccurredAt:  shadow.OccurredAt,
		Meta:        meta,
	}
	return nil
}

func decodeEventMeta(kind EventKind, raw json.RawMessage) (EventMeta, error) {
	if len(raw) == 0 {
		raw = json.RawMessage("{}")
	}
	switch kind {
	case EventCreated, EventStatusChanged, EventReassigned, EventPriorityChanged:
		var m TransitionMeta
		if err := json.Unmarshal(raw, &m); err != nil {
			return nil, err
		}
		return m, nil
	case EventLinkAdded:
		var m LinkMeta
		if err := json.Unmarshal(raw, &m); err != nil {
			return nil, err
		}
		return m, nil
	case EventCommentAdded:
		var m CommentMeta
		if err := json.Unmarshal(raw, &m); err != nil {
			return nil, err
		}
		return m, nil
	default:
		return nil, fmt.Errorf("unknown audit event kind %q", kind)
	}
}
