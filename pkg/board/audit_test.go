package board

import (
	"encoding/json"
	"strings"
	"testing"
	"time"
)

func TestAuditEventRoundTripsKindSpecificMeta(t *testing.T) {
	occurred := time.Date(2026, 3, 14, 9, 26, 53, 0, time.UTC)
	cases := []struct {
		name  string
		event AuditEvent
	}{
		{
			name: "status transition",
			event: AuditEvent{
				ID:         "ev-1",
				EntityID:   "task-1",
				Kind:       EventStatusChanged,
				Actor:      "casey",
				OccurredAt: occurred,
				Meta:       TransitionMeta{From: "backlog", To: "in_progress"},
			},
		},
		{
			name: "link",
			event: AuditEvent{
				ID:         "ev-2",
				EntityID:   "task-1",
				Kind:       EventLinkAdded,
				OccurredAt: occurred,
				Meta:       LinkMeta{URL: "https://example.com/pr/42", Title: "fix"},
			},
		},
		{
			name: "comment",
			event: AuditEvent{
				ID:         "ev-3",
				EntityID:   "task-1",
				Kind:       EventCommentAdded,
				OccurredAt: occurred,
				Meta:       CommentMeta{Body: "looks good"},
			},
		},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			data, err := json.Marshal(tc.event)
			if err != nil {
				t.Fatalf("marshal: %v", err)
			}
			var decoded AuditEvent
			if err := json.Unmarshal(data, &decoded); err != nil {
				t.Fatalf("unmarshal: %v", err)
			}
			if decoded.Kind != tc.event.Kind {
				t.Fatalf("kind = %q, want %q", decoded.Kind, tc.event.Kind)
			}
			if decoded.Meta != tc.event.Meta {
				t.Fatalf("meta = %#v, want %#v", decoded.Meta, tc.event.Meta)
			}
			if !decoded.OccurredAt.Equal(occurred) {
				t.Fatalf("occurred_at = %v, want %v", decoded.OccurredAt, occurred)
			}
		})
	}
}

func TestAuditEventCreationOmitsFrom(t *testing.T) {
	event := AuditEvent{
		ID:         "ev-1",
		EntityID:   "task-1",
		Kind:       EventCreated,
		OccurredAt: time.Now().UTC(),
		Meta:       TransitionMeta{To: "backlog"},
	}
	data, err := json.Marshal(event)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	if strings.Contains(string(data), `"from"`) {
		t.Fatalf("creation event should omit empty from field: %s", data)
	}
}

func TestAuditEventRejectsUnknownKind(t *testing.T) {
	payload := `{"id":"ev-1","entity_id":"task-1","kind":"exploded","occurred_at":"2026-03-14T09:26:53Z","meta":{}}`
	var decoded AuditEvent
	if err := json.Unmarshal([]byte(payload), &decoded); err == nil {
		t.Fatalf("expected error for unknown event kind")
	}
}

func TestAuditEventTolerantOfMissingMeta(t *testing.T) {
	payload := `{"id":"ev-1","entity_id":"task-1","kind":"comment_added","occurred_at":"2026-03-14T09:26:53Z"}`
	var decoded AuditEvent
	if err := json.Unmarshal([]byte(payload), &decoded); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if decoded.Meta != (CommentMeta{}) {
		t.Fatalf("expected zero comment meta, got %#v", decoded.Meta)
	}
}
