// Package record serializes board entities to and from their on-disk form.
// Encoding is deterministic: identical entities produce identical bytes, which
// the index manager relies on for idempotent rebuilds.
package record

import (
	"encoding/json"
	"errors"
	"fmt"

	"boardcore/pkg/board"
)

// Encode renders the entity as indented JSON with all timestamps normalized
// to UTC. Struct field order is fixed and encoding/json sorts map keys, so the
// output is deterministic for a given entity.
func Encode(e board.Entity) ([]byte, error) {
	e.CreatedAt = e.CreatedAt.UTC()
	e.UpdatedAt = e.UpdatedAt.UTC()
	// e is a copy but Events still aliases the caller's backing array.
	e.Events = append([]board.AuditEvent(nil), e.Events...)
	for i := range e.Events {
		e.Events[i].OccurredAt = e.Events[i].OccurredAt.UTC()
	}
	b, err := json.MarshalIndent(e, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("encode record %s: %w", e.ID, err)
	}
	return append(b, '\n'), nil
}

// Decode parses an encoded record. Malformed bytes, missing required fields,
// and unparsable timestamps all surface as board.DecodeError; Decode never
// panics regardless of input.
func Decode(data []byte) (board.Entity, error) {
	var e board.Entity
	if err := json.Unmarshal(data, &e); err != nil {
		return board.Entity{}, board.DecodeError{Err: err}
	}
	if err := validate(e); err != nil {
		return board.Entity{}, board.DecodeError{Err: err}
	}
	return e, nil
}

func validate(e board.Entity) error {
	if e.ID == "" {
		return errors.New("missing id")
	}
	if e.Status == "" {
		return errors.New("missing status")
	}
	if e.CreatedAt.IsZero() {
		return errors.New("missing created_at")
	}
	if e.UpdatedAt.IsZero() {
		return errors.New("missing updated_at")
	}
	for _, ev := range e.Events {
		if ev.ID == "" {
			return errors.New("audit event missing id")
		}
		if ev.OccurredAt.IsZero() {
			return fmt.Errorf("audit event %s missing occurred_at", ev.ID)
		}
	}
	return nil
}
