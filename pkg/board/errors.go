package board

import "fmt"

// NotFoundError reports that an operation targeted an id with no record. It is
// an expected outcome, not logged as an error by the store.
type NotFoundError struct {
	Kind Kind
	ID   string
}

func (e NotFoundError) Error() string {
	return fmt.Sprintf("%s %s not found", e.Kind, e.ID)
}

// DecodeError reports that a record's bytes are malformed. The store recovers
// from it during listing by skipping the record; it never aborts a scan.
type DecodeError struct {
	Path string
	Err  error
}

func (e DecodeError) Error() string {
	if e.Path == "" {
		return fmt.Sprintf("decode record: %v", e.Err)
	}
	return fmt.Sprintf("decode record %s: %v", e.Path, e.Err)
}

func (e DecodeError) Unwrap() error { return e.Err }

// ValidationError reports a caller-supplied payload problem. It is raised
// before any I/O is attempted.
type ValidationError struct {
	Field  string
	Reason string
}

func (e ValidationError) Error() string {
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Reason)
}
