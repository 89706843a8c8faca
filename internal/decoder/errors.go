package decoder

import (
	"errors"
	"fmt"
)

var (
	// ErrSkip marks lines that carry no event, such as blank lines or the
	// brackets of an array-style export
	ErrSkip = errors.New("line carries no event")
	// ErrMalformedJSON marks lines that can not be decoded into an event.
	// Such lines are dropped.
	ErrMalformedJSON = errors.New("malformed event line")
	// ErrSchemaViolation marks well-formed lines missing a required field
	ErrSchemaViolation = errors.New("event violates schema")
)

// MalformedError describes why a line was rejected as malformed
type MalformedError struct {
	Field string
	Err   error
}

func (e *MalformedError) Error() string {
	if e.Field == "" {
		return fmt.Sprintf("malformed event line: %v", e.Err)
	}
	return fmt.Sprintf("malformed event line: field %q: %v", e.Field, e.Err)
}

func (e *MalformedError) Unwrap() error { return e.Err }

func (e *MalformedError) Is(target error) bool { return target == ErrMalformedJSON }

// SchemaViolationError names the required field that is missing or invalid
type SchemaViolationError struct {
	Field  string
	Reason string
}

func (e *SchemaViolationError) Error() string {
	return fmt.Sprintf("event violates schema: field %q %s", e.Field, e.Reason)
}

func (e *SchemaViolationError) Is(target error) bool { return target == ErrSchemaViolation }
