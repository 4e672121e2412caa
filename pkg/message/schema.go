package message

import "strings"

// SchemaValidator validates a detached body payload
type SchemaValidator interface {
	Validate(payload []byte) error
}

// ValidationError carries the schema violations verbatim
type ValidationError struct {
	Violations []string
}

func (e *ValidationError) Error() string {
	return strings.Join(e.Violations, "; ")
}

// NopValidator accepts every payload
type NopValidator struct{}

// Validate always succeeds
func (NopValidator) Validate([]byte) error { return nil }
