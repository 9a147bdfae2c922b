// Package apperror defines the error taxonomy shared by the assessment core
// and the API layer.
package apperror

import (
	"errors"
	"fmt"
	"sort"
	"strings"
)

var (
	// ErrNotFound is returned when a session (or a resource nested under it) does not exist.
	ErrNotFound = errors.New("resource not found")

	// ErrInvalidState is returned when an operation is not allowed in the session's current status.
	ErrInvalidState = errors.New("invalid session state")

	// ErrValidation is matched by ValidationErrors via errors.Is.
	ErrValidation = errors.New("validation failed")

	// ErrGenerationFailed wraps content generator and report synthesizer failures.
	ErrGenerationFailed = errors.New("generation failed")
)

// InvalidState builds an ErrInvalidState with context.
func InvalidState(format string, args ...interface{}) error {
	return fmt.Errorf("%w: %s", ErrInvalidState, fmt.Sprintf(format, args...))
}

// NotFound builds an ErrNotFound naming the missing resource.
func NotFound(resource, id string) error {
	return fmt.Errorf("%w: %s %q", ErrNotFound, resource, id)
}

// GenerationFailed wraps a generator error.
func GenerationFailed(cause error) error {
	return fmt.Errorf("%w: %w", ErrGenerationFailed, cause)
}

// ValidationError represents a single validation error
type ValidationError struct {
	Field   string      `json:"field"`
	Message string      `json:"message"`
	Value   interface{} `json:"value,omitempty"`
	Rule    string      `json:"rule,omitempty"`
}

func (e ValidationError) Error() string {
	return fmt.Sprintf("validation error on field '%s': %s", e.Field, e.Message)
}

// ValidationErrors is a collection of validation errors
type ValidationErrors []ValidationError

func (ve ValidationErrors) Error() string {
	if len(ve) == 0 {
		return "validation failed"
	}
	if len(ve) == 1 {
		return fmt.Sprintf("validation failed: %s %s", ve[0].Field, ve[0].Message)
	}
	return fmt.Sprintf("validation failed: %d field errors", len(ve))
}

// Is lets callers match any ValidationErrors with errors.Is(err, ErrValidation).
func (ve ValidationErrors) Is(target error) bool {
	return target == ErrValidation
}

// Add appends a field error.
func (ve *ValidationErrors) Add(field, message string, value interface{}) {
	*ve = append(*ve, ValidationError{Field: field, Message: message, Value: value})
}

// Err returns nil when no errors were collected.
func (ve ValidationErrors) Err() error {
	if len(ve) == 0 {
		return nil
	}
	return ve
}

// Fields flattens the collection into field → message, joining repeats.
func (ve ValidationErrors) Fields() map[string]string {
	fields := make(map[string]string, len(ve))
	for _, e := range ve {
		if prev, ok := fields[e.Field]; ok {
			fields[e.Field] = prev + "; " + e.Message
			continue
		}
		fields[e.Field] = e.Message
	}
	return fields
}

// String renders the errors in a stable order, used by the CLI.
func (ve ValidationErrors) String() string {
	fields := ve.Fields()
	keys := make([]string, 0, len(fields))
	for k := range fields {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	parts := make([]string, 0, len(keys))
	for _, k := range keys {
		parts = append(parts, k+": "+fields[k])
	}
	return strings.Join(parts, ", ")
}

// NewValidationErrors creates a collection holding one error.
func NewValidationErrors(field, message string, value interface{}) ValidationErrors {
	return ValidationErrors{{Field: field, Message: message, Value: value}}
}

// AsValidation extracts ValidationErrors from err.
func AsValidation(err error) (ValidationErrors, bool) {
	var ve ValidationErrors
	if errors.As(err, &ve) {
		return ve, true
	}
	return nil, false
}

func IsNotFound(err error) bool         { return errors.Is(err, ErrNotFound) }
func IsInvalidState(err error) bool     { return errors.Is(err, ErrInvalidState) }
func IsValidation(err error) bool       { return errors.Is(err, ErrValidation) }
func IsGenerationFailure(err error) bool { return errors.Is(err, ErrGenerationFailed) }
