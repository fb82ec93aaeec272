// Package persistence provides standardized error types for persistence operations.
package persistence

import (
	"errors"
	"fmt"
)

// Standard persistence error types that all implementations should use.
var (
	// ErrSchemaNotFound indicates a schema definition was not found in the organization.
	ErrSchemaNotFound = errors.New("schema not found")

	// ErrSchemaVersionNotFound indicates a schema version was not found in the organization.
	ErrSchemaVersionNotFound = errors.New("schema version not found")

	// ErrAttributeNotFound indicates an attribute definition was not found.
	ErrAttributeNotFound = errors.New("attribute not found")

	// ErrRecordNotFound indicates a record was not found in the organization.
	ErrRecordNotFound = errors.New("record not found")

	// ErrWorkflowNotFound indicates a workflow or workflow version was not found.
	ErrWorkflowNotFound = errors.New("workflow not found")

	// ErrUniqueViolation indicates a write collided with a unique constraint.
	ErrUniqueViolation = errors.New("unique constraint violation")

	// ErrInvalidSortField indicates a list was requested with an unsupported sort column.
	ErrInvalidSortField = errors.New("invalid sort field")
)

// RecordError wraps record-related errors with additional context.
type RecordError struct {
	Op       string // Operation being performed (e.g., "Get", "SaveValue", "Delete")
	RecordID string // Record ID if applicable
	Err      error  // Underlying error
}

func (e *RecordError) Error() string {
	return fmt.Sprintf("%s operation failed for record %s: %v", e.Op, e.RecordID, e.Err)
}

func (e *RecordError) Unwrap() error {
	return e.Err
}

// Is implements error comparison for record errors.
func (e *RecordError) Is(target error) bool {
	return errors.Is(e.Err, target)
}

// NewRecordError creates a new record error with context.
func NewRecordError(op, recordID string, err error) *RecordError {
	return &RecordError{
		Op:       op,
		RecordID: recordID,
		Err:      err,
	}
}

// SchemaError wraps schema-related errors with additional context.
type SchemaError struct {
	Op        string // Operation being performed
	SchemaID  string // Schema definition ID if applicable
	VersionID string // Schema version ID if applicable
	Err       error  // Underlying error
}

func (e *SchemaError) Error() string {
	target := e.SchemaID
	if e.VersionID != "" {
		target = "version " + e.VersionID
	}

	return fmt.Sprintf("%s operation failed for schema %s: %v", e.Op, target, e.Err)
}

func (e *SchemaError) Unwrap() error {
	return e.Err
}

func (e *SchemaError) Is(target error) bool {
	return errors.Is(e.Err, target)
}

// IsSchemaNotFound checks if an error indicates a schema definition or version was not found.
func IsSchemaNotFound(err error) bool {
	return errors.Is(err, ErrSchemaNotFound) || errors.Is(err, ErrSchemaVersionNotFound)
}

// IsRecordNotFound checks if an error indicates a record was not found.
func IsRecordNotFound(err error) bool {
	return errors.Is(err, ErrRecordNotFound)
}

// IsAttributeNotFound checks if an error indicates an attribute was not found.
func IsAttributeNotFound(err error) bool {
	return errors.Is(err, ErrAttributeNotFound)
}

// IsWorkflowNotFound checks if an error indicates a workflow was not found.
func IsWorkflowNotFound(err error) bool {
	return errors.Is(err, ErrWorkflowNotFound)
}

// IsUniqueViolation checks if an error was caused by a unique constraint.
func IsUniqueViolation(err error) bool {
	return errors.Is(err, ErrUniqueViolation)
}

// IsInvalidSortField checks if an error was caused by an unsupported sort column.
func IsInvalidSortField(err error) bool {
	return errors.Is(err, ErrInvalidSortField)
}
