// Package services implements the schema directory, the record store and the workflow
// definitions on top of the persistence contracts.
package services

import (
	"errors"
	"fmt"
	"strings"

	"github.com/dukex/nodebase/pkg/attributes"
	"github.com/dukex/nodebase/pkg/models"
	"github.com/dukex/nodebase/pkg/persistence"
)

// Business Logic Errors - These indicate client errors (4xx responses).
var (
	// Validation Errors (400 Bad Request).
	ErrInvalidRequest        = errors.New("invalid request")
	ErrInvalidSortField      = errors.New("invalid sort field")
	ErrPublishedVersion      = errors.New("published versions cannot be modified")
	ErrUnknownAttribute      = errors.New("unknown attribute")
	ErrRequiredAttribute     = errors.New("required attribute has no value")
	ErrInvalidReference      = errors.New("invalid reference")
	ErrSequenceMisconfigured = errors.New("sequence attribute is misconfigured")
	ErrCardinalityViolation  = errors.New("reference cardinality violation")
	ErrInvalidOptions        = attributes.ErrInvalidOptions
	ErrInvalidValue          = attributes.ErrInvalidValue

	// Not Found Errors (404 Not Found).
	ErrSchemaNotFound        = persistence.ErrSchemaNotFound
	ErrSchemaVersionNotFound = persistence.ErrSchemaVersionNotFound
	ErrRecordNotFound        = persistence.ErrRecordNotFound
	ErrWorkflowNotFound      = persistence.ErrWorkflowNotFound

	// Conflicts (409 Conflict). The whole call may be retried.
	ErrSequenceConflict = errors.New("sequence generation conflict")
)

// ServiceError wraps service-level errors with additional context.
type ServiceError struct {
	Op      string // Operation name
	Code    string // Error code for API responses
	Message string // Human-readable message
	Err     error  // Underlying error
}

func (e *ServiceError) Error() string {
	if e.Message != "" {
		return fmt.Sprintf("%s: %s", e.Op, e.Message)
	}

	return fmt.Sprintf("%s: %v", e.Op, e.Err)
}

func (e *ServiceError) Unwrap() error {
	return e.Err
}

func (e *ServiceError) Is(target error) bool {
	return errors.Is(e.Err, target)
}

// NewValidationError creates a new validation error with context.
func NewValidationError(op, code, message string, err error) *ServiceError {
	return &ServiceError{
		Op:      op,
		Code:    code,
		Message: message,
		Err:     err,
	}
}

// WorkflowValidationError carries every violation collected by the workflows gating a write.
type WorkflowValidationError struct {
	Errors []models.FieldError
}

func (e *WorkflowValidationError) Error() string {
	messages := make([]string, 0, len(e.Errors))
	for _, fieldError := range e.Errors {
		messages = append(messages, fieldError.AttributeName+": "+fieldError.Message)
	}

	return "workflow validation failed: " + strings.Join(messages, "; ")
}

// IsValidationError checks if an error is a validation error that should return HTTP 400.
func IsValidationError(err error) bool {
	return errors.Is(err, ErrInvalidRequest) ||
		errors.Is(err, ErrInvalidSortField) ||
		errors.Is(err, ErrPublishedVersion) ||
		errors.Is(err, ErrUnknownAttribute) ||
		errors.Is(err, ErrRequiredAttribute) ||
		errors.Is(err, ErrInvalidReference) ||
		errors.Is(err, ErrSequenceMisconfigured) ||
		errors.Is(err, ErrCardinalityViolation) ||
		errors.Is(err, ErrInvalidOptions) ||
		errors.Is(err, ErrInvalidValue)
}

// IsNotFoundError checks if an error means the addressed entity is absent from the organization.
func IsNotFoundError(err error) bool {
	return persistence.IsSchemaNotFound(err) ||
		persistence.IsRecordNotFound(err) ||
		persistence.IsWorkflowNotFound(err) ||
		persistence.IsAttributeNotFound(err)
}

// IsConflictError checks if an error is a conflict that should return HTTP 409.
func IsConflictError(err error) bool {
	return errors.Is(err, ErrSequenceConflict)
}

// IsRetryable reports whether repeating the whole call may succeed.
func IsRetryable(err error) bool {
	return IsConflictError(err)
}

// IsWorkflowValidationError extracts the collected violations of a gated write.
func IsWorkflowValidationError(err error) (*WorkflowValidationError, bool) {
	var validation *WorkflowValidationError

	if errors.As(err, &validation) {
		return validation, true
	}

	return nil, false
}

func invalid(op, code string, err error, format string, args ...any) error {
	return NewValidationError(op, code, fmt.Sprintf(format, args...), err)
}
