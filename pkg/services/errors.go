// Package services provides the dataflow service used by the API and CLIs.
package services

import (
	"errors"
	"fmt"

	"github.com/dukex/dataflow/pkg/flow"
	"github.com/dukex/dataflow/pkg/models"
	"github.com/dukex/dataflow/pkg/persistence"
)

// Business Logic Errors - These indicate client errors (4xx responses).
var (
	// Validation Errors (400 Bad Request).
	ErrInvalidRequest   = errors.New("invalid request")
	ErrNameMismatch     = errors.New("dataflow name does not match the request path")
	ErrDataFlowNil      = errors.New("dataflow cannot be nil")
	ErrManagerNotActive = errors.New("active registry is not configured")

	// Not Found (404).
	ErrDataFlowNotFound = persistence.ErrDataFlowNotFound

	// Business Logic Conflicts (409 Conflict).
	ErrDataFlowAlreadyExists = persistence.ErrDataFlowAlreadyExists
	ErrDataFlowNotActive     = errors.New("dataflow is not active")
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

// IsValidationError checks if an error is a validation error that should return HTTP 400.
func IsValidationError(err error) bool {
	return errors.Is(err, ErrInvalidRequest) ||
		errors.Is(err, ErrNameMismatch) ||
		errors.Is(err, ErrDataFlowNil) ||
		models.IsValidationError(err)
}

// IsNotFoundError checks if an error should return HTTP 404.
func IsNotFoundError(err error) bool {
	return errors.Is(err, ErrDataFlowNotFound)
}

// IsConflictError checks if an error is a business logic conflict that should return HTTP 409.
func IsConflictError(err error) bool {
	return errors.Is(err, ErrDataFlowAlreadyExists) ||
		errors.Is(err, ErrDataFlowNotActive) ||
		models.IsFlowDisabled(err)
}

// IsActivationError checks if a flow was refused by the active registry, HTTP 422.
func IsActivationError(err error) bool {
	return models.IsActivationError(err) || errors.Is(err, flow.ErrNoProducer)
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
