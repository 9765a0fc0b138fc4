// Package persistence provides standardized error types for persistence operations.
package persistence

import (
	"errors"
	"fmt"
)

// Standard persistence error types that all implementations should use.
var (
	// ErrDataFlowNotFound indicates a dataflow was not found by the given name.
	ErrDataFlowNotFound = errors.New("dataflow not found")

	// ErrDataFlowAlreadyExists indicates a dataflow with the same name already exists.
	ErrDataFlowAlreadyExists = errors.New("dataflow already exists")

	// ErrCorruptDataFlow indicates a stored document no longer passes validation.
	ErrCorruptDataFlow = errors.New("stored dataflow is invalid")
)

// DataFlowError wraps dataflow-related errors with additional context.
type DataFlowError struct {
	Op      string // Operation being performed (e.g., "GetByName", "Save", "Delete")
	Name    string // Dataflow name if applicable
	Err     error  // Underlying error
	Message string // Additional context message
}

func (e *DataFlowError) Error() string {
	if e.Message != "" {
		return fmt.Sprintf("%s operation failed for dataflow %s: %s (%v)", e.Op, e.Name, e.Message, e.Err)
	}

	return fmt.Sprintf("%s operation failed for dataflow %s: %v", e.Op, e.Name, e.Err)
}

func (e *DataFlowError) Unwrap() error {
	return e.Err
}

// Is implements error comparison for dataflow errors.
func (e *DataFlowError) Is(target error) bool {
	return errors.Is(e.Err, target)
}

// NewDataFlowError creates a new dataflow error with context.
func NewDataFlowError(op, name string, err error) *DataFlowError {
	return &DataFlowError{
		Op:   op,
		Name: name,
		Err:  err,
	}
}

// IsDataFlowNotFound checks if an error indicates a dataflow was not found.
func IsDataFlowNotFound(err error) bool {
	return errors.Is(err, ErrDataFlowNotFound)
}

// IsDataFlowAlreadyExists checks if an error indicates a duplicate dataflow.
func IsDataFlowAlreadyExists(err error) bool {
	return errors.Is(err, ErrDataFlowAlreadyExists)
}
