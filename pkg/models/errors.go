package models

import (
	"errors"
	"fmt"
	"strings"
)

var (
	// ErrValidation indicates a flow definition is missing a required field or is malformed.
	ErrValidation = errors.New("invalid dataflow")

	// ErrFlowDisabled indicates execution was requested for a disabled flow.
	ErrFlowDisabled = errors.New("dataflow is disabled")

	// ErrUnresolvedBuilder indicates a resolution entry names a builder missing from the registry.
	ErrUnresolvedBuilder = errors.New("unresolved builder")

	// ErrLoopingNotAllowed indicates the compiled graph needs loops but looping is disabled.
	ErrLoopingNotAllowed = errors.New("looping not allowed")

	// ErrAmbiguousBuilder indicates several builders produce a datum and no resolution entry picks one.
	ErrAmbiguousBuilder = errors.New("ambiguous builder")
)

// ValidationError is raised at construction or registration time.
type ValidationError struct {
	Flow   string   // Flow name, empty when the name itself is missing
	Fields []string // Offending fields, using the persisted-form names
	Err    error    // Underlying validator error
}

func (e *ValidationError) Error() string {
	target := "dataflow"
	if e.Flow != "" {
		target = fmt.Sprintf("dataflow %q", e.Flow)
	}

	if len(e.Fields) > 0 {
		return fmt.Sprintf("validation failed for %s: invalid fields %s", target, strings.Join(e.Fields, ", "))
	}

	return fmt.Sprintf("validation failed for %s: %v", target, e.Err)
}

func (e *ValidationError) Unwrap() error {
	return e.Err
}

func (e *ValidationError) Is(target error) bool {
	return target == ErrValidation
}

// FlowDisabledError is returned when execution is requested for a flow with enabled=false.
type FlowDisabledError struct {
	Flow string
}

func (e *FlowDisabledError) Error() string {
	return fmt.Sprintf("dataflow %q is disabled", e.Flow)
}

func (e *FlowDisabledError) Is(target error) bool {
	return target == ErrFlowDisabled
}

// UnresolvedBuilderError is returned when a resolution entry names an unknown builder.
type UnresolvedBuilderError struct {
	Flow    string
	Data    string
	Builder string
}

func (e *UnresolvedBuilderError) Error() string {
	return fmt.Sprintf("dataflow %q resolves %q to builder %q which is not registered", e.Flow, e.Data, e.Builder)
}

func (e *UnresolvedBuilderError) Is(target error) bool {
	return target == ErrUnresolvedBuilder
}

// LoopingNotAllowedError is returned when a graph with loops is attached to a
// flow that has looping disabled.
type LoopingNotAllowedError struct {
	Flow string
}

func (e *LoopingNotAllowedError) Error() string {
	return fmt.Sprintf("dataflow %q requires looping but looping is disabled", e.Flow)
}

func (e *LoopingNotAllowedError) Is(target error) bool {
	return target == ErrLoopingNotAllowed
}

// AmbiguousBuilderError is returned when more than one builder produces a
// datum and the flow has no resolution entry for it.
type AmbiguousBuilderError struct {
	Flow       string
	Data       string
	Candidates []string
}

func (e *AmbiguousBuilderError) Error() string {
	return fmt.Sprintf("dataflow %q has no resolution for %q, candidates: %s",
		e.Flow, e.Data, strings.Join(e.Candidates, ", "))
}

func (e *AmbiguousBuilderError) Is(target error) bool {
	return target == ErrAmbiguousBuilder
}

// IsValidationError checks if an error indicates an invalid flow definition.
func IsValidationError(err error) bool {
	return errors.Is(err, ErrValidation)
}

// IsFlowDisabled checks if an error indicates a disabled flow.
func IsFlowDisabled(err error) bool {
	return errors.Is(err, ErrFlowDisabled)
}

// IsActivationError checks if an error was raised by compile-time checks.
func IsActivationError(err error) bool {
	return errors.Is(err, ErrUnresolvedBuilder) ||
		errors.Is(err, ErrLoopingNotAllowed) ||
		errors.Is(err, ErrAmbiguousBuilder)
}
