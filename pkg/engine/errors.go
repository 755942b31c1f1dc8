// Package engine provides the core types and interfaces for the Orchis
// deployment orchestration engine. It defines the deployment pipeline:
// Topology -> Compile -> Solve -> Execute -> terminal plan state.
package engine

import (
	"errors"
	"fmt"
	"strings"
)

// ErrorClass represents the classification of an error for retry and recovery logic.
type ErrorClass string

const (
	// ErrorClassRetryable indicates a temporary failure that may succeed on retry.
	// Examples: network timeouts, temporary backend unavailability.
	ErrorClassRetryable ErrorClass = "retryable"

	// ErrorClassThrottled indicates rate limiting or quota exhaustion on a backend.
	// Retried with a longer backoff than plain retryable failures.
	ErrorClassThrottled ErrorClass = "throttled"

	// ErrorClassFatal indicates a non-recoverable error.
	// Examples: invalid placement, permission denied, unknown resource kind.
	ErrorClassFatal ErrorClass = "fatal"
)

// EngineError represents a classified error with deployment context.
type EngineError struct {
	// Class is the error classification for retry logic.
	Class ErrorClass `json:"class"`

	// Message is the human-readable error message.
	Message string `json:"message"`

	// Code is an optional error code for programmatic handling.
	Code string `json:"code,omitempty"`

	// TaskID is the task that caused the error, if applicable.
	TaskID string `json:"task_id,omitempty"`

	// Err is the underlying error that caused this error.
	Err error `json:"-"`
}

// Error implements the error interface.
func (e *EngineError) Error() string {
	if e.TaskID != "" {
		return fmt.Sprintf("[%s] %s (task=%s): %s", e.Class, e.Message, e.TaskID, e.unwrapMessage())
	}
	return fmt.Sprintf("[%s] %s: %s", e.Class, e.Message, e.unwrapMessage())
}

// Unwrap returns the underlying error for error chain inspection.
func (e *EngineError) Unwrap() error {
	return e.Err
}

func (e *EngineError) unwrapMessage() string {
	if e.Err != nil {
		return e.Err.Error()
	}
	return ""
}

// Is implements error equality checking for errors.Is.
func (e *EngineError) Is(target error) bool {
	t, ok := target.(*EngineError)
	if !ok {
		return false
	}
	return e.Class == t.Class && e.Code == t.Code
}

// NewRetryableError creates a new retryable error.
func NewRetryableError(message string, err error) *EngineError {
	return &EngineError{
		Class:   ErrorClassRetryable,
		Message: message,
		Err:     err,
	}
}

// NewThrottledError creates a new throttled error.
func NewThrottledError(message string, err error) *EngineError {
	return &EngineError{
		Class:   ErrorClassThrottled,
		Message: message,
		Err:     err,
	}
}

// NewFatalError creates a new fatal error.
func NewFatalError(message string, err error) *EngineError {
	return &EngineError{
		Class:   ErrorClassFatal,
		Message: message,
		Err:     err,
	}
}

// WithTask adds task context to an error.
func (e *EngineError) WithTask(taskID string) *EngineError {
	e.TaskID = taskID
	return e
}

// WithCode adds an error code to an error.
func (e *EngineError) WithCode(code string) *EngineError {
	e.Code = code
	return e
}

// IsRetryable returns true if the error can be retried.
// Retryable and throttled errors qualify; everything else is fatal.
func IsRetryable(err error) bool {
	var e *EngineError
	if errors.As(err, &e) {
		return e.Class == ErrorClassRetryable || e.Class == ErrorClassThrottled
	}
	return false
}

// IsThrottled returns true if the error is classified as throttled.
func IsThrottled(err error) bool {
	var e *EngineError
	if errors.As(err, &e) {
		return e.Class == ErrorClassThrottled
	}
	return false
}

// IsFatal returns true if the error is classified as fatal.
func IsFatal(err error) bool {
	var e *EngineError
	if errors.As(err, &e) {
		return e.Class == ErrorClassFatal
	}
	return false
}

// Common error codes.
const (
	ErrCodeValidation       = "VALIDATION_ERROR"
	ErrCodeNotFound         = "NOT_FOUND"
	ErrCodeTimeout          = "TIMEOUT"
	ErrCodeInternal         = "INTERNAL_ERROR"
	ErrCodeAdapterFailed    = "ADAPTER_FAILED"
	ErrCodeRetriesExhausted = "RETRIES_EXHAUSTED"
	ErrCodeCancelled        = "CANCELLED"
)

// CompileErrorKind identifies the class of topology defect the compiler found.
type CompileErrorKind string

const (
	// CompileUnknownDependency means a node depends on a name that does not exist.
	CompileUnknownDependency CompileErrorKind = "unknown_dependency"

	// CompileCyclicDependency means the topology's dependency graph contains a cycle.
	CompileCyclicDependency CompileErrorKind = "cyclic_dependency"

	// CompileUnknownResourceKind means a node names a resource kind with no adapter.
	CompileUnknownResourceKind CompileErrorKind = "unknown_resource_kind"

	// CompileDuplicateNode means two nodes share a name.
	CompileDuplicateNode CompileErrorKind = "duplicate_node"

	// CompileInvalidConstraint means a placement constraint is malformed,
	// e.g. an unknown constraint kind or fewer than two member tasks.
	CompileInvalidConstraint CompileErrorKind = "invalid_constraint"
)

// CompileError is returned by the compiler for a malformed topology.
// No plan state is created when one is returned.
type CompileError struct {
	// Kind classifies the defect.
	Kind CompileErrorKind `json:"kind"`

	// Nodes names the offending topology node(s).
	Nodes []string `json:"nodes,omitempty"`

	// Detail is extra context, e.g. the cycle path.
	Detail string `json:"detail,omitempty"`
}

// Error implements the error interface.
func (e *CompileError) Error() string {
	if e.Detail != "" {
		return fmt.Sprintf("compile failed (%s): %s [%s]", e.Kind, e.Detail, strings.Join(e.Nodes, ", "))
	}
	return fmt.Sprintf("compile failed (%s): %s", e.Kind, strings.Join(e.Nodes, ", "))
}

// NewCompileError creates a compile error naming the offending nodes.
func NewCompileError(kind CompileErrorKind, detail string, nodes ...string) *CompileError {
	return &CompileError{Kind: kind, Nodes: nodes, Detail: detail}
}

// SolveError is returned by the placement solver when no feasible assignment
// exists. A partial assignment is never committed.
type SolveError struct {
	// Constraints names the unsatisfiable constraint set.
	Constraints []string `json:"constraints"`
}

// Error implements the error interface.
func (e *SolveError) Error() string {
	return fmt.Sprintf("placement infeasible: %s", strings.Join(e.Constraints, "; "))
}

// NewSolveError creates an infeasibility error naming the constraints that
// could not be satisfied together.
func NewSolveError(constraints ...string) *SolveError {
	return &SolveError{Constraints: constraints}
}
