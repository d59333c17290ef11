// Package errors provides centralized error definitions and error handling
// utilities for quorum. It defines the coordination error taxonomy, semantic
// error types, error constructors with context wrapping, and classification
// helpers that decide whether a failure is transient (requeue) or terminal.
//
// # Error Types
//
// Domain-specific errors carry coordination context:
//   - TaskError: a failure while moving a task through the pipeline
//   - WorkerError: a failure attributable to a specific worker
//
// Semantic errors represent common error conditions:
//   - NotFoundError: resource not found
//   - AlreadyExistsError: resource already exists
//   - ValidationError: invalid input or state
//   - TimeoutError: operation timed out
//
// # Usage
//
//	err := errors.NewTaskError("reserve failed", errors.ErrInsufficientResources).
//		WithTaskID("t-1").WithStage("reserve")
//
//	if errors.Is(err, errors.ErrInsufficientResources) { ... }
//	if errors.IsRetryable(err) { requeue() }
//	failure := errors.CodeOf(err) // "insufficient_resources"
package errors

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

// Re-export standard library functions for convenience.
// This allows callers to import only this package for all error handling.
var (
	Is     = errors.Is
	As     = errors.As
	Unwrap = errors.Unwrap
	New    = errors.New
	Join   = errors.Join
)

// Severity represents the severity level of an error.
type Severity int

const (
	SeverityDebug Severity = iota
	SeverityInfo
	SeverityWarning
	SeverityError
	SeverityCritical
)

// String returns the string representation of the severity level.
func (s Severity) String() string {
	switch s {
	case SeverityDebug:
		return "debug"
	case SeverityInfo:
		return "info"
	case SeverityWarning:
		return "warning"
	case SeverityError:
		return "error"
	case SeverityCritical:
		return "critical"
	default:
		return "unknown"
	}
}

// -----------------------------------------------------------------------------
// Sentinel Errors
// -----------------------------------------------------------------------------

// Coordination sentinel errors.
var (
	// ErrQueueFull indicates the task queue is at capacity.
	ErrQueueFull = New("queue full")
	// ErrInsufficientResources indicates a resource cannot satisfy a reservation.
	ErrInsufficientResources = New("insufficient resources")
	// ErrConsensusTimeout indicates a proposal did not resolve before its deadline.
	ErrConsensusTimeout = New("consensus timeout")
	// ErrConsensusRejected indicates validators rejected every candidate.
	ErrConsensusRejected = New("consensus rejected")
	// ErrDuplicateVote indicates a validator voted twice on one proposal.
	ErrDuplicateVote = New("duplicate vote")
	// ErrWorkerUnavailable indicates no healthy worker can take the task.
	ErrWorkerUnavailable = New("worker unavailable")
	// ErrWorkerHealthFailure indicates a worker failed its health check.
	ErrWorkerHealthFailure = New("worker health failure")
	// ErrTaskNotFound indicates the task id is unknown.
	ErrTaskNotFound = New("task not found")
	// ErrMaxRetriesExceeded indicates the task exhausted its retry budget.
	ErrMaxRetriesExceeded = New("max retries exceeded")
)

// Pipeline sentinel errors.
var (
	// ErrInvalidTransition indicates a status change not allowed by the state machine.
	ErrInvalidTransition = New("invalid status transition")
	// ErrProofRejected indicates a proof-gated task carried an invalid proof.
	ErrProofRejected = New("proof rejected")
	// ErrExecutionFailed indicates the worker reported an unsuccessful result.
	ErrExecutionFailed = New("execution failed")
	// ErrReservationNotFound indicates the reservation was released or its lease expired.
	ErrReservationNotFound = New("reservation not found")
	// ErrProposalInFlight indicates the task already has a non-terminal proposal.
	ErrProposalInFlight = New("proposal already in flight")
	// ErrUnknownValidator indicates a vote from a validator outside the configured set.
	ErrUnknownValidator = New("unknown validator")
	// ErrExecutorRejected indicates the executor refused the assignment.
	ErrExecutorRejected = New("executor rejected assignment")
)

// General sentinel errors
var (
	// ErrTimeout indicates that an operation timed out.
	ErrTimeout = New("operation timed out")
	// ErrInvalidInput indicates that input validation failed.
	ErrInvalidInput = New("invalid input")
)

// transient lists the sentinels whose failures release resources and requeue.
var transient = []error{
	ErrInsufficientResources,
	ErrWorkerUnavailable,
	ErrWorkerHealthFailure,
	ErrConsensusTimeout,
	ErrExecutionFailed,
	ErrExecutorRejected,
	ErrReservationNotFound,
	ErrTimeout,
}

// -----------------------------------------------------------------------------
// Base Error Interface
// -----------------------------------------------------------------------------

// QuorumError is the base interface for all typed errors in this module.
type QuorumError interface {
	error
	Unwrap() error
	Is(target error) bool
	Severity() Severity
	IsRetryable() bool
	IsUserFacing() bool
}

// baseError provides common functionality for all error types.
type baseError struct {
	message    string
	cause      error
	severity   Severity
	retryable  bool
	userFacing bool
}

func (e *baseError) Error() string {
	if e.cause != nil {
		return fmt.Sprintf("%s: %v", e.message, e.cause)
	}
	return e.message
}

func (e *baseError) Unwrap() error {
	return e.cause
}

func (e *baseError) Is(target error) bool {
	if e.cause != nil {
		return errors.Is(e.cause, target)
	}
	return false
}

func (e *baseError) Severity() Severity {
	return e.severity
}

func (e *baseError) IsRetryable() bool {
	return e.retryable
}

func (e *baseError) IsUserFacing() bool {
	return e.userFacing
}

// format renders "prefix [k=v, ...]: message: cause".
func (e *baseError) format(prefix string, parts []string) string {
	if len(parts) > 0 {
		prefix = fmt.Sprintf("%s [%s]", prefix, strings.Join(parts, ", "))
	}
	if e.cause != nil {
		return fmt.Sprintf("%s: %s: %v", prefix, e.message, e.cause)
	}
	return fmt.Sprintf("%s: %s", prefix, e.message)
}

// -----------------------------------------------------------------------------
// Domain-Specific Errors
// -----------------------------------------------------------------------------

// TaskError represents a failure while moving a task through the
// scheduling pipeline. Retryability defaults to the classification of the
// cause.
//
// Example:
//
//	err := errors.NewTaskError("no candidate", errors.ErrWorkerUnavailable)
//	err = err.WithTaskID("t-1").WithStage("select")
//	fmt.Println(err) // "task error [task=t-1, stage=select]: no candidate: worker unavailable"
type TaskError struct {
	baseError
	TaskID string
	Stage  string
	Worker string
}

// NewTaskError creates a new TaskError.
func NewTaskError(message string, cause error) *TaskError {
	return &TaskError{
		baseError: baseError{
			message:    message,
			cause:      cause,
			severity:   SeverityError,
			retryable:  isTransient(cause),
			userFacing: true,
		},
	}
}

// WithTaskID adds a task ID to the error context.
func (e *TaskError) WithTaskID(id string) *TaskError {
	e.TaskID = id
	return e
}

// WithStage adds the pipeline stage (select, reserve, propose, execute).
func (e *TaskError) WithStage(stage string) *TaskError {
	e.Stage = stage
	return e
}

// WithWorker adds the candidate or assigned worker.
func (e *TaskError) WithWorker(id string) *TaskError {
	e.Worker = id
	return e
}

// WithSeverity sets the error severity.
func (e *TaskError) WithSeverity(s Severity) *TaskError {
	e.severity = s
	return e
}

// WithRetryable overrides whether the error is retryable.
func (e *TaskError) WithRetryable(r bool) *TaskError {
	e.retryable = r
	return e
}

// Error returns the formatted error message.
func (e *TaskError) Error() string {
	var parts []string
	if e.TaskID != "" {
		parts = append(parts, fmt.Sprintf("task=%s", e.TaskID))
	}
	if e.Stage != "" {
		parts = append(parts, fmt.Sprintf("stage=%s", e.Stage))
	}
	if e.Worker != "" {
		parts = append(parts, fmt.Sprintf("worker=%s", e.Worker))
	}
	return e.format("task error", parts)
}

// Is checks if this error matches the target.
func (e *TaskError) Is(target error) bool {
	if _, ok := target.(*TaskError); ok {
		return true
	}
	return e.baseError.Is(target)
}

// WorkerError represents errors attributable to one worker.
type WorkerError struct {
	baseError
	WorkerID string
	Endpoint string
}

// NewWorkerError creates a new WorkerError.
func NewWorkerError(message string, cause error) *WorkerError {
	return &WorkerError{
		baseError: baseError{
			message:    message,
			cause:      cause,
			severity:   SeverityWarning,
			retryable:  true,
			userFacing: true,
		},
	}
}

// WithWorkerID adds a worker ID to the error context.
func (e *WorkerError) WithWorkerID(id string) *WorkerError {
	e.WorkerID = id
	return e
}

// WithEndpoint adds the resolved worker address.
func (e *WorkerError) WithEndpoint(addr string) *WorkerError {
	e.Endpoint = addr
	return e
}

// Error returns the formatted error message.
func (e *WorkerError) Error() string {
	var parts []string
	if e.WorkerID != "" {
		parts = append(parts, fmt.Sprintf("worker=%s", e.WorkerID))
	}
	if e.Endpoint != "" {
		parts = append(parts, fmt.Sprintf("endpoint=%s", e.Endpoint))
	}
	return e.format("worker error", parts)
}

// Is checks if this error matches the target.
func (e *WorkerError) Is(target error) bool {
	if _, ok := target.(*WorkerError); ok {
		return true
	}
	return e.baseError.Is(target)
}

// -----------------------------------------------------------------------------
// Semantic Errors
// -----------------------------------------------------------------------------

// NotFoundError represents a resource that could not be found.
//
// Example:
//
//	err := errors.NewNotFoundError("resource", "gpu-pool")
//	fmt.Println(err) // "resource 'gpu-pool' not found"
type NotFoundError struct {
	baseError
	ResourceType string
	ResourceID   string
}

// NewNotFoundError creates a new NotFoundError.
func NewNotFoundError(resourceType, resourceID string) *NotFoundError {
	return &NotFoundError{
		baseError: baseError{
			message:    fmt.Sprintf("%s '%s' not found", resourceType, resourceID),
			severity:   SeverityWarning,
			userFacing: true,
		},
		ResourceType: resourceType,
		ResourceID:   resourceID,
	}
}

// WithCause adds a cause to the error.
func (e *NotFoundError) WithCause(cause error) *NotFoundError {
	e.cause = cause
	return e
}

// Is checks if this error matches the target.
func (e *NotFoundError) Is(target error) bool {
	if _, ok := target.(*NotFoundError); ok {
		return true
	}
	return e.baseError.Is(target)
}

// AlreadyExistsError represents a resource that already exists.
type AlreadyExistsError struct {
	baseError
	ResourceType string
	ResourceID   string
}

// NewAlreadyExistsError creates a new AlreadyExistsError.
func NewAlreadyExistsError(resourceType, resourceID string) *AlreadyExistsError {
	return &AlreadyExistsError{
		baseError: baseError{
			message:    fmt.Sprintf("%s '%s' already exists", resourceType, resourceID),
			severity:   SeverityWarning,
			userFacing: true,
		},
		ResourceType: resourceType,
		ResourceID:   resourceID,
	}
}

// Is checks if this error matches the target.
func (e *AlreadyExistsError) Is(target error) bool {
	if _, ok := target.(*AlreadyExistsError); ok {
		return true
	}
	return e.baseError.Is(target)
}

// ValidationError represents invalid input or state.
//
// Example:
//
//	err := errors.NewValidationError("amount must be positive").WithField("amount").WithValue(0)
type ValidationError struct {
	baseError
	Field string
	Value any
}

// NewValidationError creates a new ValidationError.
func NewValidationError(message string) *ValidationError {
	return &ValidationError{
		baseError: baseError{
			message:    message,
			severity:   SeverityWarning,
			userFacing: true,
		},
	}
}

// WithField adds a field name to the error context.
func (e *ValidationError) WithField(field string) *ValidationError {
	e.Field = field
	return e
}

// WithValue adds the invalid value to the error context.
func (e *ValidationError) WithValue(value any) *ValidationError {
	e.Value = value
	return e
}

// Error returns the formatted error message.
func (e *ValidationError) Error() string {
	var parts []string
	if e.Field != "" {
		parts = append(parts, fmt.Sprintf("field=%s", e.Field))
	}
	if e.Value != nil {
		parts = append(parts, fmt.Sprintf("value=%v", e.Value))
	}
	return e.format("validation error", parts)
}

// Is checks if this error matches the target.
func (e *ValidationError) Is(target error) bool {
	if _, ok := target.(*ValidationError); ok {
		return true
	}
	if errors.Is(target, ErrInvalidInput) {
		return true
	}
	return e.baseError.Is(target)
}

// TimeoutError represents an operation that timed out.
//
// Example:
//
//	err := errors.NewTimeoutError("awaiting quorum", 5*time.Second).WithCause(errors.ErrConsensusTimeout)
type TimeoutError struct {
	baseError
	Operation string
	Duration  time.Duration
}

// NewTimeoutError creates a new TimeoutError.
func NewTimeoutError(operation string, duration time.Duration) *TimeoutError {
	return &TimeoutError{
		baseError: baseError{
			message:    operation,
			severity:   SeverityWarning,
			retryable:  true,
			userFacing: true,
		},
		Operation: operation,
		Duration:  duration,
	}
}

// WithCause adds a cause to the error.
func (e *TimeoutError) WithCause(cause error) *TimeoutError {
	e.cause = cause
	return e
}

// Error returns the formatted error message.
func (e *TimeoutError) Error() string {
	base := fmt.Sprintf("timeout error: %s (timeout: %s)", e.Operation, e.Duration)
	if e.cause != nil {
		return fmt.Sprintf("%s: %v", base, e.cause)
	}
	return base
}

// Is checks if this error matches the target.
func (e *TimeoutError) Is(target error) bool {
	if _, ok := target.(*TimeoutError); ok {
		return true
	}
	if errors.Is(target, ErrTimeout) {
		return true
	}
	return e.baseError.Is(target)
}

// -----------------------------------------------------------------------------
// Error Classification Helpers
// -----------------------------------------------------------------------------

func isTransient(err error) bool {
	if err == nil {
		return false
	}
	for _, t := range transient {
		if errors.Is(err, t) {
			return true
		}
	}
	return false
}

// IsRetryable returns true if the error represents a transient condition:
// the task's reservation is released and the task is requeued rather than
// failed. Typed errors decide for themselves; plain errors are classified
// by the sentinel they wrap.
func IsRetryable(err error) bool {
	if err == nil {
		return false
	}
	var qe QuorumError
	if As(err, &qe) {
		return qe.IsRetryable()
	}
	return isTransient(err)
}

// IsUserFacing returns true if the error message is safe to display to
// API callers.
func IsUserFacing(err error) bool {
	if err == nil {
		return false
	}
	var qe QuorumError
	if As(err, &qe) {
		return qe.IsUserFacing()
	}
	_, ok := codeFor(err)
	return ok
}

// GetSeverity returns the severity level of the error.
// Returns SeverityError for errors that don't implement QuorumError.
func GetSeverity(err error) Severity {
	if err == nil {
		return SeverityDebug
	}
	var qe QuorumError
	if As(err, &qe) {
		return qe.Severity()
	}
	return SeverityError
}

// Failure codes recorded on failed tasks and returned by the API.
const (
	CodeQueueFull             = "queue_full"
	CodeInsufficientResources = "insufficient_resources"
	CodeConsensusTimeout      = "consensus_timeout"
	CodeConsensusRejected     = "consensus_rejected"
	CodeDuplicateVote         = "duplicate_vote"
	CodeWorkerUnavailable     = "worker_unavailable"
	CodeWorkerHealthFailure   = "worker_health_failure"
	CodeTaskNotFound          = "task_not_found"
	CodeMaxRetriesExceeded    = "max_retries_exceeded"
	CodeProofRejected         = "proof_rejected"
	CodeExecutionFailed       = "execution_failed"
	CodeNotFound              = "not_found"
	CodeAlreadyExists         = "already_exists"
	CodeInvalidInput          = "invalid_input"
	CodeTimeout               = "timeout"
	CodeInternal              = "internal"
)

var codes = []struct {
	err  error
	code string
}{
	{ErrQueueFull, CodeQueueFull},
	{ErrMaxRetriesExceeded, CodeMaxRetriesExceeded},
	{ErrInsufficientResources, CodeInsufficientResources},
	{ErrConsensusTimeout, CodeConsensusTimeout},
	{ErrConsensusRejected, CodeConsensusRejected},
	{ErrDuplicateVote, CodeDuplicateVote},
	{ErrWorkerUnavailable, CodeWorkerUnavailable},
	{ErrExecutorRejected, CodeWorkerUnavailable},
	{ErrWorkerHealthFailure, CodeWorkerHealthFailure},
	{ErrTaskNotFound, CodeTaskNotFound},
	{ErrProofRejected, CodeProofRejected},
	{ErrExecutionFailed, CodeExecutionFailed},
	{ErrReservationNotFound, CodeInsufficientResources},
	{ErrInvalidInput, CodeInvalidInput},
}

func codeFor(err error) (string, bool) {
	for _, c := range codes {
		if errors.Is(err, c.err) {
			return c.code, true
		}
	}
	var nf *NotFoundError
	if As(err, &nf) {
		return CodeNotFound, true
	}
	var ae *AlreadyExistsError
	if As(err, &ae) {
		return CodeAlreadyExists, true
	}
	if errors.Is(err, ErrTimeout) {
		return CodeTimeout, true
	}
	return "", false
}

// CodeOf returns the stable failure code for err, or CodeInternal when the
// error does not belong to the taxonomy.
func CodeOf(err error) string {
	if err == nil {
		return ""
	}
	if code, ok := codeFor(err); ok {
		return code
	}
	return CodeInternal
}
