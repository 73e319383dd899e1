// Package errs provides centralized error definitions for the orchestrator.
// It defines the orchestrator's error taxonomy as sentinel errors, domain error types
// with context wrapping, and classification helpers used throughout the
// message plane.
//
// Checking errors:
//
//	if errs.Is(err, errs.ErrNoRoute) { ... }
//
//	var routeErr *errs.RouteError
//	if errs.As(err, &routeErr) { ... }
//
//	if errs.IsRetryable(err) { ... }
package errs

import (
	"errors"
	"fmt"
	"strings"
)

// Re-export standard library functions so callers only import this package.
var (
	Is     = errors.Is
	As     = errors.As
	Unwrap = errors.Unwrap
	New    = errors.New
	Join   = errors.Join
)

// Sentinel errors, one per ErrKind in the error handling design.
var (
	// ErrNoRoute indicates the topology rejects a sender/recipient pair.
	ErrNoRoute = New("no route between sender and recipient")
	// ErrUnknownNode indicates a node identifier is not registered.
	ErrUnknownNode = New("unknown node")
	// ErrValidation indicates malformed config or mail.
	ErrValidation = New("validation failed")
	// ErrMailCorrupt indicates a mail file could not be read or parsed.
	ErrMailCorrupt = New("mail file corrupt")
	// ErrContainerRuntime indicates the underlying container runtime failed.
	ErrContainerRuntime = New("container runtime error")
	// ErrAlreadyExists indicates a resource already exists.
	ErrAlreadyExists = New("already exists")
	// ErrNotFound indicates a resource could not be found.
	ErrNotFound = New("not found")
	// ErrBusy indicates a concurrent mutation conflict.
	ErrBusy = New("resource busy")
	// ErrIO indicates a filesystem or I/O failure.
	ErrIO = New("i/o error")
	// ErrCancelled indicates the caller's context was cancelled.
	ErrCancelled = New("operation cancelled")
)

// Severity classifies how urgently an error should be surfaced.
type Severity int

const (
	SeverityInfo Severity = iota
	SeverityWarning
	SeverityError
	SeverityCritical
)

func (s Severity) String() string {
	switch s {
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

// OrchestratorError is the base interface implemented by every domain error
// in this package.
type OrchestratorError interface {
	error
	Unwrap() error
	Is(target error) bool
	Severity() Severity
	IsRetryable() bool
	IsUserFacing() bool
}

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

func (e *baseError) Unwrap() error { return e.cause }

func (e *baseError) Is(target error) bool {
	if e.cause != nil {
		return errors.Is(e.cause, target)
	}
	return false
}

func (e *baseError) Severity() Severity { return e.severity }
func (e *baseError) IsRetryable() bool  { return e.retryable }
func (e *baseError) IsUserFacing() bool { return e.userFacing }

// RouteError represents a topology rejection during route().
type RouteError struct {
	baseError
	From, To string
}

// NewRouteError creates a RouteError wrapping ErrNoRoute.
func NewRouteError(from, to string) *RouteError {
	return &RouteError{
		baseError: baseError{
			message:    fmt.Sprintf("no route from %q to %q", from, to),
			cause:      ErrNoRoute,
			severity:   SeverityWarning,
			retryable:  false,
			userFacing: true,
		},
		From: from,
		To:   to,
	}
}

func (e *RouteError) Is(target error) bool {
	if _, ok := target.(*RouteError); ok {
		return true
	}
	return e.baseError.Is(target)
}

// MailError represents a mail file that could not be read or parsed.
type MailError struct {
	baseError
	Path string
}

// NewMailError creates a MailError wrapping ErrMailCorrupt.
func NewMailError(path string, cause error) *MailError {
	return &MailError{
		baseError: baseError{
			message:    fmt.Sprintf("mail file %q is corrupt", path),
			cause:      errJoinCause(ErrMailCorrupt, cause),
			severity:   SeverityError,
			retryable:  false,
			userFacing: false,
		},
		Path: path,
	}
}

func (e *MailError) Is(target error) bool {
	if _, ok := target.(*MailError); ok {
		return true
	}
	return e.baseError.Is(target)
}

// ContainerError represents a container runtime failure for an agent.
type ContainerError struct {
	baseError
	AgentID string
}

// NewContainerError creates a ContainerError wrapping ErrContainerRuntime.
func NewContainerError(agentID string, cause error) *ContainerError {
	return &ContainerError{
		baseError: baseError{
			message:    fmt.Sprintf("container runtime error for agent %q", agentID),
			cause:      errJoinCause(ErrContainerRuntime, cause),
			severity:   SeverityError,
			retryable:  true,
			userFacing: true,
		},
		AgentID: agentID,
	}
}

func (e *ContainerError) WithRetryable(r bool) *ContainerError {
	e.retryable = r
	return e
}

func (e *ContainerError) Is(target error) bool {
	if _, ok := target.(*ContainerError); ok {
		return true
	}
	return e.baseError.Is(target)
}

// ValidationError represents malformed config or mail, with the offending
// field and value attached for display.
type ValidationError struct {
	baseError
	Field string
	Value any
}

// NewValidationError creates a ValidationError wrapping ErrValidation.
func NewValidationError(message string) *ValidationError {
	return &ValidationError{
		baseError: baseError{
			message:    message,
			cause:      ErrValidation,
			severity:   SeverityWarning,
			retryable:  false,
			userFacing: true,
		},
	}
}

func (e *ValidationError) WithField(field string) *ValidationError {
	e.Field = field
	return e
}

func (e *ValidationError) WithValue(value any) *ValidationError {
	e.Value = value
	return e
}

func (e *ValidationError) Error() string {
	var parts []string
	if e.Field != "" {
		parts = append(parts, fmt.Sprintf("field=%s", e.Field))
	}
	if e.Value != nil {
		parts = append(parts, fmt.Sprintf("value=%v", e.Value))
	}
	prefix := "validation error"
	if len(parts) > 0 {
		prefix = fmt.Sprintf("validation error [%s]", strings.Join(parts, ", "))
	}
	return fmt.Sprintf("%s: %s", prefix, e.message)
}

func (e *ValidationError) Is(target error) bool {
	if _, ok := target.(*ValidationError); ok {
		return true
	}
	return e.baseError.Is(target)
}

// ValidationErrors aggregates multiple ValidationError values, matching the
// shape the Swarm Registry returns from its pre-persist validation pass.
type ValidationErrors []ValidationError

// Is reports ErrValidation for errors.Is(err, ErrValidation), matching the
// single ValidationError's behavior so callers don't need to special-case
// the aggregate form.
func (e ValidationErrors) Is(target error) bool {
	return target == ErrValidation
}

func (e ValidationErrors) Error() string {
	if len(e) == 0 {
		return ""
	}
	if len(e) == 1 {
		return e[0].Error()
	}
	var sb strings.Builder
	fmt.Fprintf(&sb, "%d validation errors:\n", len(e))
	for i, err := range e {
		fmt.Fprintf(&sb, "  %d. %s\n", i+1, err.Error())
	}
	return sb.String()
}

// NotFoundError represents a resource that could not be located.
type NotFoundError struct {
	baseError
	ResourceType, ResourceID string
}

// NewNotFoundError creates a NotFoundError wrapping ErrNotFound.
func NewNotFoundError(resourceType, resourceID string) *NotFoundError {
	return &NotFoundError{
		baseError: baseError{
			message:    fmt.Sprintf("%s %q not found", resourceType, resourceID),
			cause:      ErrNotFound,
			severity:   SeverityWarning,
			retryable:  false,
			userFacing: true,
		},
		ResourceType: resourceType,
		ResourceID:   resourceID,
	}
}

func (e *NotFoundError) Is(target error) bool {
	if _, ok := target.(*NotFoundError); ok {
		return true
	}
	return e.baseError.Is(target)
}

// AlreadyExistsError represents a resource that is already present.
type AlreadyExistsError struct {
	baseError
	ResourceType, ResourceID string
}

// NewAlreadyExistsError creates an AlreadyExistsError wrapping ErrAlreadyExists.
func NewAlreadyExistsError(resourceType, resourceID string) *AlreadyExistsError {
	return &AlreadyExistsError{
		baseError: baseError{
			message:    fmt.Sprintf("%s %q already exists", resourceType, resourceID),
			cause:      ErrAlreadyExists,
			severity:   SeverityWarning,
			retryable:  false,
			userFacing: true,
		},
		ResourceType: resourceType,
		ResourceID:   resourceID,
	}
}

func (e *AlreadyExistsError) Is(target error) bool {
	if _, ok := target.(*AlreadyExistsError); ok {
		return true
	}
	return e.baseError.Is(target)
}

// BusyError represents a concurrent mutation conflict, e.g. two writers
// racing to update the Swarm Registry.
type BusyError struct {
	baseError
	Resource string
}

// NewBusyError creates a BusyError wrapping ErrBusy.
func NewBusyError(resource string) *BusyError {
	return &BusyError{
		baseError: baseError{
			message:    fmt.Sprintf("%q is busy", resource),
			cause:      ErrBusy,
			severity:   SeverityWarning,
			retryable:  true,
			userFacing: true,
		},
		Resource: resource,
	}
}

func (e *BusyError) Is(target error) bool {
	if _, ok := target.(*BusyError); ok {
		return true
	}
	return e.baseError.Is(target)
}

// IOError wraps a filesystem failure encountered by the Mail Store or
// Swarm Registry.
type IOError struct {
	baseError
	Path string
}

// NewIOError creates an IOError wrapping ErrIO.
func NewIOError(path string, cause error) *IOError {
	return &IOError{
		baseError: baseError{
			message:    fmt.Sprintf("i/o error on %q", path),
			cause:      errJoinCause(ErrIO, cause),
			severity:   SeverityError,
			retryable:  true,
			userFacing: false,
		},
		Path: path,
	}
}

func (e *IOError) Is(target error) bool {
	if _, ok := target.(*IOError); ok {
		return true
	}
	return e.baseError.Is(target)
}

// errJoinCause keeps both the sentinel (for errors.Is matching) and the
// underlying cause (for the human-readable message) without losing either.
func errJoinCause(sentinel, cause error) error {
	if cause == nil {
		return sentinel
	}
	return Join(sentinel, cause)
}

// IsRetryable returns true if err is transient and the caller may retry.
func IsRetryable(err error) bool {
	if err == nil {
		return false
	}
	var oe OrchestratorError
	if As(err, &oe) {
		return oe.IsRetryable()
	}
	return false
}

// IsUserFacing returns true if err's message is safe to surface to a
// Gateway caller.
func IsUserFacing(err error) bool {
	if err == nil {
		return false
	}
	var oe OrchestratorError
	if As(err, &oe) {
		return oe.IsUserFacing()
	}
	return false
}

// Wrap wraps err with additional context, preserving errors.Is/As chains.
func Wrap(err error, message string) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%s: %w", message, err)
}

// Wrapf wraps err with a formatted context message.
func Wrapf(err error, format string, args ...any) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%s: %w", fmt.Sprintf(format, args...), err)
}
