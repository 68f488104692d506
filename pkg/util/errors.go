// Package util provides logging helpers and common error types.
package util

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

// Sentinel errors for the failure classes surfaced to users and operators
var (
	ErrStoreUnavailable = errors.New("control store unavailable")
	ErrNotFound         = errors.New("not found")
	ErrUnknownUser      = errors.New("unknown user")
	ErrUnknownClass     = errors.New("unknown board class")
	ErrUnknownBoard     = errors.New("unknown board")
	ErrUnauthorized     = errors.New("unauthorized")
	ErrNoFreeBoards     = errors.New("no free boards")
	ErrBoardLocked      = errors.New("board locked")
	ErrContainerFailure = errors.New("container operation failed")
	ErrSSHFailure       = errors.New("ssh operation failed")
	ErrValidationFailed = errors.New("validation failed")
	ErrProtocol         = errors.New("protocol error")
)

// UnknownUserError identifies a login name absent from the user set
type UnknownUserError struct {
	User string
}

func (e *UnknownUserError) Error() string {
	return fmt.Sprintf("User '%s' is not a VLAB user.", e.User)
}

func (e *UnknownUserError) Unwrap() error {
	return ErrUnknownUser
}

// UnknownClassError identifies a request for a class with no registered boards
type UnknownClassError struct {
	Class string
}

func (e *UnknownClassError) Error() string {
	return fmt.Sprintf("Board class '%s' does not exist.", e.Class)
}

func (e *UnknownClassError) Unwrap() error {
	return ErrUnknownClass
}

// UnknownBoardError identifies a serial with no registration
type UnknownBoardError struct {
	Serial string
}

func (e *UnknownBoardError) Error() string {
	return fmt.Sprintf("Board '%s' is not registered.", e.Serial)
}

func (e *UnknownBoardError) Unwrap() error {
	return ErrUnknownBoard
}

// UnauthorizedError carries the denied user/class pair
type UnauthorizedError struct {
	User  string
	Class string
}

func (e *UnauthorizedError) Error() string {
	return fmt.Sprintf("User '%s' cannot access board class '%s'.", e.User, e.Class)
}

func (e *UnauthorizedError) Unwrap() error {
	return ErrUnauthorized
}

// OverlordRequiredError reports a specific-serial request by a non-overlord.
// The message is printed verbatim to the user's terminal.
type OverlordRequiredError struct {
	User string
}

func (e *OverlordRequiredError) Error() string {
	return "Only overlord users can request specific boards"
}

func (e *OverlordRequiredError) Unwrap() error {
	return ErrUnauthorized
}

// BoardLockedError reports a specific-serial request for a board held by
// another user. Owner may be empty when the holder cannot be determined.
type BoardLockedError struct {
	Serial string
	Owner  string
}

func (e *BoardLockedError) Error() string {
	if e.Owner == "" {
		return fmt.Sprintf("Board %s is locked by another user.", e.Serial)
	}
	return fmt.Sprintf("Board %s is locked by %s.", e.Serial, e.Owner)
}

func (e *BoardLockedError) Unwrap() error {
	return ErrBoardLocked
}

// NoFreeBoardsError reports an exhausted class and when retrying makes sense
type NoFreeBoardsError struct {
	Class      string
	RetryAfter time.Duration
}

func (e *NoFreeBoardsError) Error() string {
	return fmt.Sprintf("All boards of type %s are locked. Try again in %d minutes.",
		e.Class, int(e.RetryAfter.Minutes()))
}

func (e *NoFreeBoardsError) Unwrap() error {
	return ErrNoFreeBoards
}

// ContainerError carries the container name and failing operation
type ContainerError struct {
	Name   string
	Op     string
	Output string
}

func (e *ContainerError) Error() string {
	msg := fmt.Sprintf("container %s: %s failed", e.Name, e.Op)
	if e.Output != "" {
		msg += ": " + e.Output
	}
	return msg
}

func (e *ContainerError) Unwrap() error {
	return ErrContainerFailure
}

// ValidationError represents one or more validation failures
type ValidationError struct {
	Errors []string
}

func (e *ValidationError) Error() string {
	if len(e.Errors) == 1 {
		return "validation failed: " + e.Errors[0]
	}
	return fmt.Sprintf("validation failed:\n  - %s", strings.Join(e.Errors, "\n  - "))
}

func (e *ValidationError) Unwrap() error {
	return ErrValidationFailed
}

// NewValidationError creates a validation error from messages
func NewValidationError(messages ...string) *ValidationError {
	return &ValidationError{Errors: messages}
}

// ValidationBuilder helps accumulate validation errors
type ValidationBuilder struct {
	errors []string
}

// Add adds an error message if condition is false
func (v *ValidationBuilder) Add(condition bool, message string) *ValidationBuilder {
	if !condition {
		v.errors = append(v.errors, message)
	}
	return v
}

// AddError adds an error message unconditionally
func (v *ValidationBuilder) AddError(message string) *ValidationBuilder {
	v.errors = append(v.errors, message)
	return v
}

// AddErrorf adds a formatted error message
func (v *ValidationBuilder) AddErrorf(format string, args ...interface{}) *ValidationBuilder {
	v.errors = append(v.errors, fmt.Sprintf(format, args...))
	return v
}

// HasErrors returns true if there are validation errors
func (v *ValidationBuilder) HasErrors() bool {
	return len(v.errors) > 0
}

// Build returns the validation error or nil if no errors
func (v *ValidationBuilder) Build() error {
	if len(v.errors) == 0 {
		return nil
	}
	return &ValidationError{Errors: v.errors}
}
