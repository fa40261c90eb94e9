package publish

import (
	"errors"
	"fmt"
	"strings"
)

// ErrNotFound is returned when a publish, task or other record does not exist
var ErrNotFound = errors.New("not found")

// NotFoundf wraps ErrNotFound with a caller-facing message
func NotFoundf(format string, args ...any) error {
	return &notFoundError{msg: fmt.Sprintf(format, args...)}
}

type notFoundError struct {
	msg string
}

func (e *notFoundError) Error() string { return e.msg }
func (e *notFoundError) Unwrap() error { return ErrNotFound }

// StateConflictError is returned when an operation is invalid for the
// current lifecycle state
type StateConflictError struct {
	Kind  string // "Publish" or "Task"
	ID    string
	State string
}

func (e *StateConflictError) Error() string {
	return fmt.Sprintf("%s %s in unexpected state, '%s'", e.Kind, e.ID, e.State)
}

// ValidationError carries every rule violated by a request
type ValidationError struct {
	Messages []string
}

func (e *ValidationError) Error() string {
	return strings.Join(e.Messages, "; ")
}

// Invalidf builds a single-message ValidationError
func Invalidf(format string, args ...any) error {
	return &ValidationError{Messages: []string{fmt.Sprintf(format, args...)}}
}

// UnresolvedLinkError is returned when a link target is missing at commit
type UnresolvedLinkError struct {
	WebURI string
	LinkTo string
}

func (e *UnresolvedLinkError) Error() string {
	return fmt.Sprintf("Unable to resolve item object_key:\n\tURI: '%s'\n\tLink: '%s'", e.WebURI, e.LinkTo)
}
