package types

import (
	"errors"
	"fmt"
)

// Adapter errors. Typed errors below wrap these sentinels so callers can
// match with errors.Is.
var (
	ErrConnection         = errors.New("no storage backend could be initialized")
	ErrClassificationMiss = errors.New("statement not recognized")
	ErrParameterMismatch  = errors.New("positional parameter count mismatch")
	ErrBackendExecution   = errors.New("backend rejected the operation")
)

// Entity errors.
var (
	ErrNotFound          = errors.New("entity not found")
	ErrInvalidTransition = errors.New("invalid status transition")
	ErrInvalidStatus     = errors.New("invalid status value")
	ErrInvalidValue      = errors.New("invalid field value")
	ErrClosed            = errors.New("store is closed")
)

// ClassificationError reports a statement outside the recognized dialect.
type ClassificationError struct {
	Statement string
	Reason    string
}

func (e *ClassificationError) Error() string {
	return fmt.Sprintf("%s: %s", ErrClassificationMiss, e.Reason)
}

func (e *ClassificationError) Is(target error) bool {
	return target == ErrClassificationMiss
}

// ParameterMismatchError reports a statement whose placeholders and
// arguments disagree.
type ParameterMismatchError struct {
	Op       string
	Expected int
	Got      int
}

func (e *ParameterMismatchError) Error() string {
	return fmt.Sprintf("%s: %s expects %d parameters, got %d", ErrParameterMismatch, e.Op, e.Expected, e.Got)
}

func (e *ParameterMismatchError) Is(target error) bool {
	return target == ErrParameterMismatch
}

// BackendError wraps a failure raised by a storage engine.
type BackendError struct {
	Backend string
	Op      string
	Err     error
}

func (e *BackendError) Error() string {
	return fmt.Sprintf("%s %s: %v", e.Backend, e.Op, e.Err)
}

func (e *BackendError) Unwrap() error { return e.Err }

func (e *BackendError) Is(target error) bool {
	return target == ErrBackendExecution
}
