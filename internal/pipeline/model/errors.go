// SPDX-License-Identifier: MIT

package model

import (
	"context"
	"errors"
	"fmt"
)

// StageError carries a typed failure out of a stage invocation.
// Messages must be safe for display: no secrets, no stack frames.
type StageError struct {
	Kind    ErrorKind `json:"kind"`
	Message string    `json:"message"`
	cause   error
}

func (e *StageError) Error() string {
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

// Unwrap exposes the underlying cause for errors.Is/As chains.
func (e *StageError) Unwrap() error { return e.cause }

// NewStageError builds a StageError with an optional wrapped cause.
func NewStageError(kind ErrorKind, msg string, cause error) *StageError {
	return &StageError{Kind: kind, Message: msg, cause: cause}
}

// Errorf builds a StageError from a format string.
func Errorf(kind ErrorKind, format string, args ...any) *StageError {
	return &StageError{Kind: kind, Message: fmt.Sprintf(format, args...)}
}

// KindOf classifies an arbitrary error into an ErrorKind.
// Context deadline and cancellation are mapped before anything else so a
// timed-out stage is never misreported as a backend failure.
func KindOf(err error) ErrorKind {
	if err == nil {
		return ""
	}
	var se *StageError
	if errors.As(err, &se) {
		return se.Kind
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return KindTimeout
	}
	if errors.Is(err, context.Canceled) {
		return KindCancelled
	}
	return KindBackend
}
