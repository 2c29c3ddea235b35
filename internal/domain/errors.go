package domain

import (
	"context"
	"errors"
	"fmt"
)

var (
	ErrNotFound            = errors.New("not found")
	ErrInvalidInput        = errors.New("invalid input")
	ErrProviderFailure     = errors.New("provider failure")
	ErrProviderTimeout     = errors.New("provider timeout")
	ErrInconsistentState   = errors.New("inconsistent state")
	ErrMisconfigured       = errors.New("misconfigured")
	ErrJobBusy             = errors.New("job is already running")
	ErrResumeLimitExceeded = errors.New("resume limit exceeded")
	ErrDuplicateOperation  = errors.New("duplicate operation")
)

// ErrorKind classifies failures for retry and reporting decisions.
type ErrorKind string

const (
	KindValidation  ErrorKind = "validation"
	KindTransient   ErrorKind = "transient"
	KindRateLimited ErrorKind = "rate_limited"
	KindTerminal    ErrorKind = "terminal"
	KindTimeout     ErrorKind = "timeout"
	KindState       ErrorKind = "state"
)

// Retryable reports whether the call layer may retry an error of this kind.
func (k ErrorKind) Retryable() bool {
	return k == KindTransient || k == KindRateLimited
}

// KindedError is implemented by errors that carry their own classification.
type KindedError interface {
	error
	Kind() ErrorKind
}

// KindOf classifies any error. Unclassified errors are terminal.
func KindOf(err error) ErrorKind {
	if err == nil {
		return ""
	}
	var kinded KindedError
	if errors.As(err, &kinded) {
		return kinded.Kind()
	}
	switch {
	case errors.Is(err, ErrInvalidInput):
		return KindValidation
	case errors.Is(err, ErrProviderTimeout), errors.Is(err, context.DeadlineExceeded):
		return KindTimeout
	case errors.Is(err, ErrInconsistentState), errors.Is(err, ErrMisconfigured), errors.Is(err, ErrResumeLimitExceeded):
		return KindState
	default:
		return KindTerminal
	}
}

// StageError wraps a failure with the stage it happened in.
type StageError struct {
	Stage Stage
	Err   error
}

func (e *StageError) Error() string {
	return fmt.Sprintf("%s: %v", e.Stage, e.Err)
}

func (e *StageError) Unwrap() error {
	return e.Err
}

// Kind classifies the wrapped error.
func (e *StageError) Kind() ErrorKind {
	return KindOf(e.Err)
}

// NewStageError wraps err unless it already carries a stage.
func NewStageError(stage Stage, err error) error {
	if err == nil {
		return nil
	}
	var se *StageError
	if errors.As(err, &se) {
		return err
	}
	return &StageError{Stage: stage, Err: err}
}
