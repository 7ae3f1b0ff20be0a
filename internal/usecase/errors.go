package usecase

import (
	"errors"
	"fmt"
)

// Outcome is the result of one execution job run.
type Outcome string

const (
	OutcomeSettled        Outcome = "settled"
	OutcomeAlreadySettled Outcome = "already_settled"
	OutcomeFailed         Outcome = "failed"
	OutcomeSkipped        Outcome = "skipped"
	OutcomeInProgress     Outcome = "in_progress"
)

// RetryableError means the job may succeed if run again later.
type RetryableError struct {
	Err error
}

func (e *RetryableError) Error() string { return fmt.Sprintf("retryable: %v", e.Err) }
func (e *RetryableError) Unwrap() error { return e.Err }

// FatalError means running the job again cannot change the result.
type FatalError struct {
	Err error
}

func (e *FatalError) Error() string { return fmt.Sprintf("fatal: %v", e.Err) }
func (e *FatalError) Unwrap() error { return e.Err }

func retryable(err error) error { return &RetryableError{Err: err} }
func fatal(err error) error     { return &FatalError{Err: err} }

// IsFatal reports whether err carries a *FatalError.
func IsFatal(err error) bool {
	var f *FatalError
	return errors.As(err, &f)
}

// ErrorKind labels err for logs and metrics.
func ErrorKind(err error) string {
	switch {
	case err == nil:
		return "none"
	case IsFatal(err):
		return "fatal"
	default:
		return "retryable"
	}
}
