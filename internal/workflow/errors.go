package workflow

import (
	"context"
	"errors"
	"time"
)

// Error classes drive the retry-vs-fatal decision in the state machine.
const (
	ClassTransient  = "transient"
	ClassValidation = "validation"
	ClassFatal      = "fatal"
)

var (
	// ErrLockHeld is returned when another owner holds a non-expired lock.
	// It is a concurrency conflict, never a job failure.
	ErrLockHeld = errors.New("lock held by another owner")

	// ErrJobNotFound is returned when a job id resolves to no row.
	ErrJobNotFound = errors.New("job not found")

	// ErrEntryFrozen is returned when a terminal step-history row is
	// updated. Re-execution must open a new attempt instead.
	ErrEntryFrozen = errors.New("step history entry already terminal")
)

// StepError wraps a step execution failure with its classification and
// structured details, so job failure rows can surface both a human message
// and machine-readable metadata without re-deriving either.
type StepError struct {
	Class   string
	Err     error
	Details map[string]string
}

func (e *StepError) Error() string { return e.Err.Error() }

func (e *StepError) Unwrap() error { return e.Err }

// NewValidationError builds a validation-class step error.
func NewValidationError(err error) *StepError {
	return &StepError{Class: ClassValidation, Err: err}
}

// NewFatalError builds a fatal-class step error.
func NewFatalError(err error) *StepError {
	return &StepError{Class: ClassFatal, Err: err}
}

// Classify maps an error to its class. External service clients expose
// retryability through a Retryable() method; deadline and cancellation
// errors count as transient; everything else is fatal.
func Classify(err error) string {
	if err == nil {
		return ""
	}

	var se *StepError
	if errors.As(err, &se) {
		return se.Class
	}

	var v interface{ Validation() bool }
	if errors.As(err, &v) && v.Validation() {
		return ClassValidation
	}

	var r interface{ Retryable() bool }
	if errors.As(err, &r) {
		if r.Retryable() {
			return ClassTransient
		}
		return ClassFatal
	}

	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return ClassTransient
	}

	return ClassFatal
}

// BackoffDelay returns the exponential retry delay for the given completed
// attempt number (1-based): base * 2^(attempt-1), capped at max.
func BackoffDelay(attempt int, base, max time.Duration) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	d := base
	for i := 1; i < attempt; i++ {
		d *= 2
		if d >= max {
			return max
		}
	}
	if d > max {
		return max
	}
	return d
}
