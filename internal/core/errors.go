package core

import (
	"errors"
	"fmt"
)

var (
	ErrRunNotFound = errors.New("run not found")
	ErrRunFinished = errors.New("run already finished")

	// ErrSchedulerClosed is returned by Start after Shutdown.
	ErrSchedulerClosed = errors.New("scheduler shut down")
)

// FailureKind separates failures of the step's own logic from failures of
// the environment it needed.
type FailureKind string

const (
	FailureStep        FailureKind = "step"
	FailureEnvironment FailureKind = "environment"
)

// StepError is a step failure tagged with its kind.
type StepError struct {
	Kind FailureKind
	Err  error
}

func (e *StepError) Error() string {
	if e.Kind == FailureEnvironment {
		return fmt.Sprintf("environment: %v", e.Err)
	}
	return e.Err.Error()
}

func (e *StepError) Unwrap() error { return e.Err }

// StepFailure marks err as a failure of the step's own logic.
func StepFailure(err error) error {
	return &StepError{Kind: FailureStep, Err: err}
}

// EnvironmentFailure marks err as a failure to provide what the step
// needed: a shell, a tool, a secret.
func EnvironmentFailure(err error) error {
	return &StepError{Kind: FailureEnvironment, Err: err}
}

// KindOf returns the failure kind carried by err, FailureStep by default.
func KindOf(err error) FailureKind {
	var se *StepError
	if errors.As(err, &se) {
		return se.Kind
	}
	return FailureStep
}
