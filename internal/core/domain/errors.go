package domain

import (
	"errors"
	"fmt"
)

var (
	ErrUsage         = errors.New("usage: exactly one build mode argument is required")
	ErrInvalidMode   = errors.New("invalid build mode")
	ErrSourceMissing = errors.New("source path does not exist")
	ErrStagingExists = errors.New("staging directory already exists")
	ErrLocked        = errors.New("another build holds the lock")
)

// Step names reported when a run fails.
const (
	StepValidate     = "validate"
	StepLock         = "lock"
	StepRevision     = "revision"
	StepCleanup      = "cleanup"
	StepDependencies = "dependencies"
	StepStage        = "stage"
	StepBuild        = "build"
)

// StepError attributes a failure to the pipeline step that produced it.
type StepError struct {
	Step string
	// Code is the process exit status to report. Zero means 1.
	Code int
	Err  error
}

func (e *StepError) Error() string {
	return fmt.Sprintf("%s failed: %v", e.Step, e.Err)
}

func (e *StepError) Unwrap() error {
	return e.Err
}

// NewStepError wraps err for step unless it is already a StepError.
func NewStepError(step string, err error) error {
	if err == nil {
		return nil
	}
	var se *StepError
	if errors.As(err, &se) {
		return err
	}
	return &StepError{Step: step, Code: codeOf(err), Err: err}
}

// ExitCoder is implemented by errors that carry their own exit status,
// such as a failed build subprocess.
type ExitCoder interface {
	ExitCode() int
}

func codeOf(err error) int {
	var ec ExitCoder
	if errors.As(err, &ec) && ec.ExitCode() > 0 {
		return ec.ExitCode()
	}
	return 1
}

// ExitCode maps an error to a process exit status.
func ExitCode(err error) int {
	if err == nil {
		return 0
	}
	var se *StepError
	if errors.As(err, &se) && se.Code > 0 {
		return se.Code
	}
	return codeOf(err)
}
