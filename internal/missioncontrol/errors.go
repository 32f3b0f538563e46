package missioncontrol

import (
	"fmt"

	"github.com/pkg/errors"
)

type ErrorKind string

const (
	UploadFailed ErrorKind = "UploadFailed"
	StartFailed  ErrorKind = "StartFailed"
	PauseFailed  ErrorKind = "PauseFailed"
	ResumeFailed ErrorKind = "ResumeFailed"
	StopFailed   ErrorKind = "StopFailed"
)

// ExecutionError is a flight executor failure classified by the operation
// that failed.
type ExecutionError struct {
	Kind ErrorKind
	Err  error
}

func newExecutionError(kind ErrorKind, err error) *ExecutionError {
	return &ExecutionError{kind, err}
}

func (e *ExecutionError) Error() string {
	return fmt.Sprintf("%s: %v", e.Kind, e.Err)
}

func (e *ExecutionError) Cause() error {
	return e.Err
}

func (e *ExecutionError) Unwrap() error {
	return e.Err
}

// ExecutionErrorKind returns the kind of the ExecutionError in err's chain.
func ExecutionErrorKind(err error) (ErrorKind, bool) {
	var e *ExecutionError
	if errors.As(err, &e) {
		return e.Kind, true
	}
	return "", false
}

// ErrorReport kinds for failures that are not executor failures.
const (
	reportPlanningError   = "PlanningError"
	reportPhotoError      = "PhotoError"
	reportPhotoStoreError = "PhotoStoreError"
	reportCommandRejected = "CommandRejected"
)

var errCommandRejected = errors.New("command not allowed")
