// Package errdefs defines the error kinds raised by the orchestration core.
//
// Every kind has a sentinel for errors.Is and a typed error carrying the
// details the caller needs to report it. None of these kinds are retried by
// the core; they are fatal to the step that produced them.
package errdefs

import (
	"errors"
	"fmt"
	"time"
)

var (
	// ErrTimeout indicates a task poll exceeded its time budget.
	ErrTimeout = errors.New("timeout")

	// ErrTaskSubmission indicates the server did not accept an asynchronous
	// operation, or accepted it without a usable task id.
	ErrTaskSubmission = errors.New("task submission error")

	// ErrTaskFailed indicates a task reached a terminal status other than
	// COMPLETED.
	ErrTaskFailed = errors.New("task failed")

	// ErrNotFound indicates an expected remote object is absent.
	ErrNotFound = errors.New("not found")

	// ErrNotCompleted indicates post-action verification failed.
	ErrNotCompleted = errors.New("not completed")

	// ErrNotSupported indicates an unsupported configuration combination.
	ErrNotSupported = errors.New("not supported")

	// ErrProvision indicates the deployment did not reach the desired state.
	ErrProvision = errors.New("provision error")

	// ErrRemote indicates a command run over SSH exited non-zero.
	ErrRemote = errors.New("remote command error")

	// ErrCommand indicates a local shell command exited non-zero.
	ErrCommand = errors.New("command error")
)

// TimeoutError is returned when a task is still running after the poll
// budget elapsed.
type TimeoutError struct {
	TaskID  string
	Elapsed time.Duration
}

func (e *TimeoutError) Error() string {
	return fmt.Sprintf("waited %d seconds for task %s", int(e.Elapsed.Seconds()), e.TaskID)
}

func (e *TimeoutError) Is(target error) bool { return target == ErrTimeout }

// SubmissionError is returned when a submission response is not a 202 with
// a task location.
type SubmissionError struct {
	Operation  string
	StatusCode int
	Body       string
	MissingID  bool
}

func (e *SubmissionError) Error() string {
	if e.MissingID {
		return fmt.Sprintf("task id of %s not found", e.Operation)
	}
	return fmt.Sprintf("task %s failed: HTTP %d: %s", e.Operation, e.StatusCode, e.Body)
}

func (e *SubmissionError) Is(target error) bool { return target == ErrTaskSubmission }

// TaskFailedError is returned when a task ends in STOPPING, STOPPED or FAILED.
type TaskFailedError struct {
	Operation string
	TaskID    string
	Status    string
	Message   string
}

func (e *TaskFailedError) Error() string {
	return fmt.Sprintf("task %s %s: %s", e.Operation, e.Status, e.Message)
}

func (e *TaskFailedError) Is(target error) bool { return target == ErrTaskFailed }

// NotFoundError is returned when a named object does not exist.
type NotFoundError struct {
	Kind string
	Name string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("%s %s not found", e.Kind, e.Name)
}

func (e *NotFoundError) Is(target error) bool { return target == ErrNotFound }

// NotCompletedError is returned when an action ran but its effect is not
// observed afterwards.
type NotCompletedError struct {
	Action string
	Detail string
}

func (e *NotCompletedError) Error() string {
	if e.Detail == "" {
		return fmt.Sprintf("%s not completed", e.Action)
	}
	return fmt.Sprintf("%s not completed: %s", e.Action, e.Detail)
}

func (e *NotCompletedError) Is(target error) bool { return target == ErrNotCompleted }

// NotSupportedError is returned for caller misuse or unsupported setups.
type NotSupportedError struct {
	Reason string
}

func (e *NotSupportedError) Error() string {
	return "not supported: " + e.Reason
}

func (e *NotSupportedError) Is(target error) bool { return target == ErrNotSupported }

// ProvisionError is returned when provisioning or upgrading fails. Cause holds
// the classified root cause when it could be derived.
type ProvisionError struct {
	Reason string
	Cause  string
}

func (e *ProvisionError) Error() string {
	if e.Cause == "" {
		return e.Reason
	}
	return fmt.Sprintf("%s: %s", e.Reason, e.Cause)
}

func (e *ProvisionError) Is(target error) bool { return target == ErrProvision }

// RemoteError is returned when an SSH command exits non-zero.
type RemoteError struct {
	Host       string
	Command    string
	ExitStatus int
}

func (e *RemoteError) Error() string {
	return fmt.Sprintf("in host %s failed to execute (exit %d): %s", e.Host, e.ExitStatus, e.Command)
}

func (e *RemoteError) Is(target error) bool { return target == ErrRemote }

// CommandError is returned when a local command exits non-zero.
type CommandError struct {
	Command  string
	ExitCode int
}

func (e *CommandError) Error() string {
	return fmt.Sprintf("failed to execute (exit %d): %s", e.ExitCode, e.Command)
}

func (e *CommandError) Is(target error) bool { return target == ErrCommand }

// IsTimeout reports whether err is a task poll timeout.
func IsTimeout(err error) bool { return errors.Is(err, ErrTimeout) }

// IsNotFound reports whether err is a not-found error.
func IsNotFound(err error) bool { return errors.Is(err, ErrNotFound) }

// IsTaskFailed reports whether err is a failed task.
func IsTaskFailed(err error) bool { return errors.Is(err, ErrTaskFailed) }

// IsSubmission reports whether err is a task submission error.
func IsSubmission(err error) bool { return errors.Is(err, ErrTaskSubmission) }

// Fatal reports whether err is one of the kinds the core never retries.
// Transport errors are not fatal by this definition; the invoking pipeline
// owns their retry policy.
func Fatal(err error) bool {
	if err == nil {
		return false
	}
	for _, kind := range []error{
		ErrTimeout, ErrTaskSubmission, ErrTaskFailed, ErrNotFound,
		ErrNotCompleted, ErrNotSupported, ErrProvision, ErrRemote, ErrCommand,
	} {
		if errors.Is(err, kind) {
			return true
		}
	}
	return false
}
