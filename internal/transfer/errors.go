package transfer

import (
	"context"
	"errors"
	"fmt"

	"github.com/earthanddusk/hfbackup/internal/diskspace"
	"github.com/earthanddusk/hfbackup/internal/http"
	"github.com/earthanddusk/hfbackup/internal/remote"
)

// ErrKind classifies why a task failed.
type ErrKind string

const (
	ErrKindNone       ErrKind = ""
	ErrKindValidation ErrKind = "validation"
	ErrKindCredential ErrKind = "credential"
	ErrKindNotFound   ErrKind = "not_found"
	ErrKindTransport  ErrKind = "transport"
	ErrKindDisk       ErrKind = "disk"
	ErrKindCancelled  ErrKind = "cancelled"
	ErrKindInternal   ErrKind = "internal"
)

var (
	// ErrCancelled marks a task that stopped because cancellation was requested.
	// It is reported as Cancelled, never as a failure.
	ErrCancelled = errors.New("cancelled")

	// ErrTaskNotFound is returned for ids the manager does not know.
	ErrTaskNotFound = errors.New("task not found")

	// ErrManagerClosed is returned by every call after Close.
	ErrManagerClosed = errors.New("transfer manager closed")

	// ErrForcedShutdown is returned by Shutdown when running workers did not
	// stop before the context expired. Their partial output may remain.
	ErrForcedShutdown = errors.New("forced shutdown: workers still running")
)

// ValidationError reports structurally invalid task parameters.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	if e.Field == "" {
		return "invalid task: " + e.Message
	}
	return fmt.Sprintf("invalid task: %s: %s", e.Field, e.Message)
}

// CredentialError reports a missing or rejected credential.
type CredentialError struct {
	Message string
	Err     error
}

func (e *CredentialError) Error() string {
	return "credential error: " + e.Message
}

func (e *CredentialError) Unwrap() error { return e.Err }

// NotFoundError reports a repository, revision or file that does not exist.
type NotFoundError struct {
	Err error
}

func (e *NotFoundError) Error() string {
	return "not found: " + e.Err.Error()
}

func (e *NotFoundError) Unwrap() error { return e.Err }

// TransportError reports a network or HTTP failure other than not-found.
// The transport layer has already retried.
type TransportError struct {
	StatusCode int    // 0 when no response was received
	Class      string // network, retryable or fatal
	Err        error
}

func (e *TransportError) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("transport error (%s, HTTP %d): %v", e.Class, e.StatusCode, e.Err)
	}
	return fmt.Sprintf("transport error (%s): %v", e.Class, e.Err)
}

func (e *TransportError) Unwrap() error { return e.Err }

// DiskError reports a local file that could not be created or written.
type DiskError struct {
	Path string
	Err  error
}

func (e *DiskError) Error() string {
	return fmt.Sprintf("local file %s: %v", e.Path, e.Err)
}

func (e *DiskError) Unwrap() error { return e.Err }

// InvalidOperationError reports a call that is not allowed in the task's
// current state, like removing a running task or cancelling twice.
type InvalidOperationError struct {
	Op     string
	TaskID string
	Reason string
}

func (e *InvalidOperationError) Error() string {
	return fmt.Sprintf("cannot %s task %s: %s", e.Op, e.TaskID, e.Reason)
}

// internalError wraps a recovered worker panic.
type internalError struct {
	value interface{}
}

func (e *internalError) Error() string {
	return fmt.Sprintf("internal error: %v", e.value)
}

// wrapRemote converts an error from a remote.Client into the task taxonomy.
func wrapRemote(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, context.Canceled) {
		return ErrCancelled
	}
	var nf *remote.NotFoundError
	if errors.As(err, &nf) {
		return &NotFoundError{Err: err}
	}
	var auth *remote.AuthError
	if errors.As(err, &auth) {
		return &CredentialError{Message: auth.Error(), Err: err}
	}
	return &TransportError{
		StatusCode: remote.StatusCode(err),
		Class:      http.ErrorTypeName(http.ClassifyError(err)),
		Err:        err,
	}
}

// Classify maps any worker error onto an ErrKind.
func Classify(err error) ErrKind {
	if err == nil {
		return ErrKindNone
	}
	if errors.Is(err, ErrCancelled) {
		return ErrKindCancelled
	}

	var (
		ve  *ValidationError
		ce  *CredentialError
		nf  *NotFoundError
		rnf *remote.NotFoundError
		te  *TransportError
		de  *DiskError
	)
	switch {
	case errors.As(err, &ve):
		return ErrKindValidation
	case errors.As(err, &ce):
		return ErrKindCredential
	case errors.As(err, &nf), errors.As(err, &rnf):
		return ErrKindNotFound
	case errors.As(err, &te):
		return ErrKindTransport
	case errors.As(err, &de), diskspace.IsInsufficientSpaceError(err):
		return ErrKindDisk
	}
	return ErrKindInternal
}
