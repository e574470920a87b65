package types

import (
	"context"
	"errors"
	"fmt"
	"strings"
)

var (
	ErrConfiguration  = errors.New("weightfetch: invalid configuration")
	ErrPathSecurity   = errors.New("weightfetch: path outside data root")
	ErrTransport      = errors.New("weightfetch: transport failure")
	ErrResumeMismatch = errors.New("weightfetch: cannot resume")
	ErrCanceled       = errors.New("weightfetch: canceled")
	ErrValidation     = errors.New("weightfetch: validation failed")
	ErrSizeMismatch   = fmt.Errorf("%w: size mismatch", ErrValidation)
	ErrHashMismatch   = fmt.Errorf("%w: hash mismatch", ErrValidation)
)

// StatusError is an HTTP response that was not what the request needed.
type StatusError struct {
	StatusCode int
	Status     string
	Body       string
	Resume     bool // true for a ranged request that did not get 206
}

func (e *StatusError) Error() string {
	if e.Resume {
		return fmt.Sprintf("failed to resume download: HTTP status %s, %s", e.Status, e.Body)
	}
	return fmt.Sprintf("failed to download: HTTP status %s, %s", e.Status, e.Body)
}

func (e *StatusError) Unwrap() error {
	if e.Resume {
		return ErrResumeMismatch
	}
	return ErrTransport
}

// SizeMismatchError is returned when a downloaded file has the wrong length.
type SizeMismatchError struct {
	Path     string
	Expected int64
	Actual   int64
}

func (e *SizeMismatchError) Error() string {
	return fmt.Sprintf("size verification failed: expected %d bytes but got %d bytes", e.Expected, e.Actual)
}

func (e *SizeMismatchError) Unwrap() error { return ErrSizeMismatch }

// Canceled wraps err so that it matches both ErrCanceled and context.Canceled.
func Canceled(what string) error {
	return fmt.Errorf("%s: %w", what, errors.Join(ErrCanceled, context.Canceled))
}

// IsCanceled reports whether err stems from cooperative cancellation.
func IsCanceled(err error) bool {
	return errors.Is(err, ErrCanceled) || errors.Is(err, context.Canceled)
}

// ItemError ties a failure to the item that produced it.
type ItemError struct {
	Index int
	URL   string
	Stage string // "config", "path", "probe", "transfer" or "validation"
	Err   error
}

func (e *ItemError) Error() string {
	return fmt.Sprintf("item %d (%s) %s: %v", e.Index, e.URL, e.Stage, e.Err)
}

func (e *ItemError) Unwrap() error { return e.Err }

// BatchError collects every item failure of a task. Error() leads with the
// first failure.
type BatchError struct {
	TaskID string
	Items  []*ItemError
}

func (e *BatchError) Error() string {
	if len(e.Items) == 0 {
		return fmt.Sprintf("task %s failed", e.TaskID)
	}
	msg := e.Items[0].Err.Error()
	if len(e.Items) == 1 {
		return msg
	}
	others := make([]string, 0, len(e.Items)-1)
	for _, it := range e.Items[1:] {
		others = append(others, it.Error())
	}
	return fmt.Sprintf("%s (and %d more: %s)", msg, len(others), strings.Join(others, "; "))
}

func (e *BatchError) Unwrap() []error {
	errs := make([]error, len(e.Items))
	for i, it := range e.Items {
		errs[i] = it
	}
	return errs
}

// First returns the first recorded failure, or nil.
func (e *BatchError) First() error {
	if len(e.Items) == 0 {
		return nil
	}
	return e.Items[0].Err
}
