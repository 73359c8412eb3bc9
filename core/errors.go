package core

import (
	"errors"
	"fmt"
)

var (
	ErrUnsupportedMedia = errors.New("unsupported media type")
	ErrMediaTooLong     = errors.New("media exceeds maximum duration")
	ErrEmptyQuery       = errors.New("query is empty")
	ErrMissingMedia     = errors.New("media file is required")

	// ErrEmptyIndex is returned when retrieval runs against a video with no indexed entries.
	ErrEmptyIndex = errors.New("no indexed entries for video")

	ErrVideoNotFound = errors.New("video not found")
)

// InputError rejects a request before any pipeline work; no state is mutated.
type InputError struct {
	Reason string
	Err    error
}

func (e *InputError) Error() string {
	if e.Reason == "" {
		return e.Err.Error()
	}
	return fmt.Sprintf("%v: %s", e.Err, e.Reason)
}

func (e *InputError) Unwrap() error { return e.Err }

// NewInputError wraps one of the input sentinels with a human-readable reason.
func NewInputError(err error, reason string) *InputError {
	return &InputError{Reason: reason, Err: err}
}

// ServiceUnavailableError means an external model or service could not be initialized or reached.
type ServiceUnavailableError struct {
	Service string
	Err     error
}

func (e *ServiceUnavailableError) Error() string {
	return fmt.Sprintf("%s unavailable: %v", e.Service, e.Err)
}

func (e *ServiceUnavailableError) Unwrap() error { return e.Err }

// PipelineError reports the ingestion stage that failed.
type PipelineError struct {
	Stage string
	Err   error
}

func (e *PipelineError) Error() string {
	return fmt.Sprintf("pipeline stage %s failed: %v", e.Stage, e.Err)
}

func (e *PipelineError) Unwrap() error { return e.Err }

// IndexError reports a failed index build or replace.
type IndexError struct {
	VideoID string
	Err     error
}

func (e *IndexError) Error() string {
	return fmt.Sprintf("index video %s: %v", e.VideoID, e.Err)
}

func (e *IndexError) Unwrap() error { return e.Err }

// StateConflictError is returned when an operation needs a video in a different status.
type StateConflictError struct {
	VideoID string
	Status  VideoStatus
}

func (e *StateConflictError) Error() string {
	return fmt.Sprintf("video %s status is %s", e.VideoID, e.Status)
}

// IsInputError reports whether err is (or wraps) an InputError.
func IsInputError(err error) bool {
	var ie *InputError
	return errors.As(err, &ie)
}
