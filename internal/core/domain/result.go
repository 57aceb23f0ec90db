package domain

import (
	"context"
	"errors"
)

// Unit is one addressable piece of stage input or output.
type Unit struct {
	Index int
	Data  []byte
}

// StageInput is what an executor receives for one document.
type StageInput struct {
	DocumentID string
	Stage      string
	Units      []Unit
}

// StageResult is the outcome of an executor invocation.
// It is one of Succeeded, TransientFailure or PermanentFailure.
type StageResult interface {
	stageResult()
}

// Succeeded carries the output units of a successful invocation.
type Succeeded struct {
	Units []Unit
}

// TransientFailure is a retryable failure.
type TransientFailure struct {
	Reason string
}

// PermanentFailure is a non-retryable failure.
type PermanentFailure struct {
	Reason string
}

func (Succeeded) stageResult()        {}
func (TransientFailure) stageResult() {}
func (PermanentFailure) stageResult() {}

// ResultFromError classifies err as a failure result.
// Deadline overruns and errors wrapping ErrTransient or
// ErrStorageUnavailable are transient; everything else is permanent.
func ResultFromError(err error) StageResult {
	if err == nil {
		return PermanentFailure{Reason: "executor returned no result"}
	}
	if errors.Is(err, context.DeadlineExceeded) ||
		errors.Is(err, ErrTransient) ||
		errors.Is(err, ErrStorageUnavailable) {
		return TransientFailure{Reason: err.Error()}
	}
	return PermanentFailure{Reason: err.Error()}
}

// StageError reports the terminal failure of a (document, stage) pair.
type StageError struct {
	DocumentID string
	Stage      string
	Reason     string
}

func (e *StageError) Error() string {
	return "stage " + e.Stage + " failed for " + e.DocumentID + ": " + e.Reason
}
