package domain

import (
	"fmt"
	"time"
)

// SourceStage is the reserved stage name under which raw document bytes are
// cached. It is never declared in a pipeline and never has a stage state.
const SourceStage = "_source"

// StageStatus is the lifecycle status of a (document, stage) pair.
type StageStatus string

// Stage statuses.
const (
	StatusPending StageStatus = "pending"
	StatusRunning StageStatus = "running"
	StatusDone    StageStatus = "done"
	StatusFailed  StageStatus = "failed"
	StatusSkipped StageStatus = "skipped"
)

// AllStatuses lists statuses in display order.
var AllStatuses = []StageStatus{StatusPending, StatusRunning, StatusDone, StatusFailed, StatusSkipped}

// Valid reports whether s is a known status.
func (s StageStatus) Valid() bool {
	switch s {
	case StatusPending, StatusRunning, StatusDone, StatusFailed, StatusSkipped:
		return true
	}
	return false
}

// Terminal reports whether no further automatic transition will happen.
func (s StageStatus) Terminal() bool {
	return s == StatusDone || s == StatusFailed || s == StatusSkipped
}

// String returns the status name.
func (s StageStatus) String() string {
	return string(s)
}

// StageKey identifies a (document, stage) pair.
type StageKey struct {
	DocumentID string
	Stage      string
}

// String returns "document/stage".
func (k StageKey) String() string {
	return k.DocumentID + "/" + k.Stage
}

// StageState is the persisted lifecycle record of a (document, stage) pair.
type StageState struct {
	// DocumentID identifies the owning document.
	DocumentID string

	// Stage is the declared stage name.
	Stage string

	// Position is the stage's index in the pipeline.
	Position int

	// Status is the current lifecycle status.
	Status StageStatus

	// Attempts counts recorded outcomes since the last reset.
	Attempts int

	// Reason holds the most recent failure reason, if any.
	Reason string

	// NextAttemptAt is the earliest time a retry may be claimed.
	// Zero means immediately.
	NextAttemptAt time.Time

	// Owner is the token of the run holding the claim while running.
	Owner string

	// StartedAt is when the current or last claim was taken.
	StartedAt time.Time

	// HeartbeatAt is the last liveness update from the running worker.
	HeartbeatAt time.Time

	// FinishedAt is when the last outcome was recorded.
	FinishedAt time.Time

	// UpdatedAt is when the row last changed.
	UpdatedAt time.Time
}

// Key returns the (document, stage) key of the state.
func (s *StageState) Key() StageKey {
	return StageKey{DocumentID: s.DocumentID, Stage: s.Stage}
}

// Runnable reports whether the state can be claimed at now, ignoring upstream.
func (s *StageState) Runnable(now time.Time) bool {
	return s.Status == StatusPending && !now.Before(s.NextAttemptAt)
}

// RetryPolicy bounds retries of transient failures.
type RetryPolicy struct {
	// MaxAttempts is the total number of recorded outcomes allowed
	// before a transient failure becomes terminal.
	MaxAttempts int

	// InitialBackoff is the delay after the first failed attempt.
	InitialBackoff time.Duration

	// MaxBackoff caps the delay.
	MaxBackoff time.Duration

	// Multiplier grows the delay between attempts.
	Multiplier float64
}

// DefaultRetryPolicy returns the retry policy used when a stage sets none.
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{
		MaxAttempts:    4,
		InitialBackoff: 2 * time.Second,
		MaxBackoff:     5 * time.Minute,
		Multiplier:     2.0,
	}
}

// Backoff returns the delay before the next attempt once attempt outcomes
// have been recorded. Attempt 1 waits InitialBackoff.
func (p RetryPolicy) Backoff(attempt int) time.Duration {
	if attempt < 1 {
		return 0
	}
	delay := float64(p.InitialBackoff)
	for i := 1; i < attempt; i++ {
		delay *= p.Multiplier
		if p.MaxBackoff > 0 && delay >= float64(p.MaxBackoff) {
			return p.MaxBackoff
		}
	}
	if p.MaxBackoff > 0 && time.Duration(delay) > p.MaxBackoff {
		return p.MaxBackoff
	}
	return time.Duration(delay)
}

// StageMode controls how a stage maps input units to executor calls.
type StageMode string

const (
	// ModeUnit invokes the executor per input unit (or per batch of units)
	// and resumes at the first input unit with no cached output.
	ModeUnit StageMode = "unit"

	// ModeDocument invokes the executor once with every input unit.
	ModeDocument StageMode = "document"

	// ModeCorpus invokes a batch executor once across all runnable documents.
	ModeCorpus StageMode = "corpus"
)

// Valid reports whether m is a known mode.
func (m StageMode) Valid() bool {
	switch m {
	case ModeUnit, ModeDocument, ModeCorpus:
		return true
	}
	return false
}

// StageDefinition declares one stage of the pipeline.
type StageDefinition struct {
	// Name is the unique stage name.
	Name string

	// Upstream is the stage this one consumes. Empty for the first stage.
	Upstream string

	// Mode selects unit, document or corpus execution.
	Mode StageMode

	// Retry bounds transient failures.
	Retry RetryPolicy

	// Workers bounds concurrent pairs for this stage.
	Workers int

	// Timeout is the deadline for a single executor invocation.
	// Zero disables the deadline.
	Timeout time.Duration

	// BatchSize is the number of input units per invocation in unit mode.
	BatchSize int

	// TolerateUpstreamFailure lets the stage run when its upstream is
	// failed or skipped. Inputs then come from the nearest done ancestor.
	TolerateUpstreamFailure bool
}

// withDefaults fills zero-valued tuning fields.
func (d StageDefinition) withDefaults() StageDefinition {
	if d.Mode == "" {
		d.Mode = ModeUnit
	}
	if d.Workers == 0 {
		d.Workers = 1
	}
	if d.BatchSize == 0 {
		d.BatchSize = 1
	}
	if d.Retry == (RetryPolicy{}) {
		d.Retry = DefaultRetryPolicy()
	}
	if d.Retry.Multiplier == 0 {
		d.Retry.Multiplier = 1
	}
	return d
}

// validate checks the fields of a single definition.
func (d StageDefinition) validate() error {
	if d.Name == "" {
		return fmt.Errorf("%w: stage name is required", ErrInvalidPipeline)
	}
	if d.Name == SourceStage {
		return fmt.Errorf("%w: stage name %q is reserved", ErrInvalidPipeline, d.Name)
	}
	if !d.Mode.Valid() {
		return fmt.Errorf("%w: stage %q has unknown mode %q", ErrInvalidPipeline, d.Name, d.Mode)
	}
	if d.Workers < 1 {
		return fmt.Errorf("%w: stage %q needs at least one worker", ErrInvalidPipeline, d.Name)
	}
	if d.BatchSize < 1 {
		return fmt.Errorf("%w: stage %q batch size must be positive", ErrInvalidPipeline, d.Name)
	}
	if d.Retry.MaxAttempts < 1 {
		return fmt.Errorf("%w: stage %q max attempts must be at least 1", ErrInvalidPipeline, d.Name)
	}
	if d.Timeout < 0 {
		return fmt.Errorf("%w: stage %q timeout must not be negative", ErrInvalidPipeline, d.Name)
	}
	return nil
}
