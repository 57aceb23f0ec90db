package domain

import "time"

// ProcessOptions restricts a processing pass.
type ProcessOptions struct {
	// Stage limits the pass to one stage when set.
	Stage string

	// DocumentID limits the pass to one document when set.
	DocumentID string
}

// Candidate is a pending pair together with its upstream status.
type Candidate struct {
	State StageState

	// UpstreamStatus is the status of the immediate upstream stage.
	// Empty for the first stage.
	UpstreamStatus StageStatus
}

// StageCount aggregates statuses for one stage.
type StageCount struct {
	Stage  string
	Counts map[StageStatus]int
}

// Total returns the number of pairs across statuses.
func (c StageCount) Total() int {
	n := 0
	for _, v := range c.Counts {
		n += v
	}
	return n
}

// StageFailure lists a failed pair and why.
type StageFailure struct {
	DocumentID string `json:"document_id" yaml:"document_id"`
	Stage      string `json:"stage" yaml:"stage"`
	Attempts   int    `json:"attempts" yaml:"attempts"`
	Reason     string `json:"reason" yaml:"reason"`
}

// RunSummary reports what a processing pass did.
type RunSummary struct {
	RunID      string
	StartedAt  time.Time
	FinishedAt time.Time

	// Executed counts executor outcomes recorded this pass.
	Executed int

	// Succeeded counts pairs that reached done this pass.
	Succeeded int

	// Retried counts transient failures scheduled for retry.
	Retried int

	// Failed counts pairs that reached failed this pass.
	Failed int

	// Recovered counts stale running pairs reset at startup.
	Recovered int

	// Counts is the per-stage status breakdown after the pass.
	Counts []StageCount

	// Failures lists every failed pair after the pass.
	Failures []StageFailure

	// Halted is the State Store error that stopped the pass, if any.
	Halted error
}

// HasFailures reports whether any pair is failed.
func (s *RunSummary) HasFailures() bool {
	return len(s.Failures) > 0
}

// Progress is a live snapshot of a running pass.
type Progress struct {
	RunID     string
	InFlight  int
	Executed  int
	Succeeded int
	Retried   int
	Failed    int
	Running   bool
}

// RequeueFilter selects failed pairs to reset.
type RequeueFilter struct {
	Stage      string
	DocumentID string
}
