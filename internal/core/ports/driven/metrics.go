package driven

import "time"

// PipelineMetrics records orchestration outcomes.
type PipelineMetrics interface {
	// ObserveOutcome records an executor outcome for stage.
	// Outcome is one of done, retry, failed or released.
	ObserveOutcome(stage, outcome string, duration time.Duration)

	// ObserveClaimLost records a lost compare-and-set.
	ObserveClaimLost(stage string)

	// ObserveRecovered records pairs reset by crash recovery.
	ObserveRecovered(n int)

	// ObserveResolution records a resolver outcome: new, revised,
	// unchanged or conflict.
	ObserveResolution(kind string)

	// SetInFlight reports the number of running pairs for stage.
	SetInFlight(stage string, n int)
}
