package driving

import (
	"context"

	"github.com/custodia-labs/debatepipe/internal/core/domain"
)

// Orchestrator runs processing passes over the state store.
type Orchestrator interface {
	// Process runs every runnable pair until nothing is runnable.
	// Returns an error wrapping domain.ErrStorageUnavailable if the state
	// store fails; the summary is still returned when available.
	Process(ctx context.Context, opts domain.ProcessOptions) (*domain.RunSummary, error)

	// Progress returns a snapshot of the current or last pass.
	Progress() domain.Progress

	// Requeue moves failed pairs back to pending.
	Requeue(ctx context.Context, filter domain.RequeueFilter) (int, error)

	// Skip marks a pending or failed pair as skipped.
	Skip(ctx context.Context, key domain.StageKey, reason string) error
}
