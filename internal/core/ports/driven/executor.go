package driven

import (
	"context"

	"github.com/custodia-labs/debatepipe/internal/core/domain"
)

// StageExecutor runs one stage for one document.
// Executors never touch the state store; they only turn input units
// into a StageResult. Implementations must honour ctx cancellation.
type StageExecutor interface {
	Run(ctx context.Context, in domain.StageInput) domain.StageResult
}

// BatchExecutor runs a corpus-mode stage across many documents at once.
// The returned map is keyed by document id. A document missing from the
// map is treated as a transient failure.
type BatchExecutor interface {
	StageExecutor
	RunBatch(ctx context.Context, inputs []domain.StageInput) map[string]domain.StageResult
}

// StageExecutorFunc adapts a function to StageExecutor.
type StageExecutorFunc func(ctx context.Context, in domain.StageInput) domain.StageResult

// Run calls f.
func (f StageExecutorFunc) Run(ctx context.Context, in domain.StageInput) domain.StageResult {
	return f(ctx, in)
}
