package driving

import (
	"context"
	"time"

	"github.com/custodia-labs/debatepipe/internal/core/domain"
)

// StatusService reports pipeline state.
type StatusService interface {
	// Report returns counts per stage and the failed pairs.
	Report(ctx context.Context) (*StatusReport, error)

	// Document returns one document with its stage states.
	Document(ctx context.Context, id string) (*domain.Document, error)

	// Conflicts returns recorded identity conflicts, newest first.
	Conflicts(ctx context.Context, limit int) ([]domain.IdentityConflict, error)
}

// StatusReport is the pipeline-wide status.
type StatusReport struct {
	Documents int                   `json:"documents" yaml:"documents"`
	Stages    []StageStatusCount    `json:"stages" yaml:"stages"`
	Failures  []domain.StageFailure `json:"failures" yaml:"failures"`
	Conflicts int                   `json:"conflicts" yaml:"conflicts"`
}

// StageStatusCount is the serialisable form of a stage count.
type StageStatusCount struct {
	Stage   string `json:"stage" yaml:"stage"`
	Pending int    `json:"pending" yaml:"pending"`
	Running int    `json:"running" yaml:"running"`
	Done    int    `json:"done" yaml:"done"`
	Failed  int    `json:"failed" yaml:"failed"`
	Skipped int    `json:"skipped" yaml:"skipped"`
}

// ArtefactService exposes cached stage outputs for inspection and cleanup.
type ArtefactService interface {
	// List returns current artefacts of a document, optionally one stage.
	List(ctx context.Context, documentID, stage string) ([]domain.Artefact, error)

	// Read returns the current bytes of key, or the version with
	// contentHash when it is set.
	Read(ctx context.Context, key domain.ArtefactKey, contentHash string) ([]byte, *domain.Artefact, error)

	// Prune deletes artefacts superseded longer than olderThan ago.
	Prune(ctx context.Context, olderThan time.Duration) (int, error)
}

// TopicService administers topic clusters.
type TopicService interface {
	// Clusters returns the current clusters.
	Clusters(ctx context.Context) ([]domain.Cluster, error)

	// Recluster recomputes clusters over all stored embeddings, keeping
	// cluster ids stable where memberships overlap.
	Recluster(ctx context.Context) (*domain.ReclusterReport, error)

	// Label renames a cluster. Later assignments and re-clustering keep
	// the new label.
	Label(ctx context.Context, id int, label string) (*domain.Cluster, error)
}
