package driven

import (
	"context"

	"github.com/custodia-labs/debatepipe/internal/core/domain"
)

// TopicStore persists topic clusters, assignments and embeddings.
type TopicStore interface {
	// ListClusters returns clusters ordered by id.
	ListClusters(ctx context.Context) ([]domain.Cluster, error)

	// ListAssignments returns all assignments ordered by document id.
	ListAssignments(ctx context.Context) ([]domain.TopicAssignment, error)

	// ListEmbeddings returns stored embeddings ordered by document id.
	ListEmbeddings(ctx context.Context) ([]domain.DocumentEmbedding, error)

	// SaveTopics upserts clusters, assignments and embeddings in one
	// transaction. With Replace set it first drops everything absent
	// from the update.
	SaveTopics(ctx context.Context, update domain.TopicUpdate) error

	// RenameCluster sets a cluster's label. Returns ErrNotFound when no
	// cluster has the id.
	RenameCluster(ctx context.Context, id int, label string) error
}
