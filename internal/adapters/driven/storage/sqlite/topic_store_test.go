package sqlite

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/custodia-labs/debatepipe/internal/core/domain"
)

func TestTopicStore_SaveAndList(t *testing.T) {
	store, cleanup := setupTestStore(t)
	defer cleanup()

	ctx := context.Background()
	ts := store.TopicStore()

	err := ts.SaveTopics(ctx, domain.TopicUpdate{
		Clusters: []domain.Cluster{
			{ID: 1, Label: "agriculture", Centroid: []float32{1, 0}, Size: 2},
			{ID: 2, Centroid: []float32{0, 1}, Size: 1},
		},
		Assignments: []domain.TopicAssignment{
			{DocumentID: "d1", ClusterID: 1, Similarity: 0.9},
			{DocumentID: "d2", ClusterID: 1, Similarity: 0.8},
			{DocumentID: "d3", ClusterID: 2, Similarity: 1},
		},
		Embeddings: []domain.DocumentEmbedding{
			{DocumentID: "d1", Vector: []float32{1, 0}},
			{DocumentID: "d3", Vector: []float32{0, 1}},
		},
	})
	require.NoError(t, err)

	clusters, err := ts.ListClusters(ctx)
	require.NoError(t, err)
	require.Len(t, clusters, 2)
	assert.Equal(t, "agriculture", clusters[0].Label)
	assert.Equal(t, []float32{1, 0}, clusters[0].Centroid)
	assert.False(t, clusters[0].CreatedAt.IsZero())

	assignments, err := ts.ListAssignments(ctx)
	require.NoError(t, err)
	require.Len(t, assignments, 3)
	assert.Equal(t, "d1", assignments[0].DocumentID)
	assert.InDelta(t, 0.9, assignments[0].Similarity, 1e-9)

	embeddings, err := ts.ListEmbeddings(ctx)
	require.NoError(t, err)
	require.Len(t, embeddings, 2)
	assert.Equal(t, []float32{0, 1}, embeddings[1].Vector)
}

func TestTopicStore_UpsertAndReplace(t *testing.T) {
	store, cleanup := setupTestStore(t)
	defer cleanup()

	ctx := context.Background()
	ts := store.TopicStore()

	require.NoError(t, ts.SaveTopics(ctx, domain.TopicUpdate{
		Clusters:    []domain.Cluster{{ID: 1, Size: 1}, {ID: 2, Size: 1}},
		Assignments: []domain.TopicAssignment{{DocumentID: "d1", ClusterID: 1}, {DocumentID: "d2", ClusterID: 2}},
	}))

	require.NoError(t, ts.SaveTopics(ctx, domain.TopicUpdate{
		Clusters:    []domain.Cluster{{ID: 1, Size: 2}},
		Assignments: []domain.TopicAssignment{{DocumentID: "d2", ClusterID: 1}},
	}))
	clusters, err := ts.ListClusters(ctx)
	require.NoError(t, err)
	require.Len(t, clusters, 2)
	assert.Equal(t, 2, clusters[0].Size)

	require.NoError(t, ts.SaveTopics(ctx, domain.TopicUpdate{
		Replace:     true,
		Clusters:    []domain.Cluster{{ID: 1, Size: 2}},
		Assignments: []domain.TopicAssignment{{DocumentID: "d1", ClusterID: 1}, {DocumentID: "d2", ClusterID: 1}},
	}))
	clusters, err = ts.ListClusters(ctx)
	require.NoError(t, err)
	assert.Len(t, clusters, 1)

	assignments, err := ts.ListAssignments(ctx)
	require.NoError(t, err)
	for _, a := range assignments {
		assert.Equal(t, 1, a.ClusterID)
	}
}

func TestTopicStore_RenameCluster(t *testing.T) {
	store, cleanup := setupTestStore(t)
	defer cleanup()

	ctx := context.Background()
	ts := store.TopicStore()
	require.NoError(t, ts.SaveTopics(ctx, domain.TopicUpdate{
		Clusters: []domain.Cluster{{ID: 1, Label: "Topic 1", Centroid: []float32{1, 0}, Size: 1}},
	}))

	require.NoError(t, ts.RenameCluster(ctx, 1, "agriculture"))

	clusters, err := ts.ListClusters(ctx)
	require.NoError(t, err)
	require.Len(t, clusters, 1)
	assert.Equal(t, "agriculture", clusters[0].Label)
	assert.Equal(t, []float32{1, 0}, clusters[0].Centroid)

	assert.ErrorIs(t, ts.RenameCluster(ctx, 2, "housing"), domain.ErrNotFound)
}
