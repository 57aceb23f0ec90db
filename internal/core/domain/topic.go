package domain

import "time"

// Cluster is a topic cluster with a running-mean centroid.
type Cluster struct {
	ID        int
	Label     string
	Centroid  []float32
	Size      int
	CreatedAt time.Time
	UpdatedAt time.Time
}

// TopicAssignment records which cluster a document belongs to.
type TopicAssignment struct {
	DocumentID string
	ClusterID  int
	Similarity float64
	AssignedAt time.Time
}

// DocumentEmbedding is the stored vector used for clustering.
type DocumentEmbedding struct {
	DocumentID string
	Vector     []float32
}

// TopicOutput is the artefact written by the topic stage for each document.
type TopicOutput struct {
	DocumentID string  `json:"document_id"`
	ClusterID  int     `json:"cluster_id"`
	Label      string  `json:"label,omitempty"`
	Similarity float64 `json:"similarity"`
}

// ReclusterReport summarises a full re-cluster.
type ReclusterReport struct {
	Documents   int
	Clusters    int
	Reassigned  int
	NewClusters []int
}

// TopicUpdate is persisted atomically by the topic store.
type TopicUpdate struct {
	Clusters    []Cluster
	Assignments []TopicAssignment
	Embeddings  []DocumentEmbedding

	// Replace drops clusters and assignments not present in the update.
	Replace bool
}
