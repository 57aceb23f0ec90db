package services

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/custodia-labs/debatepipe/internal/core/domain"
	"github.com/custodia-labs/debatepipe/internal/core/ports/driven"
	"github.com/custodia-labs/debatepipe/internal/core/ports/driving"
	"github.com/custodia-labs/debatepipe/internal/logger"
)

// Ensure TopicClusterer implements the interface.
var _ driving.TopicService = (*TopicClusterer)(nil)

// TopicClusterer administers topic clusters.
type TopicClusterer struct {
	store    driven.TopicStore
	cache    driven.ArtefactCache
	stage    string
	settings domain.TopicSettings
	now      func() time.Time
}

// NewTopicClusterer creates a topic service. Re-clustered assignments are
// written as artefacts of stage when it is set.
func NewTopicClusterer(
	store driven.TopicStore,
	cache driven.ArtefactCache,
	stage string,
	settings domain.TopicSettings,
) *TopicClusterer {
	defaults := domain.DefaultSettings().Topics
	if settings.Clusters <= 0 {
		settings.Clusters = defaults.Clusters
	}
	if settings.Iterations <= 0 {
		settings.Iterations = defaults.Iterations
	}
	return &TopicClusterer{
		store:    store,
		cache:    cache,
		stage:    stage,
		settings: settings,
		now:      time.Now,
	}
}

// Clusters returns the current clusters.
func (t *TopicClusterer) Clusters(ctx context.Context) ([]domain.Cluster, error) {
	clusters, err := t.store.ListClusters(ctx)
	if err != nil {
		return nil, fmt.Errorf("list clusters: %w", err)
	}
	return clusters, nil
}

// Label renames cluster id. The label is trimmed and must not be empty.
func (t *TopicClusterer) Label(ctx context.Context, id int, label string) (*domain.Cluster, error) {
	label = strings.TrimSpace(label)
	if label == "" {
		return nil, fmt.Errorf("%w: label is empty", domain.ErrInvalidInput)
	}
	if err := t.store.RenameCluster(ctx, id, label); err != nil {
		return nil, fmt.Errorf("label cluster: %w", err)
	}

	clusters, err := t.store.ListClusters(ctx)
	if err != nil {
		return nil, fmt.Errorf("list clusters: %w", err)
	}
	for _, c := range clusters {
		if c.ID == id {
			logger.Info("cluster %d labelled %q", id, label)
			return &c, nil
		}
	}
	return nil, fmt.Errorf("cluster %d: %w", id, domain.ErrNotFound)
}

// Recluster runs k-means over every stored embedding and replaces the
// clusters. New clusters inherit the id of the old cluster they overlap
// most; the rest get fresh ids.
func (t *TopicClusterer) Recluster(ctx context.Context) (*domain.ReclusterReport, error) {
	embeddings, err := t.store.ListEmbeddings(ctx)
	if err != nil {
		return nil, fmt.Errorf("list embeddings: %w", err)
	}
	report := &domain.ReclusterReport{Documents: len(embeddings)}
	if len(embeddings) == 0 {
		return report, nil
	}

	priorClusters, err := t.store.ListClusters(ctx)
	if err != nil {
		return nil, fmt.Errorf("list clusters: %w", err)
	}
	priorAssignments, err := t.store.ListAssignments(ctx)
	if err != nil {
		return nil, fmt.Errorf("list assignments: %w", err)
	}
	prior := make(map[string]int, len(priorAssignments))
	for _, a := range priorAssignments {
		prior[a.DocumentID] = a.ClusterID
	}

	vectors := make([][]float32, len(embeddings))
	for i, e := range embeddings {
		vectors[i] = e.Vector
	}
	k := min(t.settings.Clusters, len(vectors))
	membership, centroids := kmeans(vectors, k, t.settings.Iterations)

	ids, fresh := mapClusterIDs(membership, embeddings, prior, priorClusters)
	report.NewClusters = fresh

	labels := make(map[int]string, len(priorClusters))
	for _, c := range priorClusters {
		labels[c.ID] = c.Label
	}

	now := t.now().UTC()
	clusters := make(map[int]*domain.Cluster)
	update := domain.TopicUpdate{Replace: true}
	var reassigned []domain.TopicAssignment
	for i, e := range embeddings {
		group := membership[i]
		id := ids[group]
		c, ok := clusters[id]
		if !ok {
			label := labels[id]
			if label == "" {
				label = domain.TopicLabel(id)
			}
			c = &domain.Cluster{ID: id, Label: label, Centroid: centroids[group]}
			clusters[id] = c
		}
		c.Size++

		a := domain.TopicAssignment{
			DocumentID: e.DocumentID,
			ClusterID:  id,
			Similarity: domain.CosineSimilarity(e.Vector, centroids[group]),
			AssignedAt: now,
		}
		update.Assignments = append(update.Assignments, a)
		if old, ok := prior[e.DocumentID]; !ok || old != id {
			reassigned = append(reassigned, a)
		}
	}
	for _, c := range clusters {
		c.UpdatedAt = now
		update.Clusters = append(update.Clusters, *c)
	}
	sort.Slice(update.Clusters, func(i, j int) bool { return update.Clusters[i].ID < update.Clusters[j].ID })

	if err := t.store.SaveTopics(ctx, update); err != nil {
		return nil, fmt.Errorf("save topics: %w", err)
	}

	report.Clusters = len(update.Clusters)
	report.Reassigned = len(reassigned)
	if err := t.writeArtefacts(ctx, reassigned, clusters); err != nil {
		return report, err
	}

	logger.Info("re-clustered %d documents into %d topics, %d reassigned",
		report.Documents, report.Clusters, report.Reassigned)
	return report, nil
}

// writeArtefacts records the new assignment of each reassigned document
// as a topic stage output.
func (t *TopicClusterer) writeArtefacts(ctx context.Context, assignments []domain.TopicAssignment, clusters map[int]*domain.Cluster) error {
	if t.stage == "" || t.cache == nil {
		return nil
	}
	for _, a := range assignments {
		data, err := json.Marshal(domain.TopicOutput{
			DocumentID: a.DocumentID,
			ClusterID:  a.ClusterID,
			Label:      clusters[a.ClusterID].Label,
			Similarity: a.Similarity,
		})
		if err != nil {
			return fmt.Errorf("encode topic of %s: %w", a.DocumentID, err)
		}
		key := domain.ArtefactKey{DocumentID: a.DocumentID, Stage: t.stage, Unit: 0}
		if _, err := t.cache.Put(ctx, key, data); err != nil {
			return fmt.Errorf("store topic of %s: %w", a.DocumentID, err)
		}
	}
	return nil
}

// kmeans clusters vectors into k groups by cosine similarity. Seeds are
// chosen by farthest-point traversal from the first vector, so the result
// depends only on the input order. It returns the group of every vector and
// the group centroids.
func kmeans(vectors [][]float32, k, iterations int) ([]int, [][]float32) {
	centroids := farthestPointSeeds(vectors, k)
	membership := make([]int, len(vectors))
	for i := range membership {
		membership[i] = -1
	}

	for iter := 0; iter < iterations; iter++ {
		changed := false
		for i, v := range vectors {
			best := nearest(v, centroids)
			if best != membership[i] {
				membership[i] = best
				changed = true
			}
		}
		if !changed {
			break
		}

		sums := make([]domain.Cluster, k)
		for i, v := range vectors {
			sums[membership[i]].Add(v)
		}
		for g := range centroids {
			if sums[g].Size > 0 {
				centroids[g] = sums[g].Centroid
			}
		}
	}
	return membership, centroids
}

// farthestPointSeeds picks k seeds, each the vector least similar to the
// seeds chosen so far. Ties go to the earlier vector.
func farthestPointSeeds(vectors [][]float32, k int) [][]float32 {
	seeds := [][]float32{append([]float32(nil), vectors[0]...)}
	closest := make([]float64, len(vectors))
	for i, v := range vectors {
		closest[i] = domain.CosineSimilarity(v, seeds[0])
	}

	for len(seeds) < k {
		pick := -1
		for i := range vectors {
			if pick < 0 || closest[i] < closest[pick] {
				pick = i
			}
		}
		seed := append([]float32(nil), vectors[pick]...)
		seeds = append(seeds, seed)
		for i, v := range vectors {
			if sim := domain.CosineSimilarity(v, seed); sim > closest[i] {
				closest[i] = sim
			}
		}
	}
	return seeds
}

// nearest returns the index of the most similar centroid, lowest on ties.
func nearest(v []float32, centroids [][]float32) int {
	best, bestSim := 0, -2.0
	for g, c := range centroids {
		if sim := domain.CosineSimilarity(v, c); sim > bestSim {
			best, bestSim = g, sim
		}
	}
	return best
}

// mapClusterIDs gives each k-means group a cluster id. Groups are matched
// to old clusters greedily by membership overlap; unmatched groups get ids
// above every old id. It returns the id per group and the fresh ids.
func mapClusterIDs(
	membership []int,
	embeddings []domain.DocumentEmbedding,
	prior map[string]int,
	priorClusters []domain.Cluster,
) (map[int]int, []int) {
	type overlap struct {
		group, old, count int
	}
	counts := make(map[[2]int]int)
	groups := make(map[int]bool)
	for i, e := range embeddings {
		groups[membership[i]] = true
		if old, ok := prior[e.DocumentID]; ok {
			counts[[2]int{membership[i], old}]++
		}
	}
	pairs := make([]overlap, 0, len(counts))
	for key, n := range counts {
		pairs = append(pairs, overlap{group: key[0], old: key[1], count: n})
	}
	sort.Slice(pairs, func(i, j int) bool {
		if pairs[i].count != pairs[j].count {
			return pairs[i].count > pairs[j].count
		}
		if pairs[i].group != pairs[j].group {
			return pairs[i].group < pairs[j].group
		}
		return pairs[i].old < pairs[j].old
	})

	ids := make(map[int]int, len(groups))
	used := make(map[int]bool)
	for _, p := range pairs {
		if _, done := ids[p.group]; done || used[p.old] {
			continue
		}
		ids[p.group] = p.old
		used[p.old] = true
	}

	next := 1
	for _, c := range priorClusters {
		if c.ID >= next {
			next = c.ID + 1
		}
	}
	for _, a := range prior {
		if a >= next {
			next = a + 1
		}
	}

	ordered := make([]int, 0, len(groups))
	for g := range groups {
		ordered = append(ordered, g)
	}
	sort.Ints(ordered)
	var fresh []int
	for _, g := range ordered {
		if _, ok := ids[g]; ok {
			continue
		}
		ids[g] = next
		fresh = append(fresh, next)
		next++
	}
	return ids, fresh
}
