// Package topics provides the corpus-mode topic assignment executor.
//
// Each document's input text is embedded and assigned to the nearest
// existing cluster by cosine similarity. Documents below the similarity
// threshold start a new cluster. Centroids are running means.
package topics

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/custodia-labs/debatepipe/internal/core/domain"
	"github.com/custodia-labs/debatepipe/internal/core/ports/driven"
	"github.com/custodia-labs/debatepipe/internal/logger"
)

// Ensure Executor implements the interface.
var _ driven.BatchExecutor = (*Executor)(nil)

// DefaultThreshold is the similarity needed to join a cluster.
const DefaultThreshold = 0.75

// Executor assigns documents to topic clusters.
type Executor struct {
	embedder  driven.EmbeddingService
	store     driven.TopicStore
	threshold float64
	now       func() time.Time

	// mu serialises batches so cluster updates never interleave.
	mu sync.Mutex
}

// Option configures the executor.
type Option func(*Executor)

// WithThreshold sets the similarity threshold.
func WithThreshold(threshold float64) Option {
	return func(e *Executor) {
		if threshold > 0 {
			e.threshold = threshold
		}
	}
}

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(e *Executor) {
		e.now = now
	}
}

// New creates a topics executor.
func New(embedder driven.EmbeddingService, store driven.TopicStore, opts ...Option) (*Executor, error) {
	if embedder == nil {
		return nil, domain.ErrEmbeddingUnavailable
	}
	if store == nil {
		return nil, fmt.Errorf("%w: topic store is required", domain.ErrInvalidInput)
	}
	e := &Executor{
		embedder:  embedder,
		store:     store,
		threshold: DefaultThreshold,
		now:       time.Now,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e, nil
}

// Run assigns a single document.
func (e *Executor) Run(ctx context.Context, in domain.StageInput) domain.StageResult {
	res, ok := e.RunBatch(ctx, []domain.StageInput{in})[in.DocumentID]
	if !ok {
		return domain.TransientFailure{Reason: "no result for document"}
	}
	return res
}

// RunBatch embeds every input in one request and assigns the documents
// in id order. Clusters, assignments and embeddings are saved together.
func (e *Executor) RunBatch(ctx context.Context, inputs []domain.StageInput) map[string]domain.StageResult {
	e.mu.Lock()
	defer e.mu.Unlock()

	results := make(map[string]domain.StageResult, len(inputs))

	sorted := make([]domain.StageInput, 0, len(inputs))
	for _, in := range inputs {
		if strings.TrimSpace(joinUnits(in.Units)) == "" {
			results[in.DocumentID] = domain.PermanentFailure{Reason: "no text to embed"}
			continue
		}
		sorted = append(sorted, in)
	}
	if len(sorted) == 0 {
		return results
	}
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].DocumentID < sorted[j].DocumentID })

	failAll := func(err error) map[string]domain.StageResult {
		res := domain.ResultFromError(err)
		for _, in := range sorted {
			results[in.DocumentID] = res
		}
		return results
	}

	texts := make([]string, len(sorted))
	for i, in := range sorted {
		texts[i] = joinUnits(in.Units)
	}
	vectors, err := e.embedder.EmbedBatch(ctx, texts)
	if err != nil {
		return failAll(fmt.Errorf("embed: %w", err))
	}
	if len(vectors) != len(sorted) {
		return failAll(fmt.Errorf("embed: got %d vectors for %d documents: %w", len(vectors), len(sorted), domain.ErrTransient))
	}

	update, outputs, err := e.assign(ctx, sorted, vectors)
	if err != nil {
		return failAll(err)
	}
	if err := e.store.SaveTopics(ctx, update); err != nil {
		return failAll(fmt.Errorf("save topics: %w", err))
	}

	for _, out := range outputs {
		data, err := json.Marshal(out)
		if err != nil {
			results[out.DocumentID] = domain.PermanentFailure{Reason: err.Error()}
			continue
		}
		results[out.DocumentID] = domain.Succeeded{Units: []domain.Unit{{Index: 0, Data: data}}}
	}
	logger.Debug("topics: assigned %d documents across %d clusters", len(outputs), len(update.Clusters))
	return results
}

// assign places each vector in a cluster, updating centroids as it goes.
func (e *Executor) assign(ctx context.Context, inputs []domain.StageInput, vectors [][]float32) (domain.TopicUpdate, []domain.TopicOutput, error) {
	clusters, err := e.store.ListClusters(ctx)
	if err != nil {
		return domain.TopicUpdate{}, nil, fmt.Errorf("list clusters: %w", err)
	}
	prior, err := e.priorAssignments(ctx, inputs)
	if err != nil {
		return domain.TopicUpdate{}, nil, err
	}

	now := e.now()
	byID := make(map[int]*domain.Cluster, len(clusters))
	nextID := 1
	for i := range clusters {
		byID[clusters[i].ID] = &clusters[i]
		if clusters[i].ID >= nextID {
			nextID = clusters[i].ID + 1
		}
	}
	touched := make(map[int]bool)

	update := domain.TopicUpdate{}
	outputs := make([]domain.TopicOutput, 0, len(inputs))

	for i, in := range inputs {
		vec := vectors[i]

		// own is the cluster the document was in. It stays a candidate
		// even if the document was its only member.
		own := 0
		if old, ok := prior[in.DocumentID]; ok {
			c := byID[old.clusterID]
			if c != nil && c.Size > 0 && sameVector(old.vector, vec) {
				// Unchanged embedding: the assignment stands.
				outputs = append(outputs, domain.TopicOutput{
					DocumentID: in.DocumentID,
					ClusterID:  c.ID,
					Label:      c.Label,
					Similarity: domain.CosineSimilarity(c.Centroid, vec),
				})
				continue
			}
			// A revised document leaves its old cluster before reassignment.
			if c != nil && old.vector != nil {
				c.Remove(old.vector)
				c.UpdatedAt = now
				touched[c.ID] = true
				own = c.ID
			}
		}

		best, bestSim := nearest(clusters, byID, vec, own)
		if best == nil || bestSim < e.threshold {
			clusters = append(clusters, domain.Cluster{
				ID:        nextID,
				Label:     domain.TopicLabel(nextID),
				CreatedAt: now,
			})
			// Appending may move the backing array.
			for j := range clusters {
				byID[clusters[j].ID] = &clusters[j]
			}
			best = &clusters[len(clusters)-1]
			bestSim = 1
			nextID++
		}
		best.Add(vec)
		best.UpdatedAt = now
		touched[best.ID] = true

		update.Assignments = append(update.Assignments, domain.TopicAssignment{
			DocumentID: in.DocumentID,
			ClusterID:  best.ID,
			Similarity: bestSim,
			AssignedAt: now,
		})
		update.Embeddings = append(update.Embeddings, domain.DocumentEmbedding{
			DocumentID: in.DocumentID,
			Vector:     vec,
		})
		outputs = append(outputs, domain.TopicOutput{
			DocumentID: in.DocumentID,
			ClusterID:  best.ID,
			Label:      best.Label,
			Similarity: bestSim,
		})
	}

	for _, c := range clusters {
		if touched[c.ID] {
			update.Clusters = append(update.Clusters, c)
		}
	}
	return update, outputs, nil
}

type priorAssignment struct {
	clusterID int
	vector    []float32
}

// priorAssignments returns the stored assignment and embedding of inputs
// that were assigned before.
func (e *Executor) priorAssignments(ctx context.Context, inputs []domain.StageInput) (map[string]priorAssignment, error) {
	wanted := make(map[string]bool, len(inputs))
	for _, in := range inputs {
		wanted[in.DocumentID] = true
	}

	assignments, err := e.store.ListAssignments(ctx)
	if err != nil {
		return nil, fmt.Errorf("list assignments: %w", err)
	}
	prior := make(map[string]priorAssignment)
	for _, a := range assignments {
		if wanted[a.DocumentID] {
			prior[a.DocumentID] = priorAssignment{clusterID: a.ClusterID}
		}
	}
	if len(prior) == 0 {
		return prior, nil
	}

	embeddings, err := e.store.ListEmbeddings(ctx)
	if err != nil {
		return nil, fmt.Errorf("list embeddings: %w", err)
	}
	for _, emb := range embeddings {
		if p, ok := prior[emb.DocumentID]; ok {
			p.vector = emb.Vector
			prior[emb.DocumentID] = p
		}
	}
	return prior, nil
}

// nearest returns the cluster most similar to vec. Empty clusters are
// skipped unless their id is own. Ties go to the lower id.
func nearest(clusters []domain.Cluster, byID map[int]*domain.Cluster, vec []float32, own int) (*domain.Cluster, float64) {
	var best *domain.Cluster
	bestSim := -2.0
	for _, c := range clusters {
		if c.Size == 0 && (own == 0 || c.ID != own) {
			continue
		}
		if sim := domain.CosineSimilarity(c.Centroid, vec); sim > bestSim {
			best, bestSim = byID[c.ID], sim
		}
	}
	return best, bestSim
}

func sameVector(a, b []float32) bool {
	if len(a) == 0 || len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

func joinUnits(units []domain.Unit) string {
	parts := make([]string, len(units))
	for i, u := range units {
		parts[i] = string(u.Data)
	}
	return strings.Join(parts, "\n\n")
}
