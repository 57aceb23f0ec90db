package memory

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/custodia-labs/debatepipe/internal/core/domain"
	"github.com/custodia-labs/debatepipe/internal/core/ports/driven"
)

// Ensure Store implements the interfaces.
var (
	_ driven.StateStore    = (*Store)(nil)
	_ driven.ArtefactCache = (*Store)(nil)
	_ driven.TopicStore    = (*Store)(nil)
)

// Store is an in-memory state store, artefact cache and topic store.
// It follows the same compare-and-set rules as the SQLite store and is
// used for tests and dry runs.
type Store struct {
	mu        sync.RWMutex
	documents map[string]*domain.Document
	conflicts []domain.IdentityConflict

	artefacts map[domain.ArtefactRef]*domain.Artefact
	blobs     map[domain.ArtefactRef][]byte

	clusters    map[int]domain.Cluster
	assignments map[string]domain.TopicAssignment
	embeddings  map[string]domain.DocumentEmbedding
}

// NewStore creates an empty in-memory store.
func NewStore() *Store {
	return &Store{
		documents:   make(map[string]*domain.Document),
		artefacts:   make(map[domain.ArtefactRef]*domain.Artefact),
		blobs:       make(map[domain.ArtefactRef][]byte),
		clusters:    make(map[int]domain.Cluster),
		assignments: make(map[string]domain.TopicAssignment),
		embeddings:  make(map[string]domain.DocumentEmbedding),
	}
}

// ==================== StateStore ====================

// CreateDocument inserts a document with its stage states.
func (s *Store) CreateDocument(_ context.Context, doc *domain.Document) error {
	if doc == nil || doc.ID == "" {
		return domain.ErrInvalidInput
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.documents[doc.ID]; exists {
		return fmt.Errorf("document %s: %w", doc.ID, domain.ErrAlreadyExists)
	}

	now := time.Now().UTC()
	if doc.CreatedAt.IsZero() {
		doc.CreatedAt = now
	}
	doc.UpdatedAt = now
	if doc.Version == 0 {
		doc.Version = 1
	}
	for i := range doc.Stages {
		doc.Stages[i].DocumentID = doc.ID
		doc.Stages[i].UpdatedAt = now
		if doc.Stages[i].Status == "" {
			doc.Stages[i].Status = domain.StatusPending
		}
	}

	s.documents[doc.ID] = copyDocument(doc)
	return nil
}

// GetDocument returns a copy of a document.
func (s *Store) GetDocument(_ context.Context, id string) (*domain.Document, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	doc, ok := s.documents[id]
	if !ok {
		return nil, fmt.Errorf("document %s: %w", id, domain.ErrNotFound)
	}
	return copyDocument(doc), nil
}

// ListDocuments returns documents matching filter, ordered by id.
func (s *Store) ListDocuments(_ context.Context, filter domain.DocumentFilter) ([]domain.Document, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []domain.Document
	for _, id := range s.sortedIDs() {
		doc := s.documents[id]
		if filter.DocumentID != "" && id != filter.DocumentID {
			continue
		}
		if filter.Status != "" && !hasStatus(doc, filter.Status) {
			continue
		}
		out = append(out, *copyDocument(doc))
		if filter.Limit > 0 && len(out) == filter.Limit {
			break
		}
	}
	return out, nil
}

// ReviseDocument records new content and resets the document's lifecycle.
func (s *Store) ReviseDocument(_ context.Context, rev driven.DocumentRevision) (*domain.Document, error) {
	if rev.DocumentID == "" || rev.ContentHash == "" {
		return nil, domain.ErrInvalidInput
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	doc, ok := s.documents[rev.DocumentID]
	if !ok {
		return nil, fmt.Errorf("document %s: %w", rev.DocumentID, domain.ErrNotFound)
	}
	if rev.ExpectedHash != "" && doc.ContentHash != rev.ExpectedHash {
		return nil, fmt.Errorf("document %s changed concurrently: %w", rev.DocumentID, domain.ErrClaimLost)
	}

	now := time.Now().UTC()
	doc.SourceURI = rev.SourceURI
	if rev.Title != "" {
		doc.Title = rev.Title
	}
	doc.ContentHash = rev.ContentHash
	doc.Size = rev.Size
	doc.RetrievedAt = rev.RetrievedAt
	doc.Version++
	doc.UpdatedAt = now

	for i := range doc.Stages {
		st := &doc.Stages[i]
		st.Status = domain.StatusPending
		st.Attempts = 0
		st.Reason = ""
		st.NextAttemptAt = time.Time{}
		st.Owner = ""
		st.StartedAt = time.Time{}
		st.HeartbeatAt = time.Time{}
		st.FinishedAt = time.Time{}
		st.UpdatedAt = now
	}

	for _, a := range s.artefacts {
		if a.Key.DocumentID == rev.DocumentID && a.Key.Stage != domain.SourceStage && a.Current() {
			a.SupersededAt = now
		}
	}

	return copyDocument(doc), nil
}

// ListCandidates returns pending pairs with their upstream status.
func (s *Store) ListCandidates(_ context.Context, opts domain.ProcessOptions) ([]domain.Candidate, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []domain.Candidate
	for _, id := range s.sortedIDs() {
		if opts.DocumentID != "" && id != opts.DocumentID {
			continue
		}
		doc := s.documents[id]
		for i, st := range doc.Stages {
			if st.Status != domain.StatusPending {
				continue
			}
			if opts.Stage != "" && st.Stage != opts.Stage {
				continue
			}
			c := domain.Candidate{State: st}
			if i > 0 {
				c.UpstreamStatus = doc.Stages[i-1].Status
			}
			out = append(out, c)
		}
	}
	return out, nil
}

// Claim moves a pair from pending to running.
func (s *Store) Claim(_ context.Context, req driven.ClaimRequest) (*domain.StageState, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	doc, i, err := s.locate(req.Key)
	if err != nil {
		return nil, fmt.Errorf("claim %s: %w", req.Key, domain.ErrClaimLost)
	}
	st := &doc.Stages[i]
	now := req.Now.UTC()

	if st.Status != domain.StatusPending || st.NextAttemptAt.After(now) {
		return nil, fmt.Errorf("claim %s: %w", req.Key, domain.ErrClaimLost)
	}
	if i > 0 && len(req.UpstreamStatuses) > 0 && !containsStatus(req.UpstreamStatuses, doc.Stages[i-1].Status) {
		return nil, fmt.Errorf("claim %s: %w", req.Key, domain.ErrClaimLost)
	}

	st.Status = domain.StatusRunning
	st.Owner = req.Owner
	st.StartedAt = now
	st.HeartbeatAt = now
	st.UpdatedAt = now
	out := *st
	return &out, nil
}

// Heartbeat refreshes the liveness of a running pair.
func (s *Store) Heartbeat(_ context.Context, key domain.StageKey, owner string, now time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	st, err := s.held(key, owner, "heartbeat")
	if err != nil {
		return err
	}
	st.HeartbeatAt = now
	return nil
}

// Finish records an outcome for a running pair.
func (s *Store) Finish(_ context.Context, key domain.StageKey, owner string, outcome driven.StageOutcome) error {
	switch outcome.Status {
	case domain.StatusDone, domain.StatusFailed, domain.StatusPending:
	default:
		return fmt.Errorf("finish %s with status %q: %w", key, outcome.Status, domain.ErrInvalidInput)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	st, err := s.held(key, owner, "finishing stage")
	if err != nil {
		return err
	}

	at := outcome.At
	if at.IsZero() {
		at = time.Now()
	}
	st.Status = outcome.Status
	st.Reason = outcome.Reason
	if outcome.Status == domain.StatusDone {
		st.Reason = ""
	}
	if outcome.CountAttempt {
		st.Attempts++
	}
	st.NextAttemptAt = outcome.NextAttemptAt
	st.Owner = ""
	st.HeartbeatAt = time.Time{}
	st.FinishedAt = at
	st.UpdatedAt = at
	return nil
}

// ReconcileStages aligns stage rows with the declared pipeline.
func (s *Store) ReconcileStages(_ context.Context, stages []string) (int, error) {
	if len(stages) == 0 {
		return 0, fmt.Errorf("reconcile with no stages: %w", domain.ErrInvalidInput)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	n := 0
	now := time.Now()
	for _, doc := range s.documents {
		existing := make(map[string]domain.StageState, len(doc.Stages))
		for _, st := range doc.Stages {
			existing[st.Stage] = st
		}

		rebuilt := make([]domain.StageState, 0, len(stages))
		for pos, name := range stages {
			st, ok := existing[name]
			switch {
			case !ok:
				st = domain.StageState{DocumentID: doc.ID, Stage: name, Position: pos, Status: domain.StatusPending, UpdatedAt: now}
				n++
			case st.Position != pos:
				st.Position = pos
				st.UpdatedAt = now
				n++
			}
			delete(existing, name)
			rebuilt = append(rebuilt, st)
		}
		n += len(existing)
		doc.Stages = rebuilt
	}
	return n, nil
}

// RecoverStale resets running pairs with stale or missing heartbeats.
func (s *Store) RecoverStale(_ context.Context, before time.Time) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	n := 0
	now := time.Now()
	for _, doc := range s.documents {
		for i := range doc.Stages {
			st := &doc.Stages[i]
			if st.Status != domain.StatusRunning {
				continue
			}
			if !st.HeartbeatAt.IsZero() && !st.HeartbeatAt.Before(before) {
				continue
			}
			st.Status = domain.StatusPending
			st.Owner = ""
			st.HeartbeatAt = time.Time{}
			st.UpdatedAt = now
			n++
		}
	}
	return n, nil
}

// Requeue resets failed pairs to pending.
func (s *Store) Requeue(_ context.Context, filter domain.RequeueFilter) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	n := 0
	now := time.Now()
	for id, doc := range s.documents {
		if filter.DocumentID != "" && id != filter.DocumentID {
			continue
		}
		for i := range doc.Stages {
			st := &doc.Stages[i]
			if st.Status != domain.StatusFailed || (filter.Stage != "" && st.Stage != filter.Stage) {
				continue
			}
			st.Status = domain.StatusPending
			st.Attempts = 0
			st.Reason = ""
			st.NextAttemptAt = time.Time{}
			st.UpdatedAt = now
			n++
		}
	}
	return n, nil
}

// Skip marks a pending or failed pair as skipped.
func (s *Store) Skip(_ context.Context, key domain.StageKey, reason string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	doc, i, err := s.locate(key)
	if err != nil {
		return fmt.Errorf("skipping stage %s: %w", key, err)
	}
	st := &doc.Stages[i]
	if st.Status != domain.StatusPending && st.Status != domain.StatusFailed {
		return fmt.Errorf("skipping stage %s: %w", key, domain.ErrClaimLost)
	}
	st.Status = domain.StatusSkipped
	st.Reason = reason
	st.NextAttemptAt = time.Time{}
	st.UpdatedAt = time.Now()
	return nil
}

// StageCounts returns status counts per stage in pipeline order.
func (s *Store) StageCounts(_ context.Context) ([]domain.StageCount, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	positions := make(map[string]int)
	counts := make(map[string]map[domain.StageStatus]int)
	for _, doc := range s.documents {
		for _, st := range doc.Stages {
			if _, ok := counts[st.Stage]; !ok {
				counts[st.Stage] = make(map[domain.StageStatus]int)
				positions[st.Stage] = st.Position
			}
			counts[st.Stage][st.Status]++
		}
	}

	out := make([]domain.StageCount, 0, len(counts))
	for stage, c := range counts {
		out = append(out, domain.StageCount{Stage: stage, Counts: c})
	}
	sort.Slice(out, func(i, j int) bool {
		pi, pj := positions[out[i].Stage], positions[out[j].Stage]
		if pi != pj {
			return pi < pj
		}
		return out[i].Stage < out[j].Stage
	})
	return out, nil
}

// ListFailures returns failed pairs.
func (s *Store) ListFailures(_ context.Context, opts domain.ProcessOptions) ([]domain.StageFailure, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []domain.StageFailure
	for _, id := range s.sortedIDs() {
		if opts.DocumentID != "" && id != opts.DocumentID {
			continue
		}
		for _, st := range s.documents[id].Stages {
			if st.Status != domain.StatusFailed || (opts.Stage != "" && st.Stage != opts.Stage) {
				continue
			}
			out = append(out, domain.StageFailure{
				DocumentID: id,
				Stage:      st.Stage,
				Attempts:   st.Attempts,
				Reason:     st.Reason,
			})
		}
	}
	return out, nil
}

// RecordConflict persists an identity conflict.
func (s *Store) RecordConflict(_ context.Context, c *domain.IdentityConflict) error {
	if c == nil {
		return domain.ErrInvalidInput
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if c.DetectedAt.IsZero() {
		c.DetectedAt = time.Now().UTC()
	}
	c.ID = int64(len(s.conflicts) + 1)
	s.conflicts = append(s.conflicts, *c)
	return nil
}

// ListConflicts returns the most recent conflicts first.
func (s *Store) ListConflicts(_ context.Context, limit int) ([]domain.IdentityConflict, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]domain.IdentityConflict, 0, len(s.conflicts))
	for i := len(s.conflicts) - 1; i >= 0; i-- {
		out = append(out, s.conflicts[i])
		if limit > 0 && len(out) == limit {
			break
		}
	}
	return out, nil
}

// ==================== ArtefactCache ====================

// Put stores data under key.
func (s *Store) Put(_ context.Context, key domain.ArtefactKey, data []byte) (domain.ArtefactRef, error) {
	if key.DocumentID == "" || key.Stage == "" || key.Unit < 0 {
		return "", fmt.Errorf("artefact %s: %w", key, domain.ErrInvalidInput)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	return s.put(key, data), nil
}

// PutOutput stores data under key while claim is still held.
func (s *Store) PutOutput(_ context.Context, claim driven.OutputClaim, key domain.ArtefactKey, data []byte) (domain.ArtefactRef, error) {
	if key.DocumentID == "" || key.Stage == "" || key.Unit < 0 ||
		key.DocumentID != claim.Key.DocumentID || key.Stage != claim.Key.Stage {
		return "", fmt.Errorf("artefact %s: %w", key, domain.ErrInvalidInput)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.checkClaim(claim); err != nil {
		return "", err
	}
	return s.put(key, data), nil
}

// put indexes data under key (caller must hold lock).
func (s *Store) put(key domain.ArtefactKey, data []byte) domain.ArtefactRef {
	hash := domain.HashContent(data)
	ref := domain.NewArtefactRef(key, hash)

	if cur := s.current(key); cur != nil && cur.Ref == ref {
		return ref
	}

	now := time.Now().UTC()
	version := 0
	for _, a := range s.artefacts {
		if a.Key != key {
			continue
		}
		if a.Current() {
			a.SupersededAt = now
		}
		if a.Version > version {
			version = a.Version
		}
	}

	s.blobs[ref] = append([]byte(nil), data...)
	if a, ok := s.artefacts[ref]; ok {
		a.Version = version + 1
		a.SupersededAt = time.Time{}
		return ref
	}
	s.artefacts[ref] = &domain.Artefact{
		Key:         key,
		Ref:         ref,
		ContentHash: hash,
		Size:        int64(len(data)),
		Version:     version + 1,
		CreatedAt:   now,
	}
	return ref
}

// Get returns the bytes behind ref and verifies them.
func (s *Store) Get(_ context.Context, ref domain.ArtefactRef) ([]byte, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	a, ok := s.artefacts[ref]
	if !ok {
		return nil, fmt.Errorf("artefact %s: %w", ref, domain.ErrNotFound)
	}
	data, ok := s.blobs[ref]
	if !ok || domain.HashContent(data) != a.ContentHash {
		return nil, fmt.Errorf("artefact %s: %w", ref, domain.ErrCorruptArtefact)
	}
	return append([]byte(nil), data...), nil
}

// Exists reports whether key has a current artefact.
func (s *Store) Exists(_ context.Context, key domain.ArtefactKey) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.current(key) != nil, nil
}

// Current returns the current artefact for key.
func (s *Store) Current(_ context.Context, key domain.ArtefactKey) (*domain.Artefact, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	a := s.current(key)
	if a == nil {
		return nil, fmt.Errorf("artefact %s: %w", key, domain.ErrNotFound)
	}
	out := *a
	return &out, nil
}

// List returns current artefacts for a document.
func (s *Store) List(_ context.Context, documentID, stage string) ([]domain.Artefact, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []domain.Artefact
	for _, a := range s.artefacts {
		if a.Key.DocumentID != documentID || !a.Current() {
			continue
		}
		if stage != "" && a.Key.Stage != stage {
			continue
		}
		out = append(out, *a)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Key.Stage != out[j].Key.Stage {
			return out[i].Key.Stage < out[j].Key.Stage
		}
		return out[i].Key.Unit < out[j].Key.Unit
	})
	return out, nil
}

// Lookup finds the artefact of key with contentHash.
func (s *Store) Lookup(_ context.Context, key domain.ArtefactKey, contentHash string) (*domain.Artefact, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	a, ok := s.artefacts[domain.NewArtefactRef(key, contentHash)]
	if !ok {
		return nil, fmt.Errorf("artefact %s@%s: %w", key, contentHash, domain.ErrNotFound)
	}
	out := *a
	return &out, nil
}

// Retain supersedes current outputs of the claimed pair outside units.
func (s *Store) Retain(_ context.Context, claim driven.OutputClaim, units []int) (int, error) {
	keep := make(map[int]bool, len(units))
	for _, u := range units {
		keep[u] = true
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.checkClaim(claim); err != nil {
		return 0, err
	}

	documentID, stage := claim.Key.DocumentID, claim.Key.Stage
	n := 0
	now := time.Now().UTC()
	for _, a := range s.artefacts {
		if a.Key.DocumentID != documentID || a.Key.Stage != stage || !a.Current() || keep[a.Key.Unit] {
			continue
		}
		a.SupersededAt = now
		n++
	}
	return n, nil
}

// Prune deletes artefacts superseded before the cutoff.
func (s *Store) Prune(_ context.Context, before time.Time) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	n := 0
	for ref, a := range s.artefacts {
		if a.Current() || !a.SupersededAt.Before(before) {
			continue
		}
		delete(s.artefacts, ref)
		delete(s.blobs, ref)
		n++
	}
	return n, nil
}

// ==================== TopicStore ====================

// ListClusters returns clusters ordered by id.
func (s *Store) ListClusters(_ context.Context) ([]domain.Cluster, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]domain.Cluster, 0, len(s.clusters))
	for _, c := range s.clusters {
		c.Centroid = append([]float32(nil), c.Centroid...)
		out = append(out, c)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

// ListAssignments returns all assignments ordered by document id.
func (s *Store) ListAssignments(_ context.Context) ([]domain.TopicAssignment, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]domain.TopicAssignment, 0, len(s.assignments))
	for _, a := range s.assignments {
		out = append(out, a)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].DocumentID < out[j].DocumentID })
	return out, nil
}

// ListEmbeddings returns stored embeddings ordered by document id.
func (s *Store) ListEmbeddings(_ context.Context) ([]domain.DocumentEmbedding, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]domain.DocumentEmbedding, 0, len(s.embeddings))
	for _, e := range s.embeddings {
		e.Vector = append([]float32(nil), e.Vector...)
		out = append(out, e)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].DocumentID < out[j].DocumentID })
	return out, nil
}

// SaveTopics upserts clusters, assignments and embeddings atomically.
func (s *Store) SaveTopics(_ context.Context, update domain.TopicUpdate) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := time.Now().UTC()
	if update.Replace {
		s.clusters = make(map[int]domain.Cluster)
		s.assignments = make(map[string]domain.TopicAssignment)
	}

	for _, c := range update.Clusters {
		if prev, ok := s.clusters[c.ID]; ok {
			c.CreatedAt = prev.CreatedAt
		} else if c.CreatedAt.IsZero() {
			c.CreatedAt = now
		}
		c.UpdatedAt = now
		c.Centroid = append([]float32(nil), c.Centroid...)
		s.clusters[c.ID] = c
	}
	for _, a := range update.Assignments {
		if a.AssignedAt.IsZero() {
			a.AssignedAt = now
		}
		s.assignments[a.DocumentID] = a
	}
	for _, e := range update.Embeddings {
		e.Vector = append([]float32(nil), e.Vector...)
		s.embeddings[e.DocumentID] = e
	}
	return nil
}

// RenameCluster sets a cluster's label.
func (s *Store) RenameCluster(_ context.Context, id int, label string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	c, ok := s.clusters[id]
	if !ok {
		return fmt.Errorf("cluster %d: %w", id, domain.ErrNotFound)
	}
	c.Label = label
	c.UpdatedAt = time.Now().UTC()
	s.clusters[id] = c
	return nil
}

// ==================== Helper Functions ====================

// sortedIDs returns document ids in order (caller must hold lock).
func (s *Store) sortedIDs() []string {
	ids := make([]string, 0, len(s.documents))
	for id := range s.documents {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// locate finds the stage state for key (caller must hold lock).
func (s *Store) locate(key domain.StageKey) (*domain.Document, int, error) {
	doc, ok := s.documents[key.DocumentID]
	if !ok {
		return nil, -1, domain.ErrNotFound
	}
	for i := range doc.Stages {
		if doc.Stages[i].Stage == key.Stage {
			return doc, i, nil
		}
	}
	return nil, -1, domain.ErrNotFound
}

// held returns the running state owned by owner (caller must hold lock).
func (s *Store) held(key domain.StageKey, owner, op string) (*domain.StageState, error) {
	doc, i, err := s.locate(key)
	if err != nil {
		return nil, fmt.Errorf("%s %s: %w", op, key, err)
	}
	st := &doc.Stages[i]
	if st.Status != domain.StatusRunning || st.Owner != owner {
		return nil, fmt.Errorf("%s %s: %w", op, key, domain.ErrClaimLost)
	}
	return st, nil
}

// checkClaim fails with domain.ErrClaimLost unless claim.Owner holds the
// running pair and the document still has claim.ContentHash (caller must
// hold lock).
func (s *Store) checkClaim(claim driven.OutputClaim) error {
	if _, err := s.held(claim.Key, claim.Owner, "outputs of"); err != nil {
		return err
	}
	if s.documents[claim.Key.DocumentID].ContentHash != claim.ContentHash {
		return fmt.Errorf("outputs of %s: %w", claim.Key, domain.ErrClaimLost)
	}
	return nil
}

// current returns the current artefact for key (caller must hold lock).
func (s *Store) current(key domain.ArtefactKey) *domain.Artefact {
	for _, a := range s.artefacts {
		if a.Key == key && a.Current() {
			return a
		}
	}
	return nil
}

func copyDocument(doc *domain.Document) *domain.Document {
	out := *doc
	out.Stages = append([]domain.StageState(nil), doc.Stages...)
	return &out
}

func hasStatus(doc *domain.Document, status domain.StageStatus) bool {
	for _, st := range doc.Stages {
		if st.Status == status {
			return true
		}
	}
	return false
}

func containsStatus(statuses []domain.StageStatus, status domain.StageStatus) bool {
	for _, s := range statuses {
		if s == status {
			return true
		}
	}
	return false
}
