package services

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/custodia-labs/debatepipe/internal/core/domain"
	"github.com/custodia-labs/debatepipe/internal/core/ports/driven"
	"github.com/custodia-labs/debatepipe/internal/core/ports/driving"
	"github.com/custodia-labs/debatepipe/internal/logger"
)

// Ensure Resolver implements the interface.
var _ driving.Resolver = (*Resolver)(nil)

// maxReviseAttempts bounds retries when concurrent revisions race.
const maxReviseAttempts = 3

// Resolver maps incoming source items to stable document identities and
// keeps the state store in step with their content.
type Resolver struct {
	state    driven.StateStore
	cache    driven.ArtefactCache
	pipeline *domain.PipelineDefinition
	dedup    domain.DedupSettings
	metrics  driven.PipelineMetrics
	now      func() time.Time
}

// NewResolver creates a resolver.
func NewResolver(
	state driven.StateStore,
	cache driven.ArtefactCache,
	pipeline *domain.PipelineDefinition,
	dedup domain.DedupSettings,
) *Resolver {
	if !dedup.Policy.Valid() {
		dedup.Policy = domain.ConflictReject
	}
	return &Resolver{
		state:    state,
		cache:    cache,
		pipeline: pipeline,
		dedup:    dedup,
		metrics:  nopMetrics{},
		now:      time.Now,
	}
}

// SetMetrics records resolution outcomes to m.
func (r *Resolver) SetMetrics(m driven.PipelineMetrics) {
	if m != nil {
		r.metrics = m
	}
}

// Identify returns the document id and content hash of item.
func (r *Resolver) Identify(item domain.SourceItem) (id, contentHash string) {
	contentHash = domain.HashContent(item.Content)
	return domain.DocumentIdentity(item.PortalItemID, contentHash), contentHash
}

// Resolve identifies item, stores its raw bytes and creates or revises
// the document.
func (r *Resolver) Resolve(ctx context.Context, item domain.SourceItem) (*domain.Resolution, error) {
	id, hash := r.Identify(item)
	if item.RetrievedAt.IsZero() {
		item.RetrievedAt = r.now().UTC()
	}

	doc, err := r.state.GetDocument(ctx, id)
	switch {
	case errors.Is(err, domain.ErrNotFound):
		res, created, err := r.create(ctx, id, hash, item)
		if err != nil || created {
			return res, err
		}
		// Lost a create race: resolve against the winner.
		if doc, err = r.state.GetDocument(ctx, id); err != nil {
			return nil, fmt.Errorf("get document %s: %w", id, err)
		}
	case err != nil:
		return nil, fmt.Errorf("get document %s: %w", id, err)
	}

	for attempt := 1; ; attempt++ {
		res, err := r.resolveExisting(ctx, doc, hash, item)
		if !errors.Is(err, domain.ErrClaimLost) || attempt == maxReviseAttempts {
			return res, err
		}
		if doc, err = r.state.GetDocument(ctx, id); err != nil {
			return nil, fmt.Errorf("get document %s: %w", id, err)
		}
	}
}

// create stores the raw bytes and inserts a new document. created is
// false when another writer inserted the id first.
func (r *Resolver) create(ctx context.Context, id, hash string, item domain.SourceItem) (*domain.Resolution, bool, error) {
	if err := r.storeSource(ctx, id, item.Content); err != nil {
		return nil, false, err
	}

	doc := &domain.Document{
		ID:           id,
		PortalItemID: strings.TrimSpace(item.PortalItemID),
		SourceURI:    item.SourceURI,
		Title:        item.Title,
		RetrievedAt:  item.RetrievedAt,
		ContentHash:  hash,
		Size:         int64(len(item.Content)),
		Version:      1,
		Stages:       r.pipeline.NewStageStates(id),
	}
	err := r.state.CreateDocument(ctx, doc)
	if errors.Is(err, domain.ErrAlreadyExists) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("create document %s: %w", id, err)
	}

	logger.Debug("resolver: new document %s from %s", id, item.SourceURI)
	r.metrics.ObserveResolution("new")
	return &domain.Resolution{DocumentID: id, IsNew: true, Version: 1}, true, nil
}

func (r *Resolver) resolveExisting(ctx context.Context, doc *domain.Document, hash string, item domain.SourceItem) (*domain.Resolution, error) {
	if doc.ContentHash == hash {
		r.metrics.ObserveResolution("unchanged")
		return &domain.Resolution{DocumentID: doc.ID, Version: doc.Version}, nil
	}

	if r.isConflict(doc, item) {
		conflict := domain.IdentityConflict{
			DocumentID:   doc.ID,
			ExistingURI:  doc.SourceURI,
			IncomingURI:  item.SourceURI,
			ExistingHash: doc.ContentHash,
			IncomingHash: hash,
			ExistingSize: doc.Size,
			IncomingSize: int64(len(item.Content)),
			DetectedAt:   r.now().UTC(),
		}
		if err := r.state.RecordConflict(ctx, &conflict); err != nil {
			return nil, fmt.Errorf("record conflict for %s: %w", doc.ID, err)
		}
		logger.Warn("identity conflict for %s: %s differs from %s", doc.ID, item.SourceURI, doc.SourceURI)
		r.metrics.ObserveResolution("conflict")
		return nil, &domain.IdentityConflictError{Conflict: conflict}
	}

	if err := r.storeSource(ctx, doc.ID, item.Content); err != nil {
		return nil, err
	}
	revised, err := r.state.ReviseDocument(ctx, driven.DocumentRevision{
		DocumentID:   doc.ID,
		SourceURI:    item.SourceURI,
		Title:        item.Title,
		ContentHash:  hash,
		Size:         int64(len(item.Content)),
		RetrievedAt:  item.RetrievedAt,
		ExpectedHash: doc.ContentHash,
	})
	if err != nil {
		return nil, fmt.Errorf("revise document %s: %w", doc.ID, err)
	}

	logger.Info("resolver: %s revised to version %d", doc.ID, revised.Version)
	r.metrics.ObserveResolution("revised")
	return &domain.Resolution{DocumentID: doc.ID, Revised: true, Version: revised.Version}, nil
}

// isConflict applies the conflict policy to changed content.
func (r *Resolver) isConflict(doc *domain.Document, item domain.SourceItem) bool {
	if r.dedup.Policy != domain.ConflictReject {
		return false
	}
	if doc.SourceURI == "" || item.SourceURI == "" || doc.SourceURI == item.SourceURI {
		return false
	}
	return relativeSizeChange(doc.Size, int64(len(item.Content))) > r.dedup.Threshold
}

// storeSource caches the raw bytes as unit 0 of the source stage.
func (r *Resolver) storeSource(ctx context.Context, id string, content []byte) error {
	key := domain.ArtefactKey{DocumentID: id, Stage: domain.SourceStage, Unit: 0}
	if _, err := r.cache.Put(ctx, key, content); err != nil {
		return fmt.Errorf("store source of %s: %w", id, err)
	}
	return nil
}

// relativeSizeChange returns |new-old| / max(old, 1).
func relativeSizeChange(oldSize, newSize int64) float64 {
	diff := newSize - oldSize
	if diff < 0 {
		diff = -diff
	}
	base := oldSize
	if base < 1 {
		base = 1
	}
	return float64(diff) / float64(base)
}
