package services

import (
	"context"
	"fmt"
	"time"

	"github.com/custodia-labs/debatepipe/internal/core/domain"
	"github.com/custodia-labs/debatepipe/internal/core/ports/driven"
	"github.com/custodia-labs/debatepipe/internal/core/ports/driving"
)

// Ensure services implement the interfaces.
var (
	_ driving.StatusService   = (*StatusReporter)(nil)
	_ driving.ArtefactService = (*ArtefactBrowser)(nil)
)

// StatusReporter summarises pipeline state for the CLI.
type StatusReporter struct {
	state    driven.StateStore
	pipeline *domain.PipelineDefinition
}

// NewStatusReporter creates a status service.
func NewStatusReporter(state driven.StateStore, pipeline *domain.PipelineDefinition) *StatusReporter {
	return &StatusReporter{state: state, pipeline: pipeline}
}

// Report returns counts per stage in pipeline order and every failed pair.
func (s *StatusReporter) Report(ctx context.Context) (*driving.StatusReport, error) {
	docs, err := s.state.ListDocuments(ctx, domain.DocumentFilter{})
	if err != nil {
		return nil, fmt.Errorf("list documents: %w", err)
	}
	counts, err := s.state.StageCounts(ctx)
	if err != nil {
		return nil, fmt.Errorf("stage counts: %w", err)
	}
	failures, err := s.state.ListFailures(ctx, domain.ProcessOptions{})
	if err != nil {
		return nil, fmt.Errorf("list failures: %w", err)
	}
	conflicts, err := s.state.ListConflicts(ctx, 0)
	if err != nil {
		return nil, fmt.Errorf("list conflicts: %w", err)
	}

	byStage := make(map[string]domain.StageCount, len(counts))
	for _, c := range counts {
		byStage[c.Stage] = c
	}
	report := &driving.StatusReport{
		Documents: len(docs),
		Stages:    make([]driving.StageStatusCount, 0, s.pipeline.Len()),
		Failures:  failures,
		Conflicts: len(conflicts),
	}
	for _, name := range s.pipeline.Names() {
		c := byStage[name]
		report.Stages = append(report.Stages, driving.StageStatusCount{
			Stage:   name,
			Pending: c.Counts[domain.StatusPending],
			Running: c.Counts[domain.StatusRunning],
			Done:    c.Counts[domain.StatusDone],
			Failed:  c.Counts[domain.StatusFailed],
			Skipped: c.Counts[domain.StatusSkipped],
		})
	}
	if report.Failures == nil {
		report.Failures = []domain.StageFailure{}
	}
	return report, nil
}

// Document returns one document with its stage states.
func (s *StatusReporter) Document(ctx context.Context, id string) (*domain.Document, error) {
	doc, err := s.state.GetDocument(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("get document %s: %w", id, err)
	}
	return doc, nil
}

// Conflicts returns recorded identity conflicts, newest first.
func (s *StatusReporter) Conflicts(ctx context.Context, limit int) ([]domain.IdentityConflict, error) {
	conflicts, err := s.state.ListConflicts(ctx, limit)
	if err != nil {
		return nil, fmt.Errorf("list conflicts: %w", err)
	}
	return conflicts, nil
}

// ArtefactBrowser reads and prunes cached stage outputs.
type ArtefactBrowser struct {
	cache    driven.ArtefactCache
	pipeline *domain.PipelineDefinition
	now      func() time.Time
}

// NewArtefactBrowser creates an artefact service.
func NewArtefactBrowser(cache driven.ArtefactCache, pipeline *domain.PipelineDefinition) *ArtefactBrowser {
	return &ArtefactBrowser{cache: cache, pipeline: pipeline, now: time.Now}
}

// List returns current artefacts of a document. Without a stage it lists
// the source and every declared stage in pipeline order.
func (b *ArtefactBrowser) List(ctx context.Context, documentID, stage string) ([]domain.Artefact, error) {
	if documentID == "" {
		return nil, fmt.Errorf("%w: document id is required", domain.ErrInvalidInput)
	}
	stages := []string{stage}
	if stage == "" {
		stages = append([]string{domain.SourceStage}, b.pipeline.Names()...)
	} else if stage != domain.SourceStage && b.pipeline.Index(stage) < 0 {
		return nil, fmt.Errorf("%w: %q", domain.ErrUnknownStage, stage)
	}

	var out []domain.Artefact
	for _, name := range stages {
		arts, err := b.cache.List(ctx, documentID, name)
		if err != nil {
			return nil, fmt.Errorf("list %s artefacts: %w", name, err)
		}
		out = append(out, arts...)
	}
	return out, nil
}

// Read returns the current bytes of key, or the version with contentHash
// when it is set.
func (b *ArtefactBrowser) Read(ctx context.Context, key domain.ArtefactKey, contentHash string) ([]byte, *domain.Artefact, error) {
	var (
		art *domain.Artefact
		err error
	)
	if contentHash == "" {
		art, err = b.cache.Current(ctx, key)
	} else {
		art, err = b.cache.Lookup(ctx, key, contentHash)
	}
	if err != nil {
		return nil, nil, fmt.Errorf("find %s: %w", key, err)
	}
	data, err := b.cache.Get(ctx, art.Ref)
	if err != nil {
		return nil, nil, fmt.Errorf("read %s: %w", key, err)
	}
	return data, art, nil
}

// Prune deletes artefacts superseded longer than olderThan ago.
func (b *ArtefactBrowser) Prune(ctx context.Context, olderThan time.Duration) (int, error) {
	if olderThan < 0 {
		return 0, fmt.Errorf("%w: negative age %s", domain.ErrInvalidInput, olderThan)
	}
	n, err := b.cache.Prune(ctx, b.now().Add(-olderThan))
	if err != nil {
		return 0, fmt.Errorf("prune artefacts: %w", err)
	}
	return n, nil
}
