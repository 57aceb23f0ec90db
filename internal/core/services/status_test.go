package services

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/custodia-labs/debatepipe/internal/adapters/driven/storage/memory"
	"github.com/custodia-labs/debatepipe/internal/core/domain"
	"github.com/custodia-labs/debatepipe/internal/core/ports/driven"
)

func twoStagePipeline(t *testing.T) *domain.PipelineDefinition {
	t.Helper()
	return newPipeline(t,
		domain.StageDefinition{Name: "extract", Mode: domain.ModeDocument},
		domain.StageDefinition{Name: "translate", Mode: domain.ModeUnit},
	)
}

func TestStatusReporter_Report(t *testing.T) {
	store := memory.NewStore()
	pipeline := twoStagePipeline(t)
	ids := seed(t, store, pipeline,
		domain.SourceItem{PortalItemID: "A", SourceURI: "https://p/a", Content: []byte("0123456789")},
		domain.SourceItem{PortalItemID: "B", Content: []byte("b")},
	)

	key := domain.StageKey{DocumentID: ids[0], Stage: "extract"}
	_, err := store.Claim(context.Background(), driven.ClaimRequest{Key: key, Owner: "run", Now: time.Now()})
	require.NoError(t, err)
	require.NoError(t, store.Finish(context.Background(), key, "run", driven.StageOutcome{
		Status: domain.StatusFailed, Reason: "encrypted", CountAttempt: true,
	}))

	r := NewResolver(store, store, pipeline, domain.DedupSettings{Policy: domain.ConflictReject, Threshold: 0.5})
	_, err = r.Resolve(context.Background(), domain.SourceItem{
		PortalItemID: "A", SourceURI: "https://other/a", Content: []byte("01234567890123456789"),
	})
	require.ErrorIs(t, err, domain.ErrIdentityConflict)

	status := NewStatusReporter(store, pipeline)
	report, err := status.Report(context.Background())

	require.NoError(t, err)
	assert.Equal(t, 2, report.Documents)
	require.Len(t, report.Stages, 2)
	assert.Equal(t, "extract", report.Stages[0].Stage)
	assert.Equal(t, 1, report.Stages[0].Failed)
	assert.Equal(t, 1, report.Stages[0].Pending)
	assert.Equal(t, 2, report.Stages[1].Pending)
	require.Len(t, report.Failures, 1)
	assert.Equal(t, "encrypted", report.Failures[0].Reason)
	assert.Equal(t, 1, report.Conflicts)

	conflicts, err := status.Conflicts(context.Background(), 10)
	require.NoError(t, err)
	require.Len(t, conflicts, 1)
	assert.Equal(t, "https://other/a", conflicts[0].IncomingURI)
}

func TestStatusReporter_Report_Empty(t *testing.T) {
	store := memory.NewStore()

	report, err := NewStatusReporter(store, twoStagePipeline(t)).Report(context.Background())

	require.NoError(t, err)
	assert.Zero(t, report.Documents)
	assert.Len(t, report.Stages, 2)
	assert.NotNil(t, report.Failures)
	assert.Empty(t, report.Failures)
}

func TestStatusReporter_Document(t *testing.T) {
	store := memory.NewStore()
	pipeline := twoStagePipeline(t)
	ids := seed(t, store, pipeline, domain.SourceItem{PortalItemID: "A", Content: []byte("a")})
	status := NewStatusReporter(store, pipeline)

	doc, err := status.Document(context.Background(), ids[0])
	require.NoError(t, err)
	assert.Len(t, doc.Stages, 2)

	_, err = status.Document(context.Background(), "missing")
	assert.ErrorIs(t, err, domain.ErrNotFound)
}

func TestArtefactBrowser_ListAndRead(t *testing.T) {
	store := memory.NewStore()
	pipeline := twoStagePipeline(t)
	ids := seed(t, store, pipeline, domain.SourceItem{PortalItemID: "A", Content: []byte("raw")})
	ctx := context.Background()

	key := domain.ArtefactKey{DocumentID: ids[0], Stage: "extract", Unit: 0}
	_, err := store.Put(ctx, key, []byte("first"))
	require.NoError(t, err)
	_, err = store.Put(ctx, key, []byte("second"))
	require.NoError(t, err)

	b := NewArtefactBrowser(store, pipeline)

	all, err := b.List(ctx, ids[0], "")
	require.NoError(t, err)
	require.Len(t, all, 2)
	assert.Equal(t, domain.SourceStage, all[0].Key.Stage)
	assert.Equal(t, "extract", all[1].Key.Stage)

	extract, err := b.List(ctx, ids[0], "extract")
	require.NoError(t, err)
	assert.Len(t, extract, 1)

	_, err = b.List(ctx, ids[0], "ghost")
	assert.ErrorIs(t, err, domain.ErrUnknownStage)
	_, err = b.List(ctx, "", "")
	assert.ErrorIs(t, err, domain.ErrInvalidInput)

	data, art, err := b.Read(ctx, key, "")
	require.NoError(t, err)
	assert.Equal(t, "second", string(data))
	assert.Equal(t, 2, art.Version)

	data, _, err = b.Read(ctx, key, domain.HashContent([]byte("first")))
	require.NoError(t, err)
	assert.Equal(t, "first", string(data))

	_, _, err = b.Read(ctx, domain.ArtefactKey{DocumentID: ids[0], Stage: "translate"}, "")
	assert.ErrorIs(t, err, domain.ErrNotFound)
}

func TestArtefactBrowser_Prune(t *testing.T) {
	store := memory.NewStore()
	pipeline := twoStagePipeline(t)
	ctx := context.Background()
	key := domain.ArtefactKey{DocumentID: "A", Stage: "extract", Unit: 0}
	_, err := store.Put(ctx, key, []byte("old"))
	require.NoError(t, err)
	_, err = store.Put(ctx, key, []byte("new"))
	require.NoError(t, err)

	b := NewArtefactBrowser(store, pipeline)

	n, err := b.Prune(ctx, time.Hour)
	require.NoError(t, err)
	assert.Zero(t, n)

	b.now = func() time.Time { return time.Now().Add(2 * time.Hour) }
	n, err = b.Prune(ctx, time.Hour)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	_, err = b.Prune(ctx, -time.Second)
	assert.ErrorIs(t, err, domain.ErrInvalidInput)
}
