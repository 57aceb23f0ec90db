package cli

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gopkg.in/yaml.v3"

	"github.com/custodia-labs/debatepipe/internal/core/domain"
	"github.com/custodia-labs/debatepipe/internal/core/ports/driving"
)

func sampleReport() *driving.StatusReport {
	return &driving.StatusReport{
		Documents: 3,
		Stages: []driving.StageStatusCount{
			{Stage: "pages", Done: 3},
			{Stage: "translate", Done: 1, Pending: 1, Failed: 1},
		},
		Failures: []domain.StageFailure{
			{DocumentID: "doc-2", Stage: "translate", Attempts: 3, Reason: "llm timeout"},
		},
		Conflicts: 1,
	}
}

func TestStatusCmd_NotConfigured(t *testing.T) {
	withServices(t, &Services{})

	_, err := run(t, "status")

	require.Error(t, err)
	assert.Contains(t, err.Error(), "status service not configured")
}

func TestStatusCmd_Table(t *testing.T) {
	withServices(t, &Services{Status: &mockStatusService{report: sampleReport()}})

	out, err := run(t, "status")

	require.NoError(t, err)
	assert.Contains(t, out, "3 document(s)")
	assert.Contains(t, out, "PENDING")
	assert.Contains(t, out, "translate")
	assert.Contains(t, out, "doc-2")
	assert.Contains(t, out, "llm timeout")
	assert.Contains(t, out, "1 identity conflict(s)")
}

func TestStatusCmd_JSON(t *testing.T) {
	withServices(t, &Services{Status: &mockStatusService{report: sampleReport()}})

	out, err := run(t, "status", "--output", "json")

	require.NoError(t, err)
	var got driving.StatusReport
	require.NoError(t, json.Unmarshal([]byte(out), &got))
	assert.Equal(t, *sampleReport(), got)
}

func TestStatusCmd_YAML(t *testing.T) {
	withServices(t, &Services{Status: &mockStatusService{report: sampleReport()}})

	out, err := run(t, "status", "-o", "yaml")

	require.NoError(t, err)
	assert.Contains(t, out, "documents: 3")
	assert.Contains(t, out, "reason: llm timeout")
}

func TestStatusCmd_UnknownOutput(t *testing.T) {
	withServices(t, &Services{Status: &mockStatusService{report: sampleReport()}})

	_, err := run(t, "status", "--output", "xml")

	assert.ErrorIs(t, err, domain.ErrInvalidInput)
}

func TestStatusCmd_Document(t *testing.T) {
	doc := &domain.Document{
		ID:           "doc-1",
		PortalItemID: "123456789/42",
		Title:        "Finance Bill",
		SourceURI:    "https://portal/42.pdf",
		Version:      2,
		Stages: []domain.StageState{
			{Stage: "pages", Status: domain.StatusDone, Attempts: 1},
			{Stage: "translate", Status: domain.StatusFailed, Attempts: 3, Reason: "llm timeout"},
		},
	}
	withServices(t, &Services{Status: &mockStatusService{document: doc}})

	out, err := run(t, "status", "--document", "doc-1")

	require.NoError(t, err)
	assert.Contains(t, out, "Document: doc-1")
	assert.Contains(t, out, "Finance Bill")
	assert.Contains(t, out, "Version:  2")
	assert.Contains(t, out, "failed")
	assert.Contains(t, out, "llm timeout")
}

func TestStatusCmd_DocumentYAML(t *testing.T) {
	doc := &domain.Document{
		ID:        "doc-1",
		SourceURI: "file:///in/a.pdf",
		Version:   1,
		Stages:    []domain.StageState{{Stage: "pages", Status: domain.StatusPending}},
	}
	withServices(t, &Services{Status: &mockStatusService{document: doc}})

	out, err := run(t, "status", "-d", "doc-1", "-o", "yaml")

	require.NoError(t, err)
	var got documentView
	require.NoError(t, yaml.Unmarshal([]byte(out), &got))
	assert.Equal(t, "doc-1", got.ID)
	require.Len(t, got.Stages, 1)
	assert.Equal(t, "pending", got.Stages[0].Status)
}

func TestStatusCmd_DocumentNotFound(t *testing.T) {
	withServices(t, &Services{Status: &mockStatusService{}})

	_, err := run(t, "status", "--document", "missing")

	assert.ErrorIs(t, err, domain.ErrNotFound)
	assert.Equal(t, ExitFailed, ExitCode(err))
}

func TestConflictsCmd_Empty(t *testing.T) {
	svc := &mockStatusService{}
	withServices(t, &Services{Status: svc})

	out, err := run(t, "conflicts")

	require.NoError(t, err)
	assert.Equal(t, 50, svc.gotLimit)
	assert.Contains(t, out, "No identity conflicts.")
}

func TestConflictsCmd_Table(t *testing.T) {
	svc := &mockStatusService{conflicts: []domain.IdentityConflict{{
		DocumentID:   "doc-1",
		ExistingURI:  "https://portal/a.pdf",
		IncomingURI:  "https://portal/b.pdf",
		ExistingSize: 1000,
		IncomingSize: 20,
		DetectedAt:   time.Now(),
	}}}
	withServices(t, &Services{Status: svc})

	out, err := run(t, "conflicts", "--limit", "5")

	require.NoError(t, err)
	assert.Equal(t, 5, svc.gotLimit)
	assert.Contains(t, out, "https://portal/b.pdf")
	assert.Contains(t, out, "1000 / 20")
}

func TestConflictsCmd_JSON(t *testing.T) {
	svc := &mockStatusService{conflicts: []domain.IdentityConflict{{DocumentID: "doc-1", IncomingHash: "abc"}}}
	withServices(t, &Services{Status: svc})

	out, err := run(t, "conflicts", "-o", "json")

	require.NoError(t, err)
	var got []conflictView
	require.NoError(t, json.Unmarshal([]byte(out), &got))
	require.Len(t, got, 1)
	assert.Equal(t, "abc", got[0].IncomingHash)
}
