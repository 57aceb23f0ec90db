package cli

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/custodia-labs/debatepipe/internal/core/domain"
	"github.com/custodia-labs/debatepipe/internal/core/ports/driving"
)

func TestSyncCmd_NotConfigured(t *testing.T) {
	withServices(t, &Services{})

	_, err := run(t, "sync")

	require.Error(t, err)
	assert.Contains(t, err.Error(), "sync service not configured")
}

func TestSyncCmd_PrintsReport(t *testing.T) {
	svc := &mockSyncService{report: &driving.SyncReport{Scanned: 5, New: 2, Revised: 1, Unchanged: 1, Conflicts: 1}}
	withServices(t, &Services{Sync: svc})

	out, err := run(t, "sync", "--source", "portal", "--limit", "5")

	require.NoError(t, err)
	assert.Equal(t, driving.SyncOptions{Source: "portal", Limit: 5}, svc.gotOpts)
	assert.Contains(t, out, "5 scanned, 2 new, 1 revised, 1 unchanged, 1 conflicts")
	assert.Contains(t, out, "Sync finished")
	assert.False(t, svc.watched)
}

func TestSyncCmd_Error(t *testing.T) {
	svc := &mockSyncService{report: &driving.SyncReport{Scanned: 1, Errors: 1}, err: errors.New("portal down")}
	withServices(t, &Services{Sync: svc})

	out, err := run(t, "sync")

	require.Error(t, err)
	assert.Contains(t, err.Error(), "portal down")
	assert.Contains(t, out, "1 errors")
}

func TestSyncCmd_StorageUnavailableExitCode(t *testing.T) {
	svc := &mockSyncService{err: domain.ErrStorageUnavailable}
	withServices(t, &Services{Sync: svc})

	_, err := run(t, "sync")

	assert.Equal(t, ExitUnavailable, ExitCode(err))
}

func TestSyncCmd_NegativeLimit(t *testing.T) {
	svc := &mockSyncService{}
	withServices(t, &Services{Sync: svc})

	_, err := run(t, "sync", "--limit", "-1")

	assert.ErrorIs(t, err, domain.ErrInvalidInput)
	assert.Zero(t, svc.syncCall)
}

func TestSyncCmd_Watch(t *testing.T) {
	svc := &mockSyncService{
		report: &driving.SyncReport{Scanned: 3, New: 1, Revised: 1, Errors: 1},
		events: []driving.SyncEvent{
			{SourceURI: "file:///in/a.pdf", Resolution: &domain.Resolution{DocumentID: "doc-a", IsNew: true, Version: 1}},
			{SourceURI: "file:///in/b.pdf", Resolution: &domain.Resolution{DocumentID: "doc-b", Revised: true, Version: 2}},
			{SourceURI: "file:///in/c.pdf", Err: errors.New("unreadable")},
			{SourceURI: "file:///in/d.pdf", Resolution: &domain.Resolution{DocumentID: "doc-d"}},
		},
	}
	withServices(t, &Services{Sync: svc})

	out, err := run(t, "sync", "--watch")

	require.NoError(t, err)
	assert.True(t, svc.watched)
	assert.Contains(t, out, "+ doc-a  file:///in/a.pdf")
	assert.Contains(t, out, "~ doc-b  file:///in/b.pdf (version 2)")
	assert.Contains(t, out, "! file:///in/c.pdf: unreadable")
	assert.NotContains(t, out, "doc-d")
}
