package cli

import (
	"bytes"
	"context"
	"testing"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"

	"github.com/custodia-labs/debatepipe/internal/core/domain"
	"github.com/custodia-labs/debatepipe/internal/core/ports/driving"
)

var (
	_ driving.SyncService     = (*mockSyncService)(nil)
	_ driving.Orchestrator    = (*mockOrchestrator)(nil)
	_ driving.StatusService   = (*mockStatusService)(nil)
	_ driving.ArtefactService = (*mockArtefactService)(nil)
	_ driving.TopicService    = (*mockTopicService)(nil)
	_ driving.Scheduler       = (*mockScheduler)(nil)
	_ MetricsWriter           = (*mockMetricsWriter)(nil)
)

// run executes the root command with args and returns combined output.
// Flags are reset first so values do not leak between tests.
func run(t *testing.T, args ...string) (string, error) {
	t.Helper()
	resetFlags(rootCmd)

	tty := isTerminal
	isTerminal = func() bool { return false }

	buf := new(bytes.Buffer)
	rootCmd.SetOut(buf)
	rootCmd.SetErr(buf)
	rootCmd.SetArgs(args)
	t.Cleanup(func() {
		isTerminal = tty
		rootCmd.SetArgs(nil)
		rootCmd.SetOut(nil)
		rootCmd.SetErr(nil)
	})

	err := rootCmd.Execute()
	return buf.String(), err
}

func resetFlags(cmd *cobra.Command) {
	reset := func(f *pflag.Flag) {
		_ = f.Value.Set(f.DefValue)
		f.Changed = false
	}
	cmd.PersistentFlags().VisitAll(reset)
	cmd.Flags().VisitAll(reset)
	for _, c := range cmd.Commands() {
		resetFlags(c)
	}
}

// withServices installs s for the duration of the test.
func withServices(t *testing.T, s *Services) {
	t.Helper()
	SetServices(s)
	t.Cleanup(func() { SetServices(&Services{}) })
}

type mockSyncService struct {
	report   *driving.SyncReport
	events   []driving.SyncEvent
	err      error
	gotOpts  driving.SyncOptions
	watched  bool
	syncCall int
}

func (m *mockSyncService) Sync(_ context.Context, opts driving.SyncOptions) (*driving.SyncReport, error) {
	m.syncCall++
	m.gotOpts = opts
	return m.report, m.err
}

func (m *mockSyncService) Watch(_ context.Context, opts driving.SyncOptions, onItem func(driving.SyncEvent)) (*driving.SyncReport, error) {
	m.watched = true
	m.gotOpts = opts
	for _, ev := range m.events {
		onItem(ev)
	}
	return m.report, m.err
}

func (m *mockSyncService) Status() driving.SyncStatus {
	return driving.SyncStatus{}
}

type mockOrchestrator struct {
	summary   *domain.RunSummary
	err       error
	gotOpts   domain.ProcessOptions
	requeued  int
	gotFilter domain.RequeueFilter
	skipped   domain.StageKey
	reason    string
}

func (m *mockOrchestrator) Process(_ context.Context, opts domain.ProcessOptions) (*domain.RunSummary, error) {
	m.gotOpts = opts
	return m.summary, m.err
}

func (m *mockOrchestrator) Progress() domain.Progress {
	return domain.Progress{}
}

func (m *mockOrchestrator) Requeue(_ context.Context, filter domain.RequeueFilter) (int, error) {
	m.gotFilter = filter
	return m.requeued, m.err
}

func (m *mockOrchestrator) Skip(_ context.Context, key domain.StageKey, reason string) error {
	m.skipped = key
	m.reason = reason
	return m.err
}

type mockStatusService struct {
	report    *driving.StatusReport
	document  *domain.Document
	conflicts []domain.IdentityConflict
	err       error
	gotLimit  int
}

func (m *mockStatusService) Report(context.Context) (*driving.StatusReport, error) {
	return m.report, m.err
}

func (m *mockStatusService) Document(_ context.Context, id string) (*domain.Document, error) {
	if m.err != nil {
		return nil, m.err
	}
	if m.document == nil || m.document.ID != id {
		return nil, domain.ErrNotFound
	}
	return m.document, nil
}

func (m *mockStatusService) Conflicts(_ context.Context, limit int) ([]domain.IdentityConflict, error) {
	m.gotLimit = limit
	return m.conflicts, m.err
}

type mockArtefactService struct {
	artefacts []domain.Artefact
	data      []byte
	err       error
	gotDoc    string
	gotStage  string
	gotKey    domain.ArtefactKey
	gotHash   string
	gotAge    time.Duration
	pruned    int
}

func (m *mockArtefactService) List(_ context.Context, documentID, stage string) ([]domain.Artefact, error) {
	m.gotDoc = documentID
	m.gotStage = stage
	return m.artefacts, m.err
}

func (m *mockArtefactService) Read(_ context.Context, key domain.ArtefactKey, hash string) ([]byte, *domain.Artefact, error) {
	m.gotKey = key
	m.gotHash = hash
	if m.err != nil {
		return nil, nil, m.err
	}
	return m.data, &domain.Artefact{Key: key}, nil
}

func (m *mockArtefactService) Prune(_ context.Context, olderThan time.Duration) (int, error) {
	m.gotAge = olderThan
	return m.pruned, m.err
}

type mockTopicService struct {
	clusters []domain.Cluster
	report   *domain.ReclusterReport
	err      error
	gotID    int
	gotLabel string
}

func (m *mockTopicService) Clusters(context.Context) ([]domain.Cluster, error) {
	return m.clusters, m.err
}

func (m *mockTopicService) Recluster(context.Context) (*domain.ReclusterReport, error) {
	return m.report, m.err
}

func (m *mockTopicService) Label(_ context.Context, id int, label string) (*domain.Cluster, error) {
	m.gotID = id
	m.gotLabel = label
	if m.err != nil {
		return nil, m.err
	}
	return &domain.Cluster{ID: id, Label: label, Size: 3}, nil
}

type mockScheduler struct {
	startErr error
	started  bool
	stopped  bool
}

func (m *mockScheduler) Start(context.Context) error {
	m.started = true
	return m.startErr
}

func (m *mockScheduler) Stop() error {
	m.stopped = true
	return nil
}

type mockMetricsWriter struct {
	path string
	err  error
}

func (m *mockMetricsWriter) WriteTextfile(path string) error {
	m.path = path
	return m.err
}
