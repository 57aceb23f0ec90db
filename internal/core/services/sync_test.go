package services

import (
	"context"
	"errors"
	stdsync "sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/custodia-labs/debatepipe/internal/adapters/driven/storage/memory"
	"github.com/custodia-labs/debatepipe/internal/core/domain"
	"github.com/custodia-labs/debatepipe/internal/core/ports/driven"
	"github.com/custodia-labs/debatepipe/internal/core/ports/driving"
)

// --- Mock implementations for sync testing ---

// syncMockScraper implements driven.Scraper for testing.
type syncMockScraper struct {
	name   string
	items  []domain.SourceItem
	errs   []error
	block  chan struct{}
	closed bool

	mu       stdsync.Mutex
	lastOpts driven.ScrapeOptions
}

func (m *syncMockScraper) Name() string { return m.name }

func (m *syncMockScraper) Scrape(ctx context.Context, opts driven.ScrapeOptions) (<-chan domain.SourceItem, <-chan error) {
	m.mu.Lock()
	m.lastOpts = opts
	m.mu.Unlock()
	return m.stream(ctx, m.items, opts.Limit)
}

func (m *syncMockScraper) stream(ctx context.Context, items []domain.SourceItem, limit int) (<-chan domain.SourceItem, <-chan error) {
	out := make(chan domain.SourceItem)
	errs := make(chan error, len(m.errs))

	go func() {
		defer close(out)
		defer close(errs)

		for _, err := range m.errs {
			errs <- err
		}
		for i, item := range items {
			if limit > 0 && i >= limit {
				return
			}
			select {
			case <-ctx.Done():
				return
			case out <- item:
			}
		}
		if m.block != nil {
			select {
			case <-ctx.Done():
			case <-m.block:
			}
		}
	}()

	return out, errs
}

func (m *syncMockScraper) Close() error {
	m.closed = true
	return nil
}

// syncMockWatcher adds watching to syncMockScraper.
type syncMockWatcher struct {
	*syncMockScraper
	watched []domain.SourceItem
}

func (m *syncMockWatcher) Watch(ctx context.Context) (<-chan domain.SourceItem, <-chan error) {
	out := make(chan domain.SourceItem)
	errs := make(chan error)
	go func() {
		defer close(out)
		defer close(errs)
		for _, item := range m.watched {
			select {
			case <-ctx.Done():
				return
			case out <- item:
			}
		}
		<-ctx.Done()
	}()
	return out, errs
}

// syncMockResolver returns canned resolutions by source URI.
type syncMockResolver struct {
	results map[string]*domain.Resolution
	errs    map[string]error
}

func (m *syncMockResolver) Resolve(_ context.Context, item domain.SourceItem) (*domain.Resolution, error) {
	if err, ok := m.errs[item.SourceURI]; ok {
		return nil, err
	}
	if res, ok := m.results[item.SourceURI]; ok {
		return res, nil
	}
	return &domain.Resolution{DocumentID: item.SourceURI, Version: 1}, nil
}

func items(uris ...string) []domain.SourceItem {
	out := make([]domain.SourceItem, len(uris))
	for i, u := range uris {
		out[i] = domain.SourceItem{SourceURI: u, Content: []byte(u)}
	}
	return out
}

func TestNewSyncOrchestrator(t *testing.T) {
	portal := &syncMockScraper{name: "portal"}
	inbox := &syncMockScraper{name: "inbox"}

	o := NewSyncOrchestrator(&syncMockResolver{}, portal, nil, inbox)

	require.NotNil(t, o)
	assert.Equal(t, "portal", o.defaultSource)
	assert.Equal(t, []string{"inbox", "portal"}, o.Sources())
	assert.False(t, o.Status().Running)
}

func TestSyncOrchestrator_Sync_UnknownSource(t *testing.T) {
	o := NewSyncOrchestrator(&syncMockResolver{}, &syncMockScraper{name: "portal"})

	_, err := o.Sync(context.Background(), driving.SyncOptions{Source: "ftp"})

	assert.ErrorIs(t, err, domain.ErrInvalidInput)
}

func TestSyncOrchestrator_Sync_CountsOutcomes(t *testing.T) {
	scraper := &syncMockScraper{
		name:  "portal",
		items: items("new", "revised", "same", "conflict", "broken"),
		errs:  []error{errors.New("listing page 3: 503")},
	}
	resolver := &syncMockResolver{
		results: map[string]*domain.Resolution{
			"new":     {DocumentID: "a", IsNew: true, Version: 1},
			"revised": {DocumentID: "b", Revised: true, Version: 2},
		},
		errs: map[string]error{
			"conflict": &domain.IdentityConflictError{},
			"broken":   errors.New("disk full"),
		},
	}
	o := NewSyncOrchestrator(resolver, scraper)

	report, err := o.Sync(context.Background(), driving.SyncOptions{Limit: 10})

	require.NoError(t, err)
	assert.Equal(t, driving.SyncReport{
		Scanned: 5, New: 1, Revised: 1, Unchanged: 1, Conflicts: 1, Errors: 2,
	}, *report)
	assert.Equal(t, 10, scraper.lastOpts.Limit)

	status := o.Status()
	assert.False(t, status.Running)
	assert.Equal(t, "portal", status.Source)
	assert.Equal(t, 3, status.DocumentsProcessed)
	assert.Equal(t, 2, status.ErrorCount)
}

func TestSyncOrchestrator_Sync_StopsOnStorageError(t *testing.T) {
	scraper := &syncMockScraper{name: "portal", items: items("a", "b", "c")}
	resolver := &syncMockResolver{errs: map[string]error{"b": domain.ErrStorageUnavailable}}
	o := NewSyncOrchestrator(resolver, scraper)

	report, err := o.Sync(context.Background(), driving.SyncOptions{})

	assert.ErrorIs(t, err, domain.ErrStorageUnavailable)
	assert.Equal(t, 2, report.Scanned)
	assert.False(t, o.Status().Running)
}

func TestSyncOrchestrator_Sync_WithResolver(t *testing.T) {
	store := memory.NewStore()
	pipeline := newPipeline(t, domain.StageDefinition{Name: "extract", Mode: domain.ModeDocument})
	resolver := NewResolver(store, store, pipeline, domain.DedupSettings{})
	scraper := &syncMockScraper{name: "inbox", items: []domain.SourceItem{
		{SourceURI: "file:///a.pdf", Content: []byte("same bytes")},
		{SourceURI: "file:///b.pdf", Content: []byte("same bytes")},
	}}
	o := NewSyncOrchestrator(resolver, scraper)

	report, err := o.Sync(context.Background(), driving.SyncOptions{})

	require.NoError(t, err)
	assert.Equal(t, 1, report.New)
	assert.Equal(t, 1, report.Unchanged)
	docs, err := store.ListDocuments(context.Background(), domain.DocumentFilter{})
	require.NoError(t, err)
	assert.Len(t, docs, 1)
}

func TestSyncOrchestrator_Sync_InProgress(t *testing.T) {
	block := make(chan struct{})
	scraper := &syncMockScraper{name: "portal", block: block}
	o := NewSyncOrchestrator(&syncMockResolver{}, scraper)

	done := make(chan error, 1)
	go func() {
		_, err := o.Sync(context.Background(), driving.SyncOptions{})
		done <- err
	}()

	require.Eventually(t, func() bool { return o.Status().Running }, time.Second, 5*time.Millisecond)
	_, err := o.Sync(context.Background(), driving.SyncOptions{})
	assert.ErrorIs(t, err, domain.ErrSyncInProgress)

	close(block)
	require.NoError(t, <-done)
	assert.False(t, o.Status().Running)
}

func TestSyncOrchestrator_Sync_ContextCancellation(t *testing.T) {
	scraper := &syncMockScraper{name: "portal", block: make(chan struct{})}
	o := NewSyncOrchestrator(&syncMockResolver{}, scraper)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	_, err := o.Sync(ctx, driving.SyncOptions{})

	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestSyncOrchestrator_Watch_RequiresWatcher(t *testing.T) {
	o := NewSyncOrchestrator(&syncMockResolver{}, &syncMockScraper{name: "portal"})

	_, err := o.Watch(context.Background(), driving.SyncOptions{}, nil)

	assert.ErrorIs(t, err, domain.ErrInvalidInput)
}

func TestSyncOrchestrator_Watch(t *testing.T) {
	watcher := &syncMockWatcher{
		syncMockScraper: &syncMockScraper{name: "inbox", items: items("backlog")},
		watched:         items("dropped-1", "dropped-2"),
	}
	o := NewSyncOrchestrator(&syncMockResolver{}, watcher)

	ctx, cancel := context.WithCancel(context.Background())
	var mu stdsync.Mutex
	var seen []string
	onItem := func(ev driving.SyncEvent) {
		mu.Lock()
		defer mu.Unlock()
		seen = append(seen, ev.SourceURI)
		if len(seen) == 3 {
			cancel()
		}
	}

	report, err := o.Watch(ctx, driving.SyncOptions{}, onItem)

	require.NoError(t, err)
	assert.Equal(t, []string{"backlog", "dropped-1", "dropped-2"}, seen)
	assert.Equal(t, 3, report.Scanned)
	assert.Equal(t, 3, report.Unchanged)
}

func TestSyncReport_Add(t *testing.T) {
	r := &driving.SyncReport{Scanned: 1, New: 1}
	r.Add(&driving.SyncReport{Scanned: 2, Revised: 1, Errors: 1})
	r.Add(nil)

	assert.Equal(t, driving.SyncReport{Scanned: 3, New: 1, Revised: 1, Errors: 1}, *r)
}
