package services

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"

	"github.com/custodia-labs/debatepipe/internal/core/domain"
	"github.com/custodia-labs/debatepipe/internal/core/ports/driven"
	"github.com/custodia-labs/debatepipe/internal/core/ports/driving"
	"github.com/custodia-labs/debatepipe/internal/logger"
)

// Ensure SyncOrchestrator implements the interface.
var _ driving.SyncService = (*SyncOrchestrator)(nil)

// SyncOrchestrator pulls items from scrapers and resolves them into
// documents. Only one sync runs at a time.
type SyncOrchestrator struct {
	resolver      driving.Resolver
	scrapers      map[string]driven.Scraper
	defaultSource string

	// Status tracking
	mu     sync.RWMutex
	status driving.SyncStatus
}

// NewSyncOrchestrator creates a sync service. The first scraper is the
// default source.
func NewSyncOrchestrator(resolver driving.Resolver, scrapers ...driven.Scraper) *SyncOrchestrator {
	o := &SyncOrchestrator{
		resolver: resolver,
		scrapers: make(map[string]driven.Scraper, len(scrapers)),
	}
	for _, s := range scrapers {
		if s == nil {
			continue
		}
		if o.defaultSource == "" {
			o.defaultSource = s.Name()
		}
		o.scrapers[s.Name()] = s
	}
	return o
}

// Sources returns the registered scraper names.
func (o *SyncOrchestrator) Sources() []string {
	names := make([]string, 0, len(o.scrapers))
	for name := range o.scrapers {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Sync runs one scrape of the selected source to completion.
func (o *SyncOrchestrator) Sync(ctx context.Context, opts driving.SyncOptions) (*driving.SyncReport, error) {
	scraper, err := o.scraper(opts.Source)
	if err != nil {
		return nil, err
	}
	if err := o.begin(scraper.Name()); err != nil {
		return nil, err
	}
	defer o.end()

	logger.Section("Sync")
	logger.Info("Starting sync from %s", scraper.Name())

	items, errs := scraper.Scrape(ctx, driven.ScrapeOptions{Limit: opts.Limit})
	report, err := o.consume(ctx, items, errs, nil)
	if err != nil {
		return report, err
	}

	logger.Info("Sync complete: %d scanned, %d new, %d revised, %d unchanged, %d conflicts, %d errors",
		report.Scanned, report.New, report.Revised, report.Unchanged, report.Conflicts, report.Errors)
	return report, nil
}

// Watch resolves the backlog of the selected source and then every new
// item it reports until ctx is cancelled. The source must support watching.
func (o *SyncOrchestrator) Watch(
	ctx context.Context,
	opts driving.SyncOptions,
	onItem func(driving.SyncEvent),
) (*driving.SyncReport, error) {
	scraper, err := o.scraper(opts.Source)
	if err != nil {
		return nil, err
	}
	watcher, ok := scraper.(driven.Watcher)
	if !ok {
		return nil, fmt.Errorf("%w: source %s cannot be watched", domain.ErrInvalidInput, scraper.Name())
	}
	if err := o.begin(scraper.Name()); err != nil {
		return nil, err
	}
	defer o.end()

	logger.Section("Watch")
	items, errs := scraper.Scrape(ctx, driven.ScrapeOptions{Limit: opts.Limit})
	report, err := o.consume(ctx, items, errs, onItem)
	if err != nil {
		return report, ignoreCancel(err)
	}

	logger.Info("Watching %s for new documents", scraper.Name())
	items, errs = watcher.Watch(ctx)
	more, err := o.consume(ctx, items, errs, onItem)
	report.Add(more)
	return report, ignoreCancel(err)
}

// Status returns the state of the current or last sync.
func (o *SyncOrchestrator) Status() driving.SyncStatus {
	o.mu.RLock()
	defer o.mu.RUnlock()
	return o.status
}

// consume resolves items until both channels close. A State Store failure
// stops the sync; other per-item errors are counted.
//
//nolint:gocognit // Orchestration function coordinating two channels
func (o *SyncOrchestrator) consume(
	ctx context.Context,
	items <-chan domain.SourceItem,
	errs <-chan error,
	onItem func(driving.SyncEvent),
) (*driving.SyncReport, error) {
	report := &driving.SyncReport{}
	notify := func(ev driving.SyncEvent) {
		if onItem != nil {
			onItem(ev)
		}
	}

	for items != nil || errs != nil {
		select {
		case <-ctx.Done():
			return report, ctx.Err()

		case err, ok := <-errs:
			if !ok {
				errs = nil
				continue
			}
			report.Errors++
			o.countError()
			logger.Warn("scrape: %v", err)
			notify(driving.SyncEvent{Err: err})

		case item, ok := <-items:
			if !ok {
				items = nil
				continue
			}
			report.Scanned++
			logger.Debug("Resolving: %s", item.SourceURI)

			res, err := o.resolver.Resolve(ctx, item)
			switch {
			case errors.Is(err, domain.ErrIdentityConflict):
				report.Conflicts++
			case errors.Is(err, domain.ErrStorageUnavailable):
				return report, fmt.Errorf("resolve %s: %w", item.SourceURI, err)
			case err != nil:
				report.Errors++
				o.countError()
				logger.Warn("resolve %s: %v", item.SourceURI, err)
			case res.IsNew:
				report.New++
			case res.Revised:
				report.Revised++
			default:
				report.Unchanged++
			}
			if err == nil {
				o.countProcessed()
			}
			notify(driving.SyncEvent{SourceURI: item.SourceURI, Resolution: res, Err: err})
		}
	}
	// Scrapers close their channels early on cancellation.
	return report, ctx.Err()
}

func (o *SyncOrchestrator) scraper(name string) (driven.Scraper, error) {
	if name == "" {
		name = o.defaultSource
	}
	s, ok := o.scrapers[name]
	if !ok {
		return nil, fmt.Errorf("%w: unknown source %q", domain.ErrInvalidInput, name)
	}
	return s, nil
}

// begin marks a sync as running.
func (o *SyncOrchestrator) begin(source string) error {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.status.Running {
		return fmt.Errorf("%w: %s", domain.ErrSyncInProgress, o.status.Source)
	}
	o.status = driving.SyncStatus{Source: source, Running: true}
	return nil
}

// end marks the sync as finished, keeping its counters.
func (o *SyncOrchestrator) end() {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.status.Running = false
}

func (o *SyncOrchestrator) countProcessed() {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.status.DocumentsProcessed++
}

func (o *SyncOrchestrator) countError() {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.status.ErrorCount++
}

// ignoreCancel treats cancellation as the normal end of a watch.
func ignoreCancel(err error) error {
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}
