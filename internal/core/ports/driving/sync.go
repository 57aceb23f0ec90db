package driving

import (
	"context"

	"github.com/custodia-labs/debatepipe/internal/core/domain"
)

// SyncService pulls documents from a scraper through the resolver.
type SyncService interface {
	// Sync runs one scrape to completion.
	Sync(ctx context.Context, opts SyncOptions) (*SyncReport, error)

	// Watch resolves items from a watching scraper until ctx is cancelled.
	Watch(ctx context.Context, opts SyncOptions, onItem func(SyncEvent)) (*SyncReport, error)

	// Status returns the state of the current or last sync.
	Status() SyncStatus
}

// SyncOptions selects and bounds a sync.
type SyncOptions struct {
	// Source names the scraper. Empty selects the default.
	Source string

	// Limit caps the number of items. Zero means no limit.
	Limit int
}

// SyncEvent reports the resolution of one item.
type SyncEvent struct {
	SourceURI  string
	Resolution *domain.Resolution
	Err        error
}

// SyncReport counts resolver outcomes for a sync.
type SyncReport struct {
	Scanned   int
	New       int
	Revised   int
	Unchanged int
	Conflicts int
	Errors    int
}

// Add accumulates other into r.
func (r *SyncReport) Add(other *SyncReport) {
	if other == nil {
		return
	}
	r.Scanned += other.Scanned
	r.New += other.New
	r.Revised += other.Revised
	r.Unchanged += other.Unchanged
	r.Conflicts += other.Conflicts
	r.Errors += other.Errors
}

// SyncStatus represents the current state of a sync operation.
type SyncStatus struct {
	// Source identifies the scraper.
	Source string

	// Running indicates if sync is currently in progress.
	Running bool

	// DocumentsProcessed is the count of items resolved.
	DocumentsProcessed int

	// ErrorCount is the number of errors encountered.
	ErrorCount int
}

// Resolver maps incoming source items to stable document identities.
type Resolver interface {
	// Resolve identifies item, stores its raw bytes and creates or revises
	// the document. Returns an error wrapping domain.ErrIdentityConflict
	// when the item claims a known identity but looks like another document.
	Resolve(ctx context.Context, item domain.SourceItem) (*domain.Resolution, error)
}
