package driven

import (
	"context"
	"time"

	"github.com/custodia-labs/debatepipe/internal/core/domain"
)

// Scraper fetches source documents for the resolver.
type Scraper interface {
	// Name identifies the scraper in logs and flags.
	Name() string

	// Scrape streams items until exhausted or ctx is cancelled.
	// Both channels are closed when scraping ends. Errors on the error
	// channel are per-item and do not stop the scrape.
	Scrape(ctx context.Context, opts ScrapeOptions) (<-chan domain.SourceItem, <-chan error)

	// Close releases resources.
	Close() error
}

// Watcher is implemented by scrapers that can stream new items as they appear.
type Watcher interface {
	// Watch streams items until ctx is cancelled.
	Watch(ctx context.Context) (<-chan domain.SourceItem, <-chan error)
}

// ScrapeOptions bounds a scrape.
type ScrapeOptions struct {
	// Limit caps the number of items. Zero means no limit.
	Limit int

	// Since skips items older than this when the source knows dates.
	Since time.Time
}
