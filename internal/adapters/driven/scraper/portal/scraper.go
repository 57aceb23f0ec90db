// Package portal scrapes debate PDFs from the parliament's digital
// library. Listing pages are paged tables whose rows link to item detail
// pages; each detail page names the PDF in a citation_pdf_url meta tag or
// in a plain link.
package portal

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"math/rand/v2"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"
	"golang.org/x/time/rate"

	"github.com/custodia-labs/debatepipe/internal/core/domain"
	"github.com/custodia-labs/debatepipe/internal/core/ports/driven"
	"github.com/custodia-labs/debatepipe/internal/logger"
)

// Ensure Scraper implements the interface.
var _ driven.Scraper = (*Scraper)(nil)

// Name is the scraper name used by --source.
const Name = "portal"

// maxDocumentBytes bounds a single PDF download.
const maxDocumentBytes = 256 << 20

// Record is one debate entry from a listing page.
type Record struct {
	// Handle is the portal item id, e.g. "123456789/1234".
	Handle string

	// DetailURL is the absolute URL of the item page.
	DetailURL string

	Title   string
	Date    string
	Session string
}

// Scraper walks the portal listing newest first.
type Scraper struct {
	settings domain.PortalSettings
	base     *url.URL
	client   *http.Client
	limiter  *rate.Limiter
	now      func() time.Time
	sleep    func(context.Context, time.Duration) error
}

// New creates a portal scraper. A nil client gets one with the
// configured timeout.
func New(settings domain.PortalSettings, client *http.Client) (*Scraper, error) {
	base, err := url.Parse(settings.BaseURL)
	if err != nil || base.Host == "" {
		return nil, fmt.Errorf("%w: portal base url %q", domain.ErrInvalidInput, settings.BaseURL)
	}
	if client == nil {
		client = &http.Client{Timeout: settings.Timeout}
	}
	if settings.PageSize <= 0 {
		settings.PageSize = 20
	}
	if settings.MaxRetries <= 0 {
		settings.MaxRetries = 1
	}

	limit := rate.Inf
	if settings.Rate > 0 {
		limit = rate.Limit(settings.Rate)
	}
	burst := settings.Burst
	if burst <= 0 {
		burst = 1
	}

	return &Scraper{
		settings: settings,
		base:     base,
		client:   client,
		limiter:  rate.NewLimiter(limit, burst),
		now:      time.Now,
		sleep:    sleepContext,
	}, nil
}

// Name identifies the scraper.
func (s *Scraper) Name() string {
	return Name
}

// Close releases idle connections.
func (s *Scraper) Close() error {
	s.client.CloseIdleConnections()
	return nil
}

// Scrape streams debates newest first until the listing runs out, the
// cutoff date is passed or the limit is reached.
func (s *Scraper) Scrape(ctx context.Context, opts driven.ScrapeOptions) (<-chan domain.SourceItem, <-chan error) {
	items := make(chan domain.SourceItem)
	errs := make(chan error, 16)

	go func() {
		defer close(items)
		defer close(errs)

		cutoff := opts.Since
		if cutoff.IsZero() && s.settings.YearsBack > 0 {
			cutoff = s.now().AddDate(-s.settings.YearsBack, 0, 0)
		}

		sent := 0
		for offset := 0; ; offset += s.settings.PageSize {
			records, err := s.Listing(ctx, offset)
			if err != nil {
				if ctx.Err() == nil {
					sendErr(ctx, errs, fmt.Errorf("listing at offset %d: %w", offset, err))
				}
				return
			}
			if len(records) == 0 {
				return
			}

			for _, rec := range records {
				if !cutoff.IsZero() {
					if d, ok := parseDate(rec.Date); ok && d.Before(cutoff) {
						logger.Debug("portal: reached cutoff %s at %s", cutoff.Format(time.DateOnly), rec.Handle)
						return
					}
				}

				item, err := s.Fetch(ctx, rec)
				if err != nil {
					if ctx.Err() != nil {
						return
					}
					sendErr(ctx, errs, fmt.Errorf("item %s: %w", rec.Handle, err))
					continue
				}

				select {
				case items <- *item:
				case <-ctx.Done():
					return
				}
				sent++
				if opts.Limit > 0 && sent >= opts.Limit {
					return
				}
			}
		}
	}()

	return items, errs
}

// Listing returns the records of the listing page starting at offset.
func (s *Scraper) Listing(ctx context.Context, offset int) ([]Record, error) {
	page, err := s.resolve(s.settings.ListingPath)
	if err != nil {
		return nil, err
	}
	q := page.Query()
	q.Set("offset", fmt.Sprint(offset))
	page.RawQuery = q.Encode()

	doc, err := s.fetchDocument(ctx, page.String())
	if err != nil {
		return nil, err
	}

	rows := doc.Find("table tbody tr")
	if rows.Length() == 0 {
		rows = doc.Find("tr")
	}

	var records []Record
	rows.Each(func(_ int, row *goquery.Selection) {
		if rec, ok := s.parseRow(row); ok {
			records = append(records, rec)
		}
	})
	if rows.Length() > 0 && len(records) == 0 {
		logger.Warn("portal: parsed zero records at offset %d", offset)
	}
	return records, nil
}

// Fetch resolves the PDF of rec and downloads it.
func (s *Scraper) Fetch(ctx context.Context, rec Record) (*domain.SourceItem, error) {
	pdfURL, err := s.PDFURL(ctx, rec.DetailURL)
	if err != nil {
		return nil, err
	}

	content, err := s.get(ctx, pdfURL)
	if err != nil {
		return nil, fmt.Errorf("download %s: %w", pdfURL, err)
	}
	logger.Debug("portal: downloaded %s (%d bytes)", pdfURL, len(content))

	return &domain.SourceItem{
		SourceURI:    pdfURL,
		PortalItemID: rec.Handle,
		Title:        rec.Title,
		Content:      content,
		RetrievedAt:  s.now().UTC(),
	}, nil
}

// PDFURL finds the PDF link on an item detail page.
func (s *Scraper) PDFURL(ctx context.Context, detailURL string) (string, error) {
	doc, err := s.fetchDocument(ctx, detailURL)
	if err != nil {
		return "", err
	}
	page, err := url.Parse(detailURL)
	if err != nil {
		return "", err
	}

	if href, ok := doc.Find(`meta[name="citation_pdf_url"]`).Attr("content"); ok && strings.TrimSpace(href) != "" {
		return s.normalisePDFURL(strings.TrimSpace(href), page)
	}
	var found string
	doc.Find(`a[href$=".pdf"]`).EachWithBreak(func(_ int, a *goquery.Selection) bool {
		found = strings.TrimSpace(a.AttrOr("href", ""))
		return found == ""
	})
	if found == "" {
		return "", fmt.Errorf("%w: no pdf link on %s", domain.ErrNotFound, detailURL)
	}
	return s.normalisePDFURL(found, page)
}

// parseRow reads one listing table row. The first cell holds the date;
// in three-column layouts the second holds the session.
func (s *Scraper) parseRow(row *goquery.Selection) (Record, bool) {
	var detail, title string
	row.Find("a[href]").Each(func(_ int, a *goquery.Selection) {
		href := strings.TrimSpace(a.AttrOr("href", ""))
		if href == "" {
			return
		}
		text := strings.TrimSpace(a.Text())
		switch {
		case strings.Contains(href, "?view_type=browse") || strings.HasPrefix(strings.ToLower(text), "view"):
			detail, _, _ = strings.Cut(href, "?")
		case strings.HasPrefix(href, "/handle/") && !strings.HasSuffix(href, ".pdf"):
			if title == "" {
				title = text
				if detail == "" {
					detail = href
				}
			}
		}
	})
	if detail == "" {
		return Record{}, false
	}

	var cells []string
	row.Find("td").Each(func(_ int, td *goquery.Selection) {
		cells = append(cells, strings.TrimSpace(td.Text()))
	})

	rec := Record{Title: title}
	if len(cells) > 0 {
		rec.Date = cells[0]
	}
	if len(cells) >= 3 {
		rec.Session = cells[1]
	}
	if rec.Title == "" && len(cells) > 1 {
		rec.Title = cells[1]
	}
	if rec.Title == "" {
		rec.Title = "Untitled"
	}

	abs, err := s.resolve(detail)
	if err != nil {
		return Record{}, false
	}
	rec.DetailURL = abs.String()
	rec.Handle = handleOf(abs.Path)
	return rec, true
}

// normalisePDFURL makes href absolute, moves internal 10.x hosts onto
// the public base and upgrades http to https.
func (s *Scraper) normalisePDFURL(href string, page *url.URL) (string, error) {
	u, err := url.Parse(href)
	if err != nil {
		return "", fmt.Errorf("bad pdf link %q: %w", href, err)
	}
	if u.Host == "" {
		return page.ResolveReference(u).String(), nil
	}
	if strings.HasPrefix(u.Hostname(), "10.") {
		rel := &url.URL{Path: strings.TrimPrefix(u.Path, "/"), RawQuery: u.RawQuery}
		base := *s.base
		if !strings.HasSuffix(base.Path, "/") {
			base.Path += "/"
		}
		return base.ResolveReference(rel).String(), nil
	}
	if u.Scheme == "http" {
		u.Scheme = "https"
	}
	return u.String(), nil
}

func (s *Scraper) resolve(ref string) (*url.URL, error) {
	u, err := url.Parse(ref)
	if err != nil {
		return nil, fmt.Errorf("bad link %q: %w", ref, err)
	}
	return s.base.ResolveReference(u), nil
}

func (s *Scraper) fetchDocument(ctx context.Context, pageURL string) (*goquery.Document, error) {
	body, err := s.get(ctx, pageURL)
	if err != nil {
		return nil, err
	}
	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("parse %s: %w", pageURL, err)
	}
	return doc, nil
}

// get fetches target, retrying network errors, 429 and 5xx responses
// with jittered exponential backoff.
func (s *Scraper) get(ctx context.Context, target string) ([]byte, error) {
	var lastErr error
	for attempt := 1; attempt <= s.settings.MaxRetries; attempt++ {
		if attempt > 1 {
			if err := s.sleep(ctx, backoff(attempt-1)); err != nil {
				return nil, err
			}
		}
		if err := s.limiter.Wait(ctx); err != nil {
			return nil, err
		}

		body, err := s.getOnce(ctx, target)
		if err == nil {
			return body, nil
		}
		lastErr = err
		var statusErr *StatusError
		if errors.As(err, &statusErr) && !statusErr.Retryable() {
			return nil, err
		}
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		logger.Debug("portal: attempt %d for %s failed: %v", attempt, target, err)
	}
	return nil, lastErr
}

func (s *Scraper) getOnce(ctx context.Context, target string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, target, nil)
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	if s.settings.UserAgent != "" {
		req.Header.Set("User-Agent", s.settings.UserAgent)
	}

	resp, err := s.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("request %s: %w", target, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))
		return nil, &StatusError{URL: target, Code: resp.StatusCode}
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxDocumentBytes+1))
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", target, err)
	}
	if len(body) > maxDocumentBytes {
		return nil, fmt.Errorf("%s exceeds %d bytes", target, maxDocumentBytes)
	}
	return body, nil
}

// StatusError is a non-200 response.
type StatusError struct {
	URL  string
	Code int
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("%s returned %d %s", e.URL, e.Code, http.StatusText(e.Code))
}

// Retryable reports whether the request may succeed later.
func (e *StatusError) Retryable() bool {
	return e.Code == http.StatusTooManyRequests || e.Code >= 500
}

// handleOf extracts the item id from a /handle/<prefix>/<id> path.
func handleOf(path string) string {
	if rest, ok := strings.CutPrefix(path, "/handle/"); ok {
		return strings.Trim(rest, "/")
	}
	return strings.Trim(path, "/")
}

// dateLayouts are the formats seen in listing date cells.
var dateLayouts = []string{
	time.DateOnly,
	"2-Jan-2006",
	"02-Jan-2006",
	"2 Jan 2006",
	"2 January 2006",
	"January 2, 2006",
	"Jan 2, 2006",
	"02.01.2006",
	"02/01/2006",
}

func parseDate(value string) (time.Time, bool) {
	value = strings.TrimSpace(value)
	if value == "" || strings.EqualFold(value, "unknown") {
		return time.Time{}, false
	}
	for _, layout := range dateLayouts {
		if t, err := time.Parse(layout, value); err == nil {
			return t, true
		}
	}
	return time.Time{}, false
}

// backoff is min(30s, 2^n s) with full jitter.
func backoff(n int) time.Duration {
	ceiling := time.Duration(1<<min(n, 5)) * time.Second
	if ceiling > 30*time.Second {
		ceiling = 30 * time.Second
	}
	return time.Duration(rand.Int64N(int64(ceiling)) + 1)
}

func sendErr(ctx context.Context, errs chan<- error, err error) {
	select {
	case errs <- err:
	case <-ctx.Done():
	}
}

func sleepContext(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
