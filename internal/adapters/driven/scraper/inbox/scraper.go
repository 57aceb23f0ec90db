// Package inbox reads debate files dropped into a local directory. A file
// may carry a "<file>.meta.json" sidecar naming its portal item id, source
// URI and title.
package inbox

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/custodia-labs/debatepipe/internal/core/domain"
	"github.com/custodia-labs/debatepipe/internal/core/ports/driven"
	"github.com/custodia-labs/debatepipe/internal/logger"
)

// Ensure Scraper implements the interfaces.
var (
	_ driven.Scraper = (*Scraper)(nil)
	_ driven.Watcher = (*Scraper)(nil)
)

// Name is the scraper name used by --source.
const Name = "inbox"

// SidecarSuffix marks metadata files.
const SidecarSuffix = ".meta.json"

// defaultSettle is how long a file must stay quiet before it is read
// during a watch.
const defaultSettle = 500 * time.Millisecond

// Sidecar is the optional metadata stored next to a file.
type Sidecar struct {
	PortalItemID string `json:"portal_item_id"`
	SourceURI    string `json:"source_uri"`
	Title        string `json:"title"`
}

// Scraper lists files in a directory tree.
type Scraper struct {
	dir    string
	settle time.Duration

	mu      sync.Mutex
	watcher *fsnotify.Watcher
}

// New creates an inbox scraper over dir.
func New(dir string) *Scraper {
	return &Scraper{dir: dir, settle: defaultSettle}
}

// Name identifies the scraper.
func (s *Scraper) Name() string {
	return Name
}

// Close stops an active watch.
func (s *Scraper) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.watcher == nil {
		return nil
	}
	err := s.watcher.Close()
	s.watcher = nil
	return err
}

// Scrape streams every file under the directory in path order.
func (s *Scraper) Scrape(ctx context.Context, opts driven.ScrapeOptions) (<-chan domain.SourceItem, <-chan error) {
	items := make(chan domain.SourceItem)
	errs := make(chan error, 16)

	go func() {
		defer close(items)
		defer close(errs)

		paths, err := s.list()
		if err != nil {
			sendErr(ctx, errs, err)
			return
		}

		sent := 0
		for _, path := range paths {
			if !opts.Since.IsZero() {
				if info, err := os.Stat(path); err == nil && info.ModTime().Before(opts.Since) {
					continue
				}
			}
			item, err := s.Read(path)
			if err != nil {
				sendErr(ctx, errs, err)
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
	}()

	return items, errs
}

// Watch streams files as they are created or rewritten. A file is read
// once it has been quiet for the settle period; a sidecar change re-reads
// its document.
func (s *Scraper) Watch(ctx context.Context) (<-chan domain.SourceItem, <-chan error) {
	items := make(chan domain.SourceItem)
	errs := make(chan error, 16)

	watcher, err := fsnotify.NewWatcher()
	if err == nil {
		err = s.addTree(watcher)
		if err != nil {
			watcher.Close()
		}
	}
	if err != nil {
		errs <- fmt.Errorf("watch %s: %w", s.dir, err)
		close(items)
		close(errs)
		return items, errs
	}

	s.mu.Lock()
	s.watcher = watcher
	s.mu.Unlock()

	go func() {
		defer close(items)
		defer close(errs)
		defer s.Close()

		pending := make(map[string]time.Time)
		ticker := time.NewTicker(max(s.settle/2, time.Millisecond))
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				return

			case event, ok := <-watcher.Events:
				if !ok {
					return
				}
				if event.Has(fsnotify.Create) {
					if info, err := os.Stat(event.Name); err == nil && info.IsDir() {
						if err := s.addDir(watcher, event.Name); err != nil {
							sendErr(ctx, errs, err)
						}
						continue
					}
				}
				if !event.Has(fsnotify.Create) && !event.Has(fsnotify.Write) {
					continue
				}
				path := event.Name
				if doc, ok := strings.CutSuffix(path, SidecarSuffix); ok {
					path = doc
				}
				if ignored(filepath.Base(path)) {
					continue
				}
				pending[path] = time.Now()

			case err, ok := <-watcher.Errors:
				if !ok {
					return
				}
				sendErr(ctx, errs, fmt.Errorf("watch %s: %w", s.dir, err))

			case now := <-ticker.C:
				for _, path := range due(pending, now, s.settle) {
					delete(pending, path)
					item, err := s.Read(path)
					if errors.Is(err, fs.ErrNotExist) {
						continue
					}
					if err != nil {
						sendErr(ctx, errs, err)
						continue
					}
					logger.Debug("inbox: %s changed", path)
					select {
					case items <- *item:
					case <-ctx.Done():
						return
					}
				}
			}
		}
	}()

	return items, errs
}

// Read loads one file and its sidecar.
func (s *Scraper) Read(path string) (*domain.SourceItem, error) {
	info, err := os.Stat(path)
	if err != nil {
		return nil, err
	}
	if info.IsDir() {
		return nil, fmt.Errorf("%w: %s is a directory", domain.ErrInvalidInput, path)
	}
	content, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", path, err)
	}

	meta, err := readSidecar(path + SidecarSuffix)
	if err != nil {
		return nil, err
	}

	item := &domain.SourceItem{
		SourceURI:    meta.SourceURI,
		PortalItemID: strings.TrimSpace(meta.PortalItemID),
		Title:        meta.Title,
		Content:      content,
		RetrievedAt:  info.ModTime().UTC(),
	}
	if item.SourceURI == "" {
		abs, err := filepath.Abs(path)
		if err != nil {
			abs = path
		}
		item.SourceURI = "file://" + filepath.ToSlash(abs)
	}
	if item.Title == "" {
		item.Title = strings.TrimSuffix(filepath.Base(path), filepath.Ext(path))
	}
	return item, nil
}

// list returns the document files under the directory, sorted.
func (s *Scraper) list() ([]string, error) {
	var paths []string
	err := filepath.WalkDir(s.dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			if path != s.dir && strings.HasPrefix(d.Name(), ".") {
				return filepath.SkipDir
			}
			return nil
		}
		if ignored(d.Name()) {
			return nil
		}
		paths = append(paths, path)
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("list %s: %w", s.dir, err)
	}
	sort.Strings(paths)
	return paths, nil
}

func (s *Scraper) addTree(w *fsnotify.Watcher) error {
	return filepath.WalkDir(s.dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if !d.IsDir() {
			return nil
		}
		if path != s.dir && strings.HasPrefix(d.Name(), ".") {
			return filepath.SkipDir
		}
		return w.Add(path)
	})
}

func (s *Scraper) addDir(w *fsnotify.Watcher, dir string) error {
	if strings.HasPrefix(filepath.Base(dir), ".") {
		return nil
	}
	if err := w.Add(dir); err != nil {
		return fmt.Errorf("watch %s: %w", dir, err)
	}
	return nil
}

// ignored reports whether name is a sidecar, hidden or temporary file.
func ignored(name string) bool {
	return strings.HasSuffix(name, SidecarSuffix) ||
		strings.HasPrefix(name, ".") ||
		strings.HasSuffix(name, "~") ||
		strings.HasSuffix(name, ".part") ||
		strings.HasSuffix(name, ".tmp")
}

func readSidecar(path string) (Sidecar, error) {
	var meta Sidecar
	data, err := os.ReadFile(path)
	if errors.Is(err, fs.ErrNotExist) {
		return meta, nil
	}
	if err != nil {
		return meta, fmt.Errorf("read %s: %w", path, err)
	}
	if err := json.Unmarshal(data, &meta); err != nil {
		return meta, fmt.Errorf("%w: sidecar %s: %v", domain.ErrInvalidInput, path, err)
	}
	return meta, nil
}

// due returns pending paths quiet since before now-settle, sorted.
func due(pending map[string]time.Time, now time.Time, settle time.Duration) []string {
	var out []string
	for path, seen := range pending {
		if now.Sub(seen) >= settle {
			out = append(out, path)
		}
	}
	sort.Strings(out)
	return out
}

func sendErr(ctx context.Context, errs chan<- error, err error) {
	select {
	case errs <- err:
	case <-ctx.Done():
	}
}
