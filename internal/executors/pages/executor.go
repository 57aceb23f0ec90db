// Package pages provides the text page extraction executor.
package pages

import (
	"bytes"
	"context"
	"unicode/utf8"

	"github.com/custodia-labs/debatepipe/internal/core/domain"
	"github.com/custodia-labs/debatepipe/internal/core/ports/driven"
)

// Ensure Executor implements the interface.
var _ driven.StageExecutor = (*Executor)(nil)

// DefaultPageSize is the number of characters per page when the text
// carries no form feeds.
const DefaultPageSize = 3000

// formFeed separates pages in pdftotext output.
const formFeed = '\f'

// Executor splits extracted text into one unit per page.
// Input units are concatenated in index order first.
type Executor struct {
	pageSize int
}

// Option configures the executor.
type Option func(*Executor)

// WithPageSize sets the fallback page size in characters.
func WithPageSize(size int) Option {
	return func(e *Executor) {
		if size > 0 {
			e.pageSize = size
		}
	}
}

// New creates a pages executor with the given options.
func New(opts ...Option) *Executor {
	e := &Executor{pageSize: DefaultPageSize}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Run splits the input into pages.
// An empty or binary input is a permanent failure.
func (e *Executor) Run(ctx context.Context, in domain.StageInput) domain.StageResult {
	if err := ctx.Err(); err != nil {
		return domain.ResultFromError(err)
	}

	var text []byte
	for _, u := range in.Units {
		text = append(text, u.Data...)
	}
	if len(text) == 0 {
		return domain.PermanentFailure{Reason: "empty source"}
	}
	if bytes.IndexByte(text, 0) >= 0 || !utf8.Valid(text) {
		return domain.PermanentFailure{Reason: "source is not text; extract it with a command executor first"}
	}

	var pages [][]byte
	if bytes.IndexByte(text, formFeed) >= 0 {
		pages = splitFormFeeds(text)
	} else {
		pages = e.splitFixed(text)
	}

	units := make([]domain.Unit, len(pages))
	for i, p := range pages {
		units[i] = domain.Unit{Index: i, Data: p}
	}
	return domain.Succeeded{Units: units}
}

// splitFormFeeds splits on form feeds. The trailing empty page that
// pdftotext emits after the last separator is dropped.
func splitFormFeeds(text []byte) [][]byte {
	pages := bytes.Split(text, []byte{formFeed})
	if len(pages) > 1 && len(bytes.TrimSpace(pages[len(pages)-1])) == 0 {
		pages = pages[:len(pages)-1]
	}
	return pages
}

// splitFixed cuts text into pages of at most pageSize characters,
// preferring the last line break inside each page.
func (e *Executor) splitFixed(text []byte) [][]byte {
	var pages [][]byte
	for len(text) > 0 {
		end := byteOffset(text, e.pageSize)
		if end < len(text) {
			if nl := bytes.LastIndexByte(text[:end], '\n'); nl > 0 {
				end = nl + 1
			}
		}
		pages = append(pages, text[:end])
		text = text[end:]
	}
	return pages
}

// byteOffset returns the byte offset of the n-th rune, or len(b).
func byteOffset(b []byte, n int) int {
	off := 0
	for i := 0; i < n && off < len(b); i++ {
		_, size := utf8.DecodeRune(b[off:])
		off += size
	}
	return off
}
