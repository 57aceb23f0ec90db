package domain

import (
	"crypto/sha256"
	"encoding/hex"
	"strings"
	"time"
)

// ContentHashPrefix prefixes document ids derived from content.
const ContentHashPrefix = "sha256:"

// Document is a deduplicated source document and its stage lifecycle.
type Document struct {
	// ID is the stable identifier. Immutable once assigned.
	ID string

	// PortalItemID is the portal's own identifier, if known.
	PortalItemID string

	// SourceURI is where the current content was retrieved from.
	SourceURI string

	// Title is an optional human-readable title from the scraper.
	Title string

	// RetrievedAt is when the current content was retrieved.
	RetrievedAt time.Time

	// ContentHash is the sha256 hex digest of the raw bytes.
	ContentHash string

	// Size is the length of the raw bytes.
	Size int64

	// Version starts at 1 and increments on each content revision.
	Version int

	// Stages holds one state per declared stage, in pipeline order.
	Stages []StageState

	// CreatedAt is when the document was first seen.
	CreatedAt time.Time

	// UpdatedAt is when the document row last changed.
	UpdatedAt time.Time
}

// StageState returns the state for stage, or nil.
func (d *Document) StageState(stage string) *StageState {
	for i := range d.Stages {
		if d.Stages[i].Stage == stage {
			return &d.Stages[i]
		}
	}
	return nil
}

// HasFailed reports whether any stage is failed.
func (d *Document) HasFailed() bool {
	for _, s := range d.Stages {
		if s.Status == StatusFailed {
			return true
		}
	}
	return false
}

// Complete reports whether every stage is done or skipped.
func (d *Document) Complete() bool {
	for _, s := range d.Stages {
		if s.Status != StatusDone && s.Status != StatusSkipped {
			return false
		}
	}
	return true
}

// SourceItem is what a scraper hands to the core.
type SourceItem struct {
	// SourceURI is where the bytes came from.
	SourceURI string

	// PortalItemID is the portal's identifier, empty when unknown.
	PortalItemID string

	// Title is optional.
	Title string

	// Content is the raw document bytes.
	Content []byte

	// RetrievedAt is when the bytes were fetched.
	RetrievedAt time.Time
}

// Resolution is the outcome of resolving a source item.
type Resolution struct {
	// DocumentID is the resolved identity.
	DocumentID string

	// IsNew is true when the document was created by this resolution.
	IsNew bool

	// Revised is true when known content changed and stages were reset.
	Revised bool

	// Version is the document version after resolution.
	Version int
}

// HashContent returns the sha256 hex digest of data.
func HashContent(data []byte) string {
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}

// DocumentIdentity derives the stable document id: the trimmed portal item id
// when present, otherwise the content hash with the sha256 prefix.
func DocumentIdentity(portalItemID, contentHash string) string {
	if id := strings.TrimSpace(portalItemID); id != "" {
		return id
	}
	return ContentHashPrefix + contentHash
}

// DocumentFilter restricts document listings.
type DocumentFilter struct {
	// DocumentID limits to one document when set.
	DocumentID string

	// Status limits to documents with at least one stage in this status.
	Status StageStatus

	// Limit caps the number of results. Zero means no limit.
	Limit int
}
