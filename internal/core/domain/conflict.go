package domain

import (
	"fmt"
	"time"
)

// ConflictPolicy decides how a known id with different content from a
// different source is treated.
type ConflictPolicy string

const (
	// ConflictReject flags suspicious changes as identity conflicts.
	ConflictReject ConflictPolicy = "reject"

	// ConflictRevise always treats changed content as a revision.
	ConflictRevise ConflictPolicy = "revise"
)

// Valid reports whether p is a known policy.
func (p ConflictPolicy) Valid() bool {
	return p == ConflictReject || p == ConflictRevise
}

// IdentityConflict is a recorded refusal to merge an incoming item.
type IdentityConflict struct {
	ID           int64
	DocumentID   string
	ExistingURI  string
	IncomingURI  string
	ExistingHash string
	IncomingHash string
	ExistingSize int64
	IncomingSize int64
	DetectedAt   time.Time
}

// IdentityConflictError is returned by the resolver when it refuses a merge.
type IdentityConflictError struct {
	Conflict IdentityConflict
}

func (e *IdentityConflictError) Error() string {
	return fmt.Sprintf("document %s: %s differs from %s",
		e.Conflict.DocumentID, e.Conflict.IncomingURI, e.Conflict.ExistingURI)
}

// Unwrap lets errors.Is match ErrIdentityConflict.
func (e *IdentityConflictError) Unwrap() error {
	return ErrIdentityConflict
}
