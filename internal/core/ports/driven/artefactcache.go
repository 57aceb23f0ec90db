package driven

import (
	"context"
	"time"

	"github.com/custodia-labs/debatepipe/internal/core/domain"
)

// ArtefactCache stores immutable, versioned stage outputs.
// Implementations wrap I/O failures with domain.ErrStorageUnavailable.
type ArtefactCache interface {
	// Put stores data under key. Identical current content is a no-op and
	// returns the existing ref. Different content creates a new version and
	// supersedes the previous one.
	Put(ctx context.Context, key domain.ArtefactKey, data []byte) (domain.ArtefactRef, error)

	// PutOutput stores a stage output like Put, but only while claim.Owner
	// holds the running pair and the document still has claim.ContentHash.
	// Both are checked in the transaction that indexes the artefact.
	// Returns domain.ErrClaimLost otherwise.
	PutOutput(ctx context.Context, claim OutputClaim, key domain.ArtefactKey, data []byte) (domain.ArtefactRef, error)

	// Get returns the bytes behind ref, current or superseded.
	// Returns domain.ErrNotFound or domain.ErrCorruptArtefact.
	Get(ctx context.Context, ref domain.ArtefactRef) ([]byte, error)

	// Exists reports whether key has a current artefact.
	Exists(ctx context.Context, key domain.ArtefactKey) (bool, error)

	// Current returns the current artefact for key.
	// Returns domain.ErrNotFound if there is none.
	Current(ctx context.Context, key domain.ArtefactKey) (*domain.Artefact, error)

	// List returns current artefacts for a document ordered by stage
	// then unit. An empty stage lists every stage.
	List(ctx context.Context, documentID, stage string) ([]domain.Artefact, error)

	// Lookup finds the artefact of key with contentHash, superseded or not.
	// Returns domain.ErrNotFound if no such version was stored.
	Lookup(ctx context.Context, key domain.ArtefactKey, contentHash string) (*domain.Artefact, error)

	// Retain supersedes current outputs of the claimed pair whose unit is
	// not in units, under the same checks as PutOutput.
	// Returns the number superseded.
	Retain(ctx context.Context, claim OutputClaim, units []int) (int, error)

	// Prune deletes artefacts superseded before the cutoff.
	// Returns the number deleted.
	Prune(ctx context.Context, before time.Time) (int, error)
}

// OutputClaim identifies the claim a stage output was computed under.
type OutputClaim struct {
	Key   domain.StageKey
	Owner string

	// ContentHash is the document content hash read when the inputs
	// were loaded.
	ContentHash string
}

// BlobStore holds artefact bytes addressed by ref.
type BlobStore interface {
	// Write stores data under ref. Writing an existing ref is a no-op.
	Write(ctx context.Context, ref domain.ArtefactRef, data []byte) error

	// Read returns the bytes under ref.
	// Returns domain.ErrNotFound if absent.
	Read(ctx context.Context, ref domain.ArtefactRef) ([]byte, error)

	// Delete removes ref. Deleting a missing ref is not an error.
	Delete(ctx context.Context, ref domain.ArtefactRef) error
}
