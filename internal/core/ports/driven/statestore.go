package driven

import (
	"context"
	"time"

	"github.com/custodia-labs/debatepipe/internal/core/domain"
)

// StateStore persists documents and the lifecycle of every
// (document, stage) pair. All status changes are atomic.
// Implementations wrap I/O failures with domain.ErrStorageUnavailable.
type StateStore interface {
	// CreateDocument inserts a document with its stage states.
	// Returns domain.ErrAlreadyExists if the id is taken.
	CreateDocument(ctx context.Context, doc *domain.Document) error

	// GetDocument returns a document with its stage states in order.
	// Returns domain.ErrNotFound if it does not exist.
	GetDocument(ctx context.Context, id string) (*domain.Document, error)

	// ListDocuments returns documents matching filter, ordered by id.
	ListDocuments(ctx context.Context, filter domain.DocumentFilter) ([]domain.Document, error)

	// ReviseDocument replaces a document's content metadata, increments
	// its version, resets every stage to pending with zero attempts and
	// supersedes every current non-source artefact, in one transaction.
	ReviseDocument(ctx context.Context, rev DocumentRevision) (*domain.Document, error)

	// ListCandidates returns pending pairs with their upstream status,
	// ordered by document id then stage position.
	ListCandidates(ctx context.Context, opts domain.ProcessOptions) ([]domain.Candidate, error)

	// Claim moves a pair from pending to running for the request owner,
	// re-checking backoff and upstream status in the same statement.
	// Returns domain.ErrClaimLost if the pair is not claimable.
	Claim(ctx context.Context, req ClaimRequest) (*domain.StageState, error)

	// Heartbeat refreshes the liveness of a running pair held by owner.
	// Returns domain.ErrClaimLost if owner no longer holds it.
	Heartbeat(ctx context.Context, key domain.StageKey, owner string, now time.Time) error

	// Finish records an outcome for a running pair held by owner.
	// Returns domain.ErrClaimLost if owner no longer holds it.
	Finish(ctx context.Context, key domain.StageKey, owner string, outcome StageOutcome) error

	// ReconcileStages aligns every document's stage rows with stages, the
	// declared stage names in pipeline order: missing stages are inserted
	// as pending, rows of undeclared stages are deleted and positions are
	// rewritten. Statuses of kept rows are unchanged. Returns the number of
	// rows inserted, deleted or moved.
	ReconcileStages(ctx context.Context, stages []string) (int, error)

	// RecoverStale resets running pairs whose heartbeat is older than
	// before (or missing) to pending. Attempts are unchanged.
	RecoverStale(ctx context.Context, before time.Time) (int, error)

	// Requeue resets failed pairs matching filter to pending with zero attempts.
	Requeue(ctx context.Context, filter domain.RequeueFilter) (int, error)

	// Skip marks a pending or failed pair as skipped.
	// Returns domain.ErrClaimLost if the pair is in another status.
	Skip(ctx context.Context, key domain.StageKey, reason string) error

	// StageCounts returns status counts per stage in pipeline order.
	StageCounts(ctx context.Context) ([]domain.StageCount, error)

	// ListFailures returns failed pairs, optionally restricted.
	ListFailures(ctx context.Context, opts domain.ProcessOptions) ([]domain.StageFailure, error)

	// RecordConflict persists an identity conflict for review.
	RecordConflict(ctx context.Context, conflict *domain.IdentityConflict) error

	// ListConflicts returns the most recent conflicts first.
	ListConflicts(ctx context.Context, limit int) ([]domain.IdentityConflict, error)
}

// DocumentRevision describes new content for a known document.
type DocumentRevision struct {
	DocumentID  string
	SourceURI   string
	Title       string
	ContentHash string
	Size        int64
	RetrievedAt time.Time

	// ExpectedHash guards against concurrent revisions when set.
	// A mismatch returns domain.ErrClaimLost.
	ExpectedHash string
}

// ClaimRequest is a compare-and-set from pending to running.
type ClaimRequest struct {
	Key   domain.StageKey
	Owner string
	Now   time.Time

	// UpstreamStatuses lists the upstream statuses that permit the claim.
	// Ignored for the first stage. Empty permits any upstream status.
	UpstreamStatuses []domain.StageStatus
}

// StageOutcome is the state recorded when a running pair finishes.
type StageOutcome struct {
	// Status is done, failed or pending.
	Status domain.StageStatus

	// Reason is kept for failures and retries.
	Reason string

	// CountAttempt increments the attempt counter.
	// Cancellation releases a pair without counting an attempt.
	CountAttempt bool

	// NextAttemptAt delays the next claim of a pending pair.
	NextAttemptAt time.Time

	// At is when the outcome happened.
	At time.Time
}
