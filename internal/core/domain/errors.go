package domain

import "errors"

// Domain errors represent business logic failures.
// These are distinct from infrastructure errors.
var (
	// ErrNotFound indicates a requested entity does not exist.
	ErrNotFound = errors.New("not found")

	// ErrAlreadyExists indicates an entity already exists.
	ErrAlreadyExists = errors.New("already exists")

	// ErrInvalidInput indicates malformed or invalid input.
	ErrInvalidInput = errors.New("invalid input")

	// ErrInvalidPipeline indicates the stage chain failed validation at startup.
	ErrInvalidPipeline = errors.New("invalid pipeline definition")

	// ErrUnknownStage indicates a stage name that is not declared in the pipeline.
	ErrUnknownStage = errors.New("unknown stage")

	// ErrUnknownExecutor indicates an executor kind with no registered builder.
	ErrUnknownExecutor = errors.New("unknown executor")

	// ErrIdentityConflict indicates an incoming document claims an existing
	// identity but looks like a different document.
	ErrIdentityConflict = errors.New("identity conflict")

	// ErrStorageUnavailable indicates the State Store or Artefact Cache
	// cannot be read or written.
	ErrStorageUnavailable = errors.New("storage unavailable")

	// ErrClaimLost indicates a compare-and-set on a stage state did not match.
	// Another worker owns the pair or its status has moved on.
	ErrClaimLost = errors.New("claim lost")

	// ErrCorruptArtefact indicates stored artefact bytes no longer match
	// their recorded content hash.
	ErrCorruptArtefact = errors.New("corrupt artefact")

	// ErrTransient marks an executor error as retryable.
	// Wrap it to have ResultFromError classify the failure as transient.
	ErrTransient = errors.New("transient failure")

	// ErrEmbeddingUnavailable indicates the embedding service is not configured.
	// The topic stage cannot run without it.
	ErrEmbeddingUnavailable = errors.New("embedding service unavailable")

	// ErrLLMUnavailable indicates the LLM service is not configured.
	// Prompt executors cannot run without it.
	ErrLLMUnavailable = errors.New("LLM service unavailable")

	// ErrSyncInProgress indicates a sync is already running.
	ErrSyncInProgress = errors.New("sync in progress")
)
