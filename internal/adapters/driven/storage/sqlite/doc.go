// Package sqlite provides a unified SQLite-based implementation of driven port interfaces.
//
// This adapter uses modernc.org/sqlite, a pure Go SQLite implementation that requires
// no CGO, enabling easy cross-compilation. It implements multiple store interfaces
// through a single database connection:
//
//   - StateStore: Documents and per-stage lifecycle records
//   - ArtefactCache: Versioned artefact index (bytes live in a driven.BlobStore)
//   - TopicStore: Topic clusters, assignments and embeddings
//   - SchedulerStore: Daemon task state and history
//
// # Schema
//
// The database schema is managed through versioned migrations stored in the
// migrations/ directory. Each migration is a pair of .up.sql and .down.sql files.
//
// # Data Location
//
// By default, the database is stored at ~/.debatepipe/data/state.db
//
// # Concurrency
//
// Status transitions are single UPDATE statements guarded by the expected
// current status (and owner where applicable), so concurrent workers and
// processes cannot both claim a pair. The database runs in WAL mode with a
// busy timeout, and transactions take the write lock immediately.
package sqlite
