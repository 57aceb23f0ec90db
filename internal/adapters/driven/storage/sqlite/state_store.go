package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/custodia-labs/debatepipe/internal/core/domain"
	"github.com/custodia-labs/debatepipe/internal/core/ports/driven"
)

// stateStore implements driven.StateStore.
type stateStore struct {
	store *Store
}

var _ driven.StateStore = (*stateStore)(nil)

const documentColumns = `id, portal_item_id, source_uri, title, retrieved_at, content_hash,
	size, version, created_at, updated_at`

const stageColumns = `document_id, stage, position, status, attempts, reason, next_attempt_at,
	owner, started_at, heartbeat_at, finished_at, updated_at`

// CreateDocument inserts a document with its stage states.
func (s *stateStore) CreateDocument(ctx context.Context, doc *domain.Document) error {
	if doc == nil || doc.ID == "" {
		return domain.ErrInvalidInput
	}

	now := time.Now().UTC()
	if doc.CreatedAt.IsZero() {
		doc.CreatedAt = now
	}
	doc.UpdatedAt = now
	if doc.Version == 0 {
		doc.Version = 1
	}

	err := s.store.withTx(ctx, func(tx *sql.Tx) error {
		res, err := tx.ExecContext(ctx, `
			INSERT INTO documents (`+documentColumns+`)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
			ON CONFLICT(id) DO NOTHING
		`, doc.ID, nullString(doc.PortalItemID), doc.SourceURI, nullString(doc.Title),
			formatNullableTime(doc.RetrievedAt), doc.ContentHash, doc.Size, doc.Version,
			formatNullableTime(doc.CreatedAt), formatNullableTime(doc.UpdatedAt))
		if err != nil {
			return err
		}
		if n, err := res.RowsAffected(); err != nil {
			return err
		} else if n == 0 {
			return fmt.Errorf("document %s: %w", doc.ID, domain.ErrAlreadyExists)
		}

		for i := range doc.Stages {
			st := &doc.Stages[i]
			st.DocumentID = doc.ID
			st.UpdatedAt = now
			if st.Status == "" {
				st.Status = domain.StatusPending
			}
			if _, err := tx.ExecContext(ctx, `
				INSERT INTO stage_states (document_id, stage, position, status, attempts, updated_at)
				VALUES (?, ?, ?, ?, ?, ?)
			`, doc.ID, st.Stage, st.Position, string(st.Status), st.Attempts, now.UnixNano()); err != nil {
				return err
			}
		}
		return nil
	})
	return unavailable("creating document", err)
}

// GetDocument returns a document with its stage states in order.
func (s *stateStore) GetDocument(ctx context.Context, id string) (*domain.Document, error) {
	row := s.store.db.QueryRowContext(ctx, `SELECT `+documentColumns+` FROM documents WHERE id = ?`, id)
	doc, err := scanDocument(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("document %s: %w", id, domain.ErrNotFound)
	}
	if err != nil {
		return nil, unavailable("getting document", err)
	}

	stages, err := s.loadStages(ctx, s.store.db, id)
	if err != nil {
		return nil, err
	}
	doc.Stages = stages
	return doc, nil
}

// ListDocuments returns documents matching filter, ordered by id.
func (s *stateStore) ListDocuments(ctx context.Context, filter domain.DocumentFilter) ([]domain.Document, error) {
	query := `SELECT ` + documentColumns + ` FROM documents d WHERE 1 = 1`
	var args []any
	if filter.DocumentID != "" {
		query += ` AND d.id = ?`
		args = append(args, filter.DocumentID)
	}
	if filter.Status != "" {
		query += ` AND EXISTS (SELECT 1 FROM stage_states s WHERE s.document_id = d.id AND s.status = ?)`
		args = append(args, string(filter.Status))
	}
	query += ` ORDER BY d.id`
	if filter.Limit > 0 {
		query += ` LIMIT ?`
		args = append(args, filter.Limit)
	}

	rows, err := s.store.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, unavailable("querying documents", err)
	}
	defer rows.Close()

	var docs []domain.Document //nolint:prealloc // size unknown from query
	for rows.Next() {
		doc, err := scanDocument(rows)
		if err != nil {
			return nil, unavailable("scanning document", err)
		}
		docs = append(docs, *doc)
	}
	if err := rows.Err(); err != nil {
		return nil, unavailable("iterating documents", err)
	}

	for i := range docs {
		stages, err := s.loadStages(ctx, s.store.db, docs[i].ID)
		if err != nil {
			return nil, err
		}
		docs[i].Stages = stages
	}
	return docs, nil
}

// ReviseDocument records new content and resets the document's lifecycle.
func (s *stateStore) ReviseDocument(ctx context.Context, rev driven.DocumentRevision) (*domain.Document, error) {
	if rev.DocumentID == "" || rev.ContentHash == "" {
		return nil, domain.ErrInvalidInput
	}

	now := time.Now().UTC()
	err := s.store.withTx(ctx, func(tx *sql.Tx) error {
		query := `
			UPDATE documents SET
				source_uri = ?, title = COALESCE(?, title), content_hash = ?, size = ?,
				retrieved_at = ?, version = version + 1, updated_at = ?
			WHERE id = ?`
		args := []any{rev.SourceURI, nullString(rev.Title), rev.ContentHash, rev.Size,
			formatNullableTime(rev.RetrievedAt), formatNullableTime(now), rev.DocumentID}
		if rev.ExpectedHash != "" {
			query += ` AND content_hash = ?`
			args = append(args, rev.ExpectedHash)
		}

		res, err := tx.ExecContext(ctx, query, args...)
		if err != nil {
			return err
		}
		if n, err := res.RowsAffected(); err != nil {
			return err
		} else if n == 0 {
			var exists int
			err := tx.QueryRowContext(ctx, `SELECT COUNT(*) FROM documents WHERE id = ?`, rev.DocumentID).Scan(&exists)
			if err != nil {
				return err
			}
			if exists == 0 {
				return fmt.Errorf("document %s: %w", rev.DocumentID, domain.ErrNotFound)
			}
			return fmt.Errorf("document %s changed concurrently: %w", rev.DocumentID, domain.ErrClaimLost)
		}

		if _, err := tx.ExecContext(ctx, `
			UPDATE stage_states SET
				status = 'pending', attempts = 0, reason = NULL, next_attempt_at = NULL,
				owner = NULL, started_at = NULL, heartbeat_at = NULL, finished_at = NULL,
				updated_at = ?
			WHERE document_id = ?
		`, now.UnixNano(), rev.DocumentID); err != nil {
			return err
		}

		_, err = tx.ExecContext(ctx, `
			UPDATE artefacts SET superseded_at = ?
			WHERE document_id = ? AND stage != ? AND superseded_at IS NULL
		`, now.UnixNano(), rev.DocumentID, domain.SourceStage)
		return err
	})
	if err != nil {
		return nil, unavailable("revising document", err)
	}

	return s.GetDocument(ctx, rev.DocumentID)
}

// ListCandidates returns pending pairs with their upstream status.
func (s *stateStore) ListCandidates(ctx context.Context, opts domain.ProcessOptions) ([]domain.Candidate, error) {
	query := `
		SELECT s.document_id, s.stage, s.position, s.status, s.attempts, s.reason, s.next_attempt_at,
			s.owner, s.started_at, s.heartbeat_at, s.finished_at, s.updated_at, u.status
		FROM stage_states s
		LEFT JOIN stage_states u ON u.document_id = s.document_id AND u.position = s.position - 1
		WHERE s.status = 'pending'`
	var args []any
	if opts.Stage != "" {
		query += ` AND s.stage = ?`
		args = append(args, opts.Stage)
	}
	if opts.DocumentID != "" {
		query += ` AND s.document_id = ?`
		args = append(args, opts.DocumentID)
	}
	query += ` ORDER BY s.document_id, s.position`

	rows, err := s.store.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, unavailable("querying candidates", err)
	}
	defer rows.Close()

	var out []domain.Candidate //nolint:prealloc // size unknown from query
	for rows.Next() {
		var upstream sql.NullString
		st, err := scanStageState(rows, &upstream)
		if err != nil {
			return nil, unavailable("scanning candidate", err)
		}
		out = append(out, domain.Candidate{
			State:          *st,
			UpstreamStatus: domain.StageStatus(upstream.String),
		})
	}
	if err := rows.Err(); err != nil {
		return nil, unavailable("iterating candidates", err)
	}
	return out, nil
}

// Claim moves a pair from pending to running.
func (s *stateStore) Claim(ctx context.Context, req driven.ClaimRequest) (*domain.StageState, error) {
	now := req.Now.UTC()
	query := `
		UPDATE stage_states SET
			status = 'running', owner = ?, started_at = ?, heartbeat_at = ?, updated_at = ?
		WHERE document_id = ? AND stage = ? AND status = 'pending'
			AND (next_attempt_at IS NULL OR next_attempt_at <= ?)`
	args := []any{req.Owner, now.UnixNano(), now.UnixNano(), now.UnixNano(),
		req.Key.DocumentID, req.Key.Stage, now.UnixNano()}

	if len(req.UpstreamStatuses) > 0 {
		statuses := make([]any, len(req.UpstreamStatuses))
		for i, st := range req.UpstreamStatuses {
			statuses[i] = string(st)
		}
		query += `
			AND (position = 0 OR EXISTS (
				SELECT 1 FROM stage_states u
				WHERE u.document_id = stage_states.document_id
					AND u.position = stage_states.position - 1
					AND u.status IN (` + placeholders(len(statuses)) + `)))`
		args = append(args, statuses...)
	}

	res, err := s.store.db.ExecContext(ctx, query, args...)
	if err != nil {
		return nil, unavailable("claiming stage", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return nil, unavailable("claiming stage", err)
	}
	if n == 0 {
		return nil, fmt.Errorf("claim %s: %w", req.Key, domain.ErrClaimLost)
	}

	return s.getStage(ctx, req.Key)
}

// Heartbeat refreshes the liveness of a running pair.
func (s *stateStore) Heartbeat(ctx context.Context, key domain.StageKey, owner string, now time.Time) error {
	res, err := s.store.db.ExecContext(ctx, `
		UPDATE stage_states SET heartbeat_at = ?
		WHERE document_id = ? AND stage = ? AND status = 'running' AND owner = ?
	`, now.UnixNano(), key.DocumentID, key.Stage, owner)
	return s.expectOne(res, err, "heartbeat", key)
}

// Finish records an outcome for a running pair.
func (s *stateStore) Finish(ctx context.Context, key domain.StageKey, owner string, outcome driven.StageOutcome) error {
	switch outcome.Status {
	case domain.StatusDone, domain.StatusFailed, domain.StatusPending:
	default:
		return fmt.Errorf("finish %s with status %q: %w", key, outcome.Status, domain.ErrInvalidInput)
	}

	at := outcome.At
	if at.IsZero() {
		at = time.Now()
	}
	reason := outcome.Reason
	if outcome.Status == domain.StatusDone {
		reason = ""
	}

	res, err := s.store.db.ExecContext(ctx, `
		UPDATE stage_states SET
			status = ?, reason = ?, attempts = attempts + ?, next_attempt_at = ?,
			owner = NULL, heartbeat_at = NULL, finished_at = ?, updated_at = ?
		WHERE document_id = ? AND stage = ? AND status = 'running' AND owner = ?
	`, string(outcome.Status), nullString(reason), boolToInt(outcome.CountAttempt),
		nanos(outcome.NextAttemptAt), at.UnixNano(), at.UnixNano(),
		key.DocumentID, key.Stage, owner)
	return s.expectOne(res, err, "finishing stage", key)
}

// ReconcileStages aligns stage rows with the declared pipeline.
func (s *stateStore) ReconcileStages(ctx context.Context, stages []string) (int, error) {
	if len(stages) == 0 {
		return 0, fmt.Errorf("reconcile with no stages: %w", domain.ErrInvalidInput)
	}

	now := time.Now().UnixNano()
	var changed int64
	count := func(res sql.Result) error {
		n, err := res.RowsAffected()
		changed += n
		return err
	}

	err := s.store.withTx(ctx, func(tx *sql.Tx) error {
		names := make([]any, len(stages))
		for i, name := range stages {
			names[i] = name
		}
		res, err := tx.ExecContext(ctx, `
			DELETE FROM stage_states WHERE stage NOT IN (`+placeholders(len(names))+`)
		`, names...)
		if err != nil {
			return err
		}
		if err := count(res); err != nil {
			return err
		}

		for pos, name := range stages {
			res, err := tx.ExecContext(ctx, `
				UPDATE stage_states SET position = ?, updated_at = ?
				WHERE stage = ? AND position != ?
			`, pos, now, name, pos)
			if err != nil {
				return err
			}
			if err := count(res); err != nil {
				return err
			}

			res, err = tx.ExecContext(ctx, `
				INSERT INTO stage_states (document_id, stage, position, status, attempts, updated_at)
				SELECT d.id, ?, ?, 'pending', 0, ? FROM documents d
				WHERE NOT EXISTS (
					SELECT 1 FROM stage_states s WHERE s.document_id = d.id AND s.stage = ?)
			`, name, pos, now, name)
			if err != nil {
				return err
			}
			if err := count(res); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return 0, unavailable("reconciling stages", err)
	}
	return int(changed), nil
}

// RecoverStale resets running pairs with stale or missing heartbeats.
func (s *stateStore) RecoverStale(ctx context.Context, before time.Time) (int, error) {
	res, err := s.store.db.ExecContext(ctx, `
		UPDATE stage_states SET status = 'pending', owner = NULL, heartbeat_at = NULL, updated_at = ?
		WHERE status = 'running' AND (heartbeat_at IS NULL OR heartbeat_at < ?)
	`, time.Now().UnixNano(), before.UnixNano())
	if err != nil {
		return 0, unavailable("recovering stale stages", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, unavailable("recovering stale stages", err)
	}
	return int(n), nil
}

// Requeue resets failed pairs to pending.
func (s *stateStore) Requeue(ctx context.Context, filter domain.RequeueFilter) (int, error) {
	query := `
		UPDATE stage_states SET
			status = 'pending', attempts = 0, reason = NULL, next_attempt_at = NULL, updated_at = ?
		WHERE status = 'failed'`
	args := []any{time.Now().UnixNano()}
	if filter.Stage != "" {
		query += ` AND stage = ?`
		args = append(args, filter.Stage)
	}
	if filter.DocumentID != "" {
		query += ` AND document_id = ?`
		args = append(args, filter.DocumentID)
	}

	res, err := s.store.db.ExecContext(ctx, query, args...)
	if err != nil {
		return 0, unavailable("requeueing stages", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, unavailable("requeueing stages", err)
	}
	return int(n), nil
}

// Skip marks a pending or failed pair as skipped.
func (s *stateStore) Skip(ctx context.Context, key domain.StageKey, reason string) error {
	res, err := s.store.db.ExecContext(ctx, `
		UPDATE stage_states SET status = 'skipped', reason = ?, next_attempt_at = NULL, updated_at = ?
		WHERE document_id = ? AND stage = ? AND status IN ('pending', 'failed')
	`, nullString(reason), time.Now().UnixNano(), key.DocumentID, key.Stage)
	return s.expectOne(res, err, "skipping stage", key)
}

// StageCounts returns status counts per stage in pipeline order.
func (s *stateStore) StageCounts(ctx context.Context) ([]domain.StageCount, error) {
	rows, err := s.store.db.QueryContext(ctx, `
		SELECT stage, MIN(position) AS pos, status, COUNT(*)
		FROM stage_states
		GROUP BY stage, status
		ORDER BY pos, stage
	`)
	if err != nil {
		return nil, unavailable("counting stages", err)
	}
	defer rows.Close()

	var out []domain.StageCount
	index := make(map[string]int)
	for rows.Next() {
		var stage, status string
		var pos, count int
		if err := rows.Scan(&stage, &pos, &status, &count); err != nil {
			return nil, unavailable("scanning stage count", err)
		}
		i, ok := index[stage]
		if !ok {
			i = len(out)
			index[stage] = i
			out = append(out, domain.StageCount{Stage: stage, Counts: make(map[domain.StageStatus]int)})
		}
		out[i].Counts[domain.StageStatus(status)] = count
	}
	if err := rows.Err(); err != nil {
		return nil, unavailable("iterating stage counts", err)
	}
	return out, nil
}

// ListFailures returns failed pairs.
func (s *stateStore) ListFailures(ctx context.Context, opts domain.ProcessOptions) ([]domain.StageFailure, error) {
	query := `SELECT document_id, stage, attempts, reason FROM stage_states WHERE status = 'failed'`
	var args []any
	if opts.Stage != "" {
		query += ` AND stage = ?`
		args = append(args, opts.Stage)
	}
	if opts.DocumentID != "" {
		query += ` AND document_id = ?`
		args = append(args, opts.DocumentID)
	}
	query += ` ORDER BY document_id, position`

	rows, err := s.store.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, unavailable("querying failures", err)
	}
	defer rows.Close()

	var out []domain.StageFailure //nolint:prealloc // size unknown from query
	for rows.Next() {
		var f domain.StageFailure
		var reason sql.NullString
		if err := rows.Scan(&f.DocumentID, &f.Stage, &f.Attempts, &reason); err != nil {
			return nil, unavailable("scanning failure", err)
		}
		f.Reason = reason.String
		out = append(out, f)
	}
	if err := rows.Err(); err != nil {
		return nil, unavailable("iterating failures", err)
	}
	return out, nil
}

// RecordConflict persists an identity conflict.
func (s *stateStore) RecordConflict(ctx context.Context, c *domain.IdentityConflict) error {
	if c == nil {
		return domain.ErrInvalidInput
	}
	if c.DetectedAt.IsZero() {
		c.DetectedAt = time.Now().UTC()
	}

	res, err := s.store.db.ExecContext(ctx, `
		INSERT INTO identity_conflicts (document_id, existing_uri, incoming_uri, existing_hash,
			incoming_hash, existing_size, incoming_size, detected_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	`, c.DocumentID, c.ExistingURI, c.IncomingURI, c.ExistingHash, c.IncomingHash,
		c.ExistingSize, c.IncomingSize, formatNullableTime(c.DetectedAt))
	if err != nil {
		return unavailable("recording conflict", err)
	}
	if id, err := res.LastInsertId(); err == nil {
		c.ID = id
	}
	return nil
}

// ListConflicts returns the most recent conflicts first.
func (s *stateStore) ListConflicts(ctx context.Context, limit int) ([]domain.IdentityConflict, error) {
	if limit <= 0 {
		limit = -1
	}
	rows, err := s.store.db.QueryContext(ctx, `
		SELECT id, document_id, existing_uri, incoming_uri, existing_hash, incoming_hash,
			existing_size, incoming_size, detected_at
		FROM identity_conflicts
		ORDER BY id DESC
		LIMIT ?
	`, limit)
	if err != nil {
		return nil, unavailable("querying conflicts", err)
	}
	defer rows.Close()

	var out []domain.IdentityConflict //nolint:prealloc // size unknown from query
	for rows.Next() {
		var c domain.IdentityConflict
		var detected sql.NullString
		if err := rows.Scan(&c.ID, &c.DocumentID, &c.ExistingURI, &c.IncomingURI, &c.ExistingHash,
			&c.IncomingHash, &c.ExistingSize, &c.IncomingSize, &detected); err != nil {
			return nil, unavailable("scanning conflict", err)
		}
		c.DetectedAt = parseNullableTime(detected)
		out = append(out, c)
	}
	if err := rows.Err(); err != nil {
		return nil, unavailable("iterating conflicts", err)
	}
	return out, nil
}

// ==================== Helper Functions ====================

// queryer is satisfied by *sql.DB and *sql.Tx.
type queryer interface {
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
}

// loadStages returns the stage states of a document in position order.
func (s *stateStore) loadStages(ctx context.Context, q queryer, documentID string) ([]domain.StageState, error) {
	rows, err := q.QueryContext(ctx, `
		SELECT `+stageColumns+` FROM stage_states WHERE document_id = ? ORDER BY position
	`, documentID)
	if err != nil {
		return nil, unavailable("querying stage states", err)
	}
	defer rows.Close()

	var stages []domain.StageState //nolint:prealloc // size unknown from query
	for rows.Next() {
		st, err := scanStageState(rows)
		if err != nil {
			return nil, unavailable("scanning stage state", err)
		}
		stages = append(stages, *st)
	}
	if err := rows.Err(); err != nil {
		return nil, unavailable("iterating stage states", err)
	}
	return stages, nil
}

// getStage reads one stage state.
func (s *stateStore) getStage(ctx context.Context, key domain.StageKey) (*domain.StageState, error) {
	row := s.store.db.QueryRowContext(ctx, `
		SELECT `+stageColumns+` FROM stage_states WHERE document_id = ? AND stage = ?
	`, key.DocumentID, key.Stage)
	st, err := scanStageState(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("stage %s: %w", key, domain.ErrNotFound)
	}
	if err != nil {
		return nil, unavailable("getting stage state", err)
	}
	return st, nil
}

// expectOne maps a compare-and-set update to ErrClaimLost or ErrNotFound.
func (s *stateStore) expectOne(res sql.Result, err error, op string, key domain.StageKey) error {
	if err != nil {
		return unavailable(op, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return unavailable(op, err)
	}
	if n > 0 {
		return nil
	}

	var exists int
	if err := s.store.db.QueryRow(`
		SELECT COUNT(*) FROM stage_states WHERE document_id = ? AND stage = ?
	`, key.DocumentID, key.Stage).Scan(&exists); err != nil {
		return unavailable(op, err)
	}
	if exists == 0 {
		return fmt.Errorf("%s %s: %w", op, key, domain.ErrNotFound)
	}
	return fmt.Errorf("%s %s: %w", op, key, domain.ErrClaimLost)
}

// scanDocument scans a document row without its stages.
func scanDocument(row rowScanner) (*domain.Document, error) {
	var doc domain.Document
	var portalID, title, retrievedAt, createdAt, updatedAt sql.NullString

	if err := row.Scan(&doc.ID, &portalID, &doc.SourceURI, &title, &retrievedAt, &doc.ContentHash,
		&doc.Size, &doc.Version, &createdAt, &updatedAt); err != nil {
		return nil, err
	}

	doc.PortalItemID = portalID.String
	doc.Title = title.String
	doc.RetrievedAt = parseNullableTime(retrievedAt)
	doc.CreatedAt = parseNullableTime(createdAt)
	doc.UpdatedAt = parseNullableTime(updatedAt)
	return &doc, nil
}

// scanStageState scans a stage state row. Extra destinations are scanned
// after the stage columns.
func scanStageState(row rowScanner, extra ...any) (*domain.StageState, error) {
	var st domain.StageState
	var status string
	var reason, owner sql.NullString
	var nextAttempt, started, heartbeat, finished, updated sql.NullInt64

	dest := []any{&st.DocumentID, &st.Stage, &st.Position, &status, &st.Attempts, &reason,
		&nextAttempt, &owner, &started, &heartbeat, &finished, &updated}
	dest = append(dest, extra...)

	if err := row.Scan(dest...); err != nil {
		return nil, err
	}

	st.Status = domain.StageStatus(status)
	st.Reason = reason.String
	st.Owner = owner.String
	st.NextAttemptAt = fromNanos(nextAttempt)
	st.StartedAt = fromNanos(started)
	st.HeartbeatAt = fromNanos(heartbeat)
	st.FinishedAt = fromNanos(finished)
	st.UpdatedAt = fromNanos(updated)
	return &st, nil
}
