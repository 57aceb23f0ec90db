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

// artefactCache implements driven.ArtefactCache with an SQLite index
// and a blob store for the bytes.
type artefactCache struct {
	store *Store
	blobs driven.BlobStore
}

var _ driven.ArtefactCache = (*artefactCache)(nil)

const artefactColumns = `ref, document_id, stage, unit, content_hash, size, version, created_at, superseded_at`

// Put stores data under key.
func (c *artefactCache) Put(ctx context.Context, key domain.ArtefactKey, data []byte) (domain.ArtefactRef, error) {
	return c.put(ctx, key, data, nil)
}

// PutOutput stores data under key while claim is still held.
func (c *artefactCache) PutOutput(ctx context.Context, claim driven.OutputClaim, key domain.ArtefactKey, data []byte) (domain.ArtefactRef, error) {
	if key.DocumentID != claim.Key.DocumentID || key.Stage != claim.Key.Stage {
		return "", fmt.Errorf("artefact %s outside claim %s: %w", key, claim.Key, domain.ErrInvalidInput)
	}
	return c.put(ctx, key, data, &claim)
}

// put indexes data under key. Bytes are written inside the index
// transaction, which holds the write lock, so Prune cannot delete them
// between the write and the index row.
func (c *artefactCache) put(ctx context.Context, key domain.ArtefactKey, data []byte, claim *driven.OutputClaim) (domain.ArtefactRef, error) {
	if key.DocumentID == "" || key.Stage == "" || key.Unit < 0 {
		return "", fmt.Errorf("artefact %s: %w", key, domain.ErrInvalidInput)
	}

	hash := domain.HashContent(data)
	ref := domain.NewArtefactRef(key, hash)

	now := time.Now().UTC().UnixNano()
	err := c.store.withTx(ctx, func(tx *sql.Tx) error {
		if claim != nil {
			if err := checkClaim(ctx, tx, *claim); err != nil {
				return err
			}
		}

		if err := c.blobs.Write(ctx, ref, data); err != nil {
			return fmt.Errorf("writing artefact bytes: %w", err)
		}

		var current sql.NullString
		err := tx.QueryRowContext(ctx, `
			SELECT ref FROM artefacts
			WHERE document_id = ? AND stage = ? AND unit = ? AND superseded_at IS NULL
		`, key.DocumentID, key.Stage, key.Unit).Scan(&current)
		if err != nil && !errors.Is(err, sql.ErrNoRows) {
			return err
		}
		if current.Valid && current.String == string(ref) {
			return nil
		}

		if _, err := tx.ExecContext(ctx, `
			UPDATE artefacts SET superseded_at = ?
			WHERE document_id = ? AND stage = ? AND unit = ? AND superseded_at IS NULL
		`, now, key.DocumentID, key.Stage, key.Unit); err != nil {
			return err
		}

		var version int
		if err := tx.QueryRowContext(ctx, `
			SELECT COALESCE(MAX(version), 0) FROM artefacts
			WHERE document_id = ? AND stage = ? AND unit = ?
		`, key.DocumentID, key.Stage, key.Unit).Scan(&version); err != nil {
			return err
		}

		// A ref seen before is revived as the newest version.
		_, err = tx.ExecContext(ctx, `
			INSERT INTO artefacts (`+artefactColumns+`)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, NULL)
			ON CONFLICT(ref) DO UPDATE SET
				version = excluded.version,
				superseded_at = NULL
		`, string(ref), key.DocumentID, key.Stage, key.Unit, hash, len(data), version+1, now)
		return err
	})
	if err != nil {
		return "", unavailable("indexing artefact", err)
	}
	return ref, nil
}

// Get returns the bytes behind ref and verifies them.
func (c *artefactCache) Get(ctx context.Context, ref domain.ArtefactRef) ([]byte, error) {
	var hash string
	err := c.store.db.QueryRowContext(ctx, `SELECT content_hash FROM artefacts WHERE ref = ?`, string(ref)).Scan(&hash)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("artefact %s: %w", ref, domain.ErrNotFound)
	}
	if err != nil {
		return nil, unavailable("getting artefact", err)
	}

	data, err := c.blobs.Read(ctx, ref)
	if errors.Is(err, domain.ErrNotFound) {
		return nil, fmt.Errorf("artefact %s bytes missing: %w", ref, domain.ErrCorruptArtefact)
	}
	if err != nil {
		return nil, unavailable("reading artefact bytes", err)
	}
	if domain.HashContent(data) != hash {
		return nil, fmt.Errorf("artefact %s: %w", ref, domain.ErrCorruptArtefact)
	}
	return data, nil
}

// Exists reports whether key has a current artefact.
func (c *artefactCache) Exists(ctx context.Context, key domain.ArtefactKey) (bool, error) {
	var n int
	err := c.store.db.QueryRowContext(ctx, `
		SELECT COUNT(*) FROM artefacts
		WHERE document_id = ? AND stage = ? AND unit = ? AND superseded_at IS NULL
	`, key.DocumentID, key.Stage, key.Unit).Scan(&n)
	if err != nil {
		return false, unavailable("checking artefact", err)
	}
	return n > 0, nil
}

// Current returns the current artefact for key.
func (c *artefactCache) Current(ctx context.Context, key domain.ArtefactKey) (*domain.Artefact, error) {
	row := c.store.db.QueryRowContext(ctx, `
		SELECT `+artefactColumns+` FROM artefacts
		WHERE document_id = ? AND stage = ? AND unit = ? AND superseded_at IS NULL
	`, key.DocumentID, key.Stage, key.Unit)
	a, err := scanArtefact(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("artefact %s: %w", key, domain.ErrNotFound)
	}
	if err != nil {
		return nil, unavailable("getting current artefact", err)
	}
	return a, nil
}

// List returns current artefacts for a document.
func (c *artefactCache) List(ctx context.Context, documentID, stage string) ([]domain.Artefact, error) {
	query := `SELECT ` + artefactColumns + ` FROM artefacts WHERE document_id = ? AND superseded_at IS NULL`
	args := []any{documentID}
	if stage != "" {
		query += ` AND stage = ?`
		args = append(args, stage)
	}
	query += ` ORDER BY stage, unit`

	rows, err := c.store.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, unavailable("listing artefacts", err)
	}
	defer rows.Close()

	var out []domain.Artefact //nolint:prealloc // size unknown from query
	for rows.Next() {
		a, err := scanArtefact(rows)
		if err != nil {
			return nil, unavailable("scanning artefact", err)
		}
		out = append(out, *a)
	}
	if err := rows.Err(); err != nil {
		return nil, unavailable("iterating artefacts", err)
	}
	return out, nil
}

// Lookup finds the artefact of key with contentHash.
func (c *artefactCache) Lookup(ctx context.Context, key domain.ArtefactKey, contentHash string) (*domain.Artefact, error) {
	row := c.store.db.QueryRowContext(ctx, `SELECT `+artefactColumns+` FROM artefacts WHERE ref = ?`,
		string(domain.NewArtefactRef(key, contentHash)))
	a, err := scanArtefact(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("artefact %s@%s: %w", key, contentHash, domain.ErrNotFound)
	}
	if err != nil {
		return nil, unavailable("looking up artefact", err)
	}
	return a, nil
}

// Retain supersedes current outputs of the claimed pair outside units.
func (c *artefactCache) Retain(ctx context.Context, claim driven.OutputClaim, units []int) (int, error) {
	var n int64
	err := c.store.withTx(ctx, func(tx *sql.Tx) error {
		if err := checkClaim(ctx, tx, claim); err != nil {
			return err
		}

		query := `
			UPDATE artefacts SET superseded_at = ?
			WHERE document_id = ? AND stage = ? AND superseded_at IS NULL`
		args := []any{time.Now().UTC().UnixNano(), claim.Key.DocumentID, claim.Key.Stage}
		if len(units) > 0 {
			query += ` AND unit NOT IN (` + placeholders(len(units)) + `)`
			for _, u := range units {
				args = append(args, u)
			}
		}

		res, err := tx.ExecContext(ctx, query, args...)
		if err != nil {
			return err
		}
		n, err = res.RowsAffected()
		return err
	})
	if err != nil {
		return 0, unavailable("retaining artefacts", err)
	}
	return int(n), nil
}

// Prune deletes artefacts superseded before the cutoff. Each index row
// and its bytes go in one write transaction so a concurrent Put reviving
// the same ref either lands before (and the row is kept) or after (and
// rewrites the bytes).
func (c *artefactCache) Prune(ctx context.Context, before time.Time) (int, error) {
	rows, err := c.store.db.QueryContext(ctx, `
		SELECT ref FROM artefacts WHERE superseded_at IS NOT NULL AND superseded_at < ?
	`, before.UnixNano())
	if err != nil {
		return 0, unavailable("querying superseded artefacts", err)
	}

	var refs []domain.ArtefactRef
	for rows.Next() {
		var ref string
		if err := rows.Scan(&ref); err != nil {
			rows.Close()
			return 0, unavailable("scanning superseded artefact", err)
		}
		refs = append(refs, domain.ArtefactRef(ref))
	}
	if err := rows.Err(); err != nil {
		rows.Close()
		return 0, unavailable("iterating superseded artefacts", err)
	}
	rows.Close()

	pruned := 0
	for _, ref := range refs {
		var deleted bool
		err := c.store.withTx(ctx, func(tx *sql.Tx) error {
			// A revived ref is current again and must keep its bytes.
			res, err := tx.ExecContext(ctx, `
				DELETE FROM artefacts WHERE ref = ? AND superseded_at IS NOT NULL AND superseded_at < ?
			`, string(ref), before.UnixNano())
			if err != nil {
				return err
			}
			if n, err := res.RowsAffected(); err != nil || n == 0 {
				return err
			}
			if err := c.blobs.Delete(ctx, ref); err != nil {
				return fmt.Errorf("deleting artefact bytes: %w", err)
			}
			deleted = true
			return nil
		})
		if err != nil {
			return pruned, unavailable("pruning artefact", err)
		}
		if deleted {
			pruned++
		}
	}
	return pruned, nil
}

// checkClaim fails with domain.ErrClaimLost unless claim.Owner holds the
// running pair and the document still has claim.ContentHash.
func checkClaim(ctx context.Context, tx *sql.Tx, claim driven.OutputClaim) error {
	var n int
	err := tx.QueryRowContext(ctx, `
		SELECT COUNT(*) FROM stage_states s
		JOIN documents d ON d.id = s.document_id
		WHERE s.document_id = ? AND s.stage = ? AND s.status = 'running' AND s.owner = ?
			AND d.content_hash = ?
	`, claim.Key.DocumentID, claim.Key.Stage, claim.Owner, claim.ContentHash).Scan(&n)
	if err != nil {
		return err
	}
	if n == 0 {
		return fmt.Errorf("outputs of %s: %w", claim.Key, domain.ErrClaimLost)
	}
	return nil
}

// scanArtefact scans an artefact index row.
func scanArtefact(row rowScanner) (*domain.Artefact, error) {
	var a domain.Artefact
	var ref string
	var created int64
	var superseded sql.NullInt64

	if err := row.Scan(&ref, &a.Key.DocumentID, &a.Key.Stage, &a.Key.Unit, &a.ContentHash,
		&a.Size, &a.Version, &created, &superseded); err != nil {
		return nil, err
	}

	a.Ref = domain.ArtefactRef(ref)
	a.CreatedAt = time.Unix(0, created).UTC()
	a.SupersededAt = fromNanos(superseded)
	return &a, nil
}
