package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/custodia-labs/debatepipe/internal/core/domain"
	"github.com/custodia-labs/debatepipe/internal/core/ports/driven"
)

// topicStore implements driven.TopicStore.
type topicStore struct {
	store *Store
}

var _ driven.TopicStore = (*topicStore)(nil)

// ListClusters returns clusters ordered by id.
func (s *topicStore) ListClusters(ctx context.Context) ([]domain.Cluster, error) {
	rows, err := s.store.db.QueryContext(ctx, `
		SELECT id, label, centroid, size, created_at, updated_at FROM topic_clusters ORDER BY id
	`)
	if err != nil {
		return nil, unavailable("querying clusters", err)
	}
	defer rows.Close()

	var out []domain.Cluster //nolint:prealloc // size unknown from query
	for rows.Next() {
		var c domain.Cluster
		var label, created, updated sql.NullString
		var centroid []byte
		if err := rows.Scan(&c.ID, &label, &centroid, &c.Size, &created, &updated); err != nil {
			return nil, unavailable("scanning cluster", err)
		}
		c.Label = label.String
		c.Centroid = bytesToFloat32Slice(centroid)
		c.CreatedAt = parseNullableTime(created)
		c.UpdatedAt = parseNullableTime(updated)
		out = append(out, c)
	}
	if err := rows.Err(); err != nil {
		return nil, unavailable("iterating clusters", err)
	}
	return out, nil
}

// ListAssignments returns all assignments ordered by document id.
func (s *topicStore) ListAssignments(ctx context.Context) ([]domain.TopicAssignment, error) {
	rows, err := s.store.db.QueryContext(ctx, `
		SELECT document_id, cluster_id, similarity, assigned_at FROM topic_assignments ORDER BY document_id
	`)
	if err != nil {
		return nil, unavailable("querying assignments", err)
	}
	defer rows.Close()

	var out []domain.TopicAssignment //nolint:prealloc // size unknown from query
	for rows.Next() {
		var a domain.TopicAssignment
		var assigned sql.NullString
		if err := rows.Scan(&a.DocumentID, &a.ClusterID, &a.Similarity, &assigned); err != nil {
			return nil, unavailable("scanning assignment", err)
		}
		a.AssignedAt = parseNullableTime(assigned)
		out = append(out, a)
	}
	if err := rows.Err(); err != nil {
		return nil, unavailable("iterating assignments", err)
	}
	return out, nil
}

// ListEmbeddings returns stored embeddings ordered by document id.
func (s *topicStore) ListEmbeddings(ctx context.Context) ([]domain.DocumentEmbedding, error) {
	rows, err := s.store.db.QueryContext(ctx, `
		SELECT document_id, vector FROM document_embeddings ORDER BY document_id
	`)
	if err != nil {
		return nil, unavailable("querying embeddings", err)
	}
	defer rows.Close()

	var out []domain.DocumentEmbedding //nolint:prealloc // size unknown from query
	for rows.Next() {
		var e domain.DocumentEmbedding
		var vector []byte
		if err := rows.Scan(&e.DocumentID, &vector); err != nil {
			return nil, unavailable("scanning embedding", err)
		}
		e.Vector = bytesToFloat32Slice(vector)
		out = append(out, e)
	}
	if err := rows.Err(); err != nil {
		return nil, unavailable("iterating embeddings", err)
	}
	return out, nil
}

// SaveTopics upserts clusters, assignments and embeddings in one transaction.
func (s *topicStore) SaveTopics(ctx context.Context, update domain.TopicUpdate) error {
	now := formatNullableTime(time.Now().UTC())

	err := s.store.withTx(ctx, func(tx *sql.Tx) error {
		if update.Replace {
			if _, err := tx.ExecContext(ctx, `DELETE FROM topic_assignments`); err != nil {
				return err
			}
			if _, err := tx.ExecContext(ctx, `DELETE FROM topic_clusters`); err != nil {
				return err
			}
		}

		for _, c := range update.Clusters {
			created := formatNullableTime(c.CreatedAt)
			if created == nil {
				created = now
			}
			if _, err := tx.ExecContext(ctx, `
				INSERT INTO topic_clusters (id, label, centroid, size, created_at, updated_at)
				VALUES (?, ?, ?, ?, ?, ?)
				ON CONFLICT(id) DO UPDATE SET
					label = excluded.label,
					centroid = excluded.centroid,
					size = excluded.size,
					updated_at = excluded.updated_at
			`, c.ID, nullString(c.Label), float32SliceToBytes(c.Centroid), c.Size, created, now); err != nil {
				return err
			}
		}

		for _, a := range update.Assignments {
			assigned := formatNullableTime(a.AssignedAt)
			if assigned == nil {
				assigned = now
			}
			if _, err := tx.ExecContext(ctx, `
				INSERT INTO topic_assignments (document_id, cluster_id, similarity, assigned_at)
				VALUES (?, ?, ?, ?)
				ON CONFLICT(document_id) DO UPDATE SET
					cluster_id = excluded.cluster_id,
					similarity = excluded.similarity,
					assigned_at = excluded.assigned_at
			`, a.DocumentID, a.ClusterID, a.Similarity, assigned); err != nil {
				return err
			}
		}

		for _, e := range update.Embeddings {
			if _, err := tx.ExecContext(ctx, `
				INSERT INTO document_embeddings (document_id, vector, updated_at)
				VALUES (?, ?, ?)
				ON CONFLICT(document_id) DO UPDATE SET
					vector = excluded.vector,
					updated_at = excluded.updated_at
			`, e.DocumentID, float32SliceToBytes(e.Vector), now); err != nil {
				return err
			}
		}
		return nil
	})
	return unavailable("saving topics", err)
}

// RenameCluster sets a cluster's label.
func (s *topicStore) RenameCluster(ctx context.Context, id int, label string) error {
	res, err := s.store.db.ExecContext(ctx, `
		UPDATE topic_clusters SET label = ?, updated_at = ? WHERE id = ?
	`, nullString(label), formatNullableTime(time.Now().UTC()), id)
	if err != nil {
		return unavailable("renaming cluster", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return unavailable("renaming cluster", err)
	}
	if n == 0 {
		return fmt.Errorf("cluster %d: %w", id, domain.ErrNotFound)
	}
	return nil
}
