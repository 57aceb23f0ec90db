package sqlite

import (
	"context"
	"database/sql"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/custodia-labs/debatepipe/internal/core/domain"
	"github.com/custodia-labs/debatepipe/internal/core/ports/driven"
)

// setupTestStore creates a temporary SQLite store for testing.
func setupTestStore(t *testing.T) (*Store, func()) {
	t.Helper()

	tempDir, err := os.MkdirTemp("", "debatepipe-test-*")
	require.NoError(t, err)

	store, err := NewStore(tempDir)
	require.NoError(t, err)
	require.NotNil(t, store)

	cleanup := func() {
		assert.NoError(t, store.Close())
		assert.NoError(t, os.RemoveAll(tempDir))
	}

	return store, cleanup
}

// testStages is the stage chain used by store tests.
var testStages = []string{"extract", "translate", "summarise"}

// createTestDocument creates a document with pending stages.
func createTestDocument(t *testing.T, ss driven.StateStore, id string) *domain.Document {
	t.Helper()

	doc := &domain.Document{
		ID:          id,
		SourceURI:   "https://portal.example/" + id + ".pdf",
		ContentHash: domain.HashContent([]byte(id)),
		Size:        int64(len(id)),
		RetrievedAt: time.Now().UTC(),
	}
	for i, name := range testStages {
		doc.Stages = append(doc.Stages, domain.StageState{Stage: name, Position: i, Status: domain.StatusPending})
	}
	require.NoError(t, ss.CreateDocument(context.Background(), doc))
	return doc
}

// memBlobs is an in-memory driven.BlobStore for cache tests.
type memBlobs struct {
	mu       sync.Mutex
	data     map[domain.ArtefactRef][]byte
	writeErr error

	// beforeDelete runs outside the lock ahead of each Delete.
	beforeDelete func(ref domain.ArtefactRef)
}

var _ driven.BlobStore = (*memBlobs)(nil)

func newMemBlobs() *memBlobs {
	return &memBlobs{data: make(map[domain.ArtefactRef][]byte)}
}

func (m *memBlobs) Write(_ context.Context, ref domain.ArtefactRef, data []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.writeErr != nil {
		return m.writeErr
	}
	if _, ok := m.data[ref]; !ok {
		m.data[ref] = append([]byte(nil), data...)
	}
	return nil
}

func (m *memBlobs) Read(_ context.Context, ref domain.ArtefactRef) ([]byte, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	data, ok := m.data[ref]
	if !ok {
		return nil, domain.ErrNotFound
	}
	return append([]byte(nil), data...), nil
}

func (m *memBlobs) Delete(_ context.Context, ref domain.ArtefactRef) error {
	if m.beforeDelete != nil {
		m.beforeDelete(ref)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.data, ref)
	return nil
}

func TestNewStore_RunsMigrations(t *testing.T) {
	store, cleanup := setupTestStore(t)
	defer cleanup()

	var version int
	require.NoError(t, store.db.QueryRow("SELECT MAX(version) FROM schema_migrations").Scan(&version))
	assert.Equal(t, 3, version)

	for _, table := range []string{"documents", "stage_states", "artefacts", "identity_conflicts",
		"topic_clusters", "topic_assignments", "document_embeddings", "scheduled_tasks", "task_results"} {
		var name string
		err := store.db.QueryRow("SELECT name FROM sqlite_master WHERE type = 'table' AND name = ?", table).Scan(&name)
		assert.NoError(t, err, table)
	}
}

func TestNewStore_ReopenIsIdempotent(t *testing.T) {
	tempDir := t.TempDir()

	first, err := NewStore(tempDir)
	require.NoError(t, err)
	createTestDocument(t, first.StateStore(), "doc-1")
	require.NoError(t, first.Close())

	second, err := NewStore(tempDir)
	require.NoError(t, err)
	defer second.Close()

	doc, err := second.StateStore().GetDocument(context.Background(), "doc-1")
	require.NoError(t, err)
	assert.Len(t, doc.Stages, 3)
}

func TestStore_Path(t *testing.T) {
	store, cleanup := setupTestStore(t)
	defer cleanup()

	assert.Contains(t, store.Path(), DatabaseFile)
}

func TestUnavailable(t *testing.T) {
	assert.NoError(t, unavailable("op", nil))
	assert.ErrorIs(t, unavailable("op", sql.ErrConnDone), domain.ErrStorageUnavailable)
	assert.ErrorIs(t, unavailable("op", sql.ErrConnDone), sql.ErrConnDone)

	notFound := unavailable("op", domain.ErrNotFound)
	assert.ErrorIs(t, notFound, domain.ErrNotFound)
	assert.NotErrorIs(t, notFound, domain.ErrStorageUnavailable)

	canceled := unavailable("op", context.Canceled)
	assert.NotErrorIs(t, canceled, domain.ErrStorageUnavailable)
}

func TestFloat32Conversion(t *testing.T) {
	in := []float32{0.25, -1.5, 3}
	assert.Equal(t, in, bytesToFloat32Slice(float32SliceToBytes(in)))
	assert.Nil(t, float32SliceToBytes(nil))
	assert.Nil(t, bytesToFloat32Slice(nil))
}

func TestNanos(t *testing.T) {
	assert.Nil(t, nanos(time.Time{}))

	now := time.Now()
	n := nanos(now)
	require.IsType(t, int64(0), n)
	assert.True(t, now.Equal(fromNanos(sql.NullInt64{Int64: n.(int64), Valid: true})))
	assert.True(t, fromNanos(sql.NullInt64{}).IsZero())
}

func TestFormatNullableTime(t *testing.T) {
	assert.Nil(t, formatNullableTime(time.Time{}))

	now := time.Now().UTC()
	result := formatNullableTime(now)
	assert.Equal(t, now.Format(time.RFC3339Nano), result)
	assert.True(t, now.Equal(parseNullableTime(sql.NullString{String: result.(string), Valid: true})))
}

func TestHelpers(t *testing.T) {
	assert.Equal(t, 1, boolToInt(true))
	assert.Equal(t, 0, boolToInt(false))
	assert.Nil(t, nullString(""))
	assert.Equal(t, "hello", nullString("hello"))
	assert.Equal(t, "?, ?, ?", placeholders(3))
	assert.Equal(t, "", placeholders(0))
}
