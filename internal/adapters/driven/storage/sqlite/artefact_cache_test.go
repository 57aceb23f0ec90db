package sqlite

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/custodia-labs/debatepipe/internal/core/domain"
	"github.com/custodia-labs/debatepipe/internal/core/ports/driven"
)

func TestArtefactCache_PutGet(t *testing.T) {
	store, cleanup := setupTestStore(t)
	defer cleanup()

	ctx := context.Background()
	cache := store.ArtefactCache(newMemBlobs())
	key := domain.ArtefactKey{DocumentID: "doc-1", Stage: "extract", Unit: 2}

	ref, err := cache.Put(ctx, key, []byte("page two"))
	require.NoError(t, err)
	assert.Equal(t, domain.NewArtefactRef(key, domain.HashContent([]byte("page two"))), ref)

	data, err := cache.Get(ctx, ref)
	require.NoError(t, err)
	assert.Equal(t, "page two", string(data))

	exists, err := cache.Exists(ctx, key)
	require.NoError(t, err)
	assert.True(t, exists)

	current, err := cache.Current(ctx, key)
	require.NoError(t, err)
	assert.Equal(t, ref, current.Ref)
	assert.Equal(t, 1, current.Version)
	assert.Equal(t, int64(8), current.Size)
	assert.True(t, current.Current())
}

func TestArtefactCache_PutIdenticalIsNoop(t *testing.T) {
	store, cleanup := setupTestStore(t)
	defer cleanup()

	ctx := context.Background()
	cache := store.ArtefactCache(newMemBlobs())
	key := domain.ArtefactKey{DocumentID: "doc-1", Stage: "extract"}

	first, err := cache.Put(ctx, key, []byte("same"))
	require.NoError(t, err)
	second, err := cache.Put(ctx, key, []byte("same"))
	require.NoError(t, err)

	assert.Equal(t, first, second)
	current, err := cache.Current(ctx, key)
	require.NoError(t, err)
	assert.Equal(t, 1, current.Version)
}

func TestArtefactCache_PutDifferentSupersedes(t *testing.T) {
	store, cleanup := setupTestStore(t)
	defer cleanup()

	ctx := context.Background()
	cache := store.ArtefactCache(newMemBlobs())
	key := domain.ArtefactKey{DocumentID: "doc-1", Stage: "translate"}

	oldRef, err := cache.Put(ctx, key, []byte("draft"))
	require.NoError(t, err)
	newRef, err := cache.Put(ctx, key, []byte("final"))
	require.NoError(t, err)
	assert.NotEqual(t, oldRef, newRef)

	current, err := cache.Current(ctx, key)
	require.NoError(t, err)
	assert.Equal(t, newRef, current.Ref)
	assert.Equal(t, 2, current.Version)

	old, err := cache.Lookup(ctx, key, domain.HashContent([]byte("draft")))
	require.NoError(t, err)
	assert.False(t, old.Current())

	data, err := cache.Get(ctx, oldRef)
	require.NoError(t, err, "superseded bytes stay readable")
	assert.Equal(t, "draft", string(data))

	// Re-putting the old content revives it as the newest version.
	revived, err := cache.Put(ctx, key, []byte("draft"))
	require.NoError(t, err)
	assert.Equal(t, oldRef, revived)

	current, err = cache.Current(ctx, key)
	require.NoError(t, err)
	assert.Equal(t, oldRef, current.Ref)
	assert.Equal(t, 3, current.Version)
}

func TestArtefactCache_GetDetectsCorruption(t *testing.T) {
	store, cleanup := setupTestStore(t)
	defer cleanup()

	ctx := context.Background()
	blobs := newMemBlobs()
	cache := store.ArtefactCache(blobs)

	ref, err := cache.Put(ctx, domain.ArtefactKey{DocumentID: "d", Stage: "extract"}, []byte("good"))
	require.NoError(t, err)

	blobs.data[ref] = []byte("bad!")
	_, err = cache.Get(ctx, ref)
	assert.ErrorIs(t, err, domain.ErrCorruptArtefact)

	delete(blobs.data, ref)
	_, err = cache.Get(ctx, ref)
	assert.ErrorIs(t, err, domain.ErrCorruptArtefact)

	_, err = cache.Get(ctx, "unknown")
	assert.ErrorIs(t, err, domain.ErrNotFound)
}

func TestArtefactCache_BlobFailureIsUnavailable(t *testing.T) {
	store, cleanup := setupTestStore(t)
	defer cleanup()

	blobs := newMemBlobs()
	blobs.writeErr = errors.New("no space left on device")
	cache := store.ArtefactCache(blobs)

	_, err := cache.Put(context.Background(), domain.ArtefactKey{DocumentID: "d", Stage: "extract"}, []byte("x"))
	assert.ErrorIs(t, err, domain.ErrStorageUnavailable)
}

func TestArtefactCache_InvalidKey(t *testing.T) {
	store, cleanup := setupTestStore(t)
	defer cleanup()

	cache := store.ArtefactCache(newMemBlobs())
	_, err := cache.Put(context.Background(), domain.ArtefactKey{Stage: "extract"}, []byte("x"))
	assert.ErrorIs(t, err, domain.ErrInvalidInput)
	_, err = cache.Put(context.Background(), domain.ArtefactKey{DocumentID: "d", Stage: "extract", Unit: -1}, []byte("x"))
	assert.ErrorIs(t, err, domain.ErrInvalidInput)
}

// outputClaim claims stage of doc for owner and returns the matching
// output claim.
func outputClaim(t *testing.T, ss driven.StateStore, doc *domain.Document, stage, owner string) driven.OutputClaim {
	t.Helper()
	st := claim(t, ss, doc.ID, stage, owner)
	return driven.OutputClaim{Key: st.Key(), Owner: owner, ContentHash: doc.ContentHash}
}

func TestArtefactCache_ListAndRetain(t *testing.T) {
	store, cleanup := setupTestStore(t)
	defer cleanup()

	ctx := context.Background()
	cache := store.ArtefactCache(newMemBlobs())
	ss := store.StateStore()
	doc := createTestDocument(t, ss, "d")
	extractClaim := outputClaim(t, ss, doc, "extract", "run-1")
	summaryClaim := outputClaim(t, ss, doc, "summarise", "run-1")

	for unit := 0; unit < 4; unit++ {
		_, err := cache.Put(ctx, domain.ArtefactKey{DocumentID: "d", Stage: "extract", Unit: unit}, []byte{byte(unit)})
		require.NoError(t, err)
	}
	_, err := cache.Put(ctx, domain.ArtefactKey{DocumentID: "d", Stage: "summarise"}, []byte("summary"))
	require.NoError(t, err)

	all, err := cache.List(ctx, "d", "")
	require.NoError(t, err)
	assert.Len(t, all, 5)

	extract, err := cache.List(ctx, "d", "extract")
	require.NoError(t, err)
	require.Len(t, extract, 4)
	for i, a := range extract {
		assert.Equal(t, i, a.Key.Unit)
	}

	_, err = cache.Retain(ctx, driven.OutputClaim{Key: extractClaim.Key, Owner: "run-2", ContentHash: doc.ContentHash}, nil)
	assert.ErrorIs(t, err, domain.ErrClaimLost)

	n, err := cache.Retain(ctx, extractClaim, []int{0, 1})
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	extract, err = cache.List(ctx, "d", "extract")
	require.NoError(t, err)
	assert.Len(t, extract, 2)

	n, err = cache.Retain(ctx, summaryClaim, nil)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
}

func TestArtefactCache_Prune(t *testing.T) {
	store, cleanup := setupTestStore(t)
	defer cleanup()

	ctx := context.Background()
	blobs := newMemBlobs()
	cache := store.ArtefactCache(blobs)
	key := domain.ArtefactKey{DocumentID: "d", Stage: "translate"}

	oldRef, err := cache.Put(ctx, key, []byte("v1"))
	require.NoError(t, err)
	newRef, err := cache.Put(ctx, key, []byte("v2"))
	require.NoError(t, err)

	n, err := cache.Prune(ctx, time.Now().Add(-time.Hour))
	require.NoError(t, err)
	assert.Zero(t, n, "superseded too recently")

	n, err = cache.Prune(ctx, time.Now().Add(time.Second))
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	_, err = cache.Get(ctx, oldRef)
	assert.ErrorIs(t, err, domain.ErrNotFound)
	assert.NotContains(t, blobs.data, oldRef)

	data, err := cache.Get(ctx, newRef)
	require.NoError(t, err)
	assert.Equal(t, "v2", string(data))
}

func TestArtefactCache_PutOutputRequiresLiveClaim(t *testing.T) {
	store, cleanup := setupTestStore(t)
	defer cleanup()

	ctx := context.Background()
	cache := store.ArtefactCache(newMemBlobs())
	ss := store.StateStore()
	doc := createTestDocument(t, ss, "d")
	c := outputClaim(t, ss, doc, "translate", "run-1")
	key := domain.ArtefactKey{DocumentID: "d", Stage: "translate", Unit: 1}

	_, err := cache.PutOutput(ctx, c, key, []byte("page one"))
	require.NoError(t, err)

	_, err = cache.PutOutput(ctx, c, domain.ArtefactKey{DocumentID: "d", Stage: "extract"}, []byte("x"))
	assert.ErrorIs(t, err, domain.ErrInvalidInput)

	_, err = cache.PutOutput(ctx, driven.OutputClaim{Key: c.Key, Owner: "run-2", ContentHash: doc.ContentHash}, key, []byte("x"))
	assert.ErrorIs(t, err, domain.ErrClaimLost)

	// Revising the document mid-stage resets the pair and changes its hash.
	_, err = ss.ReviseDocument(ctx, driven.DocumentRevision{DocumentID: "d", SourceURI: doc.SourceURI, ContentHash: "h2"})
	require.NoError(t, err)

	_, err = cache.PutOutput(ctx, c, key, []byte("stale page one"))
	assert.ErrorIs(t, err, domain.ErrClaimLost)
	assert.NotErrorIs(t, err, domain.ErrStorageUnavailable)

	exists, err := cache.Exists(ctx, key)
	require.NoError(t, err)
	assert.False(t, exists, "stale output must not become current")

	// A new claim taken after the revision sees the new hash.
	revised, err := ss.GetDocument(ctx, "d")
	require.NoError(t, err)
	fresh := outputClaim(t, ss, revised, "translate", "run-3")
	_, err = cache.PutOutput(ctx, fresh, key, []byte("new page one"))
	require.NoError(t, err)
}

func TestArtefactCache_PruneKeepsBytesOfRevivedRef(t *testing.T) {
	store, cleanup := setupTestStore(t)
	defer cleanup()

	ctx := context.Background()
	blobs := newMemBlobs()
	cache := store.ArtefactCache(blobs)
	key := domain.ArtefactKey{DocumentID: "d", Stage: "translate"}

	oldRef, err := cache.Put(ctx, key, []byte("v1"))
	require.NoError(t, err)
	_, err = cache.Put(ctx, key, []byte("v2"))
	require.NoError(t, err)

	// Revive v1 while Prune is between deleting its row and its bytes.
	revived := make(chan error, 1)
	blobs.beforeDelete = func(ref domain.ArtefactRef) {
		if ref != oldRef {
			return
		}
		blobs.beforeDelete = nil
		go func() {
			_, err := cache.Put(ctx, key, []byte("v1"))
			revived <- err
		}()
		select {
		case err := <-revived:
			revived <- err
		case <-time.After(200 * time.Millisecond):
		}
	}

	_, err = cache.Prune(ctx, time.Now().Add(time.Second))
	require.NoError(t, err)
	require.NoError(t, <-revived)

	current, err := cache.Current(ctx, key)
	require.NoError(t, err)
	assert.Equal(t, oldRef, current.Ref)

	data, err := cache.Get(ctx, oldRef)
	require.NoError(t, err, "current artefact must keep its bytes")
	assert.Equal(t, "v1", string(data))
}
