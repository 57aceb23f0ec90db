package file

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/custodia-labs/debatepipe/internal/core/domain"
)

func testRef(data string) domain.ArtefactRef {
	return domain.NewArtefactRef(domain.ArtefactKey{DocumentID: "doc-1", Stage: "extract", Unit: 0},
		domain.HashContent([]byte(data)))
}

func TestBlobStore_WriteRead(t *testing.T) {
	dir := t.TempDir()
	blobs, err := NewBlobStore(dir)
	require.NoError(t, err)
	ctx := context.Background()
	ref := testRef("page one")

	require.NoError(t, blobs.Write(ctx, ref, []byte("page one")))

	data, err := blobs.Read(ctx, ref)
	require.NoError(t, err)
	assert.Equal(t, "page one", string(data))

	s := string(ref)
	_, err = os.Stat(filepath.Join(dir, BlobDir, s[:2], s))
	assert.NoError(t, err)
}

func TestBlobStore_WriteOverwrites(t *testing.T) {
	blobs, err := NewBlobStore(t.TempDir())
	require.NoError(t, err)
	ctx := context.Background()
	ref := testRef("x")

	require.NoError(t, blobs.Write(ctx, ref, []byte("first")))
	require.NoError(t, blobs.Write(ctx, ref, []byte("second")))

	data, err := blobs.Read(ctx, ref)
	require.NoError(t, err)
	assert.Equal(t, "second", string(data))
}

func TestBlobStore_ReadMissing(t *testing.T) {
	blobs, err := NewBlobStore(t.TempDir())
	require.NoError(t, err)

	_, err = blobs.Read(context.Background(), testRef("missing"))

	assert.ErrorIs(t, err, domain.ErrNotFound)
}

func TestBlobStore_Delete(t *testing.T) {
	blobs, err := NewBlobStore(t.TempDir())
	require.NoError(t, err)
	ctx := context.Background()
	ref := testRef("gone")

	require.NoError(t, blobs.Write(ctx, ref, []byte("gone")))
	require.NoError(t, blobs.Delete(ctx, ref))
	require.NoError(t, blobs.Delete(ctx, ref))

	_, err = blobs.Read(ctx, ref)
	assert.ErrorIs(t, err, domain.ErrNotFound)
}

func TestBlobStore_RejectsUnsafeRefs(t *testing.T) {
	blobs, err := NewBlobStore(t.TempDir())
	require.NoError(t, err)
	ctx := context.Background()

	for _, ref := range []domain.ArtefactRef{"", "ab", "../etc/passwd", "ab/cd", ".hidden"} {
		err := blobs.Write(ctx, ref, []byte("x"))
		assert.ErrorIs(t, err, domain.ErrInvalidInput, "ref %q", ref)
	}
}

func TestBlobStore_CancelledContext(t *testing.T) {
	blobs, err := NewBlobStore(t.TempDir())
	require.NoError(t, err)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	assert.ErrorIs(t, blobs.Write(ctx, testRef("x"), []byte("x")), context.Canceled)
}

func TestBlobStore_WriteIntoReadOnlyDir(t *testing.T) {
	if os.Geteuid() == 0 {
		t.Skip("permissions are not enforced for root")
	}
	dir := t.TempDir()
	blobs, err := NewBlobStore(dir)
	require.NoError(t, err)
	require.NoError(t, os.Chmod(blobs.Root(), 0500))
	t.Cleanup(func() { _ = os.Chmod(blobs.Root(), 0700) })

	err = blobs.Write(context.Background(), testRef("ro"), []byte("ro"))

	assert.ErrorIs(t, err, domain.ErrStorageUnavailable)
}
