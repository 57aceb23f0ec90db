package file

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/custodia-labs/debatepipe/internal/core/domain"
	"github.com/custodia-labs/debatepipe/internal/core/ports/driven"
)

// Ensure BlobStore implements the interface.
var _ driven.BlobStore = (*BlobStore)(nil)

// BlobDir is the artefact directory inside the data directory.
const BlobDir = "artefacts"

// BlobStore keeps artefact bytes in files named by ref, fanned out by the
// first two characters: <root>/ab/abcdef...
type BlobStore struct {
	root string
}

// NewBlobStore creates a blob store under dataDir/artefacts.
func NewBlobStore(dataDir string) (*BlobStore, error) {
	root := filepath.Join(dataDir, BlobDir)
	if err := os.MkdirAll(root, 0700); err != nil {
		return nil, fmt.Errorf("create blob directory: %w", domain.ErrStorageUnavailable)
	}
	return &BlobStore{root: root}, nil
}

// Root returns the blob directory.
func (b *BlobStore) Root() string {
	return b.root
}

// Write stores data under ref. The file appears atomically.
func (b *BlobStore) Write(ctx context.Context, ref domain.ArtefactRef, data []byte) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	path, err := b.path(ref)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(path), 0700); err != nil {
		return fmt.Errorf("blob %s: %v: %w", ref, err, domain.ErrStorageUnavailable)
	}

	tmp, err := os.CreateTemp(filepath.Dir(path), ".blob-*")
	if err != nil {
		return fmt.Errorf("blob %s: %v: %w", ref, err, domain.ErrStorageUnavailable)
	}
	tmpName := tmp.Name()
	defer os.Remove(tmpName) //nolint:errcheck // gone after a successful rename

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("blob %s: %v: %w", ref, err, domain.ErrStorageUnavailable)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return fmt.Errorf("blob %s: %v: %w", ref, err, domain.ErrStorageUnavailable)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("blob %s: %v: %w", ref, err, domain.ErrStorageUnavailable)
	}
	if err := os.Rename(tmpName, path); err != nil {
		return fmt.Errorf("blob %s: %v: %w", ref, err, domain.ErrStorageUnavailable)
	}
	return nil
}

// Read returns the bytes under ref.
func (b *BlobStore) Read(ctx context.Context, ref domain.ArtefactRef) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	path, err := b.path(ref)
	if err != nil {
		return nil, err
	}
	data, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("blob %s: %w", ref, domain.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("blob %s: %v: %w", ref, err, domain.ErrStorageUnavailable)
	}
	return data, nil
}

// Delete removes the bytes under ref. Missing blobs are not an error.
func (b *BlobStore) Delete(ctx context.Context, ref domain.ArtefactRef) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	path, err := b.path(ref)
	if err != nil {
		return err
	}
	if err := os.Remove(path); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("blob %s: %v: %w", ref, err, domain.ErrStorageUnavailable)
	}
	return nil
}

func (b *BlobStore) path(ref domain.ArtefactRef) (string, error) {
	s := string(ref)
	if len(s) < 3 || filepath.Base(s) != s || s[0] == '.' {
		return "", fmt.Errorf("blob ref %q: %w", s, domain.ErrInvalidInput)
	}
	return filepath.Join(b.root, s[:2], s), nil
}
