package domain

import (
	"crypto/sha256"
	"encoding/hex"
	"strconv"
	"time"
)

// ArtefactKey addresses one unit output of a stage for a document.
type ArtefactKey struct {
	DocumentID string
	Stage      string
	Unit       int
}

// String returns "document/stage/unit".
func (k ArtefactKey) String() string {
	return k.DocumentID + "/" + k.Stage + "/" + strconv.Itoa(k.Unit)
}

// ArtefactRef is an opaque, content-addressed reference to artefact bytes.
type ArtefactRef string

// NewArtefactRef derives the ref of key holding content with contentHash.
// The same (document, stage, unit, hash) always yields the same ref.
func NewArtefactRef(key ArtefactKey, contentHash string) ArtefactRef {
	h := sha256.New()
	h.Write([]byte(key.DocumentID))
	h.Write([]byte{0})
	h.Write([]byte(key.Stage))
	h.Write([]byte{0})
	h.Write([]byte(strconv.Itoa(key.Unit)))
	h.Write([]byte{0})
	h.Write([]byte(contentHash))
	return ArtefactRef(hex.EncodeToString(h.Sum(nil)))
}

// Artefact is the index record of a stored unit output.
type Artefact struct {
	Key         ArtefactKey
	Ref         ArtefactRef
	ContentHash string
	Size        int64

	// Version increases each time the key receives different content.
	Version int

	CreatedAt time.Time

	// SupersededAt is set once a newer version replaces this one.
	SupersededAt time.Time
}

// Current reports whether the artefact has not been superseded.
func (a *Artefact) Current() bool {
	return a.SupersededAt.IsZero()
}
