package domain

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestNewArtefactRef_Deterministic(t *testing.T) {
	key := ArtefactKey{DocumentID: "d1", Stage: "extract", Unit: 3}
	hash := HashContent([]byte("page three"))

	ref := NewArtefactRef(key, hash)
	assert.Len(t, string(ref), 64)
	assert.Equal(t, ref, NewArtefactRef(key, hash))
}

func TestNewArtefactRef_DistinctInputs(t *testing.T) {
	hash := HashContent([]byte("x"))
	base := NewArtefactRef(ArtefactKey{DocumentID: "d1", Stage: "extract", Unit: 1}, hash)

	assert.NotEqual(t, base, NewArtefactRef(ArtefactKey{DocumentID: "d2", Stage: "extract", Unit: 1}, hash))
	assert.NotEqual(t, base, NewArtefactRef(ArtefactKey{DocumentID: "d1", Stage: "translate", Unit: 1}, hash))
	assert.NotEqual(t, base, NewArtefactRef(ArtefactKey{DocumentID: "d1", Stage: "extract", Unit: 11}, hash))
	assert.NotEqual(t, base, NewArtefactRef(ArtefactKey{DocumentID: "d1", Stage: "extract", Unit: 1}, HashContent([]byte("y"))))

	// Separator prevents "d1"+"1extract" colliding with "d11"+"extract".
	assert.NotEqual(t,
		NewArtefactRef(ArtefactKey{DocumentID: "d1", Stage: "1extract", Unit: 0}, hash),
		NewArtefactRef(ArtefactKey{DocumentID: "d11", Stage: "extract", Unit: 0}, hash))
}

func TestArtefact_Current(t *testing.T) {
	a := Artefact{}
	assert.True(t, a.Current())
}

func TestArtefactKey_String(t *testing.T) {
	assert.Equal(t, "d1/extract/2", ArtefactKey{DocumentID: "d1", Stage: "extract", Unit: 2}.String())
}
