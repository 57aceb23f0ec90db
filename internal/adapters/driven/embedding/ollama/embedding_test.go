package ollama

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/custodia-labs/debatepipe/internal/core/domain"
)

func embedServer(t *testing.T, status int) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if status != http.StatusOK {
			http.Error(w, "model not loaded", status)
			return
		}
		var req embedRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		resp := embedResponse{}
		for i := range req.Input {
			resp.Embeddings = append(resp.Embeddings, []float64{float64(i), 0.5, 1})
		}
		_ = json.NewEncoder(w).Encode(resp)
	}))
}

func TestEmbeddingService_EmbedBatch(t *testing.T) {
	server := embedServer(t, http.StatusOK)
	defer server.Close()

	svc := NewEmbeddingService(Config{BaseURL: server.URL})
	assert.Zero(t, svc.Dimensions())

	vecs, err := svc.EmbedBatch(context.Background(), []string{"a", "b"})

	require.NoError(t, err)
	require.Len(t, vecs, 2)
	assert.Equal(t, []float32{1, 0.5, 1}, vecs[1])
	assert.Equal(t, 3, svc.Dimensions())
	assert.Equal(t, DefaultModel, svc.ModelName())
}

func TestEmbeddingService_Embed(t *testing.T) {
	server := embedServer(t, http.StatusOK)
	defer server.Close()

	svc := NewEmbeddingService(Config{BaseURL: server.URL, Model: "mxbai-embed-large"})
	vec, err := svc.Embed(context.Background(), "summary")

	require.NoError(t, err)
	assert.Equal(t, []float32{0, 0.5, 1}, vec)
}

func TestEmbeddingService_EmbedBatch_Empty(t *testing.T) {
	svc := NewEmbeddingService(Config{})

	vecs, err := svc.EmbedBatch(context.Background(), nil)

	require.NoError(t, err)
	assert.Nil(t, vecs)
}

func TestEmbeddingService_Errors(t *testing.T) {
	server := embedServer(t, http.StatusServiceUnavailable)
	defer server.Close()

	svc := NewEmbeddingService(Config{BaseURL: server.URL})
	_, err := svc.Embed(context.Background(), "x")
	assert.ErrorIs(t, err, domain.ErrEmbeddingUnavailable)
	assert.ErrorIs(t, err, domain.ErrTransient)

	bad := embedServer(t, http.StatusBadRequest)
	defer bad.Close()

	svc = NewEmbeddingService(Config{BaseURL: bad.URL})
	_, err = svc.Embed(context.Background(), "x")
	assert.ErrorIs(t, err, domain.ErrEmbeddingUnavailable)
	assert.NotErrorIs(t, err, domain.ErrTransient)
}

func TestEmbeddingService_Unreachable(t *testing.T) {
	server := embedServer(t, http.StatusOK)
	url := server.URL
	server.Close()

	svc := NewEmbeddingService(Config{BaseURL: url})
	_, err := svc.Embed(context.Background(), "x")

	assert.ErrorIs(t, err, domain.ErrTransient)
	assert.Error(t, svc.Ping(context.Background()))
}
