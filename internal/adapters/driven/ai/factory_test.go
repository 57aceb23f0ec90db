package ai

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/custodia-labs/debatepipe/internal/core/domain"
)

func TestCreateLLMService_NotConfigured(t *testing.T) {
	assert.Nil(t, CreateLLMService(nil))
	assert.Nil(t, CreateLLMService(&domain.LLMSettings{BaseURL: "http://localhost:11434"}))
}

func TestCreateEmbeddingService_NotConfigured(t *testing.T) {
	assert.Nil(t, CreateEmbeddingService(nil))
	assert.Nil(t, CreateEmbeddingService(&domain.EmbeddingSettings{Model: "nomic-embed-text"}))
}

func TestNewServices_Defaults(t *testing.T) {
	settings := domain.DefaultSettings()

	svc := NewServices(&settings)
	defer svc.Close()

	require.NotNil(t, svc.LLM)
	require.NotNil(t, svc.Embedding)
	assert.Equal(t, "llama3.2", svc.LLM.ModelName())
	assert.Equal(t, "nomic-embed-text", svc.Embedding.ModelName())
}

func TestPing(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte(`{"models":[]}`))
	}))
	defer server.Close()

	settings := domain.DefaultSettings()
	settings.LLM.BaseURL = server.URL
	settings.Embedding.BaseURL = server.URL

	svc := NewServices(&settings)
	defer svc.Close()

	assert.Empty(t, Ping(context.Background(), svc))
}

func TestPing_Unreachable(t *testing.T) {
	server := httptest.NewServer(http.NotFoundHandler())
	url := server.URL
	server.Close()

	settings := domain.DefaultSettings()
	settings.LLM.BaseURL = url
	settings.Embedding.BaseURL = url

	svc := NewServices(&settings)
	defer svc.Close()

	errs := Ping(context.Background(), svc)
	require.Len(t, errs, 2)
	assert.ErrorIs(t, errs[0], domain.ErrLLMUnavailable)
	assert.ErrorIs(t, errs[1], domain.ErrEmbeddingUnavailable)
}

func TestPing_NothingConfigured(t *testing.T) {
	assert.Empty(t, Ping(context.Background(), &Services{}))
}
