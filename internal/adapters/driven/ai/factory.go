// Package ai provides factory functions for creating AI service adapters.
package ai

import (
	"context"
	"fmt"
	"time"

	ollamaembed "github.com/custodia-labs/debatepipe/internal/adapters/driven/embedding/ollama"
	ollamallm "github.com/custodia-labs/debatepipe/internal/adapters/driven/llm/ollama"
	"github.com/custodia-labs/debatepipe/internal/core/domain"
	"github.com/custodia-labs/debatepipe/internal/core/ports/driven"
)

// pingTimeout is the maximum time to wait for service connectivity validation.
const pingTimeout = 5 * time.Second

// Services holds the AI backends used by executors.
// A nil service means the backend is not configured.
type Services struct {
	LLM       driven.LLMService
	Embedding driven.EmbeddingService
}

// Close releases all resources held by the services.
func (s *Services) Close() {
	if s.LLM != nil {
		s.LLM.Close()
	}
	if s.Embedding != nil {
		s.Embedding.Close()
	}
}

// NewServices creates the configured services without contacting them.
// Executors surface connectivity problems as transient stage failures.
func NewServices(settings *domain.Settings) *Services {
	return &Services{
		LLM:       CreateLLMService(&settings.LLM),
		Embedding: CreateEmbeddingService(&settings.Embedding),
	}
}

// CreateLLMService creates an Ollama LLM service, or nil if not configured.
func CreateLLMService(settings *domain.LLMSettings) driven.LLMService {
	if settings == nil || !settings.IsConfigured() {
		return nil
	}
	return ollamallm.NewLLMService(ollamallm.LLMConfig{
		BaseURL: settings.BaseURL,
		Model:   settings.Model,
		Timeout: settings.Timeout,
	})
}

// CreateEmbeddingService creates an Ollama embedding service, or nil if not configured.
func CreateEmbeddingService(settings *domain.EmbeddingSettings) driven.EmbeddingService {
	if settings == nil || !settings.IsConfigured() {
		return nil
	}
	return ollamaembed.NewEmbeddingService(ollamaembed.Config{
		BaseURL: settings.BaseURL,
		Model:   settings.Model,
	})
}

// Ping checks every configured service and returns one error per
// unreachable backend.
func Ping(ctx context.Context, s *Services) []error {
	ctx, cancel := context.WithTimeout(ctx, pingTimeout)
	defer cancel()

	var errs []error
	if s.LLM != nil {
		if err := s.LLM.Ping(ctx); err != nil {
			errs = append(errs, fmt.Errorf("%w: %s unreachable (%w)", domain.ErrLLMUnavailable, s.LLM.ModelName(), err))
		}
	}
	if s.Embedding != nil {
		if err := s.Embedding.Ping(ctx); err != nil {
			errs = append(errs, fmt.Errorf("%w: %s unreachable (%w)",
				domain.ErrEmbeddingUnavailable, s.Embedding.ModelName(), err))
		}
	}
	return errs
}
