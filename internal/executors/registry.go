// Package executors builds stage executors from configuration.
package executors

import (
	"fmt"
	"sort"

	"github.com/custodia-labs/debatepipe/internal/core/domain"
	"github.com/custodia-labs/debatepipe/internal/core/ports/driven"
)

// Deps holds the services executors may call out to.
// Any field may be nil; builders that need one fail without it.
type Deps struct {
	LLM       driven.LLMService
	Embedding driven.EmbeddingService
	Prompts   driven.PromptStore
	Topics    driven.TopicStore

	// TopicSettings tunes the topics executor.
	TopicSettings domain.TopicSettings
}

// Config is what a builder receives for one declared stage.
type Config struct {
	// Stage is the validated stage definition.
	Stage domain.StageDefinition

	// Options holds the stage's executor table from config.toml.
	Options map[string]any

	Deps Deps
}

// BuilderFunc creates a StageExecutor from a stage's configuration.
type BuilderFunc func(cfg Config) (driven.StageExecutor, error)

// Registry maps executor kinds to their builders.
// It allows the pipeline to be assembled from configuration.
type Registry struct {
	builders map[string]BuilderFunc
}

// NewRegistry creates an empty executor registry.
func NewRegistry() *Registry {
	return &Registry{
		builders: make(map[string]BuilderFunc),
	}
}

// Register adds a builder for kind, replacing any existing one.
func (r *Registry) Register(kind string, builder BuilderFunc) {
	r.builders[kind] = builder
}

// Build creates the executor of kind for a stage.
// Returns an error wrapping domain.ErrUnknownExecutor if kind is not registered.
func (r *Registry) Build(kind string, cfg Config) (driven.StageExecutor, error) {
	builder, ok := r.builders[kind]
	if !ok {
		return nil, fmt.Errorf("%w: %q for stage %q", domain.ErrUnknownExecutor, kind, cfg.Stage.Name)
	}
	exec, err := builder(cfg)
	if err != nil {
		return nil, fmt.Errorf("build %s executor for stage %q: %w", kind, cfg.Stage.Name, err)
	}
	return exec, nil
}

// Has returns true if a builder is registered for kind.
func (r *Registry) Has(kind string) bool {
	_, ok := r.builders[kind]
	return ok
}

// Names returns the registered kinds in sorted order.
func (r *Registry) Names() []string {
	names := make([]string, 0, len(r.builders))
	for name := range r.builders {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// BuildAll builds one executor per configured stage.
// The returned map is keyed by stage name.
func (r *Registry) BuildAll(pipeline *domain.PipelineDefinition, stages []domain.StageSettings, deps Deps) (map[string]driven.StageExecutor, error) {
	out := make(map[string]driven.StageExecutor, len(stages))
	for _, st := range stages {
		def, ok := pipeline.Stage(st.Definition.Name)
		if !ok {
			return nil, fmt.Errorf("%w: %q", domain.ErrUnknownStage, st.Definition.Name)
		}
		exec, err := r.Build(st.Executor, Config{Stage: def, Options: st.Options, Deps: deps})
		if err != nil {
			return nil, err
		}
		out[def.Name] = exec
	}
	return out, nil
}
