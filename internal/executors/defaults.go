package executors

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/custodia-labs/debatepipe/internal/core/domain"
	"github.com/custodia-labs/debatepipe/internal/core/ports/driven"
	"github.com/custodia-labs/debatepipe/internal/executors/command"
	"github.com/custodia-labs/debatepipe/internal/executors/pages"
	"github.com/custodia-labs/debatepipe/internal/executors/prompt"
	"github.com/custodia-labs/debatepipe/internal/executors/topics"
)

// Built-in executor kinds.
const (
	KindPages   = "pages"
	KindCommand = "command"
	KindPrompt  = "prompt"
	KindTopics  = "topics"
)

// RegisterDefaults registers all built-in executors with the registry.
func RegisterDefaults(r *Registry) {
	r.Register(KindPages, buildPages)
	r.Register(KindCommand, buildCommand)
	r.Register(KindPrompt, buildPrompt)
	r.Register(KindTopics, buildTopics)
}

// NewDefaultRegistry returns a registry with the built-in executors.
func NewDefaultRegistry() *Registry {
	r := NewRegistry()
	RegisterDefaults(r)
	return r
}

// buildPages creates the page splitter.
// Supported options:
//   - page_size (int): characters per page without form feeds (default: 3000)
func buildPages(cfg Config) (driven.StageExecutor, error) {
	return pages.New(pages.WithPageSize(intOption(cfg.Options, "page_size"))), nil
}

// buildCommand creates an external command executor.
// Supported options:
//   - command (string or array): program and arguments
//   - dir (string): working directory
//   - split_pages (bool): split document output on form feeds
//   - env.* (string): extra environment variables
//
// The command runs per unit in unit mode and once per document otherwise.
func buildCommand(cfg Config) (driven.StageExecutor, error) {
	argv := stringSliceOption(cfg.Options, "command")
	if argv == nil {
		argv = strings.Fields(stringOption(cfg.Options, "command"))
	}
	return command.New(argv,
		command.WithPerUnit(cfg.Stage.Mode == domain.ModeUnit),
		command.WithSplitPages(boolOption(cfg.Options, "split_pages")),
		command.WithDir(stringOption(cfg.Options, "dir")),
		command.WithEnv(subOptions(cfg.Options, "env.")),
	)
}

// buildPrompt creates an LLM prompt executor.
// Supported options:
//   - template (string): prompt name in the prompt store (default: stage name)
//   - temperature (float), max_tokens (int), stop (array): generation settings
//   - passthrough (string): regexp; only matching lines are sent to the LLM
//   - max_chars (int): split unit text into pieces of at most this size
//   - languages (array): language codes sent to the LLM; pages detected
//     as any other language are kept verbatim
//
// All options are visible to the template as .Options.
func buildPrompt(cfg Config) (driven.StageExecutor, error) {
	if cfg.Deps.LLM == nil {
		return nil, domain.ErrLLMUnavailable
	}
	if cfg.Deps.Prompts == nil {
		return nil, fmt.Errorf("%w: prompt store is required", domain.ErrInvalidInput)
	}

	name := stringOption(cfg.Options, "template")
	if name == "" {
		name = cfg.Stage.Name
	}
	source, err := cfg.Deps.Prompts.Load(name)
	if err != nil {
		return nil, fmt.Errorf("load prompt %q: %w", name, err)
	}

	opts := []prompt.Option{
		prompt.WithDocumentMode(cfg.Stage.Mode == domain.ModeDocument),
		prompt.WithOptions(cfg.Options),
		prompt.WithMaxChars(intOption(cfg.Options, "max_chars")),
		prompt.WithLanguages(stringSliceOption(cfg.Options, "languages")),
		prompt.WithGenerateOptions(driven.GenerateOptions{
			MaxTokens:   intOption(cfg.Options, "max_tokens"),
			Temperature: floatOption(cfg.Options, "temperature"),
			StopWords:   stringSliceOption(cfg.Options, "stop"),
		}),
	}
	if expr := stringOption(cfg.Options, "passthrough"); expr != "" {
		re, err := regexp.Compile(expr)
		if err != nil {
			return nil, fmt.Errorf("%w: passthrough: %v", domain.ErrInvalidInput, err)
		}
		opts = append(opts, prompt.WithPassthrough(re))
	}

	return prompt.New(cfg.Deps.LLM, name, source, opts...)
}

// buildTopics creates the corpus topic assigner.
// Supported options:
//   - similarity_threshold (float): overrides topics.similarity_threshold
func buildTopics(cfg Config) (driven.StageExecutor, error) {
	threshold := floatOption(cfg.Options, "similarity_threshold")
	if threshold == 0 {
		threshold = cfg.Deps.TopicSettings.SimilarityThreshold
	}
	return topics.New(cfg.Deps.Embedding, cfg.Deps.Topics, topics.WithThreshold(threshold))
}
