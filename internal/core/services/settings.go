package services

import (
	"fmt"
	"time"

	"github.com/custodia-labs/debatepipe/internal/core/domain"
	"github.com/custodia-labs/debatepipe/internal/core/ports/driven"
)

// Config keys for settings storage.
const (
	keyDataDir        = "data.dir"
	keyPipelineStages = "pipeline.stages"

	keyPollInterval      = "orchestrator.poll_interval"
	keyHeartbeatInterval = "orchestrator.heartbeat_interval"
	keyStaleAfter        = "orchestrator.stale_after"

	keyConflictPolicy    = "dedup.conflict_policy"
	keyConflictThreshold = "dedup.conflict_threshold"

	keyTopicThreshold  = "topics.similarity_threshold"
	keyTopicClusters   = "topics.clusters"
	keyTopicIterations = "topics.iterations"

	keyPortalBaseURL     = "scraper.portal.base_url"
	keyPortalListingPath = "scraper.portal.listing_path"
	keyPortalUserAgent   = "scraper.portal.user_agent"
	keyPortalRate        = "scraper.portal.rate"
	keyPortalBurst       = "scraper.portal.burst"
	keyPortalTimeout     = "scraper.portal.timeout"
	keyPortalPageSize    = "scraper.portal.page_size"
	keyPortalMaxRetries  = "scraper.portal.max_retries"
	keyPortalYearsBack   = "scraper.portal.years_back"
	keyInboxDir          = "scraper.inbox.dir"

	keyOllamaBaseURL   = "ollama.base_url"
	keyOllamaModel     = "ollama.model"
	keyOllamaEmbedding = "ollama.embedding_model"
	keyOllamaTimeout   = "ollama.timeout"

	keySchedulerEnabled = "scheduler.enabled"
	keySyncInterval     = "scheduler.sync_interval"
	keyProcessInterval  = "scheduler.process_interval"
	keyGCInterval       = "scheduler.gc_interval"
	keyGCRetention      = "scheduler.gc_retention"

	keyMetricsTextfile = "metrics.textfile"
)

// Environment variables that override file values.
const (
	EnvDataDir       = "DEBATEPIPE_DATA_DIR"
	EnvConfigDir     = "DEBATEPIPE_CONFIG_DIR"
	EnvPromptDir     = "DEBATEPIPE_PROMPT_DIR"
	EnvOllamaBaseURL = "OLLAMA_BASE_URL"
)

// LoadSettings builds typed settings from the config store, filling
// defaults for anything unset.
func LoadSettings(cfg driven.ConfigStore) (*domain.Settings, error) {
	s := domain.DefaultSettings()
	l := settingsLoader{cfg: cfg}

	s.DataDir = cfg.GetString(keyDataDir)

	stages, err := l.stages()
	if err != nil {
		return nil, err
	}
	s.Stages = stages

	s.Orchestrator.PollInterval = l.getDuration(keyPollInterval, s.Orchestrator.PollInterval)
	s.Orchestrator.HeartbeatInterval = l.getDuration(keyHeartbeatInterval, s.Orchestrator.HeartbeatInterval)
	s.Orchestrator.StaleAfter = l.getDuration(keyStaleAfter, s.Orchestrator.StaleAfter)
	if s.Orchestrator.StaleAfter <= s.Orchestrator.HeartbeatInterval {
		return nil, fmt.Errorf("%w: %s (%s) must exceed %s (%s)", domain.ErrInvalidInput,
			keyStaleAfter, s.Orchestrator.StaleAfter, keyHeartbeatInterval, s.Orchestrator.HeartbeatInterval)
	}

	if policy := cfg.GetString(keyConflictPolicy); policy != "" {
		s.Dedup.Policy = domain.ConflictPolicy(policy)
		if !s.Dedup.Policy.Valid() {
			return nil, fmt.Errorf("%w: %s must be reject or revise, got %q", domain.ErrInvalidInput, keyConflictPolicy, policy)
		}
	}
	s.Dedup.Threshold = l.getFloat(keyConflictThreshold, s.Dedup.Threshold)

	s.Topics.SimilarityThreshold = l.getFloat(keyTopicThreshold, s.Topics.SimilarityThreshold)
	s.Topics.Clusters = l.getInt(keyTopicClusters, s.Topics.Clusters)
	s.Topics.Iterations = l.getInt(keyTopicIterations, s.Topics.Iterations)

	s.Portal.BaseURL = l.getString(keyPortalBaseURL, s.Portal.BaseURL)
	s.Portal.ListingPath = l.getString(keyPortalListingPath, s.Portal.ListingPath)
	s.Portal.UserAgent = l.getString(keyPortalUserAgent, s.Portal.UserAgent)
	s.Portal.Rate = l.getFloat(keyPortalRate, s.Portal.Rate)
	s.Portal.Burst = l.getInt(keyPortalBurst, s.Portal.Burst)
	s.Portal.Timeout = l.getDuration(keyPortalTimeout, s.Portal.Timeout)
	s.Portal.PageSize = l.getInt(keyPortalPageSize, s.Portal.PageSize)
	s.Portal.MaxRetries = l.getInt(keyPortalMaxRetries, s.Portal.MaxRetries)
	s.Portal.YearsBack = l.getInt(keyPortalYearsBack, s.Portal.YearsBack)
	s.InboxDir = cfg.GetString(keyInboxDir)

	s.LLM.BaseURL = l.getString(keyOllamaBaseURL, s.LLM.BaseURL)
	s.LLM.Model = l.getString(keyOllamaModel, s.LLM.Model)
	s.LLM.Timeout = l.getDuration(keyOllamaTimeout, s.LLM.Timeout)
	s.Embedding.BaseURL = s.LLM.BaseURL
	s.Embedding.Model = l.getString(keyOllamaEmbedding, s.Embedding.Model)

	if _, ok := cfg.Get(keySchedulerEnabled); ok {
		s.Scheduler.Enabled = cfg.GetBool(keySchedulerEnabled)
	}
	l.task(&s.Scheduler, domain.TaskIDDocumentSync, keySyncInterval)
	l.task(&s.Scheduler, domain.TaskIDPipelineProcess, keyProcessInterval)
	l.task(&s.Scheduler, domain.TaskIDArtefactGC, keyGCInterval)
	s.Scheduler.ArtefactRetention = l.getDuration(keyGCRetention, s.Scheduler.ArtefactRetention)

	s.MetricsTextfile = cfg.GetString(keyMetricsTextfile)
	return &s, nil
}

// ApplyEnv overrides settings from environment variables.
func ApplyEnv(s *domain.Settings, getenv func(string) string) {
	if v := getenv(EnvDataDir); v != "" {
		s.DataDir = v
	}
	if v := getenv(EnvOllamaBaseURL); v != "" {
		s.LLM.BaseURL = v
		s.Embedding.BaseURL = v
	}
}

// BuildPipeline validates the configured stage chain.
func BuildPipeline(s *domain.Settings) (*domain.PipelineDefinition, error) {
	defs := make([]domain.StageDefinition, len(s.Stages))
	for i, st := range s.Stages {
		defs[i] = st.Definition
	}
	return domain.NewPipelineDefinition(defs...)
}

// TopicStage returns the name of the first corpus stage, or "".
func TopicStage(p *domain.PipelineDefinition) string {
	for _, def := range p.Stages() {
		if def.Mode == domain.ModeCorpus {
			return def.Name
		}
	}
	return ""
}

// builtinStages holds the defaults of the default stage chain.
var builtinStages = map[string]domain.StageSettings{
	"extract": {
		Definition: domain.StageDefinition{Mode: domain.ModeDocument, Timeout: 2 * time.Minute},
		Executor:   "pages",
	},
	"translate": {
		Definition: domain.StageDefinition{Mode: domain.ModeUnit, Workers: 2, Timeout: 5 * time.Minute},
		Executor:   "prompt",
		Options: map[string]any{
			"passthrough": `[\x{0900}-\x{097F}]`,
			"max_chars":   int64(4000),
			"temperature": 0.1,
		},
	},
	"summarise": {
		Definition: domain.StageDefinition{Mode: domain.ModeDocument, Timeout: 10 * time.Minute},
		Executor:   "prompt",
		Options: map[string]any{
			"max_chars":   int64(24000),
			"temperature": 0.2,
		},
	},
	"topics": {
		Definition: domain.StageDefinition{Mode: domain.ModeCorpus, Timeout: 10 * time.Minute},
		Executor:   "topics",
	},
}

// settingsLoader reads typed values with defaults.
type settingsLoader struct {
	cfg driven.ConfigStore
}

func (l settingsLoader) stages() ([]domain.StageSettings, error) {
	names := l.cfg.GetStringSlice(keyPipelineStages)
	if len(names) == 0 {
		names = domain.DefaultStageNames
	}

	out := make([]domain.StageSettings, 0, len(names))
	for _, name := range names {
		st := builtinStages[name]
		st.Options = copyOptions(st.Options)
		def := st.Definition
		def.Name = name
		prefix := "stage." + name + "."

		st.Executor = l.getString(prefix+"executor", st.Executor)
		if st.Executor == "" {
			return nil, fmt.Errorf("%w: stage %q has no executor", domain.ErrUnknownExecutor, name)
		}
		if mode := l.cfg.GetString(prefix + "mode"); mode != "" {
			def.Mode = domain.StageMode(mode)
		}
		def.Workers = l.getInt(prefix+"workers", def.Workers)
		def.BatchSize = l.getInt(prefix+"batch_size", def.BatchSize)
		def.Timeout = l.getDuration(prefix+"timeout", def.Timeout)
		if _, ok := l.cfg.Get(prefix + "tolerate_upstream_failure"); ok {
			def.TolerateUpstreamFailure = l.cfg.GetBool(prefix + "tolerate_upstream_failure")
		}

		retry := domain.DefaultRetryPolicy()
		retry.MaxAttempts = l.getInt(prefix+"max_attempts", retry.MaxAttempts)
		retry.InitialBackoff = l.getDuration(prefix+"backoff_initial", retry.InitialBackoff)
		retry.MaxBackoff = l.getDuration(prefix+"backoff_max", retry.MaxBackoff)
		retry.Multiplier = l.getFloat(prefix+"backoff_multiplier", retry.Multiplier)
		if retry.MaxAttempts < 1 {
			return nil, fmt.Errorf("%w: stage %q max_attempts must be at least 1", domain.ErrInvalidInput, name)
		}
		def.Retry = retry

		for k, v := range l.cfg.GetMap(prefix + "options") {
			if st.Options == nil {
				st.Options = make(map[string]any)
			}
			st.Options[k] = v
		}

		st.Definition = def
		out = append(out, st)
	}
	return out, nil
}

func (l settingsLoader) task(cfg *domain.SchedulerConfig, id, key string) {
	if _, ok := l.cfg.Get(key); !ok {
		return
	}
	interval := l.cfg.GetDuration(key)
	tc := cfg.GetTaskConfig(id)
	tc.Interval = interval
	tc.Enabled = interval > 0
	if cfg.TaskConfigs == nil {
		cfg.TaskConfigs = make(map[string]domain.TaskConfig)
	}
	cfg.TaskConfigs[id] = tc
}

func (l settingsLoader) getString(key, def string) string {
	if v := l.cfg.GetString(key); v != "" {
		return v
	}
	return def
}

func (l settingsLoader) getInt(key string, def int) int {
	if _, ok := l.cfg.Get(key); !ok {
		return def
	}
	return l.cfg.GetInt(key)
}

func (l settingsLoader) getFloat(key string, def float64) float64 {
	if _, ok := l.cfg.Get(key); !ok {
		return def
	}
	return l.cfg.GetFloat(key)
}

func (l settingsLoader) getDuration(key string, def time.Duration) time.Duration {
	if d := l.cfg.GetDuration(key); d > 0 {
		return d
	}
	return def
}

func copyOptions(in map[string]any) map[string]any {
	if in == nil {
		return nil
	}
	out := make(map[string]any, len(in))
	for k, v := range in {
		out[k] = v
	}
	return out
}
