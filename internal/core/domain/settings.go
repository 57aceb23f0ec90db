package domain

import "time"

// Settings is the typed application configuration.
type Settings struct {
	// DataDir holds the state database and artefact blobs.
	DataDir string

	// Stages lists stage settings in pipeline order.
	Stages []StageSettings

	// Orchestrator tunes the scheduling loop.
	Orchestrator OrchestratorSettings

	// Dedup controls identity conflict detection.
	Dedup DedupSettings

	// Topics tunes the topic stage.
	Topics TopicSettings

	// Portal configures the portal scraper.
	Portal PortalSettings

	// InboxDir is the directory watched by the inbox scraper.
	InboxDir string

	// LLM configures prompt executors.
	LLM LLMSettings

	// Embedding configures the topic stage's embedding backend.
	Embedding EmbeddingSettings

	// Scheduler configures daemon mode.
	Scheduler SchedulerConfig

	// MetricsTextfile is where stage metrics are written after a pass.
	MetricsTextfile string
}

// StageSettings is the configured form of a stage definition.
type StageSettings struct {
	// Definition holds the scheduling parameters.
	Definition StageDefinition

	// Executor names the registered executor kind.
	Executor string

	// Options holds executor-specific configuration as a generic map.
	Options map[string]any
}

// OrchestratorSettings tunes the processing loop.
type OrchestratorSettings struct {
	// PollInterval is how often the loop rescans when idle but not finished.
	PollInterval time.Duration

	// HeartbeatInterval is how often running pairs report liveness.
	HeartbeatInterval time.Duration

	// StaleAfter is how old a heartbeat may be before the pair is reclaimed.
	StaleAfter time.Duration
}

// DedupSettings controls the resolver's conflict detection.
type DedupSettings struct {
	// Policy is reject or revise.
	Policy ConflictPolicy

	// Threshold is the relative size change beyond which a different
	// source URI is treated as a different document.
	Threshold float64
}

// TopicSettings tunes topic clustering.
type TopicSettings struct {
	// SimilarityThreshold is the cosine similarity needed to join a cluster.
	SimilarityThreshold float64

	// Clusters is the target cluster count for a full re-cluster.
	Clusters int

	// Iterations bounds k-means iterations during re-cluster.
	Iterations int
}

// PortalSettings configures the portal scraper.
type PortalSettings struct {
	BaseURL     string
	ListingPath string
	UserAgent   string

	// Rate is requests per second.
	Rate float64

	Burst      int
	Timeout    time.Duration
	PageSize   int
	MaxRetries int
	YearsBack  int
}

// LLMSettings holds LLM backend configuration.
type LLMSettings struct {
	// Model is the LLM model name.
	Model string

	// BaseURL is the API endpoint.
	BaseURL string

	// Timeout bounds one generation request.
	Timeout time.Duration
}

// IsConfigured returns true if the LLM backend is set up.
func (l LLMSettings) IsConfigured() bool {
	return l.Model != "" && l.BaseURL != ""
}

// EmbeddingSettings holds embedding backend configuration.
type EmbeddingSettings struct {
	// Model is the embedding model name.
	Model string

	// BaseURL is the API endpoint.
	BaseURL string
}

// IsConfigured returns true if the embedding backend is set up.
func (e EmbeddingSettings) IsConfigured() bool {
	return e.Model != "" && e.BaseURL != ""
}

// DefaultStageNames is the default stage chain.
var DefaultStageNames = []string{"extract", "translate", "summarise", "topics"}

// DefaultSettings returns settings with sensible defaults.
// Stages are filled in by the settings loader.
func DefaultSettings() Settings {
	return Settings{
		Orchestrator: OrchestratorSettings{
			PollInterval:      500 * time.Millisecond,
			HeartbeatInterval: 10 * time.Second,
			StaleAfter:        2 * time.Minute,
		},
		Dedup: DedupSettings{
			Policy:    ConflictReject,
			Threshold: 0.5,
		},
		Topics: TopicSettings{
			SimilarityThreshold: 0.75,
			Clusters:            10,
			Iterations:          50,
		},
		Portal: PortalSettings{
			BaseURL:     "https://eparlib.sansad.in",
			ListingPath: "/handle/123456789/7",
			UserAgent:   "debatepipe/0.1 (+https://github.com/custodia-labs/debatepipe)",
			Rate:        1 / 1.5,
			Burst:       1,
			Timeout:     30 * time.Second,
			PageSize:    20,
			MaxRetries:  4,
			YearsBack:   5,
		},
		LLM: LLMSettings{
			Model:   "llama3.2",
			BaseURL: "http://localhost:11434",
			Timeout: 5 * time.Minute,
		},
		Embedding: EmbeddingSettings{
			Model:   "nomic-embed-text",
			BaseURL: "http://localhost:11434",
		},
		Scheduler: DefaultSchedulerConfig(),
	}
}
