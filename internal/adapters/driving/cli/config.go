package cli

import (
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/spf13/cobra"

	"github.com/custodia-labs/debatepipe/internal/core/domain"
)

var configOutput string

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Inspect configuration",
}

var configShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Print the effective settings",
	Long: `Prints the settings in effect after reading the config file and applying
environment overrides. Built-in defaults fill everything the file leaves
unset, so the output is the complete configuration a run would use.`,
	Args: cobra.NoArgs,
	RunE: runConfigShow,
}

func init() {
	configShowCmd.Flags().StringVarP(&configOutput, "output", "o", outputYAML, "Output format: json or yaml")

	configCmd.AddCommand(configShowCmd)
	rootCmd.AddCommand(configCmd)
}

func runConfigShow(cmd *cobra.Command, _ []string) error {
	if settings == nil {
		return errors.New("settings not loaded")
	}

	done, err := encode(cmd.OutOrStdout(), configOutput, newConfigView(settings, configPath))
	if !done {
		return fmt.Errorf("unknown output format %q", configOutput)
	}
	return err
}

type configView struct {
	ConfigFile      string            `json:"config_file,omitempty" yaml:"config_file,omitempty"`
	DataDir         string            `json:"data_dir" yaml:"data_dir"`
	InboxDir        string            `json:"inbox_dir,omitempty" yaml:"inbox_dir,omitempty"`
	MetricsTextfile string            `json:"metrics_textfile,omitempty" yaml:"metrics_textfile,omitempty"`
	Stages          []stageConfigView `json:"stages" yaml:"stages"`
	Orchestrator    orchestratorView  `json:"orchestrator" yaml:"orchestrator"`
	Dedup           dedupView         `json:"dedup" yaml:"dedup"`
	Topics          topicsView        `json:"topics" yaml:"topics"`
	Portal          portalView        `json:"portal" yaml:"portal"`
	LLM             backendView       `json:"llm" yaml:"llm"`
	Embedding       backendView       `json:"embedding" yaml:"embedding"`
	Scheduler       schedulerView     `json:"scheduler" yaml:"scheduler"`
}

type stageConfigView struct {
	Name             string         `json:"name" yaml:"name"`
	Executor         string         `json:"executor" yaml:"executor"`
	Upstream         string         `json:"upstream,omitempty" yaml:"upstream,omitempty"`
	Mode             string         `json:"mode" yaml:"mode"`
	Workers          int            `json:"workers" yaml:"workers"`
	BatchSize        int            `json:"batch_size,omitempty" yaml:"batch_size,omitempty"`
	Timeout          string         `json:"timeout,omitempty" yaml:"timeout,omitempty"`
	MaxAttempts      int            `json:"max_attempts" yaml:"max_attempts"`
	InitialBackoff   string         `json:"initial_backoff" yaml:"initial_backoff"`
	MaxBackoff       string         `json:"max_backoff" yaml:"max_backoff"`
	TolerateUpstream bool           `json:"tolerate_upstream_failure,omitempty" yaml:"tolerate_upstream_failure,omitempty"`
	Options          map[string]any `json:"options,omitempty" yaml:"options,omitempty"`
}

type orchestratorView struct {
	PollInterval      string `json:"poll_interval" yaml:"poll_interval"`
	HeartbeatInterval string `json:"heartbeat_interval" yaml:"heartbeat_interval"`
	StaleAfter        string `json:"stale_after" yaml:"stale_after"`
}

type dedupView struct {
	Policy    string  `json:"policy" yaml:"policy"`
	Threshold float64 `json:"threshold" yaml:"threshold"`
}

type topicsView struct {
	SimilarityThreshold float64 `json:"similarity_threshold" yaml:"similarity_threshold"`
	Clusters            int     `json:"clusters" yaml:"clusters"`
	Iterations          int     `json:"iterations" yaml:"iterations"`
}

type portalView struct {
	BaseURL     string  `json:"base_url" yaml:"base_url"`
	ListingPath string  `json:"listing_path" yaml:"listing_path"`
	UserAgent   string  `json:"user_agent" yaml:"user_agent"`
	Rate        float64 `json:"rate" yaml:"rate"`
	Burst       int     `json:"burst" yaml:"burst"`
	Timeout     string  `json:"timeout" yaml:"timeout"`
	PageSize    int     `json:"page_size" yaml:"page_size"`
	MaxRetries  int     `json:"max_retries" yaml:"max_retries"`
	YearsBack   int     `json:"years_back" yaml:"years_back"`
}

type backendView struct {
	Model   string `json:"model" yaml:"model"`
	BaseURL string `json:"base_url" yaml:"base_url"`
	Timeout string `json:"timeout,omitempty" yaml:"timeout,omitempty"`
}

type schedulerView struct {
	Enabled           bool           `json:"enabled" yaml:"enabled"`
	ArtefactRetention string         `json:"artefact_retention" yaml:"artefact_retention"`
	Tasks             []taskConfView `json:"tasks,omitempty" yaml:"tasks,omitempty"`
}

type taskConfView struct {
	ID       string `json:"id" yaml:"id"`
	Enabled  bool   `json:"enabled" yaml:"enabled"`
	Interval string `json:"interval" yaml:"interval"`
}

func newConfigView(s *domain.Settings, path string) configView {
	v := configView{
		ConfigFile:      path,
		DataDir:         s.DataDir,
		InboxDir:        s.InboxDir,
		MetricsTextfile: s.MetricsTextfile,
		Stages:          make([]stageConfigView, 0, len(s.Stages)),
		Orchestrator: orchestratorView{
			PollInterval:      s.Orchestrator.PollInterval.String(),
			HeartbeatInterval: s.Orchestrator.HeartbeatInterval.String(),
			StaleAfter:        s.Orchestrator.StaleAfter.String(),
		},
		Dedup: dedupView{Policy: string(s.Dedup.Policy), Threshold: s.Dedup.Threshold},
		Topics: topicsView{
			SimilarityThreshold: s.Topics.SimilarityThreshold,
			Clusters:            s.Topics.Clusters,
			Iterations:          s.Topics.Iterations,
		},
		Portal: portalView{
			BaseURL:     s.Portal.BaseURL,
			ListingPath: s.Portal.ListingPath,
			UserAgent:   s.Portal.UserAgent,
			Rate:        s.Portal.Rate,
			Burst:       s.Portal.Burst,
			Timeout:     s.Portal.Timeout.String(),
			PageSize:    s.Portal.PageSize,
			MaxRetries:  s.Portal.MaxRetries,
			YearsBack:   s.Portal.YearsBack,
		},
		LLM:       backendView{Model: s.LLM.Model, BaseURL: s.LLM.BaseURL, Timeout: optionalDuration(s.LLM.Timeout)},
		Embedding: backendView{Model: s.Embedding.Model, BaseURL: s.Embedding.BaseURL},
		Scheduler: schedulerView{
			Enabled:           s.Scheduler.Enabled,
			ArtefactRetention: s.Scheduler.ArtefactRetention.String(),
		},
	}

	for _, st := range s.Stages {
		d := st.Definition
		v.Stages = append(v.Stages, stageConfigView{
			Name:             d.Name,
			Executor:         st.Executor,
			Upstream:         d.Upstream,
			Mode:             string(d.Mode),
			Workers:          d.Workers,
			BatchSize:        d.BatchSize,
			Timeout:          optionalDuration(d.Timeout),
			MaxAttempts:      d.Retry.MaxAttempts,
			InitialBackoff:   d.Retry.InitialBackoff.String(),
			MaxBackoff:       d.Retry.MaxBackoff.String(),
			TolerateUpstream: d.TolerateUpstreamFailure,
			Options:          st.Options,
		})
	}

	ids := make([]string, 0, len(s.Scheduler.TaskConfigs))
	for id := range s.Scheduler.TaskConfigs {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	for _, id := range ids {
		tc := s.Scheduler.TaskConfigs[id]
		v.Scheduler.Tasks = append(v.Scheduler.Tasks, taskConfView{
			ID:       id,
			Enabled:  tc.Enabled,
			Interval: tc.Interval.String(),
		})
	}
	return v
}

func optionalDuration(d time.Duration) string {
	if d == 0 {
		return ""
	}
	return d.String()
}
