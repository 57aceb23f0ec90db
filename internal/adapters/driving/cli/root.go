// Package cli provides the debatepipe command line interface.
package cli

import (
	"context"
	"errors"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/custodia-labs/debatepipe/internal/core/domain"
	"github.com/custodia-labs/debatepipe/internal/core/ports/driving"
	"github.com/custodia-labs/debatepipe/internal/logger"
)

// Exit codes.
const (
	ExitOK          = 0
	ExitFailed      = 1
	ExitUnavailable = 2
)

// skipBootstrap marks commands that run without services.
const skipBootstrap = "skip-bootstrap"

// version is set by SetVersion from the build.
var version = "dev"

// Services wired by main. Tests replace them directly.
var (
	syncService     driving.SyncService
	orchestrator    driving.Orchestrator
	statusService   driving.StatusService
	artefactService driving.ArtefactService
	topicService    driving.TopicService
	scheduler       driving.Scheduler
	metricsWriter   MetricsWriter
	sources         []string
	settings        *domain.Settings
	configPath      string
)

// Services bundles everything the commands call.
type Services struct {
	Sync      driving.SyncService
	Process   driving.Orchestrator
	Status    driving.StatusService
	Artefacts driving.ArtefactService
	Topics    driving.TopicService
	Scheduler driving.Scheduler
	Metrics   MetricsWriter

	// Sources lists scraper names for help text.
	Sources []string

	// Settings are the effective settings after file and environment.
	Settings *domain.Settings

	// ConfigPath is the file the settings were read from.
	ConfigPath string
}

// MetricsWriter exports collected metrics in Prometheus text format.
type MetricsWriter interface {
	WriteTextfile(path string) error
}

// BootstrapFunc opens the stores and builds the services. The returned
// cleanup runs after the command.
type BootstrapFunc func(ctx context.Context) (*Services, func(), error)

var (
	bootstrap BootstrapFunc
	cleanup   func()

	verbose   bool
	logFormat string
)

var rootCmd = &cobra.Command{
	Use:   "debatepipe",
	Short: "Resumable processing pipeline for parliamentary debate records",
	Long: `debatepipe pulls debate PDFs from the parliament portal or a local inbox,
and runs them through a resumable chain of stages: text extraction,
translation, summarisation and topic assignment.

Every stage result is cached, so an interrupted run picks up where it
stopped.`,
	SilenceUsage:      true,
	SilenceErrors:     true,
	PersistentPreRunE: setup,
	PersistentPostRun: func(*cobra.Command, []string) {
		if cleanup != nil {
			cleanup()
			cleanup = nil
		}
	},
}

func init() {
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "Enable debug logging")
	rootCmd.PersistentFlags().StringVar(&logFormat, "log-format", "console", "Log format: console or json")
}

// SetVersion sets the version reported by the version command.
func SetVersion(v string) {
	if v != "" {
		version = v
	}
}

// SetBootstrap installs the service factory run before each command.
func SetBootstrap(fn BootstrapFunc) {
	bootstrap = fn
}

// SetServices installs services directly.
func SetServices(s *Services) {
	if s == nil {
		return
	}
	syncService = s.Sync
	orchestrator = s.Process
	statusService = s.Status
	artefactService = s.Artefacts
	topicService = s.Topics
	scheduler = s.Scheduler
	metricsWriter = s.Metrics
	sources = s.Sources
	settings = s.Settings
	configPath = s.ConfigPath
}

// Execute runs the CLI and returns the process exit code.
func Execute(ctx context.Context) int {
	err := rootCmd.ExecuteContext(ctx)
	if cleanup != nil {
		cleanup()
		cleanup = nil
	}
	if err != nil {
		fmt.Fprintln(rootCmd.ErrOrStderr(), "Error:", err)
	}
	return ExitCode(err)
}

func setup(cmd *cobra.Command, _ []string) error {
	logger.SetVerbose(verbose)
	if err := logger.SetFormat(logFormat); err != nil {
		return err
	}
	if bootstrap == nil || cmd.Annotations[skipBootstrap] == "true" {
		return nil
	}

	svc, done, err := bootstrap(cmd.Context())
	if err != nil {
		return err
	}
	SetServices(svc)
	cleanup = done
	return nil
}

// ExitError carries an explicit exit code.
type ExitError struct {
	Code int
	Err  error
}

func (e *ExitError) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("exit status %d", e.Code)
	}
	return e.Err.Error()
}

func (e *ExitError) Unwrap() error {
	return e.Err
}

// ExitCode maps an error to the process exit code: 2 when the state
// store is unavailable, the carried code for an ExitError, else 1.
func ExitCode(err error) int {
	if err == nil {
		return ExitOK
	}
	if errors.Is(err, domain.ErrStorageUnavailable) {
		return ExitUnavailable
	}
	var exitErr *ExitError
	if errors.As(err, &exitErr) {
		return exitErr.Code
	}
	return ExitFailed
}

// isTerminal reports whether stdout is an interactive terminal.
var isTerminal = func() bool {
	return termCheck(os.Stdout)
}
