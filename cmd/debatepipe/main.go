// Command debatepipe runs the debate processing pipeline.
package main

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/joho/godotenv"

	"github.com/custodia-labs/debatepipe/internal/adapters/driven/ai"
	"github.com/custodia-labs/debatepipe/internal/adapters/driven/config/file"
	"github.com/custodia-labs/debatepipe/internal/adapters/driven/metrics"
	"github.com/custodia-labs/debatepipe/internal/adapters/driven/scraper/inbox"
	"github.com/custodia-labs/debatepipe/internal/adapters/driven/scraper/portal"
	"github.com/custodia-labs/debatepipe/internal/adapters/driven/storage/sqlite"
	"github.com/custodia-labs/debatepipe/internal/adapters/driving/cli"
	"github.com/custodia-labs/debatepipe/internal/core/domain"
	"github.com/custodia-labs/debatepipe/internal/core/ports/driven"
	"github.com/custodia-labs/debatepipe/internal/core/services"
	"github.com/custodia-labs/debatepipe/internal/executors"
	"github.com/custodia-labs/debatepipe/internal/logger"
)

// Set by -ldflags at build time.
var version = "dev"

func main() {
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		fmt.Fprintln(os.Stderr, "Warning: reading .env:", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)

	cli.SetVersion(version)
	cli.SetBootstrap(bootstrap)
	code := cli.Execute(ctx)

	stop()
	os.Exit(code)
}

// bootstrap opens the stores and builds every service the commands use.
func bootstrap(_ context.Context) (*cli.Services, func(), error) {
	cfg, err := file.NewConfigStore(os.Getenv(services.EnvConfigDir))
	if err != nil {
		return nil, nil, fmt.Errorf("load config: %w", err)
	}
	settings, err := services.LoadSettings(cfg)
	if err != nil {
		return nil, nil, err
	}
	services.ApplyEnv(settings, os.Getenv)

	dataDir, err := resolveDataDir(settings.DataDir)
	if err != nil {
		return nil, nil, err
	}

	pipeline, err := services.BuildPipeline(settings)
	if err != nil {
		return nil, nil, err
	}

	store, err := sqlite.NewStore(dataDir)
	if err != nil {
		return nil, nil, err
	}
	blobs, err := file.NewBlobStore(dataDir)
	if err != nil {
		store.Close()
		return nil, nil, err
	}
	prompts, err := file.NewPromptStore(os.Getenv(services.EnvPromptDir))
	if err != nil {
		store.Close()
		return nil, nil, err
	}

	state := store.StateStore()
	cache := store.ArtefactCache(blobs)
	topicStore := store.TopicStore()

	aiServices := ai.NewServices(settings)
	cleanup := func() {
		aiServices.Close()
		if err := store.Close(); err != nil {
			logger.Warn("closing state store: %v", err)
		}
	}

	execs, err := executors.NewDefaultRegistry().BuildAll(pipeline, settings.Stages, executors.Deps{
		LLM:           aiServices.LLM,
		Embedding:     aiServices.Embedding,
		Prompts:       prompts,
		Topics:        topicStore,
		TopicSettings: settings.Topics,
	})
	if err != nil {
		cleanup()
		return nil, nil, err
	}

	m := metrics.New()
	orch, err := services.NewOrchestrator(state, cache, pipeline, execs, settings.Orchestrator,
		services.WithMetrics(m))
	if err != nil {
		cleanup()
		return nil, nil, err
	}

	resolver := services.NewResolver(state, cache, pipeline, settings.Dedup)
	resolver.SetMetrics(m)

	scrapers := buildScrapers(settings, dataDir)
	sync := services.NewSyncOrchestrator(resolver, scrapers...)
	artefacts := services.NewArtefactBrowser(cache, pipeline)

	svc := &cli.Services{
		Sync:      sync,
		Process:   orch,
		Status:    services.NewStatusReporter(state, pipeline),
		Artefacts: artefacts,
		Topics:    services.NewTopicClusterer(topicStore, cache, services.TopicStage(pipeline), settings.Topics),
		Scheduler: services.NewScheduler(settings.Scheduler, store.SchedulerStore(), sync, orch, artefacts),
		Metrics:   m,
		Sources:   sync.Sources(),

		Settings:   settings,
		ConfigPath: cfg.Path(),
	}

	done := func() {
		if settings.MetricsTextfile != "" {
			if err := m.WriteTextfile(settings.MetricsTextfile); err != nil {
				logger.Warn("writing metrics textfile: %v", err)
			}
		}
		for _, sc := range scrapers {
			_ = sc.Close()
		}
		cleanup()
	}
	return svc, done, nil
}

// buildScrapers returns the inbox scraper first, making it the default
// source, followed by the portal scraper when its settings are usable.
func buildScrapers(settings *domain.Settings, dataDir string) []driven.Scraper {
	inboxDir := settings.InboxDir
	if inboxDir == "" {
		inboxDir = filepath.Join(dataDir, "inbox")
	}
	scrapers := []driven.Scraper{inbox.New(inboxDir)}

	client := &http.Client{Timeout: settings.Portal.Timeout}
	p, err := portal.New(settings.Portal, client)
	if err != nil {
		logger.Warn("portal scraper disabled: %v", err)
		return scrapers
	}
	return append(scrapers, p)
}

func resolveDataDir(dir string) (string, error) {
	if dir != "" {
		return dir, nil
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("%w: getting home directory: %w", domain.ErrStorageUnavailable, err)
	}
	return filepath.Join(home, ".debatepipe", "data"), nil
}
