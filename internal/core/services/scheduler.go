package services

import (
	"context"
	"sync"
	"time"

	"github.com/custodia-labs/debatepipe/internal/core/domain"
	"github.com/custodia-labs/debatepipe/internal/core/ports/driven"
	"github.com/custodia-labs/debatepipe/internal/core/ports/driving"
	"github.com/custodia-labs/debatepipe/internal/logger"
)

// Ensure Scheduler implements the interface.
var _ driving.Scheduler = (*Scheduler)(nil)

// historyRetention is the number of task results kept per task.
const historyRetention = 100

// Scheduler manages background task execution for daemon mode.
// It is a pure core service with no external control API.
type Scheduler struct {
	config    domain.SchedulerConfig
	store     driven.SchedulerStore
	sync      driving.SyncService
	orch      driving.Orchestrator
	artefacts driving.ArtefactService
	tick      time.Duration
	now       func() time.Time

	mu      sync.Mutex
	running bool
	stopCh  chan struct{}
	wg      sync.WaitGroup

	// active guards against overlapping runs of the same task.
	active map[string]bool
}

// NewScheduler creates a scheduler with configuration. Any of sync, orch
// and artefacts may be nil, in which case its task does nothing.
func NewScheduler(
	config domain.SchedulerConfig,
	store driven.SchedulerStore,
	sync driving.SyncService,
	orch driving.Orchestrator,
	artefacts driving.ArtefactService,
) *Scheduler {
	return &Scheduler{
		config:    config,
		store:     store,
		sync:      sync,
		orch:      orch,
		artefacts: artefacts,
		tick:      time.Minute,
		now:       time.Now,
		active:    make(map[string]bool),
	}
}

// Start begins the scheduler loop. This method blocks until Stop is called
// or ctx is cancelled.
func (s *Scheduler) Start(ctx context.Context) error {
	s.mu.Lock()
	if s.running {
		s.mu.Unlock()
		return nil
	}
	if !s.config.Enabled {
		s.mu.Unlock()
		logger.Info("scheduler disabled")
		return nil
	}
	s.running = true
	s.stopCh = make(chan struct{})
	s.mu.Unlock()

	if err := s.initialiseTasks(ctx); err != nil {
		logger.Warn("scheduler: failed to initialise tasks: %v", err)
	}

	err := s.run(ctx)
	s.wg.Wait()
	return err
}

// Stop gracefully shuts down the scheduler.
func (s *Scheduler) Stop() error {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return nil
	}
	s.running = false
	close(s.stopCh)
	s.mu.Unlock()

	s.wg.Wait()
	return nil
}

// initialiseTasks ensures all configured tasks exist in the store.
func (s *Scheduler) initialiseTasks(ctx context.Context) error {
	tasks := []struct{ id, name string }{
		{domain.TaskIDDocumentSync, "Document Sync"},
		{domain.TaskIDPipelineProcess, "Pipeline Process"},
		{domain.TaskIDArtefactGC, "Artefact GC"},
	}
	for _, t := range tasks {
		if err := s.ensureTask(ctx, t.id, t.name, s.config.GetTaskConfig(t.id)); err != nil {
			return err
		}
	}
	return nil
}

// ensureTask creates or updates a task in the store.
func (s *Scheduler) ensureTask(ctx context.Context, id, name string, cfg domain.TaskConfig) error {
	task, err := s.store.GetTask(ctx, id)
	if err != nil {
		return err
	}

	if task == nil {
		if !cfg.Enabled {
			return nil
		}
		// New tasks run on the first check.
		task = &domain.ScheduledTask{
			ID:       id,
			Name:     name,
			Interval: cfg.Interval,
			Enabled:  true,
		}
	} else {
		if task.Interval != cfg.Interval {
			task.Interval = cfg.Interval
			task.NextRun = s.now().Add(cfg.Interval)
		}
		task.Enabled = cfg.Enabled
	}

	return s.store.SaveTask(ctx, task)
}

// run is the main scheduler loop.
func (s *Scheduler) run(ctx context.Context) error {
	s.checkAndRunDueTasks(ctx)

	ticker := time.NewTicker(s.tick)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-s.stopCh:
			return nil
		case <-ticker.C:
			s.checkAndRunDueTasks(ctx)
		}
	}
}

// checkAndRunDueTasks finds and executes tasks that are due.
func (s *Scheduler) checkAndRunDueTasks(ctx context.Context) {
	tasks, err := s.store.ListTasks(ctx)
	if err != nil {
		logger.Warn("scheduler: failed to list tasks: %v", err)
		return
	}

	now := s.now()
	for i := range tasks {
		task := tasks[i]
		if !task.Enabled {
			continue
		}
		if task.NextRun.IsZero() || !task.NextRun.After(now) {
			s.runTask(ctx, &task)
		}
	}
}

// runTask executes a single task in the background unless it is
// already running.
func (s *Scheduler) runTask(ctx context.Context, task *domain.ScheduledTask) {
	s.mu.Lock()
	if s.active[task.ID] {
		s.mu.Unlock()
		logger.Debug("scheduler: %s still running, skipping", task.ID)
		return
	}
	s.active[task.ID] = true
	s.mu.Unlock()

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		defer func() {
			s.mu.Lock()
			delete(s.active, task.ID)
			s.mu.Unlock()
		}()
		s.execute(ctx, task)
	}()
}

// execute runs task and persists its state and result.
func (s *Scheduler) execute(ctx context.Context, task *domain.ScheduledTask) {
	result := &domain.TaskResult{
		TaskID:    task.ID,
		StartedAt: s.now(),
	}

	var err error
	switch task.ID {
	case domain.TaskIDDocumentSync:
		result.ItemsProcessed, err = s.runDocumentSync(ctx)
	case domain.TaskIDPipelineProcess:
		result.ItemsProcessed, err = s.runPipelineProcess(ctx)
	case domain.TaskIDArtefactGC:
		result.ItemsProcessed, err = s.runArtefactGC(ctx)
	default:
		logger.Warn("scheduler: unknown task ID: %s", task.ID)
		return
	}

	result.EndedAt = s.now()
	if err != nil {
		result.Error = err.Error()
		task.LastError = err.Error()
		logger.Warn("scheduler: %s failed: %v", task.ID, err)
	} else {
		result.Success = true
		task.LastError = ""
		task.LastSuccess = result.EndedAt
		logger.Info("scheduler: %s finished, %d items", task.ID, result.ItemsProcessed)
	}

	task.LastRun = result.StartedAt
	task.NextRun = result.EndedAt.Add(task.Interval)

	// State is written even when the daemon is shutting down.
	saveCtx := context.WithoutCancel(ctx)
	if saveErr := s.store.SaveTask(saveCtx, task); saveErr != nil {
		logger.Warn("scheduler: failed to save task %s: %v", task.ID, saveErr)
	}
	if recordErr := s.store.RecordResult(saveCtx, result); recordErr != nil {
		logger.Warn("scheduler: failed to record result for %s: %v", task.ID, recordErr)
	}
	if pruneErr := s.store.PruneHistory(saveCtx, historyRetention); pruneErr != nil {
		logger.Warn("scheduler: failed to prune history: %v", pruneErr)
	}
}

// runDocumentSync pulls new documents from the default scraper.
func (s *Scheduler) runDocumentSync(ctx context.Context) (int, error) {
	if s.sync == nil {
		return 0, nil
	}
	report, err := s.sync.Sync(ctx, driving.SyncOptions{})
	if report == nil {
		return 0, err
	}
	return report.New + report.Revised, err
}

// runPipelineProcess runs one processing pass over every stage.
func (s *Scheduler) runPipelineProcess(ctx context.Context) (int, error) {
	if s.orch == nil {
		return 0, nil
	}
	summary, err := s.orch.Process(ctx, domain.ProcessOptions{})
	if summary == nil {
		return 0, err
	}
	return summary.Executed, err
}

// runArtefactGC prunes superseded artefacts past the retention window.
func (s *Scheduler) runArtefactGC(ctx context.Context) (int, error) {
	if s.artefacts == nil {
		return 0, nil
	}
	return s.artefacts.Prune(ctx, s.config.ArtefactRetention)
}
