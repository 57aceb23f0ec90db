package sqlite

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/custodia-labs/debatepipe/internal/core/domain"
)

func TestSchedulerStore_SaveAndGetTask(t *testing.T) {
	store, cleanup := setupTestStore(t)
	defer cleanup()

	ctx := context.Background()
	schedulerStore := store.SchedulerStore()

	now := time.Now().UTC()
	task := &domain.ScheduledTask{
		ID:          domain.TaskIDPipelineProcess,
		Name:        "Pipeline Processing",
		Interval:    15 * time.Minute,
		LastRun:     now.Add(-10 * time.Minute),
		NextRun:     now.Add(5 * time.Minute),
		LastSuccess: now.Add(-10 * time.Minute),
		Enabled:     true,
	}
	require.NoError(t, schedulerStore.SaveTask(ctx, task))

	retrieved, err := schedulerStore.GetTask(ctx, domain.TaskIDPipelineProcess)
	require.NoError(t, err)
	require.NotNil(t, retrieved)

	assert.Equal(t, task.Name, retrieved.Name)
	assert.Equal(t, task.Interval, retrieved.Interval)
	assert.True(t, retrieved.Enabled)
	assert.WithinDuration(t, task.LastRun, retrieved.LastRun, time.Millisecond)
	assert.WithinDuration(t, task.NextRun, retrieved.NextRun, time.Millisecond)
	assert.WithinDuration(t, task.LastSuccess, retrieved.LastSuccess, time.Millisecond)
}

func TestSchedulerStore_GetTask_NotFound(t *testing.T) {
	store, cleanup := setupTestStore(t)
	defer cleanup()

	task, err := store.SchedulerStore().GetTask(context.Background(), "non-existent")
	require.NoError(t, err)
	assert.Nil(t, task)
}

func TestSchedulerStore_UpdateListDelete(t *testing.T) {
	store, cleanup := setupTestStore(t)
	defer cleanup()

	ctx := context.Background()
	schedulerStore := store.SchedulerStore()

	task := &domain.ScheduledTask{ID: domain.TaskIDDocumentSync, Name: "Sync", Interval: time.Hour, Enabled: true}
	require.NoError(t, schedulerStore.SaveTask(ctx, task))
	require.NoError(t, schedulerStore.SaveTask(ctx, &domain.ScheduledTask{
		ID: domain.TaskIDArtefactGC, Name: "GC", Interval: 24 * time.Hour,
	}))

	task.LastError = "portal returned 503"
	task.Enabled = false
	require.NoError(t, schedulerStore.SaveTask(ctx, task))

	tasks, err := schedulerStore.ListTasks(ctx)
	require.NoError(t, err)
	require.Len(t, tasks, 2)
	assert.Equal(t, domain.TaskIDArtefactGC, tasks[0].ID)
	assert.Equal(t, "portal returned 503", tasks[1].LastError)
	assert.False(t, tasks[1].Enabled)
	assert.True(t, tasks[0].LastRun.IsZero())

	require.NoError(t, schedulerStore.DeleteTask(ctx, domain.TaskIDArtefactGC))
	gone, err := schedulerStore.GetTask(ctx, domain.TaskIDArtefactGC)
	require.NoError(t, err)
	assert.Nil(t, gone)
}

func TestSchedulerStore_NilInputs(t *testing.T) {
	store, cleanup := setupTestStore(t)
	defer cleanup()

	ctx := context.Background()
	assert.ErrorIs(t, store.SchedulerStore().SaveTask(ctx, nil), domain.ErrInvalidInput)
	assert.ErrorIs(t, store.SchedulerStore().RecordResult(ctx, nil), domain.ErrInvalidInput)
}

func TestSchedulerStore_HistoryAndPrune(t *testing.T) {
	store, cleanup := setupTestStore(t)
	defer cleanup()

	ctx := context.Background()
	schedulerStore := store.SchedulerStore()

	now := time.Now().UTC().Truncate(time.Second)
	for i := 0; i < 10; i++ {
		require.NoError(t, schedulerStore.RecordResult(ctx, &domain.TaskResult{
			TaskID:         domain.TaskIDPipelineProcess,
			StartedAt:      now.Add(time.Duration(i) * time.Minute),
			EndedAt:        now.Add(time.Duration(i)*time.Minute + 30*time.Second),
			Success:        i%2 == 0,
			Error:          map[bool]string{true: "", false: "stage failed"}[i%2 == 0],
			ItemsProcessed: i + 1,
		}))
	}

	history, err := schedulerStore.GetTaskHistory(ctx, domain.TaskIDPipelineProcess, 3)
	require.NoError(t, err)
	require.Len(t, history, 3)
	assert.Equal(t, 10, history[0].ItemsProcessed)
	assert.False(t, history[0].Success)
	assert.Equal(t, "stage failed", history[0].Error)

	require.NoError(t, schedulerStore.PruneHistory(ctx, 3))

	history, err = schedulerStore.GetTaskHistory(ctx, domain.TaskIDPipelineProcess, 100)
	require.NoError(t, err)
	require.Len(t, history, 3)
	assert.Equal(t, 10, history[0].ItemsProcessed)
	assert.Equal(t, 9, history[1].ItemsProcessed)
	assert.Equal(t, 8, history[2].ItemsProcessed)
}
