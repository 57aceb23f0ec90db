package domain

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestDefaultSchedulerConfig(t *testing.T) {
	config := DefaultSchedulerConfig()

	assert.True(t, config.Enabled)
	assert.Len(t, config.TaskConfigs, 3)

	syncCfg := config.TaskConfigs[TaskIDDocumentSync]
	assert.True(t, syncCfg.Enabled)
	assert.Equal(t, 6*time.Hour, syncCfg.Interval)

	processCfg := config.TaskConfigs[TaskIDPipelineProcess]
	assert.True(t, processCfg.Enabled)
	assert.Equal(t, 15*time.Minute, processCfg.Interval)

	gcCfg := config.TaskConfigs[TaskIDArtefactGC]
	assert.False(t, gcCfg.Enabled)
}

func TestSchedulerConfig_GetTaskConfig(t *testing.T) {
	config := DefaultSchedulerConfig()

	processCfg := config.GetTaskConfig(TaskIDPipelineProcess)
	assert.True(t, processCfg.Enabled)

	unknownCfg := config.GetTaskConfig("unknown-task")
	assert.False(t, unknownCfg.Enabled)
	assert.Equal(t, time.Duration(0), unknownCfg.Interval)
}

func TestSchedulerConfig_GetTaskConfig_NilMap(t *testing.T) {
	config := SchedulerConfig{Enabled: true}

	cfg := config.GetTaskConfig("any-task")
	assert.False(t, cfg.Enabled)
	assert.Equal(t, time.Duration(0), cfg.Interval)
}
