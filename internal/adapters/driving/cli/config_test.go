package cli

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gopkg.in/yaml.v3"

	"github.com/custodia-labs/debatepipe/internal/core/domain"
)

func testSettings() *domain.Settings {
	s := domain.DefaultSettings()
	s.DataDir = "/var/lib/debatepipe"
	s.Stages = []domain.StageSettings{
		{
			Definition: domain.StageDefinition{Name: "extract", Mode: domain.ModeDocument, Workers: 2,
				Retry: domain.RetryPolicy{MaxAttempts: 3, InitialBackoff: time.Second, MaxBackoff: time.Minute}},
			Executor: "command",
			Options:  map[string]any{"command": "pdftotext"},
		},
		{
			Definition: domain.StageDefinition{Name: "translate", Upstream: "extract", Mode: domain.ModeUnit, Workers: 1,
				Timeout: 5 * time.Minute},
			Executor: "prompt",
		},
	}
	s.Scheduler.TaskConfigs = map[string]domain.TaskConfig{
		"sync":    {Enabled: true, Interval: time.Hour},
		"process": {Enabled: false, Interval: 10 * time.Minute},
	}
	return &s
}

func TestConfigShowCmd_YAML(t *testing.T) {
	withServices(t, &Services{Settings: testSettings(), ConfigPath: "/etc/debatepipe/config.toml"})

	out, err := run(t, "config", "show")

	require.NoError(t, err)
	var got map[string]any
	require.NoError(t, yaml.Unmarshal([]byte(out), &got))
	assert.Equal(t, "/etc/debatepipe/config.toml", got["config_file"])
	assert.Equal(t, "/var/lib/debatepipe", got["data_dir"])
	assert.Contains(t, out, "stale_after: 2m0s")
	assert.Contains(t, out, "executor: prompt")
	assert.Contains(t, out, "timeout: 5m0s")
	assert.Contains(t, out, "command: pdftotext")
}

func TestConfigShowCmd_JSON(t *testing.T) {
	withServices(t, &Services{Settings: testSettings()})

	out, err := run(t, "config", "show", "-o", "json")

	require.NoError(t, err)
	var got configView
	require.NoError(t, json.Unmarshal([]byte(out), &got))
	require.Len(t, got.Stages, 2)
	assert.Equal(t, "extract", got.Stages[0].Name)
	assert.Equal(t, "extract", got.Stages[1].Upstream)
	assert.Equal(t, "1s", got.Stages[0].InitialBackoff)
	assert.Equal(t, "reject", got.Dedup.Policy)
	assert.Equal(t, "llama3.2", got.LLM.Model)
	require.Len(t, got.Scheduler.Tasks, 2)
	assert.Equal(t, "process", got.Scheduler.Tasks[0].ID)
	assert.Equal(t, "1h0m0s", got.Scheduler.Tasks[1].Interval)
	assert.Empty(t, got.ConfigFile)
}

func TestConfigShowCmd_UnknownFormat(t *testing.T) {
	withServices(t, &Services{Settings: testSettings()})

	_, err := run(t, "config", "show", "-o", "table")

	require.Error(t, err)
	assert.Contains(t, err.Error(), `unknown output format "table"`)
}

func TestConfigShowCmd_NotLoaded(t *testing.T) {
	withServices(t, &Services{})

	_, err := run(t, "config", "show")

	require.Error(t, err)
	assert.Contains(t, err.Error(), "settings not loaded")
}
