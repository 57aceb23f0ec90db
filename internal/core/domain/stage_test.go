package domain

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestStageStatus_Valid(t *testing.T) {
	for _, s := range AllStatuses {
		assert.True(t, s.Valid(), s)
	}
	assert.False(t, StageStatus("queued").Valid())
}

func TestStageStatus_Terminal(t *testing.T) {
	assert.False(t, StatusPending.Terminal())
	assert.False(t, StatusRunning.Terminal())
	assert.True(t, StatusDone.Terminal())
	assert.True(t, StatusFailed.Terminal())
	assert.True(t, StatusSkipped.Terminal())
}

func TestRetryPolicy_Backoff(t *testing.T) {
	p := RetryPolicy{
		MaxAttempts:    5,
		InitialBackoff: time.Second,
		MaxBackoff:     10 * time.Second,
		Multiplier:     2,
	}

	tests := []struct {
		attempt  int
		expected time.Duration
	}{
		{0, 0},
		{1, time.Second},
		{2, 2 * time.Second},
		{3, 4 * time.Second},
		{4, 8 * time.Second},
		{5, 10 * time.Second},
		{12, 10 * time.Second},
	}

	for _, tt := range tests {
		assert.Equal(t, tt.expected, p.Backoff(tt.attempt), "attempt %d", tt.attempt)
	}
}

func TestRetryPolicy_Backoff_NoCap(t *testing.T) {
	p := RetryPolicy{InitialBackoff: 100 * time.Millisecond, Multiplier: 3}
	assert.Equal(t, 900*time.Millisecond, p.Backoff(3))
}

func TestStageState_Runnable(t *testing.T) {
	now := time.Now()

	pending := StageState{Status: StatusPending}
	assert.True(t, pending.Runnable(now))

	backingOff := StageState{Status: StatusPending, NextAttemptAt: now.Add(time.Minute)}
	assert.False(t, backingOff.Runnable(now))
	assert.True(t, backingOff.Runnable(now.Add(time.Minute)))

	running := StageState{Status: StatusRunning}
	assert.False(t, running.Runnable(now))
}

func TestStageKey_String(t *testing.T) {
	assert.Equal(t, "d1/extract", StageKey{DocumentID: "d1", Stage: "extract"}.String())
}
