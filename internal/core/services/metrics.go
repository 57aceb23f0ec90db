package services

import (
	"time"

	"github.com/custodia-labs/debatepipe/internal/core/ports/driven"
)

// nopMetrics discards observations.
type nopMetrics struct{}

var _ driven.PipelineMetrics = nopMetrics{}

func (nopMetrics) ObserveOutcome(string, string, time.Duration) {}
func (nopMetrics) ObserveClaimLost(string)                      {}
func (nopMetrics) ObserveRecovered(int)                         {}
func (nopMetrics) ObserveResolution(string)                     {}
func (nopMetrics) SetInFlight(string, int)                      {}
