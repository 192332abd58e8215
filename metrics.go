package atomfeed

import "time"

// Metrics captures consumer-level telemetry.
type Metrics interface {
	// ObserveCycleDuration records the time spent in one processing cycle.
	ObserveCycleDuration(duration time.Duration)
	// AddProcessed increments the count of successfully processed events.
	AddProcessed(count int)
	// AddFailed increments the count of events moved to the failed-event queue.
	AddFailed(count int)
	// AddRecovered increments the count of failed events that succeeded on retry.
	AddRecovered(count int)
	// AddRetryFailed increments the count of retries that failed again.
	AddRetryFailed(count int)
	// SetFailedBacklog updates the number of failed events waiting for retry.
	SetFailedBacklog(count int)
}

// NopMetrics is a no-op metrics recorder.
type NopMetrics struct{}

// ObserveCycleDuration implements Metrics.
func (NopMetrics) ObserveCycleDuration(time.Duration) {}

// AddProcessed implements Metrics.
func (NopMetrics) AddProcessed(int) {}

// AddFailed implements Metrics.
func (NopMetrics) AddFailed(int) {}

// AddRecovered implements Metrics.
func (NopMetrics) AddRecovered(int) {}

// AddRetryFailed implements Metrics.
func (NopMetrics) AddRetryFailed(int) {}

// SetFailedBacklog implements Metrics.
func (NopMetrics) SetFailedBacklog(int) {}
