package atomfeed

import (
	"context"
	"time"
)

const (
	defaultBatchSize      = 100
	defaultRetryBatchSize = 5
	defaultPollInterval   = time.Second
	defaultRetryInterval  = time.Minute
)

// ErrorHandler is called when a worker fails to process an event.
type ErrorHandler func(ctx context.Context, err *ProcessingError)

// ConsumerConfig defines how the Consumer reads and retries events.
type ConsumerConfig struct {
	BatchSize      int
	RetryBatchSize int
	PollInterval   time.Duration
	RetryInterval  time.Duration
	WorkerTimeout  time.Duration
	Clock          Clock
	Logger         Logger
	Metrics        Metrics
	ErrorHandler   ErrorHandler
	Locker         Locker
}

func (c ConsumerConfig) withDefaults() ConsumerConfig {
	if c.BatchSize <= 0 {
		c.BatchSize = defaultBatchSize
	}
	if c.RetryBatchSize <= 0 {
		c.RetryBatchSize = defaultRetryBatchSize
	}
	if c.PollInterval <= 0 {
		c.PollInterval = defaultPollInterval
	}
	if c.RetryInterval == 0 {
		c.RetryInterval = defaultRetryInterval
	}
	if c.Clock == nil {
		c.Clock = SystemClock{}
	}
	if c.Logger == nil {
		c.Logger = NopLogger{}
	}
	if c.Metrics == nil {
		c.Metrics = NopMetrics{}
	}

	return c
}

// ConsumerOption configures Consumer behavior.
type ConsumerOption func(*ConsumerConfig)

// WithBatchSize caps the number of entries processed per ProcessEvents call.
func WithBatchSize(size int) ConsumerOption {
	return func(c *ConsumerConfig) {
		c.BatchSize = size
	}
}

// WithRetryBatchSize sets how many failed events one ProcessFailedEvents call retries.
func WithRetryBatchSize(size int) ConsumerOption {
	return func(c *ConsumerConfig) {
		c.RetryBatchSize = size
	}
}

// WithPollInterval sets the delay between feed polls in Run.
func WithPollInterval(interval time.Duration) ConsumerOption {
	return func(c *ConsumerConfig) {
		c.PollInterval = interval
	}
}

// WithRetryInterval sets the delay between failed-event retries in Run.
// Zero disables the retry loop. The default is one minute.
func WithRetryInterval(interval time.Duration) ConsumerOption {
	return func(c *ConsumerConfig) {
		c.RetryInterval = interval
		if interval == 0 {
			c.RetryInterval = -1
		}
	}
}

// WithWorkerTimeout bounds the time a worker may spend on one event.
func WithWorkerTimeout(timeout time.Duration) ConsumerOption {
	return func(c *ConsumerConfig) {
		c.WorkerTimeout = timeout
	}
}

// WithClock sets the clock used for failure timestamps.
func WithClock(clock Clock) ConsumerOption {
	return func(c *ConsumerConfig) {
		c.Clock = clock
	}
}

// WithLogger sets the consumer logger.
func WithLogger(logger Logger) ConsumerOption {
	return func(c *ConsumerConfig) {
		c.Logger = logger
	}
}

// WithMetrics sets the consumer metrics recorder.
func WithMetrics(metrics Metrics) ConsumerOption {
	return func(c *ConsumerConfig) {
		c.Metrics = metrics
	}
}

// WithErrorHandler registers a callback for worker failures.
func WithErrorHandler(handler ErrorHandler) ConsumerOption {
	return func(c *ConsumerConfig) {
		c.ErrorHandler = handler
	}
}

// WithLocker makes Run hold a lock named after the feed and consumer for each cycle.
func WithLocker(locker Locker) ConsumerOption {
	return func(c *ConsumerConfig) {
		c.Locker = locker
	}
}
