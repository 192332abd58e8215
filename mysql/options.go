package mysql

import "github.com/velmie/atomfeed"

const (
	defaultFailedEventsTable = "failed_events"
	defaultMarkersTable      = "markers"
)

// Config defines MySQL store behavior.
type Config struct {
	// FailedEventsTable is the failed event table. Use schema.table for a non-default schema.
	FailedEventsTable string
	// MarkersTable is the marker table. Use schema.table for a non-default schema.
	MarkersTable string
	Clock        atomfeed.Clock
}

func (c Config) withDefaults() Config {
	if c.FailedEventsTable == "" {
		c.FailedEventsTable = defaultFailedEventsTable
	}
	if c.MarkersTable == "" {
		c.MarkersTable = defaultMarkersTable
	}
	if c.Clock == nil {
		c.Clock = atomfeed.SystemClock{}
	}

	return c
}

// Option configures the MySQL store.
type Option func(*Config)

// WithFailedEventsTable sets the failed event table name.
func WithFailedEventsTable(name string) Option {
	return func(c *Config) {
		c.FailedEventsTable = name
	}
}

// WithMarkersTable sets the marker table name.
func WithMarkersTable(name string) Option {
	return func(c *Config) {
		c.MarkersTable = name
	}
}

// WithClock sets the time source used for default failure and marker timestamps.
func WithClock(clock atomfeed.Clock) Option {
	return func(c *Config) {
		c.Clock = clock
	}
}
