package postgres

import (
	"fmt"
	"strings"

	"github.com/velmie/atomfeed"
)

const (
	defaultFailedEventsTable = "failed_events"
	defaultMarkersTable      = "markers"
)

// Config defines PostgreSQL store behavior.
type Config struct {
	FailedEventsTable string
	MarkersTable      string
	Clock             atomfeed.Clock
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

// Option configures the PostgreSQL store.
type Option func(*Config)

// WithFailedEventsTable sets the failed event table name, optionally schema-qualified.
func WithFailedEventsTable(name string) Option {
	return func(c *Config) {
		c.FailedEventsTable = name
	}
}

// WithMarkersTable sets the marker table name, optionally schema-qualified.
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

func sanitizeTableName(name string) (string, error) {
	if name == "" {
		return "", ErrTableNameRequired
	}
	parts := strings.Split(name, ".")
	if len(parts) > 2 {
		return "", fmt.Errorf("%w: %s", ErrInvalidTableName, name)
	}
	for _, part := range parts {
		if part == "" || (part[0] >= '0' && part[0] <= '9') {
			return "", fmt.Errorf("%w: %s", ErrInvalidTableName, name)
		}
		for _, r := range part {
			if r == '_' || (r >= '0' && r <= '9') || (r >= 'a' && r <= 'z') {
				continue
			}

			return "", fmt.Errorf("%w: %s", ErrInvalidTableName, name)
		}
	}

	return name, nil
}
