package main

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"
)

var errNoFeeds = errors.New("ATOMFEED_FEEDS is empty")

type (
	config struct {
		DB       dbConfig
		Consumer consumerConfig
		HTTP     httpConfig
		Log      logConfig
		Kafka    kafkaConfig
	}

	dbConfig struct {
		Driver            string `env:"ATOMFEED_DB_DRIVER" envDefault:"sqlite"`
		DSN               string `env:"ATOMFEED_DB_DSN,required"`
		FailedEventsTable string `env:"ATOMFEED_FAILED_EVENTS_TABLE"`
		MarkersTable      string `env:"ATOMFEED_MARKERS_TABLE"`
	}

	consumerConfig struct {
		Feeds          []string      `env:"ATOMFEED_FEEDS" envSeparator:","`
		ID             string        `env:"ATOMFEED_CONSUMER_ID" envDefault:"atomfeed-consumer"`
		BatchSize      int           `env:"ATOMFEED_BATCH_SIZE" envDefault:"100"`
		RetryBatchSize int           `env:"ATOMFEED_RETRY_BATCH_SIZE" envDefault:"5"`
		PollInterval   time.Duration `env:"ATOMFEED_POLL_INTERVAL" envDefault:"1s"`
		RetryInterval  time.Duration `env:"ATOMFEED_RETRY_INTERVAL" envDefault:"1m"`
		WorkerTimeout  time.Duration `env:"ATOMFEED_WORKER_TIMEOUT" envDefault:"30s"`
	}

	httpConfig struct {
		Timeout   time.Duration     `env:"ATOMFEED_HTTP_TIMEOUT" envDefault:"30s"`
		UserAgent string            `env:"ATOMFEED_HTTP_USER_AGENT"`
		Headers   map[string]string `env:"ATOMFEED_HTTP_HEADERS" envSeparator:"," envKeyValSeparator:"="`
	}

	logConfig struct {
		Level string `env:"LOG_LEVEL" envDefault:"info"`
	}

	kafkaConfig struct {
		Brokers []string `env:"KAFKA_BROKERS" envSeparator:","`
		Topic   string   `env:"KAFKA_TOPIC" envDefault:"atomfeed.events"`
	}
)

// loadConfig reads the optional env file and then the process environment.
// Variables already set in the environment win over the file.
func loadConfig(envFile string) (*config, error) {
	if envFile != "" {
		if _, err := os.Stat(envFile); err == nil {
			if err := godotenv.Load(envFile); err != nil {
				return nil, fmt.Errorf("load env file: %w", err)
			}
		}
	}

	cfg := &config{}
	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("config error: %w", err)
	}

	cfg.DB.Driver = strings.ToLower(strings.TrimSpace(cfg.DB.Driver))
	cfg.Consumer.Feeds = compact(cfg.Consumer.Feeds)
	cfg.Kafka.Brokers = compact(cfg.Kafka.Brokers)

	return cfg, nil
}

func (c *config) requireFeeds() error {
	if len(c.Consumer.Feeds) == 0 {
		return errNoFeeds
	}

	return nil
}

func (c logConfig) level() slog.Level {
	var lvl slog.Level
	if err := lvl.UnmarshalText([]byte(c.Level)); err != nil {
		return slog.LevelInfo
	}

	return lvl
}

func compact(values []string) []string {
	out := values[:0]
	for _, v := range values {
		if v = strings.TrimSpace(v); v != "" {
			out = append(out, v)
		}
	}

	return out
}
