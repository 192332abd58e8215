package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os/signal"
	"syscall"

	"github.com/segmentio/kafka-go"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/velmie/atomfeed"
	"github.com/velmie/atomfeed/atom"
	"github.com/velmie/atomfeed/httptransport"
	"github.com/velmie/atomfeed/kafkasink"
)

const (
	sinkKafka = "kafka"
	sinkLog   = "log"
)

type runOptions struct {
	*rootOptions
	Sink string
}

func newRunCommand(root *rootOptions) *cobra.Command {
	opts := &runOptions{rootOptions: root}

	cmd := &cobra.Command{
		Use:   "run",
		Short: "Consume every configured feed until interrupted",
		Long: "Runs one consumer per feed in ATOMFEED_FEEDS. Each consumer polls its feed, " +
			"forwards new events to the sink and periodically retries failed events.",
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runConsumers(cmd, opts)
		},
	}

	cmd.Flags().StringVar(&opts.Sink, "sink", sinkKafka, "event sink (kafka|log)")

	return cmd
}

func runConsumers(cmd *cobra.Command, opts *runOptions) error {
	cfg, logger, err := opts.setup(cmd)
	if err != nil {
		return err
	}
	if err := cfg.requireFeeds(); err != nil {
		return commandError("run", err)
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	dest, err := newSink(opts.Sink, cfg.Kafka, logger)
	if err != nil {
		return commandError("run", err)
	}
	defer dest.close()

	b, err := openBackend(ctx, cfg.DB, logger)
	if err != nil {
		return commandError("open storage", err)
	}
	defer b.close()

	fetcher := newFetcher(cfg.HTTP, logger)

	g, gctx := errgroup.WithContext(ctx)
	for _, feed := range cfg.Consumer.Feeds {
		consumer := atomfeed.NewConsumer(
			feed,
			cfg.Consumer.ID,
			fetcher,
			b.storage,
			dest.worker(feed),
			consumerOptions(cfg.Consumer, logger, b.locker)...,
		)
		g.Go(func() error {
			logger.Info("atomfeed consumer started", "feed", feed, "consumer", cfg.Consumer.ID)
			if err := consumer.Run(gctx); err != nil && !errors.Is(err, context.Canceled) {
				return fmt.Errorf("feed %s: %w", feed, err)
			}

			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return err
	}
	logger.Info("atomfeed consumers stopped")

	return nil
}

func newFetcher(cfg httpConfig, logger atomfeed.Logger) *atomfeed.Fetcher {
	transportOpts := []httptransport.Option{
		httptransport.WithClient(&http.Client{Timeout: cfg.Timeout}),
	}
	if cfg.UserAgent != "" {
		transportOpts = append(transportOpts, httptransport.WithUserAgent(cfg.UserAgent))
	}
	for key, value := range cfg.Headers {
		transportOpts = append(transportOpts, httptransport.WithHeader(key, value))
	}

	return atomfeed.NewFetcher(
		httptransport.New(transportOpts...),
		atom.NewParser(),
		atomfeed.WithFetcherLogger(logger),
	)
}

// sink builds one worker per feed on top of a shared destination.
type sink struct {
	worker func(feedURI string) atomfeed.EventWorker
	close  func()
}

func newSink(kind string, cfg kafkaConfig, logger atomfeed.Logger) (*sink, error) {
	switch kind {
	case sinkKafka:
		writer, err := kafkasink.NewWriter(cfg.Brokers)
		if err != nil {
			return nil, err
		}

		return &sink{
			worker: func(feedURI string) atomfeed.EventWorker {
				return kafkasink.NewWorker(writer, cfg.Topic, feedURI)
			},
			close: func() { closeWriter(writer, logger) },
		}, nil
	case sinkLog:
		return &sink{
			worker: func(feedURI string) atomfeed.EventWorker {
				return logWorker{logger: logger, feedURI: feedURI}
			},
			close: func() {},
		}, nil
	default:
		return nil, fmt.Errorf("unsupported sink %q: must be kafka or log", kind)
	}
}

func closeWriter(writer *kafka.Writer, logger atomfeed.Logger) {
	if err := writer.Close(); err != nil {
		logger.Warn("kafka writer close failed", "err", err)
	}
}

// logWorker writes each event to the log. It is useful for dry runs.
type logWorker struct {
	logger  atomfeed.Logger
	feedURI string
}

func (w logWorker) Process(_ context.Context, event atomfeed.Event) error {
	w.logger.Info("atomfeed event", "feed", w.feedURI, "id", event.ID, "title", event.Title, "content_bytes", len(event.Content))

	return nil
}
