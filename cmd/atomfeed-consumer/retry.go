package main

import (
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/velmie/atomfeed"
)

type retryOptions struct {
	*rootOptions
	Sink string
}

type retryReport struct {
	Feeds []feedRetry `json:"feeds" yaml:"feeds"`
}

type feedRetry struct {
	Feed      string `json:"feed" yaml:"feed"`
	Recovered int    `json:"recovered" yaml:"recovered"`
	Failed    int    `json:"failed" yaml:"failed"`
}

func (r retryReport) writeText(w io.Writer) error {
	for _, f := range r.Feeds {
		if _, err := fmt.Fprintf(w, "%s\trecovered=%d\tfailed=%d\n", f.Feed, f.Recovered, f.Failed); err != nil {
			return err
		}
	}

	return nil
}

func newRetryCommand(root *rootOptions) *cobra.Command {
	opts := &retryOptions{rootOptions: root}

	cmd := &cobra.Command{
		Use:   "retry",
		Short: "Retry the oldest failed events of every feed once",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return retryFailed(cmd, opts)
		},
	}

	cmd.Flags().StringVar(&opts.Sink, "sink", sinkKafka, "event sink (kafka|log)")

	return cmd
}

func retryFailed(cmd *cobra.Command, opts *retryOptions) error {
	cfg, logger, err := opts.setup(cmd)
	if err != nil {
		return err
	}
	if err := cfg.requireFeeds(); err != nil {
		return commandError("retry", err)
	}

	ctx := cmd.Context()
	dest, err := newSink(opts.Sink, cfg.Kafka, logger)
	if err != nil {
		return commandError("retry", err)
	}
	defer dest.close()

	b, err := openBackend(ctx, cfg.DB, logger)
	if err != nil {
		return commandError("open storage", err)
	}
	defer b.close()

	fetcher := newFetcher(cfg.HTTP, logger)

	report := retryReport{Feeds: make([]feedRetry, 0, len(cfg.Consumer.Feeds))}
	for _, feed := range cfg.Consumer.Feeds {
		consumer := atomfeed.NewConsumer(
			feed,
			cfg.Consumer.ID,
			fetcher,
			b.storage,
			dest.worker(feed),
			consumerOptions(cfg.Consumer, logger, nil)...,
		)
		res, err := consumer.ProcessFailedEvents(ctx)
		if err != nil {
			return fmt.Errorf("retry %s: %w", feed, err)
		}
		report.Feeds = append(report.Feeds, feedRetry{Feed: feed, Recovered: res.Recovered, Failed: res.Failed})
	}

	return opts.formatter(cmd).write(report)
}
