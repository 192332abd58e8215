package main

import (
	"fmt"
	"io"
	"time"

	"github.com/spf13/cobra"
)

type failedOptions struct {
	*rootOptions
	Feed  string
	Limit int
}

type failedEventView struct {
	Feed         string    `json:"feed" yaml:"feed"`
	EventID      string    `json:"event_id" yaml:"event_id"`
	Title        string    `json:"title" yaml:"title"`
	ErrorMessage string    `json:"error_message" yaml:"error_message"`
	FailedAt     time.Time `json:"failed_at" yaml:"failed_at"`
	Retries      int       `json:"retries" yaml:"retries"`
}

type failedList struct {
	Events []failedEventView `json:"events" yaml:"events"`
}

func (l failedList) writeText(w io.Writer) error {
	for _, e := range l.Events {
		_, err := fmt.Fprintf(w, "%s\t%s\t%s\tretries=%d\t%s\n",
			e.FailedAt.Format(time.RFC3339), e.Feed, e.EventID, e.Retries, e.ErrorMessage)
		if err != nil {
			return err
		}
	}

	return nil
}

type failedCounts struct {
	Feeds []feedCount `json:"feeds" yaml:"feeds"`
}

type feedCount struct {
	Feed  string `json:"feed" yaml:"feed"`
	Count int    `json:"count" yaml:"count"`
}

func (c failedCounts) writeText(w io.Writer) error {
	for _, f := range c.Feeds {
		if _, err := fmt.Fprintf(w, "%s\t%d\n", f.Feed, f.Count); err != nil {
			return err
		}
	}

	return nil
}

func newFailedCommand(root *rootOptions) *cobra.Command {
	opts := &failedOptions{rootOptions: root}

	cmd := &cobra.Command{
		Use:   "failed",
		Short: "Inspect the failed-event queue",
	}

	cmd.PersistentFlags().StringVar(&opts.Feed, "feed", "", "feed URI (defaults to every feed in ATOMFEED_FEEDS)")

	list := &cobra.Command{
		Use:   "list",
		Short: "List the oldest failed events",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return listFailed(cmd, opts)
		},
	}
	list.Flags().IntVar(&opts.Limit, "limit", 20, "maximum events per feed")

	count := &cobra.Command{
		Use:   "count",
		Short: "Count failed events per feed",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return countFailed(cmd, opts)
		},
	}

	cmd.AddCommand(list, count)

	return cmd
}

func (o *failedOptions) feeds(cfg *config) ([]string, error) {
	if o.Feed != "" {
		return []string{o.Feed}, nil
	}
	if err := cfg.requireFeeds(); err != nil {
		return nil, commandError("failed", err)
	}

	return cfg.Consumer.Feeds, nil
}

func listFailed(cmd *cobra.Command, opts *failedOptions) error {
	if opts.Limit <= 0 {
		return commandError(fmt.Sprintf("invalid limit %d: must be positive", opts.Limit), nil)
	}

	cfg, logger, err := opts.setup(cmd)
	if err != nil {
		return err
	}
	feeds, err := opts.feeds(cfg)
	if err != nil {
		return err
	}

	ctx := cmd.Context()
	b, err := openBackend(ctx, cfg.DB, logger)
	if err != nil {
		return commandError("open storage", err)
	}
	defer b.close()

	out := failedList{Events: []failedEventView{}}
	for _, feed := range feeds {
		events, err := b.storage.FailedEvents.Oldest(ctx, feed, opts.Limit)
		if err != nil {
			return err
		}
		for _, e := range events {
			out.Events = append(out.Events, failedEventView{
				Feed:         e.FeedURI,
				EventID:      e.Event.ID,
				Title:        e.Event.Title,
				ErrorMessage: e.ErrorMessage,
				FailedAt:     e.FailedAt,
				Retries:      e.Retries,
			})
		}
	}

	return opts.formatter(cmd).write(out)
}

func countFailed(cmd *cobra.Command, opts *failedOptions) error {
	cfg, logger, err := opts.setup(cmd)
	if err != nil {
		return err
	}
	feeds, err := opts.feeds(cfg)
	if err != nil {
		return err
	}

	ctx := cmd.Context()
	b, err := openBackend(ctx, cfg.DB, logger)
	if err != nil {
		return commandError("open storage", err)
	}
	defer b.close()

	out := failedCounts{Feeds: make([]feedCount, 0, len(feeds))}
	for _, feed := range feeds {
		n, err := b.storage.FailedEvents.Count(ctx, feed)
		if err != nil {
			return err
		}
		out.Feeds = append(out.Feeds, feedCount{Feed: feed, Count: n})
	}

	return opts.formatter(cmd).write(out)
}
