package main

import (
	"fmt"
	"io"
	"log/slog"
	"slices"

	"github.com/spf13/cobra"
)

const (
	formatText = "text"
	formatJSON = "json"
	formatYAML = "yaml"
)

var validFormats = []string{formatText, formatJSON, formatYAML}

// rootOptions holds global flags for all commands.
type rootOptions struct {
	Verbose bool
	Format  string
	EnvFile string
}

func newRootCommand() *cobra.Command {
	opts := &rootOptions{}

	cmd := &cobra.Command{
		Use:   "atomfeed-consumer",
		Short: "Consume Atom event feeds into a worker",
		Long: "Reads Atom feeds from the oldest archive forward, hands each entry to a worker " +
			"and keeps per-consumer read markers and a failed-event queue in MySQL, PostgreSQL or SQLite.",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if !slices.Contains(validFormats, opts.Format) {
				return commandError(fmt.Sprintf("invalid format %q: must be one of %v", opts.Format, validFormats), nil)
			}

			return nil
		},
	}

	cmd.PersistentFlags().BoolVarP(&opts.Verbose, "verbose", "v", false, "enable debug logging")
	cmd.PersistentFlags().StringVar(&opts.Format, "format", formatText, "output format (text|json|yaml)")
	cmd.PersistentFlags().StringVar(&opts.EnvFile, "env-file", ".env", "optional dotenv file read before the environment")

	cmd.AddCommand(newRunCommand(opts))
	cmd.AddCommand(newRetryCommand(opts))
	cmd.AddCommand(newFailedCommand(opts))
	cmd.AddCommand(newMigrateCommand(opts))

	return cmd
}

// setup loads configuration and builds the logger shared by every command.
func (o *rootOptions) setup(cmd *cobra.Command) (*config, *slog.Logger, error) {
	cfg, err := loadConfig(o.EnvFile)
	if err != nil {
		return nil, nil, commandError("load config", err)
	}

	return cfg, o.logger(cmd.ErrOrStderr(), cfg.Log), nil
}

// logger writes JSON logs to w so that command output on stdout stays clean.
func (o *rootOptions) logger(w io.Writer, cfg logConfig) *slog.Logger {
	level := cfg.level()
	if o.Verbose {
		level = slog.LevelDebug
	}

	return slog.New(slog.NewJSONHandler(w, &slog.HandlerOptions{Level: level}))
}

func (o *rootOptions) formatter(cmd *cobra.Command) formatter {
	return formatter{format: o.Format, w: cmd.OutOrStdout()}
}
