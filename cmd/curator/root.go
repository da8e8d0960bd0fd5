package main

import (
	"fmt"
	"io"
	"strings"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/p-blackswan/persona-curator/internal/config"
)

type rootOptions struct {
	dataDir string
}

func buildRootCommand() *cobra.Command {
	opts := &rootOptions{}

	root := &cobra.Command{
		Use:   "curator",
		Short: "Stage, review and merge persona growth candidates",
		Long: strings.TrimSpace(`curator maintains a persona's profile, evidence log and prompt.

Conversations propose candidates; an operator approves or rejects them and
merges the approved set with a signed receipt. Nothing reaches the profile
without that receipt.`),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			_ = cmd.Help()
			return fmt.Errorf("a subcommand is required")
		},
	}
	root.CompletionOptions.DisableDefaultCmd = true
	root.PersistentFlags().StringVar(&opts.dataDir, "data-dir", "", "Data directory (overrides CURATOR_DATA_DIR)")

	root.AddCommand(newMergeCommand(opts))
	root.AddCommand(newCandidatesCommand(opts))
	root.AddCommand(newAuditCommand(opts))
	root.AddCommand(newServeCommand(opts))

	return root
}

// load reads configuration, applies flag overrides and opens the stores.
func (o *rootOptions) load(cmd *cobra.Command) (*app, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, err
	}
	if o.dataDir != "" {
		cfg.DataDir = o.dataDir
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	return newApp(cfg, newLogger(cfg, cmd.ErrOrStderr()))
}

func newLogger(cfg *config.Config, w io.Writer) zerolog.Logger {
	zerolog.TimeFieldFormat = zerolog.TimeFormatUnix
	logger := zerolog.New(w).With().Timestamp().Caller().Logger()

	if cfg.IsDevelopment() {
		logger = logger.Output(zerolog.ConsoleWriter{Out: w})
	}

	level, err := zerolog.ParseLevel(cfg.LogLevel)
	if err == nil {
		zerolog.SetGlobalLevel(level)
	}
	return logger
}
