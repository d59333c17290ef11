package cmd

import (
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/Iron-Ham/quorum/internal/config"
	"github.com/Iron-Ham/quorum/internal/logging"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the coordinator",
	Long: `Run the coordinator in the foreground.

Starts the scheduling engine, the ledger and registry sweepers, the HTTP
API, the in-process executor for the configured workers and, when
quorum.auto_vote is set, a validator pool that votes on every proposal.

Edits to the config file are picked up while running. The log level is
applied immediately; other changes are logged and need a restart.`,
	Args: cobra.NoArgs,
	RunE: runServe,
}

func init() {
	rootCmd.AddCommand(serveCmd)
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}

	logger, err := logging.NewLogger(cfg.Logging.Dir, cfg.Logging.Level, logging.RotationConfig{
		MaxSizeMB:  cfg.Logging.MaxSizeMB,
		MaxBackups: cfg.Logging.MaxBackups,
		Compress:   cfg.Logging.Compress,
	})
	if err != nil {
		return fmt.Errorf("failed to create logger: %w", err)
	}
	defer func() { _ = logger.Close() }()

	d, err := newDaemon(cfg, logger)
	if err != nil {
		return err
	}
	defer func() {
		if err := d.close(); err != nil {
			logger.Warn("failed to close audit journal", "error", err)
		}
	}()

	if file := viper.ConfigFileUsed(); file != "" {
		logger.Info("using config file", "path", file)
		watchConfig(cfg, logger)
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	fmt.Fprintf(cmd.OutOrStdout(), "quorum listening on %s\n", cfg.API.Listen)
	if err := d.run(ctx); err != nil {
		return err
	}
	logger.Info("coordinator stopped")
	return nil
}

// watchConfig applies log level edits live and warns about edits that
// need a restart.
func watchConfig(current *config.Config, logger *logging.Logger) {
	config.Watch(func(next *config.Config) {
		if next.Logging.Level != current.Logging.Level {
			logger.SetLevel(next.Logging.Level)
			logger.Info("log level changed", "level", next.Logging.Level)
		}
		if sections := config.RestartRequired(current, next); len(sections) > 0 {
			logger.Warn("config change takes effect on restart", "sections", sections)
		}
		current = next
	}, func(err error) {
		logger.Warn("ignoring invalid config change", "error", err)
	})
}
