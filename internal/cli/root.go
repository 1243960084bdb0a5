// Package cli wires the cobra command tree: download, list, status, retry,
// fetch, and serve all share the config/logger bootstrap defined here.
package cli

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"github.com/tywang/bookhaul/internal/config"
	"github.com/tywang/bookhaul/internal/logger"
	"github.com/tywang/bookhaul/internal/repository"
)

var (
	cfgFile string
	verbose bool
)

var rootCmd = &cobra.Command{
	Use:   "bookhaul",
	Short: "Concurrent ebook archive downloader",
	Long: "bookhaul downloads ebook archives listed in a public catalog,\n" +
		"resolving pan share links to CDN URLs and resuming partial transfers\n" +
		"across runs via a durable download ledger.",
	Version:       "1.0.0",
	SilenceUsage:  true,
	SilenceErrors: true,
}

// Execute runs the root command.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&cfgFile, "config", "c", "", "config file (default ./config.yaml)")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "enable debug logging")
}

// setup loads configuration and installs the default logger.
// Parameters: none.
// Returns:
//   - *config.Config: loaded configuration.
//   - *logger.Logger: configured logger, also set as default.
//   - error: non-nil if the config is missing or invalid.
func setup() (*config.Config, *logger.Logger, error) {
	cfg, err := config.Load(cfgFile)
	if err != nil {
		return nil, nil, err
	}

	level := cfg.Log.Level
	if verbose {
		level = "debug"
	}
	log := logger.New(&logger.Config{
		Level:       level,
		Format:      cfg.Log.Format,
		ServiceName: "bookhaul",
		LogFile:     cfg.Log.File,
		MaxSizeMB:   cfg.Log.MaxSizeMB,
		MaxBackups:  cfg.Log.MaxBackups,
		MaxAgeDays:  cfg.Log.MaxAgeDays,
		Compress:    cfg.Log.Compress,
	})
	logger.SetDefaultLogger(log)

	return cfg, log, nil
}

// openLedger connects to the configured ledger database.
// Parameters:
//   - cfg: application configuration.
// Returns:
//   - *repository.RecordRepository: ledger repository.
//   - error: non-nil if the connection or migration fails.
func openLedger(cfg *config.Config) (*repository.RecordRepository, error) {
	db, err := repository.InitDB(&cfg.Database)
	if err != nil {
		return nil, fmt.Errorf("open ledger: %w", err)
	}
	return repository.NewRecordRepository(db), nil
}
