package commands

import (
	"context"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"contractor-scraper/config"
	"contractor-scraper/services"
	"contractor-scraper/storage"
	"contractor-scraper/utils"
)

var (
	cfg    *config.Config
	logger *utils.Logger
)

var rootCmd = &cobra.Command{
	Use:   "contractor-scraper",
	Short: "contractor-scraper collects roofing contractor listings and profiles into a local database.",
	PersistentPreRun: func(cmd *cobra.Command, args []string) {
		cfg = config.Load()
		logger = utils.NewLoggerTo(os.Stdout, os.Stderr, utils.ParseLevel(cfg.LogLevel))
	},
	SilenceUsage: true,
}

// ExecuteContext runs the command line; ctx is cancelled on SIGINT/SIGTERM
// by the caller.
func ExecuteContext(ctx context.Context) {
	if err := rootCmd.ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

// openStore connects to the configured database with a normalizer bound to
// the system clock.
func openStore(ctx context.Context) (*storage.Store, error) {
	clock := utils.SystemClock{}
	store, err := storage.Open(ctx, cfg.DatabaseDriver, cfg.DSN(), storage.Options{
		Normalizer: services.NewNormalizer(clock, logger),
		Clock:      clock,
		Logger:     logger,
	})
	if err != nil {
		return nil, fmt.Errorf("open %s storage: %w", cfg.DatabaseDriver, err)
	}
	return store, nil
}
