package commands

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"contractor-scraper/scraper/browser"
	"contractor-scraper/scraper/gaf"
	"contractor-scraper/services"
	"contractor-scraper/storage"
	"contractor-scraper/utils"
)

var (
	scrapeZip      string
	scrapeDistance int
	scrapeLimit    int
)

func init() {
	scrapeCmd.Flags().StringVar(&scrapeZip, "zip", "", "ZIP code to search around (default $ZIPCODE)")
	scrapeCmd.Flags().IntVar(&scrapeDistance, "distance", 0, "search radius in miles (default $DISTANCE)")
	scrapeCmd.Flags().IntVar(&scrapeLimit, "limit", 0, "maximum number of contractors (default $LISTING_LIMIT)")
	rootCmd.AddCommand(scrapeCmd)
}

var scrapeCmd = &cobra.Command{
	Use:   "scrape [--zip <zipcode>] [--distance <miles>] [--limit <n>]",
	Short: "Scrapes contractor listings and profiles and stores them.",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		if scrapeZip == "" {
			scrapeZip = cfg.Zipcode
		}
		if scrapeDistance <= 0 {
			scrapeDistance = cfg.Distance
		}
		if scrapeLimit <= 0 {
			scrapeLimit = cfg.ListingLimit
		}

		logger.Info("=== Contractor Scraping System starting ===")
		logger.Info("Config — zip: %s | distance: %d mi | limit: %d | delay: %v | retries: %d | storage: %s",
			scrapeZip, scrapeDistance, scrapeLimit, cfg.ScrapeDelay, cfg.MaxRetries, cfg.DatabaseDriver)

		store, err := openStore(ctx)
		if err != nil {
			logger.Error("%v", err)
			if cfg.DatabaseDriver == storage.DriverPostgres {
				logger.Error("Make sure Docker is running: docker compose up -d")
			}
			return err
		}
		defer store.Close()

		var raw services.RawRecorder
		if cfg.CSVOutputPath != "" {
			csvWriter, err := storage.NewCSVWriter(cfg.CSVOutputPath)
			if err != nil {
				logger.Error("Failed to create CSV writer: %v", err)
				return err
			}
			defer csvWriter.Close()
			raw = csvWriter
		}

		session, err := browser.NewChromeSession(browser.ChromeOptions{
			Headless:        cfg.Headless,
			ExecPath:        cfg.ChromeBin,
			PageLoadTimeout: cfg.PageLoadTimeout,
		})
		if err != nil {
			logger.Error("Failed to start browser: %v", err)
			return err
		}
		defer session.Close()

		clock := utils.SystemClock{}
		navCfg := browser.DefaultNavigatorConfig()
		navCfg.MaxRetries = cfg.MaxRetries
		navCfg.ReadyTimeout = cfg.ReadyTimeout
		nav := browser.NewNavigator(session, navCfg, clock, utils.NewRandom(), logger)

		listings := gaf.NewListingScraper(nav, gaf.ListingOptions{
			BaseURL:    cfg.BaseURL,
			Delay:      cfg.ScrapeDelay,
			MaxRetries: cfg.MaxRetries,
		}, clock, logger)
		profiles := gaf.NewProfileScraper(nav, gaf.ProfileOptions{
			Delay:      cfg.ScrapeDelay,
			MaxRetries: cfg.MaxRetries,
		}, clock, logger)

		pipeline := services.NewPipeline(listings, profiles, store, raw, clock, logger)
		res := pipeline.Run(ctx, scrapeZip, scrapeDistance, scrapeLimit)

		freshness, err := store.Freshness(context.WithoutCancel(ctx))
		if err != nil {
			logger.Warn("Could not compute freshness: %v", err)
		}
		services.NewReporter(cmd.OutOrStdout()).PrintSummary(services.Summarize(res, freshness))

		if res.ListingsFound == 0 && res.Err != nil {
			return fmt.Errorf("no listings scraped: %w", res.Err)
		}
		if cfg.CSVOutputPath != "" {
			fmt.Fprintf(cmd.OutOrStdout(), "  Done. Raw CSV → %s | Clean data → %s (%s)\n\n",
				cfg.CSVOutputPath, cfg.DatabaseDriver, storage.Tables[0])
		}
		return nil
	},
}
