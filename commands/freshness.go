package commands

import (
	"github.com/spf13/cobra"

	"contractor-scraper/services"
)

func init() {
	rootCmd.AddCommand(freshnessCmd)
}

var freshnessCmd = &cobra.Command{
	Use:   "freshness",
	Short: "Prints how recently the stored contractors were scraped.",
	RunE: func(cmd *cobra.Command, args []string) error {
		store, err := openStore(cmd.Context())
		if err != nil {
			return err
		}
		defer store.Close()

		report, err := store.Freshness(cmd.Context())
		if err != nil {
			return err
		}
		services.NewReporter(cmd.OutOrStdout()).PrintFreshness(report)
		return nil
	},
}
