package commands

import (
	"fmt"

	"github.com/spf13/cobra"

	"contractor-scraper/services"
)

var staleDays int

func init() {
	staleCmd.Flags().IntVar(&staleDays, "days", 30, "age in days after which a contractor is stale")
	rootCmd.AddCommand(staleCmd)
}

var staleCmd = &cobra.Command{
	Use:   "stale [--days <n>]",
	Short: "Lists contractors whose last scrape is older than the given number of days.",
	RunE: func(cmd *cobra.Command, args []string) error {
		store, err := openStore(cmd.Context())
		if err != nil {
			return err
		}
		defer store.Close()

		cs, err := store.Stale(cmd.Context(), staleDays)
		if err != nil {
			return err
		}
		services.NewReporter(cmd.OutOrStdout()).PrintContractors(fmt.Sprintf("⏳ STALE CONTRACTORS (> %d days)", staleDays), cs)
		return nil
	},
}
