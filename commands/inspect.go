package commands

import (
	"github.com/spf13/cobra"

	"contractor-scraper/services"
)

func init() {
	rootCmd.AddCommand(inspectCmd)
}

var inspectCmd = &cobra.Command{
	Use:   "inspect",
	Short: "Shows row counts and a sample row for every storage table.",
	RunE: func(cmd *cobra.Command, args []string) error {
		store, err := openStore(cmd.Context())
		if err != nil {
			return err
		}
		defer store.Close()

		stats, err := store.Inspect(cmd.Context())
		if err != nil {
			return err
		}
		services.NewReporter(cmd.OutOrStdout()).PrintTables(stats)
		return nil
	},
}
