package commands

import (
	"github.com/spf13/cobra"

	"contractor-scraper/services"
)

var listLimit int

func init() {
	listCmd.Flags().IntVar(&listLimit, "limit", 50, "maximum number of contractors to print (0 for all)")
	rootCmd.AddCommand(listCmd)
}

var listCmd = &cobra.Command{
	Use:   "list [--limit <n>]",
	Short: "Prints the stored contractors.",
	RunE: func(cmd *cobra.Command, args []string) error {
		store, err := openStore(cmd.Context())
		if err != nil {
			return err
		}
		defer store.Close()

		cs, err := store.List(cmd.Context(), listLimit)
		if err != nil {
			return err
		}
		services.NewReporter(cmd.OutOrStdout()).PrintContractors("📋 STORED CONTRACTORS", cs)
		return nil
	},
}
