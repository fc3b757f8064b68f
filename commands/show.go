package commands

import (
	"github.com/spf13/cobra"

	"contractor-scraper/services"
)

func init() {
	rootCmd.AddCommand(showCmd)
}

var showCmd = &cobra.Command{
	Use:   "show <external-id>",
	Short: "Prints one stored contractor with its certifications and text.",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		store, err := openStore(cmd.Context())
		if err != nil {
			return err
		}
		defer store.Close()

		c, err := store.FindByExternalID(cmd.Context(), args[0])
		if err != nil {
			return err
		}
		services.NewReporter(cmd.OutOrStdout()).PrintContractor(c)
		return nil
	},
}
