package main

import (
	"fmt"

	"github.com/spf13/cobra"
)

var purgeCmd = &cobra.Command{
	Use:   "purge <brand>",
	Short: "Remove a brand's mentions, metadata and slug registration",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		env, err := initPipeline(cmd.Context())
		if err != nil {
			return err
		}
		defer env.Close()

		if err := env.Writer.PurgeBrandData(cmd.Context(), args[0]); err != nil {
			return err
		}
		fmt.Printf("Purged data for %s\n", args[0])
		return nil
	},
}

func init() {
	rootCmd.AddCommand(purgeCmd)
}
