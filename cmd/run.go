package main

import (
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run one ingestion cycle and exit",
	RunE: func(cmd *cobra.Command, args []string) error {
		env, err := initPipeline(cmd.Context())
		if err != nil {
			return err
		}
		defer env.Close()

		if err := env.Orchestrator.RunCycle(cmd.Context(), "cli"); err != nil {
			return err
		}

		st := env.Orchestrator.Status()
		zap.L().Info("cycle finished",
			zap.Int("brands", st.Brands),
			zap.Int("mentions", st.Mentions),
			zap.Int64("duration_ms", st.DurationMs))
		return nil
	},
}

func init() {
	rootCmd.AddCommand(runCmd)
}
