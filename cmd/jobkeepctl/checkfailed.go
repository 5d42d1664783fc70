package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/jobkeep/jobkeep"
	"github.com/jobkeep/jobkeep/postgres"
)

var checkFailedCmd = &cobra.Command{
	Use:   "check-failed",
	Short: "Report recently-failed jobs and exit non-zero if any exist",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		logger := setupLogger(cfg.LogLevel)

		store, err := connectStore(cmd.Context(), cfg, 0)
		if err != nil {
			return err
		}
		defer store.Close()

		gateway := postgres.NewGateway(store)
		env := NewEnv(logger, gateway)

		runner, err := jobkeep.NewBuilder[Env](gateway, env).Build()
		if err != nil {
			return fmt.Errorf("failed to build runner: %w", err)
		}

		if err := runner.CheckForFailedJobs(cmd.Context()); err != nil {
			fmt.Fprintln(cmd.OutOrStdout(), err)
			return err
		}

		fmt.Fprintln(cmd.OutOrStdout(), "no recently-failed jobs")
		return nil
	},
}
