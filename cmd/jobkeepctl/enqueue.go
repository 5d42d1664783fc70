package main

import (
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/jobkeep/jobkeep/postgres"
)

var enqueueCmd = &cobra.Command{
	Use:   "enqueue <job-type> <json-payload>",
	Short: "Enqueue an ad-hoc job, bypassing the typed Definition.Enqueue path",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		jobType, rawPayload := args[0], args[1]

		if !json.Valid([]byte(rawPayload)) {
			return fmt.Errorf("payload is not valid JSON: %s", rawPayload)
		}

		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		setupLogger(cfg.LogLevel)

		store, err := connectStore(cmd.Context(), cfg, 0)
		if err != nil {
			return err
		}
		defer store.Close()

		gateway := postgres.NewGateway(store)

		id, err := gateway.Enqueue(cmd.Context(), nil, jobType, json.RawMessage(rawPayload))
		if err != nil {
			return fmt.Errorf("failed to enqueue job: %w", err)
		}

		fmt.Fprintf(cmd.OutOrStdout(), "enqueued job %d (%s)\n", id, jobType)
		return nil
	},
}
