// Command jobkeepctl runs and administers a jobkeep worker process: apply
// migrations, drain the queue in a loop, check for recently failed jobs,
// or enqueue an ad-hoc job from the command line.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var (
	flagDSN        string
	flagConfigPath string
)

var rootCmd = &cobra.Command{
	Use:   "jobkeepctl",
	Short: "Operate a jobkeep background-job runner",
}

func init() {
	rootCmd.PersistentFlags().StringVar(&flagDSN, "dsn", "", "Postgres connection string (overrides JOBKEEP_DB_DSN)")
	rootCmd.PersistentFlags().StringVar(&flagConfigPath, "config", "", "optional jobkeep.toml config overlay")

	rootCmd.AddCommand(migrateCmd)
	rootCmd.AddCommand(runCmd)
	rootCmd.AddCommand(checkFailedCmd)
	rootCmd.AddCommand(enqueueCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
