package main

import (
	"encoding/json"
	"os"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
)

var (
	processTenant      string
	processRetryFailed bool
)

var processCmd = &cobra.Command{
	Use:   "process",
	Short: "Extract quotes from the tenant's unprocessed messages",
	RunE: func(cmd *cobra.Command, args []string) error {
		if processTenant == "" {
			return eris.New("--tenant is required")
		}

		env, err := initEnv(cmd.Context())
		if err != nil {
			return err
		}
		defer env.Close()

		run := env.Processor.ProcessPendingForTenant
		if processRetryFailed {
			run = env.Processor.RetryFailedForTenant
		}

		res, err := run(cmd.Context(), processTenant)
		if err != nil {
			return err
		}

		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(res)
	},
}

func init() {
	processCmd.Flags().StringVar(&processTenant, "tenant", "", "tenant to process (required)")
	processCmd.Flags().BoolVar(&processRetryFailed, "retry-failed", false, "reset failed messages to the backlog before processing")
	rootCmd.AddCommand(processCmd)
}
