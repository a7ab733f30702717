package cli

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/roach88/stepflow/internal/trace"
)

// NewTraceCommand verifies a trace file's hash chain and prints its
// aggregate metrics.
func NewTraceCommand(opts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "trace <trace.ndjson>",
		Short: "Verify a trace file and print its metrics",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			data, err := os.ReadFile(args[0])
			if err != nil {
				return fmt.Errorf("failed to read trace file: %w", err)
			}
			records, err := trace.VerifyBytes(data)
			if err != nil {
				return err
			}
			metrics := trace.Aggregate(records)

			if opts.Format == "json" {
				out, err := json.Marshal(metrics)
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "%s\n", out)
				return nil
			}

			fmt.Fprintf(cmd.OutOrStdout(), "records:  %d (chain verified)\n", len(records))
			fmt.Fprintf(cmd.OutOrStdout(), "steps:    %d\n", metrics.StepsTotal)
			fmt.Fprintf(cmd.OutOrStdout(), "controls: %d\n", metrics.ControlsTotal)
			for status, count := range metrics.StepStatusCounts {
				fmt.Fprintf(cmd.OutOrStdout(), "  %s: %d\n", status, count)
			}
			return nil
		},
	}
}
