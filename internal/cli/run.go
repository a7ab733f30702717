package cli

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/roach88/stepflow/internal/canon"
	"github.com/roach88/stepflow/internal/engine"
)

// RunOptions holds flags for the run command.
type RunOptions struct {
	TraceID string
	Now     string
	Out     string
}

// NewRunCommand executes a problem spec file and writes the trace.
func NewRunCommand(opts *RootOptions) *cobra.Command {
	runOpts := &RunOptions{}

	cmd := &cobra.Command{
		Use:   "run <spec.json>",
		Short: "Execute a problem spec and emit its trace",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			raw, err := loadSpecFile(args[0])
			if err != nil {
				return err
			}

			eng := engine.New()
			result, err := eng.Execute(cmd.Context(), engine.Request{
				ProblemSpec: raw,
				TraceID:     runOpts.TraceID,
				Now:         runOpts.Now,
			})
			if err != nil {
				printValidationError(cmd, err)
				return err
			}

			if runOpts.Out != "" {
				if err := os.WriteFile(runOpts.Out, result.TraceBytes, 0o644); err != nil {
					return fmt.Errorf("failed to write trace: %w", err)
				}
			}

			if opts.Format == "json" {
				state, err := canon.Marshal(result.FinalState.CanonicalValue())
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "%s\n", state)
				return nil
			}

			fmt.Fprintf(cmd.OutOrStdout(), "trace_id: %s\n", result.TraceID)
			fmt.Fprintf(cmd.OutOrStdout(), "status:   %s\n", result.FinalState.Status)
			fmt.Fprintf(cmd.OutOrStdout(), "steps:    %d\n", result.FinalState.StepIndex)
			fmt.Fprintf(cmd.OutOrStdout(), "records:  %d\n", len(result.Records))
			if runOpts.Out != "" {
				fmt.Fprintf(cmd.OutOrStdout(), "trace written to %s\n", runOpts.Out)
			}
			return nil
		},
	}

	cmd.Flags().StringVar(&runOpts.TraceID, "trace-id", "", "trace identifier (defaults to the spec id)")
	cmd.Flags().StringVar(&runOpts.Now, "now", "", "deterministic clock seed (defaults to the spec created_at)")
	cmd.Flags().StringVarP(&runOpts.Out, "out", "o", "", "write the NDJSON trace to this file")

	return cmd
}
