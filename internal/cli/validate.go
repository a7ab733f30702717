package cli

import (
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/roach88/stepflow/internal/fault"
	"github.com/roach88/stepflow/internal/loop"
	"github.com/roach88/stepflow/internal/schema"
)

// NewValidateCommand validates a problem spec file without executing it.
func NewValidateCommand(opts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "validate <spec.json>",
		Short: "Validate a problem spec file",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			raw, err := loadSpecFile(args[0])
			if err != nil {
				return err
			}
			spec, err := schema.ParseProblemSpec(raw)
			if err != nil {
				printValidationError(cmd, err)
				return err
			}
			if _, err := loop.Parse(spec.RawSettings()); err != nil {
				printValidationError(cmd, err)
				return err
			}

			if opts.Format == "json" {
				fmt.Fprintf(cmd.OutOrStdout(), "{\"valid\":true,\"id\":%q}\n", spec.ID)
			} else {
				fmt.Fprintf(cmd.OutOrStdout(), "valid: %s (version %s)\n", spec.ID, spec.Version)
			}
			return nil
		},
	}
}

func printValidationError(cmd *cobra.Command, err error) {
	var fe *fault.Error
	if errors.As(err, &fe) && len(fe.Violations) > 0 {
		for _, v := range fe.Violations {
			fmt.Fprintf(cmd.ErrOrStderr(), "  - %s\n", v)
		}
	}
}
