package cli

import (
	"errors"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/roach88/sensornet/internal/config"
)

// ValidationResult is the JSON payload of the validate command.
type ValidationResult struct {
	Valid  bool              `json:"valid"`
	Nodes  int               `json:"nodes,omitempty"`
	Plan   string            `json:"plan,omitempty"`
	Errors []ValidationError `json:"errors,omitempty"`
}

// ValidationError locates a deployment problem.
type ValidationError struct {
	Field   string `json:"field"`
	Message string `json:"message"`
	Line    int    `json:"line,omitempty"`
	Column  int    `json:"column,omitempty"`
}

// NewValidateCommand creates the validate command.
func NewValidateCommand(rootOpts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "validate <deployment.cue>",
		Short: "Validate a deployment without running it",
		Long: `Load a CUE deployment, check it against the deployment schema and
check the tree, the query plan and the timing without starting any node.`,
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runValidate(rootOpts, args[0], cmd)
		},
	}
	return cmd
}

func runValidate(opts *RootOptions, path string, cmd *cobra.Command) error {
	f := newFormatter(opts, cmd)

	if _, err := os.Stat(path); err != nil {
		if outErr := f.Error(ErrCodeNotFound, fmt.Sprintf("deployment not found: %s", path), nil); outErr != nil {
			return outErr
		}
		return NewExitError(ExitCommandError, fmt.Sprintf("deployment not found: %s", path))
	}

	f.VerboseLog("Validating %s", path)
	d, err := config.Load(path)
	if err != nil {
		verr := toValidationError(err)
		if f.JSON() {
			if outErr := f.Report(ValidationResult{Errors: []ValidationError{verr}},
				&CLIError{Code: ErrCodeDeployment, Message: "validation failed"}); outErr != nil {
				return outErr
			}
		} else {
			fmt.Fprintln(f.Writer, "Validation failed:")
			if verr.Line > 0 {
				fmt.Fprintf(f.Writer, "  line %d: %s: %s\n", verr.Line, verr.Field, verr.Message)
			} else {
				fmt.Fprintf(f.Writer, "  %s: %s\n", verr.Field, verr.Message)
			}
		}
		return WrapExitError(ExitFailure, "validation failed", err)
	}

	result := ValidationResult{Valid: true, Nodes: len(d.Nodes) + 1, Plan: d.Query.Plan}
	if f.JSON() {
		return f.Success(result)
	}
	fmt.Fprintf(f.Writer, "✓ %s is valid: %d nodes, plan %s\n", path, result.Nodes, result.Plan)
	return nil
}

func toValidationError(err error) ValidationError {
	var cfgErr *config.Error
	if !errors.As(err, &cfgErr) {
		return ValidationError{Field: "deployment", Message: err.Error()}
	}
	verr := ValidationError{Field: cfgErr.Field, Message: cfgErr.Message}
	if cfgErr.Pos.IsValid() {
		verr.Line = cfgErr.Pos.Line()
		verr.Column = cfgErr.Pos.Column()
	}
	return verr
}
