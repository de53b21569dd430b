package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/roach88/sensornet/internal/grammar"
	"github.com/roach88/sensornet/internal/operator"
)

// PlanOptions holds flags for the plan command.
type PlanOptions struct {
	*RootOptions
	SenseWidth int
}

// PlanOutput is the JSON payload of the plan command.
type PlanOutput struct {
	Plan    string `json:"plan"`
	Width   *int   `json:"width,omitempty"`
	Outline string `json:"outline,omitempty"`
}

// NewPlanCommand creates the plan command.
func NewPlanCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &PlanOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "plan <text>",
		Short: "Parse, validate and print a query plan",
		Long: `Parse a plan written in the compact grammar, validate it and print its
canonical form. With --verbose the plan is also printed as an indented
outline, one operator per line.

Examples:
  sensornet plan 'R(M(S() C()))'
  sensornet plan 'R(M(P(S() 0) C()))' --sense-width 2
  sensornet plan 'R(M(S() C()))' --verbose --format json`,
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runPlan(opts, args[0], cmd)
		},
	}

	cmd.Flags().IntVar(&opts.SenseWidth, "sense-width", 0, "sensor row width to compute the plan's output width for")

	return cmd
}

func runPlan(opts *PlanOptions, text string, cmd *cobra.Command) error {
	f := newFormatter(opts.RootOptions, cmd)

	op, err := grammar.ParsePlan(text)
	if err == nil {
		err = operator.Validate(op)
	}
	if err != nil {
		if outErr := f.Error(ErrCodePlan, err.Error(), nil); outErr != nil {
			return outErr
		}
		return WrapExitError(ExitFailure, "invalid plan", err)
	}
	canonical, err := grammar.FormatPlan(op)
	if err != nil {
		return WrapExitError(ExitFailure, "format plan", err)
	}

	out := PlanOutput{Plan: canonical}
	if opts.SenseWidth > 0 {
		w := operator.Width(op, opts.SenseWidth)
		out.Width = &w
	}
	if opts.Verbose {
		out.Outline = grammar.Outline(op)
	}

	if f.JSON() {
		return f.Success(out)
	}
	fmt.Fprintln(f.Writer, out.Plan)
	if out.Width != nil {
		fmt.Fprintf(f.Writer, "width: %d\n", *out.Width)
	}
	if out.Outline != "" {
		fmt.Fprint(f.Writer, out.Outline)
	}
	return nil
}
