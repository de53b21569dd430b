package cli

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/roach88/sensornet/internal/config"
	"github.com/roach88/sensornet/internal/harness"
	"github.com/roach88/sensornet/internal/sim"
	"github.com/roach88/sensornet/internal/store"
)

// RunOptions holds flags for the run command.
type RunOptions struct {
	*RootOptions
	Epochs  int
	Store   string
	Timeout time.Duration
}

// RunOutput is the JSON payload of the run command.
type RunOutput struct {
	Query      string                   `json:"query"`
	Results    []harness.EpochResult    `json:"results"`
	Exceptions []harness.ExceptionEvent `json:"exceptions"`
}

// NewRunCommand creates the run command.
func NewRunCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &RunOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "run <deployment.cue>",
		Short: "Run a deployment's query in a simulated tree",
		Long: `Build an in-memory tree from a deployment, start its query at the root
and print every epoch's result table as it is collected.

The command exits once the query's runs are done, or after --epochs
epochs. Queries that run forever need --epochs.

Exit codes:
  0 - Every epoch completed without exceptions
  1 - Exceptions reached the root
  2 - Command error (unreadable deployment, unusable store, etc.)

Examples:
  sensornet run ./tree.cue
  sensornet run ./tree.cue --epochs 5 --store ./node.db
  sensornet run ./tree.cue --format json`,
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runDeployment(opts, args[0], cmd)
		},
	}

	cmd.Flags().IntVar(&opts.Epochs, "epochs", 0, "epochs to collect (default: the query's runs)")
	cmd.Flags().StringVar(&opts.Store, "store", "", "SQLite database for node state (overrides the deployment)")
	cmd.Flags().DurationVar(&opts.Timeout, "timeout", 0, "stop after this long (0 waits for every epoch)")

	return cmd
}

func runDeployment(opts *RunOptions, path string, cmd *cobra.Command) error {
	f := newFormatter(opts.RootOptions, cmd)
	logger := newLogger(opts.RootOptions, cmd.ErrOrStderr())

	if opts.Epochs < 0 {
		return NewExitError(ExitCommandError, "--epochs must be non-negative")
	}
	if _, err := os.Stat(path); err != nil {
		return NewExitError(ExitCommandError, fmt.Sprintf("deployment not found: %s", path))
	}
	d, err := config.Load(path)
	if err != nil {
		return WrapExitError(ExitCommandError, "invalid deployment", err)
	}
	f.VerboseLog("loaded %s: %d nodes, plan %s", path, len(d.Nodes)+1, d.Query.Plan)

	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}
	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()
	if opts.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, opts.Timeout)
		defer cancel()
	}

	simOpts := []sim.Option{sim.WithLogger(logger)}
	storePath := d.Store
	if opts.Store != "" {
		storePath = opts.Store
	}
	if storePath != "" {
		st, err := store.Open(storePath)
		if err != nil {
			return WrapExitError(ExitCommandError, "failed to open store", err)
		}
		defer func() {
			if closeErr := st.Close(); closeErr != nil {
				logger.Error("error closing store", "error", closeErr)
			}
		}()
		simOpts = append(simOpts, sim.WithStore(st))
	}

	s, err := sim.New(ctx, d, simOpts...)
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to build tree", err)
	}
	out, err := s.Execute(ctx, opts.Epochs)
	switch {
	case errors.Is(err, sim.ErrUnbounded):
		return WrapExitError(ExitCommandError, "pass --epochs", err)
	case err != nil && out == nil:
		return WrapExitError(ExitFailure, "run failed", err)
	case err != nil && !errors.Is(err, context.Canceled) && !errors.Is(err, context.DeadlineExceeded):
		return WrapExitError(ExitFailure, "run failed", err)
	}

	rendered := harness.NewResult()
	for _, r := range out.Results {
		rendered.AddEpoch(r)
	}
	for _, e := range out.Exceptions {
		rendered.AddException(e)
	}

	var failure *CLIError
	if n := len(rendered.Exceptions); n > 0 {
		failure = &CLIError{Code: ErrCodeException, Message: fmt.Sprintf("%d exception(s) reached the root", n)}
	}
	if f.JSON() {
		if err := f.Report(RunOutput{
			Query:      out.Query.String(),
			Results:    rendered.Results,
			Exceptions: rendered.Exceptions,
		}, failure); err != nil {
			return err
		}
	} else {
		writeRunText(f, out.Query.String(), rendered)
	}
	if failure != nil {
		return NewExitError(ExitFailure, failure.Message)
	}
	return nil
}

func writeRunText(f *OutputFormatter, query string, r *harness.Result) {
	w := f.Writer
	fmt.Fprintf(w, "query %s\n", query)
	for _, e := range r.Results {
		fmt.Fprintf(w, "epoch %d: %d row(s)\n", e.Epoch, len(e.Rows))
		for _, row := range e.Rows {
			fmt.Fprintf(w, "  %s\n", strings.Join(row, "\t"))
		}
	}
	for _, e := range r.Exceptions {
		fmt.Fprintf(w, "exception epoch %d node %d [%s]: %s\n", e.Epoch, e.Reporter, e.Code, e.Message)
	}
}
