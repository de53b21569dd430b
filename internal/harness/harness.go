package harness

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"path/filepath"
	"time"

	"github.com/roach88/sensornet/internal/config"
	"github.com/roach88/sensornet/internal/sim"
	"github.com/roach88/sensornet/internal/store"
)

// DefaultTimeout bounds a scenario without its own timeout.
const DefaultTimeout = 30 * time.Second

// Harness runs scenarios.
type Harness struct {
	logger *slog.Logger
	dir    string
}

// Option configures a Harness.
type Option func(*Harness)

// WithLogger sets the logger handed to the simulated nodes. Defaults to a
// logger that discards everything.
func WithLogger(l *slog.Logger) Option {
	return func(h *Harness) { h.logger = l }
}

// WithStoreDir persists each scenario's node state in a SQLite file named
// after the scenario under dir. Without it every run uses an in-memory
// database.
func WithStoreDir(dir string) Option {
	return func(h *Harness) { h.dir = dir }
}

// New creates a harness.
func New(opts ...Option) *Harness {
	h := &Harness{logger: slog.New(slog.NewTextHandler(io.Discard, nil))}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// Run executes a scenario with a default harness.
func Run(ctx context.Context, scenario *Scenario) (*Result, error) {
	return New().Run(ctx, scenario)
}

// Run loads the scenario's deployment, runs it in a fresh simulation and
// evaluates the assertions against what the root saw. An error means the
// scenario could not run; failed assertions are reported in the Result.
func (h *Harness) Run(ctx context.Context, scenario *Scenario) (*Result, error) {
	d, err := config.Load(scenario.Deployment)
	if err != nil {
		return nil, err
	}

	timeout := DefaultTimeout
	if scenario.Timeout != "" {
		if timeout, err = time.ParseDuration(scenario.Timeout); err != nil {
			return nil, fmt.Errorf("scenario %s: timeout: %w", scenario.Name, err)
		}
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	path := ":memory:"
	if h.dir != "" {
		path = filepath.Join(h.dir, scenario.Name+".db")
	}
	st, err := store.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to create store: %w", err)
	}
	defer st.Close()

	s, err := sim.New(ctx, d, sim.WithLogger(h.logger), sim.WithStore(st))
	if err != nil {
		return nil, fmt.Errorf("scenario %s: %w", scenario.Name, err)
	}
	out, err := s.Execute(ctx, scenario.Epochs)
	if err != nil {
		return nil, fmt.Errorf("scenario %s: %w", scenario.Name, err)
	}

	result := NewResult()
	for _, r := range out.Results {
		result.AddEpoch(r)
	}
	for _, e := range out.Exceptions {
		result.AddException(e)
	}
	for _, msg := range EvaluateAssertions(result, scenario.Assertions) {
		result.AddError(msg)
	}
	return result, nil
}
