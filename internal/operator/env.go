package operator

import (
	"context"
	"log/slog"
	"time"

	"github.com/coder/quartz"
	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/roach88/sensornet/internal/ir"
)

// Sensor reads the local node's row of sensed values for an epoch.
type Sensor interface {
	Sense(ctx context.Context, epoch int64) (ir.Row, error)
}

// Transmitter moves a query's partial results between tree levels.
type Transmitter interface {
	// Transmit sends the epoch's table to the parent.
	Transmit(ctx context.Context, epoch int64, table *ir.Table) error

	// Rerequest redelivers the query to a child that has not reported.
	Rerequest(ctx context.Context, child ir.Addr) error
}

// Options tunes Collect and Forward.
type Options struct {
	// Isolated disables every transmission: Forward keeps its table local
	// and Collect never re-requests from silent children.
	Isolated bool

	// LevelDelay is the time Collect allows per level of subtree height.
	LevelDelay time.Duration

	// PollInterval is how often Collect checks for arrivals.
	PollInterval time.Duration
}

// DefaultOptions returns the options used when none are given.
func DefaultOptions() Options {
	return Options{
		LevelDelay:   500 * time.Millisecond,
		PollInterval: 50 * time.Millisecond,
	}
}

const senseCacheSize = 8

// Env is the per-query evaluation context shared by every operator of one
// plan on one node.
type Env struct {
	Role        ir.Role
	Query       ir.TaskID
	Sensor      Sensor
	Results     *ResultStore
	Children    []ir.Addr
	Height      int
	Clock       quartz.Clock
	Transmitter Transmitter
	Options     Options
	Logger      *slog.Logger

	senseCache *lru.Cache[int64, ir.Row]
}

// EnvOption configures an Env.
type EnvOption func(*Env)

// WithSensor sets the local sensor.
func WithSensor(s Sensor) EnvOption {
	return func(e *Env) { e.Sensor = s }
}

// WithChildren sets the children expected to report and the height of the
// subtree below this node.
func WithChildren(height int, children ...ir.Addr) EnvOption {
	return func(e *Env) {
		e.Height = height
		e.Children = children
	}
}

// WithClock sets the time source. Defaults to the real clock.
func WithClock(c quartz.Clock) EnvOption {
	return func(e *Env) { e.Clock = c }
}

// WithTransmitter sets the transmitter used by Forward and Collect.
func WithTransmitter(t Transmitter) EnvOption {
	return func(e *Env) { e.Transmitter = t }
}

// WithOptions replaces the default options.
func WithOptions(o Options) EnvOption {
	return func(e *Env) { e.Options = o }
}

// WithResults shares an existing result store.
func WithResults(r *ResultStore) EnvOption {
	return func(e *Env) { e.Results = r }
}

// WithLogger sets the logger. Defaults to slog.Default().
func WithLogger(l *slog.Logger) EnvOption {
	return func(e *Env) { e.Logger = l }
}

// NewEnv creates the evaluation context of query on a node playing role.
func NewEnv(query ir.TaskID, role ir.Role, opts ...EnvOption) *Env {
	e := &Env{
		Role:    role,
		Query:   query,
		Clock:   quartz.NewReal(),
		Options: DefaultOptions(),
		Logger:  slog.Default(),
	}
	for _, opt := range opts {
		opt(e)
	}
	if e.Results == nil {
		e.Results = NewResultStore()
	}
	// Only fails for a non-positive size.
	e.senseCache, _ = lru.New[int64, ir.Row](senseCacheSize)
	return e
}

// isolated reports whether transmissions are disabled.
func (e *Env) isolated() bool {
	return e.Options.Isolated || e.Transmitter == nil
}
