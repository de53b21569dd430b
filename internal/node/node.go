package node

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/RoaringBitmap/roaring/v2"
	"github.com/coder/quartz"
	"github.com/prometheus/client_golang/prometheus"
	"golang.org/x/sync/errgroup"

	"github.com/roach88/sensornet/internal/ir"
	"github.com/roach88/sensornet/internal/netclock"
	"github.com/roach88/sensornet/internal/network"
	"github.com/roach88/sensornet/internal/operator"
	"github.com/roach88/sensornet/internal/scheduler"
	"github.com/roach88/sensornet/internal/sensor"
	"github.com/roach88/sensornet/internal/store"
)

// CodeUnknown marks an exception whose cause carries no error code.
const CodeUnknown ir.ErrorCode = "UNKNOWN"

// Result is one epoch's final table of a query, produced at the root.
type Result struct {
	Query ir.TaskID
	Epoch int64
	Table *ir.Table
}

// ResultSink receives the root's epoch results.
type ResultSink func(Result)

// ExceptionSink receives exceptions surfaced at the root.
type ExceptionSink func(store.Exception)

// Node is the runtime of one device in the tree: its scheduler, network
// endpoint, synchronized clock, sensor and the queries it runs.
//
// Thread-safety model:
//   - Run: must be called from exactly one goroutine
//   - every other exported method: safe from any goroutine
type Node struct {
	addr     ir.Addr
	net      network.Network
	sched    *scheduler.Scheduler
	clock    *netclock.Clock
	store    *store.Store
	sampler  *sensor.Sampler
	registry *Registry
	seq      *Sequence
	session  store.Session
	opts     operator.Options
	logger   *slog.Logger
	metrics  *metrics

	onResult    ResultSink
	onException ExceptionSink

	// evalMu serializes sensing-role query evaluations.
	evalMu sync.Mutex

	// acceptMu makes the duplicate check, initialization and submission of
	// a task one step.
	acceptMu sync.Mutex

	tombMu     sync.Mutex
	tombstones *roaring.Bitmap

	propMu sync.RWMutex
	props  map[string]ir.Value
}

type settings struct {
	local     quartz.Clock
	store     *store.Store
	sensor    sensor.Sensor
	opts      operator.Options
	logger    *slog.Logger
	reg       prometheus.Registerer
	block     int32
	notifiers []scheduler.SleepNotifier

	onResult    ResultSink
	onException ExceptionSink
}

// Option configures a Node.
type Option func(*settings)

// WithClock sets the local clock under the synchronized clock. Defaults to
// the real clock.
func WithClock(c quartz.Clock) Option {
	return func(s *settings) { s.local = c }
}

// WithStore persists sequence blocks, sessions, properties, started queries
// and exceptions. Without it the node keeps everything in memory.
func WithStore(st *store.Store) Option {
	return func(s *settings) { s.store = st }
}

// WithSensor sets the local sensor. Defaults to a sensor reading empty rows.
func WithSensor(src sensor.Sensor) Option {
	return func(s *settings) { s.sensor = src }
}

// WithOperatorOptions tunes Collect and Forward for every query.
func WithOperatorOptions(o operator.Options) Option {
	return func(s *settings) { s.opts = o }
}

// WithLogger sets the logger. Defaults to slog.Default().
func WithLogger(l *slog.Logger) Option {
	return func(s *settings) { s.logger = l }
}

// WithRegisterer exports node and scheduler metrics on r. Nodes sharing a
// registry need distinct const labels, see prometheus.WrapRegistererWith.
func WithRegisterer(r prometheus.Registerer) Option {
	return func(s *settings) { s.reg = r }
}

// WithSequenceBlock sets how many sequence numbers are reserved at a time.
func WithSequenceBlock(n int32) Option {
	return func(s *settings) { s.block = n }
}

// WithSleepNotifier is passed to the scheduler.
func WithSleepNotifier(sn scheduler.SleepNotifier) Option {
	return func(s *settings) { s.notifiers = append(s.notifiers, sn) }
}

// WithResultSink receives the root's epoch results.
func WithResultSink(f ResultSink) Option {
	return func(s *settings) { s.onResult = f }
}

// WithExceptionSink receives exceptions surfaced at the root.
func WithExceptionSink(f ExceptionSink) Option {
	return func(s *settings) { s.onException = f }
}

// New creates the node behind net. With a store it reserves the first
// sequence block, records a session and loads the node's properties.
func New(ctx context.Context, net network.Network, opts ...Option) (*Node, error) {
	cfg := settings{
		local:  quartz.NewReal(),
		sensor: sensor.NewStatic(),
		opts:   operator.DefaultOptions(),
		logger: slog.Default(),
		block:  DefaultSequenceBlock,
	}
	for _, opt := range opts {
		opt(&cfg)
	}

	n := &Node{
		addr:        net.Address(),
		net:         net,
		clock:       netclock.New(cfg.local),
		store:       cfg.store,
		sampler:     sensor.NewSampler(cfg.sensor),
		registry:    NewRegistry(),
		opts:        cfg.opts,
		metrics:     newMetrics(cfg.reg),
		onResult:    cfg.onResult,
		onException: cfg.onException,
		tombstones:  roaring.New(),
		props:       make(map[string]ir.Value),
	}
	n.logger = cfg.logger.With("node", n.addr)

	schedOpts := []scheduler.Option{
		scheduler.WithClock(n.clock),
		scheduler.WithLogger(n.logger),
		scheduler.WithRegisterer(cfg.reg),
		scheduler.WithErrorHandler(n.taskFailed),
	}
	for _, sn := range cfg.notifiers {
		schedOpts = append(schedOpts, scheduler.WithSleepNotifier(sn))
	}
	n.sched = scheduler.New(schedOpts...)

	seq, err := NewSequence(ctx, n.addr, n.store, cfg.block)
	if err != nil {
		return nil, fmt.Errorf("node %d: %w", n.addr, err)
	}
	n.seq = seq

	if n.store != nil {
		n.session, err = n.store.StartSession(ctx, n.addr, n.clock.Now(), seq.Peek())
		if err != nil {
			return nil, fmt.Errorf("node %d: %w", n.addr, err)
		}
		props, err := n.store.Properties(ctx, n.addr)
		if err != nil {
			return nil, fmt.Errorf("node %d: %w", n.addr, err)
		}
		n.props = props
	}
	return n, nil
}

// Address returns the node's address.
func (n *Node) Address() ir.Addr { return n.addr }

// Clock returns the node's synchronized clock.
func (n *Node) Clock() *netclock.Clock { return n.clock }

// Scheduler returns the node's scheduler.
func (n *Node) Scheduler() *scheduler.Scheduler { return n.sched }

// Registry returns the queries running on the node.
func (n *Node) Registry() *Registry { return n.registry }

// Sampler returns the node's sensor with its latest sample.
func (n *Node) Sampler() *sensor.Sampler { return n.sampler }

// Session returns the session recorded at start; zero without a store.
func (n *Node) Session() store.Session { return n.session }

// Run runs the scheduler loop and the receive loop until ctx is cancelled
// or one of them fails. Cancellation is not an error.
func (n *Node) Run(ctx context.Context) error {
	n.logger.Info("node starting", "role", n.net.Role(), "children", len(n.net.Children()))

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return n.sched.Run(gctx) })
	g.Go(func() error { return n.receive(gctx) })

	err := g.Wait()
	if err != nil && !errors.Is(err, context.Canceled) {
		return fmt.Errorf("node %d: %w", n.addr, err)
	}
	n.logger.Info("node stopped")
	return nil
}

func (n *Node) receive(ctx context.Context) error {
	inbox := n.net.Inbox()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case msg := <-inbox:
			n.handle(ctx, msg)
		}
	}
}

// handle decodes and accepts one message. Nothing a neighbour sends can
// fail the node: bad messages are logged and dropped.
func (n *Node) handle(ctx context.Context, msg network.Message) {
	t, err := n.Decode(msg.Data)
	if err != nil {
		if ir.IsNotFound(err) {
			n.logger.Debug("message dropped", "from", msg.From, "reason", err)
			return
		}
		n.metrics.decodeFailures.Inc()
		n.logger.Warn("undecodable message dropped", "from", msg.From, "bytes", len(msg.Data), "error", err)
		return
	}
	n.metrics.received.WithLabelValues(t.Kind().String()).Inc()
	if _, err := n.accept(ctx, t, false); err != nil {
		n.logger.Warn("task refused", "from", msg.From, "task", t.Details().ID, "kind", t.Kind(), "error", err)
	}
}

// accept runs the task's initialization hooks and submits it. It returns
// false without error for a task the scheduler already holds.
func (n *Node) accept(ctx context.Context, t Task, origin bool) (bool, error) {
	n.acceptMu.Lock()
	defer n.acceptMu.Unlock()

	if n.sched.Contains(t.Details().ID) {
		n.logger.Debug("duplicate task ignored", "task", t.Details().ID, "kind", t.Kind())
		return false, nil
	}
	if origin {
		if oi, ok := t.(originInitializer); ok {
			if err := oi.initOrigin(ctx); err != nil {
				return false, err
			}
		}
	}
	if ni, ok := t.(nodeInitializer); ok {
		if err := ni.initNode(ctx); err != nil {
			n.metrics.refused.WithLabelValues(t.Kind().String()).Inc()
			return false, err
		}
	}
	return n.sched.Submit(t), nil
}

func (n *Node) nextID(ctx context.Context, queryID int32) (ir.TaskID, error) {
	seq, err := n.seq.Next(ctx)
	if err != nil {
		return ir.TaskID{}, err
	}
	return ir.TaskID{QueryID: queryID, Origin: n.addr, Seq: seq}, nil
}

// StartQuery starts a query with this node as its origin. The query
// spreads to the subtree from here.
func (n *Node) StartQuery(ctx context.Context, spec QuerySpec) (*QueryTask, error) {
	id, err := n.nextID(ctx, spec.ID)
	if err != nil {
		return nil, err
	}
	q, err := newQuery(n, id, spec.Start, spec.Period, spec.Runs, spec.Schema, spec.Plan)
	if err != nil {
		return nil, err
	}
	if _, err := n.accept(ctx, q, true); err != nil {
		return nil, err
	}
	return q, nil
}

// KillQuery kills the query here and in the subtree.
func (n *Node) KillQuery(ctx context.Context, queryID int32) error {
	id, err := n.nextID(ctx, queryID)
	if err != nil {
		return err
	}
	_, err = n.accept(ctx, newKill(n, id), true)
	return err
}

// SyncTime sends this node's synchronized time down the subtree.
func (n *Node) SyncTime(ctx context.Context) error {
	id, err := n.nextID(ctx, ControlQuery)
	if err != nil {
		return err
	}
	_, err = n.accept(ctx, newTimeSync(n, id, n.clock.Now()), true)
	return err
}

// SendProperty sets a property on dest, routing it there when dest is
// another node.
func (n *Node) SendProperty(ctx context.Context, dest ir.Addr, key string, value ir.Value) error {
	id, err := n.nextID(ctx, ControlQuery)
	if err != nil {
		return err
	}
	var t Task = newSetProperty(n, id, key, value)
	if dest != n.addr {
		inner, err := Encode(t)
		if err != nil {
			return err
		}
		rid, err := n.nextID(ctx, ControlQuery)
		if err != nil {
			return err
		}
		t = newRoute(n, rid, dest, inner)
	}
	_, err = n.accept(ctx, t, true)
	return err
}

// StartSampling refreshes the node's latest sensor reading every period.
func (n *Node) StartSampling(ctx context.Context, period time.Duration, runs int32) (*SensorSampleTask, error) {
	if period <= 0 {
		return nil, fmt.Errorf("start sampling: non-positive period %v", period)
	}
	id, err := n.nextID(ctx, ControlQuery)
	if err != nil {
		return nil, err
	}
	t := newSensorSample(n, id, n.clock.Now(), period, runs)
	if _, err := n.accept(ctx, t, true); err != nil {
		return nil, err
	}
	return t, nil
}

// Property returns a property set on this node.
func (n *Node) Property(key string) (ir.Value, bool) {
	n.propMu.RLock()
	defer n.propMu.RUnlock()
	v, ok := n.props[key]
	if !ok {
		return nil, false
	}
	return ir.Clone(v), true
}

func (n *Node) setProperty(ctx context.Context, key string, value ir.Value) error {
	if n.store != nil {
		if err := n.store.SetProperty(ctx, n.addr, key, value); err != nil {
			return ir.TransportError("set property", err)
		}
	}
	n.propMu.Lock()
	n.props[key] = ir.Clone(value)
	n.propMu.Unlock()
	n.logger.Info("property set", "key", key, "value", value)
	return nil
}

// broadcast sends t to every child. Failures are logged.
func (n *Node) broadcast(ctx context.Context, t Task) {
	data, err := Encode(t)
	if err != nil {
		n.logger.Error("encode failed", "task", t.Details().ID, "kind", t.Kind(), "error", err)
		return
	}
	for _, child := range n.net.Children() {
		if err := n.net.SendToChild(ctx, child, data); err != nil {
			n.logger.Warn("send failed", "task", t.Details().ID, "kind", t.Kind(), "child", child, "error", err)
		}
	}
}

func (n *Node) tombstone(queryID int32) {
	n.tombMu.Lock()
	defer n.tombMu.Unlock()
	n.tombstones.Add(uint32(queryID))
}

func (n *Node) killed(queryID int32) bool {
	n.tombMu.Lock()
	defer n.tombMu.Unlock()
	return n.tombstones.Contains(uint32(queryID))
}

// raise reports an evaluation failure toward the root. Failures caused by
// shutdown are not reported.
func (n *Node) raise(ctx context.Context, query ir.TaskID, epoch int64, cause error) {
	if ctx.Err() != nil {
		return
	}
	exc := store.Exception{
		Query:    query,
		Epoch:    epoch,
		Reporter: n.addr,
		Code:     ir.CodeOf(cause),
		Message:  cause.Error(),
	}
	if exc.Code == "" {
		exc.Code = CodeUnknown
	}
	if _, ok := n.net.Parent(); !ok {
		n.surface(ctx, exc)
		return
	}

	id, err := n.nextID(ctx, query.QueryID)
	if err != nil {
		n.logger.Error("exception lost", "query", query, "epoch", epoch, "error", err)
		return
	}
	data, err := Encode(newException(n, id, exc))
	if err == nil {
		err = n.net.SendToParent(ctx, data)
	}
	if err != nil {
		n.logger.Error("exception lost", "query", query, "epoch", epoch, "error", err)
	}
}

// surface handles an exception that reached the root.
func (n *Node) surface(ctx context.Context, exc store.Exception) {
	n.metrics.exceptions.Inc()
	n.logger.Error("query exception",
		"query", exc.Query,
		"epoch", exc.Epoch,
		"reporter", exc.Reporter,
		"code", exc.Code,
		"message", exc.Message,
	)
	if n.store != nil {
		inserted, err := n.store.RecordException(ctx, exc)
		if err != nil {
			n.logger.Warn("exception not stored", "query", exc.Query, "error", err)
		} else if !inserted {
			return
		}
	}
	if n.onException != nil {
		n.onException(exc)
	}
}

func (n *Node) deliver(r Result) {
	n.metrics.delivered.Inc()
	n.logger.Debug("epoch result", "query", r.Query, "epoch", r.Epoch, "rows", r.Table.Len())
	if n.onResult != nil {
		n.onResult(r)
	}
}

// taskFailed is the scheduler's error handler.
func (n *Node) taskFailed(t scheduler.Task, err error) {
	d := t.Details()
	switch {
	case ir.IsNotFound(err):
		n.logger.Debug("task moot", "task", d.ID, "kind", d.Kind, "reason", err)
	case errors.Is(err, context.Canceled):
		n.logger.Debug("task cancelled", "task", d.ID, "kind", d.Kind)
	default:
		n.logger.Warn("task failed", "task", d.ID, "kind", d.Kind, "error", err)
	}
}
