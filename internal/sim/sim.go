// Package sim runs a whole deployment in one process: an in-memory tree
// transport with one node per address, all driven by the same local clock.
package sim

import (
	"cmp"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"sync"

	"github.com/coder/quartz"
	"github.com/prometheus/client_golang/prometheus"
	"golang.org/x/sync/errgroup"

	"github.com/roach88/sensornet/internal/config"
	"github.com/roach88/sensornet/internal/ir"
	"github.com/roach88/sensornet/internal/network"
	"github.com/roach88/sensornet/internal/node"
	"github.com/roach88/sensornet/internal/sensor"
	"github.com/roach88/sensornet/internal/store"
)

// Sim is a running deployment.
type Sim struct {
	deployment *config.Deployment
	tree       *network.Tree
	nodes      map[ir.Addr]*node.Node
	logger     *slog.Logger

	mu         sync.Mutex
	results    []node.Result
	exceptions []store.Exception
	wake       chan struct{} // size 1; coalesces sink notifications
}

type settings struct {
	clock  quartz.Clock
	logger *slog.Logger
	reg    prometheus.Registerer
	store  *store.Store
}

// Option configures a Sim.
type Option func(*settings)

// WithClock sets the local clock shared by every node. Defaults to the real
// clock.
func WithClock(c quartz.Clock) Option {
	return func(s *settings) { s.clock = c }
}

// WithLogger sets the logger. Defaults to slog.Default().
func WithLogger(l *slog.Logger) Option {
	return func(s *settings) { s.logger = l }
}

// WithRegisterer exports transport and per-node metrics on r. Node metrics
// carry a "node" label.
func WithRegisterer(r prometheus.Registerer) Option {
	return func(s *settings) { s.reg = r }
}

// WithStore persists every node's state in st.
func WithStore(st *store.Store) Option {
	return func(s *settings) { s.store = st }
}

// New builds the tree and its nodes. Nothing runs until Run or Execute.
func New(ctx context.Context, d *config.Deployment, opts ...Option) (*Sim, error) {
	cfg := settings{clock: quartz.NewReal(), logger: slog.Default()}
	for _, opt := range opts {
		opt(&cfg)
	}

	treeOpts := []network.TreeOption{network.WithInboxSize(d.Network.InboxSize)}
	if cfg.reg != nil {
		treeOpts = append(treeOpts, network.WithRegisterer(cfg.reg))
	}
	if len(d.Network.Drop) > 0 {
		treeOpts = append(treeOpts, network.WithDropFunc(dropLinks(d.Network.Drop)))
	}
	tree := network.NewTree(d.Root, treeOpts...)
	for _, n := range orderByDepth(d) {
		if err := tree.Join(n.Addr, n.Parent); err != nil {
			return nil, err
		}
	}

	s := &Sim{
		deployment: d,
		tree:       tree,
		nodes:      make(map[ir.Addr]*node.Node, len(d.Nodes)+1),
		logger:     cfg.logger,
		wake:       make(chan struct{}, 1),
	}
	for _, addr := range d.Addresses() {
		ep, err := tree.Endpoint(addr)
		if err != nil {
			return nil, err
		}
		src, err := sensor.NewScript(addr, d.Columns(addr)...)
		if err != nil {
			return nil, fmt.Errorf("node %d: %w", addr, err)
		}
		nodeOpts := []node.Option{
			node.WithClock(cfg.clock),
			node.WithSensor(src),
			node.WithLogger(cfg.logger),
			node.WithOperatorOptions(d.Timing),
		}
		if cfg.reg != nil {
			nodeOpts = append(nodeOpts, node.WithRegisterer(
				prometheus.WrapRegistererWith(prometheus.Labels{"node": addr.String()}, cfg.reg)))
		}
		if cfg.store != nil {
			nodeOpts = append(nodeOpts, node.WithStore(cfg.store))
		}
		if addr == d.Root {
			nodeOpts = append(nodeOpts,
				node.WithResultSink(s.onResult),
				node.WithExceptionSink(s.onException))
		}
		n, err := node.New(ctx, ep, nodeOpts...)
		if err != nil {
			return nil, err
		}
		s.nodes[addr] = n
	}
	return s, nil
}

// orderByDepth returns the deployment's nodes with every parent before its
// children, so they can be joined in order.
func orderByDepth(d *config.Deployment) []config.Node {
	depth := map[ir.Addr]int{d.Root: 0}
	parent := make(map[ir.Addr]ir.Addr, len(d.Nodes))
	for _, n := range d.Nodes {
		parent[n.Addr] = n.Parent
	}
	var depthOf func(ir.Addr) int
	depthOf = func(a ir.Addr) int {
		if v, ok := depth[a]; ok {
			return v
		}
		v := depthOf(parent[a]) + 1
		depth[a] = v
		return v
	}
	out := slices.Clone(d.Nodes)
	slices.SortStableFunc(out, func(a, b config.Node) int {
		return depthOf(a.Addr) - depthOf(b.Addr)
	})
	return out
}

func dropLinks(links []config.Link) network.DropFunc {
	lost := make(map[config.Link]bool, len(links))
	for _, l := range links {
		lost[l] = true
	}
	return func(from, to ir.Addr, _ []byte) bool {
		return lost[config.Link{From: from, To: to}]
	}
}

// Root returns the root node.
func (s *Sim) Root() *node.Node { return s.nodes[s.deployment.Root] }

// Node returns the node at addr.
func (s *Sim) Node(addr ir.Addr) (*node.Node, bool) {
	n, ok := s.nodes[addr]
	return n, ok
}

// Tree returns the transport.
func (s *Sim) Tree() *network.Tree { return s.tree }

// Run runs every node until ctx is cancelled or a node fails.
func (s *Sim) Run(ctx context.Context) error {
	g, gctx := errgroup.WithContext(ctx)
	for _, addr := range s.deployment.Addresses() {
		n := s.nodes[addr]
		g.Go(func() error { return n.Run(gctx) })
	}
	return g.Wait()
}

// StartQuery applies the deployment's properties and starts its query at
// the root, StartDelay from now on the root's clock.
func (s *Sim) StartQuery(ctx context.Context) (*node.QueryTask, error) {
	root := s.Root()
	for _, addr := range s.deployment.Addresses() {
		props := s.deployment.Properties[addr]
		keys := make([]string, 0, len(props))
		for k := range props {
			keys = append(keys, k)
		}
		slices.Sort(keys)
		for _, k := range keys {
			if err := root.SendProperty(ctx, addr, k, props[k]); err != nil {
				return nil, fmt.Errorf("property %s on node %d: %w", k, addr, err)
			}
		}
	}

	q := s.deployment.Query
	return root.StartQuery(ctx, node.QuerySpec{
		ID:     q.ID,
		Plan:   q.Plan,
		Schema: q.Schema,
		Start:  root.Clock().Now().Add(q.StartDelay),
		Period: q.Period,
		Runs:   q.Runs,
	})
}

// Outcome is what the root saw while a query ran.
type Outcome struct {
	Query      ir.TaskID
	Results    []node.Result
	Exceptions []store.Exception
}

// ErrUnbounded is returned by Execute for a query that runs forever when no
// epoch limit is given.
var ErrUnbounded = errors.New("query runs forever and no epoch limit was given")

// Execute runs the deployment, starts its query and returns once the root
// has finished epochs epochs (the query's run count when epochs is 0),
// counting an epoch as finished when its result or a root exception for it
// arrives. The nodes are stopped before Execute returns.
func (s *Sim) Execute(ctx context.Context, epochs int) (*Outcome, error) {
	if epochs <= 0 {
		if s.deployment.Query.Runs < 0 {
			return nil, ErrUnbounded
		}
		epochs = int(s.deployment.Query.Runs)
	}

	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	done := make(chan error, 1)
	go func() { done <- s.Run(runCtx) }()

	q, err := s.StartQuery(runCtx)
	if err != nil {
		cancel()
		<-done
		return nil, err
	}
	s.logger.Info("query running", "query", q.Details().ID, "epochs", epochs)

	var runErr error
wait:
	for s.finished(q.Details().ID) < epochs {
		select {
		case <-ctx.Done():
			runErr = ctx.Err()
			break wait
		case err := <-done:
			// Nodes only stop early on failure.
			cancel()
			return nil, err
		case <-s.wake:
		}
	}

	cancel()
	if err := <-done; err != nil && runErr == nil {
		runErr = err
	}
	return s.outcome(q.Details().ID), runErr
}

func (s *Sim) onResult(r node.Result) {
	s.mu.Lock()
	s.results = append(s.results, r)
	s.mu.Unlock()
	s.signal()
}

func (s *Sim) onException(e store.Exception) {
	s.mu.Lock()
	s.exceptions = append(s.exceptions, e)
	s.mu.Unlock()
	s.signal()
}

func (s *Sim) signal() {
	select {
	case s.wake <- struct{}{}:
	default:
	}
}

// finished counts the epochs of query the root is done with.
func (s *Sim) finished(query ir.TaskID) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	epochs := map[int64]struct{}{}
	for _, r := range s.results {
		if r.Query == query {
			epochs[r.Epoch] = struct{}{}
		}
	}
	for _, e := range s.exceptions {
		if e.Query == query && e.Reporter == s.deployment.Root {
			epochs[e.Epoch] = struct{}{}
		}
	}
	return len(epochs)
}

func (s *Sim) outcome(query ir.TaskID) *Outcome {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := &Outcome{Query: query}
	for _, r := range s.results {
		if r.Query == query {
			out.Results = append(out.Results, r)
		}
	}
	for _, e := range s.exceptions {
		if e.Query == query {
			out.Exceptions = append(out.Exceptions, e)
		}
	}
	slices.SortStableFunc(out.Results, func(a, b node.Result) int { return cmp.Compare(a.Epoch, b.Epoch) })
	return out
}
