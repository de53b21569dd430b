package node

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/coder/quartz"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
	"golang.org/x/sync/errgroup"

	"github.com/roach88/sensornet/internal/ir"
	"github.com/roach88/sensornet/internal/network"
	"github.com/roach88/sensornet/internal/operator"
	"github.com/roach88/sensornet/internal/scheduler"
	"github.com/roach88/sensornet/internal/sensor"
	"github.com/roach88/sensornet/internal/store"
	"github.com/roach88/sensornet/internal/testutil"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

var fastOptions = operator.Options{
	LevelDelay:   40 * time.Millisecond,
	PollInterval: 2 * time.Millisecond,
}

// cluster runs the tree 1 -> {2, 3}, 2 -> {4} on the real clock. The root
// does not sense, so collected tables hold rows of nodes 2, 3 and 4.
type cluster struct {
	t     *testing.T
	tree  *network.Tree
	nodes map[ir.Addr]*Node

	mu         sync.Mutex
	results    []Result
	exceptions []store.Exception

	cancel context.CancelFunc
	group  *errgroup.Group
}

func newCluster(t *testing.T, sensors map[ir.Addr]sensor.Sensor) *cluster {
	t.Helper()
	c := &cluster{t: t, tree: network.NewTree(1), nodes: make(map[ir.Addr]*Node)}
	require.NoError(t, c.tree.Join(2, 1))
	require.NoError(t, c.tree.Join(3, 1))
	require.NoError(t, c.tree.Join(4, 2))

	ctx, cancel := context.WithCancel(context.Background())
	c.cancel = cancel
	c.group, ctx = errgroup.WithContext(ctx)

	for _, addr := range c.tree.Addresses() {
		ep, err := c.tree.Endpoint(addr)
		require.NoError(t, err)
		src, ok := sensors[addr]
		if !ok {
			src = sensor.NewStatic(ir.NewNodeAddress(addr), ir.NewInt32(int32(addr)*10))
		}
		n, err := New(ctx, ep,
			WithClock(quartz.NewReal()),
			WithSensor(src),
			WithLogger(discardLogger()),
			WithOperatorOptions(fastOptions),
			WithRegisterer(prometheus.WrapRegistererWith(prometheus.Labels{"node": addr.String()}, prometheus.NewRegistry())),
			WithResultSink(c.onResult),
			WithExceptionSink(c.onException),
		)
		require.NoError(t, err)
		c.nodes[addr] = n
		c.group.Go(func() error { return n.Run(ctx) })
	}
	return c
}

func (c *cluster) stop() {
	c.cancel()
	assert.NoError(c.t, c.group.Wait())
}

func (c *cluster) onResult(r Result) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.results = append(c.results, r)
}

func (c *cluster) onException(e store.Exception) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.exceptions = append(c.exceptions, e)
}

func (c *cluster) snapshot() ([]Result, []store.Exception) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]Result(nil), c.results...), append([]store.Exception(nil), c.exceptions...)
}

func (c *cluster) start(spec QuerySpec) *QueryTask {
	c.t.Helper()
	if spec.Schema == nil {
		spec.Schema = ir.Schema{ir.KindNodeAddress, ir.KindInt32}
	}
	if spec.Start.IsZero() {
		spec.Start = time.Now().Add(50 * time.Millisecond)
	}
	q, err := c.nodes[1].StartQuery(context.Background(), spec)
	require.NoError(c.t, err)
	return q
}

func addresses(table *ir.Table) []ir.Addr {
	var out []ir.Addr
	for _, row := range table.Rows {
		if a, ok := row[0].(*ir.NodeAddress); ok {
			out = append(out, a.V)
		}
	}
	return out
}

func TestClusterCollectsEveryNode(t *testing.T) {
	defer goleak.VerifyNone(t)
	c := newCluster(t, nil)
	defer c.stop()

	q := c.start(QuerySpec{ID: 1, Plan: collectPlan, Period: 200 * time.Millisecond, Runs: 2})

	require.Eventually(t, func() bool {
		results, _ := c.snapshot()
		return len(results) == 2
	}, 5*time.Second, 10*time.Millisecond)

	results, _ := c.snapshot()
	for i, r := range results {
		assert.Equal(t, q.D.ID, r.Query)
		assert.Equal(t, int64(i), r.Epoch)
		assert.ElementsMatch(t, []ir.Addr{2, 3, 4}, addresses(r.Table))
	}

	// Finished queries leave no state behind.
	require.Eventually(t, func() bool {
		for _, n := range c.nodes {
			if n.Registry().Len() != 0 {
				return false
			}
		}
		return true
	}, 5*time.Second, 10*time.Millisecond)
}

func TestClusterKillStopsQueryEverywhere(t *testing.T) {
	defer goleak.VerifyNone(t)
	c := newCluster(t, nil)
	defer c.stop()

	c.start(QuerySpec{ID: 2, Plan: collectPlan, Period: 100 * time.Millisecond, Runs: -1})
	require.Eventually(t, func() bool {
		results, _ := c.snapshot()
		return len(results) >= 1
	}, 5*time.Second, 10*time.Millisecond)

	require.NoError(t, c.nodes[1].KillQuery(context.Background(), 2))
	require.Eventually(t, func() bool {
		for _, n := range c.nodes {
			if n.Scheduler().ContainsQuery(2) || n.Registry().Len() != 0 {
				return false
			}
		}
		return true
	}, 5*time.Second, 10*time.Millisecond)

	// Every node keeps the tombstone.
	for addr, n := range c.nodes {
		assert.True(t, n.killed(2), "node %d", addr)
	}
}

func TestClusterSurfacesExceptionsAtRoot(t *testing.T) {
	defer goleak.VerifyNone(t)
	failing := testutil.NewStaticSensor(ir.NewNodeAddress(4), ir.NewInt32(40))
	failing.FailWith(errors.New("sensor offline"))
	c := newCluster(t, map[ir.Addr]sensor.Sensor{4: failing})
	defer c.stop()

	q := c.start(QuerySpec{ID: 3, Plan: collectPlan, Period: 200 * time.Millisecond, Runs: 1})

	require.Eventually(t, func() bool {
		results, excs := c.snapshot()
		return len(results) == 1 && len(excs) == 1
	}, 5*time.Second, 10*time.Millisecond)

	results, excs := c.snapshot()
	assert.Equal(t, q.D.ID, excs[0].Query)
	assert.Equal(t, ir.Addr(4), excs[0].Reporter)
	assert.Equal(t, ir.ErrCodeTransport, excs[0].Code)
	assert.Contains(t, excs[0].Message, "sensor offline")

	// The failing node contributes nothing; its parent still reports.
	assert.ElementsMatch(t, []ir.Addr{2, 3}, addresses(results[0].Table))
}

func TestClusterRoutesProperties(t *testing.T) {
	defer goleak.VerifyNone(t)
	c := newCluster(t, nil)
	defer c.stop()

	ctx := context.Background()
	require.NoError(t, c.nodes[1].SendProperty(ctx, 4, "gain", ir.NewInt32(7)))
	require.NoError(t, c.nodes[3].SendProperty(ctx, 4, "label", ir.NewByte(2)))
	require.NoError(t, c.nodes[1].SendProperty(ctx, 1, "root", ir.NewBool(true)))

	require.Eventually(t, func() bool {
		_, gain := c.nodes[4].Property("gain")
		_, label := c.nodes[4].Property("label")
		_, root := c.nodes[1].Property("root")
		return gain && label && root
	}, 5*time.Second, 10*time.Millisecond)

	v, _ := c.nodes[4].Property("gain")
	assert.Equal(t, ir.NewInt32(7), v)
	_, ok := c.nodes[2].Property("gain")
	assert.False(t, ok)
}

func TestClusterSynchronizesClocks(t *testing.T) {
	defer goleak.VerifyNone(t)
	c := newCluster(t, nil)
	defer c.stop()

	c.nodes[4].Clock().SetOffset(time.Hour)
	c.nodes[3].Clock().SetOffset(-time.Hour)
	require.NoError(t, c.nodes[1].SyncTime(context.Background()))

	require.Eventually(t, func() bool {
		for _, addr := range []ir.Addr{3, 4} {
			if off := c.nodes[addr].Clock().Offset(); off > time.Second || off < -time.Second {
				return false
			}
		}
		return true
	}, 5*time.Second, 10*time.Millisecond)
	assert.Zero(t, c.nodes[1].Clock().Offset())
}

func TestStartSamplingRefreshesLatest(t *testing.T) {
	defer goleak.VerifyNone(t)
	script, err := sensor.NewScript(3, sensor.Column{Kind: ir.KindInt32, Base: 1, Step: 1})
	require.NoError(t, err)
	var (
		mu      sync.Mutex
		sampled []int64
	)
	src := sensor.Func(func(ctx context.Context, epoch int64) (ir.Row, error) {
		mu.Lock()
		sampled = append(sampled, epoch)
		mu.Unlock()
		return script.Sense(ctx, epoch)
	})
	c := newCluster(t, map[ir.Addr]sensor.Sensor{3: src})
	defer c.stop()

	task, err := c.nodes[3].StartSampling(context.Background(), 20*time.Millisecond, 3)
	require.NoError(t, err)

	// the cached sample is dropped once the last run tears the task down
	require.Eventually(t, func() bool {
		_, _, ok := c.nodes[3].Sampler().Latest()
		return task.Details().Status() == scheduler.StatusComplete && !ok
	}, 5*time.Second, 10*time.Millisecond)
	mu.Lock()
	require.NotEmpty(t, sampled)
	assert.Equal(t, int64(2), sampled[len(sampled)-1])
	mu.Unlock()

	row, err := c.nodes[3].Sampler().Sense(context.Background(), 6)
	require.NoError(t, err)
	assert.Equal(t, ir.Row{ir.NewInt32(7)}, row)

	_, err = c.nodes[3].StartSampling(context.Background(), 0, 1)
	assert.Error(t, err)
}
