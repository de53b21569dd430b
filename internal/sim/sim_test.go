package sim

import (
	"context"
	"io"
	"log/slog"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	promtest "github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"github.com/roach88/sensornet/internal/config"
	"github.com/roach88/sensornet/internal/ir"
	"github.com/roach88/sensornet/internal/store"
)

const treeDeployment = `
root: 1
nodes: [
	{addr: 4, parent: 2},
	{addr: 2, parent: 1},
	{addr: 3, parent: 1},
]
sensor: [{kind: "n"}, {kind: "i", base: 10, step: 1}]
query: {
	id:          5
	plan:        "R(M(S() C()))"
	schema:      "ni"
	period:      "150ms"
	runs:        2
	start_delay: "30ms"
}
timing: {level_delay: "30ms", poll_interval: "2ms"}
`

func quiet() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func parse(t *testing.T, src string) *config.Deployment {
	t.Helper()
	d, err := config.Parse("test.cue", []byte(src))
	require.NoError(t, err)
	return d
}

func senders(r []ir.Row) map[ir.Addr]int64 {
	out := map[ir.Addr]int64{}
	for _, row := range r {
		a := row[0].(*ir.NodeAddress)
		n, _ := ir.ToInt64(row[1])
		out[a.V] = n
	}
	return out
}

func TestExecuteCollectsEveryEpoch(t *testing.T) {
	defer goleak.VerifyNone(t)
	reg := prometheus.NewRegistry()
	s, err := New(context.Background(), parse(t, treeDeployment), WithLogger(quiet()), WithRegisterer(reg))
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	out, err := s.Execute(ctx, 0)
	require.NoError(t, err)

	require.Len(t, out.Results, 2)
	assert.Empty(t, out.Exceptions)
	for i, r := range out.Results {
		assert.Equal(t, int64(i), r.Epoch)
		// Script sensors read base + step*epoch.
		assert.Equal(t, map[ir.Addr]int64{2: 10 + int64(i), 3: 10 + int64(i), 4: 10 + int64(i)}, senders(r.Table.Rows))
	}

	// Every node exports its own series.
	count, err := promtest.GatherAndCount(reg, "sensornet_node_tasks_received_total")
	require.NoError(t, err)
	assert.GreaterOrEqual(t, count, 3)
	count, err = promtest.GatherAndCount(reg, "sensornet_network_messages_delivered_total")
	require.NoError(t, err)
	assert.Equal(t, 1, count)
}

// Each level forwards a running count. Sensed rows are wider than the count
// column and must still count once each.
func TestExecuteCountsAcrossLevels(t *testing.T) {
	defer goleak.VerifyNone(t)
	src := strings.NewReplacer(`"R(M(S() C()))"`, `"R(A(M(S() C()) 1 0 4 0))"`, `"ni"`, `"ii"`).Replace(treeDeployment)
	s, err := New(context.Background(), parse(t, src), WithLogger(quiet()))
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	out, err := s.Execute(ctx, 0)
	require.NoError(t, err)

	require.Len(t, out.Results, 2)
	assert.Empty(t, out.Exceptions)
	for _, r := range out.Results {
		assert.Equal(t, []ir.Row{{ir.NewInt32(3)}}, r.Table.Rows, "epoch %d", r.Epoch)
	}
}

func TestExecuteLosesDroppedLink(t *testing.T) {
	defer goleak.VerifyNone(t)
	d := parse(t, treeDeployment+"\nnetwork: drop: [{from: 3, to: 1}]\n")
	s, err := New(context.Background(), d, WithLogger(quiet()))
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	out, err := s.Execute(ctx, 1)
	require.NoError(t, err)

	require.Len(t, out.Results, 1)
	got := senders(out.Results[0].Table.Rows)
	assert.Contains(t, got, ir.Addr(2))
	assert.Contains(t, got, ir.Addr(4))
	assert.NotContains(t, got, ir.Addr(3))
}

func TestExecutePersistsToStore(t *testing.T) {
	defer goleak.VerifyNone(t)
	st, err := store.Open(filepath.Join(t.TempDir(), "sim.db"))
	require.NoError(t, err)
	defer st.Close()

	d := parse(t, treeDeployment+"\nproperties: \"4\": gain: \"i(3)\"\n")
	s, err := New(context.Background(), d, WithLogger(quiet()), WithStore(st))
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	out, err := s.Execute(ctx, 0)
	require.NoError(t, err)
	assert.Len(t, out.Results, 2)

	queries, err := st.Queries(context.Background(), 1)
	require.NoError(t, err)
	require.Len(t, queries, 1)
	assert.Equal(t, out.Query, queries[0].ID)
	assert.Equal(t, "R(M(S() C()))", queries[0].Plan)

	props, err := st.Properties(context.Background(), 4)
	require.NoError(t, err)
	assert.Equal(t, map[string]ir.Value{"gain": ir.NewInt32(3)}, props)

	for _, addr := range []ir.Addr{1, 2, 3, 4} {
		sessions, err := st.Sessions(context.Background(), addr)
		require.NoError(t, err)
		assert.Len(t, sessions, 1, "node %d", addr)
	}
}

func TestExecuteRejectsUnboundedQuery(t *testing.T) {
	d := parse(t, treeDeployment)
	d.Query.Runs = -1
	s, err := New(context.Background(), d, WithLogger(quiet()))
	require.NoError(t, err)
	_, err = s.Execute(context.Background(), 0)
	assert.ErrorIs(t, err, ErrUnbounded)
}

func TestOrderByDepth(t *testing.T) {
	d := parse(t, treeDeployment)
	var got []ir.Addr
	for _, n := range orderByDepth(d) {
		got = append(got, n.Addr)
	}
	assert.Equal(t, []ir.Addr{2, 3, 4}, got)
}
