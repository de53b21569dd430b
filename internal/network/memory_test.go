package network

import (
	"context"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	promtest "github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/sensornet/internal/ir"
)

//	    1
//	   / \
//	  2   3
//	 / \
//	4   5
func buildTree(t *testing.T, opts ...TreeOption) *Tree {
	t.Helper()
	tree := NewTree(1, opts...)
	require.NoError(t, tree.Join(3, 1))
	require.NoError(t, tree.Join(2, 1))
	require.NoError(t, tree.Join(5, 2))
	require.NoError(t, tree.Join(4, 2))
	return tree
}

func endpoint(t *testing.T, tree *Tree, addr ir.Addr) *Endpoint {
	t.Helper()
	ep, err := tree.Endpoint(addr)
	require.NoError(t, err)
	return ep
}

func TestTreeShape(t *testing.T) {
	tree := buildTree(t)
	root := endpoint(t, tree, 1)
	mid := endpoint(t, tree, 2)
	leaf := endpoint(t, tree, 4)

	assert.Equal(t, ir.RoleBase, root.Role())
	assert.Equal(t, ir.RoleSensing, mid.Role())

	_, ok := root.Parent()
	assert.False(t, ok)
	p, ok := leaf.Parent()
	require.True(t, ok)
	assert.Equal(t, ir.Addr(2), p)

	assert.Equal(t, []ir.Addr{2, 3}, root.Children())
	assert.Equal(t, []ir.Addr{2, 3, 4, 5}, root.Descendants())
	assert.Equal(t, []ir.Addr{4, 5}, mid.Descendants())
	assert.Empty(t, leaf.Children())

	assert.Equal(t, 2, root.Height())
	assert.Equal(t, 1, mid.Height())
	assert.Equal(t, 0, leaf.Height())

	assert.True(t, root.IsDescendant(5))
	assert.False(t, mid.IsDescendant(3))
	assert.False(t, mid.IsDescendant(2))

	assert.Equal(t, []ir.Addr{1, 2, 3, 4, 5}, tree.Addresses())
}

func TestJoinErrors(t *testing.T) {
	tree := buildTree(t)
	assert.Error(t, tree.Join(4, 1), "duplicate address")
	assert.Error(t, tree.Join(9, 8), "unknown parent")
	_, err := tree.Endpoint(42)
	assert.Error(t, err)
}

func TestSendAlongTree(t *testing.T) {
	ctx := context.Background()
	tree := buildTree(t)
	root := endpoint(t, tree, 1)
	mid := endpoint(t, tree, 2)
	leaf := endpoint(t, tree, 5)

	require.NoError(t, leaf.SendToParent(ctx, []byte("up")))
	msg := <-mid.Inbox()
	assert.Equal(t, Message{From: 5, Data: []byte("up")}, msg)

	require.NoError(t, mid.SendToChild(ctx, 5, []byte("down")))
	assert.Equal(t, []byte("down"), (<-leaf.Inbox()).Data)

	// Descendant sends take one hop toward the destination.
	require.NoError(t, root.SendToDescendant(ctx, 4, []byte("route")))
	msg = <-mid.Inbox()
	assert.Equal(t, ir.Addr(1), msg.From)
	assert.Equal(t, []byte("route"), msg.Data)
}

func TestSendErrors(t *testing.T) {
	ctx := context.Background()
	tree := buildTree(t)
	root := endpoint(t, tree, 1)
	mid := endpoint(t, tree, 2)

	assert.True(t, ir.IsTransport(root.SendToParent(ctx, nil)))
	assert.True(t, ir.IsTransport(root.SendToChild(ctx, 4, nil)))
	assert.True(t, ir.IsTransport(mid.SendToDescendant(ctx, 3, nil)))

	cancelled, cancel := context.WithCancel(ctx)
	cancel()
	assert.True(t, ir.IsTransport(mid.SendToParent(cancelled, nil)))
}

func TestSendCopiesPayload(t *testing.T) {
	tree := buildTree(t)
	data := []byte{1, 2, 3}
	require.NoError(t, endpoint(t, tree, 3).SendToParent(context.Background(), data))
	data[0] = 9
	assert.Equal(t, []byte{1, 2, 3}, (<-endpoint(t, tree, 1).Inbox()).Data)
}

func TestDropAndOverflow(t *testing.T) {
	ctx := context.Background()
	reg := prometheus.NewRegistry()
	tree := buildTree(t, WithInboxSize(1), WithRegisterer(reg))
	leaf := endpoint(t, tree, 4)
	mid := endpoint(t, tree, 2)

	tree.SetDropFunc(func(from, to ir.Addr, _ []byte) bool { return from == 4 })
	require.NoError(t, leaf.SendToParent(ctx, []byte("lost")))
	assert.Empty(t, mid.Inbox())
	assert.Equal(t, 1.0, promtest.ToFloat64(tree.dropped.WithLabelValues("filter")))

	tree.SetDropFunc(nil)
	require.NoError(t, leaf.SendToParent(ctx, []byte("a")))
	err := leaf.SendToParent(ctx, []byte("b"))
	require.Error(t, err)
	assert.True(t, ir.IsTransport(err))
	assert.ErrorIs(t, err, ErrInboxFull)
	assert.Equal(t, 1.0, promtest.ToFloat64(tree.dropped.WithLabelValues("overflow")))
	assert.Equal(t, 1.0, promtest.ToFloat64(tree.sent))
}
