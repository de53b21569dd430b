package network

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/roach88/sensornet/internal/ir"
)

// DefaultInboxSize is the per-node inbox capacity of a Tree.
const DefaultInboxSize = 256

// ErrInboxFull is wrapped by a send whose receiver cannot keep up.
var ErrInboxFull = errors.New("inbox full")

// DropFunc decides whether a message is lost in transit. Lost messages are
// not an error for the sender, just as on a radio link.
type DropFunc func(from, to ir.Addr, data []byte) bool

// Tree is an in-memory routing tree. Messages hop only between a parent and
// its children and arrive in the receiver's inbox.
//
// Thread-safety: all methods are safe for concurrent use.
type Tree struct {
	mu        sync.RWMutex
	root      ir.Addr
	parent    map[ir.Addr]ir.Addr
	children  map[ir.Addr][]ir.Addr
	endpoints map[ir.Addr]*Endpoint
	drop      DropFunc

	inboxSize int
	sent      prometheus.Counter
	dropped   *prometheus.CounterVec
}

// TreeOption configures a Tree.
type TreeOption func(*Tree)

// WithInboxSize sets the inbox capacity of every node.
func WithInboxSize(n int) TreeOption {
	return func(t *Tree) { t.inboxSize = n }
}

// WithDropFunc installs a loss filter.
func WithDropFunc(f DropFunc) TreeOption {
	return func(t *Tree) { t.drop = f }
}

// WithRegisterer exports message counters on r.
func WithRegisterer(r prometheus.Registerer) TreeOption {
	return func(t *Tree) { t.register(r) }
}

// NewTree creates a tree holding only the root.
func NewTree(root ir.Addr, opts ...TreeOption) *Tree {
	t := &Tree{
		root:      root,
		parent:    make(map[ir.Addr]ir.Addr),
		children:  make(map[ir.Addr][]ir.Addr),
		endpoints: make(map[ir.Addr]*Endpoint),
		inboxSize: DefaultInboxSize,
	}
	for _, opt := range opts {
		opt(t)
	}
	if t.sent == nil {
		t.register(nil)
	}
	t.endpoints[root] = t.newEndpoint(root)
	return t
}

func (t *Tree) register(r prometheus.Registerer) {
	t.sent = promauto.With(r).NewCounter(prometheus.CounterOpts{
		Name: "sensornet_network_messages_delivered_total",
		Help: "Total number of messages placed in a node inbox.",
	})
	t.dropped = promauto.With(r).NewCounterVec(prometheus.CounterOpts{
		Name: "sensornet_network_messages_dropped_total",
		Help: "Total number of messages lost in transit.",
	}, []string{"reason"})
}

func (t *Tree) newEndpoint(addr ir.Addr) *Endpoint {
	return &Endpoint{tree: t, addr: addr, inbox: make(chan Message, t.inboxSize)}
}

// Join attaches addr below parent.
func (t *Tree) Join(addr, parent ir.Addr) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if _, ok := t.endpoints[addr]; ok {
		return fmt.Errorf("join %d: address already in tree", addr)
	}
	if _, ok := t.endpoints[parent]; !ok {
		return fmt.Errorf("join %d: parent %d not in tree", addr, parent)
	}
	t.parent[addr] = parent
	kids := append(t.children[parent], addr)
	slices.Sort(kids)
	t.children[parent] = kids
	t.endpoints[addr] = t.newEndpoint(addr)
	return nil
}

// SetDropFunc replaces the loss filter; nil delivers everything.
func (t *Tree) SetDropFunc(f DropFunc) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.drop = f
}

// Root returns the root address.
func (t *Tree) Root() ir.Addr { return t.root }

// Endpoint returns the node view of addr.
func (t *Tree) Endpoint(addr ir.Addr) (*Endpoint, error) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	ep, ok := t.endpoints[addr]
	if !ok {
		return nil, fmt.Errorf("endpoint %d: not in tree", addr)
	}
	return ep, nil
}

// Addresses returns every node, parents before children.
func (t *Tree) Addresses() []ir.Addr {
	t.mu.RLock()
	defer t.mu.RUnlock()
	out := []ir.Addr{t.root}
	for i := 0; i < len(out); i++ {
		out = append(out, t.children[out[i]]...)
	}
	return out
}

func (t *Tree) height(addr ir.Addr) int {
	h := 0
	for _, c := range t.children[addr] {
		h = max(h, t.height(c)+1)
	}
	return h
}

func (t *Tree) below(addr ir.Addr) []ir.Addr {
	var out []ir.Addr
	queue := slices.Clone(t.children[addr])
	for len(queue) > 0 {
		a := queue[0]
		queue = queue[1:]
		out = append(out, a)
		queue = append(queue, t.children[a]...)
	}
	return out
}

// nextHop returns the child of from on the path to dest.
func (t *Tree) nextHop(from, dest ir.Addr) (ir.Addr, bool) {
	for cur := dest; cur != t.root; {
		p, ok := t.parent[cur]
		if !ok {
			return 0, false
		}
		if p == from {
			return cur, true
		}
		cur = p
	}
	return 0, false
}

func (t *Tree) deliver(ctx context.Context, op string, from, to ir.Addr, data []byte) error {
	if err := ctx.Err(); err != nil {
		return ir.TransportError(op, err)
	}
	t.mu.RLock()
	ep, ok := t.endpoints[to]
	drop := t.drop
	t.mu.RUnlock()
	if !ok {
		return ir.TransportError(op, fmt.Errorf("no node %d", to))
	}
	if drop != nil && drop(from, to, data) {
		t.dropped.WithLabelValues("filter").Inc()
		return nil
	}
	select {
	case ep.inbox <- Message{From: from, Data: slices.Clone(data)}:
		t.sent.Inc()
		return nil
	default:
		t.dropped.WithLabelValues("overflow").Inc()
		return ir.TransportError(op, fmt.Errorf("node %d: %w", to, ErrInboxFull))
	}
}

// Endpoint is one node's Network over a Tree.
type Endpoint struct {
	tree  *Tree
	addr  ir.Addr
	inbox chan Message
}

var _ Network = (*Endpoint)(nil)

func (e *Endpoint) Address() ir.Addr { return e.addr }

func (e *Endpoint) Role() ir.Role {
	if e.addr == e.tree.root {
		return ir.RoleBase
	}
	return ir.RoleSensing
}

func (e *Endpoint) Parent() (ir.Addr, bool) {
	e.tree.mu.RLock()
	defer e.tree.mu.RUnlock()
	p, ok := e.tree.parent[e.addr]
	return p, ok
}

func (e *Endpoint) Children() []ir.Addr {
	e.tree.mu.RLock()
	defer e.tree.mu.RUnlock()
	return slices.Clone(e.tree.children[e.addr])
}

func (e *Endpoint) Descendants() []ir.Addr {
	e.tree.mu.RLock()
	defer e.tree.mu.RUnlock()
	return e.tree.below(e.addr)
}

func (e *Endpoint) IsDescendant(addr ir.Addr) bool {
	e.tree.mu.RLock()
	defer e.tree.mu.RUnlock()
	_, ok := e.tree.nextHop(e.addr, addr)
	return ok
}

func (e *Endpoint) Height() int {
	e.tree.mu.RLock()
	defer e.tree.mu.RUnlock()
	return e.tree.height(e.addr)
}

func (e *Endpoint) SendToParent(ctx context.Context, data []byte) error {
	p, ok := e.Parent()
	if !ok {
		return ir.TransportError("send to parent", fmt.Errorf("node %d is the root", e.addr))
	}
	return e.tree.deliver(ctx, "send to parent", e.addr, p, data)
}

func (e *Endpoint) SendToChild(ctx context.Context, child ir.Addr, data []byte) error {
	e.tree.mu.RLock()
	isChild := slices.Contains(e.tree.children[e.addr], child)
	e.tree.mu.RUnlock()
	if !isChild {
		return ir.TransportError("send to child", fmt.Errorf("%d is not a child of %d", child, e.addr))
	}
	return e.tree.deliver(ctx, "send to child", e.addr, child, data)
}

func (e *Endpoint) SendToDescendant(ctx context.Context, dest ir.Addr, data []byte) error {
	e.tree.mu.RLock()
	hop, ok := e.tree.nextHop(e.addr, dest)
	e.tree.mu.RUnlock()
	if !ok {
		return ir.TransportError("send to descendant", fmt.Errorf("%d is not below %d", dest, e.addr))
	}
	return e.tree.deliver(ctx, "send to descendant", e.addr, hop, data)
}

func (e *Endpoint) Inbox() <-chan Message { return e.inbox }
