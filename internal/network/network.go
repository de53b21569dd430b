// Package network provides the tree transport nodes use to exchange encoded
// tasks, and an in-memory implementation of it.
package network

import (
	"context"

	"github.com/roach88/sensornet/internal/ir"
)

// Message is one encoded task received from a neighbour.
type Message struct {
	From ir.Addr
	Data []byte
}

// Network is a node's view of the routing tree.
type Network interface {
	// Address returns this node's address.
	Address() ir.Addr

	// Role returns RoleBase at the root and RoleSensing elsewhere.
	Role() ir.Role

	// Parent returns the parent address; ok is false at the root.
	Parent() (addr ir.Addr, ok bool)

	// Children returns the direct children in address order.
	Children() []ir.Addr

	// Descendants returns every node below this one.
	Descendants() []ir.Addr

	// IsDescendant reports whether addr is below this node.
	IsDescendant(addr ir.Addr) bool

	// Height returns the number of levels below this node; 0 at a leaf.
	Height() int

	SendToParent(ctx context.Context, data []byte) error
	SendToChild(ctx context.Context, child ir.Addr, data []byte) error

	// SendToDescendant sends data to the child on the path to dest.
	SendToDescendant(ctx context.Context, dest ir.Addr, data []byte) error

	// Inbox delivers messages addressed to this node.
	Inbox() <-chan Message
}
