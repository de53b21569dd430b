// Package node is the per-device runtime of the sensor network.
//
// A Node owns a scheduler, a network endpoint, a synchronized clock and a
// sensor. Everything a node does is a task: queries evaluate a plan once
// per epoch, and control tasks kill queries, synchronize clocks, route
// messages, set properties and sample the sensor. Results and exceptions
// travel toward the root as tasks too.
//
// # Wire form
//
// Every task crosses the network as
//
//	[kind:1][query:4][origin:8][seq:4][fields...]
//
// with big-endian integers. The kind byte selects the decoder:
//
//	Q query            K kill             T time sync
//	R route            P set property     S sensor sample
//	X transmit result  E exception
//
// # Acceptance
//
// A received task is dropped when the scheduler already holds its TaskID.
// Otherwise its per-node initialization runs (a query registers itself,
// aligns to the next epoch boundary and spreads to the children; a kill
// tombstones its query) and the task is submitted. Tasks created locally
// additionally run their origin initialization, which records queries in
// the store.
//
// A TransmitResult for a query the node does not hold decodes to an
// ErrCodeNotFound error and is dropped: the query finished or was killed.
package node
