// Package store provides SQLite-backed persistence for node state.
//
// Tables:
//   - sequences: per-node local sequence counter, handed out in blocks
//   - sessions: one row per node start, keyed by a UUIDv7
//   - properties: node properties set through SetProperty tasks
//   - queries: queries started at their origin node
//   - exceptions: evaluation failures surfaced at the root
//
// Node addresses are stored as the signed reinterpretation of their 64 bits
// because SQLite integers are signed.
//
// # Database Configuration
//
//   - WAL mode: Concurrent reads during writes
//   - synchronous=NORMAL: Balance durability/performance
//   - busy_timeout=5000: Wait for locks up to 5 seconds
//   - foreign_keys=ON: Enforce referential integrity
//
// Result tables are never stored; they only flow through the tree.
package store
