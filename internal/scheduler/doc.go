// Package scheduler decides what runs next on a node, and when.
//
// A Scheduler holds a min-queue of tasks ordered by due time, a map from
// TaskID to task, and an index from query ID to the query's tasks for bulk
// kill. One goroutine runs the loop (Run); each due task body runs in a
// goroutine of its own so a slow body never delays the timer. Tasks with
// the same due time run in no guaranteed order.
//
// Lifecycle:
//
//	Submit ──▶ Submitted ──(due)──▶ Running ──┬──▶ Submitted (periodic, runs left)
//	                                          ├──▶ Complete  (runs spent, TornDown)
//	Kill ──────────────────────────────────────┴──▶ Killed    (TornDown)
//
// A body that returns an error or panics is reported to the error handler;
// its reschedule or removal still happens.
package scheduler
