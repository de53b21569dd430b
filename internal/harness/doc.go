// Package harness provides conformance testing for sensor network
// deployments.
//
// A scenario names a CUE deployment, runs it in a simulated tree and
// asserts on the epoch results and exceptions that reach the root.
//
// # Scenario Format
//
//	name: average_by_level
//	description: "Every sensing node reports once per epoch"
//	deployment: ../deployments/tree.cue
//	epochs: 2
//	assertions:
//	  - type: result_count
//	    count: 2
//	  - type: rows
//	    epoch: 0
//	    rows:
//	      - ["n(2)", "i(10)"]
//	      - ["n(3)", "i(10)"]
//	  - type: no_exceptions
//
// # Assertion Types
//
//   - result_count: exactly count epoch results arrived
//   - row_count: the result of epoch has count rows
//   - rows: the result of epoch has exactly rows, in any order; "-" is a
//     missing value
//   - exception: an exception from reporter (and/or with code) arrived
//   - no_exceptions: nothing failed anywhere in the tree
//
// # Determinism
//
// Scenarios run on the real clock, so arrival order varies between runs.
// Rows and exceptions are rendered in canonical order, which makes runs
// comparable and golden snapshots stable as long as every child reports
// within its collection window.
package harness
