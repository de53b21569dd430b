// Package operator implements the relational operator tree that a query
// evaluates once per epoch on every node.
//
// A plan is a tree of sealed Operator values. Leaves produce tables (Sense
// reads the local sensor, Collect gathers the tables children reported for
// the epoch); inner operators transform them (Select, Project, Aggregate,
// Merge); Forward hands the result to the parent.
//
// A typical plan computing a per-tree average of column 1:
//
//	Forward{Child: &Aggregate{
//	    Child:       &Merge{Left: &Project{Child: &Sense{}, Columns: []int{1}}, Right: &Collect{}},
//	    CountColumn: 1,
//	    Funcs:       []Aggregation{{Func: Avg, Column: 0}},
//	}}
//
// Every node runs the same plan. Sensing nodes emit unfinalized partial
// aggregates (sums plus a running count); the base node finalizes them.
//
// Evaluation state lives in Env, one per query per node. The ResultStore
// inside it is the only structure shared between concurrent epochs and is
// keyed by epoch.
package operator
