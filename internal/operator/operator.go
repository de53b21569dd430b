package operator

import (
	"context"
	"fmt"

	"github.com/roach88/sensornet/internal/expr"
	"github.com/roach88/sensornet/internal/ir"
)

// Operator is a node of a query plan.
//
// This is a sealed interface - only types in this package implement it.
// Operators decoded from the wire grammar are Sense, Select, Project,
// Aggregate, Merge, Collect and Forward. Product and the fixed-table reader
// are local helpers and have no grammar form.
//
// Evaluate produces the operator's table for one epoch. It never mutates a
// table produced by a child; it always builds a new one.
type Operator interface {
	Evaluate(ctx context.Context, env *Env, epoch int64) (*ir.Table, error)
	operatorNode() // Marker method - seals interface to this package
}

// Sense is the leaf that reads the local sensor.
//
// At the sensing role it yields one row per epoch, read once and cached for
// repeated references within the epoch. At the base role it yields an empty
// table.
type Sense struct{}

// Select passes the child rows for which Cond evaluates to Bool true.
type Select struct {
	Child Operator
	Cond  expr.Expr
}

// Project maps each child row onto Columns, in order.
type Project struct {
	Child   Operator
	Columns []int
}

// AggFunc is an aggregate function. The numeric value is its grammar code.
type AggFunc uint8

const (
	Sum AggFunc = iota
	Avg
	Min
	Max
	Count
)

var aggNames = [...]string{"SUM", "AVG", "MIN", "MAX", "COUNT"}

// Valid reports whether f is one of the five aggregate functions.
func (f AggFunc) Valid() bool {
	return int(f) < len(aggNames)
}

func (f AggFunc) String() string {
	if f.Valid() {
		return aggNames[f]
	}
	return fmt.Sprintf("AggFunc(%d)", uint8(f))
}

// Aggregation applies Func to one column.
type Aggregation struct {
	Func   AggFunc
	Column int
}

// Aggregate groups child rows by Groups and applies Funcs per group.
//
// Data columns occupy indices [0, CountColumn). At the sensing role the
// output has one extra column at CountColumn carrying the group's running
// count as Int32, so that partial results can be merged again further up the
// tree. At the base role that column is dropped, AVG columns are divided by
// the count and COUNT columns are set to it.
//
// Input rows flagged partial (collected from children, or produced by a
// nested Aggregate below the base) carry at CountColumn the weight they
// contribute to the count. Every other row counts once, however wide it is.
// The running count saturates at the Int32 maximum.
//
// Columns that are neither grouped nor aggregated keep the value of the first
// row of their group.
type Aggregate struct {
	Child       Operator
	CountColumn int
	Groups      []int
	Funcs       []Aggregation
}

// Merge unions the rows of Left and Right, left first. The narrower side's
// rows are padded with missing values to the wider side's column count, and
// the result adopts the wider side's owner.
type Merge struct {
	Left  Operator
	Right Operator
}

// Collect waits for the current epoch's child results and merges them.
type Collect struct{}

// Forward transmits its child's table to the parent and returns it.
type Forward struct {
	Child Operator
}

// Product is the cartesian product of Left and Right: every left row
// concatenated with every right row, left-major.
type Product struct {
	Left  Operator
	Right Operator
}

// fixedTable returns a table it was built with.
type fixedTable struct {
	table *ir.Table
}

func (*Sense) operatorNode()      {}
func (*Select) operatorNode()     {}
func (*Project) operatorNode()    {}
func (*Aggregate) operatorNode()  {}
func (*Merge) operatorNode()      {}
func (*Collect) operatorNode()    {}
func (*Forward) operatorNode()    {}
func (*Product) operatorNode()    {}
func (*fixedTable) operatorNode() {}

// Fixed returns an operator that yields table on every evaluation.
func Fixed(table *ir.Table) Operator {
	return &fixedTable{table: table}
}

// Walk calls fn for op and every descendant, parents first.
func Walk(op Operator, fn func(Operator)) {
	if op == nil {
		return
	}
	fn(op)
	switch n := op.(type) {
	case *Select:
		Walk(n.Child, fn)
	case *Project:
		Walk(n.Child, fn)
	case *Aggregate:
		Walk(n.Child, fn)
	case *Merge:
		Walk(n.Left, fn)
		Walk(n.Right, fn)
	case *Forward:
		Walk(n.Child, fn)
	case *Product:
		Walk(n.Left, fn)
		Walk(n.Right, fn)
	}
}

// Contains reports whether op or any of its descendants satisfies pred.
func Contains(op Operator, pred func(Operator) bool) bool {
	found := false
	Walk(op, func(o Operator) {
		if pred(o) {
			found = true
		}
	})
	return found
}
