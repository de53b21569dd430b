// Package expr evaluates condition expressions row by row.
//
// An expression is a small tree of Binary nodes over Attribute and Constant
// leaves. Evaluation delegates every operation to the ir value system, so
// promotion, safe divide and incompatible-operand failures behave exactly as
// they do in ir.
//
// Both operands of every Binary node are always evaluated; there is no
// short-circuit, including for Nand.
package expr

import (
	"fmt"

	"github.com/roach88/sensornet/internal/ir"
)

// Expr is a sealed interface over the expression node kinds.
//
// Expr types:
//   - Binary: an operator applied to two sub-expressions
//   - Attribute: the value at a column index of the current row
//   - Constant: a fixed value
type Expr interface {
	// Eval evaluates the expression against row and returns a fresh value.
	Eval(row ir.Row) (ir.Value, error)
	exprNode() // Marker method - seals interface to this package
}

// Op is a binary operator. The byte value is its grammar tag.
type Op byte

const (
	OpEquals   Op = '='
	OpLessThan Op = '<'
	OpAdd      Op = '+'
	OpSubtract Op = '-'
	OpMultiply Op = '*'
	OpDivide   Op = '/'
	OpNand     Op = '!'
)

var opNames = map[Op]string{
	OpEquals:   "Equals",
	OpLessThan: "LessThan",
	OpAdd:      "Add",
	OpSubtract: "Subtract",
	OpMultiply: "Multiply",
	OpDivide:   "Divide",
	OpNand:     "Nand",
}

// Valid reports whether op is one of the seven binary operators.
func (op Op) Valid() bool {
	_, ok := opNames[op]
	return ok
}

func (op Op) String() string {
	if name, ok := opNames[op]; ok {
		return name
	}
	return fmt.Sprintf("Op(%q)", byte(op))
}

// Binary applies Op to the values of Left and Right.
type Binary struct {
	Op    Op
	Left  Expr
	Right Expr
}

// Attribute reads column Index of the current row.
type Attribute struct {
	Index int
}

// Constant yields a copy of Value on every evaluation.
type Constant struct {
	Value ir.Value
}

func (*Binary) exprNode()    {}
func (*Attribute) exprNode() {}
func (*Constant) exprNode()  {}

// Eval evaluates both operands, left first, then applies the operator.
func (b *Binary) Eval(row ir.Row) (ir.Value, error) {
	if b.Left == nil || b.Right == nil {
		return nil, ir.Incompatible(b.Op.String(), nil, nil)
	}
	l, err := b.Left.Eval(row)
	if err != nil {
		return nil, err
	}
	r, err := b.Right.Eval(row)
	if err != nil {
		return nil, err
	}
	switch b.Op {
	case OpEquals:
		eq, err := ir.Equal(l, r)
		if err != nil {
			return nil, err
		}
		return ir.NewBool(eq), nil
	case OpLessThan:
		lt, err := ir.Less(l, r)
		if err != nil {
			return nil, err
		}
		return ir.NewBool(lt), nil
	case OpAdd:
		return ir.Add(l, r)
	case OpSubtract:
		return ir.Sub(l, r)
	case OpMultiply:
		return ir.Mul(l, r)
	case OpDivide:
		return ir.Div(l, r)
	case OpNand:
		lb, lok := l.(*ir.Bool)
		rb, rok := r.(*ir.Bool)
		if !lok || !rok {
			return nil, ir.Incompatible("nand", l, r)
		}
		return ir.NewBool(!(lb.V && rb.V)), nil
	default:
		return nil, ir.Incompatible(b.Op.String(), l, r)
	}
}

// Eval returns a copy of the row's value at Index. An index outside the row
// cannot supply an operand and fails as incompatible.
func (a *Attribute) Eval(row ir.Row) (ir.Value, error) {
	if a.Index < 0 || a.Index >= len(row) {
		return nil, &ir.Error{
			Code:    ir.ErrCodeIncompatible,
			Op:      "attribute",
			Message: fmt.Sprintf("index %d outside row of %d columns", a.Index, len(row)),
		}
	}
	return ir.Clone(row[a.Index]), nil
}

// Eval returns a copy of the constant so callers may Negate it freely.
func (c *Constant) Eval(ir.Row) (ir.Value, error) {
	return ir.Clone(c.Value), nil
}

// Test evaluates e as a row condition. Only a Bool true result passes; any
// other result kind is incompatible.
func Test(e Expr, row ir.Row) (bool, error) {
	v, err := e.Eval(row)
	if err != nil {
		return false, err
	}
	b, ok := v.(*ir.Bool)
	if !ok {
		return false, ir.Incompatible("condition", v, nil)
	}
	return b.V, nil
}

// MaxAttribute returns the largest attribute index referenced by e, or -1 if
// e references none.
func MaxAttribute(e Expr) int {
	switch n := e.(type) {
	case *Binary:
		return max(MaxAttribute(n.Left), MaxAttribute(n.Right))
	case *Attribute:
		return n.Index
	default:
		return -1
	}
}

// Validate checks the structure of e: known operators, non-nil operands,
// non-negative indices and present constants.
func Validate(e Expr) error {
	switch n := e.(type) {
	case nil:
		return fmt.Errorf("missing expression")
	case *Binary:
		if !n.Op.Valid() {
			return fmt.Errorf("unknown operator %q", byte(n.Op))
		}
		if err := Validate(n.Left); err != nil {
			return fmt.Errorf("%s left: %w", n.Op, err)
		}
		if err := Validate(n.Right); err != nil {
			return fmt.Errorf("%s right: %w", n.Op, err)
		}
		return nil
	case *Attribute:
		if n.Index < 0 {
			return fmt.Errorf("negative attribute index %d", n.Index)
		}
		return nil
	case *Constant:
		if n.Value == nil {
			return fmt.Errorf("constant without value")
		}
		return nil
	default:
		return fmt.Errorf("unknown expression %T", e)
	}
}
