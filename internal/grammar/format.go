package grammar

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/roach88/sensornet/internal/expr"
	"github.com/roach88/sensornet/internal/ir"
	"github.com/roach88/sensornet/internal/operator"
)

// FormatPlan serializes op to its single-line grammar form, one space between
// arguments. Local helper operators have no grammar form and fail.
func FormatPlan(op operator.Operator) (string, error) {
	var b strings.Builder
	if err := writeOperator(&b, op); err != nil {
		return "", err
	}
	return b.String(), nil
}

// FormatExpr serializes e to its grammar form.
func FormatExpr(e expr.Expr) (string, error) {
	var b strings.Builder
	if err := writeExpr(&b, e); err != nil {
		return "", err
	}
	return b.String(), nil
}

func formatError(format string, args ...any) error {
	return &ir.Error{Code: ir.ErrCodeDecode, Op: "format", Message: fmt.Sprintf(format, args...)}
}

func writeOperator(b *strings.Builder, op operator.Operator) error {
	switch n := op.(type) {
	case nil:
		return formatError("missing operator")
	case *operator.Sense:
		b.WriteString("S()")
	case *operator.Collect:
		b.WriteString("C()")
	case *operator.Select:
		b.WriteString("F(")
		if err := writeOperator(b, n.Child); err != nil {
			return err
		}
		b.WriteByte(' ')
		if err := writeExpr(b, n.Cond); err != nil {
			return err
		}
		b.WriteByte(')')
	case *operator.Project:
		b.WriteString("P(")
		if err := writeOperator(b, n.Child); err != nil {
			return err
		}
		writeInts(b, n.Columns...)
		b.WriteByte(')')
	case *operator.Aggregate:
		b.WriteString("A(")
		if err := writeOperator(b, n.Child); err != nil {
			return err
		}
		writeInts(b, n.CountColumn, len(n.Groups))
		writeInts(b, n.Groups...)
		for _, f := range n.Funcs {
			writeInts(b, int(f.Func), f.Column)
		}
		b.WriteByte(')')
	case *operator.Merge:
		b.WriteString("M(")
		if err := writeOperator(b, n.Left); err != nil {
			return err
		}
		b.WriteByte(' ')
		if err := writeOperator(b, n.Right); err != nil {
			return err
		}
		b.WriteByte(')')
	case *operator.Forward:
		b.WriteString("R(")
		if err := writeOperator(b, n.Child); err != nil {
			return err
		}
		b.WriteByte(')')
	default:
		return formatError("%T has no grammar form", op)
	}
	return nil
}

func writeInts(b *strings.Builder, ns ...int) {
	for _, n := range ns {
		b.WriteByte(' ')
		b.WriteString(strconv.Itoa(n))
	}
}

func writeExpr(b *strings.Builder, e expr.Expr) error {
	switch n := e.(type) {
	case nil:
		return formatError("missing expression")
	case *expr.Attribute:
		b.WriteString("@(")
		b.WriteString(strconv.Itoa(n.Index))
		b.WriteByte(')')
	case *expr.Constant:
		tok, err := ir.FormatToken(n.Value)
		if err != nil {
			return err
		}
		b.WriteString(tok)
	case *expr.Binary:
		if !n.Op.Valid() {
			return formatError("unknown operator %q", byte(n.Op))
		}
		b.WriteByte(byte(n.Op))
		b.WriteByte('(')
		if err := writeExpr(b, n.Left); err != nil {
			return err
		}
		b.WriteByte(' ')
		if err := writeExpr(b, n.Right); err != nil {
			return err
		}
		b.WriteByte(')')
	default:
		return formatError("unknown expression %T", e)
	}
	return nil
}

// Outline renders op as an indented tree, one operator per line, for human
// inspection. It accepts local helper operators too.
func Outline(op operator.Operator) string {
	var b strings.Builder
	outline(&b, op, 0)
	return b.String()
}

func outline(b *strings.Builder, op operator.Operator, depth int) {
	b.WriteString(strings.Repeat("  ", depth))
	switch n := op.(type) {
	case nil:
		b.WriteString("<nil>\n")
	case *operator.Sense:
		b.WriteString("Sense\n")
	case *operator.Collect:
		b.WriteString("Collect\n")
	case *operator.Select:
		cond, err := FormatExpr(n.Cond)
		if err != nil {
			cond = "<" + err.Error() + ">"
		}
		fmt.Fprintf(b, "Select %s\n", cond)
		outline(b, n.Child, depth+1)
	case *operator.Project:
		fmt.Fprintf(b, "Project %v\n", n.Columns)
		outline(b, n.Child, depth+1)
	case *operator.Aggregate:
		funcs := make([]string, len(n.Funcs))
		for i, f := range n.Funcs {
			funcs[i] = fmt.Sprintf("%s(%d)", f.Func, f.Column)
		}
		fmt.Fprintf(b, "Aggregate count=%d groups=%v %s\n", n.CountColumn, n.Groups, strings.Join(funcs, " "))
		outline(b, n.Child, depth+1)
	case *operator.Merge:
		b.WriteString("Merge\n")
		outline(b, n.Left, depth+1)
		outline(b, n.Right, depth+1)
	case *operator.Forward:
		b.WriteString("Forward\n")
		outline(b, n.Child, depth+1)
	case *operator.Product:
		b.WriteString("Product\n")
		outline(b, n.Left, depth+1)
		outline(b, n.Right, depth+1)
	default:
		fmt.Fprintf(b, "%T\n", op)
	}
}
