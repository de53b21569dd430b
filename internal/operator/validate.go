package operator

import (
	"fmt"

	"github.com/roach88/sensornet/internal/expr"
)

// ValidationError reports a structural problem in a plan.
type ValidationError struct {
	Path    string // operator path from the root, e.g. "R/A/M"
	Message string
}

func (e *ValidationError) Error() string {
	if e.Path == "" {
		return "invalid plan: " + e.Message
	}
	return fmt.Sprintf("invalid plan at %s: %s", e.Path, e.Message)
}

// Validate checks a plan before it is installed: every operator has its
// children, indices are non-negative, aggregate columns precede the count
// column and aggregate function codes are known.
func Validate(op Operator) error {
	return validate(op, "")
}

func validate(op Operator, path string) error {
	if op == nil {
		return &ValidationError{Path: path, Message: "missing operator"}
	}
	path = join(path, name(op))

	switch n := op.(type) {
	case *Sense, *Collect, *fixedTable:
		return nil

	case *Select:
		if err := expr.Validate(n.Cond); err != nil {
			return &ValidationError{Path: path, Message: "condition: " + err.Error()}
		}
		return validate(n.Child, path)

	case *Project:
		if len(n.Columns) == 0 {
			return &ValidationError{Path: path, Message: "no columns"}
		}
		for _, c := range n.Columns {
			if c < 0 {
				return &ValidationError{Path: path, Message: fmt.Sprintf("negative column %d", c)}
			}
		}
		return validate(n.Child, path)

	case *Aggregate:
		if err := validateAggregate(n); err != nil {
			return &ValidationError{Path: path, Message: err.Error()}
		}
		return validate(n.Child, path)

	case *Merge:
		if err := validate(n.Left, path); err != nil {
			return err
		}
		return validate(n.Right, path)

	case *Forward:
		return validate(n.Child, path)

	case *Product:
		if err := validate(n.Left, path); err != nil {
			return err
		}
		return validate(n.Right, path)

	default:
		return &ValidationError{Path: path, Message: fmt.Sprintf("unknown operator %T", op)}
	}
}

func validateAggregate(a *Aggregate) error {
	if a.CountColumn < 0 {
		return fmt.Errorf("negative count column %d", a.CountColumn)
	}
	used := make(map[int]string, len(a.Groups)+len(a.Funcs))
	for _, g := range a.Groups {
		if g < 0 || g >= a.CountColumn {
			return fmt.Errorf("group column %d outside [0,%d)", g, a.CountColumn)
		}
		if prev, ok := used[g]; ok {
			return fmt.Errorf("column %d used twice (%s, group)", g, prev)
		}
		used[g] = "group"
	}
	for _, f := range a.Funcs {
		if !f.Func.Valid() {
			return fmt.Errorf("unknown aggregate function %d", uint8(f.Func))
		}
		if f.Column < 0 || f.Column >= a.CountColumn {
			return fmt.Errorf("%s column %d outside [0,%d)", f.Func, f.Column, a.CountColumn)
		}
		if prev, ok := used[f.Column]; ok {
			return fmt.Errorf("column %d used twice (%s, %s)", f.Column, prev, f.Func)
		}
		used[f.Column] = f.Func.String()
	}
	return nil
}

func name(op Operator) string {
	switch op.(type) {
	case *Sense:
		return "S"
	case *Select:
		return "F"
	case *Project:
		return "P"
	case *Aggregate:
		return "A"
	case *Merge:
		return "M"
	case *Collect:
		return "C"
	case *Forward:
		return "R"
	case *Product:
		return "product"
	case *fixedTable:
		return "fixed"
	default:
		return "?"
	}
}

func join(path, elem string) string {
	if path == "" {
		return elem
	}
	return path + "/" + elem
}

// Width returns the number of columns op produces at role sensing, given the
// width of the local sensor row, or -1 if it cannot be determined statically
// (a Merge whose sides disagree is resolved to the wider side).
func Width(op Operator, senseWidth int) int {
	switch n := op.(type) {
	case *Sense:
		return senseWidth
	case *Select:
		return Width(n.Child, senseWidth)
	case *Project:
		return len(n.Columns)
	case *Aggregate:
		return n.CountColumn + 1
	case *Merge:
		return max(Width(n.Left, senseWidth), Width(n.Right, senseWidth))
	case *Forward:
		return Width(n.Child, senseWidth)
	case *Product:
		l, r := Width(n.Left, senseWidth), Width(n.Right, senseWidth)
		if l < 0 || r < 0 {
			return -1
		}
		return l + r
	default:
		return -1
	}
}
