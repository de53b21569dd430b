package grammar

import (
	"fmt"
	"strconv"

	"github.com/roach88/sensornet/internal/expr"
	"github.com/roach88/sensornet/internal/ir"
	"github.com/roach88/sensornet/internal/operator"
)

// maxDepth bounds nesting so hostile input cannot exhaust the stack.
const maxDepth = 128

type parser struct {
	toks  []token
	pos   int
	depth int
}

// ParsePlan parses a complete operator tree. The whole input must be
// consumed.
func ParsePlan(s string) (operator.Operator, error) {
	p, err := newParser(s)
	if err != nil {
		return nil, err
	}
	op, err := p.operator()
	if err != nil {
		return nil, err
	}
	if err := p.end(); err != nil {
		return nil, err
	}
	return op, nil
}

// ParseExpr parses a complete condition expression.
func ParseExpr(s string) (expr.Expr, error) {
	p, err := newParser(s)
	if err != nil {
		return nil, err
	}
	e, err := p.expr()
	if err != nil {
		return nil, err
	}
	if err := p.end(); err != nil {
		return nil, err
	}
	return e, nil
}

func newParser(s string) (*parser, error) {
	toks, err := lex(s)
	if err != nil {
		return nil, err
	}
	return &parser{toks: toks}, nil
}

func (p *parser) peek() token { return p.toks[p.pos] }

func (p *parser) next() token {
	t := p.toks[p.pos]
	if t.kind != tokEOF {
		p.pos++
	}
	return t
}

func (p *parser) expect(kind tokenKind) (token, error) {
	t := p.next()
	if t.kind != kind {
		return t, syntaxError(t.pos, "expected %s, found %s", kind, t)
	}
	return t, nil
}

func (p *parser) end() error {
	if t := p.peek(); t.kind != tokEOF {
		return syntaxError(t.pos, "unexpected %s after end of tree", t)
	}
	return nil
}

func (p *parser) enter() error {
	p.depth++
	if p.depth > maxDepth {
		return syntaxError(p.peek().pos, "nesting deeper than %d", maxDepth)
	}
	return nil
}

func (p *parser) leave() { p.depth-- }

// integer reads a bare non-negative integer argument.
func (p *parser) integer(what string) (int, error) {
	t, err := p.expect(tokNumber)
	if err != nil {
		return 0, err
	}
	n, err := strconv.Atoi(t.text)
	if err != nil || n < 0 {
		return 0, syntaxError(t.pos, "%s must be a non-negative integer, found %q", what, t.text)
	}
	return n, nil
}

func (p *parser) operator() (operator.Operator, error) {
	if err := p.enter(); err != nil {
		return nil, err
	}
	defer p.leave()

	t, err := p.expect(tokTag)
	if err != nil {
		return nil, err
	}
	if _, err := p.expect(tokLParen); err != nil {
		return nil, err
	}

	var op operator.Operator
	switch t.text {
	case "S":
		op = &operator.Sense{}
	case "C":
		op = &operator.Collect{}
	case "F":
		op, err = p.selectArgs()
	case "P":
		op, err = p.projectArgs()
	case "A":
		op, err = p.aggregateArgs()
	case "M":
		op, err = p.mergeArgs()
	case "R":
		child, cerr := p.operator()
		op, err = &operator.Forward{Child: child}, cerr
	default:
		return nil, syntaxError(t.pos, "%s is not an operator tag", t)
	}
	if err != nil {
		return nil, err
	}
	if _, err := p.expect(tokRParen); err != nil {
		return nil, err
	}
	return op, nil
}

func (p *parser) selectArgs() (operator.Operator, error) {
	child, err := p.operator()
	if err != nil {
		return nil, err
	}
	cond, err := p.expr()
	if err != nil {
		return nil, err
	}
	return &operator.Select{Child: child, Cond: cond}, nil
}

func (p *parser) projectArgs() (operator.Operator, error) {
	child, err := p.operator()
	if err != nil {
		return nil, err
	}
	proj := &operator.Project{Child: child}
	for p.peek().kind == tokNumber {
		c, err := p.integer("column")
		if err != nil {
			return nil, err
		}
		proj.Columns = append(proj.Columns, c)
	}
	if len(proj.Columns) == 0 {
		return nil, syntaxError(p.peek().pos, "projection needs at least one column")
	}
	return proj, nil
}

func (p *parser) aggregateArgs() (operator.Operator, error) {
	child, err := p.operator()
	if err != nil {
		return nil, err
	}
	agg := &operator.Aggregate{Child: child}
	if agg.CountColumn, err = p.integer("count column"); err != nil {
		return nil, err
	}
	nGroups, err := p.integer("group count")
	if err != nil {
		return nil, err
	}
	for i := 0; i < nGroups; i++ {
		g, err := p.integer("group column")
		if err != nil {
			return nil, err
		}
		agg.Groups = append(agg.Groups, g)
	}
	for p.peek().kind == tokNumber {
		ft := p.peek()
		f, err := p.integer("aggregate function")
		if err != nil {
			return nil, err
		}
		if f > 255 || !operator.AggFunc(f).Valid() {
			return nil, syntaxError(ft.pos, "unknown aggregate function %d", f)
		}
		c, err := p.integer("aggregate column")
		if err != nil {
			return nil, err
		}
		agg.Funcs = append(agg.Funcs, operator.Aggregation{Func: operator.AggFunc(f), Column: c})
	}
	return agg, nil
}

func (p *parser) mergeArgs() (operator.Operator, error) {
	l, err := p.operator()
	if err != nil {
		return nil, err
	}
	r, err := p.operator()
	if err != nil {
		return nil, err
	}
	return &operator.Merge{Left: l, Right: r}, nil
}

func (p *parser) expr() (expr.Expr, error) {
	if err := p.enter(); err != nil {
		return nil, err
	}
	defer p.leave()

	t, err := p.expect(tokTag)
	if err != nil {
		return nil, err
	}
	if _, err := p.expect(tokLParen); err != nil {
		return nil, err
	}

	var e expr.Expr
	switch c := t.text[0]; {
	case c == '@':
		idx, err := p.integer("attribute index")
		if err != nil {
			return nil, err
		}
		e = &expr.Attribute{Index: idx}
	case ir.Kind(c).Valid():
		lit, err := p.expect(tokNumber)
		if err != nil {
			return nil, err
		}
		v, err := ir.ParseLiteral(ir.Kind(c), lit.text)
		if err != nil {
			return nil, fmt.Errorf("offset %d: %w", lit.pos, err)
		}
		e = &expr.Constant{Value: v}
	case expr.Op(c).Valid():
		l, err := p.expr()
		if err != nil {
			return nil, err
		}
		r, err := p.expr()
		if err != nil {
			return nil, err
		}
		e = &expr.Binary{Op: expr.Op(c), Left: l, Right: r}
	default:
		return nil, syntaxError(t.pos, "%s is not an expression tag", t)
	}
	if _, err := p.expect(tokRParen); err != nil {
		return nil, err
	}
	return e, nil
}
