package operator

import (
	"context"
	"fmt"

	"github.com/roach88/sensornet/internal/expr"
	"github.com/roach88/sensornet/internal/ir"
)

func (s *Sense) Evaluate(ctx context.Context, env *Env, epoch int64) (*ir.Table, error) {
	if env.Role == ir.RoleBase || env.Sensor == nil {
		return ir.NewTable(env.Query), nil
	}
	if row, ok := env.senseCache.Get(epoch); ok {
		return ir.NewTable(env.Query, row), nil
	}
	row, err := env.Sensor.Sense(ctx, epoch)
	if err != nil {
		return nil, ir.TransportError("sense", err)
	}
	env.senseCache.Add(epoch, row)
	return ir.NewTable(env.Query, row), nil
}

func (s *Select) Evaluate(ctx context.Context, env *Env, epoch int64) (*ir.Table, error) {
	in, err := s.Child.Evaluate(ctx, env, epoch)
	if err != nil {
		return nil, err
	}
	out := ir.NewTable(in.Owner)
	for i, row := range in.Rows {
		ok, err := expr.Test(s.Cond, row)
		if err != nil {
			return nil, fmt.Errorf("select: %w", err)
		}
		if !ok {
			continue
		}
		out.Rows = append(out.Rows, row)
		if in.Partial != nil {
			out.Partial = append(out.Partial, in.IsPartial(i))
		}
	}
	return out, nil
}

func (p *Project) Evaluate(ctx context.Context, env *Env, epoch int64) (*ir.Table, error) {
	in, err := p.Child.Evaluate(ctx, env, epoch)
	if err != nil {
		return nil, err
	}
	out := ir.NewTable(in.Owner)
	out.Rows = make([]ir.Row, 0, len(in.Rows))
	for _, row := range in.Rows {
		projected := make(ir.Row, len(p.Columns))
		for i, c := range p.Columns {
			if c < 0 || c >= len(row) {
				return nil, &ir.Error{
					Code:    ir.ErrCodeIncompatible,
					Op:      "project",
					Message: fmt.Sprintf("column %d outside row of %d columns", c, len(row)),
				}
			}
			projected[i] = row[c]
		}
		out.Rows = append(out.Rows, projected)
	}
	return out, nil
}

func (m *Merge) Evaluate(ctx context.Context, env *Env, epoch int64) (*ir.Table, error) {
	l, err := m.Left.Evaluate(ctx, env, epoch)
	if err != nil {
		return nil, err
	}
	r, err := m.Right.Evaluate(ctx, env, epoch)
	if err != nil {
		return nil, err
	}
	return mergeTables(l, r), nil
}

func mergeTables(l, r *ir.Table) *ir.Table {
	width, owner := l.Columns(), l.Owner
	if r.Columns() > width {
		width, owner = r.Columns(), r.Owner
	}
	out := &ir.Table{Owner: owner, Rows: ir.MergeRows(l.Rows, r.Rows, width)}
	if l.Partial != nil || r.Partial != nil {
		out.Partial = make([]bool, 0, len(out.Rows))
		for i := range l.Rows {
			out.Partial = append(out.Partial, l.IsPartial(i))
		}
		for i := range r.Rows {
			out.Partial = append(out.Partial, r.IsPartial(i))
		}
	}
	return out
}

// Evaluate evaluates the child and hands the table to the transmitter. A
// transmit failure is logged and the table is still returned.
func (f *Forward) Evaluate(ctx context.Context, env *Env, epoch int64) (*ir.Table, error) {
	out, err := f.Child.Evaluate(ctx, env, epoch)
	if err != nil {
		return nil, err
	}
	if !env.isolated() {
		if err := env.Transmitter.Transmit(ctx, epoch, out); err != nil {
			env.Logger.Warn("forward failed",
				"query", env.Query,
				"epoch", epoch,
				"error", err,
			)
		}
	}
	env.Results.Purge(epoch)
	return out, nil
}

func (p *Product) Evaluate(ctx context.Context, env *Env, epoch int64) (*ir.Table, error) {
	l, err := p.Left.Evaluate(ctx, env, epoch)
	if err != nil {
		return nil, err
	}
	r, err := p.Right.Evaluate(ctx, env, epoch)
	if err != nil {
		return nil, err
	}
	out := ir.NewTable(l.Owner)
	out.Rows = make([]ir.Row, 0, len(l.Rows)*len(r.Rows))
	for _, lr := range l.Rows {
		for _, rr := range r.Rows {
			row := make(ir.Row, 0, len(lr)+len(rr))
			row = append(row, lr...)
			row = append(row, rr...)
			out.Rows = append(out.Rows, row)
		}
	}
	return out, nil
}

func (f *fixedTable) Evaluate(context.Context, *Env, int64) (*ir.Table, error) {
	return f.table, nil
}
