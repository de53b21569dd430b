package operator

import (
	"bytes"
	"context"
	"fmt"
	"math"

	"github.com/cespare/xxhash/v2"

	"github.com/roach88/sensornet/internal/ir"
)

// groupState is the running aggregate of one group.
type groupState struct {
	key   []byte
	row   ir.Row // first row's data columns, then running aggregates
	count int64
}

// groupIndex finds groups by the hash of their key bytes, keeping first-seen
// order for output.
type groupIndex struct {
	digest *xxhash.Digest
	byHash map[uint64][]*groupState
	order  []*groupState
}

func newGroupIndex() *groupIndex {
	return &groupIndex{
		digest: xxhash.New(),
		byHash: make(map[uint64][]*groupState),
	}
}

// key returns the binary encoding of the group columns of row and its hash.
// A group column outside the row is a missing value.
func (g *groupIndex) key(row ir.Row, groups []int) ([]byte, uint64) {
	w := ir.NewWriter(len(groups) * 9)
	g.digest.Reset()
	for i, c := range groups {
		var v ir.Value
		if c < len(row) {
			v = row[c]
		}
		start := w.Len()
		w.PutValue(v)
		if i > 0 {
			_, _ = g.digest.Write([]byte{0}) // separator
		}
		_, _ = g.digest.Write(w.Bytes()[start:])
	}
	return w.Bytes(), g.digest.Sum64()
}

func (g *groupIndex) lookup(key []byte, hash uint64) *groupState {
	for _, st := range g.byHash[hash] {
		if bytes.Equal(st.key, key) {
			return st
		}
	}
	return nil
}

func (g *groupIndex) insert(st *groupState, hash uint64) {
	g.byHash[hash] = append(g.byHash[hash], st)
	g.order = append(g.order, st)
}

func (a *Aggregate) Evaluate(ctx context.Context, env *Env, epoch int64) (*ir.Table, error) {
	in, err := a.Child.Evaluate(ctx, env, epoch)
	if err != nil {
		return nil, err
	}

	idx := newGroupIndex()
	for i, row := range in.Rows {
		weight := a.weight(row, in.IsPartial(i))
		key, hash := idx.key(row, a.Groups)
		st := idx.lookup(key, hash)
		if st == nil {
			st = &groupState{key: key, row: a.firstRow(row), count: weight}
			idx.insert(st, hash)
			continue
		}
		st.count += weight
		for _, agg := range a.Funcs {
			if err := accumulate(st.row, row, agg); err != nil {
				return nil, fmt.Errorf("aggregate %s(%d): %w", agg.Func, agg.Column, err)
			}
		}
	}

	out := ir.NewTable(in.Owner)
	for _, st := range idx.order {
		row, err := a.finish(env.Role, st)
		if err != nil {
			return nil, err
		}
		out.Rows = append(out.Rows, row)
	}
	if env.Role != ir.RoleBase {
		out.MarkPartial()
	}
	return out, nil
}

// weight is the number of sensed rows a row stands for: the value of its
// count column when the row is a partial aggregate, otherwise 1.
func (a *Aggregate) weight(row ir.Row, partial bool) int64 {
	if partial && a.CountColumn < len(row) && row[a.CountColumn] != nil {
		if n, ok := ir.ToInt64(row[a.CountColumn]); ok {
			return n
		}
	}
	return 1
}

// firstRow copies the data columns of the group's first row. Aggregated
// columns start from the first row's value as well.
func (a *Aggregate) firstRow(row ir.Row) ir.Row {
	out := make(ir.Row, a.CountColumn)
	for i := range out {
		if i < len(row) {
			out[i] = ir.Clone(row[i])
		}
	}
	return out
}

func accumulate(acc, row ir.Row, agg Aggregation) error {
	if agg.Func == Count || agg.Column >= len(row) {
		return nil
	}
	v := row[agg.Column]
	if v == nil {
		return nil
	}
	cur := acc[agg.Column]
	if cur == nil {
		acc[agg.Column] = ir.Clone(v)
		return nil
	}
	switch agg.Func {
	case Sum, Avg:
		sum, err := ir.Add(cur, v)
		if err != nil {
			return err
		}
		acc[agg.Column] = sum
	case Min, Max:
		c, err := ir.Compare(v, cur)
		if err != nil {
			return err
		}
		if (agg.Func == Min && c < 0) || (agg.Func == Max && c > 0) {
			acc[agg.Column] = ir.Clone(v)
		}
	}
	return nil
}

// finish renders a group's output row for role.
func (a *Aggregate) finish(role ir.Role, st *groupState) (ir.Row, error) {
	count := ir.NewInt32(int32(min(st.count, math.MaxInt32)))
	if role != ir.RoleBase {
		row := make(ir.Row, a.CountColumn+1)
		copy(row, st.row)
		for _, agg := range a.Funcs {
			if agg.Func == Count {
				row[agg.Column] = ir.Clone(count)
			}
		}
		row[a.CountColumn] = count
		return row, nil
	}

	row := make(ir.Row, a.CountColumn)
	copy(row, st.row)
	for _, agg := range a.Funcs {
		switch agg.Func {
		case Count:
			row[agg.Column] = ir.Clone(count)
		case Avg:
			sum := row[agg.Column]
			if sum == nil {
				continue
			}
			avg, err := ir.Div(sum, ir.NewInt64(st.count))
			if err != nil {
				return nil, fmt.Errorf("aggregate AVG(%d): %w", agg.Column, err)
			}
			if row[agg.Column], err = ir.Cast(avg, sum.Kind()); err != nil {
				return nil, err
			}
		}
	}
	return row, nil
}
