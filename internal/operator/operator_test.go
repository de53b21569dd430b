package operator

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/sensornet/internal/expr"
	"github.com/roach88/sensornet/internal/ir"
	"github.com/roach88/sensornet/internal/testutil"
)

var testQuery = ir.TaskID{QueryID: 1, Origin: 1, Seq: 1}

func i32(n int32) *ir.Int32 { return ir.NewInt32(n) }

func fixed(rows ...ir.Row) Operator {
	return Fixed(ir.NewTable(testQuery, rows...))
}

func isolatedEnv(role ir.Role, opts ...EnvOption) *Env {
	opts = append([]EnvOption{WithOptions(Options{Isolated: true, LevelDelay: time.Millisecond, PollInterval: time.Millisecond})}, opts...)
	return NewEnv(testQuery, role, opts...)
}

func TestSelectKeepsMatchingRowsInOrder(t *testing.T) {
	op := &Select{
		Child: fixed(
			ir.Row{i32(10), i32(1)},
			ir.Row{i32(15), i32(2)},
			ir.Row{i32(5), i32(3)},
		),
		Cond: &expr.Binary{Op: expr.OpLessThan, Left: &expr.Attribute{Index: 0}, Right: &expr.Constant{Value: i32(12)}},
	}

	got, err := op.Evaluate(context.Background(), isolatedEnv(ir.RoleSensing), 0)
	require.NoError(t, err)
	assert.Equal(t, []ir.Row{{i32(10), i32(1)}, {i32(5), i32(3)}}, got.Rows)
}

func TestSelectIncompatibleAbortsEpoch(t *testing.T) {
	op := &Select{
		Child: fixed(ir.Row{ir.NewNodeAddress(1)}),
		Cond:  &expr.Binary{Op: expr.OpLessThan, Left: &expr.Attribute{Index: 0}, Right: &expr.Constant{Value: ir.NewBool(true)}},
	}

	got, err := op.Evaluate(context.Background(), isolatedEnv(ir.RoleSensing), 0)
	assert.Nil(t, got)
	assert.True(t, ir.IsIncompatible(err))
}

func TestProject(t *testing.T) {
	op := &Project{Child: fixed(ir.Row{i32(1), i32(2), i32(3)}), Columns: []int{2, 0}}

	got, err := op.Evaluate(context.Background(), isolatedEnv(ir.RoleSensing), 0)
	require.NoError(t, err)
	assert.Equal(t, []ir.Row{{i32(3), i32(1)}}, got.Rows)

	op.Columns = []int{5}
	_, err = op.Evaluate(context.Background(), isolatedEnv(ir.RoleSensing), 0)
	assert.True(t, ir.IsIncompatible(err))
}

func TestMergePadsNarrowerSide(t *testing.T) {
	wideOwner := ir.TaskID{QueryID: 1, Origin: 9, Seq: 2}
	op := &Merge{
		Left:  fixed(ir.Row{i32(1)}),
		Right: Fixed(ir.NewTable(wideOwner, ir.Row{i32(2), i32(3), i32(4)})),
	}

	got, err := op.Evaluate(context.Background(), isolatedEnv(ir.RoleSensing), 0)
	require.NoError(t, err)
	assert.Equal(t, 3, got.Columns())
	assert.Equal(t, wideOwner, got.Owner)
	assert.Equal(t, []ir.Row{{i32(1), nil, nil}, {i32(2), i32(3), i32(4)}}, got.Rows)
}

func TestMergeColumnsIsMax(t *testing.T) {
	a := fixed(ir.Row{i32(1), i32(1)})
	b := fixed(ir.Row{i32(2)}, ir.Row{i32(3)})
	env := isolatedEnv(ir.RoleSensing)

	ab, err := (&Merge{Left: a, Right: b}).Evaluate(context.Background(), env, 0)
	require.NoError(t, err)
	ba, err := (&Merge{Left: b, Right: a}).Evaluate(context.Background(), env, 0)
	require.NoError(t, err)

	assert.Equal(t, 2, ab.Columns())
	assert.Equal(t, 2, ba.Columns())
	assert.ElementsMatch(t, ab.Rows, ba.Rows)
}

func TestProduct(t *testing.T) {
	op := &Product{
		Left:  fixed(ir.Row{i32(1)}, ir.Row{i32(2)}),
		Right: fixed(ir.Row{i32(10), i32(11)}, ir.Row{i32(20), i32(21)}),
	}

	got, err := op.Evaluate(context.Background(), isolatedEnv(ir.RoleSensing), 0)
	require.NoError(t, err)
	assert.Equal(t, []ir.Row{
		{i32(1), i32(10), i32(11)},
		{i32(1), i32(20), i32(21)},
		{i32(2), i32(10), i32(11)},
		{i32(2), i32(20), i32(21)},
	}, got.Rows)
}

func TestSenseCachesPerEpoch(t *testing.T) {
	sensor := testutil.NewStaticSensor(ir.NewNodeAddress(4), i32(20))
	env := isolatedEnv(ir.RoleSensing, WithSensor(sensor))
	op := &Merge{Left: &Sense{}, Right: &Sense{}}

	got, err := op.Evaluate(context.Background(), env, 3)
	require.NoError(t, err)
	assert.Len(t, got.Rows, 2)
	assert.Equal(t, 1, sensor.Reads())

	_, err = op.Evaluate(context.Background(), env, 4)
	require.NoError(t, err)
	assert.Equal(t, 2, sensor.Reads())
}

func TestSenseAtBaseIsEmpty(t *testing.T) {
	sensor := testutil.NewStaticSensor(i32(1))
	got, err := (&Sense{}).Evaluate(context.Background(), isolatedEnv(ir.RoleBase, WithSensor(sensor)), 0)
	require.NoError(t, err)
	assert.Equal(t, 0, got.Len())
	assert.Equal(t, 0, sensor.Reads())
}

func TestSenseFailureIsTransport(t *testing.T) {
	sensor := testutil.NewStaticSensor(i32(1))
	sensor.FailWith(errors.New("adc timeout"))

	_, err := (&Sense{}).Evaluate(context.Background(), isolatedEnv(ir.RoleSensing, WithSensor(sensor)), 0)
	assert.True(t, ir.IsTransport(err))
}

func TestForwardTransmitsAndPurges(t *testing.T) {
	tx := testutil.NewRecordingTransmitter()
	env := NewEnv(testQuery, ir.RoleSensing, WithTransmitter(tx))
	env.Results.Add(7, 2, ir.NewTable(testQuery))

	got, err := (&Forward{Child: fixed(ir.Row{i32(1)})}).Evaluate(context.Background(), env, 7)
	require.NoError(t, err)
	assert.Equal(t, []ir.Row{{i32(1)}}, got.Rows)

	sent := tx.Sent()
	require.Len(t, sent, 1)
	assert.Equal(t, int64(7), sent[0].Epoch)
	assert.Equal(t, got, sent[0].Table)
	assert.Equal(t, 0, env.Results.Epochs())
}

func TestForwardTransmitFailureStillReturnsTable(t *testing.T) {
	tx := testutil.NewRecordingTransmitter()
	tx.FailWith(ir.TransportError("send", errors.New("link down")))
	env := NewEnv(testQuery, ir.RoleSensing, WithTransmitter(tx))

	got, err := (&Forward{Child: fixed(ir.Row{i32(1)})}).Evaluate(context.Background(), env, 0)
	require.NoError(t, err)
	assert.Equal(t, 1, got.Len())
}

func TestForwardIsolatedDoesNotTransmit(t *testing.T) {
	tx := testutil.NewRecordingTransmitter()
	env := isolatedEnv(ir.RoleSensing, WithTransmitter(tx))

	_, err := (&Forward{Child: fixed(ir.Row{i32(1)})}).Evaluate(context.Background(), env, 0)
	require.NoError(t, err)
	assert.Empty(t, tx.Sent())
}

func TestResultStoreIgnoresDuplicateReports(t *testing.T) {
	s := NewResultStore()
	assert.True(t, s.Add(1, 5, ir.NewTable(testQuery, ir.Row{i32(1)})))
	assert.False(t, s.Add(1, 5, ir.NewTable(testQuery, ir.Row{i32(2)})))
	assert.True(t, s.Add(2, 5, ir.NewTable(testQuery)))

	assert.Len(t, s.Tables(1), 1)
	assert.True(t, s.Reported(1, 5))
	assert.False(t, s.Reported(1, 6))
	assert.Equal(t, []ir.Addr{6}, s.Missing(1, []ir.Addr{5, 6}))
	assert.Equal(t, []ir.Addr{5, 6}, s.Missing(3, []ir.Addr{5, 6}))

	s.Purge(1)
	assert.Nil(t, s.Tables(1))
	assert.Equal(t, 1, s.Epochs())

	assert.False(t, s.Add(1, 6, ir.NewTable(testQuery)), "late report for a purged epoch")
	assert.Equal(t, 1, s.Epochs())
}

func TestWalkAndContains(t *testing.T) {
	plan := &Forward{Child: &Merge{Left: &Sense{}, Right: &Collect{}}}

	var names []string
	Walk(plan, func(op Operator) { names = append(names, name(op)) })
	assert.Equal(t, []string{"R", "M", "S", "C"}, names)

	assert.True(t, Contains(plan, func(op Operator) bool { _, ok := op.(*Collect); return ok }))
	assert.False(t, Contains(plan, func(op Operator) bool { _, ok := op.(*Aggregate); return ok }))
}

func TestValidate(t *testing.T) {
	valid := &Forward{Child: &Aggregate{
		Child:       &Merge{Left: &Project{Child: &Sense{}, Columns: []int{0, 1}}, Right: &Collect{}},
		CountColumn: 2,
		Groups:      []int{0},
		Funcs:       []Aggregation{{Func: Avg, Column: 1}},
	}}
	require.NoError(t, Validate(valid))

	tests := []struct {
		name string
		op   Operator
		msg  string
	}{
		{"nil", nil, "missing operator"},
		{"missing child", &Forward{}, "R: missing operator"},
		{"empty project", &Project{Child: &Sense{}}, "no columns"},
		{"negative column", &Project{Child: &Sense{}, Columns: []int{-1}}, "negative column"},
		{"bad condition", &Select{Child: &Sense{}}, "condition"},
		{"group past count", &Aggregate{Child: &Sense{}, CountColumn: 1, Groups: []int{1}}, "group column 1"},
		{"unknown func", &Aggregate{Child: &Sense{}, CountColumn: 1, Funcs: []Aggregation{{Func: 9}}}, "unknown aggregate function"},
		{"column reused", &Aggregate{Child: &Sense{}, CountColumn: 2, Groups: []int{0}, Funcs: []Aggregation{{Func: Sum, Column: 0}}}, "used twice"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := Validate(tt.op)
			require.Error(t, err)
			var ve *ValidationError
			require.ErrorAs(t, err, &ve)
			assert.Contains(t, err.Error(), tt.msg)
		})
	}
}

func TestWidth(t *testing.T) {
	assert.Equal(t, 4, Width(&Sense{}, 4))
	assert.Equal(t, 3, Width(&Forward{Child: &Aggregate{Child: &Sense{}, CountColumn: 2}}, 4))
	assert.Equal(t, 2, Width(&Merge{Left: &Project{Child: &Sense{}, Columns: []int{0, 1}}, Right: &Collect{}}, 4))
}
