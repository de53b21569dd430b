package grammar

import (
	"context"
	"math"
	"strings"
	"testing"
	"time"

	"github.com/sebdah/goldie/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/sensornet/internal/expr"
	"github.com/roach88/sensornet/internal/ir"
	"github.com/roach88/sensornet/internal/operator"
	"github.com/roach88/sensornet/internal/testutil"
)

const averagePlan = "R(A(M(P(S() 0 1) C()) 2 0 4 1))"

func newGoldie(t *testing.T) *goldie.Goldie {
	return goldie.New(t,
		goldie.WithFixtureDir("testdata/golden"),
		goldie.WithNameSuffix(".golden"),
	)
}

func TestParseAveragePlan(t *testing.T) {
	op, err := ParsePlan(averagePlan)
	require.NoError(t, err)

	want := &operator.Forward{Child: &operator.Aggregate{
		Child: &operator.Merge{
			Left:  &operator.Project{Child: &operator.Sense{}, Columns: []int{0, 1}},
			Right: &operator.Collect{},
		},
		CountColumn: 2,
		Funcs:       []operator.Aggregation{{Func: operator.Count, Column: 1}},
	}}
	assert.Equal(t, want, op)
}

func TestFormatParseRoundTrip(t *testing.T) {
	plans := []string{
		"S()",
		"C()",
		averagePlan,
		"R(F(S() <(@(0) i(12))))",
		"R(A(M(P(S() 0 1 2) C()) 3 1 0 0 1 2 2))",
		"R(F(S() !(=(@(1) n(7)) <(-(@(0) f(-1.5)) l(-9223372036854775808)))))",
		"M(S() F(C() =(/(@(0) y(-3)) *(b(1) b(0)))))",
	}
	for _, s := range plans {
		t.Run(s, func(t *testing.T) {
			op, err := ParsePlan(s)
			require.NoError(t, err)
			require.NoError(t, operator.Validate(op))

			got, err := FormatPlan(op)
			require.NoError(t, err)
			assert.Equal(t, s, got)
		})
	}
}

func TestParseIgnoresExtraWhitespace(t *testing.T) {
	op, err := ParsePlan("  R( A( M( P( S( ) 0\t1 ) C() )\n2 0 4 1 ) ) ")
	require.NoError(t, err)

	got, err := FormatPlan(op)
	require.NoError(t, err)
	assert.Equal(t, averagePlan, got)
}

func TestLexMinus(t *testing.T) {
	e, err := ParseExpr("-(@(0) i(-5))")
	require.NoError(t, err)
	assert.Equal(t, &expr.Binary{
		Op:    expr.OpSubtract,
		Left:  &expr.Attribute{Index: 0},
		Right: &expr.Constant{Value: ir.NewInt32(-5)},
	}, e)

	e, err = ParseExpr("f(-.25)")
	require.NoError(t, err)
	assert.Equal(t, &expr.Constant{Value: ir.NewFloat32(-0.25)}, e)
}

func TestParseErrors(t *testing.T) {
	tests := []struct {
		name  string
		input string
	}{
		{"empty", ""},
		{"unknown tag", "Q()"},
		{"expression as plan", "@(0)"},
		{"extra child", "R(S() S())"},
		{"missing paren", "R(S()"},
		{"trailing input", "S() S()"},
		{"bad character", "S(#)"},
		{"project without columns", "P(S())"},
		{"negative column", "P(S() -1)"},
		{"fractional column", "P(S() 1.5)"},
		{"unknown function", "A(S() 2 0 9 1)"},
		{"missing function column", "A(S() 2 0 4)"},
		{"missing group", "A(S() 2 1)"},
		{"bad literal", "F(S() =(@(0) b(2)))"},
		{"literal overflow", "F(S() =(@(0) y(300)))"},
		{"select without condition", "F(S())"},
		{"deep nesting", strings.Repeat("R(", maxDepth+1) + "S()" + strings.Repeat(")", maxDepth+1)},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ParsePlan(tt.input)
			require.Error(t, err)
			assert.True(t, ir.IsDecode(err), "got %v", err)
		})
	}
}

func TestFormatRejectsLocalHelpers(t *testing.T) {
	_, err := FormatPlan(&operator.Forward{Child: &operator.Product{Left: &operator.Sense{}, Right: &operator.Sense{}}})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no grammar form")

	_, err = FormatPlan(operator.Fixed(ir.NewTable(ir.TaskID{})))
	assert.Error(t, err)
}

func TestFormatRejectsNonFiniteConstant(t *testing.T) {
	_, err := FormatExpr(&expr.Constant{Value: ir.NewFloat32(float32(math.NaN()))})
	assert.True(t, ir.IsIncompatible(err))
}

func TestFormatGolden(t *testing.T) {
	plan := &operator.Forward{Child: &operator.Aggregate{
		Child: &operator.Merge{
			Left: &operator.Project{
				Child: &operator.Select{
					Child: &operator.Sense{},
					Cond: &expr.Binary{
						Op:    expr.OpLessThan,
						Left:  &expr.Attribute{Index: 1},
						Right: &expr.Constant{Value: ir.NewFloat32(21.5)},
					},
				},
				Columns: []int{0, 1},
			},
			Right: &operator.Collect{},
		},
		CountColumn: 2,
		Groups:      []int{0},
		Funcs:       []operator.Aggregation{{Func: operator.Avg, Column: 1}},
	}}

	text, err := FormatPlan(plan)
	require.NoError(t, err)

	g := newGoldie(t)
	g.Assert(t, "grouped_average", []byte(text))
	g.Assert(t, "grouped_average_outline", []byte(Outline(plan)))
}

// A parsed plan must evaluate exactly like the tree it was printed from.
func TestParsedPlanEvaluatesLikeOriginal(t *testing.T) {
	original := &operator.Aggregate{
		Child: &operator.Select{
			Child: &operator.Sense{},
			Cond: &expr.Binary{
				Op:    expr.OpNand,
				Left:  &expr.Binary{Op: expr.OpLessThan, Left: &expr.Attribute{Index: 1}, Right: &expr.Constant{Value: ir.NewInt32(0)}},
				Right: &expr.Constant{Value: ir.NewBool(true)},
			},
		},
		CountColumn: 2,
		Funcs:       []operator.Aggregation{{Func: operator.Sum, Column: 1}},
	}
	text, err := FormatPlan(original)
	require.NoError(t, err)
	parsed, err := ParsePlan(text)
	require.NoError(t, err)

	env := func() *operator.Env {
		return operator.NewEnv(ir.TaskID{QueryID: 3}, ir.RoleSensing,
			operator.WithSensor(testutil.NewStaticSensor(ir.NewNodeAddress(5), ir.NewInt32(17))),
			operator.WithOptions(operator.Options{Isolated: true, LevelDelay: time.Millisecond, PollInterval: time.Millisecond}),
		)
	}
	want, err := original.Evaluate(context.Background(), env(), 2)
	require.NoError(t, err)
	got, err := parsed.Evaluate(context.Background(), env(), 2)
	require.NoError(t, err)

	assert.Equal(t, want, got)
	assert.Equal(t, []ir.Row{{ir.NewNodeAddress(5), ir.NewInt32(17), ir.NewInt32(1)}}, got.Rows)
}
