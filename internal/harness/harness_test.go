package harness

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"github.com/roach88/sensornet/internal/ir"
	"github.com/roach88/sensornet/internal/node"
	"github.com/roach88/sensornet/internal/store"
)

func writeScenario(t *testing.T, body string) string {
	t.Helper()
	dir := t.TempDir()
	deployment, err := os.ReadFile(filepath.Join("testdata", "deployments", "tree.cue"))
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(filepath.Join(dir, "tree.cue"), deployment, 0o644))
	path := filepath.Join(dir, "scenario.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))
	return path
}

func TestLoadScenarioResolvesDeployment(t *testing.T) {
	s, err := LoadScenario(filepath.Join("testdata", "scenarios", "collect_all.yaml"))
	require.NoError(t, err)
	assert.Equal(t, "collect_all", s.Name)
	assert.Equal(t, filepath.Join("testdata", "deployments", "tree.cue"), s.Deployment)
	assert.Len(t, s.Assertions, 4)
	assert.Equal(t, [][]string{{"n(2)", "i(10)"}, {"n(3)", "i(10)"}, {"n(4)", "i(40)"}}, s.Assertions[1].Rows)
}

func TestLoadScenarioErrors(t *testing.T) {
	tests := []struct {
		name string
		body string
		want string
	}{
		{"unknown field", "name: a\ndescription: b\ndeployment: tree.cue\nasertions: []\n", "failed to parse YAML"},
		{"missing name", "description: b\ndeployment: tree.cue\nassertions: [{type: no_exceptions}]\n", "name is required"},
		{"missing deployment file", "name: a\ndescription: b\ndeployment: gone.cue\nassertions: [{type: no_exceptions}]\n", "deployment file not found"},
		{"no assertions", "name: a\ndescription: b\ndeployment: tree.cue\n", "assertions list is required"},
		{"unknown assertion", "name: a\ndescription: b\ndeployment: tree.cue\nassertions: [{type: maybe}]\n", "unknown assertion type"},
		{"rows without rows", "name: a\ndescription: b\ndeployment: tree.cue\nassertions: [{type: rows, epoch: 0}]\n", "rows is required"},
		{"empty exception", "name: a\ndescription: b\ndeployment: tree.cue\nassertions: [{type: exception}]\n", "reporter or code is required"},
		{"negative epochs", "name: a\ndescription: b\ndeployment: tree.cue\nepochs: -1\nassertions: [{type: no_exceptions}]\n", "epochs must be non-negative"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := LoadScenario(writeScenario(t, tt.body))
			assert.ErrorContains(t, err, tt.want)
		})
	}
}

func TestFindScenarios(t *testing.T) {
	files, err := FindScenarios(filepath.Join("testdata", "scenarios"))
	require.NoError(t, err)
	assert.Len(t, files, 3)

	one := filepath.Join("testdata", "scenarios", "filtered.yaml")
	files, err = FindScenarios(one)
	require.NoError(t, err)
	assert.Equal(t, []string{one}, files)

	_, err = FindScenarios(filepath.Join("testdata", "missing"))
	assert.Error(t, err)
}

func TestScenariosPass(t *testing.T) {
	defer goleak.VerifyNone(t)
	files, err := FindScenarios(filepath.Join("testdata", "scenarios"))
	require.NoError(t, err)

	for _, file := range files {
		t.Run(filepath.Base(file), func(t *testing.T) {
			s, err := LoadScenario(file)
			require.NoError(t, err)
			result, err := Run(context.Background(), s)
			require.NoError(t, err)
			assert.True(t, result.Pass, "errors: %v", result.Errors)
		})
	}
}

func TestCollectAllGolden(t *testing.T) {
	s, err := LoadScenario(filepath.Join("testdata", "scenarios", "collect_all.yaml"))
	require.NoError(t, err)
	result, err := RunWithGolden(t, s)
	require.NoError(t, err)
	assert.True(t, result.Pass)
}

func TestRunWithStoreDir(t *testing.T) {
	dir := t.TempDir()
	s, err := LoadScenario(filepath.Join("testdata", "scenarios", "incompatible.yaml"))
	require.NoError(t, err)

	result, err := New(WithStoreDir(dir)).Run(context.Background(), s)
	require.NoError(t, err)
	assert.True(t, result.Pass, "errors: %v", result.Errors)

	st, err := store.Open(filepath.Join(dir, "incompatible.db"))
	require.NoError(t, err)
	defer st.Close()
	excs, err := st.Exceptions(context.Background(), 3)
	require.NoError(t, err)
	assert.Len(t, excs, 2)
}

func TestAssertionsReportFailures(t *testing.T) {
	owner := ir.TaskID{QueryID: 1, Origin: 1, Seq: 1}
	result := NewResult()
	result.AddEpoch(node.Result{Query: owner, Epoch: 0, Table: ir.NewTable(owner,
		ir.Row{ir.NewNodeAddress(3), nil},
		ir.Row{ir.NewNodeAddress(2), ir.NewInt32(5)},
	)})
	result.AddException(store.Exception{Query: owner, Epoch: 0, Reporter: 3, Code: ir.ErrCodeTransport, Message: "x"})

	assert.Equal(t, [][]string{{"n(2)", "i(5)"}, {"n(3)", "-"}}, result.Results[0].Rows)

	passing := []Assertion{
		{Type: AssertResultCount, Count: 1},
		{Type: AssertRowCount, Epoch: 0, Count: 2},
		{Type: AssertRows, Epoch: 0, Rows: [][]string{{"n(3)", "-"}, {"n(2)", "i(5)"}}},
		{Type: AssertException, Reporter: 3},
		{Type: AssertException, Code: string(ir.ErrCodeTransport)},
	}
	assert.Empty(t, EvaluateAssertions(result, passing))

	failing := []Assertion{
		{Type: AssertResultCount, Count: 2},
		{Type: AssertRowCount, Epoch: 1, Count: 2},
		{Type: AssertRows, Epoch: 0, Rows: [][]string{{"n(2)", "i(5)"}}},
		{Type: AssertException, Reporter: 2},
		{Type: AssertNoExceptions},
	}
	failures := EvaluateAssertions(result, failing)
	require.Len(t, failures, 5)
	assert.Contains(t, failures[0], "Assertion failed: result_count")
	assert.Contains(t, failures[1], "a result for epoch 1")
}

func TestMarshalSnapshotIsStable(t *testing.T) {
	result := NewResult()
	result.AddException(store.Exception{Epoch: 1, Reporter: 4, Code: "C", Message: "late"})
	result.AddException(store.Exception{Epoch: 0, Reporter: 9, Code: "C", Message: "early"})

	a, err := MarshalSnapshot("s", result)
	require.NoError(t, err)
	b, err := MarshalSnapshot("s", result)
	require.NoError(t, err)
	assert.Equal(t, a, b)
	assert.Equal(t, uint64(9), result.Exceptions[0].Reporter)
}
