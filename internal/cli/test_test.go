package cli

import (
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var scenarioDir = filepath.Join("..", "harness", "testdata", "scenarios")

func executeTest(t *testing.T, opts *RootOptions, args ...string) (string, error) {
	t.Helper()
	buf := &bytes.Buffer{}
	cmd := NewTestCommand(opts)
	cmd.SetOut(buf)
	cmd.SetErr(&bytes.Buffer{})
	cmd.SetArgs(args)
	err := cmd.Execute()
	return buf.String(), err
}

func TestTestCommandMissingArgs(t *testing.T) {
	_, err := executeTest(t, &RootOptions{Format: "text"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "accepts 1 arg")
}

func TestTestCommandNonExistentPath(t *testing.T) {
	_, err := executeTest(t, &RootOptions{Format: "text"}, "/nonexistent/scenarios")
	require.Error(t, err)
	assert.Equal(t, ExitCommandError, GetExitCode(err))
	assert.Contains(t, err.Error(), "scenarios not found")
}

func TestTestCommandEmptyDir(t *testing.T) {
	out, err := executeTest(t, &RootOptions{Format: "text"}, t.TempDir())
	require.NoError(t, err)
	assert.Contains(t, out, "No scenarios found")
}

func TestTestCommandEmptyDirJSON(t *testing.T) {
	out, err := executeTest(t, &RootOptions{Format: "json"}, t.TempDir())
	require.NoError(t, err)

	var resp CLIResponse
	require.NoError(t, json.Unmarshal([]byte(out), &resp))
	assert.Equal(t, "ok", resp.Status)
}

func TestTestCommandUpdateNeedsGolden(t *testing.T) {
	_, err := executeTest(t, &RootOptions{Format: "text"}, scenarioDir, "--update")
	require.Error(t, err)
	assert.Equal(t, ExitCommandError, GetExitCode(err))
}

func TestTestCommandRunsScenarios(t *testing.T) {
	out, err := executeTest(t, &RootOptions{Format: "text"}, scenarioDir, "--filter", "filt*")
	require.NoError(t, err)
	assert.Contains(t, out, "✓ filtered")
	assert.NotContains(t, out, "collect_all")
	assert.Contains(t, out, "Test Summary: 1 passed, 0 failed, 1 total")
}

func TestTestCommandJSON(t *testing.T) {
	out, err := executeTest(t, &RootOptions{Format: "json"}, filepath.Join(scenarioDir, "incompatible.yaml"))
	require.NoError(t, err)

	var resp struct {
		Status string     `json:"status"`
		Data   TestResult `json:"data"`
	}
	require.NoError(t, json.Unmarshal([]byte(out), &resp))
	assert.Equal(t, "ok", resp.Status)
	assert.Equal(t, 1, resp.Data.Total)
	assert.Equal(t, 1, resp.Data.Passed)
	require.Len(t, resp.Data.Scenarios, 1)
	assert.Equal(t, "incompatible", resp.Data.Scenarios[0].Name)
}

func TestTestCommandFailingScenario(t *testing.T) {
	dir := t.TempDir()
	deployment, err := os.ReadFile(filepath.Join("..", "harness", "testdata", "deployments", "filter.cue"))
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(filepath.Join(dir, "filter.cue"), deployment, 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "wrong.yaml"), []byte(`name: wrong
description: "Expects a row the filter drops"
deployment: filter.cue
assertions:
  - type: row_count
    epoch: 0
    count: 3
`), 0o644))

	out, err := executeTest(t, &RootOptions{Format: "text"}, dir)
	require.Error(t, err)
	assert.Equal(t, ExitFailure, GetExitCode(err))
	assert.Contains(t, out, "✗ wrong")
	assert.Contains(t, out, "Assertion failed: row_count")
	assert.Contains(t, out, "Test Summary: 0 passed, 1 failed, 1 total")
}

func TestTestCommandGolden(t *testing.T) {
	golden := t.TempDir()
	file := filepath.Join(scenarioDir, "filtered.yaml")

	out, err := executeTest(t, &RootOptions{Format: "text"}, file, "--golden", golden, "--update")
	require.NoError(t, err, out)
	snapshot, err := os.ReadFile(filepath.Join(golden, "filtered.golden"))
	require.NoError(t, err)
	assert.Contains(t, string(snapshot), `"scenario_name": "filtered"`)

	_, err = executeTest(t, &RootOptions{Format: "text"}, file, "--golden", golden)
	require.NoError(t, err)

	require.NoError(t, os.WriteFile(filepath.Join(golden, "filtered.golden"), []byte("{}\n"), 0o644))
	out, err = executeTest(t, &RootOptions{Format: "text"}, file, "--golden", golden)
	require.Error(t, err)
	assert.Contains(t, out, "does not match golden file")
}
