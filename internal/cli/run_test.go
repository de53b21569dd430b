package cli

import (
	"bytes"
	"context"
	"encoding/json"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/sensornet/internal/store"
)

func executeRun(t *testing.T, opts *RootOptions, args ...string) (string, error) {
	t.Helper()
	buf, errBuf := &bytes.Buffer{}, &bytes.Buffer{}
	cmd := NewRunCommand(opts)
	cmd.SetOut(buf)
	cmd.SetErr(errBuf)
	cmd.SetArgs(args)
	cmd.SetContext(context.Background())
	err := cmd.Execute()
	return buf.String(), err
}

func TestRunPrintsEveryEpoch(t *testing.T) {
	out, err := executeRun(t, &RootOptions{Format: "text"}, filepath.Join("testdata", "tree.cue"))
	require.NoError(t, err)

	assert.Contains(t, out, "query 1/1/")
	assert.Contains(t, out, "epoch 0: 2 row(s)\n  n(2)\ti(10)\n  n(3)\ti(20)\n")
	assert.Contains(t, out, "epoch 1: 2 row(s)\n  n(2)\ti(11)\n  n(3)\ti(21)\n")
	assert.NotContains(t, out, "exception")
}

func TestRunJSONWithEpochLimit(t *testing.T) {
	out, err := executeRun(t, &RootOptions{Format: "json"}, filepath.Join("testdata", "forever.cue"), "--epochs", "1")
	require.NoError(t, err)

	var resp struct {
		Status string    `json:"status"`
		Data   RunOutput `json:"data"`
	}
	require.NoError(t, json.Unmarshal([]byte(out), &resp))
	assert.Equal(t, "ok", resp.Status)
	require.NotEmpty(t, resp.Data.Results)
	assert.Equal(t, int64(0), resp.Data.Results[0].Epoch)
	assert.Equal(t, [][]string{{"n(2)", "i(1)"}}, resp.Data.Results[0].Rows)
}

func TestRunUnboundedQueryNeedsEpochs(t *testing.T) {
	_, err := executeRun(t, &RootOptions{Format: "text"}, filepath.Join("testdata", "forever.cue"))
	require.Error(t, err)
	assert.Equal(t, ExitCommandError, GetExitCode(err))
	assert.Contains(t, err.Error(), "--epochs")
}

func TestRunExceptionsFail(t *testing.T) {
	out, err := executeRun(t, &RootOptions{Format: "text"}, filepath.Join("testdata", "failing.cue"))
	require.Error(t, err)
	assert.Equal(t, ExitFailure, GetExitCode(err))
	assert.Contains(t, out, "exception epoch 0 node 2 [INCOMPATIBLE_OPERAND]")
}

func TestRunPersistsToStore(t *testing.T) {
	dbPath := filepath.Join(t.TempDir(), "nodes.db")
	_, err := executeRun(t, &RootOptions{Format: "text"}, filepath.Join("testdata", "tree.cue"), "--store", dbPath)
	require.NoError(t, err)

	st, err := store.Open(dbPath)
	require.NoError(t, err)
	defer st.Close()
	queries, err := st.Queries(context.Background(), 1)
	require.NoError(t, err)
	assert.NotEmpty(t, queries)
}

func TestRunCommandErrors(t *testing.T) {
	tests := []struct {
		name string
		args []string
		want string
	}{
		{"missing file", []string{"/nonexistent/tree.cue"}, "deployment not found"},
		{"invalid deployment", []string{filepath.Join("testdata", "bad_period.cue")}, "invalid deployment"},
		{"negative epochs", []string{filepath.Join("testdata", "tree.cue"), "--epochs", "-1"}, "--epochs must be non-negative"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := executeRun(t, &RootOptions{Format: "text"}, tt.args...)
			require.Error(t, err)
			assert.Equal(t, ExitCommandError, GetExitCode(err))
			assert.Contains(t, err.Error(), tt.want)
		})
	}
}
