package cli

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeSuite(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "suite.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func executeSuite(t *testing.T, format string, args ...string) (string, error) {
	t.Helper()
	buf := &bytes.Buffer{}
	cmd := newSuiteCommand(&SuiteOptions{RootOptions: &RootOptions{Format: format}})
	cmd.SetOut(buf)
	cmd.SetErr(&bytes.Buffer{})
	cmd.SetArgs(args)
	err := cmd.Execute()
	return buf.String(), err
}

const passingSuite = `
name: cli-suite
defaults:
  workers: 3
  iterations: 10
  provision: true
runs:
  - name: committed
    backend: memory
    dsn: cli-suite-committed
    levels: [read-committed, serializable]
  - name: snapshot
    backend: memory
    dsn: cli-suite-snapshot
    levels: [repeatable-read]
`

func TestSuiteCommand_Pass(t *testing.T) {
	out, err := executeSuite(t, "text", writeSuite(t, passingSuite))
	require.NoError(t, err)

	assert.Contains(t, out, "suite cli-suite")
	assert.Contains(t, out, "final=30/30")
	assert.Contains(t, out, "3 runs, 3 met expectations, 0 unexpected")
}

func TestSuiteCommand_JSON(t *testing.T) {
	out, err := executeSuite(t, "json", writeSuite(t, passingSuite))
	require.NoError(t, err)

	resp, data := decodeResponse(t, out)
	assert.Equal(t, "ok", resp.Status)
	assert.Equal(t, "cli-suite", data["name"])
	assert.Len(t, data["outcomes"], 3)
}

func TestSuiteCommand_Filter(t *testing.T) {
	out, err := executeSuite(t, "text", writeSuite(t, passingSuite), "--run", "snapshot")
	require.NoError(t, err)
	assert.Contains(t, out, "1 runs, 1 met expectations")
	assert.NotContains(t, out, "committed")

	_, err = executeSuite(t, "text", writeSuite(t, passingSuite), "--run", "nope")
	require.Error(t, err)
	assert.Equal(t, ExitCommandError, GetExitCode(err))
	assert.Contains(t, err.Error(), `no run named "nope"`)
}

func TestSuiteCommand_UnmetExpectation(t *testing.T) {
	path := writeSuite(t, `
name: wrong-expectation
runs:
  - name: atomic
    backend: memory
    dsn: cli-suite-unmet
    provision: true
    workers: 2
    iterations: 5
    levels: [serializable]
    expect: lost-updates
`)

	out, err := executeSuite(t, "json", path)
	require.Error(t, err)
	assert.Equal(t, ExitFailure, GetExitCode(err))
	assert.Contains(t, err.Error(), "1 of 1 runs did not meet expectations")

	resp, _ := decodeResponse(t, out)
	assert.Equal(t, "error", resp.Status)
	require.NotNil(t, resp.Error)
	assert.Equal(t, CodeSuite, resp.Error.Code)
}

func TestSuiteCommand_InvalidFile(t *testing.T) {
	tests := []struct {
		name string
		args []string
		want string
	}{
		{"missing file", []string{filepath.Join(t.TempDir(), "missing.yaml")}, "failed to read suite file"},
		{"schema violation", []string{writeSuite(t, "name: x\nruns: []\n")}, "invalid suite"},
		{"bad level", []string{writeSuite(t, `
name: x
runs:
  - {name: a, backend: memory, levels: [snapshot]}
`)}, "unknown isolation level"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := executeSuite(t, "text", tt.args...)
			require.Error(t, err)
			assert.Equal(t, ExitCommandError, GetExitCode(err))
			assert.Contains(t, err.Error(), tt.want)
		})
	}
}

func TestSuiteCommand_RequiresFile(t *testing.T) {
	_, err := executeSuite(t, "text")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "accepts 1 arg")
}
