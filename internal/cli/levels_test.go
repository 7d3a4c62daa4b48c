package cli

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLevelsCommand_Text(t *testing.T) {
	buf := &bytes.Buffer{}
	cmd := NewLevelsCommand(&RootOptions{Format: "text"})
	cmd.SetOut(buf)
	cmd.SetArgs([]string{})

	require.NoError(t, cmd.Execute())
	out := buf.String()
	assert.Contains(t, out, "read-uncommitted   Read Uncommitted\n")
	assert.Contains(t, out, "serializable       Serializable  snapshot\n")
	for _, backend := range []string{"badger", "bolt", "memory", "mysql", "postgres", "sqlite"} {
		assert.Contains(t, out, "  "+backend+"\n")
	}
}

func TestLevelsCommand_JSON(t *testing.T) {
	buf := &bytes.Buffer{}
	cmd := NewLevelsCommand(&RootOptions{Format: "json"})
	cmd.SetOut(buf)
	cmd.SetArgs([]string{})

	require.NoError(t, cmd.Execute())
	resp, data := decodeResponse(t, buf.String())
	assert.Equal(t, "ok", resp.Status)

	levels, ok := data["levels"].([]any)
	require.True(t, ok)
	require.Len(t, levels, 4)
	first := levels[0].(map[string]any)
	assert.Equal(t, "read-uncommitted", first["name"])
	assert.Equal(t, false, first["snapshot"])
	assert.Len(t, data["backends"], 6)
}
