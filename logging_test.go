package duckling

import (
	"bytes"
	"encoding/json"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewLoggerJSON(t *testing.T) {
	var buf bytes.Buffer
	l := NewLogger("debug", "json", &buf)
	l.Debug("database opened", "path", Memory)

	var entry map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &entry))
	assert.Equal(t, "database opened", entry["msg"])
	assert.Equal(t, "duckling", entry["component"])
	assert.Equal(t, Memory, entry["path"])
}

func TestNewLoggerLevel(t *testing.T) {
	var buf bytes.Buffer
	l := NewLogger("warn", "text", &buf)
	l.Info("hidden")
	assert.Zero(t, buf.Len())
	l.Warn("shown")
	assert.Contains(t, buf.String(), "msg=shown")

	assert.Equal(t, slog.LevelInfo, parseLevel("verbose"))
	assert.Equal(t, slog.LevelWarn, parseLevel("WARNING"))
}

func TestConnectionCloseWarnsAboutDiscardedRows(t *testing.T) {
	var buf bytes.Buffer
	SetLogger(NewLogger("warn", "json", &buf))
	defer SetLogger(nil)

	_, conn := openMemory(t, nil)
	mustExec(t, conn, "CREATE TABLE t (x INTEGER)")

	app, err := conn.Appender("t")
	require.NoError(t, err)
	require.NoError(t, app.AddRows([][]any{{1}, {2}}))

	require.NoError(t, conn.Close())
	assert.Contains(t, buf.String(), "discarding unflushed rows")
	assert.Contains(t, buf.String(), `"rows":2`)
}
