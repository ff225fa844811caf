package logging

import (
	"bytes"
	"encoding/json"
	"log/slog"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseLevel(t *testing.T) {
	assert.Equal(t, slog.LevelDebug, ParseLevel("DEBUG"))
	assert.Equal(t, slog.LevelWarn, ParseLevel("warning"))
	assert.Equal(t, slog.LevelError, ParseLevel("error"))
	assert.Equal(t, slog.LevelInfo, ParseLevel("nonsense"))
}

func TestNew_JSON(t *testing.T) {
	var buf bytes.Buffer
	logger := New(&buf, "info", "json")
	logger.Debug("hidden")
	logger.Info("stored", "name", "Ali_abcd1234.txt")

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	require.Len(t, lines, 1)
	var rec map[string]any
	require.NoError(t, json.Unmarshal([]byte(lines[0]), &rec))
	assert.Equal(t, "stored", rec["msg"])
	assert.Equal(t, "Ali_abcd1234.txt", rec["name"])
}

func TestPrettyHandler_Blocks(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(NewPrettyHandler(&buf, &PrettyOptions{Level: slog.LevelInfo}))
	logger.With("source", "live").Info("classified", "event_id", "abc", "text", "line one\nline two")

	out := buf.String()
	assert.Contains(t, out, "INF classified source=live event_id=abc")
	assert.Contains(t, out, "    | line one\n")
	assert.Contains(t, out, "    | line two\n")
	assert.NotContains(t, out, "text=")
}

func TestPrettyHandler_Groups(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(NewPrettyHandler(&buf, nil))
	logger.WithGroup("pacing").With("batch", 20).Info("drain", "gap", "1s")

	out := buf.String()
	assert.Contains(t, out, "pacing.batch=20")
	assert.Contains(t, out, "pacing.gap=1s")
}
