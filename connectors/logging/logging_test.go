package logging

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	dconfig "ke-billing/domain/config"
)

func TestParseLevel(t *testing.T) {
	tests := []struct {
		input string
		want  string
	}{
		{"debug", "DEBUG"},
		{"info", "INFO"},
		{"WARN", "WARN"},
		{"warning", "WARN"},
		{"error", "ERROR"},
		{"unknown", "INFO"},
		{"", "INFO"},
	}
	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			assert.Equal(t, tt.want, ParseLevel(tt.input).String())
		})
	}
}

func TestConsoleLevelFilter(t *testing.T) {
	var buf bytes.Buffer
	l, closer, err := newWithConsole(dconfig.Logging{Level: "warn"}, &buf)
	require.NoError(t, err)
	defer closer.Close()

	l.Info("hourly.start")
	l.Warn("hourly.slack.error", "error", "boom")

	out := buf.String()
	assert.NotContains(t, out, "hourly.start")
	assert.Contains(t, out, "hourly.slack.error")
	assert.Contains(t, out, "error=boom")
}

func TestFileSink(t *testing.T) {
	var buf bytes.Buffer
	path := filepath.Join(t.TempDir(), "billing.log")
	l, closer, err := newWithConsole(dconfig.Logging{Level: "info", Format: "json", File: path}, &buf)
	require.NoError(t, err)

	l.With("job", "daily").Info("daily.done", "summaries", 3)
	require.NoError(t, closer.Close())

	b, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(b), `"msg":"daily.done"`)
	assert.Contains(t, string(b), `"job":"daily"`)
	assert.Contains(t, buf.String(), `"summaries":3`)
}
