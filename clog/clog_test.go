package clog

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type ctxKey struct{}

func newJSONLogger(t *testing.T, buf *bytes.Buffer, opts ...Option) Logger {
	t.Helper()
	opts = append(opts, WithWriter(buf))
	logger, err := New(&Config{Level: "debug", Format: "json"}, opts...)
	require.NoError(t, err)
	return logger
}

func decodeLines(t *testing.T, buf *bytes.Buffer) []map[string]any {
	t.Helper()
	var out []map[string]any
	for _, line := range strings.Split(strings.TrimSpace(buf.String()), "\n") {
		if line == "" {
			continue
		}
		var m map[string]any
		require.NoError(t, json.Unmarshal([]byte(line), &m))
		out = append(out, m)
	}
	return out
}

// TestNew 测试 Logger 创建
func TestNew(t *testing.T) {
	tests := []struct {
		name    string
		config  *Config
		wantErr bool
	}{
		{name: "nil config", config: nil},
		{name: "valid config", config: &Config{Level: "info", Format: "console", Output: "stdout"}},
		{name: "invalid level", config: &Config{Level: "verbose"}, wantErr: true},
		{name: "invalid format", config: &Config{Format: "xml"}, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			logger, err := New(tt.config)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.NotNil(t, logger)
		})
	}
}

func TestNamespaceAndFields(t *testing.T) {
	var buf bytes.Buffer
	logger := newJSONLogger(t, &buf, WithNamespace("meshlink"))

	logger.WithNamespace("registry").
		With(String("service", "user-service")).
		Info("instance registered", Int("port", 8080), Error(errors.New("boom")))

	lines := decodeLines(t, &buf)
	require.Len(t, lines, 1)
	assert.Equal(t, "meshlink.registry", lines[0][NamespaceKey])
	assert.Equal(t, "user-service", lines[0]["service"])
	assert.Equal(t, float64(8080), lines[0]["port"])
	assert.Equal(t, "boom", lines[0]["err_msg"])
	assert.Equal(t, "INFO", lines[0]["level"])
}

func TestContextFields(t *testing.T) {
	var buf bytes.Buffer
	logger := newJSONLogger(t, &buf, WithContextField(ctxKey{}, "correlation_id"))

	ctx := context.WithValue(context.Background(), ctxKey{}, "corr-1")
	logger.InfoContext(ctx, "dispatch")
	logger.InfoContext(context.Background(), "no correlation")

	lines := decodeLines(t, &buf)
	require.Len(t, lines, 2)
	assert.Equal(t, "corr-1", lines[0]["correlation_id"])
	assert.NotContains(t, lines[1], "correlation_id")
}

func TestSetLevel(t *testing.T) {
	var buf bytes.Buffer
	logger := newJSONLogger(t, &buf)

	require.NoError(t, logger.SetLevel(WarnLevel))
	logger.Info("dropped")
	logger.Warn("kept")

	lines := decodeLines(t, &buf)
	require.Len(t, lines, 1)
	assert.Equal(t, "kept", lines[0]["msg"])
}

func TestParseLevel(t *testing.T) {
	level, err := ParseLevel("WARN")
	require.NoError(t, err)
	assert.Equal(t, WarnLevel, level)
	assert.Equal(t, "warn", level.String())

	_, err = ParseLevel("nope")
	assert.Error(t, err)
}

func TestDiscard(t *testing.T) {
	logger := Discard()
	logger.With(String("k", "v")).WithNamespace("x").Error("nothing")
	assert.NoError(t, logger.SetLevel(DebugLevel))
}
