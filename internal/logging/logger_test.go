package logging

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"testing"

	"github.com/fyrsmithlabs/devscontext/internal/config"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

func captureStream(t *testing.T) *bytes.Buffer {
	t.Helper()
	var buf bytes.Buffer
	orig := streamWriter
	streamWriter = func(string) io.Writer { return &buf }
	t.Cleanup(func() { streamWriter = orig })
	return &buf
}

func TestNewLogger_JSONOutputRedacts(t *testing.T) {
	buf := captureStream(t)

	cfg := NewDefaultConfig()
	cfg.Format = "json"
	cfg.Sampling.Enabled = false
	logger, err := NewLogger(cfg, nil)
	require.NoError(t, err)

	ctx := WithTaskID(context.Background(), "PROJ-123")
	logger.Info(ctx, "fetched ticket",
		zap.String("api_token", "abc"),
		zap.String("note", "Authorization: Bearer xyz"),
		zap.Int("comments", 3),
	)
	require.NoError(t, logger.Sync())

	var entry map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &entry))
	assert.Equal(t, "fetched ticket", entry["msg"])
	assert.Equal(t, "PROJ-123", entry["task_id"])
	assert.Equal(t, "[REDACTED]", entry["api_token"])
	assert.Equal(t, "[REDACTED:pattern]", entry["note"])
	assert.EqualValues(t, 3, entry["comments"])
	assert.Equal(t, "devscontext", entry["service"])
}

func TestNewLogger_LevelFilters(t *testing.T) {
	buf := captureStream(t)

	cfg := NewDefaultConfig()
	cfg.Level = zapcore.WarnLevel
	logger, err := NewLogger(cfg, nil)
	require.NoError(t, err)

	logger.Info(context.Background(), "hidden")
	logger.Warn(context.Background(), "shown")
	assert.NotContains(t, buf.String(), "hidden")
	assert.Contains(t, buf.String(), "shown")
}

func TestConfigValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr bool
	}{
		{"default", func(*Config) {}, false},
		{"bad format", func(c *Config) { c.Format = "xml" }, true},
		{"bad stream", func(c *Config) { c.Output.Stream = "file" }, true},
		{"no outputs", func(c *Config) { c.Output = OutputConfig{} }, true},
		{"bad pattern", func(c *Config) { c.Redaction.Patterns = []string{"("} }, true},
		{"zero tick", func(c *Config) { c.Sampling.Tick = 0 }, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := NewDefaultConfig()
			tt.mutate(cfg)
			err := cfg.Validate()
			if tt.wantErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestFromAppConfig(t *testing.T) {
	cfg, err := FromAppConfig(config.LoggingConfig{Level: "trace", Format: "json", Output: "stdout"})
	require.NoError(t, err)
	assert.Equal(t, TraceLevel, cfg.Level)
	assert.Equal(t, "json", cfg.Format)
	assert.Equal(t, "stdout", cfg.Output.Stream)

	_, err = FromAppConfig(config.LoggingConfig{Level: "loud"})
	assert.Error(t, err)
}

func TestLevelFromString(t *testing.T) {
	for in, want := range map[string]zapcore.Level{
		"trace": TraceLevel,
		"DEBUG": zapcore.DebugLevel,
		"":      zapcore.InfoLevel,
		"warn":  zapcore.WarnLevel,
		"error": zapcore.ErrorLevel,
	} {
		got, err := LevelFromString(in)
		require.NoError(t, err, in)
		assert.Equal(t, want, got, in)
	}
}

func TestContextFields(t *testing.T) {
	ctx := WithRunID(WithTaskID(context.Background(), "T-1"), "run-9")
	ctx = WithSource(ctx, "slack")

	tl := NewTestLogger()
	tl.Info(ctx, "fetching")
	tl.AssertField(t, "fetching", "task_id", "T-1")
	tl.AssertField(t, "fetching", "run_id", "run-9")
	tl.AssertField(t, "fetching", "source", "slack")

	assert.Empty(t, ContextFields(context.Background()))
}

func TestFromContext(t *testing.T) {
	assert.NotNil(t, FromContext(context.Background()))

	tl := NewTestLogger()
	ctx := WithLogger(context.Background(), tl.Logger)
	FromContext(ctx).Warn(ctx, "via context")
	tl.AssertLogged(t, zapcore.WarnLevel, "via context")
}

func TestSecretField(t *testing.T) {
	tl := NewTestLogger()
	tl.Info(context.Background(), "creds", Secret("key", config.Secret("abcdef")))
	tl.AssertField(t, "creds", "key", "[REDACTED:6]")
}

func TestSampling_ErrorsNeverDropped(t *testing.T) {
	buf := captureStream(t)
	cfg := NewDefaultConfig()
	cfg.Sampling.Initial = 1
	cfg.Sampling.Thereafter = 0
	logger, err := NewLogger(cfg, nil)
	require.NoError(t, err)

	for i := 0; i < 5; i++ {
		logger.Error(context.Background(), "boom")
	}
	assert.Equal(t, 5, bytes.Count(buf.Bytes(), []byte("boom")))
}
