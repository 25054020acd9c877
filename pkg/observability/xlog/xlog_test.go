package xlog

import (
	"bytes"
	"context"
	"encoding/json"
	"log/slog"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/omeyang/xclient/pkg/context/xctx"
)

func TestBuilder_JSONWithEnrich(t *testing.T) {
	var buf bytes.Buffer
	logger, cleanup, err := New().SetOutput(&buf).SetFormat("JSON").SetLevelString("debug").
		With(slog.String("component", "test")).Build()
	require.NoError(t, err)
	defer func() { _ = cleanup() }()

	ctx := xctx.WithRequestID(context.Background(), "req-9")
	ctx = xctx.WithAttempt(ctx, 2)
	logger.DebugContext(ctx, "hello", "k", "v")

	var rec map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &rec))
	assert.Equal(t, "hello", rec["msg"])
	assert.Equal(t, "req-9", rec[xctx.KeyRequestID])
	assert.EqualValues(t, 2, rec[xctx.KeyAttempt])
	assert.Equal(t, "test", rec["component"])
}

func TestBuilder_LevelFilter(t *testing.T) {
	var buf bytes.Buffer
	logger, _, err := New().SetOutput(&buf).SetLevel(slog.LevelWarn).Build()
	require.NoError(t, err)

	logger.Info("dropped")
	assert.Empty(t, buf.String())
	logger.Warn("kept")
	assert.Contains(t, buf.String(), "kept")
}

func TestBuilder_Tint(t *testing.T) {
	var buf bytes.Buffer
	logger, _, err := New().SetOutput(&buf).SetFormat("tint").SetNoColor(true).Build()
	require.NoError(t, err)

	logger.InfoContext(xctx.WithRequestID(context.Background(), "abc"), "tinted")
	assert.Contains(t, buf.String(), "tinted")
	assert.Contains(t, buf.String(), "request_id=abc")
}

func TestBuilder_Rotation(t *testing.T) {
	path := filepath.Join(t.TempDir(), "client.log")
	logger, cleanup, err := New().SetRotation(path, RotationConfig{}).SetFormat("json").Build()
	require.NoError(t, err)

	logger.Info("to file")
	require.NoError(t, cleanup())
	require.NoError(t, cleanup())
	assert.FileExists(t, path)
}

func TestBuilder_Errors(t *testing.T) {
	_, _, err := New().SetFormat("xml").Build()
	assert.Error(t, err)

	_, _, err = New().SetLevelString("loud").Build()
	assert.Error(t, err)

	_, _, err = New().SetRotation(" ", RotationConfig{}).Build()
	assert.Error(t, err)

	_, err = NewEnrichHandler(nil)
	assert.ErrorIs(t, err, ErrNilHandler)
}

func TestParseLevel(t *testing.T) {
	for in, want := range map[string]slog.Level{
		"debug": slog.LevelDebug, "INFO": slog.LevelInfo, "": slog.LevelInfo,
		"warning": slog.LevelWarn, "error": slog.LevelError,
	} {
		got, err := ParseLevel(in)
		require.NoError(t, err, in)
		assert.Equal(t, want, got, in)
	}
}

func TestOrDefault(t *testing.T) {
	assert.Same(t, slog.Default(), OrDefault(nil))
	l := slog.New(slog.NewTextHandler(&bytes.Buffer{}, nil))
	assert.Same(t, l, OrDefault(l))
}
