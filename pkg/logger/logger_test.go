package logger

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestInitJSONWritesStructuredFields(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, Init(Options{Level: "debug", Format: "json", Output: &buf}))

	Named("engine").Info(context.Background(), "tick committed",
		Float64("effective", 72.5),
		Int("seq", 3),
		Error(errors.New("boom")),
	)

	var rec map[string]interface{}
	require.NoError(t, json.Unmarshal(bytes.TrimSpace(buf.Bytes()), &rec))
	require.Equal(t, "tick committed", rec["msg"])
	require.Equal(t, "engine", rec["component"])
	require.Equal(t, 72.5, rec["effective"])
	require.Contains(t, rec["source"], "logger_test.go")
}

func TestLevelFiltering(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, Init(Options{Level: "warn", Format: "json", Output: &buf}))

	l := Get()
	l.Info(context.Background(), "hidden")
	l.Warn(context.Background(), "shown")

	out := buf.String()
	require.NotContains(t, out, "hidden")
	require.True(t, strings.Contains(out, "shown"))
}

func TestInitRejectsUnknownSettings(t *testing.T) {
	require.Error(t, Init(Options{Level: "loud"}))
	require.Error(t, Init(Options{Level: "info", Format: "xml"}))
}

func TestNopDiscards(t *testing.T) {
	// Must not panic.
	Nop().Error(context.Background(), "dropped", String("k", "v"))
}

func TestToSlogKeepsName(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, Init(Options{Level: "info", Format: "json", Output: &buf}))

	ToSlog(Named("biometric")).Info("retry", "task", "fetch_daily")

	var rec map[string]interface{}
	require.NoError(t, json.Unmarshal(bytes.TrimSpace(buf.Bytes()), &rec))
	require.Equal(t, "biometric", rec["component"])
	require.Equal(t, "fetch_daily", rec["task"])
}
