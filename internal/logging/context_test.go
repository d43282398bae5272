package logging

import (
	"bytes"
	"context"
	"encoding/json"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestContextIDs(t *testing.T) {
	ctx := context.Background()
	assert.Empty(t, RunID(ctx))
	assert.Empty(t, Agent(ctx))

	ctx = WithRunID(ctx, "run-1")
	ctx = WithAgent(ctx, "UmlCriticAgent")
	assert.Equal(t, "run-1", RunID(ctx))
	assert.Equal(t, "UmlCriticAgent", Agent(ctx))
}

func TestCorrelationHandler_AddsAttributes(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(NewCorrelationHandler(slog.NewJSONHandler(&buf, nil)))

	ctx := WithAgent(WithRunID(context.Background(), "run-7"), "UmlRendererAgent")
	logger.InfoContext(ctx, "rendered")

	var rec map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &rec))
	assert.Equal(t, "run-7", rec["run_id"])
	assert.Equal(t, "UmlRendererAgent", rec["agent"])
	assert.Equal(t, "rendered", rec["msg"])
}

func TestCorrelationHandler_SkipsEmpty(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(NewCorrelationHandler(slog.NewJSONHandler(&buf, nil))).With("component", "runtime")

	logger.InfoContext(context.Background(), "idle")

	var rec map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &rec))
	assert.NotContains(t, rec, "run_id")
	assert.NotContains(t, rec, "agent")
	assert.Equal(t, "runtime", rec["component"])
}
