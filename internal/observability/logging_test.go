package observability

import (
	"bytes"
	"context"
	"errors"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestCtxHandler_AddsContextValues(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(&ctxHandler{slog.NewTextHandler(&buf, nil)})

	ctx := WithRequestID(context.Background(), "req-1")
	ctx = WithUserID(ctx, "alice")
	ctx = WithTraceID(ctx, "trace-9")

	logger.InfoContext(ctx, "hello")

	out := buf.String()
	assert.Contains(t, out, "request_id=req-1")
	assert.Contains(t, out, "user_id=alice")
	assert.Contains(t, out, "trace_id=trace-9")
}

func TestCtxHandler_WithAttrsKeepsContextValues(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(&ctxHandler{slog.NewTextHandler(&buf, nil)}).With("component", "ledger")

	logger.InfoContext(WithUserID(context.Background(), "bob"), "hello")

	assert.Contains(t, buf.String(), "component=ledger")
	assert.Contains(t, buf.String(), "user_id=bob")
}

func TestLogSideEffectFailure_LogsEffect(t *testing.T) {
	var buf bytes.Buffer
	prev := Logger
	Logger = slog.New(&ctxHandler{slog.NewTextHandler(&buf, nil)})
	defer func() { Logger = prev }()

	LogSideEffectFailure(context.Background(), "unit_test", errors.New("boom"), slog.String("entry_id", "e1"))

	out := buf.String()
	assert.Contains(t, out, "effect=unit_test")
	assert.Contains(t, out, "error=boom")
	assert.Contains(t, out, "entry_id=e1")
}
