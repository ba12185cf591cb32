package swapgo

import (
	"bytes"
	"context"
	"errors"
	"log/slog"
	"strings"
	"testing"
	"time"

	"github.com/goccy/go-json"
	"github.com/hupe1980/swapgo/swap"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newBufferLogger(level slog.Level) (*Logger, *bytes.Buffer) {
	var buf bytes.Buffer
	return NewLogger(slog.NewJSONHandler(&buf, &slog.HandlerOptions{Level: level})), &buf
}

func records(t *testing.T, buf *bytes.Buffer) []map[string]any {
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

func TestLogger_LogSwap(t *testing.T) {
	ctx := context.Background()
	l, buf := newBufferLogger(slog.LevelDebug)

	l.LogSwap(ctx, "int", 128, time.Millisecond, nil)
	l.LogSwap(ctx, "object", 0, time.Millisecond, errors.New("disk full"))

	recs := records(t, buf)
	require.Len(t, recs, 2)
	assert.Equal(t, "swap completed", recs[0]["msg"])
	assert.Equal(t, "int", recs[0]["kind"])
	assert.EqualValues(t, 128, recs[0]["bytes"])
	assert.Equal(t, "swap rejected", recs[1]["msg"])
	assert.Equal(t, "disk full", recs[1]["error"])
}

func TestLogger_LogCycle(t *testing.T) {
	ctx := context.Background()
	l, buf := newBufferLogger(slog.LevelInfo)

	l.LogCycle(ctx, swap.Low, 10, 0, time.Millisecond)
	l.LogCycle(ctx, swap.Low, 10, 4, time.Millisecond)

	recs := records(t, buf)
	require.Len(t, recs, 1)
	assert.Equal(t, "INFO", recs[0]["level"])
	assert.EqualValues(t, 4, recs[0]["swapped"])
	assert.Equal(t, "low", recs[0]["state"])
}

func TestLogger_NoopAndComponent(t *testing.T) {
	NoopLogger().LogReload(context.Background(), "int", 1, 0, nil)

	l, buf := newBufferLogger(slog.LevelDebug)
	l.WithComponent("coordinator").LogReload(context.Background(), "int", 64, 0, nil)
	recs := records(t, buf)
	require.Len(t, recs, 1)
	assert.Equal(t, "coordinator", recs[0]["component"])
	assert.Equal(t, "reload completed", recs[0]["msg"])
}

func TestObserver(t *testing.T) {
	l, buf := newBufferLogger(slog.LevelInfo)
	next := &BasicMetricsCollector{}
	o := newObserver(next, l)

	o.RecordMemoryState(swap.Good, 0.9)
	o.RecordMemoryState(swap.Good, 0.8)
	o.RecordMemoryState(swap.Bad, 0.07)
	o.RecordSwap("int", 10, time.Millisecond, nil)
	o.RecordReload("int", 10, time.Millisecond, errors.New("missing"))
	o.RecordConflict("int")
	o.RecordCycle(swap.Bad, 3, 1, time.Millisecond)

	recs := records(t, buf)
	require.Len(t, recs, 2)
	assert.Equal(t, "memory state changed", recs[0]["msg"])
	assert.Equal(t, "WARN", recs[0]["level"])
	assert.Equal(t, "good", recs[0]["from"])
	assert.Equal(t, "bad", recs[0]["to"])
	assert.Equal(t, "eviction cycle", recs[1]["msg"])

	s := next.GetStats()
	assert.Equal(t, int64(1), s.SwapCount)
	assert.Equal(t, int64(1), s.ReloadErrors)
	assert.Equal(t, int64(1), s.ConflictCount)
	assert.Equal(t, int64(1), s.CycleSwapped)
	assert.Equal(t, swap.Bad, s.MemoryState)
}
