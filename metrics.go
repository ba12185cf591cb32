package swapgo

import (
	"context"
	"sync/atomic"
	"time"

	"github.com/hupe1980/swapgo/swap"
)

// MetricsCollector receives swap engine events.
// Implement this interface to integrate with monitoring systems like
// Prometheus (see metrics/prom).
type MetricsCollector = swap.Metrics

// NoopMetricsCollector is a no-op implementation of MetricsCollector.
// Use this when metrics collection is not needed.
type NoopMetricsCollector = swap.NoopMetrics

// BasicMetricsCollector provides simple in-memory metrics collection.
// Useful for debugging and basic monitoring without external dependencies.
type BasicMetricsCollector struct {
	SwapCount        atomic.Int64
	SwapErrors       atomic.Int64
	SwapBytes        atomic.Int64
	SwapTotalNanos   atomic.Int64
	ReloadCount      atomic.Int64
	ReloadErrors     atomic.Int64
	ReloadBytes      atomic.Int64
	ReloadTotalNanos atomic.Int64
	ConflictCount    atomic.Int64
	CycleCount       atomic.Int64
	CycleSwapped     atomic.Int64
	lastState        atomic.Int32
}

// RecordSwap implements MetricsCollector.
func (b *BasicMetricsCollector) RecordSwap(_ string, bytes int, d time.Duration, err error) {
	b.SwapCount.Add(1)
	b.SwapTotalNanos.Add(d.Nanoseconds())
	if err != nil {
		b.SwapErrors.Add(1)
		return
	}
	b.SwapBytes.Add(int64(bytes))
}

// RecordReload implements MetricsCollector.
func (b *BasicMetricsCollector) RecordReload(_ string, bytes int, d time.Duration, err error) {
	b.ReloadCount.Add(1)
	b.ReloadTotalNanos.Add(d.Nanoseconds())
	if err != nil {
		b.ReloadErrors.Add(1)
		return
	}
	b.ReloadBytes.Add(int64(bytes))
}

// RecordConflict implements MetricsCollector.
func (b *BasicMetricsCollector) RecordConflict(string) {
	b.ConflictCount.Add(1)
}

// RecordCycle implements MetricsCollector.
func (b *BasicMetricsCollector) RecordCycle(_ swap.MemoryState, _, swapped int, _ time.Duration) {
	b.CycleCount.Add(1)
	b.CycleSwapped.Add(int64(swapped))
}

// RecordMemoryState implements MetricsCollector.
func (b *BasicMetricsCollector) RecordMemoryState(state swap.MemoryState, _ float64) {
	b.lastState.Store(int32(state))
}

// GetStats returns a snapshot of current metrics.
func (b *BasicMetricsCollector) GetStats() BasicMetricsStats {
	return BasicMetricsStats{
		SwapCount:      b.SwapCount.Load(),
		SwapErrors:     b.SwapErrors.Load(),
		SwapBytes:      b.SwapBytes.Load(),
		SwapAvgNanos:   avg(b.SwapTotalNanos.Load(), b.SwapCount.Load()),
		ReloadCount:    b.ReloadCount.Load(),
		ReloadErrors:   b.ReloadErrors.Load(),
		ReloadBytes:    b.ReloadBytes.Load(),
		ReloadAvgNanos: avg(b.ReloadTotalNanos.Load(), b.ReloadCount.Load()),
		ConflictCount:  b.ConflictCount.Load(),
		CycleCount:     b.CycleCount.Load(),
		CycleSwapped:   b.CycleSwapped.Load(),
		MemoryState:    swap.MemoryState(b.lastState.Load()),
	}
}

func avg(total, count int64) int64 {
	if count == 0 {
		return 0
	}
	return total / count
}

// BasicMetricsStats is a snapshot of BasicMetricsCollector state.
type BasicMetricsStats struct {
	SwapCount      int64
	SwapErrors     int64
	SwapBytes      int64
	SwapAvgNanos   int64
	ReloadCount    int64
	ReloadErrors   int64
	ReloadBytes    int64
	ReloadAvgNanos int64
	ConflictCount  int64
	CycleCount     int64
	CycleSwapped   int64
	MemoryState    swap.MemoryState
}

// observer forwards engine events to the collector and the logger.
type observer struct {
	next   MetricsCollector
	logger *Logger
	state  atomic.Int32 // last logged state, -1 before the first sample
}

func newObserver(next MetricsCollector, logger *Logger) *observer {
	o := &observer{next: next, logger: logger}
	o.state.Store(-1)
	return o
}

func (o *observer) RecordSwap(kind string, bytes int, d time.Duration, err error) {
	o.logger.LogSwap(context.Background(), kind, bytes, d, err)
	o.next.RecordSwap(kind, bytes, d, err)
}

func (o *observer) RecordReload(kind string, bytes int, d time.Duration, err error) {
	o.logger.LogReload(context.Background(), kind, bytes, d, err)
	o.next.RecordReload(kind, bytes, d, err)
}

func (o *observer) RecordConflict(kind string) {
	o.next.RecordConflict(kind)
}

func (o *observer) RecordCycle(state swap.MemoryState, candidates, swapped int, d time.Duration) {
	o.logger.LogCycle(context.Background(), state, candidates, swapped, d)
	o.next.RecordCycle(state, candidates, swapped, d)
}

func (o *observer) RecordMemoryState(state swap.MemoryState, freeRatio float64) {
	if prev := o.state.Swap(int32(state)); prev >= 0 && prev != int32(state) {
		o.logger.LogMemoryState(context.Background(), swap.MemoryState(prev), state, freeRatio)
	}
	o.next.RecordMemoryState(state, freeRatio)
}

var (
	_ MetricsCollector = (*BasicMetricsCollector)(nil)
	_ MetricsCollector = (*observer)(nil)
)
