package swap

import "time"

// Metrics receives swap engine events.
// Implementations must be safe for concurrent use.
type Metrics interface {
	// RecordSwap is called after an eviction attempt that reached storage.
	RecordSwap(kind string, bytes int, d time.Duration, err error)
	// RecordReload is called after a swapped entity was read back.
	RecordReload(kind string, bytes int, d time.Duration, err error)
	// RecordConflict is called when a swap was rejected because the entity
	// was in use or no longer eligible.
	RecordConflict(kind string)
	// RecordCycle is called after each eviction pass.
	RecordCycle(state MemoryState, candidates, swapped int, d time.Duration)
	// RecordMemoryState is called whenever memory is sampled.
	RecordMemoryState(state MemoryState, freeRatio float64)
}

// NoopMetrics discards everything.
type NoopMetrics struct{}

func (NoopMetrics) RecordSwap(string, int, time.Duration, error)     {}
func (NoopMetrics) RecordReload(string, int, time.Duration, error)   {}
func (NoopMetrics) RecordConflict(string)                            {}
func (NoopMetrics) RecordCycle(MemoryState, int, int, time.Duration) {}
func (NoopMetrics) RecordMemoryState(MemoryState, float64)           {}
