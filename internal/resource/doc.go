// Package resource governs the shared resources of the swap engine.
//
// A Controller covers three concerns:
//
//   - Memory: accounts bytes held by resident fragments and pooled buffers
//     against an optional budget (see swap.BudgetSampler)
//   - Helpers: bounds the helper evictions an eviction worker may start
//     while it waits for memory
//   - IO: token-bucket limit on swap-file reads and writes
//
// # Memory
//
// AcquireMemory is non-blocking and fails fast with ErrMemoryLimitExceeded.
// ReserveMemory always succeeds; it is used where refusing would lose data,
// such as reloading a swapped fragment:
//
//	rc := resource.NewController(resource.Config{MemoryLimitBytes: 512 << 20})
//	if err := rc.AcquireMemory(n); err != nil {
//	    // apply backpressure, then reserve
//	}
//	defer rc.ReleaseMemory(n)
//
// # IO
//
//	w := resource.NewRateLimitedWriter(ctx, file, rc)
//	r := resource.NewRateLimitedReader(ctx, file, rc)
//
// All methods are safe for concurrent use and a nil *Controller is a no-op.
package resource
