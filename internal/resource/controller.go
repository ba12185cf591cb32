package resource

import (
	"context"
	"errors"
	"sync/atomic"

	"golang.org/x/sync/semaphore"
	"golang.org/x/time/rate"
)

// ErrMemoryLimitExceeded is returned when a reservation would exceed the budget.
var ErrMemoryLimitExceeded = errors.New("memory limit exceeded")

// Config holds resource limits.
type Config struct {
	// MemoryLimitBytes is the budget for managed memory (resident fragment
	// arrays and pooled buffers). If 0, usage is tracked but never refused.
	MemoryLimitBytes int64

	// MaxHelpers is the maximum number of concurrent helper evictions
	// started on behalf of blocked eviction workers.
	// If 0, defaults to 1.
	MaxHelpers int64

	// IOLimitBytesPerSec is the maximum swap-file throughput.
	// If 0, unlimited.
	IOLimitBytesPerSec int64
}

// Controller accounts managed memory, bounds helper evictions and
// rate-limits swap IO.
type Controller struct {
	cfg Config

	memUsed atomic.Int64
	memPeak atomic.Int64

	helperSem *semaphore.Weighted

	ioLimiter *rate.Limiter
	ioBurst   int
}

// NewController creates a new resource controller.
func NewController(cfg Config) *Controller {
	if cfg.MaxHelpers <= 0 {
		cfg.MaxHelpers = 1
	}

	c := &Controller{
		cfg:       cfg,
		helperSem: semaphore.NewWeighted(cfg.MaxHelpers),
	}

	if cfg.IOLimitBytesPerSec > 0 {
		c.ioBurst = int(min(cfg.IOLimitBytesPerSec, int64(1<<30)))
		c.ioLimiter = rate.NewLimiter(rate.Limit(cfg.IOLimitBytesPerSec), c.ioBurst)
	}

	return c
}

// AcquireMemory attempts to reserve memory within the budget.
// Returns ErrMemoryLimitExceeded if the limit would be exceeded.
// Non-blocking - callers decide whether to apply backpressure and retry.
func (c *Controller) AcquireMemory(bytes int64) error {
	if c == nil || bytes <= 0 {
		return nil
	}
	limit := c.cfg.MemoryLimitBytes
	for {
		used := c.memUsed.Load()
		if limit > 0 && used+bytes > limit {
			return ErrMemoryLimitExceeded
		}
		if c.memUsed.CompareAndSwap(used, used+bytes) {
			c.notePeak(used + bytes)
			return nil
		}
	}
}

// ReserveMemory records bytes as in use regardless of the budget.
// Reloads must never fail on accounting, so they reserve instead of acquire.
func (c *Controller) ReserveMemory(bytes int64) {
	if c == nil || bytes <= 0 {
		return
	}
	c.notePeak(c.memUsed.Add(bytes))
}

// ReleaseMemory returns previously acquired or reserved memory.
func (c *Controller) ReleaseMemory(bytes int64) {
	if c == nil || bytes <= 0 {
		return
	}
	c.memUsed.Add(-bytes)
}

func (c *Controller) notePeak(v int64) {
	for {
		p := c.memPeak.Load()
		if v <= p || c.memPeak.CompareAndSwap(p, v) {
			return
		}
	}
}

// MemoryUsage returns the current managed memory in bytes.
func (c *Controller) MemoryUsage() int64 {
	if c == nil {
		return 0
	}
	return c.memUsed.Load()
}

// MemoryPeak returns the highest managed memory observed.
func (c *Controller) MemoryPeak() int64 {
	if c == nil {
		return 0
	}
	return c.memPeak.Load()
}

// MemoryLimit returns the configured memory budget in bytes (0 if unlimited).
func (c *Controller) MemoryLimit() int64 {
	if c == nil {
		return 0
	}
	return c.cfg.MemoryLimitBytes
}

// TryAcquireHelper attempts to reserve a helper slot without blocking.
func (c *Controller) TryAcquireHelper() bool {
	if c == nil {
		return true
	}
	return c.helperSem.TryAcquire(1)
}

// ReleaseHelper releases a helper slot.
func (c *Controller) ReleaseHelper() {
	if c == nil {
		return
	}
	c.helperSem.Release(1)
}

// AcquireIO waits until the IO limit allows the specified number of bytes.
// Requests larger than the bucket are split.
func (c *Controller) AcquireIO(ctx context.Context, bytes int) error {
	if c == nil || c.ioLimiter == nil {
		return nil
	}
	for bytes > 0 {
		n := min(bytes, c.ioBurst)
		if err := c.ioLimiter.WaitN(ctx, n); err != nil {
			return err
		}
		bytes -= n
	}
	return nil
}
