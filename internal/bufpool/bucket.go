package bufpool

import (
	"context"
	"sync"

	"github.com/hupe1980/swapgo/swap"
)

// bucket is the free list of one buffer size. It is resident (valid) while
// it holds idle buffers, so only non-empty buckets are eviction candidates.
type bucket struct {
	swap.Base
	pool   *Pool
	size   int
	handle swap.Handle

	mu   sync.Mutex
	free []*Buffer
}

func newBucket(p *Pool, size int) *bucket {
	b := &bucket{pool: p, size: size}
	b.Init(p.opts.minAge)
	b.SetValid(false)
	b.MarkCompleted()
	return b
}

func (b *bucket) pop() *Buffer {
	b.mu.Lock()
	defer b.mu.Unlock()

	n := len(b.free)
	if n == 0 {
		return nil
	}
	buf := b.free[n-1]
	b.free[n-1] = nil
	b.free = b.free[:n-1]
	if n == 1 {
		b.SetValid(false)
	}
	b.Touch()
	b.pool.opts.rc.ReleaseMemory(int64(b.size))
	return buf
}

func (b *bucket) push(buf *Buffer) bool {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.IsDisposed() || len(b.free) >= b.pool.opts.maxPerBucket {
		return false
	}
	buf.limit = 0
	b.free = append(b.free, buf)
	b.SetValid(true)
	b.Touch()
	b.pool.opts.rc.ReserveMemory(int64(b.size))
	return true
}

func (b *bucket) idleBytes() int64 {
	b.mu.Lock()
	defer b.mu.Unlock()
	return int64(len(b.free) * b.size)
}

// drop releases every idle buffer. mu must be held.
func (b *bucket) drop() int {
	n := len(b.free)
	clear(b.free)
	b.free = nil
	b.SetValid(false)
	b.pool.opts.rc.ReleaseMemory(int64(n * b.size))
	return n
}

func (b *bucket) SwapPriority() float64 { return b.Priority() }

// Swap drops the idle buffers. There is nothing to write out.
func (b *bucket) Swap(context.Context) bool {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.Priority() == 0 {
		return false
	}
	n := b.drop()
	b.pool.reclaimed.Add(uint64(n))
	b.pool.opts.logger.Debug("reclaimed pooled buffers", "bucket", b.size, "count", n)
	return n > 0
}

func (b *bucket) Dispose() {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.MarkDisposed() {
		b.drop()
	}
}

var _ swap.Swappable = (*bucket)(nil)
