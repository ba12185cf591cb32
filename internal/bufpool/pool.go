// Package bufpool provides size-bucketed scratch buffers for swap IO.
//
// Requests are rounded up to a multiple of BucketSize and served from that
// bucket's free list. Buckets are locked independently. Every bucket
// registers itself with the swap coordinator as a low-priority Swappable,
// so idle pooled buffers are reclaimed under memory pressure like any other
// cached data.
package bufpool

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/hupe1980/swapgo/internal/resource"
	"github.com/hupe1980/swapgo/swap"
)

const (
	// BucketSize is the rounding granularity of buffer sizes.
	BucketSize = 10_000

	// DefaultLargeAllocBytes is the request size from which Get applies
	// memory backpressure before allocating.
	DefaultLargeAllocBytes = 1 << 20

	// DefaultMaxPerBucket bounds the idle buffers kept per bucket.
	DefaultMaxPerBucket = 32

	// DefaultBucketMinAge ranks idle buckets below data of the same age.
	DefaultBucketMinAge = 10 * time.Second
)

// Buffer is a pooled byte buffer. Bytes is limited to the requested size;
// the capacity is the bucket size.
type Buffer struct {
	buf   []byte
	limit int
}

// Bytes returns the buffer limited to the requested size.
func (b *Buffer) Bytes() []byte { return b.buf[:b.limit] }

// Limit returns the requested size.
func (b *Buffer) Limit() int { return b.limit }

// Cap returns the bucket size.
func (b *Buffer) Cap() int { return cap(b.buf) }

// Stats is a snapshot of pool counters.
type Stats struct {
	Allocations uint64 // buffers allocated fresh
	Hits        uint64 // requests served from a bucket
	Releases    uint64 // buffers returned to a bucket
	Discards    uint64 // released buffers that were dropped
	Reclaimed   uint64 // idle buffers dropped by eviction
	Buckets     int
	IdleBytes   int64
}

type options struct {
	coord        *swap.Coordinator
	rc           *resource.Controller
	largeAlloc   int
	maxPerBucket int
	minAge       time.Duration
	logger       *slog.Logger
}

// Option configures a Pool.
type Option func(*options)

// WithCoordinator registers buckets for eviction and enables backpressure
// on large requests.
func WithCoordinator(c *swap.Coordinator) Option {
	return func(o *options) { o.coord = c }
}

// WithResourceController accounts idle pooled bytes against the managed
// memory budget.
func WithResourceController(rc *resource.Controller) Option {
	return func(o *options) { o.rc = rc }
}

// WithLargeAllocBytes sets the backpressure threshold.
func WithLargeAllocBytes(n int) Option {
	return func(o *options) {
		if n > 0 {
			o.largeAlloc = n
		}
	}
}

// WithMaxPerBucket bounds the idle buffers kept per bucket.
func WithMaxPerBucket(n int) Option {
	return func(o *options) {
		if n > 0 {
			o.maxPerBucket = n
		}
	}
}

// WithMinAge sets the min-age constant in the buckets' eviction priority.
func WithMinAge(d time.Duration) Option {
	return func(o *options) {
		if d > 0 {
			o.minAge = d
		}
	}
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(o *options) {
		if l != nil {
			o.logger = l
		}
	}
}

// Pool is a size-bucketed buffer pool. It is safe for concurrent use.
type Pool struct {
	opts    options
	buckets sync.Map // bucket index -> *bucket

	allocs    atomic.Uint64
	hits      atomic.Uint64
	releases  atomic.Uint64
	discards  atomic.Uint64
	reclaimed atomic.Uint64
}

// New returns an empty pool.
func New(opts ...Option) *Pool {
	o := options{
		largeAlloc:   DefaultLargeAllocBytes,
		maxPerBucket: DefaultMaxPerBucket,
		minAge:       DefaultBucketMinAge,
		logger:       slog.New(slog.DiscardHandler),
	}
	for _, opt := range opts {
		opt(&o)
	}
	return &Pool{opts: o}
}

// BucketFor returns the bucket size serving a request of size bytes.
func BucketFor(size int) int {
	if size <= 0 {
		return BucketSize
	}
	return (size + BucketSize - 1) / BucketSize * BucketSize
}

// Get returns a buffer of at least size bytes, limited to size.
//
// Requests of LargeAllocBytes or more first wait for memory. Only a
// canceled context fails the call; a coordinator that cannot make progress
// is logged and the allocation proceeds.
func (p *Pool) Get(ctx context.Context, size int) (*Buffer, error) {
	size = max(size, 0)
	bs := BucketFor(size)
	b := p.bucket(bs / BucketSize)

	if buf := b.pop(); buf != nil {
		p.hits.Add(1)
		buf.limit = size
		return buf, nil
	}

	if size >= p.opts.largeAlloc && p.opts.coord != nil {
		if err := p.opts.coord.WaitForMemory(ctx); err != nil {
			if ctx.Err() != nil {
				return nil, err
			}
			if !errors.Is(err, swap.ErrClosed) {
				p.opts.logger.Warn("allocating under memory pressure", "bytes", bs, "error", err)
			}
		}
	}

	p.allocs.Add(1)
	return &Buffer{buf: make([]byte, bs), limit: size}, nil
}

// Release returns buf to its bucket. Buffers whose capacity is not a
// bucket size, and buffers beyond the per-bucket bound, are dropped.
func (p *Pool) Release(buf *Buffer) {
	if buf == nil {
		return
	}
	c := cap(buf.buf)
	if c == 0 || c%BucketSize != 0 {
		p.discards.Add(1)
		return
	}
	if !p.bucket(c / BucketSize).push(buf) {
		p.discards.Add(1)
		return
	}
	p.releases.Add(1)
}

func (p *Pool) bucket(idx int) *bucket {
	if v, ok := p.buckets.Load(idx); ok {
		return v.(*bucket)
	}
	nb := newBucket(p, idx*BucketSize)
	v, loaded := p.buckets.LoadOrStore(idx, nb)
	if loaded {
		return v.(*bucket)
	}
	if p.opts.coord != nil {
		nb.handle = swap.Register(p.opts.coord, nb)
	}
	return nb
}

// Stats returns a snapshot of the pool counters.
func (p *Pool) Stats() Stats {
	s := Stats{
		Allocations: p.allocs.Load(),
		Hits:        p.hits.Load(),
		Releases:    p.releases.Load(),
		Discards:    p.discards.Load(),
		Reclaimed:   p.reclaimed.Load(),
	}
	p.buckets.Range(func(_, v any) bool {
		b := v.(*bucket)
		s.Buckets++
		s.IdleBytes += b.idleBytes()
		return true
	})
	return s
}

// Close drops every idle buffer and deregisters the buckets.
func (p *Pool) Close() {
	p.buckets.Range(func(k, v any) bool {
		b := v.(*bucket)
		if p.opts.coord != nil {
			p.opts.coord.Deregister(b.handle)
		}
		b.Dispose()
		p.buckets.Delete(k)
		return true
	})
}
