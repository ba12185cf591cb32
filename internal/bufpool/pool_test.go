package bufpool

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/hupe1980/swapgo/internal/resource"
	"github.com/hupe1980/swapgo/swap"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBucketFor(t *testing.T) {
	tests := []struct {
		size, want int
	}{
		{0, 10_000},
		{1, 10_000},
		{9_999, 10_000},
		{10_000, 10_000},
		{10_001, 20_000},
		{123_456, 130_000},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, BucketFor(tt.size), "size %d", tt.size)
	}
}

func TestPool_GetLimitsToRequestedSize(t *testing.T) {
	p := New()
	buf, err := p.Get(context.Background(), 12_345)
	require.NoError(t, err)
	assert.Equal(t, 12_345, buf.Limit())
	assert.Len(t, buf.Bytes(), 12_345)
	assert.Equal(t, 20_000, buf.Cap())
}

func TestPool_Reuse(t *testing.T) {
	p := New()
	ctx := context.Background()

	first, err := p.Get(ctx, 5_000)
	require.NoError(t, err)
	p.Release(first)

	second, err := p.Get(ctx, 7_000)
	require.NoError(t, err)
	assert.Same(t, first, second)
	assert.Equal(t, BucketSize, second.Cap())
	assert.Equal(t, 7_000, second.Limit())

	st := p.Stats()
	assert.Equal(t, uint64(1), st.Allocations)
	assert.Equal(t, uint64(1), st.Hits)
	assert.Equal(t, uint64(1), st.Releases)
	assert.Equal(t, 1, st.Buckets)

	p.Release(second)
	allocs := testing.AllocsPerRun(100, func() {
		b, _ := p.Get(ctx, 5_000)
		p.Release(b)
	})
	assert.Zero(t, allocs)
}

func TestPool_DiscardsForeignBuffers(t *testing.T) {
	p := New(WithMaxPerBucket(1))
	ctx := context.Background()

	p.Release(nil)
	p.Release(&Buffer{buf: make([]byte, 1234)})

	a, _ := p.Get(ctx, 10)
	b, _ := p.Get(ctx, 10)
	p.Release(a)
	p.Release(b)

	st := p.Stats()
	assert.Equal(t, uint64(2), st.Discards)
	assert.Equal(t, uint64(1), st.Releases)
	assert.Equal(t, int64(BucketSize), st.IdleBytes)
}

func TestPool_AccountsIdleBytes(t *testing.T) {
	rc := resource.NewController(resource.Config{MemoryLimitBytes: 1 << 20})
	p := New(WithResourceController(rc))
	ctx := context.Background()

	buf, _ := p.Get(ctx, 25_000)
	assert.Zero(t, rc.MemoryUsage())

	p.Release(buf)
	assert.Equal(t, int64(30_000), rc.MemoryUsage())

	_, _ = p.Get(ctx, 25_000)
	assert.Zero(t, rc.MemoryUsage())
}

func TestPool_BucketsAreReclaimed(t *testing.T) {
	c, err := swap.NewCoordinator(
		swap.WithBackground(false),
		swap.WithSampler(swap.SamplerFunc(func() swap.Sample { return swap.Sample{Free: 0, Max: 100} })),
		swap.WithSampleTTL(0),
		swap.WithGCHint(func() {}),
	)
	require.NoError(t, err)
	defer c.Close()

	rc := resource.NewController(resource.Config{})
	p := New(WithCoordinator(c), WithResourceController(rc), WithMinAge(time.Millisecond))
	ctx := context.Background()

	bufs := make([]*Buffer, 4)
	for i := range bufs {
		bufs[i], err = p.Get(ctx, 100)
		require.NoError(t, err)
	}
	for _, b := range bufs {
		p.Release(b)
	}
	require.Equal(t, 1, c.Stats().Registered)

	// Age the bucket past the Critical minimum priority.
	time.Sleep(5 * time.Millisecond)

	assert.Equal(t, 1, c.RunCycle(ctx))
	st := p.Stats()
	assert.Equal(t, uint64(4), st.Reclaimed)
	assert.Zero(t, st.IdleBytes)
	assert.Zero(t, rc.MemoryUsage())

	// Empty buckets are not candidates.
	assert.Equal(t, 0, c.RunCycle(ctx))

	p.Close()
	assert.Zero(t, p.Stats().Buckets)
}

func TestPool_LargeAllocWaitsForMemory(t *testing.T) {
	c, err := swap.NewCoordinator(
		swap.WithBackground(false),
		swap.WithSampler(swap.SamplerFunc(func() swap.Sample { return swap.Sample{Free: 0, Max: 100} })),
		swap.WithSampleTTL(0),
		swap.WithPollInterval(time.Millisecond),
	)
	require.NoError(t, err)
	defer c.Close()

	p := New(WithCoordinator(c), WithLargeAllocBytes(50_000))

	// Nothing can be evicted: the wait gives up and the allocation proceeds.
	buf, err := p.Get(context.Background(), 60_000)
	require.NoError(t, err)
	assert.Equal(t, 60_000, buf.Cap())

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err = p.Get(ctx, 60_000)
	assert.ErrorIs(t, err, context.Canceled)

	// Small requests never wait.
	_, err = p.Get(ctx, 100)
	assert.NoError(t, err)
}

func TestPool_Concurrent(t *testing.T) {
	p := New()
	ctx := context.Background()

	var wg sync.WaitGroup
	for g := range 8 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := range 200 {
				b, err := p.Get(ctx, (g*1000+i)%45_000+1)
				if err != nil {
					t.Error(err)
					return
				}
				b.Bytes()[0] = byte(i)
				p.Release(b)
			}
		}()
	}
	wg.Wait()

	st := p.Stats()
	assert.Equal(t, uint64(1600), st.Allocations+st.Hits)
	assert.LessOrEqual(t, st.Buckets, 5)
}

func BenchmarkPool_GetRelease(b *testing.B) {
	p := New()
	ctx := context.Background()
	for b.Loop() {
		buf, _ := p.Get(ctx, 32_000)
		p.Release(buf)
	}
}
