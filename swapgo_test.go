package swapgo

import (
	"context"
	"fmt"
	"os"
	"testing"
	"time"

	"github.com/hupe1980/swapgo/blobstore"
	"github.com/hupe1980/swapgo/codec"
	"github.com/hupe1980/swapgo/list"
	"github.com/hupe1980/swapgo/swap"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestEngine(t *testing.T, opts ...Option) *Engine {
	t.Helper()
	base := []Option{
		WithDir(t.TempDir()),
		WithBackground(false),
		WithMinAge(time.Millisecond),
		WithCoordinatorOptions(swap.WithGCHint(func() {}), swap.WithSampleTTL(0)),
	}
	eng, err := New(append(base, opts...)...)
	require.NoError(t, err)
	t.Cleanup(func() { _ = eng.Close() })
	return eng
}

func TestEngine_IntListUnderBudget(t *testing.T) {
	ctx := context.Background()
	const block = 1 << list.IntBlockBits
	metrics := &BasicMetricsCollector{}

	// Ten full fragments of 128 KiB leave 1/6 of a 1.5 MiB budget: Low.
	eng := newTestEngine(t, WithMemoryLimit(1536<<10), WithMetricsCollector(metrics))

	l := eng.NewIntList()
	defer l.Dispose()
	for i := range 10 * block {
		require.NoError(t, l.Add(int32(i)))
	}
	l.Complete()

	st := eng.Stats()
	assert.Equal(t, int64(10*block*4), st.MemoryUsage)
	assert.Equal(t, int64(1536<<10), st.MemoryLimit)
	assert.Equal(t, 10, st.Registered)
	assert.Equal(t, swap.Low, eng.Coordinator().State())

	time.Sleep(30 * time.Millisecond)
	assert.Equal(t, 4, eng.RunCycle(ctx))
	assert.Less(t, eng.Stats().MemoryUsage, st.MemoryUsage)

	s := metrics.GetStats()
	assert.Equal(t, int64(4), s.SwapCount)
	assert.Zero(t, s.SwapErrors)
	assert.Positive(t, s.SwapBytes)
	assert.Equal(t, int64(1), s.CycleCount)
	assert.Equal(t, int64(4), s.CycleSwapped)

	sum := int64(0)
	for v, err := range l.All(ctx) {
		require.NoError(t, err)
		sum += int64(v)
	}
	n := int64(10 * block)
	assert.Equal(t, n*(n-1)/2, sum)
	assert.Equal(t, int64(4), metrics.GetStats().ReloadCount)
}

func TestEngine_ObjectList(t *testing.T) {
	ctx := context.Background()
	eng := newTestEngine(t, WithCompression(CompressionZSTD))

	type doc struct {
		ID    int
		Title string
	}
	l := NewObjectList(eng, codec.Value[doc]{})
	defer l.Dispose()
	for i := range 1000 {
		require.NoError(t, l.Add(doc{ID: i, Title: fmt.Sprintf("doc %d", i)}))
	}
	l.Complete()

	v, err := l.GetContext(ctx, 999)
	require.NoError(t, err)
	assert.Equal(t, "doc 999", v.Title)
}

func TestEngine_String(t *testing.T) {
	ctx := context.Background()
	eng := newTestEngine(t)

	s := eng.NewString("hello")
	defer s.Dispose()
	require.True(t, s.Swap(ctx))

	v, err := s.Get(ctx)
	require.NoError(t, err)
	assert.Equal(t, "hello", v)
}

func TestEngine_Store(t *testing.T) {
	ctx := context.Background()
	store := blobstore.NewMemoryStore()
	eng := newTestEngine(t, WithStore(store))
	assert.Same(t, store, eng.Store())

	s := eng.NewString("x")
	require.True(t, s.Swap(ctx))
	assert.Equal(t, 1, store.Len())

	s.Dispose()
	assert.Zero(t, store.Len())
	_, err := s.Get(ctx)
	assert.ErrorIs(t, err, ErrDisposed)
}

func TestEngine_TempDir(t *testing.T) {
	eng, err := New(WithBackground(false))
	require.NoError(t, err)

	dir := eng.Store().URI("")
	_, err = os.Stat(dir)
	require.NoError(t, err)

	require.NoError(t, eng.Close())
	require.NoError(t, eng.Close())
	_, err = os.Stat(dir)
	assert.True(t, os.IsNotExist(err))

	assert.ErrorIs(t, eng.WaitForMemory(context.Background()), ErrClosed)
	assert.Zero(t, eng.RunCycle(context.Background()))
}

func TestEngine_InvalidThresholds(t *testing.T) {
	_, err := New(WithDir(t.TempDir()), WithThresholds(swap.Thresholds{Critical: 0.5, Bad: 0.1, Low: 0.2, Normal: 0.4}))
	assert.Error(t, err)
}

func TestEngine_WaitForMemory(t *testing.T) {
	eng := newTestEngine(t)
	require.NoError(t, eng.WaitForMemory(context.Background()))
}

func TestEngine_Errors(t *testing.T) {
	eng := newTestEngine(t)
	l := eng.NewIntList()
	defer l.Dispose()

	_, err := l.Get(0)
	assert.ErrorIs(t, err, ErrIndexOutOfRange)

	l.Complete()
	assert.ErrorIs(t, l.Add(1), ErrSealed)
}
