package fragment

import (
	"bytes"
	"context"
	"errors"
	"log/slog"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/hupe1980/swapgo/blobstore"
	"github.com/hupe1980/swapgo/codec"
	"github.com/hupe1980/swapgo/internal/bufpool"
	"github.com/hupe1980/swapgo/internal/compress"
	"github.com/hupe1980/swapgo/internal/fs"
	"github.com/hupe1980/swapgo/internal/resource"
	"github.com/hupe1980/swapgo/swap"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recordingMetrics struct {
	swap.NoopMetrics
	mu        sync.Mutex
	swaps     int
	reloads   int
	conflicts int
	errs      int
}

func (m *recordingMetrics) RecordSwap(_ string, _ int, _ time.Duration, err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.swaps++
	if err != nil {
		m.errs++
	}
}

func (m *recordingMetrics) RecordReload(_ string, _ int, _ time.Duration, err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.reloads++
	if err != nil {
		m.errs++
	}
}

func (m *recordingMetrics) RecordConflict(string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.conflicts++
}

type testEnv struct {
	*Env
	store    *blobstore.LocalStore
	coord    *swap.Coordinator
	metrics  *recordingMetrics
	rc       *resource.Controller
	critical atomic.Bool
}

func newTestEnv(t *testing.T, opts ...EnvOption) *testEnv {
	t.Helper()
	return newTestEnvWithStore(t, blobstore.NewLocalStore(t.TempDir()), opts...)
}

func newTestEnvWithStore(t *testing.T, store *blobstore.LocalStore, opts ...EnvOption) *testEnv {
	t.Helper()
	te := &testEnv{store: store, metrics: &recordingMetrics{}, rc: resource.NewController(resource.Config{})}
	coord, err := swap.NewCoordinator(
		swap.WithBackground(false),
		swap.WithSampler(swap.SamplerFunc(func() swap.Sample {
			if te.critical.Load() {
				return swap.Sample{Free: 0, Max: 100}
			}
			return swap.Sample{Free: 100, Max: 100}
		})),
		swap.WithSampleTTL(0),
		swap.WithPollInterval(time.Millisecond),
		swap.WithGCHint(func() {}),
	)
	require.NoError(t, err)
	t.Cleanup(func() { _ = coord.Close() })
	te.coord = coord

	base := []EnvOption{
		WithNamer(NewNamer(7)),
		WithMetrics(te.metrics),
		WithResourceController(te.rc),
		WithMinAge(time.Millisecond),
	}
	te.Env = NewEnv(coord, store, append(base, opts...)...)
	return te
}

func (te *testEnv) exists(t *testing.T, name string) bool {
	t.Helper()
	names, err := te.store.List(context.Background(), name)
	require.NoError(t, err)
	return len(names) > 0 && names[0] == name
}

// fragmentBytes is the managed memory held by fragments, without idle
// pooled buffers.
func (te *testEnv) fragmentBytes(rc *resource.Controller) int64 {
	return rc.MemoryUsage() - te.Pool().Stats().IdleBytes
}

func TestNamer(t *testing.T) {
	n := NewNamer(42)
	assert.Equal(t, "s42_0", n.Next())
	assert.Equal(t, "s42_1", n.Next())
	assert.Equal(t, "s42_1.tdat", FileName("s42_1"))
	assert.Equal(t, "s42_1_3.tdat", BlockName("s42_1", 3))
}

func TestIntFragment_RoundTrip(t *testing.T) {
	const capacity = 1 << 15
	for _, n := range []int{0, 1, 100, capacity} {
		te := newTestEnv(t)
		ctx := context.Background()

		f := NewInt(te.Env, capacity)
		for i := range n {
			require.NoError(t, f.Append(int32(i*7-3)))
		}
		require.True(t, f.Complete())
		require.False(t, f.Complete())

		require.True(t, f.Swap(ctx), "n=%d", n)
		assert.False(t, f.IsValid())
		assert.True(t, te.exists(t, FileName(f.Prefix())))

		for i := range n {
			v, err := f.Get(ctx, i)
			require.NoError(t, err)
			require.Equal(t, int32(i*7-3), v, "n=%d i=%d", n, i)
		}
		_, err := f.Get(ctx, n)
		assert.ErrorIs(t, err, ErrIndexOutOfRange)

		if n > 0 {
			assert.True(t, f.IsValid())
		}
		f.Dispose()
	}
}

func TestIntFragment_Capacity(t *testing.T) {
	te := newTestEnv(t)
	f := NewInt(te.Env, 3)
	for i := range 3 {
		require.NoError(t, f.Append(int32(i)))
	}
	err := f.Append(3)
	assert.ErrorIs(t, err, swap.ErrCapacityExceeded)
	assert.Equal(t, 3, f.Len())
	assert.Equal(t, 3, f.Cap())

	f.Complete()
	assert.ErrorIs(t, f.Append(4), ErrSealed)
}

func TestGrow(t *testing.T) {
	var data []int32
	lens := []int{}
	for len(data) < 100 {
		data = grow(data, 100)
		lens = append(lens, len(data))
	}
	assert.Equal(t, []int{16, 24, 36, 54, 81, 100}, lens)
	assert.Len(t, grow(data, 100), 100)
}

type logBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *logBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *logBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}

func captureLogger() (*slog.Logger, *logBuffer) {
	buf := &logBuffer{}
	return slog.New(slog.NewTextHandler(buf, &slog.HandlerOptions{Level: slog.LevelDebug})), buf
}

func TestIntFragment_NoSwapWhileHeld(t *testing.T) {
	logger, logs := captureLogger()
	te := newTestEnv(t, WithLogger(logger))
	ctx := context.Background()

	f := NewInt(te.Env, 10)
	require.NoError(t, f.Append(1))
	f.Complete()

	vals, err := f.Pin(ctx)
	require.NoError(t, err)
	assert.Zero(t, f.SwapPriority())
	assert.False(t, f.Swap(ctx))
	assert.True(t, f.IsValid())
	assert.Equal(t, []int32{1}, vals)
	assert.Equal(t, 1, te.metrics.conflicts)
	assert.Contains(t, logs.String(), swap.ErrConcurrentEviction.Error())

	f.Unpin()
	assert.Positive(t, f.SwapPriority())
	assert.True(t, f.Swap(ctx))
}

func TestIntFragment_BuildingIsNotSwappable(t *testing.T) {
	te := newTestEnv(t)
	f := NewInt(te.Env, 10)
	require.NoError(t, f.Append(1))
	assert.Zero(t, f.SwapPriority())
	assert.False(t, f.Swap(context.Background()))
}

func TestIntFragment_CleanSwapSkipsRewrite(t *testing.T) {
	te := newTestEnv(t)
	ctx := context.Background()

	f := NewInt(te.Env, 10)
	require.NoError(t, f.Append(5))
	f.Complete()

	require.True(t, f.Swap(ctx))
	_, err := f.Get(ctx, 0)
	require.NoError(t, err)
	require.True(t, f.Swap(ctx))
	assert.Equal(t, 1, te.metrics.swaps)
	assert.Equal(t, 1, te.metrics.reloads)

	// Truncation makes the file stale.
	require.NoError(t, f.Truncate(ctx, 0))
	require.True(t, f.Swap(ctx))
	assert.Equal(t, 2, te.metrics.swaps)
	assert.Equal(t, 0, f.Len())
}

func TestIntFragment_IOFailureKeepsDataResident(t *testing.T) {
	faulty := fs.NewFaultyFS(nil)
	te := newTestEnvWithStore(t, blobstore.NewLocalStore(t.TempDir(), blobstore.WithFileSystem(faulty)))
	ctx := context.Background()

	f := NewInt(te.Env, 100)
	for i := range 100 {
		require.NoError(t, f.Append(int32(i)))
	}
	f.Complete()

	faulty.AddRule(f.Prefix(), fs.Fault{FailAfterBytes: 16})
	assert.False(t, f.Swap(ctx))
	assert.True(t, f.IsValid())
	assert.Equal(t, 1, te.metrics.errs)
	assert.False(t, te.exists(t, FileName(f.Prefix())))

	v, err := f.Get(ctx, 99)
	require.NoError(t, err)
	assert.Equal(t, int32(99), v)

	faulty.ClearRules()
	assert.True(t, f.Swap(ctx))
	v, err = f.Get(ctx, 42)
	require.NoError(t, err)
	assert.Equal(t, int32(42), v)
}

func TestIntFragment_CorruptReloadYieldsDefaults(t *testing.T) {
	te := newTestEnv(t)
	ctx := context.Background()

	f := NewInt(te.Env, 10)
	for i := range 10 {
		require.NoError(t, f.Append(int32(i+1)))
	}
	f.Complete()
	require.True(t, f.Swap(ctx))

	require.NoError(t, te.store.Put(ctx, FileName(f.Prefix()), []byte(compress.MagicLZ4+"garbage")))

	v, err := f.Get(ctx, 3)
	require.NoError(t, err)
	assert.Zero(t, v)
	assert.True(t, f.IsValid())
	assert.Equal(t, 10, f.Len())

	// The next swap rewrites the file from the default payload.
	require.True(t, f.Swap(ctx))
	v, err = f.Get(ctx, 3)
	require.NoError(t, err)
	assert.Zero(t, v)
}

func TestIntFragment_MissingFileYieldsDefaults(t *testing.T) {
	te := newTestEnv(t)
	ctx := context.Background()

	f := NewInt(te.Env, 10)
	require.NoError(t, f.Append(9))
	f.Complete()
	require.True(t, f.Swap(ctx))
	require.NoError(t, te.store.Delete(ctx, FileName(f.Prefix())))

	v, err := f.Get(ctx, 0)
	require.NoError(t, err)
	assert.Zero(t, v)
	assert.Equal(t, 1, te.metrics.errs)
}

func TestIntFragment_Accounting(t *testing.T) {
	te := newTestEnv(t)
	ctx := context.Background()

	f := NewInt(te.Env, 100)
	for i := range 16 {
		require.NoError(t, f.Append(int32(i)))
	}
	// Growth is charged while the fragment is built.
	assert.Equal(t, int64(64), te.fragmentBytes(te.rc))
	require.NoError(t, f.Append(16))
	assert.Equal(t, int64(96), te.fragmentBytes(te.rc))
	require.NoError(t, f.Truncate(ctx, 16))

	f.Complete()
	assert.Equal(t, int64(96), te.fragmentBytes(te.rc))

	require.True(t, f.Swap(ctx))
	assert.Zero(t, te.fragmentBytes(te.rc))

	_, err := f.Get(ctx, 0)
	require.NoError(t, err)
	assert.Equal(t, int64(64), te.fragmentBytes(te.rc))

	f.Dispose()
	assert.Zero(t, te.fragmentBytes(te.rc))
}

func TestFragment_GrowthOverBudgetEvicts(t *testing.T) {
	rc := resource.NewController(resource.Config{MemoryLimitBytes: 100})
	// An unaccounted pool keeps the budget to fragment payloads.
	te := newTestEnv(t, WithResourceController(rc), WithPool(bufpool.New()))

	old := NewInt(te.Env, 100)
	for i := range 16 {
		require.NoError(t, old.Append(int32(i)))
	}
	old.Complete()
	require.Equal(t, int64(64), rc.MemoryUsage())
	time.Sleep(5 * time.Millisecond)

	// The next 64 bytes do not fit: building waits until the old
	// fragment is swapped out.
	te.critical.Store(true)
	f := NewInt(te.Env, 100)
	require.NoError(t, f.Append(1))

	assert.False(t, old.IsValid())
	assert.Equal(t, int64(64), rc.MemoryUsage())
	assert.Equal(t, 1, te.metrics.swaps)

	te.critical.Store(false)
	v, err := old.Get(context.Background(), 15)
	require.NoError(t, err)
	assert.Equal(t, int32(15), v)
	assert.Equal(t, int64(128), rc.MemoryUsage())
}

func TestFragment_Dispose(t *testing.T) {
	te := newTestEnv(t)
	ctx := context.Background()

	f := NewInt(te.Env, 10)
	require.NoError(t, f.Append(1))
	f.Complete()
	require.True(t, f.Swap(ctx))
	require.Len(t, f.Files(), 1)
	registered := te.coord.Stats().Registered

	f.Dispose()
	f.Dispose()
	assert.False(t, te.exists(t, FileName(f.Prefix())))
	assert.False(t, f.IsValid())
	assert.False(t, f.IsSwappable())
	assert.Empty(t, f.Files())
	assert.Equal(t, registered-1, te.coord.Stats().Registered)

	_, err := f.Get(ctx, 0)
	assert.ErrorIs(t, err, ErrDisposed)
	assert.False(t, f.Swap(ctx))
}

func TestFragment_SharedFileOutlivesDispose(t *testing.T) {
	te := newTestEnv(t)
	ctx := context.Background()

	f := NewInt(te.Env, 10)
	require.NoError(t, f.Append(1))
	f.Complete()
	require.True(t, f.Swap(ctx))

	uri := f.Files()[0]
	assert.Equal(t, filepath.Join(te.store.Root(), FileName(f.Prefix())), uri)

	// A second owner references the same file.
	n, err := te.Tracker().Retain(ctx, uri)
	require.NoError(t, err)
	assert.Equal(t, int64(2), n)

	f.Dispose()
	assert.True(t, te.exists(t, FileName(f.Prefix())))

	_, err = te.Tracker().Release(ctx, uri, func(ctx context.Context) error {
		return te.store.Delete(ctx, FileName(f.Prefix()))
	})
	require.NoError(t, err)
	assert.False(t, te.exists(t, FileName(f.Prefix())))
}

func TestFragment_CoordinatorEvicts(t *testing.T) {
	te := newTestEnv(t)
	ctx := context.Background()

	frags := make([]*IntFragment, 10)
	for i := range frags {
		frags[i] = NewInt(te.Env, 10)
		require.NoError(t, frags[i].Append(int32(i)))
		frags[i].Complete()
	}
	time.Sleep(5 * time.Millisecond)

	te.critical.Store(true)
	assert.Equal(t, 3, te.coord.RunCycle(ctx))
	te.critical.Store(false)
	swapped := 0
	for i, f := range frags {
		if !f.IsValid() {
			swapped++
		}
		v, err := f.Get(ctx, 0)
		require.NoError(t, err)
		assert.Equal(t, int32(i), v)
	}
	assert.Equal(t, 3, swapped)
}

func TestFragment_ConcurrentReadersAndSwaps(t *testing.T) {
	te := newTestEnv(t)
	ctx := context.Background()

	f := NewInt(te.Env, 1000)
	for i := range 1000 {
		require.NoError(t, f.Append(int32(i)))
	}
	f.Complete()

	var wg sync.WaitGroup
	stop := make(chan struct{})
	wg.Add(1)
	go func() {
		defer wg.Done()
		for {
			select {
			case <-stop:
				return
			default:
				f.Swap(ctx)
			}
		}
	}()

	for g := range 4 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := range 500 {
				idx := (g*131 + i*17) % 1000
				v, err := f.Get(ctx, idx)
				if err != nil || v != int32(idx) {
					t.Errorf("Get(%d) = %d, %v", idx, v, err)
					return
				}
			}
		}()
	}

	time.Sleep(50 * time.Millisecond)
	close(stop)
	wg.Wait()
}

type record struct {
	ID   int      `json:"id"`
	Name string   `json:"name"`
	Tags []string `json:"tags"`
}

func TestObjectFragment_RoundTrip(t *testing.T) {
	for _, n := range []int{0, 1, 500} {
		te := newTestEnv(t)
		ctx := context.Background()

		f := NewObject(te.Env, 1<<13, codec.Value[record]{})
		for i := range n {
			require.NoError(t, f.Append(record{ID: i, Name: strings.Repeat("x", i%50), Tags: []string{"a"}}))
		}
		f.Complete()
		require.True(t, f.Swap(ctx))
		assert.Equal(t, 1, f.Blocks())

		for i := range n {
			v, err := f.Get(ctx, i)
			require.NoError(t, err)
			require.Equal(t, i, v.ID)
			require.Len(t, v.Name, i%50)
		}
	}
}

func TestObjectFragment_MultiBlock(t *testing.T) {
	te := newTestEnv(t, WithMaxBlockBytes(MinBlockBytes))
	ctx := context.Background()

	const n = 300
	f := NewObject(te.Env, 1<<13, codec.String{})
	for i := range n {
		require.NoError(t, f.Append(strings.Repeat(string(rune('a'+i%26)), 1000)))
	}
	f.Complete()
	require.True(t, f.Swap(ctx))

	blocks := f.Blocks()
	assert.GreaterOrEqual(t, blocks, 4)
	for b := range blocks {
		assert.True(t, te.exists(t, BlockName(f.Prefix(), b)), "block %d", b)
	}

	for i := range n {
		v, err := f.Get(ctx, i)
		require.NoError(t, err)
		require.Len(t, v, 1000)
		require.Equal(t, byte('a'+i%26), v[0])
	}

	// A shorter payload needs fewer blocks; the stale ones are released.
	require.NoError(t, f.Truncate(ctx, 10))
	require.True(t, f.Swap(ctx))
	assert.Equal(t, 1, f.Blocks())
	names, err := te.store.List(ctx, f.Prefix())
	require.NoError(t, err)
	assert.Equal(t, []string{BlockName(f.Prefix(), 0)}, names)

	v, err := f.Get(ctx, 9)
	require.NoError(t, err)
	assert.Equal(t, byte('j'), v[0])
}

func TestObjectFragment_FailedSwapLeavesNoFiles(t *testing.T) {
	faulty := fs.NewFaultyFS(nil)
	te := newTestEnvWithStore(t, blobstore.NewLocalStore(t.TempDir(), blobstore.WithFileSystem(faulty)), WithMaxBlockBytes(MinBlockBytes))
	ctx := context.Background()

	f := NewObject(te.Env, 1<<13, codec.String{})
	for i := range 300 {
		require.NoError(t, f.Append(strings.Repeat(string(rune('a'+i%26)), 1000)))
	}
	f.Complete()

	faulty.AddRule(f.Prefix()+"_2", fs.Fault{FailOnOpen: true, FailAfterBytes: -1})
	assert.False(t, f.Swap(ctx))
	assert.True(t, f.IsValid())

	names, err := te.store.List(ctx, f.Prefix())
	require.NoError(t, err)
	assert.Empty(t, names)

	v, err := f.Get(ctx, 299)
	require.NoError(t, err)
	assert.Equal(t, byte('a'+299%26), v[0])

	// Files kept from an earlier swap survive a later failure.
	faulty.ClearRules()
	require.True(t, f.Swap(ctx))
	blocks := f.Blocks()
	require.GreaterOrEqual(t, blocks, 2)
	require.NoError(t, f.Truncate(ctx, 299))
	faulty.AddRule(BlockName(f.Prefix(), 1), fs.Fault{FailOnOpen: true, FailAfterBytes: -1})
	assert.False(t, f.Swap(ctx))
	names, err = te.store.List(ctx, f.Prefix())
	require.NoError(t, err)
	assert.Len(t, names, blocks)

	f.Dispose()
	names, err = te.store.List(ctx, f.Prefix())
	require.NoError(t, err)
	assert.Empty(t, names)
}

func TestObjectFragment_LongStringIsTruncatedWithWarning(t *testing.T) {
	logger, logs := captureLogger()
	te := newTestEnv(t, WithLogger(logger))
	ctx := context.Background()

	f := NewObject(te.Env, 4, codec.String{})
	require.NoError(t, f.Append(strings.Repeat("x", 70_000)))
	f.Complete()
	require.True(t, f.Swap(ctx))

	v, err := f.Get(ctx, 0)
	require.NoError(t, err)
	assert.Len(t, v, codec.MaxStringLen)
	assert.Contains(t, logs.String(), "string truncated")
}

func TestObjectFragment_OversizedRecord(t *testing.T) {
	te := newTestEnv(t, WithMaxBlockBytes(MinBlockBytes))
	ctx := context.Background()

	big := strings.Repeat("z", 3*MinBlockBytes)
	f := NewObject(te.Env, 10, codec.Bytes{})
	require.NoError(t, f.Append([]byte("small")))
	require.NoError(t, f.Append([]byte(big)))
	require.NoError(t, f.Append([]byte("tail")))
	f.Complete()

	require.True(t, f.Swap(ctx))
	got, err := f.Get(ctx, 1)
	require.NoError(t, err)
	assert.Equal(t, big, string(got))
	got, err = f.Get(ctx, 2)
	require.NoError(t, err)
	assert.Equal(t, "tail", string(got))
}

type failingSerializer struct{ codec.Int64 }

func (failingSerializer) Encode(*codec.Encoder, int64) error { return errors.New("unsupported") }

func TestObjectFragment_SerializationFailure(t *testing.T) {
	te := newTestEnv(t)
	ctx := context.Background()

	f := NewObject[int64](te.Env, 10, failingSerializer{})
	require.NoError(t, f.Append(1))
	f.Complete()

	assert.False(t, f.Swap(ctx))
	assert.True(t, f.IsValid())
	v, err := f.Get(ctx, 0)
	require.NoError(t, err)
	assert.Equal(t, int64(1), v)
}

func TestStringFragment(t *testing.T) {
	for _, alg := range []compress.Algorithm{compress.AlgorithmLZ4, compress.AlgorithmZSTD, compress.AlgorithmNone} {
		te := newTestEnv(t, WithCompression(alg))
		ctx := context.Background()

		long := strings.Repeat("héllo wörld ", 10_000)
		f := NewString(te.Env, long)
		require.True(t, f.IsCompleted())
		require.True(t, f.Swap(ctx), alg.String())

		v, err := f.Get(ctx)
		require.NoError(t, err)
		assert.Equal(t, long, v, alg.String())

		require.NoError(t, f.Set(ctx, "short"))
		require.True(t, f.Swap(ctx))
		v, err = f.Get(ctx)
		require.NoError(t, err)
		assert.Equal(t, "short", v)

		f.Dispose()
		_, err = f.Get(ctx)
		assert.ErrorIs(t, err, ErrDisposed)
	}
}

func TestEnv_DefaultTrackerAndPool(t *testing.T) {
	env := NewEnv(nil, blobstore.NewMemoryStore())
	require.NotNil(t, env.Tracker())
	require.NotNil(t, env.Pool())
	assert.Nil(t, env.Coordinator())
	require.NoError(t, env.WaitForMemory(context.Background()))

	f := NewInt(env, 4)
	require.NoError(t, f.Append(1))
	f.Complete()
	require.True(t, f.Swap(context.Background()))
	v, err := f.Get(context.Background(), 0)
	require.NoError(t, err)
	assert.Equal(t, int32(1), v)
}
