package swapgo

import (
	"context"
	"fmt"
	"os"
	"sync"
	"sync/atomic"

	"github.com/hupe1980/swapgo/blobstore"
	"github.com/hupe1980/swapgo/codec"
	"github.com/hupe1980/swapgo/fragment"
	"github.com/hupe1980/swapgo/internal/bufpool"
	"github.com/hupe1980/swapgo/internal/resource"
	"github.com/hupe1980/swapgo/list"
	"github.com/hupe1980/swapgo/refcount"
	"github.com/hupe1980/swapgo/swap"
)

// Engine owns a swap coordinator and the environment shared by the lists
// and fragments it creates.
type Engine struct {
	coord   *swap.Coordinator
	env     *fragment.Env
	store   blobstore.Store
	tracker *refcount.Tracker
	pool    *bufpool.Pool
	rc      *resource.Controller
	logger  *Logger
	metrics MetricsCollector

	// tempDir is removed on Close when the engine created it.
	tempDir string

	closeOnce sync.Once
	closed    atomic.Bool
	closeErr  error
}

// New creates an Engine and starts its eviction workers.
func New(optFns ...Option) (*Engine, error) {
	o := applyOptions(optFns)

	e := &Engine{
		logger:  o.logger,
		metrics: o.metricsCollector,
		rc: resource.NewController(resource.Config{
			MemoryLimitBytes:   o.memoryLimit,
			MaxHelpers:         o.maxHelpers,
			IOLimitBytesPerSec: o.ioLimit,
		}),
	}

	switch {
	case o.store != nil:
		e.store = o.store
	case o.dir != "":
		if err := os.MkdirAll(o.dir, 0o755); err != nil {
			return nil, fmt.Errorf("create swap dir: %w", err)
		}
		e.store = blobstore.NewLocalStore(o.dir)
	default:
		dir, err := os.MkdirTemp("", "swapgo-*")
		if err != nil {
			return nil, fmt.Errorf("create swap dir: %w", err)
		}
		e.tempDir = dir
		e.store = blobstore.NewLocalStore(dir)
	}

	obs := newObserver(o.metricsCollector, o.logger)
	slogger := o.logger.Logger

	copts := []swap.Option{
		swap.WithBackground(o.background),
		swap.WithThresholds(o.thresholds),
		swap.WithLogger(slogger.With("component", "coordinator")),
		swap.WithMetrics(obs),
		swap.WithResourceController(e.rc),
	}
	if o.workers > 0 {
		copts = append(copts, swap.WithWorkers(o.workers))
	}
	if o.sampler != nil {
		copts = append(copts, swap.WithSampler(o.sampler))
	}
	coord, err := swap.NewCoordinator(append(copts, o.coordinatorOpts...)...)
	if err != nil {
		e.removeTempDir()
		return nil, err
	}
	e.coord = coord

	e.tracker = o.tracker
	if e.tracker == nil {
		e.tracker = refcount.NewLocalTracker(refcount.WithLogger(slogger.With("component", "refcount")))
	}
	e.pool = bufpool.New(
		bufpool.WithCoordinator(coord),
		bufpool.WithResourceController(e.rc),
		bufpool.WithLogger(slogger.With("component", "bufpool")),
	)

	envOpts := []fragment.EnvOption{
		fragment.WithTracker(e.tracker),
		fragment.WithPool(e.pool),
		fragment.WithResourceController(e.rc),
		fragment.WithCompression(o.compression),
		fragment.WithLogger(slogger.With("component", "fragment")),
		fragment.WithMetrics(obs),
		fragment.WithMinAge(o.minAge),
	}
	if o.maxBlockBytes > 0 {
		envOpts = append(envOpts, fragment.WithMaxBlockBytes(o.maxBlockBytes))
	}
	e.env = fragment.NewEnv(coord, e.store, envOpts...)

	e.logger.Debug("swap engine started", "store", e.store.URI(""), "compression", o.compression)
	return e, nil
}

// NewIntList returns an empty list of int32 values.
func (e *Engine) NewIntList() *list.IntList {
	return list.NewIntList(e.env)
}

// NewObjectList returns an empty list whose swap files are encoded by ser.
func NewObjectList[T any](e *Engine, ser codec.Serializer[T]) *list.ObjectList[T] {
	return list.NewObjectList(e.env, ser)
}

// NewString returns a swappable string holding value. It is eligible for
// eviction immediately.
func (e *Engine) NewString(value string) *fragment.StringFragment {
	return fragment.NewString(e.env, value)
}

// WaitForMemory blocks while memory is critical and eviction is making
// progress. Producers call it before large allocations.
func (e *Engine) WaitForMemory(ctx context.Context) error {
	if e.closed.Load() {
		return ErrClosed
	}
	return e.env.WaitForMemory(ctx)
}

// RunCycle runs one eviction pass at the current memory state and returns
// the number of entities swapped.
func (e *Engine) RunCycle(ctx context.Context) int {
	if e.closed.Load() {
		return 0
	}
	return e.coord.RunCycle(ctx)
}

// Env returns the fragment environment, for building fragments directly.
func (e *Engine) Env() *fragment.Env { return e.env }

// Coordinator returns the swap coordinator.
func (e *Engine) Coordinator() *swap.Coordinator { return e.coord }

// Store returns the swap file store.
func (e *Engine) Store() blobstore.Store { return e.store }

// Stats is a snapshot of engine state.
type Stats struct {
	swap.Stats

	// Managed memory in bytes.
	MemoryUsage int64
	MemoryPeak  int64
	MemoryLimit int64

	// Buffer pool.
	PoolAllocations uint64
	PoolHits        uint64
	PoolReclaimed   uint64
	PoolIdleBytes   int64
}

// Stats returns a snapshot of engine state.
func (e *Engine) Stats() Stats {
	ps := e.pool.Stats()
	return Stats{
		Stats:           e.coord.Stats(),
		MemoryUsage:     e.rc.MemoryUsage(),
		MemoryPeak:      e.rc.MemoryPeak(),
		MemoryLimit:     e.rc.MemoryLimit(),
		PoolAllocations: ps.Allocations,
		PoolHits:        ps.Hits,
		PoolReclaimed:   ps.Reclaimed,
		PoolIdleBytes:   ps.IdleBytes,
	}
}
