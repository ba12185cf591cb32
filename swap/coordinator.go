package swap

import (
	"cmp"
	"context"
	"errors"
	"log/slog"
	"math"
	"slices"
	"sync"
	"sync/atomic"
	"time"

	"github.com/hupe1980/swapgo/internal/resource"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/singleflight"
)

type workerKey struct{}

// IsWorker reports whether ctx belongs to an eviction worker.
func IsWorker(ctx context.Context) bool {
	_, ok := ctx.Value(workerKey{}).(int)
	return ok
}

func withWorker(ctx context.Context, id int) context.Context {
	return context.WithValue(ctx, workerKey{}, id)
}

type worker struct {
	id        int
	reg       *registry
	wake      chan struct{}
	lastPrune time.Time
}

// Stats is a snapshot of coordinator counters.
type Stats struct {
	State      MemoryState
	FreeRatio  float64
	Workers    int
	Registered int
	Cycles     uint64
	Swapped    uint64
}

// Coordinator samples memory and evicts registered Swappables with a fixed
// pool of workers. It also provides WaitForMemory, the backpressure
// primitive producers call before large allocations.
type Coordinator struct {
	opts    options
	logger  *slog.Logger
	metrics Metrics
	rc      *resource.Controller
	monitor *monitor
	workers []*worker

	next    atomic.Uint64
	ids     atomic.Uint64
	cycles  atomic.Uint64
	swapped atomic.Uint64

	waitMu sync.Mutex
	sf     singleflight.Group

	ctx     context.Context
	cancel  context.CancelFunc
	group   *errgroup.Group
	stopMu  sync.Mutex
	stopped atomic.Bool
	helpers sync.WaitGroup

	closeOnce sync.Once
	closeErr  error
}

// NewCoordinator creates a coordinator and starts its workers.
func NewCoordinator(opts ...Option) (*Coordinator, error) {
	o := defaultOptions()
	for _, opt := range opts {
		opt(&o)
	}
	if err := o.thresholds.Validate(); err != nil {
		return nil, err
	}
	if o.sampler == nil {
		if o.rc.MemoryLimit() > 0 {
			o.sampler = NewBudgetSampler(o.rc)
		} else {
			o.sampler = NewRuntimeSampler()
		}
	}
	if o.gcHint == nil {
		o.gcHint = func() {}
	}

	c := &Coordinator{
		opts:    o,
		logger:  o.logger,
		metrics: o.metrics,
		rc:      o.rc,
	}
	c.monitor = &monitor{
		sampler:    o.sampler,
		thresholds: o.thresholds,
		ttl:        o.sampleTTL,
		onSample:   c.metrics.RecordMemoryState,
	}

	now := time.Now()
	c.workers = make([]*worker, o.workers)
	for i := range c.workers {
		c.workers[i] = &worker{id: i, reg: newRegistry(), wake: make(chan struct{}, 1), lastPrune: now}
	}

	ctx, cancel := context.WithCancel(context.Background())
	c.ctx, c.cancel = ctx, cancel
	c.group, ctx = errgroup.WithContext(ctx)
	if o.background {
		for _, w := range c.workers {
			c.group.Go(func() error { return c.run(ctx, w) })
		}
	}

	c.logger.Debug("swap coordinator started", "workers", o.workers, "background", o.background)
	return c, nil
}

// Register hands p to a worker in round-robin order. p is referenced weakly:
// an entity that becomes unreachable is pruned without being disposed.
// After Close, Register is a no-op and returns the zero Handle.
func Register[T any, P interface {
	*T
	Swappable
}](c *Coordinator, p P) Handle {
	return c.register(weakRef(p))
}

func (c *Coordinator) register(get func() Swappable) Handle {
	if c.stopped.Load() {
		return Handle{}
	}
	i := int((c.next.Add(1) - 1) % uint64(len(c.workers)))
	id := c.ids.Add(1)
	idx := c.workers[i].reg.add(id, get)
	return Handle{worker: i, slot: idx, id: id}
}

// Deregister removes a registration. Stale handles and calls after Close
// are ignored.
func (c *Coordinator) Deregister(h Handle) {
	if c.stopped.Load() || !h.Registered() || h.worker >= len(c.workers) {
		return
	}
	c.workers[h.worker].reg.remove(h.slot, h.id)
}

// State returns the (cached) memory state.
func (c *Coordinator) State() MemoryState { return c.monitor.State() }

// Stats returns a snapshot of the coordinator counters.
func (c *Coordinator) Stats() Stats {
	state, ratio := c.monitor.read()
	n := 0
	for _, w := range c.workers {
		n += w.reg.len()
	}
	return Stats{
		State:      state,
		FreeRatio:  ratio,
		Workers:    len(c.workers),
		Registered: n,
		Cycles:     c.cycles.Load(),
		Swapped:    c.swapped.Load(),
	}
}

func (c *Coordinator) run(ctx context.Context, w *worker) error {
	ctx = withWorker(ctx, w.id)
	logger := c.logger.With("worker", w.id)

	var backoff time.Duration
	timer := time.NewTimer(c.monitor.State().Timeout())
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			logger.Debug("swap worker stopped")
			return nil
		case <-w.wake:
		case <-timer.C:
		}

		state := c.monitor.State()
		next := state.Timeout()
		if state == Good {
			backoff = 0
			c.maybePrune(w)
		} else {
			candidates, _ := c.evict(ctx, state, w)
			if candidates == 0 && state <= Bad {
				// Nothing left to evict under pressure: back off instead of spinning.
				backoff = min(max(2*backoff, next), Good.Timeout())
				next = backoff
			} else {
				backoff = 0
			}
		}
		timer.Reset(next)
	}
}

func (c *Coordinator) maybePrune(w *worker) {
	if c.opts.pruneInterval <= 0 || time.Since(w.lastPrune) < c.opts.pruneInterval {
		return
	}
	w.lastPrune = time.Now()
	if n := w.reg.prune(); n > 0 {
		c.logger.Debug("pruned registrations", "worker", w.id, "removed", n)
	}
}

// evict runs one eviction pass over the given workers' registries.
func (c *Coordinator) evict(ctx context.Context, state MemoryState, ws ...*worker) (candidates, swapped int) {
	start := time.Now()

	var cands []candidate
	for _, w := range ws {
		cands = w.reg.collect(state.MinPriority(), cands)
	}
	slices.SortStableFunc(cands, func(a, b candidate) int {
		return cmp.Compare(b.priority, a.priority)
	})

	n := min(int(math.Ceil(float64(len(cands))*state.SwapFraction())), len(cands))
	// A started swap always runs to completion.
	swapCtx := context.WithoutCancel(ctx)
	for _, cand := range cands[:n] {
		if ctx.Err() != nil {
			break
		}
		if cand.s.Swap(swapCtx) {
			swapped++
		}
	}

	c.cycles.Add(1)
	c.swapped.Add(uint64(swapped))
	c.metrics.RecordCycle(state, len(cands), swapped, time.Since(start))

	if swapped > 0 {
		c.logger.Debug("swap cycle", "state", state, "candidates", len(cands), "swapped", swapped, "elapsed", time.Since(start))
		if state <= Low {
			c.opts.gcHint()
			c.monitor.Invalidate()
		}
	}
	return len(cands), swapped
}

// RunCycle runs one synchronous eviction pass over every worker's
// registrations using the current memory state. In the Good state it only
// prunes. It returns the number of swapped entities.
func (c *Coordinator) RunCycle(ctx context.Context) int {
	state := c.monitor.State()
	if state == Good {
		for _, w := range c.workers {
			w.reg.prune()
		}
		return 0
	}
	_, swapped := c.evict(ctx, state, c.workers...)
	return swapped
}

// WaitForMemory blocks while memory is critical, giving eviction a chance
// to catch up. It returns nil as soon as the state is above Critical.
//
// Called from an eviction worker it must not wait on the workers, so it
// starts a helper eviction instead. Other callers queue on a single lock so
// only one of them polls at a time. Polling stops with ErrNoProgress after
// several consecutive polls in which nothing was swapped.
func (c *Coordinator) WaitForMemory(ctx context.Context) error {
	if c.stopped.Load() || c.monitor.State() > Critical {
		return nil
	}

	if IsWorker(ctx) {
		c.startHelper()
		return c.poll(ctx, true)
	}

	c.waitMu.Lock()
	defer c.waitMu.Unlock()

	if c.monitor.State() > Critical {
		return nil
	}
	c.nudge()
	return c.poll(ctx, false)
}

// nudge wakes the workers, or starts a helper when none run in the background.
func (c *Coordinator) nudge() {
	if !c.opts.background {
		c.startHelper()
		return
	}
	for _, w := range c.workers {
		select {
		case w.wake <- struct{}{}:
		default:
		}
	}
}

func (c *Coordinator) poll(ctx context.Context, fromWorker bool) error {
	ticker := time.NewTicker(c.opts.pollInterval)
	defer ticker.Stop()

	last := c.swapped.Load()
	idle := 0
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}

		if c.stopped.Load() {
			return ErrClosed
		}
		if c.monitor.State() > Critical {
			return nil
		}

		if now := c.swapped.Load(); now != last {
			last, idle = now, 0
		} else if idle++; idle >= c.opts.maxIdlePolls {
			c.logger.Warn("memory critical and nothing left to swap", "polls", idle)
			return ErrNoProgress
		}

		if fromWorker {
			c.startHelper()
		} else {
			c.nudge()
		}
	}
}

// startHelper runs one eviction pass across all workers on a separate
// goroutine. Concurrent requests coalesce and the number of running helpers
// is bounded by the resource controller.
func (c *Coordinator) startHelper() {
	c.stopMu.Lock()
	if c.stopped.Load() {
		c.stopMu.Unlock()
		return
	}
	c.helpers.Add(1)
	c.stopMu.Unlock()

	go func() {
		defer c.helpers.Done()
		_, _, _ = c.sf.Do("evict", func() (any, error) {
			if !c.rc.TryAcquireHelper() {
				return nil, nil
			}
			defer c.rc.ReleaseHelper()

			state := c.monitor.State()
			if state == Good {
				return nil, nil
			}
			// Helpers run on behalf of workers and must not queue behind waiters.
			_, swapped := c.evict(withWorker(c.ctx, -1), state, c.workers...)
			return swapped, nil
		})
	}()
}

// Close stops the workers and waits for running passes to finish.
// Register and Deregister become no-ops; registered entities are left as
// they are.
func (c *Coordinator) Close() error {
	c.closeOnce.Do(func() {
		c.stopMu.Lock()
		c.stopped.Store(true)
		c.stopMu.Unlock()

		c.cancel()
		c.closeErr = c.group.Wait()
		c.helpers.Wait()
		if errors.Is(c.closeErr, context.Canceled) {
			c.closeErr = nil
		}
		c.logger.Debug("swap coordinator closed", "cycles", c.cycles.Load(), "swapped", c.swapped.Load())
	})
	return c.closeErr
}
