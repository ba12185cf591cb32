package swap

import (
	"math"
	"runtime/debug"
	"runtime/metrics"
	"sync"
	"time"

	"github.com/hupe1980/swapgo/internal/resource"
	"github.com/hupe1980/swapgo/internal/sysmem"
)

// Sample is a point-in-time memory reading.
type Sample struct {
	Free uint64
	Max  uint64
}

// FreeRatio returns Free/Max, or 1 when Max is unknown.
func (s Sample) FreeRatio() float64 {
	if s.Max == 0 {
		return 1
	}
	if s.Free >= s.Max {
		return 1
	}
	return float64(s.Free) / float64(s.Max)
}

// Sampler reads the current memory situation.
type Sampler interface {
	Sample() Sample
}

// SamplerFunc adapts a function to Sampler.
type SamplerFunc func() Sample

func (f SamplerFunc) Sample() Sample { return f() }

// fallbackMax is used when neither a Go memory limit nor the physical
// memory is known.
const fallbackMax = 4 << 30

// RuntimeSampler measures live heap objects against the Go memory limit,
// or against physical memory when no limit is set.
type RuntimeSampler struct {
	once    sync.Once
	max     uint64
	samples []metrics.Sample
	mu      sync.Mutex
}

// NewRuntimeSampler returns a RuntimeSampler.
func NewRuntimeSampler() *RuntimeSampler {
	return &RuntimeSampler{
		samples: []metrics.Sample{{Name: "/memory/classes/heap/objects:bytes"}},
	}
}

func (r *RuntimeSampler) limit() uint64 {
	r.once.Do(func() {
		if l := debug.SetMemoryLimit(-1); l > 0 && l < math.MaxInt64 {
			r.max = uint64(l)
			return
		}
		if total, err := sysmem.Total(); err == nil && total > 0 {
			r.max = total
			return
		}
		r.max = fallbackMax
	})
	return r.max
}

func (r *RuntimeSampler) Sample() Sample {
	limit := r.limit()

	r.mu.Lock()
	metrics.Read(r.samples)
	var used uint64
	if v := r.samples[0].Value; v.Kind() == metrics.KindUint64 {
		used = v.Uint64()
	}
	r.mu.Unlock()

	if used >= limit {
		return Sample{Free: 0, Max: limit}
	}
	return Sample{Free: limit - used, Max: limit}
}

// BudgetSampler measures managed memory against the controller's budget.
// Without a budget it always reports everything free.
type BudgetSampler struct {
	rc *resource.Controller
}

// NewBudgetSampler returns a BudgetSampler.
func NewBudgetSampler(rc *resource.Controller) *BudgetSampler {
	return &BudgetSampler{rc: rc}
}

func (b *BudgetSampler) Sample() Sample {
	limit := b.rc.MemoryLimit()
	if limit <= 0 {
		return Sample{Free: 1, Max: 1}
	}
	used := b.rc.MemoryUsage()
	if used >= limit {
		return Sample{Free: 0, Max: uint64(limit)}
	}
	return Sample{Free: uint64(limit - used), Max: uint64(limit)}
}

// monitor caches the sampled state for ttl.
type monitor struct {
	sampler    Sampler
	thresholds Thresholds
	ttl        time.Duration
	onSample   func(MemoryState, float64)

	mu    sync.Mutex
	state MemoryState
	ratio float64
	at    time.Time
}

func (m *monitor) State() MemoryState {
	s, _ := m.read()
	return s
}

func (m *monitor) read() (MemoryState, float64) {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := time.Now()
	if !m.at.IsZero() && now.Sub(m.at) < m.ttl {
		return m.state, m.ratio
	}
	ratio := m.sampler.Sample().FreeRatio()
	state := m.thresholds.State(ratio)
	m.state, m.ratio, m.at = state, ratio, now
	if m.onSample != nil {
		m.onSample(state, ratio)
	}
	return state, ratio
}

// Invalidate forces the next read to sample.
func (m *monitor) Invalidate() {
	m.mu.Lock()
	m.at = time.Time{}
	m.mu.Unlock()
}
