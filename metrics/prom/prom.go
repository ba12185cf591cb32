// Package prom exports swap engine events as Prometheus metrics.
package prom

import (
	"time"

	"github.com/hupe1980/swapgo/swap"
	"github.com/prometheus/client_golang/prometheus"
)

// Adapter implements swapgo.MetricsCollector and exports Prometheus
// counters, histograms and gauges. Safe for concurrent use; all Prometheus
// metric types are goroutine-safe.
type Adapter struct {
	swaps      *prometheus.CounterVec
	swapBytes  *prometheus.CounterVec
	swapTime   *prometheus.HistogramVec
	reloads    *prometheus.CounterVec
	reloadTime *prometheus.HistogramVec
	conflicts  *prometheus.CounterVec
	cycles     *prometheus.CounterVec
	evicted    prometheus.Counter
	state      prometheus.Gauge
	freeRatio  prometheus.Gauge
}

// New constructs a Prometheus metrics adapter.
//   - reg:          registry to register metrics with (nil => prometheus.DefaultRegisterer)
//   - ns, sub:      Prometheus namespace and subsystem
//   - constLabels:  static labels applied to all metrics (may be nil)
func New(reg prometheus.Registerer, ns, sub string, constLabels prometheus.Labels) *Adapter {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	counter := func(name, help string, labels ...string) *prometheus.CounterVec {
		return prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace:   ns,
			Subsystem:   sub,
			Name:        name,
			Help:        help,
			ConstLabels: constLabels,
		}, labels)
	}
	histogram := func(name, help string) *prometheus.HistogramVec {
		return prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace:   ns,
			Subsystem:   sub,
			Name:        name,
			Help:        help,
			ConstLabels: constLabels,
			Buckets:     prometheus.ExponentialBuckets(0.0005, 4, 8),
		}, []string{"kind"})
	}

	a := &Adapter{
		swaps:      counter("swaps_total", "Swap attempts that reached storage", "kind", "result"),
		swapBytes:  counter("swap_bytes_total", "Bytes written to swap files", "kind"),
		swapTime:   histogram("swap_duration_seconds", "Time spent writing swap files"),
		reloads:    counter("reloads_total", "Reloads of swapped data", "kind", "result"),
		reloadTime: histogram("reload_duration_seconds", "Time spent reloading swap files"),
		conflicts:  counter("conflicts_total", "Swaps rejected because the data was in use", "kind"),
		cycles:     counter("cycles_total", "Eviction passes by memory state", "state"),
		evicted: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace:   ns,
			Subsystem:   sub,
			Name:        "evicted_total",
			Help:        "Entities swapped out by eviction passes",
			ConstLabels: constLabels,
		}),
		state: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace:   ns,
			Subsystem:   sub,
			Name:        "memory_state",
			Help:        "Memory state (0=critical .. 4=good)",
			ConstLabels: constLabels,
		}),
		freeRatio: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace:   ns,
			Subsystem:   sub,
			Name:        "memory_free_ratio",
			Help:        "Sampled free memory ratio",
			ConstLabels: constLabels,
		}),
	}
	reg.MustRegister(a.swaps, a.swapBytes, a.swapTime, a.reloads, a.reloadTime,
		a.conflicts, a.cycles, a.evicted, a.state, a.freeRatio)
	return a
}

// RecordSwap counts a swap and its size and latency.
func (a *Adapter) RecordSwap(kind string, bytes int, d time.Duration, err error) {
	a.swaps.WithLabelValues(kind, result(err)).Inc()
	a.swapTime.WithLabelValues(kind).Observe(d.Seconds())
	if err == nil {
		a.swapBytes.WithLabelValues(kind).Add(float64(bytes))
	}
}

// RecordReload counts a reload and its latency.
func (a *Adapter) RecordReload(kind string, _ int, d time.Duration, err error) {
	a.reloads.WithLabelValues(kind, result(err)).Inc()
	a.reloadTime.WithLabelValues(kind).Observe(d.Seconds())
}

// RecordConflict counts a rejected swap.
func (a *Adapter) RecordConflict(kind string) {
	a.conflicts.WithLabelValues(kind).Inc()
}

// RecordCycle counts an eviction pass.
func (a *Adapter) RecordCycle(state swap.MemoryState, _, swapped int, _ time.Duration) {
	a.cycles.WithLabelValues(state.String()).Inc()
	a.evicted.Add(float64(swapped))
}

// RecordMemoryState updates the memory gauges.
func (a *Adapter) RecordMemoryState(state swap.MemoryState, freeRatio float64) {
	a.state.Set(float64(state))
	a.freeRatio.Set(freeRatio)
}

// result maps an error to a stable label value.
func result(err error) string {
	if err != nil {
		return "error"
	}
	return "ok"
}

// Compile-time check: ensure Adapter implements swap.Metrics.
var _ swap.Metrics = (*Adapter)(nil)
