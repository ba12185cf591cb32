package swap

import (
	"log/slog"
	"runtime"
	"time"

	"github.com/hupe1980/swapgo/internal/resource"
)

// Defaults for coordinator options.
const (
	DefaultSampleTTL     = 200 * time.Millisecond
	DefaultPollInterval  = 200 * time.Millisecond
	DefaultMaxIdlePolls  = 3
	DefaultPruneInterval = 10 * time.Minute
)

type options struct {
	workers       int
	background    bool
	thresholds    Thresholds
	sampler       Sampler
	sampleTTL     time.Duration
	pollInterval  time.Duration
	maxIdlePolls  int
	pruneInterval time.Duration
	gcHint        func()
	logger        *slog.Logger
	metrics       Metrics
	rc            *resource.Controller
}

func defaultOptions() options {
	return options{
		workers:       max(1, runtime.GOMAXPROCS(0)/4),
		background:    true,
		thresholds:    DefaultThresholds(),
		sampleTTL:     DefaultSampleTTL,
		pollInterval:  DefaultPollInterval,
		maxIdlePolls:  DefaultMaxIdlePolls,
		pruneInterval: DefaultPruneInterval,
		gcHint:        runtime.GC,
		logger:        slog.New(slog.DiscardHandler),
		metrics:       NoopMetrics{},
	}
}

// Option configures a Coordinator.
type Option func(*options)

// WithWorkers sets the number of eviction workers.
func WithWorkers(n int) Option {
	return func(o *options) {
		if n > 0 {
			o.workers = n
		}
	}
}

// WithBackground controls whether workers run in the background.
// Without them eviction only happens through RunCycle and WaitForMemory
// helpers, which keeps tests deterministic.
func WithBackground(enabled bool) Option {
	return func(o *options) { o.background = enabled }
}

// WithThresholds sets the free-ratio thresholds.
func WithThresholds(t Thresholds) Option {
	return func(o *options) { o.thresholds = t }
}

// WithSampler sets the memory sampler. Default: NewRuntimeSampler, or a
// BudgetSampler when a resource controller with a memory limit is set.
func WithSampler(s Sampler) Option {
	return func(o *options) { o.sampler = s }
}

// WithSampleTTL sets how long a memory sample is reused.
func WithSampleTTL(d time.Duration) Option {
	return func(o *options) { o.sampleTTL = d }
}

// WithPollInterval sets the WaitForMemory poll interval.
func WithPollInterval(d time.Duration) Option {
	return func(o *options) {
		if d > 0 {
			o.pollInterval = d
		}
	}
}

// WithMaxIdlePolls sets how many polls without eviction progress
// WaitForMemory tolerates before giving up.
func WithMaxIdlePolls(n int) Option {
	return func(o *options) {
		if n > 0 {
			o.maxIdlePolls = n
		}
	}
}

// WithPruneInterval sets how often idle workers drop dead registrations.
func WithPruneInterval(d time.Duration) Option {
	return func(o *options) { o.pruneInterval = d }
}

// WithGCHint replaces the function run after a productive cycle under
// pressure. Default: runtime.GC.
func WithGCHint(fn func()) Option {
	return func(o *options) { o.gcHint = fn }
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(o *options) {
		if l != nil {
			o.logger = l
		}
	}
}

// WithMetrics sets the metrics sink.
func WithMetrics(m Metrics) Option {
	return func(o *options) {
		if m != nil {
			o.metrics = m
		}
	}
}

// WithResourceController sets the controller bounding helper evictions.
func WithResourceController(rc *resource.Controller) Option {
	return func(o *options) { o.rc = rc }
}
