package swapgo

import (
	"log/slog"
	"time"

	"github.com/hupe1980/swapgo/blobstore"
	"github.com/hupe1980/swapgo/internal/compress"
	"github.com/hupe1980/swapgo/refcount"
	"github.com/hupe1980/swapgo/swap"
)

// Compression selects how swap files are compressed.
type Compression = compress.Algorithm

const (
	// CompressionLZ4 frames swap files with LZ4 (default).
	CompressionLZ4 = compress.AlgorithmLZ4
	// CompressionZSTD trades speed for a better ratio.
	CompressionZSTD = compress.AlgorithmZSTD
	// CompressionNone writes swap files uncompressed.
	CompressionNone = compress.AlgorithmNone
)

type options struct {
	dir              string
	store            blobstore.Store
	tracker          *refcount.Tracker
	workers          int
	background       bool
	thresholds       swap.Thresholds
	sampler          swap.Sampler
	minAge           time.Duration
	memoryLimit      int64
	ioLimit          int64
	maxHelpers       int64
	compression      Compression
	maxBlockBytes    int
	metricsCollector MetricsCollector
	logger           *Logger
	coordinatorOpts  []swap.Option
}

// Option configures an Engine.
type Option func(*options)

// WithDir stores swap files in a local directory. The directory is created
// if needed and left in place on Close.
//
// Without WithDir or WithStore a temporary directory is used and removed on
// Close.
func WithDir(dir string) Option {
	return func(o *options) {
		o.dir = dir
	}
}

// WithStore stores swap files in s, for example a blobstore/s3 store.
// It takes precedence over WithDir.
func WithStore(s blobstore.Store) Option {
	return func(o *options) {
		o.store = s
	}
}

// WithTracker sets the swap file reference tracker. Use a tracker backed
// by refcount/dynamo when several processes share swap files.
func WithTracker(t *refcount.Tracker) Option {
	return func(o *options) {
		o.tracker = t
	}
}

// WithWorkers sets the number of eviction workers.
func WithWorkers(n int) Option {
	return func(o *options) {
		o.workers = n
	}
}

// WithBackground controls whether eviction workers run in the background.
// When disabled, eviction only happens in RunCycle and WaitForMemory.
func WithBackground(enabled bool) Option {
	return func(o *options) {
		o.background = enabled
	}
}

// WithThresholds sets the free-ratio boundaries between memory states.
//
// Example:
//
//	eng, _ := swapgo.New(swapgo.WithThresholds(swap.Thresholds{
//	    Critical: 0.02, Bad: 0.05, Low: 0.10, Normal: 0.30,
//	}))
func WithThresholds(t swap.Thresholds) Option {
	return func(o *options) {
		o.thresholds = t
	}
}

// WithSampler replaces the memory sampler.
func WithSampler(s swap.Sampler) Option {
	return func(o *options) {
		o.sampler = s
	}
}

// WithMinAge sets the minimum age before eviction in the priority formula.
func WithMinAge(d time.Duration) Option {
	return func(o *options) {
		o.minAge = d
	}
}

// WithMemoryLimit budgets managed memory (resident fragment data and pooled
// buffers). Memory states are then derived from the remaining budget
// instead of the Go heap.
func WithMemoryLimit(bytes int64) Option {
	return func(o *options) {
		o.memoryLimit = bytes
	}
}

// WithIOLimit caps swap file throughput in bytes per second.
func WithIOLimit(bytesPerSec int64) Option {
	return func(o *options) {
		o.ioLimit = bytesPerSec
	}
}

// WithMaxHelpers bounds concurrent helper evictions started for blocked
// workers.
func WithMaxHelpers(n int64) Option {
	return func(o *options) {
		o.maxHelpers = n
	}
}

// WithCompression sets the swap file compression.
func WithCompression(c Compression) Option {
	return func(o *options) {
		o.compression = c
	}
}

// WithMaxBlockBytes bounds the size of object list block files.
func WithMaxBlockBytes(n int) Option {
	return func(o *options) {
		o.maxBlockBytes = n
	}
}

// WithMetricsCollector configures a metrics collector.
// Pass nil to disable metrics collection.
//
// Example with BasicMetricsCollector:
//
//	metrics := &swapgo.BasicMetricsCollector{}
//	eng, _ := swapgo.New(swapgo.WithMetricsCollector(metrics))
//	// ... use eng ...
//	stats := metrics.GetStats()
//	fmt.Printf("Swaps: %d, Reloads: %d\n", stats.SwapCount, stats.ReloadCount)
func WithMetricsCollector(mc MetricsCollector) Option {
	return func(o *options) {
		o.metricsCollector = mc
	}
}

// WithLogger configures structured logging.
// Pass nil to disable logging.
//
// Example with JSON logging:
//
//	logger := swapgo.NewJSONLogger(slog.LevelInfo)
//	eng, _ := swapgo.New(swapgo.WithLogger(logger))
func WithLogger(logger *Logger) Option {
	return func(o *options) {
		o.logger = logger
	}
}

// WithLogLevel creates a text logger with the specified level and sets it.
// Convenience wrapper for WithLogger(NewTextLogger(level)).
func WithLogLevel(level slog.Level) Option {
	return func(o *options) {
		o.logger = NewTextLogger(level)
	}
}

// WithCoordinatorOptions passes low-level options to the swap coordinator.
// They are applied last.
func WithCoordinatorOptions(opts ...swap.Option) Option {
	return func(o *options) {
		o.coordinatorOpts = append(o.coordinatorOpts, opts...)
	}
}

func applyOptions(optFns []Option) options {
	o := options{
		background:       true,
		thresholds:       swap.DefaultThresholds(),
		minAge:           swap.DefaultMinAge,
		compression:      CompressionLZ4,
		metricsCollector: NoopMetricsCollector{},
		logger:           NoopLogger(),
	}
	for _, fn := range optFns {
		if fn != nil {
			fn(&o)
		}
	}
	if o.metricsCollector == nil {
		o.metricsCollector = NoopMetricsCollector{}
	}
	if o.logger == nil {
		o.logger = NoopLogger()
	}
	return o
}
