package fragment

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"math/rand/v2"
	"strconv"
	"sync/atomic"
	"time"

	"github.com/hupe1980/swapgo/blobstore"
	"github.com/hupe1980/swapgo/codec"
	"github.com/hupe1980/swapgo/internal/bufpool"
	"github.com/hupe1980/swapgo/internal/compress"
	"github.com/hupe1980/swapgo/internal/resource"
	"github.com/hupe1980/swapgo/refcount"
	"github.com/hupe1980/swapgo/swap"
)

const (
	// FileExt is the extension of every swap file.
	FileExt = ".tdat"

	// DefaultMaxBlockBytes bounds the size of one object block file.
	DefaultMaxBlockBytes = 20 << 20

	// MinBlockBytes is the smallest object block buffer.
	MinBlockBytes = 64 << 10
)

// Namer hands out unique file prefixes "s<seed>_<counter>".
type Namer struct {
	seed    uint32
	counter atomic.Uint64
}

// NewNamer returns a Namer with the given seed.
func NewNamer(seed uint32) *Namer {
	return &Namer{seed: seed}
}

// Next returns a fresh prefix.
func (n *Namer) Next() string {
	return "s" + strconv.FormatUint(uint64(n.seed), 10) + "_" + strconv.FormatUint(n.counter.Add(1)-1, 10)
}

// FileName returns the single-file name for prefix.
func FileName(prefix string) string { return prefix + FileExt }

// BlockName returns the name of block n of a multi-block fragment.
func BlockName(prefix string, n int) string {
	return prefix + "_" + strconv.Itoa(n) + FileExt
}

// Env is the environment shared by the fragments of one engine.
type Env struct {
	coord         *swap.Coordinator
	store         blobstore.Store
	tracker       *refcount.Tracker
	pool          *bufpool.Pool
	rc            *resource.Controller
	alg           compress.Algorithm
	namer         *Namer
	logger        *slog.Logger
	metrics       swap.Metrics
	minAge        time.Duration
	maxBlockBytes int
}

// EnvOption configures an Env.
type EnvOption func(*Env)

// WithTracker sets the swap file reference tracker.
// Default: a process-local tracker.
func WithTracker(t *refcount.Tracker) EnvOption {
	return func(e *Env) { e.tracker = t }
}

// WithPool sets the buffer pool used for swap IO.
func WithPool(p *bufpool.Pool) EnvOption {
	return func(e *Env) { e.pool = p }
}

// WithResourceController sets the managed-memory and IO budget.
func WithResourceController(rc *resource.Controller) EnvOption {
	return func(e *Env) { e.rc = rc }
}

// WithCompression sets the swap file compression. Default: LZ4.
func WithCompression(alg compress.Algorithm) EnvOption {
	return func(e *Env) { e.alg = alg }
}

// WithNamer sets the file prefix generator. Default: random seed.
func WithNamer(n *Namer) EnvOption {
	return func(e *Env) { e.namer = n }
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) EnvOption {
	return func(e *Env) {
		if l != nil {
			e.logger = l
		}
	}
}

// WithMetrics sets the metrics sink.
func WithMetrics(m swap.Metrics) EnvOption {
	return func(e *Env) {
		if m != nil {
			e.metrics = m
		}
	}
}

// WithMinAge sets the min-age constant in the eviction priority.
func WithMinAge(d time.Duration) EnvOption {
	return func(e *Env) {
		if d > 0 {
			e.minAge = d
		}
	}
}

// WithMaxBlockBytes bounds the size of object block files.
func WithMaxBlockBytes(n int) EnvOption {
	return func(e *Env) {
		if n > 0 {
			e.maxBlockBytes = max(n, MinBlockBytes)
		}
	}
}

// NewEnv returns an environment writing swap files to store. coord may be
// nil, in which case fragments are never registered for eviction.
func NewEnv(coord *swap.Coordinator, store blobstore.Store, opts ...EnvOption) *Env {
	e := &Env{
		coord:         coord,
		store:         store,
		alg:           compress.AlgorithmLZ4,
		logger:        slog.New(slog.DiscardHandler),
		metrics:       swap.NoopMetrics{},
		minAge:        swap.DefaultMinAge,
		maxBlockBytes: DefaultMaxBlockBytes,
	}
	for _, opt := range opts {
		opt(e)
	}
	if e.tracker == nil {
		e.tracker = refcount.NewLocalTracker(refcount.WithLogger(e.logger))
	}
	if e.pool == nil {
		e.pool = bufpool.New(bufpool.WithCoordinator(coord), bufpool.WithResourceController(e.rc), bufpool.WithLogger(e.logger))
	}
	if e.namer == nil {
		e.namer = NewNamer(rand.Uint32())
	}
	return e
}

// Coordinator returns the swap coordinator (may be nil).
func (e *Env) Coordinator() *swap.Coordinator { return e.coord }

// Store returns the swap file store.
func (e *Env) Store() blobstore.Store { return e.store }

// Tracker returns the reference tracker.
func (e *Env) Tracker() *refcount.Tracker { return e.tracker }

// Pool returns the buffer pool.
func (e *Env) Pool() *bufpool.Pool { return e.pool }

// WaitForMemory applies coordinator backpressure. Only a canceled context
// is returned as an error; lack of progress is logged.
func (e *Env) WaitForMemory(ctx context.Context) error {
	if e.coord == nil {
		return ctx.Err()
	}
	err := e.coord.WaitForMemory(ctx)
	switch {
	case err == nil, errors.Is(err, swap.ErrClosed):
		return nil
	case ctx.Err() != nil:
		return ctx.Err()
	default:
		e.logger.Warn("continuing under memory pressure", "error", err)
		return nil
	}
}

// newEncoder returns an encoder over dst that logs string truncation.
func (e *Env) newEncoder(dst []byte, limit int) *codec.Encoder {
	enc := codec.NewEncoder(dst, limit)
	enc.SetLogger(e.logger)
	return enc
}

// writeFrame compresses payload and commits it as name. It returns the
// number of bytes stored.
func (e *Env) writeFrame(ctx context.Context, name string, payload []byte) (int, error) {
	out := payload
	if e.alg != compress.AlgorithmNone {
		buf, err := e.pool.Get(ctx, compress.Bound(len(payload)))
		if err != nil {
			return 0, err
		}
		defer e.pool.Release(buf)

		out, err = compress.Compress(e.alg, payload, buf.Bytes())
		if err != nil {
			return 0, swap.NewError("compress", name, swap.KindSerialization, err)
		}
	}

	w, err := e.store.Create(ctx, name)
	if err != nil {
		return 0, swap.NewError("create", name, swap.KindIO, err)
	}
	if _, err := resource.NewRateLimitedWriter(ctx, w, e.rc).Write(out); err != nil {
		_ = w.Abort()
		return 0, swap.NewError("write", name, swap.KindIO, err)
	}
	if err := w.Close(); err != nil {
		return 0, swap.NewError("commit", name, swap.KindIO, err)
	}
	return len(out), nil
}

// readFrame reads and decompresses name into a pooled buffer. The returned
// release function must be called once the payload was decoded.
func (e *Env) readFrame(ctx context.Context, name string) (payload []byte, stored int, release func(), err error) {
	b, err := e.store.Open(ctx, name)
	if err != nil {
		return nil, 0, nil, swap.NewError("open", name, swap.KindIO, err)
	}
	defer func() { _ = b.Close() }()

	size := b.Size()
	if size < 0 || size > compress.MaxFrameLen {
		return nil, 0, nil, swap.NewError("read", name, swap.KindSerialization, fmt.Errorf("%w: size %d", ErrCorrupt, size))
	}
	raw, err := e.pool.Get(ctx, int(size))
	if err != nil {
		return nil, 0, nil, err
	}
	if _, err := io.ReadFull(resource.NewRateLimitedReader(ctx, b, e.rc), raw.Bytes()); err != nil {
		e.pool.Release(raw)
		return nil, 0, nil, swap.NewError("read", name, swap.KindIO, err)
	}
	if !compress.IsFramed(raw.Bytes()) {
		return raw.Bytes(), int(size), func() { e.pool.Release(raw) }, nil
	}

	n, err := compress.DecodedLen(raw.Bytes())
	if err != nil {
		e.pool.Release(raw)
		return nil, 0, nil, swap.NewError("decompress", name, swap.KindSerialization, err)
	}
	out, err := e.pool.Get(ctx, n)
	if err != nil {
		e.pool.Release(raw)
		return nil, 0, nil, err
	}
	payload, err = compress.Decompress(raw.Bytes(), out.Bytes())
	e.pool.Release(raw)
	if err != nil {
		e.pool.Release(out)
		return nil, 0, nil, swap.NewError("decompress", name, swap.KindSerialization, err)
	}
	return payload, int(size), func() { e.pool.Release(out) }, nil
}

// removeFunc deletes name from the store once its last reference is gone.
func (e *Env) removeFunc(name string) refcount.RemoveFunc {
	return func(ctx context.Context) error { return e.store.Delete(ctx, name) }
}
