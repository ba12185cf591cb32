package list

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/hupe1980/swapgo/codec"
	"github.com/hupe1980/swapgo/fragment"
)

const (
	// IntBlockBits sizes IntList fragments (32768 values).
	IntBlockBits = 15

	// ObjectBlockBits sizes ObjectList fragments (8192 values).
	ObjectBlockBits = 13

	// waitEvery is the read interval at which Get applies backpressure.
	waitEvery = 32
)

// block is the fragment surface a List needs.
type block[T any] interface {
	Append(v T) error
	Complete() bool
	Get(ctx context.Context, i int) (T, error)
	Pin(ctx context.Context) ([]T, error)
	Unpin()
	Truncate(ctx context.Context, n int) error
	Len() int
	Dispose()
}

// List is an append-only sequence of T split across fragments of
// 1<<bits elements.
type List[T any] struct {
	env      *fragment.Env
	bits     uint
	newBlock func() block[T]

	mu       sync.RWMutex
	frags    []block[T]
	size     int
	sealed   bool
	disposed bool

	reads atomic.Uint64
}

// IntList is a List of int32 values.
type IntList = List[int32]

// ObjectList is a List of values encoded by a codec.Serializer.
type ObjectList[T any] = List[T]

// NewIntList returns an empty int list.
func NewIntList(env *fragment.Env) *IntList {
	return newList(env, IntBlockBits, func() block[int32] {
		return fragment.NewInt(env, 1<<IntBlockBits)
	})
}

// NewObjectList returns an empty object list using ser for swap files.
func NewObjectList[T any](env *fragment.Env, ser codec.Serializer[T]) *ObjectList[T] {
	return newList(env, ObjectBlockBits, func() block[T] {
		return fragment.NewObject(env, 1<<ObjectBlockBits, ser)
	})
}

func newList[T any](env *fragment.Env, bits uint, newBlock func() block[T]) *List[T] {
	return &List[T]{env: env, bits: bits, newBlock: newBlock}
}

// BlockSize returns the number of elements per fragment.
func (l *List[T]) BlockSize() int { return 1 << l.bits }

func (l *List[T]) mask() int { return 1<<l.bits - 1 }

// Add appends v. A full tail fragment is completed before a new one is
// allocated.
func (l *List[T]) Add(v T) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	switch {
	case l.disposed:
		return ErrDisposed
	case l.sealed:
		return ErrSealed
	}

	if l.size&l.mask() == 0 {
		if n := len(l.frags); n > 0 {
			l.frags[n-1].Complete()
		}
		l.frags = append(l.frags, l.newBlock())
	}
	if err := l.frags[len(l.frags)-1].Append(v); err != nil {
		return err
	}
	l.size++
	return nil
}

// Get returns the element at i. It is GetContext with a background context.
func (l *List[T]) Get(i int) (T, error) {
	return l.GetContext(context.Background(), i)
}

// GetContext returns the element at i, reloading its fragment if it was
// swapped out. Every 32nd read waits for memory first so long scans do not
// outrun eviction.
//
// The read runs under the list's read lock, so it never observes the tail
// fragment while Add or Truncate is changing it.
func (l *List[T]) GetContext(ctx context.Context, i int) (T, error) {
	var zero T

	if l.reads.Add(1)%waitEvery == 0 {
		if err := l.env.WaitForMemory(ctx); err != nil {
			return zero, err
		}
	}

	l.mu.RLock()
	defer l.mu.RUnlock()

	if l.disposed {
		return zero, ErrDisposed
	}
	if i < 0 || i >= l.size {
		return zero, fmt.Errorf("%w: %d not in [0, %d)", ErrIndexOutOfRange, i, l.size)
	}
	return l.frags[i>>l.bits].Get(ctx, i&l.mask())
}

// Len returns the number of elements.
func (l *List[T]) Len() int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.size
}

// Fragments returns the number of fragments currently owned.
func (l *List[T]) Fragments() int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return len(l.frags)
}

// Truncate shrinks the list to n elements. Fragments entirely beyond n are
// disposed and the new tail is shrunk; dropped elements cannot be
// recovered.
func (l *List[T]) Truncate(ctx context.Context, n int) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.disposed {
		return ErrDisposed
	}
	if n < 0 || n > l.size {
		return fmt.Errorf("%w: %d not in [0, %d]", ErrIndexOutOfRange, n, l.size)
	}

	keep := (n + l.mask()) >> l.bits
	for _, f := range l.frags[keep:] {
		f.Dispose()
	}
	clear(l.frags[keep:])
	l.frags = l.frags[:keep]

	if keep > 0 {
		tail := l.frags[keep-1]
		if rem := n - (keep-1)<<l.bits; tail.Len() != rem {
			if err := tail.Truncate(ctx, rem); err != nil {
				return err
			}
		}
	}
	l.size = n
	return nil
}

// Complete seals the list and completes the tail fragment. It is
// idempotent.
func (l *List[T]) Complete() {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.sealed || l.disposed {
		return
	}
	l.sealed = true
	if n := len(l.frags); n > 0 {
		l.frags[n-1].Complete()
	}
}

// IsCompleted reports whether Complete was called.
func (l *List[T]) IsCompleted() bool {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.sealed
}

// Dispose releases every fragment and its swap files. It is idempotent.
func (l *List[T]) Dispose() {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.disposed {
		return
	}
	l.disposed = true
	for _, f := range l.frags {
		f.Dispose()
	}
	l.frags = nil
	l.size = 0
}

// Close disposes the list.
func (l *List[T]) Close() error {
	l.Dispose()
	return nil
}

// pin pins fragment fi under the read lock and returns its values and the
// list size. A nil block means the fragment is gone.
func (l *List[T]) pin(ctx context.Context, fi int) (block[T], []T, int, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	if l.disposed || fi >= len(l.frags) {
		return nil, nil, 0, nil
	}
	frag := l.frags[fi]
	vals, err := frag.Pin(ctx)
	if err != nil {
		return nil, nil, 0, err
	}
	return frag, vals, l.size, nil
}

var (
	_ block[int32]  = (*fragment.IntFragment)(nil)
	_ block[string] = (*fragment.ObjectFragment[string])(nil)
)
