package list

import (
	"context"
	"iter"
)

// Iterator walks a List forward once. It pins one fragment at a time, so
// the fragment being read is never evicted under it. Close must be called
// if iteration stops before Next returns false.
type Iterator[T any] struct {
	l    *List[T]
	ctx  context.Context
	next int

	fi     int
	pinned block[T]
	vals   []T
	end    int

	cur T
	err error
}

// Iterator returns an iterator positioned before the first element.
func (l *List[T]) Iterator(ctx context.Context) *Iterator[T] {
	return &Iterator[T]{l: l, ctx: ctx, fi: -1}
}

// Next advances to the next element. It returns false at the end of the
// list or on error.
func (it *Iterator[T]) Next() bool {
	if it.err != nil || it.l == nil {
		return false
	}
	if err := it.ctx.Err(); err != nil {
		it.fail(err)
		return false
	}

	i := it.next
	if fi := i >> it.l.bits; fi != it.fi {
		it.unpin()
		if err := it.l.env.WaitForMemory(it.ctx); err != nil {
			it.fail(err)
			return false
		}
		frag, vals, size, err := it.l.pin(it.ctx, fi)
		if err != nil {
			it.fail(err)
			return false
		}
		if frag == nil || i >= size {
			if frag != nil {
				frag.Unpin()
			}
			it.Close()
			return false
		}
		it.fi, it.pinned, it.vals, it.end = fi, frag, vals, size
	}

	off := i & it.l.mask()
	if i >= it.end || off >= len(it.vals) {
		it.Close()
		return false
	}
	it.cur = it.vals[off]
	it.next++
	return true
}

// Value returns the current element.
func (it *Iterator[T]) Value() T { return it.cur }

// Index returns the index of the current element.
func (it *Iterator[T]) Index() int { return it.next - 1 }

// Err returns the error that stopped iteration, if any.
func (it *Iterator[T]) Err() error { return it.err }

// Close releases the pinned fragment. It is idempotent.
func (it *Iterator[T]) Close() error {
	it.unpin()
	it.l = nil
	return nil
}

func (it *Iterator[T]) fail(err error) {
	it.err = err
	it.Close()
}

func (it *Iterator[T]) unpin() {
	if it.pinned != nil {
		it.pinned.Unpin()
		it.pinned, it.vals, it.fi = nil, nil, -1
	}
}

// All returns a single-pass sequence over the list. Iteration stops after
// yielding the first error.
//
// Example:
//
//	for v, err := range l.All(ctx) {
//	    if err != nil { return err }
//	    sum += v
//	}
func (l *List[T]) All(ctx context.Context) iter.Seq2[T, error] {
	return func(yield func(T, error) bool) {
		it := l.Iterator(ctx)
		defer it.Close()

		for it.Next() {
			if !yield(it.Value(), nil) {
				return
			}
		}
		if err := it.Err(); err != nil {
			var zero T
			yield(zero, err)
		}
	}
}
