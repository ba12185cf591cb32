package fragment

import (
	"context"
	"fmt"

	"github.com/hupe1980/swapgo/codec"
	"github.com/hupe1980/swapgo/internal/conv"
	"github.com/hupe1980/swapgo/swap"
)

// initialCap is the first backing array length of a fragment.
const initialCap = 16

// grow extends data by a factor of 1.5, up to limit elements.
func grow[T any](data []T, limit int) []T {
	n := min(max(initialCap, len(data)+len(data)/2), limit)
	if n <= len(data) {
		return data
	}
	out := make([]T, n)
	copy(out, data)
	return out
}

// IntFragment is a fixed-capacity block of int32 values.
//
// Swap file: "<prefix>.tdat" holding [int32 count][count x int32].
type IntFragment struct {
	state
	max  int
	pos  int
	data []int32
}

// NewInt returns an empty fragment holding at most capacity values.
func NewInt(env *Env, capacity int) *IntFragment {
	f := &IntFragment{max: capacity}
	f.init(env, "int", f)
	return f
}

// Len returns the logical length.
func (f *IntFragment) Len() int { return f.pos }

// Cap returns the fixed capacity.
func (f *IntFragment) Cap() int { return f.max }

// Append adds v. It is not safe for concurrent use and fails once the
// fragment is completed or full.
func (f *IntFragment) Append(v int32) error {
	if f.IsCompleted() {
		return ErrSealed
	}
	if f.pos >= f.max {
		return swap.NewError("append", f.prefix, swap.KindCapacity, nil)
	}
	if f.pos == len(f.data) {
		f.data = grow(f.data, f.max)
		f.charge(f.residentBytes())
	}
	f.data[f.pos] = v
	f.pos++
	return nil
}

// Complete seals the fragment and hands it to the coordinator. It returns
// false if the fragment was already completed.
func (f *IntFragment) Complete() bool {
	return f.complete(func(c *swap.Coordinator) swap.Handle { return swap.Register(c, f) })
}

// Get returns the value at i, reloading the fragment if it was swapped out.
func (f *IntFragment) Get(ctx context.Context, i int) (int32, error) {
	if i < 0 || i >= f.pos {
		return 0, fmt.Errorf("%w: %d not in [0, %d)", ErrIndexOutOfRange, i, f.pos)
	}
	if err := f.pin(ctx); err != nil {
		return 0, err
	}
	v := f.data[i]
	f.unpin()
	return v, nil
}

// Pin makes the values resident and holds them until Unpin. The returned
// slice must not be used after Unpin.
func (f *IntFragment) Pin(ctx context.Context) ([]int32, error) {
	if err := f.pin(ctx); err != nil {
		return nil, err
	}
	return f.data[:f.pos], nil
}

// Unpin releases a Pin.
func (f *IntFragment) Unpin() { f.unpin() }

// Truncate shrinks the logical length to n.
func (f *IntFragment) Truncate(ctx context.Context, n int) error {
	if n < 0 || n > f.pos {
		return fmt.Errorf("%w: %d not in [0, %d]", ErrIndexOutOfRange, n, f.pos)
	}
	if !f.IsCompleted() {
		f.pos = n
		return nil
	}
	return f.mutate(ctx, func() { f.pos = n })
}

func (f *IntFragment) writeFiles(ctx context.Context) ([]string, int, error) {
	count, err := conv.IntToInt32(f.pos)
	if err != nil {
		return nil, 0, swap.NewError("swap", f.prefix, swap.KindSerialization, err)
	}
	size := 4 + 4*f.pos
	buf, err := f.env.pool.Get(ctx, size)
	if err != nil {
		return nil, 0, err
	}
	defer f.env.pool.Release(buf)

	enc := f.env.newEncoder(buf.Bytes(), size)
	enc.PutInt(count)
	for _, v := range f.data[:f.pos] {
		enc.PutInt(v)
	}
	if err := enc.Err(); err != nil {
		return nil, 0, swap.NewError("swap", f.prefix, swap.KindSerialization, err)
	}

	name := FileName(f.prefix)
	stored, err := f.env.writeFrame(ctx, name, enc.Bytes())
	if err != nil {
		return nil, 0, err
	}
	return []string{name}, stored, nil
}

func (f *IntFragment) readFiles(ctx context.Context, names []string) (int, error) {
	if len(names) != 1 {
		return 0, swap.NewError("reload", f.prefix, swap.KindIO, fmt.Errorf("%w: %d files", ErrCorrupt, len(names)))
	}
	payload, stored, release, err := f.env.readFrame(ctx, names[0])
	if err != nil {
		return 0, err
	}
	defer release()

	dec := codec.NewDecoder(payload)
	if n := int(dec.Int()); dec.Err() != nil || n != f.pos {
		return stored, swap.NewError("reload", f.prefix, swap.KindSerialization, fmt.Errorf("%w: count %d, want %d", ErrCorrupt, n, f.pos))
	}
	data := make([]int32, f.pos)
	for i := range data {
		data[i] = dec.Int()
	}
	if err := dec.Err(); err != nil {
		return stored, swap.NewError("reload", f.prefix, swap.KindSerialization, err)
	}
	f.data = data
	return stored, nil
}

func (f *IntFragment) resetPayload()        { f.data = make([]int32, f.pos) }
func (f *IntFragment) dropPayload()         { f.data = nil }
func (f *IntFragment) residentBytes() int64 { return int64(cap(f.data)) * 4 }

var _ swap.Swappable = (*IntFragment)(nil)
