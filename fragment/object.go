package fragment

import (
	"context"
	"encoding/binary"
	"fmt"
	"math"
	"unsafe"

	"github.com/hupe1980/swapgo/codec"
	"github.com/hupe1980/swapgo/internal/conv"
	"github.com/hupe1980/swapgo/swap"
)

// blockHeaderSize is [int32 total][int32 first][int32 count].
const blockHeaderSize = 12

// ObjectFragment is a fixed-capacity block of values encoded by a
// Serializer.
//
// Encoded sizes are unpredictable, so a swap splits the values across
// block files "<prefix>_<n>.tdat", each holding
// [int32 total][int32 first][int32 count][records...]. The buffer of the
// next block is sized from the average record size seen so far.
type ObjectFragment[T any] struct {
	state
	ser  codec.Serializer[T]
	max  int
	pos  int
	data []T

	// avgRecord is the average encoded record size of the last swap.
	avgRecord int
}

// NewObject returns an empty fragment holding at most capacity values.
func NewObject[T any](env *Env, capacity int, ser codec.Serializer[T]) *ObjectFragment[T] {
	f := &ObjectFragment[T]{ser: ser, max: capacity}
	f.init(env, "object", f)
	return f
}

// Len returns the logical length.
func (f *ObjectFragment[T]) Len() int { return f.pos }

// Cap returns the fixed capacity.
func (f *ObjectFragment[T]) Cap() int { return f.max }

// Blocks returns the number of block files written by the last swap.
func (f *ObjectFragment[T]) Blocks() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.files)
}

// Append adds v. It is not safe for concurrent use and fails once the
// fragment is completed or full.
func (f *ObjectFragment[T]) Append(v T) error {
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

// Complete seals the fragment and hands it to the coordinator.
func (f *ObjectFragment[T]) Complete() bool {
	return f.complete(func(c *swap.Coordinator) swap.Handle { return swap.Register(c, f) })
}

// Get returns the value at i, reloading the fragment if it was swapped out.
func (f *ObjectFragment[T]) Get(ctx context.Context, i int) (T, error) {
	var zero T
	if i < 0 || i >= f.pos {
		return zero, fmt.Errorf("%w: %d not in [0, %d)", ErrIndexOutOfRange, i, f.pos)
	}
	if err := f.pin(ctx); err != nil {
		return zero, err
	}
	v := f.data[i]
	f.unpin()
	return v, nil
}

// Pin makes the values resident and holds them until Unpin.
func (f *ObjectFragment[T]) Pin(ctx context.Context) ([]T, error) {
	if err := f.pin(ctx); err != nil {
		return nil, err
	}
	return f.data[:f.pos], nil
}

// Unpin releases a Pin.
func (f *ObjectFragment[T]) Unpin() { f.unpin() }

// Truncate shrinks the logical length to n and drops the cut values.
func (f *ObjectFragment[T]) Truncate(ctx context.Context, n int) error {
	if n < 0 || n > f.pos {
		return fmt.Errorf("%w: %d not in [0, %d]", ErrIndexOutOfRange, n, f.pos)
	}
	cut := func() {
		clear(f.data[n:f.pos])
		f.pos = n
	}
	if !f.IsCompleted() {
		cut()
		return nil
	}
	return f.mutate(ctx, cut)
}

// blockSize estimates the buffer for the next block holding remaining
// records.
func (f *ObjectFragment[T]) blockSize(avg, remaining int) int {
	if avg <= 0 {
		return MinBlockBytes
	}
	est := blockHeaderSize + avg*remaining + avg*remaining/8
	return min(max(est, MinBlockBytes), f.env.maxBlockBytes)
}

func (f *ObjectFragment[T]) writeFiles(ctx context.Context) ([]string, int, error) {
	total, err := conv.IntToInt32(f.pos)
	if err != nil {
		return nil, 0, swap.NewError("swap", f.prefix, swap.KindSerialization, err)
	}

	var (
		names   []string
		stored  int
		encoded int
	)
	size := f.blockSize(f.avgRecord, f.pos)
	for i := 0; i < f.pos || len(names) == 0; {
		first := i
		next, body, err := f.writeBlock(ctx, len(names), total, first, size, &stored)
		if err != nil {
			return names, 0, err
		}
		if next == first && f.pos > 0 {
			// A single record did not fit: give it a bigger block.
			if size >= math.MaxInt32/2 {
				return names, 0, swap.NewError("swap", f.prefix, swap.KindCapacity, fmt.Errorf("record %d exceeds %d bytes", i, size))
			}
			size *= 2
			continue
		}
		names = append(names, BlockName(f.prefix, len(names)))
		encoded += body
		i = next
		if i > 0 {
			size = f.blockSize(encoded/i, f.pos-i)
		}
	}
	if f.pos > 0 {
		f.avgRecord = encoded / f.pos
	}
	return names, stored, nil
}

// writeBlock encodes records from first on into one block of at most size
// bytes and stores it as block n. It returns the index of the first record
// not written and the encoded record bytes. Nothing is stored when no
// record fits.
func (f *ObjectFragment[T]) writeBlock(ctx context.Context, n int, total int32, first, size int, stored *int) (int, int, error) {
	buf, err := f.env.pool.Get(ctx, size)
	if err != nil {
		return first, 0, err
	}
	defer f.env.pool.Release(buf)

	enc := f.env.newEncoder(buf.Bytes(), size)
	enc.PutInt(total)
	enc.PutInt(int32(first))
	enc.PutInt(0)

	i := first
	for ; i < f.pos; i++ {
		mark := enc.Mark()
		if err := f.ser.Encode(enc, f.data[i]); err != nil {
			return first, 0, swap.NewError("swap", f.prefix, swap.KindSerialization, fmt.Errorf("record %d: %w", i, err))
		}
		if enc.Err() != nil {
			enc.Truncate(mark)
			break
		}
	}
	if i == first && f.pos > 0 {
		return first, 0, nil
	}
	out := enc.Bytes()
	binary.BigEndian.PutUint32(out[8:blockHeaderSize], uint32(i-first))

	written, err := f.env.writeFrame(ctx, BlockName(f.prefix, n), out)
	if err != nil {
		return first, 0, err
	}
	*stored += written
	return i, len(out) - blockHeaderSize, nil
}

func (f *ObjectFragment[T]) readFiles(ctx context.Context, names []string) (int, error) {
	if len(names) == 0 {
		return 0, swap.NewError("reload", f.prefix, swap.KindIO, fmt.Errorf("%w: no block files", ErrCorrupt))
	}
	data := make([]T, f.pos)
	next, stored := 0, 0
	for _, name := range names {
		n, read, err := f.readBlock(ctx, name, data, next)
		stored += read
		if err != nil {
			return stored, err
		}
		next = n
	}
	if next != f.pos {
		return stored, swap.NewError("reload", f.prefix, swap.KindSerialization, fmt.Errorf("%w: %d of %d records", ErrCorrupt, next, f.pos))
	}
	f.data = data
	return stored, nil
}

// readBlock decodes one block into data. The block must start at record
// first; the index after its last record is returned.
func (f *ObjectFragment[T]) readBlock(ctx context.Context, name string, data []T, first int) (int, int, error) {
	payload, stored, release, err := f.env.readFrame(ctx, name)
	if err != nil {
		return first, 0, err
	}
	defer release()

	corrupt := func(format string, args ...any) error {
		return swap.NewError("reload", name, swap.KindSerialization, fmt.Errorf("%w: "+format, append([]any{ErrCorrupt}, args...)...))
	}

	dec := codec.NewDecoder(payload)
	total, start, count := int(dec.Int()), int(dec.Int()), int(dec.Int())
	switch {
	case dec.Err() != nil:
		return first, stored, corrupt("short header")
	case total != f.pos:
		return first, stored, corrupt("total %d, want %d", total, f.pos)
	case start != first:
		return first, stored, corrupt("block starts at %d, want %d", start, first)
	case count < 0 || start+count > total:
		return first, stored, corrupt("count %d at %d of %d", count, start, total)
	}

	for i := start; i < start+count; i++ {
		v, err := f.ser.Decode(dec)
		if err != nil {
			return first, stored, swap.NewError("reload", name, swap.KindSerialization, fmt.Errorf("record %d: %w", i, err))
		}
		data[i] = v
	}
	return start + count, stored, nil
}

func (f *ObjectFragment[T]) resetPayload() { f.data = make([]T, f.pos) }
func (f *ObjectFragment[T]) dropPayload()  { f.data = nil }

func (f *ObjectFragment[T]) residentBytes() int64 {
	var zero T
	return int64(cap(f.data)) * int64(unsafe.Sizeof(zero))
}

var _ swap.Swappable = (*ObjectFragment[string])(nil)
