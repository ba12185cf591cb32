package fragment

import (
	"context"
	"fmt"

	"github.com/hupe1980/swapgo/codec"
	"github.com/hupe1980/swapgo/swap"
)

// StringFragment holds a single string. It is complete on creation.
//
// Swap file: "<prefix>.tdat" holding [int32 length][UTF-8 bytes].
type StringFragment struct {
	state
	value string
}

// NewString returns a completed fragment holding value.
func NewString(env *Env, value string) *StringFragment {
	f := &StringFragment{value: value}
	f.init(env, "string", f)
	f.complete(func(c *swap.Coordinator) swap.Handle { return swap.Register(c, f) })
	return f
}

// Get returns the value, reloading it if it was swapped out.
func (f *StringFragment) Get(ctx context.Context) (string, error) {
	if err := f.pin(ctx); err != nil {
		return "", err
	}
	v := f.value
	f.unpin()
	return v, nil
}

// Set replaces the value.
func (f *StringFragment) Set(ctx context.Context, v string) error {
	return f.mutate(ctx, func() { f.value = v })
}

func (f *StringFragment) writeFiles(ctx context.Context) ([]string, int, error) {
	size := 4 + len(f.value)
	buf, err := f.env.pool.Get(ctx, size)
	if err != nil {
		return nil, 0, err
	}
	defer f.env.pool.Release(buf)

	enc := f.env.newEncoder(buf.Bytes(), size)
	enc.PutBytes([]byte(f.value))
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

func (f *StringFragment) readFiles(ctx context.Context, names []string) (int, error) {
	if len(names) != 1 {
		return 0, swap.NewError("reload", f.prefix, swap.KindIO, fmt.Errorf("%w: %d files", ErrCorrupt, len(names)))
	}
	payload, stored, release, err := f.env.readFrame(ctx, names[0])
	if err != nil {
		return 0, err
	}
	defer release()

	dec := codec.NewDecoder(payload)
	b := dec.Bytes()
	if err := dec.Err(); err != nil {
		return stored, swap.NewError("reload", f.prefix, swap.KindSerialization, err)
	}
	f.value = string(b)
	return stored, nil
}

func (f *StringFragment) resetPayload()        { f.value = "" }
func (f *StringFragment) dropPayload()         { f.value = "" }
func (f *StringFragment) residentBytes() int64 { return int64(len(f.value)) }

var _ swap.Swappable = (*StringFragment)(nil)
