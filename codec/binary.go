package codec

import (
	"encoding/binary"
	"errors"
	"io"
	"log/slog"
	"math"
	"slices"
	"unicode/utf8"

	"github.com/bits-and-blooms/bitset"
)

// ErrShortBuffer is reported by Encoder.Err when a write did not fit the
// configured limit. The partial write is discarded; callers roll back with
// Truncate and retry into a larger buffer.
var ErrShortBuffer = errors.New("codec: buffer limit exceeded")

const (
	// MaxStringLen is the longest string (in bytes) that can be encoded.
	// Longer strings are truncated at a rune boundary.
	MaxStringLen = math.MaxUint16 - 1

	// nullStringLen marks a null string in the 2-byte length prefix.
	nullStringLen = math.MaxUint16

	// nullBytesLen marks a nil byte slice in the 4-byte length prefix.
	nullBytesLen = -1
)

// Encoder writes big-endian primitives into a byte slice.
//
// Errors are sticky: once a write exceeds the limit every following write is
// dropped and Err returns ErrShortBuffer until Truncate rolls back.
type Encoder struct {
	buf      []byte
	limit    int
	overflow bool
	logger   *slog.Logger
}

// NewEncoder returns an encoder that appends into dst[:0].
// A limit <= 0 means unlimited.
func NewEncoder(dst []byte, limit int) *Encoder {
	return &Encoder{buf: dst[:0], limit: limit}
}

// SetLogger sets the logger used for truncation warnings.
func (e *Encoder) SetLogger(l *slog.Logger) { e.logger = l }

// Bytes returns the encoded bytes.
func (e *Encoder) Bytes() []byte { return e.buf }

// Len returns the number of encoded bytes.
func (e *Encoder) Len() int { return len(e.buf) }

// Err returns ErrShortBuffer if a write was dropped.
func (e *Encoder) Err() error {
	if e.overflow {
		return ErrShortBuffer
	}
	return nil
}

// Mark returns the current length, for a later Truncate.
func (e *Encoder) Mark() int { return len(e.buf) }

// Truncate discards everything after n bytes and clears the overflow flag.
func (e *Encoder) Truncate(n int) {
	if n < len(e.buf) {
		e.buf = e.buf[:n]
	}
	e.overflow = false
}

func (e *Encoder) reserve(n int) []byte {
	if e.overflow {
		return nil
	}
	l := len(e.buf)
	if e.limit > 0 && l+n > e.limit {
		e.overflow = true
		return nil
	}
	e.buf = slices.Grow(e.buf, n)[:l+n]
	return e.buf[l:]
}

// PutChar writes a 2-byte character.
func (e *Encoder) PutChar(v uint16) {
	if b := e.reserve(2); b != nil {
		binary.BigEndian.PutUint16(b, v)
	}
}

// PutShort writes a 2-byte signed integer.
func (e *Encoder) PutShort(v int16) { e.PutChar(uint16(v)) }

// PutInt writes a 4-byte signed integer.
func (e *Encoder) PutInt(v int32) {
	if b := e.reserve(4); b != nil {
		binary.BigEndian.PutUint32(b, uint32(v))
	}
}

// PutLong writes an 8-byte signed integer.
func (e *Encoder) PutLong(v int64) {
	if b := e.reserve(8); b != nil {
		binary.BigEndian.PutUint64(b, uint64(v))
	}
}

// PutFloat writes a 4-byte IEEE 754 float.
func (e *Encoder) PutFloat(v float32) { e.PutInt(int32(math.Float32bits(v))) }

// PutDouble writes an 8-byte IEEE 754 float.
func (e *Encoder) PutDouble(v float64) { e.PutLong(int64(math.Float64bits(v))) }

// PutBool writes a single byte (0 or 1).
func (e *Encoder) PutBool(v bool) {
	if b := e.reserve(1); b != nil {
		b[0] = 0
		if v {
			b[0] = 1
		}
	}
}

// PutBytes writes a 4-byte length followed by the raw bytes.
// A nil slice is distinguishable from an empty one.
func (e *Encoder) PutBytes(v []byte) {
	if v == nil {
		e.PutInt(nullBytesLen)
		return
	}
	if len(v) > math.MaxInt32 {
		e.overflow = true
		return
	}
	e.PutInt(int32(len(v)))
	if b := e.reserve(len(v)); b != nil {
		copy(b, v)
	}
}

// PutString writes a 2-byte length followed by the UTF-8 bytes.
func (e *Encoder) PutString(s string) {
	if len(s) > MaxStringLen {
		if e.logger != nil {
			e.logger.Warn("string truncated", "length", len(s), "max", MaxStringLen)
		}
		s = truncateUTF8(s, MaxStringLen)
	}
	e.PutChar(uint16(len(s)))
	if b := e.reserve(len(s)); b != nil {
		copy(b, s)
	}
}

// PutNullableString writes s, or the null sentinel when s is nil.
func (e *Encoder) PutNullableString(s *string) {
	if s == nil {
		e.PutChar(nullStringLen)
		return
	}
	e.PutString(*s)
}

// PutBools packs v into 64-bit words prefixed by the bit count.
func (e *Encoder) PutBools(v []bool) {
	if len(v) > math.MaxInt32 {
		e.overflow = true
		return
	}
	e.PutInt(int32(len(v)))
	if len(v) == 0 {
		return
	}
	bs := bitset.New(uint(len(v)))
	for i, set := range v {
		if set {
			bs.Set(uint(i))
		}
	}
	words := bs.Words()
	for i := range wordsFor(len(v)) {
		var w uint64
		if i < len(words) {
			w = words[i]
		}
		e.PutLong(int64(w))
	}
}

func wordsFor(bits int) int { return (bits + 63) / 64 }

func truncateUTF8(s string, n int) string {
	for n > 0 && !utf8.RuneStart(s[n]) {
		n--
	}
	return s[:n]
}

// Decoder reads primitives written by Encoder.
//
// Errors are sticky: a short read sets io.ErrUnexpectedEOF and every
// following read returns the zero value.
type Decoder struct {
	buf []byte
	off int
	err error
}

// NewDecoder returns a decoder over b.
func NewDecoder(b []byte) *Decoder {
	return &Decoder{buf: b}
}

// Err returns the first decoding error.
func (d *Decoder) Err() error { return d.err }

// Remaining returns the number of unread bytes.
func (d *Decoder) Remaining() int { return len(d.buf) - d.off }

func (d *Decoder) next(n int) []byte {
	if d.err != nil {
		return nil
	}
	if n < 0 || d.off+n > len(d.buf) {
		d.err = io.ErrUnexpectedEOF
		return nil
	}
	b := d.buf[d.off : d.off+n]
	d.off += n
	return b
}

// Char reads a 2-byte character.
func (d *Decoder) Char() uint16 {
	if b := d.next(2); b != nil {
		return binary.BigEndian.Uint16(b)
	}
	return 0
}

// Short reads a 2-byte signed integer.
func (d *Decoder) Short() int16 { return int16(d.Char()) }

// Int reads a 4-byte signed integer.
func (d *Decoder) Int() int32 {
	if b := d.next(4); b != nil {
		return int32(binary.BigEndian.Uint32(b))
	}
	return 0
}

// Long reads an 8-byte signed integer.
func (d *Decoder) Long() int64 {
	if b := d.next(8); b != nil {
		return int64(binary.BigEndian.Uint64(b))
	}
	return 0
}

// Float reads a 4-byte IEEE 754 float.
func (d *Decoder) Float() float32 { return math.Float32frombits(uint32(d.Int())) }

// Double reads an 8-byte IEEE 754 float.
func (d *Decoder) Double() float64 { return math.Float64frombits(uint64(d.Long())) }

// Bool reads a single byte.
func (d *Decoder) Bool() bool {
	if b := d.next(1); b != nil {
		return b[0] != 0
	}
	return false
}

// Bytes reads a length-prefixed byte slice. The result is a copy.
func (d *Decoder) Bytes() []byte {
	n := d.Int()
	if n == nullBytesLen || d.err != nil {
		return nil
	}
	b := d.next(int(n))
	if b == nil {
		return nil
	}
	return slices.Clone(b)
}

// String reads a length-prefixed string. Null decodes as "".
func (d *Decoder) String() string {
	s := d.NullableString()
	if s == nil {
		return ""
	}
	return *s
}

// NullableString reads a length-prefixed string, returning nil for null.
func (d *Decoder) NullableString() *string {
	n := d.Char()
	if n == nullStringLen || d.err != nil {
		return nil
	}
	b := d.next(int(n))
	if b == nil {
		return nil
	}
	s := string(b)
	return &s
}

// Bools reads a bit-packed boolean slice.
func (d *Decoder) Bools() []bool {
	n := d.Int()
	if d.err != nil {
		return nil
	}
	if n < 0 {
		d.err = io.ErrUnexpectedEOF
		return nil
	}
	if d.Remaining() < wordsFor(int(n))*8 {
		d.err = io.ErrUnexpectedEOF
		return nil
	}
	words := make([]uint64, wordsFor(int(n)))
	for i := range words {
		words[i] = uint64(d.Long())
	}
	bs := bitset.From(words)
	out := make([]bool, n)
	for i := range out {
		out[i] = bs.Test(uint(i))
	}
	return out
}
