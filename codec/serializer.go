package codec

import "fmt"

// Serializer writes and reads single records of type T.
//
// A Serializer is resolved once per fragment and reused for every swap, so
// implementations must be safe for concurrent use (the built-ins are
// stateless).
type Serializer[T any] interface {
	Encode(e *Encoder, v T) error
	Decode(d *Decoder) (T, error)
}

// Int64 serializes int64 values as 8 bytes.
type Int64 struct{}

func (Int64) Encode(e *Encoder, v int64) error { e.PutLong(v); return nil }
func (Int64) Decode(d *Decoder) (int64, error) { v := d.Long(); return v, d.Err() }

// Float64 serializes float64 values as 8 bytes.
type Float64 struct{}

func (Float64) Encode(e *Encoder, v float64) error { e.PutDouble(v); return nil }
func (Float64) Decode(d *Decoder) (float64, error) { v := d.Double(); return v, d.Err() }

// String serializes strings with a 2-byte length prefix.
type String struct{}

func (String) Encode(e *Encoder, v string) error { e.PutString(v); return nil }
func (String) Decode(d *Decoder) (string, error) { v := d.String(); return v, d.Err() }

// NullableString serializes *string values, preserving nil.
type NullableString struct{}

func (NullableString) Encode(e *Encoder, v *string) error { e.PutNullableString(v); return nil }
func (NullableString) Decode(d *Decoder) (*string, error) {
	v := d.NullableString()
	return v, d.Err()
}

// Bytes serializes byte slices with a 4-byte length prefix.
type Bytes struct{}

func (Bytes) Encode(e *Encoder, v []byte) error { e.PutBytes(v); return nil }
func (Bytes) Decode(d *Decoder) ([]byte, error) { v := d.Bytes(); return v, d.Err() }

// Bools serializes boolean slices packed into 64-bit words.
type Bools struct{}

func (Bools) Encode(e *Encoder, v []bool) error { e.PutBools(v); return nil }
func (Bools) Decode(d *Decoder) ([]bool, error) { v := d.Bools(); return v, d.Err() }

// Value serializes arbitrary values through a Codec.
// The marshaled bytes are stored length-prefixed.
type Value[T any] struct {
	// Codec used for marshaling. If nil, Default is used.
	Codec Codec
}

func (s Value[T]) codec() Codec {
	if s.Codec == nil {
		return Default
	}
	return s.Codec
}

// Encode marshals v and writes it length-prefixed.
func (s Value[T]) Encode(e *Encoder, v T) error {
	b, err := s.codec().Marshal(v)
	if err != nil {
		return fmt.Errorf("codec %s: marshal: %w", s.codec().Name(), err)
	}
	e.PutBytes(b)
	return nil
}

// Decode reads a length-prefixed value and unmarshals it.
func (s Value[T]) Decode(d *Decoder) (T, error) {
	var v T
	b := d.Bytes()
	if err := d.Err(); err != nil {
		return v, err
	}
	if b == nil {
		return v, nil
	}
	if err := s.codec().Unmarshal(b, &v); err != nil {
		return v, fmt.Errorf("codec %s: unmarshal: %w", s.codec().Name(), err)
	}
	return v, nil
}

var (
	_ Serializer[int64]   = Int64{}
	_ Serializer[float64] = Float64{}
	_ Serializer[string]  = String{}
	_ Serializer[*string] = NullableString{}
	_ Serializer[[]byte]  = Bytes{}
	_ Serializer[[]bool]  = Bools{}
	_ Serializer[any]     = Value[any]{}
)
