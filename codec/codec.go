// Package codec centralizes the encodings used for swap files.
//
// Two layers live here:
//
//   - [Encoder] / [Decoder]: fixed-width big-endian primitives and
//     length-prefixed strings written into a caller supplied buffer.
//   - [Codec]: whole-value marshaling (JSON) used by [Value] to spill
//     arbitrary records that have no hand-written [Serializer].
//
// Swap files are process-private and never outlive the process, but the
// layout is still treated as a format: changing it breaks reloads of
// fragments that were swapped out before the change.
package codec

import "fmt"

// Codec encodes/decodes values.
// Implementations must be safe for concurrent use.
type Codec interface {
	Marshal(v any) ([]byte, error)
	Unmarshal(data []byte, v any) error
	Name() string
}

// ByName returns a built-in codec by its stable name.
func ByName(name string) (Codec, bool) {
	switch name {
	case "json":
		return JSON{}, true
	case "go-json":
		return GoJSON{}, true
	default:
		return nil, false
	}
}

// MustMarshal is a helper for internal tests/benchmarks.
func MustMarshal(c Codec, v any) []byte {
	if c == nil {
		c = Default
	}
	b, err := c.Marshal(v)
	if err != nil {
		panic(fmt.Errorf("codec %s marshal failed: %w", c.Name(), err))
	}
	return b
}
