// Package compress frames swap payloads with a fast block codec.
//
// Frame layout:
//
//	[0..4)  magic ("lz4j" or "zstd")
//	[4..8)  big-endian uncompressed length
//	[8..)   compressed payload
//
// Buffers without a known magic are passed through by Decompress unchanged,
// so uncompressed swap files written with AlgorithmNone stay readable.
package compress

import (
	"encoding/binary"
	"errors"
	"fmt"
	"sync"

	"github.com/hupe1980/swapgo/internal/conv"
	"github.com/klauspost/compress/zstd"
	"github.com/pierrec/lz4/v4"
)

// Algorithm selects the block codec used by Compress.
type Algorithm uint8

const (
	// AlgorithmLZ4 frames payloads with LZ4 block compression (default).
	AlgorithmLZ4 Algorithm = iota
	// AlgorithmZSTD frames payloads with ZSTD (better ratio, slower).
	AlgorithmZSTD
	// AlgorithmNone stores payloads as-is.
	AlgorithmNone
)

func (a Algorithm) String() string {
	switch a {
	case AlgorithmLZ4:
		return "lz4"
	case AlgorithmZSTD:
		return "zstd"
	case AlgorithmNone:
		return "none"
	default:
		return fmt.Sprintf("Algorithm(%d)", uint8(a))
	}
}

const (
	// MagicLZ4 tags an LZ4 frame.
	MagicLZ4 = "lz4j"
	// MagicZSTD tags a ZSTD frame.
	MagicZSTD = "zstd"

	// HeaderSize is the size of the frame header.
	HeaderSize = 8

	// maxLZ4Ratio bounds the expansion of an LZ4 block.
	maxLZ4Ratio = 255

	// MaxFrameLen is the largest uncompressed length a frame may declare.
	MaxFrameLen = 1 << 30
)

// ErrCorruptFrame is returned when a tagged frame cannot be decoded.
var ErrCorruptFrame = errors.New("compress: corrupt frame")

var (
	zstdEncoderPool sync.Pool
	zstdDecoderPool sync.Pool
)

func getZstdEncoder() *zstd.Encoder {
	if v := zstdEncoderPool.Get(); v != nil {
		return v.(*zstd.Encoder)
	}
	enc, _ := zstd.NewWriter(nil, zstd.WithEncoderLevel(zstd.SpeedFastest))
	return enc
}

func putZstdEncoder(enc *zstd.Encoder) {
	zstdEncoderPool.Put(enc)
}

func getZstdDecoder() *zstd.Decoder {
	if v := zstdDecoderPool.Get(); v != nil {
		return v.(*zstd.Decoder)
	}
	dec, _ := zstd.NewReader(nil)
	return dec
}

func putZstdDecoder(dec *zstd.Decoder) {
	zstdDecoderPool.Put(dec)
}

// Compress frames src with the given algorithm, appending to dst[:0].
// AlgorithmNone returns src unchanged.
func Compress(alg Algorithm, src, dst []byte) ([]byte, error) {
	switch alg {
	case AlgorithmNone:
		return src, nil
	case AlgorithmLZ4:
		return compressLZ4(src, dst)
	case AlgorithmZSTD:
		return compressZSTD(src, dst)
	default:
		return nil, fmt.Errorf("compress: unknown algorithm %d", alg)
	}
}

func appendHeader(dst []byte, magic string, n int) ([]byte, error) {
	size, err := conv.IntToUint32(n)
	if err != nil {
		return nil, err
	}
	dst = append(dst[:0], magic...)
	return binary.BigEndian.AppendUint32(dst, size), nil
}

func compressLZ4(src, dst []byte) ([]byte, error) {
	bound := HeaderSize + lz4.CompressBlockBound(len(src))
	if cap(dst) < bound {
		dst = make([]byte, 0, bound)
	}
	dst, err := appendHeader(dst, MagicLZ4, len(src))
	if err != nil {
		return nil, err
	}
	if len(src) == 0 {
		return dst, nil
	}

	out := dst[HeaderSize:bound]
	n, err := lz4.CompressBlock(src, out, nil)
	if err != nil {
		return nil, err
	}
	if n == 0 {
		// Incompressible: store as a single literal run so the frame still decodes.
		return appendLiteralBlock(dst, src), nil
	}
	return dst[:HeaderSize+n], nil
}

// appendLiteralBlock encodes src as one LZ4 sequence holding only literals.
func appendLiteralBlock(dst, src []byte) []byte {
	n := len(src)
	if n < 15 {
		dst = append(dst, byte(n<<4))
	} else {
		dst = append(dst, 0xF0)
		n -= 15
		for n >= 255 {
			dst = append(dst, 255)
			n -= 255
		}
		dst = append(dst, byte(n))
	}
	return append(dst, src...)
}

func compressZSTD(src, dst []byte) ([]byte, error) {
	dst, err := appendHeader(dst, MagicZSTD, len(src))
	if err != nil {
		return nil, err
	}
	enc := getZstdEncoder()
	defer putZstdEncoder(enc)
	return enc.EncodeAll(src, dst), nil
}

// Bound returns the largest framed size of an n-byte payload under LZ4.
// ZSTD frames of incompressible data may exceed it by a few bytes.
func Bound(n int) int { return HeaderSize + lz4.CompressBlockBound(n) }

// DecodedLen returns the uncompressed length declared by a framed buffer,
// or len(src) when src is not framed.
func DecodedLen(src []byte) (int, error) {
	if !IsFramed(src) {
		return len(src), nil
	}
	size := binary.BigEndian.Uint32(src[4:HeaderSize])
	if size > MaxFrameLen {
		return 0, fmt.Errorf("%w: length %d exceeds %d", ErrCorruptFrame, size, MaxFrameLen)
	}
	n := int(size)
	if string(src[:4]) == MagicLZ4 && n > maxLZ4Ratio*(len(src)-HeaderSize)+HeaderSize {
		return 0, fmt.Errorf("%w: length %d exceeds lz4 bound for %d payload bytes", ErrCorruptFrame, n, len(src)-HeaderSize)
	}
	return n, nil
}

// IsFramed reports whether b starts with a known frame magic.
func IsFramed(b []byte) bool {
	if len(b) < HeaderSize {
		return false
	}
	m := string(b[:4])
	return m == MagicLZ4 || m == MagicZSTD
}

// Decompress decodes a framed buffer into dst[:0] (allocating if dst is too
// small). Buffers without a frame magic are returned unmodified.
func Decompress(src, dst []byte) ([]byte, error) {
	if !IsFramed(src) {
		return src, nil
	}
	size, err := DecodedLen(src)
	if err != nil {
		return nil, err
	}
	payload := src[HeaderSize:]

	if cap(dst) < size {
		dst = make([]byte, size)
	}
	dst = dst[:size]
	if size == 0 {
		return dst, nil
	}

	switch string(src[:4]) {
	case MagicLZ4:
		n, err := lz4.UncompressBlock(payload, dst)
		if err != nil {
			return nil, fmt.Errorf("%w: %w", ErrCorruptFrame, err)
		}
		if n != size {
			return nil, fmt.Errorf("%w: decompressed size mismatch (%d != %d)", ErrCorruptFrame, n, size)
		}
		return dst, nil
	default:
		dec := getZstdDecoder()
		defer putZstdDecoder(dec)

		out, err := dec.DecodeAll(payload, dst[:0])
		if err != nil {
			return nil, fmt.Errorf("%w: %w", ErrCorruptFrame, err)
		}
		if len(out) != size {
			return nil, fmt.Errorf("%w: decompressed size mismatch (%d != %d)", ErrCorruptFrame, len(out), size)
		}
		return out, nil
	}
}
