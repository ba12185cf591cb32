package compress

import (
	"bytes"
	"encoding/binary"
	"math/rand/v2"
	"testing"

	"github.com/pierrec/lz4/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func randomBytes(n int, seed uint64) []byte {
	r := rand.New(rand.NewPCG(seed, seed^0x9e3779b97f4a7c15))
	b := make([]byte, n)
	for i := range b {
		b[i] = byte(r.Uint32())
	}
	return b
}

func TestRoundTrip(t *testing.T) {
	lengths := []int{0, 1, 14, 15, 16, 269, 270, 271, 4096, 100_000}
	for _, alg := range []Algorithm{AlgorithmLZ4, AlgorithmZSTD, AlgorithmNone} {
		t.Run(alg.String(), func(t *testing.T) {
			for _, n := range lengths {
				for _, src := range [][]byte{
					randomBytes(n, uint64(n)+1),
					bytes.Repeat([]byte{0xAB}, n),
				} {
					framed, err := Compress(alg, src, nil)
					require.NoError(t, err)

					if alg != AlgorithmNone {
						require.True(t, IsFramed(framed))
						assert.Equal(t, uint32(n), binary.BigEndian.Uint32(framed[4:8]))
					}

					got, err := Decompress(framed, nil)
					require.NoError(t, err, "n=%d", n)
					assert.Equal(t, len(src), len(got))
					assert.True(t, bytes.Equal(src, got), "n=%d", n)
				}
			}
		})
	}
}

func TestCompress_Magic(t *testing.T) {
	framed, err := Compress(AlgorithmLZ4, []byte("hello hello hello hello"), nil)
	require.NoError(t, err)
	assert.Equal(t, MagicLZ4, string(framed[:4]))

	framed, err = Compress(AlgorithmZSTD, []byte("hello"), nil)
	require.NoError(t, err)
	assert.Equal(t, MagicZSTD, string(framed[:4]))

	_, err = Compress(Algorithm(42), nil, nil)
	assert.Error(t, err)
}

func TestCompress_ReusesDst(t *testing.T) {
	src := bytes.Repeat([]byte("abcdef"), 1000)
	dst := make([]byte, 0, HeaderSize+lz4.CompressBlockBound(len(src)))
	framed, err := Compress(AlgorithmLZ4, src, dst)
	require.NoError(t, err)
	assert.Equal(t, &dst[:1][0], &framed[:1][0])
	assert.Less(t, len(framed), len(src))
}

func TestDecompress_Passthrough(t *testing.T) {
	for _, legacy := range [][]byte{nil, {}, []byte("abc"), []byte("lz4"), []byte("plain old swap data")} {
		got, err := Decompress(legacy, nil)
		require.NoError(t, err)
		assert.Equal(t, legacy, got)
	}
}

func TestDecompress_Corrupt(t *testing.T) {
	framed, err := Compress(AlgorithmLZ4, bytes.Repeat([]byte("xyz"), 500), nil)
	require.NoError(t, err)

	_, err = Decompress(framed[:len(framed)/2], nil)
	assert.ErrorIs(t, err, ErrCorruptFrame)

	// Claimed length far beyond what the payload could expand to.
	bad := append([]byte(MagicLZ4), 0x7f, 0xff, 0xff, 0xff, 0x00)
	_, err = Decompress(bad, nil)
	assert.ErrorIs(t, err, ErrCorruptFrame)

	framed, err = Compress(AlgorithmZSTD, bytes.Repeat([]byte("xyz"), 500), nil)
	require.NoError(t, err)
	_, err = Decompress(framed[:HeaderSize+3], nil)
	assert.ErrorIs(t, err, ErrCorruptFrame)
}

func TestDecodedLen(t *testing.T) {
	src := randomBytes(5000, 3)
	for _, alg := range []Algorithm{AlgorithmLZ4, AlgorithmZSTD} {
		framed, err := Compress(alg, src, nil)
		require.NoError(t, err)
		n, err := DecodedLen(framed)
		require.NoError(t, err, alg.String())
		assert.Equal(t, len(src), n, alg.String())
		assert.LessOrEqual(t, len(framed), Bound(len(src))+16, alg.String())
	}

	n, err := DecodedLen([]byte("plain"))
	require.NoError(t, err)
	assert.Equal(t, 5, n)

	_, err = DecodedLen(append([]byte(MagicZSTD), 0x7f, 0xff, 0xff, 0xff))
	assert.ErrorIs(t, err, ErrCorruptFrame)
}

func TestAppendLiteralBlock(t *testing.T) {
	for _, n := range []int{1, 14, 15, 16, 269, 270, 271, 1024} {
		src := randomBytes(n, 7)
		block := appendLiteralBlock(nil, src)
		out := make([]byte, n)
		got, err := lz4.UncompressBlock(block, out)
		require.NoError(t, err, "n=%d", n)
		assert.Equal(t, n, got)
		assert.Equal(t, src, out)
	}
}

func BenchmarkCompressLZ4(b *testing.B) {
	src := bytes.Repeat([]byte("0123456789abcdef"), 64*1024)
	dst := make([]byte, 0, HeaderSize+lz4.CompressBlockBound(len(src)))
	b.SetBytes(int64(len(src)))
	b.ReportAllocs()
	for b.Loop() {
		if _, err := Compress(AlgorithmLZ4, src, dst); err != nil {
			b.Fatal(err)
		}
	}
}
