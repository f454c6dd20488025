package protocol

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/require"
)

// delta builds a delta stream from the two size headers and raw
// instruction bytes.
func delta(baseSize, resultSize int, instructions ...byte) []byte {
	out := append(varint(baseSize), varint(resultSize)...)
	return append(out, instructions...)
}

func varint(n int) []byte {
	var out []byte
	for {
		b := byte(n & 0x7f)
		n >>= 7
		if n == 0 {
			return append(out, b)
		}
		out = append(out, b|0x80)
	}
}

func TestApplyDelta(t *testing.T) {
	base := []byte("the quick brown fox")

	t.Run("insert only", func(t *testing.T) {
		d := delta(len(base), 3, 0x03, 'a', 'b', 'c')
		out, err := applyDelta(base, d)
		require.NoError(t, err)
		require.Equal(t, "abc", string(out))
	})

	t.Run("copy only", func(t *testing.T) {
		// Copy 5 bytes from offset 4: offset1 and size1 present.
		d := delta(len(base), 5, 0x80|0x01|0x10, 4, 5)
		out, err := applyDelta(base, d)
		require.NoError(t, err)
		require.Equal(t, "quick", string(out))
	})

	t.Run("copy then insert", func(t *testing.T) {
		d := delta(len(base), 8,
			0x80|0x01|0x10, 10, 5, // "brown"
			0x03, 'i', 's', 'h')
		out, err := applyDelta(base, d)
		require.NoError(t, err)
		require.Equal(t, "brownish", string(out))
	})

	t.Run("copy with zero offset uses base start", func(t *testing.T) {
		d := delta(len(base), 3, 0x80|0x10, 3)
		out, err := applyDelta(base, d)
		require.NoError(t, err)
		require.Equal(t, "the", string(out))
	})

	t.Run("zero size means 0x10000", func(t *testing.T) {
		big := bytes.Repeat([]byte{'x'}, 0x10000)
		d := delta(len(big), 0x10000, 0x80) // no offset, no size bytes
		out, err := applyDelta(big, d)
		require.NoError(t, err)
		require.Equal(t, big, out)
	})

	t.Run("base size mismatch", func(t *testing.T) {
		d := delta(len(base)+1, 1, 0x01, 'a')
		_, err := applyDelta(base, d)
		require.ErrorIs(t, err, ErrInvalidDelta)
	})

	t.Run("result size mismatch", func(t *testing.T) {
		d := delta(len(base), 99, 0x01, 'a')
		_, err := applyDelta(base, d)
		require.ErrorIs(t, err, ErrInvalidDelta)
	})

	t.Run("reserved command byte", func(t *testing.T) {
		d := delta(len(base), 1, 0x00)
		_, err := applyDelta(base, d)
		require.ErrorIs(t, err, ErrInvalidDelta)
	})

	t.Run("copy overruns base", func(t *testing.T) {
		d := delta(len(base), 5, 0x80|0x01|0x10, byte(len(base)-1), 5)
		_, err := applyDelta(base, d)
		require.ErrorIs(t, err, ErrInvalidDelta)
	})

	t.Run("insert overruns stream", func(t *testing.T) {
		d := delta(len(base), 5, 0x05, 'a')
		_, err := applyDelta(base, d)
		require.ErrorIs(t, err, ErrInvalidDelta)
	})
}

func TestDeltaHeaderSize(t *testing.T) {
	size, rest := deltaHeaderSize([]byte{0x7f, 0xaa})
	require.Equal(t, uint64(0x7f), size)
	require.Equal(t, []byte{0xaa}, rest)

	// 0x80 | 0x05, 0x03 => 5 | 3<<7 = 389
	size, rest = deltaHeaderSize([]byte{0x85, 0x03, 0xbb})
	require.Equal(t, uint64(389), size)
	require.Equal(t, []byte{0xbb}, rest)
}
