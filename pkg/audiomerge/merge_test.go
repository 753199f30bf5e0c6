package audiomerge

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// id3Tag builds a minimal ID3v2 header followed by payload bytes.
func id3Tag(payloadLen int) []byte {
	tag := []byte{'I', 'D', '3', 3, 0, 0, 0, 0, 0, byte(payloadLen)}
	return append(tag, make([]byte, payloadLen)...)
}

func TestMergeEmptyInput(t *testing.T) {
	_, err := Merge(nil)
	assert.ErrorIs(t, err, ErrNoChunks)
}

func TestMergeSingleChunkIsIdentity(t *testing.T) {
	chunk := []byte{0xff, 0xfb, 0x90, 0x00, 1, 2, 3}
	out, err := Merge([][]byte{chunk})
	require.NoError(t, err)
	assert.Equal(t, chunk, out)
}

func TestMergeConcatenatesInOrder(t *testing.T) {
	a := []byte{0xff, 0xfb, 1}
	b := []byte{0xff, 0xfb, 2}
	c := []byte{0xff, 0xfb, 3}

	out, err := Merge([][]byte{a, b, c})
	require.NoError(t, err)
	assert.Equal(t, append(append(append([]byte{}, a...), b...), c...), out)
}

func TestMergeStripsID3FromLaterChunks(t *testing.T) {
	frames := []byte{0xff, 0xfb, 0xaa}
	first := append(id3Tag(4), frames...)
	second := append(id3Tag(4), frames...)

	out, err := Merge([][]byte{first, second})
	require.NoError(t, err)

	// First chunk keeps its tag, second chunk loses it.
	want := append(append([]byte{}, first...), frames...)
	assert.Equal(t, want, out)
}

func TestMergeKeepsUntaggedChunks(t *testing.T) {
	a := []byte{0xff, 0xfb, 1, 2}
	b := []byte{0xff, 0xfb, 3, 4}
	out, err := Merge([][]byte{a, b})
	require.NoError(t, err)
	assert.Equal(t, append(append([]byte{}, a...), b...), out)
}

func TestStripID3TruncatedTagLeftAlone(t *testing.T) {
	// Declares more payload than is present; must not slice out of range.
	broken := []byte{'I', 'D', '3', 3, 0, 0, 0, 0, 0, 0x7f, 1}
	assert.Equal(t, broken, stripID3v2(broken))
}
