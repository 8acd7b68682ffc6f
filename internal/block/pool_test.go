package block

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestPoolEncryptDecryptMatchesSequential(t *testing.T) {
	c := testCodec()
	pool := NewPool(c, 4)

	blocks := [][]byte{
		[]byte("0123456789ABCDEF"),
		[]byte("ffffffffffffffff"),
		[]byte("short"),
	}

	chunks, err := pool.EncryptBlocks(blocks)
	require.NoError(t, err)
	require.Len(t, chunks, len(blocks))

	got, err := pool.DecryptChunks(chunks)
	require.NoError(t, err)
	require.Equal(t, blocks, got)
}

func TestPoolWidthOneIsSequential(t *testing.T) {
	c := testCodec()
	pool := NewPool(c, 0) // clamps to 1

	blocks := [][]byte{[]byte("a"), []byte("b"), []byte("c")}
	chunks, err := pool.EncryptBlocks(blocks)
	require.NoError(t, err)

	got, err := pool.DecryptChunks(chunks)
	require.NoError(t, err)
	require.Equal(t, blocks, got)
}
