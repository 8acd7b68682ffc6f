package block

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/matrixai/go-encryptedfs/internal/xerrors"
)

func testCodec() *Codec {
	// Low iteration count: these are unit tests, not a benchmark of the KDF.
	return NewWithIterations(bytes.Repeat([]byte{0x42}, 32), 16, 4)
}

func TestEncryptDecryptRoundTrip(t *testing.T) {
	c := testCodec()
	plain := []byte("0123456789ABCDEF")[:16]

	chunk, err := c.EncryptBlock(plain)
	require.NoError(t, err)
	require.Len(t, chunk, c.ChunkSize())

	got, err := c.DecryptChunk(chunk)
	require.NoError(t, err)
	require.Equal(t, plain, got)
}

func TestEncryptIsNotDeterministic(t *testing.T) {
	c := testCodec()
	plain := []byte("same plaintext!!")

	chunkA, err := c.EncryptBlock(plain)
	require.NoError(t, err)
	chunkB, err := c.EncryptBlock(plain)
	require.NoError(t, err)

	require.NotEqual(t, chunkA, chunkB, "salt+IV must differ between calls")

	gotA, err := c.DecryptChunk(chunkA)
	require.NoError(t, err)
	gotB, err := c.DecryptChunk(chunkB)
	require.NoError(t, err)
	require.Equal(t, plain, gotA)
	require.Equal(t, plain, gotB)
}

func TestDecryptChunkTamperedTagFails(t *testing.T) {
	c := testCodec()
	chunk, err := c.EncryptBlock([]byte("hello world!!!!!")[:16])
	require.NoError(t, err)

	tampered := append([]byte(nil), chunk...)
	tampered[SaltLen+IVLen] ^= 0xFF

	_, err = c.DecryptChunk(tampered)
	require.Error(t, err)
	require.ErrorIs(t, err, xerrors.ErrCorruptChunk)
}

func TestEncryptBlockRejectsOversizedInput(t *testing.T) {
	c := testCodec()
	_, err := c.EncryptBlock(bytes.Repeat([]byte{1}, 17))
	require.Error(t, err)
}

func TestShortBlockIsPadlessAndRoundTrips(t *testing.T) {
	c := testCodec()
	plain := []byte("abc")

	chunk, err := c.EncryptBlock(plain)
	require.NoError(t, err)
	// A short trailing block must not be padded out to blockSize.
	require.Equal(t, len(plain)+ChunkOverhead, len(chunk))

	got, err := c.DecryptChunk(chunk)
	require.NoError(t, err)
	require.Equal(t, plain, got)
}
