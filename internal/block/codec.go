// Package block implements a fixed-size block encryption codec: each block
// is framed as SALT || IV || TAG || CIPHERTEXT ("a chunk"), with a fresh
// per-block salt and IV and a key derived from the master key via
// PBKDF2-HMAC-SHA512. Decryption is authenticated; a tag mismatch is
// reported as xerrors.ErrCorruptChunk and must be treated by callers as
// fatal I/O corruption.
package block

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha512"
	"fmt"
	"io"

	"golang.org/x/crypto/pbkdf2"

	"github.com/matrixai/go-encryptedfs/internal/xerrors"
)

const (
	// SaltLen is the length in bytes of the per-chunk PBKDF2 salt.
	SaltLen = 16
	// IVLen is the length in bytes of the AES-GCM nonce.
	IVLen = 12
	// AuthTagLen is the length in bytes of the GCM authentication tag.
	AuthTagLen = 16
	// KeyLen is the length in bytes of the derived per-chunk AES-256 key.
	KeyLen = 32

	// DefaultIterations is the PBKDF2 iteration count used per-block. It is
	// deliberately small: this KDF runs once per block on every encrypt, not
	// once per unlock, so a high iteration count appropriate for a
	// single-shot password-derived key would make file I/O unusably slow.
	// The master key itself is assumed to already be high-entropy (e.g.
	// derived once, out of band, from a passphrase with a proper KDF).
	DefaultIterations = 1000
)

// ChunkOverhead is the number of bytes a chunk adds on top of the plaintext
// block: SaltLen + IVLen + AuthTagLen.
const ChunkOverhead = SaltLen + IVLen + AuthTagLen

// Codec encrypts and decrypts fixed-size blocks under a master key.
type Codec struct {
	masterKey  []byte
	blockSize  int
	iterations int
}

// New returns a Codec for the given master key and block size. masterKey
// must be non-empty; it is never hashed or truncated here — each block's
// key is derived via PBKDF2 from the master key plus that block's salt.
func New(masterKey []byte, blockSize int) *Codec {
	return NewWithIterations(masterKey, blockSize, DefaultIterations)
}

// NewWithIterations is New with an explicit PBKDF2 iteration count, for
// tests that want a cheap codec or callers who want stronger per-block KDF
// work.
func NewWithIterations(masterKey []byte, blockSize, iterations int) *Codec {
	key := make([]byte, len(masterKey))
	copy(key, masterKey)
	return &Codec{masterKey: key, blockSize: blockSize, iterations: iterations}
}

// ChunkSize returns blockSize + ChunkOverhead: the on-disk size of one
// encrypted block.
func (c *Codec) ChunkSize() int {
	return c.blockSize + ChunkOverhead
}

func (c *Codec) deriveKey(salt []byte) []byte {
	return pbkdf2.Key(c.masterKey, salt, c.iterations, KeyLen, sha512.New)
}

func (c *Codec) newGCM(key []byte) (cipher.AEAD, error) {
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("aes.NewCipher: %w", err)
	}
	gcm, err := cipher.NewGCMWithNonceSize(block, IVLen)
	if err != nil {
		return nil, fmt.Errorf("cipher.NewGCM: %w", err)
	}
	return gcm, nil
}

// EncryptBlock draws a fresh salt and IV, derives a per-chunk key, and
// AEAD-encrypts block under it. block must be at most the codec's block
// size. The result is SALT || IV || TAG || CIPHERTEXT.
//
// Encryption is not deterministic: two calls with identical input produce
// different chunks, since a fresh salt and IV are drawn each time.
func (c *Codec) EncryptBlock(plain []byte) ([]byte, error) {
	if len(plain) > c.blockSize {
		return nil, fmt.Errorf("block: plaintext length %d exceeds block size %d", len(plain), c.blockSize)
	}

	salt := make([]byte, SaltLen)
	if _, err := io.ReadFull(rand.Reader, salt); err != nil {
		return nil, fmt.Errorf("rand salt: %w", err)
	}
	iv := make([]byte, IVLen)
	if _, err := io.ReadFull(rand.Reader, iv); err != nil {
		return nil, fmt.Errorf("rand iv: %w", err)
	}

	key := c.deriveKey(salt)
	gcm, err := c.newGCM(key)
	if err != nil {
		return nil, err
	}

	// Seal appends ciphertext||tag to dst. GCM output is ciphertext + tag,
	// so the sealed result needs re-slicing into the on-disk field order
	// SALT || IV || TAG || CIPHERTEXT.
	sealed := gcm.Seal(nil, iv, plain, nil)
	ciphertext := sealed[:len(sealed)-AuthTagLen]
	tag := sealed[len(sealed)-AuthTagLen:]

	chunk := make([]byte, 0, SaltLen+IVLen+AuthTagLen+len(ciphertext))
	chunk = append(chunk, salt...)
	chunk = append(chunk, iv...)
	chunk = append(chunk, tag...)
	chunk = append(chunk, ciphertext...)
	return chunk, nil
}

// DecryptChunk splits chunk into its fields, re-derives the key from the
// embedded salt, and AEAD-decrypts. It fails with xerrors.ErrCorruptChunk
// if the tag does not verify.
func (c *Codec) DecryptChunk(chunk []byte) ([]byte, error) {
	if len(chunk) < SaltLen+IVLen+AuthTagLen {
		return nil, fmt.Errorf("block: chunk too short (%d bytes): %w", len(chunk), xerrors.ErrCorruptChunk)
	}

	salt := chunk[:SaltLen]
	iv := chunk[SaltLen : SaltLen+IVLen]
	tag := chunk[SaltLen+IVLen : SaltLen+IVLen+AuthTagLen]
	ciphertext := chunk[SaltLen+IVLen+AuthTagLen:]

	key := c.deriveKey(salt)
	gcm, err := c.newGCM(key)
	if err != nil {
		return nil, err
	}

	sealed := make([]byte, 0, len(ciphertext)+len(tag))
	sealed = append(sealed, ciphertext...)
	sealed = append(sealed, tag...)

	plain, err := gcm.Open(nil, iv, sealed, nil)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", xerrors.ErrCorruptChunk, err)
	}
	return plain, nil
}
