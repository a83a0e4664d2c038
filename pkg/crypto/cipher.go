package crypto

import (
	"bytes"
	"crypto/aes"
	"crypto/md5"
	"crypto/sha1"
	"crypto/sha256"
	"errors"
	"fmt"
	"hash"
	"io"

	"golang.org/x/crypto/pbkdf2"
)

// Errors returned by the cipher filters.
var (
	// ErrNoPassphrase indicates a cipher was requested without a passphrase.
	ErrNoPassphrase = errors.New("passphrase required")

	// ErrInvalidCipher indicates an unknown cipher type.
	ErrInvalidCipher = errors.New("invalid cipher type")

	// ErrInvalidHeader indicates encrypted data does not start with a
	// valid cipher header.
	ErrInvalidHeader = errors.New("invalid cipher header")

	// ErrInvalidData indicates encrypted data is truncated or corrupt.
	ErrInvalidData = errors.New("invalid cipher data")

	// ErrEncryptorClosed indicates a write to a finalized encryptor.
	ErrEncryptorClosed = errors.New("encryptor already closed")
)

// magic marks the start of encrypted data, compatible with openssl enc.
const magic = "Salted__"

// saltSize is the number of random salt bytes in the cipher header.
const saltSize = 8

// CipherType selects the block cipher.
type CipherType uint8

const (
	// AES128CBC is AES with a 128-bit key in CBC mode.
	AES128CBC CipherType = iota + 1

	// AES192CBC is AES with a 192-bit key in CBC mode.
	AES192CBC

	// AES256CBC is AES with a 256-bit key in CBC mode.
	AES256CBC
)

// String returns the cipher name in openssl notation.
func (t CipherType) String() string {
	switch t {
	case AES128CBC:
		return "aes-128-cbc"
	case AES192CBC:
		return "aes-192-cbc"
	case AES256CBC:
		return "aes-256-cbc"
	default:
		return "unknown"
	}
}

// keySize returns the key length in bytes.
func (t CipherType) keySize() int {
	switch t {
	case AES128CBC:
		return 16
	case AES192CBC:
		return 24
	case AES256CBC:
		return 32
	default:
		return 0
	}
}

// ParseCipherType parses a cipher name in openssl notation.
func ParseCipherType(s string) (CipherType, error) {
	switch s {
	case "aes-128-cbc":
		return AES128CBC, nil
	case "aes-192-cbc":
		return AES192CBC, nil
	case "aes-256-cbc":
		return AES256CBC, nil
	default:
		return 0, fmt.Errorf("%w: %q", ErrInvalidCipher, s)
	}
}

// Digest selects the hash used for key derivation.
type Digest uint8

const (
	// DigestSHA1 is the default key derivation digest.
	DigestSHA1 Digest = iota

	// DigestMD5 matches the historical openssl enc default.
	DigestMD5

	// DigestSHA256 matches the current openssl enc default.
	DigestSHA256
)

// String returns the digest name.
func (d Digest) String() string {
	switch d {
	case DigestSHA1:
		return "sha1"
	case DigestMD5:
		return "md5"
	case DigestSHA256:
		return "sha256"
	default:
		return "unknown"
	}
}

// newHash returns the hash constructor for the digest.
func (d Digest) newHash() func() hash.Hash {
	switch d {
	case DigestMD5:
		return md5.New
	case DigestSHA256:
		return sha256.New
	default:
		return sha1.New
	}
}

// Config describes one cipher filter.
type Config struct {
	// Cipher is the block cipher to use.
	Cipher CipherType

	// Passphrase is the secret the key and IV are derived from.
	Passphrase []byte

	// Digest is the key derivation hash. The zero value is SHA-1.
	Digest Digest

	// Raw omits the header magic to save space. The salt is still
	// written; only the "Salted__" marker is dropped.
	Raw bool

	// Iterations switches key derivation to PBKDF2 with the given
	// iteration count. Zero keeps the single-pass derivation that
	// openssl enc uses without -pbkdf2.
	Iterations int
}

func (c *Config) validate() error {
	if c.Cipher.keySize() == 0 {
		return fmt.Errorf("%w: %d", ErrInvalidCipher, c.Cipher)
	}
	if len(c.Passphrase) == 0 {
		return ErrNoPassphrase
	}
	if c.Iterations < 0 {
		return fmt.Errorf("negative iteration count: %d", c.Iterations)
	}
	return nil
}

// headerSize returns the number of bytes before the first cipher block.
func (c *Config) headerSize() int {
	if c.Raw {
		return saltSize
	}
	return len(magic) + saltSize
}

// deriveKey produces the cipher key and IV from the passphrase and salt.
func (c *Config) deriveKey(salt []byte) (key, iv []byte) {
	keyLen := c.Cipher.keySize()
	need := keyLen + aes.BlockSize

	if c.Iterations > 0 {
		out := pbkdf2.Key(c.Passphrase, salt, c.Iterations, need, c.Digest.newHash())
		return out[:keyLen], out[keyLen:need]
	}

	// Single-pass EVP_BytesToKey: each round hashes the previous round's
	// output, the passphrase, and the salt.
	newHash := c.Digest.newHash()
	var prev, out []byte
	for len(out) < need {
		h := newHash()
		h.Write(prev)
		h.Write(c.Passphrase)
		h.Write(salt)
		prev = h.Sum(nil)
		out = append(out, prev...)
	}
	return out[:keyLen], out[keyLen:need]
}

// Encrypt encrypts plaintext in one shot.
func Encrypt(cfg Config, plaintext []byte) ([]byte, error) {
	var buf bytes.Buffer
	enc, err := NewEncryptor(&buf, cfg)
	if err != nil {
		return nil, err
	}
	if _, err := enc.Write(plaintext); err != nil {
		return nil, err
	}
	if err := enc.Close(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// Decrypt decrypts ciphertext in one shot.
func Decrypt(cfg Config, ciphertext []byte) ([]byte, error) {
	dec, err := NewDecryptor(bytes.NewReader(ciphertext), cfg)
	if err != nil {
		return nil, err
	}
	return io.ReadAll(dec)
}
