package crypto

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"io"
)

// Encryptor encrypts a stream written to it and forwards the result to
// the destination writer. Close finalizes the padding and must be called;
// it does not close the destination.
type Encryptor struct {
	dst    io.Writer
	mode   cipher.BlockMode
	header []byte // emitted before the first cipher block
	rem    []byte // partial block carried between writes
	buf    []byte // scratch for encrypted output
	closed bool
	err    error
}

// NewEncryptor creates an encrypting filter in front of dst.
func NewEncryptor(dst io.Writer, cfg Config) (*Encryptor, error) {
	if err := cfg.validate(); err != nil {
		return nil, err
	}

	salt := make([]byte, saltSize)
	if _, err := rand.Read(salt); err != nil {
		return nil, err
	}

	key, iv := cfg.deriveKey(salt)
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, err
	}

	header := salt
	if !cfg.Raw {
		header = append([]byte(magic), salt...)
	}

	return &Encryptor{
		dst:    dst,
		mode:   cipher.NewCBCEncrypter(block, iv),
		header: header,
		rem:    make([]byte, 0, aes.BlockSize),
	}, nil
}

// Write encrypts p. Complete cipher blocks are forwarded immediately;
// up to one partial block is carried until the next write or Close.
func (e *Encryptor) Write(p []byte) (int, error) {
	if e.err != nil {
		return 0, e.err
	}
	if e.closed {
		return 0, ErrEncryptorClosed
	}

	total := len(p)

	// Top up the carried partial block first.
	if len(e.rem) > 0 {
		n := aes.BlockSize - len(e.rem)
		if n > len(p) {
			n = len(p)
		}
		e.rem = append(e.rem, p[:n]...)
		p = p[n:]
		if len(e.rem) < aes.BlockSize {
			return total, nil
		}
		if err := e.encrypt(e.rem); err != nil {
			return total - len(p), err
		}
		e.rem = e.rem[:0]
	}

	whole := len(p) / aes.BlockSize * aes.BlockSize
	if whole > 0 {
		if err := e.encrypt(p[:whole]); err != nil {
			return total - len(p), err
		}
	}
	e.rem = append(e.rem, p[whole:]...)

	return total, nil
}

// Close pads and flushes the final block. The destination writer is left
// open. Close is idempotent.
func (e *Encryptor) Close() error {
	if e.closed {
		return e.err
	}
	e.closed = true
	if e.err != nil {
		return e.err
	}

	// PKCS#7: always pad, with a full block when input ends on a
	// block boundary.
	pad := aes.BlockSize - len(e.rem)
	final := e.rem
	for i := 0; i < pad; i++ {
		final = append(final, byte(pad))
	}
	return e.encrypt(final)
}

// encrypt forwards full blocks of src without modifying it.
func (e *Encryptor) encrypt(src []byte) error {
	if e.header != nil {
		if _, err := e.dst.Write(e.header); err != nil {
			e.err = err
			return err
		}
		e.header = nil
	}

	if cap(e.buf) < len(src) {
		e.buf = make([]byte, len(src))
	}
	out := e.buf[:len(src)]
	e.mode.CryptBlocks(out, src)

	if _, err := e.dst.Write(out); err != nil {
		e.err = err
		return err
	}
	return nil
}
