package crypto

import (
	"crypto/aes"
	"crypto/cipher"
	"fmt"
	"io"
)

// Decryptor decrypts a stream read from the source reader. The final
// cipher block is held back until the source is exhausted so the padding
// can be stripped.
type Decryptor struct {
	src     io.Reader
	cfg     Config
	mode    cipher.BlockMode
	rbuf    []byte // read buffer
	pending []byte // ciphertext not yet decrypted
	out     []byte // plaintext ready to serve
	outOff  int
	srcEOF  bool
	done    bool
}

// NewDecryptor creates a decrypting filter over src. The cipher header is
// read lazily on the first read.
func NewDecryptor(src io.Reader, cfg Config) (*Decryptor, error) {
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return &Decryptor{
		src:  src,
		cfg:  cfg,
		rbuf: make([]byte, 4096),
	}, nil
}

// Read returns decrypted plaintext.
func (d *Decryptor) Read(p []byte) (int, error) {
	for {
		if d.outOff < len(d.out) {
			n := copy(p, d.out[d.outOff:])
			d.outOff += n
			return n, nil
		}
		if d.done {
			return 0, io.EOF
		}
		if err := d.fill(); err != nil {
			return 0, err
		}
	}
}

// fill decrypts more ciphertext into the output buffer.
func (d *Decryptor) fill() error {
	if d.mode == nil {
		if err := d.readHeader(); err != nil {
			return err
		}
	}

	if !d.srcEOF {
		n, err := d.src.Read(d.rbuf)
		d.pending = append(d.pending, d.rbuf[:n]...)
		if err == io.EOF {
			d.srcEOF = true
		} else if err != nil {
			return err
		}
	}

	if d.srcEOF {
		return d.finish()
	}

	// Decrypt complete blocks, holding one back in case it carries
	// the padding.
	usable := len(d.pending)/aes.BlockSize*aes.BlockSize - aes.BlockSize
	if usable <= 0 {
		return nil
	}
	chunk := d.pending[:usable]
	d.mode.CryptBlocks(chunk, chunk)
	d.out, d.outOff = chunk, 0
	d.pending = d.pending[usable:]
	return nil
}

// finish decrypts the held-back tail and strips the padding.
func (d *Decryptor) finish() error {
	d.done = true

	if len(d.pending) == 0 || len(d.pending)%aes.BlockSize != 0 {
		return fmt.Errorf("%w: %d trailing bytes", ErrInvalidData, len(d.pending))
	}

	d.mode.CryptBlocks(d.pending, d.pending)

	// PKCS#7: the last byte names the pad length.
	pad := int(d.pending[len(d.pending)-1])
	if pad < 1 || pad > aes.BlockSize || pad > len(d.pending) {
		return fmt.Errorf("%w: bad padding", ErrInvalidData)
	}
	for _, b := range d.pending[len(d.pending)-pad:] {
		if int(b) != pad {
			return fmt.Errorf("%w: bad padding", ErrInvalidData)
		}
	}

	d.out, d.outOff = d.pending[:len(d.pending)-pad], 0
	d.pending = nil
	return nil
}

// readHeader consumes the salt (and magic unless raw) and keys the cipher.
func (d *Decryptor) readHeader() error {
	header := make([]byte, d.cfg.headerSize())
	if _, err := io.ReadFull(d.src, header); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidHeader, err)
	}

	salt := header
	if !d.cfg.Raw {
		if string(header[:len(magic)]) != magic {
			return fmt.Errorf("%w: missing magic", ErrInvalidHeader)
		}
		salt = header[len(magic):]
	}

	key, iv := d.cfg.deriveKey(salt)
	block, err := aes.NewCipher(key)
	if err != nil {
		return err
	}
	d.mode = cipher.NewCBCDecrypter(block, iv)
	return nil
}
