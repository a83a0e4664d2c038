package crypto

import (
	"bytes"
	"errors"
	"io"
	"strings"
	"testing"
)

func testConfig() Config {
	return Config{
		Cipher:     AES256CBC,
		Passphrase: []byte("correct horse battery staple"),
	}
}

func TestEncryptDecryptRoundTrip(t *testing.T) {
	plaintexts := [][]byte{
		nil,
		[]byte("a"),
		[]byte("exactly sixteen!"),
		[]byte("just over sixteen"),
		bytes.Repeat([]byte("0123456789abcdef"), 1000),
	}

	for _, plaintext := range plaintexts {
		ciphertext, err := Encrypt(testConfig(), plaintext)
		if err != nil {
			t.Fatalf("Encrypt() error = %v", err)
		}

		decrypted, err := Decrypt(testConfig(), ciphertext)
		if err != nil {
			t.Fatalf("Decrypt() error = %v", err)
		}
		if !bytes.Equal(decrypted, plaintext) {
			t.Errorf("round trip of %d bytes: got %d bytes, content mismatch", len(plaintext), len(decrypted))
		}
	}
}

func TestCipherHeader(t *testing.T) {
	plaintext := []byte("some repository content")

	ciphertext, err := Encrypt(testConfig(), plaintext)
	if err != nil {
		t.Fatalf("Encrypt() error = %v", err)
	}

	if !bytes.HasPrefix(ciphertext, []byte("Salted__")) {
		t.Errorf("ciphertext does not start with header magic: % x", ciphertext[:16])
	}

	// Header plus plaintext padded to the next block boundary.
	want := 16 + (len(plaintext)/16+1)*16
	if len(ciphertext) != want {
		t.Errorf("ciphertext length = %d, want %d", len(ciphertext), want)
	}
}

func TestCipherRawMode(t *testing.T) {
	cfg := testConfig()
	cfg.Raw = true
	plaintext := []byte("some repository content")

	ciphertext, err := Encrypt(cfg, plaintext)
	if err != nil {
		t.Fatalf("Encrypt() error = %v", err)
	}

	if bytes.HasPrefix(ciphertext, []byte("Salted__")) {
		t.Error("raw ciphertext still carries header magic")
	}

	// Salt plus padded content, 8 bytes shorter than with magic.
	want := 8 + (len(plaintext)/16+1)*16
	if len(ciphertext) != want {
		t.Errorf("ciphertext length = %d, want %d", len(ciphertext), want)
	}

	decrypted, err := Decrypt(cfg, ciphertext)
	if err != nil {
		t.Fatalf("Decrypt() error = %v", err)
	}
	if !bytes.Equal(decrypted, plaintext) {
		t.Error("raw round trip mismatch")
	}

	// Reading raw data with a header-expecting config must fail on
	// the missing magic.
	if _, err := Decrypt(testConfig(), ciphertext); !errors.Is(err, ErrInvalidHeader) {
		t.Errorf("Decrypt(raw data) error = %v, want ErrInvalidHeader", err)
	}
}

func TestCipherDigests(t *testing.T) {
	plaintext := []byte("digest selection")

	for _, digest := range []Digest{DigestSHA1, DigestMD5, DigestSHA256} {
		cfg := testConfig()
		cfg.Digest = digest

		ciphertext, err := Encrypt(cfg, plaintext)
		if err != nil {
			t.Fatalf("Encrypt(%v) error = %v", digest, err)
		}
		decrypted, err := Decrypt(cfg, ciphertext)
		if err != nil {
			t.Fatalf("Decrypt(%v) error = %v", digest, err)
		}
		if !bytes.Equal(decrypted, plaintext) {
			t.Errorf("digest %v round trip mismatch", digest)
		}
	}
}

func TestCipherPBKDF2(t *testing.T) {
	cfg := testConfig()
	cfg.Iterations = 10000
	plaintext := []byte("derived with pbkdf2")

	ciphertext, err := Encrypt(cfg, plaintext)
	if err != nil {
		t.Fatalf("Encrypt() error = %v", err)
	}
	decrypted, err := Decrypt(cfg, ciphertext)
	if err != nil {
		t.Fatalf("Decrypt() error = %v", err)
	}
	if !bytes.Equal(decrypted, plaintext) {
		t.Error("pbkdf2 round trip mismatch")
	}

	// The single-pass derivation must not read pbkdf2 data.
	plain, err := Decrypt(testConfig(), ciphertext)
	if err == nil && bytes.Equal(plain, plaintext) {
		t.Error("mismatched derivation decrypted successfully")
	}
}

func TestCipherWrongPassphrase(t *testing.T) {
	ciphertext, err := Encrypt(testConfig(), []byte("secret content"))
	if err != nil {
		t.Fatalf("Encrypt() error = %v", err)
	}

	cfg := testConfig()
	cfg.Passphrase = []byte("wrong")
	plain, err := Decrypt(cfg, ciphertext)
	if err == nil && bytes.Equal(plain, []byte("secret content")) {
		t.Error("wrong passphrase decrypted successfully")
	}
}

func TestCipherSaltVaries(t *testing.T) {
	plaintext := []byte("same input twice")

	first, err := Encrypt(testConfig(), plaintext)
	if err != nil {
		t.Fatalf("Encrypt() error = %v", err)
	}
	second, err := Encrypt(testConfig(), plaintext)
	if err != nil {
		t.Fatalf("Encrypt() error = %v", err)
	}

	if bytes.Equal(first, second) {
		t.Error("two encryptions produced identical output")
	}
}

func TestEncryptorStreaming(t *testing.T) {
	plaintext := bytes.Repeat([]byte("streaming one byte at a time "), 37)

	var buf bytes.Buffer
	enc, err := NewEncryptor(&buf, testConfig())
	if err != nil {
		t.Fatalf("NewEncryptor() error = %v", err)
	}
	for _, b := range plaintext {
		if _, err := enc.Write([]byte{b}); err != nil {
			t.Fatalf("Write() error = %v", err)
		}
	}
	if err := enc.Close(); err != nil {
		t.Fatalf("Close() error = %v", err)
	}

	dec, err := NewDecryptor(&buf, testConfig())
	if err != nil {
		t.Fatalf("NewDecryptor() error = %v", err)
	}

	// Drain one byte at a time to exercise the carry logic.
	var out bytes.Buffer
	one := make([]byte, 1)
	for {
		n, err := dec.Read(one)
		out.Write(one[:n])
		if err == io.EOF {
			break
		}
		if err != nil {
			t.Fatalf("Read() error = %v", err)
		}
	}

	if !bytes.Equal(out.Bytes(), plaintext) {
		t.Errorf("streamed round trip: got %d bytes, want %d", out.Len(), len(plaintext))
	}
}

func TestEncryptorWriteAfterClose(t *testing.T) {
	enc, err := NewEncryptor(io.Discard, testConfig())
	if err != nil {
		t.Fatalf("NewEncryptor() error = %v", err)
	}
	if err := enc.Close(); err != nil {
		t.Fatalf("Close() error = %v", err)
	}
	if err := enc.Close(); err != nil {
		t.Fatalf("second Close() error = %v", err)
	}

	if _, err := enc.Write([]byte("late")); !errors.Is(err, ErrEncryptorClosed) {
		t.Errorf("Write() after Close error = %v, want ErrEncryptorClosed", err)
	}
}

func TestDecryptTruncated(t *testing.T) {
	ciphertext, err := Encrypt(testConfig(), []byte("will be truncated"))
	if err != nil {
		t.Fatalf("Encrypt() error = %v", err)
	}

	tests := []struct {
		name    string
		data    []byte
		wantErr error
	}{
		{"Empty", nil, ErrInvalidHeader},
		{"ShortHeader", ciphertext[:10], ErrInvalidHeader},
		{"NoBlocks", ciphertext[:16], ErrInvalidData},
		{"PartialBlock", ciphertext[:len(ciphertext)-3], ErrInvalidData},
		{"BadMagic", append([]byte("NotSalt_"), ciphertext[8:]...), ErrInvalidHeader},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := Decrypt(testConfig(), tt.data); !errors.Is(err, tt.wantErr) {
				t.Errorf("Decrypt() error = %v, want %v", err, tt.wantErr)
			}
		})
	}
}

func TestConfigValidate(t *testing.T) {
	tests := []struct {
		name    string
		cfg     Config
		wantErr error
	}{
		{"NoPassphrase", Config{Cipher: AES256CBC}, ErrNoPassphrase},
		{"NoCipher", Config{Passphrase: []byte("x")}, ErrInvalidCipher},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := NewEncryptor(io.Discard, tt.cfg); !errors.Is(err, tt.wantErr) {
				t.Errorf("NewEncryptor() error = %v, want %v", err, tt.wantErr)
			}
			if _, err := NewDecryptor(strings.NewReader(""), tt.cfg); !errors.Is(err, tt.wantErr) {
				t.Errorf("NewDecryptor() error = %v, want %v", err, tt.wantErr)
			}
		})
	}
}

func TestParseCipherType(t *testing.T) {
	tests := []struct {
		in      string
		want    CipherType
		wantErr bool
	}{
		{"aes-128-cbc", AES128CBC, false},
		{"aes-192-cbc", AES192CBC, false},
		{"aes-256-cbc", AES256CBC, false},
		{"des", 0, true},
		{"", 0, true},
	}

	for _, tt := range tests {
		got, err := ParseCipherType(tt.in)
		if (err != nil) != tt.wantErr {
			t.Errorf("ParseCipherType(%q) error = %v, wantErr %v", tt.in, err, tt.wantErr)
		}
		if got != tt.want {
			t.Errorf("ParseCipherType(%q) = %v, want %v", tt.in, got, tt.want)
		}
	}
}

func TestCipherTypeString(t *testing.T) {
	if got, want := AES256CBC.String(), "aes-256-cbc"; got != want {
		t.Errorf("String() = %q, want %q", got, want)
	}
	if got, want := CipherType(0).String(), "unknown"; got != want {
		t.Errorf("String() = %q, want %q", got, want)
	}
}

func TestDeriveKeyDeterministic(t *testing.T) {
	cfg := testConfig()
	salt := []byte{1, 2, 3, 4, 5, 6, 7, 8}

	key1, iv1 := cfg.deriveKey(salt)
	key2, iv2 := cfg.deriveKey(salt)
	if !bytes.Equal(key1, key2) || !bytes.Equal(iv1, iv2) {
		t.Error("derivation is not deterministic")
	}
	if len(key1) != 32 || len(iv1) != 16 {
		t.Errorf("key/iv lengths = %d/%d, want 32/16", len(key1), len(iv1))
	}

	otherSalt := []byte{8, 7, 6, 5, 4, 3, 2, 1}
	key3, _ := cfg.deriveKey(otherSalt)
	if bytes.Equal(key1, key3) {
		t.Error("different salts derived the same key")
	}
}
