// Package crypto implements the block cipher filter used for repository
// files, compatible with openssl enc.
//
// Encrypted data starts with the 8-byte "Salted__" marker and an 8-byte
// random salt, followed by AES-CBC cipher blocks with PKCS#7 padding.
// Raw mode drops the marker to save space; the salt always remains. The
// key and IV are derived from a passphrase and the salt, by default with
// the same single-pass derivation openssl enc performs (SHA-1 digest),
// optionally with PBKDF2.
//
// Encryptor and Decryptor are streaming filters; Encrypt and Decrypt are
// one-shot helpers over them.
package crypto
