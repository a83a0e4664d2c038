package discovery

import (
	"crypto/sha256"
	"crypto/x509"
	"encoding/hex"
)

// FingerprintFromCertificate computes the fingerprint announced in the
// fp TXT record.
//
// The fingerprint is the first 64 bits (16 hex chars) of
// SHA-256(certificate DER).
func FingerprintFromCertificate(cert *x509.Certificate) string {
	return FingerprintFromDER(cert.Raw)
}

// FingerprintFromDER computes the fingerprint from raw certificate DER
// bytes.
func FingerprintFromDER(certDER []byte) string {
	hash := sha256.Sum256(certDER)
	return hex.EncodeToString(hash[:8])
}

// ValidateFingerprint checks if a string is a valid 64-bit fingerprint
// (16 hex chars).
func ValidateFingerprint(fp string) bool {
	if len(fp) != FingerprintLength {
		return false
	}
	return isHexString(fp)
}

// isHexString returns true if s consists only of hex digits.
func isHexString(s string) bool {
	for _, c := range s {
		switch {
		case c >= '0' && c <= '9':
		case c >= 'a' && c <= 'f':
		case c >= 'A' && c <= 'F':
		default:
			return false
		}
	}
	return true
}
