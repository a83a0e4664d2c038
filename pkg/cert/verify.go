package cert

import (
	"crypto/x509"
	"errors"
	"fmt"
	"time"
)

// Verification errors.
var (
	ErrCertExpired     = errors.New("certificate has expired")
	ErrCertNotYetValid = errors.New("certificate is not yet valid")
	ErrInvalidChain    = errors.New("invalid certificate chain")
	ErrNoIdentity      = errors.New("certificate has no CommonName")
)

// VerifyPeer verifies a peer certificate chain against the trust anchor pool.
// The first certificate is the leaf; any remaining certificates are offered as
// intermediates. The verified chain is returned so callers can apply revocation
// checks to every certificate the trust decision depends on.
func VerifyPeer(peerCerts []*x509.Certificate, roots *x509.CertPool, at time.Time) ([]*x509.Certificate, error) {
	if len(peerCerts) == 0 {
		return nil, fmt.Errorf("%w: no peer certificate", ErrInvalidChain)
	}
	leaf := peerCerts[0]

	if at.Before(leaf.NotBefore) {
		return nil, ErrCertNotYetValid
	}
	if at.After(leaf.NotAfter) {
		return nil, ErrCertExpired
	}

	intermediates := x509.NewCertPool()
	for _, c := range peerCerts[1:] {
		intermediates.AddCert(c)
	}

	opts := x509.VerifyOptions{
		Roots:         roots,
		Intermediates: intermediates,
		CurrentTime:   at,
		KeyUsages:     []x509.ExtKeyUsage{x509.ExtKeyUsageAny},
	}

	chains, err := leaf.Verify(opts)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidChain, err)
	}
	return chains[0], nil
}

// Identity extracts the peer identity from a certificate's CommonName.
func Identity(cert *x509.Certificate) (string, error) {
	if cert == nil {
		return "", ErrInvalidCert
	}
	if cert.Subject.CommonName == "" {
		return "", ErrNoIdentity
	}
	return cert.Subject.CommonName, nil
}

// Info holds human-readable certificate details for logging.
type Info struct {
	CommonName string
	Issuer     string
	Serial     string
	NotBefore  time.Time
	NotAfter   time.Time
	IsCA       bool
}

// InfoFrom extracts logging details from a certificate.
func InfoFrom(cert *x509.Certificate) *Info {
	if cert == nil {
		return nil
	}
	return &Info{
		CommonName: cert.Subject.CommonName,
		Issuer:     cert.Issuer.CommonName,
		Serial:     cert.SerialNumber.Text(16),
		NotBefore:  cert.NotBefore,
		NotAfter:   cert.NotAfter,
		IsCA:       cert.IsCA,
	}
}
