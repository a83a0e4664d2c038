package cert

import (
	"crypto/x509"
	"errors"
	"fmt"
	"time"
)

// Revocation errors.
var (
	ErrCRLExpired   = errors.New("revocation list is past its NextUpdate")
	ErrCRLNotSigned = errors.New("revocation list not signed by a trust anchor")
	ErrRevoked      = errors.New("certificate has been revoked")
)

// Revocations is an immutable set of revoked certificate serial numbers.
type Revocations struct {
	serials map[string]struct{}
}

// RevocationsFromCRL validates a revocation list against the trust anchors
// that issued it and builds the serial lookup set. The CRL signature must
// verify against one of the anchor certificates and the list must be inside
// its update window at the given time.
func RevocationsFromCRL(crl *x509.RevocationList, anchors []*x509.Certificate, at time.Time) (*Revocations, error) {
	if crl == nil {
		return nil, ErrInvalidCRL
	}

	var sigErr error
	signed := false
	for _, anchor := range anchors {
		if err := crl.CheckSignatureFrom(anchor); err == nil {
			signed = true
			break
		} else {
			sigErr = err
		}
	}
	if !signed {
		return nil, fmt.Errorf("%w: %v", ErrCRLNotSigned, sigErr)
	}

	if !crl.NextUpdate.IsZero() && at.After(crl.NextUpdate) {
		return nil, fmt.Errorf("%w: next update %s", ErrCRLExpired, crl.NextUpdate.Format(time.RFC3339))
	}

	serials := make(map[string]struct{}, len(crl.RevokedCertificateEntries))
	for _, entry := range crl.RevokedCertificateEntries {
		serials[entry.SerialNumber.Text(16)] = struct{}{}
	}
	return &Revocations{serials: serials}, nil
}

// Contains reports whether the certificate's serial number is revoked.
func (r *Revocations) Contains(cert *x509.Certificate) bool {
	if r == nil || cert == nil {
		return false
	}
	_, ok := r.serials[cert.SerialNumber.Text(16)]
	return ok
}

// Len returns the number of revoked serials in the set.
func (r *Revocations) Len() int {
	if r == nil {
		return 0
	}
	return len(r.serials)
}

// CheckChain returns ErrRevoked if any certificate in the chain appears in
// the revocation set. Revoking an intermediate or root invalidates every
// certificate below it.
func (r *Revocations) CheckChain(chain []*x509.Certificate) error {
	if r == nil {
		return nil
	}
	for _, c := range chain {
		if r.Contains(c) {
			return fmt.Errorf("%w: serial %s", ErrRevoked, c.SerialNumber.Text(16))
		}
	}
	return nil
}
