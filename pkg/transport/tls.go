package transport

import (
	"crypto/tls"
	"crypto/x509"
	"fmt"
)

// TLS constants for the coffer protocol.
const (
	// ALPNProtocol is the application protocol identifier offered during the
	// TLS handshake. Servers advertise it but tolerate clients that do not.
	ALPNProtocol = "coffer/1"

	// DefaultPort is the default coffer server port.
	DefaultPort = 8432
)

// tls12CipherSuites restricts TLS 1.2 to forward-secret AEAD suites.
// TLS 1.3 suite selection is fixed by the runtime and needs no list.
var tls12CipherSuites = []uint16{
	tls.TLS_ECDHE_ECDSA_WITH_AES_128_GCM_SHA256,
	tls.TLS_ECDHE_ECDSA_WITH_AES_256_GCM_SHA384,
	tls.TLS_ECDHE_ECDSA_WITH_CHACHA20_POLY1305_SHA256,
	tls.TLS_ECDHE_RSA_WITH_AES_128_GCM_SHA256,
	tls.TLS_ECDHE_RSA_WITH_AES_256_GCM_SHA384,
	tls.TLS_ECDHE_RSA_WITH_CHACHA20_POLY1305_SHA256,
}

// baseTLSConfig returns the hardening shared by both endpoints: modern
// protocol versions only and no session resumption. Go's TLS stack never
// compresses records and refuses renegotiation, which covers the remaining
// legacy-protocol concerns.
func baseTLSConfig() *tls.Config {
	return &tls.Config{
		MinVersion:             tls.VersionTLS12,
		MaxVersion:             tls.VersionTLS13,
		CipherSuites:           tls12CipherSuites,
		CurvePreferences:       []tls.CurveID{tls.X25519, tls.CurveP256},
		SessionTicketsDisabled: true,
		NextProtos:             []string{ALPNProtocol},
	}
}

// newServerTLSConfig builds the server half of the handshake configuration.
// When a trust anchor pool is present, client certificates are requested but
// verified after the handshake: a peer that fails the certificate policy gets
// an unauthenticated session, not a refused connection.
func newServerTLSConfig(certificate tls.Certificate, anchors *x509.CertPool) *tls.Config {
	conf := baseTLSConfig()
	conf.Certificates = []tls.Certificate{certificate}
	conf.ClientAuth = tls.NoClientCert
	if anchors != nil {
		conf.ClientAuth = tls.RequestClientCert
	}
	return conf
}

// newClientTLSConfig builds the client half of the handshake configuration.
func newClientTLSConfig(cfg *ClientConfig, certificate *tls.Certificate, roots *x509.CertPool) *tls.Config {
	conf := baseTLSConfig()
	if certificate != nil {
		conf.Certificates = []tls.Certificate{*certificate}
	}
	conf.RootCAs = roots
	conf.ServerName = cfg.ServerName
	conf.InsecureSkipVerify = cfg.InsecureSkipVerify
	return conf
}

// VerifyNegotiatedProtocol checks that the peer agreed on the coffer ALPN
// protocol. Used by clients, which always offer it.
func VerifyNegotiatedProtocol(state tls.ConnectionState) error {
	if state.NegotiatedProtocol != ALPNProtocol {
		return fmt.Errorf("ALPN protocol %q is not %q", state.NegotiatedProtocol, ALPNProtocol)
	}
	return nil
}
