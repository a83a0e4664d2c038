package transport

import (
	"context"
	"crypto/sha256"
	"crypto/tls"
	"crypto/x509"
	"encoding/hex"
	"errors"
	"fmt"
	"net"
	"time"

	"github.com/google/uuid"

	"github.com/coffer-backup/coffer-go/pkg/cert"
)

// Server errors.
var (
	// ErrConfiguration indicates the server context could not be built from
	// the supplied configuration. Callers treat it as fatal at startup and as
	// a rejected swap during reload.
	ErrConfiguration = errors.New("invalid server configuration")

	// ErrHandshake indicates the TLS handshake with a peer failed.
	ErrHandshake = errors.New("TLS handshake failed")
)

// DefaultTimeout bounds the handshake and each session read or write when
// the configuration does not say otherwise.
const DefaultTimeout = 60 * time.Second

// ServerConfig describes everything a server context needs. Paths are read
// once, during construction; changing the files on disk has no effect until
// a new context is built.
type ServerConfig struct {
	// Host is the name this server is known by. It appears in logs and
	// discovery records, not in the handshake.
	Host string

	// CertFile and KeyFile hold the server's PEM keypair. Required.
	CertFile string
	KeyFile  string

	// CAFile holds the trust anchor bundle. Setting it enables the client
	// certificate policy; leaving it empty makes every session authenticated
	// by server-only policy.
	CAFile string

	// CRLFile holds a revocation list for certificates below the trust
	// anchor. Requires CAFile.
	CRLFile string

	// Timeout bounds the TLS handshake and each subsequent frame read or
	// write on established sessions. Defaults to DefaultTimeout.
	Timeout time.Duration

	// MaxMessageSize caps frame payloads (default 64 KB).
	MaxMessageSize uint32
}

// ServerContext is an immutable bundle of everything needed to establish
// secure sessions: the hardened TLS configuration, the trust anchor pool,
// and the revocation set. Configuration changes are applied by building a
// replacement context and swapping it in; contexts already handed to
// in-flight connections are unaffected.
type ServerContext struct {
	host           string
	tlsConf        *tls.Config
	anchors        *x509.CertPool
	anchorCerts    []*x509.Certificate
	revocations    *cert.Revocations
	timeout        time.Duration
	maxMessageSize uint32
	fingerprint    string
}

// NewServerContext builds a server context from configuration. All
// certificate material is loaded and validated here so that a bad
// configuration surfaces as a single ErrConfiguration before any connection
// is accepted.
func NewServerContext(cfg ServerConfig) (*ServerContext, error) {
	if cfg.CertFile == "" || cfg.KeyFile == "" {
		return nil, fmt.Errorf("%w: certificate and key files are required", ErrConfiguration)
	}
	if cfg.CRLFile != "" && cfg.CAFile == "" {
		return nil, fmt.Errorf("%w: revocation list requires a trust anchor", ErrConfiguration)
	}
	if cfg.Timeout == 0 {
		cfg.Timeout = DefaultTimeout
	}
	if cfg.MaxMessageSize == 0 {
		cfg.MaxMessageSize = DefaultMaxMessageSize
	}

	keyPair, err := cert.LoadKeyPair(cfg.CertFile, cfg.KeyFile)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrConfiguration, err)
	}

	sc := &ServerContext{
		host:           cfg.Host,
		timeout:        cfg.Timeout,
		maxMessageSize: cfg.MaxMessageSize,
		fingerprint:    Fingerprint(keyPair.Leaf),
	}

	if cfg.CAFile != "" {
		pool, certs, err := cert.ReadPoolFile(cfg.CAFile)
		if err != nil {
			return nil, fmt.Errorf("%w: trust anchor: %v", ErrConfiguration, err)
		}
		sc.anchors = pool
		sc.anchorCerts = certs
	}

	if cfg.CRLFile != "" {
		crl, err := cert.ReadCRLFile(cfg.CRLFile)
		if err != nil {
			return nil, fmt.Errorf("%w: revocation list: %v", ErrConfiguration, err)
		}
		revs, err := cert.RevocationsFromCRL(crl, sc.anchorCerts, time.Now())
		if err != nil {
			return nil, fmt.Errorf("%w: revocation list: %v", ErrConfiguration, err)
		}
		sc.revocations = revs
	}

	sc.tlsConf = newServerTLSConfig(keyPair, sc.anchors)
	return sc, nil
}

// Accept runs the TLS handshake on a raw connection and, on success, applies
// the certificate policy. The handshake is bounded by the configured timeout.
// The raw connection is closed on every failure path; the returned session
// owns it otherwise.
func (sc *ServerContext) Accept(ctx context.Context, conn net.Conn) (*Session, error) {
	hsCtx, cancel := context.WithTimeout(ctx, sc.timeout)
	defer cancel()

	tlsConn := tls.Server(conn, sc.tlsConf)
	if err := tlsConn.HandshakeContext(hsCtx); err != nil {
		conn.Close()
		return nil, fmt.Errorf("%w: %v", ErrHandshake, err)
	}

	state := tlsConn.ConnectionState()
	authenticated, identity := sc.authenticate(state.PeerCertificates)

	return &Session{
		conn:          tlsConn,
		framer:        NewFramerWithMaxSize(tlsConn, sc.maxMessageSize),
		id:            uuid.New().String(),
		timeout:       sc.timeout,
		authenticated: authenticated,
		identity:      identity,
		remoteAddr:    conn.RemoteAddr(),
		closeCh:       make(chan struct{}),
	}, nil
}

// authenticate applies the certificate policy to a completed handshake.
// Policy failure marks the session unauthenticated instead of rejecting it;
// refusing privileged work on such sessions is the protocol layer's call.
func (sc *ServerContext) authenticate(peerCerts []*x509.Certificate) (bool, string) {
	// No trust anchor means server-only policy: every session counts as
	// authenticated.
	if sc.anchors == nil {
		return true, ""
	}
	if len(peerCerts) == 0 {
		return false, ""
	}

	chain, err := cert.VerifyPeer(peerCerts, sc.anchors, time.Now())
	if err != nil {
		return false, ""
	}
	if err := sc.revocations.CheckChain(chain); err != nil {
		return false, ""
	}

	// A verified certificate still needs an identity the protocol layer can
	// authorize against.
	identity, err := cert.Identity(peerCerts[0])
	if err != nil {
		return false, ""
	}
	return true, identity
}

// Host returns the configured host name.
func (sc *ServerContext) Host() string {
	return sc.host
}

// Timeout returns the configured I/O timeout.
func (sc *ServerContext) Timeout() time.Duration {
	return sc.timeout
}

// MutualAuth reports whether a trust anchor is configured, i.e. whether the
// client certificate policy is in effect.
func (sc *ServerContext) MutualAuth() bool {
	return sc.anchors != nil
}

// Fingerprint returns the server certificate fingerprint, used to tell
// contexts apart in logs across reloads.
func (sc *ServerContext) Fingerprint() string {
	return sc.fingerprint
}

// Fingerprint returns the first 64 bits of SHA-256 over the certificate DER
// as a hex string.
func Fingerprint(c *x509.Certificate) string {
	if c == nil {
		return ""
	}
	hash := sha256.Sum256(c.Raw)
	return hex.EncodeToString(hash[:8])
}
