package transport

import (
	"context"
	"crypto/tls"
	"crypto/x509"
	"fmt"
	"net"
	"time"

	"github.com/google/uuid"

	"github.com/coffer-backup/coffer-go/pkg/cert"
)

// ClientConfig configures a coffer client.
type ClientConfig struct {
	// CertFile and KeyFile hold the client's PEM keypair, presented when the
	// server requests a certificate. Optional.
	CertFile string
	KeyFile  string

	// CAFile holds the trust anchors used to verify the server certificate.
	// Empty falls back to the system pool.
	CAFile string

	// ServerName overrides the name expected in the server certificate.
	// Defaults to the host part of the dialed address.
	ServerName string

	// InsecureSkipVerify disables server certificate verification.
	// Only for testing.
	InsecureSkipVerify bool

	// Timeout bounds dialing, the handshake, and each session read or write.
	// Defaults to DefaultTimeout.
	Timeout time.Duration

	// MaxMessageSize caps frame payloads (default 64 KB).
	MaxMessageSize uint32
}

// Client dials coffer servers and establishes secure sessions.
type Client struct {
	tlsConf        *tls.Config
	timeout        time.Duration
	maxMessageSize uint32
}

// NewClient creates a client from configuration. Certificate material is
// loaded once, here.
func NewClient(cfg ClientConfig) (*Client, error) {
	if cfg.Timeout == 0 {
		cfg.Timeout = DefaultTimeout
	}
	if cfg.MaxMessageSize == 0 {
		cfg.MaxMessageSize = DefaultMaxMessageSize
	}

	var certificate *tls.Certificate
	if cfg.CertFile != "" || cfg.KeyFile != "" {
		pair, err := cert.LoadKeyPair(cfg.CertFile, cfg.KeyFile)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrConfiguration, err)
		}
		certificate = &pair
	}

	var roots *x509.CertPool
	if cfg.CAFile != "" {
		pool, _, err := cert.ReadPoolFile(cfg.CAFile)
		if err != nil {
			return nil, fmt.Errorf("%w: trust anchor: %v", ErrConfiguration, err)
		}
		roots = pool
	}

	return &Client{
		tlsConf:        newClientTLSConfig(&cfg, certificate, roots),
		timeout:        cfg.Timeout,
		maxMessageSize: cfg.MaxMessageSize,
	}, nil
}

// Connect dials the address and runs the TLS handshake. The configured
// timeout applies unless ctx carries an earlier deadline.
func (c *Client) Connect(ctx context.Context, address string) (*Session, error) {
	if _, hasDeadline := ctx.Deadline(); !hasDeadline {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.timeout)
		defer cancel()
	}

	dialer := &net.Dialer{}
	conn, err := dialer.DialContext(ctx, "tcp", address)
	if err != nil {
		return nil, fmt.Errorf("dial failed: %w", err)
	}

	conf := c.tlsConf
	if conf.ServerName == "" {
		host, _, splitErr := net.SplitHostPort(address)
		if splitErr != nil {
			host = address
		}
		conf = conf.Clone()
		conf.ServerName = host
	}

	tlsConn := tls.Client(conn, conf)
	if err := tlsConn.HandshakeContext(ctx); err != nil {
		conn.Close()
		return nil, fmt.Errorf("%w: %v", ErrHandshake, err)
	}

	state := tlsConn.ConnectionState()
	if err := VerifyNegotiatedProtocol(state); err != nil {
		tlsConn.Close()
		return nil, err
	}

	var identity string
	if len(state.PeerCertificates) > 0 {
		identity, _ = cert.Identity(state.PeerCertificates[0])
	}

	return &Session{
		conn:          tlsConn,
		framer:        NewFramerWithMaxSize(tlsConn, c.maxMessageSize),
		id:            uuid.New().String(),
		timeout:       c.timeout,
		authenticated: true,
		identity:      identity,
		remoteAddr:    conn.RemoteAddr(),
		closeCh:       make(chan struct{}),
	}, nil
}
