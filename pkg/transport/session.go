package transport

import (
	"crypto/tls"
	"errors"
	"net"
	"sync"
	"time"
)

// ErrSessionClosed is returned for I/O on a closed session.
var ErrSessionClosed = errors.New("session closed")

// Session is an established secure channel. Every read and write is bounded
// by the timeout the session inherited from its server or client context, so
// a stalled peer surfaces as an error instead of a hung goroutine.
type Session struct {
	conn          *tls.Conn
	framer        *Framer
	id            string
	timeout       time.Duration
	authenticated bool
	identity      string
	remoteAddr    net.Addr

	closeCh   chan struct{}
	closeOnce sync.Once
	writeMu   sync.Mutex
}

// ID returns the unique session identifier.
func (s *Session) ID() string {
	return s.id
}

// Authenticated reports whether the peer satisfied the certificate policy.
// Unauthenticated sessions stay usable; the protocol layer decides what they
// may do.
func (s *Session) Authenticated() bool {
	return s.authenticated
}

// PeerIdentity returns the verified peer identity, or "" when the session is
// unauthenticated or no client certificate policy is in effect.
func (s *Session) PeerIdentity() string {
	return s.identity
}

// RemoteAddr returns the peer's network address.
func (s *Session) RemoteAddr() net.Addr {
	return s.remoteAddr
}

// TLSState returns the TLS connection state.
func (s *Session) TLSState() tls.ConnectionState {
	return s.conn.ConnectionState()
}

// ReadFrame reads one length-prefixed frame, bounded by the session timeout.
func (s *Session) ReadFrame() ([]byte, error) {
	select {
	case <-s.closeCh:
		return nil, ErrSessionClosed
	default:
	}

	if s.timeout > 0 {
		if err := s.conn.SetReadDeadline(time.Now().Add(s.timeout)); err != nil {
			return nil, err
		}
	}
	return s.framer.ReadFrame()
}

// WriteFrame writes one length-prefixed frame, bounded by the session timeout.
// Thread-safe: can be called from multiple goroutines.
func (s *Session) WriteFrame(data []byte) error {
	select {
	case <-s.closeCh:
		return ErrSessionClosed
	default:
	}

	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	if s.timeout > 0 {
		if err := s.conn.SetWriteDeadline(time.Now().Add(s.timeout)); err != nil {
			return err
		}
	}
	return s.framer.WriteFrame(data)
}

// Close closes the underlying connection. Safe to call more than once.
func (s *Session) Close() error {
	var err error
	s.closeOnce.Do(func() {
		close(s.closeCh)
		err = s.conn.Close()
	})
	return err
}
