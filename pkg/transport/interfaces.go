package transport

import (
	"net"
)

// FrameReadWriter provides length-prefixed frame I/O.
// Implemented by Framer.
type FrameReadWriter interface {
	// ReadFrame reads a length-prefixed frame.
	ReadFrame() ([]byte, error)

	// WriteFrame writes a length-prefixed frame.
	WriteFrame(data []byte) error
}

// SessionConn is the surface protocol handlers need from an established
// session. Implemented by Session.
type SessionConn interface {
	// ID returns the unique session identifier.
	ID() string

	// Authenticated reports whether the peer satisfied the certificate policy.
	Authenticated() bool

	// PeerIdentity returns the verified peer identity, or "".
	PeerIdentity() string

	// RemoteAddr returns the peer's network address.
	RemoteAddr() net.Addr

	// ReadFrame reads one frame, bounded by the session timeout.
	ReadFrame() ([]byte, error)

	// WriteFrame writes one frame, bounded by the session timeout.
	WriteFrame(data []byte) error

	// Close closes the session.
	Close() error
}

// Listener is the raw connection source the daemon accepts from.
// Implemented by SocketServer.
type Listener interface {
	// Accept waits for the next raw connection.
	Accept() (net.Conn, error)

	// Addr returns the bound listen address.
	Addr() net.Addr

	// Close closes the listener.
	Close() error
}

// Compile-time interface satisfaction checks.
var (
	_ FrameReadWriter = (*Framer)(nil)
	_ SessionConn     = (*Session)(nil)
	_ Listener        = (*SocketServer)(nil)
)
