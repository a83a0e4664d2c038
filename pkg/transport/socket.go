package transport

import (
	"context"
	"fmt"
	"net"
	"time"
)

// SocketConfig tunes the raw TCP listener.
type SocketConfig struct {
	// Address to listen on, e.g. ":8432" or "127.0.0.1:8432".
	Address string

	// KeepAlive enables TCP keepalive probes on accepted connections.
	KeepAlive bool

	// KeepAliveIdle is how long a connection sits idle before the first
	// probe. Zero keeps the system default.
	KeepAliveIdle time.Duration

	// KeepAliveInterval is the gap between unanswered probes. Zero keeps the
	// system default.
	KeepAliveInterval time.Duration

	// KeepAliveCount is how many unanswered probes drop the connection.
	// Zero keeps the system default.
	KeepAliveCount int
}

// SocketServer owns the raw TCP listener. It hands out plain connections;
// securing them is the server context's job.
type SocketServer struct {
	listener net.Listener
}

// ListenSocket opens the TCP listener described by cfg.
func ListenSocket(ctx context.Context, cfg SocketConfig) (*SocketServer, error) {
	lc := net.ListenConfig{}
	if cfg.KeepAlive {
		lc.KeepAliveConfig = net.KeepAliveConfig{
			Enable:   true,
			Idle:     cfg.KeepAliveIdle,
			Interval: cfg.KeepAliveInterval,
			Count:    cfg.KeepAliveCount,
		}
	} else {
		lc.KeepAlive = -1
	}

	listener, err := lc.Listen(ctx, "tcp", cfg.Address)
	if err != nil {
		return nil, fmt.Errorf("listen %s: %w", cfg.Address, err)
	}
	return &SocketServer{listener: listener}, nil
}

// Accept waits for the next raw connection.
func (s *SocketServer) Accept() (net.Conn, error) {
	return s.listener.Accept()
}

// Addr returns the bound listen address.
func (s *SocketServer) Addr() net.Addr {
	return s.listener.Addr()
}

// Close closes the listener. Blocked Accept calls return net.ErrClosed.
func (s *SocketServer) Close() error {
	return s.listener.Close()
}
