package daemon

import (
	"errors"
	"net"
	"runtime/debug"
	"time"

	ilog "github.com/coffer-backup/coffer-go/internal/log"
	"github.com/coffer-backup/coffer-go/internal/stats"
)

// acceptBackoff is the pause after a transient accept failure, long
// enough to stop a hot error loop without hiding the listener.
const acceptBackoff = 100 * time.Millisecond

// acceptLoop takes connections off the listener and spawns one worker
// per connection. It exits only when the listener closes during
// shutdown; transient accept failures back off and continue.
func (d *Daemon) acceptLoop() {
	defer d.wg.Done()

	for {
		conn, err := d.socket.Accept()
		if err != nil {
			if d.ctx.Err() != nil || errors.Is(err, net.ErrClosed) {
				return
			}
			d.logger.Warn("accept failed, backing off", "error", err)
			time.Sleep(acceptBackoff)
			continue
		}

		stats.RecordAccepted()

		// The engine snapshot taken here stays with the connection for
		// its whole life; a reload swapping the active engine does not
		// reach into sessions already being served.
		eng := d.engine.Load()

		if !eng.limiter.Allow(remoteHost(conn), time.Now()) {
			stats.RecordRejected(stats.ReasonRateLimit)
			d.auditReject(conn, "connection rate limited")
			d.logger.Debug("connection rate limited",
				ilog.RemoteAddrKey, conn.RemoteAddr().String())
			conn.Close()
			continue
		}

		// Cap check and increment both happen on this goroutine, so a
		// connection burst cannot race past the limit.
		if max := eng.cfg.MaxSessions; max > 0 && d.sessions.Load() >= int32(max) {
			stats.RecordRejected(stats.ReasonCapacity)
			d.auditReject(conn, "session capacity reached")
			d.logger.Debug("session capacity reached",
				ilog.RemoteAddrKey, conn.RemoteAddr().String(),
				"max_sessions", max)
			conn.Close()
			continue
		}
		d.sessions.Add(1)

		d.wg.Add(1)
		go d.serveConn(eng, conn)
	}
}

// serveConn is the per-connection worker: handshake, policy, protocol.
// Everything that can go wrong here stays here. A panic is recovered at
// this boundary so one broken session cannot take down the listener.
func (d *Daemon) serveConn(eng *engine, conn net.Conn) {
	defer d.wg.Done()
	defer d.sessions.Add(-1)
	defer func() {
		if r := recover(); r != nil {
			stats.RecordPanic()
			d.logger.Error("session worker panic",
				ilog.RemoteAddrKey, conn.RemoteAddr().String(),
				"panic", r,
				"stack", string(debug.Stack()))
			d.auditPanic(conn, r)
			conn.Close()
		}
	}()

	sess, err := eng.tls.Accept(d.ctx, conn)
	if err != nil {
		stats.RecordHandshake(false)
		d.logger.Debug("handshake failed",
			ilog.RemoteAddrKey, conn.RemoteAddr().String(),
			"error", err)
		d.auditHandshakeError(conn, err)
		return
	}
	stats.RecordHandshake(true)

	start := time.Now()
	stats.RecordSessionStart(sess.Authenticated())
	defer stats.RecordSessionEnd(start)
	defer sess.Close()

	d.auditSessionState(sess, "", "established", "")
	d.logger.Debug("session established",
		ilog.SessionIDKey, sess.ID(),
		ilog.RemoteAddrKey, sess.RemoteAddr().String(),
		"authenticated", sess.Authenticated(),
		"identity", sess.PeerIdentity())

	reason := "closed by peer"
	if err := eng.proto.Serve(d.ctx, sess); err != nil {
		reason = err.Error()
	}
	d.logger.Debug("session closed",
		ilog.SessionIDKey, sess.ID(),
		"reason", reason,
		ilog.DurationKey, time.Since(start))
	d.auditSessionState(sess, "established", "closed", reason)
}

// remoteHost extracts the host part of the remote address for rate
// limiting. Ports change per connection; hosts are the abusers.
func remoteHost(conn net.Conn) string {
	addr := conn.RemoteAddr()
	if addr == nil {
		return ""
	}
	host, _, err := net.SplitHostPort(addr.String())
	if err != nil {
		return addr.String()
	}
	return host
}
