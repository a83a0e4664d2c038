package daemon

import (
	"fmt"
	"net"
	"time"

	"github.com/coffer-backup/coffer-go/internal/stats"
	"github.com/coffer-backup/coffer-go/pkg/log"
	"github.com/coffer-backup/coffer-go/pkg/transport"
)

// metricsAudit taps the audit stream for the request counters: every
// response event becomes one coffer_requests_total increment.
type metricsAudit struct{}

func (metricsAudit) Log(e log.Event) {
	if e.Category != log.CategoryMessage || e.Message == nil {
		return
	}
	m := e.Message
	if m.Type != log.MessageTypeResponse || m.Operation == nil || m.Status == nil {
		return
	}
	stats.RecordRequest(m.Operation.String(), m.Status.String())
}

var _ log.Logger = metricsAudit{}

// auditReject records a connection closed before the handshake.
func (d *Daemon) auditReject(conn net.Conn, reason string) {
	d.audit.Log(log.Event{
		Timestamp:  time.Now(),
		Direction:  log.DirectionIn,
		Layer:      log.LayerTransport,
		Category:   log.CategoryError,
		RemoteAddr: remoteAddrString(conn),
		Error: &log.ErrorEventData{
			Layer:   log.LayerTransport,
			Message: reason,
		},
	})
}

// auditHandshakeError records a failed TLS handshake.
func (d *Daemon) auditHandshakeError(conn net.Conn, err error) {
	d.audit.Log(log.Event{
		Timestamp:  time.Now(),
		Direction:  log.DirectionIn,
		Layer:      log.LayerTransport,
		Category:   log.CategoryError,
		RemoteAddr: remoteAddrString(conn),
		Error: &log.ErrorEventData{
			Layer:   log.LayerTransport,
			Message: err.Error(),
			Context: "handshake",
		},
	})
}

// auditPanic records a recovered worker panic.
func (d *Daemon) auditPanic(conn net.Conn, recovered any) {
	d.audit.Log(log.Event{
		Timestamp:  time.Now(),
		Direction:  log.DirectionIn,
		Layer:      log.LayerService,
		Category:   log.CategoryError,
		RemoteAddr: remoteAddrString(conn),
		Error: &log.ErrorEventData{
			Layer:   log.LayerService,
			Message: fmt.Sprint(recovered),
			Context: "worker panic",
		},
	})
}

// auditSessionState records a session lifecycle transition.
func (d *Daemon) auditSessionState(sess *transport.Session, oldState, newState, reason string) {
	d.audit.Log(log.Event{
		Timestamp:  time.Now(),
		SessionID:  sess.ID(),
		Direction:  log.DirectionIn,
		Layer:      log.LayerTransport,
		Category:   log.CategoryState,
		RemoteAddr: sess.RemoteAddr().String(),
		Identity:   sess.PeerIdentity(),
		StateChange: &log.StateChangeEvent{
			Entity:   log.StateEntitySession,
			OldState: oldState,
			NewState: newState,
			Reason:   reason,
		},
	})
}

// auditReloadSwap records a successful configuration swap. The states
// are the server certificate fingerprints, which is how contexts are
// told apart in logs.
func (d *Daemon) auditReloadSwap(oldFingerprint, newFingerprint string) {
	d.audit.Log(log.Event{
		Timestamp: time.Now(),
		Direction: log.DirectionIn,
		Layer:     log.LayerService,
		Category:  log.CategoryState,
		StateChange: &log.StateChangeEvent{
			Entity:   log.StateEntityConfig,
			OldState: oldFingerprint,
			NewState: newFingerprint,
			Reason:   "reload",
		},
	})
}

// auditReloadError records a rejected reload.
func (d *Daemon) auditReloadError(err error) {
	d.audit.Log(log.Event{
		Timestamp: time.Now(),
		Direction: log.DirectionIn,
		Layer:     log.LayerService,
		Category:  log.CategoryError,
		Error: &log.ErrorEventData{
			Layer:   log.LayerService,
			Message: err.Error(),
			Context: "reload",
		},
	})
}

func remoteAddrString(conn net.Conn) string {
	if addr := conn.RemoteAddr(); addr != nil {
		return addr.String()
	}
	return ""
}
