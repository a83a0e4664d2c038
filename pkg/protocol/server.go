package protocol

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"time"

	"github.com/coffer-backup/coffer-go/pkg/log"
	"github.com/coffer-backup/coffer-go/pkg/restore"
	"github.com/coffer-backup/coffer-go/pkg/transport"
	"github.com/coffer-backup/coffer-go/pkg/wire"
)

// Executor runs restore jobs on behalf of authenticated clients.
// restore.LocalExecutor is the reference implementation.
type Executor interface {
	// Restore executes the job and reports the outcome per file.
	Restore(ctx context.Context, job *restore.Job) ([]restore.FileResult, error)
}

// Compile-time interface satisfaction check.
var _ Executor = (*restore.LocalExecutor)(nil)

// Config configures a protocol Server.
type Config struct {
	// Version is the server version announced in the greeting.
	Version string

	// Executor handles restore-file requests. If nil, restore-file
	// requests fail with an error response.
	Executor Executor

	// Logger is the optional logger for debug output.
	// If nil, logging is disabled.
	Logger *slog.Logger

	// AuditLogger receives audit events for every message handled.
	// If nil, auditing is disabled.
	AuditLogger log.Logger

	// FrameCapture bounds how many bytes of each inbound frame are
	// retained in audit events. 0 records frame sizes only.
	FrameCapture int
}

// Server speaks the coffer protocol on established sessions. One Server
// instance is shared by all sessions; Serve is called once per session,
// each from its own goroutine.
type Server struct {
	version      string
	exec         Executor
	logger       *slog.Logger
	audit        log.Logger
	frameCapture int
}

// NewServer creates a protocol server.
func NewServer(config Config) *Server {
	audit := config.AuditLogger
	if audit == nil {
		audit = log.NoopLogger{}
	}
	return &Server{
		version:      config.Version,
		exec:         config.Executor,
		logger:       config.Logger,
		audit:        audit,
		frameCapture: config.FrameCapture,
	}
}

// Serve runs the request loop for one session until the client quits, the
// session ends, or the context is canceled. The greeting goes out first;
// unauthenticated sessions are served but refused privileged operations.
// A clean shutdown by the peer returns nil.
func (s *Server) Serve(ctx context.Context, sess transport.SessionConn) error {
	if err := s.sendGreeting(sess); err != nil {
		return fmt.Errorf("send greeting: %w", err)
	}

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		frame, err := sess.ReadFrame()
		if err != nil {
			if isSessionEnd(err) {
				return nil
			}
			s.auditError(sess, log.LayerTransport, err, "read frame")
			return fmt.Errorf("read frame: %w", err)
		}
		s.auditFrame(sess, frame)

		start := time.Now()

		var req wire.Request
		if err := wire.Unmarshal(frame, &req); err != nil {
			s.auditError(sess, log.LayerWire, err, "decode request")
			return fmt.Errorf("decode request: %w", err)
		}
		s.auditRequest(sess, &req)
		s.debugLog("request received",
			"session_id", sess.ID(),
			"request_id", req.ID,
			"operation", req.Op.String())

		if req.ID == 0 {
			// Cannot correlate a response; treat as a protocol violation.
			resp := errorResponse(0, wire.StatusError, "requestId 0 is reserved")
			_ = s.sendResponse(sess, resp, req.Op, start)
			return fmt.Errorf("request with reserved id 0")
		}

		resp, quit := s.dispatch(ctx, sess, &req)
		if err := s.sendResponse(sess, resp, req.Op, start); err != nil {
			if isSessionEnd(err) {
				return nil
			}
			s.auditError(sess, log.LayerTransport, err, "write response")
			return fmt.Errorf("write response: %w", err)
		}
		if quit {
			return nil
		}
	}
}

// sendGreeting announces the service before the first request.
func (s *Server) sendGreeting(sess transport.SessionConn) error {
	greeting := &wire.Greeting{
		Service:       wire.ServiceName,
		Version:       s.version,
		SessionID:     sess.ID(),
		Authenticated: sess.Authenticated(),
	}
	data, err := wire.EncodeGreeting(greeting)
	if err != nil {
		return err
	}
	if err := sess.WriteFrame(data); err != nil {
		return err
	}

	s.auditMessage(sess, log.DirectionOut, &log.MessageEvent{
		Type: log.MessageTypeGreeting,
	})
	return nil
}

// dispatch routes a request to its handler. The second return value is
// true when the session should end after the response is sent.
func (s *Server) dispatch(ctx context.Context, sess transport.SessionConn, req *wire.Request) (*wire.Response, bool) {
	switch req.Op {
	case wire.OpPing:
		return successResponse(req.ID, nil), false
	case wire.OpRestoreFile:
		return s.handleRestoreFile(ctx, sess, req), false
	case wire.OpQuit:
		return successResponse(req.ID, nil), true
	default:
		return errorResponse(req.ID, wire.StatusUnknownOp, fmt.Sprintf("unknown operation %d", req.Op)), false
	}
}

// handleRestoreFile executes a restore job for an authenticated session.
// The authenticated flag was settled during the handshake; this is where
// it becomes an allow/deny decision.
func (s *Server) handleRestoreFile(ctx context.Context, sess transport.SessionConn, req *wire.Request) *wire.Response {
	if !sess.Authenticated() {
		s.warnLog("privileged operation refused",
			"session_id", sess.ID(),
			"remote_addr", sess.RemoteAddr().String(),
			"operation", req.Op.String())
		return errorResponse(req.ID, wire.StatusDenied, "session is not authenticated")
	}
	if s.exec == nil {
		return errorResponse(req.ID, wire.StatusError, "no restore executor configured")
	}

	var job restore.Job
	if err := wire.DecodePayload(req.Payload, &job); err != nil {
		return errorResponse(req.ID, wire.StatusError, fmt.Sprintf("decode restore job: %v", err))
	}
	if err := job.Validate(); err != nil {
		return errorResponse(req.ID, wire.StatusError, fmt.Sprintf("invalid restore job: %v", err))
	}

	results, err := s.exec.Restore(ctx, &job)
	if err != nil {
		return errorResponse(req.ID, wire.StatusError, err.Error())
	}

	payload, err := wire.EncodePayload(results)
	if err != nil {
		return errorResponse(req.ID, wire.StatusError, fmt.Sprintf("encode results: %v", err))
	}
	return successResponse(req.ID, payload)
}

// sendResponse encodes and writes the response, then audits it with the
// time spent since the request arrived.
func (s *Server) sendResponse(sess transport.SessionConn, resp *wire.Response, op wire.Operation, start time.Time) error {
	data, err := wire.EncodeResponse(resp)
	if err != nil {
		return err
	}
	if err := sess.WriteFrame(data); err != nil {
		return err
	}

	elapsed := time.Since(start)
	status := resp.Status
	s.auditMessage(sess, log.DirectionOut, &log.MessageEvent{
		Type:           log.MessageTypeResponse,
		RequestID:      resp.ID,
		Operation:      &op,
		Status:         &status,
		ProcessingTime: &elapsed,
	})
	s.debugLog("response sent",
		"session_id", sess.ID(),
		"request_id", resp.ID,
		"status", resp.Status.String(),
		"elapsed", elapsed)
	return nil
}

func successResponse(id uint32, payload []byte) *wire.Response {
	return &wire.Response{ID: id, Status: wire.StatusSuccess, Payload: payload}
}

func errorResponse(id uint32, status wire.Status, msg string) *wire.Response {
	return &wire.Response{ID: id, Status: status, Error: msg}
}

// isSessionEnd reports whether the error means the peer is simply gone
// rather than misbehaving.
func isSessionEnd(err error) bool {
	return errors.Is(err, io.EOF) ||
		errors.Is(err, io.ErrUnexpectedEOF) ||
		errors.Is(err, transport.ErrSessionClosed)
}

// debugLog logs a debug message if logging is enabled.
func (s *Server) debugLog(msg string, args ...any) {
	if s.logger != nil {
		s.logger.Debug(msg, args...)
	}
}

// warnLog logs a warning if logging is enabled.
func (s *Server) warnLog(msg string, args ...any) {
	if s.logger != nil {
		s.logger.Warn(msg, args...)
	}
}

func (s *Server) newEvent(sess transport.SessionConn, direction log.Direction, layer log.Layer, category log.Category) log.Event {
	return log.Event{
		Timestamp:  time.Now(),
		SessionID:  sess.ID(),
		Direction:  direction,
		Layer:      layer,
		Category:   category,
		RemoteAddr: sess.RemoteAddr().String(),
		Identity:   sess.PeerIdentity(),
	}
}

func (s *Server) auditFrame(sess transport.SessionConn, frame []byte) {
	event := s.newEvent(sess, log.DirectionIn, log.LayerTransport, log.CategoryMessage)
	event.Frame = log.NewFrameEvent(frame, s.frameCapture)
	s.audit.Log(event)
}

func (s *Server) auditRequest(sess transport.SessionConn, req *wire.Request) {
	op := req.Op
	event := s.newEvent(sess, log.DirectionIn, log.LayerWire, log.CategoryMessage)
	event.Message = &log.MessageEvent{
		Type:      log.MessageTypeRequest,
		RequestID: req.ID,
		Operation: &op,
	}
	s.audit.Log(event)
}

func (s *Server) auditMessage(sess transport.SessionConn, direction log.Direction, msg *log.MessageEvent) {
	event := s.newEvent(sess, direction, log.LayerWire, log.CategoryMessage)
	event.Message = msg
	s.audit.Log(event)
}

func (s *Server) auditError(sess transport.SessionConn, layer log.Layer, err error, context string) {
	event := s.newEvent(sess, log.DirectionIn, layer, log.CategoryError)
	event.Error = &log.ErrorEventData{
		Layer:   layer,
		Message: err.Error(),
		Context: context,
	}
	s.audit.Log(event)
}
