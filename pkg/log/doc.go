// Package log provides a structured audit trail for the coffer server.
//
// This package defines the Logger interface and Event types for capturing
// server events at multiple layers (transport, wire, service). It is
// separate from operational logging (slog) - the audit trail provides a
// complete machine-readable record of who connected, what they asked for,
// and how the server answered.
//
// # Basic Usage
//
// Applications configure auditing by providing a Logger implementation:
//
//	// For development: log to console via slog
//	cfg.AuditLogger = log.NewSlogAdapter(slog.Default())
//
//	// For production: write to binary file
//	cfg.AuditLogger, _ = log.NewFileLogger("/var/log/coffer/server.clog")
//
//	// Both: use MultiLogger
//	cfg.AuditLogger = log.NewMultiLogger(
//	    log.NewSlogAdapter(slog.Default()),
//	    log.NewFileLogger("/var/log/coffer/server.clog"),
//	)
//
// # Event Types
//
// Events are captured at multiple layers:
//   - Transport: Raw frame sizes, optionally bytes (FrameEvent)
//   - Wire: Decoded messages (MessageEvent)
//   - Service: Session and config lifecycle (StateChangeEvent)
//
// Errors at any layer have a dedicated event type.
//
// # File Format
//
// Audit files use CBOR encoding with .clog extension. The coffer-audit CLI
// tool provides viewing and filtering.
package log
