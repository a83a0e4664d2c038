package log

// Logger receives audit events from the server.
// Implementations must be safe for concurrent use: session goroutines
// and the supervisor log to the same Logger.
type Logger interface {
	// Log records a single event. Implementations must not block for
	// long; session handling waits on this call.
	Log(event Event)
}

// NoopLogger discards all events. It is the default when auditing
// is not configured.
type NoopLogger struct{}

// Log discards the event.
func (NoopLogger) Log(Event) {}

// Compile-time interface satisfaction check.
var _ Logger = NoopLogger{}
