package log

import (
	"time"

	"github.com/coffer-backup/coffer-go/pkg/wire"
)

// Event represents an audit event captured at any layer of the server.
// CBOR encoding uses integer keys for compactness.
type Event struct {
	// Timestamp when the event occurred (nanosecond precision).
	Timestamp time.Time `cbor:"1,keyasint"`

	// SessionID identifies the session the event belongs to. Empty for
	// events that precede session establishment (accept errors, reloads).
	SessionID string `cbor:"2,keyasint,omitempty"`

	// Direction indicates message flow.
	Direction Direction `cbor:"3,keyasint"`

	// Layer where the event was captured.
	Layer Layer `cbor:"4,keyasint"`

	// Category classifies the event type.
	Category Category `cbor:"5,keyasint"`

	// RemoteAddr is the peer address (IP:port).
	RemoteAddr string `cbor:"6,keyasint,omitempty"`

	// Identity is the verified peer identity (certificate common name).
	// Empty for unauthenticated sessions.
	Identity string `cbor:"7,keyasint,omitempty"`

	// Type-specific payload (one of these will be set).
	Frame       *FrameEvent       `cbor:"8,keyasint,omitempty"`  // Transport layer
	Message     *MessageEvent     `cbor:"9,keyasint,omitempty"`  // Wire layer (decoded)
	StateChange *StateChangeEvent `cbor:"10,keyasint,omitempty"` // Session/config state
	Error       *ErrorEventData   `cbor:"11,keyasint,omitempty"` // Errors at any layer
}

// Direction indicates the direction of message flow.
type Direction uint8

const (
	// DirectionIn indicates an incoming message.
	DirectionIn Direction = 0
	// DirectionOut indicates an outgoing message.
	DirectionOut Direction = 1
)

// String returns the direction name.
func (d Direction) String() string {
	switch d {
	case DirectionIn:
		return "IN"
	case DirectionOut:
		return "OUT"
	default:
		return "UNKNOWN"
	}
}

// Layer indicates which layer of the server captured the event.
type Layer uint8

const (
	// LayerTransport is the framing layer (raw bytes).
	LayerTransport Layer = 0
	// LayerWire is the message encoding layer (decoded CBOR).
	LayerWire Layer = 1
	// LayerService is the daemon/service layer.
	LayerService Layer = 2
)

// String returns the layer name.
func (l Layer) String() string {
	switch l {
	case LayerTransport:
		return "TRANSPORT"
	case LayerWire:
		return "WIRE"
	case LayerService:
		return "SERVICE"
	default:
		return "UNKNOWN"
	}
}

// Category classifies the event type.
type Category uint8

const (
	// CategoryMessage indicates a protocol message (greeting/request/response).
	CategoryMessage Category = 0
	// CategoryState indicates a state change.
	CategoryState Category = 1
	// CategoryError indicates an error event.
	CategoryError Category = 2
)

// String returns the category name.
func (c Category) String() string {
	switch c {
	case CategoryMessage:
		return "MESSAGE"
	case CategoryState:
		return "STATE"
	case CategoryError:
		return "ERROR"
	default:
		return "UNKNOWN"
	}
}

// FrameEvent captures raw frame traffic at the transport layer.
type FrameEvent struct {
	// Size is the frame payload size in bytes (excluding length prefix).
	Size int `cbor:"1,keyasint"`

	// Data is the raw frame bytes (may be truncated for large frames).
	// Empty unless frame capture is enabled.
	Data []byte `cbor:"2,keyasint,omitempty"`

	// Truncated indicates if Data was truncated.
	Truncated bool `cbor:"3,keyasint,omitempty"`
}

// NewFrameEvent builds a FrameEvent for a frame of the given bytes.
// capture bounds how many bytes of the frame are retained: 0 records
// the size only, a positive value keeps at most that many bytes.
func NewFrameEvent(frame []byte, capture int) *FrameEvent {
	ev := &FrameEvent{Size: len(frame)}
	if capture <= 0 {
		return ev
	}
	if len(frame) > capture {
		ev.Data = append([]byte(nil), frame[:capture]...)
		ev.Truncated = true
		return ev
	}
	ev.Data = append([]byte(nil), frame...)
	return ev
}

// MessageEvent captures a decoded protocol message at the wire layer.
type MessageEvent struct {
	// Type distinguishes greeting/request/response.
	Type MessageType `cbor:"1,keyasint"`

	// RequestID correlates request/response pairs (0 for greetings).
	RequestID uint32 `cbor:"2,keyasint,omitempty"`

	// Operation being performed (requests, and responses echoing one).
	Operation *wire.Operation `cbor:"3,keyasint,omitempty"`

	// Status of the response (responses only).
	Status *wire.Status `cbor:"4,keyasint,omitempty"`

	// ProcessingTime is the duration from request receipt to response
	// send (responses only). Stored as nanoseconds.
	ProcessingTime *time.Duration `cbor:"5,keyasint,omitempty"`
}

// MessageType distinguishes the protocol message kinds.
type MessageType uint8

const (
	// MessageTypeGreeting indicates the server greeting.
	MessageTypeGreeting MessageType = 0
	// MessageTypeRequest indicates a request message.
	MessageTypeRequest MessageType = 1
	// MessageTypeResponse indicates a response message.
	MessageTypeResponse MessageType = 2
)

// String returns the message type name.
func (m MessageType) String() string {
	switch m {
	case MessageTypeGreeting:
		return "GREETING"
	case MessageTypeRequest:
		return "REQUEST"
	case MessageTypeResponse:
		return "RESPONSE"
	default:
		return "UNKNOWN"
	}
}

// StateChangeEvent captures session and configuration lifecycle events.
type StateChangeEvent struct {
	// Entity being changed.
	Entity StateEntity `cbor:"1,keyasint"`

	// OldState is the previous state (may be empty).
	OldState string `cbor:"2,keyasint,omitempty"`

	// NewState is the new state.
	NewState string `cbor:"3,keyasint"`

	// Reason for the change (if available).
	Reason string `cbor:"4,keyasint,omitempty"`
}

// StateEntity indicates what entity changed state.
type StateEntity uint8

const (
	// StateEntityConnection indicates a raw connection state change.
	StateEntityConnection StateEntity = 0
	// StateEntitySession indicates a session state change.
	StateEntitySession StateEntity = 1
	// StateEntityConfig indicates a configuration reload.
	StateEntityConfig StateEntity = 2
)

// String returns the state entity name.
func (s StateEntity) String() string {
	switch s {
	case StateEntityConnection:
		return "CONNECTION"
	case StateEntitySession:
		return "SESSION"
	case StateEntityConfig:
		return "CONFIG"
	default:
		return "UNKNOWN"
	}
}

// ErrorEventData captures errors at any layer.
type ErrorEventData struct {
	// Layer where the error occurred.
	Layer Layer `cbor:"1,keyasint"`

	// Message is the error message.
	Message string `cbor:"2,keyasint"`

	// Context describes what operation was being performed.
	Context string `cbor:"3,keyasint,omitempty"`
}
