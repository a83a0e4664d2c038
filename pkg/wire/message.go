package wire

import (
	"fmt"

	"github.com/fxamacker/cbor/v2"
)

// CBOR map keys for message encoding.
// All coffer messages use integer keys for efficiency.
const (
	// Greeting keys
	KeyService   = 1
	KeyVersion   = 2
	KeySessionID = 3
	KeyAuth      = 4

	// Request keys
	KeyRequestID = 1
	KeyOperation = 2
	KeyPayload   = 3

	// Response keys (1 and 2 shared with requests)
	KeyStatus        = 2
	KeyError         = 3
	KeyResultPayload = 4
)

// ServiceName identifies the coffer protocol in greetings.
const ServiceName = "coffer"

// Greeting is sent by the server immediately after session establishment,
// before any request. It tells the peer what it is talking to and whether
// the session passed the certificate policy.
//
// CBOR encoding:
//
//	{
//	  1: service,       // tstr: always "coffer"
//	  2: version,       // tstr: server version
//	  3: sessionId,     // tstr
//	  4: authenticated  // bool
//	}
type Greeting struct {
	Service       string `cbor:"1,keyasint"`
	Version       string `cbor:"2,keyasint"`
	SessionID     string `cbor:"3,keyasint"`
	Authenticated bool   `cbor:"4,keyasint"`
}

// Validate checks if the greeting is valid.
func (g *Greeting) Validate() error {
	if g.Service != ServiceName {
		return fmt.Errorf("unexpected service %q", g.Service)
	}
	if g.Version == "" {
		return fmt.Errorf("greeting has no version")
	}
	return nil
}

// Request represents a coffer request message from client to server.
//
// CBOR encoding:
//
//	{
//	  1: requestId,   // uint32, never 0
//	  2: operation,   // uint8: 1=Ping, 2=RestoreFile, 3=Quit
//	  3: payload      // operation-specific data
//	}
type Request struct {
	ID      uint32          `cbor:"1,keyasint"`
	Op      Operation       `cbor:"2,keyasint"`
	Payload cbor.RawMessage `cbor:"3,keyasint,omitempty"`
}

// Validate checks if the request is valid.
func (r *Request) Validate() error {
	if r.ID == 0 {
		return fmt.Errorf("requestId 0 is reserved")
	}
	if !r.Op.IsValid() {
		return fmt.Errorf("invalid operation: %d", r.Op)
	}
	return nil
}

// Response represents a coffer response message from server to client.
//
// CBOR encoding:
//
//	{
//	  1: requestId,   // uint32: matches request
//	  2: status,      // uint8: 0=success, or error code
//	  3: error,       // tstr: reason when status != 0
//	  4: payload      // operation-specific response data
//	}
type Response struct {
	ID      uint32          `cbor:"1,keyasint"`
	Status  Status          `cbor:"2,keyasint"`
	Error   string          `cbor:"3,keyasint,omitempty"`
	Payload cbor.RawMessage `cbor:"4,keyasint,omitempty"`
}

// IsSuccess returns true if the response indicates success.
func (r *Response) IsSuccess() bool {
	return r.Status.IsSuccess()
}
