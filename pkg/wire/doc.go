// Package wire defines the message format exchanged between coffer peers
// after a secure session is established.
//
// All messages are CBOR maps with small integer keys to keep frames compact.
// Encoding is canonical (sorted keys, definite lengths) so that a message
// encodes to the same bytes everywhere; decoding is lenient so that newer
// peers can add keys without breaking older ones.
//
// # Message Flow
//
// The server speaks first. Immediately after session establishment it sends
// a Greeting carrying the service name, protocol version, session ID, and
// the authentication result of the session. The client then drives a
// request/response loop:
//
//	Server                              Client
//	  |------------ Greeting ------------>|
//	  |<----------- Request --------------|
//	  |------------ Response ------------>|
//	  |<----------- Request --------------|
//	  |------------ Response ------------>|
//	  |                ...                |
//	  |<-------- Request{OpQuit} ---------|
//	  |------------ Response ------------>|
//
// Each Request carries a client-chosen ID which the matching Response
// echoes back. Operation payloads are nested CBOR documents carried as
// raw bytes, decoded by the handler that knows their shape.
package wire
