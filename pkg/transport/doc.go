// Package transport provides the coffer secure transport layer.
//
// The transport layer handles:
//   - Hardened TLS acceptance (TLS 1.2+, AEAD suites, no resumption)
//   - Post-handshake certificate policy producing the authenticated flag
//   - Length-prefixed message framing
//   - Timeout-bounded session I/O
//
// # Protocol Stack
//
//	┌────────────────────────────────┐
//	│      CBOR Messages             │
//	├────────────────────────────────┤
//	│   Length-Prefix Framing (4B)   │
//	├────────────────────────────────┤
//	│       TLS 1.2 / 1.3            │
//	├────────────────────────────────┤
//	│           TCP                  │
//	└────────────────────────────────┘
//
// # Context and Session
//
// A ServerContext is immutable: it bundles the TLS configuration, trust
// anchors, and revocation set loaded from one configuration. Reload builds a
// replacement context rather than mutating the active one, so sessions
// established earlier keep the context they started with.
//
// Accept separates transport failure from policy failure. A handshake error
// rejects the connection; a peer that completes the handshake but fails the
// certificate policy gets a Session with Authenticated() == false. What an
// unauthenticated session may do is decided by the protocol layer.
package transport
