// Package discovery announces coffer servers over mDNS (DNS-SD) and
// finds them again.
//
// Servers register the _coffer._tcp service with TXT records carrying
// the server version, the lowest accepted TLS version, the
// authentication policy, and a certificate fingerprint clients can pin
// before the first connection:
//
//	backup-01._coffer._tcp.local
//	  v=2.0.0 tls=1.2 auth=mutual fp=a1b2c3d4e5f6a7b8
//
// The Manager keeps the announcement consistent across configuration
// reloads: when only TXT values change it rewrites them in place, and
// when the instance name or port changes it registers a fresh
// announcement.
//
// Announcements are optional and off by default; a server without mDNS
// is reachable by address like any other.
package discovery
