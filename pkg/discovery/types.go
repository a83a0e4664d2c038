package discovery

import (
	"errors"
	"fmt"
	"time"
)

// Service type constants for mDNS.
const (
	// ServiceType is the DNS-SD service type coffer servers announce.
	ServiceType = "_coffer._tcp"

	// Domain is the mDNS domain.
	Domain = "local"

	// DefaultPort is the default coffer port.
	DefaultPort = 8432
)

// TXT record key constants.
const (
	// TXTKeyVersion is the server version.
	TXTKeyVersion = "v"

	// TXTKeyTLS is the lowest TLS version the server accepts.
	TXTKeyTLS = "tls"

	// TXTKeyAuth is the authentication policy: mutual or server.
	TXTKeyAuth = "auth"

	// TXTKeyFingerprint is the server certificate fingerprint
	// (16 hex chars), usable for pinning before the first connection.
	TXTKeyFingerprint = "fp"
)

// Authentication policy values for the auth TXT key.
const (
	// AuthMutual means the server verifies client certificates against
	// a trust anchor.
	AuthMutual = "mutual"

	// AuthServer means only the server presents a certificate.
	AuthServer = "server"
)

// Timing constants.
const (
	// DefaultTTL is the DNS record TTL for announcements.
	DefaultTTL = 120 * time.Second

	// BrowseTimeout is the default timeout for mDNS browsing.
	BrowseTimeout = 10 * time.Second
)

// Limits.
const (
	// MaxInstanceNameLen is the DNS label limit.
	MaxInstanceNameLen = 63

	// MaxTXTRecordSize is the maximum total TXT record size.
	MaxTXTRecordSize = 400

	// FingerprintLength is the length of a certificate fingerprint
	// (16 hex chars = 64 bits).
	FingerprintLength = 16
)

// Discovery errors.
var (
	ErrInvalidTXTRecord    = errors.New("invalid TXT record format")
	ErrMissingRequired     = errors.New("missing required field")
	ErrInstanceNameTooLong = errors.New("instance name exceeds 63 characters")
	ErrInvalidFingerprint  = errors.New("invalid certificate fingerprint")
	ErrNotFound            = errors.New("service not found")
	ErrNotAnnounced        = errors.New("service not announced")
)

// Info contains the information a server announces about itself.
type Info struct {
	// Instance is the mDNS instance name, usually the configured
	// server name or hostname.
	Instance string

	// Host is the hostname to advertise. Empty uses the local hostname.
	Host string

	// Port is the service port.
	Port uint16

	// Version is the server version (TXT "v").
	Version string

	// TLS is the lowest accepted TLS version, e.g. "1.2" (TXT "tls").
	TLS string

	// Auth is the authentication policy (TXT "auth").
	Auth string

	// Fingerprint is the server certificate fingerprint (TXT "fp").
	Fingerprint string
}

// Validate checks if the announcement is complete.
func (i *Info) Validate() error {
	if i.Instance == "" {
		return fmt.Errorf("%w: instance", ErrMissingRequired)
	}
	if len(i.Instance) > MaxInstanceNameLen {
		return ErrInstanceNameTooLong
	}
	if i.Version == "" {
		return fmt.Errorf("%w: version", ErrMissingRequired)
	}
	if i.Auth != AuthMutual && i.Auth != AuthServer {
		return fmt.Errorf("%w: auth %q", ErrInvalidTXTRecord, i.Auth)
	}
	if i.Fingerprint != "" && !ValidateFingerprint(i.Fingerprint) {
		return ErrInvalidFingerprint
	}
	if size := txtSize(EncodeTXT(i)); size > MaxTXTRecordSize {
		return fmt.Errorf("%w: TXT records total %d bytes", ErrInvalidTXTRecord, size)
	}
	return nil
}

// Service represents a coffer server found via mDNS.
type Service struct {
	// InstanceName is the mDNS instance name.
	InstanceName string

	// Host is the hostname (e.g. "backup-01.local").
	Host string

	// Port is the service port.
	Port uint16

	// Addresses contains resolved IP addresses.
	Addresses []string

	// Version is the server version (from TXT "v").
	Version string

	// TLS is the lowest accepted TLS version (from TXT "tls").
	TLS string

	// Auth is the authentication policy (from TXT "auth").
	Auth string

	// Fingerprint is the server certificate fingerprint (from TXT "fp").
	Fingerprint string
}
