package discovery

import (
	"context"
	"time"
)

// Browser finds coffer servers over mDNS.
type Browser interface {
	// Browse searches for coffer servers. The channel is closed when
	// the context is cancelled.
	Browse(ctx context.Context) (<-chan *Service, error)

	// Find searches for a server by instance name. Returns when found
	// or when the context is cancelled.
	Find(ctx context.Context, instance string) (*Service, error)
}

// BrowserConfig configures browser behavior.
type BrowserConfig struct {
	// Interface specifies which network interface to use.
	// Empty string means all interfaces.
	Interface string

	// Timeout is the default timeout for Find.
	// Default: 10 seconds.
	Timeout time.Duration
}

// DefaultBrowserConfig returns the default browser configuration.
func DefaultBrowserConfig() BrowserConfig {
	return BrowserConfig{
		Interface: "",
		Timeout:   BrowseTimeout,
	}
}
