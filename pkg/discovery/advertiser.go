package discovery

import (
	"context"
	"sync"
	"time"
)

// Advertiser announces a coffer server over mDNS.
type Advertiser interface {
	// Announce starts advertising the service. A second call replaces
	// the previous announcement.
	Announce(ctx context.Context, info *Info) error

	// Update replaces the TXT records of the running announcement
	// without re-registering the service.
	Update(info *Info) error

	// Stop withdraws the announcement.
	Stop()
}

// AdvertiserConfig configures advertiser behavior.
type AdvertiserConfig struct {
	// Interface specifies which network interface to use.
	// Empty string means all interfaces.
	Interface string

	// TTL is the DNS record TTL.
	// Default: 120 seconds.
	TTL time.Duration
}

// DefaultAdvertiserConfig returns the default advertiser configuration.
func DefaultAdvertiserConfig() AdvertiserConfig {
	return AdvertiserConfig{
		Interface: "",
		TTL:       DefaultTTL,
	}
}

// Manager tracks the server's announcement across configuration reloads.
// A reload that changes the announced values only rewrites the TXT
// records; a reload that changes the instance name or port registers a
// fresh announcement.
type Manager struct {
	mu         sync.Mutex
	advertiser Advertiser
	current    *Info
}

// NewManager creates a manager around an advertiser.
func NewManager(advertiser Advertiser) *Manager {
	return &Manager{advertiser: advertiser}
}

// Announce starts advertising.
func (m *Manager) Announce(ctx context.Context, info *Info) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if err := info.Validate(); err != nil {
		return err
	}
	if err := m.advertiser.Announce(ctx, info); err != nil {
		return err
	}
	m.current = info
	return nil
}

// Reannounce refreshes the announcement after a configuration reload.
// Without a running announcement it behaves like Announce.
func (m *Manager) Reannounce(ctx context.Context, info *Info) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if err := info.Validate(); err != nil {
		return err
	}

	if m.current != nil && m.current.Instance == info.Instance && m.current.Port == info.Port {
		if err := m.advertiser.Update(info); err != nil {
			return err
		}
		m.current = info
		return nil
	}

	if err := m.advertiser.Announce(ctx, info); err != nil {
		return err
	}
	m.current = info
	return nil
}

// Current returns the running announcement, or nil.
func (m *Manager) Current() *Info {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.current
}

// Stop withdraws the announcement.
func (m *Manager) Stop() {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.advertiser.Stop()
	m.current = nil
}
