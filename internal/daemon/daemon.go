// Package daemon runs the coffer server: the TCP accept loop, the
// per-session workers, and the reload controller that swaps the active
// server context without dropping established sessions.
package daemon

import (
	"context"
	"errors"
	"log/slog"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/coffer-backup/coffer-go/internal/config"
	ilog "github.com/coffer-backup/coffer-go/internal/log"
	"github.com/coffer-backup/coffer-go/internal/stats"
	"github.com/coffer-backup/coffer-go/pkg/discovery"
	"github.com/coffer-backup/coffer-go/pkg/log"
	"github.com/coffer-backup/coffer-go/pkg/transport"
)

// Daemon errors.
var (
	ErrNotStarted     = errors.New("daemon not started")
	ErrAlreadyStarted = errors.New("daemon already started")
)

// DefaultDrainTimeout bounds how long Stop waits for session workers.
const DefaultDrainTimeout = 10 * time.Second

// State represents the daemon lifecycle state.
type State uint8

const (
	// StateIdle - daemon created but not started.
	StateIdle State = iota

	// StateStarting - daemon is starting up.
	StateStarting

	// StateRunning - daemon is accepting connections.
	StateRunning

	// StateStopping - daemon is shutting down.
	StateStopping

	// StateStopped - daemon has stopped.
	StateStopped
)

// String returns the state name.
func (s State) String() string {
	switch s {
	case StateIdle:
		return "IDLE"
	case StateStarting:
		return "STARTING"
	case StateRunning:
		return "RUNNING"
	case StateStopping:
		return "STOPPING"
	case StateStopped:
		return "STOPPED"
	default:
		return "UNKNOWN"
	}
}

// Options carries the daemon dependencies the configuration file cannot
// express.
type Options struct {
	// Args is the original command line. Reload re-parses it so that
	// explicit flags keep overriding file values across reloads.
	Args []string

	// Version is announced in greetings and discovery records.
	Version string

	// Logger receives operational log output. Nil disables logging.
	Logger *slog.Logger

	// Audit receives the structured audit trail. Nil disables auditing.
	// The daemon keeps it for its whole lifetime; reloads do not reopen it.
	Audit log.Logger

	// Advertiser overrides the mDNS advertiser, used by tests. Nil builds
	// a real one when discovery is enabled.
	Advertiser discovery.Advertiser

	// DrainTimeout bounds how long Stop waits for in-flight sessions.
	// Defaults to DefaultDrainTimeout.
	DrainTimeout time.Duration
}

// Daemon supervises the listener. Each accepted connection gets its own
// worker goroutine and a snapshot of the engine that was active at accept
// time, so configuration reloads never touch established sessions.
type Daemon struct {
	mu    sync.Mutex
	state State

	cfg    *config.Config
	opts   Options
	logger *slog.Logger
	audit  log.Logger

	engine    atomic.Pointer[engine]
	socket    *transport.SocketServer
	watcher   *config.Watcher
	announcer *discovery.Manager
	metrics   *stats.Server

	reloadCh chan struct{}
	sessions atomic.Int32

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// New creates a daemon from a loaded configuration. Nothing listens
// until Start.
func New(cfg *config.Config, opts Options) *Daemon {
	logger := opts.Logger
	if logger == nil {
		logger = ilog.Discard()
	}
	var audit log.Logger = log.NoopLogger{}
	if opts.Audit != nil {
		audit = opts.Audit
	}
	if opts.DrainTimeout <= 0 {
		opts.DrainTimeout = DefaultDrainTimeout
	}

	return &Daemon{
		state:  StateIdle,
		cfg:    cfg,
		opts:   opts,
		logger: logger,
		// Counting answered requests rides on the audit stream so the
		// protocol layer stays free of metrics wiring.
		audit:    log.NewMultiLogger(audit, metricsAudit{}),
		reloadCh: make(chan struct{}, 1),
	}
}

// State returns the current lifecycle state.
func (d *Daemon) State() State {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.state
}

// Addr returns the bound listen address as a string, or "" before Start.
func (d *Daemon) Addr() string {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.socket == nil {
		return ""
	}
	return d.socket.Addr().String()
}

// ActiveSessions returns how many session workers are running.
func (d *Daemon) ActiveSessions() int {
	return int(d.sessions.Load())
}

// Start builds the first engine, binds the listener, and launches the
// accept and reload loops. A configuration that cannot produce a working
// engine fails here, before anything listens.
func (d *Daemon) Start(ctx context.Context) error {
	d.mu.Lock()
	if d.state != StateIdle && d.state != StateStopped {
		d.mu.Unlock()
		return ErrAlreadyStarted
	}
	d.state = StateStarting
	d.mu.Unlock()

	d.ctx, d.cancel = context.WithCancel(ctx)

	eng, err := d.buildEngine(d.cfg)
	if err != nil {
		d.fail()
		return err
	}
	d.engine.Store(eng)

	socket, err := transport.ListenSocket(d.ctx, transport.SocketConfig{
		Address:   d.cfg.ListenAddr(),
		KeepAlive: true,
	})
	if err != nil {
		d.fail()
		return err
	}
	d.mu.Lock()
	d.socket = socket
	d.mu.Unlock()

	if d.cfg.MetricsAddress != "" {
		d.metrics = stats.NewServer(d.cfg.MetricsAddress, ilog.WithComponent(d.logger, "metrics"))
		if err := d.metrics.Start(); err != nil {
			socket.Close()
			d.fail()
			return err
		}
	}

	if d.cfg.Discovery {
		announcer, err := d.newAnnouncer()
		if err == nil {
			err = announcer.Announce(d.ctx, d.announcement(eng))
		}
		if err != nil {
			socket.Close()
			d.shutdownMetrics()
			d.fail()
			return err
		}
		d.announcer = announcer
	}

	if d.cfg.Watch && d.cfg.Path != "" {
		watcher, err := config.WatchFile(d.cfg.Path, d.reloadCh, ilog.WithComponent(d.logger, "watcher"))
		if err != nil {
			socket.Close()
			d.shutdownMetrics()
			if d.announcer != nil {
				d.announcer.Stop()
				d.announcer = nil
			}
			d.fail()
			return err
		}
		d.watcher = watcher
	}

	d.mu.Lock()
	d.state = StateRunning
	d.mu.Unlock()

	d.wg.Add(2)
	go d.acceptLoop()
	go d.reloadLoop()

	d.logger.Info("daemon started",
		"address", socket.Addr().String(),
		"fingerprint", eng.tls.Fingerprint(),
		"mutual_auth", eng.tls.MutualAuth(),
		"restore", eng.cfg.RestoreEnabled(),
		"version", d.opts.Version)
	return nil
}

// Stop closes the listener, waits for session workers up to the drain
// timeout, and withdraws the discovery announcement. Sessions still
// running after the grace period are abandoned.
func (d *Daemon) Stop() error {
	d.mu.Lock()
	if d.state != StateRunning {
		d.mu.Unlock()
		return ErrNotStarted
	}
	d.state = StateStopping
	socket := d.socket
	d.mu.Unlock()

	d.logger.Info("daemon stopping", "active_sessions", d.sessions.Load())

	if d.watcher != nil {
		d.watcher.Stop()
		d.watcher = nil
	}
	d.cancel()
	socket.Close()

	done := make(chan struct{})
	go func() {
		d.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(d.opts.DrainTimeout):
		d.logger.Warn("drain timeout exceeded, abandoning sessions",
			"active_sessions", d.sessions.Load())
	}

	if d.announcer != nil {
		d.announcer.Stop()
		d.announcer = nil
	}
	d.shutdownMetrics()

	d.mu.Lock()
	d.state = StateStopped
	d.mu.Unlock()

	d.logger.Info("daemon stopped")
	return nil
}

// fail rolls the state back after a failed start.
func (d *Daemon) fail() {
	d.cancel()
	d.mu.Lock()
	d.state = StateIdle
	d.mu.Unlock()
}

func (d *Daemon) newAnnouncer() (*discovery.Manager, error) {
	if d.opts.Advertiser != nil {
		return discovery.NewManager(d.opts.Advertiser), nil
	}
	advertiser, err := discovery.NewMDNSAdvertiser(discovery.DefaultAdvertiserConfig())
	if err != nil {
		return nil, err
	}
	return discovery.NewManager(advertiser), nil
}

// announcement derives the discovery record from an engine. The port
// comes from the bound listener, not the configuration, so an ephemeral
// bind announces the real port.
func (d *Daemon) announcement(eng *engine) *discovery.Info {
	auth := discovery.AuthServer
	if eng.tls.MutualAuth() {
		auth = discovery.AuthMutual
	}
	port := eng.cfg.Port
	d.mu.Lock()
	if d.socket != nil {
		if tcp, ok := d.socket.Addr().(*net.TCPAddr); ok {
			port = tcp.Port
		}
	}
	d.mu.Unlock()
	return &discovery.Info{
		Instance:    eng.cfg.DiscoveryName,
		Port:        uint16(port),
		Version:     d.opts.Version,
		TLS:         "1.2",
		Auth:        auth,
		Fingerprint: eng.tls.Fingerprint(),
	}
}

func (d *Daemon) shutdownMetrics() {
	if d.metrics == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := d.metrics.Shutdown(ctx); err != nil {
		d.logger.Warn("metrics server shutdown failed", "error", err)
	}
	d.metrics = nil
}
