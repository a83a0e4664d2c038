package daemon

import (
	"github.com/coffer-backup/coffer-go/internal/config"
	"github.com/coffer-backup/coffer-go/internal/ratelimit"
	"github.com/coffer-backup/coffer-go/pkg/protocol"
	"github.com/coffer-backup/coffer-go/pkg/restore"
	"github.com/coffer-backup/coffer-go/pkg/transport"
)

// engine bundles everything a reload replaces: the TLS server context,
// the protocol server, and the accept-path rate limiter. Exactly one
// engine is active for new connections; workers keep the engine that was
// active when their connection was accepted.
type engine struct {
	cfg     *config.Config
	tls     *transport.ServerContext
	proto   *protocol.Server
	limiter *ratelimit.Limiter
}

// buildEngine turns a configuration into a ready engine. Certificate
// material is loaded and validated here, so a broken configuration
// surfaces as one error before the engine can serve anything. Reload
// relies on that: a failed build leaves the previous engine active.
func (d *Daemon) buildEngine(cfg *config.Config) (*engine, error) {
	tlsCtx, err := transport.NewServerContext(transport.ServerConfig{
		Host:     cfg.DiscoveryName,
		CertFile: cfg.CertFile,
		KeyFile:  cfg.KeyFile,
		CAFile:   cfg.CAFile,
		CRLFile:  cfg.CRLFile,
		Timeout:  cfg.Timeout(),
	})
	if err != nil {
		return nil, err
	}

	var exec protocol.Executor
	if cfg.RestoreEnabled() {
		exec = restore.NewLocalExecutor(cfg.RepoPath, cfg.RestorePath)
	}

	proto := protocol.NewServer(protocol.Config{
		Version:      d.opts.Version,
		Executor:     exec,
		Logger:       d.logger,
		AuditLogger:  d.audit,
		FrameCapture: cfg.AuditCapture,
	})

	return &engine{
		cfg:     cfg,
		tls:     tlsCtx,
		proto:   proto,
		limiter: ratelimit.New(cfg.RateLimit, cfg.RateBurst, 0),
	}, nil
}
