package daemon

import (
	"github.com/coffer-backup/coffer-go/internal/config"
	"github.com/coffer-backup/coffer-go/internal/stats"
)

// TriggerReload schedules a configuration reload. Safe to call from a
// signal handler goroutine; if a reload is already pending the trigger
// coalesces into it.
func (d *Daemon) TriggerReload() {
	select {
	case d.reloadCh <- struct{}{}:
	default:
	}
}

// reloadLoop applies reload triggers one at a time on its own goroutine.
// Signal handlers and the file watcher only ever touch the trigger
// channel, never daemon state.
func (d *Daemon) reloadLoop() {
	defer d.wg.Done()

	for {
		select {
		case <-d.ctx.Done():
			return
		case <-d.reloadCh:
			d.reload()
		}
	}
}

// reload re-derives the configuration from the original argument list
// and swaps in a freshly built engine. The swap is all or nothing: any
// failure, from flag parsing to certificate loading, leaves the previous
// engine active and serving. Sessions established before the swap keep
// their original engine either way.
func (d *Daemon) reload() {
	old := d.engine.Load()

	cfg, err := config.Load(d.opts.Args)
	if err != nil {
		stats.RecordReload(false)
		d.auditReloadError(err)
		d.logger.Error("reload rejected, keeping active configuration", "error", err)
		return
	}

	eng, err := d.buildEngine(cfg)
	if err != nil {
		stats.RecordReload(false)
		d.auditReloadError(err)
		d.logger.Error("reload rejected, keeping active configuration", "error", err)
		return
	}

	// The listener stays bound to its original address. Changing it, or
	// anything else tied to daemon startup, needs a restart.
	if cfg.ListenAddr() != old.cfg.ListenAddr() {
		d.logger.Warn("listen address change requires a restart, keeping current listener",
			"configured", cfg.ListenAddr(),
			"active", old.cfg.ListenAddr())
	}
	if cfg.MetricsAddress != old.cfg.MetricsAddress {
		d.logger.Warn("metrics address change requires a restart")
	}
	if cfg.AuditLog != old.cfg.AuditLog {
		d.logger.Warn("audit log change requires a restart")
	}

	d.engine.Store(eng)
	d.cfg = cfg
	stats.RecordReload(true)
	d.auditReloadSwap(old.tls.Fingerprint(), eng.tls.Fingerprint())
	d.logger.Info("configuration reloaded",
		"old_fingerprint", old.tls.Fingerprint(),
		"new_fingerprint", eng.tls.Fingerprint(),
		"mutual_auth", eng.tls.MutualAuth(),
		"restore", cfg.RestoreEnabled())

	if d.announcer != nil {
		if err := d.announcer.Reannounce(d.ctx, d.announcement(eng)); err != nil {
			d.logger.Warn("discovery reannounce failed", "error", err)
		}
	}
}
