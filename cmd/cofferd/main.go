// Command cofferd is the coffer backup server daemon.
//
// It accepts TLS connections from backup clients, authenticates them by
// client certificate, and executes restore requests against the local
// repository. Connections without a verifiable certificate are served
// too, restricted to unprivileged operations.
//
// Usage:
//
//	cofferd [flags]
//
// Flags (see -help for the full list):
//
//	-config string           YAML configuration file
//	-address string          bind host for the TLS listener (default "127.0.0.1")
//	-port int                TCP port (default 8432)
//	-cert string             server certificate file (PEM)
//	-key string              server private key file (PEM)
//	-ca string               trust anchor for client verification (PEM)
//	-discovery               advertise the server via DNS-SD
//	-metrics-address string  Prometheus metrics listen address
//	-watch                   reload when the config file changes
//	-audit-log string        audit event file
//	-version                 print the release version and exit
//
// Examples:
//
//	# Serve with mutual TLS on the default port
//	cofferd -cert /etc/coffer/server.crt -key /etc/coffer/server.key -ca /etc/coffer/ca.crt
//
//	# Config file, hot reload on SIGHUP or on file change
//	cofferd -config /etc/coffer/cofferd.yaml -watch
//
// SIGHUP reloads the configuration without dropping established
// sessions. SIGINT and SIGTERM stop the daemon after draining.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/coffer-backup/coffer-go/internal/config"
	"github.com/coffer-backup/coffer-go/internal/daemon"
	ilog "github.com/coffer-backup/coffer-go/internal/log"
	"github.com/coffer-backup/coffer-go/pkg/log"
	"github.com/coffer-backup/coffer-go/pkg/version"
)

func main() {
	os.Exit(run(os.Args[1:]))
}

func run(args []string) int {
	// The version flag short-circuits before configuration loading, which
	// would otherwise insist on certificate material.
	for _, arg := range args {
		if arg == "-version" || arg == "--version" {
			fmt.Printf("cofferd %s\n", version.Version)
			return 0
		}
	}

	// Bootstrap logging from the environment; once the configuration is
	// loaded, its log settings take over.
	logger := ilog.New(ilog.FromEnv())

	cfg, err := config.Load(args)
	if err != nil {
		logger.Error("failed to load configuration", "error", err)
		return 1
	}

	logger = ilog.New(&ilog.Config{
		Level:  cfg.LogLevel,
		Format: ilog.Format(cfg.LogFormat),
	})

	var audit log.Logger
	if cfg.AuditLog != "" {
		fileLogger, err := log.NewFileLogger(cfg.AuditLog)
		if err != nil {
			logger.Error("failed to open audit log", "path", cfg.AuditLog, "error", err)
			return 1
		}
		defer fileLogger.Close()
		audit = fileLogger
	}

	d := daemon.New(cfg, daemon.Options{
		Args:    args,
		Version: version.Version,
		Logger:  logger,
		Audit:   audit,
	})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if err := d.Start(ctx); err != nil {
		logger.Error("failed to start", "error", err)
		return 1
	}

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGHUP, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(sigCh)

	for sig := range sigCh {
		if sig == syscall.SIGHUP {
			logger.Info("SIGHUP received, reloading configuration")
			d.TriggerReload()
			continue
		}

		logger.Info("shutting down", "signal", sig.String())
		if err := d.Stop(); err != nil {
			logger.Error("shutdown failed", "error", err)
			return 1
		}
		return 0
	}
	return 0
}
