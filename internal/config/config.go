package config

import (
	"flag"
	"fmt"
	"net"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/coffer-backup/coffer-go/pkg/discovery"
)

// DefaultTimeoutMS is the default I/O timeout in milliseconds. It bounds the
// TLS handshake and every session read and write.
const DefaultTimeoutMS = 60000

// LoadError describes a configuration that could not be loaded or validated.
type LoadError struct {
	File    string
	Message string
	Cause   error
}

// Error returns a formatted error message.
func (e *LoadError) Error() string {
	msg := e.Message
	if e.File != "" {
		msg = fmt.Sprintf("%s: %s", e.File, msg)
	}
	if e.Cause != nil {
		msg = fmt.Sprintf("%s: %v", msg, e.Cause)
	}
	return msg
}

// Unwrap returns the underlying cause, if any.
func (e *LoadError) Unwrap() error {
	return e.Cause
}

// Config is the complete daemon option surface. Values come from the YAML
// file named by -config, overridden by any flag given explicitly.
// Certificate and key have no defaults and must always be configured.
type Config struct {
	// Address is the bind host for the TLS listener.
	Address string `yaml:"address"`

	// Port is the TCP port for the TLS listener. 0 binds an ephemeral
	// port chosen by the OS.
	Port int `yaml:"port"`

	// CertFile is the server certificate (PEM). Required.
	CertFile string `yaml:"cert"`

	// KeyFile is the server private key (PEM). Required.
	KeyFile string `yaml:"key"`

	// CAFile holds trust anchors for client certificate verification.
	// Empty means no certificate policy: every session is authenticated.
	CAFile string `yaml:"ca"`

	// CRLFile holds revoked client certificates. Requires CAFile.
	CRLFile string `yaml:"crl"`

	// TimeoutMS bounds the handshake and each session read/write,
	// in milliseconds.
	TimeoutMS int `yaml:"timeout"`

	// MaxSessions caps concurrently served sessions. 0 means no cap.
	MaxSessions int `yaml:"max-sessions"`

	// RateLimit is the per-host connection rate (connections per second
	// sustained). 0 disables rate limiting.
	RateLimit float64 `yaml:"rate-limit"`

	// RateBurst is the per-host burst allowance when rate limiting.
	RateBurst int `yaml:"rate-burst"`

	// Discovery enables DNS-SD advertisement of the server.
	Discovery bool `yaml:"discovery"`

	// DiscoveryName is the advertised instance name. Defaults to the
	// host name.
	DiscoveryName string `yaml:"discovery-name"`

	// MetricsAddress exposes Prometheus metrics when set
	// (e.g. "127.0.0.1:9903"). Empty disables the endpoint.
	MetricsAddress string `yaml:"metrics-address"`

	// Watch reloads the configuration when the config file changes,
	// in addition to SIGHUP.
	Watch bool `yaml:"watch"`

	// AuditLog appends CBOR audit events to this file when set.
	AuditLog string `yaml:"audit-log"`

	// AuditCapture bounds how many bytes of each frame the audit trail
	// retains. 0 records sizes only.
	AuditCapture int `yaml:"audit-capture"`

	// RepoPath is the repository directory restore jobs read from.
	// Restore requests fail until both RepoPath and RestorePath are set.
	RepoPath string `yaml:"repo-path"`

	// RestorePath is the directory restore jobs write into.
	RestorePath string `yaml:"restore-path"`

	// LogLevel is the operational log threshold (debug, info, warn, error).
	LogLevel string `yaml:"log-level"`

	// LogFormat is the operational log format (text, json).
	LogFormat string `yaml:"log-format"`

	// Path is the YAML file this configuration was loaded from.
	// Empty when configured by flags alone.
	Path string `yaml:"-"`
}

// Default returns the built-in defaults. A listener bound to localhost,
// the original's 60 second I/O timeout, everything optional off.
func Default() *Config {
	return &Config{
		Address:   "127.0.0.1",
		Port:      discovery.DefaultPort,
		TimeoutMS: DefaultTimeoutMS,
		RateBurst: 1,
		LogLevel:  "info",
		LogFormat: "text",
	}
}

// Load builds a Config from the given command line arguments (not
// including the program name). It is re-runnable: reload calls it again
// with the arguments saved at startup, so config file edits take effect
// while explicit flags keep winning.
func Load(args []string) (*Config, error) {
	fs := flag.NewFlagSet("cofferd", flag.ContinueOnError)

	configPath := fs.String("config", "", "path to YAML configuration file")
	address := fs.String("address", "", "bind host for the TLS listener")
	port := fs.Int("port", 0, "TCP port for the TLS listener")
	certFile := fs.String("cert", "", "server certificate file (PEM)")
	keyFile := fs.String("key", "", "server private key file (PEM)")
	caFile := fs.String("ca", "", "trust anchor file for client verification (PEM)")
	crlFile := fs.String("crl", "", "certificate revocation list file (PEM)")
	timeout := fs.Int("timeout", 0, "I/O timeout in milliseconds")
	maxSessions := fs.Int("max-sessions", 0, "maximum concurrent sessions (0 = unlimited)")
	rateLimit := fs.Float64("rate-limit", 0, "per-host connections per second (0 = unlimited)")
	rateBurst := fs.Int("rate-burst", 0, "per-host connection burst")
	disc := fs.Bool("discovery", false, "advertise the server via DNS-SD")
	discName := fs.String("discovery-name", "", "advertised instance name")
	metricsAddr := fs.String("metrics-address", "", "Prometheus metrics listen address")
	watch := fs.Bool("watch", false, "reload when the config file changes")
	auditLog := fs.String("audit-log", "", "audit event file")
	auditCapture := fs.Int("audit-capture", 0, "bytes of each frame retained in the audit trail")
	repoPath := fs.String("repo-path", "", "repository directory restore jobs read from")
	restorePath := fs.String("restore-path", "", "directory restore jobs write into")
	logLevel := fs.String("log-level", "", "log level (debug, info, warn, error)")
	logFormat := fs.String("log-format", "", "log format (text, json)")

	if err := fs.Parse(args); err != nil {
		return nil, err
	}
	if fs.NArg() > 0 {
		return nil, &LoadError{Message: fmt.Sprintf("unexpected argument %q", fs.Arg(0))}
	}

	cfg := Default()

	if *configPath != "" {
		data, err := os.ReadFile(*configPath)
		if err != nil {
			return nil, &LoadError{File: *configPath, Message: "failed to read file", Cause: err}
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, &LoadError{File: *configPath, Message: "failed to parse YAML", Cause: err}
		}
		cfg.Path = *configPath
	}

	// Explicit flags win over file values.
	fs.Visit(func(f *flag.Flag) {
		switch f.Name {
		case "address":
			cfg.Address = *address
		case "port":
			cfg.Port = *port
		case "cert":
			cfg.CertFile = *certFile
		case "key":
			cfg.KeyFile = *keyFile
		case "ca":
			cfg.CAFile = *caFile
		case "crl":
			cfg.CRLFile = *crlFile
		case "timeout":
			cfg.TimeoutMS = *timeout
		case "max-sessions":
			cfg.MaxSessions = *maxSessions
		case "rate-limit":
			cfg.RateLimit = *rateLimit
		case "rate-burst":
			cfg.RateBurst = *rateBurst
		case "discovery":
			cfg.Discovery = *disc
		case "discovery-name":
			cfg.DiscoveryName = *discName
		case "metrics-address":
			cfg.MetricsAddress = *metricsAddr
		case "watch":
			cfg.Watch = *watch
		case "audit-log":
			cfg.AuditLog = *auditLog
		case "audit-capture":
			cfg.AuditCapture = *auditCapture
		case "repo-path":
			cfg.RepoPath = *repoPath
		case "restore-path":
			cfg.RestorePath = *restorePath
		case "log-level":
			cfg.LogLevel = *logLevel
		case "log-format":
			cfg.LogFormat = *logFormat
		}
	})

	if cfg.Discovery && cfg.DiscoveryName == "" {
		host, err := os.Hostname()
		if err != nil {
			return nil, &LoadError{Message: "discovery requires an instance name", Cause: err}
		}
		cfg.DiscoveryName = host
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks the configuration for contradictions and holes.
func (c *Config) Validate() error {
	if c.CertFile == "" {
		return &LoadError{File: c.Path, Message: "server certificate (cert) is required"}
	}
	if c.KeyFile == "" {
		return &LoadError{File: c.Path, Message: "server private key (key) is required"}
	}
	if c.Address == "" {
		return &LoadError{File: c.Path, Message: "bind address must not be empty"}
	}
	// Port 0 asks the OS for an ephemeral port.
	if c.Port < 0 || c.Port > 65535 {
		return &LoadError{File: c.Path, Message: fmt.Sprintf("port %d out of range 0-65535", c.Port)}
	}
	if c.TimeoutMS <= 0 {
		return &LoadError{File: c.Path, Message: "timeout must be positive"}
	}
	if c.CRLFile != "" && c.CAFile == "" {
		return &LoadError{File: c.Path, Message: "crl requires ca"}
	}
	if c.MaxSessions < 0 {
		return &LoadError{File: c.Path, Message: "max-sessions must not be negative"}
	}
	if c.RateLimit < 0 {
		return &LoadError{File: c.Path, Message: "rate-limit must not be negative"}
	}
	if c.RateLimit > 0 && c.RateBurst < 1 {
		return &LoadError{File: c.Path, Message: "rate-limit requires rate-burst >= 1"}
	}
	if c.AuditCapture < 0 {
		return &LoadError{File: c.Path, Message: "audit-capture must not be negative"}
	}
	if (c.RepoPath == "") != (c.RestorePath == "") {
		return &LoadError{File: c.Path, Message: "repo-path and restore-path must be set together"}
	}
	switch c.LogLevel {
	case "", "debug", "info", "warn", "warning", "error":
	default:
		return &LoadError{File: c.Path, Message: fmt.Sprintf("unknown log-level %q", c.LogLevel)}
	}
	switch c.LogFormat {
	case "", "text", "json":
	default:
		return &LoadError{File: c.Path, Message: fmt.Sprintf("unknown log-format %q", c.LogFormat)}
	}
	return nil
}

// ListenAddr returns the host:port the listener binds.
func (c *Config) ListenAddr() string {
	return net.JoinHostPort(c.Address, strconv.Itoa(c.Port))
}

// Timeout returns the I/O timeout as a duration.
func (c *Config) Timeout() time.Duration {
	return time.Duration(c.TimeoutMS) * time.Millisecond
}

// RestoreEnabled reports whether restore execution is configured.
func (c *Config) RestoreEnabled() bool {
	return c.RepoPath != "" && c.RestorePath != ""
}
