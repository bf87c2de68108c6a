// Package config provides TOML configuration file loading and parsing for
// the relay. The configuration file lives at ~/.arcs/config.toml by
// default, but can be overridden with the --config flag. CLI flags always
// take precedence over file values.
package config

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/BurntSushi/toml"
)

// Config represents the relay's configuration file structure. Field names
// use Go camelCase internally but map to snake_case in TOML files via
// struct tags.
type Config struct {
	// Addr is the host:port the relay's WebSocket listener binds to.
	// Default: 127.0.0.1:8080
	Addr string `toml:"addr"`

	// TLSCert is the path to the TLS certificate file. Optional: transport
	// TLS termination may instead be handled by a reverse proxy.
	TLSCert string `toml:"tls_cert"`

	// TLSKey is the path to the TLS key file, paired with TLSCert.
	TLSKey string `toml:"tls_key"`

	// DeviceStorePath is the SQLite database backing the device registry.
	// Default: ~/.arcs/arcs.db
	DeviceStorePath string `toml:"device_store_path"`

	// AuditLogPath is the append-only security event log.
	// Default: ~/.arcs/audit.log
	AuditLogPath string `toml:"audit_log_path"`

	// JWTSecretFile is the path to a file holding the HMAC signing secret
	// for session tokens. Never defaulted to a literal secret in code; the
	// relay refuses to start without one configured.
	JWTSecretFile string `toml:"jwt_secret_file"`

	// JWTLifetimeHours is the validity window for issued session tokens.
	// Default: 24
	JWTLifetimeHours int `toml:"jwt_lifetime_hours"`

	// IdleTimeoutSeconds is how long a session may go without traffic
	// before the idle GC reaps it. Default: 300
	IdleTimeoutSeconds int `toml:"idle_timeout_seconds"`

	// LogLevel controls logging verbosity: debug, info, warn, error.
	// Default: info
	LogLevel string `toml:"log_level"`

	// RequireDeviceRegistry forces every auth_request through the device
	// registry. The relay never runs in the permissive "registry is nil"
	// mode the original source allowed; this field exists so operators can
	// see the policy is in force, not to disable it. Default: true
	RequireDeviceRegistry bool `toml:"require_device_registry"`

	// MDNSEnabled advertises this relay on the LAN via DNS-SD so
	// controllers and devices can find it without typing an address.
	// Default: false (disabled for security — must be explicitly enabled)
	MDNSEnabled bool `toml:"mdns_enabled"`

	// DiscoveryName is the human-readable name advertised over mDNS when
	// MDNSEnabled is true. Defaults to the system hostname if empty.
	DiscoveryName string `toml:"discovery_name"`

	// StatusSocketPath is a Unix domain socket the relay listens on for
	// local-only operator introspection (the CLI's "relay status"). It is
	// not a network-reachable HTTP endpoint, so it doesn't reintroduce the
	// HTTP management surface spec.md §1 excludes.
	// Default: ~/.arcs/status.sock
	StatusSocketPath string `toml:"status_socket_path"`
}

// DefaultConfigPath returns the default config file location: ~/.arcs/config.toml.
// Returns an error only if the user's home directory cannot be determined.
func DefaultConfigPath() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("failed to get home directory: %w", err)
	}
	return filepath.Join(home, ".arcs", "config.toml"), nil
}

// WriteDefault creates a config file with the package defaults at the given
// path (addr is DefaultAddr, a loopback address; mDNS is not enabled).
//
// Behavior:
//   - If the file already exists, returns without error (does not overwrite).
//   - Creates the parent directory if it doesn't exist.
//   - Returns an error if the file cannot be written.
func WriteDefault(path string) error {
	if _, err := os.Stat(path); err == nil {
		return nil // File exists, nothing to do.
	}

	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0700); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	content := fmt.Sprintf(`# ARCS relay configuration
# Created by 'arcsrelay start' with default settings.

addr = %q
device_store_path = %q
audit_log_path = %q
jwt_lifetime_hours = %d
idle_timeout_seconds = %d
require_device_registry = true
`, DefaultAddr, DefaultDeviceStorePath(), DefaultAuditLogPath(), DefaultJWTLifetimeHours, DefaultIdleTimeoutSeconds)

	if err := os.WriteFile(path, []byte(content), 0600); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}
	return nil
}

// Load reads a TOML config file from the given path and returns a Config.
//
// Behavior:
//   - If path is empty, attempts to load from the default location
//     (~/.arcs/config.toml). Returns an empty Config without error if the
//     default file doesn't exist.
//   - If path is specified, returns an error if the file doesn't exist.
//   - Returns an error if the file exists but cannot be parsed.
func Load(path string) (*Config, error) {
	cfg := &Config{}

	if path == "" {
		defaultPath, err := DefaultConfigPath()
		if err != nil {
			return cfg, nil
		}
		if _, err := os.Stat(defaultPath); os.IsNotExist(err) {
			return cfg, nil
		}
		path = defaultPath
	} else {
		if _, err := os.Stat(path); os.IsNotExist(err) {
			return nil, fmt.Errorf("config file not found: %s", path)
		}
	}

	if _, err := toml.DecodeFile(path, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config file %s: %w", path, err)
	}
	return cfg, nil
}

// ApplyDefaults fills in zero-valued fields with their documented defaults.
// Fields a config file or CLI flag already set are left untouched, except
// RequireDeviceRegistry, which is always set to true.
func (c *Config) ApplyDefaults() {
	if c.Addr == "" {
		c.Addr = DefaultAddr
	}
	if c.DeviceStorePath == "" {
		c.DeviceStorePath = DefaultDeviceStorePath()
	}
	if c.AuditLogPath == "" {
		c.AuditLogPath = DefaultAuditLogPath()
	}
	if c.StatusSocketPath == "" {
		c.StatusSocketPath = DefaultStatusSocketPath()
	}
	if c.JWTLifetimeHours == 0 {
		c.JWTLifetimeHours = DefaultJWTLifetimeHours
	}
	if c.IdleTimeoutSeconds == 0 {
		c.IdleTimeoutSeconds = DefaultIdleTimeoutSeconds
	}
	if c.LogLevel == "" {
		c.LogLevel = "info"
	}
	c.RequireDeviceRegistry = true
}
