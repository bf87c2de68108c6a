package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/arcs-project/relay/internal/audit"
	"github.com/arcs-project/relay/internal/config"
	"github.com/arcs-project/relay/internal/devices"
	"github.com/arcs-project/relay/internal/discovery"
	"github.com/arcs-project/relay/internal/jwtauth"
	"github.com/arcs-project/relay/internal/ratelimit"
	"github.com/arcs-project/relay/internal/relay"
	"github.com/arcs-project/relay/internal/session"
	"github.com/arcs-project/relay/internal/storage"
)

// relayFlags mirrors config.Config, one field per flag, so we can tell an
// explicitly-set flag apart from an unset one when merging with the config
// file. CLI flags always win over file values.
type relayFlags struct {
	configPath    string
	addr          string
	tlsCert       string
	tlsKey        string
	deviceStore   string
	auditLog      string
	jwtSecretFile string
	jwtLifetime   int
	idleTimeout   int
	logLevel      string
	mdns          bool
	discoveryName string
}

// runRelayStart implements "arcsrelay relay start": load config, wire every
// component together, and run the relay until a signal or a fatal error.
func runRelayStart(args []string, stdout, stderr io.Writer) int {
	fs := flag.NewFlagSet("relay start", flag.ContinueOnError)
	fs.SetOutput(stderr)

	var f relayFlags
	fs.StringVar(&f.configPath, "config", "", "Path to config file (default: ~/.arcs/config.toml)")
	fs.StringVar(&f.addr, "addr", "", "Address to listen on (default: 127.0.0.1:8080)")
	fs.StringVar(&f.tlsCert, "tls-cert", "", "Path to TLS certificate")
	fs.StringVar(&f.tlsKey, "tls-key", "", "Path to TLS key")
	fs.StringVar(&f.deviceStore, "device-store-path", "", "Path to device registry SQLite database")
	fs.StringVar(&f.auditLog, "audit-log-path", "", "Path to append-only audit log")
	fs.StringVar(&f.jwtSecretFile, "jwt-secret-file", "", "Path to a file holding the JWT HMAC signing secret")
	fs.IntVar(&f.jwtLifetime, "jwt-lifetime-hours", 0, "Session token lifetime in hours")
	fs.IntVar(&f.idleTimeout, "idle-timeout-seconds", 0, "Seconds a session may stay idle before it is reaped")
	fs.StringVar(&f.logLevel, "log-level", "", "Log verbosity: debug, info, warn, error")
	fs.BoolVar(&f.mdns, "mdns", false, "Advertise this relay on the LAN via mDNS/DNS-SD")
	fs.StringVar(&f.discoveryName, "discovery-name", "", "Name advertised over mDNS (default: hostname)")

	fs.Usage = func() {
		fmt.Fprintf(stderr, `Usage: arcsrelay relay start [options]

Start the session-brokering relay.

Options:
`)
		fs.PrintDefaults()
	}

	if err := fs.Parse(args); err != nil {
		if errors.Is(err, flag.ErrHelp) {
			return 0
		}
		return 1
	}

	explicitFlags := make(map[string]bool)
	fs.Visit(func(fl *flag.Flag) { explicitFlags[fl.Name] = true })

	cfg, err := config.Load(f.configPath)
	if err != nil {
		fmt.Fprintf(stderr, "Error: %v\n", err)
		return 1
	}

	// CLI flags override file values; file values fill anything left zero.
	if f.addr != "" {
		cfg.Addr = f.addr
	}
	if f.tlsCert != "" {
		cfg.TLSCert = f.tlsCert
	}
	if f.tlsKey != "" {
		cfg.TLSKey = f.tlsKey
	}
	if f.deviceStore != "" {
		cfg.DeviceStorePath = f.deviceStore
	}
	if f.auditLog != "" {
		cfg.AuditLogPath = f.auditLog
	}
	if f.jwtSecretFile != "" {
		cfg.JWTSecretFile = f.jwtSecretFile
	}
	if f.jwtLifetime != 0 {
		cfg.JWTLifetimeHours = f.jwtLifetime
	}
	if f.idleTimeout != 0 {
		cfg.IdleTimeoutSeconds = f.idleTimeout
	}
	if f.logLevel != "" {
		cfg.LogLevel = f.logLevel
	}
	if explicitFlags["mdns"] {
		cfg.MDNSEnabled = f.mdns
	}
	if f.discoveryName != "" {
		cfg.DiscoveryName = f.discoveryName
	}
	cfg.ApplyDefaults()

	return startRelay(cfg, stdout, stderr)
}

// startRelay wires config into running components and blocks until a
// shutdown signal is received. Both "relay start" and "start" funnel
// through here once their flag/config merging is done.
func startRelay(cfg *config.Config, stdout, stderr io.Writer) int {
	secret, err := loadJWTSecret(cfg.JWTSecretFile)
	if err != nil {
		fmt.Fprintf(stderr, "Error: %v\n", err)
		return 1
	}

	store, err := storage.NewSQLiteStore(cfg.DeviceStorePath)
	if err != nil {
		fmt.Fprintf(stderr, "Error: failed to open device store: %v\n", err)
		return 1
	}
	defer store.Close()

	devReg, err := devices.New(store)
	if err != nil {
		fmt.Fprintf(stderr, "Error: failed to load device registry: %v\n", err)
		return 1
	}

	auditLog, err := audit.New(cfg.AuditLogPath)
	if err != nil {
		fmt.Fprintf(stderr, "Error: failed to open audit log: %v\n", err)
		return 1
	}
	defer auditLog.Close()

	idleTimeout := time.Duration(cfg.IdleTimeoutSeconds) * time.Second
	sessReg := session.New(idleTimeout)
	jwtMgr := jwtauth.NewManager(secret, time.Duration(cfg.JWTLifetimeHours)*time.Hour)
	limiter := ratelimit.New()

	server := relay.NewServer(devReg, sessReg, jwtMgr, limiter, auditLog)
	gcStop := server.StartIdleGC(idleTimeout / 2)
	defer close(gcStop)

	httpServer := relay.NewHTTPServer(cfg.Addr, server)

	statusSocket := relay.NewStatusSocket(cfg.StatusSocketPath, server)
	if err := statusSocket.Start(); err != nil {
		fmt.Fprintf(stderr, "Warning: status socket disabled: %v\n", err)
	} else {
		defer statusSocket.Stop()
	}

	var advertiser *discovery.Advertiser
	if cfg.MDNSEnabled {
		port, perr := portOf(cfg.Addr)
		if perr != nil {
			fmt.Fprintf(stderr, "Warning: mdns disabled, could not parse port from %q: %v\n", cfg.Addr, perr)
		} else {
			advertiser = discovery.NewAdvertiser(discovery.Config{
				Port:        port,
				Fingerprint: fingerprintOf(cfg.TLSCert),
				Name:        cfg.DiscoveryName,
			})
			if err := advertiser.Start(); err != nil {
				fmt.Fprintf(stderr, "Warning: mdns advertise failed: %v\n", err)
				advertiser = nil
			}
		}
	}

	serveErrCh := make(chan error, 1)
	go func() {
		if cfg.TLSCert != "" && cfg.TLSKey != "" {
			serveErrCh <- httpServer.StartTLS(cfg.TLSCert, cfg.TLSKey)
			return
		}
		serveErrCh <- httpServer.Start()
	}()

	fmt.Fprintf(stdout, "arcsrelay listening on %s\n", cfg.Addr)
	fmt.Fprintf(stdout, "device store: %s\n", cfg.DeviceStorePath)
	fmt.Fprintf(stdout, "audit log:    %s\n", cfg.AuditLogPath)

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-sigCh:
		fmt.Fprintf(stdout, "\nreceived signal %v, shutting down...\n", sig)
	case err := <-serveErrCh:
		if err != nil {
			fmt.Fprintf(stderr, "Error: relay exited: %v\n", err)
		}
	}

	if advertiser != nil {
		advertiser.Stop()
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := httpServer.Stop(ctx); err != nil {
		fmt.Fprintf(stderr, "Warning: graceful shutdown error: %v\n", err)
	}

	return 0
}

// runRelayStatus implements "arcsrelay relay status": dial a running
// relay's status socket and print its live connection counts. Unlike
// device management, this requires a relay process already listening on
// cfg.StatusSocketPath.
func runRelayStatus(args []string, stdout, stderr io.Writer) int {
	fs := flag.NewFlagSet("relay status", flag.ContinueOnError)
	fs.SetOutput(stderr)

	socketPath := fs.String("status-socket-path", "", "Path to the relay's status socket")
	configPath := fs.String("config", "", "Path to config file (default: ~/.arcs/config.toml)")

	fs.Usage = func() {
		fmt.Fprintf(stderr, "Usage: arcsrelay relay status [options]\n\nShow live connection counts for a running relay.\n\nOptions:\n")
		fs.PrintDefaults()
	}

	if err := fs.Parse(args); err != nil {
		if errors.Is(err, flag.ErrHelp) {
			return 0
		}
		return 1
	}

	path := *socketPath
	if path == "" {
		cfg, err := config.Load(*configPath)
		if err != nil {
			fmt.Fprintf(stderr, "Error: %v\n", err)
			return 1
		}
		cfg.ApplyDefaults()
		path = cfg.StatusSocketPath
	}

	st, err := relay.FetchStatus(path)
	if err != nil {
		fmt.Fprintf(stderr, "Error: %v\n", err)
		fmt.Fprintln(stderr, "Is the relay running? Start it with 'arcsrelay relay start'.")
		return 1
	}

	fmt.Fprintln(stdout, "arcsrelay status")
	fmt.Fprintf(stdout, "  total connections: %d\n", st.TotalConnections)
	fmt.Fprintf(stdout, "  devices:           %d\n", st.Devices)
	fmt.Fprintf(stdout, "  controllers:       %d\n", st.Controllers)
	fmt.Fprintf(stdout, "  authenticated:     %d\n", st.Authenticated)
	fmt.Fprintf(stdout, "  dropped frames:    %d\n", st.DroppedFrames)

	return 0
}

// loadJWTSecret reads the HMAC signing secret from path. The relay never
// falls back to a literal default secret: an unset or empty file is a
// startup-time configuration error.
func loadJWTSecret(path string) ([]byte, error) {
	if path == "" {
		if env := os.Getenv("ARCS_JWT_SECRET"); env != "" {
			return []byte(env), nil
		}
		return nil, errors.New("no jwt signing secret configured: set jwt_secret_file or ARCS_JWT_SECRET")
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read jwt secret file: %w", err)
	}
	secret := strings.TrimSpace(string(data))
	if secret == "" {
		return nil, fmt.Errorf("jwt secret file %s is empty", path)
	}
	return []byte(secret), nil
}

// portOf extracts the numeric port from a host:port address for mDNS
// advertisement.
func portOf(addr string) (int, error) {
	idx := strings.LastIndex(addr, ":")
	if idx < 0 {
		return 0, fmt.Errorf("address %q has no port", addr)
	}
	var port int
	if _, err := fmt.Sscanf(addr[idx+1:], "%d", &port); err != nil {
		return 0, err
	}
	return port, nil
}

// fingerprintOf returns a short label for what TLS mode a discovered relay
// is running, shown to discovery clients. It is not a certificate hash.
func fingerprintOf(tlsCert string) string {
	if tlsCert == "" {
		return "no-tls"
	}
	return "tls"
}
