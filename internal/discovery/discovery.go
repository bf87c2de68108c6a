// Package discovery provides optional mDNS/DNS-SD advertisement for the
// relay, so controllers and devices on the same LAN can find a relay
// without typing its address. Discovery only reveals presence; device
// credentials and session tokens are still required to attach.
package discovery

import (
	"context"
	"fmt"
	"os"
	"sync"

	"github.com/grandcat/zeroconf"
)

// ServiceType is the DNS-SD service type relays advertise under.
const ServiceType = "_arcs-relay._tcp"

// ProtocolVersion identifies the relay protocol version for compatibility
// checks by discovering clients.
const ProtocolVersion = "1"

// Config holds configuration for relay advertisement.
type Config struct {
	// Port is the relay's WebSocket listen port.
	Port int

	// Fingerprint is advertised as the "fp" TXT record when non-empty.
	// arcsrelay sets it to a TLS-mode label ("tls" or "no-tls"), not a
	// certificate hash.
	Fingerprint string

	// Name is a human-readable name for this relay. Defaults to the
	// system hostname if empty.
	Name string
}

// Advertiser manages mDNS/DNS-SD service registration for one relay.
type Advertiser struct {
	config Config
	server *zeroconf.Server
	mu     sync.Mutex
}

// NewAdvertiser creates an Advertiser with the given configuration.
func NewAdvertiser(cfg Config) *Advertiser {
	return &Advertiser{config: cfg}
}

// Start begins advertising the relay via mDNS. Safe to call multiple
// times; subsequent calls while already running are no-ops.
func (a *Advertiser) Start() error {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.server != nil {
		return nil
	}

	name := a.config.Name
	if name == "" {
		hostname, err := os.Hostname()
		if err != nil {
			name = "arcs-relay"
		} else {
			name = hostname
		}
	}

	txtRecords := []string{
		fmt.Sprintf("version=%s", ProtocolVersion),
		fmt.Sprintf("name=%s", name),
	}
	if a.config.Fingerprint != "" {
		txtRecords = append(txtRecords, fmt.Sprintf("fp=%s", a.config.Fingerprint))
	}

	server, err := zeroconf.Register(
		name,
		ServiceType,
		"local.",
		a.config.Port,
		txtRecords,
		nil, // all interfaces
	)
	if err != nil {
		return fmt.Errorf("discovery register: %w", err)
	}

	a.server = server
	return nil
}

// Stop stops advertising and unregisters the service. Safe to call on an
// Advertiser that was never started, or more than once.
func (a *Advertiser) Stop() {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.server != nil {
		a.server.Shutdown()
		a.server = nil
	}
}

// IsRunning reports whether the advertiser is currently running.
func (a *Advertiser) IsRunning() bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.server != nil
}

// DiscoveredRelay is a relay found on the LAN via Discover.
type DiscoveredRelay struct {
	Name        string
	Host        string
	Port        int
	Fingerprint string
	Version     string
}

// Discover browses the LAN for relays advertising ServiceType until ctx is
// done. Primarily useful for tooling and tests; controller/device apps
// normally use their platform's native discovery API instead.
func Discover(ctx context.Context) ([]DiscoveredRelay, error) {
	resolver, err := zeroconf.NewResolver(nil)
	if err != nil {
		return nil, fmt.Errorf("discovery resolver: %w", err)
	}

	var (
		relays []DiscoveredRelay
		mu     sync.Mutex
		wg     sync.WaitGroup
	)

	entries := make(chan *zeroconf.ServiceEntry)

	wg.Add(1)
	go func() {
		defer wg.Done()
		for entry := range entries {
			relay := DiscoveredRelay{
				Name: entry.Instance,
				Port: entry.Port,
			}
			if len(entry.AddrIPv4) > 0 {
				relay.Host = entry.AddrIPv4[0].String()
			} else if len(entry.AddrIPv6) > 0 {
				relay.Host = entry.AddrIPv6[0].String()
			}
			for _, txt := range entry.Text {
				switch {
				case len(txt) > 3 && txt[:3] == "fp=":
					relay.Fingerprint = txt[3:]
				case len(txt) > 8 && txt[:8] == "version=":
					relay.Version = txt[8:]
				case len(txt) > 5 && txt[:5] == "name=":
					relay.Name = txt[5:]
				}
			}
			mu.Lock()
			relays = append(relays, relay)
			mu.Unlock()
		}
	}()

	if err := resolver.Browse(ctx, ServiceType, "local.", entries); err != nil {
		return nil, fmt.Errorf("discovery browse: %w", err)
	}

	<-ctx.Done()
	wg.Wait()

	return relays, nil
}
