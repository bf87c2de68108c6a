package main

import (
	"crypto/rand"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"text/tabwriter"
	"time"

	"github.com/arcs-project/relay/internal/config"
	"github.com/arcs-project/relay/internal/devices"
	"github.com/arcs-project/relay/internal/storage"
)

// deviceStorePath resolves the device store path from an explicit flag or
// the config file's default, mirroring the precedence runRelayStart uses.
func deviceStorePath(explicit string) (string, error) {
	if explicit != "" {
		return explicit, nil
	}
	cfg, err := config.Load("")
	if err != nil {
		return "", err
	}
	cfg.ApplyDefaults()
	return cfg.DeviceStorePath, nil
}

// generatePairingSecret returns a hex-encoded 256-bit random secret for a
// newly registered device to authenticate with.
func generatePairingSecret() (string, error) {
	b := make([]byte, 32)
	if _, err := rand.Read(b); err != nil {
		return "", fmt.Errorf("generate secret: %w", err)
	}
	return fmt.Sprintf("%x", b), nil
}

func runDeviceRegister(args []string, stdout, stderr io.Writer) int {
	fs := flag.NewFlagSet("device register", flag.ContinueOnError)
	fs.SetOutput(stderr)

	deviceID := fs.String("device-id", "", "Unique identifier for the device (required)")
	model := fs.String("model", "", "Human-readable device model/name")
	storePath := fs.String("device-store-path", "", "Path to device registry SQLite database")
	qr := fs.Bool("qr", true, "Display the pairing secret as a QR code")

	fs.Usage = func() {
		fmt.Fprintf(stderr, "Usage: arcsrelay device register --device-id <id> [options]\n\nRegister a new device and print its pairing secret.\n\nOptions:\n")
		fs.PrintDefaults()
	}

	if err := fs.Parse(args); err != nil {
		if errors.Is(err, flag.ErrHelp) {
			return 0
		}
		return 1
	}

	if *deviceID == "" {
		fmt.Fprintln(stderr, "Error: --device-id is required")
		fs.Usage()
		return 1
	}

	path, err := deviceStorePath(*storePath)
	if err != nil {
		fmt.Fprintf(stderr, "Error: %v\n", err)
		return 1
	}

	store, err := storage.NewSQLiteStore(path)
	if err != nil {
		fmt.Fprintf(stderr, "Error: failed to open device store: %v\n", err)
		return 1
	}
	defer store.Close()

	reg, err := devices.New(store)
	if err != nil {
		fmt.Fprintf(stderr, "Error: failed to load device registry: %v\n", err)
		return 1
	}

	secret, err := generatePairingSecret()
	if err != nil {
		fmt.Fprintf(stderr, "Error: %v\n", err)
		return 1
	}

	if !reg.Register(*deviceID, secret, *model) {
		fmt.Fprintf(stderr, "Error: device %q is already registered\n", *deviceID)
		return 1
	}

	fmt.Fprintf(stdout, "Registered device %q\n", *deviceID)

	if *qr {
		displayPairingQR(stdout, *deviceID, secret)
	} else {
		displayPairingText(stdout, *deviceID, secret)
	}

	return 0
}

func runDeviceList(args []string, stdout, stderr io.Writer) int {
	fs := flag.NewFlagSet("device list", flag.ContinueOnError)
	fs.SetOutput(stderr)

	storePath := fs.String("device-store-path", "", "Path to device registry SQLite database")

	fs.Usage = func() {
		fmt.Fprintf(stderr, "Usage: arcsrelay device list [options]\n\nList all registered devices.\n\nOptions:\n")
		fs.PrintDefaults()
	}

	if err := fs.Parse(args); err != nil {
		if errors.Is(err, flag.ErrHelp) {
			return 0
		}
		return 1
	}

	path, err := deviceStorePath(*storePath)
	if err != nil {
		fmt.Fprintf(stderr, "Error: %v\n", err)
		return 1
	}

	if _, err := os.Stat(path); os.IsNotExist(err) {
		fmt.Fprintln(stdout, "No registered devices found.")
		return 0
	}

	store, err := storage.NewSQLiteStore(path)
	if err != nil {
		fmt.Fprintf(stderr, "Error: failed to open device store: %v\n", err)
		return 1
	}
	defer store.Close()

	entries, err := store.Load()
	if err != nil {
		fmt.Fprintf(stderr, "Error: failed to list devices: %v\n", err)
		return 1
	}

	if len(entries) == 0 {
		fmt.Fprintln(stdout, "No registered devices found.")
		return 0
	}

	w := tabwriter.NewWriter(stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "DEVICE ID\tMODEL\tREGISTERED\tACTIVE")
	fmt.Fprintln(w, "---------\t-----\t----------\t------")
	for _, e := range entries {
		fmt.Fprintf(w, "%s\t%s\t%s\t%v\n", e.DeviceID, e.Model, formatAgo(e.RegisteredAt), e.IsActive)
	}
	w.Flush()

	return 0
}

func runDeviceRevoke(args []string, stdout, stderr io.Writer) int {
	fs := flag.NewFlagSet("device revoke", flag.ContinueOnError)
	fs.SetOutput(stderr)

	storePath := fs.String("device-store-path", "", "Path to device registry SQLite database")

	fs.Usage = func() {
		fmt.Fprintf(stderr, "Usage: arcsrelay device revoke [options] <device-id>\n\nDeactivate a device so it can no longer authenticate. Its device id stays on record and cannot be registered again.\n\nOptions:\n")
		fs.PrintDefaults()
	}

	if err := fs.Parse(args); err != nil {
		if errors.Is(err, flag.ErrHelp) {
			return 0
		}
		return 1
	}

	if fs.NArg() < 1 {
		fmt.Fprintln(stderr, "Error: device-id is required")
		fs.Usage()
		return 1
	}
	deviceID := fs.Arg(0)

	path, err := deviceStorePath(*storePath)
	if err != nil {
		fmt.Fprintf(stderr, "Error: %v\n", err)
		return 1
	}

	store, err := storage.NewSQLiteStore(path)
	if err != nil {
		fmt.Fprintf(stderr, "Error: failed to open device store: %v\n", err)
		return 1
	}
	defer store.Close()

	reg, err := devices.New(store)
	if err != nil {
		fmt.Fprintf(stderr, "Error: failed to load device registry: %v\n", err)
		return 1
	}

	if !reg.Deactivate(deviceID) {
		fmt.Fprintf(stderr, "Error: device %q not found\n", deviceID)
		return 1
	}

	fmt.Fprintf(stdout, "Revoked device %q. A relay that is already running keeps the registry it loaded at startup; existing sessions are not closed.\n", deviceID)
	return 0
}

// formatAgo renders t as a short relative duration, matching the
// "5m ago"/"3d ago" shape operators expect from table output.
func formatAgo(t time.Time) string {
	d := time.Since(t)
	switch {
	case d < time.Minute:
		return "just now"
	case d < time.Hour:
		return fmt.Sprintf("%dm ago", int(d.Minutes()))
	case d < 24*time.Hour:
		return fmt.Sprintf("%dh ago", int(d.Hours()))
	default:
		return fmt.Sprintf("%dd ago", int(d.Hours()/24))
	}
}
