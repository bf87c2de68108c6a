package main

import (
	"errors"
	"flag"
	"fmt"
	"io"

	"github.com/arcs-project/relay/internal/config"
)

// runStart implements "arcsrelay start": a convenience wrapper for
// mobile-first workflows. It differs from "relay start" only in its
// defaults:
//   - creates ~/.arcs/config.toml with default settings if missing
//   - binds 0.0.0.0:8080 so phones on the same network can reach it
//   - enables mDNS advertisement so a controller can discover it by name
func runStart(args []string, stdout, stderr io.Writer) int {
	fs := flag.NewFlagSet("start", flag.ContinueOnError)
	fs.SetOutput(stderr)

	jwtSecretFile := fs.String("jwt-secret-file", "", "Path to a file holding the JWT HMAC signing secret")

	fs.Usage = func() {
		fmt.Fprintf(stderr, `Usage: arcsrelay start [options]

Start the relay with LAN-ready defaults for mobile pairing.

This command:
  1. Creates ~/.arcs/config.toml with default settings if missing
  2. Binds 0.0.0.0:8080 so devices/controllers on the LAN can connect
  3. Enables mDNS advertisement

Use 'arcsrelay relay start' for full control over configuration.

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

	configPath, err := config.DefaultConfigPath()
	if err != nil {
		fmt.Fprintf(stderr, "Error: failed to determine config path: %v\n", err)
		return 1
	}

	if err := config.WriteDefault(configPath); err != nil {
		fmt.Fprintf(stderr, "Error: failed to create config file: %v\n", err)
		return 1
	}

	cfg, err := config.Load(configPath)
	if err != nil {
		fmt.Fprintf(stderr, "Error: %v\n", err)
		return 1
	}

	// LAN-ready overrides: bind every interface and advertise on mDNS,
	// regardless of what the config file says. A quiet "start" that only
	// listens on localhost would defeat the point of the command.
	cfg.Addr = "0.0.0.0:8080"
	cfg.MDNSEnabled = true
	if *jwtSecretFile != "" {
		cfg.JWTSecretFile = *jwtSecretFile
	}
	cfg.ApplyDefaults()

	fmt.Fprintln(stdout, "")
	fmt.Fprintln(stdout, "===========================================")
	fmt.Fprintln(stdout, "  ARCS Relay - LAN Ready")
	fmt.Fprintln(stdout, "===========================================")
	fmt.Fprintf(stdout, "  Address:   %s (all interfaces)\n", cfg.Addr)
	fmt.Fprintln(stdout, "  Discovery: mDNS enabled")
	fmt.Fprintln(stdout, "  Pairing:   Run 'arcsrelay device register' to add a device")
	fmt.Fprintln(stdout, "===========================================")
	fmt.Fprintln(stdout, "")

	return startRelay(cfg, stdout, stderr)
}
