// Command arcsrelay runs the ARCS session-brokering relay: it accepts
// device and controller WebSocket connections, brokers session admission,
// and fans out video frames and control commands between them.
package main

import (
	"fmt"
	"io"
	"os"
)

// Version is set at build time via -ldflags.
// Example: go build -ldflags="-X main.Version=v0.1.0" ./cmd/arcsrelay
var Version = "dev"

const usage = `arcsrelay - session-brokering relay for ARCS remote control

Usage:
  arcsrelay <command> [options]

Commands:
  start              Start the relay with LAN-ready defaults
  relay start        Start the relay (advanced, full flags)
  relay status       Show live connection counts for a running relay
  device register    Register a new device and print its pairing secret
  device list        List registered devices
  device revoke <device-id>  Deactivate a device

Run 'arcsrelay <command> --help' for more information on a command.
`

func main() {
	os.Exit(run(os.Args, os.Stdout, os.Stderr))
}

func run(args []string, stdout, stderr io.Writer) int {
	if len(args) < 2 {
		fmt.Fprint(stdout, usage)
		return 0
	}

	switch args[1] {
	case "start":
		return runStart(args[2:], stdout, stderr)
	case "relay":
		if len(args) < 3 {
			fmt.Fprintln(stdout, "Usage: arcsrelay relay <start|status>")
			return 1
		}
		switch args[2] {
		case "start":
			return runRelayStart(args[3:], stdout, stderr)
		case "status":
			return runRelayStatus(args[3:], stdout, stderr)
		default:
			fmt.Fprintf(stdout, "Unknown relay command: %s\n", args[2])
			return 1
		}
	case "device":
		if len(args) < 3 {
			fmt.Fprintln(stdout, "Usage: arcsrelay device <register|list|revoke>")
			return 1
		}
		switch args[2] {
		case "register":
			return runDeviceRegister(args[3:], stdout, stderr)
		case "list":
			return runDeviceList(args[3:], stdout, stderr)
		case "revoke":
			return runDeviceRevoke(args[3:], stdout, stderr)
		default:
			fmt.Fprintf(stdout, "Unknown device command: %s\n", args[2])
			return 1
		}
	case "--help", "-h", "help":
		fmt.Fprint(stdout, usage)
		return 0
	case "--version", "-v", "version":
		fmt.Fprintf(stdout, "arcsrelay %s\n", Version)
		return 0
	default:
		fmt.Fprintf(stdout, "Unknown command: %s\n", args[1])
		fmt.Fprint(stdout, usage)
		return 1
	}
}
