package main

import (
	"fmt"
	"io"
	"net/url"

	"github.com/skip2/go-qrcode"
)

// displayPairingText prints a device's pairing secret as plain text, for
// terminals that can't render the QR code or operators piping to a file.
func displayPairingText(w io.Writer, deviceID, secret string) {
	fmt.Fprintln(w, "")
	fmt.Fprintln(w, "===========================================")
	fmt.Fprintln(w, "  Device pairing secret")
	fmt.Fprintln(w, "===========================================")
	fmt.Fprintf(w, "  Device ID: %s\n", deviceID)
	fmt.Fprintf(w, "  Secret:    %s\n", secret)
	fmt.Fprintln(w, "")
	fmt.Fprintln(w, "  Enter this secret in the mobile app's device setup screen.")
	fmt.Fprintln(w, "  It is shown only once and cannot be retrieved later.")
	fmt.Fprintln(w, "===========================================")
	fmt.Fprintln(w, "")
}

// displayPairingQR shows a device's pairing secret as a scannable QR code,
// with the plain-text form underneath as a fallback. The payload is a URL
// scheme so a mobile app can parse it without operator transcription.
func displayPairingQR(w io.Writer, deviceID, secret string) {
	payload := fmt.Sprintf("arcs://pair?device_id=%s&secret=%s",
		url.QueryEscape(deviceID),
		url.QueryEscape(secret))

	qr, err := qrcode.New(payload, qrcode.Medium)
	if err != nil {
		fmt.Fprintf(w, "Error generating QR code: %v\n", err)
		fmt.Fprintln(w, "Falling back to text display.")
		displayPairingText(w, deviceID, secret)
		return
	}

	fmt.Fprintln(w, "")
	fmt.Fprintln(w, "===========================================")
	fmt.Fprintln(w, "  SCAN TO PAIR")
	fmt.Fprintln(w, "===========================================")
	fmt.Fprintln(w, "")
	fmt.Fprint(w, qr.ToSmallString(false))
	fmt.Fprintln(w, "-------------------------------------------")
	fmt.Fprintf(w, "  Device ID: %s\n", deviceID)
	fmt.Fprintf(w, "  Secret:    %s\n", secret)
	fmt.Fprintln(w, "-------------------------------------------")
	fmt.Fprintln(w, "")
}
