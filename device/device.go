// Package device provisions the virtual Ethernet interface the tunnel
// bridges: a TAP device enslaved to a bridge.
package device

import (
	"errors"
	"net/netip"
)

var ErrUnsupported = errors.New("device: unsupported platform")

// Config describes the interfaces to create.
type Config struct {
	Bridge string
	Tap    string
	MTU    int
	// Gateway, when valid, is assigned to the bridge so the host routes
	// the overlay network. Servers set it; clients leave it empty.
	Gateway netip.Prefix
}
