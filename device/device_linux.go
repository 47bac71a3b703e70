//go:build linux

package device

import (
	"errors"
	"fmt"
	"net"

	"github.com/songgao/water"
	"github.com/vishvananda/netlink"
)

// Device is an open TAP interface attached to its bridge.
type Device struct {
	*water.Interface
	tap    netlink.Link
	bridge netlink.Link
}

// Open creates the TAP device, creates the bridge if missing, enslaves the
// TAP to it and brings both up.
func Open(cfg Config) (dev *Device, err error) {
	if cfg.Bridge == "" || cfg.Tap == "" {
		return nil, errors.New("device: bridge and tap names required")
	}
	iface, err := water.New(water.Config{
		DeviceType: water.TAP,
		PlatformSpecificParams: water.PlatformSpecificParams{
			Name:    cfg.Tap,
			Persist: false,
		},
	})
	if err != nil {
		return nil, fmt.Errorf("create tap %s: %w", cfg.Tap, err)
	}
	defer func() {
		if err != nil {
			iface.Close()
		}
	}()

	tap, err := netlink.LinkByName(iface.Name())
	if err != nil {
		return nil, fmt.Errorf("tap %s not found: %w", iface.Name(), err)
	}
	bridge, err := ensureBridge(cfg.Bridge)
	if err != nil {
		return nil, err
	}
	if cfg.MTU > 0 {
		for _, l := range []netlink.Link{tap, bridge} {
			if err := netlink.LinkSetMTU(l, cfg.MTU); err != nil {
				return nil, fmt.Errorf("set mtu on %s: %w", l.Attrs().Name, err)
			}
		}
	}
	if err := netlink.LinkSetMasterByIndex(tap, bridge.Attrs().Index); err != nil {
		return nil, fmt.Errorf("attach %s to %s: %w", cfg.Tap, cfg.Bridge, err)
	}
	if cfg.Gateway.IsValid() {
		addr := &netlink.Addr{IPNet: &net.IPNet{
			IP:   cfg.Gateway.Addr().AsSlice(),
			Mask: net.CIDRMask(cfg.Gateway.Bits(), 32),
		}}
		if err := netlink.AddrReplace(bridge, addr); err != nil {
			return nil, fmt.Errorf("assign %s to %s: %w", cfg.Gateway, cfg.Bridge, err)
		}
	}
	for _, l := range []netlink.Link{bridge, tap} {
		if err := netlink.LinkSetUp(l); err != nil {
			return nil, fmt.Errorf("bring %s up: %w", l.Attrs().Name, err)
		}
	}
	return &Device{Interface: iface, tap: tap, bridge: bridge}, nil
}

func ensureBridge(name string) (netlink.Link, error) {
	link, err := netlink.LinkByName(name)
	if err == nil {
		if _, ok := link.(*netlink.Bridge); !ok {
			return nil, fmt.Errorf("%s exists and is not a bridge", name)
		}
		return link, nil
	}
	var notFound netlink.LinkNotFoundError
	if !errors.As(err, &notFound) {
		return nil, fmt.Errorf("lookup bridge %s: %w", name, err)
	}
	attrs := netlink.NewLinkAttrs()
	attrs.Name = name
	if err := netlink.LinkAdd(&netlink.Bridge{LinkAttrs: attrs}); err != nil {
		return nil, fmt.Errorf("create bridge %s: %w", name, err)
	}
	link, err = netlink.LinkByName(name)
	if err != nil {
		return nil, fmt.Errorf("bridge %s not found: %w", name, err)
	}
	return link, nil
}

// Bridge returns the bridge name.
func (d *Device) Bridge() string {
	return d.bridge.Attrs().Name
}

// Links sets link attributes through netlink.
type Links struct{}

func (Links) SetMTU(name string, mtu int) error {
	link, err := netlink.LinkByName(name)
	if err != nil {
		return err
	}
	return netlink.LinkSetMTU(link, mtu)
}
