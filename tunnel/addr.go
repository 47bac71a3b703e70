package tunnel

import (
	"net"
	"net/netip"
)

// addrPort converts a datagram source to a comparable form with IPv4-mapped
// addresses unwrapped.
func addrPort(addr net.Addr) (netip.AddrPort, bool) {
	var ap netip.AddrPort
	switch v := addr.(type) {
	case nil:
		return ap, false
	case *net.UDPAddr:
		ap = v.AddrPort()
	default:
		parsed, err := netip.ParseAddrPort(addr.String())
		if err != nil {
			return ap, false
		}
		ap = parsed
	}
	if !ap.IsValid() {
		return ap, false
	}
	return netip.AddrPortFrom(ap.Addr().Unmap(), ap.Port()), true
}
