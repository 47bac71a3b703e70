package packet

import (
	"encoding/binary"
	"errors"
	"fmt"
	"math/bits"

	"github.com/bridgefall/overlay/commons/config"
)

const (
	OverlayLen = 28

	EthHeaderLen = 14
	ipHeaderLen  = 20
	udpHeaderLen = 8

	MinMTU     = 576
	MaxMTU     = 1500
	DefaultMTU = MaxMTU - EthHeaderLen - ipHeaderLen - udpHeaderLen - HeaderLen - DigestLen
)

// Overlay carries the private network parameters the server pushes to clients.
type Overlay struct {
	NetAddr   config.IPv4
	NetMask   config.IPv4
	DefaultGW config.IPv4
	MTU       uint32
	DNS1      config.IPv4
	DNS2      config.IPv4
	DNS3      config.IPv4
}

var errOverlayLen = errors.New("overlay: invalid length")

// DefaultOverlay returns 10.10.20.0/24 with gateway 10.10.20.1 and the
// default MTU. DNS servers are left unset.
func DefaultOverlay() Overlay {
	return Overlay{
		NetAddr:   0x0a0a1400,
		NetMask:   0xffffff00,
		DefaultGW: 0x0a0a1401,
		MTU:       DefaultMTU,
	}
}

func (o Overlay) words() [7]uint32 {
	return [7]uint32{
		uint32(o.NetAddr), uint32(o.NetMask), uint32(o.DefaultGW), o.MTU,
		uint32(o.DNS1), uint32(o.DNS2), uint32(o.DNS3),
	}
}

// Put writes the 28-byte network-order encoding into b.
func (o Overlay) Put(b []byte) {
	_ = b[OverlayLen-1]
	for i, w := range o.words() {
		binary.BigEndian.PutUint32(b[i*4:], w)
	}
}

func (o Overlay) MarshalBinary() ([]byte, error) {
	b := make([]byte, OverlayLen)
	o.Put(b)
	return b, nil
}

func (o *Overlay) UnmarshalBinary(b []byte) error {
	if len(b) != OverlayLen {
		return errOverlayLen
	}
	w := func(i int) uint32 { return binary.BigEndian.Uint32(b[i*4:]) }
	*o = Overlay{
		NetAddr:   config.IPv4(w(0)),
		NetMask:   config.IPv4(w(1)),
		DefaultGW: config.IPv4(w(2)),
		MTU:       w(3),
		DNS1:      config.IPv4(w(4)),
		DNS2:      config.IPv4(w(5)),
		DNS3:      config.IPv4(w(6)),
	}
	return nil
}

// PrefixLen returns the number of leading one bits in the netmask.
func (o Overlay) PrefixLen() int {
	return bits.LeadingZeros32(^uint32(o.NetMask))
}

// Validate checks the MTU range, the netmask shape and that the gateway
// lives inside the overlay network.
func (o Overlay) Validate() error {
	if o.MTU < MinMTU || o.MTU > MaxMTU {
		return fmt.Errorf("overlay: mtu %d outside %d..%d", o.MTU, MinMTU, MaxMTU)
	}
	mask := uint32(o.NetMask)
	if mask == 0 || bits.OnesCount32(mask) != o.PrefixLen() {
		return fmt.Errorf("overlay: invalid netmask %s", o.NetMask)
	}
	if uint32(o.NetAddr)&mask != uint32(o.DefaultGW)&mask {
		return fmt.Errorf("overlay: gateway %s outside %s/%d", o.DefaultGW, o.NetAddr, o.PrefixLen())
	}
	if o.DefaultGW == o.NetAddr&o.NetMask {
		return fmt.Errorf("overlay: gateway %s is the network address", o.DefaultGW)
	}
	return nil
}

// Network returns the masked network address.
func (o Overlay) Network() config.IPv4 {
	return o.NetAddr & o.NetMask
}

// DNS returns the non-zero DNS servers in order.
func (o Overlay) DNS() []config.IPv4 {
	out := make([]config.IPv4, 0, 3)
	for _, d := range []config.IPv4{o.DNS1, o.DNS2, o.DNS3} {
		if d != 0 {
			out = append(out, d)
		}
	}
	return out
}

// SetDNS assigns up to three servers; missing entries are cleared.
func (o *Overlay) SetDNS(servers []config.IPv4) {
	var d [3]config.IPv4
	copy(d[:], servers)
	o.DNS1, o.DNS2, o.DNS3 = d[0], d[1], d[2]
}

func (o Overlay) String() string {
	return fmt.Sprintf("%s/%d gw %s mtu %d dns %s, %s, %s",
		o.Network(), o.PrefixLen(), o.DefaultGW, o.MTU, o.DNS1, o.DNS2, o.DNS3)
}
