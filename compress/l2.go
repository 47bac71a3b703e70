package compress

import (
	"fmt"
	"net"

	"github.com/bridgefall/overlay/packet"
)

// L2 compresses the Ethernet header.
type L2 struct{}

func (L2) Name() string { return "L2" }

func (L2) Eligible(frame []byte) bool {
	return len(frame) > packet.EthHeaderLen
}

func (L2) AppendTemplate(dst, frame []byte) []byte {
	return append(dst, frame[:packet.EthHeaderLen]...)
}

func (L2) Removed() int { return packet.EthHeaderLen }

func (L2) Kept() int { return 0 }

func (L2) Compress([]byte) {}

func (L2) Decompress(hdr, _, tmpl []byte, _ int) {
	copy(hdr, tmpl)
}

func (L2) Describe(tmpl []byte) string {
	return fmt.Sprintf("%s -> %s type %02x%02x",
		net.HardwareAddr(tmpl[6:12]), net.HardwareAddr(tmpl[0:6]), tmpl[12], tmpl[13])
}
