package compress

import (
	"encoding/binary"
	"fmt"
	"net/netip"

	"github.com/bridgefall/overlay/packet"
)

// IPv4 header offsets within an Ethernet frame.
const (
	offVerIHL   = 14
	offTotalLen = 16
	offID       = 18
	offTTL      = 22
	offProto    = 23
	offCsum     = 24
	offSrc      = 26
	ipv4End     = 34

	// id, fragment field and ttl
	ipKept = offProto - offID
)

// L3 compresses the Ethernet and IPv4 headers of frames without IP options.
// The template holds the MAC header, version/IHL/TOS, protocol and both
// addresses; identification, fragment field and TTL travel on the wire, and
// total length and checksum are recomputed.
type L3 struct{}

func (L3) Name() string { return "L3" }

func (L3) Eligible(frame []byte) bool {
	return packet.IsIPv4(frame) && packet.IHL(frame) == 5 &&
		int(binary.BigEndian.Uint16(frame[offTotalLen:])) == len(frame)-packet.EthHeaderLen
}

func (L3) AppendTemplate(dst, frame []byte) []byte {
	dst = append(dst, frame[:offTotalLen]...)
	dst = append(dst, frame[offProto])
	return append(dst, frame[offSrc:ipv4End]...)
}

func (L3) Removed() int { return ipv4End - ipKept }

func (L3) Kept() int { return ipKept }

func (L3) Compress(frame []byte) {
	copy(frame[ipv4End-ipKept:ipv4End], frame[offID:offProto])
}

func (L3) Decompress(hdr, kept, tmpl []byte, total int) {
	rebuildIPv4(hdr, kept, tmpl, total)
}

// rebuildIPv4 writes the first 34 bytes of an IPv4 frame from an L3-shaped
// template prefix and the kept id/fragment/ttl bytes.
func rebuildIPv4(hdr, kept, tmpl []byte, total int) {
	copy(hdr[:offTotalLen], tmpl[:offTotalLen])
	binary.BigEndian.PutUint16(hdr[offTotalLen:], uint16(total-packet.EthHeaderLen))
	copy(hdr[offID:offProto], kept[:ipKept])
	hdr[offProto] = tmpl[offTotalLen]
	copy(hdr[offSrc:ipv4End], tmpl[offTotalLen+1:offTotalLen+9])
	hdr[offCsum], hdr[offCsum+1] = 0, 0
	binary.BigEndian.PutUint16(hdr[offCsum:], ipChecksum(hdr[offVerIHL:ipv4End]))
}

func (L3) Describe(tmpl []byte) string {
	return describeAddrs(tmpl, 0, 0)
}

func describeAddrs(tmpl []byte, sport, dport uint16) string {
	a := tmpl[offTotalLen+1:]
	src := netip.AddrFrom4([4]byte(a[0:4]))
	dst := netip.AddrFrom4([4]byte(a[4:8]))
	if sport == 0 && dport == 0 {
		return fmt.Sprintf("%s -> %s proto %d", src, dst, tmpl[offTotalLen])
	}
	return fmt.Sprintf("%s:%d -> %s:%d", src, sport, dst, dport)
}
