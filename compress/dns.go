package compress

import (
	"encoding/binary"

	"github.com/bridgefall/overlay/packet"
)

const (
	offUDPLen  = 38
	offUDPCsum = 40
	udpEnd     = 42

	// ip kept fields plus the UDP checksum
	dnsKept = ipKept + 2
)

// DNS extends L3 over the UDP header of port 53 traffic. Ports join the
// template, the UDP checksum travels on the wire, and the UDP length is
// recomputed.
type DNS struct{}

func (DNS) Name() string { return "DNS" }

func (DNS) Eligible(frame []byte) bool {
	return L3{}.Eligible(frame) && packet.IsDNS(frame) &&
		int(binary.BigEndian.Uint16(frame[offUDPLen:])) == len(frame)-ipv4End
}

func (DNS) AppendTemplate(dst, frame []byte) []byte {
	dst = L3{}.AppendTemplate(dst, frame)
	return append(dst, frame[ipv4End:offUDPLen]...)
}

func (DNS) Removed() int { return udpEnd - dnsKept }

func (DNS) Kept() int { return dnsKept }

func (DNS) Compress(frame []byte) {
	copy(frame[udpEnd-dnsKept:offUDPCsum], frame[offID:offProto])
}

func (DNS) Decompress(hdr, kept, tmpl []byte, total int) {
	rebuildIPv4(hdr, kept, tmpl, total)
	copy(hdr[ipv4End:offUDPLen], tmpl[len(tmpl)-4:])
	binary.BigEndian.PutUint16(hdr[offUDPLen:], uint16(total-ipv4End))
	copy(hdr[offUDPCsum:udpEnd], kept[ipKept:dnsKept])
}

func (DNS) Describe(tmpl []byte) string {
	ports := tmpl[len(tmpl)-4:]
	return describeAddrs(tmpl, binary.BigEndian.Uint16(ports), binary.BigEndian.Uint16(ports[2:]))
}
