package packet

import (
	"encoding/binary"

	"golang.org/x/net/dns/dnsmessage"
)

const (
	etherTypeIPv4 = 0x0800
	etherTypeIPv6 = 0x86dd

	protoUDP = 17
	dnsPort  = 53

	ipv6MinFrame = EthHeaderLen + 40
	dnsMinFrame  = EthHeaderLen + ipHeaderLen + udpHeaderLen + 12
)

// EtherType returns the Ethernet type field, or 0 for frames shorter than
// an Ethernet header.
func EtherType(f []byte) uint16 {
	if len(f) < EthHeaderLen {
		return 0
	}
	return binary.BigEndian.Uint16(f[12:14])
}

// IsIPv4 reports whether f is an Ethernet frame carrying a complete
// version 4 IP header.
func IsIPv4(f []byte) bool {
	if len(f) < EthHeaderLen+ipHeaderLen || EtherType(f) != etherTypeIPv4 {
		return false
	}
	return f[EthHeaderLen]>>4 == 4 && len(f) >= EthHeaderLen+IHL(f)*4
}

// IHL returns the IPv4 header length in 32-bit words.
func IHL(f []byte) int {
	if len(f) <= EthHeaderLen {
		return 0
	}
	return int(f[EthHeaderLen] & 0x0f)
}

// IsIPv6 reports whether f is an Ethernet frame carrying IPv6.
func IsIPv6(f []byte) bool {
	return len(f) >= ipv6MinFrame && EtherType(f) == etherTypeIPv6
}

// Protocol returns the IPv4 protocol number.
func Protocol(f []byte) uint8 {
	return f[EthHeaderLen+9]
}

// UDPOffset returns the offset of the UDP header in an IPv4 frame, or -1 if
// f does not hold a complete UDP header.
func UDPOffset(f []byte) int {
	if !IsIPv4(f) || Protocol(f) != protoUDP || IHL(f) < 5 {
		return -1
	}
	off := EthHeaderLen + IHL(f)*4
	if len(f) < off+udpHeaderLen {
		return -1
	}
	return off
}

// IsUDP reports whether f carries a complete IPv4 UDP header.
func IsUDP(f []byte) bool {
	return UDPOffset(f) >= 0
}

// IsDNS reports whether f is an IPv4 UDP datagram to or from port 53 large
// enough to carry a DNS header.
func IsDNS(f []byte) bool {
	off := UDPOffset(f)
	if off < 0 || len(f) < dnsMinFrame || len(f) < off+udpHeaderLen+12 {
		return false
	}
	src := binary.BigEndian.Uint16(f[off:])
	dst := binary.BigEndian.Uint16(f[off+2:])
	return src == dnsPort || dst == dnsPort
}

// IsDNSAAAA reports whether f is a DNS query whose first question asks for
// an AAAA record.
func IsDNSAAAA(f []byte) bool {
	if !IsDNS(f) {
		return false
	}
	var p dnsmessage.Parser
	h, err := p.Start(f[UDPOffset(f)+udpHeaderLen:])
	if err != nil || h.Response {
		return false
	}
	q, err := p.Question()
	if err != nil {
		return false
	}
	return q.Type == dnsmessage.TypeAAAA
}
