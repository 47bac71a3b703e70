// Package framegen synthesises Ethernet frames for tests.
package framegen

import (
	"net"

	"github.com/google/gopacket"
	"github.com/google/gopacket/layers"
)

// Flow describes the addressing of generated frames.
type Flow struct {
	SrcMAC  net.HardwareAddr
	DstMAC  net.HardwareAddr
	SrcIP   net.IP
	DstIP   net.IP
	SrcPort uint16
	DstPort uint16
	TTL     uint8
	ID      uint16
}

// DefaultFlow returns a client-to-gateway flow inside 10.10.20.0/24.
func DefaultFlow() Flow {
	return Flow{
		SrcMAC:  net.HardwareAddr{0x02, 0x00, 0x00, 0x00, 0x00, 0x02},
		DstMAC:  net.HardwareAddr{0x02, 0x00, 0x00, 0x00, 0x00, 0x01},
		SrcIP:   net.IPv4(10, 10, 20, 2).To4(),
		DstIP:   net.IPv4(10, 10, 20, 1).To4(),
		SrcPort: 40000,
		DstPort: 9000,
		TTL:     64,
		ID:      1,
	}
}

var serializeOpts = gopacket.SerializeOptions{FixLengths: true, ComputeChecksums: true}

func serialize(ls ...gopacket.SerializableLayer) []byte {
	buf := gopacket.NewSerializeBuffer()
	if err := gopacket.SerializeLayers(buf, serializeOpts, ls...); err != nil {
		panic(err)
	}
	out := make([]byte, len(buf.Bytes()))
	copy(out, buf.Bytes())
	return out
}

func (f Flow) eth(t layers.EthernetType) *layers.Ethernet {
	return &layers.Ethernet{SrcMAC: f.SrcMAC, DstMAC: f.DstMAC, EthernetType: t}
}

func (f Flow) ip4(proto layers.IPProtocol) *layers.IPv4 {
	return &layers.IPv4{
		Version:  4,
		IHL:      5,
		Id:       f.ID,
		TTL:      f.TTL,
		Protocol: proto,
		SrcIP:    f.SrcIP,
		DstIP:    f.DstIP,
	}
}

// UDP builds an Ethernet/IPv4/UDP frame. Payloads under 18 bytes are padded
// to the Ethernet minimum by the serializer.
func UDP(f Flow, payload []byte) []byte {
	ip := f.ip4(layers.IPProtocolUDP)
	udp := &layers.UDP{SrcPort: layers.UDPPort(f.SrcPort), DstPort: layers.UDPPort(f.DstPort)}
	if err := udp.SetNetworkLayerForChecksum(ip); err != nil {
		panic(err)
	}
	return serialize(f.eth(layers.EthernetTypeIPv4), ip, udp, gopacket.Payload(payload))
}

// TCP builds an Ethernet/IPv4/TCP frame with the ACK flag set.
func TCP(f Flow, seq uint32, payload []byte) []byte {
	ip := f.ip4(layers.IPProtocolTCP)
	tcp := &layers.TCP{
		SrcPort: layers.TCPPort(f.SrcPort),
		DstPort: layers.TCPPort(f.DstPort),
		Seq:     seq,
		ACK:     true,
		Window:  65535,
	}
	if err := tcp.SetNetworkLayerForChecksum(ip); err != nil {
		panic(err)
	}
	return serialize(f.eth(layers.EthernetTypeIPv4), ip, tcp, gopacket.Payload(payload))
}

// DNSQuery builds a DNS query frame towards port 53.
func DNSQuery(f Flow, id uint16, name string, qtype layers.DNSType) []byte {
	f.DstPort = 53
	ip := f.ip4(layers.IPProtocolUDP)
	udp := &layers.UDP{SrcPort: layers.UDPPort(f.SrcPort), DstPort: 53}
	if err := udp.SetNetworkLayerForChecksum(ip); err != nil {
		panic(err)
	}
	dns := &layers.DNS{
		ID:      id,
		RD:      true,
		QDCount: 1,
		Questions: []layers.DNSQuestion{
			{Name: []byte(name), Type: qtype, Class: layers.DNSClassIN},
		},
	}
	return serialize(f.eth(layers.EthernetTypeIPv4), ip, udp, dns)
}

// DNSAnswer builds a DNS response frame from port 53 carrying one A record.
func DNSAnswer(f Flow, id uint16, name string, addr net.IP) []byte {
	ip := f.ip4(layers.IPProtocolUDP)
	udp := &layers.UDP{SrcPort: 53, DstPort: layers.UDPPort(f.DstPort)}
	if err := udp.SetNetworkLayerForChecksum(ip); err != nil {
		panic(err)
	}
	dns := &layers.DNS{
		ID:      id,
		QR:      true,
		RD:      true,
		RA:      true,
		QDCount: 1,
		ANCount: 1,
		Questions: []layers.DNSQuestion{
			{Name: []byte(name), Type: layers.DNSTypeA, Class: layers.DNSClassIN},
		},
		Answers: []layers.DNSResourceRecord{
			{Name: []byte(name), Type: layers.DNSTypeA, Class: layers.DNSClassIN, TTL: 60, IP: addr.To4()},
		},
	}
	return serialize(f.eth(layers.EthernetTypeIPv4), ip, udp, dns)
}

// IPv6UDP builds an Ethernet/IPv6/UDP frame.
func IPv6UDP(f Flow, payload []byte) []byte {
	ip := &layers.IPv6{
		Version:    6,
		HopLimit:   64,
		NextHeader: layers.IPProtocolUDP,
		SrcIP:      net.ParseIP("fd00::2"),
		DstIP:      net.ParseIP("fd00::1"),
	}
	udp := &layers.UDP{SrcPort: layers.UDPPort(f.SrcPort), DstPort: layers.UDPPort(f.DstPort)}
	if err := udp.SetNetworkLayerForChecksum(ip); err != nil {
		panic(err)
	}
	return serialize(f.eth(layers.EthernetTypeIPv6), ip, udp, gopacket.Payload(payload))
}

// ARPRequest builds a broadcast ARP who-has frame.
func ARPRequest(f Flow) []byte {
	bcast := net.HardwareAddr{0xff, 0xff, 0xff, 0xff, 0xff, 0xff}
	eth := &layers.Ethernet{SrcMAC: f.SrcMAC, DstMAC: bcast, EthernetType: layers.EthernetTypeARP}
	arp := &layers.ARP{
		AddrType:          layers.LinkTypeEthernet,
		Protocol:          layers.EthernetTypeIPv4,
		HwAddressSize:     6,
		ProtAddressSize:   4,
		Operation:         layers.ARPRequest,
		SourceHwAddress:   f.SrcMAC,
		SourceProtAddress: f.SrcIP.To4(),
		DstHwAddress:      make([]byte, 6),
		DstProtAddress:    f.DstIP.To4(),
	}
	return serialize(eth, arp)
}

// Decode parses a frame with gopacket for assertions.
func Decode(frame []byte) gopacket.Packet {
	return gopacket.NewPacket(frame, layers.LayerTypeEthernet, gopacket.Default)
}
