package config

import (
	"encoding/binary"
	"encoding/json"
	"fmt"
	"net/netip"
)

// IPv4 is a dotted-quad address held as a host-order uint32.
type IPv4 uint32

// ParseIPv4 parses a dotted-quad string.
func ParseIPv4(s string) (IPv4, error) {
	addr, err := netip.ParseAddr(s)
	if err != nil {
		return 0, fmt.Errorf("invalid ipv4 address %q: %w", s, err)
	}
	if !addr.Is4() {
		return 0, fmt.Errorf("invalid ipv4 address %q: not ipv4", s)
	}
	b := addr.As4()
	return IPv4(binary.BigEndian.Uint32(b[:])), nil
}

// Addr converts to netip.Addr.
func (ip IPv4) Addr() netip.Addr {
	var b [4]byte
	binary.BigEndian.PutUint32(b[:], uint32(ip))
	return netip.AddrFrom4(b)
}

func (ip IPv4) String() string {
	return ip.Addr().String()
}

func (ip *IPv4) UnmarshalJSON(data []byte) error {
	if string(data) == "null" {
		return nil
	}
	var raw string
	if err := json.Unmarshal(data, &raw); err != nil {
		return fmt.Errorf("address must be a string: %w", err)
	}
	if raw == "" {
		*ip = 0
		return nil
	}
	parsed, err := ParseIPv4(raw)
	if err != nil {
		return err
	}
	*ip = parsed
	return nil
}

func (ip IPv4) MarshalJSON() ([]byte, error) {
	return json.Marshal(ip.String())
}
