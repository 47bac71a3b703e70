package tunnel

import (
	"fmt"
	"strings"

	"github.com/bridgefall/overlay/commons/metrics"
)

// DropReason captures why a datagram or frame was discarded.
type DropReason string

const (
	DropShort     DropReason = "short"
	DropOpcode    DropReason = "opcode"
	DropAddr      DropReason = "addr"
	DropRateLimit DropReason = "rate_limit"
	DropTimestamp DropReason = "tstamp"
	DropSeq       DropReason = "seq"
	DropReplay    DropReason = "replay"
	DropDigest    DropReason = "blake2"
	DropState     DropReason = "state"
	DropDesync    DropReason = "desync"
	DropIPv6      DropReason = "ipv6"
	DropAAAA      DropReason = "aaaa"
)

// udpDropOrder fixes the order of per-reason counts in Summary.
var udpDropOrder = []DropReason{
	DropTimestamp, DropSeq, DropReplay, DropAddr, DropDigest,
	DropRateLimit, DropOpcode, DropShort, DropState, DropDesync,
}

// Stats tracks tunnel counters.
type Stats struct {
	TxPackets    metrics.Counter
	TxCompressed metrics.Counter
	TxErrors     metrics.Counter
	RxPackets    metrics.Counter
	RxFrames     metrics.Counter
	EthDNS       metrics.Counter
	Connected    metrics.Gauge

	RxDropShort     metrics.Counter
	RxDropOpcode    metrics.Counter
	RxDropAddr      metrics.Counter
	RxDropRateLimit metrics.Counter
	RxDropTimestamp metrics.Counter
	RxDropSeq       metrics.Counter
	RxDropReplay    metrics.Counter
	RxDropDigest    metrics.Counter
	RxDropState     metrics.Counter
	RxDropDesync    metrics.Counter

	EthDropShort metrics.Counter
	EthDropState metrics.Counter
	EthDropIPv6  metrics.Counter
	EthDropAAAA  metrics.Counter
}

// RxDrop returns the counter for a datagram drop reason.
func (s *Stats) RxDrop(reason DropReason) *metrics.Counter {
	switch reason {
	case DropShort:
		return &s.RxDropShort
	case DropOpcode:
		return &s.RxDropOpcode
	case DropAddr:
		return &s.RxDropAddr
	case DropRateLimit:
		return &s.RxDropRateLimit
	case DropTimestamp:
		return &s.RxDropTimestamp
	case DropSeq:
		return &s.RxDropSeq
	case DropReplay:
		return &s.RxDropReplay
	case DropDigest:
		return &s.RxDropDigest
	case DropState:
		return &s.RxDropState
	case DropDesync:
		return &s.RxDropDesync
	}
	return nil
}

// EthDrop returns the counter for a device frame drop reason.
func (s *Stats) EthDrop(reason DropReason) *metrics.Counter {
	switch reason {
	case DropShort:
		return &s.EthDropShort
	case DropState:
		return &s.EthDropState
	case DropIPv6:
		return &s.EthDropIPv6
	case DropAAAA:
		return &s.EthDropAAAA
	}
	return nil
}

// RxDropped sums datagram drops.
func (s *Stats) RxDropped() int64 {
	var n int64
	for _, r := range udpDropOrder {
		n += s.RxDrop(r).Load()
	}
	return n
}

// Summary renders the periodic statistics line.
func (s *Stats) Summary(role Role) string {
	var b strings.Builder
	fmt.Fprintf(&b, "%s: tx %d compressed %d%%; rx %d, DNS %d, drop %d",
		role,
		s.TxPackets.Load(),
		metrics.Percent(s.TxCompressed.Load(), s.TxPackets.Load()),
		s.RxPackets.Load(),
		s.EthDNS.Load(),
		s.RxDropped())
	sep := ": "
	for _, r := range udpDropOrder {
		if v := s.RxDrop(r).Load(); v > 0 {
			fmt.Fprintf(&b, "%s%s %d", sep, r, v)
			sep = ", "
		}
	}
	return b.String()
}
