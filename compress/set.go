package compress

import (
	"io"

	"github.com/bridgefall/overlay/packet"
)

// Kind names the variant chosen for a frame.
type Kind uint8

const (
	KindL2 Kind = iota
	KindL3
	KindDNS
)

func (k Kind) String() string {
	switch k {
	case KindL3:
		return "l3"
	case KindDNS:
		return "dns"
	default:
		return "l2"
	}
}

// Set groups the three engines of one tunnel endpoint.
type Set struct {
	engines [3]*Engine
}

// NewSet returns a set with empty L2, L3 and DNS tables.
func NewSet() *Set {
	return &Set{engines: [3]*Engine{
		KindL2:  NewEngine(L2{}),
		KindL3:  NewEngine(L3{}),
		KindDNS: NewEngine(DNS{}),
	}}
}

// Select picks the most specific variant able to rebuild frame exactly.
// Sender and receiver apply the same rule so their tables stay in step.
func (s *Set) Select(frame []byte) Kind {
	switch {
	case DNS{}.Eligible(frame):
		return KindDNS
	case L3{}.Eligible(frame):
		return KindL3
	default:
		return KindL2
	}
}

// Engine returns the engine for k.
func (s *Set) Engine(k Kind) *Engine {
	return s.engines[k]
}

// Classify selects a variant for frame and records it in the dir table.
func (s *Set) Classify(frame []byte, dir Direction) (Kind, bool, uint8) {
	k := s.Select(frame)
	ok, sid := s.engines[k].Classify(frame, dir)
	return k, ok, sid
}

// Learn records a frame received from the peer so the receiving tables
// follow the sender's.
func (s *Set) Learn(frame []byte, dir Direction) {
	if len(frame) <= packet.EthHeaderLen {
		return
	}
	s.Classify(frame, dir)
}

// Reset clears every table.
func (s *Set) Reset() {
	for _, e := range s.engines {
		e.Reset()
	}
}

// Collisions sums hash collisions across engines.
func (s *Set) Collisions() int64 {
	var n int64
	for _, e := range s.engines {
		n += e.Collisions.Load()
	}
	return n
}

// Dump writes every engine's dir table.
func (s *Set) Dump(w io.Writer, dir Direction) {
	for _, e := range s.engines {
		e.Dump(w, dir)
	}
}
