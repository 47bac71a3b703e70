package replay

const (
	// WindowSize bounds the circular distance between an incoming sequence
	// number and the newest accepted one. It is also the number of
	// timestamp slots, which caps sustained throughput at WindowSize
	// datagrams per second.
	WindowSize = 1 << 13
	slotMask   = WindowSize - 1

	// MaxSkew is the largest accepted difference, in seconds, between a
	// datagram timestamp and the local clock.
	MaxSkew = 10
)

// Verdict is the outcome of Admit.
type Verdict uint8

const (
	Accept Verdict = iota
	RejectTimestamp
	RejectWindow
	RejectReplay
	RejectDigest
)

func (v Verdict) String() string {
	switch v {
	case Accept:
		return "accept"
	case RejectTimestamp:
		return "timestamp"
	case RejectWindow:
		return "seq"
	case RejectReplay:
		return "replay"
	case RejectDigest:
		return "digest"
	default:
		return "unknown"
	}
}

// Guard rejects stale, out-of-window and replayed datagrams by tracking the
// newest remote sequence number and, per sequence slot, the newest accepted
// timestamp. The zero value is ready for use. Not safe for concurrent use.
type Guard struct {
	remote uint16
	cache  [WindowSize]uint32
	primed bool
}

// Admit runs the checks in order: clock skew, sequence window, slot
// timestamp, then verify. State is only updated once verify has passed.
func (g *Guard) Admit(seq uint16, ts, now uint32, verify func() bool) Verdict {
	if !g.primed {
		for i := range g.cache {
			g.cache[i] = now - 1
		}
		g.primed = true
	}
	if diff32(now, ts) > MaxSkew {
		return RejectTimestamp
	}
	if Distance(g.remote, seq) > WindowSize {
		return RejectWindow
	}
	slot := seq & slotMask
	if ts <= g.cache[slot] {
		return RejectReplay
	}
	if verify != nil && !verify() {
		return RejectDigest
	}
	g.cache[slot] = ts
	if int16(seq-g.remote) > 0 {
		g.remote = seq
	}
	return Accept
}

// Remote returns the newest accepted sequence number.
func (g *Guard) Remote() uint16 {
	return g.remote
}

// ResetSequence forgets the remote sequence number. Slot timestamps are
// kept so datagrams from before the reset still count as replays.
func (g *Guard) ResetSequence() {
	g.remote = 0
}

// Distance is the shorter way around the 16-bit sequence circle.
func Distance(a, b uint16) uint16 {
	d := a - b
	if r := b - a; r < d {
		return r
	}
	return d
}

func diff32(a, b uint32) uint32 {
	if a > b {
		return a - b
	}
	return b - a
}
