package compress

import (
	"bytes"
	"encoding/binary"
	"strings"
	"testing"

	"github.com/google/gopacket/layers"
	"github.com/stretchr/testify/require"

	"github.com/bridgefall/overlay/internal/framegen"
)

// link simulates one direction of a tunnel: the sender classifies and
// compresses, the receiver rebuilds and learns.
type link struct {
	tx, rx *Set
	dir    Direction
}

func newLink() *link {
	return &link{tx: NewSet(), rx: NewSet(), dir: C2S}
}

// send returns the wire bytes, whether they were compressed, and the frame
// the receiver reconstructed.
func (l *link) send(t *testing.T, frame []byte) ([]byte, bool, []byte) {
	t.Helper()
	out := append([]byte(nil), frame...)
	kind, ok, sid := l.tx.Classify(out, l.dir)
	wire := out
	if ok {
		n := l.tx.Engine(kind).Compress(out)
		wire = out[n:]
	}

	buf := make([]byte, Headroom+len(wire))
	copy(buf[Headroom:], wire)
	start := Headroom
	if ok {
		var err error
		start, err = l.rx.Engine(kind).Decompress(buf, Headroom, sid, l.dir)
		require.NoError(t, err)
	}
	rebuilt := buf[start:]
	l.rx.Learn(rebuilt, l.dir)
	return append([]byte(nil), wire...), ok, rebuilt
}

func TestDutyCycle(t *testing.T) {
	var got []bool
	for cnt := 1; cnt <= 100; cnt++ {
		got = append(got, compressible(cnt))
	}
	for cnt := 1; cnt <= 3; cnt++ {
		require.False(t, got[cnt-1], "count %d", cnt)
	}
	for _, cnt := range []int{4, 5, 6, 7, 9, 21, 51, 99} {
		require.True(t, got[cnt-1], "count %d", cnt)
	}
	for _, cnt := range []int{8, 16, 40, 100, 150} {
		require.False(t, got[cnt-1], "count %d", cnt)
	}

	e := NewEngine(L2{})
	frame := framegen.ARPRequest(framegen.DefaultFlow())
	full := 0
	for i := 0; i < 200; i++ {
		ok, _ := e.Classify(frame, S2C)
		if i >= 50 && !ok {
			full++
		}
	}
	require.GreaterOrEqual(t, full, 3, "mature flow must still resend full headers")
}

func TestL2RoundTrip(t *testing.T) {
	l := newLink()
	frame := framegen.ARPRequest(framegen.DefaultFlow())
	require.Equal(t, KindL2, l.tx.Select(frame))

	for i := 1; i <= 30; i++ {
		wire, ok, rebuilt := l.send(t, frame)
		require.Equal(t, compressible(i), ok, "frame %d", i)
		if ok {
			require.Len(t, wire, len(frame)-14)
		}
		require.Equal(t, frame, rebuilt, "frame %d", i)
	}
}

func TestL3RoundTrip(t *testing.T) {
	l := newLink()
	flow := framegen.DefaultFlow()
	for i := 1; i <= 40; i++ {
		flow.ID = uint16(1000 + i)
		flow.TTL = uint8(64 - i%3)
		frame := framegen.TCP(flow, uint32(i*100), bytes.Repeat([]byte{byte(i)}, 40))
		require.Equal(t, KindL3, l.tx.Select(frame))

		wire, ok, rebuilt := l.send(t, frame)
		if ok {
			require.Len(t, wire, len(frame)-29)
		}
		require.Equal(t, frame, rebuilt, "frame %d", i)

		ip := rebuilt[14:34]
		require.Equal(t, uint16(0), ipChecksum(ip), "checksum must verify")
		require.Equal(t, len(rebuilt)-14, int(binary.BigEndian.Uint16(ip[2:])))
	}
	require.Greater(t, l.tx.Engine(KindL3).Compressed.Load(), int64(0))
}

func TestL3RebuildsLengthAndChecksum(t *testing.T) {
	l := newLink()
	flow := framegen.DefaultFlow()
	frame := framegen.UDP(flow, make([]byte, 64))
	for i := 0; i < 3; i++ {
		l.send(t, frame)
	}

	// A longer datagram from the same flow shares the template; its length
	// and checksum are derived on the receiving side.
	long := framegen.UDP(flow, make([]byte, 200))
	wire, ok, rebuilt := l.send(t, long)
	require.True(t, ok)
	require.Len(t, wire, len(long)-29)
	require.Equal(t, long, rebuilt)
}

func TestDNSRoundTrip(t *testing.T) {
	l := newLink()
	flow := framegen.DefaultFlow()
	for i := 1; i <= 12; i++ {
		flow.ID = uint16(i)
		frame := framegen.DNSQuery(flow, uint16(i), "example.com", layers.DNSTypeA)
		require.Equal(t, KindDNS, l.tx.Select(frame))
		wire, ok, rebuilt := l.send(t, frame)
		if ok {
			require.Len(t, wire, len(frame)-35)
		}
		require.Equal(t, frame, rebuilt, "frame %d", i)
	}
	require.Greater(t, l.tx.Engine(KindDNS).Compressed.Load(), int64(0))
}

func TestSelectFallsBackToL2(t *testing.T) {
	s := NewSet()
	flow := framegen.DefaultFlow()

	padded := framegen.UDP(flow, []byte{1, 2, 3, 4})
	require.Equal(t, 60, len(padded))
	require.Equal(t, KindL2, s.Select(padded), "ethernet padding breaks length recomputation")

	options := framegen.TCP(flow, 1, make([]byte, 40))
	options[14] = 0x46
	require.Equal(t, KindL2, s.Select(options))

	require.Equal(t, KindL3, s.Select(framegen.UDP(flow, make([]byte, 64))))
	require.Equal(t, KindL2, s.Select(framegen.IPv6UDP(flow, make([]byte, 64))))
}

func TestCollisionOverwritesSlot(t *testing.T) {
	e := NewEngine(L2{})
	a := framegen.ARPRequest(framegen.DefaultFlow())
	b := append([]byte(nil), a...)
	// Flip the same bit in two template bytes: the XOR hash is unchanged.
	b[6] ^= 0x10
	b[7] ^= 0x10

	for i := 0; i < 5; i++ {
		e.Classify(a, S2C)
	}
	okA, sidA := e.Classify(a, S2C)
	require.True(t, okA)
	okB, sidB := e.Classify(b, S2C)
	require.Equal(t, sidA, sidB)
	require.False(t, okB)
	require.Equal(t, int64(1), e.Collisions.Load())
	slot := e.Slot(S2C, sidB)
	require.Equal(t, 1, slot.Count)
	require.Equal(t, b[:14], slot.Template)

	// The other direction is independent.
	require.False(t, e.Slot(C2S, sidA).Active)
}

func TestDecompressErrors(t *testing.T) {
	e := NewEngine(L3{})
	buf := make([]byte, Headroom+40)
	_, err := e.Decompress(buf, Headroom, 7, S2C)
	require.ErrorIs(t, err, ErrInactiveSlot)

	frame := framegen.UDP(framegen.DefaultFlow(), make([]byte, 64))
	_, sid := e.Classify(frame, S2C)
	_, err = e.Decompress(buf[:Headroom+3], Headroom, sid, S2C)
	require.ErrorIs(t, err, ErrShortFrame)
	_, err = e.Decompress(buf, 10, sid, S2C)
	require.ErrorIs(t, err, ErrHeadroom)
}

func TestResetAndDump(t *testing.T) {
	s := NewSet()
	flow := framegen.DefaultFlow()
	s.Classify(framegen.UDP(flow, make([]byte, 64)), S2C)
	s.Classify(framegen.ARPRequest(flow), S2C)
	s.Classify(framegen.DNSQuery(flow, 1, "example.com", layers.DNSTypeA), S2C)

	var out strings.Builder
	s.Dump(&out, S2C)
	dump := out.String()
	require.Contains(t, dump, "Compression L2 table (s2c)")
	require.Contains(t, dump, "10.10.20.2 -> 10.10.20.1 proto 17")
	require.Contains(t, dump, "10.10.20.2:40000 -> 10.10.20.1:53")

	s.Reset()
	out.Reset()
	s.Dump(&out, S2C)
	require.Equal(t, 3, strings.Count(out.String(), "\n"), "only headers remain after reset")
}
