package tunnel

import (
	"net"
	"net/netip"

	"github.com/bridgefall/overlay/compress"
	"github.com/bridgefall/overlay/internal/replay"
	"github.com/bridgefall/overlay/packet"
	"github.com/bridgefall/overlay/scramble"
)

// handleFrame sends one frame read from the device. The frame occupies
// buf[HeaderLen:HeaderLen+n]; buf has DigestLen bytes of room after it.
func (t *Tunnel) handleFrame(buf []byte, n int) {
	frame := buf[packet.HeaderLen : packet.HeaderLen+n]
	switch {
	case n <= packet.EthHeaderLen:
		t.dropFrame(DropShort)
		return
	case t.state != Connected:
		t.dropFrame(DropState)
		return
	case packet.IsIPv6(frame):
		t.dropFrame(DropIPv6)
		return
	case packet.IsDNSAAAA(frame):
		t.dropFrame(DropAAAA)
		return
	}
	if packet.IsDNS(frame) {
		t.stats.EthDNS.Inc()
	}

	kind, ok, sid := t.tables.Classify(frame, t.txDir)
	hdr := t.nextHeader(packet.OpData)
	off := 0
	if ok {
		off = t.tables.Engine(kind).Compress(frame)
		hdr.SID = sid
		switch kind {
		case compress.KindL2:
			hdr.Opcode = packet.OpDataCompressedL2
		case compress.KindL3:
			hdr.Opcode = packet.OpDataCompressedL3
		case compress.KindDNS:
			hdr.Opcode = packet.OpDataCompressedL3
			hdr.Reserved = packet.ReservedDNS
		}
		t.stats.TxCompressed.Inc()
	}
	if !t.opts.NoScramble {
		scramble.Scramble(frame[off:])
	}
	t.send(t.seal(buf[off:packet.HeaderLen+n], hdr))
}

// handleDatagram processes one datagram held in buf[off:off+n]. The only
// error it returns is a failure to notify the supervisor.
func (t *Tunnel) handleDatagram(buf []byte, off, n int, from net.Addr) error {
	t.stats.RxPackets.Inc()
	src, ok := addrPort(from)
	if !ok {
		t.drop(DropAddr, src)
		return nil
	}
	if n < packet.HeaderLen+packet.DigestLen {
		t.drop(DropShort, src)
		return nil
	}
	dgram := buf[off : off+n]
	hdr, err := packet.ParseHeader(dgram)
	if err != nil {
		t.drop(DropOpcode, src)
		return nil
	}
	if t.remote.IsValid() && src != t.remote {
		t.drop(DropAddr, src)
		return nil
	}
	if t.limiter != nil && !t.remote.IsValid() && !t.limiter.Allow(src.Addr()) {
		t.drop(DropRateLimit, src)
		return nil
	}

	body := dgram[:n-packet.DigestLen]
	digest := dgram[n-packet.DigestLen:]
	verdict := t.guard.Admit(hdr.Seq, hdr.Timestamp, t.unixNow(), func() bool {
		return t.opts.Keys.Verify(body, hdr.Timestamp, hdr.Seq, digest)
	})
	switch verdict {
	case replay.Accept:
	case replay.RejectTimestamp:
		t.drop(DropTimestamp, src)
		return nil
	case replay.RejectWindow:
		t.drop(DropSeq, src)
		return nil
	case replay.RejectReplay:
		t.drop(DropReplay, src)
		return nil
	default:
		t.drop(DropDigest, src)
		return nil
	}

	payload := body[packet.HeaderLen:]
	switch {
	case hdr.Opcode.IsData():
		t.receiveData(hdr, buf[:off+n-packet.DigestLen], off+packet.HeaderLen, src)
	case hdr.Opcode == packet.OpHello:
		return t.receiveHello(payload, src)
	case hdr.Opcode == packet.OpMessage:
		t.receiveMessage(payload)
	}
	return nil
}

// receiveData forwards a verified DATA payload, held in buf[off:], to the
// device.
func (t *Tunnel) receiveData(hdr packet.Header, buf []byte, off int, src netip.AddrPort) {
	if t.state != Connected {
		t.drop(DropState, src)
		return
	}
	if !t.opts.NoScramble {
		scramble.Descramble(buf[off:])
	}
	start := off
	if hdr.Opcode != packet.OpData {
		kind := compress.KindL2
		if hdr.Opcode == packet.OpDataCompressedL3 {
			kind = compress.KindL3
			if hdr.Reserved == packet.ReservedDNS {
				kind = compress.KindDNS
			}
		}
		var err error
		start, err = t.tables.Engine(kind).Decompress(buf, off, hdr.SID, t.rxDir)
		if err != nil {
			t.drop(DropDesync, src)
			t.logDebug("desync", "decompress failed", "kind", kind.String(), "sid", hdr.SID, "err", err)
			return
		}
	}
	frame := buf[start:]
	if len(frame) <= packet.EthHeaderLen {
		t.drop(DropShort, src)
		return
	}
	t.tables.Learn(frame, t.rxDir)
	if _, err := t.dev.Write(frame); err != nil {
		t.logWarn("device_write", "device write failed", "err", err)
		return
	}
	t.stats.RxFrames.Inc()
}
