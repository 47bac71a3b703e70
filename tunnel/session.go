package tunnel

import (
	"bytes"
	"fmt"
	"net"
	"net/netip"

	"github.com/bridgefall/overlay/packet"
)

func (t *Tunnel) unixNow() uint32 {
	return uint32(t.opts.Now().Unix())
}

// seal writes hdr over the first HeaderLen bytes of dgram and appends the
// digest. dgram must have DigestLen bytes of spare capacity.
func (t *Tunnel) seal(dgram []byte, hdr packet.Header) []byte {
	hdr.Put(dgram)
	digest := t.opts.Keys.Authenticate(dgram, hdr.Timestamp, hdr.Seq)
	return append(dgram, digest[:]...)
}

func (t *Tunnel) nextHeader(op packet.Opcode) packet.Header {
	t.seq++
	return packet.Header{Opcode: op, Seq: t.seq, Timestamp: t.unixNow()}
}

func (t *Tunnel) send(dgram []byte) {
	if !t.remote.IsValid() {
		return
	}
	_, err := t.conn.WriteTo(dgram, net.UDPAddrFromAddrPort(t.remote))
	if err != nil {
		t.stats.TxErrors.Inc()
		t.logWarn("send", "send failed", "addr", t.remote.String(), "err", err)
		return
	}
	t.stats.TxPackets.Inc()
}

// sendHello sends a keep-alive. A server includes its overlay parameters.
func (t *Tunnel) sendHello() {
	size := packet.HeaderLen
	if t.opts.Role == RoleServer {
		size += packet.OverlayLen
	}
	dgram := make([]byte, size, size+packet.DigestLen)
	if t.opts.Role == RoleServer {
		t.overlay.Put(dgram[packet.HeaderLen:])
	}
	t.send(t.seal(dgram, t.nextHeader(packet.OpHello)))
}

// sendMessage sends NUL-terminated text to the peer.
func (t *Tunnel) sendMessage(text string) {
	size := packet.HeaderLen + len(text) + 1
	dgram := make([]byte, size, size+packet.DigestLen)
	copy(dgram[packet.HeaderLen:], text)
	t.send(t.seal(dgram, t.nextHeader(packet.OpMessage)))
}

// tick runs once per period.
func (t *Tunnel) tick() {
	t.logLimiter.Reset()
	if t.limiter != nil {
		t.limiter.Sweep()
	}

	if t.state == Connected || t.opts.Role == RoleClient {
		t.sendHello()
	}

	t.ttl--
	if t.ttl < 1 {
		if t.ttl == 0 {
			t.logger.Info("peer disconnected", "addr", t.remote.String())
			if t.opts.Role == RoleServer {
				t.remote = netip.AddrPort{}
			}
			t.tables.Reset()
		}
		t.state = Disconnected
		t.stats.Connected.Set(0)
		t.seq = 0
		t.guard.ResetSequence()
		t.ttl = 0
	}

	t.statsCnt++
	if t.statsCnt >= statsEvery {
		t.statsCnt = 0
		t.reportStats()
	}
	t.dumpCnt++
	if t.dumpCnt >= compressEvery {
		t.dumpCnt = 0
		if t.opts.Debug {
			t.tables.Dump(t.opts.Diag, t.txDir)
		}
	}
}

func (t *Tunnel) reportStats() {
	if t.state == Disconnected {
		return
	}
	line := t.stats.Summary(t.opts.Role)
	t.logger.Info(line)
	if t.opts.Role == RoleServer {
		t.sendMessage(line)
	}
}

// receiveHello handles a verified HELLO from src.
func (t *Tunnel) receiveHello(payload []byte, src netip.AddrPort) error {
	if t.state == Disconnected {
		t.state = Connected
		t.stats.Connected.Set(1)
		t.seq = 0
		if t.opts.Role == RoleServer {
			t.remote = src
			t.wake = true
		}
		t.logger.Info("peer connected", "addr", src.String())
	}
	t.ttl = ConnectTTL

	if t.opts.Role != RoleClient || len(payload) < packet.OverlayLen {
		return nil
	}
	var o packet.Overlay
	if err := o.UnmarshalBinary(payload[:packet.OverlayLen]); err != nil {
		return nil
	}
	if o == t.overlay {
		return nil
	}
	if err := o.Validate(); err != nil {
		t.logWarn("overlay", "ignoring overlay from server", "err", err)
		return nil
	}
	t.overlay = o
	t.logger.Info("tunnel configured",
		"network", fmt.Sprintf("%s/%d", o.Network(), o.PrefixLen()),
		"gateway", o.DefaultGW.String(),
		"mtu", o.MTU,
		"dns", fmt.Sprintf("%s, %s, %s", o.DNS1, o.DNS2, o.DNS3))
	if t.opts.Notifier != nil {
		if err := t.opts.Notifier.NotifyOverlay(o); err != nil {
			return fmt.Errorf("notify supervisor: %w", err)
		}
	}
	return nil
}

// receiveMessage logs informational text sent by the server.
func (t *Tunnel) receiveMessage(payload []byte) {
	if t.state == Disconnected || t.opts.Role == RoleServer {
		return
	}
	if i := bytes.IndexByte(payload, 0); i >= 0 {
		payload = payload[:i]
	}
	t.logger.Info("server message", "text", string(payload))
}
