package packet

import (
	"bytes"
	"testing"

	"github.com/bridgefall/overlay/commons/config"
)

func TestDefaultOverlayEncoding(t *testing.T) {
	o := DefaultOverlay()
	o.SetDNS([]config.IPv4{0x01010101, 0x09090909, 0x08080808})
	b, err := o.MarshalBinary()
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	want := []byte{
		10, 10, 20, 0,
		255, 255, 255, 0,
		10, 10, 20, 1,
		0, 0, 0x05, 0x9a,
		1, 1, 1, 1,
		9, 9, 9, 9,
		8, 8, 8, 8,
	}
	if !bytes.Equal(b, want) {
		t.Fatalf("encoding = %v", b)
	}
	var back Overlay
	if err := back.UnmarshalBinary(b); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if back != o {
		t.Fatalf("round trip mismatch: %s vs %s", back, o)
	}
	if err := back.UnmarshalBinary(b[:27]); err == nil {
		t.Fatalf("expected length error")
	}
}

func TestOverlayValidate(t *testing.T) {
	if DefaultMTU != 1434 {
		t.Fatalf("default mtu = %d", DefaultMTU)
	}
	if err := DefaultOverlay().Validate(); err != nil {
		t.Fatalf("default overlay invalid: %v", err)
	}
	if DefaultOverlay().PrefixLen() != 24 {
		t.Fatalf("prefix = %d", DefaultOverlay().PrefixLen())
	}
	cases := map[string]func(*Overlay){
		"mtu low":       func(o *Overlay) { o.MTU = 575 },
		"mtu high":      func(o *Overlay) { o.MTU = 1501 },
		"zero mask":     func(o *Overlay) { o.NetMask = 0 },
		"holey mask":    func(o *Overlay) { o.NetMask = 0xff00ff00 },
		"gw outside":    func(o *Overlay) { o.DefaultGW = 0x0a0a1501 },
		"gw is network": func(o *Overlay) { o.DefaultGW = 0x0a0a1400 },
	}
	for name, mut := range cases {
		o := DefaultOverlay()
		mut(&o)
		if err := o.Validate(); err == nil {
			t.Fatalf("%s: expected error", name)
		}
	}
}

func TestOverlayDNS(t *testing.T) {
	var o Overlay
	o.SetDNS([]config.IPv4{0x01010101, 0, 0x08080808, 0x09090909})
	got := o.DNS()
	if len(got) != 2 || got[0] != 0x01010101 || got[1] != 0x08080808 {
		t.Fatalf("dns = %v", got)
	}
}
