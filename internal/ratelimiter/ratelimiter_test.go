package ratelimiter

import (
	"net/netip"
	"testing"
	"time"
)

func TestRatelimiterBurstAndRefill(t *testing.T) {
	now := time.Unix(1000, 0)
	r := New(10, 3, func() time.Time { return now })
	ip := netip.MustParseAddr("192.0.2.1")
	other := netip.MustParseAddr("192.0.2.2")

	for i := 0; i < 3; i++ {
		if !r.Allow(ip) {
			t.Fatalf("burst datagram %d rejected", i)
		}
	}
	if r.Allow(ip) {
		t.Fatalf("datagram beyond burst accepted")
	}
	if !r.Allow(other) {
		t.Fatalf("sources must not share a bucket")
	}

	now = now.Add(100 * time.Millisecond)
	if !r.Allow(ip) {
		t.Fatalf("refilled token rejected")
	}
	if r.Allow(ip) {
		t.Fatalf("only one token should refill in 100ms")
	}
}

func TestRatelimiterSweep(t *testing.T) {
	now := time.Unix(1000, 0)
	r := New(0, 0, func() time.Time { return now })
	r.Allow(netip.MustParseAddr("192.0.2.1"))
	now = now.Add(500 * time.Millisecond)
	r.Allow(netip.MustParseAddr("192.0.2.2"))
	now = now.Add(600 * time.Millisecond)
	if left := r.Sweep(); left != 1 {
		t.Fatalf("expected 1 live source, got %d", left)
	}
}
