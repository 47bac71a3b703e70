package ratelimiter

import (
	"net/netip"
	"time"
)

const (
	defaultPacketsPerSecond = 20
	defaultPacketsBurstable = 5
	garbageCollectTime      = time.Second
)

type entry struct {
	lastTime time.Time
	tokens   int64
}

// Ratelimiter is a per-source token bucket. Not safe for concurrent use;
// the owner calls Sweep periodically to forget idle sources.
type Ratelimiter struct {
	timeNow    func() time.Time
	table      map[netip.Addr]*entry
	packetCost int64
	maxTokens  int64
}

// New returns a limiter admitting pps datagrams per second per source with
// the given burst. Non-positive values select the defaults.
func New(pps, burst int, now func() time.Time) *Ratelimiter {
	if pps <= 0 {
		pps = defaultPacketsPerSecond
	}
	if burst <= 0 {
		burst = defaultPacketsBurstable
	}
	if now == nil {
		now = time.Now
	}
	cost := int64(time.Second / time.Duration(pps))
	return &Ratelimiter{
		timeNow:    now,
		table:      make(map[netip.Addr]*entry),
		packetCost: cost,
		maxTokens:  cost * int64(burst),
	}
}

// Sweep drops sources idle for longer than a second and returns how many
// remain.
func (rate *Ratelimiter) Sweep() int {
	now := rate.timeNow()
	for key, e := range rate.table {
		if now.Sub(e.lastTime) > garbageCollectTime {
			delete(rate.table, key)
		}
	}
	return len(rate.table)
}

// Allow charges one datagram to ip.
func (rate *Ratelimiter) Allow(ip netip.Addr) bool {
	now := rate.timeNow()
	e := rate.table[ip]
	if e == nil {
		rate.table[ip] = &entry{lastTime: now, tokens: rate.maxTokens - rate.packetCost}
		return true
	}

	e.tokens += now.Sub(e.lastTime).Nanoseconds()
	e.lastTime = now
	if e.tokens > rate.maxTokens {
		e.tokens = rate.maxTokens
	}
	if e.tokens >= rate.packetCost {
		e.tokens -= rate.packetCost
		return true
	}
	return false
}
