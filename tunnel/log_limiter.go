package tunnel

import "time"

// logLimiter caps noisy per-datagram log lines at burst records per key
// per interval.
type logLimiter struct {
	interval time.Duration
	burst    float64
	buckets  map[string]*bucketState
}

type bucketState struct {
	last   time.Time
	tokens float64
}

func newLogLimiter(interval time.Duration, burst int) *logLimiter {
	if interval <= 0 {
		interval = 10 * time.Second
	}
	if burst <= 0 {
		burst = 1
	}
	return &logLimiter{
		interval: interval,
		burst:    float64(burst),
		buckets:  make(map[string]*bucketState),
	}
}

func (l *logLimiter) Allow(key string, now time.Time) bool {
	state := l.buckets[key]
	if state == nil {
		state = &bucketState{last: now, tokens: l.burst}
		l.buckets[key] = state
	}
	elapsed := now.Sub(state.last)
	state.last = now
	if elapsed > 0 {
		state.tokens += l.burst * elapsed.Seconds() / l.interval.Seconds()
		if state.tokens > l.burst {
			state.tokens = l.burst
		}
	}
	if state.tokens < 1 {
		return false
	}
	state.tokens -= 1
	return true
}

// Reset refills every bucket; called on each keep-alive tick.
func (l *logLimiter) Reset() {
	clear(l.buckets)
}
