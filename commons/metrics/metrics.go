package metrics

import "sync/atomic"

// Counter is an atomic counter for metrics.
type Counter struct {
	value atomic.Int64
}

// Add increments the counter by n.
func (c *Counter) Add(n int64) {
	c.value.Add(n)
}

// Inc increments the counter by 1.
func (c *Counter) Inc() {
	c.value.Add(1)
}

// Load returns the current value.
func (c *Counter) Load() int64 {
	return c.value.Load()
}

// Gauge is an atomic gauge for metrics.
type Gauge struct {
	value atomic.Int64
}

// Inc increments the gauge by 1.
func (g *Gauge) Inc() {
	g.value.Add(1)
}

// Dec decrements the gauge by 1.
func (g *Gauge) Dec() {
	g.value.Add(-1)
}

// Set sets the gauge to the provided value.
func (g *Gauge) Set(v int64) {
	g.value.Store(v)
}

// Load returns the current value.
func (g *Gauge) Load() int64 {
	return g.value.Load()
}

// Percent returns part as a whole percentage of total, or 0 when total is 0.
func Percent(part, total int64) int64 {
	if total <= 0 {
		return 0
	}
	return part * 100 / total
}
