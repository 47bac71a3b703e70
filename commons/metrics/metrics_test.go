package metrics

import (
	"sync"
	"testing"
)

func TestCounterConcurrentAdds(t *testing.T) {
	var c Counter
	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 1000; j++ {
				c.Inc()
			}
		}()
	}
	wg.Wait()
	if got := c.Load(); got != 8000 {
		t.Fatalf("expected 8000, got %d", got)
	}
}

func TestGauge(t *testing.T) {
	var g Gauge
	g.Inc()
	g.Inc()
	g.Dec()
	if g.Load() != 1 {
		t.Fatalf("expected 1, got %d", g.Load())
	}
	g.Set(42)
	if g.Load() != 42 {
		t.Fatalf("expected 42, got %d", g.Load())
	}
}

func TestPercent(t *testing.T) {
	if Percent(5, 0) != 0 {
		t.Fatalf("zero total must yield 0")
	}
	if got := Percent(1, 3); got != 33 {
		t.Fatalf("expected 33, got %d", got)
	}
}
