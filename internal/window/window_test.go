package window

import (
	"testing"
	"time"
)

func TestEmptyWindowStats(t *testing.T) {
	w := New(5)
	stats := w.Stats()
	if stats.Count != 0 {
		t.Fatalf("expected count 0, got %d", stats.Count)
	}
}

func TestDropsOldestBeyondSize(t *testing.T) {
	w := New(3)
	now := time.Now()
	for i := 0; i < 5; i++ {
		w.Add(now, map[string]float64{"cpu": float64(i)})
	}
	stats := w.Stats()
	if stats.Count != 3 {
		t.Fatalf("expected 3 retained samples, got %d", stats.Count)
	}
}

func TestPercentileOrdering(t *testing.T) {
	w := New(10)
	now := time.Now()
	latencies := []float64{10, 500, 20, 900, 30, 40, 50, 1000, 5, 15}
	for _, l := range latencies {
		w.Add(now, map[string]float64{"net_latency_ms": l})
	}
	stats := w.Stats()
	if !(stats.LatencyP99 >= stats.LatencyP95 && stats.LatencyP95 >= stats.LatencyP90) {
		t.Fatalf("percentile ordering violated: p90=%v p95=%v p99=%v", stats.LatencyP90, stats.LatencyP95, stats.LatencyP99)
	}
}

func TestTrendRequiresFourSamples(t *testing.T) {
	w := New(5)
	now := time.Now()
	w.Add(now, map[string]float64{"cpu": 90})
	w.Add(now, map[string]float64{"cpu": 90})
	stats := w.Stats()
	if stats.Trend != TrendStable {
		t.Fatalf("expected stable with <4 samples, got %v", stats.Trend)
	}
}

func TestSpikeScenario(t *testing.T) {
	w := New(5)
	now := time.Now()
	for _, cpu := range []float64{50, 50, 55, 85, 90} {
		w.Add(now, map[string]float64{"cpu": cpu})
	}
	stats := w.Stats()
	if stats.Trend != TrendSpiking {
		t.Fatalf("expected spiking trend, got %v (avg_cpu=%v)", stats.Trend, stats.AvgCPU)
	}
}

func TestSustainedLowScenario(t *testing.T) {
	w := New(5)
	now := time.Now()
	for _, cpu := range []float64{20, 22, 18, 25, 20} {
		w.Add(now, map[string]float64{"cpu": cpu})
	}
	stats := w.Stats()
	if stats.Trend != TrendStable {
		t.Fatalf("expected stable trend for sustained low load, got %v", stats.Trend)
	}
}
