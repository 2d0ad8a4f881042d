// Package window implements the bounded FIFO of recent metric samples used
// to compute rolling averages, percentiles, and a trend label. Grounded on
// metrics_window.py.
package window

import (
	"sort"
	"sync"
	"time"
)

// Trend is a derived label over the CPU series.
type Trend string

const (
	TrendStable     Trend = "stable"
	TrendIncreasing Trend = "increasing"
	TrendDecreasing Trend = "decreasing"
	TrendSpiking    Trend = "spiking"
)

// sample is one point retained by the window.
type sample struct {
	timestamp time.Time
	cpu       float64
	memory    float64
	latency   float64
	errorRate float64
}

// Stats is the aggregate view produced by Window.Stats.
type Stats struct {
	Count         int
	AvgCPU        float64
	AvgMemory     float64
	MaxCPU        float64
	LatencyP90    float64
	LatencyP95    float64
	LatencyP99    float64
	AvgErrorRate  float64
	Trend         Trend
	SpikeDetected bool
}

// Window is a bounded FIFO of up to Size samples, append-ordered.
type Window struct {
	mu   sync.Mutex
	size int
	data []sample
}

// New creates a Window holding at most size samples (default 5 if size<=0).
func New(size int) *Window {
	if size <= 0 {
		size = 5
	}
	return &Window{size: size, data: make([]sample, 0, size)}
}

// Add appends a sample, dropping the oldest once the window is full.
// Missing metric keys coerce to 0, matching MetricSample.Get's contract.
func (w *Window) Add(ts time.Time, values map[string]float64) {
	w.mu.Lock()
	defer w.mu.Unlock()

	s := sample{
		timestamp: ts,
		cpu:       values["cpu"],
		memory:    values["memory"],
		latency:   values["net_latency_ms"],
		errorRate: values["error_rate"],
	}

	w.data = append(w.data, s)
	if len(w.data) > w.size {
		w.data = w.data[len(w.data)-w.size:]
	}
}

// Stats computes the current window's aggregates. Returns Count:0 on an
// empty window.
func (w *Window) Stats() Stats {
	w.mu.Lock()
	defer w.mu.Unlock()

	n := len(w.data)
	if n == 0 {
		return Stats{}
	}

	cpu := make([]float64, n)
	mem := make([]float64, n)
	lat := make([]float64, n)
	errs := make([]float64, n)

	var sumCPU, sumMem, sumErr, maxCPU float64
	for i, s := range w.data {
		cpu[i], mem[i], lat[i], errs[i] = s.cpu, s.memory, s.latency, s.errorRate
		sumCPU += s.cpu
		sumMem += s.memory
		sumErr += s.errorRate
		if s.cpu > maxCPU {
			maxCPU = s.cpu
		}
	}

	trend := computeTrend(cpu)

	return Stats{
		Count:         n,
		AvgCPU:        sumCPU / float64(n),
		AvgMemory:     sumMem / float64(n),
		MaxCPU:        maxCPU,
		LatencyP90:    percentile(lat, 90),
		LatencyP95:    percentile(lat, 95),
		LatencyP99:    percentile(lat, 99),
		AvgErrorRate:  sumErr / float64(n),
		Trend:         trend,
		SpikeDetected: trend == TrendSpiking,
	}
}

// percentile returns the p-th percentile of values, sorted ascending, index
// floor(len*p/100) clamped to the last element.
func percentile(values []float64, p float64) float64 {
	if len(values) == 0 {
		return 0
	}
	sorted := append([]float64(nil), values...)
	sort.Float64s(sorted)

	idx := int(float64(len(sorted)) * p / 100)
	if idx >= len(sorted) {
		idx = len(sorted) - 1
	}
	return sorted[idx]
}

// computeTrend labels the CPU series per spec.md 3's Trend rule: requires
// >=4 samples, compares the last-2 mean against the mean of the rest.
func computeTrend(cpu []float64) Trend {
	if len(cpu) < 4 {
		return TrendStable
	}

	recent := cpu[len(cpu)-2:]
	older := cpu[:len(cpu)-2]

	recentAvg := (recent[0] + recent[1]) / 2
	var olderSum float64
	for _, v := range older {
		olderSum += v
	}
	olderAvg := olderSum / float64(len(older))

	switch {
	case recentAvg > olderAvg+20:
		return TrendSpiking
	case recentAvg > olderAvg+10:
		return TrendIncreasing
	case recentAvg < olderAvg-10:
		return TrendDecreasing
	default:
		return TrendStable
	}
}
