package replica

import (
	"fmt"

	"github.com/Knetic/govaluate"

	"github.com/pulsehq/autoscaler/internal/window"
)

// CompositeScore is the weighted blend of CPU, latency, and error-rate
// pressure used to decide whether to scale, grounded on
// calculate_composite_score.
type CompositeScore struct {
	Composite float64
	CPU       float64
	Latency   float64
	Errors    float64
}

// scoreEvaluator computes a CompositeScore from window.Stats. The default
// implementation mirrors calculate_composite_score's fixed formula; an
// operator may override it with a govaluate expression over the variables
// cpu, latency, errors (each pre-normalized to 0-100).
type scoreEvaluator struct {
	cfg  Config
	expr *govaluate.EvaluableExpression
}

func newScoreEvaluator(cfg Config) (*scoreEvaluator, error) {
	ev := &scoreEvaluator{cfg: cfg}
	if cfg.CompositeExpression == "" {
		return ev, nil
	}
	expr, err := govaluate.NewEvaluableExpression(cfg.CompositeExpression)
	if err != nil {
		return nil, fmt.Errorf("parse composite expression: %w", err)
	}
	ev.expr = expr
	return ev, nil
}

func (e *scoreEvaluator) evaluate(stats window.Stats) (CompositeScore, error) {
	cpu := clamp(stats.AvgCPU, 0, 100)

	latRatio := 0.0
	if e.cfg.LatencyP95Threshold > 0 {
		latRatio = stats.LatencyP95 / e.cfg.LatencyP95Threshold
	}
	latency := clamp(latRatio*100, 0, 100)

	errRatio := stats.AvgErrorRate / 10
	errors := clamp(errRatio*100, 0, 100)

	if e.expr == nil {
		composite := cpu*e.cfg.WeightCPU + latency*e.cfg.WeightLatency + errors*e.cfg.WeightErrors
		return CompositeScore{Composite: round2(composite), CPU: cpu, Latency: latency, Errors: errors}, nil
	}

	result, err := e.expr.Evaluate(map[string]interface{}{
		"cpu":     cpu,
		"latency": latency,
		"errors":  errors,
	})
	if err != nil {
		return CompositeScore{}, fmt.Errorf("evaluate composite expression: %w", err)
	}
	composite, ok := result.(float64)
	if !ok {
		return CompositeScore{}, fmt.Errorf("composite expression did not evaluate to a number: %v", result)
	}
	return CompositeScore{Composite: round2(composite), CPU: cpu, Latency: latency, Errors: errors}, nil
}

func clamp(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

func round2(v float64) float64 {
	return float64(int64(v*100+0.5)) / 100
}
