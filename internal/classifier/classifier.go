// Package classifier converts raw agent telemetry into a severity-tagged
// Event. It is grounded on the aggregator's classify_event: a pure function
// with no I/O, applying the same ordered severity-escalation rules.
package classifier

import (
	"strings"

	"github.com/pulsehq/autoscaler/internal/telemetry"
)

// Thresholds configures the severity-escalation cutoffs. Defaults match
// spec.md 4.B exactly; callers only need to override for tests.
type Thresholds struct {
	CPUCritical      float64
	CPUWarning       float64
	MemoryCritical   float64
	ErrorRateCritical float64
	ErrorRateWarning  float64
	LatencyWarningMs  float64
}

// DefaultThresholds returns the thresholds named in spec.md 4.B.
func DefaultThresholds() Thresholds {
	return Thresholds{
		CPUCritical:       90,
		CPUWarning:        75,
		MemoryCritical:    90,
		ErrorRateCritical: 8,
		ErrorRateWarning:  5,
		LatencyWarningMs:  400,
	}
}

// RawPayload is the decoded agent payload prior to classification: either a
// metrics sample (Metrics non-nil) or a log line.
type RawPayload struct {
	NodeID  string
	Metrics map[string]float64 // nil means "log event"
	Log     string
}

// Classifier applies the ordered severity rules of spec.md 4.B. It holds no
// mutable state and performs no I/O; the same input always yields a
// byte-identical Event modulo timestamp, which the caller stamps.
type Classifier struct {
	thresholds Thresholds
	source     string
}

// New creates a Classifier. source tags every produced Event (e.g.
// "aggregator").
func New(source string, thresholds Thresholds) *Classifier {
	return &Classifier{thresholds: thresholds, source: source}
}

// Classify converts a raw payload into a severity-tagged Event. Pure:
// malformed numeric values have already coerced to 0 by the time they reach
// MetricSample.Get, so there is nothing here that can fail.
func (c *Classifier) Classify(p RawPayload) telemetry.Event {
	if p.Metrics != nil {
		return c.classifyMetrics(p)
	}
	return c.classifyLog(p)
}

func (c *Classifier) classifyMetrics(p RawPayload) telemetry.Event {
	sample := telemetry.MetricSample{NodeID: p.NodeID, Values: p.Metrics}

	severity := telemetry.SeverityInfo
	var reasons []string

	cpu := sample.Get(telemetry.KeyCPU)
	switch {
	case cpu > c.thresholds.CPUCritical:
		severity = telemetry.SeverityCritical
		reasons = append(reasons, fReason("cpu", cpu))
	case cpu > c.thresholds.CPUWarning:
		severity = escalate(severity, telemetry.SeverityWarning)
		reasons = append(reasons, fReason("cpu", cpu))
	}

	mem := sample.Get(telemetry.KeyMemory)
	if mem > c.thresholds.MemoryCritical {
		// Overrides to CRITICAL; never downgrades.
		severity = escalate(severity, telemetry.SeverityCritical)
		reasons = append(reasons, fReason("mem", mem))
	}

	errRate := sample.Get(telemetry.KeyErrorRate)
	switch {
	case errRate > c.thresholds.ErrorRateCritical:
		severity = escalate(severity, telemetry.SeverityCritical)
		reasons = append(reasons, fPercentReason("errors", errRate))
	case errRate > c.thresholds.ErrorRateWarning:
		if severity == telemetry.SeverityInfo {
			severity = telemetry.SeverityWarning
		}
		reasons = append(reasons, fPercentReason("errors", errRate))
	}

	latency := sample.Get(telemetry.KeyNetLatencyMs)
	if latency > c.thresholds.LatencyWarningMs {
		if severity == telemetry.SeverityInfo {
			severity = telemetry.SeverityWarning
		}
		reasons = append(reasons, fMsReason("latency", latency))
	}

	return telemetry.Event{
		Source:    c.source,
		NodeID:    p.NodeID,
		EventType: telemetry.EventTypeMetrics,
		Severity:  severity,
		Reasons:   reasons,
		Metrics:   p.Metrics,
	}
}

func (c *Classifier) classifyLog(p RawPayload) telemetry.Event {
	// Resolves spec.md 9's open question: a missing/empty log string is an
	// ignorable event rather than a crash on "CRITICAL" in None.
	if strings.TrimSpace(p.Log) == "" {
		return telemetry.Event{
			Source:    c.source,
			NodeID:    p.NodeID,
			EventType: telemetry.EventTypeLog,
			Severity:  telemetry.SeverityInfo,
			Reasons:   []string{"no payload"},
			Log:       p.Log,
		}
	}

	severity := telemetry.SeverityError
	if strings.Contains(p.Log, "CRITICAL") {
		severity = telemetry.SeverityCritical
	}

	return telemetry.Event{
		Source:    c.source,
		NodeID:    p.NodeID,
		EventType: telemetry.EventTypeLog,
		Severity:  severity,
		Log:       p.Log,
	}
}

// escalate returns the higher of the two severities; it never downgrades.
func escalate(current, candidate telemetry.Severity) telemetry.Severity {
	if candidate > current {
		return candidate
	}
	return current
}
