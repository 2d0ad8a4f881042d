// Package telemetry defines the wire-level data model shared by the
// classifier, the rolling window, the event bus, and every consumer of
// classified events: MetricSample, Event, and Severity.
package telemetry

import "time"

// Severity is the classified urgency of an Event. Ordered low to high so
// callers can compare severities with plain operators.
type Severity int

const (
	SeverityInfo Severity = iota
	SeverityWarning
	SeverityError
	SeverityCritical
)

// String renders the severity the way it is marshalled on the wire.
func (s Severity) String() string {
	switch s {
	case SeverityInfo:
		return "INFO"
	case SeverityWarning:
		return "WARNING"
	case SeverityError:
		return "ERROR"
	case SeverityCritical:
		return "CRITICAL"
	default:
		return "INFO"
	}
}

// MarshalJSON renders the severity as its wire string.
func (s Severity) MarshalJSON() ([]byte, error) {
	return []byte(`"` + s.String() + `"`), nil
}

// UnmarshalJSON parses the wire string back into a Severity.
func (s *Severity) UnmarshalJSON(data []byte) error {
	str := string(data)
	if len(str) >= 2 && str[0] == '"' {
		str = str[1 : len(str)-1]
	}
	switch str {
	case "WARNING":
		*s = SeverityWarning
	case "ERROR":
		*s = SeverityError
	case "CRITICAL":
		*s = SeverityCritical
	default:
		*s = SeverityInfo
	}
	return nil
}

// EventType distinguishes a metrics-bearing event from a bare log line.
type EventType string

const (
	EventTypeMetrics EventType = "metrics_event"
	EventTypeLog     EventType = "log_event"
)

// Recognised MetricSample keys. Unrecognised keys are preserved in Values
// but ignored by every decision in this repository.
const (
	KeyCPU           = "cpu"
	KeyMemory        = "memory"
	KeyDisk          = "disk"
	KeyNetLatencyMs  = "net_latency_ms"
	KeyProcessCount  = "process_count"
	KeyLoadAvg       = "load_avg"
	KeyErrorRate     = "error_rate"
)

// MetricSample is one telemetry point delivered by a node agent.
type MetricSample struct {
	Timestamp time.Time          `json:"timestamp"`
	NodeID    string             `json:"node_id"`
	Values    map[string]float64 `json:"metrics"`
}

// Get returns the named metric, or 0 if absent. Malformed/missing values
// coerce to 0 rather than erroring, per the classifier's purity contract.
func (m MetricSample) Get(key string) float64 {
	if m.Values == nil {
		return 0
	}
	return m.Values[key]
}

// Event is the classifier's output: a severity-tagged, reason-annotated
// record of either a metrics sample or a log line.
type Event struct {
	Timestamp time.Time          `json:"timestamp"`
	Source    string             `json:"source"`
	NodeID    string             `json:"node_id"`
	EventType EventType          `json:"event_type"`
	Severity  Severity           `json:"severity"`
	Reasons   []string           `json:"reasons"`
	Metrics   map[string]float64 `json:"metrics,omitempty"`
	Log       string             `json:"log,omitempty"`
}

// IsMetricsEvent reports whether this event carries a metrics payload.
// Invariant: EventType == EventTypeMetrics iff Metrics is non-nil.
func (e Event) IsMetricsEvent() bool {
	return e.EventType == EventTypeMetrics
}
