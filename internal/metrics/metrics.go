// Package metrics exposes the agent's own Prometheus self-metrics,
// grounded on the teacher's metrics.go promauto idiom, retargeted from
// spot-rebalancing gauges to the autoscaler's decision surface.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// ReplicaCount tracks the workload's current replica count.
	ReplicaCount = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: "pulse",
			Name:      "replica_count",
			Help:      "Current replica count of the managed workload",
		},
		[]string{"workload", "namespace"},
	)

	// ScaleActionsTotal counts executed replica scale actions by direction and reason.
	ScaleActionsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "pulse",
			Name:      "scale_actions_total",
			Help:      "Total replica scale actions executed, by action and reason",
		},
		[]string{"action", "reason"},
	)

	// CompositeScore tracks the replica controller's composite load score.
	CompositeScore = promauto.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "pulse",
			Name:      "composite_score",
			Help:      "Composite load score (0-100) last evaluated by the replica controller",
		},
	)

	// NodePoolSize tracks the current node count in the managed pool.
	NodePoolSize = promauto.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "pulse",
			Name:      "node_pool_size",
			Help:      "Current number of Ready nodes in the managed node pool",
		},
	)

	// NodePoolActionsTotal counts node-pool scale actions by direction.
	NodePoolActionsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "pulse",
			Name:      "node_pool_actions_total",
			Help:      "Total node-pool scale actions executed",
		},
		[]string{"action"},
	)

	// QuarantinedNodes tracks the number of nodes currently quarantined.
	QuarantinedNodes = promauto.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "pulse",
			Name:      "quarantined_nodes",
			Help:      "Number of nodes currently quarantined as chronically unhealthy",
		},
	)

	// OOMEventsTotal counts observed OOM kills by pod.
	OOMEventsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "pulse",
			Name:      "oom_events_total",
			Help:      "Total OOMKilled observations recorded by the memory optimiser",
		},
		[]string{"pod"},
	)

	// MemoryLimitBytes tracks the workload's current memory limit.
	MemoryLimitBytes = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: "pulse",
			Name:      "memory_limit_bytes",
			Help:      "Current container memory limit in bytes, as last patched by the memory optimiser",
		},
		[]string{"workload", "namespace"},
	)

	// BacklogSize tracks the last observed Pub/Sub backlog depth.
	BacklogSize = promauto.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "pulse",
			Name:      "backlog_size",
			Help:      "Last observed undelivered message count on the event subscription",
		},
	)

	// EventsProcessedTotal counts ingress events processed by severity.
	EventsProcessedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "pulse",
			Name:      "events_processed_total",
			Help:      "Total classified events processed by the ingress loop, by severity",
		},
		[]string{"severity"},
	)
)
