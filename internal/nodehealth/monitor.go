// Package nodehealth tracks node readiness and quarantines nodes that
// stay unhealthy past a threshold, grounded on node_monitor.py.
package nodehealth

import (
	"context"
	"log/slog"
	"sync"
	"time"

	corev1 "k8s.io/api/core/v1"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	"k8s.io/client-go/kubernetes"

	"github.com/pulsehq/autoscaler/internal/timesource"
)

// draining is the taint the node-pool drain path applies before removing
// a node; a node carrying it is treated as healthy regardless of its
// Ready condition, since it is leaving on purpose.
const draining = "node-scaler.pulse/draining"

// DefaultQuarantineThreshold is how long a node may stay unhealthy before it
// is patched unschedulable, when no threshold is configured.
const DefaultQuarantineThreshold = 300 * time.Second

// Snapshot reports the cluster's node health at a point in time.
type Snapshot struct {
	NotReadyNodes    []string
	QuarantinedNodes []string
	TotalNodes       int
	HealthyNodes     int
}

// Monitor polls node status and quarantines nodes unhealthy past the
// configured threshold.
type Monitor struct {
	client    kubernetes.Interface
	clock     timesource.Source
	logger    *slog.Logger
	threshold time.Duration

	mu          sync.Mutex
	unhealthy   map[string]time.Time
	quarantined map[string]bool
}

// New creates a Monitor. A zero threshold uses DefaultQuarantineThreshold.
func New(client kubernetes.Interface, clock timesource.Source, logger *slog.Logger, threshold time.Duration) *Monitor {
	if logger == nil {
		logger = slog.Default()
	}
	if threshold == 0 {
		threshold = DefaultQuarantineThreshold
	}
	return &Monitor{
		client:      client,
		clock:       clock,
		logger:      logger,
		threshold:   threshold,
		unhealthy:   make(map[string]time.Time),
		quarantined: make(map[string]bool),
	}
}

// CheckNodeHealth lists all nodes, updates unhealthy/quarantine state, and
// returns a Snapshot. It never returns an error: any listing failure is
// logged and reported as an empty snapshot, matching check_node_health's
// fail-open contract.
func (m *Monitor) CheckNodeHealth(ctx context.Context) Snapshot {
	nodes, err := m.client.CoreV1().Nodes().List(ctx, metav1.ListOptions{})
	if err != nil {
		m.logger.Warn("node health check failed", "error", err)
		return Snapshot{}
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	var notReady []string
	healthy := 0
	now := m.clock.Now()

	for _, node := range nodes.Items {
		name := node.Name
		ready, schedulable := nodeConditions(&node)
		cordonedByScaler := hasDrainingTaint(&node)

		var nodeHealthy bool
		switch {
		case cordonedByScaler:
			nodeHealthy = true
		case !ready:
			nodeHealthy = false
		case !schedulable && !m.quarantined[name]:
			// A node this monitor quarantined is unschedulable by its own
			// patch, so only its readiness decides whether it has recovered.
			nodeHealthy = false
		default:
			nodeHealthy = true
		}

		if nodeHealthy {
			healthy++
			if _, wasUnhealthy := m.unhealthy[name]; wasUnhealthy {
				delete(m.unhealthy, name)
				m.logger.Info("node recovered", "node_id", name)
			}
			if m.quarantined[name] {
				m.unquarantineNode(ctx, name)
			}
			continue
		}

		notReady = append(notReady, name)
		if _, ok := m.unhealthy[name]; !ok {
			m.unhealthy[name] = now
			status := "CORDONED"
			if !ready {
				status = "NOT READY"
			}
			m.logger.Info("node unhealthy", "node_id", name, "status", status)
		}

		if since, ok := m.unhealthy[name]; ok {
			elapsed := now.Sub(since)
			if elapsed > m.threshold && !m.quarantined[name] {
				m.quarantineNode(ctx, name, elapsed)
			}
		}
	}

	return Snapshot{
		NotReadyNodes:    notReady,
		QuarantinedNodes: quarantinedNames(m.quarantined),
		TotalNodes:       len(nodes.Items),
		HealthyNodes:     healthy,
	}
}

// CapacityLoss returns the fraction of nodes currently tracked unhealthy,
// matching get_node_capacity_loss.
func (m *Monitor) CapacityLoss(ctx context.Context) float64 {
	nodes, err := m.client.CoreV1().Nodes().List(ctx, metav1.ListOptions{})
	if err != nil {
		m.logger.Warn("capacity calculation failed", "error", err)
		return 0
	}
	total := len(nodes.Items)
	if total == 0 {
		return 0
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	return float64(len(m.unhealthy)) / float64(total)
}

func (m *Monitor) quarantineNode(ctx context.Context, name string, unhealthyFor time.Duration) {
	node, err := m.client.CoreV1().Nodes().Get(ctx, name, metav1.GetOptions{})
	if err != nil {
		m.logger.Warn("failed to quarantine node", "node_id", name, "error", err)
		return
	}
	node.Spec.Unschedulable = true
	if _, err := m.client.CoreV1().Nodes().Update(ctx, node, metav1.UpdateOptions{}); err != nil {
		m.logger.Warn("failed to quarantine node", "node_id", name, "error", err)
		return
	}
	m.quarantined[name] = true
	m.logger.Info("quarantined node", "node_id", name, "unhealthy_seconds", int(unhealthyFor.Seconds()))
}

func (m *Monitor) unquarantineNode(ctx context.Context, name string) {
	node, err := m.client.CoreV1().Nodes().Get(ctx, name, metav1.GetOptions{})
	if err != nil {
		m.logger.Warn("failed to unquarantine node", "node_id", name, "error", err)
		return
	}
	node.Spec.Unschedulable = false
	if _, err := m.client.CoreV1().Nodes().Update(ctx, node, metav1.UpdateOptions{}); err != nil {
		m.logger.Warn("failed to unquarantine node", "node_id", name, "error", err)
		return
	}
	delete(m.quarantined, name)
	m.logger.Info("unquarantined node", "node_id", name)
}

func nodeConditions(node *corev1.Node) (ready bool, schedulable bool) {
	schedulable = !node.Spec.Unschedulable
	for _, cond := range node.Status.Conditions {
		if cond.Type == corev1.NodeReady {
			ready = cond.Status == corev1.ConditionTrue
			break
		}
	}
	return ready, schedulable
}

func hasDrainingTaint(node *corev1.Node) bool {
	for _, taint := range node.Spec.Taints {
		if taint.Key == draining {
			return true
		}
	}
	return false
}

func quarantinedNames(m map[string]bool) []string {
	names := make([]string, 0, len(m))
	for name := range m {
		names = append(names, name)
	}
	return names
}
