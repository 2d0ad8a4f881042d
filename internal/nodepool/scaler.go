// Package nodepool implements the node-pool size controller: it reads
// per-node CPU/memory utilization, decides whether to grow or shrink the
// pool, and executes the change through a PoolResizer. Grounded on
// node_scaler.py.
package nodepool

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"sync"
	"time"

	corev1 "k8s.io/api/core/v1"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	"k8s.io/client-go/kubernetes"

	"github.com/pulsehq/autoscaler/internal/metrics"
	"github.com/pulsehq/autoscaler/internal/timesource"
)

// UnschedulablePod describes a Pending pod that cannot be placed due to
// insufficient resources.
type UnschedulablePod struct {
	Name      string
	Namespace string
	Message   string
}

// NodeUtil is one node's resource pressure.
type NodeUtil struct {
	Name          string
	CPUPercent    float64
	MemoryPercent float64
	PodCount      int
}

// Summary aggregates utilization across the pool.
type Summary struct {
	AvgCPUPercent    float64
	AvgMemoryPercent float64
	NodeCount        int
	TotalPods        int
	Nodes            []NodeUtil
}

// NodeUsageSource supplies per-node CPU/memory usage, satisfied by
// *metrics.Client (adapted from the teacher's Prometheus client).
type NodeUsageSource interface {
	GetNodeMetrics(ctx context.Context) ([]metrics.NodeMetrics, error)
}

// Config holds the scaler's tunables.
type Config struct {
	MinNodes          int64
	MaxNodes          int64
	ScaleUpThreshold   float64 // fraction, e.g. 0.80
	ScaleDownThreshold float64 // fraction, e.g. 0.35
	Cooldown           time.Duration
	// DrainWait is how long to pause after draining before resizing the
	// pool, giving evicted pods time to reschedule. Zero skips the wait;
	// production wiring sets this to 30s.
	DrainWait time.Duration
}

func (c *Config) applyDefaults() {
	if c.MinNodes == 0 {
		c.MinNodes = 1
	}
	if c.MaxNodes == 0 {
		c.MaxNodes = 5
	}
	if c.ScaleUpThreshold == 0 {
		c.ScaleUpThreshold = 0.80
	}
	if c.ScaleDownThreshold == 0 {
		c.ScaleDownThreshold = 0.35
	}
	if c.Cooldown == 0 {
		c.Cooldown = 3 * time.Minute
	}
}

// scaleRecord is one entry in the scaler's bounded action history.
type scaleRecord struct {
	at       time.Time
	action   string
	oldCount int64
	newCount int64
	reason   string
}

const maxHistory = 50

// Scaler decides and executes node-pool size changes.
type Scaler struct {
	client     kubernetes.Interface
	usage      NodeUsageSource
	resizer    PoolResizer
	drainer    *Drainer
	protection *protector
	clock      timesource.Source
	logger     *slog.Logger
	cfg        Config

	mu            sync.Mutex
	lastAction    string
	lastScaleTime time.Time
	history       []scaleRecord
}

// New creates a Scaler.
func New(client kubernetes.Interface, usage NodeUsageSource, resizer PoolResizer, drainer *Drainer, clock timesource.Source, logger *slog.Logger, cfg Config) *Scaler {
	cfg.applyDefaults()
	if logger == nil {
		logger = slog.Default()
	}
	return &Scaler{
		client:     client,
		usage:      usage,
		resizer:    resizer,
		drainer:    drainer,
		protection: newProtector(client, logger),
		clock:      clock,
		logger:     logger,
		cfg:        cfg,
	}
}

// CurrentNodeCount returns the number of Ready nodes.
func (s *Scaler) CurrentNodeCount(ctx context.Context) int {
	nodes, err := s.client.CoreV1().Nodes().List(ctx, metav1.ListOptions{})
	if err != nil {
		s.logger.Warn("failed to get node count", "error", err)
		return 0
	}
	count := 0
	for _, n := range nodes.Items {
		if isNodeReady(&n) {
			count++
		}
	}
	return count
}

func isNodeReady(node *corev1.Node) bool {
	for _, cond := range node.Status.Conditions {
		if cond.Type == corev1.NodeReady {
			return cond.Status == corev1.ConditionTrue
		}
	}
	return false
}

// GetNodeMetrics computes per-node and aggregate CPU/memory utilization,
// combining allocatable capacity and pod counts from the Kubernetes API
// with usage percentages from NodeUsageSource.
func (s *Scaler) GetNodeMetrics(ctx context.Context) Summary {
	nodes, err := s.client.CoreV1().Nodes().List(ctx, metav1.ListOptions{})
	if err != nil {
		s.logger.Warn("failed to list nodes for metrics", "error", err)
		return Summary{}
	}

	usageByNode := map[string]metrics.NodeMetrics{}
	if s.usage != nil {
		if usage, err := s.usage.GetNodeMetrics(ctx); err != nil {
			s.logger.Warn("failed to get node usage metrics", "error", err)
		} else {
			for _, u := range usage {
				usageByNode[u.NodeID] = u
			}
		}
	}

	var utils []NodeUtil
	totalPods := 0

	for _, node := range nodes.Items {
		if !isNodeReady(&node) {
			continue
		}

		pods, err := s.client.CoreV1().Pods("").List(ctx, metav1.ListOptions{
			FieldSelector: fmt.Sprintf("spec.nodeName=%s", node.Name),
		})
		podCount := 0
		if err == nil {
			for _, p := range pods.Items {
				if p.Status.Phase == corev1.PodRunning || p.Status.Phase == corev1.PodPending {
					podCount++
				}
			}
		}
		totalPods += podCount

		u := usageByNode[node.Name]
		utils = append(utils, NodeUtil{
			Name:          node.Name,
			CPUPercent:    u.CPUUsagePercent,
			MemoryPercent: u.MemoryUsagePercent,
			PodCount:      podCount,
		})
	}

	if len(utils) == 0 {
		return Summary{}
	}

	var cpuSum, memSum float64
	for _, u := range utils {
		cpuSum += u.CPUPercent
		memSum += u.MemoryPercent
	}

	return Summary{
		AvgCPUPercent:    cpuSum / float64(len(utils)),
		AvgMemoryPercent: memSum / float64(len(utils)),
		NodeCount:        len(utils),
		TotalPods:        totalPods,
		Nodes:            utils,
	}
}

// GetUnschedulablePods returns Pending pods rejected for insufficient
// resources.
func (s *Scaler) GetUnschedulablePods(ctx context.Context) []UnschedulablePod {
	pods, err := s.client.CoreV1().Pods("").List(ctx, metav1.ListOptions{})
	if err != nil {
		s.logger.Warn("failed to get unschedulable pods", "error", err)
		return nil
	}

	var result []UnschedulablePod
	for _, pod := range pods.Items {
		if pod.Status.Phase != corev1.PodPending {
			continue
		}
		for _, cond := range pod.Status.Conditions {
			if cond.Reason != "Unschedulable" {
				continue
			}
			if strings.Contains(strings.ToLower(cond.Message), "insufficient") {
				result = append(result, UnschedulablePod{Name: pod.Name, Namespace: pod.Namespace, Message: cond.Message})
				break
			}
		}
	}
	return result
}

// ShouldScaleUp decides whether the pool needs another node.
func (s *Scaler) ShouldScaleUp(summary Summary, unschedulable []UnschedulablePod) (bool, string) {
	if summary.NodeCount >= int(s.cfg.MaxNodes) {
		return false, fmt.Sprintf("Already at max nodes (%d)", s.cfg.MaxNodes)
	}
	if !s.cooldownExpired() {
		return false, fmt.Sprintf("In cooldown period (%ds remaining)", s.cooldownRemaining())
	}
	if len(unschedulable) > 0 {
		names := make([]string, 0, 3)
		for i, p := range unschedulable {
			if i >= 3 {
				break
			}
			names = append(names, p.Name)
		}
		return true, fmt.Sprintf("CRITICAL: %d unschedulable pods (%s)", len(unschedulable), strings.Join(names, ", "))
	}
	if summary.AvgCPUPercent > s.cfg.ScaleUpThreshold*100 {
		return true, fmt.Sprintf("High CPU utilization: %.1f%%", summary.AvgCPUPercent)
	}
	if summary.AvgMemoryPercent > s.cfg.ScaleUpThreshold*100 {
		return true, fmt.Sprintf("High memory utilization: %.1f%%", summary.AvgMemoryPercent)
	}
	for _, n := range summary.Nodes {
		if n.CPUPercent > 90 {
			return true, fmt.Sprintf("Node %s overloaded: %.1f%% CPU", n.Name, n.CPUPercent)
		}
	}
	return false, "Cluster utilization within normal range"
}

// ShouldScaleDown decides whether a node can be removed, and if so which.
func (s *Scaler) ShouldScaleDown(summary Summary) (bool, string, string) {
	if summary.NodeCount <= int(s.cfg.MinNodes) {
		return false, fmt.Sprintf("Already at min nodes (%d)", s.cfg.MinNodes), ""
	}
	if !s.cooldownExpired() {
		return false, fmt.Sprintf("In cooldown period (%ds remaining)", s.cooldownRemaining()), ""
	}
	if summary.AvgCPUPercent > s.cfg.ScaleDownThreshold*100 {
		return false, fmt.Sprintf("CPU still utilized: %.1f%%", summary.AvgCPUPercent), ""
	}
	if summary.AvgMemoryPercent > s.cfg.ScaleDownThreshold*100 {
		return false, fmt.Sprintf("Memory still utilized: %.1f%%", summary.AvgMemoryPercent), ""
	}
	if len(summary.Nodes) > 1 {
		sorted := append([]NodeUtil(nil), summary.Nodes...)
		sort.Slice(sorted, func(i, j int) bool { return sorted[i].CPUPercent < sorted[j].CPUPercent })
		least := sorted[0]
		if least.CPUPercent < s.cfg.ScaleDownThreshold*100 {
			return true, fmt.Sprintf("Node %s underutilized: CPU=%.1f%%, Pods=%d", least.Name, least.CPUPercent, least.PodCount), least.Name
		}
	}
	return false, "No nodes suitable for removal", ""
}

// ScaleUp grows the pool by one node.
func (s *Scaler) ScaleUp(ctx context.Context, reason string) bool {
	current := int64(s.CurrentNodeCount(ctx))
	target := current + 1

	if err := s.resizer.SetSize(ctx, target); err != nil {
		s.logger.Warn("failed to scale up nodes", "error", err)
		return false
	}

	s.recordScaleAction("scale_up", current, target, reason)
	s.logger.Info("scaled up node pool", "from", current, "to", target, "reason", reason)
	return true
}

// ScaleDown cordons, drains, and removes one node, then shrinks the pool.
// The node carries a drain-protection finalizer from the moment it is
// chosen until the pool's remaining capacity is confirmed healthy, so a
// crash between drain and resize never leaves a node torn down with no
// verified replacement capacity behind it.
func (s *Scaler) ScaleDown(ctx context.Context, reason, nodeName string) bool {
	current := int64(s.CurrentNodeCount(ctx))
	target := current - 1

	if err := s.protection.protect(ctx, nodeName); err != nil {
		s.logger.Warn("failed to add drain protection", "node_id", nodeName, "error", err)
	}

	if err := s.drainer.Cordon(ctx, nodeName); err != nil {
		s.logger.Warn("failed to cordon node", "node_id", nodeName, "error", err)
	}
	result, err := s.drainer.Drain(ctx, nodeName)
	if err != nil {
		s.logger.Warn("drain failed", "node_id", nodeName, "error", err)
	}
	s.logger.Info("drained node", "node_id", nodeName, "pods_evicted", result.PodsEvicted, "pods_failed", result.PodsFailed)

	if s.cfg.DrainWait > 0 {
		time.Sleep(s.cfg.DrainWait)
	}

	if err := s.resizer.SetSize(ctx, target); err != nil {
		s.logger.Warn("failed to scale down nodes", "error", err)
		return false
	}

	if s.remainingCapacityHealthy(ctx, nodeName) {
		if err := s.protection.release(ctx, nodeName); err != nil {
			s.logger.Warn("failed to release drain protection", "node_id", nodeName, "error", err)
		}
	} else {
		s.logger.Warn("remaining pool capacity unhealthy after scale-down, keeping drain protection", "node_id", nodeName)
	}

	s.recordScaleAction("scale_down", current, target, reason)
	s.logger.Info("scaled down node pool", "from", current, "to", target, "reason", reason, "removed_node", nodeName)
	return true
}

// remainingCapacityHealthy reports whether every other Ready node is still
// Ready, i.e. the pool isn't being left worse off by removing nodeName.
func (s *Scaler) remainingCapacityHealthy(ctx context.Context, nodeName string) bool {
	nodes, err := s.client.CoreV1().Nodes().List(ctx, metav1.ListOptions{})
	if err != nil {
		s.logger.Warn("failed to verify remaining capacity", "error", err)
		return false
	}
	for _, n := range nodes.Items {
		if n.Name == nodeName {
			continue
		}
		if !isNodeReady(&n) {
			return false
		}
	}
	return true
}

// CheckAndScale runs one scale evaluation cycle.
func (s *Scaler) CheckAndScale(ctx context.Context) (bool, string, string) {
	summary := s.GetNodeMetrics(ctx)
	unschedulable := s.GetUnschedulablePods(ctx)

	s.logger.Info("node scaler check",
		"nodes", summary.NodeCount, "max_nodes", s.cfg.MaxNodes,
		"avg_cpu", summary.AvgCPUPercent, "avg_memory", summary.AvgMemoryPercent,
		"total_pods", summary.TotalPods, "unschedulable", len(unschedulable),
	)

	if up, reason := s.ShouldScaleUp(summary, unschedulable); up {
		return s.ScaleUp(ctx, reason), "scale_up", reason
	}

	down, downReason, nodeName := s.ShouldScaleDown(summary)
	if down {
		return s.ScaleDown(ctx, downReason, nodeName), "scale_down", downReason
	}

	return false, "no_action", downReason
}

func (s *Scaler) cooldownExpired() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.lastScaleTime.IsZero() {
		return true
	}
	return s.clock.Since(s.lastScaleTime) >= s.cfg.Cooldown
}

func (s *Scaler) cooldownRemaining() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.lastScaleTime.IsZero() {
		return 0
	}
	remaining := s.cfg.Cooldown - s.clock.Since(s.lastScaleTime)
	if remaining < 0 {
		return 0
	}
	return int(remaining.Seconds())
}

func (s *Scaler) recordScaleAction(action string, oldCount, newCount int64, reason string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.lastAction = action
	s.lastScaleTime = s.clock.Now()
	s.history = append(s.history, scaleRecord{at: s.lastScaleTime, action: action, oldCount: oldCount, newCount: newCount, reason: reason})
	if len(s.history) > maxHistory {
		s.history = s.history[len(s.history)-maxHistory:]
	}

	metrics.NodePoolSize.Set(float64(newCount))
	metrics.NodePoolActionsTotal.WithLabelValues(action).Inc()
}
