// Package replica implements the composite-score replica scaling
// decision and its execution against a Deployment, grounded on
// autoscaler.py's should_scale/execute_scale/check_pod_health.
package replica

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	"k8s.io/client-go/kubernetes"

	"github.com/pulsehq/autoscaler/internal/backlog"
	"github.com/pulsehq/autoscaler/internal/memoryopt"
	"github.com/pulsehq/autoscaler/internal/metrics"
	"github.com/pulsehq/autoscaler/internal/nodehealth"
	"github.com/pulsehq/autoscaler/internal/timesource"
	"github.com/pulsehq/autoscaler/internal/window"
)

// Health is the outcome of CheckPodHealth.
type Health string

const (
	HealthHealthy   Health = "healthy"
	HealthUnhealthy Health = "unhealthy"
	HealthOOM       Health = "oom"
	HealthUnknown   Health = "unknown"
)

// NodeHealthSource reports cluster node health, satisfied by *nodehealth.Monitor.
type NodeHealthSource interface {
	CheckNodeHealth(ctx context.Context) nodehealth.Snapshot
	CapacityLoss(ctx context.Context) float64
}

// BacklogSource reports Pub/Sub backlog pressure, satisfied by *backlog.Probe.
type BacklogSource interface {
	BacklogStats(ctx context.Context) backlog.Stats
}

// MemoryAdjuster records OOM events and adjusts a workload's memory limits,
// satisfied by *memoryopt.Optimiser.
type MemoryAdjuster interface {
	RecordOOM(pod string) bool
	ShouldAdjust(workload, namespace string) bool
	AdjustMemory(ctx context.Context, workload, namespace string) (memoryopt.AdjustResult, error)
}

// Config holds every threshold the scaling decision consults.
type Config struct {
	DeploymentName string
	Namespace      string

	CompositeScaleUp   float64
	CompositeScaleDown float64
	WeightCPU          float64
	WeightLatency      float64
	WeightErrors       float64

	LatencyP95Threshold float64
	LatencyP99Threshold float64

	MinReplicas int32
	MaxReplicas int32
	Cooldown    time.Duration

	MaxCrashLoopCount int
	OOMScaleMultiplier float64

	BacklogSizeHigh            int64
	OldestMessageAgeHigh       int64
	NodeFailureScaleMultiplier float64
	NodeCapacityLossThreshold  float64

	// CompositeExpression optionally overrides the built-in weighted
	// composite formula with a govaluate expression over cpu/latency/errors.
	CompositeExpression string
}

func (c *Config) applyDefaults() {
	if c.MinReplicas == 0 {
		c.MinReplicas = 2
	}
	if c.MaxReplicas == 0 {
		c.MaxReplicas = 8
	}
	if c.Cooldown == 0 {
		c.Cooldown = 60 * time.Second
	}
	if c.MaxCrashLoopCount == 0 {
		c.MaxCrashLoopCount = 3
	}
	if c.OOMScaleMultiplier == 0 {
		c.OOMScaleMultiplier = 2
	}
	if c.NodeFailureScaleMultiplier == 0 {
		c.NodeFailureScaleMultiplier = 1.5
	}
	if c.NodeCapacityLossThreshold == 0 {
		c.NodeCapacityLossThreshold = 0.25
	}
}

// Controller decides and executes replica-count changes for one Deployment.
type Controller struct {
	client kubernetes.Interface
	clock  timesource.Source
	logger *slog.Logger
	cfg    Config
	score  *scoreEvaluator

	nodeHealth NodeHealthSource
	backlogSrc BacklogSource
	memory     MemoryAdjuster

	mu            sync.Mutex
	crashLoop     map[string]int
	oomEvents     map[string]time.Time
	lastScaleTime time.Time
}

// New creates a Controller. nodeHealth, backlogSrc, and memory may be nil,
// matching autoscaler.py's "monitor init failed" degrade-gracefully path.
func New(client kubernetes.Interface, clock timesource.Source, logger *slog.Logger, cfg Config, nodeHealth NodeHealthSource, backlogSrc BacklogSource, memory MemoryAdjuster) (*Controller, error) {
	cfg.applyDefaults()
	if logger == nil {
		logger = slog.Default()
	}
	score, err := newScoreEvaluator(cfg)
	if err != nil {
		return nil, err
	}
	return &Controller{
		client:     client,
		clock:      clock,
		logger:     logger,
		cfg:        cfg,
		score:      score,
		nodeHealth: nodeHealth,
		backlogSrc: backlogSrc,
		memory:     memory,
		crashLoop:  make(map[string]int),
		oomEvents:  make(map[string]time.Time),
	}, nil
}

// CheckPodHealth inspects the deployment's pods for CrashLoopBackOff and
// OOMKilled conditions, triggering a memory adjustment when an OOM crosses
// the optimiser's threshold.
func (c *Controller) CheckPodHealth(ctx context.Context) Health {
	pods, err := c.client.CoreV1().Pods(c.cfg.Namespace).List(ctx, metav1.ListOptions{
		LabelSelector: fmt.Sprintf("app=%s", c.cfg.DeploymentName),
	})
	if err != nil {
		c.logger.Warn("pod health check failed", "error", err)
		return HealthUnknown
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	for _, pod := range pods.Items {
		name := pod.Name
		for _, cs := range pod.Status.ContainerStatuses {
			if cs.State.Waiting != nil && cs.State.Waiting.Reason == "CrashLoopBackOff" {
				c.crashLoop[name]++
				if c.crashLoop[name] >= c.cfg.MaxCrashLoopCount {
					c.logger.Error("pod crash looping", "pod", name)
					return HealthUnhealthy
				}
			}

			if cs.LastTerminationState.Terminated != nil && cs.LastTerminationState.Terminated.Reason == "OOMKilled" {
				c.oomEvents[name] = c.clock.Now()
				c.logger.Warn("pod OOMKilled", "pod", name)

				if c.memory != nil && c.memory.RecordOOM(name) && c.memory.ShouldAdjust(c.cfg.DeploymentName, c.cfg.Namespace) {
					result, err := c.memory.AdjustMemory(ctx, c.cfg.DeploymentName, c.cfg.Namespace)
					if err != nil {
						c.logger.Warn("memory adjustment failed", "error", err)
					} else if result.Adjusted {
						c.logger.Info("memory limit increased", "from", result.Previous, "to", result.Current)
					}
				}
				return HealthOOM
			}

			if cs.State.Running != nil {
				delete(c.crashLoop, name)
			}
		}
	}
	return HealthHealthy
}

// ShouldScale decides whether to scale up, down, or hold, returning the
// action ("up"/"down"/"") and a human-readable reason.
func (c *Controller) ShouldScale(ctx context.Context, stats window.Stats, critical bool) (string, string) {
	if stats.Count < 3 {
		return "", "Not enough data"
	}

	switch c.CheckPodHealth(ctx) {
	case HealthUnhealthy:
		return "", "Pods unhealthy"
	case HealthOOM:
		return "up", "OOM detected"
	}

	if c.nodeHealth != nil {
		snap := c.nodeHealth.CheckNodeHealth(ctx)
		if len(snap.NotReadyNodes) > 0 {
			loss := c.nodeHealth.CapacityLoss(ctx)
			c.logger.Info("node failures detected", "not_ready", len(snap.NotReadyNodes), "capacity_loss", loss)

			if snap.HealthyNodes == 0 {
				return "", "No healthy nodes"
			}
			if loss > c.cfg.NodeCapacityLossThreshold {
				return "up", "Node failure"
			}
		}
	}

	if c.backlogSrc != nil {
		b := c.backlogSrc.BacklogStats(ctx)
		if b.BacklogSize > 0 {
			c.logger.Info("backlog pressure", "backlog_size", b.BacklogSize, "oldest_age", b.OldestMessageAge)
		}
		if b.BacklogSize > c.cfg.BacklogSizeHigh {
			return "up", "Backlog high"
		}
		if b.OldestMessageAge > c.cfg.OldestMessageAgeHigh {
			return "up", "Message age high"
		}
	}

	if critical {
		return "up", "Critical event"
	}

	comp, err := c.score.evaluate(stats)
	if err != nil {
		c.logger.Warn("composite score evaluation failed", "error", err)
		return "", "Normal"
	}
	c.logger.Info("composite score", "composite", comp.Composite, "cpu", comp.CPU, "latency", comp.Latency, "errors", comp.Errors)
	metrics.CompositeScore.Set(comp.Composite)

	violate := stats.LatencyP95 > c.cfg.LatencyP95Threshold || stats.LatencyP99 > c.cfg.LatencyP99Threshold

	if comp.Composite > c.cfg.CompositeScaleUp || violate || stats.SpikeDetected {
		return "up", "High load"
	}

	if comp.Composite < c.cfg.CompositeScaleDown && stats.Trend != window.TrendIncreasing && stats.Trend != window.TrendSpiking {
		return "down", "Low load"
	}

	return "", "Normal"
}

// ExecuteScale patches the Deployment's replica count. bypassCooldown skips
// the cooldown gate for emergency scale-ups; multiplier controls how large
// a scale-up step is taken (1.0 means a single replica step).
func (c *Controller) ExecuteScale(ctx context.Context, action string, bypassCooldown bool, multiplier float64, reason string) (bool, error) {
	c.mu.Lock()
	if !c.lastScaleTime.IsZero() && !bypassCooldown {
		elapsed := c.clock.Since(c.lastScaleTime)
		if elapsed < c.cfg.Cooldown {
			remaining := c.cfg.Cooldown - elapsed
			c.mu.Unlock()
			c.logger.Info("scale blocked by cooldown", "remaining_seconds", int(remaining.Seconds()))
			return false, nil
		}
	}
	c.mu.Unlock()

	dep, err := c.client.AppsV1().Deployments(c.cfg.Namespace).Get(ctx, c.cfg.DeploymentName, metav1.GetOptions{})
	if err != nil {
		return false, fmt.Errorf("read deployment: %w", err)
	}

	current := c.cfg.MinReplicas
	if dep.Spec.Replicas != nil {
		current = *dep.Spec.Replicas
	}

	var next int32
	if action == "up" {
		inc := int32(1)
		if multiplier > 1 {
			inc = int32(float64(current) * (multiplier - 1))
			if inc < 1 {
				inc = 1
			}
		}
		next = current + inc
		if next > c.cfg.MaxReplicas {
			next = c.cfg.MaxReplicas
		}
	} else {
		next = current - 1
		if next < c.cfg.MinReplicas {
			next = c.cfg.MinReplicas
		}
	}

	if next == current {
		c.logger.Info("scale limit reached", "replicas", current)
		return false, nil
	}

	dep.Spec.Replicas = &next
	if _, err := c.client.AppsV1().Deployments(c.cfg.Namespace).Update(ctx, dep, metav1.UpdateOptions{}); err != nil {
		return false, fmt.Errorf("patch deployment replicas: %w", err)
	}

	c.mu.Lock()
	c.lastScaleTime = c.clock.Now()
	c.mu.Unlock()

	metrics.ScaleActionsTotal.WithLabelValues(action, reason).Inc()
	metrics.ReplicaCount.WithLabelValues(c.cfg.DeploymentName, c.cfg.Namespace).Set(float64(next))

	c.logger.Info("scaled", "action", action, "from", current, "to", next, "reason", reason)
	return true, nil
}
