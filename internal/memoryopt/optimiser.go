// Package memoryopt implements the memory-limit optimiser: it tracks OOM
// kills per pod and patches a workload's container memory limits once a
// threshold is crossed. Grounded on memory_optimizer.py.
package memoryopt

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	corev1 "k8s.io/api/core/v1"
	"k8s.io/apimachinery/pkg/api/resource"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	"k8s.io/client-go/kubernetes"

	"github.com/pulsehq/autoscaler/internal/metrics"
	"github.com/pulsehq/autoscaler/internal/timesource"
)

// Config holds the optimiser's tunables; zero values fall back to
// spec.md 4.F's defaults.
type Config struct {
	MinMemory        Quantity // default 128Mi
	MaxMemory        Quantity // default 2Gi
	DefaultMemory    Quantity // default 256Mi, used when a container has no limit set
	IncrementFactor  float64  // default 1.5
	CooldownSeconds  int      // default 300
	OOMThreshold     int      // default 2
	OOMResetSeconds  int      // default 3600
	DryRun           bool
}

func (c *Config) applyDefaults() {
	if c.MinMemory == 0 {
		c.MinMemory = 128 * mebi
	}
	if c.MaxMemory == 0 {
		c.MaxMemory = 2 * gibi
	}
	if c.DefaultMemory == 0 {
		c.DefaultMemory = 256 * mebi
	}
	if c.IncrementFactor == 0 {
		c.IncrementFactor = 1.5
	}
	if c.CooldownSeconds == 0 {
		c.CooldownSeconds = 300
	}
	if c.OOMThreshold == 0 {
		c.OOMThreshold = 2
	}
	if c.OOMResetSeconds == 0 {
		c.OOMResetSeconds = 3600
	}
}

type oomRecord struct {
	count    int
	lastSeen time.Time
}

// AdjustResult reports the outcome of AdjustMemory.
type AdjustResult struct {
	Adjusted bool
	Previous string
	Current  string
}

// Optimiser tracks per-pod OOM history and per-workload adjustment cooldowns.
type Optimiser struct {
	mu     sync.Mutex
	client kubernetes.Interface
	clock  timesource.Source
	logger *slog.Logger
	cfg    Config

	oomHistory     map[string]oomRecord
	lastAdjustment map[string]time.Time
}

// New creates an Optimiser.
func New(client kubernetes.Interface, clock timesource.Source, logger *slog.Logger, cfg Config) *Optimiser {
	cfg.applyDefaults()
	if logger == nil {
		logger = slog.Default()
	}
	return &Optimiser{
		client:         client,
		clock:          clock,
		logger:         logger,
		cfg:            cfg,
		oomHistory:     make(map[string]oomRecord),
		lastAdjustment: make(map[string]time.Time),
	}
}

// RecordOOM increments pod's OOM counter, resetting it if the last OOM was
// over OOMResetSeconds ago. Returns true once the counter reaches
// OOMThreshold.
func (o *Optimiser) RecordOOM(pod string) bool {
	o.mu.Lock()
	defer o.mu.Unlock()

	now := o.clock.Now()
	rec, ok := o.oomHistory[pod]
	if !ok || now.Sub(rec.lastSeen).Seconds() > float64(o.cfg.OOMResetSeconds) {
		rec = oomRecord{count: 1, lastSeen: now}
	} else {
		rec.count++
		rec.lastSeen = now
	}
	o.oomHistory[pod] = rec

	metrics.OOMEventsTotal.WithLabelValues(pod).Inc()
	o.logger.Info("oom event recorded", "pod", pod, "count", rec.count)
	return rec.count >= o.cfg.OOMThreshold
}

// ShouldAdjust gates adjustments by a per-workload cooldown.
func (o *Optimiser) ShouldAdjust(workload, namespace string) bool {
	o.mu.Lock()
	defer o.mu.Unlock()

	key := namespace + "/" + workload
	last, ok := o.lastAdjustment[key]
	if !ok {
		return true
	}

	elapsed := o.clock.Since(last)
	if elapsed.Seconds() < float64(o.cfg.CooldownSeconds) {
		remaining := float64(o.cfg.CooldownSeconds) - elapsed.Seconds()
		o.logger.Info("memory adjustment cooldown active", "workload", key, "remaining_seconds", int(remaining))
		return false
	}
	return true
}

// AdjustMemory reads the first container's memory limit, multiplies it by
// IncrementFactor, clamps to [MinMemory, MaxMemory], and patches both
// limits.memory and requests.memory. Returns a no-op result when already at
// the cap.
func (o *Optimiser) AdjustMemory(ctx context.Context, workload, namespace string) (AdjustResult, error) {
	dep, err := o.client.AppsV1().Deployments(namespace).Get(ctx, workload, metav1.GetOptions{})
	if err != nil {
		return AdjustResult{}, fmt.Errorf("read deployment %s/%s: %w", namespace, workload, err)
	}

	containers := dep.Spec.Template.Spec.Containers
	if len(containers) == 0 {
		return AdjustResult{}, fmt.Errorf("deployment %s/%s has no containers", namespace, workload)
	}
	container := &containers[0]

	currentStr := o.cfg.DefaultMemory.String()
	if container.Resources.Limits != nil {
		if q, ok := container.Resources.Limits[corev1.ResourceMemory]; ok {
			currentStr = q.String()
		}
	}

	currentBytes, err := ParseQuantity(currentStr)
	if err != nil {
		currentBytes = o.cfg.DefaultMemory
	}

	metrics.MemoryLimitBytes.WithLabelValues(workload, namespace).Set(float64(currentBytes))

	if currentBytes >= o.cfg.MaxMemory {
		o.logger.Info("already at maximum memory limit", "workload", workload, "current", currentBytes.String())
		return AdjustResult{Adjusted: false, Previous: currentBytes.String(), Current: currentBytes.String()}, nil
	}

	newBytes := currentBytes.Mul(o.cfg.IncrementFactor).Clamp(o.cfg.MinMemory, o.cfg.MaxMemory)

	if o.cfg.DryRun {
		o.logger.Info("dry-run: would adjust memory limit", "workload", workload, "from", currentBytes.String(), "to", newBytes.String())
		o.markAdjusted(namespace, workload)
		return AdjustResult{Adjusted: true, Previous: currentBytes.String(), Current: newBytes.String()}, nil
	}

	if container.Resources.Limits == nil {
		container.Resources.Limits = corev1.ResourceList{}
	}
	if container.Resources.Requests == nil {
		container.Resources.Requests = corev1.ResourceList{}
	}
	newQty := mustParseResourceQuantity(newBytes.String())
	container.Resources.Limits[corev1.ResourceMemory] = newQty
	container.Resources.Requests[corev1.ResourceMemory] = newQty

	if _, err := o.client.AppsV1().Deployments(namespace).Update(ctx, dep, metav1.UpdateOptions{}); err != nil {
		return AdjustResult{}, fmt.Errorf("patch deployment %s/%s: %w", namespace, workload, err)
	}

	o.markAdjusted(namespace, workload)
	metrics.MemoryLimitBytes.WithLabelValues(workload, namespace).Set(float64(newBytes))
	o.logger.Info("memory limit adjusted", "workload", workload, "from", currentBytes.String(), "to", newBytes.String())

	return AdjustResult{Adjusted: true, Previous: currentBytes.String(), Current: newBytes.String()}, nil
}

func (o *Optimiser) markAdjusted(namespace, workload string) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.lastAdjustment[namespace+"/"+workload] = o.clock.Now()
}

// mustParseResourceQuantity converts our own Quantity's string form into a
// k8s.io/apimachinery resource.Quantity. The format is always a valid
// Ki/Mi/Gi suffix, so parsing cannot fail; a failure indicates a bug in
// Quantity.String, not bad input, so it is fine to fall back to zero.
func mustParseResourceQuantity(s string) resource.Quantity {
	q, err := resource.ParseQuantity(s)
	if err != nil {
		return resource.Quantity{}
	}
	return q
}
