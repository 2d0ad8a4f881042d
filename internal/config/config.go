// Package config loads and validates the autoscaler's static configuration:
// cluster/cloud identifiers, the event topic/subscription names, and every
// threshold named in spec.md §4. Grounded on the teacher's config.go
// YAML-unmarshal-then-validate idiom.
package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the complete static configuration for one autoscaler instance.
type Config struct {
	Cloud      CloudConfig      `yaml:"cloud"`
	Workload   WorkloadConfig   `yaml:"workload"`
	NodePool   NodePoolConfig   `yaml:"nodePool"`
	Replica    ReplicaConfig    `yaml:"replica"`
	Memory     MemoryConfig     `yaml:"memory"`
	NodeHealth NodeHealthConfig `yaml:"nodeHealth"`
	Ingress    IngressConfig    `yaml:"ingress"`
	Server     ServerConfig     `yaml:"server"`
}

// CloudConfig selects and identifies the target cloud project/cluster.
type CloudConfig struct {
	// Provider is "gcp" or "aws"; selects the node-pool resizer and
	// backlog-metrics backend.
	Provider string `yaml:"provider"`

	ProjectID      string `yaml:"projectId"`
	Zone           string `yaml:"zone"`
	ClusterName    string `yaml:"clusterName"`
	NodePoolName   string `yaml:"nodePoolName"`
	Region         string `yaml:"region"`
	AutoScalingGroup string `yaml:"autoScalingGroup"`

	EventTopic        string `yaml:"eventTopic"`
	EventSubscription string `yaml:"eventSubscription"`

	// Timezone is the fixed location the time source reports through;
	// defaults to Asia/Kolkata matching the original deployment.
	Timezone string `yaml:"timezone"`
}

// WorkloadConfig names the single Deployment this instance manages.
type WorkloadConfig struct {
	Name      string `yaml:"name"`
	Namespace string `yaml:"namespace"`
}

// NodePoolConfig configures the node-pool scaler (component H).
type NodePoolConfig struct {
	MinNodes           int64   `yaml:"minNodes"`
	MaxNodes           int64   `yaml:"maxNodes"`
	ScaleUpThreshold   float64 `yaml:"scaleUpThreshold"`
	ScaleDownThreshold float64 `yaml:"scaleDownThreshold"`
	CooldownSeconds    int     `yaml:"cooldownSeconds"`
	DrainWaitSeconds   int     `yaml:"drainWaitSeconds"`
	PollIntervalSeconds int    `yaml:"pollIntervalSeconds"`
}

// ReplicaConfig configures the replica controller (component G).
type ReplicaConfig struct {
	MinReplicas                int32   `yaml:"minReplicas"`
	MaxReplicas                int32   `yaml:"maxReplicas"`
	CooldownSeconds            int     `yaml:"cooldownSeconds"`
	CompositeScaleUp           float64 `yaml:"compositeScaleUp"`
	CompositeScaleDown         float64 `yaml:"compositeScaleDown"`
	LatencyP95ThresholdMs      float64 `yaml:"latencyP95ThresholdMs"`
	LatencyP99ThresholdMs      float64 `yaml:"latencyP99ThresholdMs"`
	MaxCrashLoopCount          int     `yaml:"maxCrashLoopCount"`
	OOMScaleMultiplier         float64 `yaml:"oomScaleMultiplier"`
	NodeFailureScaleMultiplier float64 `yaml:"nodeFailureScaleMultiplier"`
	NodeCapacityLossThreshold  float64 `yaml:"nodeCapacityLossThreshold"`
	BacklogSizeHigh            int64   `yaml:"backlogSizeHigh"`
	OldestMessageAgeHighSeconds int64  `yaml:"oldestMessageAgeHighSeconds"`
	WindowSize                 int     `yaml:"windowSize"`

	// CompositeExpression optionally overrides the built-in weighted
	// composite-score formula with a govaluate expression over
	// cpu/latency/errors, each normalised to 0-100.
	CompositeExpression string `yaml:"compositeExpression"`
}

// MemoryConfig configures the memory-limit optimiser (component F).
type MemoryConfig struct {
	MinMemory       string  `yaml:"minMemory"`
	MaxMemory       string  `yaml:"maxMemory"`
	DefaultMemory   string  `yaml:"defaultMemory"`
	IncrementFactor float64 `yaml:"incrementFactor"`
	CooldownSeconds int     `yaml:"cooldownSeconds"`
	OOMThreshold    int     `yaml:"oomThreshold"`
	OOMResetSeconds int     `yaml:"oomResetSeconds"`
}

// NodeHealthConfig configures the node health monitor (component E).
type NodeHealthConfig struct {
	QuarantineThresholdSeconds int `yaml:"quarantineThresholdSeconds"`
	PollIntervalSeconds        int `yaml:"pollIntervalSeconds"`
}

// IngressConfig configures the HTTP aggregator ingress (component K).
type IngressConfig struct {
	ListenPort int `yaml:"listenPort"`
}

// ServerConfig configures the self-observability HTTP server (component M)
// and the Prometheus endpoint the node-pool scaler reads node usage from.
type ServerConfig struct {
	MetricsPort   int    `yaml:"metricsPort"`
	PrometheusURL string `yaml:"prometheusUrl"`
}

func (c *Config) applyDefaults() {
	if c.Cloud.Timezone == "" {
		c.Cloud.Timezone = "Asia/Kolkata"
	}
	if c.Cloud.Provider == "" {
		c.Cloud.Provider = "gcp"
	}

	if c.NodePool.MinNodes == 0 {
		c.NodePool.MinNodes = 1
	}
	if c.NodePool.MaxNodes == 0 {
		c.NodePool.MaxNodes = 5
	}
	if c.NodePool.ScaleUpThreshold == 0 {
		c.NodePool.ScaleUpThreshold = 0.80
	}
	if c.NodePool.ScaleDownThreshold == 0 {
		c.NodePool.ScaleDownThreshold = 0.35
	}
	if c.NodePool.CooldownSeconds == 0 {
		c.NodePool.CooldownSeconds = 180
	}
	if c.NodePool.DrainWaitSeconds == 0 {
		c.NodePool.DrainWaitSeconds = 30
	}
	if c.NodePool.PollIntervalSeconds == 0 {
		c.NodePool.PollIntervalSeconds = 120
	}

	if c.Replica.MinReplicas == 0 {
		c.Replica.MinReplicas = 2
	}
	if c.Replica.MaxReplicas == 0 {
		c.Replica.MaxReplicas = 8
	}
	if c.Replica.CooldownSeconds == 0 {
		c.Replica.CooldownSeconds = 60
	}
	if c.Replica.CompositeScaleUp == 0 {
		c.Replica.CompositeScaleUp = 70
	}
	if c.Replica.CompositeScaleDown == 0 {
		c.Replica.CompositeScaleDown = 30
	}
	if c.Replica.LatencyP95ThresholdMs == 0 {
		c.Replica.LatencyP95ThresholdMs = 500
	}
	if c.Replica.LatencyP99ThresholdMs == 0 {
		c.Replica.LatencyP99ThresholdMs = 1000
	}
	if c.Replica.MaxCrashLoopCount == 0 {
		c.Replica.MaxCrashLoopCount = 3
	}
	if c.Replica.OOMScaleMultiplier == 0 {
		c.Replica.OOMScaleMultiplier = 2
	}
	if c.Replica.NodeFailureScaleMultiplier == 0 {
		c.Replica.NodeFailureScaleMultiplier = 1.5
	}
	if c.Replica.NodeCapacityLossThreshold == 0 {
		c.Replica.NodeCapacityLossThreshold = 0.25
	}
	if c.Replica.BacklogSizeHigh == 0 {
		c.Replica.BacklogSizeHigh = 1000
	}
	if c.Replica.OldestMessageAgeHighSeconds == 0 {
		c.Replica.OldestMessageAgeHighSeconds = 60
	}
	if c.Replica.WindowSize == 0 {
		c.Replica.WindowSize = 5
	}

	if c.Memory.MinMemory == "" {
		c.Memory.MinMemory = "128Mi"
	}
	if c.Memory.MaxMemory == "" {
		c.Memory.MaxMemory = "2Gi"
	}
	if c.Memory.DefaultMemory == "" {
		c.Memory.DefaultMemory = "256Mi"
	}
	if c.Memory.IncrementFactor == 0 {
		c.Memory.IncrementFactor = 1.5
	}
	if c.Memory.CooldownSeconds == 0 {
		c.Memory.CooldownSeconds = 300
	}
	if c.Memory.OOMThreshold == 0 {
		c.Memory.OOMThreshold = 2
	}
	if c.Memory.OOMResetSeconds == 0 {
		c.Memory.OOMResetSeconds = 3600
	}

	if c.NodeHealth.QuarantineThresholdSeconds == 0 {
		c.NodeHealth.QuarantineThresholdSeconds = 300
	}
	if c.NodeHealth.PollIntervalSeconds == 0 {
		c.NodeHealth.PollIntervalSeconds = 30
	}

	if c.Ingress.ListenPort == 0 {
		c.Ingress.ListenPort = 8080
	}
	if c.Server.MetricsPort == 0 {
		c.Server.MetricsPort = 9090
	}
}

// Validate checks that the required identifiers are present and thresholds
// are sane. Called automatically by Load.
func (c *Config) Validate() error {
	if c.Workload.Name == "" {
		return fmt.Errorf("workload.name is required")
	}
	if c.Workload.Namespace == "" {
		return fmt.Errorf("workload.namespace is required")
	}
	if c.Cloud.ProjectID == "" && c.Cloud.Provider == "gcp" {
		return fmt.Errorf("cloud.projectId is required for provider gcp")
	}
	if c.Cloud.Provider != "gcp" && c.Cloud.Provider != "aws" {
		return fmt.Errorf("cloud.provider must be gcp or aws, got %q", c.Cloud.Provider)
	}
	if c.NodePool.MinNodes > c.NodePool.MaxNodes {
		return fmt.Errorf("nodePool.minNodes (%d) must be <= maxNodes (%d)", c.NodePool.MinNodes, c.NodePool.MaxNodes)
	}
	if c.Replica.MinReplicas > c.Replica.MaxReplicas {
		return fmt.Errorf("replica.minReplicas (%d) must be <= maxReplicas (%d)", c.Replica.MinReplicas, c.Replica.MaxReplicas)
	}
	return nil
}

// Load reads and validates configuration from a YAML file, applying the
// defaults named throughout spec.md §4 for any threshold left unset.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config file %s: %w", path, err)
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("parse config file %s: %w", path, err)
	}

	cfg.applyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	return &cfg, nil
}

// Cooldown returns the node-pool scaler cooldown as a duration.
func (c *NodePoolConfig) Cooldown() time.Duration {
	return time.Duration(c.CooldownSeconds) * time.Second
}

// DrainWait returns the post-drain pause before resize as a duration.
func (c *NodePoolConfig) DrainWait() time.Duration {
	return time.Duration(c.DrainWaitSeconds) * time.Second
}

// PollInterval returns the node-pool scaler's poll period as a duration.
func (c *NodePoolConfig) PollInterval() time.Duration {
	return time.Duration(c.PollIntervalSeconds) * time.Second
}

// Cooldown returns the replica controller cooldown as a duration.
func (c *ReplicaConfig) Cooldown() time.Duration {
	return time.Duration(c.CooldownSeconds) * time.Second
}

// QuarantineThreshold returns the node-health quarantine threshold as a duration.
func (c *NodeHealthConfig) QuarantineThreshold() time.Duration {
	return time.Duration(c.QuarantineThresholdSeconds) * time.Second
}

// PollInterval returns the node-health monitor's poll period as a duration.
func (c *NodeHealthConfig) PollInterval() time.Duration {
	return time.Duration(c.PollIntervalSeconds) * time.Second
}
