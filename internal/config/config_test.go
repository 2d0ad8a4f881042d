package config

import (
	"os"
	"path/filepath"
	"testing"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	if err := os.WriteFile(path, []byte(body), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return path
}

func TestLoadAppliesDefaults(t *testing.T) {
	path := writeConfig(t, `
cloud:
  provider: gcp
  projectId: my-project
workload:
  name: checkout
  namespace: prod
`)

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}

	if cfg.Replica.MinReplicas != 2 || cfg.Replica.MaxReplicas != 8 {
		t.Fatalf("replica bounds = [%d,%d], want [2,8]", cfg.Replica.MinReplicas, cfg.Replica.MaxReplicas)
	}
	if cfg.NodePool.MinNodes != 1 || cfg.NodePool.MaxNodes != 5 {
		t.Fatalf("node pool bounds = [%d,%d], want [1,5]", cfg.NodePool.MinNodes, cfg.NodePool.MaxNodes)
	}
	if cfg.Memory.MaxMemory != "2Gi" {
		t.Fatalf("memory.maxMemory = %q, want 2Gi", cfg.Memory.MaxMemory)
	}
	if cfg.NodeHealth.QuarantineThresholdSeconds != 300 {
		t.Fatalf("quarantine threshold = %d, want 300", cfg.NodeHealth.QuarantineThresholdSeconds)
	}
	if cfg.Cloud.Timezone != "Asia/Kolkata" {
		t.Fatalf("timezone = %q, want Asia/Kolkata", cfg.Cloud.Timezone)
	}
}

func TestLoadRejectsMissingWorkload(t *testing.T) {
	path := writeConfig(t, `
cloud:
  provider: gcp
  projectId: my-project
`)
	if _, err := Load(path); err == nil {
		t.Fatal("expected error for missing workload.name")
	}
}

func TestLoadRejectsInvertedReplicaBounds(t *testing.T) {
	path := writeConfig(t, `
cloud:
  provider: gcp
  projectId: my-project
workload:
  name: checkout
  namespace: prod
replica:
  minReplicas: 10
  maxReplicas: 2
`)
	if _, err := Load(path); err == nil {
		t.Fatal("expected error for minReplicas > maxReplicas")
	}
}

func TestLoadRejectsUnknownProvider(t *testing.T) {
	path := writeConfig(t, `
cloud:
  provider: azure
workload:
  name: checkout
  namespace: prod
`)
	if _, err := Load(path); err == nil {
		t.Fatal("expected error for unsupported cloud provider")
	}
}

func TestLoadMissingFile(t *testing.T) {
	if _, err := Load("/nonexistent/path.yaml"); err == nil {
		t.Fatal("expected error for missing file")
	}
}
