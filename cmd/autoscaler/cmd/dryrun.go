package cmd

import (
	"context"
	"log/slog"

	"github.com/pulsehq/autoscaler/internal/nodepool"
	"github.com/pulsehq/autoscaler/internal/window"
)

// dryRunResizer logs a node-pool resize instead of executing it, matching
// --dry-run's "log decisions without patching the cluster" contract.
type dryRunResizer struct {
	inner nodepool.PoolResizer
}

func (d *dryRunResizer) Provider() string { return d.inner.Provider() }

func (d *dryRunResizer) SetSize(ctx context.Context, desired int64) error {
	slog.Info("dry-run: would resize node pool", "provider", d.inner.Provider(), "desired", desired)
	return nil
}

// replicaDecider is the subset of *replica.Controller the dry-run wrapper
// needs; it has the same method set as internal/ingress.Decider.
type replicaDecider interface {
	ShouldScale(ctx context.Context, stats window.Stats, critical bool) (string, string)
	ExecuteScale(ctx context.Context, action string, bypassCooldown bool, multiplier float64, reason string) (bool, error)
}

// dryRunDecider still asks the replica controller to decide, so the
// decision logic and its logging run unchanged, but never executes a patch.
// Because the controller's ExecuteScale is never called, its cooldown is
// never started in dry-run mode.
type dryRunDecider struct {
	inner replicaDecider
}

func (d *dryRunDecider) ShouldScale(ctx context.Context, stats window.Stats, critical bool) (string, string) {
	return d.inner.ShouldScale(ctx, stats, critical)
}

func (d *dryRunDecider) ExecuteScale(ctx context.Context, action string, bypassCooldown bool, multiplier float64, reason string) (bool, error) {
	slog.Info("dry-run: would execute scale", "action", action, "reason", reason, "multiplier", multiplier, "bypass_cooldown", bypassCooldown)
	return true, nil
}
