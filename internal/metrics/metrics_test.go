package metrics

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestReplicaCountGauge(t *testing.T) {
	ReplicaCount.WithLabelValues("checkout", "prod").Set(4)
	got := testutil.ToFloat64(ReplicaCount.WithLabelValues("checkout", "prod"))
	if got != 4 {
		t.Fatalf("ReplicaCount = %v, want 4", got)
	}
}

func TestScaleActionsTotalIncrements(t *testing.T) {
	before := testutil.ToFloat64(ScaleActionsTotal.WithLabelValues("up", "high load"))
	ScaleActionsTotal.WithLabelValues("up", "high load").Inc()
	after := testutil.ToFloat64(ScaleActionsTotal.WithLabelValues("up", "high load"))
	if after != before+1 {
		t.Fatalf("ScaleActionsTotal did not increment: before=%v after=%v", before, after)
	}
}

func TestQuarantinedNodesGauge(t *testing.T) {
	QuarantinedNodes.Set(2)
	if got := testutil.ToFloat64(QuarantinedNodes); got != 2 {
		t.Fatalf("QuarantinedNodes = %v, want 2", got)
	}
}
