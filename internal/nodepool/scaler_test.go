package nodepool

import (
	"context"
	"strings"
	"testing"
	"time"

	corev1 "k8s.io/api/core/v1"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	"k8s.io/client-go/kubernetes/fake"

	"github.com/pulsehq/autoscaler/internal/metrics"
	"github.com/pulsehq/autoscaler/internal/timesource"
)

func readyNode(name string) *corev1.Node {
	return &corev1.Node{
		ObjectMeta: metav1.ObjectMeta{Name: name},
		Status: corev1.NodeStatus{
			Conditions: []corev1.NodeCondition{{Type: corev1.NodeReady, Status: corev1.ConditionTrue}},
		},
	}
}

type fakeResizer struct {
	calls []int64
}

func (f *fakeResizer) Provider() string { return "fake" }
func (f *fakeResizer) SetSize(ctx context.Context, desired int64) error {
	f.calls = append(f.calls, desired)
	return nil
}

type fakeUsage struct {
	metrics []metrics.NodeMetrics
}

func (f fakeUsage) GetNodeMetrics(ctx context.Context) ([]metrics.NodeMetrics, error) {
	return f.metrics, nil
}

func TestShouldScaleUpOnHighCPU(t *testing.T) {
	client := fake.NewSimpleClientset(readyNode("n1"))
	clock := timesource.NewFixed(time.Now())
	resizer := &fakeResizer{}
	s := New(client, nil, resizer, nil, clock, nil, Config{MaxNodes: 5})

	summary := Summary{NodeCount: 1, AvgCPUPercent: 90}
	up, reason := s.ShouldScaleUp(summary, nil)
	if !up || reason == "" {
		t.Fatalf("expected scale up on high CPU, got up=%v reason=%q", up, reason)
	}
}

func TestShouldScaleUpBlockedAtMax(t *testing.T) {
	client := fake.NewSimpleClientset()
	clock := timesource.NewFixed(time.Now())
	s := New(client, nil, &fakeResizer{}, nil, clock, nil, Config{MaxNodes: 2})

	summary := Summary{NodeCount: 2, AvgCPUPercent: 95}
	up, _ := s.ShouldScaleUp(summary, nil)
	if up {
		t.Fatalf("should not scale up at max nodes")
	}
}

func TestShouldScaleUpOnUnschedulablePods(t *testing.T) {
	client := fake.NewSimpleClientset()
	clock := timesource.NewFixed(time.Now())
	s := New(client, nil, &fakeResizer{}, nil, clock, nil, Config{MaxNodes: 5})

	summary := Summary{NodeCount: 1, AvgCPUPercent: 10}
	up, reason := s.ShouldScaleUp(summary, []UnschedulablePod{{Name: "p1"}, {Name: "p2"}})
	if !up || reason == "" {
		t.Fatalf("expected scale up on unschedulable pods, got %v %q", up, reason)
	}
	if !strings.Contains(reason, "p1") || !strings.Contains(reason, "p2") {
		t.Fatalf("expected reason to name unschedulable pods, got %q", reason)
	}
}

func TestShouldScaleDownUnderutilized(t *testing.T) {
	client := fake.NewSimpleClientset()
	clock := timesource.NewFixed(time.Now())
	s := New(client, nil, &fakeResizer{}, nil, clock, nil, Config{MinNodes: 1, ScaleDownThreshold: 0.35})

	summary := Summary{
		NodeCount:        2,
		AvgCPUPercent:    10,
		AvgMemoryPercent: 10,
		Nodes: []NodeUtil{
			{Name: "low", CPUPercent: 5},
			{Name: "high", CPUPercent: 50},
		},
	}
	down, reason, node := s.ShouldScaleDown(summary)
	if !down || node != "low" || reason == "" {
		t.Fatalf("expected scale down of low node, got down=%v node=%q reason=%q", down, node, reason)
	}
}

func TestShouldScaleDownBlockedAtMin(t *testing.T) {
	client := fake.NewSimpleClientset()
	clock := timesource.NewFixed(time.Now())
	s := New(client, nil, &fakeResizer{}, nil, clock, nil, Config{MinNodes: 2})

	summary := Summary{NodeCount: 2}
	down, _, _ := s.ShouldScaleDown(summary)
	if down {
		t.Fatalf("should not scale down at min nodes")
	}
}

func TestCooldownBlocksRepeatedScaling(t *testing.T) {
	client := fake.NewSimpleClientset(readyNode("n1"))
	clock := timesource.NewFixed(time.Now())
	resizer := &fakeResizer{}
	s := New(client, nil, resizer, nil, clock, nil, Config{MaxNodes: 5, Cooldown: 3 * time.Minute})

	if !s.ScaleUp(context.Background(), "first") {
		t.Fatalf("first scale up should succeed")
	}

	summary := Summary{NodeCount: 2, AvgCPUPercent: 95}
	up, reason := s.ShouldScaleUp(summary, nil)
	if up {
		t.Fatalf("expected cooldown to block scale up, reason=%q", reason)
	}

	clock.Advance(4 * time.Minute)
	up, _ = s.ShouldScaleUp(summary, nil)
	if !up {
		t.Fatalf("expected scale up allowed after cooldown")
	}
}

func TestGetNodeMetricsAggregatesUsage(t *testing.T) {
	client := fake.NewSimpleClientset(readyNode("n1"), readyNode("n2"))
	clock := timesource.NewFixed(time.Now())
	usage := fakeUsage{metrics: []metrics.NodeMetrics{
		{NodeID: "n1", CPUUsagePercent: 20, MemoryUsagePercent: 30},
		{NodeID: "n2", CPUUsagePercent: 60, MemoryUsagePercent: 70},
	}}
	s := New(client, usage, &fakeResizer{}, nil, clock, nil, Config{})

	summary := s.GetNodeMetrics(context.Background())
	if summary.NodeCount != 2 {
		t.Fatalf("expected 2 nodes, got %d", summary.NodeCount)
	}
	if summary.AvgCPUPercent != 40 {
		t.Fatalf("expected avg cpu 40, got %v", summary.AvgCPUPercent)
	}
}

func TestScaleDownCordonsDrainsAndResizes(t *testing.T) {
	node := readyNode("n1")
	client := fake.NewSimpleClientset(node, readyNode("n2"))
	clock := timesource.NewFixed(time.Now())
	resizer := &fakeResizer{}
	drainer := NewDrainer(client, nil, 1)
	s := New(client, nil, resizer, drainer, clock, nil, Config{MinNodes: 1, DrainWait: 0})

	ok := s.ScaleDown(context.Background(), "underutilized", "n1")
	if !ok {
		t.Fatalf("expected scale down to succeed")
	}
	if len(resizer.calls) != 1 || resizer.calls[0] != 1 {
		t.Fatalf("expected resize to 1, got %+v", resizer.calls)
	}

	updated, err := client.CoreV1().Nodes().Get(context.Background(), "n1", metav1.GetOptions{})
	if err != nil {
		t.Fatalf("get node: %v", err)
	}
	if !updated.Spec.Unschedulable {
		t.Fatalf("expected node cordoned")
	}
}
