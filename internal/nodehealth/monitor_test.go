package nodehealth

import (
	"context"
	"testing"
	"time"

	corev1 "k8s.io/api/core/v1"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	"k8s.io/client-go/kubernetes/fake"

	"github.com/pulsehq/autoscaler/internal/timesource"
)

func readyNode(name string) *corev1.Node {
	return &corev1.Node{
		ObjectMeta: metav1.ObjectMeta{Name: name},
		Status: corev1.NodeStatus{
			Conditions: []corev1.NodeCondition{
				{Type: corev1.NodeReady, Status: corev1.ConditionTrue},
			},
		},
	}
}

func notReadyNode(name string) *corev1.Node {
	return &corev1.Node{
		ObjectMeta: metav1.ObjectMeta{Name: name},
		Status: corev1.NodeStatus{
			Conditions: []corev1.NodeCondition{
				{Type: corev1.NodeReady, Status: corev1.ConditionFalse},
			},
		},
	}
}

func TestCheckNodeHealthCountsHealthy(t *testing.T) {
	client := fake.NewSimpleClientset(readyNode("node-a"), readyNode("node-b"))
	clock := timesource.NewFixed(time.Now())
	m := New(client, clock, nil, time.Minute)

	snap := m.CheckNodeHealth(context.Background())
	if snap.TotalNodes != 2 || snap.HealthyNodes != 2 {
		t.Fatalf("got %+v", snap)
	}
}

func TestNotReadyNodeQuarantinedAfterThreshold(t *testing.T) {
	client := fake.NewSimpleClientset(notReadyNode("node-a"))
	clock := timesource.NewFixed(time.Now())
	m := New(client, clock, nil, 100*time.Second)

	snap := m.CheckNodeHealth(context.Background())
	if len(snap.QuarantinedNodes) != 0 {
		t.Fatalf("should not quarantine immediately, got %+v", snap)
	}

	clock.Advance(101 * time.Second)
	snap = m.CheckNodeHealth(context.Background())
	if len(snap.QuarantinedNodes) != 1 {
		t.Fatalf("expected node quarantined after threshold, got %+v", snap)
	}

	node, err := client.CoreV1().Nodes().Get(context.Background(), "node-a", metav1.GetOptions{})
	if err != nil {
		t.Fatalf("get node: %v", err)
	}
	if !node.Spec.Unschedulable {
		t.Fatalf("expected node patched unschedulable")
	}
}

func TestCordonedButReadyNodeQuarantinedAfterThreshold(t *testing.T) {
	node := readyNode("node-a")
	node.Spec.Unschedulable = true
	client := fake.NewSimpleClientset(node)
	clock := timesource.NewFixed(time.Now())
	m := New(client, clock, nil, 100*time.Second)

	snap := m.CheckNodeHealth(context.Background())
	if len(snap.QuarantinedNodes) != 0 {
		t.Fatalf("should not quarantine immediately, got %+v", snap)
	}

	clock.Advance(101 * time.Second)
	snap = m.CheckNodeHealth(context.Background())
	if len(snap.QuarantinedNodes) != 1 {
		t.Fatalf("expected cordoned-but-ready node quarantined after threshold, got %+v", snap)
	}
}

func TestDrainingTaintExemptsFromUnhealthy(t *testing.T) {
	node := notReadyNode("node-a")
	node.Spec.Taints = []corev1.Taint{{Key: draining, Effect: corev1.TaintEffectNoSchedule}}
	client := fake.NewSimpleClientset(node)
	clock := timesource.NewFixed(time.Now())
	m := New(client, clock, nil, time.Second)

	snap := m.CheckNodeHealth(context.Background())
	if snap.HealthyNodes != 1 {
		t.Fatalf("draining node should count healthy, got %+v", snap)
	}
}

func TestRecoveredNodeIsUnquarantined(t *testing.T) {
	client := fake.NewSimpleClientset(notReadyNode("node-a"))
	clock := timesource.NewFixed(time.Now())
	m := New(client, clock, nil, 10*time.Second)

	m.CheckNodeHealth(context.Background())
	clock.Advance(11 * time.Second)
	m.CheckNodeHealth(context.Background())

	node, _ := client.CoreV1().Nodes().Get(context.Background(), "node-a", metav1.GetOptions{})
	node.Status.Conditions[0].Status = corev1.ConditionTrue
	if _, err := client.CoreV1().Nodes().Update(context.Background(), node, metav1.UpdateOptions{}); err != nil {
		t.Fatalf("update: %v", err)
	}

	snap := m.CheckNodeHealth(context.Background())
	if len(snap.QuarantinedNodes) != 0 {
		t.Fatalf("expected unquarantine on recovery, got %+v", snap)
	}
	node, _ = client.CoreV1().Nodes().Get(context.Background(), "node-a", metav1.GetOptions{})
	if node.Spec.Unschedulable {
		t.Fatalf("expected node marked schedulable again")
	}
}

func TestCapacityLossFraction(t *testing.T) {
	client := fake.NewSimpleClientset(readyNode("node-a"), notReadyNode("node-b"))
	clock := timesource.NewFixed(time.Now())
	m := New(client, clock, nil, time.Minute)

	m.CheckNodeHealth(context.Background())
	loss := m.CapacityLoss(context.Background())
	if loss != 0.5 {
		t.Fatalf("expected 0.5 capacity loss, got %v", loss)
	}
}
