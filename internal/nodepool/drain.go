// Drain logic for node-pool scale-down, adapted from the teacher's
// internal/controller/drain.go Eviction-API idiom (respecting
// PodDisruptionBudgets) and node_scaler.py's cordon/taint/drain sequence.
package nodepool

import (
	"context"
	"fmt"
	"log/slog"

	corev1 "k8s.io/api/core/v1"
	policyv1 "k8s.io/api/policy/v1"
	apierrors "k8s.io/apimachinery/pkg/api/errors"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	"k8s.io/client-go/kubernetes"
)

// drainingTaintKey marks a node as leaving on purpose; nodehealth treats a
// node carrying it as healthy regardless of readiness.
const drainingTaintKey = "node-scaler.pulse/draining"

// DrainResult reports the outcome of draining a node ahead of removal.
type DrainResult struct {
	NodeName    string
	PodsEvicted int
	PodsFailed  int
}

// Drainer cordons, taints, and evicts a node's pods before the node pool
// is shrunk.
type Drainer struct {
	client             kubernetes.Interface
	logger             *slog.Logger
	gracePeriodSeconds int64
}

// NewDrainer creates a Drainer. A zero gracePeriodSeconds defaults to 30s,
// matching node_scaler.py's delete_namespaced_pod grace period.
func NewDrainer(client kubernetes.Interface, logger *slog.Logger, gracePeriodSeconds int64) *Drainer {
	if logger == nil {
		logger = slog.Default()
	}
	if gracePeriodSeconds == 0 {
		gracePeriodSeconds = 30
	}
	return &Drainer{client: client, logger: logger, gracePeriodSeconds: gracePeriodSeconds}
}

// Cordon marks the node unschedulable and applies the draining taint.
func (d *Drainer) Cordon(ctx context.Context, nodeName string) error {
	node, err := d.client.CoreV1().Nodes().Get(ctx, nodeName, metav1.GetOptions{})
	if err != nil {
		return fmt.Errorf("get node %s: %w", nodeName, err)
	}

	node.Spec.Unschedulable = true

	hasTaint := false
	for _, t := range node.Spec.Taints {
		if t.Key == drainingTaintKey {
			hasTaint = true
			break
		}
	}
	if !hasTaint {
		node.Spec.Taints = append(node.Spec.Taints, corev1.Taint{
			Key:    drainingTaintKey,
			Value:  "true",
			Effect: corev1.TaintEffectNoSchedule,
		})
	}

	if _, err := d.client.CoreV1().Nodes().Update(ctx, node, metav1.UpdateOptions{}); err != nil {
		return fmt.Errorf("cordon node %s: %w", nodeName, err)
	}
	d.logger.Info("node cordoned and marked draining", "node_id", nodeName)
	return nil
}

// Drain evicts every non-DaemonSet, non-kube-system pod running on the
// node via the Eviction API, which respects PodDisruptionBudgets.
func (d *Drainer) Drain(ctx context.Context, nodeName string) (DrainResult, error) {
	result := DrainResult{NodeName: nodeName}

	pods, err := d.client.CoreV1().Pods("").List(ctx, metav1.ListOptions{
		FieldSelector: fmt.Sprintf("spec.nodeName=%s", nodeName),
	})
	if err != nil {
		return result, fmt.Errorf("list pods on node %s: %w", nodeName, err)
	}

	grace := d.gracePeriodSeconds
	for _, pod := range pods.Items {
		if isDaemonSetPod(&pod) || pod.Namespace == "kube-system" {
			continue
		}

		eviction := &policyv1.Eviction{
			ObjectMeta: metav1.ObjectMeta{
				Name:      pod.Name,
				Namespace: pod.Namespace,
			},
			DeleteOptions: &metav1.DeleteOptions{
				GracePeriodSeconds: &grace,
			},
		}

		err := d.client.CoreV1().Pods(pod.Namespace).EvictV1(ctx, eviction)
		if err != nil && !apierrors.IsNotFound(err) {
			if apierrors.IsTooManyRequests(err) {
				d.logger.Warn("PDB prevents eviction", "pod", pod.Name, "namespace", pod.Namespace, "error", err)
			} else {
				d.logger.Warn("failed to evict pod", "pod", pod.Name, "namespace", pod.Namespace, "error", err)
			}
			result.PodsFailed++
			continue
		}
		result.PodsEvicted++
		d.logger.Info("evicted pod", "pod", pod.Name, "namespace", pod.Namespace)
	}

	return result, nil
}

func isDaemonSetPod(pod *corev1.Pod) bool {
	for _, owner := range pod.OwnerReferences {
		if owner.Kind == "DaemonSet" {
			return true
		}
	}
	return false
}
