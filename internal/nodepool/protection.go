package nodepool

// Drain protection, adapted from the teacher's internal/finalizer package:
// a node slated for removal carries a finalizer until the scaler has
// confirmed the pool's remaining capacity is healthy, so a crash mid-drain
// never leaves a node torn down with nothing to replace it.

import (
	"context"
	"fmt"
	"log/slog"

	corev1 "k8s.io/api/core/v1"
	apierrors "k8s.io/apimachinery/pkg/api/errors"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	"k8s.io/client-go/kubernetes"
)

// drainProtectionFinalizer blocks a node's actual API-server deletion until
// this package removes it; the scaler uses it purely as a crash-safe marker
// of "removal in progress", since node-pool shrink happens through the
// cloud provider API rather than a Kubernetes delete of the Node object.
const drainProtectionFinalizer = "nodepool.pulse/drain-protection"

// protector adds and removes the drain protection finalizer around a
// node's removal from the pool.
type protector struct {
	client kubernetes.Interface
	logger *slog.Logger
}

func newProtector(client kubernetes.Interface, logger *slog.Logger) *protector {
	if logger == nil {
		logger = slog.Default()
	}
	return &protector{client: client, logger: logger}
}

// protect adds the finalizer, marking the node as mid-removal.
func (p *protector) protect(ctx context.Context, nodeName string) error {
	node, err := p.client.CoreV1().Nodes().Get(ctx, nodeName, metav1.GetOptions{})
	if err != nil {
		return fmt.Errorf("get node %s: %w", nodeName, err)
	}
	if hasFinalizer(node) {
		return nil
	}
	node.Finalizers = append(node.Finalizers, drainProtectionFinalizer)
	if _, err := p.client.CoreV1().Nodes().Update(ctx, node, metav1.UpdateOptions{}); err != nil {
		return fmt.Errorf("add drain protection to node %s: %w", nodeName, err)
	}
	p.logger.Info("node marked drain-protected", "node_id", nodeName)
	return nil
}

// release removes the finalizer once remaining pool capacity is confirmed
// healthy, permitting the node object to be reaped.
func (p *protector) release(ctx context.Context, nodeName string) error {
	node, err := p.client.CoreV1().Nodes().Get(ctx, nodeName, metav1.GetOptions{})
	if err != nil {
		if apierrors.IsNotFound(err) {
			return nil
		}
		return fmt.Errorf("get node %s: %w", nodeName, err)
	}
	if !hasFinalizer(node) {
		return nil
	}
	kept := node.Finalizers[:0]
	for _, f := range node.Finalizers {
		if f != drainProtectionFinalizer {
			kept = append(kept, f)
		}
	}
	node.Finalizers = kept
	if _, err := p.client.CoreV1().Nodes().Update(ctx, node, metav1.UpdateOptions{}); err != nil {
		return fmt.Errorf("release drain protection on node %s: %w", nodeName, err)
	}
	p.logger.Info("node drain protection released", "node_id", nodeName)
	return nil
}

func hasFinalizer(node *corev1.Node) bool {
	for _, f := range node.Finalizers {
		if f == drainProtectionFinalizer {
			return true
		}
	}
	return false
}
