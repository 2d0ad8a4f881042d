package nodepool

import (
	"context"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/autoscaling"
	container "google.golang.org/api/container/v1"
)

// Compile-time interface checks.
var (
	_ PoolResizer = (*GCPPoolResizer)(nil)
	_ PoolResizer = (*AWSPoolResizer)(nil)
)

// PoolResizer sets a node pool's desired node count, routed to a concrete
// cloud implementation the way the teacher's capacity.Router dispatches a
// CapacityManager by detected provisioner.
type PoolResizer interface {
	Provider() string
	SetSize(ctx context.Context, desired int64) error
}

// GCPPoolResizer resizes a GKE node pool via the container/v1 API, grounded
// on node_scaler.py's container_v1.ClusterManagerClient.set_node_pool_size.
type GCPPoolResizer struct {
	svc      *container.Service
	poolPath string
}

// NewGCPPoolResizer wraps a *container.Service (from container.NewService(ctx, opts...)).
// poolPath is "projects/{project}/locations/{zone}/clusters/{cluster}/nodePools/{pool}".
func NewGCPPoolResizer(svc *container.Service, poolPath string) *GCPPoolResizer {
	return &GCPPoolResizer{svc: svc, poolPath: poolPath}
}

func (g *GCPPoolResizer) Provider() string { return "gcp" }

func (g *GCPPoolResizer) SetSize(ctx context.Context, desired int64) error {
	req := &container.SetNodePoolSizeRequest{NodeCount: desired}
	op, err := g.svc.Projects.Locations.Clusters.NodePools.SetSize(g.poolPath, req).Context(ctx).Do()
	if err != nil {
		return fmt.Errorf("set node pool size: %w", err)
	}
	_ = op
	return nil
}

// AWSPoolResizer resizes an Auto Scaling Group via SetDesiredCapacity,
// grounded on the teacher's internal/capacity/aws_asg_client.go.
type AWSPoolResizer struct {
	client *autoscaling.Client
	asgName string
}

// NewAWSPoolResizer wraps an *autoscaling.Client for a single named ASG.
func NewAWSPoolResizer(client *autoscaling.Client, asgName string) *AWSPoolResizer {
	return &AWSPoolResizer{client: client, asgName: asgName}
}

func (a *AWSPoolResizer) Provider() string { return "aws" }

func (a *AWSPoolResizer) SetSize(ctx context.Context, desired int64) error {
	_, err := a.client.SetDesiredCapacity(ctx, &autoscaling.SetDesiredCapacityInput{
		AutoScalingGroupName: aws.String(a.asgName),
		DesiredCapacity:      aws.Int32(int32(desired)),
		HonorCooldown:        aws.Bool(false),
	})
	if err != nil {
		return fmt.Errorf("set desired capacity: %w", err)
	}
	return nil
}
