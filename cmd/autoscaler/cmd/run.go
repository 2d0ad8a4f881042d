package cmd

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"
	"google.golang.org/api/container/v1"
	"google.golang.org/api/monitoring/v3"
	"google.golang.org/api/option"
	pubsubapi "google.golang.org/api/pubsub/v1"
	"k8s.io/client-go/kubernetes"
	"k8s.io/client-go/rest"
	"k8s.io/client-go/tools/clientcmd"

	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/autoscaling"

	"github.com/pulsehq/autoscaler/internal/backlog"
	"github.com/pulsehq/autoscaler/internal/classifier"
	"github.com/pulsehq/autoscaler/internal/config"
	ingresshttp "github.com/pulsehq/autoscaler/internal/ingress/http"
	"github.com/pulsehq/autoscaler/internal/eventbus"
	"github.com/pulsehq/autoscaler/internal/ingress"
	"github.com/pulsehq/autoscaler/internal/memoryopt"
	"github.com/pulsehq/autoscaler/internal/metrics"
	"github.com/pulsehq/autoscaler/internal/nodehealth"
	"github.com/pulsehq/autoscaler/internal/nodepool"
	"github.com/pulsehq/autoscaler/internal/replica"
	"github.com/pulsehq/autoscaler/internal/timesource"
	"github.com/pulsehq/autoscaler/internal/window"
)

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Start the autoscaler's control loops",
	Long: `Run starts the event ingress loop, the node-health loop, and the
node-pool scaler loop, plus the aggregator HTTP ingress and the Prometheus
/metrics server. It blocks until SIGINT/SIGTERM.`,
	RunE: runAgent,
}

func init() {
	rootCmd.AddCommand(runCmd)
}

func runAgent(cmd *cobra.Command, args []string) error {
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	slog.Info("starting autoscaler", "dry_run", IsDryRun())

	cfg, err := config.Load(cfgFile)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	clock := timesource.New(cfg.Cloud.Timezone)

	k8sClient, err := buildKubernetesClient()
	if err != nil {
		return fmt.Errorf("fatal init error: build kubernetes client: %w", err)
	}

	clsfr := classifier.New("aggregator", classifier.DefaultThresholds())

	win := window.New(cfg.Replica.WindowSize)

	healthMonitor := nodehealth.New(k8sClient, clock, slog.Default(), cfg.NodeHealth.QuarantineThreshold())

	minMemory, err := memoryopt.ParseQuantity(cfg.Memory.MinMemory)
	if err != nil {
		return fmt.Errorf("parse memory.minMemory: %w", err)
	}
	maxMemory, err := memoryopt.ParseQuantity(cfg.Memory.MaxMemory)
	if err != nil {
		return fmt.Errorf("parse memory.maxMemory: %w", err)
	}
	defaultMemory, err := memoryopt.ParseQuantity(cfg.Memory.DefaultMemory)
	if err != nil {
		return fmt.Errorf("parse memory.defaultMemory: %w", err)
	}

	memOptimiser := memoryopt.New(k8sClient, clock, slog.Default(), memoryopt.Config{
		MinMemory:       minMemory,
		MaxMemory:       maxMemory,
		DefaultMemory:   defaultMemory,
		CooldownSeconds: cfg.Memory.CooldownSeconds,
		OOMThreshold:    cfg.Memory.OOMThreshold,
		OOMResetSeconds: cfg.Memory.OOMResetSeconds,
		IncrementFactor: cfg.Memory.IncrementFactor,
		DryRun:          IsDryRun(),
	})

	// backlogSrc stays a nil interface (not a typed nil *backlog.Probe) when
	// unavailable, so replica.Controller's "if c.backlogSrc != nil" check
	// behaves as fail-open rather than panicking on a nil receiver.
	var backlogSrc replica.BacklogSource
	if cfg.Cloud.Provider == "gcp" {
		monSvc, err := monitoring.NewService(ctx, option.WithScopes(monitoring.MonitoringReadScope))
		if err != nil {
			slog.Warn("cloud monitoring client unavailable, backlog probe disabled", "error", err)
		} else {
			backlogSrc = backlog.NewProbe(backlog.NewService(monSvc), cfg.Cloud.ProjectID, cfg.Cloud.EventSubscription, slog.Default())
		}
	}

	replicaController, err := replica.New(k8sClient, clock, slog.Default(), replica.Config{
		DeploymentName:             cfg.Workload.Name,
		Namespace:                  cfg.Workload.Namespace,
		WeightCPU:                  0.4,
		WeightLatency:              0.35,
		WeightErrors:               0.25,
		LatencyP95Threshold:        cfg.Replica.LatencyP95ThresholdMs,
		LatencyP99Threshold:        cfg.Replica.LatencyP99ThresholdMs,
		CompositeScaleUp:           cfg.Replica.CompositeScaleUp,
		CompositeScaleDown:         cfg.Replica.CompositeScaleDown,
		MinReplicas:                cfg.Replica.MinReplicas,
		MaxReplicas:                cfg.Replica.MaxReplicas,
		Cooldown:                   cfg.Replica.Cooldown(),
		MaxCrashLoopCount:          cfg.Replica.MaxCrashLoopCount,
		OOMScaleMultiplier:         cfg.Replica.OOMScaleMultiplier,
		NodeFailureScaleMultiplier: cfg.Replica.NodeFailureScaleMultiplier,
		NodeCapacityLossThreshold:  cfg.Replica.NodeCapacityLossThreshold,
		BacklogSizeHigh:            cfg.Replica.BacklogSizeHigh,
		OldestMessageAgeHigh:       cfg.Replica.OldestMessageAgeHighSeconds,
		CompositeExpression:        cfg.Replica.CompositeExpression,
	}, healthMonitor, backlogSrc, memOptimiser)
	if err != nil {
		return fmt.Errorf("fatal init error: build replica controller: %w", err)
	}

	resizer, err := buildPoolResizer(ctx, cfg)
	if err != nil {
		return fmt.Errorf("fatal init error: build node-pool resizer: %w", err)
	}
	if IsDryRun() {
		resizer = &dryRunResizer{inner: resizer}
	}

	drainer := nodepool.NewDrainer(k8sClient, slog.Default(), 30)
	nodeUsage := buildNodeUsageSource(cfg)
	poolScaler := nodepool.New(k8sClient, nodeUsage, resizer, drainer, clock, slog.Default(), nodepool.Config{
		MinNodes:           cfg.NodePool.MinNodes,
		MaxNodes:           cfg.NodePool.MaxNodes,
		ScaleUpThreshold:   cfg.NodePool.ScaleUpThreshold,
		ScaleDownThreshold: cfg.NodePool.ScaleDownThreshold,
		Cooldown:           cfg.NodePool.Cooldown(),
		DrainWait:          cfg.NodePool.DrainWait(),
	})

	pubsubSvc, err := pubsubapi.NewService(ctx)
	if err != nil {
		return fmt.Errorf("fatal init error: build pubsub client: %w", err)
	}
	topic := eventbus.NewTopic(pubsubSvc, cfg.Cloud.ProjectID, cfg.Cloud.EventTopic)
	subscription := eventbus.NewSubscription(pubsubSvc, cfg.Cloud.ProjectID, cfg.Cloud.EventSubscription)

	var decider ingress.Decider = replicaController
	if IsDryRun() {
		decider = &dryRunDecider{inner: replicaController}
	}

	ingressLoop := ingress.New(subscription, win, decider, slog.Default(), 10, ingress.MultiplierConfig{
		OOM:         cfg.Replica.OOMScaleMultiplier,
		NodeFailure: cfg.Replica.NodeFailureScaleMultiplier,
	}, eventsProcessedRecorder{})

	handler := ingresshttp.NewHandler(clsfr, topic, slog.Default())
	mux := http.NewServeMux()
	mux.Handle("/", handler)

	ingressSrv := &http.Server{Addr: fmt.Sprintf(":%d", cfg.Ingress.ListenPort), Handler: mux}
	metricsSrv := &http.Server{Addr: fmt.Sprintf(":%d", cfg.Server.MetricsPort), Handler: promhttp.Handler()}

	go func() {
		if err := ingressSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			slog.Error("aggregator ingress server failed", "error", err)
		}
	}()
	go func() {
		if err := metricsSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			slog.Error("metrics server failed", "error", err)
		}
	}()

	go ingressLoop.Run(ctx)
	go runTicker(ctx, cfg.NodeHealth.PollInterval(), func() {
		snap := healthMonitor.CheckNodeHealth(ctx)
		metrics.QuarantinedNodes.Set(float64(len(snap.QuarantinedNodes)))
	})
	go runTicker(ctx, cfg.NodePool.PollInterval(), func() {
		// Scale actions update metrics.NodePoolSize/NodePoolActionsTotal
		// themselves; this loop only needs to trigger the check.
		_, _, _ = poolScaler.CheckAndScale(ctx)
	})

	<-ctx.Done()
	slog.Info("shutdown signal received, draining in-flight work")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	_ = ingressSrv.Shutdown(shutdownCtx)
	_ = metricsSrv.Shutdown(shutdownCtx)

	return nil
}

func buildKubernetesClient() (kubernetes.Interface, error) {
	restCfg, err := rest.InClusterConfig()
	if err != nil {
		kubeconfig := os.Getenv("KUBECONFIG")
		if kubeconfig == "" {
			kubeconfig = os.Getenv("HOME") + "/.kube/config"
		}
		restCfg, err = clientcmd.BuildConfigFromFlags("", kubeconfig)
		if err != nil {
			return nil, fmt.Errorf("load kubernetes config: %w", err)
		}
	}
	return kubernetes.NewForConfig(restCfg)
}

func buildPoolResizer(ctx context.Context, cfg *config.Config) (nodepool.PoolResizer, error) {
	switch cfg.Cloud.Provider {
	case "aws":
		awsCfg, err := awsconfig.LoadDefaultConfig(ctx, awsconfig.WithRegion(cfg.Cloud.Region))
		if err != nil {
			return nil, fmt.Errorf("load aws config: %w", err)
		}
		client := autoscaling.NewFromConfig(awsCfg)
		return nodepool.NewAWSPoolResizer(client, cfg.Cloud.AutoScalingGroup), nil
	default:
		svc, err := container.NewService(ctx)
		if err != nil {
			return nil, fmt.Errorf("build gke client: %w", err)
		}
		poolPath := fmt.Sprintf("projects/%s/locations/%s/clusters/%s/nodePools/%s",
			cfg.Cloud.ProjectID, cfg.Cloud.Zone, cfg.Cloud.ClusterName, cfg.Cloud.NodePoolName)
		return nodepool.NewGCPPoolResizer(svc, poolPath), nil
	}
}

func runTicker(ctx context.Context, period time.Duration, f func()) {
	ticker := time.NewTicker(period)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			f()
		}
	}
}

type noopNodeUsage struct{}

func (noopNodeUsage) GetNodeMetrics(ctx context.Context) ([]metrics.NodeMetrics, error) {
	return nil, nil
}

// buildNodeUsageSource wires the node-pool scaler's CPU/memory usage query
// to the teacher's Prometheus client when a URL is configured; otherwise
// node metrics are left at zero, matching the cluster-only fallback.
func buildNodeUsageSource(cfg *config.Config) nodepool.NodeUsageSource {
	if cfg.Server.PrometheusURL == "" {
		return noopNodeUsage{}
	}
	client, err := metrics.NewClient(metrics.ClientConfig{PrometheusURL: cfg.Server.PrometheusURL})
	if err != nil {
		slog.Warn("prometheus client unavailable, node usage metrics disabled", "error", err)
		return noopNodeUsage{}
	}
	return client
}

type eventsProcessedRecorder struct{}

func (eventsProcessedRecorder) Observe(severity string) {
	metrics.EventsProcessedTotal.WithLabelValues(severity).Inc()
}
