// Package backlog queries Cloud Monitoring for Pub/Sub subscription
// backlog depth and oldest-message age, grounded on pubsub_monitor.py.
// A query failure never propagates: callers get zero-value stats and a
// logged warning, since backlog pressure is an input to scaling
// decisions, not a condition the agent should ever fail loudly on.
package backlog

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	monitoring "google.golang.org/api/monitoring/v3"

	"github.com/pulsehq/autoscaler/internal/metrics"
)

const (
	metricBacklogSize = "pubsub.googleapis.com/subscription/num_undelivered_messages"
	metricOldestAge   = "pubsub.googleapis.com/subscription/oldest_unacked_message_age"
	lookback          = 5 * time.Minute
)

// Stats reports the current backlog pressure for a subscription.
type Stats struct {
	BacklogSize      int64
	OldestMessageAge int64 // seconds
}

// Service is the subset of the Cloud Monitoring client the probe needs,
// satisfied by *monitoring.Service and fakeable in tests.
type Service interface {
	ListTimeSeries(ctx context.Context, project, filter string, start, end time.Time) ([]*monitoring.TimeSeries, error)
}

// apiService adapts the generated monitoring/v3 client to Service.
type apiService struct {
	svc *monitoring.Service
}

func (a *apiService) ListTimeSeries(ctx context.Context, project, filter string, start, end time.Time) ([]*monitoring.TimeSeries, error) {
	name := fmt.Sprintf("projects/%s", project)
	call := a.svc.Projects.TimeSeries.List(name).
		Filter(filter).
		IntervalStartTime(start.UTC().Format(time.RFC3339)).
		IntervalEndTime(end.UTC().Format(time.RFC3339)).
		View("FULL").
		Context(ctx)

	resp, err := call.Do()
	if err != nil {
		return nil, err
	}
	return resp.TimeSeries, nil
}

// NewService wraps a *monitoring.Service (from monitoring.NewService(ctx, opts...)).
func NewService(svc *monitoring.Service) Service {
	return &apiService{svc: svc}
}

// Probe polls Cloud Monitoring for a single Pub/Sub subscription's backlog.
type Probe struct {
	svc            Service
	projectID      string
	subscriptionID string
	logger         *slog.Logger
}

// NewProbe creates a Probe for the given project/subscription.
func NewProbe(svc Service, projectID, subscriptionID string, logger *slog.Logger) *Probe {
	if logger == nil {
		logger = slog.Default()
	}
	return &Probe{svc: svc, projectID: projectID, subscriptionID: subscriptionID, logger: logger}
}

// BacklogStats returns the current backlog size and oldest-message age.
// Any failure on either metric query is swallowed and reported as zero,
// matching get_backlog_stats's fail-open behavior.
func (p *Probe) BacklogStats(ctx context.Context) Stats {
	size, err := p.queryMetric(ctx, metricBacklogSize)
	if err != nil {
		p.logger.Warn("pubsub monitoring failed", "metric", metricBacklogSize, "error", err)
		size = 0
	}

	age, err := p.queryMetric(ctx, metricOldestAge)
	if err != nil {
		p.logger.Warn("pubsub monitoring failed", "metric", metricOldestAge, "error", err)
		age = 0
	}

	metrics.BacklogSize.Set(float64(size))
	return Stats{BacklogSize: size, OldestMessageAge: age}
}

func (p *Probe) queryMetric(ctx context.Context, metricType string) (int64, error) {
	now := time.Now()
	filter := fmt.Sprintf(
		`metric.type = "%s" AND resource.labels.subscription_id = "%s"`,
		metricType, p.subscriptionID,
	)

	series, err := p.svc.ListTimeSeries(ctx, p.projectID, filter, now.Add(-lookback), now)
	if err != nil {
		return 0, fmt.Errorf("list time series for %s: %w", metricType, err)
	}

	for _, ts := range series {
		if len(ts.Points) == 0 {
			continue
		}
		point := ts.Points[0]
		if point.Value == nil {
			continue
		}
		if point.Value.Int64Value != 0 {
			return point.Value.Int64Value, nil
		}
		if point.Value.DoubleValue != 0 {
			return int64(point.Value.DoubleValue), nil
		}
	}

	return 0, nil
}
