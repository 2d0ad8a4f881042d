package backlog

import (
	"context"
	"errors"
	"testing"
	"time"

	monitoring "google.golang.org/api/monitoring/v3"
)

type fakeService struct {
	byMetric map[string][]*monitoring.TimeSeries
	err      map[string]error
}

func (f *fakeService) ListTimeSeries(ctx context.Context, project, filter string, start, end time.Time) ([]*monitoring.TimeSeries, error) {
	metricType := metricTypeFromFilter(filter)
	if err, ok := f.err[metricType]; ok {
		return nil, err
	}
	return f.byMetric[metricType], nil
}

// metricTypeFromFilter extracts the metric.type value the probe embedded
// in its filter string, letting the fake route per metric without
// depending on the probe's internal filter format beyond this substring.
func metricTypeFromFilter(filter string) string {
	for _, mt := range []string{metricBacklogSize, metricOldestAge} {
		if contains(filter, mt) {
			return mt
		}
	}
	return ""
}

func contains(s, substr string) bool {
	return len(s) >= len(substr) && (func() bool {
		for i := 0; i+len(substr) <= len(s); i++ {
			if s[i:i+len(substr)] == substr {
				return true
			}
		}
		return false
	})()
}

func TestBacklogStatsReadsPoints(t *testing.T) {
	fake := &fakeService{
		byMetric: map[string][]*monitoring.TimeSeries{
			metricBacklogSize: {{Points: []*monitoring.Point{{Value: &monitoring.TypedValue{Int64Value: 42}}}}},
			metricOldestAge:   {{Points: []*monitoring.Point{{Value: &monitoring.TypedValue{Int64Value: 17}}}}},
		},
	}
	p := NewProbe(fake, "proj", "sub", nil)

	stats := p.BacklogStats(context.Background())
	if stats.BacklogSize != 42 || stats.OldestMessageAge != 17 {
		t.Fatalf("got %+v", stats)
	}
}

func TestBacklogStatsFailsOpenOnError(t *testing.T) {
	fake := &fakeService{
		err: map[string]error{
			metricBacklogSize: errors.New("boom"),
			metricOldestAge:   errors.New("boom"),
		},
	}
	p := NewProbe(fake, "proj", "sub", nil)

	stats := p.BacklogStats(context.Background())
	if stats.BacklogSize != 0 || stats.OldestMessageAge != 0 {
		t.Fatalf("expected zero stats on failure, got %+v", stats)
	}
}

func TestBacklogStatsNoPointsReturnsZero(t *testing.T) {
	fake := &fakeService{byMetric: map[string][]*monitoring.TimeSeries{}}
	p := NewProbe(fake, "proj", "sub", nil)

	stats := p.BacklogStats(context.Background())
	if stats.BacklogSize != 0 || stats.OldestMessageAge != 0 {
		t.Fatalf("expected zero stats when no series returned, got %+v", stats)
	}
}
