package ingress

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/pulsehq/autoscaler/internal/eventbus"
	"github.com/pulsehq/autoscaler/internal/telemetry"
	"github.com/pulsehq/autoscaler/internal/window"
)

type fakeSubscriber struct {
	batches [][]eventbus.Message
	acked   [][]string
}

func (f *fakeSubscriber) Pull(ctx context.Context, max int64) ([]eventbus.Message, error) {
	if len(f.batches) == 0 {
		return nil, nil
	}
	next := f.batches[0]
	f.batches = f.batches[1:]
	return next, nil
}

func (f *fakeSubscriber) Ack(ctx context.Context, ackIDs []string) error {
	f.acked = append(f.acked, ackIDs)
	return nil
}

type fakeWindow struct {
	added []map[string]float64
	stats window.Stats
}

func (w *fakeWindow) Add(ts time.Time, values map[string]float64) {
	w.added = append(w.added, values)
}

func (w *fakeWindow) Stats() window.Stats { return w.stats }

type fakeDecider struct {
	action       string
	reason       string
	executed     []string
	bypassCalled bool
}

func (d *fakeDecider) ShouldScale(ctx context.Context, stats window.Stats, critical bool) (string, string) {
	return d.action, d.reason
}

func (d *fakeDecider) ExecuteScale(ctx context.Context, action string, bypassCooldown bool, multiplier float64, reason string) (bool, error) {
	d.executed = append(d.executed, action+":"+reason)
	if bypassCooldown {
		d.bypassCalled = true
	}
	return true, nil
}

func encode(t *testing.T, e telemetry.Event) []byte {
	t.Helper()
	data, err := json.Marshal(e)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	return data
}

func runOneBatch(t *testing.T, sub *fakeSubscriber, win *fakeWindow, dec *fakeDecider) {
	t.Helper()
	loop := New(sub, win, dec, nil, 10, MultiplierConfig{}, nil)
	ctx, cancel := context.WithCancel(context.Background())
	// Stop once the queued batches are drained: cancel as soon as Pull
	// would next return nil with no more batches queued.
	go func() {
		for len(sub.batches) > 0 {
			time.Sleep(time.Millisecond)
		}
		time.Sleep(5 * time.Millisecond)
		cancel()
	}()
	loop.Run(ctx)
}

func TestCriticalEventBypassesCooldown(t *testing.T) {
	event := telemetry.Event{Severity: telemetry.SeverityCritical, EventType: telemetry.EventTypeLog, Log: "disk full"}
	sub := &fakeSubscriber{batches: [][]eventbus.Message{{{AckID: "1", Data: encode(t, event)}}}}
	win := &fakeWindow{}
	dec := &fakeDecider{}

	runOneBatch(t, sub, win, dec)

	if !dec.bypassCalled {
		t.Fatal("expected ExecuteScale to be called with bypassCooldown=true for a CRITICAL event")
	}
	if len(sub.acked) == 0 || len(sub.acked[0]) != 1 {
		t.Fatalf("expected message to be acked, got %v", sub.acked)
	}
}

func TestMetricsEventFeedsWindowAndDecides(t *testing.T) {
	event := telemetry.Event{
		Severity:  telemetry.SeverityInfo,
		EventType: telemetry.EventTypeMetrics,
		Metrics:   map[string]float64{"cpu": 85},
	}
	sub := &fakeSubscriber{batches: [][]eventbus.Message{{{AckID: "2", Data: encode(t, event)}}}}
	win := &fakeWindow{stats: window.Stats{Count: 5}}
	dec := &fakeDecider{action: "up", reason: "High load"}

	runOneBatch(t, sub, win, dec)

	if len(win.added) != 1 {
		t.Fatalf("expected 1 sample added to window, got %d", len(win.added))
	}
	if len(dec.executed) != 1 || dec.executed[0] != "up:High load" {
		t.Fatalf("expected scale-up executed, got %v", dec.executed)
	}
}

func TestEventWithoutMetricsIsAckedAndIgnored(t *testing.T) {
	event := telemetry.Event{Severity: telemetry.SeverityWarning, EventType: telemetry.EventTypeLog, Log: "warn"}
	sub := &fakeSubscriber{batches: [][]eventbus.Message{{{AckID: "3", Data: encode(t, event)}}}}
	win := &fakeWindow{}
	dec := &fakeDecider{}

	runOneBatch(t, sub, win, dec)

	if len(win.added) != 0 {
		t.Fatalf("expected no window writes for a non-metrics event, got %d", len(win.added))
	}
	if len(dec.executed) != 0 {
		t.Fatalf("expected no scale execution for a non-metrics event, got %v", dec.executed)
	}
	if len(sub.acked) == 0 {
		t.Fatal("expected the message to still be acked")
	}
}

func TestMalformedMessageStillAcked(t *testing.T) {
	sub := &fakeSubscriber{batches: [][]eventbus.Message{{{AckID: "4", Data: []byte("not json")}}}}
	win := &fakeWindow{}
	dec := &fakeDecider{}

	runOneBatch(t, sub, win, dec)

	if len(sub.acked) == 0 || len(sub.acked[0]) != 1 {
		t.Fatalf("expected malformed message to still be acked, got %v", sub.acked)
	}
}
