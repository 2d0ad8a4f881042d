// Package ingress implements the event subscription loop (component I):
// pulls classified events off the event bus, feeds metrics into the
// rolling window, and drives the replica controller's scale decision.
// Grounded on autoscaler.py's Pub/Sub callback.
package ingress

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	"github.com/pulsehq/autoscaler/internal/eventbus"
	"github.com/pulsehq/autoscaler/internal/telemetry"
	"github.com/pulsehq/autoscaler/internal/window"
)

// Window is the subset of *window.Window the loop needs.
type Window interface {
	Add(ts time.Time, values map[string]float64)
	Stats() window.Stats
}

// Decider is the subset of *replica.Controller the loop drives.
type Decider interface {
	ShouldScale(ctx context.Context, stats window.Stats, critical bool) (string, string)
	ExecuteScale(ctx context.Context, action string, bypassCooldown bool, multiplier float64, reason string) (bool, error)
}

// MultiplierConfig names the scale-up step multipliers per reason, matching
// spec.md §4.G: OOM -> 2, node failure -> 1.5, else 1.
type MultiplierConfig struct {
	OOM          float64
	NodeFailure  float64
	CriticalBump float64
}

func (m MultiplierConfig) forReason(reason string) float64 {
	switch reason {
	case "OOM detected":
		if m.OOM > 0 {
			return m.OOM
		}
		return 2
	case "Node failure":
		if m.NodeFailure > 0 {
			return m.NodeFailure
		}
		return 1.5
	default:
		return 1
	}
}

// EventsProcessed is incremented once per successfully decoded event,
// labeled by severity; callers wire in internal/metrics.EventsProcessedTotal.
type EventsProcessed interface {
	Observe(severity string)
}

// Loop polls the event subscription and dispatches each message.
type Loop struct {
	sub        eventbus.Subscriber
	win        Window
	controller Decider
	logger     *slog.Logger
	pullSize   int64
	multiplier MultiplierConfig
	processed  EventsProcessed
}

// New creates a Loop. pullSize is how many messages to request per Pull
// call; a zero value defaults to 10.
func New(sub eventbus.Subscriber, win Window, controller Decider, logger *slog.Logger, pullSize int64, multiplier MultiplierConfig, processed EventsProcessed) *Loop {
	if logger == nil {
		logger = slog.Default()
	}
	if pullSize == 0 {
		pullSize = 10
	}
	return &Loop{sub: sub, win: win, controller: controller, logger: logger, pullSize: pullSize, multiplier: multiplier, processed: processed}
}

// Run pulls and processes messages until ctx is cancelled. Each empty pull
// backs off briefly rather than hot-looping against the subscription.
func (l *Loop) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		messages, err := l.sub.Pull(ctx, l.pullSize)
		if err != nil {
			l.logger.Warn("event pull failed", "error", err)
			sleep(ctx, time.Second)
			continue
		}

		if len(messages) == 0 {
			sleep(ctx, 500*time.Millisecond)
			continue
		}

		var ackIDs []string
		for _, msg := range messages {
			l.process(ctx, msg)
			ackIDs = append(ackIDs, msg.AckID)
		}

		// Acks are unconditional after processing, per spec.md §4.I.
		if err := l.sub.Ack(ctx, ackIDs); err != nil {
			l.logger.Warn("ack failed", "error", err)
		}
	}
}

// process handles a single message. It never propagates an error past this
// call: decode errors and downstream failures are logged and swallowed, and
// the message is still acked by the caller.
func (l *Loop) process(ctx context.Context, msg eventbus.Message) {
	var event telemetry.Event
	if err := json.Unmarshal(msg.Data, &event); err != nil {
		l.logger.Warn("malformed event, skipping", "error", err)
		return
	}

	if l.processed != nil {
		l.processed.Observe(event.Severity.String())
	}

	if event.Severity == telemetry.SeverityCritical {
		ok, err := l.controller.ExecuteScale(ctx, "up", true, l.multiplier.forReason("Critical event"), "Critical event")
		if err != nil {
			l.logger.Warn("critical scale-up failed", "error", err)
		} else if ok {
			l.logger.Info("critical event triggered immediate scale-up")
		}
		return
	}

	if event.Metrics == nil {
		return
	}

	l.win.Add(event.Timestamp, event.Metrics)
	stats := l.win.Stats()

	action, reason := l.controller.ShouldScale(ctx, stats, false)
	if action == "" {
		return
	}

	multiplier := l.multiplier.forReason(reason)
	ok, err := l.controller.ExecuteScale(ctx, action, false, multiplier, reason)
	if err != nil {
		l.logger.Warn("scale execution failed", "action", action, "reason", reason, "error", err)
		return
	}
	if ok {
		l.logger.Info("scale decision executed", "action", action, "reason", reason)
	}
}

func sleep(ctx context.Context, d time.Duration) {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
	case <-t.C:
	}
}
