// Package eventbus wraps Pub/Sub publish and pull-subscribe operations
// behind narrow interfaces, grounded on autoscaler.py's publisher/
// subscriber client usage. It uses google.golang.org/api/pubsub/v1, the
// same generated-REST-client family the teacher already depends on via
// google.golang.org/api, rather than adding a net-new
// cloud.google.com/go/pubsub dependency.
package eventbus

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"

	pubsub "google.golang.org/api/pubsub/v1"

	"github.com/pulsehq/autoscaler/internal/telemetry"
)

// Publisher publishes classified events to the event topic.
type Publisher interface {
	Publish(ctx context.Context, event telemetry.Event) error
}

// Message is one pulled message, carrying its ack id for Subscriber.Ack.
type Message struct {
	AckID string
	Data  []byte
}

// Subscriber pulls messages from the event subscription.
type Subscriber interface {
	Pull(ctx context.Context, maxMessages int64) ([]Message, error)
	Ack(ctx context.Context, ackIDs []string) error
}

// Topic publishes JSON-encoded events to a named Pub/Sub topic.
type Topic struct {
	svc  *pubsub.Service
	name string // "projects/{project}/topics/{topic}"
}

// NewTopic wraps a *pubsub.Service for a single topic.
func NewTopic(svc *pubsub.Service, project, topic string) *Topic {
	return &Topic{svc: svc, name: fmt.Sprintf("projects/%s/topics/%s", project, topic)}
}

// Publish JSON-encodes the event and publishes it as a single Pub/Sub
// message, UTF-8 byte-encoded per spec.md §6.
func (t *Topic) Publish(ctx context.Context, event telemetry.Event) error {
	data, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("marshal event: %w", err)
	}

	req := &pubsub.PublishRequest{
		Messages: []*pubsub.PubsubMessage{
			{Data: base64.StdEncoding.EncodeToString(data)},
		},
	}
	if _, err := t.svc.Projects.Topics.Publish(t.name, req).Context(ctx).Do(); err != nil {
		return fmt.Errorf("publish to %s: %w", t.name, err)
	}
	return nil
}

// Subscription pulls and acknowledges messages from a named Pub/Sub
// subscription.
type Subscription struct {
	svc  *pubsub.Service
	name string // "projects/{project}/subscriptions/{sub}"
}

// NewSubscription wraps a *pubsub.Service for a single subscription.
func NewSubscription(svc *pubsub.Service, project, subscription string) *Subscription {
	return &Subscription{svc: svc, name: fmt.Sprintf("projects/%s/subscriptions/%s", project, subscription)}
}

// Pull fetches up to maxMessages from the subscription without blocking
// indefinitely; the caller decides how to loop.
func (s *Subscription) Pull(ctx context.Context, maxMessages int64) ([]Message, error) {
	req := &pubsub.PullRequest{MaxMessages: maxMessages}
	resp, err := s.svc.Projects.Subscriptions.Pull(s.name, req).Context(ctx).Do()
	if err != nil {
		return nil, fmt.Errorf("pull from %s: %w", s.name, err)
	}

	out := make([]Message, 0, len(resp.ReceivedMessages))
	for _, rm := range resp.ReceivedMessages {
		if rm.Message == nil {
			continue
		}
		data, err := base64.StdEncoding.DecodeString(rm.Message.Data)
		if err != nil {
			// Malformed base64 still needs an ack id so the caller can
			// ack-and-skip per spec.md §4.I; data is left empty.
			out = append(out, Message{AckID: rm.AckId})
			continue
		}
		out = append(out, Message{AckID: rm.AckId, Data: data})
	}
	return out, nil
}

// Ack acknowledges a batch of messages. Acks are unconditional after
// processing, per spec.md §4.I: at-least-once delivery with idempotent
// effects is assumed.
func (s *Subscription) Ack(ctx context.Context, ackIDs []string) error {
	if len(ackIDs) == 0 {
		return nil
	}
	req := &pubsub.AcknowledgeRequest{AckIds: ackIDs}
	if _, err := s.svc.Projects.Subscriptions.Acknowledge(s.name, req).Context(ctx).Do(); err != nil {
		return fmt.Errorf("ack on %s: %w", s.name, err)
	}
	return nil
}

var (
	_ Publisher  = (*Topic)(nil)
	_ Subscriber = (*Subscription)(nil)
)
