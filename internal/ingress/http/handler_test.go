package http

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/pulsehq/autoscaler/internal/classifier"
	"github.com/pulsehq/autoscaler/internal/telemetry"
)

type fakePublisher struct {
	published []telemetry.Event
	err       error
}

func (f *fakePublisher) Publish(ctx context.Context, event telemetry.Event) error {
	if f.err != nil {
		return f.err
	}
	f.published = append(f.published, event)
	return nil
}

func envelopeBody(t *testing.T, payload map[string]any) []byte {
	t.Helper()
	raw, err := json.Marshal(payload)
	if err != nil {
		t.Fatalf("marshal payload: %v", err)
	}
	env := map[string]any{
		"message": map[string]any{
			"data": base64.StdEncoding.EncodeToString(raw),
		},
	}
	body, err := json.Marshal(env)
	if err != nil {
		t.Fatalf("marshal envelope: %v", err)
	}
	return body
}

func TestHandlerPublishesMetricsEvent(t *testing.T) {
	pub := &fakePublisher{}
	h := NewHandler(classifier.New("aggregator", classifier.DefaultThresholds()), pub, nil)

	body := envelopeBody(t, map[string]any{
		"node_id": "node-1",
		"metrics": map[string]float64{"cpu": 95},
	})

	req := httptest.NewRequest(http.MethodPost, "/", strings.NewReader(string(body)))
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	if rec.Code != http.StatusNoContent {
		t.Fatalf("status = %d, want 204", rec.Code)
	}
	if len(pub.published) != 1 {
		t.Fatalf("expected 1 published event, got %d", len(pub.published))
	}
	if pub.published[0].Severity != telemetry.SeverityCritical {
		t.Fatalf("severity = %v, want CRITICAL for cpu=95", pub.published[0].Severity)
	}
}

func TestHandlerMalformedEnvelopeReturns400(t *testing.T) {
	pub := &fakePublisher{}
	h := NewHandler(classifier.New("aggregator", classifier.DefaultThresholds()), pub, nil)

	req := httptest.NewRequest(http.MethodPost, "/", strings.NewReader("not json"))
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", rec.Code)
	}
	if len(pub.published) != 0 {
		t.Fatalf("expected no publish for malformed envelope, got %d", len(pub.published))
	}
}

func TestHandlerMalformedBase64Returns400(t *testing.T) {
	pub := &fakePublisher{}
	h := NewHandler(classifier.New("aggregator", classifier.DefaultThresholds()), pub, nil)

	body := `{"message":{"data":"not-valid-base64!!"}}`
	req := httptest.NewRequest(http.MethodPost, "/", strings.NewReader(body))
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", rec.Code)
	}
}

func TestHandlerLogEventPublishes(t *testing.T) {
	pub := &fakePublisher{}
	h := NewHandler(classifier.New("aggregator", classifier.DefaultThresholds()), pub, nil)

	body := envelopeBody(t, map[string]any{"node_id": "node-2", "log": "CRITICAL disk failure"})
	req := httptest.NewRequest(http.MethodPost, "/", strings.NewReader(string(body)))
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	if rec.Code != http.StatusNoContent {
		t.Fatalf("status = %d, want 204", rec.Code)
	}
	if len(pub.published) != 1 || pub.published[0].Severity != telemetry.SeverityCritical {
		t.Fatalf("expected a published CRITICAL log event, got %+v", pub.published)
	}
}
