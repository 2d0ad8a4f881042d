// Package http implements the aggregator ingress (component K): a push
// endpoint that decodes the agent's base64 envelope, classifies it, and
// publishes the resulting Event to the event topic. Grounded on
// aggregator.py's Flask index() handler.
package http

import (
	"encoding/base64"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/pulsehq/autoscaler/internal/classifier"
	"github.com/pulsehq/autoscaler/internal/eventbus"
)

// envelope is the push-subscription style body: {"message":{"data":"<base64>"}}.
type envelope struct {
	Message struct {
		Data string `json:"data"`
	} `json:"message"`
}

// decodedPayload is the base64-decoded body: either a metrics sample
// (Metrics non-nil) or a bare log line.
type decodedPayload struct {
	NodeID  string             `json:"node_id"`
	Metrics map[string]float64 `json:"metrics"`
	Log     string             `json:"log"`
}

// Handler decodes POST / push envelopes, classifies them, and publishes
// the resulting Event.
type Handler struct {
	classifier *classifier.Classifier
	publisher  eventbus.Publisher
	logger     *slog.Logger
}

// NewHandler creates a Handler.
func NewHandler(c *classifier.Classifier, publisher eventbus.Publisher, logger *slog.Logger) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{classifier: c, publisher: publisher, logger: logger}
}

// ServeHTTP implements the POST / envelope contract of spec.md §6:
// malformed envelope -> 400, success -> 204 empty.
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	body, err := io.ReadAll(r.Body)
	if err != nil {
		http.Error(w, "cannot read body", http.StatusBadRequest)
		return
	}

	var env envelope
	if err := json.Unmarshal(body, &env); err != nil {
		http.Error(w, "malformed envelope", http.StatusBadRequest)
		return
	}

	raw, err := base64.StdEncoding.DecodeString(env.Message.Data)
	if err != nil {
		http.Error(w, "malformed base64 payload", http.StatusBadRequest)
		return
	}

	var payload decodedPayload
	if err := json.Unmarshal(raw, &payload); err != nil {
		http.Error(w, "malformed payload", http.StatusBadRequest)
		return
	}

	h.logger.Info("RECEIVED", "node_id", payload.NodeID)

	event := h.classifier.Classify(classifier.RawPayload{
		NodeID:  payload.NodeID,
		Metrics: payload.Metrics,
		Log:     payload.Log,
	})
	event.Timestamp = time.Now().UTC()

	if err := h.publisher.Publish(r.Context(), event); err != nil {
		h.logger.Warn("failed to publish event", "error", err)
		http.Error(w, "failed to publish event", http.StatusInternalServerError)
		return
	}

	h.logger.Info("PUBLISHED EVENT", "severity", event.Severity.String(), "node_id", event.NodeID)
	w.WriteHeader(http.StatusNoContent)
}
