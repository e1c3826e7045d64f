// Package webhook implements the WebhookIngestor (§4.6): it accepts
// normalized POSTs from the payment gateway, verifies them, translates
// gateway event types into the closed DomainEvent set, and answers 200 for
// every body it can read and parse (a body that cannot be read, or that
// passes the signature check but is not valid JSON, gets 400) so the gateway
// never retry-storms us — durable queueing is the EventBus's job.
package webhook

import (
	"encoding/json"
	"io"
	"log/slog"
	"net/http"

	"github.com/hostfleet/controlplane/internal/eventbus"
	"github.com/hostfleet/controlplane/internal/httpserver"
	"github.com/hostfleet/controlplane/internal/telemetry"
)

// maxBodyBytes bounds webhook payload size.
const maxBodyBytes = 1 << 20

// SignatureVerifier checks a gateway webhook signature over a raw body.
type SignatureVerifier interface {
	VerifyWebhookSignature(body []byte, signature string) bool
}

// gatewayPayload is the minimal shape every gateway webhook body carries.
type gatewayPayload struct {
	Event   string `json:"event"`
	Payment struct {
		ID              string `json:"id"`
		Subscription    string `json:"subscription"`
		CustomerTenantID string `json:"externalReference"`
	} `json:"payment"`
}

// Ingestor is the HTTP handler for /system/webhooks/payments.
type Ingestor struct {
	Verifier SignatureVerifier
	Bus      *eventbus.Bus
	Logger   *slog.Logger
}

// New builds an Ingestor.
func New(verifier SignatureVerifier, bus *eventbus.Bus, logger *slog.Logger) *Ingestor {
	return &Ingestor{Verifier: verifier, Bus: bus, Logger: logger}
}

// ServeHTTP implements the §4.6 contract. It always returns 200 for a
// validly-parseable body, even when the event is ignored or processing
// fails internally.
func (i *Ingestor) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(io.LimitReader(r.Body, maxBodyBytes))
	if err != nil {
		httpserver.RespondError(w, http.StatusBadRequest, "bad_request", "could not read request body")
		return
	}

	signature := r.Header.Get("X-Signature")
	if !i.Verifier.VerifyWebhookSignature(body, signature) {
		telemetry.WebhookSignatureFailures.WithLabelValues("bad_signature").Inc()
		i.Logger.Warn("webhook signature verification failed")
		httpserver.Respond(w, http.StatusOK, map[string]string{"status": "dropped"})
		return
	}

	var payload gatewayPayload
	if err := json.Unmarshal(body, &payload); err != nil {
		httpserver.RespondError(w, http.StatusBadRequest, "bad_request", "body is not valid JSON")
		return
	}

	event, ok := translate(payload)
	if !ok {
		telemetry.WebhookSignatureFailures.WithLabelValues("unknown_event").Inc()
		i.Logger.Info("webhook event ignored", "event_type", payload.Event)
		httpserver.Respond(w, http.StatusOK, map[string]string{"status": "ignored"})
		return
	}

	i.Bus.Publish(r.Context(), event)
	httpserver.Respond(w, http.StatusOK, map[string]string{"status": "accepted"})
}

// translate maps a gateway event type onto the internal DomainEvent set
// (§4.6 step 3). PAYMENT_OVERDUE is intentionally dropped — the
// DunningScheduler is authoritative for overdue detection.
func translate(p gatewayPayload) (eventbus.Event, bool) {
	tenantID := p.Payment.CustomerTenantID

	var eventType eventbus.EventType
	switch p.Event {
	case "PAYMENT_CONFIRMED", "PAYMENT_RECEIVED":
		eventType = eventbus.PaymentConfirmed
	case "PAYMENT_REFUNDED", "PAYMENT_CHARGEBACK_REQUESTED":
		eventType = eventbus.PaymentReversed
	case "SUBSCRIPTION_DELETED":
		eventType = eventbus.SubscriptionCancelled
	default:
		return eventbus.Event{}, false
	}

	return eventbus.Event{
		ID:       p.Payment.ID,
		Type:     eventType,
		TenantID: tenantID,
		Payload:  p,
	}, true
}
