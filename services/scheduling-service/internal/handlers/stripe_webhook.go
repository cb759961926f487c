package handlers

import (
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/stripe/stripe-go/v79"
	"github.com/stripe/stripe-go/v79/webhook"

	"github.com/clinicbook/scheduling/services/scheduling-service/internal/model"
)

// StripeWebhookHandler confirms appointments when their checkout session
// completes. Signature verification is the auth; the route carries no JWT.
type StripeWebhookHandler struct {
	confirmer BookingService
	secret    string
	tolerance time.Duration
	logger    *slog.Logger
}

func NewStripeWebhookHandler(confirmer BookingService, secret string, tolerance time.Duration, logger *slog.Logger) *StripeWebhookHandler {
	if tolerance <= 0 {
		tolerance = 5 * time.Minute
	}
	return &StripeWebhookHandler{confirmer: confirmer, secret: secret, tolerance: tolerance, logger: logger}
}

func (h *StripeWebhookHandler) Handle(w http.ResponseWriter, r *http.Request) {
	if strings.TrimSpace(h.secret) == "" {
		http.Error(w, "stripe webhook not configured", http.StatusServiceUnavailable)
		return
	}
	sigHeader := r.Header.Get("Stripe-Signature")
	if strings.TrimSpace(sigHeader) == "" {
		http.Error(w, "missing Stripe-Signature header", http.StatusBadRequest)
		return
	}

	body, err := io.ReadAll(io.LimitReader(r.Body, 1<<20)) // 1 MiB hard cap
	if err != nil {
		http.Error(w, "failed to read request body", http.StatusBadRequest)
		return
	}

	evt, err := webhook.ConstructEventWithTolerance(body, sigHeader, h.secret, h.tolerance)
	if err != nil {
		http.Error(w, "invalid signature", http.StatusBadRequest)
		return
	}

	h.logger.Info("stripe event received", "provider_event_id", evt.ID, "event_type", string(evt.Type))

	if evt.Type != "checkout.session.completed" {
		// Other event types are billing's concern, not scheduling's.
		writeJSON(w, http.StatusOK, map[string]any{"status": "ignored"})
		return
	}

	var session stripe.CheckoutSession
	if err := json.Unmarshal(evt.Data.Raw, &session); err != nil {
		h.logger.Error("stripe: invalid checkout session payload", "err", err)
		writeJSON(w, http.StatusOK, map[string]any{"status": "ignored"})
		return
	}
	apptID := strings.TrimSpace(session.Metadata["appointment_id"])
	if apptID == "" {
		h.logger.Warn("stripe: checkout session missing appointment_id metadata", "session_id", session.ID)
		writeJSON(w, http.StatusOK, map[string]any{"status": "ignored"})
		return
	}

	if _, err := h.confirmer.ConfirmPayment(r.Context(), apptID, false); err != nil {
		// Stripe retries on non-2xx. Only ask for a retry when confirmation
		// might still succeed; terminal states and unknown ids will not heal.
		if model.IsKind(err, model.KindInvalidTransition) || model.IsKind(err, model.KindNotFound) {
			h.logger.Warn("stripe: payment confirmation not applicable", "appointment_id", apptID, "err", err)
			writeJSON(w, http.StatusOK, map[string]any{"status": "ignored"})
			return
		}
		h.logger.Error("stripe: payment confirmation failed", "appointment_id", apptID, "err", err)
		http.Error(w, "failed to confirm appointment", http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"status": "ok"})
}
