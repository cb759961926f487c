package handlers

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stripe/stripe-go/v79"

	"github.com/clinicbook/scheduling/services/scheduling-service/internal/model"
)

const webhookTestSecret = "whsec_test"

// signStripePayload produces the Stripe-Signature header: HMAC-SHA256 over
// "<timestamp>.<payload>" with the endpoint secret.
func signStripePayload(payload []byte, secret string, at time.Time) string {
	mac := hmac.New(sha256.New, []byte(secret))
	fmt.Fprintf(mac, "%d.%s", at.Unix(), payload)
	return fmt.Sprintf("t=%d,v1=%s", at.Unix(), hex.EncodeToString(mac.Sum(nil)))
}

func checkoutCompletedPayload(apptID string) []byte {
	return []byte(fmt.Sprintf(
		`{"id":"evt_1","api_version":%q,"type":"checkout.session.completed","data":{"object":{"id":"cs_1","metadata":{"appointment_id":%q}}}}`,
		stripe.APIVersion, apptID))
}

func postWebhook(h *StripeWebhookHandler, payload []byte, sig string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodPost, "/api/v1/payments/stripe/webhook", strings.NewReader(string(payload)))
	if sig != "" {
		req.Header.Set("Stripe-Signature", sig)
	}
	rec := httptest.NewRecorder()
	h.Handle(rec, req)
	return rec
}

func TestStripeWebhookConfirmsAppointment(t *testing.T) {
	svc := &fakeBookingService{appt: testAppt()}
	h := NewStripeWebhookHandler(svc, webhookTestSecret, 5*time.Minute, slog.New(slog.DiscardHandler))

	payload := checkoutCompletedPayload("appt-42")
	rec := postWebhook(h, payload, signStripePayload(payload, webhookTestSecret, time.Now()))

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, body %s", rec.Code, rec.Body.String())
	}
	if svc.confirmedID != "appt-42" {
		t.Fatalf("confirmed id = %q", svc.confirmedID)
	}
	if svc.confirmedPay {
		t.Fatal("webhook confirmation must not be pay-at-clinic")
	}
}

func TestStripeWebhookRejectsBadSignature(t *testing.T) {
	svc := &fakeBookingService{appt: testAppt()}
	h := NewStripeWebhookHandler(svc, webhookTestSecret, 5*time.Minute, slog.New(slog.DiscardHandler))

	payload := checkoutCompletedPayload("appt-42")

	if rec := postWebhook(h, payload, ""); rec.Code != http.StatusBadRequest {
		t.Fatalf("missing signature: status = %d", rec.Code)
	}
	rec := postWebhook(h, payload, signStripePayload(payload, "whsec_other", time.Now()))
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("wrong secret: status = %d", rec.Code)
	}
	if svc.confirmedID != "" {
		t.Fatalf("confirmer reached with id %q", svc.confirmedID)
	}
}

func TestStripeWebhookIgnoresOtherEventTypes(t *testing.T) {
	svc := &fakeBookingService{appt: testAppt()}
	h := NewStripeWebhookHandler(svc, webhookTestSecret, 5*time.Minute, slog.New(slog.DiscardHandler))

	payload := []byte(fmt.Sprintf(
		`{"id":"evt_2","api_version":%q,"type":"invoice.paid","data":{"object":{"id":"in_1"}}}`,
		stripe.APIVersion))
	rec := postWebhook(h, payload, signStripePayload(payload, webhookTestSecret, time.Now()))

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	if svc.confirmedID != "" {
		t.Fatalf("confirmer reached with id %q", svc.confirmedID)
	}
}

func TestStripeWebhookErrorMapping(t *testing.T) {
	cases := []struct {
		name       string
		confirmErr error
		wantStatus int
	}{
		{"terminal state stops retries", &model.Error{Kind: model.KindInvalidTransition, Msg: "completed is final"}, http.StatusOK},
		{"unknown appointment stops retries", model.NotFoundf("appointment gone"), http.StatusOK},
		{"transient failure asks for retry", errors.New("connection reset"), http.StatusInternalServerError},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			svc := &fakeBookingService{appt: testAppt(), confirmErr: tc.confirmErr}
			h := NewStripeWebhookHandler(svc, webhookTestSecret, 5*time.Minute, slog.New(slog.DiscardHandler))

			payload := checkoutCompletedPayload("appt-42")
			rec := postWebhook(h, payload, signStripePayload(payload, webhookTestSecret, time.Now()))
			if rec.Code != tc.wantStatus {
				t.Fatalf("status = %d, want %d", rec.Code, tc.wantStatus)
			}
		})
	}
}

func TestStripeWebhookUnconfiguredReturns503(t *testing.T) {
	h := NewStripeWebhookHandler(&fakeBookingService{}, "", 5*time.Minute, slog.New(slog.DiscardHandler))

	payload := checkoutCompletedPayload("appt-42")
	rec := postWebhook(h, payload, signStripePayload(payload, webhookTestSecret, time.Now()))
	if rec.Code != http.StatusServiceUnavailable {
		t.Fatalf("status = %d", rec.Code)
	}
}
