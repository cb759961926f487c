package consumer

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/segmentio/kafka-go"

	"github.com/clinicbook/scheduling/services/scheduling-service/internal/model"
)

// TopicPaymentSucceeded is emitted by the billing collaborator once a payment
// for a pending appointment clears.
const TopicPaymentSucceeded = "billing.payment.succeeded.v1"

// PaymentConfirmer is the slice of the booking coordinator the payment
// consumer needs.
type PaymentConfirmer interface {
	ConfirmPayment(ctx context.Context, apptID string, payAtClinic bool) (model.Appointment, error)
}

type paymentSucceededPayload struct {
	AppointmentID string `json:"appointment_id"`
}

// PaymentSucceededHandler confirms the appointment named by the event. An
// appointment that is already scheduled or was cancelled while the payment
// was in flight is logged and dropped rather than retried.
func PaymentSucceededHandler(coord PaymentConfirmer, logger *slog.Logger) Handler {
	return func(ctx context.Context, msg kafka.Message) error {
		var payload paymentSucceededPayload
		if err := json.Unmarshal(msg.Value, &payload); err != nil {
			return fmt.Errorf("decode payment event: %w", err)
		}
		if payload.AppointmentID == "" {
			return fmt.Errorf("payment event missing appointment_id")
		}

		_, err := coord.ConfirmPayment(ctx, payload.AppointmentID, false)
		switch {
		case err == nil:
			return nil
		case model.IsKind(err, model.KindInvalidTransition), model.IsKind(err, model.KindNotFound):
			logger.Warn("payment confirmation not applicable",
				"appointment_id", payload.AppointmentID, "err", err)
			return nil
		default:
			return err
		}
	}
}
