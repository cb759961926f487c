package consumer

import (
	"context"
	"errors"
	"log/slog"
	"testing"

	"github.com/segmentio/kafka-go"
)

type fakeInbox struct {
	seen     map[string]bool
	recorded []string
	forgot   []string
}

func newFakeInbox() *fakeInbox {
	return &fakeInbox{seen: map[string]bool{}}
}

func (f *fakeInbox) Record(_ context.Context, eventID, _ string) (bool, error) {
	f.recorded = append(f.recorded, eventID)
	if f.seen[eventID] {
		return false, nil
	}
	f.seen[eventID] = true
	return true, nil
}

func (f *fakeInbox) Forget(_ context.Context, eventID string) error {
	f.forgot = append(f.forgot, eventID)
	delete(f.seen, eventID)
	return nil
}

func eventMessage(eventID string) kafka.Message {
	return kafka.Message{
		Topic: "billing.payment.succeeded.v1",
		Headers: []kafka.Header{
			{Key: "event_id", Value: []byte(eventID)},
			{Key: "event_type", Value: []byte("billing.payment.succeeded.v1")},
		},
		Value: []byte(`{"appointment_id":"appt-1"}`),
	}
}

func testConsumer(ib Inbox, handler Handler) *Consumer {
	return &Consumer{
		logger:  slog.New(slog.DiscardHandler),
		inbox:   ib,
		handler: handler,
	}
}

func TestProcessHandlesNewEventOnce(t *testing.T) {
	ib := newFakeInbox()
	var handled int
	c := testConsumer(ib, func(context.Context, kafka.Message) error {
		handled++
		return nil
	})

	c.process(context.Background(), eventMessage("evt-1"))
	c.process(context.Background(), eventMessage("evt-1"))

	if handled != 1 {
		t.Fatalf("handled %d times", handled)
	}
	if len(ib.forgot) != 0 {
		t.Fatalf("claim released on success: %v", ib.forgot)
	}
}

func TestProcessReleasesClaimOnHandlerError(t *testing.T) {
	ib := newFakeInbox()
	calls := 0
	c := testConsumer(ib, func(context.Context, kafka.Message) error {
		calls++
		if calls == 1 {
			return errors.New("connection reset")
		}
		return nil
	})

	c.process(context.Background(), eventMessage("evt-1"))
	if len(ib.forgot) != 1 || ib.forgot[0] != "evt-1" {
		t.Fatalf("claim not released: %v", ib.forgot)
	}

	// redelivery after the failure is handled, not deduped
	c.process(context.Background(), eventMessage("evt-1"))
	if calls != 2 {
		t.Fatalf("handler called %d times", calls)
	}
}
