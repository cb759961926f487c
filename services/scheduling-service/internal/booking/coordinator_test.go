package booking

import (
	"context"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/clinicbook/scheduling/services/scheduling-service/internal/lifecycle"
	"github.com/clinicbook/scheduling/services/scheduling-service/internal/model"
	"github.com/clinicbook/scheduling/services/scheduling-service/internal/outbox"
	"github.com/clinicbook/scheduling/services/scheduling-service/internal/slots"
)

// fakeLedger replays the storage contract in memory: overlap rejection is
// atomic under a mutex, idempotency keys replay the stored appointment, and
// every commit records its event.
type fakeLedger struct {
	mu     sync.Mutex
	rows   map[string]model.Appointment
	keys   map[string]string // patient|key -> appointment id
	events []outbox.Event
}

func newFakeLedger() *fakeLedger {
	return &fakeLedger{rows: map[string]model.Appointment{}, keys: map[string]string{}}
}

func (l *fakeLedger) Book(_ context.Context, appt *model.Appointment, key string, evt outbox.Event) (model.Appointment, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if key != "" {
		if id, ok := l.keys[appt.PatientID+"|"+key]; ok {
			return l.rows[id], nil
		}
	}
	for _, existing := range l.rows {
		if existing.DoctorID != appt.DoctorID || !existing.Status.Blocking() {
			continue
		}
		if appt.StartTime.Before(existing.EndTime) && existing.StartTime.Before(appt.EndTime) {
			return model.Appointment{}, model.SlotTaken(appt.DoctorID)
		}
	}
	appt.CreatedAt = time.Now().UTC()
	l.rows[appt.ID] = *appt
	if key != "" {
		l.keys[appt.PatientID+"|"+key] = appt.ID
	}
	l.events = append(l.events, evt)
	return *appt, nil
}

func (l *fakeLedger) Get(_ context.Context, id string) (model.Appointment, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	appt, ok := l.rows[id]
	if !ok {
		return model.Appointment{}, model.NotFoundf("appointment %s not found", id)
	}
	return appt, nil
}

func (l *fakeLedger) Transition(_ context.Context, id string, mutate func(*model.Appointment) (outbox.Event, error)) (model.Appointment, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	appt, ok := l.rows[id]
	if !ok {
		return model.Appointment{}, model.NotFoundf("appointment %s not found", id)
	}
	evt, err := mutate(&appt)
	if err != nil {
		return model.Appointment{}, err
	}
	l.rows[id] = appt
	if evt.EventType != "" {
		l.events = append(l.events, evt)
	}
	return appt, nil
}

type fakeDirectory struct {
	doctor  model.Doctor
	service model.Service
}

func (d fakeDirectory) GetDoctor(_ context.Context, id string) (model.Doctor, error) {
	if id != d.doctor.ID {
		return model.Doctor{}, model.NotFoundf("doctor %s not found", id)
	}
	return d.doctor, nil
}

func (d fakeDirectory) GetService(_ context.Context, id string) (model.Service, error) {
	if id != d.service.ID {
		return model.Service{}, model.NotFoundf("service %s not found", id)
	}
	return d.service, nil
}

type openFreeSource struct{}

func (openFreeSource) FreeIntervals(_ context.Context, _ model.Doctor, date string, _ time.Time) ([]slots.Interval, error) {
	day, _ := time.Parse(model.DateFormat, date)
	return []slots.Interval{{Start: day, End: day.Add(24 * time.Hour)}}, nil
}

func testCoordinator(t *testing.T, ledger Ledger) (*Coordinator, time.Time) {
	t.Helper()
	dir := fakeDirectory{
		doctor:  model.Doctor{ID: "doc-1", ClinicID: "clinic-1", Timezone: "UTC", Active: true},
		service: model.Service{ID: "svc-1", ClinicID: "clinic-1", Name: "Consultation", DurationMinutes: 30},
	}
	now := time.Date(2026, 3, 2, 8, 0, 0, 0, time.UTC)
	c := NewCoordinator(ledger, dir, openFreeSource{}, Config{
		HorizonDays: 30,
		Granularity: 15 * time.Minute,
		MinLead:     time.Hour,
	}, slog.New(slog.DiscardHandler))
	c.now = func() time.Time { return now }
	return c, now
}

func TestBookCreatesPendingAppointment(t *testing.T) {
	ledger := newFakeLedger()
	c, now := testCoordinator(t, ledger)

	appt, replayed, err := c.Book(context.Background(), BookRequest{
		DoctorID:  "doc-1",
		PatientID: "pat-1",
		ServiceID: "svc-1",
		Start:     now.Add(24 * time.Hour),
	})
	if err != nil {
		t.Fatalf("Book: %v", err)
	}
	if replayed {
		t.Fatal("fresh booking reported as replay")
	}
	if appt.Status != model.StatusPending {
		t.Fatalf("status = %s, want pending", appt.Status)
	}
	if got := appt.EndTime.Sub(appt.StartTime); got != 30*time.Minute {
		t.Fatalf("duration = %s, want 30m", got)
	}
	if len(ledger.events) != 1 || ledger.events[0].EventType != outbox.EventAppointmentCreated {
		t.Fatalf("events = %+v, want one created event", ledger.events)
	}
}

func TestBookIdempotentReplay(t *testing.T) {
	ledger := newFakeLedger()
	c, now := testCoordinator(t, ledger)

	req := BookRequest{
		DoctorID:       "doc-1",
		PatientID:      "pat-1",
		ServiceID:      "svc-1",
		Start:          now.Add(24 * time.Hour),
		IdempotencyKey: "key-abc",
	}
	first, replayed, err := c.Book(context.Background(), req)
	if err != nil {
		t.Fatalf("first Book: %v", err)
	}
	if replayed {
		t.Fatal("first booking reported as replay")
	}
	second, replayed, err := c.Book(context.Background(), req)
	if err != nil {
		t.Fatalf("replay Book: %v", err)
	}
	if !replayed {
		t.Fatal("second booking with same key not reported as replay")
	}
	if first.ID != second.ID {
		t.Fatalf("replay returned %s, want %s", second.ID, first.ID)
	}
	if len(ledger.rows) != 1 {
		t.Fatalf("rows = %d, want 1", len(ledger.rows))
	}
	if len(ledger.events) != 1 {
		t.Fatalf("events = %d, want 1 (replay must not re-emit)", len(ledger.events))
	}
}

func TestBookConcurrentSameSlotSingleWinner(t *testing.T) {
	ledger := newFakeLedger()
	c, now := testCoordinator(t, ledger)
	start := now.Add(24 * time.Hour)

	const n = 16
	errs := make(chan error, n)
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, _, err := c.Book(context.Background(), BookRequest{
				DoctorID:  "doc-1",
				PatientID: "pat-" + string(rune('a'+i)),
				ServiceID: "svc-1",
				Start:     start,
			})
			errs <- err
		}(i)
	}
	wg.Wait()
	close(errs)

	var wins, conflicts int
	for err := range errs {
		switch {
		case err == nil:
			wins++
		case model.IsKind(err, model.KindSlotTaken):
			conflicts++
		default:
			t.Fatalf("unexpected error: %v", err)
		}
	}
	if wins != 1 || conflicts != n-1 {
		t.Fatalf("wins = %d, conflicts = %d, want 1 and %d", wins, conflicts, n-1)
	}
}

func TestBookRejectsLeadTimeAndHorizon(t *testing.T) {
	c, now := testCoordinator(t, newFakeLedger())

	_, _, err := c.Book(context.Background(), BookRequest{
		DoctorID: "doc-1", PatientID: "pat-1", ServiceID: "svc-1",
		Start: now.Add(30 * time.Minute),
	})
	if !model.IsKind(err, model.KindLeadTimeViolation) {
		t.Fatalf("lead time: got %v", err)
	}

	_, _, err = c.Book(context.Background(), BookRequest{
		DoctorID: "doc-1", PatientID: "pat-1", ServiceID: "svc-1",
		Start: now.AddDate(0, 0, 31),
	})
	if !model.IsKind(err, model.KindHorizonExceeded) {
		t.Fatalf("horizon: got %v", err)
	}
}

// A slot on the last in-horizon date may start later than now's time of day;
// everything the resolver advertises for that date must still book.
func TestBookHorizonIsDayGranular(t *testing.T) {
	c, _ := testCoordinator(t, newFakeLedger())

	// now is 08:00 UTC; 30 days out is 2026-04-01T08:00Z. A 09:00 slot on
	// that same date is past the horizon instant but on an in-horizon date.
	lastDay := time.Date(2026, 4, 1, 9, 0, 0, 0, time.UTC)
	if _, _, err := c.Book(context.Background(), BookRequest{
		DoctorID: "doc-1", PatientID: "pat-1", ServiceID: "svc-1",
		Start: lastDay,
	}); err != nil {
		t.Fatalf("last in-horizon date rejected: %v", err)
	}

	_, _, err := c.Book(context.Background(), BookRequest{
		DoctorID: "doc-1", PatientID: "pat-2", ServiceID: "svc-1",
		Start: lastDay.AddDate(0, 0, 1),
	})
	if !model.IsKind(err, model.KindHorizonExceeded) {
		t.Fatalf("day after horizon: got %v", err)
	}
}

func TestBookRejectsOffGridStart(t *testing.T) {
	c, now := testCoordinator(t, newFakeLedger())

	_, _, err := c.Book(context.Background(), BookRequest{
		DoctorID: "doc-1", PatientID: "pat-1", ServiceID: "svc-1",
		Start: now.Add(24*time.Hour + 10*time.Minute),
	})
	if !model.IsKind(err, model.KindValidation) {
		t.Fatalf("off-grid start: got %v", err)
	}

	if _, _, err := c.Book(context.Background(), BookRequest{
		DoctorID: "doc-1", PatientID: "pat-1", ServiceID: "svc-1",
		Start: now.Add(24*time.Hour + 15*time.Minute),
	}); err != nil {
		t.Fatalf("on-grid start rejected: %v", err)
	}
}

func TestBookUnknownReferences(t *testing.T) {
	c, now := testCoordinator(t, newFakeLedger())

	_, _, err := c.Book(context.Background(), BookRequest{
		DoctorID: "ghost", PatientID: "pat-1", ServiceID: "svc-1",
		Start: now.Add(24 * time.Hour),
	})
	if !model.IsKind(err, model.KindNotFound) {
		t.Fatalf("unknown doctor: got %v", err)
	}

	_, _, err = c.Book(context.Background(), BookRequest{
		DoctorID: "doc-1", PatientID: "pat-1", ServiceID: "ghost",
		Start: now.Add(24 * time.Hour),
	})
	if !model.IsKind(err, model.KindNotFound) {
		t.Fatalf("unknown service: got %v", err)
	}
}

func TestCancelFreesSlotForRebooking(t *testing.T) {
	ledger := newFakeLedger()
	c, now := testCoordinator(t, ledger)
	start := now.Add(24 * time.Hour)

	first, _, err := c.Book(context.Background(), BookRequest{
		DoctorID: "doc-1", PatientID: "pat-1", ServiceID: "svc-1", Start: start,
	})
	if err != nil {
		t.Fatalf("Book: %v", err)
	}

	cancelled, err := c.Cancel(context.Background(), first.ID, "patient request", lifecycle.ActorPatient)
	if err != nil {
		t.Fatalf("Cancel: %v", err)
	}
	if cancelled.Status != model.StatusCancelled {
		t.Fatalf("status = %s, want cancelled", cancelled.Status)
	}
	if cancelled.CancelledAt == nil || cancelled.CancellationReason != "patient request" {
		t.Fatalf("cancellation metadata not recorded: %+v", cancelled)
	}

	if _, _, err := c.Book(context.Background(), BookRequest{
		DoctorID: "doc-1", PatientID: "pat-2", ServiceID: "svc-1", Start: start,
	}); err != nil {
		t.Fatalf("rebooking after cancel: %v", err)
	}
}

func TestConfirmPaymentThenComplete(t *testing.T) {
	ledger := newFakeLedger()
	c, now := testCoordinator(t, ledger)

	appt, _, err := c.Book(context.Background(), BookRequest{
		DoctorID: "doc-1", PatientID: "pat-1", ServiceID: "svc-1",
		Start: now.Add(2 * time.Hour),
	})
	if err != nil {
		t.Fatalf("Book: %v", err)
	}

	confirmed, err := c.ConfirmPayment(context.Background(), appt.ID, false)
	if err != nil {
		t.Fatalf("ConfirmPayment: %v", err)
	}
	if confirmed.Status != model.StatusScheduled || confirmed.PaymentStatus != model.PaymentPaid {
		t.Fatalf("after confirm: %+v", confirmed)
	}

	done, err := c.Complete(context.Background(), appt.ID, true)
	if err != nil {
		t.Fatalf("Complete: %v", err)
	}
	if done.Status != model.StatusCompleted {
		t.Fatalf("status = %s, want completed", done.Status)
	}

	// Terminal states are final.
	if _, err := c.Cancel(context.Background(), appt.ID, "", lifecycle.ActorAdmin); !model.IsKind(err, model.KindInvalidTransition) {
		t.Fatalf("cancel after complete: got %v", err)
	}

	want := []string{
		outbox.EventAppointmentCreated,
		outbox.EventAppointmentConfirmed,
		outbox.EventAppointmentCompleted,
	}
	if len(ledger.events) != len(want) {
		t.Fatalf("events = %d, want %d", len(ledger.events), len(want))
	}
	for i, evt := range ledger.events {
		if evt.EventType != want[i] {
			t.Fatalf("event[%d] = %s, want %s", i, evt.EventType, want[i])
		}
	}
}
