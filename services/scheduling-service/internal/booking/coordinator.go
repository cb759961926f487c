// Package booking is the single mutating entry point of the engine. The
// coordinator validates requests, takes an advisory look at availability, and
// commits through the ledger, whose storage-level exclusion constraint is the
// authoritative overlap guard.
package booking

import (
	"context"
	"encoding/json"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/clinicbook/scheduling/services/scheduling-service/internal/lifecycle"
	"github.com/clinicbook/scheduling/services/scheduling-service/internal/model"
	"github.com/clinicbook/scheduling/services/scheduling-service/internal/outbox"
	"github.com/clinicbook/scheduling/services/scheduling-service/internal/slots"
)

// Ledger is the committed-appointment store. Implementations must make
// Book's overlap check-and-insert atomic across processes and must keep the
// event write in the same transaction as the row change.
type Ledger interface {
	Book(ctx context.Context, appt *model.Appointment, idempotencyKey string, evt outbox.Event) (model.Appointment, error)
	Get(ctx context.Context, id string) (model.Appointment, error)
	Transition(ctx context.Context, id string, mutate func(*model.Appointment) (outbox.Event, error)) (model.Appointment, error)
}

// Directory resolves doctor and service references owned elsewhere.
type Directory interface {
	GetDoctor(ctx context.Context, id string) (model.Doctor, error)
	GetService(ctx context.Context, id string) (model.Service, error)
}

// FreeIntervalSource is the resolver's advisory view of a doctor's free time.
type FreeIntervalSource interface {
	FreeIntervals(ctx context.Context, doctor model.Doctor, date string, now time.Time) ([]slots.Interval, error)
}

type Config struct {
	HorizonDays   int
	Granularity   time.Duration
	MinLead       time.Duration
	CommitTimeout time.Duration
}

type Coordinator struct {
	ledger Ledger
	dir    Directory
	free   FreeIntervalSource
	cfg    Config
	logger *slog.Logger
	now    func() time.Time
}

func NewCoordinator(ledger Ledger, dir Directory, free FreeIntervalSource, cfg Config, logger *slog.Logger) *Coordinator {
	if cfg.HorizonDays <= 0 {
		cfg.HorizonDays = 30
	}
	if cfg.Granularity <= 0 {
		cfg.Granularity = 15 * time.Minute
	}
	if cfg.CommitTimeout <= 0 {
		cfg.CommitTimeout = 5 * time.Second
	}
	return &Coordinator{
		ledger: ledger,
		dir:    dir,
		free:   free,
		cfg:    cfg,
		logger: logger,
		now:    func() time.Time { return time.Now().UTC() },
	}
}

type BookRequest struct {
	DoctorID       string
	PatientID      string
	ServiceID      string
	Start          time.Time
	IdempotencyKey string
	Notes          string
}

// Book validates and commits one appointment. Conflicts are returned as
// SlotTaken and never retried here: picking the next best slot is the
// caller's decision, not a mechanical one. replayed is true when the
// idempotency key matched an earlier commit and that appointment is returned
// instead of a new one.
func (c *Coordinator) Book(ctx context.Context, req BookRequest) (model.Appointment, bool, error) {
	req.DoctorID = strings.TrimSpace(req.DoctorID)
	req.PatientID = strings.TrimSpace(req.PatientID)
	req.ServiceID = strings.TrimSpace(req.ServiceID)
	if req.DoctorID == "" || req.PatientID == "" || req.ServiceID == "" {
		return model.Appointment{}, false, model.Validationf("doctor_id, patient_id and service_id are required")
	}
	if req.Start.IsZero() {
		return model.Appointment{}, false, model.Validationf("start_time is required")
	}

	doctor, err := c.dir.GetDoctor(ctx, req.DoctorID)
	if err != nil {
		return model.Appointment{}, false, err
	}
	if !doctor.Active {
		return model.Appointment{}, false, model.Validationf("doctor %s is not accepting bookings", doctor.ID)
	}
	svc, err := c.dir.GetService(ctx, req.ServiceID)
	if err != nil {
		return model.Appointment{}, false, err
	}
	if svc.DurationMinutes <= 0 {
		return model.Appointment{}, false, model.Validationf("service %s has no usable duration", svc.ID)
	}

	now := c.now()
	start := req.Start.UTC()
	end := start.Add(time.Duration(svc.DurationMinutes) * time.Minute)

	if start.Before(now.Add(c.cfg.MinLead)) {
		return model.Appointment{}, false, &model.Error{
			Kind:     model.KindLeadTimeViolation,
			Msg:      "requested start is inside the lead-time buffer",
			DoctorID: doctor.ID,
		}
	}
	// The horizon is day granular, like the resolver's: any slot on a date
	// whose local midnight is inside the horizon stays bookable, even when
	// the slot itself is later than now's time of day.
	loc := doctor.Location()
	local := start.In(loc)
	dayStart := time.Date(local.Year(), local.Month(), local.Day(), 0, 0, 0, 0, loc)
	if dayStart.After(now.AddDate(0, 0, c.cfg.HorizonDays)) {
		return model.Appointment{}, false, &model.Error{
			Kind:     model.KindHorizonExceeded,
			Msg:      "requested start is beyond the booking horizon",
			DoctorID: doctor.ID,
		}
	}
	// Slots are generated on a granularity grid anchored at local midnight;
	// a start off that grid was never advertised.
	if local.Sub(dayStart)%c.cfg.Granularity != 0 {
		return model.Appointment{}, false, model.Validationf(
			"start_time is not aligned to the %s slot grid", c.cfg.Granularity)
	}

	// Advisory pre-check against resolved availability. Cheap and slightly
	// stale is fine here; the ledger commit is the correctness guarantee.
	c.adviseAvailability(ctx, doctor, start, end, now)

	status := model.StatusPending
	payment := model.PaymentUnpaid
	if svc.PayAtClinic {
		status = model.StatusScheduled
		payment = model.PaymentPayAtClinic
	}

	appt := &model.Appointment{
		ID:            uuid.NewString(),
		DoctorID:      doctor.ID,
		PatientID:     req.PatientID,
		ServiceID:     svc.ID,
		StartTime:     start,
		EndTime:       end,
		Status:        status,
		PaymentStatus: payment,
		Notes:         strings.TrimSpace(req.Notes),
	}

	commitCtx, cancel := context.WithTimeout(ctx, c.cfg.CommitTimeout)
	defer cancel()

	committed, err := c.ledger.Book(commitCtx, appt, strings.TrimSpace(req.IdempotencyKey), c.event(outbox.EventAppointmentCreated, *appt))
	if err != nil {
		return model.Appointment{}, false, err
	}
	// The ledger returning an appointment other than the one we built means
	// the idempotency key replayed an earlier commit.
	return committed, committed.ID != appt.ID, nil
}

// adviseAvailability logs when a request falls outside the resolved free
// intervals. It deliberately rejects nothing: the data may be stale, and the
// exclusion constraint has the final word.
func (c *Coordinator) adviseAvailability(ctx context.Context, doctor model.Doctor, start, end, now time.Time) {
	date := start.In(doctor.Location()).Format(model.DateFormat)
	free, err := c.free.FreeIntervals(ctx, doctor, date, now)
	if err != nil {
		c.logger.Warn("availability pre-check failed", "doctor_id", doctor.ID, "err", err)
		return
	}
	candidate := slots.Interval{Start: start, End: end}
	for _, f := range free {
		if f.Contains(candidate) {
			return
		}
	}
	c.logger.Info("booking outside resolved availability",
		"doctor_id", doctor.ID,
		"start", start.Format(time.RFC3339),
		"end", end.Format(time.RFC3339),
	)
}

// Cancel releases the interval back to the resolver by moving the row out of
// the blocking statuses. Patients may cancel strictly before start; staff up
// to the start itself.
func (c *Coordinator) Cancel(ctx context.Context, apptID, reason string, actor lifecycle.Actor) (model.Appointment, error) {
	return c.transition(ctx, apptID, lifecycle.Request{
		Target: model.StatusCancelled,
		Actor:  actor,
		Reason: strings.TrimSpace(reason),
	}, outbox.EventAppointmentCancelled)
}

// ConfirmPayment moves pending → scheduled on a payment confirmation from the
// payment collaborator, or on an explicit pay-at-clinic acknowledgement.
func (c *Coordinator) ConfirmPayment(ctx context.Context, apptID string, payAtClinic bool) (model.Appointment, error) {
	return c.transition(ctx, apptID, lifecycle.Request{
		Target:      model.StatusScheduled,
		Actor:       lifecycle.ActorSystem,
		PayAtClinic: payAtClinic,
	}, outbox.EventAppointmentConfirmed)
}

func (c *Coordinator) Complete(ctx context.Context, apptID string, clinicSignal bool) (model.Appointment, error) {
	return c.transition(ctx, apptID, lifecycle.Request{
		Target:       model.StatusCompleted,
		Actor:        lifecycle.ActorDoctor,
		ClinicSignal: clinicSignal,
	}, outbox.EventAppointmentCompleted)
}

func (c *Coordinator) MarkNoShow(ctx context.Context, apptID string) (model.Appointment, error) {
	return c.transition(ctx, apptID, lifecycle.Request{
		Target: model.StatusNoShow,
		Actor:  lifecycle.ActorDoctor,
	}, outbox.EventAppointmentNoShow)
}

func (c *Coordinator) Get(ctx context.Context, apptID string) (model.Appointment, error) {
	return c.ledger.Get(ctx, apptID)
}

func (c *Coordinator) transition(ctx context.Context, apptID string, req lifecycle.Request, eventType string) (model.Appointment, error) {
	if req.Now.IsZero() {
		req.Now = c.now()
	}

	commitCtx, cancel := context.WithTimeout(ctx, c.cfg.CommitTimeout)
	defer cancel()

	return c.ledger.Transition(commitCtx, apptID, func(appt *model.Appointment) (outbox.Event, error) {
		if err := lifecycle.Apply(appt, req); err != nil {
			return outbox.Event{}, err
		}
		return c.event(eventType, *appt), nil
	})
}

// event builds the envelope collaborators consume; payloads carry identifiers
// and timestamps, never patient or payment detail beyond status.
func (c *Coordinator) event(eventType string, appt model.Appointment) outbox.Event {
	payload, err := json.Marshal(map[string]any{
		"appointment_id": appt.ID,
		"doctor_id":      appt.DoctorID,
		"patient_id":     appt.PatientID,
		"service_id":     appt.ServiceID,
		"start_time":     appt.StartTime.UTC().Format(time.RFC3339),
		"end_time":       appt.EndTime.UTC().Format(time.RFC3339),
		"status":         appt.Status,
	})
	if err != nil {
		// Marshalling a map of strings cannot fail; keep the event rather
		// than aborting the booking.
		c.logger.Error("event payload marshal failed", "err", err)
	}
	return outbox.Event{
		AggregateType: "appointment",
		AggregateID:   appt.ID,
		EventType:     eventType,
		Payload:       payload,
	}
}
