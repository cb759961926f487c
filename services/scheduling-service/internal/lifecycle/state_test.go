package lifecycle

import (
	"testing"
	"time"

	"github.com/clinicbook/scheduling/services/scheduling-service/internal/model"
)

var apptStart = time.Date(2026, 3, 2, 10, 0, 0, 0, time.UTC)

func newAppt(status model.Status) *model.Appointment {
	return &model.Appointment{
		ID:            "appt-1",
		DoctorID:      "doc-1",
		PatientID:     "pat-1",
		Status:        status,
		PaymentStatus: model.PaymentUnpaid,
		StartTime:     apptStart,
		EndTime:       apptStart.Add(30 * time.Minute),
	}
}

func TestConfirmFromPending(t *testing.T) {
	appt := newAppt(model.StatusPending)
	err := Apply(appt, Request{Target: model.StatusScheduled, Actor: ActorSystem, Now: apptStart.Add(-time.Hour)})
	if err != nil {
		t.Fatalf("Apply: %v", err)
	}
	if appt.Status != model.StatusScheduled || appt.PaymentStatus != model.PaymentPaid {
		t.Fatalf("after confirm: %+v", appt)
	}
}

func TestConfirmPayAtClinic(t *testing.T) {
	appt := newAppt(model.StatusPending)
	err := Apply(appt, Request{Target: model.StatusScheduled, Actor: ActorSystem, PayAtClinic: true, Now: apptStart.Add(-time.Hour)})
	if err != nil {
		t.Fatalf("Apply: %v", err)
	}
	if appt.PaymentStatus != model.PaymentPayAtClinic {
		t.Fatalf("payment status = %s, want pay_at_clinic", appt.PaymentStatus)
	}
}

func TestConfirmOnlyFromPending(t *testing.T) {
	for _, status := range []model.Status{model.StatusScheduled} {
		appt := newAppt(status)
		err := Apply(appt, Request{Target: model.StatusScheduled, Actor: ActorSystem, Now: apptStart.Add(-time.Hour)})
		if !model.IsKind(err, model.KindInvalidTransition) {
			t.Fatalf("confirm from %s: got %v", status, err)
		}
	}
}

func TestPatientCancelBeforeStart(t *testing.T) {
	appt := newAppt(model.StatusScheduled)
	now := apptStart.Add(-time.Hour)
	err := Apply(appt, Request{Target: model.StatusCancelled, Actor: ActorPatient, Now: now, Reason: "conflict"})
	if err != nil {
		t.Fatalf("Apply: %v", err)
	}
	if appt.Status != model.StatusCancelled {
		t.Fatalf("status = %s", appt.Status)
	}
	if appt.CancelledAt == nil || !appt.CancelledAt.Equal(now) || appt.CancellationReason != "conflict" {
		t.Fatalf("cancellation metadata: %+v", appt)
	}
}

func TestPatientCancelAtStartRejected(t *testing.T) {
	appt := newAppt(model.StatusScheduled)
	err := Apply(appt, Request{Target: model.StatusCancelled, Actor: ActorPatient, Now: apptStart})
	if !model.IsKind(err, model.KindInvalidTransition) {
		t.Fatalf("got %v, want invalid transition", err)
	}
}

func TestStaffCancelAtStartAllowed(t *testing.T) {
	appt := newAppt(model.StatusScheduled)
	err := Apply(appt, Request{Target: model.StatusCancelled, Actor: ActorAdmin, Now: apptStart, Reason: "doctor unavailable"})
	if err != nil {
		t.Fatalf("Apply: %v", err)
	}
	if appt.Status != model.StatusCancelled {
		t.Fatalf("status = %s", appt.Status)
	}
}

func TestStaffCancelAfterStartRejected(t *testing.T) {
	appt := newAppt(model.StatusScheduled)
	err := Apply(appt, Request{Target: model.StatusCancelled, Actor: ActorDoctor, Now: apptStart.Add(time.Minute)})
	if !model.IsKind(err, model.KindInvalidTransition) {
		t.Fatalf("got %v, want invalid transition", err)
	}
}

func TestCancelPendingAllowed(t *testing.T) {
	appt := newAppt(model.StatusPending)
	err := Apply(appt, Request{Target: model.StatusCancelled, Actor: ActorPatient, Now: apptStart.Add(-time.Hour)})
	if err != nil {
		t.Fatalf("Apply: %v", err)
	}
}

func TestCompleteAfterEnd(t *testing.T) {
	appt := newAppt(model.StatusScheduled)
	err := Apply(appt, Request{Target: model.StatusCompleted, Actor: ActorDoctor, Now: appt.EndTime.Add(time.Minute)})
	if err != nil {
		t.Fatalf("Apply: %v", err)
	}
	if appt.Status != model.StatusCompleted {
		t.Fatalf("status = %s", appt.Status)
	}
}

func TestCompleteEarlyNeedsClinicSignal(t *testing.T) {
	appt := newAppt(model.StatusScheduled)
	now := apptStart.Add(10 * time.Minute)

	err := Apply(appt, Request{Target: model.StatusCompleted, Actor: ActorDoctor, Now: now})
	if !model.IsKind(err, model.KindInvalidTransition) {
		t.Fatalf("early complete without signal: got %v", err)
	}

	err = Apply(appt, Request{Target: model.StatusCompleted, Actor: ActorDoctor, Now: now, ClinicSignal: true})
	if err != nil {
		t.Fatalf("early complete with signal: %v", err)
	}
}

func TestCompleteOnlyFromScheduled(t *testing.T) {
	appt := newAppt(model.StatusPending)
	err := Apply(appt, Request{Target: model.StatusCompleted, Actor: ActorDoctor, Now: appt.EndTime.Add(time.Minute)})
	if !model.IsKind(err, model.KindInvalidTransition) {
		t.Fatalf("got %v, want invalid transition", err)
	}
}

func TestNoShowAfterStart(t *testing.T) {
	appt := newAppt(model.StatusScheduled)
	err := Apply(appt, Request{Target: model.StatusNoShow, Actor: ActorDoctor, Now: apptStart.Add(15 * time.Minute)})
	if err != nil {
		t.Fatalf("Apply: %v", err)
	}
	if appt.Status != model.StatusNoShow {
		t.Fatalf("status = %s", appt.Status)
	}
}

func TestNoShowGuards(t *testing.T) {
	// Before start.
	appt := newAppt(model.StatusScheduled)
	err := Apply(appt, Request{Target: model.StatusNoShow, Actor: ActorDoctor, Now: apptStart.Add(-time.Minute)})
	if !model.IsKind(err, model.KindInvalidTransition) {
		t.Fatalf("no-show before start: got %v", err)
	}

	// Patient checked in.
	appt = newAppt(model.StatusScheduled)
	err = Apply(appt, Request{Target: model.StatusNoShow, Actor: ActorDoctor, Now: apptStart.Add(time.Minute), ClinicSignal: true})
	if !model.IsKind(err, model.KindInvalidTransition) {
		t.Fatalf("no-show after check-in: got %v", err)
	}

	// Pending never goes straight to no-show.
	appt = newAppt(model.StatusPending)
	err = Apply(appt, Request{Target: model.StatusNoShow, Actor: ActorDoctor, Now: apptStart.Add(time.Minute)})
	if !model.IsKind(err, model.KindInvalidTransition) {
		t.Fatalf("no-show from pending: got %v", err)
	}
}

func TestTerminalStatesAreFinal(t *testing.T) {
	targets := []model.Status{model.StatusScheduled, model.StatusCancelled, model.StatusCompleted, model.StatusNoShow}
	for _, terminal := range []model.Status{model.StatusCompleted, model.StatusCancelled, model.StatusNoShow} {
		for _, target := range targets {
			appt := newAppt(terminal)
			err := Apply(appt, Request{Target: target, Actor: ActorAdmin, Now: appt.EndTime.Add(time.Hour)})
			if !model.IsKind(err, model.KindInvalidTransition) {
				t.Fatalf("%s -> %s: got %v, want invalid transition", terminal, target, err)
			}
			if appt.Status != terminal {
				t.Fatalf("%s mutated to %s on rejected transition", terminal, appt.Status)
			}
		}
	}
}

func TestUnknownTargetRejected(t *testing.T) {
	appt := newAppt(model.StatusPending)
	err := Apply(appt, Request{Target: model.Status("archived"), Actor: ActorAdmin, Now: apptStart})
	if !model.IsKind(err, model.KindValidation) {
		t.Fatalf("got %v, want validation error", err)
	}
}
