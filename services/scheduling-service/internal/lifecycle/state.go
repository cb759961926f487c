// Package lifecycle governs appointment status transitions after a booking is
// committed. Every mutation of a ledger row goes through Apply; illegal moves
// are rejected, never coerced.
package lifecycle

import (
	"time"

	"github.com/clinicbook/scheduling/services/scheduling-service/internal/model"
)

// Actor identifies who requests a transition; some guards only open for staff.
type Actor string

const (
	ActorPatient Actor = "patient"
	ActorDoctor  Actor = "doctor"
	ActorAdmin   Actor = "admin"
	ActorSystem  Actor = "system"
)

func (a Actor) Staff() bool {
	return a == ActorDoctor || a == ActorAdmin
}

// Request describes a requested transition and the evidence backing it.
type Request struct {
	Target       model.Status
	Actor        Actor
	Now          time.Time
	ClinicSignal bool   // explicit clinic confirmation (check-in / completion)
	PayAtClinic  bool   // confirm without payment: patient pays on site
	Reason       string // cancellation reason, recorded on the row
}

// Apply validates the transition and mutates appt in place. The caller is
// responsible for persisting the result atomically.
func Apply(appt *model.Appointment, req Request) error {
	if !req.Target.Valid() {
		return model.Validationf("unknown status %q", req.Target)
	}
	if appt.Status.Terminal() {
		return model.InvalidTransition(appt.Status, req.Target, "appointment is in a terminal state")
	}

	switch req.Target {
	case model.StatusScheduled:
		return confirm(appt, req)
	case model.StatusCancelled:
		return cancel(appt, req)
	case model.StatusCompleted:
		return complete(appt, req)
	case model.StatusNoShow:
		return noShow(appt, req)
	default:
		return model.InvalidTransition(appt.Status, req.Target, "not a reachable state")
	}
}

// confirm moves pending → scheduled on payment confirmation or an explicit
// pay-at-clinic acknowledgement.
func confirm(appt *model.Appointment, req Request) error {
	if appt.Status != model.StatusPending {
		return model.InvalidTransition(appt.Status, model.StatusScheduled, "only pending appointments can be confirmed")
	}
	if req.PayAtClinic {
		appt.PaymentStatus = model.PaymentPayAtClinic
	} else {
		appt.PaymentStatus = model.PaymentPaid
	}
	appt.Status = model.StatusScheduled
	return nil
}

// cancel is legal strictly before the start time for patients; staff may
// cancel for operational reasons up to the moment the appointment starts.
func cancel(appt *model.Appointment, req Request) error {
	if !appt.Status.Blocking() {
		return model.InvalidTransition(appt.Status, model.StatusCancelled, "only pending or scheduled appointments can be cancelled")
	}
	if req.Actor.Staff() {
		// Operational override: staff may cancel up to the moment it starts.
		if req.Now.After(appt.StartTime) {
			return model.InvalidTransition(appt.Status, model.StatusCancelled, "appointment has already started")
		}
	} else if !req.Now.Before(appt.StartTime) {
		return model.InvalidTransition(appt.Status, model.StatusCancelled, "cancellation window has closed")
	}
	now := req.Now
	appt.Status = model.StatusCancelled
	appt.CancelledAt = &now
	appt.CancellationReason = req.Reason
	return nil
}

func complete(appt *model.Appointment, req Request) error {
	if appt.Status != model.StatusScheduled {
		return model.InvalidTransition(appt.Status, model.StatusCompleted, "only scheduled appointments can be completed")
	}
	if req.Now.Before(appt.EndTime) && !req.ClinicSignal {
		return model.InvalidTransition(appt.Status, model.StatusCompleted, "appointment has not ended and no clinic signal was given")
	}
	appt.Status = model.StatusCompleted
	return nil
}

// noShow is only reachable from scheduled, after the start time, when the
// clinic reports no check-in.
func noShow(appt *model.Appointment, req Request) error {
	if appt.Status != model.StatusScheduled {
		return model.InvalidTransition(appt.Status, model.StatusNoShow, "only scheduled appointments can be marked no-show")
	}
	if !req.Now.After(appt.StartTime) {
		return model.InvalidTransition(appt.Status, model.StatusNoShow, "appointment has not started yet")
	}
	if req.ClinicSignal {
		return model.InvalidTransition(appt.Status, model.StatusNoShow, "patient has checked in")
	}
	appt.Status = model.StatusNoShow
	return nil
}
