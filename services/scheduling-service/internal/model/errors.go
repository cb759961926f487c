package model

import (
	"errors"
	"fmt"
)

// ErrorKind classifies engine failures so callers can decide between retrying
// (SlotTaken, after re-resolving), prompting the user (Validation, Horizon,
// LeadTime) and treating the failure as a bug (InvalidTransition, NotFound on
// a previously valid reference).
type ErrorKind string

const (
	KindValidation        ErrorKind = "validation"
	KindSlotTaken         ErrorKind = "slot_taken"
	KindHorizonExceeded   ErrorKind = "horizon_exceeded"
	KindLeadTimeViolation ErrorKind = "lead_time_violation"
	KindInvalidTransition ErrorKind = "invalid_transition"
	KindNotFound          ErrorKind = "not_found"
)

// Error carries the kind plus the offending identifiers.
type Error struct {
	Kind          ErrorKind
	Msg           string
	DoctorID      string
	AppointmentID string
	From          Status // invalid_transition only
	To            Status // invalid_transition only
}

func (e *Error) Error() string {
	if e.Kind == KindInvalidTransition {
		return fmt.Sprintf("%s: %s -> %s: %s", e.Kind, e.From, e.To, e.Msg)
	}
	if e.Msg == "" {
		return string(e.Kind)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Msg)
}

func Validationf(format string, args ...any) *Error {
	return &Error{Kind: KindValidation, Msg: fmt.Sprintf(format, args...)}
}

func NotFoundf(format string, args ...any) *Error {
	return &Error{Kind: KindNotFound, Msg: fmt.Sprintf(format, args...)}
}

func SlotTaken(doctorID string) *Error {
	return &Error{Kind: KindSlotTaken, Msg: "time slot already booked", DoctorID: doctorID}
}

func InvalidTransition(from, to Status, msg string) *Error {
	return &Error{Kind: KindInvalidTransition, From: from, To: to, Msg: msg}
}

// KindOf returns the ErrorKind of err, or "" for untyped errors.
func KindOf(err error) ErrorKind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return ""
}

func IsKind(err error, kind ErrorKind) bool {
	return KindOf(err) == kind
}
