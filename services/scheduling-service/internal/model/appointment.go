package model

import "time"

// Status is the appointment lifecycle state. Blocking statuses occupy time on
// the doctor's calendar; terminal statuses never change again.
type Status string

const (
	StatusPending   Status = "pending"
	StatusScheduled Status = "scheduled"
	StatusCompleted Status = "completed"
	StatusCancelled Status = "cancelled"
	StatusNoShow    Status = "no_show"
)

func (s Status) Blocking() bool {
	return s == StatusPending || s == StatusScheduled
}

func (s Status) Terminal() bool {
	return s == StatusCompleted || s == StatusCancelled || s == StatusNoShow
}

func (s Status) Valid() bool {
	switch s {
	case StatusPending, StatusScheduled, StatusCompleted, StatusCancelled, StatusNoShow:
		return true
	}
	return false
}

type PaymentStatus string

const (
	PaymentUnpaid      PaymentStatus = "unpaid"
	PaymentPaid        PaymentStatus = "paid"
	PaymentPayAtClinic PaymentStatus = "pay_at_clinic"
)

// Appointment is a committed booking. Rows are never hard-deleted; cancellation
// is a status change so history survives disputes and analytics.
type Appointment struct {
	ID                 string        `json:"id"`
	DoctorID           string        `json:"doctor_id"`
	PatientID          string        `json:"patient_id"`
	ServiceID          string        `json:"service_id"`
	StartTime          time.Time     `json:"start_time"`
	EndTime            time.Time     `json:"end_time"`
	Status             Status        `json:"status"`
	PaymentStatus      PaymentStatus `json:"payment_status"`
	Notes              string        `json:"notes,omitempty"`
	CancelledAt        *time.Time    `json:"cancelled_at,omitempty"`
	CancellationReason string        `json:"cancellation_reason,omitempty"`
	CreatedAt          time.Time     `json:"created_at"`
}
