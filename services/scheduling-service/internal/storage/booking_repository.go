package storage

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/clinicbook/scheduling/libs/db"
	"github.com/clinicbook/scheduling/services/scheduling-service/internal/model"
	"github.com/clinicbook/scheduling/services/scheduling-service/internal/outbox"
)

// BookingRepository is the Booking Ledger. The appointments table carries a
// Postgres exclusion constraint over (doctor_id, tstzrange(start,end)) limited
// to blocking statuses, so the overlap check-and-insert is atomic across
// processes; no application-level lock is involved.
type BookingRepository struct {
	pool   *db.Pool
	outbox *outbox.Repository
}

func NewBookingRepository(pool *db.Pool, outboxRepo *outbox.Repository) *BookingRepository {
	return &BookingRepository{pool: pool, outbox: outboxRepo}
}

const appointmentColumns = `
	id::text, doctor_id::text, patient_id::text, service_id::text,
	start_time, end_time, status, payment_status, COALESCE(notes, ''),
	cancelled_at, COALESCE(cancellation_reason, ''), created_at`

func scanAppointment(row pgx.Row) (model.Appointment, error) {
	var a model.Appointment
	var cancelledAt *time.Time
	err := row.Scan(
		&a.ID, &a.DoctorID, &a.PatientID, &a.ServiceID,
		&a.StartTime, &a.EndTime, &a.Status, &a.PaymentStatus, &a.Notes,
		&cancelledAt, &a.CancellationReason, &a.CreatedAt,
	)
	if err != nil {
		return model.Appointment{}, err
	}
	a.CancelledAt = cancelledAt
	return a, nil
}

// Book commits the appointment and its created-event atomically. A replayed
// idempotency key returns the appointment recorded for it without inserting a
// second row. An overlap with a blocking appointment surfaces as SlotTaken.
func (r *BookingRepository) Book(ctx context.Context, appt *model.Appointment, idempotencyKey string, evt outbox.Event) (model.Appointment, error) {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return model.Appointment{}, err
	}
	defer func() { _ = tx.Rollback(ctx) }()

	if idempotencyKey != "" {
		existingID, err := r.lockIdempotencyKey(ctx, tx, appt.PatientID, idempotencyKey)
		if err != nil {
			return model.Appointment{}, err
		}
		if existingID != "" {
			replayed, err := scanAppointment(tx.QueryRow(ctx, `
				SELECT `+appointmentColumns+`
				FROM appointments WHERE id = $1
			`, existingID))
			if err != nil {
				return model.Appointment{}, err
			}
			if err := tx.Commit(ctx); err != nil {
				return model.Appointment{}, err
			}
			return replayed, nil
		}
	}

	err = tx.QueryRow(ctx, `
		INSERT INTO appointments
			(id, doctor_id, patient_id, service_id, start_time, end_time, status, payment_status, notes)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		RETURNING created_at
	`, appt.ID, appt.DoctorID, appt.PatientID, appt.ServiceID,
		appt.StartTime, appt.EndTime, appt.Status, appt.PaymentStatus, appt.Notes,
	).Scan(&appt.CreatedAt)
	if err != nil {
		if isExclusionViolation(err) {
			return model.Appointment{}, model.SlotTaken(appt.DoctorID)
		}
		return model.Appointment{}, err
	}

	if idempotencyKey != "" {
		if _, err := tx.Exec(ctx, `
			UPDATE booking_idempotency_keys
			SET appointment_id = $3, updated_at = now()
			WHERE patient_id = $1 AND idempotency_key = $2
		`, appt.PatientID, idempotencyKey, appt.ID); err != nil {
			return model.Appointment{}, err
		}
	}

	if err := r.outbox.Insert(ctx, tx, evt); err != nil {
		return model.Appointment{}, err
	}

	if err := tx.Commit(ctx); err != nil {
		return model.Appointment{}, err
	}
	return *appt, nil
}

// lockIdempotencyKey takes the row lock for (patient, key), inserting the row
// on first use. Concurrent retries with the same key serialize here, so the
// loser of a race observes the winner's appointment id.
func (r *BookingRepository) lockIdempotencyKey(ctx context.Context, tx pgx.Tx, patientID, key string) (string, error) {
	_, err := tx.Exec(ctx, `
		INSERT INTO booking_idempotency_keys (patient_id, idempotency_key)
		VALUES ($1, $2)
		ON CONFLICT (patient_id, idempotency_key) DO NOTHING
	`, patientID, key)
	if err != nil {
		return "", err
	}

	var appointmentID string
	err = tx.QueryRow(ctx, `
		SELECT COALESCE(appointment_id::text, '')
		FROM booking_idempotency_keys
		WHERE patient_id = $1 AND idempotency_key = $2
		FOR UPDATE
	`, patientID, key).Scan(&appointmentID)
	if err != nil {
		return "", err
	}
	return appointmentID, nil
}

// Get loads one appointment.
func (r *BookingRepository) Get(ctx context.Context, id string) (model.Appointment, error) {
	appt, err := scanAppointment(r.pool.QueryRow(ctx, `
		SELECT `+appointmentColumns+`
		FROM appointments WHERE id = $1
	`, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return model.Appointment{}, model.NotFoundf("appointment %s", id)
	}
	return appt, err
}

// Transition loads the row under FOR UPDATE, applies mutate, persists the
// result and writes the event, all in one transaction.
func (r *BookingRepository) Transition(ctx context.Context, id string, mutate func(*model.Appointment) (outbox.Event, error)) (model.Appointment, error) {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return model.Appointment{}, err
	}
	defer func() { _ = tx.Rollback(ctx) }()

	appt, err := scanAppointment(tx.QueryRow(ctx, `
		SELECT `+appointmentColumns+`
		FROM appointments WHERE id = $1
		FOR UPDATE
	`, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return model.Appointment{}, model.NotFoundf("appointment %s", id)
	}
	if err != nil {
		return model.Appointment{}, err
	}

	evt, err := mutate(&appt)
	if err != nil {
		return model.Appointment{}, err
	}

	if _, err := tx.Exec(ctx, `
		UPDATE appointments
		SET status = $2,
			payment_status = $3,
			cancelled_at = $4,
			cancellation_reason = $5
		WHERE id = $1
	`, appt.ID, appt.Status, appt.PaymentStatus, appt.CancelledAt, appt.CancellationReason); err != nil {
		return model.Appointment{}, err
	}

	if evt.EventType != "" {
		if err := r.outbox.Insert(ctx, tx, evt); err != nil {
			return model.Appointment{}, err
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return model.Appointment{}, err
	}
	return appt, nil
}

// ListBlocking returns pending/scheduled appointments intersecting [from, to).
// This is the slot resolver's read path; cancelled rows stop blocking simply
// because this query filters them out.
func (r *BookingRepository) ListBlocking(ctx context.Context, doctorID string, from, to time.Time) ([]model.Appointment, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT `+appointmentColumns+`
		FROM appointments
		WHERE doctor_id = $1
			AND status IN ('pending', 'scheduled')
			AND start_time < $3
			AND end_time > $2
		ORDER BY start_time ASC
	`, doctorID, from, to)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return collectAppointments(rows)
}

// ListByDoctor returns recent appointments for operational views.
func (r *BookingRepository) ListByDoctor(ctx context.Context, doctorID string, limit int) ([]model.Appointment, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := r.pool.Query(ctx, `
		SELECT `+appointmentColumns+`
		FROM appointments
		WHERE doctor_id = $1
		ORDER BY start_time DESC
		LIMIT $2
	`, doctorID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return collectAppointments(rows)
}

func collectAppointments(rows pgx.Rows) ([]model.Appointment, error) {
	var appts []model.Appointment
	for rows.Next() {
		appt, err := scanAppointment(rows)
		if err != nil {
			return nil, err
		}
		appts = append(appts, appt)
	}
	if rows.Err() != nil {
		return nil, rows.Err()
	}
	return appts, nil
}

// isExclusionViolation matches SQLSTATE 23P01, raised by the appointments
// overlap exclusion constraint.
func isExclusionViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == "23P01"
}
