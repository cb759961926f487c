package storage

import (
	"context"
	"time"

	"github.com/clinicbook/scheduling/libs/db"
	"github.com/clinicbook/scheduling/services/scheduling-service/internal/model"
)

// AvailabilityRepository holds the weekly template and the per-date override
// stores. The engine only reads them on the booking path; writes come from the
// doctor/admin editing endpoints.
type AvailabilityRepository struct {
	pool *db.Pool
}

func NewAvailabilityRepository(pool *db.Pool) *AvailabilityRepository {
	return &AvailabilityRepository{pool: pool}
}

func (r *AvailabilityRepository) WeeklyWindows(ctx context.Context, doctorID string) ([]model.WeeklyWindow, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT doctor_id::text, weekday, start_minute, end_minute
		FROM doctor_weekly_availability
		WHERE doctor_id = $1
		ORDER BY weekday, start_minute
	`, doctorID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []model.WeeklyWindow
	for rows.Next() {
		var w model.WeeklyWindow
		var weekday int
		if err := rows.Scan(&w.DoctorID, &weekday, &w.StartMinute, &w.EndMinute); err != nil {
			return nil, err
		}
		w.Weekday = time.Weekday(weekday)
		out = append(out, w)
	}
	if rows.Err() != nil {
		return nil, rows.Err()
	}
	return out, nil
}

// ReplaceWeeklyWindows swaps the doctor's whole recurring pattern in one
// transaction; schedule edits arrive as complete replacements, not deltas.
func (r *AvailabilityRepository) ReplaceWeeklyWindows(ctx context.Context, doctorID string, windows []model.WeeklyWindow) error {
	for _, w := range windows {
		if w.StartMinute < 0 || w.EndMinute > 24*60 || w.StartMinute >= w.EndMinute {
			return model.Validationf("weekly window %d..%d out of range", w.StartMinute, w.EndMinute)
		}
		if w.Weekday < time.Sunday || w.Weekday > time.Saturday {
			return model.Validationf("weekday %d out of range", w.Weekday)
		}
	}

	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback(ctx) }()

	if _, err := tx.Exec(ctx, `
		DELETE FROM doctor_weekly_availability WHERE doctor_id = $1
	`, doctorID); err != nil {
		return err
	}
	for _, w := range windows {
		if _, err := tx.Exec(ctx, `
			INSERT INTO doctor_weekly_availability (doctor_id, weekday, start_minute, end_minute)
			VALUES ($1, $2, $3, $4)
		`, doctorID, int(w.Weekday), w.StartMinute, w.EndMinute); err != nil {
			return err
		}
	}
	return tx.Commit(ctx)
}

// OverridesInRange returns overrides keyed by date, both bounds inclusive.
func (r *AvailabilityRepository) OverridesInRange(ctx context.Context, doctorID, fromDate, toDate string) (map[string]model.Override, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT doctor_id::text, to_char(date, 'YYYY-MM-DD'), kind,
			COALESCE(start_minute, 0), COALESCE(end_minute, 0)
		FROM doctor_schedule_overrides
		WHERE doctor_id = $1 AND date >= $2::date AND date <= $3::date
	`, doctorID, fromDate, toDate)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := map[string]model.Override{}
	for rows.Next() {
		var o model.Override
		if err := rows.Scan(&o.DoctorID, &o.Date, &o.Kind, &o.StartMinute, &o.EndMinute); err != nil {
			return nil, err
		}
		out[o.Date] = o
	}
	if rows.Err() != nil {
		return nil, rows.Err()
	}
	return out, nil
}

// UpsertOverride enforces at most one override per (doctor, date). Overrides
// are kept after the date passes; there is no delete path here.
func (r *AvailabilityRepository) UpsertOverride(ctx context.Context, o model.Override) error {
	switch o.Kind {
	case model.OverrideDayOff:
		o.StartMinute, o.EndMinute = 0, 0
	case model.OverrideCustomHours:
		if o.StartMinute < 0 || o.EndMinute > 24*60 || o.StartMinute >= o.EndMinute {
			return model.Validationf("custom hours %d..%d out of range", o.StartMinute, o.EndMinute)
		}
	default:
		return model.Validationf("unknown override kind %q", o.Kind)
	}
	if _, err := time.Parse(model.DateFormat, o.Date); err != nil {
		return model.Validationf("invalid override date %q", o.Date)
	}

	_, err := r.pool.Exec(ctx, `
		INSERT INTO doctor_schedule_overrides (doctor_id, date, kind, start_minute, end_minute)
		VALUES ($1, $2::date, $3, $4, $5)
		ON CONFLICT (doctor_id, date) DO UPDATE
		SET kind = EXCLUDED.kind,
			start_minute = EXCLUDED.start_minute,
			end_minute = EXCLUDED.end_minute,
			updated_at = now()
	`, o.DoctorID, o.Date, o.Kind, o.StartMinute, o.EndMinute)
	return err
}
