package storage

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5"

	"github.com/clinicbook/scheduling/libs/db"
	"github.com/clinicbook/scheduling/services/scheduling-service/internal/model"
)

// DirectoryRepository reads the doctor and service directories maintained by
// the rest of the platform. The engine treats them as read-only references.
type DirectoryRepository struct {
	pool *db.Pool
}

func NewDirectoryRepository(pool *db.Pool) *DirectoryRepository {
	return &DirectoryRepository{pool: pool}
}

func (r *DirectoryRepository) GetDoctor(ctx context.Context, id string) (model.Doctor, error) {
	var d model.Doctor
	err := r.pool.QueryRow(ctx, `
		SELECT id::text, clinic_id::text, timezone, active
		FROM doctors
		WHERE id = $1
	`, id).Scan(&d.ID, &d.ClinicID, &d.Timezone, &d.Active)
	if errors.Is(err, pgx.ErrNoRows) {
		return model.Doctor{}, model.NotFoundf("doctor %s", id)
	}
	return d, err
}

func (r *DirectoryRepository) GetService(ctx context.Context, id string) (model.Service, error) {
	var s model.Service
	err := r.pool.QueryRow(ctx, `
		SELECT id::text, clinic_id::text, name, duration_minutes, pay_at_clinic
		FROM services
		WHERE id = $1
	`, id).Scan(&s.ID, &s.ClinicID, &s.Name, &s.DurationMinutes, &s.PayAtClinic)
	if errors.Is(err, pgx.ErrNoRows) {
		return model.Service{}, model.NotFoundf("service %s", id)
	}
	return s, err
}
