package inbox

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5/pgconn"

	"github.com/clinicbook/scheduling/libs/db"
)

// Repository dedupes consumed events: each event id is recorded once, and a
// replay is reported rather than reprocessed.
type Repository struct {
	pool *db.Pool
}

func NewRepository(pool *db.Pool) *Repository {
	return &Repository{pool: pool}
}

// Record returns false when the event id has already been seen.
func (r *Repository) Record(ctx context.Context, eventID string, eventType string) (bool, error) {
	_, err := r.pool.Exec(ctx, `
		INSERT INTO inbox_events (event_id, event_type)
		VALUES ($1, $2)
	`, eventID, eventType)
	if err == nil {
		return true, nil
	}

	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == "23505" {
		return false, nil
	}
	return false, err
}

// Forget releases an event id after a failed handle so a redelivery is
// processed instead of deduped away.
func (r *Repository) Forget(ctx context.Context, eventID string) error {
	_, err := r.pool.Exec(ctx, `
		DELETE FROM inbox_events WHERE event_id = $1
	`, eventID)
	return err
}
