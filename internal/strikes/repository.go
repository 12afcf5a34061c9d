package strikes

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/haulhub/backend/internal/models"
)

type Repository struct {
	pool *pgxpool.Pool
}

func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

func (r *Repository) Begin(ctx context.Context) (pgx.Tx, error) {
	return r.pool.Begin(ctx)
}

// IncrementNoShowTx bumps the counter under the row lock and returns the new
// value.
func (r *Repository) IncrementNoShowTx(ctx context.Context, tx pgx.Tx, userID uuid.UUID) (int, error) {
	var count int
	err := tx.QueryRow(ctx, `
		UPDATE hauler_profiles
		SET no_show_count = no_show_count + 1, updated_at = now()
		WHERE user_id = $1
		RETURNING no_show_count
	`, userID).Scan(&count)
	return count, err
}

// IncrementCancellationTx bumps the cancellation counter and returns the new
// value.
func (r *Repository) IncrementCancellationTx(ctx context.Context, tx pgx.Tx, userID uuid.UUID) (int, error) {
	var count int
	err := tx.QueryRow(ctx, `
		UPDATE hauler_profiles
		SET cancellation_count = cancellation_count + 1, updated_at = now()
		WHERE user_id = $1
		RETURNING cancellation_count
	`, userID).Scan(&count)
	return count, err
}

// ApplyPenaltyTx stamps the account status and, for suspensions, the
// deadline.
func (r *Repository) ApplyPenaltyTx(ctx context.Context, tx pgx.Tx, userID uuid.UUID, status string, until *time.Time) error {
	if _, err := tx.Exec(ctx, `
		UPDATE users SET account_status = $2, updated_at = now() WHERE id = $1
	`, userID, status); err != nil {
		return err
	}
	_, err := tx.Exec(ctx, `
		UPDATE hauler_profiles SET suspended_until = $2, updated_at = now() WHERE user_id = $1
	`, userID, until)
	return err
}

func (r *Repository) GetProfile(ctx context.Context, userID uuid.UUID) (*models.HaulerProfile, error) {
	var p models.HaulerProfile
	err := r.pool.QueryRow(ctx, `
		SELECT user_id, no_show_count, cancellation_count, suspended_until, updated_at
		FROM hauler_profiles WHERE user_id = $1
	`, userID).Scan(&p.UserID, &p.NoShowCount, &p.CancellationCount, &p.SuspendedUntil, &p.UpdatedAt)
	if err != nil {
		return nil, err
	}
	return &p, nil
}
