package jobs

import (
	"context"
	"errors"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/haulhub/backend/internal/models"
)

// ErrNotFound is returned when a job or application does not exist.
var ErrNotFound = errors.New("not found")

const jobColumns = `id, client_id, title, description, category, budget, location_address, lat, lng, scheduled_date, status, created_at, updated_at`

type Repository struct {
	pool *pgxpool.Pool
}

func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

func (r *Repository) Begin(ctx context.Context) (pgx.Tx, error) {
	return r.pool.Begin(ctx)
}

func (r *Repository) Create(ctx context.Context, j *models.Job) error {
	return r.pool.QueryRow(ctx, `
		INSERT INTO jobs (id, client_id, title, description, category, budget, location_address, lat, lng, scheduled_date, status)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
		RETURNING created_at, updated_at
	`, j.ID, j.ClientID, j.Title, j.Description, j.Category, j.Budget, j.LocationAddress, j.Lat, j.Lng, j.ScheduledDate, j.Status).
		Scan(&j.CreatedAt, &j.UpdatedAt)
}

func scanJob(row pgx.Row) (*models.Job, error) {
	var j models.Job
	err := row.Scan(&j.ID, &j.ClientID, &j.Title, &j.Description, &j.Category, &j.Budget, &j.LocationAddress,
		&j.Lat, &j.Lng, &j.ScheduledDate, &j.Status, &j.CreatedAt, &j.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return &j, nil
}

func (r *Repository) GetByID(ctx context.Context, id uuid.UUID) (*models.Job, error) {
	return scanJob(r.pool.QueryRow(ctx, `SELECT `+jobColumns+` FROM jobs WHERE id = $1`, id))
}

// GetForUpdate locks the job row so two acceptances cannot both see it open.
func (r *Repository) GetForUpdate(ctx context.Context, tx pgx.Tx, id uuid.UUID) (*models.Job, error) {
	return scanJob(tx.QueryRow(ctx, `SELECT `+jobColumns+` FROM jobs WHERE id = $1 FOR UPDATE`, id))
}

// ListOpen returns open jobs with a future-or-recent schedule, newest first.
func (r *Repository) ListOpen(ctx context.Context, category string) ([]*models.Job, error) {
	query := `SELECT ` + jobColumns + ` FROM jobs WHERE status = 'open'`
	args := []any{}
	if category != "" {
		query += ` AND category = $1`
		args = append(args, category)
	}
	query += ` ORDER BY created_at DESC`
	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return collectJobs(rows)
}

func (r *Repository) ListByClient(ctx context.Context, clientID uuid.UUID) ([]*models.Job, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT `+jobColumns+` FROM jobs WHERE client_id = $1 ORDER BY created_at DESC
	`, clientID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return collectJobs(rows)
}

func collectJobs(rows pgx.Rows) ([]*models.Job, error) {
	var list []*models.Job
	for rows.Next() {
		j, err := scanJob(rows)
		if err != nil {
			return nil, err
		}
		list = append(list, j)
	}
	return list, rows.Err()
}

func (r *Repository) SetStatusTx(ctx context.Context, tx pgx.Tx, id uuid.UUID, status string) error {
	_, err := tx.Exec(ctx, `UPDATE jobs SET status = $2, updated_at = now() WHERE id = $1`, id, status)
	return err
}

func (r *Repository) CancelOpen(ctx context.Context, id, clientID uuid.UUID) (bool, error) {
	tag, err := r.pool.Exec(ctx, `
		UPDATE jobs SET status = 'cancelled', updated_at = now()
		WHERE id = $1 AND client_id = $2 AND status = 'open'
	`, id, clientID)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() > 0, nil
}

// --- applications ---

func (r *Repository) CreateApplication(ctx context.Context, a *models.JobApplication) error {
	return r.pool.QueryRow(ctx, `
		INSERT INTO job_applications (id, job_id, hauler_id, proposal_message, status)
		VALUES ($1, $2, $3, $4, $5)
		RETURNING created_at
	`, a.ID, a.JobID, a.HaulerID, a.ProposalMessage, a.Status).Scan(&a.CreatedAt)
}

func (r *Repository) GetApplicationForUpdate(ctx context.Context, tx pgx.Tx, id uuid.UUID) (*models.JobApplication, error) {
	var a models.JobApplication
	err := tx.QueryRow(ctx, `
		SELECT id, job_id, hauler_id, proposal_message, status, created_at
		FROM job_applications WHERE id = $1 FOR UPDATE
	`, id).Scan(&a.ID, &a.JobID, &a.HaulerID, &a.ProposalMessage, &a.Status, &a.CreatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return &a, nil
}

func (r *Repository) SetApplicationStatusTx(ctx context.Context, tx pgx.Tx, id uuid.UUID, status string) error {
	_, err := tx.Exec(ctx, `UPDATE job_applications SET status = $2 WHERE id = $1`, id, status)
	return err
}

func (r *Repository) ListApplications(ctx context.Context, jobID uuid.UUID) ([]*models.JobApplication, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT id, job_id, hauler_id, proposal_message, status, created_at
		FROM job_applications WHERE job_id = $1 ORDER BY created_at
	`, jobID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var list []*models.JobApplication
	for rows.Next() {
		var a models.JobApplication
		if err := rows.Scan(&a.ID, &a.JobID, &a.HaulerID, &a.ProposalMessage, &a.Status, &a.CreatedAt); err != nil {
			return nil, err
		}
		list = append(list, &a)
	}
	return list, rows.Err()
}

func (r *Repository) HasApplication(ctx context.Context, jobID, haulerID uuid.UUID) (bool, error) {
	var exists bool
	err := r.pool.QueryRow(ctx, `
		SELECT EXISTS (SELECT 1 FROM job_applications WHERE job_id = $1 AND hauler_id = $2)
	`, jobID, haulerID).Scan(&exists)
	return exists, err
}

// AcceptApplicationTx marks one application accepted and rejects every other
// pending one on the same job.
func (r *Repository) AcceptApplicationTx(ctx context.Context, tx pgx.Tx, jobID, applicationID uuid.UUID) error {
	if _, err := tx.Exec(ctx, `
		UPDATE job_applications SET status = 'accepted' WHERE id = $1
	`, applicationID); err != nil {
		return err
	}
	_, err := tx.Exec(ctx, `
		UPDATE job_applications SET status = 'rejected'
		WHERE job_id = $1 AND id <> $2 AND status = 'pending'
	`, jobID, applicationID)
	return err
}
