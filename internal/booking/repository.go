package booking

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"github.com/haulhub/backend/internal/models"
)

const bookingColumns = `
	b.id, b.job_id, b.client_id, b.hauler_id, b.amount, b.status, b.pickup_pin,
	j.scheduled_date,
	b.escrow_locked_at, b.pickup_confirmed_at, b.hauler_marked_done_at,
	b.dispute_opened_at, b.auto_release_at, b.completed_at, b.created_at`

type Repository struct {
	pool *pgxpool.Pool
}

func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

func (r *Repository) Begin(ctx context.Context) (pgx.Tx, error) {
	return r.pool.Begin(ctx)
}

func scanBooking(row pgx.Row) (*models.Booking, error) {
	var b models.Booking
	err := row.Scan(&b.ID, &b.JobID, &b.ClientID, &b.HaulerID, &b.Amount, &b.Status, &b.PickupPIN,
		&b.ScheduledDate,
		&b.EscrowLockedAt, &b.PickupConfirmedAt, &b.HaulerMarkedDoneAt,
		&b.DisputeOpenedAt, &b.AutoReleaseAt, &b.CompletedAt, &b.CreatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return &b, nil
}

func (r *Repository) GetByID(ctx context.Context, id uuid.UUID) (*models.Booking, error) {
	return scanBooking(r.pool.QueryRow(ctx, `
		SELECT `+bookingColumns+`
		FROM bookings b JOIN jobs j ON j.id = b.job_id
		WHERE b.id = $1
	`, id))
}

// GetForUpdate re-fetches the booking's current persisted state under a row
// lock. Every transition starts here; the status re-check against this row
// is what stops a manual action and a sweeper double-firing.
func (r *Repository) GetForUpdate(ctx context.Context, tx pgx.Tx, id uuid.UUID) (*models.Booking, error) {
	return scanBooking(tx.QueryRow(ctx, `
		SELECT `+bookingColumns+`
		FROM bookings b JOIN jobs j ON j.id = b.job_id
		WHERE b.id = $1 FOR UPDATE OF b
	`, id))
}

// CreateTx inserts a booking inside the caller's transaction (booking
// creation and escrow lock are one atomic unit).
func (r *Repository) CreateTx(ctx context.Context, tx pgx.Tx, b *models.Booking) error {
	return tx.QueryRow(ctx, `
		INSERT INTO bookings (id, job_id, client_id, hauler_id, amount, status, pickup_pin, escrow_locked_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		RETURNING created_at
	`, b.ID, b.JobID, b.ClientID, b.HaulerID, b.Amount, b.Status, b.PickupPIN, b.EscrowLockedAt).Scan(&b.CreatedAt)
}

func (r *Repository) SetInProgress(ctx context.Context, tx pgx.Tx, id uuid.UUID, at time.Time) error {
	_, err := tx.Exec(ctx, `
		UPDATE bookings SET status = $2, pickup_confirmed_at = $3 WHERE id = $1
	`, id, models.BookingInProgress, at)
	return err
}

func (r *Repository) SetPendingCompletion(ctx context.Context, tx pgx.Tx, id uuid.UUID, doneAt, autoReleaseAt time.Time) error {
	_, err := tx.Exec(ctx, `
		UPDATE bookings SET status = $2, hauler_marked_done_at = $3, auto_release_at = $4 WHERE id = $1
	`, id, models.BookingPendingCompletion, doneAt, autoReleaseAt)
	return err
}

// SetResolved stamps a terminal money-moving status: completed,
// resolved_hauler or resolved_client.
func (r *Repository) SetResolved(ctx context.Context, tx pgx.Tx, id uuid.UUID, status string, at time.Time) error {
	_, err := tx.Exec(ctx, `
		UPDATE bookings SET status = $2, completed_at = $3 WHERE id = $1
	`, id, status, at)
	return err
}

func (r *Repository) SetDisputed(ctx context.Context, tx pgx.Tx, id uuid.UUID, at time.Time) error {
	_, err := tx.Exec(ctx, `
		UPDATE bookings SET status = $2, dispute_opened_at = $3 WHERE id = $1
	`, id, models.BookingDisputed, at)
	return err
}

func (r *Repository) SetCancelled(ctx context.Context, tx pgx.Tx, id uuid.UUID, at time.Time) error {
	_, err := tx.Exec(ctx, `
		UPDATE bookings SET status = $2, completed_at = $3 WHERE id = $1
	`, id, models.BookingCancelled, at)
	return err
}

func (r *Repository) UpdateAmountTx(ctx context.Context, tx pgx.Tx, id uuid.UUID, amount decimal.Decimal) error {
	_, err := tx.Exec(ctx, `UPDATE bookings SET amount = $2 WHERE id = $1`, id, amount)
	return err
}

func (r *Repository) SetJobStatusTx(ctx context.Context, tx pgx.Tx, jobID uuid.UUID, status string) error {
	_, err := tx.Exec(ctx, `UPDATE jobs SET status = $2, updated_at = now() WHERE id = $1`, jobID, status)
	return err
}

func (r *Repository) ListByUser(ctx context.Context, userID uuid.UUID) ([]*models.Booking, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT `+bookingColumns+`
		FROM bookings b JOIN jobs j ON j.id = b.job_id
		WHERE b.client_id = $1 OR b.hauler_id = $1
		ORDER BY b.created_at DESC
	`, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var list []*models.Booking
	for rows.Next() {
		b, err := scanBooking(rows)
		if err != nil {
			return nil, err
		}
		list = append(list, b)
	}
	return list, rows.Err()
}

// --- evidence ---

func (r *Repository) CreateEvidence(ctx context.Context, e *models.Evidence) error {
	_, err := r.pool.Exec(ctx, `
		INSERT INTO booking_evidence (id, booking_id, kind, submitted_by, photo_ref, lat, lng, captured_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
	`, e.ID, e.BookingID, e.Kind, e.SubmittedBy, e.PhotoRef, e.Lat, e.Lng, e.CapturedAt)
	return err
}

// CountEvidenceTx returns pickup and dropoff record counts inside the
// caller's transaction; the evidence gate for mark_done.
func (r *Repository) CountEvidenceTx(ctx context.Context, tx pgx.Tx, bookingID uuid.UUID) (pickup, dropoff int, err error) {
	err = tx.QueryRow(ctx, `
		SELECT
			COUNT(*) FILTER (WHERE kind = 'pickup'),
			COUNT(*) FILTER (WHERE kind = 'dropoff')
		FROM booking_evidence WHERE booking_id = $1
	`, bookingID).Scan(&pickup, &dropoff)
	return pickup, dropoff, err
}

// CountEvidence is the pool-backed variant for read-only callers (review
// eligibility).
func (r *Repository) CountEvidence(ctx context.Context, bookingID uuid.UUID) (pickup, dropoff int, err error) {
	err = r.pool.QueryRow(ctx, `
		SELECT
			COUNT(*) FILTER (WHERE kind = 'pickup'),
			COUNT(*) FILTER (WHERE kind = 'dropoff')
		FROM booking_evidence WHERE booking_id = $1
	`, bookingID).Scan(&pickup, &dropoff)
	return pickup, dropoff, err
}

func (r *Repository) ListEvidence(ctx context.Context, bookingID uuid.UUID) ([]*models.Evidence, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT id, booking_id, kind, submitted_by, photo_ref, lat, lng, captured_at
		FROM booking_evidence WHERE booking_id = $1 ORDER BY captured_at
	`, bookingID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var list []*models.Evidence
	for rows.Next() {
		var e models.Evidence
		if err := rows.Scan(&e.ID, &e.BookingID, &e.Kind, &e.SubmittedBy, &e.PhotoRef, &e.Lat, &e.Lng, &e.CapturedAt); err != nil {
			return nil, err
		}
		list = append(list, &e)
	}
	return list, rows.Err()
}

// GetJobLocation returns the job's declared coordinates for geo-validation.
func (r *Repository) GetJobLocation(ctx context.Context, jobID uuid.UUID) (lat, lng *float64, err error) {
	err = r.pool.QueryRow(ctx, `SELECT lat, lng FROM jobs WHERE id = $1`, jobID).Scan(&lat, &lng)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil, ErrNotFound
		}
		return nil, nil, err
	}
	return lat, lng, nil
}

// --- amendments ---

func (r *Repository) CreateAmendmentTx(ctx context.Context, tx pgx.Tx, a *models.Amendment) error {
	return tx.QueryRow(ctx, `
		INSERT INTO booking_amendments (id, booking_id, requested_by, proposed_amount, reason, status)
		VALUES ($1, $2, $3, $4, $5, $6)
		RETURNING created_at
	`, a.ID, a.BookingID, a.RequestedBy, a.ProposedAmount, a.Reason, a.Status).Scan(&a.CreatedAt)
}

func (r *Repository) GetAmendmentForUpdate(ctx context.Context, tx pgx.Tx, id uuid.UUID) (*models.Amendment, error) {
	var a models.Amendment
	err := tx.QueryRow(ctx, `
		SELECT id, booking_id, requested_by, proposed_amount, reason, status, created_at
		FROM booking_amendments WHERE id = $1 FOR UPDATE
	`, id).Scan(&a.ID, &a.BookingID, &a.RequestedBy, &a.ProposedAmount, &a.Reason, &a.Status, &a.CreatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return &a, nil
}

func (r *Repository) HasPendingAmendmentTx(ctx context.Context, tx pgx.Tx, bookingID uuid.UUID) (bool, error) {
	var exists bool
	err := tx.QueryRow(ctx, `
		SELECT EXISTS (SELECT 1 FROM booking_amendments WHERE booking_id = $1 AND status = 'pending')
	`, bookingID).Scan(&exists)
	return exists, err
}

func (r *Repository) SetAmendmentStatusTx(ctx context.Context, tx pgx.Tx, id uuid.UUID, status string) error {
	_, err := tx.Exec(ctx, `UPDATE booking_amendments SET status = $2 WHERE id = $1`, id, status)
	return err
}

func (r *Repository) ListAmendments(ctx context.Context, bookingID uuid.UUID) ([]*models.Amendment, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT id, booking_id, requested_by, proposed_amount, reason, status, created_at
		FROM booking_amendments WHERE booking_id = $1 ORDER BY created_at DESC
	`, bookingID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var list []*models.Amendment
	for rows.Next() {
		var a models.Amendment
		if err := rows.Scan(&a.ID, &a.BookingID, &a.RequestedBy, &a.ProposedAmount, &a.Reason, &a.Status, &a.CreatedAt); err != nil {
			return nil, err
		}
		list = append(list, &a)
	}
	return list, rows.Err()
}

// --- sweeper scans ---

// ListDueAutoRelease returns bookings whose client stayed silent past the
// auto-release deadline.
func (r *Repository) ListDueAutoRelease(ctx context.Context, now time.Time, limit int) ([]uuid.UUID, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT id FROM bookings
		WHERE status = $1 AND auto_release_at <= $2
		ORDER BY auto_release_at
		LIMIT $3
	`, models.BookingPendingCompletion, now, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanIDs(rows)
}

// ListDueNoShow returns assigned bookings whose scheduled start is more than
// the detection window in the past.
func (r *Repository) ListDueNoShow(ctx context.Context, cutoff time.Time, limit int) ([]uuid.UUID, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT b.id FROM bookings b
		JOIN jobs j ON j.id = b.job_id
		WHERE b.status = $1 AND j.scheduled_date <= $2
		ORDER BY j.scheduled_date
		LIMIT $3
	`, models.BookingAssigned, cutoff, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanIDs(rows)
}

func scanIDs(rows pgx.Rows) ([]uuid.UUID, error) {
	var ids []uuid.UUID
	for rows.Next() {
		var id uuid.UUID
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}
