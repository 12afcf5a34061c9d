package jobs

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/shopspring/decimal"

	"github.com/haulhub/backend/internal/booking"
	"github.com/haulhub/backend/internal/models"
)

var (
	// ErrJobNotOpen is returned when applying to or accepting on a job that
	// already left the open state.
	ErrJobNotOpen = errors.New("job is not open")
	// ErrForbidden: actor does not own the resource.
	ErrForbidden = errors.New("forbidden")
	// ErrAlreadyApplied: one application per hauler per job.
	ErrAlreadyApplied = errors.New("already applied to this job")
	// ErrValidation: bad input.
	ErrValidation = errors.New("validation failed")
)

// Store is what the service needs from the jobs repository.
type Store interface {
	Begin(ctx context.Context) (pgx.Tx, error)
	Create(ctx context.Context, j *models.Job) error
	GetByID(ctx context.Context, id uuid.UUID) (*models.Job, error)
	GetForUpdate(ctx context.Context, tx pgx.Tx, id uuid.UUID) (*models.Job, error)
	ListOpen(ctx context.Context, category string) ([]*models.Job, error)
	ListByClient(ctx context.Context, clientID uuid.UUID) ([]*models.Job, error)
	SetStatusTx(ctx context.Context, tx pgx.Tx, id uuid.UUID, status string) error
	CancelOpen(ctx context.Context, id, clientID uuid.UUID) (bool, error)
	CreateApplication(ctx context.Context, a *models.JobApplication) error
	GetApplicationForUpdate(ctx context.Context, tx pgx.Tx, id uuid.UUID) (*models.JobApplication, error)
	SetApplicationStatusTx(ctx context.Context, tx pgx.Tx, id uuid.UUID, status string) error
	ListApplications(ctx context.Context, jobID uuid.UUID) ([]*models.JobApplication, error)
	HasApplication(ctx context.Context, jobID, haulerID uuid.UUID) (bool, error)
	AcceptApplicationTx(ctx context.Context, tx pgx.Tx, jobID, applicationID uuid.UUID) error
}

// BookingStore creates the booking row inside the acceptance transaction.
type BookingStore interface {
	CreateTx(ctx context.Context, tx pgx.Tx, b *models.Booking) error
}

// EscrowLocker locks the client's funds inside the acceptance transaction.
type EscrowLocker interface {
	Lock(ctx context.Context, tx pgx.Tx, userID, bookingID uuid.UUID, amount decimal.Decimal, description string) error
}

// ContentFilter screens user-supplied text before it is stored.
type ContentFilter interface {
	Allow(text string) bool
}

type Service struct {
	repo     Store
	bookings BookingStore
	escrow   EscrowLocker
	filter   ContentFilter
	log      *slog.Logger
}

func NewService(repo Store, bookings BookingStore, escrow EscrowLocker, filter ContentFilter, log *slog.Logger) *Service {
	if log == nil {
		log = slog.Default()
	}
	return &Service{repo: repo, bookings: bookings, escrow: escrow, filter: filter, log: log}
}

// Create posts a new open job for the client.
func (s *Service) Create(ctx context.Context, clientID uuid.UUID, j *models.Job) (*models.Job, error) {
	if j.Title == "" || j.Description == "" {
		return nil, fmt.Errorf("%w: title and description are required", ErrValidation)
	}
	if !j.Budget.IsPositive() {
		return nil, fmt.Errorf("%w: budget must be positive", ErrValidation)
	}
	if j.ScheduledDate.Before(time.Now()) {
		return nil, fmt.Errorf("%w: scheduled date must be in the future", ErrValidation)
	}
	if s.filter != nil && (!s.filter.Allow(j.Title) || !s.filter.Allow(j.Description)) {
		return nil, fmt.Errorf("%w: listing contains disallowed content", ErrValidation)
	}
	j.ID = uuid.New()
	j.ClientID = clientID
	j.Status = models.JobOpen
	if err := s.repo.Create(ctx, j); err != nil {
		return nil, err
	}
	return j, nil
}

func (s *Service) Get(ctx context.Context, id uuid.UUID) (*models.Job, error) {
	return s.repo.GetByID(ctx, id)
}

func (s *Service) ListOpen(ctx context.Context, category string) ([]*models.Job, error) {
	return s.repo.ListOpen(ctx, category)
}

func (s *Service) ListByClient(ctx context.Context, clientID uuid.UUID) ([]*models.Job, error) {
	return s.repo.ListByClient(ctx, clientID)
}

// Cancel withdraws an open job. Jobs with an accepted booking go through the
// booking FSM instead.
func (s *Service) Cancel(ctx context.Context, clientID, jobID uuid.UUID) error {
	ok, err := s.repo.CancelOpen(ctx, jobID, clientID)
	if err != nil {
		return err
	}
	if !ok {
		return ErrJobNotOpen
	}
	return nil
}

// Apply files a hauler's application on an open job.
func (s *Service) Apply(ctx context.Context, haulerID, jobID uuid.UUID, proposal string) (*models.JobApplication, error) {
	j, err := s.repo.GetByID(ctx, jobID)
	if err != nil {
		return nil, err
	}
	if j.Status != models.JobOpen {
		return nil, ErrJobNotOpen
	}
	if j.ClientID == haulerID {
		return nil, ErrForbidden
	}
	applied, err := s.repo.HasApplication(ctx, jobID, haulerID)
	if err != nil {
		return nil, err
	}
	if applied {
		return nil, ErrAlreadyApplied
	}
	a := &models.JobApplication{
		ID:              uuid.New(),
		JobID:           jobID,
		HaulerID:        haulerID,
		ProposalMessage: proposal,
		Status:          models.ApplicationPending,
	}
	if err := s.repo.CreateApplication(ctx, a); err != nil {
		return nil, err
	}
	return a, nil
}

// ListApplications returns a job's applications, owner only.
func (s *Service) ListApplications(ctx context.Context, clientID, jobID uuid.UUID) ([]*models.JobApplication, error) {
	j, err := s.repo.GetByID(ctx, jobID)
	if err != nil {
		return nil, err
	}
	if j.ClientID != clientID {
		return nil, ErrForbidden
	}
	return s.repo.ListApplications(ctx, jobID)
}

// Reject turns down a single application. The job stays open for the rest.
func (s *Service) Reject(ctx context.Context, clientID, applicationID uuid.UUID) (*models.JobApplication, error) {
	tx, err := s.repo.Begin(ctx)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback(ctx)

	a, err := s.repo.GetApplicationForUpdate(ctx, tx, applicationID)
	if err != nil {
		return nil, err
	}
	j, err := s.repo.GetForUpdate(ctx, tx, a.JobID)
	if err != nil {
		return nil, err
	}
	if j.ClientID != clientID {
		return nil, ErrForbidden
	}
	if a.Status != models.ApplicationPending {
		return nil, fmt.Errorf("%w: application already %s", ErrValidation, a.Status)
	}
	if err := s.repo.SetApplicationStatusTx(ctx, tx, applicationID, models.ApplicationRejected); err != nil {
		return nil, err
	}
	if err := tx.Commit(ctx); err != nil {
		return nil, err
	}
	a.Status = models.ApplicationRejected
	return a, nil
}

// Accept turns an application into a booking. One transaction covers the
// whole handshake: the job row is locked, siblings are rejected, the escrow
// is locked on the client's wallet and the booking is created with a fresh
// pickup code. Insufficient funds roll the entire acceptance back and the
// job stays open.
func (s *Service) Accept(ctx context.Context, clientID, applicationID uuid.UUID) (*models.Booking, error) {
	tx, err := s.repo.Begin(ctx)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback(ctx)

	a, err := s.repo.GetApplicationForUpdate(ctx, tx, applicationID)
	if err != nil {
		return nil, err
	}
	j, err := s.repo.GetForUpdate(ctx, tx, a.JobID)
	if err != nil {
		return nil, err
	}
	if j.ClientID != clientID {
		return nil, ErrForbidden
	}
	if j.Status != models.JobOpen {
		return nil, ErrJobNotOpen
	}
	if a.Status != models.ApplicationPending {
		return nil, fmt.Errorf("%w: application already %s", ErrValidation, a.Status)
	}

	pin, err := booking.GeneratePIN()
	if err != nil {
		return nil, err
	}
	now := time.Now()
	b := &models.Booking{
		ID:             uuid.New(),
		JobID:          j.ID,
		ClientID:       j.ClientID,
		HaulerID:       a.HaulerID,
		Amount:         j.Budget,
		Status:         models.BookingAssigned,
		PickupPIN:      pin,
		ScheduledDate:  j.ScheduledDate,
		EscrowLockedAt: &now,
	}
	if err := s.escrow.Lock(ctx, tx, j.ClientID, b.ID, j.Budget, "escrow for "+j.Title); err != nil {
		return nil, err
	}
	if err := s.bookings.CreateTx(ctx, tx, b); err != nil {
		return nil, err
	}
	if err := s.repo.AcceptApplicationTx(ctx, tx, j.ID, applicationID); err != nil {
		return nil, err
	}
	if err := s.repo.SetStatusTx(ctx, tx, j.ID, models.JobAssigned); err != nil {
		return nil, err
	}
	if err := tx.Commit(ctx); err != nil {
		return nil, err
	}
	s.log.Info("application accepted", "job_id", j.ID, "booking_id", b.ID, "hauler_id", a.HaulerID)
	return b, nil
}
