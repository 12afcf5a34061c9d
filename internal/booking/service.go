package booking

import (
	"context"
	"fmt"
	"log/slog"
	"regexp"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/shopspring/decimal"

	"github.com/haulhub/backend/internal/config"
	"github.com/haulhub/backend/internal/models"
)

// Actor is the authenticated principal performing a transition.
type Actor struct {
	ID   uuid.UUID
	Role string
}

// Store is what the service needs from the booking repository.
type Store interface {
	Begin(ctx context.Context) (pgx.Tx, error)
	GetByID(ctx context.Context, id uuid.UUID) (*models.Booking, error)
	GetForUpdate(ctx context.Context, tx pgx.Tx, id uuid.UUID) (*models.Booking, error)
	SetInProgress(ctx context.Context, tx pgx.Tx, id uuid.UUID, at time.Time) error
	SetPendingCompletion(ctx context.Context, tx pgx.Tx, id uuid.UUID, doneAt, autoReleaseAt time.Time) error
	SetResolved(ctx context.Context, tx pgx.Tx, id uuid.UUID, status string, at time.Time) error
	SetDisputed(ctx context.Context, tx pgx.Tx, id uuid.UUID, at time.Time) error
	SetCancelled(ctx context.Context, tx pgx.Tx, id uuid.UUID, at time.Time) error
	UpdateAmountTx(ctx context.Context, tx pgx.Tx, id uuid.UUID, amount decimal.Decimal) error
	SetJobStatusTx(ctx context.Context, tx pgx.Tx, jobID uuid.UUID, status string) error
	ListByUser(ctx context.Context, userID uuid.UUID) ([]*models.Booking, error)

	CreateEvidence(ctx context.Context, e *models.Evidence) error
	CountEvidence(ctx context.Context, bookingID uuid.UUID) (pickup, dropoff int, err error)
	CountEvidenceTx(ctx context.Context, tx pgx.Tx, bookingID uuid.UUID) (pickup, dropoff int, err error)
	ListEvidence(ctx context.Context, bookingID uuid.UUID) ([]*models.Evidence, error)
	GetJobLocation(ctx context.Context, jobID uuid.UUID) (lat, lng *float64, err error)

	CreateAmendmentTx(ctx context.Context, tx pgx.Tx, a *models.Amendment) error
	GetAmendmentForUpdate(ctx context.Context, tx pgx.Tx, id uuid.UUID) (*models.Amendment, error)
	HasPendingAmendmentTx(ctx context.Context, tx pgx.Tx, bookingID uuid.UUID) (bool, error)
	SetAmendmentStatusTx(ctx context.Context, tx pgx.Tx, id uuid.UUID, status string) error
	ListAmendments(ctx context.Context, bookingID uuid.UUID) ([]*models.Amendment, error)

	ListDueAutoRelease(ctx context.Context, now time.Time, limit int) ([]uuid.UUID, error)
	ListDueNoShow(ctx context.Context, cutoff time.Time, limit int) ([]uuid.UUID, error)
}

// Ledger is the slice of the ledger engine the booking FSM drives. Every
// method runs inside the caller's transaction so the status stamp and the
// money move commit together.
type Ledger interface {
	Release(ctx context.Context, tx pgx.Tx, b *models.Booking, description string) error
	Refund(ctx context.Context, tx pgx.Tx, b *models.Booking, description string) error
	AdjustEscrow(ctx context.Context, tx pgx.Tx, userID, amendmentID uuid.UUID, delta decimal.Decimal, description string) error
	RecordDisputeOpened(ctx context.Context, tx pgx.Tx, userID, bookingID uuid.UUID, reason string) error
}

// StrikeRecorder applies reliability strikes to a hauler's profile. Called
// after the booking transaction commits; a failure here never unwinds the
// refund.
type StrikeRecorder interface {
	RecordNoShow(ctx context.Context, haulerID uuid.UUID) error
	RecordCancellation(ctx context.Context, haulerID uuid.UUID) error
}

// GeofenceChecker validates evidence coordinates against the job site.
type GeofenceChecker interface {
	Within(jobLat, jobLng, lat, lng, radiusM float64) bool
}

const maxDisputeReasonLen = 500

var pinFormat = regexp.MustCompile(`^\d{6}$`)

// Service owns every booking state transition. The pattern is uniform: open
// a transaction, re-fetch the row FOR UPDATE, verify actor and status
// against the locked row, perform the ledger operation, stamp the new
// status, commit. A transition that loses a race fails the status check and
// returns ErrInvalidState with nothing written.
type Service struct {
	store   Store
	ledger  Ledger
	strikes StrikeRecorder
	geo     GeofenceChecker
	cfg     *config.Config
	log     *slog.Logger
	now     func() time.Time
}

func NewService(store Store, ledger Ledger, strikes StrikeRecorder, geo GeofenceChecker, cfg *config.Config, log *slog.Logger) *Service {
	return &Service{
		store:   store,
		ledger:  ledger,
		strikes: strikes,
		geo:     geo,
		cfg:     cfg,
		log:     log,
		now:     time.Now,
	}
}

// Get returns a booking visible to the actor: either party, or an arbiter.
func (s *Service) Get(ctx context.Context, actor Actor, id uuid.UUID) (*models.Booking, error) {
	b, err := s.store.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if !s.canView(actor, b) {
		return nil, ErrForbidden
	}
	return b, nil
}

// ListMine returns the actor's bookings on either side.
func (s *Service) ListMine(ctx context.Context, actor Actor) ([]*models.Booking, error) {
	return s.store.ListByUser(ctx, actor.ID)
}

// ConfirmPickup moves assigned -> in_progress after the client presents the
// hauler's 6-digit pickup code.
func (s *Service) ConfirmPickup(ctx context.Context, actor Actor, id uuid.UUID, pin string) (*models.Booking, error) {
	if !pinFormat.MatchString(pin) {
		return nil, fmt.Errorf("%w: pin must be 6 digits", ErrValidation)
	}
	tx, err := s.store.Begin(ctx)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback(ctx)

	b, err := s.store.GetForUpdate(ctx, tx, id)
	if err != nil {
		return nil, err
	}
	if actor.ID != b.ClientID {
		return nil, ErrForbidden
	}
	if b.Status != models.BookingAssigned {
		return nil, fmt.Errorf("%w: cannot confirm pickup from %s", ErrInvalidState, b.Status)
	}
	if !pinMatches(b.PickupPIN, pin) {
		return nil, fmt.Errorf("%w: incorrect pickup code", ErrValidation)
	}
	now := s.now()
	if err := s.store.SetInProgress(ctx, tx, id, now); err != nil {
		return nil, err
	}
	if err := tx.Commit(ctx); err != nil {
		return nil, err
	}
	b.Status = models.BookingInProgress
	b.PickupConfirmedAt = &now
	return b, nil
}

// UploadEvidence records a GPS-stamped photo reference. Only the hauler
// uploads, from assignment until they mark done (the load is photographed
// before the client confirms the pickup code); captured_at is server time.
func (s *Service) UploadEvidence(ctx context.Context, actor Actor, bookingID uuid.UUID, kind, photoRef string, lat, lng *float64) (*models.Evidence, error) {
	if kind != models.EvidencePickup && kind != models.EvidenceDropoff {
		return nil, fmt.Errorf("%w: unknown evidence kind %q", ErrValidation, kind)
	}
	if photoRef == "" {
		return nil, fmt.Errorf("%w: photo is required", ErrValidation)
	}
	b, err := s.store.GetByID(ctx, bookingID)
	if err != nil {
		return nil, err
	}
	if actor.ID != b.HaulerID {
		return nil, ErrForbidden
	}
	if b.Status != models.BookingAssigned && b.Status != models.BookingInProgress {
		return nil, fmt.Errorf("%w: evidence not accepted from %s", ErrInvalidState, b.Status)
	}
	if s.cfg.GeoValidationEnabled && lat != nil && lng != nil {
		jobLat, jobLng, err := s.store.GetJobLocation(ctx, b.JobID)
		if err != nil {
			return nil, err
		}
		if jobLat != nil && jobLng != nil &&
			!s.geo.Within(*jobLat, *jobLng, *lat, *lng, s.cfg.GeoValidationRadiusM) {
			return nil, fmt.Errorf("%w: location is outside the job area", ErrValidation)
		}
	}
	e := &models.Evidence{
		ID:          uuid.New(),
		BookingID:   bookingID,
		Kind:        kind,
		SubmittedBy: actor.ID,
		PhotoRef:    photoRef,
		Lat:         lat,
		Lng:         lng,
		CapturedAt:  s.now(),
	}
	if err := s.store.CreateEvidence(ctx, e); err != nil {
		return nil, err
	}
	return e, nil
}

// MarkDone moves in_progress -> pending_completion. Gated on at least one
// pickup and one dropoff evidence record, counted inside the transaction.
func (s *Service) MarkDone(ctx context.Context, actor Actor, id uuid.UUID) (*models.Booking, error) {
	tx, err := s.store.Begin(ctx)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback(ctx)

	b, err := s.store.GetForUpdate(ctx, tx, id)
	if err != nil {
		return nil, err
	}
	if actor.ID != b.HaulerID {
		return nil, ErrForbidden
	}
	if b.Status != models.BookingInProgress {
		return nil, fmt.Errorf("%w: cannot mark done from %s", ErrInvalidState, b.Status)
	}
	pickup, dropoff, err := s.store.CountEvidenceTx(ctx, tx, id)
	if err != nil {
		return nil, err
	}
	if pickup < 1 || dropoff < 1 {
		var missing []string
		if pickup < 1 {
			missing = append(missing, models.EvidencePickup)
		}
		if dropoff < 1 {
			missing = append(missing, models.EvidenceDropoff)
		}
		return nil, fmt.Errorf("%w: missing %s evidence", ErrValidation, strings.Join(missing, " and "))
	}
	now := s.now()
	releaseAt := now.Add(s.cfg.CompletionAutoRelease)
	if err := s.store.SetPendingCompletion(ctx, tx, id, now, releaseAt); err != nil {
		return nil, err
	}
	if err := tx.Commit(ctx); err != nil {
		return nil, err
	}
	b.Status = models.BookingPendingCompletion
	b.HaulerMarkedDoneAt = &now
	b.AutoReleaseAt = &releaseAt
	return b, nil
}

// ConfirmComplete is the client's approval: escrow releases to the hauler
// and the booking terminates as completed.
func (s *Service) ConfirmComplete(ctx context.Context, actor Actor, id uuid.UUID) (*models.Booking, error) {
	tx, err := s.store.Begin(ctx)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback(ctx)

	b, err := s.store.GetForUpdate(ctx, tx, id)
	if err != nil {
		return nil, err
	}
	if actor.ID != b.ClientID {
		return nil, ErrForbidden
	}
	if b.Status != models.BookingPendingCompletion {
		return nil, fmt.Errorf("%w: cannot confirm completion from %s", ErrInvalidState, b.Status)
	}
	if err := s.settleToHauler(ctx, tx, b, models.BookingCompleted, "client confirmed completion"); err != nil {
		return nil, err
	}
	if err := tx.Commit(ctx); err != nil {
		return nil, err
	}
	b.Status = models.BookingCompleted
	return b, nil
}

// AutoRelease is the sweeper's version of ConfirmComplete, fired when the
// client stays silent past the deadline. A client confirming concurrently
// is harmless: whoever commits second fails the status check.
func (s *Service) AutoRelease(ctx context.Context, id uuid.UUID) error {
	tx, err := s.store.Begin(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx)

	b, err := s.store.GetForUpdate(ctx, tx, id)
	if err != nil {
		return err
	}
	if b.Status != models.BookingPendingCompletion {
		return fmt.Errorf("%w: booking is %s", ErrInvalidState, b.Status)
	}
	if b.AutoReleaseAt == nil || s.now().Before(*b.AutoReleaseAt) {
		return fmt.Errorf("%w: auto-release deadline not reached", ErrInvalidState)
	}
	if err := s.settleToHauler(ctx, tx, b, models.BookingCompleted, "auto-released after confirmation window"); err != nil {
		return err
	}
	return tx.Commit(ctx)
}

// OpenDispute freezes a pending_completion booking. Escrow stays locked
// until an arbiter rules. Only the client opens; the hauler's recourse before
// this point is the no-show and amendment paths.
func (s *Service) OpenDispute(ctx context.Context, actor Actor, id uuid.UUID, reason string) (*models.Booking, error) {
	if reason == "" {
		return nil, fmt.Errorf("%w: dispute reason is required", ErrValidation)
	}
	if len(reason) > maxDisputeReasonLen {
		return nil, fmt.Errorf("%w: dispute reason exceeds %d characters", ErrValidation, maxDisputeReasonLen)
	}
	tx, err := s.store.Begin(ctx)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback(ctx)

	b, err := s.store.GetForUpdate(ctx, tx, id)
	if err != nil {
		return nil, err
	}
	if actor.ID != b.ClientID {
		return nil, ErrForbidden
	}
	if b.Status != models.BookingPendingCompletion {
		return nil, fmt.Errorf("%w: disputes open only from pending completion, not %s", ErrInvalidState, b.Status)
	}
	now := s.now()
	if err := s.store.SetDisputed(ctx, tx, id, now); err != nil {
		return nil, err
	}
	if err := s.ledger.RecordDisputeOpened(ctx, tx, b.ClientID, id, reason); err != nil {
		return nil, err
	}
	if err := tx.Commit(ctx); err != nil {
		return nil, err
	}
	b.Status = models.BookingDisputed
	b.DisputeOpenedAt = &now
	return b, nil
}

// ResolveDispute is arbiter-only. Ruling for the hauler releases escrow to
// them; ruling for the client refunds it. Either way the booking terminates.
func (s *Service) ResolveDispute(ctx context.Context, actor Actor, id uuid.UUID, winner string) (*models.Booking, error) {
	if actor.Role != models.RoleArbiter {
		return nil, ErrForbidden
	}
	if winner != models.RoleHauler && winner != models.RoleClient {
		return nil, fmt.Errorf("%w: winner must be hauler or client", ErrValidation)
	}
	tx, err := s.store.Begin(ctx)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback(ctx)

	b, err := s.store.GetForUpdate(ctx, tx, id)
	if err != nil {
		return nil, err
	}
	if b.Status != models.BookingDisputed {
		return nil, fmt.Errorf("%w: booking is not disputed", ErrInvalidState)
	}
	var status string
	if winner == models.RoleHauler {
		status = models.BookingResolvedHauler
		if err := s.settleToHauler(ctx, tx, b, status, "dispute resolved for hauler"); err != nil {
			return nil, err
		}
	} else {
		status = models.BookingResolvedClient
		if err := s.settleToClient(ctx, tx, b, status, "dispute resolved for client"); err != nil {
			return nil, err
		}
	}
	if err := tx.Commit(ctx); err != nil {
		return nil, err
	}
	b.Status = status
	return b, nil
}

// ReportNoShow lets the client cancel an assigned booking once the hauler
// is sufficiently late. Full refund, and a strike on the hauler's record.
func (s *Service) ReportNoShow(ctx context.Context, actor Actor, id uuid.UUID) (*models.Booking, error) {
	tx, err := s.store.Begin(ctx)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback(ctx)

	b, err := s.store.GetForUpdate(ctx, tx, id)
	if err != nil {
		return nil, err
	}
	if actor.ID != b.ClientID {
		return nil, ErrForbidden
	}
	if b.Status != models.BookingAssigned {
		return nil, fmt.Errorf("%w: cannot report no-show from %s", ErrInvalidState, b.Status)
	}
	earliest := b.ScheduledDate.Add(s.cfg.NoShowWindow)
	if s.now().Before(earliest) {
		return nil, fmt.Errorf("%w: no-show can be reported from %s", ErrValidation, earliest.Format(time.RFC3339))
	}
	if err := s.settleToClient(ctx, tx, b, models.BookingCancelled, "hauler no-show reported"); err != nil {
		return nil, err
	}
	if err := tx.Commit(ctx); err != nil {
		return nil, err
	}
	b.Status = models.BookingCancelled
	s.recordStrike(ctx, b.HaulerID)
	return b, nil
}

// AutoCancelNoShow is the sweeper path for bookings never started. Same
// outcome as a client report, after a longer grace period.
func (s *Service) AutoCancelNoShow(ctx context.Context, id uuid.UUID) error {
	tx, err := s.store.Begin(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx)

	b, err := s.store.GetForUpdate(ctx, tx, id)
	if err != nil {
		return err
	}
	if b.Status != models.BookingAssigned {
		return fmt.Errorf("%w: booking is %s", ErrInvalidState, b.Status)
	}
	if s.now().Before(b.ScheduledDate.Add(s.cfg.NoShowAutoDetect)) {
		return fmt.Errorf("%w: detection window not elapsed", ErrInvalidState)
	}
	if err := s.settleToClient(ctx, tx, b, models.BookingCancelled, "auto-cancelled, hauler never started"); err != nil {
		return err
	}
	if err := tx.Commit(ctx); err != nil {
		return err
	}
	s.recordStrike(ctx, b.HaulerID)
	return nil
}

// CancelByHauler lets the hauler back out before pickup is confirmed. The
// client gets a full refund and the cancellation lands on the hauler's
// reliability record.
func (s *Service) CancelByHauler(ctx context.Context, actor Actor, id uuid.UUID) (*models.Booking, error) {
	tx, err := s.store.Begin(ctx)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback(ctx)

	b, err := s.store.GetForUpdate(ctx, tx, id)
	if err != nil {
		return nil, err
	}
	if actor.ID != b.HaulerID {
		return nil, ErrForbidden
	}
	if b.Status != models.BookingAssigned {
		return nil, fmt.Errorf("%w: cannot cancel from %s", ErrInvalidState, b.Status)
	}
	if err := s.settleToClient(ctx, tx, b, models.BookingCancelled, "hauler cancelled before pickup"); err != nil {
		return nil, err
	}
	if err := tx.Commit(ctx); err != nil {
		return nil, err
	}
	b.Status = models.BookingCancelled
	if s.strikes != nil {
		if err := s.strikes.RecordCancellation(ctx, b.HaulerID); err != nil {
			s.log.Error("recording cancellation failed", "hauler_id", b.HaulerID, "error", err)
		}
	}
	return b, nil
}

// RequestAmendment lets the hauler propose a new amount before pickup is
// confirmed. At most one pending amendment per booking.
func (s *Service) RequestAmendment(ctx context.Context, actor Actor, bookingID uuid.UUID, proposed decimal.Decimal, reason string) (*models.Amendment, error) {
	if reason == "" {
		return nil, fmt.Errorf("%w: amendment reason is required", ErrValidation)
	}
	if !proposed.IsPositive() {
		return nil, fmt.Errorf("%w: proposed amount must be positive", ErrValidation)
	}
	tx, err := s.store.Begin(ctx)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback(ctx)

	b, err := s.store.GetForUpdate(ctx, tx, bookingID)
	if err != nil {
		return nil, err
	}
	if actor.ID != b.HaulerID {
		return nil, ErrForbidden
	}
	if b.Status != models.BookingAssigned {
		return nil, fmt.Errorf("%w: amendments only before pickup confirmation", ErrInvalidState)
	}
	pending, err := s.store.HasPendingAmendmentTx(ctx, tx, bookingID)
	if err != nil {
		return nil, err
	}
	if pending {
		return nil, fmt.Errorf("%w: an amendment is already pending", ErrConflict)
	}
	a := &models.Amendment{
		ID:             uuid.New(),
		BookingID:      bookingID,
		RequestedBy:    actor.ID,
		ProposedAmount: proposed,
		Reason:         reason,
		Status:         models.AmendmentPending,
	}
	if err := s.store.CreateAmendmentTx(ctx, tx, a); err != nil {
		return nil, err
	}
	if err := tx.Commit(ctx); err != nil {
		return nil, err
	}
	return a, nil
}

// RespondAmendment is the client's accept or reject. Accepting adjusts the
// escrowed amount by the delta and rewrites the booking amount in the same
// transaction; an unfunded increase fails whole.
func (s *Service) RespondAmendment(ctx context.Context, actor Actor, amendmentID uuid.UUID, accept bool) (*models.Amendment, error) {
	tx, err := s.store.Begin(ctx)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback(ctx)

	a, err := s.store.GetAmendmentForUpdate(ctx, tx, amendmentID)
	if err != nil {
		return nil, err
	}
	b, err := s.store.GetForUpdate(ctx, tx, a.BookingID)
	if err != nil {
		return nil, err
	}
	if actor.ID != b.ClientID {
		return nil, ErrForbidden
	}
	if a.Status != models.AmendmentPending {
		return nil, fmt.Errorf("%w: amendment already %s", ErrInvalidState, a.Status)
	}
	if b.Status != models.BookingAssigned {
		return nil, fmt.Errorf("%w: booking already moved to %s", ErrInvalidState, b.Status)
	}
	if !accept {
		if err := s.store.SetAmendmentStatusTx(ctx, tx, amendmentID, models.AmendmentRejected); err != nil {
			return nil, err
		}
		if err := tx.Commit(ctx); err != nil {
			return nil, err
		}
		a.Status = models.AmendmentRejected
		return a, nil
	}

	delta := a.ProposedAmount.Sub(b.Amount)
	desc := fmt.Sprintf("amendment accepted: $%s -> $%s", b.Amount.StringFixed(2), a.ProposedAmount.StringFixed(2))
	if err := s.ledger.AdjustEscrow(ctx, tx, b.ClientID, amendmentID, delta, desc); err != nil {
		return nil, err
	}
	if err := s.store.UpdateAmountTx(ctx, tx, b.ID, a.ProposedAmount); err != nil {
		return nil, err
	}
	if err := s.store.SetAmendmentStatusTx(ctx, tx, amendmentID, models.AmendmentAccepted); err != nil {
		return nil, err
	}
	if err := tx.Commit(ctx); err != nil {
		return nil, err
	}
	a.Status = models.AmendmentAccepted
	return a, nil
}

// ListEvidence returns a booking's evidence, visible to parties and arbiters.
func (s *Service) ListEvidence(ctx context.Context, actor Actor, bookingID uuid.UUID) ([]*models.Evidence, error) {
	b, err := s.store.GetByID(ctx, bookingID)
	if err != nil {
		return nil, err
	}
	if !s.canView(actor, b) {
		return nil, ErrForbidden
	}
	return s.store.ListEvidence(ctx, bookingID)
}

// ListAmendments returns a booking's amendment history.
func (s *Service) ListAmendments(ctx context.Context, actor Actor, bookingID uuid.UUID) ([]*models.Amendment, error) {
	b, err := s.store.GetByID(ctx, bookingID)
	if err != nil {
		return nil, err
	}
	if !s.canView(actor, b) {
		return nil, ErrForbidden
	}
	return s.store.ListAmendments(ctx, bookingID)
}

// DueAutoRelease returns the next batch of bookings past their auto-release
// deadline.
func (s *Service) DueAutoRelease(ctx context.Context) ([]uuid.UUID, error) {
	return s.store.ListDueAutoRelease(ctx, s.now(), s.cfg.SweepBatchSize)
}

// DueNoShow returns the next batch of assigned bookings past the no-show
// detection window.
func (s *Service) DueNoShow(ctx context.Context) ([]uuid.UUID, error) {
	return s.store.ListDueNoShow(ctx, s.now().Add(-s.cfg.NoShowAutoDetect), s.cfg.SweepBatchSize)
}

// HoursUntilAutoRelease reports the remaining confirmation window, floored
// at zero. Surfaced to clients so the deadline is never a surprise.
func (s *Service) HoursUntilAutoRelease(b *models.Booking) float64 {
	if b.Status != models.BookingPendingCompletion || b.AutoReleaseAt == nil {
		return 0
	}
	h := b.AutoReleaseAt.Sub(s.now()).Hours()
	if h < 0 {
		return 0
	}
	return h
}

// ReviewEligible reports whether a settled booking can be reviewed: the
// cooling period after settlement has elapsed and both evidence photos are
// on file. Dispute resolutions settle too, so they qualify alongside plain
// completions.
func (s *Service) ReviewEligible(ctx context.Context, b *models.Booking) bool {
	switch b.Status {
	case models.BookingCompleted, models.BookingResolvedHauler, models.BookingResolvedClient:
	default:
		return false
	}
	if b.CompletedAt == nil || s.now().Before(b.CompletedAt.Add(s.cfg.ReviewCoolingPeriod)) {
		return false
	}
	pickup, dropoff, err := s.store.CountEvidence(ctx, b.ID)
	if err != nil {
		s.log.Error("counting evidence for review eligibility failed", "booking_id", b.ID, "error", err)
		return false
	}
	return pickup >= 1 && dropoff >= 1
}

// settleToHauler releases escrow to the hauler, stamps the terminal status
// and completes the job. Shared by confirm_complete, auto_release and
// resolve-for-hauler.
func (s *Service) settleToHauler(ctx context.Context, tx pgx.Tx, b *models.Booking, status, description string) error {
	if err := s.ledger.Release(ctx, tx, b, description); err != nil {
		return err
	}
	if err := s.store.SetResolved(ctx, tx, b.ID, status, s.now()); err != nil {
		return err
	}
	return s.store.SetJobStatusTx(ctx, tx, b.JobID, models.JobCompleted)
}

// settleToClient refunds escrow to the client, stamps the terminal status
// and cancels the job. Shared by no-show paths and resolve-for-client.
func (s *Service) settleToClient(ctx context.Context, tx pgx.Tx, b *models.Booking, status, description string) error {
	if err := s.ledger.Refund(ctx, tx, b, description); err != nil {
		return err
	}
	now := s.now()
	if status == models.BookingCancelled {
		if err := s.store.SetCancelled(ctx, tx, b.ID, now); err != nil {
			return err
		}
	} else {
		if err := s.store.SetResolved(ctx, tx, b.ID, status, now); err != nil {
			return err
		}
	}
	return s.store.SetJobStatusTx(ctx, tx, b.JobID, models.JobCancelled)
}

func (s *Service) canView(actor Actor, b *models.Booking) bool {
	return actor.ID == b.ClientID || actor.ID == b.HaulerID || actor.Role == models.RoleArbiter
}

// recordStrike runs after commit. The refund already happened; a profile
// write failure is logged and swallowed.
func (s *Service) recordStrike(ctx context.Context, haulerID uuid.UUID) {
	if s.strikes == nil {
		return
	}
	if err := s.strikes.RecordNoShow(ctx, haulerID); err != nil {
		s.log.Error("recording no-show strike failed", "hauler_id", haulerID, "error", err)
	}
}
