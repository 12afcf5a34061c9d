package booking

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/shopspring/decimal"

	"github.com/haulhub/backend/internal/config"
	"github.com/haulhub/backend/internal/ledger"
	"github.com/haulhub/backend/internal/models"
)

// ---------------------------------------------------------------------------
// In-memory mocks. The FSM is tested against the real service logic; only
// persistence and the ledger engine are stubbed.
// ---------------------------------------------------------------------------

type fakeTx struct{ pgx.Tx }

func (fakeTx) Commit(context.Context) error   { return nil }
func (fakeTx) Rollback(context.Context) error { return nil }

type mockStore struct {
	mu         sync.Mutex
	bookings   map[uuid.UUID]*models.Booking
	evidence   []*models.Evidence
	amendments map[uuid.UUID]*models.Amendment
	jobStatus  map[uuid.UUID]string
	jobLat     *float64
	jobLng     *float64
}

func newMockStore(bs ...*models.Booking) *mockStore {
	m := &mockStore{
		bookings:   make(map[uuid.UUID]*models.Booking),
		amendments: make(map[uuid.UUID]*models.Amendment),
		jobStatus:  make(map[uuid.UUID]string),
	}
	for _, b := range bs {
		cp := *b
		m.bookings[b.ID] = &cp
		m.jobStatus[b.JobID] = models.JobAssigned
	}
	return m
}

func (m *mockStore) Begin(context.Context) (pgx.Tx, error) { return fakeTx{}, nil }

func (m *mockStore) GetByID(_ context.Context, id uuid.UUID) (*models.Booking, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	b, ok := m.bookings[id]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *b
	return &cp, nil
}

func (m *mockStore) GetForUpdate(ctx context.Context, _ pgx.Tx, id uuid.UUID) (*models.Booking, error) {
	return m.GetByID(ctx, id)
}

func (m *mockStore) SetInProgress(_ context.Context, _ pgx.Tx, id uuid.UUID, at time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	b := m.bookings[id]
	b.Status = models.BookingInProgress
	b.PickupConfirmedAt = &at
	return nil
}

func (m *mockStore) SetPendingCompletion(_ context.Context, _ pgx.Tx, id uuid.UUID, doneAt, releaseAt time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	b := m.bookings[id]
	b.Status = models.BookingPendingCompletion
	b.HaulerMarkedDoneAt = &doneAt
	b.AutoReleaseAt = &releaseAt
	return nil
}

func (m *mockStore) SetResolved(_ context.Context, _ pgx.Tx, id uuid.UUID, status string, at time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	b := m.bookings[id]
	b.Status = status
	b.CompletedAt = &at
	return nil
}

func (m *mockStore) SetDisputed(_ context.Context, _ pgx.Tx, id uuid.UUID, at time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	b := m.bookings[id]
	b.Status = models.BookingDisputed
	b.DisputeOpenedAt = &at
	return nil
}

func (m *mockStore) SetCancelled(_ context.Context, _ pgx.Tx, id uuid.UUID, at time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	b := m.bookings[id]
	b.Status = models.BookingCancelled
	b.CompletedAt = &at
	return nil
}

func (m *mockStore) UpdateAmountTx(_ context.Context, _ pgx.Tx, id uuid.UUID, amount decimal.Decimal) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.bookings[id].Amount = amount
	return nil
}

func (m *mockStore) SetJobStatusTx(_ context.Context, _ pgx.Tx, jobID uuid.UUID, status string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.jobStatus[jobID] = status
	return nil
}

func (m *mockStore) ListByUser(_ context.Context, userID uuid.UUID) ([]*models.Booking, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*models.Booking
	for _, b := range m.bookings {
		if b.ClientID == userID || b.HaulerID == userID {
			cp := *b
			out = append(out, &cp)
		}
	}
	return out, nil
}

func (m *mockStore) CreateEvidence(_ context.Context, e *models.Evidence) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := *e
	m.evidence = append(m.evidence, &cp)
	return nil
}

func (m *mockStore) CountEvidenceTx(_ context.Context, _ pgx.Tx, bookingID uuid.UUID) (int, int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var pickup, dropoff int
	for _, e := range m.evidence {
		if e.BookingID != bookingID {
			continue
		}
		if e.Kind == models.EvidencePickup {
			pickup++
		} else {
			dropoff++
		}
	}
	return pickup, dropoff, nil
}

func (m *mockStore) CountEvidence(ctx context.Context, bookingID uuid.UUID) (int, int, error) {
	return m.CountEvidenceTx(ctx, nil, bookingID)
}

func (m *mockStore) ListEvidence(_ context.Context, bookingID uuid.UUID) ([]*models.Evidence, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*models.Evidence
	for _, e := range m.evidence {
		if e.BookingID == bookingID {
			cp := *e
			out = append(out, &cp)
		}
	}
	return out, nil
}

func (m *mockStore) GetJobLocation(context.Context, uuid.UUID) (*float64, *float64, error) {
	return m.jobLat, m.jobLng, nil
}

func (m *mockStore) CreateAmendmentTx(_ context.Context, _ pgx.Tx, a *models.Amendment) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := *a
	cp.CreatedAt = time.Now()
	m.amendments[a.ID] = &cp
	return nil
}

func (m *mockStore) GetAmendmentForUpdate(_ context.Context, _ pgx.Tx, id uuid.UUID) (*models.Amendment, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	a, ok := m.amendments[id]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *a
	return &cp, nil
}

func (m *mockStore) HasPendingAmendmentTx(_ context.Context, _ pgx.Tx, bookingID uuid.UUID) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, a := range m.amendments {
		if a.BookingID == bookingID && a.Status == models.AmendmentPending {
			return true, nil
		}
	}
	return false, nil
}

func (m *mockStore) SetAmendmentStatusTx(_ context.Context, _ pgx.Tx, id uuid.UUID, status string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.amendments[id].Status = status
	return nil
}

func (m *mockStore) ListAmendments(_ context.Context, bookingID uuid.UUID) ([]*models.Amendment, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*models.Amendment
	for _, a := range m.amendments {
		if a.BookingID == bookingID {
			cp := *a
			out = append(out, &cp)
		}
	}
	return out, nil
}

func (m *mockStore) ListDueAutoRelease(_ context.Context, now time.Time, limit int) ([]uuid.UUID, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var ids []uuid.UUID
	for _, b := range m.bookings {
		if b.Status == models.BookingPendingCompletion && b.AutoReleaseAt != nil && !b.AutoReleaseAt.After(now) {
			ids = append(ids, b.ID)
		}
		if len(ids) >= limit {
			break
		}
	}
	return ids, nil
}

func (m *mockStore) ListDueNoShow(_ context.Context, cutoff time.Time, limit int) ([]uuid.UUID, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var ids []uuid.UUID
	for _, b := range m.bookings {
		if b.Status == models.BookingAssigned && !b.ScheduledDate.After(cutoff) {
			ids = append(ids, b.ID)
		}
		if len(ids) >= limit {
			break
		}
	}
	return ids, nil
}

func (m *mockStore) status(id uuid.UUID) string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.bookings[id].Status
}

// ---

type mockLedger struct {
	mu        sync.Mutex
	released  []uuid.UUID
	refunded  []uuid.UUID
	adjusted  []decimal.Decimal
	disputes  int
	adjustErr error
}

func (m *mockLedger) Release(_ context.Context, _ pgx.Tx, b *models.Booking, _ string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.released = append(m.released, b.ID)
	return nil
}

func (m *mockLedger) Refund(_ context.Context, _ pgx.Tx, b *models.Booking, _ string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.refunded = append(m.refunded, b.ID)
	return nil
}

func (m *mockLedger) AdjustEscrow(_ context.Context, _ pgx.Tx, _, _ uuid.UUID, delta decimal.Decimal, _ string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.adjustErr != nil {
		return m.adjustErr
	}
	m.adjusted = append(m.adjusted, delta)
	return nil
}

func (m *mockLedger) RecordDisputeOpened(_ context.Context, _ pgx.Tx, _, _ uuid.UUID, _ string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.disputes++
	return nil
}

type mockStrikes struct {
	mu            sync.Mutex
	calls         []uuid.UUID
	cancellations []uuid.UUID
}

func (m *mockStrikes) RecordNoShow(_ context.Context, haulerID uuid.UUID) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls = append(m.calls, haulerID)
	return nil
}

func (m *mockStrikes) RecordCancellation(_ context.Context, haulerID uuid.UUID) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.cancellations = append(m.cancellations, haulerID)
	return nil
}

type stubGeo struct{ within bool }

func (s stubGeo) Within(_, _, _, _, _ float64) bool { return s.within }

// ---------------------------------------------------------------------------
// Helpers
// ---------------------------------------------------------------------------

func testBooking(status string) *models.Booking {
	return &models.Booking{
		ID:            uuid.New(),
		JobID:         uuid.New(),
		ClientID:      uuid.New(),
		HaulerID:      uuid.New(),
		Amount:        decimal.NewFromInt(300),
		Status:        status,
		PickupPIN:     "123456",
		ScheduledDate: time.Now().Add(-time.Hour),
	}
}

func newTestService(store *mockStore, led *mockLedger, strikes *mockStrikes) *Service {
	cfg := config.Load()
	svc := NewService(store, led, strikes, stubGeo{within: true}, cfg, slog.Default())
	return svc
}

func client(b *models.Booking) Actor { return Actor{ID: b.ClientID, Role: models.RoleClient} }
func hauler(b *models.Booking) Actor { return Actor{ID: b.HaulerID, Role: models.RoleHauler} }

// ---------------------------------------------------------------------------
// Pickup confirmation
// ---------------------------------------------------------------------------

func TestConfirmPickup(t *testing.T) {
	b := testBooking(models.BookingAssigned)
	store := newMockStore(b)
	svc := newTestService(store, &mockLedger{}, nil)
	ctx := context.Background()

	// Wrong code, repeatedly: state never moves.
	for i := 0; i < 3; i++ {
		_, err := svc.ConfirmPickup(ctx, client(b), b.ID, "999999")
		if !errors.Is(err, ErrValidation) {
			t.Fatalf("attempt %d: expected ErrValidation, got %v", i+1, err)
		}
	}
	if got := store.status(b.ID); got != models.BookingAssigned {
		t.Fatalf("status after wrong codes: %s", got)
	}

	// Malformed code.
	if _, err := svc.ConfirmPickup(ctx, client(b), b.ID, "12x456"); !errors.Is(err, ErrValidation) {
		t.Errorf("expected ErrValidation for malformed pin, got %v", err)
	}
	// Hauler cannot confirm their own pickup.
	if _, err := svc.ConfirmPickup(ctx, hauler(b), b.ID, "123456"); !errors.Is(err, ErrForbidden) {
		t.Errorf("expected ErrForbidden for hauler, got %v", err)
	}

	got, err := svc.ConfirmPickup(ctx, client(b), b.ID, "123456")
	if err != nil {
		t.Fatalf("ConfirmPickup: %v", err)
	}
	if got.Status != models.BookingInProgress {
		t.Errorf("status: got %s, want in_progress", got.Status)
	}
	if got.PickupConfirmedAt == nil {
		t.Error("pickup_confirmed_at not stamped")
	}

	// Replay against the new state fails.
	if _, err := svc.ConfirmPickup(ctx, client(b), b.ID, "123456"); !errors.Is(err, ErrInvalidState) {
		t.Errorf("expected ErrInvalidState on replay, got %v", err)
	}
}

// ---------------------------------------------------------------------------
// Evidence and mark_done
// ---------------------------------------------------------------------------

func TestUploadEvidence(t *testing.T) {
	b := testBooking(models.BookingInProgress)
	store := newMockStore(b)
	svc := newTestService(store, &mockLedger{}, nil)
	ctx := context.Background()

	if _, err := svc.UploadEvidence(ctx, client(b), b.ID, models.EvidencePickup, "p.jpg", nil, nil); !errors.Is(err, ErrForbidden) {
		t.Errorf("client upload: expected ErrForbidden, got %v", err)
	}
	if _, err := svc.UploadEvidence(ctx, hauler(b), b.ID, "selfie", "p.jpg", nil, nil); !errors.Is(err, ErrValidation) {
		t.Errorf("bad kind: expected ErrValidation, got %v", err)
	}

	e, err := svc.UploadEvidence(ctx, hauler(b), b.ID, models.EvidencePickup, "p.jpg", nil, nil)
	if err != nil {
		t.Fatalf("UploadEvidence: %v", err)
	}
	if e.CapturedAt.IsZero() {
		t.Error("captured_at must be server-stamped")
	}
}

// The hauler photographs the load before the client punches in the pickup
// code, so uploads must be accepted while the booking is still assigned.
func TestUploadEvidence_BeforePickupConfirmed(t *testing.T) {
	b := testBooking(models.BookingAssigned)
	store := newMockStore(b)
	svc := newTestService(store, &mockLedger{}, nil)
	ctx := context.Background()

	if _, err := svc.UploadEvidence(ctx, hauler(b), b.ID, models.EvidencePickup, "p.jpg", nil, nil); err != nil {
		t.Fatalf("upload while assigned: %v", err)
	}

	done := testBooking(models.BookingPendingCompletion)
	store = newMockStore(done)
	svc = newTestService(store, &mockLedger{}, nil)
	if _, err := svc.UploadEvidence(ctx, hauler(done), done.ID, models.EvidenceDropoff, "d.jpg", nil, nil); !errors.Is(err, ErrInvalidState) {
		t.Fatalf("upload after mark-done: expected ErrInvalidState, got %v", err)
	}
}

func TestUploadEvidence_Geofence(t *testing.T) {
	b := testBooking(models.BookingInProgress)
	store := newMockStore(b)
	jobLat, jobLng := 40.0, -74.0
	store.jobLat, store.jobLng = &jobLat, &jobLng

	cfg := config.Load()
	cfg.GeoValidationEnabled = true
	svc := NewService(store, &mockLedger{}, nil, stubGeo{within: false}, cfg, slog.Default())

	lat, lng := 41.0, -75.0
	_, err := svc.UploadEvidence(context.Background(), hauler(b), b.ID, models.EvidenceDropoff, "d.jpg", &lat, &lng)
	if !errors.Is(err, ErrValidation) {
		t.Fatalf("expected ErrValidation outside geofence, got %v", err)
	}
}

func TestMarkDone_EvidenceGate(t *testing.T) {
	b := testBooking(models.BookingInProgress)
	store := newMockStore(b)
	svc := newTestService(store, &mockLedger{}, nil)
	ctx := context.Background()

	// Pickup photo only: the $300 stays in escrow and the state holds.
	if _, err := svc.UploadEvidence(ctx, hauler(b), b.ID, models.EvidencePickup, "p.jpg", nil, nil); err != nil {
		t.Fatalf("upload pickup: %v", err)
	}
	_, err := svc.MarkDone(ctx, hauler(b), b.ID)
	if !errors.Is(err, ErrValidation) {
		t.Fatalf("expected ErrValidation without dropoff evidence, got %v", err)
	}
	// The rejection tells the hauler which photo is missing.
	if !strings.Contains(err.Error(), models.EvidenceDropoff) {
		t.Errorf("error does not name the missing kind: %v", err)
	}
	if strings.Contains(err.Error(), models.EvidencePickup) {
		t.Errorf("error names a kind that is on file: %v", err)
	}
	if got := store.status(b.ID); got != models.BookingInProgress {
		t.Fatalf("status moved despite failed gate: %s", got)
	}

	if _, err := svc.UploadEvidence(ctx, hauler(b), b.ID, models.EvidenceDropoff, "d.jpg", nil, nil); err != nil {
		t.Fatalf("upload dropoff: %v", err)
	}
	got, err := svc.MarkDone(ctx, hauler(b), b.ID)
	if err != nil {
		t.Fatalf("MarkDone: %v", err)
	}
	if got.Status != models.BookingPendingCompletion {
		t.Errorf("status: got %s, want pending_completion", got.Status)
	}
	if got.AutoReleaseAt == nil {
		t.Fatal("auto_release_at not set")
	}
	wantRelease := got.HaulerMarkedDoneAt.Add(48 * time.Hour)
	if !got.AutoReleaseAt.Equal(wantRelease) {
		t.Errorf("auto_release_at: got %s, want %s", got.AutoReleaseAt, wantRelease)
	}
}

// ---------------------------------------------------------------------------
// Completion, auto-release and the race between them
// ---------------------------------------------------------------------------

func TestConfirmComplete(t *testing.T) {
	b := testBooking(models.BookingPendingCompletion)
	store := newMockStore(b)
	led := &mockLedger{}
	svc := newTestService(store, led, nil)
	ctx := context.Background()

	if _, err := svc.ConfirmComplete(ctx, hauler(b), b.ID); !errors.Is(err, ErrForbidden) {
		t.Errorf("hauler confirm: expected ErrForbidden, got %v", err)
	}

	got, err := svc.ConfirmComplete(ctx, client(b), b.ID)
	if err != nil {
		t.Fatalf("ConfirmComplete: %v", err)
	}
	if got.Status != models.BookingCompleted {
		t.Errorf("status: got %s, want completed", got.Status)
	}
	if len(led.released) != 1 {
		t.Errorf("releases: got %d, want 1", len(led.released))
	}
	if store.jobStatus[b.JobID] != models.JobCompleted {
		t.Errorf("job status: got %s, want completed", store.jobStatus[b.JobID])
	}
}

func TestAutoRelease(t *testing.T) {
	b := testBooking(models.BookingPendingCompletion)
	past := time.Now().Add(-time.Minute)
	b.AutoReleaseAt = &past
	store := newMockStore(b)
	led := &mockLedger{}
	svc := newTestService(store, led, nil)
	ctx := context.Background()

	if err := svc.AutoRelease(ctx, b.ID); err != nil {
		t.Fatalf("AutoRelease: %v", err)
	}
	if got := store.status(b.ID); got != models.BookingCompleted {
		t.Errorf("status: got %s, want completed", got)
	}
	if len(led.released) != 1 {
		t.Errorf("releases: got %d, want 1", len(led.released))
	}
}

func TestAutoRelease_DeadlineNotReached(t *testing.T) {
	b := testBooking(models.BookingPendingCompletion)
	future := time.Now().Add(time.Hour)
	b.AutoReleaseAt = &future
	store := newMockStore(b)
	led := &mockLedger{}
	svc := newTestService(store, led, nil)

	if err := svc.AutoRelease(context.Background(), b.ID); !errors.Is(err, ErrInvalidState) {
		t.Fatalf("expected ErrInvalidState before deadline, got %v", err)
	}
	if len(led.released) != 0 {
		t.Errorf("releases before deadline: got %d", len(led.released))
	}
}

func TestAutoRelease_LosesRaceToClient(t *testing.T) {
	b := testBooking(models.BookingPendingCompletion)
	past := time.Now().Add(-time.Minute)
	b.AutoReleaseAt = &past
	store := newMockStore(b)
	led := &mockLedger{}
	svc := newTestService(store, led, nil)
	ctx := context.Background()

	if _, err := svc.ConfirmComplete(ctx, client(b), b.ID); err != nil {
		t.Fatalf("ConfirmComplete: %v", err)
	}
	// The sweeper fires afterwards: benign no-op, money moves exactly once.
	if err := svc.AutoRelease(ctx, b.ID); !errors.Is(err, ErrInvalidState) {
		t.Fatalf("expected ErrInvalidState for late sweeper, got %v", err)
	}
	if len(led.released) != 1 {
		t.Errorf("releases after race: got %d, want 1", len(led.released))
	}
}

// ---------------------------------------------------------------------------
// Disputes
// ---------------------------------------------------------------------------

func TestOpenDispute(t *testing.T) {
	b := testBooking(models.BookingPendingCompletion)
	store := newMockStore(b)
	led := &mockLedger{}
	svc := newTestService(store, led, nil)
	ctx := context.Background()

	if _, err := svc.OpenDispute(ctx, client(b), b.ID, ""); !errors.Is(err, ErrValidation) {
		t.Errorf("empty reason: expected ErrValidation, got %v", err)
	}
	if _, err := svc.OpenDispute(ctx, client(b), b.ID, strings.Repeat("x", 501)); !errors.Is(err, ErrValidation) {
		t.Errorf("oversize reason: expected ErrValidation, got %v", err)
	}
	if _, err := svc.OpenDispute(ctx, Actor{ID: uuid.New(), Role: models.RoleClient}, b.ID, "damaged"); !errors.Is(err, ErrForbidden) {
		t.Errorf("stranger: expected ErrForbidden, got %v", err)
	}
	// Disputes are the client's lever; the hauler has no-show and amendments.
	if _, err := svc.OpenDispute(ctx, hauler(b), b.ID, "client unreachable"); !errors.Is(err, ErrForbidden) {
		t.Errorf("hauler: expected ErrForbidden, got %v", err)
	}

	got, err := svc.OpenDispute(ctx, client(b), b.ID, "sofa arrived damaged")
	if err != nil {
		t.Fatalf("OpenDispute: %v", err)
	}
	if got.Status != models.BookingDisputed {
		t.Errorf("status: got %s, want disputed", got.Status)
	}
	if led.disputes != 1 {
		t.Errorf("dispute audit entries: got %d, want 1", led.disputes)
	}

	// Escrow frozen: no release or refund happened.
	if len(led.released)+len(led.refunded) != 0 {
		t.Error("money moved on dispute open")
	}
}

func TestResolveDispute(t *testing.T) {
	arbiter := Actor{ID: uuid.New(), Role: models.RoleArbiter}
	ctx := context.Background()

	t.Run("hauler wins", func(t *testing.T) {
		b := testBooking(models.BookingDisputed)
		store := newMockStore(b)
		led := &mockLedger{}
		svc := newTestService(store, led, nil)

		if _, err := svc.ResolveDispute(ctx, client(b), b.ID, models.RoleHauler); !errors.Is(err, ErrForbidden) {
			t.Fatalf("non-arbiter: expected ErrForbidden, got %v", err)
		}
		got, err := svc.ResolveDispute(ctx, arbiter, b.ID, models.RoleHauler)
		if err != nil {
			t.Fatalf("ResolveDispute: %v", err)
		}
		if got.Status != models.BookingResolvedHauler {
			t.Errorf("status: got %s", got.Status)
		}
		if len(led.released) != 1 || len(led.refunded) != 0 {
			t.Errorf("ledger calls: released=%d refunded=%d", len(led.released), len(led.refunded))
		}
		if store.jobStatus[b.JobID] != models.JobCompleted {
			t.Errorf("job status: got %s", store.jobStatus[b.JobID])
		}
	})

	t.Run("client wins", func(t *testing.T) {
		b := testBooking(models.BookingDisputed)
		store := newMockStore(b)
		led := &mockLedger{}
		svc := newTestService(store, led, nil)

		got, err := svc.ResolveDispute(ctx, arbiter, b.ID, models.RoleClient)
		if err != nil {
			t.Fatalf("ResolveDispute: %v", err)
		}
		if got.Status != models.BookingResolvedClient {
			t.Errorf("status: got %s", got.Status)
		}
		if len(led.refunded) != 1 || len(led.released) != 0 {
			t.Errorf("ledger calls: released=%d refunded=%d", len(led.released), len(led.refunded))
		}
		if store.jobStatus[b.JobID] != models.JobCancelled {
			t.Errorf("job status: got %s", store.jobStatus[b.JobID])
		}
	})

	t.Run("double resolve", func(t *testing.T) {
		b := testBooking(models.BookingDisputed)
		store := newMockStore(b)
		led := &mockLedger{}
		svc := newTestService(store, led, nil)

		if _, err := svc.ResolveDispute(ctx, arbiter, b.ID, models.RoleHauler); err != nil {
			t.Fatalf("first resolve: %v", err)
		}
		if _, err := svc.ResolveDispute(ctx, arbiter, b.ID, models.RoleClient); !errors.Is(err, ErrInvalidState) {
			t.Fatalf("second resolve: expected ErrInvalidState, got %v", err)
		}
		if len(led.refunded) != 0 {
			t.Error("refund fired on already-resolved booking")
		}
	})
}

// ---------------------------------------------------------------------------
// No-show
// ---------------------------------------------------------------------------

func TestReportNoShow(t *testing.T) {
	b := testBooking(models.BookingAssigned)
	b.ScheduledDate = time.Now().Add(-10 * time.Minute) // within grace window
	store := newMockStore(b)
	led := &mockLedger{}
	strikes := &mockStrikes{}
	svc := newTestService(store, led, strikes)
	ctx := context.Background()

	if _, err := svc.ReportNoShow(ctx, client(b), b.ID); !errors.Is(err, ErrValidation) {
		t.Fatalf("report inside grace window: expected ErrValidation, got %v", err)
	}

	// Past the window.
	svc.now = func() time.Time { return b.ScheduledDate.Add(31 * time.Minute) }
	got, err := svc.ReportNoShow(ctx, client(b), b.ID)
	if err != nil {
		t.Fatalf("ReportNoShow: %v", err)
	}
	if got.Status != models.BookingCancelled {
		t.Errorf("status: got %s, want cancelled", got.Status)
	}
	if len(led.refunded) != 1 {
		t.Errorf("refunds: got %d, want 1", len(led.refunded))
	}
	if len(strikes.calls) != 1 || strikes.calls[0] != b.HaulerID {
		t.Errorf("strike calls: %v", strikes.calls)
	}
	if store.jobStatus[b.JobID] != models.JobCancelled {
		t.Errorf("job status: got %s", store.jobStatus[b.JobID])
	}
}

func TestAutoCancelNoShow(t *testing.T) {
	b := testBooking(models.BookingAssigned)
	b.ScheduledDate = time.Now().Add(-3 * time.Hour)
	store := newMockStore(b)
	led := &mockLedger{}
	strikes := &mockStrikes{}
	svc := newTestService(store, led, strikes)

	if err := svc.AutoCancelNoShow(context.Background(), b.ID); err != nil {
		t.Fatalf("AutoCancelNoShow: %v", err)
	}
	if got := store.status(b.ID); got != models.BookingCancelled {
		t.Errorf("status: got %s", got)
	}
	if len(led.refunded) != 1 || len(strikes.calls) != 1 {
		t.Errorf("refunds=%d strikes=%d, want 1 each", len(led.refunded), len(strikes.calls))
	}
}

func TestCancelByHauler(t *testing.T) {
	b := testBooking(models.BookingAssigned)
	store := newMockStore(b)
	led := &mockLedger{}
	strikes := &mockStrikes{}
	svc := newTestService(store, led, strikes)
	ctx := context.Background()

	if _, err := svc.CancelByHauler(ctx, client(b), b.ID); !errors.Is(err, ErrForbidden) {
		t.Errorf("client cancelling via hauler path: expected ErrForbidden, got %v", err)
	}

	got, err := svc.CancelByHauler(ctx, hauler(b), b.ID)
	if err != nil {
		t.Fatalf("CancelByHauler: %v", err)
	}
	if got.Status != models.BookingCancelled {
		t.Errorf("status: got %s, want cancelled", got.Status)
	}
	if len(led.refunded) != 1 {
		t.Errorf("refunds: got %d, want 1", len(led.refunded))
	}
	if len(strikes.cancellations) != 1 || strikes.cancellations[0] != b.HaulerID {
		t.Errorf("cancellation strikes: %v", strikes.cancellations)
	}
	if len(strikes.calls) != 0 {
		t.Errorf("no-show strikes: %v, want none", strikes.calls)
	}

	// Terminal; nothing else applies.
	if _, err := svc.CancelByHauler(ctx, hauler(b), b.ID); !errors.Is(err, ErrInvalidState) {
		t.Errorf("double cancel: expected ErrInvalidState, got %v", err)
	}
}

// ---------------------------------------------------------------------------
// Amendments
// ---------------------------------------------------------------------------

func TestRequestAmendment(t *testing.T) {
	b := testBooking(models.BookingAssigned)
	store := newMockStore(b)
	svc := newTestService(store, &mockLedger{}, nil)
	ctx := context.Background()

	if _, err := svc.RequestAmendment(ctx, hauler(b), b.ID, decimal.NewFromInt(350), ""); !errors.Is(err, ErrValidation) {
		t.Errorf("missing reason: expected ErrValidation, got %v", err)
	}
	if _, err := svc.RequestAmendment(ctx, client(b), b.ID, decimal.NewFromInt(350), "extra flight of stairs"); !errors.Is(err, ErrForbidden) {
		t.Errorf("client request: expected ErrForbidden, got %v", err)
	}

	a, err := svc.RequestAmendment(ctx, hauler(b), b.ID, decimal.NewFromInt(350), "extra flight of stairs")
	if err != nil {
		t.Fatalf("RequestAmendment: %v", err)
	}
	if a.Status != models.AmendmentPending {
		t.Errorf("status: got %s, want pending", a.Status)
	}

	// Only one pending at a time.
	if _, err := svc.RequestAmendment(ctx, hauler(b), b.ID, decimal.NewFromInt(400), "more stairs"); !errors.Is(err, ErrConflict) {
		t.Errorf("second pending: expected ErrConflict, got %v", err)
	}
}

func TestRequestAmendment_AfterPickup(t *testing.T) {
	b := testBooking(models.BookingInProgress)
	store := newMockStore(b)
	svc := newTestService(store, &mockLedger{}, nil)

	_, err := svc.RequestAmendment(context.Background(), hauler(b), b.ID, decimal.NewFromInt(350), "heavier than listed")
	if !errors.Is(err, ErrInvalidState) {
		t.Fatalf("expected ErrInvalidState after pickup, got %v", err)
	}
}

func TestRespondAmendment_Accept(t *testing.T) {
	b := testBooking(models.BookingAssigned)
	store := newMockStore(b)
	led := &mockLedger{}
	svc := newTestService(store, led, nil)
	ctx := context.Background()

	a, err := svc.RequestAmendment(ctx, hauler(b), b.ID, decimal.NewFromInt(350), "extra stairs")
	if err != nil {
		t.Fatalf("RequestAmendment: %v", err)
	}

	got, err := svc.RespondAmendment(ctx, client(b), a.ID, true)
	if err != nil {
		t.Fatalf("RespondAmendment: %v", err)
	}
	if got.Status != models.AmendmentAccepted {
		t.Errorf("status: got %s, want accepted", got.Status)
	}
	if len(led.adjusted) != 1 || !led.adjusted[0].Equal(decimal.NewFromInt(50)) {
		t.Errorf("adjust deltas: %v, want [50]", led.adjusted)
	}
	updated, _ := store.GetByID(ctx, b.ID)
	if !updated.Amount.Equal(decimal.NewFromInt(350)) {
		t.Errorf("booking amount: got %s, want 350", updated.Amount)
	}
}

func TestRespondAmendment_InsufficientFunds(t *testing.T) {
	b := testBooking(models.BookingAssigned) // $300 escrowed
	store := newMockStore(b)
	led := &mockLedger{adjustErr: ledger.ErrInsufficientFunds}
	svc := newTestService(store, led, nil)
	ctx := context.Background()

	a, err := svc.RequestAmendment(ctx, hauler(b), b.ID, decimal.NewFromInt(350), "extra stairs")
	if err != nil {
		t.Fatalf("RequestAmendment: %v", err)
	}

	// Client has only $40 available against the $50 delta: the whole
	// acceptance fails and nothing changes.
	if _, err := svc.RespondAmendment(ctx, client(b), a.ID, true); !errors.Is(err, ledger.ErrInsufficientFunds) {
		t.Fatalf("expected ErrInsufficientFunds, got %v", err)
	}
	cur, _ := store.GetAmendmentForUpdate(ctx, nil, a.ID)
	if cur.Status != models.AmendmentPending {
		t.Errorf("amendment status after failed accept: got %s, want pending", cur.Status)
	}
	updated, _ := store.GetByID(ctx, b.ID)
	if !updated.Amount.Equal(decimal.NewFromInt(300)) {
		t.Errorf("booking amount after failed accept: got %s, want 300", updated.Amount)
	}

	// Top up: with funds available the same amendment accepts cleanly.
	led.adjustErr = nil
	got, err := svc.RespondAmendment(ctx, client(b), a.ID, true)
	if err != nil {
		t.Fatalf("RespondAmendment after top-up: %v", err)
	}
	if got.Status != models.AmendmentAccepted {
		t.Errorf("status: got %s, want accepted", got.Status)
	}
}

func TestRespondAmendment_Reject(t *testing.T) {
	b := testBooking(models.BookingAssigned)
	store := newMockStore(b)
	led := &mockLedger{}
	svc := newTestService(store, led, nil)
	ctx := context.Background()

	a, _ := svc.RequestAmendment(ctx, hauler(b), b.ID, decimal.NewFromInt(350), "extra stairs")
	got, err := svc.RespondAmendment(ctx, client(b), a.ID, false)
	if err != nil {
		t.Fatalf("RespondAmendment: %v", err)
	}
	if got.Status != models.AmendmentRejected {
		t.Errorf("status: got %s, want rejected", got.Status)
	}
	if len(led.adjusted) != 0 {
		t.Error("escrow adjusted on rejection")
	}
	updated, _ := store.GetByID(ctx, b.ID)
	if !updated.Amount.Equal(decimal.NewFromInt(300)) {
		t.Errorf("amount changed on rejection: %s", updated.Amount)
	}
}

// ---------------------------------------------------------------------------
// Review eligibility
// ---------------------------------------------------------------------------

func TestReviewEligible(t *testing.T) {
	ctx := context.Background()
	cfg := config.Load()
	completedAt := time.Now().Add(-cfg.ReviewCoolingPeriod - time.Hour)

	seed := func(status string, kinds ...string) (*Service, *models.Booking) {
		b := testBooking(status)
		b.CompletedAt = &completedAt
		store := newMockStore(b)
		for _, k := range kinds {
			store.evidence = append(store.evidence, &models.Evidence{
				ID:        uuid.New(),
				BookingID: b.ID,
				Kind:      k,
			})
		}
		return newTestService(store, &mockLedger{}, nil), b
	}

	svc, b := seed(models.BookingCompleted, models.EvidencePickup, models.EvidenceDropoff)
	if !svc.ReviewEligible(ctx, b) {
		t.Error("completed booking with both photos past cooling must be eligible")
	}

	// Dispute resolutions settle the booking too.
	for _, status := range []string{models.BookingResolvedHauler, models.BookingResolvedClient} {
		svc, b := seed(status, models.EvidencePickup, models.EvidenceDropoff)
		if !svc.ReviewEligible(ctx, b) {
			t.Errorf("%s must be eligible", status)
		}
	}

	svc, b = seed(models.BookingCompleted, models.EvidencePickup)
	if svc.ReviewEligible(ctx, b) {
		t.Error("missing dropoff photo must block review")
	}

	svc, b = seed(models.BookingPendingCompletion, models.EvidencePickup, models.EvidenceDropoff)
	if svc.ReviewEligible(ctx, b) {
		t.Error("unsettled booking must not be eligible")
	}

	svc, b = seed(models.BookingCompleted, models.EvidencePickup, models.EvidenceDropoff)
	recent := time.Now()
	b.CompletedAt = &recent
	if svc.ReviewEligible(ctx, b) {
		t.Error("cooling period has not elapsed")
	}
}

// ---------------------------------------------------------------------------
// Illegal transitions never move money
// ---------------------------------------------------------------------------

func TestIllegalTransitions(t *testing.T) {
	ctx := context.Background()
	cases := []struct {
		name string
		from string
		call func(svc *Service, b *models.Booking) error
	}{
		{"confirm pickup from completed", models.BookingCompleted, func(svc *Service, b *models.Booking) error {
			_, err := svc.ConfirmPickup(ctx, client(b), b.ID, "123456")
			return err
		}},
		{"mark done from assigned", models.BookingAssigned, func(svc *Service, b *models.Booking) error {
			_, err := svc.MarkDone(ctx, hauler(b), b.ID)
			return err
		}},
		{"confirm complete from in_progress", models.BookingInProgress, func(svc *Service, b *models.Booking) error {
			_, err := svc.ConfirmComplete(ctx, client(b), b.ID)
			return err
		}},
		{"dispute from cancelled", models.BookingCancelled, func(svc *Service, b *models.Booking) error {
			_, err := svc.OpenDispute(ctx, client(b), b.ID, "late")
			return err
		}},
		{"no-show from in_progress", models.BookingInProgress, func(svc *Service, b *models.Booking) error {
			_, err := svc.ReportNoShow(ctx, client(b), b.ID)
			return err
		}},
		{"auto release from disputed", models.BookingDisputed, func(svc *Service, b *models.Booking) error {
			return svc.AutoRelease(ctx, b.ID)
		}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			b := testBooking(tc.from)
			b.ScheduledDate = time.Now().Add(-24 * time.Hour)
			store := newMockStore(b)
			led := &mockLedger{}
			svc := newTestService(store, led, &mockStrikes{})

			if err := tc.call(svc, b); !errors.Is(err, ErrInvalidState) {
				t.Fatalf("expected ErrInvalidState, got %v", err)
			}
			if got := store.status(b.ID); got != tc.from {
				t.Errorf("status mutated: got %s, want %s", got, tc.from)
			}
			if len(led.released)+len(led.refunded)+len(led.adjusted) != 0 {
				t.Error("ledger touched by illegal transition")
			}
		})
	}
}
