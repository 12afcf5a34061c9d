package strikes

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/haulhub/backend/internal/config"
	"github.com/haulhub/backend/internal/models"
)

type fakeTx struct{ pgx.Tx }

func (fakeTx) Commit(context.Context) error   { return nil }
func (fakeTx) Rollback(context.Context) error { return nil }

type mockProfiles struct {
	mu            sync.Mutex
	counts        map[uuid.UUID]int
	cancellations map[uuid.UUID]int
	status        map[uuid.UUID]string
	until         map[uuid.UUID]*time.Time
}

func newMockProfiles() *mockProfiles {
	return &mockProfiles{
		counts:        make(map[uuid.UUID]int),
		cancellations: make(map[uuid.UUID]int),
		status:        make(map[uuid.UUID]string),
		until:         make(map[uuid.UUID]*time.Time),
	}
}

func (m *mockProfiles) Begin(context.Context) (pgx.Tx, error) { return fakeTx{}, nil }

func (m *mockProfiles) IncrementNoShowTx(_ context.Context, _ pgx.Tx, id uuid.UUID) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.counts[id]++
	return m.counts[id], nil
}

func (m *mockProfiles) IncrementCancellationTx(_ context.Context, _ pgx.Tx, id uuid.UUID) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.cancellations[id]++
	return m.cancellations[id], nil
}

func (m *mockProfiles) ApplyPenaltyTx(_ context.Context, _ pgx.Tx, id uuid.UUID, status string, until *time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.status[id] = status
	m.until[id] = until
	return nil
}

func TestRecordNoShow_Ladder(t *testing.T) {
	profiles := newMockProfiles()
	cfg := config.Load()
	cfg.StrikeThresholdMultiplier = 1
	svc := NewService(profiles, cfg, nil)
	hauler := uuid.New()
	ctx := context.Background()

	steps := []struct {
		wantStatus   string
		wantDuration time.Duration // zero means no deadline
	}{
		{models.AccountWarned, 0},
		{models.AccountSuspended, shortSuspension},
		{models.AccountSuspended, longSuspension},
		{models.AccountSuspended, longSuspension}, // 4th sits between rungs
		{models.AccountBanned, 0},
	}
	for i, step := range steps {
		if err := svc.RecordNoShow(ctx, hauler); err != nil {
			t.Fatalf("strike %d: %v", i+1, err)
		}
		if got := profiles.status[hauler]; got != step.wantStatus {
			t.Errorf("strike %d: status got %s, want %s", i+1, got, step.wantStatus)
		}
		until := profiles.until[hauler]
		if step.wantDuration == 0 {
			if got := profiles.status[hauler]; got == models.AccountSuspended && until == nil {
				t.Errorf("strike %d: suspension without deadline", i+1)
			}
			continue
		}
		if until == nil {
			t.Fatalf("strike %d: expected suspension deadline", i+1)
		}
		remaining := time.Until(*until)
		if remaining > step.wantDuration || remaining < step.wantDuration-time.Minute {
			t.Errorf("strike %d: deadline %s away, want ~%s", i+1, remaining, step.wantDuration)
		}
	}
}

func TestRecordCancellation_NoPenalty(t *testing.T) {
	profiles := newMockProfiles()
	svc := NewService(profiles, config.Load(), nil)
	hauler := uuid.New()
	ctx := context.Background()

	for i := 0; i < 10; i++ {
		if err := svc.RecordCancellation(ctx, hauler); err != nil {
			t.Fatalf("cancellation %d: %v", i+1, err)
		}
	}
	if got := profiles.cancellations[hauler]; got != 10 {
		t.Errorf("cancellation_count = %d, want 10", got)
	}
	if got := profiles.status[hauler]; got != "" {
		t.Errorf("cancellations must not trigger penalties, got %s", got)
	}
}

func TestRecordNoShow_MultiplierSoftensLadder(t *testing.T) {
	profiles := newMockProfiles()
	cfg := config.Load()
	cfg.StrikeThresholdMultiplier = 3
	svc := NewService(profiles, cfg, nil)
	hauler := uuid.New()
	ctx := context.Background()

	// First two strikes stay below the warn threshold of 3.
	for i := 0; i < 2; i++ {
		if err := svc.RecordNoShow(ctx, hauler); err != nil {
			t.Fatalf("strike %d: %v", i+1, err)
		}
		if got := profiles.status[hauler]; got != "" {
			t.Errorf("strike %d: unexpected penalty %s", i+1, got)
		}
	}
	if err := svc.RecordNoShow(ctx, hauler); err != nil {
		t.Fatalf("third strike: %v", err)
	}
	if got := profiles.status[hauler]; got != models.AccountWarned {
		t.Errorf("third strike: got %s, want warned", got)
	}
}
