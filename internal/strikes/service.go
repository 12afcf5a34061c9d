// Package strikes escalates penalties for hauler no-shows. The ladder runs
// warning, short suspension, long suspension, permanent ban, with thresholds
// scaled by a configurable multiplier so non-production environments can
// soften it.
package strikes

import (
	"context"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/haulhub/backend/internal/config"
	"github.com/haulhub/backend/internal/models"
)

// Base thresholds, multiplied by Config.StrikeThresholdMultiplier.
const (
	warnAt         = 1
	shortSuspendAt = 2
	longSuspendAt  = 3
	banAt          = 5

	shortSuspension = 48 * time.Hour
	longSuspension  = 14 * 24 * time.Hour
)

// Store is what the service needs from the repository.
type Store interface {
	Begin(ctx context.Context) (pgx.Tx, error)
	IncrementNoShowTx(ctx context.Context, tx pgx.Tx, userID uuid.UUID) (int, error)
	IncrementCancellationTx(ctx context.Context, tx pgx.Tx, userID uuid.UUID) (int, error)
	ApplyPenaltyTx(ctx context.Context, tx pgx.Tx, userID uuid.UUID, status string, until *time.Time) error
}

type Service struct {
	store Store
	cfg   *config.Config
	log   *slog.Logger
	now   func() time.Time
}

func NewService(store Store, cfg *config.Config, log *slog.Logger) *Service {
	if log == nil {
		log = slog.Default()
	}
	return &Service{store: store, cfg: cfg, log: log, now: time.Now}
}

// RecordNoShow increments the hauler's no-show count and applies whatever
// rung of the ladder the new count reaches. Counter bump and penalty commit
// together.
func (s *Service) RecordNoShow(ctx context.Context, haulerID uuid.UUID) error {
	tx, err := s.store.Begin(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx)

	count, err := s.store.IncrementNoShowTx(ctx, tx, haulerID)
	if err != nil {
		return err
	}
	status, until := s.penalty(count)
	if status != "" {
		if err := s.store.ApplyPenaltyTx(ctx, tx, haulerID, status, until); err != nil {
			return err
		}
	}
	if err := tx.Commit(ctx); err != nil {
		return err
	}
	s.log.Warn("no-show strike recorded",
		"hauler_id", haulerID, "no_show_count", count, "penalty", status)
	return nil
}

// RecordCancellation bumps the hauler's cancellation counter. Cancellations
// are tracked for the reliability record but do not feed the penalty ladder;
// only no-shows do.
func (s *Service) RecordCancellation(ctx context.Context, haulerID uuid.UUID) error {
	tx, err := s.store.Begin(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx)

	count, err := s.store.IncrementCancellationTx(ctx, tx, haulerID)
	if err != nil {
		return err
	}
	if err := tx.Commit(ctx); err != nil {
		return err
	}
	s.log.Info("cancellation recorded", "hauler_id", haulerID, "cancellation_count", count)
	return nil
}

// penalty maps a no-show count to the account status it earns, highest rung
// first. Empty status means the count sits between thresholds.
func (s *Service) penalty(count int) (string, *time.Time) {
	m := s.cfg.StrikeThresholdMultiplier
	if m < 1 {
		m = 1
	}
	switch {
	case count >= banAt*m:
		return models.AccountBanned, nil
	case count >= longSuspendAt*m:
		until := s.now().Add(longSuspension)
		return models.AccountSuspended, &until
	case count >= shortSuspendAt*m:
		until := s.now().Add(shortSuspension)
		return models.AccountSuspended, &until
	case count >= warnAt*m:
		return models.AccountWarned, nil
	}
	return "", nil
}
