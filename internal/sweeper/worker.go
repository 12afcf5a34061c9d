// Package sweeper runs the periodic deadline scans as River jobs: releasing
// escrow for bookings the client never confirmed, and cancelling bookings
// the hauler never started.
package sweeper

import (
	"context"
	"errors"
	"log/slog"

	"github.com/google/uuid"
	"github.com/riverqueue/river"

	"github.com/haulhub/backend/internal/booking"
)

// BookingService is the slice of the booking service the sweepers drive.
type BookingService interface {
	DueAutoRelease(ctx context.Context) ([]uuid.UUID, error)
	AutoRelease(ctx context.Context, id uuid.UUID) error
	DueNoShow(ctx context.Context) ([]uuid.UUID, error)
	AutoCancelNoShow(ctx context.Context, id uuid.UUID) error
}

type AutoReleaseSweepArgs struct{}

func (AutoReleaseSweepArgs) Kind() string { return "auto_release_sweep" }

type AutoReleaseSweeper struct {
	river.WorkerDefaults[AutoReleaseSweepArgs]
	bookings BookingService
	log      *slog.Logger
}

func NewAutoReleaseSweeper(bookings BookingService, log *slog.Logger) *AutoReleaseSweeper {
	if log == nil {
		log = slog.Default()
	}
	return &AutoReleaseSweeper{bookings: bookings, log: log}
}

// Work releases one batch of overdue bookings. Each booking is its own
// transaction, so one failure never blocks the rest; a booking that moved
// since the scan returns ErrInvalidState, which just means someone beat us.
func (w *AutoReleaseSweeper) Work(ctx context.Context, _ *river.Job[AutoReleaseSweepArgs]) error {
	ids, err := w.bookings.DueAutoRelease(ctx)
	if err != nil {
		return err
	}
	released := 0
	for _, id := range ids {
		if err := w.bookings.AutoRelease(ctx, id); err != nil {
			if errors.Is(err, booking.ErrInvalidState) {
				continue
			}
			w.log.Error("auto-release failed", "booking_id", id, "error", err)
			continue
		}
		released++
	}
	if len(ids) > 0 {
		w.log.Info("auto-release sweep done", "due", len(ids), "released", released)
	}
	return nil
}

type NoShowSweepArgs struct{}

func (NoShowSweepArgs) Kind() string { return "no_show_sweep" }

type NoShowSweeper struct {
	river.WorkerDefaults[NoShowSweepArgs]
	bookings BookingService
	log      *slog.Logger
}

func NewNoShowSweeper(bookings BookingService, log *slog.Logger) *NoShowSweeper {
	if log == nil {
		log = slog.Default()
	}
	return &NoShowSweeper{bookings: bookings, log: log}
}

func (w *NoShowSweeper) Work(ctx context.Context, _ *river.Job[NoShowSweepArgs]) error {
	ids, err := w.bookings.DueNoShow(ctx)
	if err != nil {
		return err
	}
	cancelled := 0
	for _, id := range ids {
		if err := w.bookings.AutoCancelNoShow(ctx, id); err != nil {
			if errors.Is(err, booking.ErrInvalidState) {
				continue
			}
			w.log.Error("no-show cancel failed", "booking_id", id, "error", err)
			continue
		}
		cancelled++
	}
	if len(ids) > 0 {
		w.log.Info("no-show sweep done", "due", len(ids), "cancelled", cancelled)
	}
	return nil
}
