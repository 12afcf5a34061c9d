package ledger

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/shopspring/decimal"

	"github.com/haulhub/backend/internal/config"
	"github.com/haulhub/backend/internal/models"
)

// ErrInsufficientFunds is returned when a lock, amendment or withdrawal
// would overdraw available_balance.
var ErrInsufficientFunds = errors.New("insufficient funds")

// ErrEscrowShortfall means the booking's escrow was already drained; the
// caller lost a race with another release/refund.
var ErrEscrowShortfall = errors.New("escrow balance below required amount")

// ErrDepositCapExceeded is returned when the daily deposit velocity cap
// would be exceeded.
var ErrDepositCapExceeded = errors.New("daily deposit limit reached")

// WalletRepo is the minimal wallet interface for the ledger engine. All
// mutation goes through these five primitives; nothing else touches balances.
type WalletRepo interface {
	GetWalletForUpdate(ctx context.Context, tx pgx.Tx, userID uuid.UUID) (*models.Wallet, error)
	DeductAvailable(ctx context.Context, tx pgx.Tx, userID uuid.UUID, amount decimal.Decimal) error
	AddAvailable(ctx context.Context, tx pgx.Tx, userID uuid.UUID, amount decimal.Decimal) error
	DeductEscrow(ctx context.Context, tx pgx.Tx, userID uuid.UUID, amount decimal.Decimal) error
	AddEscrow(ctx context.Context, tx pgx.Tx, userID uuid.UUID, amount decimal.Decimal) error
}

// EntryRepo is the minimal ledger-entry interface for the engine.
type EntryRepo interface {
	CreateEntryTx(ctx context.Context, tx pgx.Tx, e *models.LedgerEntry) error
	EntryExists(ctx context.Context, tx pgx.Tx, kind, referenceID string) (bool, error)
	DepositTotalSince(ctx context.Context, tx pgx.Tx, userID uuid.UUID, since time.Time) (decimal.Decimal, error)
}

// TxBeginner abstracts transaction creation so tests don't need a pgxpool.Pool.
type TxBeginner interface {
	Begin(ctx context.Context) (pgx.Tx, error)
}

// Service is the ledger engine. Two-wallet operations lock both wallet rows
// in ascending user-UUID order, and every operation is idempotent per
// (reference, kind): re-running one that already produced its entries is a
// no-op.
type Service struct {
	Wallets WalletRepo
	Entries EntryRepo
	Pool    TxBeginner
	Cfg     *config.Config
}

func NewService(wallets WalletRepo, entries EntryRepo, pool TxBeginner, cfg *config.Config) *Service {
	return &Service{Wallets: wallets, Entries: entries, Pool: pool, Cfg: cfg}
}

// Lock moves amount from the payer's available balance into escrow. Runs
// inside the caller's transaction; booking creation and escrow lock commit
// or roll back together.
func (s *Service) Lock(ctx context.Context, tx pgx.Tx, userID, bookingID uuid.UUID, amount decimal.Decimal, description string) error {
	done, err := s.Entries.EntryExists(ctx, tx, models.EntryEscrowLock, bookingID.String())
	if err != nil {
		return err
	}
	if done {
		return nil
	}
	if _, err := s.Wallets.GetWalletForUpdate(ctx, tx, userID); err != nil {
		return err
	}
	if err := s.Wallets.DeductAvailable(ctx, tx, userID, amount); err != nil {
		return err
	}
	if err := s.Wallets.AddEscrow(ctx, tx, userID, amount); err != nil {
		return err
	}
	return s.Entries.CreateEntryTx(ctx, tx, &models.LedgerEntry{
		ID:          uuid.New(),
		WalletID:    userID,
		Kind:        models.EntryEscrowLock,
		Amount:      amount,
		ReferenceID: bookingID.String(),
		Description: description,
	})
}

// Release moves the booking amount from the client's escrow to the hauler's
// available balance, writing one escrow_release entry per wallet.
func (s *Service) Release(ctx context.Context, tx pgx.Tx, b *models.Booking, description string) error {
	done, err := s.Entries.EntryExists(ctx, tx, models.EntryEscrowRelease, b.ID.String())
	if err != nil {
		return err
	}
	if done {
		return nil
	}
	if err := s.lockWallets(ctx, tx, b.ClientID, b.HaulerID); err != nil {
		return err
	}
	if err := s.Wallets.DeductEscrow(ctx, tx, b.ClientID, b.Amount); err != nil {
		return err
	}
	if err := s.Wallets.AddAvailable(ctx, tx, b.HaulerID, b.Amount); err != nil {
		return err
	}
	if err := s.Entries.CreateEntryTx(ctx, tx, &models.LedgerEntry{
		ID:          uuid.New(),
		WalletID:    b.ClientID,
		Kind:        models.EntryEscrowRelease,
		Amount:      b.Amount,
		ReferenceID: b.ID.String(),
		Description: "Payment released: " + description,
	}); err != nil {
		return err
	}
	return s.Entries.CreateEntryTx(ctx, tx, &models.LedgerEntry{
		ID:          uuid.New(),
		WalletID:    b.HaulerID,
		Kind:        models.EntryEscrowRelease,
		Amount:      b.Amount,
		ReferenceID: b.ID.String(),
		Description: "Payment received: " + description,
	})
}

// Refund returns the booking amount from the client's escrow to the client's
// available balance (same wallet, two fields).
func (s *Service) Refund(ctx context.Context, tx pgx.Tx, b *models.Booking, description string) error {
	done, err := s.Entries.EntryExists(ctx, tx, models.EntryEscrowRefund, b.ID.String())
	if err != nil {
		return err
	}
	if done {
		return nil
	}
	if _, err := s.Wallets.GetWalletForUpdate(ctx, tx, b.ClientID); err != nil {
		return err
	}
	if err := s.Wallets.DeductEscrow(ctx, tx, b.ClientID, b.Amount); err != nil {
		return err
	}
	if err := s.Wallets.AddAvailable(ctx, tx, b.ClientID, b.Amount); err != nil {
		return err
	}
	return s.Entries.CreateEntryTx(ctx, tx, &models.LedgerEntry{
		ID:          uuid.New(),
		WalletID:    b.ClientID,
		Kind:        models.EntryEscrowRefund,
		Amount:      b.Amount,
		ReferenceID: b.ID.String(),
		Description: description,
	})
}

// AdjustEscrow applies an accepted amendment delta to the client's wallet.
// A positive delta moves available -> escrow, a negative delta the reverse.
// Exactly one entry is written, referencing the amendment id so it never
// collides with the booking's own lock/refund entries.
func (s *Service) AdjustEscrow(ctx context.Context, tx pgx.Tx, userID, amendmentID uuid.UUID, delta decimal.Decimal, description string) error {
	if delta.IsZero() {
		return nil
	}
	kind := models.EntryEscrowLock
	if delta.IsNegative() {
		kind = models.EntryEscrowRefund
	}
	done, err := s.Entries.EntryExists(ctx, tx, kind, amendmentID.String())
	if err != nil {
		return err
	}
	if done {
		return nil
	}
	if _, err := s.Wallets.GetWalletForUpdate(ctx, tx, userID); err != nil {
		return err
	}
	if delta.IsPositive() {
		if err := s.Wallets.DeductAvailable(ctx, tx, userID, delta); err != nil {
			return err
		}
		if err := s.Wallets.AddEscrow(ctx, tx, userID, delta); err != nil {
			return err
		}
	} else {
		abs := delta.Neg()
		if err := s.Wallets.DeductEscrow(ctx, tx, userID, abs); err != nil {
			return err
		}
		if err := s.Wallets.AddAvailable(ctx, tx, userID, abs); err != nil {
			return err
		}
	}
	return s.Entries.CreateEntryTx(ctx, tx, &models.LedgerEntry{
		ID:          uuid.New(),
		WalletID:    userID,
		Kind:        kind,
		Amount:      delta.Abs(),
		ReferenceID: amendmentID.String(),
		Description: description,
	})
}

// RecordDisputeOpened writes a zero-amount escrow_lock audit entry carrying
// the dispute reason. No balances move; the escrow stays locked.
func (s *Service) RecordDisputeOpened(ctx context.Context, tx pgx.Tx, userID, bookingID uuid.UUID, reason string) error {
	return s.Entries.CreateEntryTx(ctx, tx, &models.LedgerEntry{
		ID:          uuid.New(),
		WalletID:    userID,
		Kind:        models.EntryEscrowLock,
		Amount:      decimal.Zero,
		ReferenceID: bookingID.String(),
		Description: "Dispute opened: " + reason,
	})
}

// Deposit credits the wallet in its own transaction, enforcing the optional
// per-day velocity cap.
func (s *Service) Deposit(ctx context.Context, userID uuid.UUID, amount decimal.Decimal, reference string) error {
	tx, err := s.Pool.Begin(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx)

	if _, err := s.Wallets.GetWalletForUpdate(ctx, tx, userID); err != nil {
		return err
	}
	if s.Cfg.DepositVelocityEnabled {
		startOfDay := time.Now().UTC().Truncate(24 * time.Hour)
		today, err := s.Entries.DepositTotalSince(ctx, tx, userID, startOfDay)
		if err != nil {
			return err
		}
		if today.Add(amount).GreaterThan(s.Cfg.DailyDepositCap) {
			return fmt.Errorf("%w: $%s per day", ErrDepositCapExceeded, s.Cfg.DailyDepositCap.StringFixed(2))
		}
	}
	if err := s.Wallets.AddAvailable(ctx, tx, userID, amount); err != nil {
		return err
	}
	if err := s.Entries.CreateEntryTx(ctx, tx, &models.LedgerEntry{
		ID:          uuid.New(),
		WalletID:    userID,
		Kind:        models.EntryDeposit,
		Amount:      amount,
		ReferenceID: reference,
		Description: "Wallet deposit",
	}); err != nil {
		return err
	}
	return tx.Commit(ctx)
}

// Withdraw debits available balance in its own transaction.
func (s *Service) Withdraw(ctx context.Context, userID uuid.UUID, amount decimal.Decimal) error {
	tx, err := s.Pool.Begin(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx)

	if _, err := s.Wallets.GetWalletForUpdate(ctx, tx, userID); err != nil {
		return err
	}
	if err := s.Wallets.DeductAvailable(ctx, tx, userID, amount); err != nil {
		return err
	}
	if err := s.Entries.CreateEntryTx(ctx, tx, &models.LedgerEntry{
		ID:          uuid.New(),
		WalletID:    userID,
		Kind:        models.EntryWithdrawal,
		Amount:      amount,
		Description: "Withdrawal requested",
	}); err != nil {
		return err
	}
	return tx.Commit(ctx)
}

// lockWallets acquires both wallet rows in ascending UUID order so that
// concurrent operations touching the same pair in opposite roles cannot
// deadlock.
func (s *Service) lockWallets(ctx context.Context, tx pgx.Tx, a, b uuid.UUID) error {
	ids := []uuid.UUID{a, b}
	sort.Slice(ids, func(i, j int) bool { return ids[i].String() < ids[j].String() })
	for _, id := range ids {
		if _, err := s.Wallets.GetWalletForUpdate(ctx, tx, id); err != nil {
			return err
		}
	}
	return nil
}
