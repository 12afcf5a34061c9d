package ledger

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

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

// CreateWallet inserts a zero-balance wallet. Called once at onboarding.
func (r *Repository) CreateWallet(ctx context.Context, userID uuid.UUID) error {
	_, err := r.pool.Exec(ctx, `
		INSERT INTO wallets (user_id, available_balance, escrow_balance)
		VALUES ($1, 0, 0)
		ON CONFLICT (user_id) DO NOTHING
	`, userID)
	return err
}

func (r *Repository) GetWallet(ctx context.Context, userID uuid.UUID) (*models.Wallet, error) {
	var w models.Wallet
	err := r.pool.QueryRow(ctx, `
		SELECT user_id, available_balance, escrow_balance, updated_at
		FROM wallets WHERE user_id = $1
	`, userID).Scan(&w.UserID, &w.AvailableBalance, &w.EscrowBalance, &w.UpdatedAt)
	if err != nil {
		return nil, err
	}
	return &w, nil
}

// GetWalletForUpdate locks the wallet row. Call within a transaction.
func (r *Repository) GetWalletForUpdate(ctx context.Context, tx pgx.Tx, userID uuid.UUID) (*models.Wallet, error) {
	var w models.Wallet
	err := tx.QueryRow(ctx, `
		SELECT user_id, available_balance, escrow_balance, updated_at
		FROM wallets WHERE user_id = $1 FOR UPDATE
	`, userID).Scan(&w.UserID, &w.AvailableBalance, &w.EscrowBalance, &w.UpdatedAt)
	if err != nil {
		return nil, err
	}
	return &w, nil
}

// DeductAvailable atomically deducts amount if available_balance covers it.
func (r *Repository) DeductAvailable(ctx context.Context, tx pgx.Tx, userID uuid.UUID, amount decimal.Decimal) error {
	ct, err := tx.Exec(ctx, `
		UPDATE wallets SET available_balance = available_balance - $1, updated_at = now()
		WHERE user_id = $2 AND available_balance >= $1
	`, amount, userID)
	if err != nil {
		return err
	}
	if ct.RowsAffected() == 0 {
		return ErrInsufficientFunds
	}
	return nil
}

func (r *Repository) AddAvailable(ctx context.Context, tx pgx.Tx, userID uuid.UUID, amount decimal.Decimal) error {
	_, err := tx.Exec(ctx, `
		UPDATE wallets SET available_balance = available_balance + $1, updated_at = now()
		WHERE user_id = $2
	`, amount, userID)
	return err
}

// DeductEscrow atomically deducts amount if escrow_balance covers it.
// A miss here means the escrow was already drained for this booking.
func (r *Repository) DeductEscrow(ctx context.Context, tx pgx.Tx, userID uuid.UUID, amount decimal.Decimal) error {
	ct, err := tx.Exec(ctx, `
		UPDATE wallets SET escrow_balance = escrow_balance - $1, updated_at = now()
		WHERE user_id = $2 AND escrow_balance >= $1
	`, amount, userID)
	if err != nil {
		return err
	}
	if ct.RowsAffected() == 0 {
		return ErrEscrowShortfall
	}
	return nil
}

func (r *Repository) AddEscrow(ctx context.Context, tx pgx.Tx, userID uuid.UUID, amount decimal.Decimal) error {
	_, err := tx.Exec(ctx, `
		UPDATE wallets SET escrow_balance = escrow_balance + $1, updated_at = now()
		WHERE user_id = $2
	`, amount, userID)
	return err
}

// CreateEntryTx appends a ledger entry inside the given transaction.
func (r *Repository) CreateEntryTx(ctx context.Context, tx pgx.Tx, e *models.LedgerEntry) error {
	return tx.QueryRow(ctx, `
		INSERT INTO ledger_entries (id, wallet_id, kind, amount, reference_id, description)
		VALUES ($1, $2, $3, $4, $5, $6)
		RETURNING created_at
	`, e.ID, e.WalletID, e.Kind, e.Amount, e.ReferenceID, e.Description).Scan(&e.CreatedAt)
}

// EntryExists reports whether any entry of the given kind references the id.
// This is the idempotency guard for release/refund re-attempts.
func (r *Repository) EntryExists(ctx context.Context, tx pgx.Tx, kind, referenceID string) (bool, error) {
	var exists bool
	err := tx.QueryRow(ctx, `
		SELECT EXISTS (SELECT 1 FROM ledger_entries WHERE kind = $1 AND reference_id = $2)
	`, kind, referenceID).Scan(&exists)
	return exists, err
}

// DepositTotalSince sums deposit entries for a wallet from the given instant,
// for the deposit velocity cap.
func (r *Repository) DepositTotalSince(ctx context.Context, tx pgx.Tx, userID uuid.UUID, since time.Time) (decimal.Decimal, error) {
	var total decimal.Decimal
	err := tx.QueryRow(ctx, `
		SELECT COALESCE(SUM(amount), 0) FROM ledger_entries
		WHERE wallet_id = $1 AND kind = 'deposit' AND created_at >= $2
	`, userID, since).Scan(&total)
	return total, err
}

func (r *Repository) ListEntries(ctx context.Context, userID uuid.UUID, limit int) ([]*models.LedgerEntry, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT id, wallet_id, kind, amount, reference_id, description, created_at
		FROM ledger_entries WHERE wallet_id = $1 ORDER BY created_at DESC LIMIT $2
	`, userID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var list []*models.LedgerEntry
	for rows.Next() {
		var e models.LedgerEntry
		if err := rows.Scan(&e.ID, &e.WalletID, &e.Kind, &e.Amount, &e.ReferenceID, &e.Description, &e.CreatedAt); err != nil {
			return nil, err
		}
		list = append(list, &e)
	}
	return list, rows.Err()
}

// ListEntriesByReference returns the audit trail for one booking or amendment.
func (r *Repository) ListEntriesByReference(ctx context.Context, referenceID string) ([]*models.LedgerEntry, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT id, wallet_id, kind, amount, reference_id, description, created_at
		FROM ledger_entries WHERE reference_id = $1 ORDER BY created_at
	`, referenceID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var list []*models.LedgerEntry
	for rows.Next() {
		var e models.LedgerEntry
		if err := rows.Scan(&e.ID, &e.WalletID, &e.Kind, &e.Amount, &e.ReferenceID, &e.Description, &e.CreatedAt); err != nil {
			return nil, err
		}
		list = append(list, &e)
	}
	return list, rows.Err()
}
