package models

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// Ledger entry kinds. Entries are append-only; the per-wallet sum must
// reconcile to current balances at all times.
const (
	EntryDeposit       = "deposit"
	EntryEscrowLock    = "escrow_lock"
	EntryEscrowRelease = "escrow_release"
	EntryEscrowRefund  = "escrow_refund"
	EntryWithdrawal    = "withdrawal"
)

// Wallet balances are NUMERIC(10,2) in Postgres and must never go negative.
// Mutated only by the ledger engine inside a locked transaction.
type Wallet struct {
	UserID           uuid.UUID       `json:"user_id"`
	AvailableBalance decimal.Decimal `json:"available_balance"`
	EscrowBalance    decimal.Decimal `json:"escrow_balance"`
	UpdatedAt        time.Time       `json:"updated_at"`
}

type LedgerEntry struct {
	ID          uuid.UUID       `json:"id"`
	WalletID    uuid.UUID       `json:"wallet_id"`
	Kind        string          `json:"kind"`
	Amount      decimal.Decimal `json:"amount"`
	ReferenceID string          `json:"reference_id,omitempty"`
	Description string          `json:"description,omitempty"`
	CreatedAt   time.Time       `json:"created_at"`
}
