// Package wallet serves the account-facing money endpoints: balance,
// deposits, withdrawals and the ledger statement. All movement goes through
// the ledger engine; this package never touches balances directly.
package wallet

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/haulhub/backend/internal/config"
	"github.com/haulhub/backend/internal/ledger"
	"github.com/haulhub/backend/internal/middleware"
)

type Handler struct {
	svc  *ledger.Service
	repo *ledger.Repository
	cfg  *config.Config
	log  *slog.Logger
}

func NewHandler(svc *ledger.Service, repo *ledger.Repository, cfg *config.Config, log *slog.Logger) *Handler {
	if log == nil {
		log = slog.Default()
	}
	return &Handler{svc: svc, repo: repo, cfg: cfg, log: log}
}

// GetWallet handles GET /api/v1/wallet.
func (h *Handler) GetWallet(w http.ResponseWriter, r *http.Request) {
	p := middleware.PrincipalFromCtx(r.Context())
	if p == nil {
		http.Error(w, `{"error":"unauthorized"}`, http.StatusUnauthorized)
		return
	}
	wal, err := h.repo.GetWallet(r.Context(), p.ID)
	if err != nil {
		h.log.Error("get wallet", "user_id", p.ID, "error", err)
		http.Error(w, `{"error":"wallet not found"}`, http.StatusNotFound)
		return
	}
	writeJSON(w, http.StatusOK, wal)
}

type depositRequest struct {
	Amount decimal.Decimal `json:"amount"`
	// Reference is the external payment identifier; retries with the same
	// reference are deduplicated.
	Reference string `json:"reference"`
}

// Deposit handles POST /api/v1/wallet/deposit.
func (h *Handler) Deposit(w http.ResponseWriter, r *http.Request) {
	p := middleware.PrincipalFromCtx(r.Context())
	if p == nil {
		http.Error(w, `{"error":"unauthorized"}`, http.StatusUnauthorized)
		return
	}
	var req depositRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, `{"error":"invalid JSON"}`, http.StatusBadRequest)
		return
	}
	if req.Amount.LessThan(h.cfg.MinDeposit) {
		msg := fmt.Sprintf(`{"error":"minimum deposit is $%s"}`, h.cfg.MinDeposit.StringFixed(2))
		http.Error(w, msg, http.StatusBadRequest)
		return
	}
	if req.Reference == "" {
		req.Reference = uuid.New().String()
	}
	if err := h.svc.Deposit(r.Context(), p.ID, req.Amount, req.Reference); err != nil {
		if errors.Is(err, ledger.ErrDepositCapExceeded) {
			writeJSON(w, http.StatusTooManyRequests, map[string]string{"error": err.Error()})
			return
		}
		h.log.Error("deposit", "user_id", p.ID, "error", err)
		http.Error(w, `{"error":"deposit failed"}`, http.StatusInternalServerError)
		return
	}
	h.writeWallet(w, r, p.ID)
}

type withdrawRequest struct {
	Amount decimal.Decimal `json:"amount"`
}

// Withdraw handles POST /api/v1/wallet/withdraw.
func (h *Handler) Withdraw(w http.ResponseWriter, r *http.Request) {
	p := middleware.PrincipalFromCtx(r.Context())
	if p == nil {
		http.Error(w, `{"error":"unauthorized"}`, http.StatusUnauthorized)
		return
	}
	var req withdrawRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, `{"error":"invalid JSON"}`, http.StatusBadRequest)
		return
	}
	if req.Amount.LessThan(h.cfg.MinWithdrawal) {
		msg := fmt.Sprintf(`{"error":"minimum withdrawal is $%s"}`, h.cfg.MinWithdrawal.StringFixed(2))
		http.Error(w, msg, http.StatusBadRequest)
		return
	}
	if err := h.svc.Withdraw(r.Context(), p.ID, req.Amount); err != nil {
		if errors.Is(err, ledger.ErrInsufficientFunds) {
			writeJSON(w, http.StatusPaymentRequired, map[string]string{"error": "insufficient funds"})
			return
		}
		h.log.Error("withdraw", "user_id", p.ID, "error", err)
		http.Error(w, `{"error":"withdrawal failed"}`, http.StatusInternalServerError)
		return
	}
	h.writeWallet(w, r, p.ID)
}

// ListLedger handles GET /api/v1/wallet/ledger, newest entries first.
func (h *Handler) ListLedger(w http.ResponseWriter, r *http.Request) {
	p := middleware.PrincipalFromCtx(r.Context())
	if p == nil {
		http.Error(w, `{"error":"unauthorized"}`, http.StatusUnauthorized)
		return
	}
	limit := 100
	if v := r.URL.Query().Get("limit"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 && n <= 500 {
			limit = n
		}
	}
	entries, err := h.repo.ListEntries(r.Context(), p.ID, limit)
	if err != nil {
		h.log.Error("list ledger", "user_id", p.ID, "error", err)
		http.Error(w, `{"error":"internal error"}`, http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, entries)
}

func (h *Handler) writeWallet(w http.ResponseWriter, r *http.Request, userID uuid.UUID) {
	wal, err := h.repo.GetWallet(r.Context(), userID)
	if err != nil {
		h.log.Error("reload wallet", "user_id", userID, "error", err)
		http.Error(w, `{"error":"internal error"}`, http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, wal)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
