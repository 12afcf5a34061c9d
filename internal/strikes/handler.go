package strikes

import (
	"encoding/json"
	"log/slog"
	"net/http"

	"github.com/haulhub/backend/internal/middleware"
	"github.com/haulhub/backend/internal/models"
)

// Handler exposes the hauler's own reliability record.
type Handler struct {
	repo *Repository
	log  *slog.Logger
}

func NewHandler(repo *Repository, log *slog.Logger) *Handler {
	if log == nil {
		log = slog.Default()
	}
	return &Handler{repo: repo, log: log}
}

// GetProfile handles GET /api/v1/profile (haulers only).
func (h *Handler) GetProfile(w http.ResponseWriter, r *http.Request) {
	p := middleware.PrincipalFromCtx(r.Context())
	if p == nil {
		http.Error(w, `{"error":"unauthorized"}`, http.StatusUnauthorized)
		return
	}
	if p.Role != models.RoleHauler {
		http.Error(w, `{"error":"no hauler profile for this account"}`, http.StatusNotFound)
		return
	}
	profile, err := h.repo.GetProfile(r.Context(), p.ID)
	if err != nil {
		h.log.Error("get hauler profile", "user_id", p.ID, "error", err)
		http.Error(w, `{"error":"profile not found"}`, http.StatusNotFound)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_ = json.NewEncoder(w).Encode(profile)
}
