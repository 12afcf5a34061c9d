package jobs

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/haulhub/backend/internal/ledger"
	"github.com/haulhub/backend/internal/middleware"
	"github.com/haulhub/backend/internal/models"
)

// Request/response structs use snake_case JSON.

type CreateJobRequest struct {
	Title           string          `json:"title"`
	Description     string          `json:"description"`
	Category        string          `json:"category"`
	Budget          decimal.Decimal `json:"budget"`
	LocationAddress string          `json:"location_address"`
	Lat             *float64        `json:"lat,omitempty"`
	Lng             *float64        `json:"lng,omitempty"`
	ScheduledDate   time.Time       `json:"scheduled_date"`
}

type ApplyRequest struct {
	ProposalMessage string `json:"proposal_message"`
}

type Handler struct {
	svc *Service
	log *slog.Logger
}

func NewHandler(svc *Service, log *slog.Logger) *Handler {
	if log == nil {
		log = slog.Default()
	}
	return &Handler{svc: svc, log: log}
}

// CreateJob handles POST /api/v1/jobs (clients only).
func (h *Handler) CreateJob(w http.ResponseWriter, r *http.Request) {
	p := middleware.PrincipalFromCtx(r.Context())
	if p == nil {
		http.Error(w, `{"error":"unauthorized"}`, http.StatusUnauthorized)
		return
	}
	if p.Role != models.RoleClient {
		http.Error(w, `{"error":"only clients post jobs"}`, http.StatusForbidden)
		return
	}
	var req CreateJobRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, `{"error":"invalid JSON"}`, http.StatusBadRequest)
		return
	}
	j, err := h.svc.Create(r.Context(), p.ID, &models.Job{
		Title:           req.Title,
		Description:     req.Description,
		Category:        req.Category,
		Budget:          req.Budget,
		LocationAddress: req.LocationAddress,
		Lat:             req.Lat,
		Lng:             req.Lng,
		ScheduledDate:   req.ScheduledDate,
	})
	if err != nil {
		h.writeError(w, err, "create job")
		return
	}
	writeJSON(w, http.StatusCreated, j)
}

// ListJobs handles GET /api/v1/jobs. Defaults to the open-job board;
// ?mine=true returns the caller's own postings.
func (h *Handler) ListJobs(w http.ResponseWriter, r *http.Request) {
	p := middleware.PrincipalFromCtx(r.Context())
	if p == nil {
		http.Error(w, `{"error":"unauthorized"}`, http.StatusUnauthorized)
		return
	}
	var (
		list []*models.Job
		err  error
	)
	if r.URL.Query().Get("mine") == "true" {
		list, err = h.svc.ListByClient(r.Context(), p.ID)
	} else {
		list, err = h.svc.ListOpen(r.Context(), r.URL.Query().Get("category"))
	}
	if err != nil {
		h.log.Error("list jobs", "error", err)
		http.Error(w, `{"error":"internal error"}`, http.StatusInternalServerError)
		return
	}
	if list == nil {
		list = []*models.Job{}
	}
	writeJSON(w, http.StatusOK, list)
}

// GetJob handles GET /api/v1/jobs/{id}.
func (h *Handler) GetJob(w http.ResponseWriter, r *http.Request) {
	id, ok := extractJobID(r)
	if !ok {
		http.Error(w, `{"error":"invalid job id"}`, http.StatusBadRequest)
		return
	}
	j, err := h.svc.Get(r.Context(), id)
	if err != nil {
		h.writeError(w, err, "get job")
		return
	}
	writeJSON(w, http.StatusOK, j)
}

// CancelJob handles POST /api/v1/jobs/{id}/cancel (owner, open jobs only).
func (h *Handler) CancelJob(w http.ResponseWriter, r *http.Request) {
	p := middleware.PrincipalFromCtx(r.Context())
	if p == nil {
		http.Error(w, `{"error":"unauthorized"}`, http.StatusUnauthorized)
		return
	}
	id, ok := extractJobID(r)
	if !ok {
		http.Error(w, `{"error":"invalid job id"}`, http.StatusBadRequest)
		return
	}
	if err := h.svc.Cancel(r.Context(), p.ID, id); err != nil {
		h.writeError(w, err, "cancel job")
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": models.JobCancelled})
}

// Apply handles POST /api/v1/jobs/{id}/apply (haulers only).
func (h *Handler) Apply(w http.ResponseWriter, r *http.Request) {
	p := middleware.PrincipalFromCtx(r.Context())
	if p == nil {
		http.Error(w, `{"error":"unauthorized"}`, http.StatusUnauthorized)
		return
	}
	if p.Role != models.RoleHauler {
		http.Error(w, `{"error":"only haulers apply to jobs"}`, http.StatusForbidden)
		return
	}
	id, ok := extractJobID(r)
	if !ok {
		http.Error(w, `{"error":"invalid job id"}`, http.StatusBadRequest)
		return
	}
	var req ApplyRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, `{"error":"invalid JSON"}`, http.StatusBadRequest)
		return
	}
	a, err := h.svc.Apply(r.Context(), p.ID, id, req.ProposalMessage)
	if err != nil {
		h.writeError(w, err, "apply to job")
		return
	}
	writeJSON(w, http.StatusCreated, a)
}

// ListApplications handles GET /api/v1/jobs/{id}/applications (owner only).
func (h *Handler) ListApplications(w http.ResponseWriter, r *http.Request) {
	p := middleware.PrincipalFromCtx(r.Context())
	if p == nil {
		http.Error(w, `{"error":"unauthorized"}`, http.StatusUnauthorized)
		return
	}
	id, ok := extractJobID(r)
	if !ok {
		http.Error(w, `{"error":"invalid job id"}`, http.StatusBadRequest)
		return
	}
	list, err := h.svc.ListApplications(r.Context(), p.ID, id)
	if err != nil {
		h.writeError(w, err, "list applications")
		return
	}
	if list == nil {
		list = []*models.JobApplication{}
	}
	writeJSON(w, http.StatusOK, list)
}

// Accept handles POST /api/v1/applications/{id}/accept. On success the
// response is the new booking; its pickup code is never included here, the
// hauler reads it from their own booking view.
func (h *Handler) Accept(w http.ResponseWriter, r *http.Request) {
	p := middleware.PrincipalFromCtx(r.Context())
	if p == nil {
		http.Error(w, `{"error":"unauthorized"}`, http.StatusUnauthorized)
		return
	}
	id, ok := extractPathID(r, "/api/v1/applications/")
	if !ok {
		http.Error(w, `{"error":"invalid application id"}`, http.StatusBadRequest)
		return
	}
	b, err := h.svc.Accept(r.Context(), p.ID, id)
	if err != nil {
		if errors.Is(err, ledger.ErrInsufficientFunds) {
			writeJSON(w, http.StatusPaymentRequired, map[string]string{"error": "insufficient funds to escrow this job"})
			return
		}
		h.writeError(w, err, "accept application")
		return
	}
	writeJSON(w, http.StatusCreated, b)
}

// Reject handles POST /api/v1/applications/{id}/reject.
func (h *Handler) Reject(w http.ResponseWriter, r *http.Request) {
	p := middleware.PrincipalFromCtx(r.Context())
	if p == nil {
		http.Error(w, `{"error":"unauthorized"}`, http.StatusUnauthorized)
		return
	}
	id, ok := extractPathID(r, "/api/v1/applications/")
	if !ok {
		http.Error(w, `{"error":"invalid application id"}`, http.StatusBadRequest)
		return
	}
	a, err := h.svc.Reject(r.Context(), p.ID, id)
	if err != nil {
		h.writeError(w, err, "reject application")
		return
	}
	writeJSON(w, http.StatusOK, a)
}

// --- helpers ---

func (h *Handler) writeError(w http.ResponseWriter, err error, op string) {
	switch {
	case errors.Is(err, ErrNotFound):
		writeJSON(w, http.StatusNotFound, map[string]string{"error": "not found"})
	case errors.Is(err, ErrForbidden):
		writeJSON(w, http.StatusForbidden, map[string]string{"error": "forbidden"})
	case errors.Is(err, ErrJobNotOpen):
		writeJSON(w, http.StatusConflict, map[string]string{"error": err.Error()})
	case errors.Is(err, ErrAlreadyApplied):
		writeJSON(w, http.StatusConflict, map[string]string{"error": err.Error()})
	case errors.Is(err, ErrValidation):
		writeJSON(w, http.StatusUnprocessableEntity, map[string]string{"error": err.Error()})
	default:
		h.log.Error(op, "error", err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "internal error"})
	}
}

func extractJobID(r *http.Request) (uuid.UUID, bool) {
	return extractPathID(r, "/api/v1/jobs/")
}

func extractPathID(r *http.Request, prefix string) (uuid.UUID, bool) {
	path := strings.TrimPrefix(r.URL.Path, prefix)
	parts := strings.SplitN(path, "/", 2)
	if len(parts) == 0 {
		return uuid.Nil, false
	}
	id, err := uuid.Parse(parts[0])
	if err != nil {
		return uuid.Nil, false
	}
	return id, true
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
