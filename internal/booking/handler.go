package booking

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"mime"
	"net/http"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/haulhub/backend/internal/media"
	"github.com/haulhub/backend/internal/middleware"
	"github.com/haulhub/backend/internal/models"
)

const maxPhotoBytes = 10 << 20

// Handler serves /api/v1/bookings endpoints.
type Handler struct {
	Svc   *Service
	Media media.Store
	Log   *slog.Logger
}

func NewHandler(svc *Service, mediaStore media.Store, log *slog.Logger) *Handler {
	if log == nil {
		log = slog.Default()
	}
	return &Handler{Svc: svc, Media: mediaStore, Log: log}
}

// bookingResponse decorates the model with fields derived for the caller.
// The pickup code is disclosed to the hauler only; the client learns it
// out of band.
type bookingResponse struct {
	*models.Booking
	PickupPIN             string  `json:"pickup_pin,omitempty"`
	HoursUntilAutoRelease float64 `json:"hours_until_auto_release,omitempty"`
	ReviewEligible        bool    `json:"review_eligible"`
}

func (h *Handler) toResponse(ctx context.Context, actor Actor, b *models.Booking) bookingResponse {
	resp := bookingResponse{
		Booking:               b,
		HoursUntilAutoRelease: h.Svc.HoursUntilAutoRelease(b),
		ReviewEligible:        h.Svc.ReviewEligible(ctx, b),
	}
	if actor.ID == b.HaulerID && !b.Terminal() {
		resp.PickupPIN = b.PickupPIN
	}
	return resp
}

// List handles GET /api/v1/bookings.
func (h *Handler) List(w http.ResponseWriter, r *http.Request) {
	actor, ok := actorFrom(r)
	if !ok {
		http.Error(w, `{"error":"unauthorized"}`, http.StatusUnauthorized)
		return
	}
	list, err := h.Svc.ListMine(r.Context(), actor)
	if err != nil {
		h.Log.Error("list bookings", "error", err)
		http.Error(w, `{"error":"internal error"}`, http.StatusInternalServerError)
		return
	}
	out := make([]bookingResponse, 0, len(list))
	for _, b := range list {
		out = append(out, h.toResponse(r.Context(), actor, b))
	}
	writeJSON(w, http.StatusOK, out)
}

// Get handles GET /api/v1/bookings/{id}.
func (h *Handler) Get(w http.ResponseWriter, r *http.Request) {
	actor, ok := actorFrom(r)
	if !ok {
		http.Error(w, `{"error":"unauthorized"}`, http.StatusUnauthorized)
		return
	}
	id, ok := extractBookingID(r)
	if !ok {
		http.Error(w, `{"error":"invalid booking id"}`, http.StatusBadRequest)
		return
	}
	b, err := h.Svc.Get(r.Context(), actor, id)
	if err != nil {
		h.writeError(w, err, "get booking")
		return
	}
	writeJSON(w, http.StatusOK, h.toResponse(r.Context(), actor, b))
}

// ConfirmPickup handles POST /api/v1/bookings/{id}/confirm-pickup.
func (h *Handler) ConfirmPickup(w http.ResponseWriter, r *http.Request) {
	actor, id, ok := h.actorAndID(w, r)
	if !ok {
		return
	}
	var req struct {
		PIN string `json:"pin"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, `{"error":"invalid JSON"}`, http.StatusBadRequest)
		return
	}
	b, err := h.Svc.ConfirmPickup(r.Context(), actor, id, req.PIN)
	if err != nil {
		h.writeError(w, err, "confirm pickup")
		return
	}
	writeJSON(w, http.StatusOK, h.toResponse(r.Context(), actor, b))
}

// UploadEvidence handles POST /api/v1/bookings/{id}/evidence. Multipart
// form: photo file plus kind and optional lat/lng fields.
func (h *Handler) UploadEvidence(w http.ResponseWriter, r *http.Request) {
	actor, id, ok := h.actorAndID(w, r)
	if !ok {
		return
	}
	if err := r.ParseMultipartForm(maxPhotoBytes); err != nil {
		http.Error(w, `{"error":"invalid multipart form"}`, http.StatusBadRequest)
		return
	}
	file, header, err := r.FormFile("photo")
	if err != nil {
		http.Error(w, `{"error":"photo file is required"}`, http.StatusBadRequest)
		return
	}
	defer file.Close()

	lat, err := parseCoord(r.FormValue("lat"))
	if err != nil {
		http.Error(w, `{"error":"invalid lat"}`, http.StatusBadRequest)
		return
	}
	lng, err := parseCoord(r.FormValue("lng"))
	if err != nil {
		http.Error(w, `{"error":"invalid lng"}`, http.StatusBadRequest)
		return
	}

	ref, err := h.Media.Save(id, header.Filename, file)
	if err != nil {
		h.Log.Error("save evidence photo", "booking_id", id, "error", err)
		http.Error(w, `{"error":"failed to store photo"}`, http.StatusBadRequest)
		return
	}
	e, err := h.Svc.UploadEvidence(r.Context(), actor, id, r.FormValue("kind"), ref, lat, lng)
	if err != nil {
		// The photo landed on disk before validation; don't leave it behind.
		if rmErr := h.Media.Remove(ref); rmErr != nil {
			h.Log.Error("remove rejected evidence photo", "booking_id", id, "ref", ref, "error", rmErr)
		}
		h.writeError(w, err, "upload evidence")
		return
	}
	writeJSON(w, http.StatusCreated, e)
}

// ListEvidence handles GET /api/v1/bookings/{id}/evidence.
func (h *Handler) ListEvidence(w http.ResponseWriter, r *http.Request) {
	actor, id, ok := h.actorAndID(w, r)
	if !ok {
		return
	}
	list, err := h.Svc.ListEvidence(r.Context(), actor, id)
	if err != nil {
		h.writeError(w, err, "list evidence")
		return
	}
	if list == nil {
		list = []*models.Evidence{}
	}
	writeJSON(w, http.StatusOK, list)
}

// MarkDone handles POST /api/v1/bookings/{id}/mark-done.
func (h *Handler) MarkDone(w http.ResponseWriter, r *http.Request) {
	actor, id, ok := h.actorAndID(w, r)
	if !ok {
		return
	}
	b, err := h.Svc.MarkDone(r.Context(), actor, id)
	if err != nil {
		h.writeError(w, err, "mark done")
		return
	}
	writeJSON(w, http.StatusOK, h.toResponse(r.Context(), actor, b))
}

// ConfirmComplete handles POST /api/v1/bookings/{id}/confirm-complete.
func (h *Handler) ConfirmComplete(w http.ResponseWriter, r *http.Request) {
	actor, id, ok := h.actorAndID(w, r)
	if !ok {
		return
	}
	b, err := h.Svc.ConfirmComplete(r.Context(), actor, id)
	if err != nil {
		h.writeError(w, err, "confirm complete")
		return
	}
	writeJSON(w, http.StatusOK, h.toResponse(r.Context(), actor, b))
}

// OpenDispute handles POST /api/v1/bookings/{id}/dispute.
func (h *Handler) OpenDispute(w http.ResponseWriter, r *http.Request) {
	actor, id, ok := h.actorAndID(w, r)
	if !ok {
		return
	}
	var req struct {
		Reason string `json:"reason"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, `{"error":"invalid JSON"}`, http.StatusBadRequest)
		return
	}
	b, err := h.Svc.OpenDispute(r.Context(), actor, id, req.Reason)
	if err != nil {
		h.writeError(w, err, "open dispute")
		return
	}
	writeJSON(w, http.StatusOK, h.toResponse(r.Context(), actor, b))
}

// ResolveDispute handles POST /api/v1/bookings/{id}/resolve (arbiter only).
func (h *Handler) ResolveDispute(w http.ResponseWriter, r *http.Request) {
	actor, id, ok := h.actorAndID(w, r)
	if !ok {
		return
	}
	var req struct {
		Winner string `json:"winner"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, `{"error":"invalid JSON"}`, http.StatusBadRequest)
		return
	}
	b, err := h.Svc.ResolveDispute(r.Context(), actor, id, req.Winner)
	if err != nil {
		h.writeError(w, err, "resolve dispute")
		return
	}
	writeJSON(w, http.StatusOK, h.toResponse(r.Context(), actor, b))
}

// ReportNoShow handles POST /api/v1/bookings/{id}/no-show.
func (h *Handler) ReportNoShow(w http.ResponseWriter, r *http.Request) {
	actor, id, ok := h.actorAndID(w, r)
	if !ok {
		return
	}
	b, err := h.Svc.ReportNoShow(r.Context(), actor, id)
	if err != nil {
		h.writeError(w, err, "report no-show")
		return
	}
	writeJSON(w, http.StatusOK, h.toResponse(r.Context(), actor, b))
}

// Cancel handles POST /api/v1/bookings/{id}/cancel (hauler, before pickup).
func (h *Handler) Cancel(w http.ResponseWriter, r *http.Request) {
	actor, id, ok := h.actorAndID(w, r)
	if !ok {
		return
	}
	b, err := h.Svc.CancelByHauler(r.Context(), actor, id)
	if err != nil {
		h.writeError(w, err, "cancel booking")
		return
	}
	writeJSON(w, http.StatusOK, h.toResponse(r.Context(), actor, b))
}

// RequestAmendment handles POST /api/v1/bookings/{id}/amendments.
func (h *Handler) RequestAmendment(w http.ResponseWriter, r *http.Request) {
	actor, id, ok := h.actorAndID(w, r)
	if !ok {
		return
	}
	var req struct {
		ProposedAmount decimal.Decimal `json:"proposed_amount"`
		Reason         string          `json:"reason"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, `{"error":"invalid JSON"}`, http.StatusBadRequest)
		return
	}
	a, err := h.Svc.RequestAmendment(r.Context(), actor, id, req.ProposedAmount, req.Reason)
	if err != nil {
		h.writeError(w, err, "request amendment")
		return
	}
	writeJSON(w, http.StatusCreated, a)
}

// ListAmendments handles GET /api/v1/bookings/{id}/amendments.
func (h *Handler) ListAmendments(w http.ResponseWriter, r *http.Request) {
	actor, id, ok := h.actorAndID(w, r)
	if !ok {
		return
	}
	list, err := h.Svc.ListAmendments(r.Context(), actor, id)
	if err != nil {
		h.writeError(w, err, "list amendments")
		return
	}
	if list == nil {
		list = []*models.Amendment{}
	}
	writeJSON(w, http.StatusOK, list)
}

// RespondAmendment handles POST /api/v1/amendments/{id}/respond.
func (h *Handler) RespondAmendment(w http.ResponseWriter, r *http.Request) {
	actor, ok := actorFrom(r)
	if !ok {
		http.Error(w, `{"error":"unauthorized"}`, http.StatusUnauthorized)
		return
	}
	id, ok := extractPathID(r, "/api/v1/amendments/")
	if !ok {
		http.Error(w, `{"error":"invalid amendment id"}`, http.StatusBadRequest)
		return
	}
	var req struct {
		Accept bool `json:"accept"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, `{"error":"invalid JSON"}`, http.StatusBadRequest)
		return
	}
	a, err := h.Svc.RespondAmendment(r.Context(), actor, id, req.Accept)
	if err != nil {
		h.writeError(w, err, "respond amendment")
		return
	}
	writeJSON(w, http.StatusOK, a)
}

// ServeMedia handles GET /api/v1/media/{booking_id}/{file}. Photo access is
// gated on the same visibility rule as the booking itself.
func (h *Handler) ServeMedia(w http.ResponseWriter, r *http.Request) {
	actor, ok := actorFrom(r)
	if !ok {
		http.Error(w, `{"error":"unauthorized"}`, http.StatusUnauthorized)
		return
	}
	ref := strings.TrimPrefix(r.URL.Path, "/api/v1/media/")
	parts := strings.SplitN(ref, "/", 2)
	if len(parts) != 2 {
		http.Error(w, `{"error":"invalid media reference"}`, http.StatusBadRequest)
		return
	}
	id, err := uuid.Parse(parts[0])
	if err != nil {
		http.Error(w, `{"error":"invalid media reference"}`, http.StatusBadRequest)
		return
	}
	if _, err := h.Svc.Get(r.Context(), actor, id); err != nil {
		h.writeError(w, err, "serve media")
		return
	}
	f, err := h.Media.Open(ref)
	if err != nil {
		http.Error(w, `{"error":"not found"}`, http.StatusNotFound)
		return
	}
	defer f.Close()
	if ct := mime.TypeByExtension(filepath.Ext(parts[1])); ct != "" {
		w.Header().Set("Content-Type", ct)
	}
	_, _ = io.Copy(w, f)
}

// --- helpers ---

func (h *Handler) actorAndID(w http.ResponseWriter, r *http.Request) (Actor, uuid.UUID, bool) {
	actor, ok := actorFrom(r)
	if !ok {
		http.Error(w, `{"error":"unauthorized"}`, http.StatusUnauthorized)
		return Actor{}, uuid.Nil, false
	}
	id, ok := extractBookingID(r)
	if !ok {
		http.Error(w, `{"error":"invalid booking id"}`, http.StatusBadRequest)
		return Actor{}, uuid.Nil, false
	}
	return actor, id, true
}

func actorFrom(r *http.Request) (Actor, bool) {
	p := middleware.PrincipalFromCtx(r.Context())
	if p == nil {
		return Actor{}, false
	}
	return Actor{ID: p.ID, Role: p.Role}, true
}

// writeError maps service errors to HTTP codes. Unknown errors log and 500.
func (h *Handler) writeError(w http.ResponseWriter, err error, op string) {
	switch {
	case errors.Is(err, ErrNotFound):
		writeJSON(w, http.StatusNotFound, map[string]string{"error": "not found"})
	case errors.Is(err, ErrForbidden):
		writeJSON(w, http.StatusForbidden, map[string]string{"error": "forbidden"})
	case errors.Is(err, ErrInvalidState):
		writeJSON(w, http.StatusConflict, map[string]string{"error": err.Error()})
	case errors.Is(err, ErrConflict):
		writeJSON(w, http.StatusConflict, map[string]string{"error": err.Error()})
	case errors.Is(err, ErrValidation):
		writeJSON(w, http.StatusUnprocessableEntity, map[string]string{"error": err.Error()})
	default:
		h.Log.Error(op, "error", err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "internal error"})
	}
}

// extractBookingID parses the booking UUID from the URL path. Supports
// /api/v1/bookings/{id} and /api/v1/bookings/{id}/{action}.
func extractBookingID(r *http.Request) (uuid.UUID, bool) {
	return extractPathID(r, "/api/v1/bookings/")
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

func parseCoord(v string) (*float64, error) {
	if v == "" {
		return nil, nil
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		return nil, err
	}
	return &f, nil
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
