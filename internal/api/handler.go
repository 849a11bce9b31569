package api

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"time"

	"donation-service/internal/charge"
	"donation-service/internal/db"
	"donation-service/internal/pagou"
	"donation-service/internal/session"
	"github.com/google/uuid"
	"github.com/pkg/errors"
)

type chargeStore interface {
	GetByID(ctx context.Context, id string) (*db.ChargeEntity, error)
}

// Handler exposes the donation endpoints consumed by the admin panel.
type Handler struct {
	manager *session.Manager
	store   chargeStore
	logger  *slog.Logger
	now     func() time.Time
}

func NewHandler(manager *session.Manager, store chargeStore, logger *slog.Logger) *Handler {
	return &Handler{manager: manager, store: store, logger: logger, now: time.Now}
}

func (h *Handler) Register(mux *http.ServeMux) {
	mux.HandleFunc("POST /donations", h.createDonation)
	mux.HandleFunc("DELETE /donations/{id}", h.cancelDonation)
	mux.HandleFunc("GET /donations/{id}", h.getDonation)
	mux.HandleFunc("GET /pix/status", h.chargeStatus)
}

type createDonationRequest struct {
	Amount        float64 `json:"amount"`
	Description   string  `json:"description"`
	PayerName     string  `json:"payerName"`
	PayerDocument string  `json:"payerDocument"`
}

type chargeResponse struct {
	ID        string     `json:"id"`
	Amount    float64    `json:"amount"`
	Status    string     `json:"status"`
	QRPayload string     `json:"qrPayload"`
	QRImage   string     `json:"qrImage"`
	ExpiresAt time.Time  `json:"expiresAt"`
	PaidAt    *time.Time `json:"paidAt"`
	Simulated bool       `json:"simulated"`
}

func (h *Handler) createDonation(w http.ResponseWriter, r *http.Request) {
	var req createDonationRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid body"})
		return
	}

	s, err := h.manager.StartDonation(r.Context(), session.DonationRequest{
		Amount:        req.Amount,
		Description:   req.Description,
		PayerName:     req.PayerName,
		PayerDocument: req.PayerDocument,
	})
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	writeJSON(w, http.StatusCreated, map[string]any{
		"sessionId": s.ID.String(),
		"charge": chargeResponse{
			ID:        s.Charge.ID,
			Amount:    s.Charge.Amount,
			Status:    s.State().String(),
			QRPayload: s.Charge.QRPayload,
			QRImage:   s.Charge.QRImage,
			ExpiresAt: s.Charge.ExpiresAt,
			PaidAt:    s.PaidAt(),
			Simulated: s.Charge.Simulated,
		},
	})
}

func (h *Handler) cancelDonation(w http.ResponseWriter, r *http.Request) {
	sessionID, err := uuid.Parse(r.PathValue("id"))
	if err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid session id"})
		return
	}

	if err := h.manager.Cancel(r.Context(), sessionID); err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"success": true})
}

func (h *Handler) getDonation(w http.ResponseWriter, r *http.Request) {
	sessionID, err := uuid.Parse(r.PathValue("id"))
	if err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid session id"})
		return
	}

	s, ok := h.manager.GetSession(sessionID)
	if !ok {
		writeJSON(w, http.StatusNotFound, map[string]string{"error": "session not found"})
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"sessionId": s.ID.String(),
		"state":     s.State().String(),
		"cancelled": s.Cancelled(),
		"charge": chargeResponse{
			ID:        s.Charge.ID,
			Amount:    s.Charge.Amount,
			Status:    s.State().String(),
			QRPayload: s.Charge.QRPayload,
			QRImage:   s.Charge.QRImage,
			ExpiresAt: s.Charge.ExpiresAt,
			PaidAt:    s.PaidAt(),
			Simulated: s.Charge.Simulated,
		},
	})
}

// chargeStatus reports durable charge state by charge id. is_paid is
// computed strictly from paid_at; the provider status is advisory.
func (h *Handler) chargeStatus(w http.ResponseWriter, r *http.Request) {
	id := r.URL.Query().Get("id")
	if id == "" {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "missing id"})
		return
	}

	entity, err := h.store.GetByID(r.Context(), id)
	if err != nil {
		if errors.Is(err, db.ErrNotFound) {
			writeJSON(w, http.StatusNotFound, map[string]string{"error": "charge not found"})
			return
		}
		h.logger.ErrorContext(r.Context(), "Error loading charge", "error", err, "chargeId", id)
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "Internal Server Error"})
		return
	}

	ch := charge.Charge{
		ProviderStatus: charge.ProviderStatus(entity.ProviderStatus),
		PaidAt:         entity.PaidAt,
	}
	if entity.ExpiresAt != nil {
		ch.ExpiresAt = *entity.ExpiresAt
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"id":              entity.ID,
		"status":          ch.State(h.now()).String(),
		"provider_status": entity.ProviderStatus,
		"paid_at":         entity.PaidAt,
		"expired_at":      entity.ExpiresAt,
		"amount":          entity.Amount,
		"is_paid":         entity.PaidAt != nil,
	})
}

func (h *Handler) writeError(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case pagou.IsValidation(err):
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": err.Error()})
	case pagou.IsNotFound(err):
		writeJSON(w, http.StatusNotFound, map[string]string{"error": err.Error()})
	default:
		h.logger.ErrorContext(r.Context(), "Request failed", "error", err)
		writeJSON(w, http.StatusBadGateway, map[string]string{"error": "payment provider unavailable"})
	}
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}
