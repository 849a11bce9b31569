package webhook

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"time"

	"donation-service/internal/charge"
	"donation-service/internal/config"
	"donation-service/internal/db"
	"donation-service/internal/logcontext"
	"donation-service/internal/pagou"
	"github.com/VictoriaMetrics/metrics"
)

const (
	EventPixPaid      = "pix.paid"
	EventPixExpired   = "pix.expired"
	EventPixCancelled = "pix.cancelled"
)

var (
	webhookProcessedCounter    = metrics.GetOrCreateCounter(`webhook_total{result="processed"}`)
	webhookUnauthorizedCounter = metrics.GetOrCreateCounter(`webhook_total{result="unauthorized"}`)
	webhookMalformedCounter    = metrics.GetOrCreateCounter(`webhook_total{result="malformed"}`)
	webhookErrorCounter        = metrics.GetOrCreateCounter(`webhook_total{result="error"}`)
)

type Payload struct {
	ID   string `json:"id"`
	Type string `json:"type"`
	Data struct {
		ID       string           `json:"id"`
		Amount   float64          `json:"amount"`
		Status   int              `json:"status"`
		PaidAt   *time.Time       `json:"paid_at"`
		Payer    *pagou.Payer     `json:"payer,omitempty"`
		Metadata []pagou.Metadata `json:"metadata,omitempty"`
	} `json:"data"`
	CreatedAt time.Time `json:"created_at"`
}

type chargeStore interface {
	MarkPaid(ctx context.Context, id string, paidAt time.Time, status int) (bool, error)
	UpdateProviderStatus(ctx context.Context, id string, status int) error
	RecordWebhookNotification(ctx context.Context, entity *db.WebhookNotificationEntity) error
	GetWebhookNotifications(ctx context.Context, chargeID string) ([]*db.WebhookNotificationEntity, error)
}

type updateSink interface {
	ApplyUpdate(ctx context.Context, u charge.Update)
}

// Handler is the passive ingress for provider push notifications. Every
// payload is translated into the same normalized update shape the poller
// produces, so redelivery is absorbed by the sticky paid_at latch.
type Handler struct {
	store  chargeStore
	sink   updateSink
	secret string
	logger *slog.Logger
}

func NewHandler(store chargeStore, sink updateSink, cfg config.Webhook, logger *slog.Logger) *Handler {
	return &Handler{store: store, sink: sink, secret: cfg.Secret, logger: logger}
}

func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodPost:
		h.handlePost(w, r)
	case http.MethodGet:
		h.handleGet(w, r)
	default:
		w.WriteHeader(http.StatusMethodNotAllowed)
	}
}

func (h *Handler) handlePost(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	if h.secret != "" && r.Header.Get("X-API-KEY") != h.secret {
		h.logger.WarnContext(ctx, "Webhook rejected: invalid shared secret")
		webhookUnauthorizedCounter.Inc()
		writeJSON(w, http.StatusUnauthorized, map[string]string{"error": "Unauthorized"})
		return
	}

	var payload Payload
	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
		h.logger.WarnContext(ctx, "Webhook rejected: malformed payload", "error", err)
		webhookMalformedCounter.Inc()
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "Bad Request"})
		return
	}
	if payload.Data.ID == "" {
		webhookMalformedCounter.Inc()
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "missing charge id"})
		return
	}

	ctx = logcontext.AppendCtx(ctx,
		slog.String("chargeId", payload.Data.ID),
		slog.String("eventType", payload.Type))

	h.logger.InfoContext(ctx, "Webhook received", "eventId", payload.ID)

	rawPayload, _ := json.Marshal(payload)
	if err := h.store.RecordWebhookNotification(ctx, &db.WebhookNotificationEntity{
		EventID:    payload.ID,
		ChargeID:   payload.Data.ID,
		EventType:  payload.Type,
		Payload:    string(rawPayload),
		ReceivedAt: time.Now(),
	}); err != nil {
		h.logger.ErrorContext(ctx, "Error recording webhook notification", "error", err)
		webhookErrorCounter.Inc()
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "Internal Server Error"})
		return
	}

	u := charge.Update{
		ChargeID:       payload.Data.ID,
		ProviderStatus: providerStatus(&payload),
		PaidAt:         payload.Data.PaidAt,
		ReceivedAt:     time.Now(),
		Source:         charge.SourceWebhook,
	}

	// durable half of the latch: applies even when no session is live
	if u.PaidAt != nil {
		latched, err := h.store.MarkPaid(ctx, u.ChargeID, *u.PaidAt, int(u.ProviderStatus))
		if err != nil {
			h.logger.ErrorContext(ctx, "Error persisting paid_at from webhook", "error", err)
			webhookErrorCounter.Inc()
			writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "Internal Server Error"})
			return
		}
		if !latched {
			h.logger.InfoContext(ctx, "Duplicate payment notification absorbed")
		}
	} else if u.ProviderStatus == charge.StatusExpired || u.ProviderStatus == charge.StatusCancelled {
		if err := h.store.UpdateProviderStatus(ctx, u.ChargeID, int(u.ProviderStatus)); err != nil {
			h.logger.ErrorContext(ctx, "Error persisting provider status from webhook", "error", err)
			webhookErrorCounter.Inc()
			writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "Internal Server Error"})
			return
		}
	}

	h.sink.ApplyUpdate(ctx, u)

	webhookProcessedCounter.Inc()
	writeJSON(w, http.StatusOK, map[string]any{"success": true, "message": "webhook processed"})
}

// handleGet lists stored notifications for a charge, for debugging.
func (h *Handler) handleGet(w http.ResponseWriter, r *http.Request) {
	id := r.URL.Query().Get("id")
	if id == "" {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "missing id"})
		return
	}

	notifications, err := h.store.GetWebhookNotifications(r.Context(), id)
	if err != nil {
		h.logger.ErrorContext(r.Context(), "Error listing webhook notifications", "error", err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "Internal Server Error"})
		return
	}

	type item struct {
		EventID    string          `json:"eventId"`
		EventType  string          `json:"eventType"`
		Payload    json.RawMessage `json:"payload"`
		ReceivedAt time.Time       `json:"receivedAt"`
	}
	items := make([]item, 0, len(notifications))
	for _, n := range notifications {
		items = append(items, item{
			EventID:    n.EventID,
			EventType:  n.EventType,
			Payload:    json.RawMessage(n.Payload),
			ReceivedAt: n.ReceivedAt,
		})
	}
	writeJSON(w, http.StatusOK, map[string]any{"total": len(items), "notifications": items})
}

// providerStatus prefers the explicit status code and falls back to the
// event type for senders that omit it.
func providerStatus(p *Payload) charge.ProviderStatus {
	if p.Data.Status != 0 {
		return charge.ProviderStatus(p.Data.Status)
	}
	switch p.Type {
	case EventPixPaid:
		return charge.StatusPaid
	case EventPixExpired:
		return charge.StatusExpired
	case EventPixCancelled:
		return charge.StatusCancelled
	default:
		return charge.StatusPending
	}
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}
