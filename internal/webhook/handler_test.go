package webhook

import (
	"bytes"
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"donation-service/internal/charge"
	"donation-service/internal/config"
	"donation-service/internal/db"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeStore struct {
	mu            sync.Mutex
	paidAt        map[string]time.Time
	statuses      map[string]int
	notifications []*db.WebhookNotificationEntity
	failWith      error
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		paidAt:   make(map[string]time.Time),
		statuses: make(map[string]int),
	}
}

func (s *fakeStore) MarkPaid(_ context.Context, id string, paidAt time.Time, status int) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.failWith != nil {
		return false, s.failWith
	}
	if _, ok := s.paidAt[id]; ok {
		return false, nil
	}
	s.paidAt[id] = paidAt
	s.statuses[id] = status
	return true, nil
}

func (s *fakeStore) UpdateProviderStatus(_ context.Context, id string, status int) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.failWith != nil {
		return s.failWith
	}
	s.statuses[id] = status
	return nil
}

func (s *fakeStore) RecordWebhookNotification(_ context.Context, entity *db.WebhookNotificationEntity) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.failWith != nil {
		return s.failWith
	}
	for _, n := range s.notifications {
		if n.EventID == entity.EventID {
			return nil
		}
	}
	s.notifications = append(s.notifications, entity)
	return nil
}

func (s *fakeStore) GetWebhookNotifications(_ context.Context, chargeID string) ([]*db.WebhookNotificationEntity, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*db.WebhookNotificationEntity
	for _, n := range s.notifications {
		if n.ChargeID == chargeID {
			out = append(out, n)
		}
	}
	return out, nil
}

type fakeSink struct {
	mu      sync.Mutex
	updates []charge.Update
}

func (s *fakeSink) ApplyUpdate(_ context.Context, u charge.Update) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.updates = append(s.updates, u)
}

func paidPayload(eventID, chargeID string) []byte {
	body := map[string]any{
		"id":   eventID,
		"type": EventPixPaid,
		"data": map[string]any{
			"id":      chargeID,
			"amount":  100.00,
			"status":  4,
			"paid_at": "2026-01-14T20:00:00Z",
		},
		"created_at": "2026-01-14T20:00:01Z",
	}
	raw, _ := json.Marshal(body)
	return raw
}

func postWebhook(h *Handler, body []byte, headers map[string]string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodPost, "/webhooks/pagou", bytes.NewReader(body))
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func TestHandler_PaidNotification(t *testing.T) {
	store := newFakeStore()
	sink := &fakeSink{}
	h := NewHandler(store, sink, config.Webhook{}, slog.Default())

	rec := postWebhook(h, paidPayload("evt-1", "pix-123"), nil)

	assert.Equal(t, http.StatusOK, rec.Code)

	paidAt, ok := store.paidAt["pix-123"]
	require.True(t, ok)
	assert.Equal(t, time.Date(2026, 1, 14, 20, 0, 0, 0, time.UTC), paidAt.UTC())

	require.Len(t, sink.updates, 1)
	assert.Equal(t, charge.SourceWebhook, sink.updates[0].Source)
	assert.NotNil(t, sink.updates[0].PaidAt)
	assert.Len(t, store.notifications, 1)
}

func TestHandler_RedeliveryIsIdempotent(t *testing.T) {
	store := newFakeStore()
	sink := &fakeSink{}
	h := NewHandler(store, sink, config.Webhook{}, slog.Default())

	first := postWebhook(h, paidPayload("evt-1", "pix-123"), nil)
	second := postWebhook(h, paidPayload("evt-1", "pix-123"), nil)

	assert.Equal(t, http.StatusOK, first.Code)
	assert.Equal(t, http.StatusOK, second.Code)

	// the latch absorbed the duplicate, only one notification stored
	assert.Len(t, store.notifications, 1)
	assert.Len(t, store.paidAt, 1)
}

func TestHandler_SecretMismatch(t *testing.T) {
	store := newFakeStore()
	sink := &fakeSink{}
	h := NewHandler(store, sink, config.Webhook{Secret: "expected"}, slog.Default())

	rec := postWebhook(h, paidPayload("evt-1", "pix-123"), map[string]string{"X-API-KEY": "wrong"})

	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.Empty(t, store.paidAt)
	assert.Empty(t, store.notifications)
	assert.Empty(t, sink.updates)
}

func TestHandler_SecretMatch(t *testing.T) {
	store := newFakeStore()
	sink := &fakeSink{}
	h := NewHandler(store, sink, config.Webhook{Secret: "expected"}, slog.Default())

	rec := postWebhook(h, paidPayload("evt-1", "pix-123"), map[string]string{"X-API-KEY": "expected"})

	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestHandler_MalformedPayload(t *testing.T) {
	store := newFakeStore()
	h := NewHandler(store, &fakeSink{}, config.Webhook{}, slog.Default())

	rec := postWebhook(h, []byte("{not json"), nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = postWebhook(h, []byte(`{"id":"evt-1","type":"pix.paid","data":{}}`), nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestHandler_StoreErrorIsRetryable(t *testing.T) {
	store := newFakeStore()
	store.failWith = assert.AnError
	h := NewHandler(store, &fakeSink{}, config.Webhook{}, slog.Default())

	rec := postWebhook(h, paidPayload("evt-1", "pix-123"), nil)

	// non-2xx so the provider retries the delivery
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
}

func TestHandler_ExpiredNotification(t *testing.T) {
	store := newFakeStore()
	sink := &fakeSink{}
	h := NewHandler(store, sink, config.Webhook{}, slog.Default())

	body, _ := json.Marshal(map[string]any{
		"id":   "evt-2",
		"type": EventPixExpired,
		"data": map[string]any{"id": "pix-123", "status": 2, "paid_at": nil},
	})
	rec := postWebhook(h, body, nil)

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, int(charge.StatusExpired), store.statuses["pix-123"])
	assert.Empty(t, store.paidAt)
	require.Len(t, sink.updates, 1)
	assert.Equal(t, charge.StatusExpired, sink.updates[0].ProviderStatus)
}

func TestHandler_DebugListing(t *testing.T) {
	store := newFakeStore()
	h := NewHandler(store, &fakeSink{}, config.Webhook{}, slog.Default())

	postWebhook(h, paidPayload("evt-1", "pix-123"), nil)

	req := httptest.NewRequest(http.MethodGet, "/webhooks/pagou?id=pix-123", nil)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)

	var resp struct {
		Total int `json:"total"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, 1, resp.Total)
}
