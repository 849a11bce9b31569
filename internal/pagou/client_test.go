package pagou

import (
	"context"
	"log/slog"
	"testing"
	"time"

	"donation-service/internal/charge"
	"donation-service/internal/config"
	"github.com/h2non/gock"
	"github.com/stretchr/testify/assert"
)

func testClient() *Client {
	return NewClient(config.Gateway{
		BaseURL:   "https://api.pagou.test",
		APIKey:    "test-key",
		TimeoutMs: 2000,
	}, slog.Default())
}

func TestClient_CreateCharge(t *testing.T) {
	defer gock.Off()

	gock.New("https://api.pagou.test").
		Post("/v1/pix").
		MatchHeader("X-API-KEY", "test-key").
		Reply(201).
		JSON(map[string]any{
			"id":         "pix-abc",
			"amount":     100.00,
			"status":     0,
			"paid_at":    nil,
			"created_at": "2026-01-14T12:00:00Z",
			"expired_at": "2026-01-14T12:30:00Z",
			"payload": map[string]string{
				"data":  "00020126...6304ABCD",
				"image": "iVBORw0KGgo=",
			},
		})

	ch, err := testClient().CreateCharge(context.Background(), CreateChargeRequest{
		Amount:            100.00,
		Description:       "Doação",
		ExpirationSeconds: 1800,
	})

	assert.NoError(t, err)
	assert.Equal(t, "pix-abc", ch.ID)
	assert.Equal(t, 100.00, ch.Amount)
	assert.Equal(t, charge.StatusPending, ch.ProviderStatus)
	assert.Nil(t, ch.PaidAt)
	assert.Equal(t, "00020126...6304ABCD", ch.QRPayload)
	// bare base64 must be normalized for renderers
	assert.Equal(t, "data:image/png;base64,iVBORw0KGgo=", ch.QRImage)
	assert.True(t, gock.IsDone())
}

func TestClient_CreateCharge_Validation(t *testing.T) {
	defer gock.Off()

	tests := []struct {
		name string
		req  CreateChargeRequest
	}{
		{name: "zero amount", req: CreateChargeRequest{Amount: 0, ExpirationSeconds: 1800}},
		{name: "negative amount", req: CreateChargeRequest{Amount: -10, ExpirationSeconds: 1800}},
		{name: "zero expiration", req: CreateChargeRequest{Amount: 100, ExpirationSeconds: 0}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := testClient().CreateCharge(context.Background(), tt.req)
			assert.Error(t, err)
			assert.True(t, IsValidation(err))
			// no HTTP request may be made for invalid input
			assert.True(t, gock.IsDone())
		})
	}
}

func TestClient_CreateCharge_ProviderError(t *testing.T) {
	defer gock.Off()

	gock.New("https://api.pagou.test").
		Post("/v1/pix").
		Reply(422).
		JSON(map[string]string{"error": "invalid document"})

	_, err := testClient().CreateCharge(context.Background(), CreateChargeRequest{
		Amount:            100,
		ExpirationSeconds: 1800,
	})

	var pe *ProviderError
	assert.ErrorAs(t, err, &pe)
	assert.Equal(t, 422, pe.StatusCode)
	assert.False(t, IsTransient(err))
}

func TestClient_FetchCharge_Paid(t *testing.T) {
	defer gock.Off()

	gock.New("https://api.pagou.test").
		Get("/v1/pix/pix-abc").
		Reply(200).
		JSON(map[string]any{
			"id":      "pix-abc",
			"amount":  100.00,
			"status":  1,
			"paid_at": "2026-01-14T20:00:00Z",
			"payload": map[string]string{"data": "00020126", "image": "data:image/png;base64,iVBOR"},
		})

	ch, err := testClient().FetchCharge(context.Background(), "pix-abc")

	assert.NoError(t, err)
	assert.Equal(t, charge.StatusProcessing, ch.ProviderStatus)
	assert.NotNil(t, ch.PaidAt)
	assert.Equal(t, time.Date(2026, 1, 14, 20, 0, 0, 0, time.UTC), ch.PaidAt.UTC())
	// already-prefixed images pass through untouched
	assert.Equal(t, "data:image/png;base64,iVBOR", ch.QRImage)
}

func TestClient_FetchCharge_NotFound(t *testing.T) {
	defer gock.Off()

	gock.New("https://api.pagou.test").
		Get("/v1/pix/missing").
		Reply(404).
		JSON(map[string]string{"error": "not found"})

	_, err := testClient().FetchCharge(context.Background(), "missing")

	assert.True(t, IsNotFound(err))
	assert.False(t, IsTransient(err))
}

func TestClient_FetchCharge_ServerErrorIsTransient(t *testing.T) {
	defer gock.Off()

	gock.New("https://api.pagou.test").
		Get("/v1/pix/pix-abc").
		Reply(503)

	_, err := testClient().FetchCharge(context.Background(), "pix-abc")

	assert.Error(t, err)
	assert.True(t, IsTransient(err))
}

func TestClient_NetworkErrorIsTransient(t *testing.T) {
	defer gock.Off()

	gock.New("https://api.pagou.test").
		Get("/v1/pix/pix-abc").
		ReplyError(assert.AnError)

	_, err := testClient().FetchCharge(context.Background(), "pix-abc")

	var ne *NetworkError
	assert.ErrorAs(t, err, &ne)
	assert.True(t, IsTransient(err))
}

func TestClient_CancelCharge(t *testing.T) {
	defer gock.Off()

	gock.New("https://api.pagou.test").
		Delete("/v1/pix/pix-abc").
		Reply(200).
		JSON(map[string]bool{"success": true})

	err := testClient().CancelCharge(context.Background(), "pix-abc")
	assert.NoError(t, err)
}

func TestClient_RefundCharge_Validation(t *testing.T) {
	defer gock.Off()

	err := testClient().RefundCharge(context.Background(), "pix-abc", 0, "duplicate", 1)
	assert.True(t, IsValidation(err))
	assert.True(t, gock.IsDone())
}

func TestNormalizeQRImage(t *testing.T) {
	assert.Equal(t, "", NormalizeQRImage(""))
	assert.Equal(t, "data:image/png;base64,abc", NormalizeQRImage("abc"))
	assert.Equal(t, "data:image/png;base64,abc", NormalizeQRImage("data:image/png;base64,abc"))
}
