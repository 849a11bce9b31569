package pagou

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"donation-service/internal/charge"
	"donation-service/internal/config"
	"github.com/pkg/errors"
)

const (
	defaultTimeoutMs = 10_000

	userAgent = "donation-service/1.0"
)

type Payer struct {
	Name     string `json:"name"`
	Document string `json:"document"`
}

type Metadata struct {
	Key   string `json:"key"`
	Value string `json:"value"`
}

type CreateChargeRequest struct {
	Amount            float64
	Description       string
	ExpirationSeconds int
	Payer             *Payer
	Metadata          []Metadata
}

type createBody struct {
	Amount      float64    `json:"amount"`
	Description string     `json:"description"`
	Expiration  int        `json:"expiration"`
	Payer       *Payer     `json:"payer,omitempty"`
	Metadata    []Metadata `json:"metadata,omitempty"`
}

type refundBody struct {
	Amount      float64 `json:"amount"`
	Description string  `json:"description"`
	Reason      int     `json:"reason"`
}

type payloadBody struct {
	Data  string `json:"data"`
	Image string `json:"image"`
}

type chargeBody struct {
	ID          string      `json:"id"`
	Amount      float64     `json:"amount"`
	Description string      `json:"description"`
	Status      int         `json:"status"`
	PaidAt      *time.Time  `json:"paid_at"`
	CreatedAt   time.Time   `json:"created_at"`
	ExpiredAt   *time.Time  `json:"expired_at"`
	Payload     payloadBody `json:"payload"`
	Payer       *Payer      `json:"payer,omitempty"`
}

// Client is a stateless typed wrapper over the Pagou PIX API. Amounts are
// in reals, the provider's native unit for this endpoint.
type Client struct {
	baseURL string
	apiKey  string
	client  *http.Client
	logger  *slog.Logger
}

func NewClient(cfg config.Gateway, logger *slog.Logger) *Client {
	timeoutMs := cfg.TimeoutMs
	if timeoutMs <= 0 {
		timeoutMs = defaultTimeoutMs
	}
	return &Client{
		baseURL: strings.TrimRight(cfg.BaseURL, "/"),
		apiKey:  cfg.APIKey,
		client:  &http.Client{Timeout: time.Duration(timeoutMs) * time.Millisecond},
		logger:  logger,
	}
}

func (c *Client) CreateCharge(ctx context.Context, req CreateChargeRequest) (*charge.Charge, error) {
	if req.Amount <= 0 {
		return nil, &ValidationError{Field: "amount", Reason: "must be positive"}
	}
	if req.ExpirationSeconds <= 0 {
		return nil, &ValidationError{Field: "expiration", Reason: "must be positive"}
	}

	body := createBody{
		Amount:      req.Amount,
		Description: req.Description,
		Expiration:  req.ExpirationSeconds,
		Payer:       req.Payer,
		Metadata:    req.Metadata,
	}

	var resp chargeBody
	if err := c.do(ctx, http.MethodPost, "/v1/pix", body, &resp); err != nil {
		return nil, err
	}
	return c.toCharge(&resp), nil
}

func (c *Client) FetchCharge(ctx context.Context, id string) (*charge.Charge, error) {
	var resp chargeBody
	if err := c.do(ctx, http.MethodGet, "/v1/pix/"+id, nil, &resp); err != nil {
		if pe := asProviderError(err); pe != nil && pe.StatusCode == http.StatusNotFound {
			return nil, &NotFoundError{ID: id}
		}
		return nil, err
	}
	if resp.ID == "" {
		resp.ID = id
	}
	return c.toCharge(&resp), nil
}

func (c *Client) CancelCharge(ctx context.Context, id string) error {
	err := c.do(ctx, http.MethodDelete, "/v1/pix/"+id, nil, nil)
	if pe := asProviderError(err); pe != nil && pe.StatusCode == http.StatusNotFound {
		return &NotFoundError{ID: id}
	}
	return err
}

func (c *Client) RefundCharge(ctx context.Context, id string, amount float64, description string, reason int) error {
	if amount <= 0 {
		return &ValidationError{Field: "amount", Reason: "must be positive"}
	}
	err := c.do(ctx, http.MethodDelete, "/v1/pix/"+id+"/refund", refundBody{
		Amount:      amount,
		Description: description,
		Reason:      reason,
	}, nil)
	if pe := asProviderError(err); pe != nil && pe.StatusCode == http.StatusNotFound {
		return &NotFoundError{ID: id}
	}
	return err
}

func (c *Client) do(ctx context.Context, method, path string, body, out any) error {
	var reader io.Reader
	if body != nil {
		payload, err := json.Marshal(body)
		if err != nil {
			return errors.Wrap(err, "marshalling request body")
		}
		reader = bytes.NewReader(payload)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return errors.Wrap(err, "building request")
	}
	req.Header.Set("X-API-KEY", c.apiKey)
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("User-Agent", userAgent)

	resp, err := c.client.Do(req)
	if err != nil {
		return &NetworkError{Err: err}
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return &NetworkError{Err: err}
	}

	c.logger.DebugContext(ctx, "Gateway response", "method", method, "path", path, "status", resp.StatusCode)

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return &ProviderError{StatusCode: resp.StatusCode, Body: string(respBody)}
	}

	if out != nil {
		if err := json.Unmarshal(respBody, out); err != nil {
			return errors.Wrapf(err, "decoding %s %s response", method, path)
		}
	}
	return nil
}

// toCharge normalizes the provider response into the internal Charge
// shape. The QR image arrives as bare base64 and must carry a data-URI
// prefix before any renderer sees it.
func (c *Client) toCharge(body *chargeBody) *charge.Charge {
	ch := &charge.Charge{
		ID:             body.ID,
		Amount:         body.Amount,
		Description:    body.Description,
		QRPayload:      body.Payload.Data,
		QRImage:        NormalizeQRImage(body.Payload.Image),
		CreatedAt:      body.CreatedAt,
		ProviderStatus: charge.ProviderStatus(body.Status),
		PaidAt:         body.PaidAt,
	}
	if body.ExpiredAt != nil {
		ch.ExpiresAt = *body.ExpiredAt
	}
	if body.Payer != nil {
		ch.PayerName = body.Payer.Name
		ch.PayerDocument = body.Payer.Document
	}
	return ch
}

func NormalizeQRImage(image string) string {
	if image == "" || strings.HasPrefix(image, "data:image") {
		return image
	}
	return fmt.Sprintf("data:image/png;base64,%s", image)
}

func asProviderError(err error) *ProviderError {
	var pe *ProviderError
	if errors.As(err, &pe) {
		return pe
	}
	return nil
}
