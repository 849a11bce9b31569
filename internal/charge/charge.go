package charge

import (
	"time"
)

// ProviderStatus is the raw status code reported by the payment provider.
// It is advisory: nothing may be considered paid based on it alone.
type ProviderStatus int

const (
	StatusPending    ProviderStatus = 0
	StatusProcessing ProviderStatus = 1
	StatusExpired    ProviderStatus = 2
	StatusCancelled  ProviderStatus = 3
	StatusPaid       ProviderStatus = 4
)

type LifecycleState int

const (
	Created LifecycleState = iota
	Pending
	Processing
	Paid
	Expired
	Cancelled
)

func (s LifecycleState) Terminal() bool {
	return s == Paid || s == Expired || s == Cancelled
}

func (s LifecycleState) String() string {
	switch s {
	case Created:
		return "created"
	case Pending:
		return "pending"
	case Processing:
		return "processing"
	case Paid:
		return "paid"
	case Expired:
		return "expired"
	case Cancelled:
		return "cancelled"
	default:
		return "unknown"
	}
}

// Charge is one PIX payment request tracked from creation to terminal state.
// PaidAt is the only field that may ever make a charge count as paid.
type Charge struct {
	ID             string         `json:"id"`
	Amount         float64        `json:"amount"`
	Description    string         `json:"description"`
	PayerName      string         `json:"payerName,omitempty"`
	PayerDocument  string         `json:"payerDocument,omitempty"`
	QRPayload      string         `json:"qrPayload"`
	QRImage        string         `json:"qrImage"`
	CreatedAt      time.Time      `json:"createdAt"`
	ExpiresAt      time.Time      `json:"expiresAt"`
	ProviderStatus ProviderStatus `json:"providerStatus"`
	PaidAt         *time.Time     `json:"paidAt"`
	Simulated      bool           `json:"simulated"`
}

func (c *Charge) IsPaid() bool {
	return c.PaidAt != nil
}

// State derives the lifecycle state from the authoritative fields.
func (c *Charge) State(now time.Time) LifecycleState {
	if c.PaidAt != nil {
		return Paid
	}
	switch c.ProviderStatus {
	case StatusExpired:
		return Expired
	case StatusCancelled:
		return Cancelled
	}
	if !c.ExpiresAt.IsZero() && now.After(c.ExpiresAt) {
		return Expired
	}
	// StatusPaid without paid_at means the provider is still settling;
	// it is intermediate, never proof of payment.
	if c.ProviderStatus == StatusProcessing || c.ProviderStatus == StatusPaid {
		return Processing
	}
	return Pending
}

type Source string

const (
	SourcePoll    Source = "poll"
	SourceWebhook Source = "webhook"
	SourceLocal   Source = "local"
)

// Update is the normalized signal shape shared by the poller and the
// webhook ingress.
type Update struct {
	ChargeID       string
	ProviderStatus ProviderStatus
	PaidAt         *time.Time
	ReceivedAt     time.Time
	Source         Source
}
