package message

import (
	"time"

	"github.com/google/uuid"
)

const (
	DonationPending    = "donation.pending"
	DonationProcessing = "donation.processing"
	DonationPaid       = "donation.paid"
	DonationExpired    = "donation.expired"
	DonationCancelled  = "donation.cancelled"
)

type DonationEvent struct {
	ID         uuid.UUID  `json:"id"`
	Type       string     `json:"type"`
	SessionID  uuid.UUID  `json:"sessionId"`
	ChargeID   string     `json:"chargeId"`
	Amount     float64    `json:"amount"`
	PayerName  string     `json:"payerName,omitempty"`
	PaidAt     *time.Time `json:"paidAt,omitempty"`
	OccurredAt time.Time  `json:"occurredAt"`
}
