package db

import (
	"time"

	"github.com/google/uuid"
)

type ChargeEntity struct {
	ID             string
	SessionID      uuid.UUID
	Amount         float64
	Description    string
	PayerName      string
	PayerDocument  string
	QRPayload      string
	QRImage        string
	ProviderStatus int
	PaidAt         *time.Time
	NotifiedAt     *time.Time
	Simulated      bool
	CreatedAt      time.Time
	ExpiresAt      *time.Time
	UpdatedAt      time.Time
}

type WebhookNotificationEntity struct {
	EventID    string
	ChargeID   string
	EventType  string
	Payload    string
	ReceivedAt time.Time
}
