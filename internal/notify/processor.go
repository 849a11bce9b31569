package notify

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"donation-service/internal/config"
	"donation-service/internal/message"
	"github.com/VictoriaMetrics/metrics"
)

const (
	defaultParallelism = 100
)

var (
	notifySentCounter      = metrics.GetOrCreateCounter(`notify_total{result="sent"}`)
	notifyDuplicateCounter = metrics.GetOrCreateCounter(`notify_total{result="duplicate"}`)
	notifySendErrorCounter = metrics.GetOrCreateCounter(`notify_total{result="send_error"}`)
	notifySkippedCounter   = metrics.GetOrCreateCounter(`notify_total{result="skipped"}`)
)

type chargeStore interface {
	MarkNotified(ctx context.Context, id string, notifiedAt time.Time) (bool, error)
}

type confirmation struct {
	ChargeID  string     `json:"chargeId"`
	Amount    float64    `json:"amount"`
	PayerName string     `json:"payerName,omitempty"`
	PaidAt    *time.Time `json:"paidAt"`
	Message   string     `json:"message"`
}

// Processor consumes donation events and forwards payment confirmations
// to the notification bridge. Redelivered events are absorbed by the
// notified_at latch in the store.
type Processor struct {
	store     chargeStore
	sender    *Sender
	bridgeURL string
	sem       chan struct{}
	logger    *slog.Logger
}

func NewProcessor(store chargeStore, sender *Sender, cfg config.Notify, logger *slog.Logger) *Processor {
	parallelism := cfg.Parallelism
	if parallelism <= 0 {
		parallelism = defaultParallelism
	}
	return &Processor{
		store:     store,
		sender:    sender,
		bridgeURL: cfg.BridgeURL,
		sem:       make(chan struct{}, parallelism),
		logger:    logger,
	}
}

func (p *Processor) Process(ctx context.Context, event message.DonationEvent) error {
	if event.Type != message.DonationPaid {
		p.logger.DebugContext(ctx, "Skipping non-paid donation event", "type", event.Type)
		notifySkippedCounter.Inc()
		return nil
	}
	if p.bridgeURL == "" {
		notifySkippedCounter.Inc()
		return nil
	}

	p.sem <- struct{}{}
	go func() {
		defer func() { <-p.sem }()

		latched, err := p.store.MarkNotified(ctx, event.ChargeID, time.Now())
		if err != nil {
			p.logger.ErrorContext(ctx, "Error marking charge notified", "error", err, "chargeId", event.ChargeID)
			return
		}
		if !latched {
			p.logger.InfoContext(ctx, "Confirmation already sent", "chargeId", event.ChargeID)
			notifyDuplicateCounter.Inc()
			return
		}

		body := confirmation{
			ChargeID:  event.ChargeID,
			Amount:    event.Amount,
			PayerName: event.PayerName,
			PaidAt:    event.PaidAt,
			Message:   fmt.Sprintf("Doação de R$ %.2f confirmada. Obrigado!", event.Amount),
		}
		payloadBytes, _ := json.Marshal(body)

		if err := p.sender.Send(ctx, p.bridgeURL, string(payloadBytes)); err != nil {
			p.logger.ErrorContext(ctx, "Error sending confirmation", "error", err, "chargeId", event.ChargeID)
			notifySendErrorCounter.Inc()
			return
		}
		notifySentCounter.Inc()
	}()

	return nil
}
