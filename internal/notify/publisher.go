package notify

import (
	"context"
	"encoding/json"
	"log/slog"

	"donation-service/internal/message"
	"github.com/VictoriaMetrics/metrics"
	"github.com/segmentio/kafka-go"
)

var (
	publishSuccessCounter = metrics.GetOrCreateCounter(`donation_event_publish_total{result="success"}`)
	publishErrorCounter   = metrics.GetOrCreateCounter(`donation_event_publish_total{result="error"}`)
)

// Publisher emits donation session state changes to Kafka. Messages are
// keyed by charge id so consumers see one charge's events in order.
type Publisher struct {
	writer *kafka.Writer
	logger *slog.Logger
}

func NewPublisher(writer *kafka.Writer, logger *slog.Logger) *Publisher {
	return &Publisher{writer: writer, logger: logger}
}

func (p *Publisher) Publish(ctx context.Context, event message.DonationEvent) error {
	messageBytes, err := json.Marshal(event)
	if err != nil {
		publishErrorCounter.Inc()
		return err
	}

	err = p.writer.WriteMessages(ctx, kafka.Message{
		Key:   []byte(event.ChargeID),
		Value: messageBytes,
	})
	if err != nil {
		p.logger.ErrorContext(ctx, "Error writing donation event to Kafka", "error", err)
		publishErrorCounter.Inc()
		return err
	}

	publishSuccessCounter.Inc()
	return nil
}
