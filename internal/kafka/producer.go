// Package kafka publishes order lifecycle events.
package kafka

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/kirinyoku/tix-checkout/internal/domain"
	"github.com/segmentio/kafka-go"
)

type Config struct {
	Brokers []string
	Topic   string
}

// Producer writes outbox events to one topic, keyed by aggregate id so that
// events of one order keep their order within a partition.
type Producer struct {
	writer *kafka.Writer
}

func NewProducer(cfg Config) *Producer {
	return &Producer{
		writer: &kafka.Writer{
			Addr:                   kafka.TCP(cfg.Brokers...),
			Topic:                  cfg.Topic,
			Balancer:               &kafka.Hash{},
			RequiredAcks:           kafka.RequireAll,
			BatchTimeout:           50 * time.Millisecond,
			AllowAutoTopicCreation: true,
		},
	}
}

type message struct {
	ID          string          `json:"id"`
	AggregateID string          `json:"aggregate_id"`
	Type        string          `json:"type"`
	Payload     json.RawMessage `json:"payload"`
	CreatedAt   time.Time       `json:"created_at"`
}

// Publish writes events as one batch. Either all of them are acknowledged or
// an error is returned.
func (p *Producer) Publish(ctx context.Context, events []domain.OutboxEvent) error {
	const op = "kafka.Producer.Publish"

	if len(events) == 0 {
		return nil
	}

	msgs := make([]kafka.Message, 0, len(events))
	for _, e := range events {
		b, err := json.Marshal(message{
			ID:          e.ID.String(),
			AggregateID: e.AggregateID.String(),
			Type:        e.Type,
			Payload:     e.Payload,
			CreatedAt:   e.CreatedAt,
		})
		if err != nil {
			return fmt.Errorf("%s:%w", op, err)
		}

		msgs = append(msgs, kafka.Message{
			Key:   []byte(e.AggregateID.String()),
			Value: b,
			Headers: []kafka.Header{
				{Key: "event_type", Value: []byte(e.Type)},
			},
		})
	}

	if err := p.writer.WriteMessages(ctx, msgs...); err != nil {
		return fmt.Errorf("%s:%w", op, err)
	}

	return nil
}

func (p *Producer) Close() error {
	return p.writer.Close()
}
