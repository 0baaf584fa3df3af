package events

import (
	"context"
	"time"

	"github.com/segmentio/kafka-go"

	"stock-ledger/src/config"
	"stock-ledger/src/models"
)

// Publisher delivers one outbox event to the message bus.
type Publisher interface {
	Publish(ctx context.Context, event models.OutboxEvent) error
	Close() error
}

type KafkaPublisher struct {
	writer *kafka.Writer
}

func NewKafkaPublisher(broker, topic string) *KafkaPublisher {
	return &KafkaPublisher{
		writer: &kafka.Writer{
			Addr:         kafka.TCP(broker),
			Topic:        topic,
			Balancer:     &kafka.Hash{},
			BatchTimeout: 10 * time.Millisecond,
			RequiredAcks: kafka.RequireAll,
		},
	}
}

func (p *KafkaPublisher) Publish(ctx context.Context, event models.OutboxEvent) error {
	return p.writer.WriteMessages(ctx, EncodeMessage(event))
}

func (p *KafkaPublisher) Close() error {
	return p.writer.Close()
}

// EncodeMessage - Keyed by aggregate so every event of one document lands on one partition
func EncodeMessage(event models.OutboxEvent) kafka.Message {
	return kafka.Message{
		Key:   []byte(event.AggregateID.String()),
		Value: event.Payload,
		Time:  event.CreatedAt,
		Headers: []kafka.Header{
			{Key: "event_id", Value: []byte(event.ID.String())},
			{Key: "event_type", Value: []byte(event.EventType)},
			{Key: "business_id", Value: []byte(event.BusinessID.String())},
			{Key: "source", Value: []byte(config.ServiceName)},
		},
	}
}
