// Package events publishes payment lifecycle events for downstream
// consumers (fulfilment, notifications, analytics).
package events

import (
	"context"
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"github.com/segmentio/kafka-go"
)

// Envelope is the stable event schema the gateway publishes.
type Envelope struct {
	EventID      string    `json:"eventId"`
	EventType    string    `json:"eventType"`
	EventVersion string    `json:"eventVersion"`
	OccurredAt   time.Time `json:"occurredAt"`
	AggregateID  string    `json:"aggregateId"` // orderId, keeps per-order ordering
	Data         any       `json:"data"`
}

// Producer writes gateway events to Kafka.
type Producer struct {
	w     *kafka.Writer
	topic string
}

func NewProducer(brokers []string, topic string) *Producer {
	return &Producer{
		w: kafka.NewWriter(kafka.WriterConfig{
			Brokers:  brokers,
			Balancer: &kafka.Hash{}, // partition by message key
		}),
		topic: topic,
	}
}

func (p *Producer) Close() error { return p.w.Close() }

// PublishStatusChanged emits one PaymentStatusChanged event keyed by order.
func (p *Producer) PublishStatusChanged(ctx context.Context, orderID, transactionID, status string) error {
	evt := Envelope{
		EventID:      uuid.New().String(),
		EventType:    "PaymentStatusChanged",
		EventVersion: "v1",
		OccurredAt:   time.Now().UTC(),
		AggregateID:  orderID,
		Data: map[string]any{
			"orderId":       orderID,
			"transactionId": transactionID,
			"status":        status,
			"provider":      "bml-connect",
		},
	}
	val, _ := json.Marshal(evt)
	return p.w.WriteMessages(ctx, kafka.Message{
		Topic: p.topic,
		Key:   []byte(orderID),
		Value: val,
	})
}
