// Package analytics публикует продуктовые события в топик analytics.events.
package analytics

import (
	"context"
	"time"

	"example.com/order-payments/pkg/kafka"
)

// EventOrderPaid — заказ оплачен.
const EventOrderPaid = "order.paid"

// Event — продуктовое событие.
type Event struct {
	Name       string         `json:"event"`
	DistinctID string         `json:"distinct_id"` // ID пользователя
	Properties map[string]any `json:"properties"`
	Timestamp  time.Time      `json:"timestamp"`
}

type jsonSender interface {
	SendJSON(ctx context.Context, topic, key, eventType string, payload any) error
}

// KafkaPublisher отправляет события в Kafka.
type KafkaPublisher struct {
	producer jsonSender
}

// NewKafkaPublisher создаёт KafkaPublisher.
func NewKafkaPublisher(producer jsonSender) *KafkaPublisher {
	return &KafkaPublisher{producer: producer}
}

// Publish отправляет событие. Пустой Timestamp заполняется текущим временем.
func (p *KafkaPublisher) Publish(ctx context.Context, e Event) error {
	if e.Timestamp.IsZero() {
		e.Timestamp = time.Now().UTC()
	}
	return p.producer.SendJSON(ctx, kafka.TopicAnalyticsEvents, e.DistinctID, e.Name, e)
}
