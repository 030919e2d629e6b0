// Package kafka предоставляет обёртку над kafka-go для публикации событий
// Payment Service: события заказа (outbox), письма клиенту и аналитика.
package kafka

import (
	"context"
	"time"

	"github.com/segmentio/kafka-go"

	"example.com/order-payments/pkg/logger"
)

// Топики Payment Service.
const (
	// TopicOrderEvents - доменные события заказа (order.paid), пишутся через outbox.
	TopicOrderEvents = "orders.events"

	// TopicEmailNotifications - команды на отправку писем клиенту.
	TopicEmailNotifications = "notifications.email"

	// TopicAnalyticsEvents - продуктовая аналитика.
	TopicAnalyticsEvents = "analytics.events"
)

// Ключи для headers сообщений Kafka.
const (
	// HeaderTraceID - идентификатор трассировки для distributed tracing.
	HeaderTraceID = "trace_id"

	// HeaderEventType - тип события (order.paid, email.order_confirmation и т.д.).
	HeaderEventType = "event_type"

	// HeaderTimestamp - временная метка создания сообщения.
	HeaderTimestamp = "timestamp"
)

// Config содержит настройки для подключения к Kafka.
type Config struct {
	// Brokers - список адресов брокеров Kafka.
	Brokers []string
}

// Message - исходящее сообщение Kafka.
type Message struct {
	Topic   string
	Key     []byte
	Value   []byte
	Headers map[string]string
	Time    time.Time
}

// toKafkaMessage конвертирует Message в kafka.Message.
func (m *Message) toKafkaMessage() kafka.Message {
	headers := make([]kafka.Header, 0, len(m.Headers))
	for k, v := range m.Headers {
		headers = append(headers, kafka.Header{
			Key:   k,
			Value: []byte(v),
		})
	}

	ts := m.Time
	if ts.IsZero() {
		ts = time.Now()
	}

	return kafka.Message{
		Key:     m.Key,
		Value:   m.Value,
		Topic:   m.Topic,
		Headers: headers,
		Time:    ts,
	}
}

// TraceIDFromContext извлекает trace_id из context.
// Делегирует в pkg/logger для единообразной работы с контекстом.
func TraceIDFromContext(ctx context.Context) string {
	return logger.TraceIDFromContext(ctx)
}
