// Package outbox реализует Transactional Outbox: событие пишется в таблицу
// outbox в той же транзакции, что и изменение заказа, а Worker публикует
// его в Kafka с гарантией at-least-once.
package outbox

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Outbox — запись в таблице outbox.
type Outbox struct {
	ID            string
	AggregateType string // order
	AggregateID   string // ID заказа
	EventType     string // order.paid
	Topic         string
	MessageKey    string // Ключ партиционирования, обычно ID заказа
	Payload       []byte
	Headers       map[string]string
	CreatedAt     time.Time
	ProcessedAt   *time.Time // nil - ещё не отправлена
	RetryCount    int
	LastError     *string
}

// New создаёт запись outbox с сериализованным payload.
// Ключ сообщения совпадает с aggregateID, чтобы события одного заказа шли в одну партицию.
func New(aggregateType, aggregateID, eventType, topic string, payload any, headers map[string]string) (*Outbox, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("ошибка сериализации события %s: %w", eventType, err)
	}

	return &Outbox{
		ID:            uuid.NewString(),
		AggregateType: aggregateType,
		AggregateID:   aggregateID,
		EventType:     eventType,
		Topic:         topic,
		MessageKey:    aggregateID,
		Payload:       data,
		Headers:       headers,
		CreatedAt:     time.Now().UTC(),
	}, nil
}

// HeadersJSON возвращает headers в формате JSON для БД.
func (o *Outbox) HeadersJSON() ([]byte, error) {
	if len(o.Headers) == 0 {
		return nil, nil
	}
	return json.Marshal(o.Headers)
}

// SetHeadersFromJSON устанавливает headers из JSON.
func (o *Outbox) SetHeadersFromJSON(data []byte) error {
	if len(data) == 0 {
		return nil
	}
	return json.Unmarshal(data, &o.Headers)
}
