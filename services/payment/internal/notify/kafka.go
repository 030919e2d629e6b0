package notify

import (
	"context"

	"example.com/order-payments/pkg/kafka"
)

// jsonSender — отправка JSON в Kafka (реализуется kafka.Producer).
type jsonSender interface {
	SendJSON(ctx context.Context, topic, key, eventType string, payload any) error
}

// KafkaNotifier публикует письма в топик notifications.email.
// Ключ сообщения — номер заказа, письма одного заказа идут по порядку.
type KafkaNotifier struct {
	producer jsonSender
	topic    string
}

// NewKafkaNotifier создаёт KafkaNotifier.
func NewKafkaNotifier(producer jsonSender) *KafkaNotifier {
	return &KafkaNotifier{producer: producer, topic: kafka.TopicEmailNotifications}
}

// SendOrderConfirmation ставит в очередь письмо о подтверждении заказа.
func (n *KafkaNotifier) SendOrderConfirmation(ctx context.Context, msg OrderConfirmation) error {
	return n.producer.SendJSON(ctx, n.topic, msg.OrderNumber, EventOrderConfirmation,
		newEmailMessage(TemplateOrderConfirmation, msg.Email, msg))
}

// SendPromptGuide ставит в очередь письмо с инструкцией по промпту.
func (n *KafkaNotifier) SendPromptGuide(ctx context.Context, msg PromptGuide) error {
	return n.producer.SendJSON(ctx, n.topic, msg.OrderNumber, EventPromptGuide,
		newEmailMessage(TemplatePromptGuide, msg.Email, msg))
}
