// Package notify отправляет клиенту письма после оплаты: подтверждение
// заказа и инструкцию по составлению промпта. Сами шаблоны рендерит
// сервис рассылок, сюда уходят только данные.
package notify

import "time"

// Шаблоны писем.
const (
	TemplateOrderConfirmation = "order_confirmation"
	TemplatePromptGuide       = "prompt_guide"
)

// event_type сообщений.
const (
	EventOrderConfirmation = "email." + TemplateOrderConfirmation
	EventPromptGuide       = "email." + TemplatePromptGuide
)

// OrderConfirmation — данные письма о подтверждении заказа.
type OrderConfirmation struct {
	CustomerName string `json:"customer_name"`
	Email        string `json:"email"`
	OrderNumber  string `json:"order_number"`
	OrderURL     string `json:"order_url"`
	Tier         string `json:"tier"`
	ItemCount    int    `json:"item_count"`
	Total        string `json:"total"`
}

// PromptGuide — данные письма с инструкцией по промпту для дизайна.
type PromptGuide struct {
	CustomerName string `json:"customer_name"`
	Email        string `json:"email"`
	OrderNumber  string `json:"order_number"`
	OrderURL     string `json:"order_url"`
	Tier         string `json:"tier"`
	ItemCount    int    `json:"item_count"`
}

// emailMessage — конверт, который читает сервис рассылок.
type emailMessage struct {
	Template  string    `json:"template"`
	To        string    `json:"to"`
	Data      any       `json:"data"`
	CreatedAt time.Time `json:"created_at"`
}

func newEmailMessage(template, to string, data any) emailMessage {
	return emailMessage{
		Template:  template,
		To:        to,
		Data:      data,
		CreatedAt: time.Now().UTC(),
	}
}
