package domain

import (
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// PaymentStatus — статус платежа.
type PaymentStatus string

// PaymentStatusCompleted — единственный статус, который создаёт этот сервис.
const PaymentStatusCompleted PaymentStatus = "COMPLETED"

// Payment — платёж по заказу. На один заказ не больше одного платежа.
type Payment struct {
	ID                string
	OrderID           string
	ProviderPaymentID string // payment_intent Stripe
	Amount            decimal.Decimal
	Currency          string
	Status            PaymentStatus
	Method            string
	CreatedAt         time.Time
}

// NewPayment собирает завершённый платёж по сверенной сессии.
// amount — сумма, уже переведённая в основные единицы.
func NewPayment(id, orderID string, s *Session, amount decimal.Decimal, now time.Time) *Payment {
	currency := strings.ToLower(s.Currency)
	if currency == "" {
		currency = SettlementCurrency
	}

	method := s.PaymentMethod
	if method == "" {
		method = DefaultPaymentMethod
	}

	return &Payment{
		ID:                id,
		OrderID:           orderID,
		ProviderPaymentID: s.PaymentIntentID,
		Amount:            amount,
		Currency:          currency,
		Status:            PaymentStatusCompleted,
		Method:            method,
		CreatedAt:         now,
	}
}
