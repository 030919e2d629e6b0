package handler

import (
	"context"

	"example.com/order-payments/services/payment/internal/service"
)

// PaymentConfirmer — подтверждение оплаты по checkout-сессии.
// Позволяет мокировать ConfirmationService в тестах.
type PaymentConfirmer interface {
	ConfirmPayment(ctx context.Context, sessionID string) (*service.ConfirmResult, error)
}
