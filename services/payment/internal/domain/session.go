package domain

// PaymentStatusPaid — payment_status оплаченной checkout-сессии.
const PaymentStatusPaid = "paid"

// Session — checkout-сессия провайдера, нормализованная на границе с его API.
// Только для чтения.
type Session struct {
	ID                string
	PaymentStatus     string
	OrderID           string // metadata.orderId
	UserID            string // metadata.userId
	ClientReferenceID string
	AmountTotal       int64  // в минимальных единицах (центы)
	Currency          string // в нижнем регистре, может быть пустой
	PaymentIntentID   string
	PaymentMethod     string // первый из payment_method_types
}

// IsPaid возвращает true, если провайдер подтвердил оплату.
func (s *Session) IsPaid() bool {
	return s.PaymentStatus == PaymentStatusPaid
}
