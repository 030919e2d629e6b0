package domain

import (
	"strings"

	"github.com/shopspring/decimal"
)

const (
	// SettlementCurrency — единственная валюта расчётов.
	SettlementCurrency = "usd"

	// DefaultPaymentMethod — метод оплаты, если провайдер его не вернул.
	DefaultPaymentMethod = "card"

	// DefaultCountry — страна для аналитики, если у заказа нет адреса.
	DefaultCountry = "US"
)

// AmountTolerance — допустимое расхождение суммы, 0.01 в основных единицах.
var AmountTolerance = decimal.New(1, -2)

// MinorToMajor переводит центы в доллары.
func MinorToMajor(minor int64) decimal.Decimal {
	return decimal.New(minor, -2)
}

// VerifySession сверяет сессию с заказом без обращения к внешним системам.
// Возвращает сумму сессии в основных единицах или *IntegrityError.
//
// Пустые client_reference_id, userId и currency не проверяются.
func (o *Order) VerifySession(s *Session) (decimal.Decimal, error) {
	if s.ClientReferenceID != "" && s.ClientReferenceID != o.ID {
		return decimal.Zero, newIntegrityError(ErrIdentityMismatch, "client_reference_id", o.ID, s.ClientReferenceID)
	}

	if s.UserID != "" && s.UserID != o.UserID {
		return decimal.Zero, newIntegrityError(ErrIdentityMismatch, "metadata.userId", o.UserID, s.UserID)
	}

	if s.Currency != "" && !strings.EqualFold(s.Currency, SettlementCurrency) {
		return decimal.Zero, newIntegrityError(ErrUnsupportedCurrency, "currency", SettlementCurrency, strings.ToLower(s.Currency))
	}

	paid := MinorToMajor(s.AmountTotal)
	if paid.Sub(o.TotalAmount).Abs().GreaterThan(AmountTolerance) {
		return decimal.Zero, newIntegrityError(ErrAmountMismatch, "amount_total",
			o.TotalAmount.StringFixed(2), paid.StringFixed(2))
	}

	return paid, nil
}
