// Package domain содержит бизнес-сущности Payment Service и сверку
// checkout-сессии платёжного провайдера с заказом.
package domain

import (
	"errors"
	"fmt"
)

// Доменные ошибки подтверждения оплаты.
// Все, кроме инфраструктурных, прерывают операцию до изменения заказа.
var (
	// ErrInvalidSessionID — пустой ID checkout-сессии.
	ErrInvalidSessionID = errors.New("некорректный ID checkout-сессии")

	// ErrPaymentIncomplete — сессия ещё не оплачена (payment_status != paid).
	ErrPaymentIncomplete = errors.New("оплата не завершена")

	// ErrOrderIDNotFound — в метаданных сессии нет orderId.
	ErrOrderIDNotFound = errors.New("ID заказа не найден в метаданных сессии")

	// ErrOrderNotFound — заказ из метаданных сессии не существует.
	ErrOrderNotFound = errors.New("заказ не найден")

	// ErrOrderAlreadyPaid — заказ уже оплачен (проигрыш гонки при фиксации).
	// Наружу не возвращается: сервис превращает её в идемпотентный ответ.
	ErrOrderAlreadyPaid = errors.New("заказ уже оплачен")

	// ErrInvalidTransition — заказ не в PENDING и не в PAID (например, отменён).
	ErrInvalidTransition = errors.New("недопустимый переход статуса заказа")

	// ErrIntegrityMismatch — общий тип для расхождений сессии и заказа.
	ErrIntegrityMismatch = errors.New("данные сессии не соответствуют заказу")

	// ErrIdentityMismatch — client_reference_id или userId не совпадают с заказом.
	ErrIdentityMismatch = errors.New("сессия принадлежит другому заказу или пользователю")

	// ErrUnsupportedCurrency — валюта сессии отличается от валюты расчётов.
	ErrUnsupportedCurrency = errors.New("неподдерживаемая валюта")

	// ErrAmountMismatch — сумма сессии не совпадает с суммой заказа.
	ErrAmountMismatch = errors.New("сумма оплаты не совпадает с суммой заказа")
)

// IntegrityError — расхождение сессии и заказа.
// errors.Is срабатывает и на ErrIntegrityMismatch, и на конкретный Kind.
type IntegrityError struct {
	Kind     error  // ErrIdentityMismatch, ErrUnsupportedCurrency или ErrAmountMismatch
	Field    string // client_reference_id, metadata.userId, currency, amount_total
	Expected string
	Got      string
}

func (e *IntegrityError) Error() string {
	return fmt.Sprintf("%s: %s (ожидалось %q, получено %q)", e.Kind, e.Field, e.Expected, e.Got)
}

// Unwrap возвращает семейство и конкретный вид ошибки.
func (e *IntegrityError) Unwrap() []error {
	return []error{ErrIntegrityMismatch, e.Kind}
}

func newIntegrityError(kind error, field, expected, got string) *IntegrityError {
	return &IntegrityError{Kind: kind, Field: field, Expected: expected, Got: got}
}

// ErrPromoCodeNotFound — промокод из заказа не найден при увеличении счётчика.
var ErrPromoCodeNotFound = errors.New("промокод не найден")
