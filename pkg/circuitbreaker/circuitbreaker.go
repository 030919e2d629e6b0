// Package circuitbreaker предоставляет Circuit Breaker для вызовов внешних API
// (Stripe, SNS). При открытом breaker вызов отклоняется сразу с ErrUnavailable.
//
// Состояния:
//   - Closed: нормальная работа, запросы проходят
//   - Open: зависимость недоступна, запросы отклоняются мгновенно
//   - Half-Open: пробный период, пропускаем часть запросов
//
// Использование:
//
//	cb := circuitbreaker.New("stripe", nil)
//	sess, err := circuitbreaker.Execute(cb, func() (*stripe.CheckoutSession, error) { ... })
package circuitbreaker

import (
	"context"
	"errors"
	"time"

	"github.com/sony/gobreaker/v2"

	"example.com/order-payments/pkg/logger"
)

// ErrUnavailable возвращается, когда breaker открыт или перегружен в Half-Open.
var ErrUnavailable = errors.New("внешний сервис временно недоступен (circuit breaker)")

// Settings — настройки Circuit Breaker.
type Settings struct {
	MaxRequests  uint32        // Макс. запросов в Half-Open состоянии
	Interval     time.Duration // Интервал сброса счётчика в Closed
	Timeout      time.Duration // Время в Open до перехода в Half-Open
	FailureRatio float64       // Доля ошибок для перехода в Open
	MinRequests  uint32        // Мин. запросов для расчёта ratio
}

// DefaultSettings возвращает настройки по умолчанию.
func DefaultSettings() Settings {
	return Settings{
		MaxRequests:  1,
		Interval:     60 * time.Second,
		Timeout:      30 * time.Second,
		FailureRatio: 0.5,
		MinRequests:  5,
	}
}

// FailureClassifier решает, считать ли ошибку сбоем зависимости.
// Ошибки бизнес-логики (например, сессия не найдена) breaker не открывают.
type FailureClassifier func(err error) bool

// Breaker — обёртка над gobreaker с логированием смены состояний.
type Breaker struct {
	cb        *gobreaker.CircuitBreaker[any]
	name      string
	isFailure FailureClassifier
}

// New создаёт Circuit Breaker с настройками по умолчанию.
// classifier == nil - любая ошибка, кроме отмены контекста, считается сбоем.
func New(name string, classifier FailureClassifier) *Breaker {
	return NewWithSettings(name, DefaultSettings(), classifier)
}

// NewWithSettings создаёт Circuit Breaker с пользовательскими настройками.
func NewWithSettings(name string, s Settings, classifier FailureClassifier) *Breaker {
	if classifier == nil {
		classifier = defaultFailure
	}

	cb := gobreaker.NewCircuitBreaker[any](gobreaker.Settings{
		Name:        name,
		MaxRequests: s.MaxRequests,
		Interval:    s.Interval,
		Timeout:     s.Timeout,

		ReadyToTrip: func(counts gobreaker.Counts) bool {
			if counts.Requests < s.MinRequests {
				return false
			}
			failureRatio := float64(counts.TotalFailures) / float64(counts.Requests)
			return failureRatio >= s.FailureRatio
		},

		IsSuccessful: func(err error) bool {
			return err == nil || !classifier(err)
		},

		OnStateChange: func(name string, from gobreaker.State, to gobreaker.State) {
			log := logger.With().
				Str("breaker", name).
				Str("from", from.String()).
				Str("to", to.String()).
				Logger()

			switch to {
			case gobreaker.StateOpen:
				log.Warn().Msg("Circuit Breaker ОТКРЫТ — зависимость недоступна")
			case gobreaker.StateHalfOpen:
				log.Info().Msg("Circuit Breaker ПОЛУОТКРЫТ — пробуем восстановить")
			case gobreaker.StateClosed:
				log.Info().Msg("Circuit Breaker ЗАКРЫТ — зависимость восстановлена")
			}
		},
	})

	return &Breaker{cb: cb, name: name, isFailure: classifier}
}

// State возвращает текущее состояние breaker.
func (b *Breaker) State() gobreaker.State {
	return b.cb.State()
}

// Name возвращает имя breaker.
func (b *Breaker) Name() string {
	return b.name
}

// Execute выполняет fn через breaker. Ошибка fn возвращается как есть,
// отказ breaker — как ErrUnavailable.
func Execute[T any](b *Breaker, fn func() (T, error)) (T, error) {
	res, err := b.cb.Execute(func() (any, error) {
		return fn()
	})

	if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
		var zero T
		return zero, ErrUnavailable
	}

	if res == nil {
		var zero T
		return zero, err
	}
	return res.(T), err
}

func defaultFailure(err error) bool {
	return !errors.Is(err, context.Canceled)
}
