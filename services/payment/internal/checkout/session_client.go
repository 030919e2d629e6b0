// Package checkout получает checkout-сессии Stripe и приводит их к domain.Session.
package checkout

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/stripe/stripe-go/v80"
	"github.com/stripe/stripe-go/v80/checkout/session"

	"example.com/order-payments/pkg/circuitbreaker"
	"example.com/order-payments/services/payment/internal/domain"
)

// Ключи метаданных, которые кладёт в сессию Order Service при её создании.
const (
	MetadataOrderID = "orderId"
	MetadataUserID  = "userId"
)

// sessionGetter — часть session.Client, используемая SessionClient.
type sessionGetter interface {
	Get(id string, params *stripe.CheckoutSessionParams) (*stripe.CheckoutSession, error)
}

// SessionClient читает checkout-сессии через Stripe API под circuit breaker.
// Повторов нет: при ошибке провайдера повторит сам Stripe (доставка webhook).
type SessionClient struct {
	sessions sessionGetter
	breaker  *circuitbreaker.Breaker
}

// NewSessionClient создаёт клиент с ключом secretKey.
func NewSessionClient(secretKey string) *SessionClient {
	return newSessionClient(session.Client{
		B:   stripe.GetBackend(stripe.APIBackend),
		Key: secretKey,
	})
}

func newSessionClient(getter sessionGetter) *SessionClient {
	return &SessionClient{
		sessions: getter,
		breaker:  circuitbreaker.New("stripe", isProviderFailure),
	}
}

// Retrieve возвращает сессию по ID.
// Несуществующая сессия — domain.ErrInvalidSessionID,
// открытый breaker — circuitbreaker.ErrUnavailable.
func (c *SessionClient) Retrieve(ctx context.Context, sessionID string) (*domain.Session, error) {
	if strings.TrimSpace(sessionID) == "" {
		return nil, domain.ErrInvalidSessionID
	}

	params := &stripe.CheckoutSessionParams{}
	params.Context = ctx
	params.AddExpand("payment_intent")

	sess, err := circuitbreaker.Execute(c.breaker, func() (*stripe.CheckoutSession, error) {
		return c.sessions.Get(sessionID, params)
	})
	if err != nil {
		if isResourceMissing(err) {
			return nil, fmt.Errorf("%w: сессия %s не найдена в Stripe", domain.ErrInvalidSessionID, sessionID)
		}
		return nil, fmt.Errorf("ошибка получения checkout-сессии: %w", err)
	}

	return sessionFromStripe(sess), nil
}

// sessionFromStripe нормализует сессию Stripe: валюта в нижнем регистре,
// метод оплаты — первый из payment_method_types.
func sessionFromStripe(s *stripe.CheckoutSession) *domain.Session {
	out := &domain.Session{
		ID:                s.ID,
		PaymentStatus:     string(s.PaymentStatus),
		ClientReferenceID: s.ClientReferenceID,
		AmountTotal:       s.AmountTotal,
		Currency:          strings.ToLower(string(s.Currency)),
	}

	if s.Metadata != nil {
		out.OrderID = s.Metadata[MetadataOrderID]
		out.UserID = s.Metadata[MetadataUserID]
	}

	if s.PaymentIntent != nil {
		out.PaymentIntentID = s.PaymentIntent.ID
	}

	if len(s.PaymentMethodTypes) > 0 {
		out.PaymentMethod = s.PaymentMethodTypes[0]
	}

	return out
}

// isResourceMissing — Stripe ответил 404 на запрос сессии.
func isResourceMissing(err error) bool {
	var stripeErr *stripe.Error
	if !errors.As(err, &stripeErr) {
		return false
	}
	return stripeErr.HTTPStatusCode == http.StatusNotFound || stripeErr.Code == stripe.ErrorCodeResourceMissing
}

// isProviderFailure — ошибки 4xx (кроме 429) означают проблему запроса, а не Stripe,
// и breaker не открывают.
func isProviderFailure(err error) bool {
	if errors.Is(err, context.Canceled) {
		return false
	}

	var stripeErr *stripe.Error
	if errors.As(err, &stripeErr) {
		code := stripeErr.HTTPStatusCode
		if code >= 400 && code < 500 && code != http.StatusTooManyRequests {
			return false
		}
	}
	return true
}
