// Package service содержит бизнес-логику Payment Service:
// подтверждение оплаты по checkout-сессии Stripe.
package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"go.opentelemetry.io/otel/attribute"

	"example.com/order-payments/pkg/config"
	"example.com/order-payments/pkg/dispatch"
	"example.com/order-payments/pkg/kafka"
	"example.com/order-payments/pkg/logger"
	"example.com/order-payments/pkg/metrics"
	"example.com/order-payments/pkg/outbox"
	"example.com/order-payments/pkg/tracing"
	"example.com/order-payments/services/payment/internal/analytics"
	"example.com/order-payments/services/payment/internal/domain"
	"example.com/order-payments/services/payment/internal/notify"
	"example.com/order-payments/services/payment/internal/repository"
)

const (
	// confirmedKeyPrefix — метка уже подтверждённой сессии в Redis.
	confirmedKeyPrefix = "payment:confirmed:"

	// confirmedTTL — сколько хранится метка (Stripe повторяет webhook до 3 суток,
	// дальше защищает БД).
	confirmedTTL = 24 * time.Hour

	// AggregateOrder — тип агрегата записей outbox этого сервиса.
	AggregateOrder = "order"

	// EventOrderPaid — доменное событие в orders.events.
	EventOrderPaid = "order.paid"

	serviceName = "payment-service"
	tracerName  = "payment-service/confirmation"
)

// Имена фоновых задач (label task в fanout_tasks_total).
const (
	TaskPromoUsage        = "promo_usage"
	TaskOrderConfirmation = "order_confirmation_email"
	TaskPromptGuide       = "prompt_guide_email"
	TaskAnalytics         = "analytics_order_paid"
)

// SessionRetriever — чтение checkout-сессии у провайдера.
type SessionRetriever interface {
	Retrieve(ctx context.Context, sessionID string) (*domain.Session, error)
}

// Notifier — письма клиенту.
type Notifier interface {
	SendOrderConfirmation(ctx context.Context, msg notify.OrderConfirmation) error
	SendPromptGuide(ctx context.Context, msg notify.PromptGuide) error
}

// AnalyticsPublisher — продуктовые события.
type AnalyticsPublisher interface {
	Publish(ctx context.Context, e analytics.Event) error
}

// TaskRunner — исполнитель фоновых задач (dispatch.Dispatcher).
type TaskRunner interface {
	Go(ctx context.Context, name string, fn dispatch.Task)
}

// Config — настройки сервиса, известные на старте.
type Config struct {
	// FrontendURL — адрес фронтенда для ссылок в письмах.
	FrontendURL string
}

// Deps — зависимости ConfirmationService.
type Deps struct {
	Sessions  SessionRetriever
	Orders    repository.OrderRepository
	Promos    repository.PromoRepository
	Notifier  Notifier
	Analytics AnalyticsPublisher
	Tasks     TaskRunner
	Redis     redis.UniversalClient // nil - без быстрой проверки повторов
}

// ConfirmResult — результат подтверждения оплаты.
type ConfirmResult struct {
	OrderID     string `json:"order_id"`
	PaymentID   string `json:"payment_id,omitempty"`
	AlreadyPaid bool   `json:"already_paid"`
}

// ConfirmationService подтверждает оплату заказа по checkout-сессии.
type ConfirmationService struct {
	deps        Deps
	frontendURL string
	now         func() time.Time
	newID       func() string
}

// NewConfirmationService создаёт сервис подтверждения оплаты.
func NewConfirmationService(deps Deps, cfg Config) *ConfirmationService {
	return &ConfirmationService{
		deps:        deps,
		frontendURL: config.FrontendConfig{URL: cfg.FrontendURL}.BaseURL(),
		now:         func() time.Time { return time.Now().UTC() },
		newID:       uuid.NewString,
	}
}

// ConfirmPayment сверяет сессию с заказом и переводит заказ в PAID.
//
// Повторный вызов для оплаченного заказа возвращает AlreadyPaid без побочных
// эффектов. Письма, промокод и аналитика выполняются в фоне и не влияют
// на результат.
func (s *ConfirmationService) ConfirmPayment(ctx context.Context, sessionID string) (res *ConfirmResult, err error) {
	start := time.Now()
	ctx = logger.WithSessionID(ctx, sessionID)
	ctx, span := tracing.StartSpan(ctx, tracerName, "ConfirmPayment",
		attribute.String("checkout.session_id", sessionID))
	defer func() {
		tracing.RecordError(span, err)
		span.End()

		status := metrics.StatusSuccess
		if err != nil {
			status = metrics.StatusError
		}
		metrics.RecordConfirmation(resultLabel(res, err))
		metrics.RecordRequest(serviceName, "ConfirmPayment", status, time.Since(start))
	}()

	if strings.TrimSpace(sessionID) == "" {
		return nil, domain.ErrInvalidSessionID
	}

	if cached := s.lookupConfirmed(ctx, sessionID); cached != nil {
		logger.Ctx(ctx).Info().Msg("Сессия уже подтверждена ранее (Redis)")
		return cached, nil
	}

	// 1. Сессия и статус оплаты
	sess, err := s.deps.Sessions.Retrieve(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	if !sess.IsPaid() {
		logger.Ctx(ctx).Info().
			Str("payment_status", sess.PaymentStatus).
			Msg("Оплата по сессии не завершена")
		return nil, domain.ErrPaymentIncomplete
	}

	// 2. Заказ и идемпотентность
	if sess.OrderID == "" {
		return nil, domain.ErrOrderIDNotFound
	}
	ctx = logger.WithOrderID(ctx, sess.OrderID)
	span.SetAttributes(attribute.String("order.id", sess.OrderID))
	log := logger.FromContext(ctx)

	order, err := s.deps.Orders.GetByID(ctx, sess.OrderID)
	if err != nil {
		return nil, err
	}

	if order.IsPaid() {
		res = &ConfirmResult{OrderID: order.ID, AlreadyPaid: true}
		if order.Payment != nil {
			res.PaymentID = order.Payment.ID
		}
		log.Info().Msg("Заказ уже оплачен, повторное подтверждение пропущено")
		s.rememberConfirmed(ctx, sessionID, res)
		return res, nil
	}
	if !order.CanMarkPaid() {
		log.Warn().Str("status", string(order.Status)).Msg("Заказ нельзя перевести в PAID")
		return nil, domain.ErrInvalidTransition
	}

	// 3. Сверка сессии и заказа
	amount, err := order.VerifySession(sess)
	if err != nil {
		log.Warn().Err(err).Msg("Сессия не прошла сверку с заказом")
		return nil, err
	}

	// 4. Фиксация оплаты
	now := s.now()
	payment := domain.NewPayment(s.newID(), order.ID, sess, amount, now)

	event, err := outbox.New(AggregateOrder, order.ID, EventOrderPaid, kafka.TopicOrderEvents,
		newOrderPaidEvent(order, payment, now), traceHeaders(ctx))
	if err != nil {
		return nil, err
	}

	paid, err := s.deps.Orders.MarkPaid(ctx, order.ID, payment, now, event)
	if errors.Is(err, domain.ErrOrderAlreadyPaid) {
		log.Info().Msg("Заказ оплачен параллельным подтверждением")
		res = &ConfirmResult{OrderID: order.ID, AlreadyPaid: true}
		if current, getErr := s.deps.Orders.GetByID(ctx, order.ID); getErr == nil && current.Payment != nil {
			res.PaymentID = current.Payment.ID
		}
		s.rememberConfirmed(ctx, sessionID, res)
		return res, nil
	}
	if err != nil {
		committed, ok := s.committedPayment(ctx, order.ID, payment.ID)
		if !ok {
			return nil, fmt.Errorf("ошибка фиксации оплаты: %w", err)
		}
		log.Warn().Err(err).Msg("Ошибка после фиксации оплаты, платёж сохранён")
		paid = committed
	}

	log.Info().
		Str("payment_id", payment.ID).
		Str("amount", amount.StringFixed(2)).
		Msg("Оплата заказа подтверждена")

	res = &ConfirmResult{OrderID: paid.ID, PaymentID: payment.ID}
	s.rememberConfirmed(ctx, sessionID, res)
	s.dispatchSideEffects(ctx, paid)

	return res, nil
}

// committedPayment проверяет, сохранён ли платёж paymentID несмотря на ошибку
// MarkPaid (например, обрыв соединения после COMMIT). Повторная доставка
// webhook увидит уже оплаченный заказ и фоновые задачи не поставит, поэтому
// их нужно запустить сейчас.
func (s *ConfirmationService) committedPayment(ctx context.Context, orderID, paymentID string) (*domain.Order, bool) {
	current, err := s.deps.Orders.GetByID(ctx, orderID)
	if err != nil {
		return nil, false
	}
	if !current.IsPaid() || current.Payment == nil || current.Payment.ID != paymentID {
		return nil, false
	}
	return current, true
}

// dispatchSideEffects ставит фоновые задачи после оплаты. Не блокирует.
func (s *ConfirmationService) dispatchSideEffects(ctx context.Context, order *domain.Order) {
	if order.HasPromoCode() {
		promoID := *order.PromoCodeID
		s.deps.Tasks.Go(ctx, TaskPromoUsage, func(ctx context.Context) error {
			return s.deps.Promos.IncrementUsage(ctx, promoID)
		})
	}

	orderURL := s.OrderURL(order.ID)
	customer := order.User.DisplayName()

	confirmation := notify.OrderConfirmation{
		CustomerName: customer,
		Email:        order.User.Email,
		OrderNumber:  order.OrderNumber,
		OrderURL:     orderURL,
		Tier:         order.DesignTier,
		ItemCount:    order.ItemCount(),
		Total:        order.TotalAmount.StringFixed(2),
	}
	s.deps.Tasks.Go(ctx, TaskOrderConfirmation, func(ctx context.Context) error {
		return s.deps.Notifier.SendOrderConfirmation(ctx, confirmation)
	})

	guide := notify.PromptGuide{
		CustomerName: customer,
		Email:        order.User.Email,
		OrderNumber:  order.OrderNumber,
		OrderURL:     orderURL,
		Tier:         order.DesignTier,
		ItemCount:    order.ItemCount(),
	}
	s.deps.Tasks.Go(ctx, TaskPromptGuide, func(ctx context.Context) error {
		return s.deps.Notifier.SendPromptGuide(ctx, guide)
	})

	event := analytics.Event{
		Name:       analytics.EventOrderPaid,
		DistinctID: order.UserID,
		Properties: map[string]any{
			"order_id":     order.ID,
			"order_number": order.OrderNumber,
			"amount":       order.TotalAmount.InexactFloat64(),
			"tier":         order.DesignTier,
			"item_count":   order.ItemCount(),
			"country":      order.ShippingCountry(),
		},
	}
	s.deps.Tasks.Go(ctx, TaskAnalytics, func(ctx context.Context) error {
		return s.deps.Analytics.Publish(ctx, event)
	})
}

// OrderURL возвращает ссылку на страницу дизайна заказа.
func (s *ConfirmationService) OrderURL(orderID string) string {
	return s.frontendURL + "/design?orderId=" + url.QueryEscape(orderID)
}

// lookupConfirmed возвращает результат из метки Redis или nil.
// Ошибки Redis не мешают подтверждению: источник истины — БД.
func (s *ConfirmationService) lookupConfirmed(ctx context.Context, sessionID string) *ConfirmResult {
	if s.deps.Redis == nil {
		return nil
	}

	data, err := s.deps.Redis.Get(ctx, confirmedKeyPrefix+sessionID).Bytes()
	if err != nil {
		if !errors.Is(err, redis.Nil) {
			logger.Ctx(ctx).Warn().Err(err).Msg("Ошибка чтения метки подтверждения из Redis")
		}
		return nil
	}

	var res ConfirmResult
	if err := json.Unmarshal(data, &res); err != nil || res.OrderID == "" {
		return nil
	}
	res.AlreadyPaid = true
	return &res
}

func (s *ConfirmationService) rememberConfirmed(ctx context.Context, sessionID string, res *ConfirmResult) {
	if s.deps.Redis == nil {
		return
	}

	data, err := json.Marshal(ConfirmResult{OrderID: res.OrderID, PaymentID: res.PaymentID})
	if err != nil {
		return
	}
	if err := s.deps.Redis.Set(ctx, confirmedKeyPrefix+sessionID, data, confirmedTTL).Err(); err != nil {
		logger.Ctx(ctx).Warn().Err(err).Msg("Ошибка записи метки подтверждения в Redis")
	}
}

// ReportTaskError — обработчик ошибок фоновых задач для dispatch.New.
func ReportTaskError(ctx context.Context, task string, err error) {
	logger.Ctx(ctx).Error().
		Err(err).
		Str("task", task).
		Msg("Фоновая задача после оплаты завершилась ошибкой")
}

// orderPaidEvent — payload события order.paid.
type orderPaidEvent struct {
	OrderID     string    `json:"order_id"`
	OrderNumber string    `json:"order_number"`
	UserID      string    `json:"user_id"`
	PaymentID   string    `json:"payment_id"`
	ProviderID  string    `json:"provider_payment_id"`
	Amount      string    `json:"amount"`
	Currency    string    `json:"currency"`
	PaidAt      time.Time `json:"paid_at"`
}

func newOrderPaidEvent(o *domain.Order, p *domain.Payment, paidAt time.Time) orderPaidEvent {
	return orderPaidEvent{
		OrderID:     o.ID,
		OrderNumber: o.OrderNumber,
		UserID:      o.UserID,
		PaymentID:   p.ID,
		ProviderID:  p.ProviderPaymentID,
		Amount:      p.Amount.StringFixed(2),
		Currency:    p.Currency,
		PaidAt:      paidAt,
	}
}

func traceHeaders(ctx context.Context) map[string]string {
	traceID := logger.TraceIDFromContext(ctx)
	if traceID == "" {
		traceID = tracing.TraceID(ctx)
	}
	if traceID == "" {
		return nil
	}
	return map[string]string{kafka.HeaderTraceID: traceID}
}

// resultLabel — значение label result для payment_confirmations_total.
func resultLabel(res *ConfirmResult, err error) string {
	switch {
	case err == nil && res != nil && res.AlreadyPaid:
		return "already_paid"
	case err == nil:
		return "paid"
	case errors.Is(err, domain.ErrPaymentIncomplete):
		return "incomplete"
	case errors.Is(err, domain.ErrIntegrityMismatch):
		return "integrity_mismatch"
	case errors.Is(err, domain.ErrOrderIDNotFound), errors.Is(err, domain.ErrOrderNotFound):
		return "not_found"
	case errors.Is(err, domain.ErrInvalidTransition):
		return "invalid_transition"
	case errors.Is(err, domain.ErrInvalidSessionID):
		return "invalid_session"
	default:
		return "error"
	}
}
