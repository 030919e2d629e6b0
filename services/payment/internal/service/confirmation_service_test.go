package service

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"example.com/order-payments/pkg/dispatch"
	"example.com/order-payments/pkg/kafka"
	"example.com/order-payments/pkg/outbox"
	"example.com/order-payments/services/payment/internal/analytics"
	"example.com/order-payments/services/payment/internal/domain"
	"example.com/order-payments/services/payment/internal/notify"
)

// ==================== Фейки ====================

type fakeSessions struct {
	mu       sync.Mutex
	sessions map[string]*domain.Session
	err      error
	calls    int
}

func (f *fakeSessions) Retrieve(_ context.Context, id string) (*domain.Session, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	if f.err != nil {
		return nil, f.err
	}
	s, ok := f.sessions[id]
	if !ok {
		return nil, domain.ErrInvalidSessionID
	}
	cp := *s
	return &cp, nil
}

// memOrders — репозиторий в памяти с проверкой PENDING -> PAID под мьютексом.
type memOrders struct {
	mu       sync.Mutex
	orders   map[string]*domain.Order
	events   []*outbox.Outbox
	payments int
	getErr   error
	// beforeMarkPaid вызывается перед фиксацией (имитация параллельного подтверждения)
	beforeMarkPaid func(o *domain.Order)
	// markPaidErr возвращается из MarkPaid; при commitOnErr запись всё равно сохраняется
	markPaidErr error
	commitOnErr bool
}

func (m *memOrders) GetByID(_ context.Context, id string) (*domain.Order, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.getErr != nil {
		return nil, m.getErr
	}
	o, ok := m.orders[id]
	if !ok {
		return nil, domain.ErrOrderNotFound
	}
	cp := *o
	return &cp, nil
}

func (m *memOrders) MarkPaid(_ context.Context, id string, p *domain.Payment, paidAt time.Time, event *outbox.Outbox) (*domain.Order, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	o, ok := m.orders[id]
	if !ok {
		return nil, domain.ErrOrderNotFound
	}
	if m.beforeMarkPaid != nil {
		m.beforeMarkPaid(o)
		m.beforeMarkPaid = nil
	}
	if o.IsPaid() || o.Payment != nil {
		return nil, domain.ErrOrderAlreadyPaid
	}
	if !o.CanMarkPaid() {
		return nil, domain.ErrInvalidTransition
	}
	if m.markPaidErr != nil && !m.commitOnErr {
		return nil, m.markPaidErr
	}
	o.Status = domain.OrderStatusPaid
	o.PaidAt = &paidAt
	o.Payment = p
	m.payments++
	if event != nil {
		m.events = append(m.events, event)
	}
	if m.markPaidErr != nil {
		return nil, m.markPaidErr
	}
	cp := *o
	return &cp, nil
}

type fakePromos struct {
	mu  sync.Mutex
	ids []string
	err error
}

func (f *fakePromos) IncrementUsage(_ context.Context, id string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.ids = append(f.ids, id)
	return f.err
}

type fakeNotifier struct {
	mu            sync.Mutex
	confirmations []notify.OrderConfirmation
	guides        []notify.PromptGuide
	err           error
}

func (f *fakeNotifier) SendOrderConfirmation(_ context.Context, msg notify.OrderConfirmation) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.confirmations = append(f.confirmations, msg)
	return f.err
}

func (f *fakeNotifier) SendPromptGuide(_ context.Context, msg notify.PromptGuide) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.guides = append(f.guides, msg)
	return f.err
}

type fakeAnalytics struct {
	mu     sync.Mutex
	events []analytics.Event
	err    error
}

func (f *fakeAnalytics) Publish(_ context.Context, e analytics.Event) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.events = append(f.events, e)
	return f.err
}

// ==================== Окружение ====================

type env struct {
	svc        *ConfirmationService
	sessions   *fakeSessions
	orders     *memOrders
	promos     *fakePromos
	notifier   *fakeNotifier
	analytics  *fakeAnalytics
	dispatcher *dispatch.Dispatcher
	redis      *miniredis.Miniredis
}

func (e *env) wait(t *testing.T) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	require.NoError(t, e.dispatcher.Wait(ctx))
}

func pendingOrder() *domain.Order {
	promo := "promo-1"
	return &domain.Order{
		ID:          "order-1",
		OrderNumber: "ORD-1001",
		UserID:      "user-1",
		User:        domain.User{ID: "user-1", Email: "ann@example.com", FirstName: "Ann"},
		Status:      domain.OrderStatusPending,
		TotalAmount: decimal.RequireFromString("49.99"),
		DesignTier:  "premium",
		Items:       []domain.OrderItem{{ID: "i1"}, {ID: "i2"}},
		Address:     &domain.Address{Country: "CA"},
		PromoCodeID: &promo,
	}
}

func paidSession() *domain.Session {
	return &domain.Session{
		ID:                "cs_test_1",
		PaymentStatus:     domain.PaymentStatusPaid,
		OrderID:           "order-1",
		UserID:            "user-1",
		ClientReferenceID: "order-1",
		AmountTotal:       4999,
		Currency:          "usd",
		PaymentIntentID:   "pi_1",
		PaymentMethod:     "card",
	}
}

func newEnv(t *testing.T) *env {
	t.Helper()

	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })

	e := &env{
		sessions:   &fakeSessions{sessions: map[string]*domain.Session{"cs_test_1": paidSession()}},
		orders:     &memOrders{orders: map[string]*domain.Order{"order-1": pendingOrder()}},
		promos:     &fakePromos{},
		notifier:   &fakeNotifier{},
		analytics:  &fakeAnalytics{},
		dispatcher: dispatch.New(dispatch.Config{MaxConcurrent: 4}, nil),
		redis:      mr,
	}

	e.svc = NewConfirmationService(Deps{
		Sessions:  e.sessions,
		Orders:    e.orders,
		Promos:    e.promos,
		Notifier:  e.notifier,
		Analytics: e.analytics,
		Tasks:     e.dispatcher,
		Redis:     rdb,
	}, Config{FrontendURL: "https://shop.example.com/"})
	e.svc.newID = func() string { return "pay-1" }
	e.svc.now = func() time.Time { return time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC) }

	return e
}

// ==================== Тесты ====================

func TestConfirmPayment_Success(t *testing.T) {
	e := newEnv(t)

	res, err := e.svc.ConfirmPayment(context.Background(), "cs_test_1")
	require.NoError(t, err)
	e.wait(t)

	assert.Equal(t, &ConfirmResult{OrderID: "order-1", PaymentID: "pay-1"}, res)

	order := e.orders.orders["order-1"]
	assert.Equal(t, domain.OrderStatusPaid, order.Status)
	require.NotNil(t, order.Payment)
	assert.Equal(t, "pi_1", order.Payment.ProviderPaymentID)
	assert.True(t, decimal.RequireFromString("49.99").Equal(order.Payment.Amount))
	assert.Equal(t, "usd", order.Payment.Currency)

	require.Len(t, e.orders.events, 1)
	event := e.orders.events[0]
	assert.Equal(t, EventOrderPaid, event.EventType)
	assert.Equal(t, kafka.TopicOrderEvents, event.Topic)
	assert.Equal(t, "order-1", event.AggregateID)

	assert.Equal(t, []string{"promo-1"}, e.promos.ids)

	require.Len(t, e.notifier.confirmations, 1)
	msg := e.notifier.confirmations[0]
	assert.Equal(t, "Ann", msg.CustomerName)
	assert.Equal(t, "ann@example.com", msg.Email)
	assert.Equal(t, "ORD-1001", msg.OrderNumber)
	assert.Equal(t, "https://shop.example.com/design?orderId=order-1", msg.OrderURL)
	assert.Equal(t, 2, msg.ItemCount)
	assert.Equal(t, "49.99", msg.Total)
	require.Len(t, e.notifier.guides, 1)

	require.Len(t, e.analytics.events, 1)
	ev := e.analytics.events[0]
	assert.Equal(t, analytics.EventOrderPaid, ev.Name)
	assert.Equal(t, "user-1", ev.DistinctID)
	assert.Equal(t, "CA", ev.Properties["country"])
	assert.Equal(t, "premium", ev.Properties["tier"])
	assert.Equal(t, 49.99, ev.Properties["amount"])

	// Метка в Redis
	raw, err := e.redis.Get(confirmedKeyPrefix + "cs_test_1")
	require.NoError(t, err)
	var cached ConfirmResult
	require.NoError(t, json.Unmarshal([]byte(raw), &cached))
	assert.Equal(t, "pay-1", cached.PaymentID)
}

func TestConfirmPayment_Idempotent(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()

	_, err := e.svc.ConfirmPayment(ctx, "cs_test_1")
	require.NoError(t, err)

	res, err := e.svc.ConfirmPayment(ctx, "cs_test_1")
	require.NoError(t, err)
	e.wait(t)

	assert.True(t, res.AlreadyPaid)
	assert.Equal(t, "order-1", res.OrderID)
	assert.Equal(t, "pay-1", res.PaymentID)

	// Второй вызов отвечает из Redis, провайдер не запрашивается
	assert.Equal(t, 1, e.sessions.calls)
	assert.Equal(t, 1, e.orders.payments)
	assert.Len(t, e.notifier.confirmations, 1)
	assert.Len(t, e.promos.ids, 1)
	assert.Len(t, e.analytics.events, 1)
}

func TestConfirmPayment_IdempotentWithoutRedisMarker(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()

	_, err := e.svc.ConfirmPayment(ctx, "cs_test_1")
	require.NoError(t, err)
	e.redis.FlushAll()

	res, err := e.svc.ConfirmPayment(ctx, "cs_test_1")
	require.NoError(t, err)
	e.wait(t)

	assert.True(t, res.AlreadyPaid)
	assert.Equal(t, "pay-1", res.PaymentID)
	assert.Equal(t, 2, e.sessions.calls)
	assert.Equal(t, 1, e.orders.payments)
	assert.Len(t, e.notifier.confirmations, 1)
}

func TestConfirmPayment_RedisUnavailable(t *testing.T) {
	e := newEnv(t)
	e.redis.Close()

	res, err := e.svc.ConfirmPayment(context.Background(), "cs_test_1")
	require.NoError(t, err)
	e.wait(t)

	assert.False(t, res.AlreadyPaid)
	assert.Equal(t, 1, e.orders.payments)
}

func TestConfirmPayment_ConcurrentConfirmation(t *testing.T) {
	e := newEnv(t)
	e.orders.beforeMarkPaid = func(o *domain.Order) {
		o.Status = domain.OrderStatusPaid
		o.Payment = &domain.Payment{ID: "pay-other", OrderID: o.ID}
	}

	res, err := e.svc.ConfirmPayment(context.Background(), "cs_test_1")
	require.NoError(t, err)
	e.wait(t)

	assert.True(t, res.AlreadyPaid)
	assert.Equal(t, "pay-other", res.PaymentID)
	assert.Equal(t, 0, e.orders.payments)
	assert.Empty(t, e.notifier.confirmations)
	assert.Empty(t, e.promos.ids)
	assert.Empty(t, e.analytics.events)
}

func TestConfirmPayment_ParallelCallsCreateOnePayment(t *testing.T) {
	e := newEnv(t)

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := e.svc.ConfirmPayment(context.Background(), "cs_test_1")
			assert.NoError(t, err)
		}()
	}
	wg.Wait()
	e.wait(t)

	assert.Equal(t, 1, e.orders.payments)
	assert.Len(t, e.orders.events, 1)
	assert.Len(t, e.notifier.confirmations, 1)
	assert.Len(t, e.promos.ids, 1)
}

func TestConfirmPayment_SideEffectFailuresDoNotFail(t *testing.T) {
	e := newEnv(t)
	e.notifier.err = errors.New("kafka недоступна")
	e.analytics.err = errors.New("kafka недоступна")
	e.promos.err = domain.ErrPromoCodeNotFound

	res, err := e.svc.ConfirmPayment(context.Background(), "cs_test_1")
	require.NoError(t, err)
	e.wait(t)

	assert.Equal(t, "pay-1", res.PaymentID)
	assert.Equal(t, domain.OrderStatusPaid, e.orders.orders["order-1"].Status)
}

func TestConfirmPayment_NoPromoCode(t *testing.T) {
	e := newEnv(t)
	e.orders.orders["order-1"].PromoCodeID = nil

	_, err := e.svc.ConfirmPayment(context.Background(), "cs_test_1")
	require.NoError(t, err)
	e.wait(t)

	assert.Empty(t, e.promos.ids)
	assert.Len(t, e.notifier.confirmations, 1)
}

func TestConfirmPayment_CustomerNameFallsBackToEmail(t *testing.T) {
	e := newEnv(t)
	e.orders.orders["order-1"].User.FirstName = ""
	e.orders.orders["order-1"].Address = nil

	_, err := e.svc.ConfirmPayment(context.Background(), "cs_test_1")
	require.NoError(t, err)
	e.wait(t)

	require.Len(t, e.notifier.confirmations, 1)
	assert.Equal(t, "ann@example.com", e.notifier.confirmations[0].CustomerName)
	require.Len(t, e.analytics.events, 1)
	assert.Equal(t, domain.DefaultCountry, e.analytics.events[0].Properties["country"])
}

func TestConfirmPayment_Errors(t *testing.T) {
	tests := []struct {
		name    string
		session string
		setup   func(e *env)
		wantErr error
	}{
		{
			name:    "пустой ID сессии",
			session: "  ",
			wantErr: domain.ErrInvalidSessionID,
		},
		{
			name:    "сессия не найдена",
			session: "cs_missing",
			wantErr: domain.ErrInvalidSessionID,
		},
		{
			name:    "оплата не завершена",
			session: "cs_test_1",
			setup: func(e *env) {
				e.sessions.sessions["cs_test_1"].PaymentStatus = "unpaid"
			},
			wantErr: domain.ErrPaymentIncomplete,
		},
		{
			name:    "нет orderId в metadata",
			session: "cs_test_1",
			setup: func(e *env) {
				e.sessions.sessions["cs_test_1"].OrderID = ""
			},
			wantErr: domain.ErrOrderIDNotFound,
		},
		{
			name:    "заказ не найден",
			session: "cs_test_1",
			setup: func(e *env) {
				delete(e.orders.orders, "order-1")
			},
			wantErr: domain.ErrOrderNotFound,
		},
		{
			name:    "заказ отменён",
			session: "cs_test_1",
			setup: func(e *env) {
				e.orders.orders["order-1"].Status = domain.OrderStatusCancelled
			},
			wantErr: domain.ErrInvalidTransition,
		},
		{
			name:    "чужой client_reference_id",
			session: "cs_test_1",
			setup: func(e *env) {
				e.sessions.sessions["cs_test_1"].ClientReferenceID = "order-2"
			},
			wantErr: domain.ErrIdentityMismatch,
		},
		{
			name:    "чужой userId",
			session: "cs_test_1",
			setup: func(e *env) {
				e.sessions.sessions["cs_test_1"].UserID = "user-2"
			},
			wantErr: domain.ErrIdentityMismatch,
		},
		{
			name:    "сбой записи оплаты",
			session: "cs_test_1",
			setup: func(e *env) {
				e.orders.markPaidErr = errors.New("deadlock")
			},
		},
		{
			name:    "другая валюта",
			session: "cs_test_1",
			setup: func(e *env) {
				e.sessions.sessions["cs_test_1"].Currency = "eur"
			},
			wantErr: domain.ErrUnsupportedCurrency,
		},
		{
			name:    "сумма не совпадает",
			session: "cs_test_1",
			setup: func(e *env) {
				e.sessions.sessions["cs_test_1"].AmountTotal = 4997
			},
			wantErr: domain.ErrAmountMismatch,
		},
		{
			name:    "провайдер недоступен",
			session: "cs_test_1",
			setup: func(e *env) {
				e.sessions.err = errors.New("stripe timeout")
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			e := newEnv(t)
			if tt.setup != nil {
				tt.setup(e)
			}

			res, err := e.svc.ConfirmPayment(context.Background(), tt.session)
			e.wait(t)

			require.Error(t, err)
			assert.Nil(t, res)
			if tt.wantErr != nil {
				assert.ErrorIs(t, err, tt.wantErr)
			}

			if o, ok := e.orders.orders["order-1"]; ok && o.Status != domain.OrderStatusCancelled {
				assert.Equal(t, domain.OrderStatusPending, o.Status)
			}
			assert.Zero(t, e.orders.payments)
			assert.Empty(t, e.orders.events)
			assert.Empty(t, e.notifier.confirmations)
			assert.Empty(t, e.notifier.guides)
			assert.Empty(t, e.promos.ids)
			assert.Empty(t, e.analytics.events)
		})
	}
}

// Оплата сохранена, но MarkPaid вернул ошибку (обрыв после COMMIT):
// подтверждение успешно и фоновые задачи запускаются ровно один раз.
func TestConfirmPayment_ErrorAfterCommitStillDispatches(t *testing.T) {
	e := newEnv(t)
	e.orders.markPaidErr = errors.New("connection reset")
	e.orders.commitOnErr = true

	res, err := e.svc.ConfirmPayment(context.Background(), "cs_test_1")
	require.NoError(t, err)
	e.wait(t)

	assert.Equal(t, "pay-1", res.PaymentID)
	assert.False(t, res.AlreadyPaid)
	assert.Equal(t, domain.OrderStatusPaid, e.orders.orders["order-1"].Status)
	assert.Equal(t, 1, e.orders.payments)
	assert.Len(t, e.notifier.confirmations, 1)
	assert.Len(t, e.promos.ids, 1)
	assert.Len(t, e.analytics.events, 1)

	// повторная доставка мимо метки в Redis: заказ уже оплачен, задачи не дублируются
	e.orders.markPaidErr = nil
	e.redis.FlushAll()
	res, err = e.svc.ConfirmPayment(context.Background(), "cs_test_1")
	require.NoError(t, err)
	e.wait(t)

	assert.True(t, res.AlreadyPaid)
	assert.Len(t, e.notifier.confirmations, 1)
	assert.Len(t, e.promos.ids, 1)
}

// Ошибка MarkPaid без сохранения: заказ остаётся PENDING, повторная
// доставка подтверждает оплату и запускает задачи.
func TestConfirmPayment_RetryAfterFailedCommit(t *testing.T) {
	e := newEnv(t)
	e.orders.markPaidErr = errors.New("deadlock")

	_, err := e.svc.ConfirmPayment(context.Background(), "cs_test_1")
	require.Error(t, err)
	e.wait(t)
	assert.Equal(t, domain.OrderStatusPending, e.orders.orders["order-1"].Status)
	assert.Empty(t, e.notifier.confirmations)

	e.orders.markPaidErr = nil
	res, err := e.svc.ConfirmPayment(context.Background(), "cs_test_1")
	require.NoError(t, err)
	e.wait(t)

	assert.False(t, res.AlreadyPaid)
	assert.Equal(t, 1, e.orders.payments)
	assert.Len(t, e.notifier.confirmations, 1)
}

func TestConfirmPayment_AmountWithinTolerance(t *testing.T) {
	e := newEnv(t)
	e.sessions.sessions["cs_test_1"].AmountTotal = 5000

	_, err := e.svc.ConfirmPayment(context.Background(), "cs_test_1")
	require.NoError(t, err)
	e.wait(t)

	order := e.orders.orders["order-1"]
	require.NotNil(t, order.Payment)
	assert.True(t, decimal.RequireFromString("50.00").Equal(order.Payment.Amount))
}

func TestOrderURL(t *testing.T) {
	svc := NewConfirmationService(Deps{}, Config{})
	assert.Equal(t, "http://localhost:5173/design?orderId=a+b%2Fc", svc.OrderURL("a b/c"))
}

func TestResultLabel(t *testing.T) {
	assert.Equal(t, "paid", resultLabel(&ConfirmResult{}, nil))
	assert.Equal(t, "already_paid", resultLabel(&ConfirmResult{AlreadyPaid: true}, nil))
	assert.Equal(t, "incomplete", resultLabel(nil, domain.ErrPaymentIncomplete))
	assert.Equal(t, "not_found", resultLabel(nil, domain.ErrOrderNotFound))
	assert.Equal(t, "error", resultLabel(nil, errors.New("boom")))
}
