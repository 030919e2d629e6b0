package logger

import (
	"context"

	"github.com/rs/zerolog"
)

// ctxKey — приватный тип ключей контекста, исключает коллизии с другими пакетами.
type ctxKey string

const (
	// traceIDKey - идентификатор запроса, сквозной для логов и сообщений Kafka.
	traceIDKey ctxKey = "trace_id"

	// sessionIDKey - ID checkout-сессии платёжного провайдера.
	sessionIDKey ctxKey = "session_id"

	// orderIDKey - ID заказа, к которому относится операция.
	orderIDKey ctxKey = "order_id"

	loggerKey ctxKey = "logger"
)

// WithTraceID добавляет trace_id в контекст.
func WithTraceID(ctx context.Context, traceID string) context.Context {
	return context.WithValue(ctx, traceIDKey, traceID)
}

// TraceIDFromContext извлекает trace_id из контекста.
// Возвращает пустую строку, если trace_id не установлен.
func TraceIDFromContext(ctx context.Context) string {
	return stringFromContext(ctx, traceIDKey)
}

// WithSessionID добавляет ID checkout-сессии в контекст.
func WithSessionID(ctx context.Context, sessionID string) context.Context {
	return context.WithValue(ctx, sessionIDKey, sessionID)
}

// SessionIDFromContext извлекает ID checkout-сессии из контекста.
func SessionIDFromContext(ctx context.Context) string {
	return stringFromContext(ctx, sessionIDKey)
}

// WithOrderID добавляет ID заказа в контекст.
//
//	ctx = logger.WithOrderID(ctx, order.ID)
func WithOrderID(ctx context.Context, orderID string) context.Context {
	return context.WithValue(ctx, orderIDKey, orderID)
}

// OrderIDFromContext извлекает ID заказа из контекста.
func OrderIDFromContext(ctx context.Context) string {
	return stringFromContext(ctx, orderIDKey)
}

// WithLogger кладёт настроенный логгер в контекст.
func WithLogger(ctx context.Context, l zerolog.Logger) context.Context {
	return context.WithValue(ctx, loggerKey, l)
}

// FromContext возвращает логгер из контекста (или глобальный) и добавляет
// trace_id, session_id и order_id, если они присутствуют в контексте.
//
//	func (s *Service) ConfirmPayment(ctx context.Context, sessionID string) error {
//	    log := logger.FromContext(ctx)
//	    log.Info().Msg("Подтверждение оплаты")
//	}
func FromContext(ctx context.Context) zerolog.Logger {
	l := log
	if ctxLogger, ok := ctx.Value(loggerKey).(zerolog.Logger); ok {
		l = ctxLogger
	}

	fields := map[string]any{}
	if v := TraceIDFromContext(ctx); v != "" {
		fields[string(traceIDKey)] = v
	}
	if v := SessionIDFromContext(ctx); v != "" {
		fields[string(sessionIDKey)] = v
	}
	if v := OrderIDFromContext(ctx); v != "" {
		fields[string(orderIDKey)] = v
	}
	if len(fields) == 0 {
		return l
	}

	return l.With().Fields(fields).Logger()
}

// Ctx возвращает указатель на логгер из контекста (аналог zerolog.Ctx()).
func Ctx(ctx context.Context) *zerolog.Logger {
	l := FromContext(ctx)
	return &l
}

func stringFromContext(ctx context.Context, key ctxKey) string {
	if v, ok := ctx.Value(key).(string); ok {
		return v
	}
	return ""
}
