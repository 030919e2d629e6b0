// Package middleware содержит HTTP middleware Payment Service.
package middleware

import (
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"example.com/order-payments/pkg/logger"
	"example.com/order-payments/pkg/tracing"
)

// HTTP заголовки для трассировки.
const (
	HeaderTraceID   = "X-Trace-ID"
	HeaderRequestID = "X-Request-ID" // алиас для Trace ID

	// Stripe присылает свой идентификатор запроса webhook
	HeaderStripeRequestID = "Stripe-Request-Id"
)

// RequestLogger кладёт trace_id в контекст запроса и пишет лог входа и выхода.
//
// trace_id берётся из заголовков, затем из span OpenTelemetry, иначе генерируется.
func RequestLogger() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()

		traceID := c.GetHeader(HeaderTraceID)
		if traceID == "" {
			traceID = c.GetHeader(HeaderRequestID)
		}
		if traceID == "" {
			traceID = tracing.TraceID(c.Request.Context())
		}
		if traceID == "" {
			traceID = uuid.NewString()
		}

		ctx := logger.WithTraceID(c.Request.Context(), traceID)
		c.Request = c.Request.WithContext(ctx)

		c.Header(HeaderTraceID, traceID)
		c.Set("trace_id", traceID)

		log := logger.FromContext(ctx)
		event := log.Info().
			Str("method", c.Request.Method).
			Str("path", c.Request.URL.Path).
			Str("client_ip", c.ClientIP())
		if id := c.GetHeader(HeaderStripeRequestID); id != "" {
			event = event.Str("stripe_request_id", id)
		}
		event.Msg("Входящий запрос")

		c.Next()

		statusCode := c.Writer.Status()
		logEvent := log.Info()
		if statusCode >= 400 {
			logEvent = log.Warn()
		}
		if statusCode >= 500 {
			logEvent = log.Error()
		}

		logEvent.
			Int("status", statusCode).
			Dur("duration", time.Since(start)).
			Msg("Запрос завершён")
	}
}
