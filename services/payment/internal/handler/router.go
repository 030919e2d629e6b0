package handler

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"

	"example.com/order-payments/pkg/metrics"
	"example.com/order-payments/services/payment/internal/middleware"
)

// RouterConfig — параметры для создания роутера.
type RouterConfig struct {
	Confirmer     PaymentConfirmer
	WebhookSecret string
	ServiceName   string
	RateLimitMW   *middleware.RateLimitMiddleware // опционально, только для ручного подтверждения
	Debug         bool                            // режим отладки Gin
}

// Router — HTTP роутер Payment Service.
type Router struct {
	engine *gin.Engine
}

// NewRouter создаёт и настраивает HTTP роутер.
func NewRouter(cfg RouterConfig) *Router {
	if cfg.Debug {
		gin.SetMode(gin.DebugMode)
	} else {
		gin.SetMode(gin.ReleaseMode)
	}

	service := cfg.ServiceName
	if service == "" {
		service = "payment-service"
	}

	engine := gin.New()
	engine.Use(otelgin.Middleware(service))
	engine.Use(metrics.GinMetricsMiddleware(service))
	engine.Use(middleware.RequestLogger())
	engine.Use(middleware.Recovery())

	engine.GET("/healthz", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "alive"})
	})

	// Webhook без security headers: отвечаем только Stripe
	webhookHandler := NewWebhookHandler(cfg.Confirmer, cfg.WebhookSecret)
	engine.POST("/webhooks/stripe", webhookHandler.HandleStripe)

	v1 := engine.Group("/api/v1")
	v1.Use(middleware.SecurityHeaders())
	if cfg.RateLimitMW != nil {
		v1.Use(cfg.RateLimitMW.Handle())
	}
	{
		checkoutHandler := NewCheckoutHandler(cfg.Confirmer)
		v1.POST("/checkout/sessions/:session_id/confirm", checkoutHandler.ConfirmSession)
	}

	return &Router{engine: engine}
}

// Engine возвращает Gin engine для запуска сервера.
func (r *Router) Engine() *gin.Engine {
	return r.engine
}
