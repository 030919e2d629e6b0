package middleware

import (
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"

	"example.com/order-payments/pkg/logger"
)

// rateLimitScript — атомарный INCR + EXPIRE на первом запросе окна.
var rateLimitScript = redis.NewScript(`
	local current = redis.call("INCR", KEYS[1])
	if current == 1 then
		redis.call("EXPIRE", KEYS[1], ARGV[1])
	end
	return current
`)

// RateLimitConfig — конфигурация rate limiter.
type RateLimitConfig struct {
	Redis  redis.UniversalClient
	Prefix string        // префикс ключа, например "rate:confirm"
	Limit  int           // по умолчанию 30
	Window time.Duration // по умолчанию 1 минута
}

// RateLimitMiddleware ограничивает число запросов с одного IP в окне.
// Каждое ручное подтверждение идёт в Stripe, поэтому лимит держим на Redis,
// общим для всех реплик.
type RateLimitMiddleware struct {
	redis  redis.UniversalClient
	prefix string
	limit  int
	window time.Duration
}

// NewRateLimitMiddleware создаёт rate limiter.
func NewRateLimitMiddleware(cfg RateLimitConfig) *RateLimitMiddleware {
	if cfg.Limit <= 0 {
		cfg.Limit = 30
	}
	if cfg.Window <= 0 {
		cfg.Window = time.Minute
	}
	if cfg.Prefix == "" {
		cfg.Prefix = "rate"
	}

	return &RateLimitMiddleware{
		redis:  cfg.Redis,
		prefix: cfg.Prefix,
		limit:  cfg.Limit,
		window: cfg.Window,
	}
}

// Handle возвращает Gin handler function для middleware.
func (m *RateLimitMiddleware) Handle() gin.HandlerFunc {
	return func(c *gin.Context) {
		log := logger.FromContext(c.Request.Context())
		clientIP := c.ClientIP()

		allowed, remaining, err := m.checkLimit(c, m.prefix+":"+clientIP)
		if err != nil {
			// fail-open: недоступный Redis не должен блокировать подтверждение оплаты
			log.Warn().Err(err).Msg("Ошибка проверки rate limit")
			c.Next()
			return
		}

		c.Header("X-RateLimit-Limit", strconv.Itoa(m.limit))
		c.Header("X-RateLimit-Remaining", strconv.Itoa(remaining))

		if !allowed {
			log.Warn().
				Str("client_ip", clientIP).
				Int("limit", m.limit).
				Msg("Rate limit превышен")

			seconds := int(m.window.Seconds())
			c.Header("Retry-After", strconv.Itoa(seconds))
			c.AbortWithStatusJSON(http.StatusTooManyRequests, gin.H{
				"error":   "rate_limit_exceeded",
				"message": fmt.Sprintf("Превышен лимит запросов. Попробуйте через %d секунд", seconds),
			})
			return
		}

		c.Next()
	}
}

// checkLimit увеличивает счётчик и возвращает (разрешён ли запрос, остаток, ошибка).
func (m *RateLimitMiddleware) checkLimit(c *gin.Context, key string) (bool, int, error) {
	windowSec := int(m.window.Seconds())
	if windowSec < 1 {
		windowSec = 1
	}

	count, err := rateLimitScript.Run(c.Request.Context(), m.redis, []string{key}, windowSec).Int()
	if err != nil {
		return true, m.limit, err
	}

	remaining := m.limit - count
	if remaining < 0 {
		remaining = 0
	}
	return count <= m.limit, remaining, nil
}
