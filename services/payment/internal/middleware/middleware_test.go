package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"example.com/order-payments/pkg/logger"
)

func init() {
	gin.SetMode(gin.TestMode)
}

func newTestEngine(seen *string) *gin.Engine {
	r := gin.New()
	r.Use(RequestLogger(), SecurityHeaders())
	r.GET("/test", func(c *gin.Context) {
		*seen = logger.TraceIDFromContext(c.Request.Context())
		c.Status(http.StatusNoContent)
	})
	return r
}

func TestRequestLogger_GeneratesTraceID(t *testing.T) {
	var seen string
	r := newTestEngine(&seen)

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/test", nil))

	traceID := w.Header().Get(HeaderTraceID)
	assert.NotEmpty(t, traceID)
	_, err := uuid.Parse(traceID)
	assert.NoError(t, err, "trace_id должен быть валидным UUID")
	assert.Equal(t, traceID, seen)
}

func TestRequestLogger_UsesExistingTraceID(t *testing.T) {
	tests := []struct {
		name   string
		header string
	}{
		{"X-Trace-ID", HeaderTraceID},
		{"X-Request-ID", HeaderRequestID},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var seen string
			r := newTestEngine(&seen)

			req := httptest.NewRequest(http.MethodGet, "/test", nil)
			req.Header.Set(tt.header, "trace-12345")
			w := httptest.NewRecorder()
			r.ServeHTTP(w, req)

			assert.Equal(t, "trace-12345", w.Header().Get(HeaderTraceID))
			assert.Equal(t, "trace-12345", seen)
		})
	}
}

func TestSecurityHeaders(t *testing.T) {
	var seen string
	r := newTestEngine(&seen)

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/test", nil))

	assert.Equal(t, "DENY", w.Header().Get("X-Frame-Options"))
	assert.Equal(t, "nosniff", w.Header().Get("X-Content-Type-Options"))
	assert.Equal(t, "no-store", w.Header().Get("Cache-Control"))
}

func TestRecovery(t *testing.T) {
	r := gin.New()
	r.Use(Recovery())
	r.GET("/panic", func(*gin.Context) { panic("boom") })

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/panic", nil))

	assert.Equal(t, http.StatusInternalServerError, w.Code)
	assert.NotContains(t, w.Body.String(), "boom")
}

func newRateLimitedEngine(t *testing.T, limit int) (*gin.Engine, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })

	mw := NewRateLimitMiddleware(RateLimitConfig{
		Redis:  rdb,
		Prefix: "rate:confirm",
		Limit:  limit,
		Window: time.Minute,
	})

	r := gin.New()
	r.Use(mw.Handle())
	r.POST("/confirm", func(c *gin.Context) { c.Status(http.StatusOK) })
	return r, mr
}

func confirmFrom(r *gin.Engine, ip string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodPost, "/confirm", nil)
	req.RemoteAddr = ip + ":12345"
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

func TestRateLimit_BlocksExcessRequests(t *testing.T) {
	r, _ := newRateLimitedEngine(t, 3)

	for i := 0; i < 3; i++ {
		w := confirmFrom(r, "192.168.1.1")
		require.Equal(t, http.StatusOK, w.Code, "запрос %d должен пройти", i+1)
	}

	w := confirmFrom(r, "192.168.1.1")
	assert.Equal(t, http.StatusTooManyRequests, w.Code)
	assert.Equal(t, "60", w.Header().Get("Retry-After"))
	assert.Equal(t, "0", w.Header().Get("X-RateLimit-Remaining"))

	// Другой IP считается отдельно
	assert.Equal(t, http.StatusOK, confirmFrom(r, "192.168.1.2").Code)
}

func TestRateLimit_WindowExpires(t *testing.T) {
	r, mr := newRateLimitedEngine(t, 1)

	assert.Equal(t, http.StatusOK, confirmFrom(r, "10.0.0.1").Code)
	assert.Equal(t, http.StatusTooManyRequests, confirmFrom(r, "10.0.0.1").Code)

	mr.FastForward(time.Minute + time.Second)

	assert.Equal(t, http.StatusOK, confirmFrom(r, "10.0.0.1").Code)
}

func TestRateLimit_FailOpen(t *testing.T) {
	r, mr := newRateLimitedEngine(t, 1)
	mr.Close()

	assert.Equal(t, http.StatusOK, confirmFrom(r, "10.0.0.1").Code)
}
