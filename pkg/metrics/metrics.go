// Package metrics предоставляет Prometheus метрики Payment Service и HTTP
// сервер для /metrics, /healthz и /readyz.
//
// Использование:
//
//	srv := metrics.NewServer(":9090", "payment-service", metrics.WithReadinessCheck(check))
//	go srv.Start()
package metrics

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"example.com/order-payments/pkg/logger"
)

// Статусы для label "status".
const (
	StatusSuccess = "success"
	StatusError   = "error"
)

var (
	// RequestsTotal — счётчик HTTP запросов.
	// PromQL пример: rate(requests_total{method="/webhooks/stripe"}[5m])
	RequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "requests_total",
			Help: "Общее количество запросов по сервису, методу и статусу",
		},
		[]string{"service", "method", "status"},
	)

	// RequestDuration — гистограмма latency запросов.
	RequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "request_duration_seconds",
			Help:    "Время выполнения запроса в секундах",
			Buckets: []float64{0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10},
		},
		[]string{"service", "method"},
	)

	// ConfirmationsTotal — результаты подтверждения оплаты.
	// result: paid, already_paid, incomplete, integrity_mismatch, not_found, error.
	ConfirmationsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "payment_confirmations_total",
			Help: "Результаты подтверждения оплаты checkout-сессий",
		},
		[]string{"result"},
	)

	// FanoutTasksTotal — фоновые задачи после оплаты (письма, промокод, аналитика).
	FanoutTasksTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "fanout_tasks_total",
			Help: "Фоновые задачи после подтверждения оплаты по типу и статусу",
		},
		[]string{"task", "status"},
	)

	// OutboxMessagesTotal — записи outbox по итогу отправки: sent, failed, dead_letter.
	OutboxMessagesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "outbox_messages_total",
			Help: "Записи outbox по результату публикации в Kafka",
		},
		[]string{"event_type", "status"},
	)

	// FanoutInFlight — задачи, выполняющиеся прямо сейчас.
	FanoutInFlight = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "fanout_tasks_in_flight",
			Help: "Количество выполняющихся фоновых задач",
		},
	)
)

// ReadinessChecker — функция проверки готовности сервиса.
// Возвращает nil если сервис готов принимать трафик, иначе — ошибку.
type ReadinessChecker func(ctx context.Context) error

// Server — HTTP сервер для экспорта метрик Prometheus.
type Server struct {
	httpServer     *http.Server
	service        string
	readinessCheck ReadinessChecker
}

// Option — функциональная опция для настройки Server.
type Option func(*Server)

// WithReadinessCheck добавляет проверку готовности для /readyz endpoint.
// Если checker возвращает ошибку — /readyz вернёт 503 Service Unavailable.
func WithReadinessCheck(checker ReadinessChecker) Option {
	return func(s *Server) {
		s.readinessCheck = checker
	}
}

// NewServer создаёт новый metrics server.
func NewServer(addr, service string, opts ...Option) *Server {
	s := &Server{service: service}
	for _, opt := range opts {
		opt(s)
	}

	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())

	// /healthz — liveness probe: процесс жив, если отвечает.
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(`{"status":"alive"}`))
	})

	mux.HandleFunc("/readyz", s.handleReady)

	s.httpServer = &http.Server{
		Addr:         addr,
		Handler:      mux,
		ReadTimeout:  5 * time.Second,
		WriteTimeout: 10 * time.Second,
	}

	return s
}

// handleReady — readiness probe: 200 если все зависимости доступны.
func (s *Server) handleReady(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")

	if s.readinessCheck == nil {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(`{"status":"ready"}`))
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	if err := s.readinessCheck(ctx); err != nil {
		// Детали ошибки наружу не отдаём
		w.WriteHeader(http.StatusServiceUnavailable)
		_, _ = w.Write([]byte(`{"status":"not_ready"}`))
		logger.Warn().Err(err).Str("service", s.service).Msg("Сервис не готов")
		return
	}

	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte(`{"status":"ready"}`))
}

// Handler возвращает http.Handler сервера (используется в тестах).
func (s *Server) Handler() http.Handler {
	return s.httpServer.Handler
}

// Start запускает HTTP сервер для метрик.
// Блокирующий вызов — запускать в горутине.
func (s *Server) Start() error {
	logger.Info().Str("service", s.service).Str("addr", s.httpServer.Addr).Msg("Запуск Metrics Server")

	if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Shutdown gracefully останавливает сервер.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.httpServer.Shutdown(ctx)
}

// RecordRequest записывает метрики запроса (вызывать в конце обработки).
func RecordRequest(service, method, status string, duration time.Duration) {
	RequestsTotal.WithLabelValues(service, method, status).Inc()
	RequestDuration.WithLabelValues(service, method).Observe(duration.Seconds())
}

// RecordConfirmation увеличивает счётчик результатов подтверждения оплаты.
func RecordConfirmation(result string) {
	ConfirmationsTotal.WithLabelValues(result).Inc()
}

// RecordFanoutTask учитывает завершение фоновой задачи.
func RecordFanoutTask(task string, err error) {
	status := StatusSuccess
	if err != nil {
		status = StatusError
	}
	FanoutTasksTotal.WithLabelValues(task, status).Inc()
}

// GinMetricsMiddleware возвращает Gin middleware для сбора HTTP метрик.
func GinMetricsMiddleware(service string) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()

		c.Next()

		status := StatusSuccess
		if c.Writer.Status() >= 400 {
			status = StatusError
		}

		path := c.FullPath()
		if path == "" {
			path = "unmatched"
		}
		RecordRequest(service, path, status, time.Since(start))
	}
}
