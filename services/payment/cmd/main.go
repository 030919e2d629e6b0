// Payment Service подтверждает оплату заказов по checkout-сессиям Stripe.
// Принимает webhook Stripe и ручное подтверждение со страницы успеха,
// фиксирует платёж и событие order.paid (outbox) в одной транзакции.
// OutboxWorker отправляет события в Kafka с гарантией at-least-once.
package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"example.com/order-payments/pkg/config"
	dbpkg "example.com/order-payments/pkg/db"
	"example.com/order-payments/pkg/dispatch"
	"example.com/order-payments/pkg/healthcheck"
	"example.com/order-payments/pkg/kafka"
	"example.com/order-payments/pkg/logger"
	"example.com/order-payments/pkg/metrics"
	"example.com/order-payments/pkg/outbox"
	"example.com/order-payments/pkg/tracing"
	"example.com/order-payments/services/payment/internal/analytics"
	"example.com/order-payments/services/payment/internal/checkout"
	"example.com/order-payments/services/payment/internal/handler"
	"example.com/order-payments/services/payment/internal/middleware"
	"example.com/order-payments/services/payment/internal/notify"
	"example.com/order-payments/services/payment/internal/repository"
	"example.com/order-payments/services/payment/internal/service"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Ошибка загрузки конфигурации: %v\n", err)
		os.Exit(1)
	}

	logger.Init(logger.Config{
		Level:   cfg.App.LogLevel,
		Pretty:  cfg.App.LogPretty,
		Service: cfg.App.Name,
	})
	log := logger.Logger()

	log.Info().
		Str("env", cfg.App.Env).
		Str("addr", cfg.HTTP.Addr()).
		Msg("Запуск Payment Service")

	// === Observability: Tracing ===

	shutdownTracing, err := tracing.InitTracer(tracing.Config{
		ServiceName:    cfg.App.Name,
		Environment:    cfg.App.Env,
		JaegerEndpoint: cfg.Jaeger.OTLPEndpoint(),
		Enabled:        cfg.Jaeger.Enabled,
	})
	if err != nil {
		log.Warn().Err(err).Msg("Не удалось инициализировать tracing")
	}

	// === Подключение к зависимостям ===

	startCtx, startCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer startCancel()

	db, err := dbpkg.ConnectMySQL(startCtx, cfg.MySQL, cfg.IsDevelopment())
	if err != nil {
		log.Fatal().Err(err).Msg("Ошибка подключения к MySQL")
	}
	log.Info().Msg("Подключение к MySQL установлено")

	rdb, err := dbpkg.ConnectRedis(startCtx, cfg.Redis)
	if err != nil {
		log.Fatal().Err(err).Msg("Ошибка подключения к Redis")
	}
	log.Info().Msg("Подключение к Redis установлено")

	if err := kafka.EnsureTopics(startCtx, cfg.Kafka.Brokers, kafka.DefaultTopics()); err != nil {
		log.Warn().Err(err).Msg("Не удалось создать топики (возможно Kafka недоступна)")
	}

	kafkaProducer, err := kafka.NewProducer(kafka.Config{Brokers: cfg.Kafka.Brokers})
	if err != nil {
		log.Fatal().Err(err).Msg("Ошибка создания Kafka Producer")
	}

	// === Observability: Metrics ===

	readinessCheck := healthcheck.Composite(
		healthcheck.MySQL(db),
		healthcheck.Redis(rdb),
	)

	var metricsServer *metrics.Server
	var metricsWg sync.WaitGroup
	if cfg.Metrics.Enabled {
		metricsServer = metrics.NewServer(
			cfg.Metrics.Addr(),
			cfg.App.Name,
			metrics.WithReadinessCheck(metrics.ReadinessChecker(readinessCheck)),
		)
		metricsWg.Add(1)
		go func() {
			defer metricsWg.Done()
			if err := metricsServer.Start(); err != nil {
				log.Error().Err(err).Msg("Ошибка Metrics Server")
			}
		}()
	}

	// === Инициализация бизнес-логики ===

	outboxRepo := outbox.NewRepository(db, service.AggregateOrder)
	orderRepo := repository.NewOrderRepository(db, outboxRepo)
	promoRepo := repository.NewPromoRepository(db)

	var notifier service.Notifier
	switch cfg.Notify.Transport {
	case config.NotifyTransportSNS:
		snsNotifier, err := notify.NewSNSNotifier(startCtx, cfg.Notify.SNSTopicARN)
		if err != nil {
			log.Fatal().Err(err).Msg("Ошибка создания SNS Notifier")
		}
		notifier = snsNotifier
	default:
		notifier = notify.NewKafkaNotifier(kafkaProducer)
	}
	log.Info().Str("transport", cfg.Notify.Transport).Msg("Транспорт уведомлений выбран")

	dispatcher := dispatch.New(dispatch.Config{MaxConcurrent: cfg.Dispatch.MaxConcurrent}, service.ReportTaskError)

	confirmationService := service.NewConfirmationService(service.Deps{
		Sessions:  checkout.NewSessionClient(cfg.Stripe.SecretKey),
		Orders:    orderRepo,
		Promos:    promoRepo,
		Notifier:  notifier,
		Analytics: analytics.NewKafkaPublisher(kafkaProducer),
		Tasks:     dispatcher,
		Redis:     rdb,
	}, service.Config{FrontendURL: cfg.Frontend.URL})

	// Контекст фоновых воркеров
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var workersWg sync.WaitGroup
	outboxWorker := outbox.NewWorker(outboxRepo, kafkaProducer, outbox.DefaultWorkerConfig())
	workersWg.Add(1)
	go func() {
		defer workersWg.Done()
		defer func() {
			if r := recover(); r != nil {
				log.Error().Interface("panic", r).Msg("Паника в Outbox Worker")
			}
		}()
		outboxWorker.Run(ctx)
	}()

	// === HTTP сервер ===

	var rateLimitMW *middleware.RateLimitMiddleware
	if cfg.HTTP.ConfirmRateLimit > 0 {
		rateLimitMW = middleware.NewRateLimitMiddleware(middleware.RateLimitConfig{
			Redis:  rdb,
			Prefix: "rate:confirm",
			Limit:  cfg.HTTP.ConfirmRateLimit,
			Window: cfg.HTTP.ConfirmRateWindow,
		})
	}

	router := handler.NewRouter(handler.RouterConfig{
		Confirmer:     confirmationService,
		WebhookSecret: cfg.Stripe.WebhookSecret,
		ServiceName:   cfg.App.Name,
		RateLimitMW:   rateLimitMW,
		Debug:         cfg.IsDevelopment(),
	})

	httpServer := &http.Server{
		Addr:         cfg.HTTP.Addr(),
		Handler:      router.Engine(),
		ReadTimeout:  cfg.HTTP.ReadTimeout,
		WriteTimeout: cfg.HTTP.WriteTimeout,
	}

	go func() {
		log.Info().Str("addr", httpServer.Addr).Msg("HTTP сервер запущен")
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatal().Err(err).Msg("Ошибка HTTP сервера")
		}
	}()

	// Ожидаем сигнал завершения
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info().Msg("Получен сигнал завершения, останавливаем сервер...")

	// 1. Новые запросы больше не принимаем
	httpCtx, httpCancel := context.WithTimeout(context.Background(), cfg.HTTP.ShutdownTimeout)
	if err := httpServer.Shutdown(httpCtx); err != nil {
		log.Error().Err(err).Msg("Ошибка остановки HTTP сервера")
	}
	httpCancel()

	// 2. Дожидаемся писем, аналитики и промокодов
	drainCtx, drainCancel := context.WithTimeout(context.Background(), cfg.Dispatch.DrainTimeout)
	if err := dispatcher.Shutdown(drainCtx); err != nil {
		log.Warn().
			Err(err).
			Int64("in_flight", dispatcher.InFlight()).
			Msg("Не все фоновые задачи завершились до таймаута")
	}
	drainCancel()

	// 3. Останавливаем Outbox Worker
	cancel()
	workersWg.Wait()

	if err := kafkaProducer.Close(); err != nil {
		log.Error().Err(err).Msg("Ошибка закрытия Kafka Producer")
	}

	if err := dbpkg.CloseMySQL(db); err != nil {
		log.Error().Err(err).Msg("Ошибка закрытия MySQL")
	}

	if err := rdb.Close(); err != nil {
		log.Error().Err(err).Msg("Ошибка закрытия Redis")
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()
	if metricsServer != nil {
		if err := metricsServer.Shutdown(shutdownCtx); err != nil {
			log.Error().Err(err).Msg("Ошибка остановки Metrics Server")
		}
		metricsWg.Wait()
	}

	if shutdownTracing != nil {
		if err := shutdownTracing(shutdownCtx); err != nil {
			log.Error().Err(err).Msg("Ошибка остановки Tracing")
		}
	}

	log.Info().Msg("Payment Service остановлен")
}
