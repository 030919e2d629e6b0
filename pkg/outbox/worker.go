package outbox

import (
	"context"
	"time"

	"example.com/order-payments/pkg/kafka"
	"example.com/order-payments/pkg/logger"
	"example.com/order-payments/pkg/metrics"
)

// Publisher — отправка сообщения в Kafka (реализуется kafka.Producer).
type Publisher interface {
	SendMessage(ctx context.Context, msg *kafka.Message) error
}

// WorkerConfig — настройки Worker.
type WorkerConfig struct {
	PollInterval    time.Duration
	BatchSize       int
	MaxRetries      int           // после превышения запись считается dead letter
	CleanupInterval time.Duration
	Retention       time.Duration // сколько хранить отправленные записи
}

// DefaultWorkerConfig возвращает конфигурацию по умолчанию.
func DefaultWorkerConfig() WorkerConfig {
	return WorkerConfig{
		PollInterval:    time.Second,
		BatchSize:       100,
		MaxRetries:      5,
		CleanupInterval: time.Hour,
		Retention:       7 * 24 * time.Hour,
	}
}

// Worker читает неотправленные записи outbox и публикует их в Kafka.
type Worker struct {
	repo      Repository
	publisher Publisher
	cfg       WorkerConfig
}

// NewWorker создаёт Worker.
func NewWorker(repo Repository, publisher Publisher, cfg WorkerConfig) *Worker {
	return &Worker{repo: repo, publisher: publisher, cfg: cfg}
}

// Run опрашивает outbox до отмены контекста.
func (w *Worker) Run(ctx context.Context) {
	log := logger.FromContext(ctx)
	log.Info().
		Dur("poll_interval", w.cfg.PollInterval).
		Int("batch_size", w.cfg.BatchSize).
		Msg("Запуск Outbox Worker")

	ticker := time.NewTicker(w.cfg.PollInterval)
	defer ticker.Stop()

	cleanupTicker := time.NewTicker(w.cfg.CleanupInterval)
	defer cleanupTicker.Stop()

	for {
		select {
		case <-ctx.Done():
			log.Info().Msg("Остановка Outbox Worker")
			return
		case <-ticker.C:
			w.processBatch(ctx)
		case <-cleanupTicker.C:
			w.cleanup(ctx)
		}
	}
}

func (w *Worker) cleanup(ctx context.Context) {
	log := logger.FromContext(ctx)

	deleted, err := w.repo.DeleteProcessedBefore(ctx, time.Now().UTC().Add(-w.cfg.Retention))
	if err != nil {
		log.Error().Err(err).Msg("Ошибка очистки outbox")
		return
	}
	if deleted > 0 {
		log.Info().Int64("deleted", deleted).Msg("Удалены отправленные записи outbox")
	}
}

// processBatch отправляет одну пачку записей.
func (w *Worker) processBatch(ctx context.Context) {
	log := logger.FromContext(ctx)

	records, err := w.repo.GetUnprocessed(ctx, w.cfg.BatchSize)
	if err != nil {
		log.Error().Err(err).Msg("Ошибка чтения outbox")
		return
	}

	for _, record := range records {
		if ctx.Err() != nil {
			return
		}

		if record.RetryCount >= w.cfg.MaxRetries {
			log.Warn().
				Str("outbox_id", record.ID).
				Str("event_type", record.EventType).
				Str("order_id", record.AggregateID).
				Int("retry_count", record.RetryCount).
				Msg("Dead letter: превышен лимит попыток, запись выведена из очереди")

			metrics.OutboxMessagesTotal.WithLabelValues(record.EventType, "dead_letter").Inc()
			if err := w.repo.MarkProcessed(ctx, record.ID); err != nil {
				log.Error().Err(err).Str("outbox_id", record.ID).Msg("Ошибка пометки dead letter")
			}
			continue
		}

		if err := w.ProcessSingle(ctx, record); err != nil {
			log.Error().
				Err(err).
				Str("outbox_id", record.ID).
				Str("topic", record.Topic).
				Msg("Ошибка публикации записи outbox")
		}
	}
}

// ProcessSingle публикует одну запись и отмечает результат в outbox.
func (w *Worker) ProcessSingle(ctx context.Context, record *Outbox) error {
	msg := &kafka.Message{
		Topic:   record.Topic,
		Key:     []byte(record.MessageKey),
		Value:   record.Payload,
		Headers: withEventType(record.Headers, record.EventType),
	}

	if err := w.publisher.SendMessage(ctx, msg); err != nil {
		metrics.OutboxMessagesTotal.WithLabelValues(record.EventType, "failed").Inc()
		if markErr := w.repo.MarkFailed(ctx, record.ID, err); markErr != nil {
			logger.Ctx(ctx).Error().Err(markErr).Str("outbox_id", record.ID).Msg("Ошибка пометки outbox как failed")
		}
		return err
	}

	metrics.OutboxMessagesTotal.WithLabelValues(record.EventType, "sent").Inc()
	return w.repo.MarkProcessed(ctx, record.ID)
}

func withEventType(headers map[string]string, eventType string) map[string]string {
	out := make(map[string]string, len(headers)+1)
	for k, v := range headers {
		out[k] = v
	}
	if _, ok := out[kafka.HeaderEventType]; !ok {
		out[kafka.HeaderEventType] = eventType
	}
	return out
}
