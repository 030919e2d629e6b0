package outbox

import (
	"context"
	"errors"
	"fmt"
	"time"

	"gorm.io/gorm"
)

// ErrNotFound — запись outbox не найдена.
var ErrNotFound = errors.New("запись outbox не найдена")

// cleanupBatch - сколько обработанных записей удаляется за один запрос.
const cleanupBatch = 1000

// Repository — хранилище записей outbox.
type Repository interface {
	// Create сохраняет запись. Внутри транзакции использовать WithTx.
	Create(ctx context.Context, record *Outbox) error

	// WithTx возвращает репозиторий, работающий в транзакции tx.
	WithTx(tx *gorm.DB) Repository

	// GetUnprocessed возвращает неотправленные записи, реже падавшие — первыми.
	GetUnprocessed(ctx context.Context, limit int) ([]*Outbox, error)

	MarkProcessed(ctx context.Context, id string) error
	MarkFailed(ctx context.Context, id string, err error) error

	// DeleteProcessedBefore удаляет отправленные записи старше before.
	DeleteProcessedBefore(ctx context.Context, before time.Time) (int64, error)
}

// gormRepository — GORM реализация Repository.
// aggregateType ограничивает выборку воркера записями своего агрегата.
type gormRepository struct {
	db            *gorm.DB
	aggregateType string
}

// NewRepository создаёт репозиторий outbox для заданного типа агрегата.
func NewRepository(db *gorm.DB, aggregateType string) Repository {
	return &gormRepository{db: db, aggregateType: aggregateType}
}

func (r *gormRepository) WithTx(tx *gorm.DB) Repository {
	return &gormRepository{db: tx, aggregateType: r.aggregateType}
}

func (r *gormRepository) Create(ctx context.Context, record *Outbox) error {
	if record.AggregateType != r.aggregateType {
		return fmt.Errorf("outbox: агрегат %q, ожидался %q", record.AggregateType, r.aggregateType)
	}

	model, err := modelFromDomain(record)
	if err != nil {
		return fmt.Errorf("outbox: ошибка сериализации headers: %w", err)
	}

	if err := r.db.WithContext(ctx).Create(model).Error; err != nil {
		return fmt.Errorf("outbox: ошибка записи: %w", err)
	}
	record.CreatedAt = model.CreatedAt
	return nil
}

func (r *gormRepository) GetUnprocessed(ctx context.Context, limit int) ([]*Outbox, error) {
	var models []Model

	if err := r.db.WithContext(ctx).
		Where("processed_at IS NULL AND aggregate_type = ?", r.aggregateType).
		Order("retry_count ASC, created_at ASC").
		Limit(limit).
		Find(&models).Error; err != nil {
		return nil, err
	}

	result := make([]*Outbox, len(models))
	for i := range models {
		result[i] = models[i].toDomain()
	}
	return result, nil
}

func (r *gormRepository) MarkProcessed(ctx context.Context, id string) error {
	result := r.db.WithContext(ctx).Model(&Model{}).
		Where("id = ?", id).
		Update("processed_at", time.Now().UTC())
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}

func (r *gormRepository) MarkFailed(ctx context.Context, id string, sendErr error) error {
	result := r.db.WithContext(ctx).Model(&Model{}).
		Where("id = ?", id).
		Updates(map[string]any{
			"retry_count": gorm.Expr("retry_count + 1"),
			"last_error":  sendErr.Error(),
		})
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}

func (r *gormRepository) DeleteProcessedBefore(ctx context.Context, before time.Time) (int64, error) {
	result := r.db.WithContext(ctx).
		Where("processed_at IS NOT NULL AND processed_at < ? AND aggregate_type = ?", before, r.aggregateType).
		Limit(cleanupBatch).
		Delete(&Model{})
	if result.Error != nil {
		return 0, result.Error
	}
	return result.RowsAffected, nil
}
