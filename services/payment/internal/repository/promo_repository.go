package repository

import (
	"context"
	"fmt"
	"time"

	"gorm.io/gorm"

	"example.com/order-payments/services/payment/internal/domain"
)

// PromoRepository — учёт использования промокодов.
type PromoRepository interface {
	// IncrementUsage атомарно увеличивает used_count промокода на единицу.
	IncrementUsage(ctx context.Context, promoCodeID string) error
}

type promoRepository struct {
	db *gorm.DB
}

// NewPromoRepository создаёт репозиторий промокодов.
func NewPromoRepository(db *gorm.DB) PromoRepository {
	return &promoRepository{db: db}
}

func (r *promoRepository) IncrementUsage(ctx context.Context, promoCodeID string) error {
	result := r.db.WithContext(ctx).
		Model(&PromoCodeModel{}).
		Where("id = ?", promoCodeID).
		Updates(map[string]any{
			"used_count": gorm.Expr("used_count + ?", 1),
			"updated_at": time.Now().UTC(),
		})
	if result.Error != nil {
		return fmt.Errorf("ошибка увеличения счётчика промокода: %w", result.Error)
	}
	if result.RowsAffected == 0 {
		return domain.ErrPromoCodeNotFound
	}
	return nil
}
