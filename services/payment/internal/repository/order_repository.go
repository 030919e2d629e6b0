// Package repository содержит доступ к данным Payment Service.
package repository

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"gorm.io/gorm"

	"example.com/order-payments/pkg/outbox"
	"example.com/order-payments/services/payment/internal/domain"
)

// OrderRepository определяет интерфейс для работы с заказами в БД.
type OrderRepository interface {
	// GetByID возвращает заказ с пользователем, позициями, адресом,
	// промокодом и платежом за один вызов.
	GetByID(ctx context.Context, orderID string) (*domain.Order, error)

	// MarkPaid в одной транзакции переводит заказ PENDING -> PAID,
	// создаёт платёж и запись outbox (event может быть nil).
	// Возвращает заказ, перечитанный после фиксации.
	//
	// Ошибки: ErrOrderAlreadyPaid (заказ уже PAID или платёж уже есть),
	// ErrInvalidTransition, ErrOrderNotFound.
	MarkPaid(ctx context.Context, orderID string, payment *domain.Payment, paidAt time.Time, event *outbox.Outbox) (*domain.Order, error)
}

// orderRepository — GORM реализация OrderRepository.
type orderRepository struct {
	db     *gorm.DB
	outbox outbox.Repository
}

// NewOrderRepository создаёт новый репозиторий заказов.
func NewOrderRepository(db *gorm.DB, outboxRepo outbox.Repository) OrderRepository {
	return &orderRepository{db: db, outbox: outboxRepo}
}

// GetByID возвращает заказ по ID со всеми связями.
func (r *orderRepository) GetByID(ctx context.Context, id string) (*domain.Order, error) {
	return loadOrder(r.db.WithContext(ctx), id)
}

// loadOrder читает заказ со связями через db (соединение или транзакцию).
func loadOrder(db *gorm.DB, id string) (*domain.Order, error) {
	var model OrderModel

	if err := db.
		Preload("User").
		Preload("Items").
		Preload("Address").
		Preload("PromoCode").
		Preload("Payment").
		Where("id = ?", id).
		First(&model).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, domain.ErrOrderNotFound
		}
		return nil, fmt.Errorf("ошибка чтения заказа: %w", err)
	}

	return model.toDomain(), nil
}

// MarkPaid фиксирует оплату. Условие status = PENDING в UPDATE и уникальный
// индекс payments.order_id гарантируют один переход и один платёж на заказ.
// Заказ перечитывается внутри той же транзакции: ошибка чтения откатывает оплату.
func (r *orderRepository) MarkPaid(ctx context.Context, orderID string, payment *domain.Payment, paidAt time.Time, event *outbox.Outbox) (*domain.Order, error) {
	var paid *domain.Order

	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		result := tx.Model(&OrderModel{}).
			Where("id = ? AND status = ?", orderID, string(domain.OrderStatusPending)).
			Updates(map[string]any{
				"status":     string(domain.OrderStatusPaid),
				"paid_at":    paidAt,
				"updated_at": paidAt,
			})
		if result.Error != nil {
			return fmt.Errorf("ошибка обновления статуса заказа: %w", result.Error)
		}
		if result.RowsAffected == 0 {
			return transitionError(tx, orderID)
		}

		if err := tx.Create(paymentModelFromDomain(payment)).Error; err != nil {
			if isDuplicateKeyError(err) {
				return domain.ErrOrderAlreadyPaid
			}
			return fmt.Errorf("ошибка создания платежа: %w", err)
		}

		if event != nil {
			if err := r.outbox.WithTx(tx).Create(ctx, event); err != nil {
				return err
			}
		}

		order, err := loadOrder(tx, orderID)
		if err != nil {
			return err
		}
		paid = order
		return nil
	})
	if err != nil {
		return nil, err
	}

	return paid, nil
}

// transitionError объясняет, почему UPDATE не затронул ни одной строки.
func transitionError(tx *gorm.DB, orderID string) error {
	var current OrderModel
	err := tx.Select("status").Where("id = ?", orderID).Take(&current).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return domain.ErrOrderNotFound
	}
	if err != nil {
		return fmt.Errorf("ошибка чтения статуса заказа: %w", err)
	}

	if domain.OrderStatus(current.Status) == domain.OrderStatusPaid {
		return domain.ErrOrderAlreadyPaid
	}
	return domain.ErrInvalidTransition
}

// isDuplicateKeyError проверяет, является ли ошибка нарушением уникальности (MySQL 1062).
func isDuplicateKeyError(err error) bool {
	if err == nil {
		return false
	}
	errMsg := err.Error()
	return errors.Is(err, gorm.ErrDuplicatedKey) ||
		strings.Contains(errMsg, "Duplicate entry") ||
		strings.Contains(errMsg, "1062")
}
