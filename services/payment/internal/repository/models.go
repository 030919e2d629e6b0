package repository

import (
	"time"

	"github.com/shopspring/decimal"

	"example.com/order-payments/services/payment/internal/domain"
)

// OrderModel — GORM модель таблицы orders.
// Таблица принадлежит Order Service, здесь меняются только status, paid_at, updated_at.
type OrderModel struct {
	ID          string          `gorm:"column:id;type:varchar(36);primaryKey"`
	OrderNumber string          `gorm:"column:order_number;type:varchar(32);not null;uniqueIndex"`
	UserID      string          `gorm:"column:user_id;type:varchar(36);not null;index"`
	Status      string          `gorm:"column:status;type:varchar(20);not null;index"`
	TotalAmount decimal.Decimal `gorm:"column:total_amount;type:decimal(10,2);not null"`
	DesignTier  string          `gorm:"column:design_tier;type:varchar(32)"`
	AddressID   *string         `gorm:"column:address_id;type:varchar(36)"`
	PromoCodeID *string         `gorm:"column:promo_code_id;type:varchar(36)"`
	PaidAt      *time.Time      `gorm:"column:paid_at"`
	CreatedAt   time.Time       `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt   time.Time       `gorm:"column:updated_at;autoUpdateTime"`

	User      UserModel        `gorm:"foreignKey:UserID;references:ID"`
	Items     []OrderItemModel `gorm:"foreignKey:OrderID;references:ID"`
	Address   *AddressModel    `gorm:"foreignKey:AddressID;references:ID"`
	PromoCode *PromoCodeModel  `gorm:"foreignKey:PromoCodeID;references:ID"`
	Payment   *PaymentModel    `gorm:"foreignKey:OrderID;references:ID"`
}

// TableName возвращает имя таблицы в БД.
func (OrderModel) TableName() string {
	return "orders"
}

// UserModel — GORM модель таблицы users (только чтение).
type UserModel struct {
	ID        string `gorm:"column:id;type:varchar(36);primaryKey"`
	Email     string `gorm:"column:email;type:varchar(255)"`
	FirstName string `gorm:"column:first_name;type:varchar(100)"`
}

// TableName возвращает имя таблицы в БД.
func (UserModel) TableName() string {
	return "users"
}

// OrderItemModel — GORM модель таблицы order_items (только чтение).
type OrderItemModel struct {
	ID        string          `gorm:"column:id;type:varchar(36);primaryKey"`
	OrderID   string          `gorm:"column:order_id;type:varchar(36);not null;index"`
	ProductID string          `gorm:"column:product_id;type:varchar(36)"`
	Quantity  int             `gorm:"column:quantity"`
	Price     decimal.Decimal `gorm:"column:price;type:decimal(10,2)"`
}

// TableName возвращает имя таблицы в БД.
func (OrderItemModel) TableName() string {
	return "order_items"
}

// AddressModel — GORM модель таблицы addresses (только чтение).
type AddressModel struct {
	ID         string `gorm:"column:id;type:varchar(36);primaryKey"`
	Line1      string `gorm:"column:line1;type:varchar(255)"`
	City       string `gorm:"column:city;type:varchar(100)"`
	PostalCode string `gorm:"column:postal_code;type:varchar(20)"`
	Country    string `gorm:"column:country;type:varchar(2)"`
}

// TableName возвращает имя таблицы в БД.
func (AddressModel) TableName() string {
	return "addresses"
}

// PromoCodeModel — GORM модель таблицы promo_codes.
type PromoCodeModel struct {
	ID        string    `gorm:"column:id;type:varchar(36);primaryKey"`
	Code      string    `gorm:"column:code;type:varchar(50);uniqueIndex"`
	UsedCount int       `gorm:"column:used_count;not null;default:0"`
	UpdatedAt time.Time `gorm:"column:updated_at;autoUpdateTime"`
}

// TableName возвращает имя таблицы в БД.
func (PromoCodeModel) TableName() string {
	return "promo_codes"
}

// PaymentModel — GORM модель таблицы payments.
// Уникальный индекс по order_id не даёт создать второй платёж на заказ.
type PaymentModel struct {
	ID                string          `gorm:"column:id;type:varchar(36);primaryKey"`
	OrderID           string          `gorm:"column:order_id;type:varchar(36);not null;uniqueIndex:idx_payments_order"`
	ProviderPaymentID string          `gorm:"column:provider_payment_id;type:varchar(255)"`
	Amount            decimal.Decimal `gorm:"column:amount;type:decimal(10,2);not null"`
	Currency          string          `gorm:"column:currency;type:varchar(3);not null"`
	Status            string          `gorm:"column:status;type:varchar(20);not null"`
	Method            string          `gorm:"column:method;type:varchar(32);not null"`
	CreatedAt         time.Time       `gorm:"column:created_at"`
}

// TableName возвращает имя таблицы в БД.
func (PaymentModel) TableName() string {
	return "payments"
}

// toDomain конвертирует GORM модель заказа со связями в доменную сущность.
func (m *OrderModel) toDomain() *domain.Order {
	order := &domain.Order{
		ID:          m.ID,
		OrderNumber: m.OrderNumber,
		UserID:      m.UserID,
		User: domain.User{
			ID:        m.User.ID,
			Email:     m.User.Email,
			FirstName: m.User.FirstName,
		},
		Status:      domain.OrderStatus(m.Status),
		TotalAmount: m.TotalAmount,
		DesignTier:  m.DesignTier,
		PromoCodeID: m.PromoCodeID,
		PaidAt:      m.PaidAt,
		CreatedAt:   m.CreatedAt,
		UpdatedAt:   m.UpdatedAt,
		Items:       make([]domain.OrderItem, len(m.Items)),
	}

	for i, item := range m.Items {
		order.Items[i] = domain.OrderItem{
			ID:        item.ID,
			ProductID: item.ProductID,
			Quantity:  item.Quantity,
			Price:     item.Price,
		}
	}

	if m.Address != nil {
		order.Address = &domain.Address{
			ID:         m.Address.ID,
			Line1:      m.Address.Line1,
			City:       m.Address.City,
			PostalCode: m.Address.PostalCode,
			Country:    m.Address.Country,
		}
	}

	if m.Payment != nil {
		order.Payment = m.Payment.toDomain()
	}

	return order
}

func (m *PaymentModel) toDomain() *domain.Payment {
	return &domain.Payment{
		ID:                m.ID,
		OrderID:           m.OrderID,
		ProviderPaymentID: m.ProviderPaymentID,
		Amount:            m.Amount,
		Currency:          m.Currency,
		Status:            domain.PaymentStatus(m.Status),
		Method:            m.Method,
		CreatedAt:         m.CreatedAt,
	}
}

func paymentModelFromDomain(p *domain.Payment) *PaymentModel {
	return &PaymentModel{
		ID:                p.ID,
		OrderID:           p.OrderID,
		ProviderPaymentID: p.ProviderPaymentID,
		Amount:            p.Amount,
		Currency:          p.Currency,
		Status:            string(p.Status),
		Method:            p.Method,
		CreatedAt:         p.CreatedAt,
	}
}
