package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// OrderStatus — статус заказа.
type OrderStatus string

const (
	OrderStatusPending   OrderStatus = "PENDING"
	OrderStatusPaid      OrderStatus = "PAID"
	OrderStatusCancelled OrderStatus = "CANCELLED"
)

// User — владелец заказа.
type User struct {
	ID        string
	Email     string
	FirstName string
}

// DisplayName возвращает имя для писем: имя, а если его нет — email.
func (u User) DisplayName() string {
	if u.FirstName != "" {
		return u.FirstName
	}
	return u.Email
}

// OrderItem — позиция заказа.
type OrderItem struct {
	ID        string
	ProductID string
	Quantity  int
	Price     decimal.Decimal
}

// Address — адрес доставки.
type Address struct {
	ID         string
	Line1      string
	City       string
	PostalCode string
	Country    string // ISO 3166-1 alpha-2
}

// Order — заказ. Создаётся выше по потоку в PENDING,
// Payment Service только переводит его в PAID и прикрепляет Payment.
type Order struct {
	ID          string
	OrderNumber string
	UserID      string
	User        User
	Status      OrderStatus
	TotalAmount decimal.Decimal // в основных единицах (доллары)
	DesignTier  string
	Items       []OrderItem
	Address     *Address
	PromoCodeID *string
	PaidAt      *time.Time
	Payment     *Payment
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

// IsPaid возвращает true, если заказ уже оплачен.
func (o *Order) IsPaid() bool {
	return o.Status == OrderStatusPaid
}

// CanMarkPaid возвращает true, если заказ можно перевести в PAID.
func (o *Order) CanMarkPaid() bool {
	return o.Status == OrderStatusPending
}

// ItemCount — количество позиций заказа.
func (o *Order) ItemCount() int {
	return len(o.Items)
}

// ShippingCountry возвращает страну доставки или DefaultCountry.
func (o *Order) ShippingCountry() string {
	if o.Address == nil || o.Address.Country == "" {
		return DefaultCountry
	}
	return o.Address.Country
}

// HasPromoCode возвращает true, если к заказу применён промокод.
func (o *Order) HasPromoCode() bool {
	return o.PromoCodeID != nil && *o.PromoCodeID != ""
}
