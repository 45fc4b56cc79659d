package models

import (
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

type OrderStatus string

const (
	OrderStatusAwaitingPayment OrderStatus = "awaiting_payment"
	OrderStatusPaid            OrderStatus = "paid"
	OrderStatusInFulfillment   OrderStatus = "in_fulfillment"
	OrderStatusShipped         OrderStatus = "shipped"
	OrderStatusDelivered       OrderStatus = "delivered"
	OrderStatusCancelled       OrderStatus = "cancelled"
	OrderStatusPaymentRejected OrderStatus = "payment_rejected"
)

// orderTransitions lists the legal next states for each state. A rejected
// payment may still be retried, approved later or abandoned.
var orderTransitions = map[OrderStatus][]OrderStatus{
	OrderStatusAwaitingPayment: {OrderStatusPaid, OrderStatusCancelled, OrderStatusPaymentRejected},
	OrderStatusPaymentRejected: {OrderStatusAwaitingPayment, OrderStatusPaid, OrderStatusCancelled},
	OrderStatusPaid:            {OrderStatusInFulfillment},
	OrderStatusInFulfillment:   {OrderStatusShipped},
	OrderStatusShipped:         {OrderStatusDelivered},
}

var orderStatusRank = map[OrderStatus]int{
	OrderStatusAwaitingPayment: 0,
	OrderStatusPaymentRejected: 0,
	OrderStatusPaid:            1,
	OrderStatusInFulfillment:   2,
	OrderStatusShipped:         3,
	OrderStatusDelivered:       4,
	OrderStatusCancelled:       4,
}

func (s OrderStatus) Valid() bool {
	_, ok := orderStatusRank[s]
	return ok
}

func (s OrderStatus) IsTerminal() bool {
	return s == OrderStatusCancelled || s == OrderStatusDelivered
}

func (s OrderStatus) CanTransitionTo(next OrderStatus) bool {
	for _, allowed := range orderTransitions[s] {
		if allowed == next {
			return true
		}
	}
	return false
}

// IsDowngradeFrom reports whether moving from current to s would walk the
// lifecycle backwards, e.g. paid -> awaiting_payment.
func (s OrderStatus) IsDowngradeFrom(current OrderStatus) bool {
	return orderStatusRank[s] < orderStatusRank[current]
}

func ParseOrderStatus(v string) (OrderStatus, bool) {
	s := OrderStatus(strings.ToLower(strings.TrimSpace(v)))
	return s, s.Valid()
}

type PaymentMethod string

const (
	PaymentMethodPix        PaymentMethod = "pix"
	PaymentMethodCreditCard PaymentMethod = "cartao_credito"
	PaymentMethodDebitCard  PaymentMethod = "cartao_debito"
	PaymentMethodBoleto     PaymentMethod = "boleto"
)

func (m PaymentMethod) Valid() bool {
	switch m {
	case PaymentMethodPix, PaymentMethodCreditCard, PaymentMethodDebitCard, PaymentMethodBoleto:
		return true
	}
	return false
}

type Order struct {
	ID            uuid.UUID     `gorm:"type:uuid;default:gen_random_uuid();primaryKey" json:"id"`
	OrderNumber   string        `gorm:"type:varchar(30);uniqueIndex;not null" json:"order_number"`
	UserID        uuid.UUID     `gorm:"type:uuid;not null;index:idx_orders_user_created,priority:1" json:"user_id"`
	AddressID     uuid.UUID     `gorm:"type:uuid;not null" json:"address_id"`
	PaymentMethod PaymentMethod `gorm:"type:varchar(20);not null" json:"payment_method"`
	Subtotal      int64         `gorm:"not null;check:subtotal >= 0" json:"subtotal"`
	Discount      int64         `gorm:"not null;default:0;check:discount >= 0" json:"discount"`
	ShippingFee   int64         `gorm:"not null;default:0;check:shipping_fee >= 0" json:"shipping_fee"`
	Total         int64         `gorm:"not null;check:total >= 0" json:"total"`
	CustomerNote  string        `gorm:"type:text" json:"customer_note"`
	InternalNote  string        `gorm:"type:text" json:"internal_note,omitempty"`
	TrackingCode  string        `gorm:"type:varchar(50)" json:"tracking_code"`
	Status        OrderStatus   `gorm:"type:varchar(30);not null;default:'awaiting_payment';index" json:"status"`
	PaidAt        *time.Time    `json:"paid_at"`
	ShippedAt     *time.Time    `json:"shipped_at"`
	DeliveredAt   *time.Time    `json:"delivered_at"`
	CancelledAt   *time.Time    `json:"cancelled_at"`
	CreatedAt     time.Time     `gorm:"autoCreateTime;index:idx_orders_user_created,priority:2,sort:desc" json:"created_at"`
	UpdatedAt     time.Time     `gorm:"autoUpdateTime" json:"updated_at"`
	Items         []OrderItem   `gorm:"foreignKey:OrderID;constraint:OnDelete:CASCADE" json:"items"`
	History       []StatusEvent `gorm:"foreignKey:OrderID;constraint:OnDelete:CASCADE" json:"history,omitempty"`
}

// Recalculate derives Total from its parts. Total never goes below zero.
func (o *Order) Recalculate() {
	total := o.Subtotal - o.Discount + o.ShippingFee
	if total < 0 {
		total = 0
	}
	o.Total = total
}

// StampTransition sets the timestamp that belongs to next. Timestamps that are
// already set are left untouched.
func (o *Order) StampTransition(next OrderStatus, at time.Time) {
	stamp := func(field **time.Time) {
		if *field == nil {
			t := at
			*field = &t
		}
	}
	switch next {
	case OrderStatusPaid:
		stamp(&o.PaidAt)
	case OrderStatusShipped:
		stamp(&o.ShippedAt)
	case OrderStatusDelivered:
		stamp(&o.DeliveredAt)
	case OrderStatusCancelled:
		stamp(&o.CancelledAt)
	}
}

func (o *Order) ItemCount() int {
	n := 0
	for i := range o.Items {
		n += o.Items[i].Quantity
	}
	return n
}

// GenerateOrderNumber returns PED<YYYYmmddHHMMSS><8 upper hex chars>.
func GenerateOrderNumber(now time.Time) string {
	return fmt.Sprintf("PED%s%s", now.Format("20060102150405"), strings.ToUpper(uuid.NewString()[:8]))
}

func (o *Order) BeforeCreate(tx *gorm.DB) error {
	if o.OrderNumber == "" {
		o.OrderNumber = GenerateOrderNumber(time.Now())
	}
	return nil
}

func (o *Order) BeforeSave(tx *gorm.DB) error {
	o.Recalculate()
	return nil
}

// OrderItem snapshots the product name and price at purchase time.
type OrderItem struct {
	ID          uuid.UUID `gorm:"type:uuid;default:gen_random_uuid();primaryKey" json:"id"`
	OrderID     uuid.UUID `gorm:"type:uuid;not null;index" json:"order_id"`
	ProductID   uuid.UUID `gorm:"type:uuid;not null;index" json:"product_id"`
	ProductName string    `gorm:"type:varchar(255);not null" json:"product_name"`
	UnitPrice   int64     `gorm:"not null" json:"unit_price"`
	Quantity    int       `gorm:"not null;check:quantity >= 1" json:"quantity"`
	Subtotal    int64     `gorm:"not null" json:"subtotal"`
	CreatedAt   time.Time `gorm:"autoCreateTime" json:"created_at"`
}

func (i *OrderItem) Recalculate() {
	i.Subtotal = i.UnitPrice * int64(i.Quantity)
}

func (i *OrderItem) BeforeSave(tx *gorm.DB) error {
	i.Recalculate()
	return nil
}

// StatusEvent is append-only. CreatedBy is nil for system-driven changes.
type StatusEvent struct {
	ID        uuid.UUID   `gorm:"type:uuid;default:gen_random_uuid();primaryKey" json:"id"`
	OrderID   uuid.UUID   `gorm:"type:uuid;not null;index" json:"order_id"`
	Status    OrderStatus `gorm:"type:varchar(30);not null" json:"status"`
	Note      string      `gorm:"type:text" json:"note"`
	CreatedBy *uuid.UUID  `gorm:"type:uuid" json:"created_by"`
	CreatedAt time.Time   `gorm:"autoCreateTime;index" json:"created_at"`
}

type CheckoutLine struct {
	ProductID uuid.UUID `json:"product_id" binding:"required"`
	Quantity  int       `json:"quantity" binding:"required,min=1,max=99"`
}

type CheckoutRequest struct {
	AddressID     uuid.UUID      `json:"address_id" binding:"required"`
	PaymentMethod PaymentMethod  `json:"payment_method" binding:"required,payment_method"`
	Note          string         `json:"note" binding:"max=2000"`
	Items         []CheckoutLine `json:"items" binding:"omitempty,dive"`
}

type UpdateStatusRequest struct {
	Status       OrderStatus `json:"status" binding:"required,order_status"`
	Note         string      `json:"note"`
	InternalNote *string     `json:"internal_note"`
}

type CancelOrderRequest struct {
	Note string `json:"note"`
}

type TrackingRequest struct {
	TrackingCode string `json:"tracking_code" binding:"required,max=50"`
}

type ChargesRequest struct {
	Discount    *int64 `json:"discount" binding:"omitempty,min=0"`
	ShippingFee *int64 `json:"shipping_fee" binding:"omitempty,min=0"`
}

type OrderFilter struct {
	Status        OrderStatus
	PaymentMethod PaymentMethod
}
