package models

import (
	"time"

	"github.com/google/uuid"
)

type PaymentStatus string

const (
	PaymentStatusPending   PaymentStatus = "pending"
	PaymentStatusApproved  PaymentStatus = "approved"
	PaymentStatusRejected  PaymentStatus = "rejected"
	PaymentStatusInProcess PaymentStatus = "in_process"
	PaymentStatusCancelled PaymentStatus = "cancelled"
	PaymentStatusRefunded  PaymentStatus = "refunded"
)

// OrderStatusFor maps a processor status onto the order status it drives.
// The second value is false for statuses that leave the order alone.
func (s PaymentStatus) OrderStatusFor() (OrderStatus, bool) {
	switch s {
	case PaymentStatusApproved:
		return OrderStatusPaid, true
	case PaymentStatusRejected:
		return OrderStatusPaymentRejected, true
	case PaymentStatusPending, PaymentStatusInProcess:
		return OrderStatusAwaitingPayment, true
	}
	return "", false
}

// Payment is one-to-one with an Order. Amount is captured once at creation.
type Payment struct {
	ID                uuid.UUID     `gorm:"type:uuid;default:gen_random_uuid();primaryKey" json:"id"`
	OrderID           uuid.UUID     `gorm:"type:uuid;not null;uniqueIndex" json:"order_id"`
	UserID            uuid.UUID     `gorm:"type:uuid;not null;index" json:"user_id"`
	Provider          string        `gorm:"type:varchar(20);not null" json:"provider"`
	PreferenceID      string        `gorm:"type:varchar(100);index" json:"preference_id"`
	ExternalPaymentID *string       `gorm:"type:varchar(100);index" json:"external_payment_id"`
	Method            PaymentMethod `gorm:"type:varchar(20)" json:"method"`
	PaymentType       string        `gorm:"type:varchar(30)" json:"payment_type"`
	Status            PaymentStatus `gorm:"type:varchar(20);not null;default:'pending';index" json:"status"`
	Amount            int64         `gorm:"not null" json:"amount"`
	Currency          string        `gorm:"type:varchar(10);not null" json:"currency"`
	InitPoint         string        `gorm:"type:varchar(1024)" json:"init_point,omitempty"`
	SandboxInitPoint  string        `gorm:"type:varchar(1024)" json:"sandbox_init_point,omitempty"`
	RawPayload        *string       `gorm:"type:jsonb" json:"-"`
	CreatedAt         time.Time     `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt         time.Time     `gorm:"autoUpdateTime" json:"updated_at"`
}

type CreatePreferenceRequest struct {
	OrderID uuid.UUID `json:"order_id" binding:"required"`
}

type PreferenceResponse struct {
	PaymentID        uuid.UUID `json:"payment_id"`
	PreferenceID     string    `json:"preference_id"`
	InitPoint        string    `json:"init_point"`
	SandboxInitPoint string    `json:"sandbox_init_point"`
}
