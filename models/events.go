package models

import (
	"time"

	"github.com/google/uuid"
)

const (
	EventOrderCreated       = "order.created"
	EventOrderStatusChanged = "order.status_changed"
	EventPaymentUpdated     = "payment.updated"
)

// OrderEvent is published after the transaction that produced it commits.
type OrderEvent struct {
	Type          string        `json:"type"`
	OrderID       uuid.UUID     `json:"order_id"`
	OrderNumber   string        `json:"order_number"`
	UserID        uuid.UUID     `json:"user_id"`
	Status        OrderStatus   `json:"status"`
	PaymentStatus PaymentStatus `json:"payment_status,omitempty"`
	Total         int64         `json:"total"`
	Note          string        `json:"note,omitempty"`
	Timestamp     time.Time     `json:"timestamp"`
}

func NewOrderEvent(eventType string, order *Order, note string) OrderEvent {
	return OrderEvent{
		Type:        eventType,
		OrderID:     order.ID,
		OrderNumber: order.OrderNumber,
		UserID:      order.UserID,
		Status:      order.Status,
		Total:       order.Total,
		Note:        note,
		Timestamp:   time.Now().UTC(),
	}
}
