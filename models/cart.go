package models

import (
	"time"

	"github.com/google/uuid"
)

const (
	MinItemQuantity = 1
	MaxItemQuantity = 99
)

type Cart struct {
	ID        uuid.UUID  `gorm:"type:uuid;default:gen_random_uuid();primaryKey" json:"id"`
	UserID    uuid.UUID  `gorm:"type:uuid;not null;uniqueIndex" json:"user_id"`
	Items     []CartItem `gorm:"foreignKey:CartID;constraint:OnDelete:CASCADE" json:"items"`
	CreatedAt time.Time  `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt time.Time  `gorm:"autoUpdateTime" json:"updated_at"`
}

// CartItem captures the unit price when the line is first created; later
// quantity changes keep that price.
type CartItem struct {
	ID          uuid.UUID `gorm:"type:uuid;default:gen_random_uuid();primaryKey" json:"id"`
	CartID      uuid.UUID `gorm:"type:uuid;not null;uniqueIndex:idx_cart_product" json:"cart_id"`
	ProductID   uuid.UUID `gorm:"type:uuid;not null;uniqueIndex:idx_cart_product" json:"product_id"`
	ProductName string    `gorm:"type:varchar(255);not null" json:"product_name"`
	Quantity    int       `gorm:"not null" json:"quantity"`
	UnitPrice   int64     `gorm:"not null" json:"unit_price"`
	CreatedAt   time.Time `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt   time.Time `gorm:"autoUpdateTime" json:"updated_at"`
}

func (i *CartItem) Subtotal() int64 {
	return i.UnitPrice * int64(i.Quantity)
}

func (c *Cart) TotalItems() int {
	n := 0
	for i := range c.Items {
		n += c.Items[i].Quantity
	}
	return n
}

func (c *Cart) Subtotal() int64 {
	var sum int64
	for i := range c.Items {
		sum += c.Items[i].Subtotal()
	}
	return sum
}

// Total equals Subtotal until cart-level adjustments exist.
func (c *Cart) Total() int64 {
	return c.Subtotal()
}

// FindItem returns the line for productID, if any.
func (c *Cart) FindItem(productID uuid.UUID) *CartItem {
	for i := range c.Items {
		if c.Items[i].ProductID == productID {
			return &c.Items[i]
		}
	}
	return nil
}

type CartItemView struct {
	CartItem
	Subtotal int64 `json:"subtotal"`
}

type CartView struct {
	ID         uuid.UUID      `json:"id"`
	UserID     uuid.UUID      `json:"user_id"`
	Items      []CartItemView `json:"items"`
	TotalItems int            `json:"total_items"`
	Subtotal   int64          `json:"subtotal"`
	Total      int64          `json:"total"`
	UpdatedAt  time.Time      `json:"updated_at"`
}

func (c *Cart) View() CartView {
	items := make([]CartItemView, 0, len(c.Items))
	for _, it := range c.Items {
		items = append(items, CartItemView{CartItem: it, Subtotal: it.Subtotal()})
	}
	return CartView{
		ID:         c.ID,
		UserID:     c.UserID,
		Items:      items,
		TotalItems: c.TotalItems(),
		Subtotal:   c.Subtotal(),
		Total:      c.Total(),
		UpdatedAt:  c.UpdatedAt,
	}
}

type AddCartItemRequest struct {
	ProductID uuid.UUID `json:"product_id" binding:"required"`
	Quantity  int       `json:"quantity"`
}

type UpdateCartItemRequest struct {
	Quantity int `json:"quantity"`
}
