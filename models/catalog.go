package models

import (
	"time"

	"github.com/google/uuid"
)

// Product is the catalog projection the checkout core reads. Stock is the
// inventory ledger column and is only changed through conditional updates.
type Product struct {
	ID               uuid.UUID `gorm:"type:uuid;default:gen_random_uuid();primaryKey" json:"id"`
	Name             string    `gorm:"type:varchar(255);not null" json:"name"`
	Price            int64     `gorm:"not null" json:"price"`
	PromotionalPrice *int64    `json:"promotional_price,omitempty"`
	Active           bool      `gorm:"not null;default:true" json:"active"`
	Available        bool      `gorm:"not null;default:true" json:"available"`
	Stock            int       `gorm:"not null;default:0;check:stock >= 0" json:"stock"`
	Sales            int       `gorm:"not null;default:0" json:"sales"`
	CreatedAt        time.Time `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt        time.Time `gorm:"autoUpdateTime" json:"updated_at"`
}

// FinalPrice is the price a buyer pays right now.
func (p *Product) FinalPrice() int64 {
	if p.PromotionalPrice != nil && *p.PromotionalPrice > 0 && *p.PromotionalPrice < p.Price {
		return *p.PromotionalPrice
	}
	return p.Price
}

func (p *Product) Sellable() bool {
	return p.Active && p.Available
}

// Address is a shipping destination owned by one user.
type Address struct {
	ID         uuid.UUID `gorm:"type:uuid;default:gen_random_uuid();primaryKey" json:"id"`
	UserID     uuid.UUID `gorm:"type:uuid;not null;index" json:"user_id"`
	Recipient  string    `gorm:"type:varchar(255)" json:"recipient"`
	Street     string    `gorm:"type:varchar(255)" json:"street"`
	Number     string    `gorm:"type:varchar(20)" json:"number"`
	District   string    `gorm:"type:varchar(120)" json:"district"`
	City       string    `gorm:"type:varchar(120)" json:"city"`
	State      string    `gorm:"type:varchar(2)" json:"state"`
	PostalCode string    `gorm:"type:varchar(12)" json:"postal_code"`
	Active     bool      `gorm:"not null;default:true" json:"active"`
	CreatedAt  time.Time `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt  time.Time `gorm:"autoUpdateTime" json:"updated_at"`
}
