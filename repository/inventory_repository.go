package repository

import (
	"context"

	"github.com/google/uuid"
	"github.com/yashrajoria/relab-checkout/models"
	"gorm.io/gorm"
)

// InventoryRepository is the stock ledger. Decrement is a single conditional
// update so concurrent buyers can never drive stock negative.
type InventoryRepository interface {
	Decrement(ctx context.Context, productID uuid.UUID, qty int) error
	Restock(ctx context.Context, productID uuid.UUID, qty int) error
	IncrementSales(ctx context.Context, productID uuid.UUID, qty int) error
	Available(ctx context.Context, productID uuid.UUID) (int, error)
}

type GormInventoryRepository struct {
	db *gorm.DB
}

func NewGormInventoryRepository(db *gorm.DB) InventoryRepository {
	return &GormInventoryRepository{db: db}
}

// Decrement returns ErrInsufficientStock when fewer than qty units remain and
// ErrNotFound when the product does not exist.
func (r *GormInventoryRepository) Decrement(ctx context.Context, productID uuid.UUID, qty int) error {
	res := r.db.WithContext(ctx).
		Model(&models.Product{}).
		Where("id = ? AND stock >= ?", productID, qty).
		UpdateColumn("stock", gorm.Expr("stock - ?", qty))
	if res.Error != nil {
		return translate(res.Error)
	}
	if res.RowsAffected == 0 {
		if _, err := r.Available(ctx, productID); err != nil {
			return err
		}
		return ErrInsufficientStock
	}
	return nil
}

func (r *GormInventoryRepository) Restock(ctx context.Context, productID uuid.UUID, qty int) error {
	res := r.db.WithContext(ctx).
		Model(&models.Product{}).
		Where("id = ?", productID).
		UpdateColumn("stock", gorm.Expr("stock + ?", qty))
	if res.Error != nil {
		return translate(res.Error)
	}
	if res.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}

func (r *GormInventoryRepository) IncrementSales(ctx context.Context, productID uuid.UUID, qty int) error {
	return translate(r.db.WithContext(ctx).
		Model(&models.Product{}).
		Where("id = ?", productID).
		UpdateColumn("sales", gorm.Expr("sales + ?", qty)).Error)
}

func (r *GormInventoryRepository) Available(ctx context.Context, productID uuid.UUID) (int, error) {
	var p models.Product
	if err := r.db.WithContext(ctx).Select("id", "stock").First(&p, "id = ?", productID).Error; err != nil {
		return 0, translate(err)
	}
	return p.Stock, nil
}
