package repository

import (
	"context"

	"github.com/google/uuid"
	"github.com/yashrajoria/relab-checkout/models"
	"gorm.io/gorm"
)

// CatalogRepository reads the product and destination collaborators.
type CatalogRepository interface {
	FindProduct(ctx context.Context, id uuid.UUID) (*models.Product, error)
	FindAddress(ctx context.Context, id uuid.UUID) (*models.Address, error)
}

type GormCatalogRepository struct {
	db *gorm.DB
}

func NewGormCatalogRepository(db *gorm.DB) CatalogRepository {
	return &GormCatalogRepository{db: db}
}

func (r *GormCatalogRepository) FindProduct(ctx context.Context, id uuid.UUID) (*models.Product, error) {
	var p models.Product
	if err := r.db.WithContext(ctx).First(&p, "id = ?", id).Error; err != nil {
		return nil, translate(err)
	}
	return &p, nil
}

func (r *GormCatalogRepository) FindAddress(ctx context.Context, id uuid.UUID) (*models.Address, error) {
	var a models.Address
	if err := r.db.WithContext(ctx).First(&a, "id = ?", id).Error; err != nil {
		return nil, translate(err)
	}
	return &a, nil
}
