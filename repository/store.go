package repository

import (
	"context"

	"gorm.io/gorm"
)

// Store groups the repositories that take part in one unit of work.
type Store interface {
	Carts() CartRepository
	Catalog() CatalogRepository
	Inventory() InventoryRepository
	Orders() OrderRepository
	Payments() PaymentRepository
	// WithinTransaction runs fn against a Store bound to a single transaction.
	// Any error returned by fn rolls the whole unit back.
	WithinTransaction(ctx context.Context, fn func(tx Store) error) error
}

// GormStore implements Store over one *gorm.DB handle.
type GormStore struct {
	db *gorm.DB
}

func NewGormStore(db *gorm.DB) *GormStore {
	return &GormStore{db: db}
}

func (s *GormStore) Carts() CartRepository { return NewGormCartRepository(s.db) }
func (s *GormStore) Catalog() CatalogRepository { return NewGormCatalogRepository(s.db) }
func (s *GormStore) Inventory() InventoryRepository { return NewGormInventoryRepository(s.db) }
func (s *GormStore) Orders() OrderRepository { return NewGormOrderRepository(s.db) }
func (s *GormStore) Payments() PaymentRepository { return NewGormPaymentRepository(s.db) }

func (s *GormStore) WithinTransaction(ctx context.Context, fn func(tx Store) error) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		return fn(NewGormStore(tx))
	})
}
