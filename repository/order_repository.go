package repository

import (
	"context"

	"github.com/google/uuid"
	"github.com/yashrajoria/relab-checkout/models"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// OrderRepository defines the interface for order data access
type OrderRepository interface {
	// Create inserts the order together with its items.
	Create(ctx context.Context, order *models.Order) error
	FindByID(ctx context.Context, id uuid.UUID) (*models.Order, error)
	// FindByIDForUpdate loads the order with its items and holds a row lock
	// until the enclosing transaction ends.
	FindByIDForUpdate(ctx context.Context, id uuid.UUID) (*models.Order, error)
	FindByUserID(ctx context.Context, userID uuid.UUID, filter models.OrderFilter, page, limit int) ([]models.Order, int64, error)
	FindAll(ctx context.Context, filter models.OrderFilter, page, limit int) ([]models.Order, int64, error)
	// Save writes the order row only; items and history are never rewritten.
	Save(ctx context.Context, order *models.Order) error
	AppendStatusEvent(ctx context.Context, event *models.StatusEvent) error
}

// GormOrderRepository implements OrderRepository using GORM
type GormOrderRepository struct {
	db *gorm.DB
}

// NewGormOrderRepository creates a new instance of GormOrderRepository
func NewGormOrderRepository(db *gorm.DB) OrderRepository {
	return &GormOrderRepository{db: db}
}

func (r *GormOrderRepository) Create(ctx context.Context, order *models.Order) error {
	return translate(r.db.WithContext(ctx).Omit("History").Create(order).Error)
}

func historyAscending(db *gorm.DB) *gorm.DB {
	return db.Order("created_at ASC")
}

func (r *GormOrderRepository) FindByID(ctx context.Context, id uuid.UUID) (*models.Order, error) {
	var order models.Order
	if err := r.db.WithContext(ctx).
		Preload("Items").
		Preload("History", historyAscending).
		First(&order, "id = ?", id).Error; err != nil {
		return nil, translate(err)
	}
	return &order, nil
}

func (r *GormOrderRepository) FindByIDForUpdate(ctx context.Context, id uuid.UUID) (*models.Order, error) {
	var order models.Order
	if err := r.db.WithContext(ctx).
		Clauses(clause.Locking{Strength: "UPDATE"}).
		Preload("Items").
		First(&order, "id = ?", id).Error; err != nil {
		return nil, translate(err)
	}
	return &order, nil
}

func applyOrderFilter(query *gorm.DB, filter models.OrderFilter) *gorm.DB {
	if filter.Status != "" {
		query = query.Where("status = ?", filter.Status)
	}
	if filter.PaymentMethod != "" {
		query = query.Where("payment_method = ?", filter.PaymentMethod)
	}
	return query
}

func (r *GormOrderRepository) page(query *gorm.DB, page, limit int) ([]models.Order, int64, error) {
	var orders []models.Order
	var total int64

	if err := query.Count(&total).Error; err != nil {
		return nil, 0, err
	}

	if err := query.
		Preload("Items").
		Offset(offset(page, limit)).
		Limit(limit).
		Order("created_at DESC").
		Find(&orders).Error; err != nil {
		return nil, 0, err
	}
	return orders, total, nil
}

// FindByUserID retrieves orders for a specific user with pagination
func (r *GormOrderRepository) FindByUserID(ctx context.Context, userID uuid.UUID, filter models.OrderFilter, page, limit int) ([]models.Order, int64, error) {
	query := applyOrderFilter(r.db.WithContext(ctx).Model(&models.Order{}).Where("user_id = ?", userID), filter)
	return r.page(query, page, limit)
}

// FindAll retrieves all orders with pagination
func (r *GormOrderRepository) FindAll(ctx context.Context, filter models.OrderFilter, page, limit int) ([]models.Order, int64, error) {
	query := applyOrderFilter(r.db.WithContext(ctx).Model(&models.Order{}), filter)
	return r.page(query, page, limit)
}

func (r *GormOrderRepository) Save(ctx context.Context, order *models.Order) error {
	return translate(r.db.WithContext(ctx).Omit(clause.Associations).Save(order).Error)
}

func (r *GormOrderRepository) AppendStatusEvent(ctx context.Context, event *models.StatusEvent) error {
	return translate(r.db.WithContext(ctx).Create(event).Error)
}
