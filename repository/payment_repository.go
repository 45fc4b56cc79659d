package repository

import (
	"context"

	"github.com/google/uuid"
	"github.com/yashrajoria/relab-checkout/models"
	"gorm.io/gorm"
)

type PaymentRepository interface {
	// Create returns ErrDuplicate when the order already has a payment.
	Create(ctx context.Context, payment *models.Payment) error
	FindByID(ctx context.Context, id uuid.UUID) (*models.Payment, error)
	FindByOrderID(ctx context.Context, orderID uuid.UUID) (*models.Payment, error)
	FindByUserID(ctx context.Context, userID uuid.UUID, page, limit int) ([]models.Payment, int64, error)
	// FindOpen lists payments the processor has not settled yet.
	FindOpen(ctx context.Context, limit int) ([]models.Payment, error)
	Save(ctx context.Context, payment *models.Payment) error
}

type GormPaymentRepository struct {
	db *gorm.DB
}

func NewGormPaymentRepository(db *gorm.DB) PaymentRepository {
	return &GormPaymentRepository{db: db}
}

func (r *GormPaymentRepository) Create(ctx context.Context, payment *models.Payment) error {
	return translate(r.db.WithContext(ctx).Create(payment).Error)
}

func (r *GormPaymentRepository) FindByID(ctx context.Context, id uuid.UUID) (*models.Payment, error) {
	var payment models.Payment
	if err := r.db.WithContext(ctx).First(&payment, "id = ?", id).Error; err != nil {
		return nil, translate(err)
	}
	return &payment, nil
}

func (r *GormPaymentRepository) FindByOrderID(ctx context.Context, orderID uuid.UUID) (*models.Payment, error) {
	var payment models.Payment
	if err := r.db.WithContext(ctx).Where("order_id = ?", orderID).First(&payment).Error; err != nil {
		return nil, translate(err)
	}
	return &payment, nil
}

func (r *GormPaymentRepository) FindByUserID(ctx context.Context, userID uuid.UUID, page, limit int) ([]models.Payment, int64, error) {
	var payments []models.Payment
	var total int64

	query := r.db.WithContext(ctx).Model(&models.Payment{}).Where("user_id = ?", userID)
	if err := query.Count(&total).Error; err != nil {
		return nil, 0, err
	}
	if err := query.
		Offset(offset(page, limit)).
		Limit(limit).
		Order("created_at DESC").
		Find(&payments).Error; err != nil {
		return nil, 0, err
	}
	return payments, total, nil
}

func (r *GormPaymentRepository) FindOpen(ctx context.Context, limit int) ([]models.Payment, error) {
	var payments []models.Payment
	err := r.db.WithContext(ctx).
		Where("external_payment_id IS NOT NULL AND status IN ?", []models.PaymentStatus{models.PaymentStatusPending, models.PaymentStatusInProcess}).
		Order("updated_at ASC").
		Limit(limit).
		Find(&payments).Error
	return payments, err
}

func (r *GormPaymentRepository) Save(ctx context.Context, payment *models.Payment) error {
	return translate(r.db.WithContext(ctx).Save(payment).Error)
}
