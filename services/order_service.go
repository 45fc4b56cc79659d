package services

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/google/uuid"
	apperrors "github.com/yashrajoria/relab-checkout/common/errors"
	"github.com/yashrajoria/relab-checkout/models"
	awspkg "github.com/yashrajoria/relab-checkout/pkg/aws"
	"github.com/yashrajoria/relab-checkout/repository"
	"go.uber.org/zap"
)

const defaultCancelNote = "Cancelled by customer"

type OrderService struct {
	store   repository.Store
	events  EventPublisher
	metrics *awspkg.MetricsClient
	logger  *zap.Logger
	now     func() time.Time
}

func NewOrderService(store repository.Store, events EventPublisher, metrics *awspkg.MetricsClient, logger *zap.Logger) *OrderService {
	return &OrderService{
		store:   store,
		events:  events,
		metrics: metrics,
		logger:  nopIfNil(logger),
		now:     time.Now,
	}
}

// Get returns the order with items and history. Orders owned by someone else
// are reported as missing; internal notes are only shown to staff.
func (s *OrderService) Get(ctx context.Context, caller models.Identity, orderID uuid.UUID) (*models.Order, error) {
	order, err := s.store.Orders().FindByID(ctx, orderID)
	if errors.Is(err, repository.ErrNotFound) {
		return nil, apperrors.NotFound("Order not found")
	}
	if err != nil {
		s.logger.Error("failed to fetch order", zap.String("order_id", orderID.String()), zap.Error(err))
		return nil, apperrors.Internal("Failed to fetch order", err)
	}
	if !caller.CanAccess(order.UserID) {
		return nil, apperrors.NotFound("Order not found")
	}
	if !caller.IsStaff() {
		order.InternalNote = ""
	}
	return order, nil
}

// List returns the caller's own orders, newest first.
func (s *OrderService) List(ctx context.Context, caller models.Identity, filter models.OrderFilter, page, limit int) (*OrderList, error) {
	page, limit = normalizePage(page, limit)
	orders, total, err := s.store.Orders().FindByUserID(ctx, caller.UserID, filter, page, limit)
	if err != nil {
		s.logger.Error("failed to fetch orders", zap.String("user_id", caller.UserID.String()), zap.Error(err))
		return nil, apperrors.Internal("Failed to fetch orders", err)
	}
	for i := range orders {
		orders[i].InternalNote = ""
	}
	return &OrderList{Orders: orders, Meta: newMeta(page, limit, total)}, nil
}

// ListAll returns every order for staff.
func (s *OrderService) ListAll(ctx context.Context, filter models.OrderFilter, page, limit int) (*OrderList, error) {
	page, limit = normalizePage(page, limit)
	orders, total, err := s.store.Orders().FindAll(ctx, filter, page, limit)
	if err != nil {
		s.logger.Error("failed to fetch all orders", zap.Error(err))
		return nil, apperrors.Internal("Failed to fetch orders", err)
	}
	return &OrderList{Orders: orders, Meta: newMeta(page, limit, total)}, nil
}

// UpdateStatus is the privileged transition. Illegal moves fail with
// InvalidTransition.
func (s *OrderService) UpdateStatus(ctx context.Context, actor models.Identity, orderID uuid.UUID, req *models.UpdateStatusRequest) (*models.Order, error) {
	if !actor.IsStaff() {
		return nil, apperrors.Forbidden("Staff access required")
	}
	if !req.Status.Valid() {
		return nil, apperrors.Validation("invalid order status")
	}

	return s.transition(ctx, orderID, transitionRequest{
		to:           req.Status,
		note:         req.Note,
		actor:        &actor.UserID,
		internalNote: req.InternalNote,
	})
}

// Cancel moves an unpaid order to cancelled and returns its stock. A second
// cancellation fails with InvalidTransition.
func (s *OrderService) Cancel(ctx context.Context, caller models.Identity, orderID uuid.UUID, note string) (*models.Order, error) {
	if strings.TrimSpace(note) == "" {
		note = defaultCancelNote
	}
	order, err := s.transition(ctx, orderID, transitionRequest{
		to:    models.OrderStatusCancelled,
		note:  note,
		actor: &caller.UserID,
		guard: func(o *models.Order) error {
			if !caller.CanAccess(o.UserID) {
				return apperrors.NotFound("Order not found")
			}
			return nil
		},
	})
	if err != nil {
		return nil, err
	}
	recordCount(s.metrics, awspkg.MetricOrdersCancelled, nil)
	recordCount(s.metrics, awspkg.MetricInventoryRestocked, nil)
	if !caller.IsStaff() {
		order.InternalNote = ""
	}
	return order, nil
}

// AddTracking stores the carrier tracking code without changing status.
func (s *OrderService) AddTracking(ctx context.Context, actor models.Identity, orderID uuid.UUID, code string) (*models.Order, error) {
	if !actor.IsStaff() {
		return nil, apperrors.Forbidden("Staff access required")
	}
	code = strings.TrimSpace(code)
	if code == "" {
		return nil, apperrors.Validation("tracking code is required")
	}

	var order *models.Order
	err := s.store.WithinTransaction(ctx, func(tx repository.Store) error {
		o, err := lockOrder(ctx, tx, orderID)
		if err != nil {
			return err
		}
		o.TrackingCode = code
		if err := tx.Orders().Save(ctx, o); err != nil {
			return apperrors.Internal("Failed to update order", err)
		}
		order = o
		return nil
	})
	if err != nil {
		return nil, err
	}
	s.logger.Info("tracking code added", zap.String("order_id", orderID.String()), zap.String("actor", actor.UserID.String()))
	return s.reload(ctx, order.ID)
}

// AdjustCharges changes discount and shipping before a payment exists, so the
// payment amount always equals the order total at creation.
func (s *OrderService) AdjustCharges(ctx context.Context, actor models.Identity, orderID uuid.UUID, req *models.ChargesRequest) (*models.Order, error) {
	if !actor.IsStaff() {
		return nil, apperrors.Forbidden("Staff access required")
	}
	if req.Discount == nil && req.ShippingFee == nil {
		return nil, apperrors.Validation("discount or shipping_fee is required")
	}
	if (req.Discount != nil && *req.Discount < 0) || (req.ShippingFee != nil && *req.ShippingFee < 0) {
		return nil, apperrors.Validation("charges must not be negative")
	}

	err := s.store.WithinTransaction(ctx, func(tx repository.Store) error {
		o, err := lockOrder(ctx, tx, orderID)
		if err != nil {
			return err
		}
		if o.Status != models.OrderStatusAwaitingPayment {
			return apperrors.Conflict("Charges can only change while the order awaits payment")
		}
		_, err = tx.Payments().FindByOrderID(ctx, o.ID)
		if err == nil {
			return apperrors.Conflict("Charges cannot change after payment was started")
		}
		if !errors.Is(err, repository.ErrNotFound) {
			return apperrors.Internal("Failed to load payment", err)
		}

		if req.Discount != nil {
			o.Discount = *req.Discount
		}
		if req.ShippingFee != nil {
			o.ShippingFee = *req.ShippingFee
		}
		o.Recalculate()
		if err := tx.Orders().Save(ctx, o); err != nil {
			return apperrors.Internal("Failed to update order", err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return s.reload(ctx, orderID)
}

func (s *OrderService) transition(ctx context.Context, orderID uuid.UUID, req transitionRequest) (*models.Order, error) {
	var res *transitionResult
	err := s.store.WithinTransaction(ctx, func(tx repository.Store) error {
		var err error
		res, err = transitionOrder(ctx, tx, orderID, req, s.now())
		return err
	})
	if err != nil {
		return nil, err
	}

	s.logger.Info("order status changed",
		zap.String("order_id", orderID.String()),
		zap.String("from", string(res.from)),
		zap.String("to", string(req.to)),
	)
	publish(ctx, s.events, s.logger, models.NewOrderEvent(models.EventOrderStatusChanged, res.order, req.note))
	return s.reload(ctx, orderID)
}

func (s *OrderService) reload(ctx context.Context, orderID uuid.UUID) (*models.Order, error) {
	order, err := s.store.Orders().FindByID(ctx, orderID)
	if err != nil {
		return nil, apperrors.Internal("Failed to fetch order", err)
	}
	return order, nil
}

func lockOrder(ctx context.Context, tx repository.Store, orderID uuid.UUID) (*models.Order, error) {
	order, err := tx.Orders().FindByIDForUpdate(ctx, orderID)
	if errors.Is(err, repository.ErrNotFound) {
		return nil, apperrors.NotFound("Order not found")
	}
	if err != nil {
		return nil, apperrors.Internal("Failed to load order", err)
	}
	return order, nil
}
