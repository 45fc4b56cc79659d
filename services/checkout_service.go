package services

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
	apperrors "github.com/yashrajoria/relab-checkout/common/errors"
	"github.com/yashrajoria/relab-checkout/models"
	awspkg "github.com/yashrajoria/relab-checkout/pkg/aws"
	"github.com/yashrajoria/relab-checkout/repository"
	"go.uber.org/zap"
)

// IdempotencyStore remembers which order a client request key produced.
type IdempotencyStore interface {
	// Reserve claims key. When the key was already used it returns the stored
	// order id, or "" while the first request is still running.
	Reserve(ctx context.Context, key string) (existing string, reserved bool, err error)
	Complete(ctx context.Context, key, orderID string) error
	Release(ctx context.Context, key string) error
}

type CheckoutResult struct {
	Order *models.Order
	// Replayed is true when the order was produced by an earlier request with
	// the same idempotency key.
	Replayed bool
}

// CheckoutService turns explicit items or the buyer's cart into an order.
// Validation, stock decrement, order creation and cart clearing share one
// transaction: no stock leaves the ledger without an order.
type CheckoutService struct {
	store       repository.Store
	events      EventPublisher
	idempotency IdempotencyStore
	metrics     *awspkg.MetricsClient
	logger      *zap.Logger
	shippingFee int64
	now         func() time.Time
}

type CheckoutOption func(*CheckoutService)

func WithIdempotency(store IdempotencyStore) CheckoutOption {
	return func(s *CheckoutService) { s.idempotency = store }
}

func WithShippingFee(fee int64) CheckoutOption {
	return func(s *CheckoutService) { s.shippingFee = fee }
}

func NewCheckoutService(store repository.Store, events EventPublisher, metrics *awspkg.MetricsClient, logger *zap.Logger, opts ...CheckoutOption) *CheckoutService {
	s := &CheckoutService{
		store:   store,
		events:  events,
		metrics: metrics,
		logger:  nopIfNil(logger),
		now:     time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

type checkoutLine struct {
	productID uuid.UUID
	name      string
	unitPrice int64
	quantity  int
}

// checkoutSource is what a checkout entry point resolved inside the
// transaction. cartID is set for cart checkouts only.
type checkoutSource struct {
	lines  []checkoutLine
	cartID uuid.UUID
}

// FromItems checks out an explicit item list at current catalog prices.
func (s *CheckoutService) FromItems(ctx context.Context, buyer models.Identity, req *models.CheckoutRequest, idempotencyKey string) (*CheckoutResult, error) {
	if len(req.Items) == 0 {
		return nil, apperrors.Validation("at least one item is required")
	}
	requested, err := mergeLines(req.Items)
	if err != nil {
		return nil, err
	}

	return s.checkout(ctx, buyer, req, idempotencyKey, func(tx repository.Store) (*checkoutSource, error) {
		lines := make([]checkoutLine, 0, len(requested))
		for _, r := range requested {
			product, err := sellableProduct(ctx, tx, r.ProductID, r.Quantity)
			if err != nil {
				return nil, err
			}
			lines = append(lines, checkoutLine{
				productID: product.ID,
				name:      product.Name,
				unitPrice: product.FinalPrice(),
				quantity:  r.Quantity,
			})
		}
		return &checkoutSource{lines: lines}, nil
	})
}

// FromCart checks out the buyer's cart at the prices captured in its lines,
// bumps the sales counters and empties the cart.
func (s *CheckoutService) FromCart(ctx context.Context, buyer models.Identity, req *models.CheckoutRequest, idempotencyKey string) (*CheckoutResult, error) {
	return s.checkout(ctx, buyer, req, idempotencyKey, func(tx repository.Store) (*checkoutSource, error) {
		cart, err := tx.Carts().FindByUserID(ctx, buyer.UserID)
		if errors.Is(err, repository.ErrNotFound) || (err == nil && len(cart.Items) == 0) {
			return nil, apperrors.Validation("cart is empty")
		}
		if err != nil {
			return nil, apperrors.Internal("Failed to load cart", err)
		}

		lines := make([]checkoutLine, 0, len(cart.Items))
		for _, item := range cart.Items {
			if _, err := sellableProduct(ctx, tx, item.ProductID, item.Quantity); err != nil {
				return nil, err
			}
			lines = append(lines, checkoutLine{
				productID: item.ProductID,
				name:      item.ProductName,
				unitPrice: item.UnitPrice,
				quantity:  item.Quantity,
			})
		}
		return &checkoutSource{lines: lines, cartID: cart.ID}, nil
	})
}

func (s *CheckoutService) checkout(
	ctx context.Context,
	buyer models.Identity,
	req *models.CheckoutRequest,
	idempotencyKey string,
	resolve func(tx repository.Store) (*checkoutSource, error),
) (*CheckoutResult, error) {
	if !req.PaymentMethod.Valid() {
		return nil, apperrors.Validation("invalid payment method")
	}

	key := s.idempotencyKey(buyer.UserID, idempotencyKey)
	if key != "" {
		replay, err := s.reserve(ctx, key)
		if replay != nil || err != nil {
			return replay, err
		}
	}

	order, fromCart, err := s.place(ctx, buyer, req, resolve)
	if err != nil {
		if key != "" {
			if relErr := s.idempotency.Release(context.WithoutCancel(ctx), key); relErr != nil {
				s.logger.Warn("failed to release idempotency key", zap.String("key", key), zap.Error(relErr))
			}
		}
		if apperrors.Is(err, apperrors.KindInsufficientStock) {
			recordCount(s.metrics, awspkg.MetricCheckoutRejected, nil)
		}
		return nil, err
	}

	if key != "" {
		if err := s.idempotency.Complete(context.WithoutCancel(ctx), key, order.ID.String()); err != nil {
			s.logger.Warn("failed to store idempotency key", zap.String("key", key), zap.Error(err))
		}
	}

	s.logger.Info("order created",
		zap.String("order_id", order.ID.String()),
		zap.String("order_number", order.OrderNumber),
		zap.String("user_id", buyer.UserID.String()),
		zap.Int64("total", order.Total),
		zap.Bool("from_cart", fromCart),
	)
	publish(ctx, s.events, s.logger, models.NewOrderEvent(models.EventOrderCreated, order, order.CustomerNote))
	recordCount(s.metrics, awspkg.MetricOrdersCreated, map[string]string{"PaymentMethod": string(order.PaymentMethod)})
	if fromCart {
		recordCount(s.metrics, awspkg.MetricCartCheckouts, nil)
	}
	return &CheckoutResult{Order: order}, nil
}

func (s *CheckoutService) place(
	ctx context.Context,
	buyer models.Identity,
	req *models.CheckoutRequest,
	resolve func(tx repository.Store) (*checkoutSource, error),
) (*models.Order, bool, error) {
	var order *models.Order
	fromCart := false
	err := s.store.WithinTransaction(ctx, func(tx repository.Store) error {
		if err := checkDestination(ctx, tx, buyer.UserID, req.AddressID); err != nil {
			return err
		}

		src, err := resolve(tx)
		if err != nil {
			return err
		}
		lines := src.lines
		fromCart = src.cartID != uuid.Nil

		now := s.now()
		o := &models.Order{
			ID:            uuid.New(),
			OrderNumber:   models.GenerateOrderNumber(now),
			UserID:        buyer.UserID,
			AddressID:     req.AddressID,
			PaymentMethod: req.PaymentMethod,
			CustomerNote:  strings.TrimSpace(req.Note),
			ShippingFee:   s.shippingFee,
			Status:        models.OrderStatusAwaitingPayment,
			Items:         make([]models.OrderItem, 0, len(lines)),
		}
		for _, l := range lines {
			item := models.OrderItem{
				ID:          uuid.New(),
				OrderID:     o.ID,
				ProductID:   l.productID,
				ProductName: l.name,
				UnitPrice:   l.unitPrice,
				Quantity:    l.quantity,
			}
			item.Recalculate()
			o.Subtotal += item.Subtotal
			o.Items = append(o.Items, item)
		}
		o.Recalculate()

		if err := tx.Orders().Create(ctx, o); err != nil {
			return apperrors.Internal("Failed to create order", err)
		}

		// Decrement in a fixed product order so concurrent checkouts lock rows
		// in the same sequence.
		sorted := append([]checkoutLine(nil), lines...)
		sort.Slice(sorted, func(i, j int) bool { return sorted[i].productID.String() < sorted[j].productID.String() })
		for _, l := range sorted {
			if err := decrement(ctx, tx, l.productID, l.quantity); err != nil {
				return err
			}
			if fromCart {
				if err := tx.Inventory().IncrementSales(ctx, l.productID, l.quantity); err != nil {
					return apperrors.Internal("Failed to update sales counter", err)
				}
			}
		}
		if fromCart {
			if err := tx.Carts().ClearItems(ctx, src.cartID); err != nil {
				return apperrors.Internal("Failed to clear cart", err)
			}
		}

		event := &models.StatusEvent{
			ID:        uuid.New(),
			OrderID:   o.ID,
			Status:    models.OrderStatusAwaitingPayment,
			Note:      "Order created",
			CreatedBy: &buyer.UserID,
		}
		if err := tx.Orders().AppendStatusEvent(ctx, event); err != nil {
			return apperrors.Internal("Failed to record status event", err)
		}
		o.History = []models.StatusEvent{*event}

		order = o
		return nil
	})
	if err != nil {
		return nil, false, err
	}
	return order, fromCart, nil
}

// reserve claims the idempotency key. A non-nil result means the key was
// already used and the original order is returned instead.
func (s *CheckoutService) reserve(ctx context.Context, key string) (*CheckoutResult, error) {
	existing, reserved, err := s.idempotency.Reserve(ctx, key)
	if err != nil {
		s.logger.Error("idempotency store unavailable", zap.Error(err))
		return nil, apperrors.Internal("Idempotency store unavailable", err)
	}
	if reserved {
		return nil, nil
	}
	if existing == "" {
		return nil, apperrors.Conflict("A request with this idempotency key is still in progress")
	}

	orderID, err := uuid.Parse(existing)
	if err != nil {
		return nil, apperrors.Internal("Corrupt idempotency record", err)
	}
	order, err := s.store.Orders().FindByID(ctx, orderID)
	if err != nil {
		return nil, apperrors.Internal("Failed to load original order", err)
	}
	return &CheckoutResult{Order: order, Replayed: true}, nil
}

func (s *CheckoutService) idempotencyKey(buyer uuid.UUID, key string) string {
	key = strings.TrimSpace(key)
	if key == "" || s.idempotency == nil {
		return ""
	}
	return fmt.Sprintf("idem:checkout:%s:%s", buyer, key)
}

func checkDestination(ctx context.Context, tx repository.Store, buyer, addressID uuid.UUID) error {
	addr, err := tx.Catalog().FindAddress(ctx, addressID)
	if errors.Is(err, repository.ErrNotFound) {
		return apperrors.InvalidDestination("Address not found")
	}
	if err != nil {
		return apperrors.Internal("Failed to load address", err)
	}
	if addr.UserID != buyer || !addr.Active {
		return apperrors.InvalidDestination("Address does not belong to the buyer or is inactive")
	}
	return nil
}

func sellableProduct(ctx context.Context, tx repository.Store, productID uuid.UUID, qty int) (*models.Product, error) {
	product, err := tx.Catalog().FindProduct(ctx, productID)
	if errors.Is(err, repository.ErrNotFound) {
		return nil, apperrors.NotFound(fmt.Sprintf("Product %s not found", productID))
	}
	if err != nil {
		return nil, apperrors.Internal("Failed to load product", err)
	}
	if !product.Sellable() {
		return nil, apperrors.InsufficientStock(productID.String(), 0)
	}
	if product.Stock < qty {
		return nil, apperrors.InsufficientStock(productID.String(), product.Stock)
	}
	return product, nil
}

// decrement takes qty units off the ledger. The conditional update is the
// authority: a concurrent checkout may have consumed the stock after the
// sellable check passed.
func decrement(ctx context.Context, tx repository.Store, productID uuid.UUID, qty int) error {
	err := tx.Inventory().Decrement(ctx, productID, qty)
	switch {
	case err == nil:
		return nil
	case errors.Is(err, repository.ErrInsufficientStock):
		available, aerr := tx.Inventory().Available(ctx, productID)
		if aerr != nil {
			available = 0
		}
		return apperrors.InsufficientStock(productID.String(), available)
	case errors.Is(err, repository.ErrNotFound):
		return apperrors.NotFound(fmt.Sprintf("Product %s not found", productID))
	}
	return apperrors.Internal("Failed to reserve stock", err)
}

// mergeLines folds repeated products into one line and validates quantities.
func mergeLines(items []models.CheckoutLine) ([]models.CheckoutLine, error) {
	merged := make([]models.CheckoutLine, 0, len(items))
	index := make(map[uuid.UUID]int, len(items))
	for _, it := range items {
		if it.ProductID == uuid.Nil {
			return nil, apperrors.Validation("product_id is required")
		}
		if err := validateQuantity(it.Quantity); err != nil {
			return nil, err
		}
		if i, ok := index[it.ProductID]; ok {
			merged[i].Quantity += it.Quantity
			if err := validateQuantity(merged[i].Quantity); err != nil {
				return nil, err
			}
			continue
		}
		index[it.ProductID] = len(merged)
		merged = append(merged, it)
	}
	return merged, nil
}
