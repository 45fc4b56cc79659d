package services

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/google/uuid"
	apperrors "github.com/yashrajoria/relab-checkout/common/errors"
	"github.com/yashrajoria/relab-checkout/gateway"
	"github.com/yashrajoria/relab-checkout/models"
	awspkg "github.com/yashrajoria/relab-checkout/pkg/aws"
	"github.com/yashrajoria/relab-checkout/repository"
	"go.uber.org/zap"
)

// PaymentService creates processor preferences and exposes payment state.
type PaymentService struct {
	store      repository.Store
	gateway    gateway.Gateway
	reconciler *Reconciler
	metrics    *awspkg.MetricsClient
	logger     *zap.Logger
	currency   string
	timeout    time.Duration
}

func NewPaymentService(store repository.Store, gw gateway.Gateway, reconciler *Reconciler, metrics *awspkg.MetricsClient, logger *zap.Logger, currency string, timeout time.Duration) *PaymentService {
	if timeout <= 0 {
		timeout = DefaultGatewayTimeout
	}
	if currency == "" {
		currency = "BRL"
	}
	return &PaymentService{
		store:      store,
		gateway:    gw,
		reconciler: reconciler,
		metrics:    metrics,
		logger:     nopIfNil(logger),
		currency:   strings.ToUpper(currency),
		timeout:    timeout,
	}
}

// CreatePreference registers the order with the processor and records a
// pending payment for it. An order has at most one payment; a timed out
// gateway call leaves the order without one so the caller may retry.
func (s *PaymentService) CreatePreference(ctx context.Context, caller models.Identity, orderID uuid.UUID) (*models.PreferenceResponse, error) {
	order, err := s.store.Orders().FindByID(ctx, orderID)
	if errors.Is(err, repository.ErrNotFound) {
		return nil, apperrors.NotFound("Order not found")
	}
	if err != nil {
		return nil, apperrors.Internal("Failed to fetch order", err)
	}
	if order.UserID != caller.UserID {
		return nil, apperrors.Forbidden("Order belongs to another user")
	}
	if order.Status != models.OrderStatusAwaitingPayment {
		return nil, apperrors.Conflict("Order is not awaiting payment")
	}

	_, err = s.store.Payments().FindByOrderID(ctx, order.ID)
	if err == nil {
		return nil, apperrors.Conflict("Order already has a payment")
	}
	if !errors.Is(err, repository.ErrNotFound) {
		return nil, apperrors.Internal("Failed to load payment", err)
	}

	pref, err := s.createPreference(ctx, caller, order)
	if err != nil {
		return nil, err
	}

	payment := &models.Payment{
		ID:               uuid.New(),
		OrderID:          order.ID,
		UserID:           order.UserID,
		Provider:         s.gateway.Name(),
		PreferenceID:     pref.ID,
		Method:           order.PaymentMethod,
		Status:           models.PaymentStatusPending,
		Amount:           order.Total,
		Currency:         s.currency,
		InitPoint:        pref.InitPoint,
		SandboxInitPoint: pref.SandboxInitPoint,
		RawPayload:       rawPayload(pref.Raw),
	}
	if pref.PaymentID != "" {
		id := pref.PaymentID
		payment.ExternalPaymentID = &id
	}

	err = s.store.WithinTransaction(ctx, func(tx repository.Store) error {
		locked, err := lockOrder(ctx, tx, order.ID)
		if err != nil {
			return err
		}
		if locked.Status != models.OrderStatusAwaitingPayment || locked.Total != order.Total {
			return apperrors.Conflict("Order changed while the preference was created")
		}
		err = tx.Payments().Create(ctx, payment)
		if errors.Is(err, repository.ErrDuplicate) {
			return apperrors.Conflict("Order already has a payment")
		}
		if err != nil {
			return apperrors.Internal("Failed to record payment", err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.logger.Info("payment preference created",
		zap.String("order_id", order.ID.String()),
		zap.String("payment_id", payment.ID.String()),
		zap.String("preference_id", pref.ID),
		zap.String("provider", s.gateway.Name()),
	)
	recordCount(s.metrics, awspkg.MetricPreferencesCreated, map[string]string{"Provider": s.gateway.Name()})

	return &models.PreferenceResponse{
		PaymentID:        payment.ID,
		PreferenceID:     pref.ID,
		InitPoint:        pref.InitPoint,
		SandboxInitPoint: pref.SandboxInitPoint,
	}, nil
}

func (s *PaymentService) createPreference(ctx context.Context, caller models.Identity, order *models.Order) (*gateway.Preference, error) {
	req := &gateway.PreferenceRequest{
		ExternalReference: order.ID.String(),
		OrderNumber:       order.OrderNumber,
		Items:             make([]gateway.PreferenceItem, 0, len(order.Items)+1),
		Payer:             gateway.Payer{Email: caller.Email},
		Amount:            order.Total,
		Currency:          s.currency,
	}
	for _, it := range order.Items {
		req.Items = append(req.Items, gateway.PreferenceItem{Title: it.ProductName, Quantity: it.Quantity, UnitPrice: it.UnitPrice})
	}
	if order.ShippingFee > 0 {
		req.Items = append(req.Items, gateway.PreferenceItem{Title: "Frete", Quantity: 1, UnitPrice: order.ShippingFee})
	}

	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	start := time.Now()
	pref, err := s.gateway.CreatePreference(ctx, req)
	recordLatency(s.metrics, awspkg.MetricGatewayLatency, time.Since(start), map[string]string{"Operation": "CreatePreference"})
	if err != nil {
		s.logger.Error("preference creation failed", zap.String("order_id", order.ID.String()), zap.Error(err))
		return nil, apperrors.Gateway("Payment gateway unavailable", err)
	}
	return pref, nil
}

// Get returns a payment visible to the caller.
func (s *PaymentService) Get(ctx context.Context, caller models.Identity, paymentID uuid.UUID) (*models.Payment, error) {
	payment, err := s.store.Payments().FindByID(ctx, paymentID)
	if errors.Is(err, repository.ErrNotFound) {
		return nil, apperrors.NotFound("Payment not found")
	}
	if err != nil {
		return nil, apperrors.Internal("Failed to fetch payment", err)
	}
	if !caller.CanAccess(payment.UserID) {
		return nil, apperrors.NotFound("Payment not found")
	}
	return payment, nil
}

func (s *PaymentService) List(ctx context.Context, caller models.Identity, page, limit int) (*PaymentList, error) {
	page, limit = normalizePage(page, limit)
	payments, total, err := s.store.Payments().FindByUserID(ctx, caller.UserID, page, limit)
	if err != nil {
		s.logger.Error("failed to fetch payments", zap.String("user_id", caller.UserID.String()), zap.Error(err))
		return nil, apperrors.Internal("Failed to fetch payments", err)
	}
	return &PaymentList{Payments: payments, Meta: newMeta(page, limit, total)}, nil
}

// Status re-fetches the payment from the processor before returning it.
func (s *PaymentService) Status(ctx context.Context, caller models.Identity, paymentID uuid.UUID) (*models.Payment, error) {
	payment, err := s.Get(ctx, caller, paymentID)
	if err != nil {
		return nil, err
	}
	res, err := s.reconciler.Poll(ctx, payment)
	if err != nil {
		return nil, err
	}
	return res.Payment, nil
}
