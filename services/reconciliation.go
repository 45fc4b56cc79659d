package services

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
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

const DefaultGatewayTimeout = 10 * time.Second

// PaymentIDExtractor pulls the processor payment id out of a notification.
type PaymentIDExtractor func(n *gateway.Notification) (string, bool)

// DefaultExtractors are tried in order; the first id found wins.
var DefaultExtractors = []PaymentIDExtractor{
	QueryParam("data.id"),
	QueryParam("id"),
	BodyField("data", "id"),
	BodyField("data", "object", "id"),
	BodyField("id"),
}

func QueryParam(name string) PaymentIDExtractor {
	return func(n *gateway.Notification) (string, bool) {
		v := strings.TrimSpace(n.Query.Get(name))
		return v, v != ""
	}
}

// BodyField follows path through the JSON body. String and numeric leaves
// are both accepted.
func BodyField(path ...string) PaymentIDExtractor {
	return func(n *gateway.Notification) (string, bool) {
		if len(n.Body) == 0 {
			return "", false
		}
		dec := json.NewDecoder(bytes.NewReader(n.Body))
		dec.UseNumber()
		var node any
		if err := dec.Decode(&node); err != nil {
			return "", false
		}
		for _, key := range path {
			obj, ok := node.(map[string]any)
			if !ok {
				return "", false
			}
			node = obj[key]
		}
		switch v := node.(type) {
		case string:
			v = strings.TrimSpace(v)
			return v, v != ""
		case json.Number:
			return v.String(), true
		}
		return "", false
	}
}

type ReconcileResult struct {
	Payment *models.Payment
	Order   *models.Order
	// Changed is true when the order moved to a new status.
	Changed bool
}

// Reconciler applies processor payment state to local payments and orders.
// Delivery is at-least-once and unordered, so every step is an overwrite and
// repeated or backwards order moves are no-ops.
type Reconciler struct {
	store      repository.Store
	gateway    gateway.Gateway
	events     EventPublisher
	metrics    *awspkg.MetricsClient
	logger     *zap.Logger
	timeout    time.Duration
	extractors []PaymentIDExtractor
	now        func() time.Time
}

func NewReconciler(store repository.Store, gw gateway.Gateway, events EventPublisher, metrics *awspkg.MetricsClient, logger *zap.Logger, timeout time.Duration) *Reconciler {
	if timeout <= 0 {
		timeout = DefaultGatewayTimeout
	}
	return &Reconciler{
		store:      store,
		gateway:    gw,
		events:     events,
		metrics:    metrics,
		logger:     nopIfNil(logger),
		timeout:    timeout,
		extractors: DefaultExtractors,
		now:        time.Now,
	}
}

// ExtractPaymentID runs the extractor chain.
func (r *Reconciler) ExtractPaymentID(n *gateway.Notification) (string, bool) {
	for _, extract := range r.extractors {
		if id, ok := extract(n); ok {
			return id, true
		}
	}
	return "", false
}

// HandleNotification processes one inbound processor push. The notification
// only locates the payment; its status always comes from FetchPayment.
func (r *Reconciler) HandleNotification(ctx context.Context, n *gateway.Notification) (*ReconcileResult, error) {
	// The signature must cover the id that is actually fetched.
	paymentID, ok := r.ExtractPaymentID(n)
	n.PaymentID = paymentID
	if err := r.gateway.VerifySignature(n); err != nil {
		r.logger.Warn("notification signature rejected", zap.String("provider", r.gateway.Name()), zap.Error(err))
		return nil, apperrors.Unauthorized("Invalid notification signature")
	}
	if !ok {
		return nil, apperrors.BadRequest("Payment id missing from notification")
	}

	info, err := r.fetch(ctx, paymentID)
	if err != nil {
		return nil, err
	}

	orderID, err := uuid.Parse(strings.TrimSpace(info.ExternalReference))
	if err != nil {
		r.logger.Warn("payment has no usable external reference",
			zap.String("payment_id", paymentID),
			zap.String("external_reference", info.ExternalReference),
		)
		return nil, apperrors.NotFound("Order not found for payment")
	}

	return r.apply(ctx, orderID, info)
}

// Poll re-fetches a known payment and applies its current state. Payments the
// processor has not reported yet are returned unchanged.
func (r *Reconciler) Poll(ctx context.Context, payment *models.Payment) (*ReconcileResult, error) {
	if payment.ExternalPaymentID == nil || *payment.ExternalPaymentID == "" {
		return &ReconcileResult{Payment: payment}, nil
	}

	info, err := r.fetch(ctx, *payment.ExternalPaymentID)
	if err != nil {
		return nil, err
	}
	if info.ExternalReference != "" && info.ExternalReference != payment.OrderID.String() {
		r.logger.Warn("processor reference does not match payment order",
			zap.String("payment_id", payment.ID.String()),
			zap.String("external_reference", info.ExternalReference),
		)
	}
	return r.apply(ctx, payment.OrderID, info)
}

// PollOpen polls every unsettled payment once and returns how many were
// processed without error.
func (r *Reconciler) PollOpen(ctx context.Context, limit int) (int, error) {
	payments, err := r.store.Payments().FindOpen(ctx, limit)
	if err != nil {
		return 0, apperrors.Internal("Failed to list open payments", err)
	}

	done := 0
	for i := range payments {
		if ctx.Err() != nil {
			return done, ctx.Err()
		}
		if _, err := r.Poll(ctx, &payments[i]); err != nil {
			r.logger.Warn("payment poll failed", zap.String("payment_id", payments[i].ID.String()), zap.Error(err))
			continue
		}
		done++
	}
	return done, nil
}

func (r *Reconciler) fetch(ctx context.Context, paymentID string) (*gateway.PaymentInfo, error) {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	start := time.Now()
	info, err := r.gateway.FetchPayment(ctx, paymentID)
	recordLatency(r.metrics, awspkg.MetricGatewayLatency, time.Since(start), map[string]string{"Operation": "FetchPayment"})
	if errors.Is(err, gateway.ErrUnsupportedPayment) {
		r.logger.Info("notification does not reference a payment", zap.String("payment_id", paymentID))
		return nil, apperrors.New(http.StatusBadRequest, apperrors.KindBadRequest, "Notification does not reference a supported payment", err)
	}
	if err != nil {
		r.logger.Error("payment fetch failed", zap.String("payment_id", paymentID), zap.Error(err))
		return nil, apperrors.Gateway("Payment gateway unavailable", err)
	}
	if info.ID == "" {
		info.ID = paymentID
	}
	return info, nil
}

func (r *Reconciler) apply(ctx context.Context, orderID uuid.UUID, info *gateway.PaymentInfo) (*ReconcileResult, error) {
	var (
		order   *models.Order
		payment *models.Payment
		moved   *transitionResult
	)
	target, drivesOrder := info.Status.OrderStatusFor()

	err := r.store.WithinTransaction(ctx, func(tx repository.Store) error {
		o, err := lockOrder(ctx, tx, orderID)
		if err != nil {
			return err
		}
		order = o

		p, err := tx.Payments().FindByOrderID(ctx, orderID)
		if errors.Is(err, repository.ErrNotFound) {
			return apperrors.NotFound("Payment not found for order")
		}
		if err != nil {
			return apperrors.Internal("Failed to load payment", err)
		}

		prior := p.Status
		externalID := info.ID
		p.ExternalPaymentID = &externalID
		p.Status = info.Status
		p.PaymentType = info.PaymentType
		p.RawPayload = rawPayload(info.Raw)
		p.UpdatedAt = r.now()
		if err := tx.Payments().Save(ctx, p); err != nil {
			return apperrors.Internal("Failed to update payment", err)
		}
		payment = p

		if !drivesOrder {
			return nil
		}
		moved, err = transitionOrder(ctx, tx, orderID, transitionRequest{
			to:           target,
			note:         fmt.Sprintf("Payment %s (%s)", info.Status, info.ID),
			tolerant:     true,
			priorPayment: prior,
		}, r.now())
		return err
	})
	if err != nil {
		return nil, err
	}

	res := &ReconcileResult{Payment: payment, Order: order}
	if moved != nil {
		res.Order = moved.order
		res.Changed = moved.changed
	}

	fields := []zap.Field{
		zap.String("order_id", orderID.String()),
		zap.String("payment_id", info.ID),
		zap.String("payment_status", string(info.Status)),
		zap.Bool("order_changed", res.Changed),
	}
	if moved != nil && moved.audited {
		fields = append(fields, zap.String("order_status", string(moved.from)))
		r.logger.Warn("late payment approval recorded on terminal order", fields...)
	} else {
		r.logger.Info("payment reconciled", fields...)
	}

	r.emit(ctx, res, info)
	return res, nil
}

func (r *Reconciler) emit(ctx context.Context, res *ReconcileResult, info *gateway.PaymentInfo) {
	switch info.Status {
	case models.PaymentStatusApproved:
		recordCount(r.metrics, awspkg.MetricPaymentSucceeded, map[string]string{"Provider": r.gateway.Name()})
	case models.PaymentStatusRejected:
		recordCount(r.metrics, awspkg.MetricPaymentFailed, map[string]string{"Provider": r.gateway.Name()})
	}

	paymentEvt := models.NewOrderEvent(models.EventPaymentUpdated, res.Order, "")
	paymentEvt.PaymentStatus = info.Status
	events := []models.OrderEvent{paymentEvt}
	if res.Changed {
		events = append(events, models.NewOrderEvent(models.EventOrderStatusChanged, res.Order, ""))
	}
	publish(ctx, r.events, r.logger, events...)
}

func rawPayload(raw []byte) *string {
	if len(raw) == 0 || !json.Valid(raw) {
		return nil
	}
	s := string(raw)
	return &s
}
