package services

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	apperrors "github.com/yashrajoria/relab-checkout/common/errors"
	"github.com/yashrajoria/relab-checkout/models"
	"github.com/yashrajoria/relab-checkout/repository"
)

type transitionRequest struct {
	to           models.OrderStatus
	note         string
	actor        *uuid.UUID
	internalNote *string
	// tolerant treats repeated and backwards moves as no-ops. Reconciliation
	// sets it because processor delivery is at-least-once and unordered.
	tolerant bool
	// priorPayment is the payment status before this reconciliation wrote
	// it. A late approval is audited only when the payment was not already
	// approved.
	priorPayment models.PaymentStatus
	// guard runs against the locked order before anything is checked.
	guard func(order *models.Order) error
}

type transitionResult struct {
	order   *models.Order
	from    models.OrderStatus
	changed bool
	// audited is set when a tolerated move left an audit event behind.
	audited bool
}

// transitionOrder applies one status change to a locked order inside tx: it
// checks legality, stamps the matching timestamp, appends the history event
// and restocks every item on cancellation.
func transitionOrder(ctx context.Context, tx repository.Store, orderID uuid.UUID, req transitionRequest, now time.Time) (*transitionResult, error) {
	order, err := lockOrder(ctx, tx, orderID)
	if err != nil {
		return nil, err
	}
	if req.guard != nil {
		if err := req.guard(order); err != nil {
			return nil, err
		}
	}

	from := order.Status
	res := &transitionResult{order: order, from: from}

	if !from.CanTransitionTo(req.to) {
		if !req.tolerant {
			return nil, apperrors.InvalidTransition(string(from), string(req.to))
		}
		if req.to == models.OrderStatusPaid && from == models.OrderStatusCancelled &&
			req.priorPayment != models.PaymentStatusApproved {
			// Late approval: the order stays cancelled and the history
			// records the first time the processor reported a payment.
			event := &models.StatusEvent{
				ID:        uuid.New(),
				OrderID:   order.ID,
				Status:    from,
				Note:      fmt.Sprintf("Payment approved after order was %s; status unchanged", from),
				CreatedBy: req.actor,
			}
			if err := tx.Orders().AppendStatusEvent(ctx, event); err != nil {
				return nil, apperrors.Internal("Failed to record status event", err)
			}
			res.audited = true
		}
		return res, nil
	}

	order.Status = req.to
	order.StampTransition(req.to, now)
	if req.internalNote != nil {
		order.InternalNote = *req.internalNote
	}
	order.UpdatedAt = now
	if err := tx.Orders().Save(ctx, order); err != nil {
		return nil, apperrors.Internal("Failed to update order", err)
	}

	event := &models.StatusEvent{
		ID:        uuid.New(),
		OrderID:   order.ID,
		Status:    req.to,
		Note:      req.note,
		CreatedBy: req.actor,
	}
	if err := tx.Orders().AppendStatusEvent(ctx, event); err != nil {
		return nil, apperrors.Internal("Failed to record status event", err)
	}

	if req.to == models.OrderStatusCancelled {
		for _, item := range order.Items {
			if err := tx.Inventory().Restock(ctx, item.ProductID, item.Quantity); err != nil {
				return nil, apperrors.Internal(fmt.Sprintf("Failed to restock product %s", item.ProductID), err)
			}
		}
	}

	res.changed = true
	return res, nil
}
