package controllers

import (
	"context"
	"errors"
	"io"
	"net/http"

	"github.com/gin-gonic/gin"
	apperrors "github.com/yashrajoria/relab-checkout/common/errors"
	"github.com/yashrajoria/relab-checkout/gateway"
	"github.com/yashrajoria/relab-checkout/services"
	"go.uber.org/zap"
)

// maxNotificationBytes caps inbound webhook bodies.
const maxNotificationBytes = 1 << 20

type NotificationHandler interface {
	HandleNotification(ctx context.Context, n *gateway.Notification) (*services.ReconcileResult, error)
}

type WebhookController struct {
	reconciler NotificationHandler
	logger     *zap.Logger
}

func NewWebhookController(reconciler NotificationHandler, logger *zap.Logger) *WebhookController {
	return &WebhookController{reconciler: reconciler, logger: logger}
}

// HandleWebhook answers 200 once the notification is applied, 400 when no
// payment id can be found, 401 for a bad signature, 404 for an unknown
// payment and 5xx for anything the processor should retry.
func (wc *WebhookController) HandleWebhook(ctx *gin.Context) {
	body, err := io.ReadAll(io.LimitReader(ctx.Request.Body, maxNotificationBytes))
	if err != nil {
		respondError(ctx, apperrors.BadRequest("Unreadable notification body"))
		return
	}

	n := &gateway.Notification{
		Headers: ctx.Request.Header.Clone(),
		Query:   ctx.Request.URL.Query(),
		Body:    body,
	}

	res, err := wc.reconciler.HandleNotification(ctx.Request.Context(), n)
	if errors.Is(err, gateway.ErrUnsupportedPayment) {
		// Acknowledged so the processor stops redelivering events about
		// objects that are not payments.
		wc.logger.Info("webhook ignored", zap.Error(err))
		ctx.JSON(http.StatusOK, gin.H{"received": true, "ignored": true})
		return
	}
	if err != nil {
		appErr := apperrors.From(err)
		wc.logger.Warn("webhook rejected",
			zap.Int("status", appErr.Code),
			zap.String("kind", string(appErr.Kind)),
			zap.Error(err),
		)
		respondError(ctx, appErr)
		return
	}

	wc.logger.Info("webhook reconciled",
		zap.String("payment_id", res.Payment.ID.String()),
		zap.String("order_id", res.Payment.OrderID.String()),
		zap.String("payment_status", string(res.Payment.Status)),
		zap.Bool("order_changed", res.Changed),
	)
	ctx.JSON(http.StatusOK, gin.H{"received": true})
}
