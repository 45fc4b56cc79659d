package consumers

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/url"

	"github.com/aws/aws-lambda-go/events"
	apperrors "github.com/yashrajoria/relab-checkout/common/errors"
	"github.com/yashrajoria/relab-checkout/gateway"
	awspkg "github.com/yashrajoria/relab-checkout/pkg/aws"
	"github.com/yashrajoria/relab-checkout/services"
	"go.uber.org/zap"
)

type poller interface {
	StartPolling(ctx context.Context, handler awspkg.MessageHandler) error
}

type notificationHandler interface {
	HandleNotification(ctx context.Context, n *gateway.Notification) (*services.ReconcileResult, error)
}

// Envelope is a processor notification captured at the edge and queued for
// asynchronous processing. Body holds the raw request body, either as an
// embedded JSON document or as a string.
type Envelope struct {
	Headers map[string]string `json:"headers"`
	Query   map[string]string `json:"query"`
	Body    json.RawMessage   `json:"body"`
}

// Notification rebuilds the inbound notification the envelope was made from.
func (e *Envelope) Notification() *gateway.Notification {
	n := &gateway.Notification{Headers: http.Header{}, Query: url.Values{}}
	for k, v := range e.Headers {
		n.Headers.Set(k, v)
	}
	for k, v := range e.Query {
		n.Query.Set(k, v)
	}

	var s string
	if err := json.Unmarshal(e.Body, &s); err == nil {
		n.Body = []byte(s)
	} else if len(e.Body) > 0 && string(e.Body) != "null" {
		n.Body = e.Body
	}
	return n
}

// NotificationConsumer feeds queued notifications into the reconciler.
type NotificationConsumer struct {
	queue      poller
	reconciler notificationHandler
	logger     *zap.Logger
}

func NewNotificationConsumer(queue poller, reconciler notificationHandler, logger *zap.Logger) *NotificationConsumer {
	return &NotificationConsumer{queue: queue, reconciler: reconciler, logger: logger}
}

// Start polls until ctx is cancelled.
func (c *NotificationConsumer) Start(ctx context.Context) {
	c.logger.Info("notification consumer started")
	err := c.queue.StartPolling(ctx, c.Handle)
	if err != nil && !errors.Is(err, context.Canceled) {
		c.logger.Error("notification consumer stopped", zap.Error(err))
	}
}

// Handle processes one queue message. Messages that can never succeed are
// dropped; anything else is returned so the queue redelivers it.
func (c *NotificationConsumer) Handle(ctx context.Context, body string) error {
	// SNS-to-SQS subscriptions wrap the payload.
	var sns struct {
		Message string `json:"Message"`
	}
	if err := json.Unmarshal([]byte(body), &sns); err == nil && sns.Message != "" {
		body = sns.Message
	}

	var env Envelope
	if err := json.Unmarshal([]byte(body), &env); err != nil {
		c.logger.Warn("dropping malformed notification envelope", zap.Error(err))
		return nil
	}

	res, err := c.reconciler.HandleNotification(ctx, env.Notification())
	if err != nil {
		switch apperrors.KindOf(err) {
		case apperrors.KindBadRequest, apperrors.KindUnauthorized:
			c.logger.Warn("dropping rejected notification", zap.Error(err))
			return nil
		}
		return err
	}

	c.logger.Info("queued notification reconciled",
		zap.String("order_id", res.Payment.OrderID.String()),
		zap.String("payment_status", string(res.Payment.Status)),
		zap.Bool("order_changed", res.Changed),
	)
	return nil
}

// HandleSQSEvent is the Lambda entry for the notification queue. Failed
// records are reported individually so the rest of the batch is deleted.
func (c *NotificationConsumer) HandleSQSEvent(ctx context.Context, ev events.SQSEvent) (events.SQSEventResponse, error) {
	var resp events.SQSEventResponse
	for _, rec := range ev.Records {
		if err := c.Handle(ctx, rec.Body); err != nil {
			c.logger.Warn("notification will be retried", zap.String("message_id", rec.MessageId), zap.Error(err))
			resp.BatchItemFailures = append(resp.BatchItemFailures, events.SQSBatchItemFailure{ItemIdentifier: rec.MessageId})
		}
	}
	return resp, nil
}
