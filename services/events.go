package services

import (
	"context"
	"encoding/json"
	"time"

	"github.com/yashrajoria/relab-checkout/models"
	awspkg "github.com/yashrajoria/relab-checkout/pkg/aws"
	"go.uber.org/zap"
)

// EventPublisher delivers lifecycle events to downstream consumers.
type EventPublisher interface {
	PublishOrderEvent(ctx context.Context, event models.OrderEvent) error
}

// SNSEventPublisher fans events out through an SNS topic.
type SNSEventPublisher struct {
	client   awspkg.SNSPublisher
	topicArn string
}

func NewSNSEventPublisher(client awspkg.SNSPublisher, topicArn string) *SNSEventPublisher {
	return &SNSEventPublisher{client: client, topicArn: topicArn}
}

func (p *SNSEventPublisher) PublishOrderEvent(ctx context.Context, event models.OrderEvent) error {
	body, err := json.Marshal(event)
	if err != nil {
		return err
	}
	return p.client.Publish(ctx, p.topicArn, body)
}

// MultiPublisher sends every event to all of its publishers. Failures are
// logged and never reach the caller: the transaction that produced the event
// has already committed.
type MultiPublisher struct {
	publishers []EventPublisher
	logger     *zap.Logger
	timeout    time.Duration
}

func NewMultiPublisher(logger *zap.Logger, publishers ...EventPublisher) *MultiPublisher {
	active := make([]EventPublisher, 0, len(publishers))
	for _, p := range publishers {
		if p != nil {
			active = append(active, p)
		}
	}
	return &MultiPublisher{publishers: active, logger: nopIfNil(logger), timeout: 5 * time.Second}
}

func (m *MultiPublisher) PublishOrderEvent(ctx context.Context, event models.OrderEvent) error {
	if m == nil {
		return nil
	}
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), m.timeout)
	defer cancel()

	for _, p := range m.publishers {
		if err := p.PublishOrderEvent(ctx, event); err != nil {
			m.logger.Warn("event publish failed",
				zap.String("event_type", event.Type),
				zap.String("order_id", event.OrderID.String()),
				zap.Error(err),
			)
		}
	}
	return nil
}

func publish(ctx context.Context, publisher EventPublisher, logger *zap.Logger, events ...models.OrderEvent) {
	if publisher == nil {
		return
	}
	for _, evt := range events {
		if err := publisher.PublishOrderEvent(ctx, evt); err != nil {
			logger.Warn("event publish failed", zap.String("event_type", evt.Type), zap.Error(err))
		}
	}
}
