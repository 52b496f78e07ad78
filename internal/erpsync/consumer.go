package erpsync

import (
	"context"
	"encoding/json"
	"errors"

	pubsub "cloud.google.com/go/pubsub/v2"

	"github.com/avelezcr/washpay-backend/pkg/enums"
	pkgerrors "github.com/avelezcr/washpay-backend/pkg/errors"
	"github.com/avelezcr/washpay-backend/pkg/logger"
	"github.com/avelezcr/washpay-backend/pkg/outbox"
	"github.com/avelezcr/washpay-backend/pkg/outbox/payloads"
)

type syncer interface {
	Sync(ctx context.Context, event payloads.ErpSyncRequestedEvent) error
}

// Consumer feeds sync requests from Pub/Sub into the ERP mirror. Throttled
// requests are nacked so the broker redelivers them after the rate window.
type Consumer struct {
	svc          syncer
	subscription *pubsub.Subscriber
	logg         *logger.Logger
}

func NewConsumer(svc syncer, subscription *pubsub.Subscriber, logg *logger.Logger) (*Consumer, error) {
	switch {
	case svc == nil:
		return nil, errors.New("erp sync service is required")
	case subscription == nil:
		return nil, errors.New("sync subscription is required")
	case logg == nil:
		return nil, errors.New("logger is required")
	}
	return &Consumer{svc: svc, subscription: subscription, logg: logg}, nil
}

// Run processes messages until the context is canceled or the subscription errors.
func (c *Consumer) Run(ctx context.Context) error {
	return c.subscription.Receive(ctx, func(ctx context.Context, msg *pubsub.Message) {
		if c.process(ctx, msg) {
			msg.Ack()
			return
		}
		msg.Nack()
	})
}

func (c *Consumer) process(ctx context.Context, msg *pubsub.Message) bool {
	eventType := enums.OutboxEventType(msg.Attributes["event_type"])
	logCtx := c.logg.WithFields(ctx, map[string]any{
		"message_id": msg.ID,
		"event_type": string(eventType),
	})

	if eventType != enums.EventErpSyncRequested {
		return true
	}

	var envelope outbox.PayloadEnvelope
	if err := json.Unmarshal(msg.Data, &envelope); err != nil {
		c.logg.Error(logCtx, "failed to decode event envelope", err)
		return true
	}
	var event payloads.ErpSyncRequestedEvent
	if err := json.Unmarshal(envelope.Data, &event); err != nil {
		c.logg.Error(logCtx, "failed to decode erp sync payload", err)
		return true
	}

	if err := c.svc.Sync(logCtx, event); err != nil {
		if typed := pkgerrors.As(err); typed != nil && typed.Code() == pkgerrors.CodeRateLimit {
			c.logg.Info(logCtx, "erp sync throttled, message redelivered")
		} else {
			c.logg.Error(logCtx, "erp sync failed", err)
		}
		return false
	}
	return true
}
