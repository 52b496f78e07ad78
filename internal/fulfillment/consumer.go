package fulfillment

import (
	"context"
	"encoding/json"
	"errors"

	pubsub "cloud.google.com/go/pubsub/v2"

	"github.com/avelezcr/washpay-backend/pkg/enums"
	"github.com/avelezcr/washpay-backend/pkg/logger"
	"github.com/avelezcr/washpay-backend/pkg/outbox"
	"github.com/avelezcr/washpay-backend/pkg/outbox/payloads"
)

type orderEventHandler interface {
	HandleOrderPaid(ctx context.Context, event payloads.OrderPaidEvent) error
	HandleOrderRefunded(ctx context.Context, event payloads.OrderRefundedEvent) error
}

// Consumer drives fulfillment off the order event stream. Paid orders start
// the device, refunded orders reverse the payment; every other event on the
// topic is acknowledged and skipped.
type Consumer struct {
	handler      orderEventHandler
	subscription *pubsub.Subscriber
	logg         *logger.Logger
}

func NewConsumer(handler orderEventHandler, subscription *pubsub.Subscriber, logg *logger.Logger) (*Consumer, error) {
	switch {
	case handler == nil:
		return nil, errors.New("order event handler is required")
	case subscription == nil:
		return nil, errors.New("orders subscription is required")
	case logg == nil:
		return nil, errors.New("logger is required")
	}
	return &Consumer{handler: handler, subscription: subscription, logg: logg}, nil
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

	switch eventType {
	case enums.EventOrderPaid:
		var event payloads.OrderPaidEvent
		if !c.decode(logCtx, msg.Data, &event) {
			return true
		}
		return c.handle(logCtx, "order paid", c.handler.HandleOrderPaid(logCtx, event))

	case enums.EventOrderRefunded:
		var event payloads.OrderRefundedEvent
		if !c.decode(logCtx, msg.Data, &event) {
			return true
		}
		return c.handle(logCtx, "order refunded", c.handler.HandleOrderRefunded(logCtx, event))
	}
	return true
}

// decode unwraps the envelope into payload. Malformed payloads never become
// valid on redelivery, so a false return still acks.
func (c *Consumer) decode(ctx context.Context, raw []byte, payload any) bool {
	var envelope outbox.PayloadEnvelope
	if err := json.Unmarshal(raw, &envelope); err != nil {
		c.logg.Error(ctx, "failed to decode event envelope", err)
		return false
	}
	if err := json.Unmarshal(envelope.Data, payload); err != nil {
		c.logg.Error(ctx, "failed to decode event payload", err)
		return false
	}
	return true
}

func (c *Consumer) handle(ctx context.Context, name string, err error) bool {
	if err != nil {
		c.logg.Error(ctx, name+" handling failed", err)
		return false
	}
	return true
}
