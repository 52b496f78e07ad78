package fulfillment

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	pubsub "cloud.google.com/go/pubsub/v2"
	"github.com/google/uuid"

	"github.com/avelezcr/washpay-backend/pkg/enums"
	"github.com/avelezcr/washpay-backend/pkg/outbox"
	"github.com/avelezcr/washpay-backend/pkg/outbox/payloads"
)

type fakeOrderHandler struct {
	paid      []payloads.OrderPaidEvent
	refunded  []payloads.OrderRefundedEvent
	paidErr   error
	refundErr error
}

func (f *fakeOrderHandler) HandleOrderPaid(ctx context.Context, event payloads.OrderPaidEvent) error {
	f.paid = append(f.paid, event)
	return f.paidErr
}

func (f *fakeOrderHandler) HandleOrderRefunded(ctx context.Context, event payloads.OrderRefundedEvent) error {
	f.refunded = append(f.refunded, event)
	return f.refundErr
}

func eventMessage(t *testing.T, eventType enums.OutboxEventType, payload any) *pubsub.Message {
	t.Helper()
	data, err := json.Marshal(payload)
	if err != nil {
		t.Fatalf("marshal payload: %v", err)
	}
	body, err := json.Marshal(outbox.PayloadEnvelope{
		Version:    1,
		EventID:    uuid.NewString(),
		OccurredAt: time.Now(),
		Data:       data,
	})
	if err != nil {
		t.Fatalf("marshal envelope: %v", err)
	}
	return &pubsub.Message{
		Data:       body,
		Attributes: map[string]string{"event_type": string(eventType)},
	}
}

func TestConsumerHandlesOrderPaid(t *testing.T) {
	handler := &fakeOrderHandler{}
	consumer := &Consumer{handler: handler, subscription: &pubsub.Subscriber{}, logg: testLogger()}

	event := payloads.OrderPaidEvent{OrderID: uuid.New(), TransactionID: uuid.New(), Amount: 85000}
	if ack := consumer.process(context.Background(), eventMessage(t, enums.EventOrderPaid, event)); !ack {
		t.Fatal("expected ack on successful handling")
	}
	if len(handler.paid) != 1 || handler.paid[0].OrderID != event.OrderID {
		t.Fatalf("paid events = %+v", handler.paid)
	}
}

func TestConsumerHandlesOrderRefunded(t *testing.T) {
	handler := &fakeOrderHandler{}
	consumer := &Consumer{handler: handler, subscription: &pubsub.Subscriber{}, logg: testLogger()}

	event := payloads.OrderRefundedEvent{OrderID: uuid.New(), TransactionID: uuid.New(), Amount: 85000}
	if ack := consumer.process(context.Background(), eventMessage(t, enums.EventOrderRefunded, event)); !ack {
		t.Fatal("expected ack on successful handling")
	}
	if len(handler.refunded) != 1 || handler.refunded[0].TransactionID != event.TransactionID {
		t.Fatalf("refunded events = %+v", handler.refunded)
	}
	if len(handler.paid) != 0 {
		t.Fatal("refund events must not reach the paid handler")
	}
}

func TestConsumerSkipsOtherEventTypes(t *testing.T) {
	handler := &fakeOrderHandler{}
	consumer := &Consumer{handler: handler, subscription: &pubsub.Subscriber{}, logg: testLogger()}

	msg := &pubsub.Message{Attributes: map[string]string{"event_type": string(enums.EventOrderPlaced)}}
	if ack := consumer.process(context.Background(), msg); !ack {
		t.Fatal("unrelated events must ack")
	}
	if len(handler.paid) != 0 || len(handler.refunded) != 0 {
		t.Fatal("handler must not run for unrelated events")
	}
}

func TestConsumerNacksOnHandlerFailure(t *testing.T) {
	handler := &fakeOrderHandler{paidErr: errors.New("device gateway down")}
	consumer := &Consumer{handler: handler, subscription: &pubsub.Subscriber{}, logg: testLogger()}

	msg := eventMessage(t, enums.EventOrderPaid, payloads.OrderPaidEvent{OrderID: uuid.New()})
	if ack := consumer.process(context.Background(), msg); ack {
		t.Fatal("handler failure must nack for redelivery")
	}
}

func TestConsumerNacksOnRefundFailure(t *testing.T) {
	handler := &fakeOrderHandler{refundErr: errors.New("gateway timeout")}
	consumer := &Consumer{handler: handler, subscription: &pubsub.Subscriber{}, logg: testLogger()}

	msg := eventMessage(t, enums.EventOrderRefunded, payloads.OrderRefundedEvent{OrderID: uuid.New()})
	if ack := consumer.process(context.Background(), msg); ack {
		t.Fatal("refund failure must nack for redelivery")
	}
}

func TestConsumerAcksMalformedPayload(t *testing.T) {
	handler := &fakeOrderHandler{}
	consumer := &Consumer{handler: handler, subscription: &pubsub.Subscriber{}, logg: testLogger()}

	msg := &pubsub.Message{
		Data:       []byte("not-json"),
		Attributes: map[string]string{"event_type": string(enums.EventOrderPaid)},
	}
	if ack := consumer.process(context.Background(), msg); !ack {
		t.Fatal("malformed payloads must ack, redelivery cannot fix them")
	}
}
