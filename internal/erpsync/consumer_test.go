package erpsync

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	pubsub "cloud.google.com/go/pubsub/v2"
	"github.com/google/uuid"

	"github.com/avelezcr/washpay-backend/pkg/enums"
	pkgerrors "github.com/avelezcr/washpay-backend/pkg/errors"
	"github.com/avelezcr/washpay-backend/pkg/outbox"
	"github.com/avelezcr/washpay-backend/pkg/outbox/payloads"
)

type fakeSyncer struct {
	events []payloads.ErpSyncRequestedEvent
	err    error
}

func (f *fakeSyncer) Sync(ctx context.Context, event payloads.ErpSyncRequestedEvent) error {
	f.events = append(f.events, event)
	return f.err
}

func syncMessage(t *testing.T, event payloads.ErpSyncRequestedEvent) *pubsub.Message {
	t.Helper()
	data, err := json.Marshal(event)
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
		Attributes: map[string]string{"event_type": string(enums.EventErpSyncRequested)},
	}
}

func TestConsumerForwardsSyncRequest(t *testing.T) {
	syncer := &fakeSyncer{}
	consumer := &Consumer{svc: syncer, subscription: &pubsub.Subscriber{}, logg: testLogger()}

	event := payloads.ErpSyncRequestedEvent{
		ObjectType: enums.ErpObjectOrder,
		ObjectID:   uuid.New(),
		Action:     enums.ErpSyncActionUpsert,
	}
	if ack := consumer.process(context.Background(), syncMessage(t, event)); !ack {
		t.Fatal("expected ack on successful sync")
	}
	if len(syncer.events) != 1 || syncer.events[0].ObjectID != event.ObjectID {
		t.Fatalf("syncer events = %+v", syncer.events)
	}
}

func TestConsumerNacksThrottledSync(t *testing.T) {
	syncer := &fakeSyncer{err: pkgerrors.New(pkgerrors.CodeRateLimit, "erp sync throttled")}
	consumer := &Consumer{svc: syncer, subscription: &pubsub.Subscriber{}, logg: testLogger()}

	event := payloads.ErpSyncRequestedEvent{
		ObjectType: enums.ErpObjectOrder,
		ObjectID:   uuid.New(),
		Action:     enums.ErpSyncActionUpsert,
	}
	if ack := consumer.process(context.Background(), syncMessage(t, event)); ack {
		t.Fatal("throttled sync must nack for redelivery")
	}
}

func TestConsumerSkipsForeignEvents(t *testing.T) {
	syncer := &fakeSyncer{}
	consumer := &Consumer{svc: syncer, subscription: &pubsub.Subscriber{}, logg: testLogger()}

	msg := &pubsub.Message{Attributes: map[string]string{"event_type": string(enums.EventOrderPaid)}}
	if ack := consumer.process(context.Background(), msg); !ack {
		t.Fatal("unrelated events must ack")
	}
	if len(syncer.events) != 0 {
		t.Fatal("syncer must not run for unrelated events")
	}
}
