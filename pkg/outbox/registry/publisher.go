package registry

import (
	"bytes"
	"encoding/json"
	"fmt"

	"github.com/avelezcr/washpay-backend/pkg/config"
	"github.com/avelezcr/washpay-backend/pkg/db/models"
	"github.com/avelezcr/washpay-backend/pkg/enums"
	"github.com/avelezcr/washpay-backend/pkg/outbox"
	"github.com/avelezcr/washpay-backend/pkg/outbox/payloads"
	"github.com/google/uuid"
)

// EventDescriptor links an event type to its aggregate/topic/payload schema.
type EventDescriptor struct {
	EventType      enums.OutboxEventType
	AggregateType  enums.OutboxAggregateType
	Topic          string
	PayloadFactory func() interface{}
}

// ResolvedEvent is the result of decoding an outbox row.
type ResolvedEvent struct {
	Descriptor EventDescriptor
	Envelope   outbox.PayloadEnvelope
	Payload    interface{}
}

// EventRegistry maps each supported event type to its descriptor.
type EventRegistry struct {
	entries map[enums.OutboxEventType]EventDescriptor
}

// NonRetryableError signals the dispatcher should stop retrying a row.
type NonRetryableError struct {
	Err error
}

// NewNonRetryableError wraps an error to signal no retries.
func NewNonRetryableError(err error) NonRetryableError {
	return NonRetryableError{Err: err}
}

func (e NonRetryableError) Error() string {
	if e.Err == nil {
		return "non-retryable error"
	}
	return e.Err.Error()
}

func (e NonRetryableError) Unwrap() error {
	return e.Err
}

// NewEventRegistry builds the registry with the configured topic names.
// Every event type the services emit must appear here: an outbox row whose
// type is missing from the table goes straight to the DLQ.
func NewEventRegistry(cfg config.PubSubConfig) (*EventRegistry, error) {
	for _, topic := range []struct {
		name  string
		value string
	}{
		{"orders topic", cfg.OrdersTopic},
		{"sync topic", cfg.SyncTopic},
		{"notification topic", cfg.NotificationTopic},
	} {
		if topic.value == "" {
			return nil, fmt.Errorf("%s is required", topic.name)
		}
	}

	descriptors := []EventDescriptor{
		{enums.EventOrderPlaced, enums.AggregateOrder, cfg.OrdersTopic, func() interface{} { return &payloads.OrderPlacedEvent{} }},
		{enums.EventOrderPaid, enums.AggregateOrder, cfg.OrdersTopic, func() interface{} { return &payloads.OrderPaidEvent{} }},
		{enums.EventOrderCompleted, enums.AggregateOrder, cfg.OrdersTopic, func() interface{} { return &payloads.OrderCompletedEvent{} }},
		{enums.EventOrderFailed, enums.AggregateOrder, cfg.OrdersTopic, func() interface{} { return &payloads.OrderFailedEvent{} }},
		{enums.EventOrderRefunded, enums.AggregateOrder, cfg.OrdersTopic, func() interface{} { return &payloads.OrderRefundedEvent{} }},
		{enums.EventOrderCanceled, enums.AggregateOrder, cfg.OrdersTopic, func() interface{} { return &payloads.OrderCanceledEvent{} }},
		{enums.EventPackageProcess, enums.AggregateOrder, cfg.OrdersTopic, func() interface{} { return &payloads.PackageProcessEvent{} }},

		{enums.EventPaymentSettled, enums.AggregateTransaction, cfg.OrdersTopic, func() interface{} { return &payloads.PaymentSettledEvent{} }},
		{enums.EventPaymentFailed, enums.AggregateTransaction, cfg.OrdersTopic, func() interface{} { return &payloads.PaymentFailedEvent{} }},
		{enums.EventPaymentExpired, enums.AggregateTransaction, cfg.OrdersTopic, func() interface{} { return &payloads.PaymentExpiredEvent{} }},

		{enums.EventDeviceStartFailed, enums.AggregateDevice, cfg.OrdersTopic, func() interface{} { return &payloads.DeviceStartFailedEvent{} }},
		{enums.EventDeviceStopped, enums.AggregateDevice, cfg.OrdersTopic, func() interface{} { return &payloads.DeviceStoppedEvent{} }},

		{enums.EventErpSyncRequested, enums.AggregateErpObject, cfg.SyncTopic, func() interface{} { return &payloads.ErpSyncRequestedEvent{} }},
		{enums.EventNotificationNeeded, enums.AggregateOrder, cfg.NotificationTopic, func() interface{} { return &payloads.NotificationRequestedEvent{} }},
	}

	reg := &EventRegistry{entries: make(map[enums.OutboxEventType]EventDescriptor, len(descriptors))}
	for _, desc := range descriptors {
		reg.entries[desc.EventType] = desc
	}
	return reg, nil
}

// Resolve validates the row and decodes its typed payload. Every failure here
// is structural, so callers get NonRetryableError rather than a retry hint.
func (r *EventRegistry) Resolve(event models.OutboxEvent) (*ResolvedEvent, error) {
	desc, ok := r.entries[event.EventType]
	if !ok {
		return nil, NewNonRetryableError(fmt.Errorf("unsupported event type %s", event.EventType))
	}
	if err := validateRow(desc, event); err != nil {
		return nil, NewNonRetryableError(err)
	}

	var envelope outbox.PayloadEnvelope
	if err := json.Unmarshal(event.Payload, &envelope); err != nil {
		return nil, NewNonRetryableError(fmt.Errorf("decode envelope: %w", err))
	}
	data := bytes.TrimSpace(envelope.Data)
	if len(data) == 0 || bytes.Equal(data, []byte("null")) {
		return nil, NewNonRetryableError(fmt.Errorf("payload missing for %s", event.EventType))
	}

	payload := desc.PayloadFactory()
	if err := json.Unmarshal(envelope.Data, payload); err != nil {
		return nil, NewNonRetryableError(fmt.Errorf("decode %s payload: %w", event.EventType, err))
	}

	return &ResolvedEvent{Descriptor: desc, Envelope: envelope, Payload: payload}, nil
}

func validateRow(desc EventDescriptor, event models.OutboxEvent) error {
	if desc.AggregateType != event.AggregateType {
		return fmt.Errorf("aggregate mismatch: expected %s got %s", desc.AggregateType, event.AggregateType)
	}
	if event.AggregateID == uuid.Nil {
		return fmt.Errorf("missing aggregate_id")
	}
	if len(bytes.TrimSpace(event.Payload)) == 0 {
		return fmt.Errorf("empty payload for %s", event.EventType)
	}
	return nil
}
