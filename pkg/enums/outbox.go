package enums

import "fmt"

// OutboxAggregateType maps to the aggregate_type enum in Postgres.
type OutboxAggregateType string

const (
	AggregateOrder       OutboxAggregateType = "order"
	AggregateTransaction OutboxAggregateType = "transaction"
	AggregateDevice      OutboxAggregateType = "device"
	AggregateErpObject   OutboxAggregateType = "erp_object"
)

var validAggregateTypes = []OutboxAggregateType{
	AggregateOrder,
	AggregateTransaction,
	AggregateDevice,
	AggregateErpObject,
}

// IsValid reports whether the value matches the canonical aggregate_type enum.
func (a OutboxAggregateType) IsValid() bool {
	for _, candidate := range validAggregateTypes {
		if candidate == a {
			return true
		}
	}
	return false
}

// ParseOutboxAggregateType converts raw input into OutboxAggregateType.
func ParseOutboxAggregateType(value string) (OutboxAggregateType, error) {
	for _, candidate := range validAggregateTypes {
		if string(candidate) == value {
			return candidate, nil
		}
	}
	return "", fmt.Errorf("invalid aggregate type %q", value)
}

// OutboxEventType maps to the event_type enum in Postgres.
type OutboxEventType string

const (
	EventOrderPlaced        OutboxEventType = "order_placed"
	EventOrderPaid          OutboxEventType = "order_paid"
	EventOrderCompleted     OutboxEventType = "order_completed"
	EventOrderRefunded      OutboxEventType = "order_refunded"
	EventOrderCanceled      OutboxEventType = "order_canceled"
	EventOrderFailed        OutboxEventType = "order_failed"
	EventPackageProcess     OutboxEventType = "package_process"
	EventPaymentSettled     OutboxEventType = "payment_settled"
	EventPaymentFailed      OutboxEventType = "payment_failed"
	EventPaymentExpired     OutboxEventType = "payment_expired"
	EventDeviceStartFailed  OutboxEventType = "device_start_failed"
	EventDeviceStopped      OutboxEventType = "device_stopped"
	EventErpSyncRequested   OutboxEventType = "erp_sync_requested"
	EventNotificationNeeded OutboxEventType = "notification_requested"
)

var validOutboxEventTypes = []OutboxEventType{
	EventOrderPlaced,
	EventOrderPaid,
	EventOrderCompleted,
	EventOrderRefunded,
	EventOrderCanceled,
	EventOrderFailed,
	EventPackageProcess,
	EventPaymentSettled,
	EventPaymentFailed,
	EventPaymentExpired,
	EventDeviceStartFailed,
	EventDeviceStopped,
	EventErpSyncRequested,
	EventNotificationNeeded,
}

// IsValid reports whether the value matches the canonical event_type enum.
func (e OutboxEventType) IsValid() bool {
	for _, candidate := range validOutboxEventTypes {
		if candidate == e {
			return true
		}
	}
	return false
}

// ParseOutboxEventType converts raw input into OutboxEventType.
func ParseOutboxEventType(value string) (OutboxEventType, error) {
	for _, candidate := range validOutboxEventTypes {
		if string(candidate) == value {
			return candidate, nil
		}
	}
	return "", fmt.Errorf("invalid event type %q", value)
}

// OutboxDLQErrorReason records why a row was dead-lettered.
type OutboxDLQErrorReason string

const (
	OutboxDLQReasonMaxAttempts  OutboxDLQErrorReason = "max_attempts"
	OutboxDLQReasonNonRetryable OutboxDLQErrorReason = "non_retryable"
)

// IsValid reports whether the value matches the canonical dlq_error_reason enum.
func (r OutboxDLQErrorReason) IsValid() bool {
	return r == OutboxDLQReasonMaxAttempts || r == OutboxDLQReasonNonRetryable
}
