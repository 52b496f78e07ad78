package payloads

import (
	"time"

	"github.com/avelezcr/washpay-backend/pkg/enums"
	"github.com/avelezcr/washpay-backend/pkg/types"
	"github.com/google/uuid"
)

// OrderPlacedEvent signals a new draft order entered the saga.
type OrderPlacedEvent struct {
	OrderID    uuid.UUID       `json:"order_id"`
	CustomerID uuid.UUID       `json:"customer_id"`
	OrderType  enums.OrderType `json:"order_type"`
	GrandTotal int64           `json:"grand_total"`
}

// OrderPaidEvent is emitted when payment settles and the order enters pending.
// The fulfillment consumer reacts to it by starting the device.
type OrderPaidEvent struct {
	OrderID       uuid.UUID           `json:"order_id"`
	TransactionID uuid.UUID           `json:"transaction_id"`
	DeviceID      *uuid.UUID          `json:"device_id,omitempty"`
	OrderType     enums.OrderType     `json:"order_type"`
	PaymentMethod enums.PaymentMethod `json:"payment_method"`
	Amount        int64               `json:"amount"`
	PaidAt        time.Time           `json:"paid_at"`
}

// OrderCompletedEvent reports a wash reaching its terminal happy state.
type OrderCompletedEvent struct {
	OrderID     uuid.UUID         `json:"order_id"`
	Status      enums.OrderStatus `json:"status"`
	CompletedAt time.Time         `json:"completed_at"`
}

// OrderFailedEvent reports a saga step failing terminally, with the
// compensations already applied.
type OrderFailedEvent struct {
	OrderID         uuid.UUID `json:"order_id"`
	Reason          string    `json:"reason"`
	VoucherRollback bool      `json:"voucher_rollback"`
	RefundRequested bool      `json:"refund_requested"`
}

// PackageProcessEvent asks the station allocator to provision a completed
// package purchase. The station context rides in the order metadata bag.
type PackageProcessEvent struct {
	OrderID     uuid.UUID     `json:"order_id"`
	CustomerID  uuid.UUID     `json:"customer_id"`
	CompletedAt time.Time     `json:"completed_at"`
	Metadata    types.JSONMap `json:"metadata,omitempty"`
}

// OrderRefundedEvent is emitted after a refund settles.
type OrderRefundedEvent struct {
	OrderID       uuid.UUID `json:"order_id"`
	TransactionID uuid.UUID `json:"transaction_id"`
	Amount        int64     `json:"amount"`
	RefundedAt    time.Time `json:"refunded_at"`
}

// OrderCanceledEvent is emitted when a draft or pending order is canceled.
type OrderCanceledEvent struct {
	OrderID    uuid.UUID `json:"order_id"`
	CanceledAt time.Time `json:"canceled_at"`
	Reason     string    `json:"reason,omitempty"`
}

// PaymentSettledEvent mirrors a ledger row reaching succeeded.
type PaymentSettledEvent struct {
	OrderID        uuid.UUID           `json:"order_id"`
	TransactionID  uuid.UUID           `json:"transaction_id"`
	PaymentMethod  enums.PaymentMethod `json:"payment_method"`
	Amount         int64               `json:"amount"`
	ReceivedAmount int64               `json:"received_amount"`
}

// PaymentFailedEvent mirrors a ledger row reaching failed or canceled.
type PaymentFailedEvent struct {
	OrderID       uuid.UUID               `json:"order_id"`
	TransactionID uuid.UUID               `json:"transaction_id"`
	Status        enums.TransactionStatus `json:"status"`
	Reason        string                  `json:"reason,omitempty"`
}

// PaymentExpiredEvent is emitted when the QR window elapses unconfirmed.
type PaymentExpiredEvent struct {
	OrderID       uuid.UUID `json:"order_id"`
	TransactionID uuid.UUID `json:"transaction_id"`
	ExpiredAt     time.Time `json:"expired_at"`
}

// DeviceStartFailedEvent reports the controller refusing to start a wash.
type DeviceStartFailedEvent struct {
	OrderID  uuid.UUID `json:"order_id"`
	DeviceID uuid.UUID `json:"device_id"`
	Reason   string    `json:"reason,omitempty"`
}

// DeviceStoppedEvent reports a device released mid-cycle by the customer.
type DeviceStoppedEvent struct {
	OrderID   uuid.UUID `json:"order_id"`
	DeviceID  uuid.UUID `json:"device_id"`
	StoppedAt time.Time `json:"stopped_at"`
}

// ErpSyncRequestedEvent asks the sync consumer to mirror an object to the ERP.
type ErpSyncRequestedEvent struct {
	ObjectType enums.ErpObjectType `json:"object_type"`
	ObjectID   uuid.UUID           `json:"object_id"`
	Action     enums.ErpSyncAction `json:"action"`
}

// NotificationRequestedEvent tells downstream systems to alert the customer.
type NotificationRequestedEvent struct {
	OrderID    uuid.UUID `json:"order_id"`
	CustomerID uuid.UUID `json:"customer_id"`
	Type       string    `json:"type"`
}
