package orders

import (
	"time"

	"github.com/avelezcr/washpay-backend/pkg/enums"
	"github.com/avelezcr/washpay-backend/pkg/types"
	"github.com/google/uuid"
)

// ItemInput is one requested line in a draft order.
type ItemInput struct {
	ProductID   *uuid.UUID        `json:"product_id"`
	Name        string            `json:"name" validate:"required"`
	ProductType enums.ProductType `json:"product_type"`
	Qty         int               `json:"qty" validate:"required,gt=0"`
	UnitPrice   int64             `json:"unit_price" validate:"gte=0"`
	WashMode    *string           `json:"wash_mode"`
}

// PlaceOrderInput creates a draft order.
type PlaceOrderInput struct {
	CustomerID    uuid.UUID
	DeviceID      *uuid.UUID
	ParentID      *uuid.UUID
	Type          enums.OrderType
	Items         []ItemInput
	TaxAmount     int64
	ExtraFee      int64
	VoucherID     *string
	UseMembership bool
	Metadata      types.JSONMap
	BearerToken   string
}

// UpdateOrderInput re-derives a draft order in place.
type UpdateOrderInput struct {
	OrderID       uuid.UUID
	CustomerID    uuid.UUID
	Items         []ItemInput
	TaxAmount     int64
	ExtraFee      int64
	VoucherID     *string
	UseMembership bool
	Metadata      types.JSONMap
	BearerToken   string
}

// PaymentOrderInput submits a draft for payment. ExpectedTotal is the grand
// total the caller last saw and acts as the optimistic concurrency guard.
type PaymentOrderInput struct {
	OrderID       uuid.UUID
	CustomerID    uuid.UUID
	Method        enums.PaymentMethod
	Provider      enums.PaymentProvider
	TokenID       *uuid.UUID
	ExpectedTotal int64
	ReturnURL     string
	BearerToken   string
}

// PaymentOutcome is what the payment submission hands back to the client.
type PaymentOutcome struct {
	OrderID       uuid.UUID           `json:"order_id"`
	TransactionID uuid.UUID           `json:"transaction_id"`
	Method        enums.PaymentMethod `json:"method"`
	Settled       bool                `json:"settled"`
	Endpoint      string              `json:"endpoint,omitempty"`
	QRCode        string              `json:"qr_code,omitempty"`
	ExpiredAt     *time.Time          `json:"expired_at,omitempty"`
}

// OperateDeviceInput drives a manual device operation against a live order.
type OperateDeviceInput struct {
	OrderID       uuid.UUID
	CustomerID    uuid.UUID
	OperationType string
}
